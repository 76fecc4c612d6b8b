package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/forgecore/autonomy/internal/apperr"
	"github.com/forgecore/autonomy/internal/store"
)

func taskMetadata(task store.Task) map[string]string {
	var meta map[string]string
	_ = json.Unmarshal([]byte(task.Metadata), &meta)
	return meta
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// siblingResult fetches the Result JSON of the most recent task of the
// given kind within task's project, unmarshalled into out.
func siblingResult(ctx context.Context, st *store.Store, task store.Task, kind string, out any) error {
	if st == nil {
		return apperr.New(apperr.Internal, "no store configured")
	}
	tasks, err := st.ListTasksByProject(ctx, task.ProjectID)
	if err != nil {
		return fmt.Errorf("list project tasks: %w", err)
	}
	for _, t := range tasks {
		if t.Kind == kind && t.Result != "" {
			if err := json.Unmarshal([]byte(t.Result), out); err != nil {
				return fmt.Errorf("decode %s result: %w", kind, err)
			}
			return nil
		}
	}
	return apperr.New(apperr.NotFound, "no completed %s task in project %s", kind, task.ProjectID)
}
