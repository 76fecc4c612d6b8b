package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/forgecore/autonomy/internal/apperr"
	"github.com/forgecore/autonomy/internal/config"
	"github.com/forgecore/autonomy/internal/store"
)

// requiresApprovalMetadataKey marks a task whose dispatch the executor
// must hold until a human records a task-level approval, independent of
// the goal-level approval already cleared to get here. queue_print is
// the only stage that currently sets this.
const requiresApprovalMetadataKey = "requires_human_approval"

// Generator builds a Project and its linear task chain from an approved
// Goal, once per goal, and advances the goal to active in the same
// pass.
type Generator struct {
	log   *slog.Logger
	store *store.Store
	cfg   config.BudgetConfig
}

func New(log *slog.Logger, st *store.Store, cfg config.BudgetConfig) *Generator {
	return &Generator{log: log, store: st, cfg: cfg}
}

// Cycle projectises every approved goal that doesn't already have a
// project, returning the newly generated projects. Rerunning Cycle with
// no new approved goals is a no-op, since GetProjectByGoal finding an
// existing row short-circuits generation for that goal.
func (g *Generator) Cycle(ctx context.Context) ([]store.Project, error) {
	approved, err := g.store.ListGoalsByStatus(ctx, store.GoalApproved)
	if err != nil {
		return nil, fmt.Errorf("list approved goals: %w", err)
	}

	var generated []store.Project
	for _, goal := range approved {
		_, err := g.store.GetProjectByGoal(ctx, goal.ID)
		if err == nil {
			continue // already projectised
		}
		var ae *apperr.Error
		if !errors.As(err, &ae) || ae.Kind != apperr.NotFound {
			return generated, fmt.Errorf("check existing project for goal %s: %w", goal.ID, err)
		}

		proj, err := g.Generate(ctx, goal)
		if err != nil {
			g.log.Error("project generation failed", "goal_id", goal.ID, "kind", goal.Kind, "err", err)
			continue
		}
		generated = append(generated, proj)
	}
	return generated, nil
}

// Generate builds the task chain for a single approved goal and
// advances the goal to active. The project and every task in its chain
// are created up front, in dependency order, so the executor only ever
// has to decide which already-existing task is ready next.
func (g *Generator) Generate(ctx context.Context, goal store.Goal) (store.Project, error) {
	tmpl, ok := templateFor(goal.Kind)
	if !ok {
		return store.Project{}, apperr.New(apperr.InvalidInput, "no task template for goal kind %q", goal.Kind)
	}

	proj, err := g.store.InsertProject(ctx, store.Project{
		GoalID:             goal.ID,
		Title:              fmt.Sprintf("%s: %s", goal.Kind, goal.Description),
		Description:        goal.Rationale,
		BudgetAllocatedUSD: goal.EstimatedBudgetUSD,
	})
	if err != nil {
		return store.Project{}, fmt.Errorf("insert project: %w", err)
	}

	weights := splitWeights(g.cfg, goal.Kind, len(tmpl.Stages))

	var prevTaskID string
	for i, stage := range tmpl.Stages {
		budget := goal.EstimatedBudgetUSD.Mul(decimal.NewFromFloat(weights[i])).Round(2)

		meta := stageMetadata(goal, stage)
		metaBytes, err := json.Marshal(meta)
		if err != nil {
			return store.Project{}, fmt.Errorf("marshal task metadata: %w", err)
		}
		metadata := string(metaBytes)

		var dependsOn []string
		if prevTaskID != "" {
			dependsOn = []string{prevTaskID}
		}

		task, err := g.store.InsertTask(ctx, store.Task{
			ProjectID:          proj.ID,
			Kind:               stage.Kind,
			Title:              stage.Title,
			BudgetAllocatedUSD: budget,
			Metadata:           metadata,
		}, dependsOn)
		if err != nil {
			return store.Project{}, fmt.Errorf("insert task %s: %w", stage.Kind, err)
		}
		prevTaskID = task.ID
	}

	if err := g.store.SetGoalStatus(ctx, goal.ID, store.GoalActive); err != nil {
		return store.Project{}, fmt.Errorf("activate goal: %w", err)
	}

	return proj, nil
}

// stageMetadata derives a task's metadata from the goal it belongs to,
// so a handler only ever needs the task row to do its work. Every stage
// carries goal_id; search/research stages carry a derived query;
// research/update_guide stages carry the failure reason a pattern
// strategy attached to the goal; kb_write carries the target knowledge
// category/slug, read back out of the goal's own metadata when a
// knowledge-gap strategy produced it; queue_print carries the
// human-approval gate flag.
func stageMetadata(goal store.Goal, stage Stage) map[string]string {
	meta := map[string]string{"goal_id": goal.ID}

	var goalMeta map[string]string
	_ = json.Unmarshal([]byte(goal.Metadata), &goalMeta)

	switch stage.Kind {
	case "search":
		meta["query"] = goal.Description
	case "research":
		meta["query"] = goal.Description
		if reason, ok := goalMeta["reason"]; ok {
			meta["failure_reason"] = reason
		}
	case "update_guide":
		if reason, ok := goalMeta["reason"]; ok {
			meta["failure_reason"] = reason
		}
	case "kb_write":
		category, slug := "research", slugify(goal.Description)
		if disc, ok := goalMeta[discriminatorMetaKey]; ok {
			if parts := splitCategorySlug(disc); parts[0] != "" {
				category, slug = parts[0], parts[1]
			}
		}
		meta["category"] = category
		meta["slug"] = slug
	}

	if stage.RequiresApproval {
		meta[requiresApprovalMetadataKey] = "true"
	}
	return meta
}

// discriminatorMetaKey mirrors internal/opportunity's own constant; goal
// metadata is an opaque JSON blob as far as this package is concerned,
// so the key is duplicated rather than imported to avoid a dependency
// on the opportunity package for a single string.
const discriminatorMetaKey = "_discriminator"

func splitCategorySlug(disc string) [2]string {
	for i := 0; i < len(disc); i++ {
		if disc[i] == '/' {
			return [2]string{disc[:i], disc[i+1:]}
		}
	}
	return [2]string{"", disc}
}

func slugify(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out = append(out, r)
		case r >= 'A' && r <= 'Z':
			out = append(out, r+32)
		case r == ' ' || r == '-' || r == '_':
			if len(out) > 0 && out[len(out)-1] != '-' {
				out = append(out, '-')
			}
		}
	}
	for len(out) > 0 && out[len(out)-1] == '-' {
		out = out[:len(out)-1]
	}
	if len(out) == 0 {
		return "untitled"
	}
	return string(out)
}

// splitWeights returns the per-stage budget split for a goal kind: a
// configured weight vector when one exists and matches the template's
// stage count, an equal split otherwise.
func splitWeights(cfg config.BudgetConfig, goalKind string, n int) []float64 {
	if w, ok := cfg.TaskSplitWeights[goalKind]; ok && len(w) == n {
		return w
	}
	out := make([]float64, n)
	equal := 1.0 / float64(n)
	for i := range out {
		out[i] = equal
	}
	return out
}
