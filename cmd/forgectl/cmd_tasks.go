package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Clear a task's human-approval hold",
}

var (
	tasksActor string
	tasksNotes string
)

type taskView struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
}

var tasksApproveCmd = &cobra.Command{
	Use:   "approve <task-id>",
	Short: "Clear a requires_human_approval hold so the task can dispatch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if tasksActor == "" {
			return fmt.Errorf("--actor is required")
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var t taskView
		body := map[string]string{"actor": tasksActor, "notes": tasksNotes}
		if err := client.do(ctx, "POST", "/tasks/"+args[0]+"/approve", body, &t); err != nil {
			return err
		}
		fmt.Printf("id:       %s\n", t.ID)
		fmt.Printf("project:  %s\n", t.ProjectID)
		fmt.Printf("kind:     %s\n", t.Kind)
		fmt.Printf("title:    %s\n", t.Title)
		fmt.Printf("status:   %s\n", t.Status)
		fmt.Printf("attempts: %d\n", t.Attempts)
		return nil
	},
}

func init() {
	tasksApproveCmd.Flags().StringVar(&tasksActor, "actor", "", "identity recording the decision (required)")
	tasksApproveCmd.Flags().StringVar(&tasksNotes, "notes", "", "free-text notes attached to the decision")

	tasksCmd.AddCommand(tasksApproveCmd)
}
