package main

import (
	"context"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var goalsCmd = &cobra.Command{
	Use:   "goals",
	Short: "Inspect and steer identified goals",
}

var (
	goalsListStatus string
	goalsListKind   string
	goalsListLimit  int
)

var goalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List goals, optionally filtered by status and kind",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		q := url.Values{}
		if goalsListStatus != "" {
			q.Set("status", goalsListStatus)
		}
		if goalsListKind != "" {
			q.Set("kind", goalsListKind)
		}
		if goalsListLimit > 0 {
			q.Set("limit", fmt.Sprintf("%d", goalsListLimit))
		}

		path := "/goals"
		if encoded := q.Encode(); encoded != "" {
			path += "?" + encoded
		}

		var goals []goalView
		if err := client.do(ctx, "GET", path, nil, &goals); err != nil {
			return err
		}
		if len(goals) == 0 {
			fmt.Println("no goals found")
			return nil
		}
		for _, g := range goals {
			fmt.Printf("%s  [%s/%s]  $%s  impact=%.2f  %s\n", g.ID, g.Kind, g.Status, g.EstimatedBudgetUSD, g.ImpactScore, g.Description)
		}
		return nil
	},
}

var goalsShowCmd = &cobra.Command{
	Use:   "show <goal-id>",
	Short: "Show one goal's full detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var g goalView
		if err := client.do(ctx, "GET", "/goals/"+args[0], nil, &g); err != nil {
			return err
		}
		printGoal(g)
		return nil
	},
}

var (
	goalsActor string
	goalsNotes string
)

var goalsApproveCmd = &cobra.Command{
	Use:   "approve <goal-id>",
	Short: "Approve a goal for project generation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submitApproval(cmd, args[0], "approve")
	},
}

var goalsRejectCmd = &cobra.Command{
	Use:   "reject <goal-id>",
	Short: "Reject an identified goal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return submitApproval(cmd, args[0], "reject")
	},
}

func submitApproval(cmd *cobra.Command, id, action string) error {
	if goalsActor == "" {
		return fmt.Errorf("--actor is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var g goalView
	body := map[string]string{"actor": goalsActor, "notes": goalsNotes}
	if err := client.do(ctx, "POST", "/goals/"+id+"/"+action, body, &g); err != nil {
		return err
	}
	printGoal(g)
	return nil
}

func printGoal(g goalView) {
	fmt.Printf("id:          %s\n", g.ID)
	fmt.Printf("kind:        %s\n", g.Kind)
	fmt.Printf("status:      %s\n", g.Status)
	fmt.Printf("budget:      $%s\n", g.EstimatedBudgetUSD)
	fmt.Printf("impact:      %.2f\n", g.ImpactScore)
	fmt.Printf("identified:  %s\n", g.IdentifiedAt)
	if g.ApprovedAt != nil {
		fmt.Printf("approved:    %s by %s\n", *g.ApprovedAt, g.ApprovedBy)
	}
	if g.EffectivenessScore != nil {
		fmt.Printf("effectiveness: %.2f\n", *g.EffectivenessScore)
	}
	fmt.Printf("rationale:   %s\n", g.Rationale)
	fmt.Printf("description: %s\n", g.Description)
}

func init() {
	goalsListCmd.Flags().StringVar(&goalsListStatus, "status", "", "filter by goal status")
	goalsListCmd.Flags().StringVar(&goalsListKind, "kind", "", "filter by goal kind")
	goalsListCmd.Flags().IntVar(&goalsListLimit, "limit", 0, "maximum goals to return (0 = no limit)")

	for _, c := range []*cobra.Command{goalsApproveCmd, goalsRejectCmd} {
		c.Flags().StringVar(&goalsActor, "actor", "", "identity recording the decision (required)")
		c.Flags().StringVar(&goalsNotes, "notes", "", "free-text notes attached to the decision")
	}

	goalsCmd.AddCommand(goalsListCmd, goalsShowCmd, goalsApproveCmd, goalsRejectCmd)
}
