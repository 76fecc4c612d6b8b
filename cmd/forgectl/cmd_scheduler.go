package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Inspect and control the job scheduler",
}

var schedulerJobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List registered jobs and their last/next run",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var jobs []jobView
		if err := client.do(ctx, "GET", "/scheduler/jobs", nil, &jobs); err != nil {
			return err
		}
		for _, j := range jobs {
			last := j.LastRunAt
			if last == "" {
				last = "never"
			}
			status := j.LastStatus
			if status == "" {
				status = "-"
			}
			fmt.Printf("%-20s  trigger=%-24s  next=%s  last=%s (%s)\n", j.Name, j.Trigger, j.NextRunAt, last, status)
		}
		return nil
	},
}

var schedulerPauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause the scheduler (jobs already running finish)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		var resp map[string]any
		if err := client.do(ctx, "POST", "/scheduler/pause", nil, &resp); err != nil {
			return err
		}
		fmt.Println("scheduler paused")
		return nil
	},
}

var schedulerResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused scheduler",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		var resp map[string]any
		if err := client.do(ctx, "POST", "/scheduler/resume", nil, &resp); err != nil {
			return err
		}
		fmt.Println("scheduler resumed")
		return nil
	},
}

func init() {
	schedulerCmd.AddCommand(schedulerJobsCmd, schedulerPauseCmd, schedulerResumeCmd)
}
