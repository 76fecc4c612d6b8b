// Package main implements forgectl, the forgecored operator CLI: goal
// inspection and approval, clearing a task's human-approval hold,
// scheduler introspection and pause/resume, and a health check, all
// driven over the daemon's HTTP API.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	apiAddr string
	token   string
	timeout time.Duration

	client *apiClient
)

var rootCmd = &cobra.Command{
	Use:   "forgectl",
	Short: "Operator CLI for the forgecore autonomous operations daemon",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		tok := token
		if tok == "" {
			tok = os.Getenv("FORGECTL_TOKEN")
		}
		client = newAPIClient(apiAddr, tok)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "addr", "http://127.0.0.1:8080", "forgecored API base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token for mutating endpoints (or set FORGECTL_TOKEN)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 15*time.Second, "request timeout")

	rootCmd.AddCommand(goalsCmd, tasksCmd, schedulerCmd, healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
