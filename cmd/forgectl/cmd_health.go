package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report daemon liveness and per-pool breaker state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var h healthView
		if err := client.do(ctx, "GET", "/health", nil, &h); err != nil {
			return err
		}

		status := "healthy"
		if !h.Healthy {
			status = "unhealthy"
		}
		fmt.Printf("status:  %s\n", status)
		fmt.Printf("uptime:  %.0fs\n", h.UptimeS)
		fmt.Printf("paused:  %t\n", h.Paused)
		if len(h.Pools) == 0 {
			fmt.Println("pools:   none registered")
			return nil
		}
		fmt.Println("pools:")
		for _, p := range h.Pools {
			fmt.Printf("  %-20s state=%-10s healthy=%t\n", p.Name, p.State, p.Healthy)
		}
		return nil
	},
}
