package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

type analyticsOverview struct {
	TotalTenants  int `json:"total_tenants"`
	ActiveTenants int `json:"active_tenants_30d"`
	TotalPlans    int `json:"total_plans"`
	TotalRuns     int `json:"total_runs"`
	TotalAICalls  int `json:"total_ai_calls"`
}

type analyticsRevenue struct {
	MRRUSD        float64        `json:"mrr_usd"`
	Subscriptions map[string]int `json:"subscriptions"`
}

type analyticsHealth struct {
	ErrorRate     float64 `json:"error_rate"`
	AISuccessRate float64 `json:"ai_success_rate"`
}

// NewAnalyticsCommand returns the `ironlayerctl analytics` command group
// (admin-only platform-wide reporting).
func NewAnalyticsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "View platform-wide usage, revenue, and health analytics",
	}
	cmd.AddCommand(newAnalyticsOverviewCommand())
	cmd.AddCommand(newAnalyticsRevenueCommand())
	cmd.AddCommand(newAnalyticsHealthCommand())
	return cmd
}

func newAnalyticsOverviewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "overview",
		Short: "Show platform-wide tenant/plan/run totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromCommand(cmd)
			if err != nil {
				return err
			}
			var overview analyticsOverview
			if err := client.get(cmd.Context(), "/analytics/overview", &overview); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return PrintJSON(cmd.OutOrStdout(), overview)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tenants: %d (active: %d)\n", overview.TotalTenants, overview.ActiveTenants)
			fmt.Fprintf(out, "plans: %d  runs: %d  ai calls: %d\n", overview.TotalPlans, overview.TotalRuns, overview.TotalAICalls)
			return nil
		},
	}
}

func newAnalyticsRevenueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "revenue",
		Short: "Show MRR and subscription counts by tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromCommand(cmd)
			if err != nil {
				return err
			}
			var revenue analyticsRevenue
			if err := client.get(cmd.Context(), "/analytics/revenue", &revenue); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return PrintJSON(cmd.OutOrStdout(), revenue)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "MRR: $%.2f\n", revenue.MRRUSD)
			for tier, count := range revenue.Subscriptions {
				fmt.Fprintf(out, "  %s: %d\n", tier, count)
			}
			return nil
		},
	}
}

func newAnalyticsHealthCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show platform-wide error and AI success rates",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromCommand(cmd)
			if err != nil {
				return err
			}
			var health analyticsHealth
			if err := client.get(cmd.Context(), "/analytics/health", &health); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return PrintJSON(cmd.OutOrStdout(), health)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "error rate: %.2f%%  ai success rate: %.2f%%\n",
				health.ErrorRate*100, health.AISuccessRate*100)
			return nil
		},
	}
}
