package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

type billingPlan struct {
	Tier            string `json:"tier"`
	PlanRunsMonthly *int   `json:"plan_runs_monthly,omitempty"`
	AICallsMonthly  *int   `json:"ai_calls_monthly,omitempty"`
	Unlimited       bool   `json:"unlimited"`
}

// NewBillingCommand returns the `ironlayerctl billing` command group.
func NewBillingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "billing",
		Short: "Inspect the public tier catalog",
	}
	cmd.AddCommand(newBillingPlansCommand())
	return cmd
}

func newBillingPlansCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "List the available subscription tiers",
		RunE:  runBillingPlans,
	}
}

func runBillingPlans(cmd *cobra.Command, args []string) error {
	client, err := clientFromCommand(cmd)
	if err != nil {
		return err
	}
	var plans []billingPlan
	if err := client.get(cmd.Context(), "/billing/plans", &plans); err != nil {
		return err
	}

	if jsonOutput(cmd) {
		return PrintJSON(cmd.OutOrStdout(), plans)
	}

	headers := []string{"TIER", "PLAN RUNS/MO", "AI CALLS/MO", "UNLIMITED"}
	rows := make([][]string, 0, len(plans))
	for _, p := range plans {
		rows = append(rows, []string{
			p.Tier,
			quotaOrDash(p.PlanRunsMonthly),
			quotaOrDash(p.AICallsMonthly),
			fmt.Sprintf("%t", p.Unlimited),
		})
	}
	RenderTable(cmd.OutOrStdout(), headers, rows)
	return nil
}

func quotaOrDash(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}
