package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

type reconcileCheck struct {
	RunID           string `json:"run_id"`
	ModelName       string `json:"model_name"`
	ExpectedStatus  string `json:"expected_status"`
	WarehouseStatus string `json:"warehouse_status"`
	DiscrepancyType string `json:"discrepancy_type"`
}

type reconcileResponse struct {
	Checks []reconcileCheck `json:"checks"`
}

type schedule struct {
	ID        string `json:"id"`
	CronExpr  string `json:"cron_expr"`
	Enabled   bool   `json:"enabled"`
	NextRunAt string `json:"next_run_at"`
	LastRunAt string `json:"last_run_at,omitempty"`
}

// NewReconcileCommand returns the `ironlayerctl reconcile` command group.
func NewReconcileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Trigger a reconciliation pass against the warehouse",
	}
	cmd.AddCommand(newReconcileTriggerCommand())
	cmd.AddCommand(newReconcileSchedulesCommand())
	return cmd
}

func newReconcileSchedulesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Manage periodic reconciliation schedules",
	}
	cmd.AddCommand(newSchedulesListCommand())
	cmd.AddCommand(newSchedulesCreateCommand())
	cmd.AddCommand(newSchedulesDeleteCommand())
	return cmd
}

func newSchedulesListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List reconciliation schedules for the current tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromCommand(cmd)
			if err != nil {
				return err
			}
			var schedules []schedule
			if err := client.get(cmd.Context(), "/reconciliation/schedules", &schedules); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return PrintJSON(cmd.OutOrStdout(), schedules)
			}
			out := cmd.OutOrStdout()
			if len(schedules) == 0 {
				fmt.Fprintln(out, "no reconciliation schedules configured")
				return nil
			}
			headers := []string{"ID", "CRON", "ENABLED", "NEXT RUN"}
			rows := make([][]string, 0, len(schedules))
			for _, s := range schedules {
				rows = append(rows, []string{Truncate(s.ID, 18), s.CronExpr, fmt.Sprintf("%v", s.Enabled), s.NextRunAt})
			}
			RenderTable(out, headers, rows)
			return nil
		},
	}
}

func newSchedulesCreateCommand() *cobra.Command {
	var cronExpr string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a periodic reconciliation schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromCommand(cmd)
			if err != nil {
				return err
			}
			var created schedule
			body := map[string]string{"cron_expr": cronExpr}
			if err := client.post(cmd.Context(), "/reconciliation/schedules", body, &created); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return PrintJSON(cmd.OutOrStdout(), created)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created schedule %s, next run at %s\n", created.ID, created.NextRunAt)
			return nil
		},
	}
	cmd.Flags().StringVar(&cronExpr, "cron", "", "cron expression (hourly/daily/weekly shapes only)")
	return cmd
}

func newSchedulesDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a reconciliation schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromCommand(cmd)
			if err != nil {
				return err
			}
			if err := client.delete(cmd.Context(), "/reconciliation/schedules/"+args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted schedule %s\n", args[0])
			return nil
		},
	}
}

func newReconcileTriggerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger",
		Short: "Verify every running run and correct any drifted status",
		RunE:  runReconcileTrigger,
	}
}

func runReconcileTrigger(cmd *cobra.Command, args []string) error {
	client, err := clientFromCommand(cmd)
	if err != nil {
		return err
	}
	var resp reconcileResponse
	if err := client.post(cmd.Context(), "/reconciliation/trigger", nil, &resp); err != nil {
		return err
	}

	if jsonOutput(cmd) {
		return PrintJSON(cmd.OutOrStdout(), resp)
	}

	out := cmd.OutOrStdout()
	if len(resp.Checks) == 0 {
		fmt.Fprintln(out, "no running runs to check")
		return nil
	}

	headers := []string{"RUN ID", "MODEL", "EXPECTED", "WAREHOUSE", "DISCREPANCY"}
	rows := make([][]string, 0, len(resp.Checks))
	for _, c := range resp.Checks {
		rows = append(rows, []string{
			Truncate(c.RunID, 18),
			c.ModelName,
			c.ExpectedStatus,
			c.WarehouseStatus,
			ColorStatus(c.DiscrepancyType),
		})
	}
	RenderTable(out, headers, rows)
	return nil
}
