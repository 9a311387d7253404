package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

type environmentRow struct {
	Name         string `json:"name"`
	Catalog      string `json:"catalog"`
	SchemaPrefix string `json:"schema_prefix"`
	IsProduction bool   `json:"is_production"`
	IsEphemeral  bool   `json:"is_ephemeral"`
	PRNumber     *int   `json:"pr_number,omitempty"`
	BranchName   string `json:"branch_name,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
}

type promotionRow struct {
	ID                string `json:"id"`
	SourceEnvironment string `json:"source_environment"`
	TargetEnvironment string `json:"target_environment"`
	SourceSnapshotID  string `json:"source_snapshot_id"`
	TargetSnapshotID  string `json:"target_snapshot_id"`
	PromotedBy        string `json:"promoted_by"`
	PromotedAt        string `json:"promoted_at"`
}

// NewEnvironmentsCommand returns the `ironlayerctl environments` command
// group: standard and ephemeral PR-preview environments, promotion, and
// cleanup.
func NewEnvironmentsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "environments",
		Short: "Manage environments and snapshot promotions",
	}
	cmd.AddCommand(newEnvironmentsListCommand())
	cmd.AddCommand(newEnvironmentsCreateCommand())
	cmd.AddCommand(newEnvironmentsCreateEphemeralCommand())
	cmd.AddCommand(newEnvironmentsDeleteCommand())
	cmd.AddCommand(newEnvironmentsCleanupCommand())
	cmd.AddCommand(newEnvironmentsPromoteCommand())
	cmd.AddCommand(newEnvironmentsPromotionsCommand())
	return cmd
}

func newEnvironmentsListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List environments for the current tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromCommand(cmd)
			if err != nil {
				return err
			}
			var envs []environmentRow
			if err := client.get(cmd.Context(), "/environments", &envs); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return PrintJSON(cmd.OutOrStdout(), envs)
			}
			out := cmd.OutOrStdout()
			if len(envs) == 0 {
				fmt.Fprintln(out, "no environments registered")
				return nil
			}
			headers := []string{"NAME", "CATALOG", "SCHEMA", "PRODUCTION", "EPHEMERAL", "PR"}
			rows := make([][]string, 0, len(envs))
			for _, e := range envs {
				pr := ""
				if e.PRNumber != nil {
					pr = fmt.Sprintf("%d", *e.PRNumber)
				}
				rows = append(rows, []string{
					e.Name, e.Catalog, e.SchemaPrefix,
					fmt.Sprintf("%v", e.IsProduction), fmt.Sprintf("%v", e.IsEphemeral), pr,
				})
			}
			RenderTable(out, headers, rows)
			return nil
		},
	}
}

func newEnvironmentsCreateCommand() *cobra.Command {
	var catalog, schemaPrefix string
	var isProduction bool
	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a standard environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromCommand(cmd)
			if err != nil {
				return err
			}
			body := map[string]any{
				"name":          args[0],
				"catalog":       catalog,
				"schema_prefix": schemaPrefix,
				"is_production": isProduction,
			}
			var created environmentRow
			if err := client.post(cmd.Context(), "/environments", body, &created); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return PrintJSON(cmd.OutOrStdout(), created)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created environment %s (%s.%s)\n", created.Name, created.Catalog, created.SchemaPrefix)
			return nil
		},
	}
	cmd.Flags().StringVar(&catalog, "catalog", "", "backing data catalog/warehouse name")
	cmd.Flags().StringVar(&schemaPrefix, "schema-prefix", "", "schema prefix models in this environment resolve against")
	cmd.Flags().BoolVar(&isProduction, "production", false, "mark this environment as production")
	return cmd
}

func newEnvironmentsCreateEphemeralCommand() *cobra.Command {
	var branch, catalog, schemaPrefix string
	var prNumber, ttlHours int
	cmd := &cobra.Command{
		Use:   "create-ephemeral",
		Short: "Create an ephemeral PR-preview environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromCommand(cmd)
			if err != nil {
				return err
			}
			body := map[string]any{
				"pr_number":     prNumber,
				"branch_name":   branch,
				"catalog":       catalog,
				"schema_prefix": schemaPrefix,
				"ttl_hours":     ttlHours,
			}
			var created environmentRow
			if err := client.post(cmd.Context(), "/environments/ephemeral", body, &created); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return PrintJSON(cmd.OutOrStdout(), created)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created ephemeral environment %s, expires %s\n", created.Name, created.ExpiresAt)
			return nil
		},
	}
	cmd.Flags().IntVar(&prNumber, "pr", 0, "pull request number")
	cmd.Flags().StringVar(&branch, "branch", "", "source branch name")
	cmd.Flags().StringVar(&catalog, "catalog", "", "backing data catalog/warehouse name")
	cmd.Flags().StringVar(&schemaPrefix, "schema-prefix", "", "schema prefix models in this environment resolve against")
	cmd.Flags().IntVar(&ttlHours, "ttl-hours", 0, "hours until this environment expires (defaults to 24 if unset)")
	return cmd
}

func newEnvironmentsDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete an environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromCommand(cmd)
			if err != nil {
				return err
			}
			if err := client.delete(cmd.Context(), "/environments/"+args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted environment %s\n", args[0])
			return nil
		},
	}
}

func newEnvironmentsCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete every expired ephemeral environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromCommand(cmd)
			if err != nil {
				return err
			}
			var result struct {
				DeletedCount int `json:"deleted_count"`
			}
			if err := client.post(cmd.Context(), "/environments/cleanup", nil, &result); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return PrintJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired environment(s)\n", result.DeletedCount)
			return nil
		},
	}
}

func newEnvironmentsPromoteCommand() *cobra.Command {
	var source, target, snapshotID string
	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Promote a snapshot from one environment to another",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromCommand(cmd)
			if err != nil {
				return err
			}
			body := map[string]any{
				"source_name": source,
				"target_name": target,
				"snapshot_id": snapshotID,
			}
			var promo promotionRow
			if err := client.post(cmd.Context(), "/environments/promote", body, &promo); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return PrintJSON(cmd.OutOrStdout(), promo)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "promoted %s -> %s (target snapshot %s)\n", promo.SourceEnvironment, promo.TargetEnvironment, promo.TargetSnapshotID)
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source environment name")
	cmd.Flags().StringVar(&target, "target", "", "target environment name")
	cmd.Flags().StringVar(&snapshotID, "snapshot-id", "", "identifier of the snapshot being promoted")
	return cmd
}

func newEnvironmentsPromotionsCommand() *cobra.Command {
	var environmentName string
	var limit int
	cmd := &cobra.Command{
		Use:   "promotions",
		Short: "Show promotion history",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromCommand(cmd)
			if err != nil {
				return err
			}
			limitParam := ""
			if limit > 0 {
				limitParam = fmt.Sprintf("%d", limit)
			}
			path := withQuery("/environments/promotions", map[string]string{
				"environment": environmentName,
				"limit":       limitParam,
			})
			var promotions []promotionRow
			if err := client.get(cmd.Context(), path, &promotions); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return PrintJSON(cmd.OutOrStdout(), promotions)
			}
			out := cmd.OutOrStdout()
			if len(promotions) == 0 {
				fmt.Fprintln(out, "no promotions recorded")
				return nil
			}
			headers := []string{"SOURCE", "TARGET", "PROMOTED BY", "PROMOTED AT"}
			rows := make([][]string, 0, len(promotions))
			for _, p := range promotions {
				rows = append(rows, []string{p.SourceEnvironment, p.TargetEnvironment, p.PromotedBy, p.PromotedAt})
			}
			RenderTable(out, headers, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&environmentName, "environment", "", "filter to promotions touching this environment")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows to return (defaults to 20 if unset)")
	return cmd
}
