package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

type webhookConfig struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	RepoURL   string `json:"repo_url"`
	Branch    string `json:"branch"`
	AutoPlan  bool   `json:"auto_plan"`
	AutoApply bool   `json:"auto_apply"`
}

// NewWebhooksCommand returns the `ironlayerctl webhooks` command group.
func NewWebhooksCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhooks",
		Short: "Manage inbound git-provider webhook configurations",
	}
	cmd.AddCommand(newWebhooksListCommand())
	cmd.AddCommand(newWebhooksCreateCommand())
	cmd.AddCommand(newWebhooksDeleteCommand())
	return cmd
}

func newWebhooksListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List webhook configurations for the current tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromCommand(cmd)
			if err != nil {
				return err
			}
			var configs []webhookConfig
			if err := client.get(cmd.Context(), "/webhooks/configs", &configs); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return PrintJSON(cmd.OutOrStdout(), configs)
			}
			out := cmd.OutOrStdout()
			if len(configs) == 0 {
				fmt.Fprintln(out, "no webhook configurations registered")
				return nil
			}
			headers := []string{"ID", "PROVIDER", "REPO", "BRANCH", "AUTO-PLAN", "AUTO-APPLY"}
			rows := make([][]string, 0, len(configs))
			for _, c := range configs {
				rows = append(rows, []string{
					Truncate(c.ID, 18), c.Provider, c.RepoURL, c.Branch,
					fmt.Sprintf("%v", c.AutoPlan), fmt.Sprintf("%v", c.AutoApply),
				})
			}
			RenderTable(out, headers, rows)
			return nil
		},
	}
}

func newWebhooksCreateCommand() *cobra.Command {
	var repoURL, branch, secret string
	var autoApply bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a webhook configuration for a repo/branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromCommand(cmd)
			if err != nil {
				return err
			}
			body := map[string]any{
				"repo_url":   repoURL,
				"branch":     branch,
				"secret":     secret,
				"auto_apply": autoApply,
			}
			var created webhookConfig
			if err := client.post(cmd.Context(), "/webhooks/configs", body, &created); err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return PrintJSON(cmd.OutOrStdout(), created)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created webhook config %s for %s (%s)\n", created.ID, created.RepoURL, created.Branch)
			return nil
		},
	}
	cmd.Flags().StringVar(&repoURL, "repo-url", "", "repository clone/HTML URL to match inbound push events against")
	cmd.Flags().StringVar(&branch, "branch", "", "branch name to match (e.g. main)")
	cmd.Flags().StringVar(&secret, "secret", "", "shared HMAC secret configured on the provider side")
	cmd.Flags().BoolVar(&autoApply, "auto-apply", false, "apply the triggered plan automatically once it passes checks")
	return cmd
}

func newWebhooksDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a webhook configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := clientFromCommand(cmd)
			if err != nil {
				return err
			}
			if err := client.delete(cmd.Context(), "/webhooks/configs/"+args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted webhook config %s\n", args[0])
			return nil
		},
	}
}
