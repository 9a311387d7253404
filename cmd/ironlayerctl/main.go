// ironlayerctl is the command-line client for the control plane daemon.
//
// It speaks the same §6.1 HTTP API the dashboard and CI pipelines use:
// every subcommand is a thin wrapper around one or two requests against
// ironlayerd, with no state of its own beyond the bearer token passed on
// the command line or found in the environment.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ironlayer/ironlayer/cmd/ironlayerctl/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultServer = "http://localhost:8080"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCommand builds the ironlayerctl root command and wires every
// subcommand onto it. Global flags (server address, bearer token, JSON
// output mode) are persistent so every subcommand inherits them without
// redeclaring them.
func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ironlayerctl",
		Short:         "ironlayerctl manages IronLayer plans, models, and tenants",
		Long:          "ironlayerctl is the command-line client for the IronLayer control plane.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags - registered in lexicographic order for deterministic help output.
	cmd.PersistentFlags().String("api-key", os.Getenv("IRONLAYER_API_KEY"), "bearer token for authenticated requests")
	cmd.PersistentFlags().Bool("json", false, "print raw JSON instead of a table")
	cmd.PersistentFlags().StringP("server", "s", envOr("IRONLAYER_SERVER", defaultServer), "control plane base URL")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the ironlayerctl version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ironlayerctl %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	// Subcommands - kept in lexicographic order by .Use.
	cmd.AddCommand(commands.NewAnalyticsCommand())
	cmd.AddCommand(commands.NewAuthCommand())
	cmd.AddCommand(commands.NewBillingCommand())
	cmd.AddCommand(commands.NewEnvironmentsCommand())
	cmd.AddCommand(commands.NewModelsCommand())
	cmd.AddCommand(commands.NewPlansCommand())
	cmd.AddCommand(commands.NewReconcileCommand())
	cmd.AddCommand(commands.NewWebhooksCommand())

	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
