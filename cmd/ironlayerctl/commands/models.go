package commands

import (
	"github.com/spf13/cobra"
)

type modelRecord struct {
	Name            string `json:"name"`
	Kind            string `json:"kind"`
	Owner           string `json:"owner"`
	Materialization string `json:"materialization"`
}

// NewModelsCommand returns the `ironlayerctl models` command group.
func NewModelsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List models and inspect their lineage",
	}
	cmd.AddCommand(newModelsListCommand())
	cmd.AddCommand(newModelsLineageCommand())
	cmd.AddCommand(newModelsColumnLineageCommand())
	return cmd
}

func newModelsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every model registered for the tenant",
		RunE:  runModelsList,
	}
	cmd.Flags().String("kind", "", "filter by model kind")
	cmd.Flags().String("owner", "", "filter by owning team")
	cmd.Flags().String("search", "", "filter by substring match on model name")
	return cmd
}

func runModelsList(cmd *cobra.Command, args []string) error {
	client, err := clientFromCommand(cmd)
	if err != nil {
		return err
	}
	kind, _ := cmd.Flags().GetString("kind")
	owner, _ := cmd.Flags().GetString("owner")
	search, _ := cmd.Flags().GetString("search")

	var models []modelRecord
	path := withQuery("/models", map[string]string{"kind": kind, "owner": owner, "search": search})
	if err := client.get(cmd.Context(), path, &models); err != nil {
		return err
	}

	if jsonOutput(cmd) {
		return PrintJSON(cmd.OutOrStdout(), models)
	}

	headers := []string{"NAME", "KIND", "OWNER", "MATERIALIZATION"}
	rows := make([][]string, 0, len(models))
	for _, m := range models {
		rows = append(rows, []string{m.Name, m.Kind, m.Owner, m.Materialization})
	}
	RenderTable(cmd.OutOrStdout(), headers, rows)
	return nil
}

func newModelsLineageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lineage <model>",
		Short: "Show every output column's provenance for a model",
		Args:  cobra.ExactArgs(1),
		RunE:  runModelsLineage,
	}
}

func runModelsLineage(cmd *cobra.Command, args []string) error {
	client, err := clientFromCommand(cmd)
	if err != nil {
		return err
	}
	var resp map[string]any
	if err := client.get(cmd.Context(), "/models/"+args[0]+"/lineage", &resp); err != nil {
		return err
	}
	return PrintJSON(cmd.OutOrStdout(), resp)
}

func newModelsColumnLineageCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "column-lineage <model>",
		Short: "Trace a single column back to its external source",
		Args:  cobra.ExactArgs(1),
		RunE:  runModelsColumnLineage,
	}
	cmd.Flags().String("column", "", "column to trace; traces every column if omitted")
	return cmd
}

func runModelsColumnLineage(cmd *cobra.Command, args []string) error {
	client, err := clientFromCommand(cmd)
	if err != nil {
		return err
	}
	column, _ := cmd.Flags().GetString("column")

	var resp map[string]any
	path := withQuery("/models/"+args[0]+"/column-lineage", map[string]string{"column": column})
	if err := client.get(cmd.Context(), path, &resp); err != nil {
		return err
	}
	return PrintJSON(cmd.OutOrStdout(), resp)
}
