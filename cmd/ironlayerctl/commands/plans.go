package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

type planStep struct {
	Model         string `json:"model"`
	RunType       string `json:"run_type"`
	ParallelGroup int    `json:"parallel_group"`
	Reason        string `json:"reason"`
}

type planSummary struct {
	BreakingContractViolations int      `json:"breaking_contract_violations"`
	ContractViolationsCount    int      `json:"contract_violations_count"`
	CosmeticChangesSkipped     []string `json:"cosmetic_changes_skipped"`
	EstimatedCostUSD           float64  `json:"estimated_cost_usd"`
	ModelsChanged              []string `json:"models_changed"`
	TotalSteps                 int      `json:"total_steps"`
}

type planRecord struct {
	PlanID       string      `json:"plan_id"`
	Base         string      `json:"base"`
	Target       string      `json:"target"`
	AutoApproved bool        `json:"auto_approved"`
	Steps        []planStep  `json:"steps"`
	Summary      planSummary `json:"summary"`
}

// NewPlansCommand returns the `ironlayerctl plans` command group.
func NewPlansCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plans",
		Short: "Generate, inspect, and apply migration plans",
	}
	cmd.AddCommand(newPlansCreateCommand())
	cmd.AddCommand(newPlansGetCommand())
	cmd.AddCommand(newPlansAugmentCommand())
	cmd.AddCommand(newPlansApplyCommand())
	return cmd
}

func newPlansCreateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Generate a new plan from a model repository",
		RunE:  runPlansCreate,
	}
	cmd.Flags().String("repo-path", "", "path to the model repository to parse (required)")
	cmd.Flags().String("base", "", "base ref this plan is diffed from")
	cmd.Flags().String("target", "", "target ref this plan produces")
	cmd.Flags().String("as-of-date", "", "logical date the plan executes as of, YYYY-MM-DD (required)")
	_ = cmd.MarkFlagRequired("repo-path")
	_ = cmd.MarkFlagRequired("as-of-date")
	return cmd
}

func runPlansCreate(cmd *cobra.Command, args []string) error {
	client, err := clientFromCommand(cmd)
	if err != nil {
		return err
	}
	repoPath, _ := cmd.Flags().GetString("repo-path")
	base, _ := cmd.Flags().GetString("base")
	target, _ := cmd.Flags().GetString("target")
	asOfDate, _ := cmd.Flags().GetString("as-of-date")

	var p planRecord
	err = client.post(cmd.Context(), "/plans", map[string]string{
		"repo_path":  repoPath,
		"base":       base,
		"target":     target,
		"as_of_date": asOfDate,
	}, &p)
	if err != nil {
		return err
	}
	return printPlan(cmd, p)
}

func newPlansGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <plan-id>",
		Short: "Fetch a plan by ID",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlansGet,
	}
}

func runPlansGet(cmd *cobra.Command, args []string) error {
	client, err := clientFromCommand(cmd)
	if err != nil {
		return err
	}
	var p planRecord
	if err := client.get(cmd.Context(), "/plans/"+args[0], &p); err != nil {
		return err
	}
	return printPlan(cmd, p)
}

func newPlansAugmentCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "augment <plan-id>",
		Short: "Attach blast-radius impact analysis to a plan (requires the ai_advisory feature)",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlansAugment,
	}
}

func runPlansAugment(cmd *cobra.Command, args []string) error {
	client, err := clientFromCommand(cmd)
	if err != nil {
		return err
	}
	var resp map[string]any
	if err := client.post(cmd.Context(), "/plans/"+args[0]+"/augment", nil, &resp); err != nil {
		return err
	}
	return PrintJSON(cmd.OutOrStdout(), resp)
}

func newPlansApplyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "apply <plan-id>",
		Short: "Apply a plan that has cleared its approval gate",
		Args:  cobra.ExactArgs(1),
		RunE:  runPlansApply,
	}
}

func runPlansApply(cmd *cobra.Command, args []string) error {
	client, err := clientFromCommand(cmd)
	if err != nil {
		return err
	}
	var p planRecord
	if err := client.post(cmd.Context(), "/plans/"+args[0]+"/apply", nil, &p); err != nil {
		return err
	}
	return printPlan(cmd, p)
}

func printPlan(cmd *cobra.Command, p planRecord) error {
	if jsonOutput(cmd) {
		return PrintJSON(cmd.OutOrStdout(), p)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Plan: %s\n", p.PlanID)
	fmt.Fprintf(out, "Base -> Target: %s -> %s\n", p.Base, p.Target)
	fmt.Fprintf(out, "Auto-approved: %t\n", p.AutoApproved)
	fmt.Fprintf(out, "Estimated cost: $%.4f\n\n", p.Summary.EstimatedCostUSD)

	headers := []string{"MODEL", "RUN TYPE", "GROUP", "REASON"}
	rows := make([][]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		rows = append(rows, []string{
			s.Model,
			ColorStatus(s.RunType),
			fmt.Sprintf("%d", s.ParallelGroup),
			Truncate(s.Reason, 40),
		})
	}
	RenderTable(out, headers, rows)
	return nil
}
