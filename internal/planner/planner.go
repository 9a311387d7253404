// Package planner implements the interval planner: the algorithm that turns
// a model set, a structural diff, a dependency graph, and historical
// watermarks into a byte-deterministic execution Plan.
package planner

import (
	"errors"
	"sort"

	"github.com/ironlayer/ironlayer/internal/contract"
	"github.com/ironlayer/ironlayer/internal/dag"
	"github.com/ironlayer/ironlayer/internal/diff"
	"github.com/ironlayer/ironlayer/internal/model"
	"github.com/ironlayer/ironlayer/internal/plan"
)

// ErrMissingAsOfDate is returned when Plan is invoked without an as-of date.
var ErrMissingAsOfDate = errors.New("planner: as_of_date is required")

// Watermark is a model's high-water incremental range.
type Watermark struct {
	PartitionStart string
	PartitionEnd   string
}

// RunStats carries historical execution timing for cost estimation.
type RunStats struct {
	AvgRuntimeSeconds float64
	RunCount          int
}

// Config tunes cost estimation and lookback defaults.
type Config struct {
	DefaultLookbackDays int
	CostPerComputeSecond float64
}

// DefaultConfig matches the spec's documented defaults.
func DefaultConfig() Config {
	return Config{DefaultLookbackDays: 30, CostPerComputeSecond: 0.0007}
}

// Input bundles everything the planner needs for one invocation.
type Input struct {
	Models     map[string]*model.Definition
	DiffResult diff.Result
	DAG        *dag.Graph
	Watermarks map[string]Watermark
	RunStats   map[string]RunStats
	Base       string
	Target     string
	AsOfDate   string // "YYYY-MM-DD"; required
	Config     Config

	// ContractResults, if provided, is consulted to populate each step's
	// ContractViolations count and the plan summary's violation counts.
	ContractResults map[string]contract.Result
}

const defaultComputeSeconds = 300.0

// Plan runs the interval planning algorithm described in the component
// design's §4.5 and returns a deterministic Plan.
func Plan(in Input) (plan.Plan, error) {
	if in.AsOfDate == "" {
		return plan.Plan{}, ErrMissingAsOfDate
	}
	cfg := in.Config
	if cfg.CostPerComputeSecond == 0 {
		cfg = DefaultConfig()
	}

	affected := computeAffectedSet(in)
	groups := assignParallelGroups(in.DAG, affected)

	steps := make([]plan.Step, 0, len(affected))
	for name := range affected {
		def := in.Models[name]
		if def == nil {
			continue // removed models produce no steps
		}

		isNew := contains(in.DiffResult.Added, name)
		runType, inputRange, reason := classifyRunType(def, in.Watermarks[name], in.AsOfDate, cfg, isNew)

		stats := in.RunStats[name]
		computeSeconds := defaultComputeSeconds
		if stats.RunCount > 0 && stats.AvgRuntimeSeconds > 0 {
			computeSeconds = stats.AvgRuntimeSeconds
		}
		costUSD := computeSeconds * cfg.CostPerComputeSecond

		violations := 0
		if res, ok := in.ContractResults[name]; ok {
			violations = len(res.Violations)
		}

		var dependsOn []string
		for _, up := range in.DAG.Upstream(name) {
			if _, ok := affected[up]; ok {
				dependsOn = append(dependsOn, plan.ComputeStepID(up, in.Base, in.Target))
			}
		}
		sort.Strings(dependsOn)

		steps = append(steps, plan.Step{
			StepID:                  plan.ComputeStepID(name, in.Base, in.Target),
			Model:                   name,
			RunType:                 runType,
			InputRange:              inputRange,
			Reason:                  reason,
			DependsOn:               dependsOn,
			ParallelGroup:           groups[name],
			EstimatedComputeSeconds: computeSeconds,
			EstimatedCostUSD:        costUSD,
			ContractViolations:      violations,
			DiffDetail:              diffDetail(in.DiffResult, name),
		})
	}

	sort.Slice(steps, func(i, j int) bool {
		return steps[i].Model < steps[j].Model
	})

	stepIDs := make([]string, len(steps))
	totalCost := 0.0
	for i, s := range steps {
		stepIDs[i] = s.StepID
		totalCost += s.EstimatedCostUSD
	}
	sortedForID := append([]string(nil), stepIDs...)
	sort.Strings(sortedForID)

	modelsChanged := make([]string, 0, len(in.DiffResult.Added)+len(in.DiffResult.Modified))
	modelsChanged = append(modelsChanged, in.DiffResult.Added...)
	modelsChanged = append(modelsChanged, in.DiffResult.Modified...)
	sort.Strings(modelsChanged)

	breaking, totalViolations := 0, 0
	for _, res := range in.ContractResults {
		totalViolations += len(res.Violations)
		breaking += res.BreakingCount()
	}

	p := plan.Plan{
		Base:   in.Base,
		Target: in.Target,
		Steps:  steps,
		Summary: plan.Summary{
			TotalSteps:                 len(steps),
			EstimatedCostUSD:           totalCost,
			ModelsChanged:              modelsChanged,
			CosmeticChangesSkipped:     append([]string(nil), in.DiffResult.CosmeticChangesSkipped...),
			ContractViolationsCount:    totalViolations,
			BreakingContractViolations: breaking,
		},
	}
	p.PlanID = plan.ComputePlanID(in.Base, in.Target, sortedForID)
	return p, nil
}

// computeAffectedSet starts with modified ∪ added and walks the DAG forward
// to include every transitive downstream model.
func computeAffectedSet(in Input) map[string]struct{} {
	seeds := make([]string, 0, len(in.DiffResult.Added)+len(in.DiffResult.Modified))
	seeds = append(seeds, in.DiffResult.Added...)
	seeds = append(seeds, in.DiffResult.Modified...)
	if in.DAG == nil {
		set := make(map[string]struct{}, len(seeds))
		for _, s := range seeds {
			set[s] = struct{}{}
		}
		return set
	}
	return in.DAG.DownstreamClosure(seeds)
}

// classifyRunType implements step 2 of the algorithm.
func classifyRunType(def *model.Definition, wm Watermark, asOfDate string, cfg Config, isNew bool) (plan.RunType, *plan.InputRange, string) {
	if isNew {
		return plan.RunTypeFullRefresh, nil, "new model: full refresh"
	}

	switch def.Kind {
	case model.KindIncrementalByTime:
		if def.TimeColumn == "" {
			return plan.RunTypeFullRefresh, nil, "incremental kind without time_column: full refresh"
		}
		return incrementalRange(wm, asOfDate, cfg, "incremental by time range")
	case model.KindAppendOnly:
		return incrementalRange(wm, asOfDate, cfg, "append only")
	default:
		return plan.RunTypeFullRefresh, nil, "full refresh (" + string(def.Kind) + ")"
	}
}

func incrementalRange(wm Watermark, asOfDate string, cfg Config, reason string) (plan.RunType, *plan.InputRange, string) {
	start := wm.PartitionEnd
	if start == "" {
		start = subtractDays(asOfDate, cfg.DefaultLookbackDays)
	}
	return plan.RunTypeIncremental, &plan.InputRange{Start: start, End: asOfDate}, reason
}

// assignParallelGroups implements step 3: topological layering over the
// affected set only.
func assignParallelGroups(graph *dag.Graph, affected map[string]struct{}) map[string]int {
	groups := make(map[string]int, len(affected))
	var resolve func(name string, visiting map[string]bool) int
	resolve = func(name string, visiting map[string]bool) int {
		if level, ok := groups[name]; ok {
			return level
		}
		if visiting[name] {
			return 0 // cycle guard; DAG construction already rejects real cycles
		}
		visiting[name] = true
		max := -1
		if graph != nil {
			for _, up := range graph.Upstream(name) {
				if _, ok := affected[up]; !ok {
					continue
				}
				if r := resolve(up, visiting); r > max {
					max = r
				}
			}
		}
		delete(visiting, name)
		level := max + 1
		groups[name] = level
		return level
	}

	names := make([]string, 0, len(affected))
	for n := range affected {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		resolve(n, map[string]bool{})
	}
	return groups
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func diffDetail(res diff.Result, name string) string {
	switch {
	case contains(res.Added, name):
		return "added"
	case contains(res.Modified, name):
		return "modified"
	default:
		return "downstream of changed model"
	}
}

// subtractDays computes asOfDate minus n days, both "YYYY-MM-DD".
func subtractDays(asOfDate string, n int) string {
	t, err := parseDate(asOfDate)
	if err != nil {
		return asOfDate
	}
	return formatDate(t.AddDate(0, 0, -n))
}
