package planner

import (
	"testing"

	"github.com/ironlayer/ironlayer/internal/dag"
	"github.com/ironlayer/ironlayer/internal/diff"
	"github.com/ironlayer/ironlayer/internal/model"
)

func threeModelGraph(t *testing.T) (*dag.Graph, map[string]*model.Definition) {
	t.Helper()
	g, err := dag.Build(map[string][]string{
		"raw.events":              nil,
		"staging.events_clean":    {"raw.events"},
		"analytics.daily_summary": {"staging.events_clean"},
	})
	if err != nil {
		t.Fatalf("dag.Build() error = %v", err)
	}
	models := map[string]*model.Definition{
		"raw.events":              {Name: "raw.events", Kind: model.KindFullRefresh},
		"staging.events_clean":    {Name: "staging.events_clean", Kind: model.KindFullRefresh},
		"analytics.daily_summary": {Name: "analytics.daily_summary", Kind: model.KindFullRefresh},
	}
	return g, models
}

// TestS1ThreeStepAlphabeticalOrderAndParallelGroups mirrors spec scenario S1.
func TestS1ThreeStepAlphabeticalOrderAndParallelGroups(t *testing.T) {
	g, models := threeModelGraph(t)

	in := Input{
		Models:     models,
		DiffResult: diff.Result{Modified: []string{"raw.events"}},
		DAG:        g,
		Base:       "aaaa",
		Target:     "bbbb",
		AsOfDate:   "2025-01-15",
	}

	p, err := Plan(in)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	if len(p.Steps) != 3 {
		t.Fatalf("len(Steps) = %d, want 3", len(p.Steps))
	}
	wantOrder := []string{"analytics.daily_summary", "raw.events", "staging.events_clean"}
	for i, want := range wantOrder {
		if p.Steps[i].Model != want {
			t.Errorf("Steps[%d].Model = %q, want %q", i, p.Steps[i].Model, want)
		}
		if p.Steps[i].RunType != "FULL_REFRESH" {
			t.Errorf("Steps[%d].RunType = %q, want FULL_REFRESH", i, p.Steps[i].RunType)
		}
	}

	groupByModel := map[string]int{}
	for _, s := range p.Steps {
		groupByModel[s.Model] = s.ParallelGroup
	}
	if groupByModel["raw.events"] != 0 {
		t.Errorf("raw.events group = %d, want 0", groupByModel["raw.events"])
	}
	if groupByModel["staging.events_clean"] != 1 {
		t.Errorf("staging.events_clean group = %d, want 1", groupByModel["staging.events_clean"])
	}
	if groupByModel["analytics.daily_summary"] != 2 {
		t.Errorf("analytics.daily_summary group = %d, want 2", groupByModel["analytics.daily_summary"])
	}

	p2, err := Plan(in)
	if err != nil {
		t.Fatalf("Plan() (2nd run) error = %v", err)
	}
	if p.PlanID != p2.PlanID {
		t.Fatalf("PlanID not stable across reruns: %q vs %q", p.PlanID, p2.PlanID)
	}
}

// TestS2IncrementalRangeFromWatermark mirrors spec scenario S2.
func TestS2IncrementalRangeFromWatermark(t *testing.T) {
	g, err := dag.Build(map[string][]string{"m": nil})
	if err != nil {
		t.Fatalf("dag.Build() error = %v", err)
	}
	models := map[string]*model.Definition{
		"m": {Name: "m", Kind: model.KindIncrementalByTime, TimeColumn: "ts"},
	}

	in := Input{
		Models:     models,
		DiffResult: diff.Result{Modified: []string{"m"}},
		DAG:        g,
		Watermarks: map[string]Watermark{"m": {PartitionStart: "2025-05-01", PartitionEnd: "2025-05-15"}},
		Base:       "a", Target: "b",
		AsOfDate: "2025-06-01",
	}

	p, err := Plan(in)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(p.Steps) != 1 {
		t.Fatalf("len(Steps) = %d, want 1", len(p.Steps))
	}
	step := p.Steps[0]
	if step.RunType != "INCREMENTAL" {
		t.Fatalf("RunType = %q, want INCREMENTAL", step.RunType)
	}
	if step.InputRange == nil || step.InputRange.Start != "2025-05-15" || step.InputRange.End != "2025-06-01" {
		t.Fatalf("InputRange = %+v, want (2025-05-15, 2025-06-01)", step.InputRange)
	}
}

func TestPlanRejectsMissingAsOfDate(t *testing.T) {
	_, err := Plan(Input{Base: "a", Target: "b"})
	if err != ErrMissingAsOfDate {
		t.Fatalf("Plan() error = %v, want ErrMissingAsOfDate", err)
	}
}

func TestDownstreamPropagationIncludesAllThreeModels(t *testing.T) {
	g, models := threeModelGraph(t)
	in := Input{
		Models:     models,
		DiffResult: diff.Result{Modified: []string{"raw.events"}},
		DAG:        g,
		Base:       "a", Target: "b",
		AsOfDate: "2025-01-01",
	}
	p, err := Plan(in)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	seen := map[string]bool{}
	for _, s := range p.Steps {
		seen[s.Model] = true
	}
	for _, want := range []string{"raw.events", "staging.events_clean", "analytics.daily_summary"} {
		if !seen[want] {
			t.Errorf("missing model %q in plan steps", want)
		}
	}
}

func TestNewlyAddedModelIsAlwaysFullRefresh(t *testing.T) {
	g, err := dag.Build(map[string][]string{"m": nil})
	if err != nil {
		t.Fatalf("dag.Build() error = %v", err)
	}
	models := map[string]*model.Definition{
		"m": {Name: "m", Kind: model.KindIncrementalByTime, TimeColumn: "ts"},
	}
	in := Input{
		Models:     models,
		DiffResult: diff.Result{Added: []string{"m"}},
		DAG:        g,
		Base:       "a", Target: "b",
		AsOfDate: "2025-01-01",
	}
	p, err := Plan(in)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if p.Steps[0].RunType != "FULL_REFRESH" {
		t.Fatalf("newly added incremental model should run FULL_REFRESH, got %q", p.Steps[0].RunType)
	}
}

func TestPlanIDContentAddressedOnBaseTargetAndStepIDs(t *testing.T) {
	g, models := threeModelGraph(t)
	in1 := Input{Models: models, DiffResult: diff.Result{Modified: []string{"raw.events"}}, DAG: g, Base: "a", Target: "b", AsOfDate: "2025-01-01"}
	in2 := in1
	in2.Base = "z"

	p1, _ := Plan(in1)
	p2, _ := Plan(in2)
	if p1.PlanID == p2.PlanID {
		t.Fatalf("different base should yield different plan_id")
	}
}
