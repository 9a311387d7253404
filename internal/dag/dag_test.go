package dag

import (
	"reflect"
	"testing"
)

func TestBuildLinearChain(t *testing.T) {
	g, err := Build(map[string][]string{
		"raw.events":              nil,
		"staging.events_clean":    {"raw.events"},
		"analytics.daily_summary": {"staging.events_clean"},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if got := g.Downstream("raw.events"); !reflect.DeepEqual(got, []string{"staging.events_clean"}) {
		t.Errorf("Downstream(raw.events) = %v", got)
	}
	if got := g.Upstream("analytics.daily_summary"); !reflect.DeepEqual(got, []string{"staging.events_clean"}) {
		t.Errorf("Upstream(analytics.daily_summary) = %v", got)
	}
}

func TestDownstreamClosurePropagatesThroughChain(t *testing.T) {
	g, err := Build(map[string][]string{
		"raw.events":              nil,
		"staging.events_clean":    {"raw.events"},
		"analytics.daily_summary": {"staging.events_clean"},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	closure := g.DownstreamClosure([]string{"raw.events"})
	for _, want := range []string{"raw.events", "staging.events_clean", "analytics.daily_summary"} {
		if _, ok := closure[want]; !ok {
			t.Errorf("closure missing %q", want)
		}
	}
}

func TestDownstreamClosureDiamondDeduplicates(t *testing.T) {
	g, err := Build(map[string][]string{
		"a": nil,
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	closure := g.DownstreamClosure([]string{"a"})
	if _, ok := closure["d"]; !ok {
		t.Fatalf("closure should include d")
	}
	// map membership is inherently deduplicated; assert size instead of count.
	if len(closure) != 4 {
		t.Fatalf("len(closure) = %d, want 4 (a,b,c,d each once)", len(closure))
	}
}

func TestBuildDetectsCycle(t *testing.T) {
	_, err := Build(map[string][]string{
		"a": {"b"},
		"b": {"a"},
	})
	if err == nil {
		t.Fatalf("expected cycle error")
	}
	var cycleErr *CycleError
	if !isCycleError(err, &cycleErr) {
		t.Fatalf("error is not a *CycleError: %v", err)
	}
}

func isCycleError(err error, target **CycleError) bool {
	ce, ok := err.(*CycleError)
	if ok {
		*target = ce
	}
	return ok
}

func TestExternalTablesTrackedWithoutNodes(t *testing.T) {
	g, err := Build(map[string][]string{
		"staging.orders": {"raw.orders_ext"},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	ext := g.ExternalTables()
	if len(ext) != 1 || ext[0] != "raw.orders_ext" {
		t.Fatalf("ExternalTables() = %v", ext)
	}
	if len(g.Models()) != 1 {
		t.Fatalf("external table should not become a model node")
	}
}
