package impact

import (
	"testing"

	"github.com/ironlayer/ironlayer/internal/dag"
	"github.com/ironlayer/ironlayer/internal/model"
)

func diamondGraph(t *testing.T) *dag.Graph {
	t.Helper()
	g, err := dag.Build(map[string][]string{
		"a": {},
		"b": {"a"},
		"c": {"a"},
		"d": {"b", "c"},
	})
	if err != nil {
		t.Fatalf("dag.Build failed: %v", err)
	}
	return g
}

func TestSimulateDiamondYieldsDescendantOnce(t *testing.T) {
	g := diamondGraph(t)
	models := map[string]model.Definition{
		"b": {Name: "b", OutputColumns: []string{"amount"}},
		"c": {Name: "c", OutputColumns: []string{"amount"}},
		"d": {Name: "d", OutputColumns: []string{"amount"}},
	}

	results := Simulate(g, models, Change{Model: "a", Kind: ChangeRemove, Column: "amount"})

	count := 0
	for _, r := range results {
		if r.Model == "d" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("model d appeared %d times in results, want exactly 1", count)
	}
}

func TestSimulateRemoveIsAlwaysBreaking(t *testing.T) {
	g := diamondGraph(t)
	models := map[string]model.Definition{
		"b": {Name: "b", OutputColumns: []string{"amount"}},
		"c": {Name: "c", OutputColumns: []string{"amount"}},
		"d": {Name: "d", OutputColumns: []string{"amount"}},
	}
	results := Simulate(g, models, Change{Model: "a", Kind: ChangeRemove, Column: "amount"})
	for _, r := range results {
		if r.Severity != SeverityBreaking {
			t.Errorf("model %s severity = %s, want BREAKING", r.Model, r.Severity)
		}
	}
}

func TestSimulateTypeChangeCompatibilityTable(t *testing.T) {
	cases := []struct {
		oldType, newType string
		want             Severity
	}{
		{"INT", "BIGINT", SeverityInfo},
		{"BIGINT", "INT", SeverityBreaking},
		{"DATE", "TIMESTAMP", SeverityInfo},
		{"STRING", "INT", SeverityBreaking},
		{"INT", "STRING", SeverityBreaking},
	}
	for _, c := range cases {
		got := classifyTypeChange(c.oldType, c.newType)
		if got != c.want {
			t.Errorf("classifyTypeChange(%s, %s) = %s, want %s", c.oldType, c.newType, got, c.want)
		}
	}
}

func TestSimulateFlagsContractViolations(t *testing.T) {
	g := diamondGraph(t)
	models := map[string]model.Definition{
		"b": {
			Name:            "b",
			OutputColumns:   []string{"amount"},
			ContractColumns: []model.ContractColumn{{Name: "amount", DataType: "DECIMAL"}},
		},
		"c": {Name: "c", OutputColumns: []string{"amount"}},
		"d": {Name: "d", OutputColumns: []string{"amount"}},
	}
	results := Simulate(g, models, Change{Model: "a", Kind: ChangeTypeChange, Column: "amount", OldType: "INT", NewType: "STRING"})

	for _, r := range results {
		if r.Model == "b" && !r.ContractViolations {
			t.Fatalf("model b has amount in contract_columns, expected ContractViolations=true")
		}
		if r.Model == "c" && r.ContractViolations {
			t.Fatalf("model c has no contract, expected ContractViolations=false")
		}
	}
}

func TestSimulateSkipsDescendantsNotReferencingChangedColumn(t *testing.T) {
	g := diamondGraph(t)
	models := map[string]model.Definition{
		"b": {Name: "b", OutputColumns: []string{"unrelated_column"}},
		"c": {Name: "c", OutputColumns: []string{"amount"}},
		"d": {Name: "d", OutputColumns: []string{"amount"}},
	}
	results := Simulate(g, models, Change{Model: "a", Kind: ChangeRemove, Column: "amount"})
	for _, r := range results {
		if r.Model == "b" {
			t.Fatalf("model b does not reference 'amount', should not appear in results")
		}
	}
}
