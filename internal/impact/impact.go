// Package impact computes deterministic pre-apply blast-radius
// assessments for a proposed schema change: given a change descriptor on
// one model, it walks the dependency graph downstream and classifies the
// severity of the effect on every descendant.
package impact

import (
	"sort"

	"github.com/ironlayer/ironlayer/internal/dag"
	"github.com/ironlayer/ironlayer/internal/model"
)

// ChangeKind is the shape of a proposed column-level or model-level change.
type ChangeKind string

const (
	ChangeRemove     ChangeKind = "REMOVE"
	ChangeAdd        ChangeKind = "ADD"
	ChangeRename     ChangeKind = "RENAME"
	ChangeTypeChange ChangeKind = "TYPE_CHANGE"
)

// Severity bands a descendant's exposure to a proposed change.
type Severity string

const (
	SeverityBreaking Severity = "BREAKING"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
)

// Change describes one proposed edit to a model's column.
type Change struct {
	Model   string
	Kind    ChangeKind
	Column  string
	NewName string // set for RENAME
	OldType string // set for TYPE_CHANGE
	NewType string // set for TYPE_CHANGE
}

// DescendantImpact is the computed effect of a Change on one descendant.
type DescendantImpact struct {
	Model              string
	ColumnsAffected    []string
	Severity           Severity
	ContractViolations bool
}

// typeCompat classifies a source->target type transition. Unlisted pairs
// default to BREAKING (fail-closed: an unrecognized widening is treated as
// unsafe rather than assumed harmless).
var typeCompat = map[[2]string]Severity{
	{"INT", "BIGINT"}:       SeverityInfo,
	{"BIGINT", "INT"}:       SeverityBreaking,
	{"DATE", "TIMESTAMP"}:   SeverityInfo,
	{"STRING", "INT"}:       SeverityBreaking,
	{"INT", "STRING"}:       SeverityBreaking,
}

func classifyTypeChange(oldType, newType string) Severity {
	oldType = model.NormalizeType(oldType)
	newType = model.NormalizeType(newType)
	if oldType == newType {
		return SeverityInfo
	}
	if sev, ok := typeCompat[[2]string{oldType, newType}]; ok {
		return sev
	}
	return SeverityBreaking
}

func baseSeverity(change Change) Severity {
	switch change.Kind {
	case ChangeRemove:
		return SeverityBreaking
	case ChangeAdd:
		return SeverityInfo
	case ChangeRename:
		return SeverityWarning
	case ChangeTypeChange:
		return classifyTypeChange(change.OldType, change.NewType)
	default:
		return SeverityBreaking
	}
}

// affectedColumnNames are the column names a descendant should be checked
// against: for RENAME, both the old and new names are relevant to
// downstream consumers until they migrate.
func affectedColumnNames(change Change) []string {
	if change.Kind == ChangeRename && change.NewName != "" {
		return []string{change.Column, change.NewName}
	}
	return []string{change.Column}
}

// Simulate walks the downstream closure of change.Model and returns one
// DescendantImpact per affected descendant, in alphabetical order of model
// name (deterministic, not sorted by severity). A
// diamond dependency (A feeding both B and C, which both feed D) yields D
// exactly once because DownstreamClosure already dedupes via a visited
// set.
func Simulate(graph *dag.Graph, models map[string]model.Definition, change Change) []DescendantImpact {
	closure := graph.DownstreamClosure([]string{change.Model})
	delete(closure, change.Model)

	names := affectedColumnNames(change)
	severity := baseSeverity(change)

	results := make([]DescendantImpact, 0, len(closure))
	for _, name := range sortedKeys(closure) {
		def, ok := models[name]
		if !ok {
			continue
		}
		var columnsAffected []string
		for _, col := range def.OutputColumns {
			if containsString(names, col) {
				columnsAffected = append(columnsAffected, col)
			}
		}
		if len(columnsAffected) == 0 {
			continue
		}

		violated := false
		for _, cc := range def.ContractColumns {
			if containsString(names, cc.Name) {
				violated = true
				break
			}
		}

		results = append(results, DescendantImpact{
			Model:              name,
			ColumnsAffected:    columnsAffected,
			Severity:           severity,
			ContractViolations: violated,
		})
	}
	return results
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
