// Package contract validates a model's declared schema contract against its
// actual output columns.
package contract

import (
	"sort"

	"github.com/ironlayer/ironlayer/internal/model"
)

// Severity classifies how serious a contract violation is.
type Severity string

const (
	SeverityBreaking Severity = "BREAKING"
	SeverityWarning  Severity = "WARNING"
	SeverityInfo     Severity = "INFO"
)

// ViolationType identifies which contract rule was broken.
type ViolationType string

const (
	ViolationColumnRemoved      ViolationType = "COLUMN_REMOVED"
	ViolationTypeChanged        ViolationType = "TYPE_CHANGED"
	ViolationNullableTightened  ViolationType = "NULLABLE_TIGHTENED"
	ViolationColumnAdded        ViolationType = "COLUMN_ADDED"
)

// Violation is one detected contract discrepancy.
type Violation struct {
	ModelName     string
	ColumnName    string
	ViolationType ViolationType
	Severity      Severity
	Expected      string
	Actual        string
	Message       string
}

// ActualColumn describes one column as actually produced by a model.
type ActualColumn struct {
	Name     string
	DataType string
	Nullable bool
}

// Result aggregates the violations found for one model.
type Result struct {
	ModelName  string
	Violations []Violation
}

// HasBreakingViolations reports whether any violation is BREAKING.
func (r Result) HasBreakingViolations() bool {
	return r.BreakingCount() > 0
}

// BreakingCount counts BREAKING violations.
func (r Result) BreakingCount() int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == SeverityBreaking {
			n++
		}
	}
	return n
}

// WarningCount counts WARNING violations.
func (r Result) WarningCount() int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == SeverityWarning {
			n++
		}
	}
	return n
}

// InfoCount counts INFO violations.
func (r Result) InfoCount() int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == SeverityInfo {
			n++
		}
	}
	return n
}

// Validate compares a model's declared contract_columns against its actual
// output columns, applying the WARN-mode severity downgrade when mode is
// ContractModeWarn.
func Validate(modelName string, mode model.ContractMode, contractCols []model.ContractColumn, actual []ActualColumn) Result {
	if mode == model.ContractModeDisabled {
		return Result{ModelName: modelName}
	}

	contractByName := make(map[string]model.ContractColumn, len(contractCols))
	for _, c := range contractCols {
		contractByName[c.Name] = c
	}
	actualByName := make(map[string]ActualColumn, len(actual))
	for _, a := range actual {
		actualByName[a.Name] = a
	}

	var violations []Violation

	for _, c := range contractCols {
		a, ok := actualByName[c.Name]
		if !ok {
			violations = append(violations, Violation{
				ModelName: modelName, ColumnName: c.Name,
				ViolationType: ViolationColumnRemoved,
				Severity:      downgrade(SeverityBreaking, mode),
				Expected:      c.DataType,
				Message:       "contract column " + c.Name + " missing from output",
			})
			continue
		}

		expectedType := model.NormalizeType(c.DataType)
		actualType := model.NormalizeType(a.DataType)
		if expectedType != actualType {
			violations = append(violations, Violation{
				ModelName: modelName, ColumnName: c.Name,
				ViolationType: ViolationTypeChanged,
				Severity:      downgrade(SeverityBreaking, mode),
				Expected:      expectedType,
				Actual:        actualType,
				Message:       "column " + c.Name + " type changed from " + expectedType + " to " + actualType,
			})
		}

		if !c.Nullable && a.Nullable {
			violations = append(violations, Violation{
				ModelName: modelName, ColumnName: c.Name,
				ViolationType: ViolationNullableTightened,
				Severity:      downgrade(SeverityBreaking, mode),
				Message:       "column " + c.Name + " is NOT NULL in contract but nullable in output",
			})
		}
	}

	for _, a := range actual {
		if _, ok := contractByName[a.Name]; !ok {
			violations = append(violations, Violation{
				ModelName: modelName, ColumnName: a.Name,
				ViolationType: ViolationColumnAdded,
				Severity:      SeverityInfo,
				Actual:        model.NormalizeType(a.DataType),
				Message:       "output column " + a.Name + " is not declared in contract",
			})
		}
	}

	sort.Slice(violations, func(i, j int) bool {
		if violations[i].ModelName != violations[j].ModelName {
			return violations[i].ModelName < violations[j].ModelName
		}
		if violations[i].ColumnName != violations[j].ColumnName {
			return violations[i].ColumnName < violations[j].ColumnName
		}
		return violations[i].ViolationType < violations[j].ViolationType
	})

	return Result{ModelName: modelName, Violations: violations}
}

// downgrade applies the WARN-mode severity downgrade: BREAKING becomes
// WARNING when mode is WARN, unchanged otherwise. COLUMN_ADDED (always INFO)
// is never passed through downgrade.
func downgrade(sev Severity, mode model.ContractMode) Severity {
	if mode == model.ContractModeWarn && sev == SeverityBreaking {
		return SeverityWarning
	}
	return sev
}
