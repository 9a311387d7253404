package contract

import (
	"testing"

	"github.com/ironlayer/ironlayer/internal/model"
)

func TestValidateDetectsRemovedAndAddedColumns(t *testing.T) {
	contractCols := []model.ContractColumn{
		{Name: "id", DataType: "INT", Nullable: false},
		{Name: "name", DataType: "STRING", Nullable: true},
	}
	actual := []ActualColumn{
		{Name: "id", DataType: "INT", Nullable: false},
		{Name: "amount", DataType: "DECIMAL", Nullable: true},
	}

	res := Validate("m", model.ContractModeStrict, contractCols, actual)

	if !res.HasBreakingViolations() {
		t.Fatalf("expected a breaking violation for removed column")
	}
	if res.InfoCount() != 1 {
		t.Fatalf("InfoCount() = %d, want 1 for added column", res.InfoCount())
	}

	var foundRemoved, foundAdded bool
	for _, v := range res.Violations {
		if v.ViolationType == ViolationColumnRemoved && v.ColumnName == "name" {
			foundRemoved = true
		}
		if v.ViolationType == ViolationColumnAdded && v.ColumnName == "amount" {
			foundAdded = true
		}
	}
	if !foundRemoved || !foundAdded {
		t.Fatalf("violations = %+v", res.Violations)
	}
}

func TestValidateWarnModeDowngradesSeverity(t *testing.T) {
	contractCols := []model.ContractColumn{{Name: "id", DataType: "INT", Nullable: false}}
	actual := []ActualColumn{}

	res := Validate("m", model.ContractModeWarn, contractCols, actual)
	if res.HasBreakingViolations() {
		t.Fatalf("WARN mode should downgrade BREAKING to WARNING")
	}
	if res.WarningCount() != 1 {
		t.Fatalf("WarningCount() = %d, want 1", res.WarningCount())
	}
}

func TestValidateDisabledModeProducesNothing(t *testing.T) {
	contractCols := []model.ContractColumn{{Name: "id", DataType: "INT", Nullable: false}}
	res := Validate("m", model.ContractModeDisabled, contractCols, nil)
	if len(res.Violations) != 0 {
		t.Fatalf("DISABLED mode should produce no violations")
	}
}

func TestValidateNullableTightened(t *testing.T) {
	contractCols := []model.ContractColumn{{Name: "id", DataType: "INT", Nullable: false}}
	actual := []ActualColumn{{Name: "id", DataType: "INT", Nullable: true}}

	res := Validate("m", model.ContractModeStrict, contractCols, actual)
	if len(res.Violations) != 1 || res.Violations[0].ViolationType != ViolationNullableTightened {
		t.Fatalf("violations = %+v", res.Violations)
	}
}

func TestValidateViolationSortOrder(t *testing.T) {
	contractCols := []model.ContractColumn{
		{Name: "z_col", DataType: "INT", Nullable: false},
		{Name: "a_col", DataType: "INT", Nullable: false},
	}
	res := Validate("m", model.ContractModeStrict, contractCols, nil)
	if len(res.Violations) != 2 {
		t.Fatalf("expected 2 violations")
	}
	if res.Violations[0].ColumnName != "a_col" {
		t.Fatalf("violations not sorted by column name: %+v", res.Violations)
	}
}
