package reconcile

import (
	"testing"
	"time"
)

func TestComputeNextRunHourly(t *testing.T) {
	from := time.Date(2025, 6, 1, 10, 20, 0, 0, time.UTC)
	next, err := ComputeNextRun("30 * * * *", from)
	if err != nil {
		t.Fatalf("ComputeNextRun returned error: %v", err)
	}
	want := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestComputeNextRunDaily(t *testing.T) {
	from := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)
	next, err := ComputeNextRun("0 12 * * *", from)
	if err != nil {
		t.Fatalf("ComputeNextRun returned error: %v", err)
	}
	want := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

func TestComputeNextRunWeekly(t *testing.T) {
	// 2025-06-01 is a Sunday.
	from := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	next, err := ComputeNextRun("0 9 * * 1", from)
	if err != nil {
		t.Fatalf("ComputeNextRun returned error: %v", err)
	}
	want := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}

// TestComputeNextRunStrictlyAfter mirrors testable property 15: an exact
// match on `from` is pushed one period later, never returned as-is.
func TestComputeNextRunStrictlyAfter(t *testing.T) {
	noon := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	next, err := ComputeNextRun("0 12 * * *", noon)
	if err != nil {
		t.Fatalf("ComputeNextRun returned error: %v", err)
	}
	if !next.After(noon) {
		t.Fatalf("next (%v) must be strictly after from (%v)", next, noon)
	}
}

func TestComputeNextRunRejectsUnsupportedShapes(t *testing.T) {
	cases := []string{
		"*/5 * * * *",
		"0,30 * * * *",
		"0 0-12 * * *",
		"0 0 1 * *",
		"not a cron",
		"0 0 * * * *",
	}
	for _, expr := range cases {
		if _, err := ComputeNextRun(expr, time.Now()); err != ErrUnsupportedCron {
			t.Errorf("ComputeNextRun(%q) err = %v, want ErrUnsupportedCron", expr, err)
		}
	}
}
