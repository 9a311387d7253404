// Package plan defines the deterministic execution envelope produced by
// internal/planner and its canonical JSON wire format.
package plan

import (
	"bytes"
	"encoding/json"
)

// RunType is a step's execution strategy within a plan.
type RunType string

const (
	RunTypeFullRefresh RunType = "FULL_REFRESH"
	RunTypeIncremental RunType = "INCREMENTAL"
)

// InputRange is the optional (start, end) calendar-date window for an
// incremental step. Both fields are "YYYY-MM-DD" strings, never timestamps.
type InputRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Step is one model's run within a Plan. Fields are declared in the exact
// sorted-key order required by §6.2 of the wire format: encoding/json emits
// struct fields in declaration order, so this ordering IS the canonical
// JSON key order — it must never be reshuffled.
type Step struct {
	ContractViolations      int         `json:"contract_violations"`
	DependsOn               []string    `json:"depends_on"`
	DiffDetail              string      `json:"diff_detail"`
	EstimatedComputeSeconds float64     `json:"estimated_compute_seconds"`
	EstimatedCostUSD        float64     `json:"estimated_cost_usd"`
	InputRange              *InputRange `json:"input_range"`
	Model                   string      `json:"model"`
	ParallelGroup           int         `json:"parallel_group"`
	Reason                  string      `json:"reason"`
	RunType                 RunType     `json:"run_type"`
	StepID                  string      `json:"step_id"`
}

// Approval records one approval event against a plan.
type Approval struct {
	UserID    string `json:"user_id"`
	ApprovedAt string `json:"approved_at"`
	Comment   string `json:"comment"`
}

// Summary aggregates plan-level statistics, fields in sorted-key order.
type Summary struct {
	BreakingContractViolations int      `json:"breaking_contract_violations"`
	ContractViolationsCount    int      `json:"contract_violations_count"`
	CosmeticChangesSkipped     []string `json:"cosmetic_changes_skipped"`
	EstimatedCostUSD           float64  `json:"estimated_cost_usd"`
	ModelsChanged              []string `json:"models_changed"`
	TotalSteps                 int      `json:"total_steps"`
}

// Plan is the deterministic, content-addressed execution envelope. Field
// order matches §6.2's sorted top-level key order (approvals,
// auto_approved, base, plan_id, steps, summary, target) for the same reason
// documented on Step.
//
// Invariant: no field anywhere in this tree carries a wall-clock timestamp;
// Plan must be byte-reproducible from its inputs alone.
type Plan struct {
	Approvals    []Approval `json:"approvals"`
	AutoApproved bool       `json:"auto_approved"`
	Base         string     `json:"base"`
	PlanID       string     `json:"plan_id"`
	Steps        []Step     `json:"steps"`
	Summary      Summary    `json:"summary"`
	Target       string     `json:"target"`
}

// MarshalCanonical serializes p as canonical JSON: UTF-8, sorted object
// keys, no extraneous whitespace. encoding/json already sorts map keys and
// emits struct fields in declaration order; our struct fields are declared
// in the sorted-key order §6.2 requires, so a plain Marshal is already
// canonical — this wrapper exists so callers never reach for json.Marshal
// directly and accidentally drift from that invariant.
func (p Plan) MarshalCanonical() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalPlan parses canonical JSON back into a Plan.
func UnmarshalPlan(data []byte) (Plan, error) {
	var p Plan
	err := json.Unmarshal(data, &p)
	return p, err
}
