package types

import "time"

// CheckStatus is the outcome of a single risk check.
type CheckStatus string

const (
	CheckPassed  CheckStatus = "PASSED"
	CheckWarning CheckStatus = "WARNING"
	CheckFailed  CheckStatus = "FAILED"
)

// ValidationStatus is the aggregate verdict over all checks of one signal.
type ValidationStatus string

const (
	ValidationApproved     ValidationStatus = "APPROVED"
	ValidationWithWarnings ValidationStatus = "APPROVED_WITH_WARNINGS"
	ValidationRejected     ValidationStatus = "REJECTED"
)

// RiskCheckResult is one named check with its observed value and the bound it
// was tested against. Value and Limit are 0 when the check has no numeric
// dimension.
type RiskCheckResult struct {
	Name    string      `json:"name"`
	Status  CheckStatus `json:"status"`
	Message string      `json:"message"`
	Value   float64     `json:"value,omitempty"`
	Limit   float64     `json:"limit,omitempty"`
}

// RiskValidation is the full, ordered result of validating one signal.
// Checks always contains every check that ran, in evaluation order, so a
// rejected signal still shows which later checks would have passed.
type RiskValidation struct {
	Signal      TradingSignal     `json:"signal"`
	Status      ValidationStatus  `json:"status"`
	Checks      []RiskCheckResult `json:"checks"`
	ValidatedAt time.Time         `json:"validated_at"`
}

// Approved reports whether the signal may proceed to execution.
func (v *RiskValidation) Approved() bool {
	return v.Status == ValidationApproved || v.Status == ValidationWithWarnings
}

// Failures returns the checks that rejected the signal.
func (v *RiskValidation) Failures() []RiskCheckResult {
	return v.filter(CheckFailed)
}

// Warnings returns the non-blocking concerns raised during validation.
func (v *RiskValidation) Warnings() []RiskCheckResult {
	return v.filter(CheckWarning)
}

func (v *RiskValidation) filter(status CheckStatus) []RiskCheckResult {
	var out []RiskCheckResult
	for _, c := range v.Checks {
		if c.Status == status {
			out = append(out, c)
		}
	}
	return out
}
