package result

import (
	"errors"
	"fmt"
)

// Outcome tells the backend whether a job produced a path.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// IsValid reports whether the outcome is one the backend understands.
func (o Outcome) IsValid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure
}

// Result is a job outcome as pushed onto the backend result queue.
// Field order matches the wire layout the backend decodes.
type Result struct {
	JobID   string  `json:"job_id"`
	Outcome Outcome `json:"outcome"`
	Points  any     `json:"points,omitempty"`
}

// Success builds a successful result carrying the handler's payload.
func Success(jobID string, data any) Result {
	return Result{JobID: jobID, Outcome: OutcomeSuccess, Points: data}
}

// Failure builds a failed result. Failure results carry no payload;
// the diagnostics channel holds the failure message.
func Failure(jobID string) Result {
	return Result{JobID: jobID, Outcome: OutcomeFailure}
}

// Validate checks that the result is well formed before it is reported.
func (r Result) Validate() error {
	if r.JobID == "" {
		return errors.New("result is missing a job id")
	}
	if !r.Outcome.IsValid() {
		return fmt.Errorf("unknown outcome %q", r.Outcome)
	}
	if r.Outcome == OutcomeFailure && r.Points != nil {
		return errors.New("failure results must not carry points")
	}
	return nil
}
