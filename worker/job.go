package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Job is one dequeued work envelope. Everything beyond the job id is
// opaque to the runtime; handlers decode the payload into their own
// types.
type Job struct {
	// ID is the backend-assigned job identifier.
	ID string

	raw []byte
}

// Raw returns the undecoded envelope bytes.
func (j *Job) Raw() []byte {
	return j.raw
}

// Decode unmarshals the envelope into v.
func (j *Job) Decode(v any) error {
	if err := json.Unmarshal(j.raw, v); err != nil {
		return fmt.Errorf("failed to decode job %s: %w", j.ID, err)
	}
	return nil
}

// Handler processes one job and returns the payload for a success
// result. Returning an error that wraps a JobFailure reports a failure
// result and the worker keeps serving; any other error reports a
// failure result and then stops the worker.
type Handler func(ctx context.Context, r *Runner, job *Job) (any, error)

// decodeJob extracts the job id from a raw envelope.
func decodeJob(raw []byte) (*Job, error) {
	var envelope struct {
		JobID string `json:"job_id"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode job envelope: %w", err)
	}
	if envelope.JobID == "" {
		return nil, errors.New("job envelope is missing job_id")
	}
	return &Job{ID: envelope.JobID, raw: raw}, nil
}
