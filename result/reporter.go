// Package result reports job outcomes to the backend result queue.
package result

import (
	"context"
	"encoding/json"
	"fmt"

	laps "github.com/laps-group/laps-go"
	"github.com/laps-group/laps-go/broker"
)

// Reporter pushes serialized results onto the backend result queue.
type Reporter struct {
	broker broker.Client
	key    string
}

// NewReporter creates a reporter bound to the production or test-mode
// result queue.
func NewReporter(b broker.Client, testMode bool) *Reporter {
	return &Reporter{broker: b, key: laps.ResultsKey(testMode)}
}

// Report validates, serializes, and pushes a result. There is no retry;
// a push failure bubbles up to the caller.
func (r *Reporter) Report(ctx context.Context, res Result) error {
	if err := res.Validate(); err != nil {
		return fmt.Errorf("refusing to report invalid result: %w", err)
	}

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	if err := r.broker.LPush(ctx, r.key, data); err != nil {
		return fmt.Errorf("failed to report result for job %s: %w", res.JobID, err)
	}

	return nil
}
