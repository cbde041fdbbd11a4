package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	laps "github.com/laps-group/laps-go"
)

func newEnqueueCmd(flags *rootFlags) *cobra.Command {
	var payload string
	var jobID string

	cmd := &cobra.Command{
		Use:   "enqueue NAME VERSION",
		Short: "Submit a job to a module's work queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			envelope, id, err := buildEnvelope(jobID, payload)
			if err != nil {
				return err
			}

			b, err := flags.dial()
			if err != nil {
				return err
			}
			defer b.Close()

			key := laps.WorkKey(args[0], args[1], flags.testMode)
			// LPUSH against the worker's BRPOP keeps submissions FIFO.
			if err := b.LPush(cmd.Context(), key, envelope); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Enqueued job %s on %s\n", id, key)
			return nil
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "{}", "Job payload as a JSON object")
	cmd.Flags().StringVar(&jobID, "job-id", "", "Job id (a random UUID if not set)")

	return cmd
}

// buildEnvelope merges the job id into the payload object. The id is,
// in order of precedence, the --job-id flag, a job_id field already
// present in the payload, or a fresh UUID.
func buildEnvelope(jobID, payload string) ([]byte, string, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return nil, "", fmt.Errorf("payload must be a JSON object: %w", err)
	}
	if fields == nil {
		fields = make(map[string]any)
	}

	id := jobID
	if id == "" {
		if existing, ok := fields["job_id"].(string); ok && existing != "" {
			id = existing
		} else {
			id = uuid.NewString()
		}
	}
	fields["job_id"] = id

	data, err := json.Marshal(fields)
	if err != nil {
		return nil, "", err
	}
	return data, id, nil
}
