package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	laps "github.com/laps-group/laps-go"
	"github.com/laps-group/laps-go/broker"
	"github.com/laps-group/laps-go/diag"
)

func newLogsCmd(flags *rootFlags) *cobra.Command {
	var module string
	var tail int

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the shared module log stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := flags.dial()
			if err != nil {
				return err
			}
			defer b.Close()

			return printLogs(cmd.Context(), cmd.OutOrStdout(), b, flags.testMode, module, tail)
		},
	}

	cmd.Flags().StringVar(&module, "module", "", "Only records from this module, as name:version")
	cmd.Flags().IntVarP(&tail, "tail", "n", 0, "Only the newest N records")

	return cmd
}

func printLogs(ctx context.Context, w io.Writer, b broker.Client, testMode bool, module string, tail int) error {
	entries, err := b.LRange(ctx, laps.LogKey(testMode), 0, -1)
	if err != nil {
		return err
	}

	records := make([]diag.Record, 0, len(entries))
	for _, entry := range entries {
		var rec diag.Record
		if err := json.Unmarshal([]byte(entry), &rec); err != nil {
			// Skip entries other producers wrote in a different shape.
			continue
		}
		if module != "" && rec.Module.Name+":"+rec.Module.Version != module {
			continue
		}
		records = append(records, rec)
	}

	if tail > 0 && len(records) > tail {
		records = records[len(records)-tail:]
	}

	for _, rec := range records {
		fmt.Fprintf(w, "%s %s %s:%s[%d] %s\n",
			time.Unix(rec.Timestamp, 0).UTC().Format(time.RFC3339),
			rec.Level.Color().Sprintf("[%s]", strings.ToUpper(string(rec.Level))),
			rec.Module.Name, rec.Module.Version, rec.WorkerIndex,
			rec.Message)
	}
	return nil
}
