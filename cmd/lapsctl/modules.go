package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	laps "github.com/laps-group/laps-go"
	"github.com/laps-group/laps-go/broker"
)

func newModulesCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List registered modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := flags.dial()
			if err != nil {
				return err
			}
			defer b.Close()

			return printModules(cmd.Context(), cmd.OutOrStdout(), b, flags.testMode)
		},
	}
}

func printModules(ctx context.Context, w io.Writer, b broker.Client, testMode bool) error {
	tokens, err := b.SMembers(ctx, laps.RegisteredModulesKey(testMode))
	if err != nil {
		return err
	}
	sort.Strings(tokens)

	for _, token := range tokens {
		var ident laps.Identity
		if err := json.Unmarshal([]byte(token), &ident); err != nil {
			// Tokens other producers wrote in a different shape.
			fmt.Fprintln(w, token)
			continue
		}
		fmt.Fprintf(w, "%s %s\n", ident.Name, ident.Version)
	}
	return nil
}
