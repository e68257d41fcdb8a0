package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kirillkom/sales-knowledge-assistant/internal/core/filter"
)

func filterCmd() *cobra.Command {
	var metaJSON string
	var column string
	var showSQL bool
	cmd := &cobra.Command{
		Use:   "filter <dsl-json>",
		Short: "Evaluate a metadata filter against a record or render it as SQL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFilter(cmd.OutOrStdout(), args[0], metaJSON, column, showSQL)
		},
	}
	cmd.Flags().StringVar(&metaJSON, "meta", "{}", "Record metadata as a JSON object")
	cmd.Flags().StringVar(&column, "column", "meta", "JSONB column used when rendering SQL")
	cmd.Flags().BoolVar(&showSQL, "sql", false, "Print the SQL predicate instead of evaluating")
	return cmd
}

func runFilter(out io.Writer, dsl, metaJSON, column string, showSQL bool) error {
	expr, err := filter.ParseJSON([]byte(dsl))
	if err != nil {
		return fmt.Errorf("parse filter: %w", err)
	}

	if showSQL {
		where, args := filter.SQL(expr, column, 1)
		fmt.Fprintln(out, where)
		for i, arg := range args {
			fmt.Fprintf(out, "$%d = %v\n", i+1, arg)
		}
		return nil
	}

	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return fmt.Errorf("parse metadata: %w", err)
	}
	fmt.Fprintf(out, "%s => %t\n", expr, filter.Evaluate(expr, meta))
	return nil
}
