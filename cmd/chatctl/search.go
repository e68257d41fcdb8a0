package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kirillkom/sales-knowledge-assistant/internal/bootstrap"
	"github.com/kirillkom/sales-knowledge-assistant/internal/config"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
)

func searchCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "search <question>",
		Short: "Run authorized retrieval without generating an answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			app, err := bootstrap.New(ctx, config.Load(), "chatctl")
			if err != nil {
				return err
			}
			defer app.Close()

			graph, chunks, err := app.Search.Search(ctx, userID, strings.Join(args, " "))
			if err != nil {
				return err
			}
			printSearch(cmd.OutOrStdout(), graph, chunks)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "CRM user id")
	return cmd
}

func printSearch(out io.Writer, graph domain.GraphResult, chunks domain.ChunkResult) {
	if graph.IsEmpty() && len(chunks.Chunks) == 0 {
		fmt.Fprintln(out, "No matches found.")
		return
	}
	for _, rel := range graph.Relationships {
		fmt.Fprintf(out, "rel  %s weight=%.1f\n", rel.RAGDescription(), rel.Weight)
	}
	for _, c := range chunks.Chunks {
		text := strings.Join(strings.Fields(c.Text), " ")
		if len(text) > 120 {
			text = text[:120] + "..."
		}
		fmt.Fprintf(out, "doc  %d [kb %d] score=%.3f %s\n", c.DocumentID, c.KnowledgeBaseID, c.Score, text)
	}
}
