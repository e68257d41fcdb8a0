package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kirillkom/sales-knowledge-assistant/internal/config"
	"github.com/kirillkom/sales-knowledge-assistant/internal/observability/logging"
)

func main() {
	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Operate the sales knowledge chat engine from the terminal",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Answers go to stdout.
			slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, "chatctl", config.Load().LogLevel))
		},
	}
	root.Version = version
	root.SetVersionTemplate("{{.Version}}\n")
	root.AddCommand(chatCmd())
	root.AddCommand(searchCmd())
	root.AddCommand(authorityCmd())
	root.AddCommand(filterCmd())
	root.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
