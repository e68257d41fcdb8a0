package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/kirillkom/sales-knowledge-assistant/internal/adapters/mcp"
	"github.com/kirillkom/sales-knowledge-assistant/internal/bootstrap"
	"github.com/kirillkom/sales-knowledge-assistant/internal/config"
	"github.com/kirillkom/sales-knowledge-assistant/internal/observability/logging"
)

const (
	serviceName = "mcp"
	version     = "0.1.0"
)

func main() {
	cfg := config.Load()
	// stdout carries the protocol.
	slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, serviceName)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err.Error())
		os.Exit(1)
	}
	defer app.Close()

	server := mcpadapter.NewServer(app.Search, app.Authorities, app.Prompts, version)
	if err := server.ServeStdio(ctx); err != nil && ctx.Err() == nil {
		slog.Error("mcp_server_failed", "error", err.Error())
		os.Exit(1)
	}
}
