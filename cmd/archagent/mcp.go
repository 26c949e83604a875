package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/archagent/internal/mcp"
)

// mcpCmd serves the MCP tools on stdio
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools on stdio",
	Long: `Serve the design_architecture and get_run tools over the MCP stdio transport.

Logs go to stderr because stdout carries the protocol.

Example client configuration:
  {"command": "archagent", "args": ["mcp"]}`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

// runMCP serves until the client disconnects or a signal arrives.
func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{LogWriter: os.Stderr})
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger.Underlying()

	svc, err := a.newService(ctx, a.orch)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := svc.Shutdown(shutdownCtx); err != nil {
			logger.Warn("service shutdown", zap.Error(err))
		}
	}()

	srv, err := mcp.NewServer(&mcp.Config{
		Name:    "archagent",
		Version: version,
		Logger:  logger.Named("mcp"),
	}, svc)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}
