package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/missionlog/internal/api"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the journey to agents over MCP (stdio)",
	Args:  cobra.NoArgs,
	RunE: withApp(func(ctx context.Context, cmd *cobra.Command, args []string, a *app) error {
		if err := a.requireLogin(); err != nil {
			printWarning("%v; tools will fail until you log in", err)
		}

		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Progress: a.progress,
			Tracker:  a.tracker,
			NewDraft: a.newDraft,
			Activity: a.store,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		slog.Info("MCP server started (stdio transport)")
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}),
}
