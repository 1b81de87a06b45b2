package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/flemzord/reddichat/internal/mcpserver"
	"github.com/flemzord/reddichat/pkg/app"
)

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the search tools to MCP clients over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, _, err := app.LoadConfig(cfgPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// stdout carries the protocol; logs stay on stderr.
			rt, err := app.Build(ctx, cfg, app.BuildOptions{Version: version, LogWriter: os.Stderr})
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close(context.Background()) }()

			conf := mcpserver.Config{
				Version:  version,
				Registry: rt.Tools,
				Logger:   rt.Logger,
			}
			if rt.Reddit != nil {
				conf.Profiles = rt.Reddit
			}
			srv, err := mcpserver.New(conf)
			if err != nil {
				return err
			}
			return srv.ServeStdio(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}
