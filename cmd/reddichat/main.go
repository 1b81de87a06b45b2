// Package main is the entry point for the reddichat CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flemzord/reddichat/internal/config"
	"github.com/flemzord/reddichat/internal/core"
	"github.com/flemzord/reddichat/pkg/app"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "reddichat",
		Short:         "A streaming chat assistant that researches Reddit and the web",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	root.AddCommand(
		versionCmd(),
		startCmd(),
		configCmd(),
		initCmd(),
		tokenCmd(),
		askCmd(),
		mcpCmd(),
		serviceCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "reddichat %s (commit: %s, built: %s)\n", version, commit, date)
			fmt.Fprintln(out, "\nCompiled modules:")
			for _, mod := range core.GetModules() {
				fmt.Fprintf(out, "  %s\n", mod.ID)
			}
		},
	}
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the chat server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			dataDir, _ := cmd.Flags().GetString("data-dir")
			verbose, _ := cmd.Flags().GetBool("verbose")
			return app.Run(app.RunParams{
				ConfigPath: cfgPath,
				Version:    version,
				Commit:     commit,
				Date:       date,
				DataDir:    dataDir,
				Verbose:    verbose,
			})
		},
	}
	cmd.Flags().String("data-dir", "", "Persistent data directory")
	cmd.Flags().BoolP("verbose", "v", false, "Enable debug logging")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check [path]",
		Short: "Validate configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			if len(args) == 1 {
				path = args[0]
			}
			cfg, path, err := app.LoadConfig(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			ids := config.Resolve(cfg)
			fmt.Fprintln(out, successStyle.Render("Configuration OK")+dimStyle.Render(" ("+path+")"))
			fmt.Fprintf(out, "  model     %s\n", cfg.Provider.Model)
			fmt.Fprintf(out, "  reddit    %s\n", enabled(cfg.RedditEnabled()))
			fmt.Fprintf(out, "  websearch %s\n", enabled(!cfg.WebSearch.Disabled))
			fmt.Fprintf(out, "  modules   %d\n", len(ids))
			for _, id := range ids {
				fmt.Fprintf(out, "    %s\n", id)
			}
			return nil
		},
	})
	return cmd
}

func enabled(ok bool) string {
	if ok {
		return successStyle.Render("enabled")
	}
	return warningStyle.Render("disabled")
}
