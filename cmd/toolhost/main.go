// Package main is the entry point for the toolhost CLI.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/flemzord/toolhost/internal/config"
	"github.com/flemzord/toolhost/internal/core"
	"github.com/flemzord/toolhost/modules/mcp/stdio"
	"github.com/flemzord/toolhost/pkg/app"
	"github.com/spf13/cobra"

	_ "github.com/flemzord/toolhost/internal/gateway"
	_ "github.com/flemzord/toolhost/internal/remote"
	_ "github.com/flemzord/toolhost/modules/storage/sqlite"
	_ "github.com/flemzord/toolhost/modules/telemetry/posthog"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	stdio.Version = version
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "toolhost",
		Short:         "Host, confirm and run tools for AI agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(versionCmd(), serveCmd(), configCmd(), toolsCmd(), serviceCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "toolhost %s (commit: %s, built: %s)\n", version, commit, date)
			mods := core.GetModules()
			if len(mods) == 0 {
				fmt.Fprintln(out, "\nNo compiled modules.")
				return
			}
			fmt.Fprintln(out, "\nCompiled modules:")
			for _, mod := range mods {
				fmt.Fprintf(out, "  %s\n", mod.ID)
			}
		},
	}
}

func serveCmd() *cobra.Command {
	var (
		cfgPath     string
		logLevel    string
		interactive bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start toolhost with all configured modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			level, err := parseLevel(logLevel)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context(), app.RunParams{
				ConfigPath:  cfgPath,
				Version:     version,
				Commit:      commit,
				Date:        date,
				LogLevel:    level,
				Interactive: interactive,
			})
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&interactive, "interactive", false, "Ask confirmations of calls outside a chat session on the terminal")
	return cmd
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			ids := cfg.ModuleIDs()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration OK (%d modules)\n", len(ids))
			for _, id := range ids {
				fmt.Fprintf(out, "  %s\n", id)
			}
			return nil
		},
	})
	return cmd
}
