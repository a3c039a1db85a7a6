// Package main is the entry point for the cronsync CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/flemzord/cronsync/internal/config"
	"github.com/flemzord/cronsync/internal/core"
	"github.com/flemzord/cronsync/pkg/app"
	"github.com/spf13/cobra"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every command that loads configuration.
type globalFlags struct {
	configPath string
	logLevel   string
	logJSON    bool
}

func (g *globalFlags) params() (app.RunParams, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.logLevel)); err != nil {
		return app.RunParams{}, fmt.Errorf("invalid --log-level %q: %w", g.logLevel, err)
	}
	return app.RunParams{
		ConfigPath: g.configPath,
		Version:    version,
		LogLevel:   level,
		LogJSON:    g.logJSON,
	}, nil
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "cronsync",
		Short:         "Declarative multi-tenant cron scheduling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to configuration file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&flags.logJSON, "log-json", false, "Emit logs as JSON")

	root.AddCommand(
		versionCmd(),
		startCmd(flags),
		configCmd(),
		tasksCmd(flags),
		serviceCmd(flags),
		mcpCmd(flags),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and compiled modules",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cronsync %s (commit: %s, built: %s)\n", version, commit, date)
			fmt.Fprintln(out, "\nCompiled modules:")
			for _, mod := range core.GetModules() {
				fmt.Fprintf(out, "  %s\n", mod.ID)
			}
		},
	}
}

func startCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the scheduler with all configured modules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			params, err := flags.params()
			if err != nil {
				return err
			}
			return app.Run(cmd.Context(), params)
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <path>",
		Short: "Validate a configuration file without starting anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			ids := config.Resolve(cfg)
			fmt.Fprintf(out, "Configuration OK (%d modules)\n", len(ids))
			for _, id := range ids {
				fmt.Fprintf(out, "  %s\n", id)
			}
			for _, role := range []string{"store", "runner", "watermark"} {
				if mods := config.ModulesWithPrefix(cfg, role); len(mods) == 0 {
					fmt.Fprintf(out, "note: no %s.* module configured (available: %s)\n", role, available(role))
				}
			}
			return nil
		},
	})
	return cmd
}

// available lists the compiled-in modules for a role.
func available(role string) string {
	var ids []string
	for _, mod := range core.GetModulesByNamespace(role) {
		ids = append(ids, string(mod.ID))
	}
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}

// withSession opens an operator session for the duration of fn.
func withSession(ctx context.Context, flags *globalFlags, fn func(context.Context, *app.Session) error) error {
	params, err := flags.params()
	if err != nil {
		return err
	}
	// Module provisioning logs are noise for one-shot commands.
	if flags.logLevel == "info" {
		params.LogLevel = slog.LevelWarn
	}
	s, err := app.OpenSession(params)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}
