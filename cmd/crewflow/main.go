// Command crewflow serves and runs the director and research workflows.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/crewflow/pkg/flowgraph/config"
	"github.com/randalmurphal/crewflow/pkg/flowgraph/observability"
)

// Set at build time with -ldflags "-X main.version=...".
var (
	version   = "dev"
	buildTime = "unknown"
)

const appName = "crewflow"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func rootCmd() *cobra.Command {
	var g globalFlags

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Persona-driven agent workflows with review and approval",
		Long: `crewflow drafts artifacts with a persona, has a reviewer score and
critique them, and revises until the work passes or the revision cap is
reached. Runs can park for human approval before any output is delivered.

Configuration is read from --config (YAML or JSON) and CREWFLOW_
environment variables, e.g. CREWFLOW_LLM__API_KEY.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "config file (YAML or JSON)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "log format override (text, json)")

	cmd.AddCommand(
		serveCmd(&g),
		runCmd(&g),
		researchCmd(&g),
		graphCmd(),
		versionCmd(),
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, version, buildTime)
		},
	}
}

// load reads settings and builds the process logger.
func (g *globalFlags) load(stderr io.Writer) (config.Settings, *slog.Logger, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return config.Settings{}, nil, fmt.Errorf("load config: %w", err)
	}
	s := config.SettingsFrom(cfg)
	if g.logLevel != "" {
		s.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		s.Log.Format = g.logFormat
	}
	if err := s.Validate(); err != nil {
		return config.Settings{}, nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := observability.NewLogger(stderr, s.Log.Level, s.Log.Format)
	slog.SetDefault(logger)
	return s, logger, nil
}
