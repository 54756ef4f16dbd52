package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/cellrt/runtime-agent/internal/config"
	"github.com/cellrt/runtime-agent/internal/lifecycle"
	"github.com/cellrt/runtime-agent/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Attach to a notebook and process work until interrupted",
	Long: `run starts the runtime agent against the configured notebook: it
displaces any existing active session, installs the coordination engine's
subscriptions, and processes queued cell executions until SIGINT/SIGTERM
or the parent context is cancelled.`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	dir, err := workDir()
	if err != nil {
		return err
	}

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	cfg, err := loadConfig(dir)
	if err != nil {
		return err
	}

	agent, err := lifecycle.Start(context.Background(), cfg)
	if err != nil {
		return err
	}

	logging.Info().
		Str("notebookId", agent.NotebookID()).
		Str("sessionId", agent.SessionID()).
		Msg("agentctl: run")

	// lifecycle.Start already installed SIGINT/SIGTERM handlers that call
	// Shutdown; block here until that (or an explicit Shutdown elsewhere)
	// completes.
	<-agent.Done()
	return nil
}
