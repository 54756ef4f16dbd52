package commands

import (
	"context"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/cellrt/runtime-agent/internal/config"
	"github.com/cellrt/runtime-agent/internal/lifecycle"
	"github.com/cellrt/runtime-agent/internal/logging"
	"github.com/cellrt/runtime-agent/internal/opserver"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Attach to a notebook and expose a read-only operator HTTP surface",
	Long: `serve does everything 'run' does, plus starts a read-only HTTP
surface (GET /healthz, GET /sessions, GET /events) for operator tooling —
it is not a notebook UI and mutates nothing.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "op-addr", "", "Operator HTTP surface listen address (default :8090; env AGENT_OPSERVER_ADDR)")
}

func runServe(cmd *cobra.Command, args []string) error {
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

	opCfg := opserver.DefaultConfig()
	if serveAddr != "" {
		opCfg.Addr = serveAddr
	} else if cfg.OpServerAddr != "" {
		opCfg.Addr = cfg.OpServerAddr
	}

	srv := opserver.New(opCfg, agent.Store(), agent.NotebookID(), agent.SessionID())

	go func() {
		logging.Info().Str("addr", opCfg.Addr).Msg("agentctl: operator HTTP surface listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Error().Err(err).Msg("agentctl: operator HTTP surface error")
		}
	}()

	<-agent.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("agentctl: operator HTTP surface shutdown error")
	}

	return nil
}
