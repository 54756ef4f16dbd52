package commands

import (
	"fmt"
	"time"

	"github.com/cellrt/runtime-agent/internal/config"
)

// loadConfig loads layered configuration for workDir and applies the
// notebook-attachment flags on top, at the highest priority, matching
// root.go's own "global flag overrides whatever Load produced" pattern.
// It returns a configuration error (exit code 1 per spec root §6) if
// NotebookID or AuthToken end up unset after flags/env/files are merged.
func loadConfig(dir string) (*config.Config, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("agentctl: loading config: %w", err)
	}

	if flagNotebook != "" {
		cfg.NotebookID = flagNotebook
	}
	if flagAuthToken != "" {
		cfg.AuthToken = flagAuthToken
	}
	if flagSyncURL != "" {
		cfg.SyncURL = flagSyncURL
	}
	if flagRuntimeID != "" {
		cfg.RuntimeID = flagRuntimeID
	}
	if flagRuntimeType != "" {
		cfg.RuntimeType = flagRuntimeType
	}
	if flagHeartbeatMillis > 0 {
		cfg.HeartbeatInterval = time.Duration(flagHeartbeatMillis) * time.Millisecond
	}

	if cfg.NotebookID == "" {
		return nil, fmt.Errorf("agentctl: --notebook (or AGENT_NOTEBOOK) is required")
	}
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("agentctl: --auth-token (or AGENT_AUTH_TOKEN) is required")
	}

	return cfg, nil
}
