// Package config provides configuration loading and path management for
// the runtime agent: CLI flags, environment variables, project/global
// config files, and the optional YAML agent manifest.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths contains the standard paths for agent data.
type Paths struct {
	Data   string // ~/.local/share/agentctl
	Config string // ~/.config/agentctl
	Cache  string // ~/.cache/agentctl
}

// GetPaths returns the standard paths for agent data.
func GetPaths() *Paths {
	return &Paths{
		Data:   filepath.Join(getEnvOrDefault("XDG_DATA_HOME", defaultDataHome()), "agentctl"),
		Config: filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), "agentctl"),
		Cache:  filepath.Join(getEnvOrDefault("XDG_CACHE_HOME", defaultCacheHome()), "agentctl"),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.Cache} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// PackageCachePath returns the on-disk package cache directory for the code
// worker — the only agent-local persisted state spec.md §6 allows.
func (p *Paths) PackageCachePath() string {
	return filepath.Join(p.Cache, "packages")
}

// StorePath returns the on-disk directory the reference FSStore
// materializes notebookID's projected tables into. A real deployment
// would point the store at the notebook's sync server instead
// (internal/config.Config.SyncURL); this reference agent has no sync
// transport, so it keeps one notebook's state under the agent's data
// directory, keyed by notebook id.
func (p *Paths) StorePath(notebookID string) string {
	return filepath.Join(p.Data, "notebooks", notebookID)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultDataHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share")
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

func defaultCacheHome() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "cache")
	}
	return filepath.Join(os.Getenv("HOME"), ".cache")
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(GetPaths().Config, "agentctl.json")
}

// ProjectConfigPath returns the path to the project-local config file.
func ProjectConfigPath(directory string) string {
	return filepath.Join(directory, ".agentctl", "agentctl.json")
}
