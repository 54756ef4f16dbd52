package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
)

// ProviderConfig holds credentials for one model provider.
type ProviderConfig struct {
	APIKey  string `json:"apiKey,omitempty"`
	BaseURL string `json:"baseURL,omitempty"`
	Model   string `json:"model,omitempty"`
	Disable bool   `json:"disable,omitempty"`
}

// Config is the agent's full runtime configuration, assembled from (in
// ascending priority) the global config file, the project-local config
// file, the agent manifest, and environment variables / CLI flags.
type Config struct {
	NotebookID        string                    `json:"notebookId,omitempty"`
	AuthToken         string                    `json:"authToken,omitempty"`
	SyncURL           string                    `json:"syncUrl,omitempty"`
	RuntimeID         string                    `json:"runtimeId,omitempty"`
	RuntimeType       string                    `json:"runtimeType,omitempty"`
	HeartbeatInterval time.Duration             `json:"heartbeatInterval,omitempty"`
	Model             string                    `json:"model,omitempty"`
	MaxIterations     int                       `json:"maxIterations,omitempty"`
	WorkerCommand     []string                  `json:"workerCommand,omitempty"`
	PackageAllowlist  []string                  `json:"packageAllowlist,omitempty"`
	Provider          map[string]ProviderConfig `json:"provider,omitempty"`
	OpServerAddr      string                    `json:"opServerAddr,omitempty"`
	// EnabledTools restricts which notebook tools an AI cell may call. An
	// empty slice means all three are enabled; a non-empty slice denies
	// any tool not named in it (internal/permission.ToolPermissions is
	// built from this at the composition root).
	EnabledTools []string `json:"tools,omitempty"`
}

// defaults returns the configuration's built-in defaults, applied before
// any file or environment override.
func defaults() *Config {
	return &Config{
		RuntimeType:       "python",
		HeartbeatInterval: 30 * time.Second,
		MaxIterations:     10,
		WorkerCommand:     []string{"python3", "-u", "-m", "agentctl.worker"},
		PackageAllowlist:  []string{"*"},
		Provider:          make(map[string]ProviderConfig),
	}
}

// Load loads configuration from (priority order):
//  1. the global config file (~/.config/agentctl/agentctl.json[c])
//  2. the project-local config file (<directory>/.agentctl/agentctl.json[c])
//  3. a project-local .env file
//  4. environment variables
func Load(directory string) (*Config, error) {
	cfg := defaults()

	godotenv.Load(filepath.Join(directory, ".env"))

	globalPath := GetPaths().Config
	loadConfigFile(filepath.Join(globalPath, "agentctl.json"), cfg)
	loadConfigFile(filepath.Join(globalPath, "agentctl.jsonc"), cfg)

	if directory != "" {
		loadConfigFile(filepath.Join(directory, ".agentctl", "agentctl.json"), cfg)
		loadConfigFile(filepath.Join(directory, ".agentctl", "agentctl.jsonc"), cfg)
	}

	if manifest, err := loadAgentManifest(directory); err == nil && manifest != nil {
		applyManifest(cfg, manifest)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadConfigFile reads one JSON/JSONC config file and merges it into cfg.
// A missing or unparsable file is silently skipped — config files are
// optional at every layer.
func loadConfigFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	stripped := stripJSONComments(data)

	var fileConfig Config
	if err := json.Unmarshal(stripped, &fileConfig); err != nil {
		// Fall back to the jsonc library's own comment-aware decoder in
		// case the regexp-based stripper mishandled a comment inside a
		// string literal.
		if err2 := json.Unmarshal(jsonc.ToJSON(data), &fileConfig); err2 != nil {
			return err
		}
	}

	mergeConfig(cfg, &fileConfig)
	return nil
}

// stripJSONComments removes // and /* */ comments from JSONC. Kept as a
// standalone text transform (no domain logic) rather than folded into the
// unmarshal path, matching how the teacher's loader separates comment
// stripping from decoding.
func stripJSONComments(data []byte) []byte {
	singleLine := regexp.MustCompile(`//.*$`)
	lines := bytes.Split(data, []byte("\n"))
	for i, line := range lines {
		lines[i] = singleLine.ReplaceAll(line, nil)
	}
	data = bytes.Join(lines, []byte("\n"))

	multiLine := regexp.MustCompile(`/\*[\s\S]*?\*/`)
	return multiLine.ReplaceAll(data, nil)
}

func mergeConfig(target, source *Config) {
	if source.NotebookID != "" {
		target.NotebookID = source.NotebookID
	}
	if source.AuthToken != "" {
		target.AuthToken = source.AuthToken
	}
	if source.SyncURL != "" {
		target.SyncURL = source.SyncURL
	}
	if source.RuntimeID != "" {
		target.RuntimeID = source.RuntimeID
	}
	if source.RuntimeType != "" {
		target.RuntimeType = source.RuntimeType
	}
	if source.HeartbeatInterval != 0 {
		target.HeartbeatInterval = source.HeartbeatInterval
	}
	if source.Model != "" {
		target.Model = source.Model
	}
	if source.MaxIterations != 0 {
		target.MaxIterations = source.MaxIterations
	}
	if len(source.WorkerCommand) > 0 {
		target.WorkerCommand = source.WorkerCommand
	}
	if len(source.PackageAllowlist) > 0 {
		target.PackageAllowlist = source.PackageAllowlist
	}
	if source.OpServerAddr != "" {
		target.OpServerAddr = source.OpServerAddr
	}
	if source.Provider != nil {
		if target.Provider == nil {
			target.Provider = make(map[string]ProviderConfig)
		}
		for k, v := range source.Provider {
			target.Provider[k] = v
		}
	}
}

// applyEnvOverrides applies environment variable overrides, matching each
// CLI flag per spec.md §6.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AGENT_NOTEBOOK"); v != "" {
		cfg.NotebookID = v
	}
	if v := os.Getenv("AGENT_AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv("AGENT_SYNC_URL"); v != "" {
		cfg.SyncURL = v
	}
	if v := os.Getenv("AGENT_RUNTIME_ID"); v != "" {
		cfg.RuntimeID = v
	}
	if v := os.Getenv("AGENT_RUNTIME_TYPE"); v != "" {
		cfg.RuntimeType = v
	}
	if v := os.Getenv("AGENT_HEARTBEAT_INTERVAL_MS"); v != "" {
		if ms, err := time.ParseDuration(v + "ms"); err == nil {
			cfg.HeartbeatInterval = ms
		}
	}
	if v := os.Getenv("AGENT_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("AGENT_OPSERVER_ADDR"); v != "" {
		cfg.OpServerAddr = v
	}

	providerEnvMap := map[string]string{
		"anthropic": "ANTHROPIC_API_KEY",
		"openai":    "OPENAI_API_KEY",
		"ark":       "ARK_API_KEY",
	}
	for provider, envVar := range providerEnvMap {
		if apiKey := os.Getenv(envVar); apiKey != "" {
			if cfg.Provider == nil {
				cfg.Provider = make(map[string]ProviderConfig)
			}
			p := cfg.Provider[provider]
			if p.APIKey == "" {
				p.APIKey = apiKey
				cfg.Provider[provider] = p
			}
		}
	}
}
