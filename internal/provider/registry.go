package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cellrt/runtime-agent/internal/config"
	"github.com/cellrt/runtime-agent/internal/logging"
	"github.com/cellrt/runtime-agent/pkg/types"
)

// Registry holds every provider the agent has credentials for, keyed by
// provider ID, and resolves the "provider/model" strings AI cells carry.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	cfg       *config.Config
}

// NewRegistry creates an empty registry bound to cfg for default-model
// resolution.
func NewRegistry(cfg *config.Config) *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		cfg:       cfg,
	}
}

// Register adds a provider, replacing any existing provider with the same
// ID.
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
}

// Get retrieves a provider by ID.
func (r *Registry) Get(providerID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[providerID]
	if !ok {
		return nil, fmt.Errorf("provider not found: %s", providerID)
	}
	return p, nil
}

// List returns every registered provider.
func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}

// GetModel resolves a model by provider and model ID.
func (r *Registry) GetModel(providerID, modelID string) (*types.Model, error) {
	p, err := r.Get(providerID)
	if err != nil {
		return nil, err
	}
	for _, m := range p.Models() {
		if m.ID == modelID {
			return &m, nil
		}
	}
	return nil, fmt.Errorf("model not found: %s/%s", providerID, modelID)
}

// AllModels returns every model across every registered provider, ordered
// by rough capability so callers presenting a picklist see stronger
// models first.
func (r *Registry) AllModels() []types.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var models []types.Model
	for _, p := range r.providers {
		models = append(models, p.Models()...)
	}
	sort.Slice(models, func(i, j int) bool {
		return modelPriority(models[i].ID) > modelPriority(models[j].ID)
	})
	return models
}

// DefaultModel resolves cfg.Model ("provider/model"), falling back to
// claude-sonnet-4 on the anthropic provider, then to the first registered
// model.
func (r *Registry) DefaultModel() (*types.Model, error) {
	if r.cfg != nil && r.cfg.Model != "" {
		providerID, modelID := ParseModelString(r.cfg.Model)
		return r.GetModel(providerID, modelID)
	}

	if m, err := r.GetModel("anthropic", "claude-sonnet-4-20250514"); err == nil {
		return m, nil
	}

	models := r.AllModels()
	if len(models) == 0 {
		return nil, fmt.Errorf("no models available")
	}
	return &models[0], nil
}

// ParseModelString splits a "provider/model" string into its parts. A
// string with no slash is treated as a bare model ID with no provider.
func ParseModelString(s string) (providerID, modelID string) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "", s
}

func modelPriority(modelID string) int {
	switch {
	case strings.Contains(modelID, "gpt-5"):
		return 100
	case strings.Contains(modelID, "claude-sonnet-4"):
		return 90
	case strings.Contains(modelID, "claude-opus"):
		return 85
	case strings.Contains(modelID, "gpt-4o"):
		return 80
	default:
		return 50
	}
}

// InitializeProviders constructs and registers a provider for every entry
// in cfg.Provider that isn't disabled, skipping (and logging) any whose
// credentials are missing rather than failing the whole agent.
func InitializeProviders(ctx context.Context, cfg *config.Config) (*Registry, error) {
	registry := NewRegistry(cfg)

	for name, pc := range cfg.Provider {
		if pc.Disable {
			continue
		}

		kind := inferKind(name)

		var p Provider
		var err error

		switch kind {
		case "anthropic":
			if pc.APIKey != "" {
				p, err = NewAnthropicProvider(ctx, &AnthropicConfig{
					ID:      name,
					APIKey:  pc.APIKey,
					BaseURL: pc.BaseURL,
					Model:   pc.Model,
				})
			}
		case "openai":
			if pc.APIKey != "" || pc.BaseURL != "" {
				p, err = NewOpenAIProvider(ctx, &OpenAIConfig{
					ID:      name,
					APIKey:  pc.APIKey,
					BaseURL: pc.BaseURL,
					Model:   pc.Model,
				})
			}
		case "ark":
			if pc.APIKey != "" {
				p, err = NewArkProvider(ctx, &ArkConfig{
					APIKey:  pc.APIKey,
					BaseURL: pc.BaseURL,
					Model:   pc.Model,
				})
			}
		default:
			logging.Debug().Str("provider", name).Msg("provider: unrecognized provider name, skipping")
			continue
		}

		if err != nil {
			logging.Debug().Str("provider", name).Err(err).Msg("provider: failed to initialize, skipping")
			continue
		}
		if p != nil {
			registry.Register(p)
		}
	}

	return registry, nil
}

// inferKind maps a configured provider name to the concrete implementation
// it should use. Named aliases ("claude") map onto the same backend as
// their canonical name.
func inferKind(name string) string {
	switch name {
	case "anthropic", "claude":
		return "anthropic"
	case "openai":
		return "openai"
	case "ark":
		return "ark"
	default:
		return ""
	}
}
