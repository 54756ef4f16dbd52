package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino/components/model"

	"github.com/cellrt/runtime-agent/pkg/types"
)

// AnthropicProvider drives Claude models through Eino's claude chat model.
type AnthropicProvider struct {
	chatModel model.ToolCallingChatModel
	models    []types.Model
	id        string
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	ID        string // registry key; defaults to "anthropic"
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(ctx context.Context, cfg *AnthropicConfig) (*AnthropicProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
	}

	modelID := cfg.Model
	if modelID == "" {
		modelID = "claude-sonnet-4-20250514"
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	clauseCfg := &claude.Config{
		APIKey:    apiKey,
		Model:     modelID,
		MaxTokens: maxTokens,
	}
	if cfg.BaseURL != "" {
		clauseCfg.BaseURL = &cfg.BaseURL
	}

	chatModel, err := claude.NewChatModel(ctx, clauseCfg)
	if err != nil {
		return nil, fmt.Errorf("create claude chat model: %w", err)
	}

	id := cfg.ID
	if id == "" {
		id = "anthropic"
	}

	return &AnthropicProvider{
		chatModel: chatModel,
		models:    anthropicModels(id),
		id:        id,
	}, nil
}

func (p *AnthropicProvider) ID() string   { return p.id }
func (p *AnthropicProvider) Name() string { return "Anthropic" }

func (p *AnthropicProvider) Models() []types.Model { return p.models }

func (p *AnthropicProvider) ChatModel() model.ToolCallingChatModel { return p.chatModel }

func (p *AnthropicProvider) CreateCompletion(ctx context.Context, req *CompletionRequest) (*CompletionStream, error) {
	chatModel, err := bindTools(p.chatModel, req.Tools)
	if err != nil {
		return nil, err
	}

	stream, err := chatModel.Stream(ctx, req.Messages,
		model.WithMaxTokens(req.MaxTokens),
		model.WithTemperature(float32(req.Temperature)),
	)
	if err != nil {
		return nil, fmt.Errorf("stream completion: %w", err)
	}
	return NewCompletionStream(stream), nil
}

func anthropicModels(providerID string) []types.Model {
	return []types.Model{
		{
			ID:              "claude-sonnet-4-20250514",
			Name:            "Claude Sonnet 4",
			ProviderID:      providerID,
			ContextLength:   200000,
			MaxOutputTokens: 64000,
			SupportsTools:   true,
			InputPrice:      3.0,
			OutputPrice:     15.0,
		},
		{
			ID:              "claude-opus-4-20250514",
			Name:            "Claude Opus 4",
			ProviderID:      providerID,
			ContextLength:   200000,
			MaxOutputTokens: 32000,
			SupportsTools:   true,
			InputPrice:      15.0,
			OutputPrice:     75.0,
		},
		{
			ID:              "claude-3-5-haiku-20241022",
			Name:            "Claude 3.5 Haiku",
			ProviderID:      providerID,
			ContextLength:   200000,
			MaxOutputTokens: 8192,
			SupportsTools:   true,
			InputPrice:      0.8,
			OutputPrice:     4.0,
		},
	}
}
