package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/cellrt/runtime-agent/pkg/types"
)

// OpenAIProvider drives GPT models through Eino's openai chat model. It
// also serves OpenAI-compatible endpoints reached via a non-default
// BaseURL (local inference gateways, proxies).
type OpenAIProvider struct {
	chatModel model.ToolCallingChatModel
	models    []types.Model
	id        string
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	ID        string // registry key; defaults to "openai"
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(ctx context.Context, cfg *OpenAIConfig) (*OpenAIProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	modelID := cfg.Model
	if modelID == "" {
		modelID = os.Getenv("OPENAI_MODEL_ID")
	}
	if modelID == "" {
		modelID = "gpt-4o"
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	chatCfg := &openai.ChatModelConfig{
		APIKey:              apiKey,
		Model:               modelID,
		MaxCompletionTokens: &maxTokens,
	}
	if cfg.BaseURL != "" {
		chatCfg.BaseURL = cfg.BaseURL
	}

	chatModel, err := openai.NewChatModel(ctx, chatCfg)
	if err != nil {
		return nil, fmt.Errorf("create openai chat model: %w", err)
	}

	id := cfg.ID
	if id == "" {
		id = "openai"
	}

	return &OpenAIProvider{
		chatModel: chatModel,
		models:    openAIModels(id),
		id:        id,
	}, nil
}

func (p *OpenAIProvider) ID() string   { return p.id }
func (p *OpenAIProvider) Name() string { return "OpenAI" }

func (p *OpenAIProvider) Models() []types.Model { return p.models }

func (p *OpenAIProvider) ChatModel() model.ToolCallingChatModel { return p.chatModel }

func (p *OpenAIProvider) CreateCompletion(ctx context.Context, req *CompletionRequest) (*CompletionStream, error) {
	chatModel, err := bindTools(p.chatModel, req.Tools)
	if err != nil {
		return nil, err
	}

	opts := []model.Option{openai.WithMaxCompletionTokens(req.MaxTokens)}
	if req.Temperature > 0 {
		opts = append(opts, model.WithTemperature(float32(req.Temperature)))
	}

	stream, err := chatModel.Stream(ctx, req.Messages, opts...)
	if err != nil {
		return nil, fmt.Errorf("stream completion: %w", err)
	}
	return NewCompletionStream(stream), nil
}

func openAIModels(providerID string) []types.Model {
	return []types.Model{
		{
			ID:              "gpt-5",
			Name:            "GPT-5",
			ProviderID:      providerID,
			ContextLength:   272000,
			MaxOutputTokens: 128000,
			SupportsTools:   true,
			InputPrice:      1.25,
			OutputPrice:     10.0,
		},
		{
			ID:              "gpt-4o",
			Name:            "GPT-4o",
			ProviderID:      providerID,
			ContextLength:   128000,
			MaxOutputTokens: 16384,
			SupportsTools:   true,
			InputPrice:      2.5,
			OutputPrice:     10.0,
		},
		{
			ID:              "gpt-4o-mini",
			Name:            "GPT-4o Mini",
			ProviderID:      providerID,
			ContextLength:   128000,
			MaxOutputTokens: 16384,
			SupportsTools:   true,
			InputPrice:      0.15,
			OutputPrice:     0.6,
		},
	}
}
