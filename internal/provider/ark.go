package provider

import (
	"context"
	"fmt"
	"os"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/cellrt/runtime-agent/pkg/types"
)

// ArkProvider drives Volcengine ARK endpoint models through Eino's ark
// chat model.
type ArkProvider struct {
	chatModel model.ToolCallingChatModel
	models    []types.Model
}

// ArkConfig configures an ArkProvider.
type ArkConfig struct {
	APIKey    string
	BaseURL   string
	Model     string // ARK endpoint ID
	MaxTokens int
}

// NewArkProvider creates a new ARK provider.
func NewArkProvider(ctx context.Context, cfg *ArkConfig) (*ArkProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ARK_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ARK_API_KEY not set")
	}

	endpointID := cfg.Model
	if endpointID == "" {
		endpointID = os.Getenv("ARK_MODEL_ID")
	}
	if endpointID == "" {
		return nil, fmt.Errorf("ARK_MODEL_ID not set")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("ARK_BASE_URL")
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	chatCfg := &ark.ChatModelConfig{
		APIKey:    apiKey,
		Model:     endpointID,
		MaxTokens: &maxTokens,
	}
	if baseURL != "" {
		chatCfg.BaseURL = baseURL
	}

	chatModel, err := ark.NewChatModel(ctx, chatCfg)
	if err != nil {
		return nil, fmt.Errorf("create ark chat model: %w", err)
	}

	return &ArkProvider{
		chatModel: chatModel,
		models:    arkModels(endpointID),
	}, nil
}

func (p *ArkProvider) ID() string   { return "ark" }
func (p *ArkProvider) Name() string { return "ARK" }

func (p *ArkProvider) Models() []types.Model { return p.models }

func (p *ArkProvider) ChatModel() model.ToolCallingChatModel { return p.chatModel }

func (p *ArkProvider) CreateCompletion(ctx context.Context, req *CompletionRequest) (*CompletionStream, error) {
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

func arkModels(endpointID string) []types.Model {
	return []types.Model{
		{
			ID:              endpointID,
			Name:            "ARK Model",
			ProviderID:      "ark",
			ContextLength:   128000,
			MaxOutputTokens: 4096,
			SupportsTools:   true,
		},
	}
}
