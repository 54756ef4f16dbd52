// Package provider exposes the AI cell driver's language-model abstraction
// over Eino chat models, in the shape the coordination engine's AI cell
// handler needs rather than a full chat-session client.
package provider

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/cellrt/runtime-agent/pkg/types"
)

// Provider is one configured LLM backend, wrapping an Eino tool-calling
// chat model plus the catalog of models it exposes.
type Provider interface {
	// ID returns the provider identifier used in "provider/model" strings.
	ID() string

	// Name returns the human-readable provider name.
	Name() string

	// Models returns the list of models this provider can serve.
	Models() []types.Model

	// ChatModel returns the Eino chat model driving completions.
	ChatModel() model.ToolCallingChatModel

	// CreateCompletion starts a streaming completion, binding req.Tools
	// onto the chat model first when present.
	CreateCompletion(ctx context.Context, req *CompletionRequest) (*CompletionStream, error)
}

// CompletionRequest is one turn of the AI cell driver's tool-use loop.
type CompletionRequest struct {
	Model       string             `json:"model"`
	Messages    []*schema.Message  `json:"messages"`
	Tools       []*schema.ToolInfo `json:"tools,omitempty"`
	MaxTokens   int                `json:"maxTokens,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
}

// CompletionStream wraps an Eino stream reader so callers never import
// eino/schema directly just to drain a response.
type CompletionStream struct {
	reader *schema.StreamReader[*schema.Message]
}

// NewCompletionStream wraps an Eino stream reader.
func NewCompletionStream(reader *schema.StreamReader[*schema.Message]) *CompletionStream {
	return &CompletionStream{reader: reader}
}

// Recv receives the next message chunk from the stream.
func (s *CompletionStream) Recv() (*schema.Message, error) {
	return s.reader.Recv()
}

// Close closes the stream.
func (s *CompletionStream) Close() {
	s.reader.Close()
}

// bindTools returns chatModel bound with tools, or chatModel unchanged when
// tools is empty.
func bindTools(chatModel model.ToolCallingChatModel, tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	if len(tools) == 0 {
		return chatModel, nil
	}
	bound, err := chatModel.WithTools(tools)
	if err != nil {
		return nil, fmt.Errorf("bind tools: %w", err)
	}
	return bound, nil
}
