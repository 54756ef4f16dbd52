package provider_test

import (
	"context"
	"os"
	"strings"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cloudwego/eino/schema"
	"github.com/joho/godotenv"

	"github.com/cellrt/runtime-agent/internal/provider"
)

func TestProviderSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Provider Suite")
}

var _ = BeforeSuite(func() {
	_ = godotenv.Load("../../.env")
})

// ArkProvider's own constructor already falls back to ARK_API_KEY/
// ARK_MODEL_ID/ARK_BASE_URL, so these specs only need to set them once and
// skip when a real ARK endpoint isn't configured for the run.
var _ = Describe("ArkProvider", func() {
	var (
		ctx         context.Context
		arkProvider *provider.ArkProvider
		apiKey      string
		modelID     string
		baseURL     string
	)

	BeforeEach(func() {
		apiKey = os.Getenv("ARK_API_KEY")
		modelID = os.Getenv("ARK_MODEL_ID")
		baseURL = os.Getenv("ARK_BASE_URL")

		if apiKey == "" || modelID == "" {
			Skip("ARK environment variables not set")
		}

		ctx = context.Background()
		var err error
		arkProvider, err = provider.NewArkProvider(ctx, &provider.ArkConfig{
			APIKey:    apiKey,
			BaseURL:   baseURL,
			Model:     modelID,
			MaxTokens: 1024,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Provider Properties", func() {
		It("should return correct ID", func() {
			Expect(arkProvider.ID()).To(Equal("ark"))
		})

		It("should return correct Name", func() {
			Expect(arkProvider.Name()).To(Equal("ARK"))
		})

		It("should return at least one model", func() {
			models := arkProvider.Models()
			Expect(len(models)).To(BeNumerically(">", 0))
		})

		It("should have correct provider ID in models", func() {
			models := arkProvider.Models()
			for _, m := range models {
				Expect(m.ProviderID).To(Equal("ark"))
			}
		})

		It("should return a chat model", func() {
			Expect(arkProvider.ChatModel()).NotTo(BeNil())
		})
	})

	Describe("CreateCompletion", func() {
		It("should return a response for a simple prompt", func() {
			req := &provider.CompletionRequest{
				Model: modelID,
				Messages: []*schema.Message{
					{Role: schema.User, Content: "Say 'Hello' and nothing else."},
				},
				MaxTokens:   50,
				Temperature: 0.0,
			}

			stream, err := arkProvider.CreateCompletion(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			defer stream.Close()

			var fullResponse string
			for {
				msg, err := stream.Recv()
				if err != nil {
					break
				}
				if msg != nil {
					fullResponse += msg.Content
				}
			}

			Expect(fullResponse).NotTo(BeEmpty())
			Expect(strings.ToLower(fullResponse)).To(ContainSubstring("hello"))
		})

		It("should handle multi-turn conversation history", func() {
			req := &provider.CompletionRequest{
				Model: modelID,
				Messages: []*schema.Message{
					{Role: schema.User, Content: "Remember the number 42."},
					{Role: schema.Assistant, Content: "I'll remember the number 42."},
					{Role: schema.User, Content: "What number did I ask you to remember?"},
				},
				MaxTokens:   50,
				Temperature: 0.0,
			}

			stream, err := arkProvider.CreateCompletion(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			defer stream.Close()

			var fullResponse string
			for {
				msg, err := stream.Recv()
				if err != nil {
					break
				}
				if msg != nil {
					fullResponse += msg.Content
				}
			}

			Expect(fullResponse).To(ContainSubstring("42"))
		})

		It("should surface context cancellation as an error", func() {
			cancelCtx, cancel := context.WithCancel(ctx)
			cancel()

			req := &provider.CompletionRequest{
				Model: modelID,
				Messages: []*schema.Message{
					{Role: schema.User, Content: "Hello"},
				},
				MaxTokens: 50,
			}

			_, err := arkProvider.CreateCompletion(cancelCtx, req)
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Tool Binding", func() {
		It("should bind tools without error", func() {
			tools := []*schema.ToolInfo{
				{
					Name: "calculator",
					Desc: "Performs arithmetic calculations",
					ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
						"expression": {
							Type: schema.String,
							Desc: "The mathematical expression to evaluate",
						},
					}),
				},
			}

			req := &provider.CompletionRequest{
				Model: modelID,
				Messages: []*schema.Message{
					{Role: schema.User, Content: "What is 2+2?"},
				},
				Tools:     tools,
				MaxTokens: 50,
			}

			stream, err := arkProvider.CreateCompletion(ctx, req)
			Expect(err).NotTo(HaveOccurred())
			if stream != nil {
				stream.Close()
			}
		})
	})
})

var _ = Describe("ArkProvider Initialization", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Context("with invalid configuration", func() {
		It("should fail with no API key when the env var isn't set either", func() {
			oldKey, hadKey := os.LookupEnv("ARK_API_KEY")
			oldModel, hadModel := os.LookupEnv("ARK_MODEL_ID")
			os.Unsetenv("ARK_API_KEY")
			os.Unsetenv("ARK_MODEL_ID")
			defer func() {
				if hadKey {
					os.Setenv("ARK_API_KEY", oldKey)
				}
				if hadModel {
					os.Setenv("ARK_MODEL_ID", oldModel)
				}
			}()

			_, err := provider.NewArkProvider(ctx, &provider.ArkConfig{
				Model:   "test-model",
				BaseURL: "https://example.com",
			})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("ARK_API_KEY"))
		})

		It("should fail with no model ID when the env var isn't set either", func() {
			oldKey, hadKey := os.LookupEnv("ARK_API_KEY")
			oldModel, hadModel := os.LookupEnv("ARK_MODEL_ID")
			os.Unsetenv("ARK_API_KEY")
			os.Unsetenv("ARK_MODEL_ID")
			defer func() {
				if hadKey {
					os.Setenv("ARK_API_KEY", oldKey)
				}
				if hadModel {
					os.Setenv("ARK_MODEL_ID", oldModel)
				}
			}()

			_, err := provider.NewArkProvider(ctx, &provider.ArkConfig{
				APIKey:  "test-key",
				BaseURL: "https://example.com",
			})
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("ARK_MODEL_ID"))
		})
	})

	Context("with environment variables set", func() {
		It("should read the API key and model id from the environment", func() {
			apiKey := os.Getenv("ARK_API_KEY")
			modelID := os.Getenv("ARK_MODEL_ID")
			if apiKey == "" || modelID == "" {
				Skip("ARK environment variables not set")
			}

			p, err := provider.NewArkProvider(ctx, &provider.ArkConfig{})
			Expect(err).NotTo(HaveOccurred())
			Expect(p).NotTo(BeNil())
		})
	})
})
