package llm

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	. "github.com/EPIRjewelry/asystent-epir-new-sub000/internal/logging"
	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/tokens"
)

// OpenAIProvider is the primary remote adapter of spec.md §4.6. It
// streams completions over the standard chat-completions SSE shape
// (choices[0].delta.content) via sashabaranov/go-openai, and doubles as
// the embedding backend for semanticindex.
type OpenAIProvider struct {
	client         *openai.Client
	model          string
	embeddingModel string
	apiKey         string
}

// NewOpenAIProvider builds a provider. baseURL may be empty to use the
// standard OpenAI endpoint, or set to point at an OpenAI-compatible
// gateway.
func NewOpenAIProvider(apiKey, model, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{
		client:         openai.NewClientWithConfig(cfg),
		model:          model,
		embeddingModel: string(openai.SmallEmbedding3),
		apiKey:         apiKey,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) IsAvailable() bool { return p.apiKey != "" }

const (
	defaultTemperature = 0.7
	// defaultMaxTokens is the requested ceiling; CapMaxTokens lowers it
	// only when the context window has less room left than this.
	defaultMaxTokens = 1024
	// defaultContextWindow approximates the configured model's context
	// length (gpt-4o-mini class models: 128k). Being conservative here
	// only ever makes CapMaxTokens trim more aggressively, never less,
	// so an exact per-model figure isn't load-bearing.
	defaultContextWindow = 128_000
	// responseTokenBuffer is slack left unclaimed by max_tokens so a
	// slightly-off estimate doesn't push the request over the model's
	// hard context limit.
	responseTokenBuffer = 256
)

// StreamMessage POSTs the assembled messages with stream:true and yields
// each non-empty delta fragment to onDelta, terminating on the stream's
// sentinel frame.
func (p *OpenAIProvider) StreamMessage(ctx context.Context, messages []Message, onDelta func(string)) error {
	if !p.IsAvailable() {
		return ErrUnavailable{Provider: p.Name(), Reason: "no credential configured"}
	}

	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	var promptText strings.Builder
	for i, m := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
		promptText.WriteString(m.Content)
	}
	estimatedInput := tokens.Estimate(promptText.String())
	maxTokens := tokens.CapMaxTokens(defaultMaxTokens, defaultContextWindow, estimatedInput, responseTokenBuffer)

	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    chatMessages,
		Stream:      true,
		Temperature: defaultTemperature,
		MaxTokens:   maxTokens,
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return fmt.Errorf("llm(openai): stream initiation failed: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("llm(openai): stream read failed: %w", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			onDelta(delta)
		}
	}
}

// Embed calls the embeddings endpoint for a single piece of text.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if !p.IsAvailable() {
		return nil, ErrUnavailable{Provider: p.Name(), Reason: "no credential configured"}
	}

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.embeddingModel),
	})
	if err != nil {
		L_warn("llm(openai): embedding failed", "error", err)
		return nil, fmt.Errorf("llm(openai): embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("llm(openai): embed: empty response")
	}
	return resp.Data[0].Embedding, nil
}
