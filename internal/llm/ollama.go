package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	. "github.com/EPIRjewelry/asystent-epir-new-sub000/internal/logging"
)

// OllamaProvider is the local fallback adapter of spec.md §4.6. It talks
// to a local Ollama daemon over raw HTTP/JSON rather than a client
// library, since Ollama's own wire format isn't something the rest of
// the stack already parses.
type OllamaProvider struct {
	url           string
	model         string
	embeddingModel string
	client        *http.Client
}

// NewOllamaProvider builds a fallback provider pointed at a local Ollama
// daemon. model is used for both chat and embedding calls.
func NewOllamaProvider(url, model string) *OllamaProvider {
	return &OllamaProvider{
		url:            strings.TrimSuffix(url, "/"),
		model:          model,
		embeddingModel: model,
		client:         &http.Client{Timeout: 60 * time.Second},
	}
}

func (p *OllamaProvider) Name() string { return "ollama" }

// IsAvailable reports only that a URL is configured; Ollama has no
// credential to check, so callers discover real reachability on the
// first failed call.
func (p *OllamaProvider) IsAvailable() bool { return p.url != "" }

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
}

type ollamaChatStreamLine struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// interTokenDelay paces the fallback whitespace-split stream so it
// reads like a genuine token stream to the client rather than one
// instantaneous chunk.
const interTokenDelay = 15 * time.Millisecond

// StreamMessage posts to Ollama's /api/chat with stream:true. Ollama
// emits one JSON object per line as it generates; each line's
// message.content fragment is forwarded directly. If the daemon instead
// returns a single non-streamed line (some older builds collapse short
// completions), the full content is split on whitespace boundaries and
// replayed with a short delay between pieces so the client still sees
// incremental output.
func (p *OllamaProvider) StreamMessage(ctx context.Context, messages []Message, onDelta func(string)) error {
	chatMessages := make([]ollamaChatMessage, len(messages))
	for i, m := range messages {
		chatMessages[i] = ollamaChatMessage{Role: m.Role, Content: m.Content}
	}

	body, err := json.Marshal(ollamaChatRequest{Model: p.model, Messages: chatMessages, Stream: true})
	if err != nil {
		return fmt.Errorf("llm(ollama): encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("llm(ollama): build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return ErrUnavailable{Provider: p.Name(), Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ErrUnavailable{Provider: p.Name(), Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	// next skips blank and malformed lines and returns the next
	// well-formed one, so the lookahead below never has to special-case
	// them.
	next := func() (ollamaChatStreamLine, bool, error) {
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			var parsed ollamaChatStreamLine
			if err := json.Unmarshal([]byte(line), &parsed); err != nil {
				L_warn("llm(ollama): malformed stream line", "error", err)
				continue
			}
			return parsed, true, nil
		}
		return ollamaChatStreamLine{}, false, scanner.Err()
	}

	first, ok, err := next()
	if err != nil {
		return fmt.Errorf("llm(ollama): read stream: %w", err)
	}
	if !ok {
		return nil
	}

	// A single held-back line is the minimum lookahead needed to tell a
	// genuine token stream from a daemon that collapsed the whole reply
	// into one line: we can't know which case we're in until a second
	// line either arrives or doesn't. Once that's settled, every
	// subsequent line (including this first one, if it wasn't the only
	// one) is forwarded as soon as it's scanned — the reply is never
	// buffered in full.
	second, ok, err := next()
	if err != nil {
		return fmt.Errorf("llm(ollama): read stream: %w", err)
	}
	if !ok {
		return p.replaySplit(ctx, first.Message.Content, onDelta)
	}

	if first.Message.Content != "" {
		onDelta(first.Message.Content)
	}
	if second.Message.Content != "" {
		onDelta(second.Message.Content)
	}
	for {
		line, ok, err := next()
		if err != nil {
			return fmt.Errorf("llm(ollama): read stream: %w", err)
		}
		if !ok {
			return nil
		}
		if line.Message.Content != "" {
			onDelta(line.Message.Content)
		}
	}
}

// replaySplit splits a complete reply on whitespace boundaries while
// preserving the whitespace itself, then yields each piece with a short
// delay to emulate incremental generation.
func (p *OllamaProvider) replaySplit(ctx context.Context, full string, onDelta func(string)) error {
	pieces := splitPreservingWhitespace(full)
	for _, piece := range pieces {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		onDelta(piece)
		time.Sleep(interTokenDelay)
	}
	return nil
}

func splitPreservingWhitespace(s string) []string {
	var pieces []string
	var current strings.Builder
	inSpace := false
	started := false

	flush := func() {
		if current.Len() > 0 {
			pieces = append(pieces, current.String())
			current.Reset()
		}
	}

	for _, r := range s {
		isSpace := r == ' ' || r == '\n' || r == '\t'
		if started && isSpace != inSpace {
			flush()
		}
		current.WriteRune(r)
		inSpace = isSpace
		started = true
	}
	flush()
	return pieces
}

// Embed calls /api/embeddings. Ollama only supports one prompt per call.
func (p *OllamaProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbeddingRequest{Model: p.embeddingModel, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("llm(ollama): encode embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm(ollama): build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, ErrUnavailable{Provider: p.Name(), Reason: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ErrUnavailable{Provider: p.Name(), Reason: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var parsed ollamaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("llm(ollama): decode embedding response: %w", err)
	}
	return parsed.Embedding, nil
}
