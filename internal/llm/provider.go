// Package llm provides the unified LLM provider interface (spec.md
// §4.6) plus the primary remote adapter and the local fallback adapter,
// wired together by Adapter.Stream.
package llm

import (
	"context"
)

// Provider is the minimal surface the gateway needs from any backend:
// streamed chat completion and embeddings. Real credentials determine
// availability; StreamMessage must never be called on an unavailable
// provider.
type Provider interface {
	Name() string
	IsAvailable() bool
	StreamMessage(ctx context.Context, messages []Message, onDelta func(string)) error
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Message is the provider-agnostic chat message shape this package
// consumes; domain.Message converts to it at the call site so this
// package stays independent of the wire-level domain types.
type Message struct {
	Role    string
	Content string
}

// ErrUnavailable is returned when a provider is asked to stream while
// it has no usable credential or endpoint configured.
type ErrUnavailable struct {
	Provider string
	Reason   string
}

func (e ErrUnavailable) Error() string {
	if e.Reason != "" {
		return e.Provider + " is unavailable: " + e.Reason
	}
	return e.Provider + " is unavailable"
}
