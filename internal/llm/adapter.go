package llm

import (
	"context"
	"strings"

	. "github.com/EPIRjewelry/asystent-epir-new-sub000/internal/logging"
)

// Adapter picks between a primary and a fallback Provider and exposes
// the single uniform streaming contract spec.md §4.6 requires of the
// gateway: stream(messages) -> ordered fragments, with the caller never
// needing to know which backend answered.
type Adapter struct {
	primary  Provider
	fallback Provider
}

// NewAdapter wires a primary and fallback provider together. Either may
// be nil; Stream treats a nil provider as permanently unavailable.
func NewAdapter(primary, fallback Provider) *Adapter {
	return &Adapter{primary: primary, fallback: fallback}
}

// Stream runs messages through the primary provider if it's available,
// falling back to the secondary provider on unavailability or a failed
// *stream initiation* (spec.md §7: fallback covers the primary never
// getting started, not the primary dying partway through). It
// accumulates the full reply alongside forwarding fragments to
// onDelta, since the gateway needs the complete text to append to
// session history once the stream ends.
func (a *Adapter) Stream(ctx context.Context, messages []Message, onDelta func(string)) (string, error) {
	var full strings.Builder
	var anyForwarded bool
	collect := func(fragment string) {
		anyForwarded = true
		full.WriteString(fragment)
		onDelta(fragment)
	}

	if a.primary != nil && a.primary.IsAvailable() {
		err := a.primary.StreamMessage(ctx, messages, collect)
		if err == nil {
			return full.String(), nil
		}
		if anyForwarded {
			// Fragments already reached the caller (and, for a streaming
			// response, the client). Falling back now would re-stream a
			// second reply on top of content that's already been sent, so
			// the failure is surfaced as-is instead.
			L_warn("llm: primary provider failed mid-stream, not falling back", "provider", a.primary.Name(), "error", err)
			return full.String(), err
		}
		L_warn("llm: primary provider failed before emitting anything, falling back", "provider", a.primary.Name(), "error", err)
	}

	if a.fallback != nil && a.fallback.IsAvailable() {
		if err := a.fallback.StreamMessage(ctx, messages, collect); err != nil {
			return full.String(), err
		}
		return full.String(), nil
	}

	return "", ErrUnavailable{Provider: "llm", Reason: "no provider available"}
}

// Embed delegates to the primary provider's embedding backend, falling
// back to the secondary provider when the primary can't serve it. The
// semantic index embeds its queries through this path. The backend is
// chosen per Embed call, independently of which one answered Stream.
func (a *Adapter) Embed(ctx context.Context, text string) ([]float32, error) {
	if a.primary != nil && a.primary.IsAvailable() {
		v, err := a.primary.Embed(ctx, text)
		if err == nil {
			return v, nil
		}
		L_warn("llm: primary embed failed, falling back", "provider", a.primary.Name(), "error", err)
	}
	if a.fallback != nil && a.fallback.IsAvailable() {
		return a.fallback.Embed(ctx, text)
	}
	return nil, ErrUnavailable{Provider: "llm", Reason: "no provider available"}
}
