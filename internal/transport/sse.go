// Package transport encodes the gateway's streaming chat reply as
// Server-Sent Events, per spec.md §4.9 and §6. It knows nothing about
// LLMs or sessions; it only turns a sequence of frames into wire bytes.
package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Frame is one event in the stream. Fields are flat rather than a
// discriminated union, matching the wire shapes spec.md §6 specifies
// literally: a metadata frame carries only sessionId/done, a delta
// frame adds delta, the terminal frame swaps delta for the full
// content, and an error frame carries error instead of done.
type Frame struct {
	SessionID string `json:"sessionId,omitempty"`
	Delta     string `json:"delta,omitempty"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
	Done      *bool  `json:"done,omitempty"`
}

func boolPtr(b bool) *bool { return &b }

// doneSentinel is the literal terminal payload, matching the
// OpenAI-style "[DONE]" convention; it is written after the last JSON
// frame.
const doneSentinel = "[DONE]"

// SSEWriter streams frames to one HTTP response and flushes after each.
type SSEWriter struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	sessionID string
}

// NewSSEWriter sets the response headers an SSE stream requires and
// returns a writer ready to emit frames. Returns an error if the
// response writer doesn't support flushing (it always does for
// net/http's standard server, but custom ResponseWriter wrappers in
// tests may not).
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("transport: response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	return &SSEWriter{w: w, flusher: flusher}, nil
}

// WriteMeta sends the opening frame carrying the resolved session id,
// so a client that minted no session id of its own learns the one the
// gateway assigned before any delta arrives. It must be the first
// frame written.
func (s *SSEWriter) WriteMeta(sessionID string) error {
	s.sessionID = sessionID
	return s.writeFrame(Frame{SessionID: sessionID, Done: boolPtr(false)})
}

// WriteDelta sends one fragment of the assistant's reply.
func (s *SSEWriter) WriteDelta(delta string) error {
	return s.writeFrame(Frame{SessionID: s.sessionID, Delta: delta, Done: boolPtr(false)})
}

// WriteError sends a terminal error frame followed by the done
// sentinel. No further frames should follow it.
func (s *SSEWriter) WriteError(message string) error {
	if err := s.writeFrame(Frame{SessionID: s.sessionID, Error: message}); err != nil {
		return err
	}
	return s.writeRaw(doneSentinel)
}

// WriteDone sends the terminal frame carrying the full assembled
// reply, then the sentinel.
func (s *SSEWriter) WriteDone(fullReply string) error {
	if err := s.writeFrame(Frame{SessionID: s.sessionID, Content: fullReply, Done: boolPtr(true)}); err != nil {
		return err
	}
	return s.writeRaw(doneSentinel)
}

func (s *SSEWriter) writeFrame(f Frame) error {
	payload, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("transport: encode frame: %w", err)
	}
	return s.writeRaw(string(payload))
}

func (s *SSEWriter) writeRaw(data string) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("transport: write frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}
