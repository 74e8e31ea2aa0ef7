package llm

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	name      string
	available bool
	fragments []string
	streamErr error
	// failAfter, when streamErr is set, is the number of fragments
	// emitted before StreamMessage returns the error. 0 means the error
	// comes after every fragment; with no fragments that is a stream that
	// fails before emitting anything.
	failAfter int
	embedding []float32
	embedErr  error
}

func (f *fakeProvider) Name() string       { return f.name }
func (f *fakeProvider) IsAvailable() bool  { return f.available }
func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return f.embedding, f.embedErr
}
func (f *fakeProvider) StreamMessage(ctx context.Context, messages []Message, onDelta func(string)) error {
	for i, frag := range f.fragments {
		onDelta(frag)
		if f.streamErr != nil && f.failAfter == i+1 {
			return f.streamErr
		}
	}
	if f.streamErr != nil && f.failAfter <= 0 {
		return f.streamErr
	}
	return nil
}

func TestAdapterUsesPrimaryWhenAvailable(t *testing.T) {
	primary := &fakeProvider{name: "openai", available: true, fragments: []string{"Hel", "lo"}}
	fallback := &fakeProvider{name: "ollama", available: true, fragments: []string{"never"}}
	a := NewAdapter(primary, fallback)

	var got string
	reply, err := a.Stream(context.Background(), nil, func(f string) { got += f })
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if reply != "Hello" || got != "Hello" {
		t.Errorf("expected primary's reply, got reply=%q onDelta=%q", reply, got)
	}
}

func TestAdapterFallsBackWhenPrimaryUnavailable(t *testing.T) {
	primary := &fakeProvider{name: "openai", available: false}
	fallback := &fakeProvider{name: "ollama", available: true, fragments: []string{"fallback reply"}}
	a := NewAdapter(primary, fallback)

	reply, err := a.Stream(context.Background(), nil, func(string) {})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if reply != "fallback reply" {
		t.Errorf("expected fallback's reply, got %q", reply)
	}
}

func TestAdapterFallsBackWhenPrimaryStreamFails(t *testing.T) {
	primary := &fakeProvider{name: "openai", available: true, streamErr: errors.New("boom")}
	fallback := &fakeProvider{name: "ollama", available: true, fragments: []string{"fallback reply"}}
	a := NewAdapter(primary, fallback)

	reply, err := a.Stream(context.Background(), nil, func(string) {})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}
	if reply != "fallback reply" {
		t.Errorf("expected fallback's reply after primary failure, got %q", reply)
	}
}

func TestAdapterDoesNotFallBackAfterPartialStream(t *testing.T) {
	primary := &fakeProvider{name: "openai", available: true, fragments: []string{"Hel", "lo"}, streamErr: errors.New("boom after partial"), failAfter: 2}
	fallback := &fakeProvider{name: "ollama", available: true, fragments: []string{"fallback reply"}}
	a := NewAdapter(primary, fallback)

	var got string
	reply, err := a.Stream(context.Background(), nil, func(f string) { got += f })
	if err == nil {
		t.Fatal("expected the mid-stream failure to propagate instead of falling back")
	}
	if got != "Hello" {
		t.Errorf("expected only the primary's partial fragments forwarded, got %q", got)
	}
	if reply != "Hello" {
		t.Errorf("expected Stream to return the partial reply alongside the error, got %q", reply)
	}
}

func TestAdapterReturnsErrUnavailableWhenNeitherProviderWorks(t *testing.T) {
	primary := &fakeProvider{name: "openai", available: false}
	fallback := &fakeProvider{name: "ollama", available: false}
	a := NewAdapter(primary, fallback)

	_, err := a.Stream(context.Background(), nil, func(string) {})
	if err == nil {
		t.Fatal("expected an error when no provider is available")
	}
}

func TestAdapterEmbedFallsBack(t *testing.T) {
	primary := &fakeProvider{name: "openai", available: true, embedErr: errors.New("boom")}
	fallback := &fakeProvider{name: "ollama", available: true, embedding: []float32{1, 2, 3}}
	a := NewAdapter(primary, fallback)

	v, err := a.Embed(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(v) != 3 {
		t.Errorf("expected the fallback's embedding, got %v", v)
	}
}
