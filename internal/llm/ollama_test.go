package llm

import (
	"strings"
	"testing"
)

func TestSplitPreservingWhitespace(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"simple words", "Hello world, welcome!"},
		{"leading space", "  leading"},
		{"newlines", "line one\nline two"},
		{"single word", "solo"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pieces := splitPreservingWhitespace(tt.input)
			if got := strings.Join(pieces, ""); got != tt.input {
				t.Errorf("rejoined pieces = %q, want %q", got, tt.input)
			}
		})
	}
}

func TestNewOllamaProviderTrimsTrailingSlash(t *testing.T) {
	p := NewOllamaProvider("http://localhost:11434/", "llama3.1")
	if p.url != "http://localhost:11434" {
		t.Errorf("expected trailing slash trimmed, got %q", p.url)
	}
}

func TestOllamaProviderIsAvailable(t *testing.T) {
	p := NewOllamaProvider("http://localhost:11434", "llama3.1")
	if !p.IsAvailable() {
		t.Error("expected a provider with a URL to be available")
	}
	empty := NewOllamaProvider("", "llama3.1")
	if empty.IsAvailable() {
		t.Error("expected a provider with no URL to be unavailable")
	}
}
