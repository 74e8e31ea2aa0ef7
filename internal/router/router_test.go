package router

import (
	"testing"

	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		utterance  string
		wantIntent domain.Intent
	}{
		{"product noun", "Do you have any gold rings?", domain.IntentProduct},
		{"material noun", "Show me something in platinum", domain.IntentProduct},
		{"purchase verb", "I'm looking for a gift for my wife", domain.IntentProduct},
		{"cart read", "what's in my cart", domain.IntentCart},
		{"order phrase", "where is my order", domain.IntentOrder},
		{"policy word", "what's your return policy", domain.IntentPolicy},
		{"small talk", "good morning!", domain.IntentGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.utterance)
			if got.Intent != tt.wantIntent {
				t.Errorf("Classify(%q).Intent = %s, want %s", tt.utterance, got.Intent, tt.wantIntent)
			}
		})
	}
}

func TestClassifyCartMutate(t *testing.T) {
	got := Classify("please add a ring to my cart")
	if got.Intent != domain.IntentCart {
		t.Fatalf("expected cart intent, got %s", got.Intent)
	}
	if !got.CartMutate {
		t.Errorf("expected CartMutate=true for an add request")
	}

	got = Classify("what's in my cart")
	if got.CartMutate {
		t.Errorf("expected CartMutate=false for a read-only cart question")
	}
}

func TestClassifyProductPriorityOverPolicy(t *testing.T) {
	// "return" is a policy word but a ring purchase question should win.
	got := Classify("can I return a ring I bought")
	if got.Intent != domain.IntentProduct {
		t.Errorf("expected product to take priority, got %s", got.Intent)
	}
}

func TestClassifyExtractsMerchandiseLine(t *testing.T) {
	got := Classify("add m1 to cart")
	if got.MerchandiseID != "m1" {
		t.Errorf("MerchandiseID = %q, want m1", got.MerchandiseID)
	}
	if got.Quantity != 1 {
		t.Errorf("Quantity = %d, want 1 (default)", got.Quantity)
	}

	got = Classify("add 2 m1 to my cart")
	if got.MerchandiseID != "m1" || got.Quantity != 2 {
		t.Errorf("got %+v, want merchandiseId=m1 quantity=2", got)
	}

	got = Classify("what's in my cart")
	if got.MerchandiseID != "" {
		t.Errorf("expected no merchandise line for a read-only cart question, got %q", got.MerchandiseID)
	}
}

func TestExtractOrderID(t *testing.T) {
	tests := []struct {
		utterance string
		want      string
	}{
		{"where is order #A1B2C3", "A1B2C3"},
		{"track order number 48213", "48213"},
		{"where is my order", ""},
	}
	for _, tt := range tests {
		got := extractOrderID(tt.utterance)
		if got != tt.want {
			t.Errorf("extractOrderID(%q) = %q, want %q", tt.utterance, got, tt.want)
		}
	}
}
