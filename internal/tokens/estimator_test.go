package tokens

import "testing"

func TestCountFallsBackToCharsWhenEncodingUnset(t *testing.T) {
	e := &Estimator{}
	if got := e.Count("abcdefgh"); got != 2 {
		t.Errorf("Count = %d, want 2 (chars/4 fallback)", got)
	}
}

func TestCountWithOverheadAddsFlatAmount(t *testing.T) {
	e := &Estimator{}
	if got := e.CountWithOverhead("abcd", 3); got != 4 {
		t.Errorf("CountWithOverhead = %d, want 4", got)
	}
}

func TestCapMaxTokensRespectsContextWindow(t *testing.T) {
	// safeInput = 500*1.2 = 600; available = 1000-600-100 = 300
	if got := CapMaxTokens(1024, 1000, 500, 100); got != 300 {
		t.Errorf("CapMaxTokens = %d, want 300", got)
	}
}

func TestCapMaxTokensPrefersSmallerRequestedMax(t *testing.T) {
	if got := CapMaxTokens(50, 100_000, 10, 10); got != 50 {
		t.Errorf("CapMaxTokens = %d, want the requested max when it's already smaller than the available budget", got)
	}
}

func TestCapMaxTokensFloorsAtMinimumOutput(t *testing.T) {
	if got := CapMaxTokens(1024, 100, 90, 50); got != 100 {
		t.Errorf("CapMaxTokens = %d, want the 100-token floor", got)
	}
}

func TestCapMaxTokensReturnsRequestedWhenContextWindowUnset(t *testing.T) {
	if got := CapMaxTokens(500, 0, 999, 10); got != 500 {
		t.Errorf("CapMaxTokens = %d, want requestedMax unchanged when contextWindow is unset", got)
	}
}
