package sessionactor

import (
	"context"
	"testing"

	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/domain"
)

func newTestManager(t *testing.T, maxHistory int, rl RateLimitConfig) *Manager {
	t.Helper()
	return NewManager(nil, maxHistory, rl)
}

func TestResolveMintsSessionWhenIDEmpty(t *testing.T) {
	m := newTestManager(t, 200, RateLimitConfig{})
	id, handle := m.Resolve("")
	if id == "" {
		t.Fatal("expected a minted session id")
	}
	if handle == nil {
		t.Fatal("expected a non-nil handle")
	}
}

func TestResolveReusesExistingSession(t *testing.T) {
	m := newTestManager(t, 200, RateLimitConfig{})
	id, handle := m.Resolve("")
	handle.Append(domain.RoleUser, "hello")

	_, handle2 := m.Resolve(id)
	history := handle2.History()
	if len(history) != 1 || history[0].Content != "hello" {
		t.Fatalf("expected the same session's history, got %+v", history)
	}
}

func TestAppendTrimsToMaxHistory(t *testing.T) {
	m := newTestManager(t, 3, RateLimitConfig{})
	_, handle := m.Resolve("")

	for i := 0; i < 10; i++ {
		handle.Append(domain.RoleUser, "turn")
	}

	if got := len(handle.History()); got != 3 {
		t.Errorf("expected history capped at 3, got %d", got)
	}
}

func TestCartIDRoundTrip(t *testing.T) {
	m := newTestManager(t, 200, RateLimitConfig{})
	_, handle := m.Resolve("")

	if handle.CartID() != "" {
		t.Fatalf("expected no cart id initially")
	}
	handle.SetCartID("cart-123")
	if got := handle.CartID(); got != "cart-123" {
		t.Errorf("CartID() = %q, want cart-123", got)
	}
	// Setting an empty cart id must not clear a previously pinned one.
	handle.SetCartID("")
	if got := handle.CartID(); got != "cart-123" {
		t.Errorf("expected cart id to remain pinned, got %q", got)
	}
}

func TestLogCartActionRingCapacity(t *testing.T) {
	m := newTestManager(t, 200, RateLimitConfig{})
	_, handle := m.Resolve("")

	for i := 0; i < cartActionRingCapacity+10; i++ {
		handle.LogCartAction("update_cart", "line")
	}

	s := handle.s
	s.mu.Lock()
	n := len(s.cartActions)
	s.mu.Unlock()
	if n != cartActionRingCapacity {
		t.Errorf("expected ring capped at %d, got %d", cartActionRingCapacity, n)
	}
}

func TestAllowRequestEnforcesWindow(t *testing.T) {
	m := newTestManager(t, 200, RateLimitConfig{WindowMs: 60_000, Max: 2})
	_, handle := m.Resolve("")

	if !handle.AllowRequest() {
		t.Error("expected request 1 to be allowed")
	}
	if !handle.AllowRequest() {
		t.Error("expected request 2 to be allowed")
	}
	if handle.AllowRequest() {
		t.Error("expected request 3 to be rejected")
	}
}

func TestAllowRequestUnboundedWhenUnconfigured(t *testing.T) {
	m := newTestManager(t, 200, RateLimitConfig{})
	_, handle := m.Resolve("")
	for i := 0; i < 100; i++ {
		if !handle.AllowRequest() {
			t.Fatalf("expected unconfigured rate limit to never reject, failed at request %d", i)
		}
	}
}

func TestEndRemovesSessionFromManager(t *testing.T) {
	m := newTestManager(t, 200, RateLimitConfig{})
	id, handle := m.Resolve("")
	handle.Append(domain.RoleUser, "hi")

	m.End(context.Background(), id)

	newID, newHandle := m.Resolve(id)
	if newID != id {
		t.Fatalf("expected Resolve to reuse the same id")
	}
	if len(newHandle.History()) != 0 {
		t.Errorf("expected a fresh session after End, got history %+v", newHandle.History())
	}
}
