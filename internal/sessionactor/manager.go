// Package sessionactor is the single-writer coordinator of spec.md §4.7:
// one actor per session id serializes history appends, cart state, and
// rate-limit accounting so no two operations on the same session's state
// run at once. Each operation takes the lock on its own; a request's
// whole turn is not held under it, so two concurrent requests on one
// session can interleave their operations. Ordering is enforced with a per-session mutex
// rather than an actual goroutine-per-session mailbox, matching the
// concurrency style the teacher uses for its own per-session state.
package sessionactor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/domain"
	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/store"

	. "github.com/EPIRjewelry/asystent-epir-new-sub000/internal/logging"
)

const cartActionRingCapacity = 50

// RateLimitConfig configures the fixed-window limiter every session
// carries.
type RateLimitConfig struct {
	WindowMs int
	Max      int
}

// session holds one session's live state. All access goes through
// Manager and SessionHandle methods, which take mu before touching any
// field.
type session struct {
	mu sync.Mutex

	id        string
	cartID    string
	history   []domain.HistoryEntry
	startedAt int64

	cartActions []domain.CartAction

	windowStart int64
	windowCount int
}

// Manager owns every live session and archives one when it ends.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session

	archive     *store.Store
	maxHistory  int
	rateLimit   RateLimitConfig
}

// NewManager builds a session manager backed by the given archive store.
func NewManager(archive *store.Store, maxHistory int, rateLimit RateLimitConfig) *Manager {
	if maxHistory <= 0 {
		maxHistory = 200
	}
	return &Manager{
		sessions:   make(map[string]*session),
		archive:    archive,
		maxHistory: maxHistory,
		rateLimit:  rateLimit,
	}
}

// Resolve returns the session for id, minting a fresh id if id is empty
// and a fresh session if the id is not live. The resolved id is always
// returned so callers (and the client, on the next turn) can pin to it.
// An unknown but non-empty id is first looked up in the durable
// session-state table before a fresh session is minted, so a process
// restart mid-session recovers the live transcript instead of silently
// starting over (spec.md §4.7).
func (m *Manager) Resolve(id string) (string, *SessionHandle) {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return id, &SessionHandle{m: m, s: s}
	}

	fresh := &session{id: id, startedAt: nowMillis()}
	if m.archive != nil {
		if restored, found, err := m.archive.LoadSessionState(id); err != nil {
			L_warn("sessionactor: restore session state failed", "session", id, "error", err)
		} else if found {
			fresh.history = restored.History
			fresh.cartID = restored.CartID
			fresh.cartActions = restored.CartActions
			fresh.startedAt = restored.StartedAt
		}
	}

	m.mu.Lock()
	if existing, ok := m.sessions[id]; ok {
		s = existing
	} else {
		s = fresh
		m.sessions[id] = s
	}
	m.mu.Unlock()

	return id, &SessionHandle{m: m, s: s}
}

// nowMillis is the one place wall-clock time enters this package.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// End drops the session from the live map, then archives its transcript
// and cart actions. Safe to call more than once; subsequent calls are
// no-ops once the session id is gone.
func (m *Manager) End(ctx context.Context, id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	record := domain.TranscriptArchiveRecord{
		SessionID: s.id,
		StartedAt: s.startedAt,
		EndedAt:   nowMillis(),
		Messages:  append([]domain.HistoryEntry(nil), s.history...),
	}
	actions := append([]domain.CartAction(nil), s.cartActions...)
	cartID := s.cartID
	s.mu.Unlock()

	if m.archive == nil {
		return
	}
	if err := m.archive.ArchiveTranscript(record); err != nil {
		L_warn("sessionactor: archive transcript failed", "session", id, "error", err)
	}
	if err := m.archive.ArchiveCartActions(id, cartID, actions); err != nil {
		L_warn("sessionactor: archive cart actions failed", "session", id, "error", err)
	}
	if err := m.archive.DeleteSessionState(id); err != nil {
		L_warn("sessionactor: delete live session state failed", "session", id, "error", err)
	}
}

// Sweep ends every session whose last activity predates the cutoff,
// driven by the background cron job spec.md §10 names.
func (m *Manager) Sweep(ctx context.Context, idleCutoffMs int64) {
	now := nowMillis()
	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		s.mu.Lock()
		last := s.startedAt
		if len(s.history) > 0 {
			last = s.history[len(s.history)-1].Timestamp
		}
		s.mu.Unlock()
		if now-last > idleCutoffMs {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.End(ctx, id)
	}
	if len(stale) > 0 {
		L_info("sessionactor: swept idle sessions", "count", len(stale))
	}
}

// SessionHandle scopes every stateful operation to one session, so
// callers never juggle a session id alongside the manager.
type SessionHandle struct {
	m *Manager
	s *session
}

// History returns a snapshot of the conversation so far.
func (h *SessionHandle) History() []domain.HistoryEntry {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return append([]domain.HistoryEntry(nil), h.s.history...)
}

// Append records one turn and persists the session's durable snapshot
// before returning (spec.md §4.7's "persisted state layout"), distinct
// from the one-shot archive ArchiveTranscript writes at session end.
// When the in-memory history would exceed maxHistory, the oldest entry
// is trimmed from memory but archived first rather than simply
// dropped, so it still exists on disk after it leaves the live
// session. A persistence failure is returned to the caller rather than
// swallowed: per spec.md §7's PersistenceError, the turn must not be
// treated as durably recorded if the write failed.
func (h *SessionHandle) Append(role domain.Role, content string) error {
	h.s.mu.Lock()
	h.s.history = append(h.s.history, domain.HistoryEntry{
		Role:      role,
		Content:   content,
		Timestamp: nowMillis(),
	})

	var trimmed []domain.HistoryEntry
	if max := h.m.maxHistory; max > 0 && len(h.s.history) > max {
		trimmed = append(trimmed, h.s.history[:len(h.s.history)-max]...)
		h.s.history = h.s.history[len(h.s.history)-max:]
	}

	historySnapshot := append([]domain.HistoryEntry(nil), h.s.history...)
	cartID := h.s.cartID
	cartActions := append([]domain.CartAction(nil), h.s.cartActions...)
	startedAt := h.s.startedAt
	sessionID := h.s.id
	h.s.mu.Unlock()

	if h.m.archive == nil {
		return nil
	}

	if len(trimmed) > 0 {
		if err := h.m.archive.ArchiveTrimmedMessages(sessionID, startedAt, trimmed); err != nil {
			L_warn("sessionactor: archive trimmed messages failed", "session", sessionID, "error", err)
			return err
		}
	}

	if err := h.m.archive.SaveSessionState(sessionID, startedAt, historySnapshot, cartID, cartActions, nowMillis()); err != nil {
		L_warn("sessionactor: persist session state failed", "session", sessionID, "error", err)
		return err
	}
	return nil
}

// SetCartID pins the cart identifier for the remainder of the session.
func (h *SessionHandle) SetCartID(cartID string) {
	if cartID == "" {
		return
	}
	h.s.mu.Lock()
	h.s.cartID = cartID
	h.s.mu.Unlock()
}

// CartID returns the session's pinned cart identifier, or "" if none is set.
func (h *SessionHandle) CartID() string {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	return h.s.cartID
}

// LogCartAction appends to the bounded cart-action ring, dropping the
// oldest entry once it's full.
func (h *SessionHandle) LogCartAction(action, details string) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	h.s.cartActions = append(h.s.cartActions, domain.CartAction{
		Action:    action,
		Details:   details,
		Timestamp: nowMillis(),
	})
	if len(h.s.cartActions) > cartActionRingCapacity {
		h.s.cartActions = h.s.cartActions[len(h.s.cartActions)-cartActionRingCapacity:]
	}
}

// AllowRequest applies the fixed-window rate limiter configured on the
// manager, returning false once the session has exceeded Max requests
// within the current WindowMs window.
func (h *SessionHandle) AllowRequest() bool {
	cfg := h.m.rateLimit
	if cfg.Max <= 0 || cfg.WindowMs <= 0 {
		return true
	}

	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	now := nowMillis()
	if now-h.s.windowStart > int64(cfg.WindowMs) {
		h.s.windowStart = now
		h.s.windowCount = 0
	}
	h.s.windowCount++
	return h.s.windowCount <= cfg.Max
}
