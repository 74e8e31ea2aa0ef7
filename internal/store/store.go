// Package store is the SQLite persistence of spec.md §4.7. It holds the
// long-term archive (once a session ends, its transcript and cart
// actions are written out for later inspection) and a session_state
// table with each live session's durable snapshot, which sessionactor
// writes on every append and reads back only to restore a session
// that is not live in memory. While a session is live, sessionactor is
// the source of truth.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/EPIRjewelry/asystent-epir-new-sub000/internal/domain"
	. "github.com/EPIRjewelry/asystent-epir-new-sub000/internal/logging"
)

// Store wraps the archive database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the archive database in WAL mode and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL UNIQUE,
			started_at INTEGER NOT NULL,
			ended_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL REFERENCES conversations(id),
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id)`,
		`CREATE TABLE IF NOT EXISTS cart_actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			cart_id TEXT NOT NULL,
			action TEXT NOT NULL,
			details TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cart_actions_session ON cart_actions(session_id)`,
		`CREATE TABLE IF NOT EXISTS session_state (
			session_id TEXT PRIMARY KEY,
			started_at INTEGER NOT NULL,
			history TEXT NOT NULL,
			cart_id TEXT NOT NULL DEFAULT '',
			cart_actions TEXT NOT NULL DEFAULT '[]',
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: create schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping is the cheap liveness probe /health uses: a bare SELECT 1
// against the archive database.
func (s *Store) Ping() error {
	var one int
	return s.db.QueryRow(`SELECT 1`).Scan(&one)
}

// ArchiveTranscript writes a session's conversation row and its
// messages. The conversation header insert is idempotent by
// session_id (INSERT ... ON CONFLICT DO UPDATE): a repeat end() on the
// same id neither duplicates the header nor loses the real ended_at,
// it just refreshes it and resolves the existing conversation_id for
// the message batch. The header and the message batch run as two
// separate statements rather than inside one transaction: a session
// end is a best-effort write, and a partial write (header present,
// some messages missing) is an acceptable loss compared to holding a
// write lock across a long batch insert.
func (s *Store) ArchiveTranscript(record domain.TranscriptArchiveRecord) error {
	if _, err := s.db.Exec(
		`INSERT INTO conversations (session_id, started_at, ended_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET ended_at = excluded.ended_at`,
		record.SessionID, record.StartedAt, record.EndedAt,
	); err != nil {
		return fmt.Errorf("store: archive conversation: %w", err)
	}

	var conversationID int64
	if err := s.db.QueryRow(
		`SELECT id FROM conversations WHERE session_id = ?`, record.SessionID,
	).Scan(&conversationID); err != nil {
		return fmt.Errorf("store: resolve conversation id: %w", err)
	}

	for _, m := range record.Messages {
		if _, err := s.db.Exec(
			`INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			conversationID, string(m.Role), m.Content, m.Timestamp,
		); err != nil {
			L_warn("store: archive message failed", "session", record.SessionID, "error", err)
		}
	}
	return nil
}

// ArchiveCartActions appends a session's recorded cart actions to the
// archive. Called alongside ArchiveTranscript when a session ends.
func (s *Store) ArchiveCartActions(sessionID, cartID string, actions []domain.CartAction) error {
	for _, a := range actions {
		if _, err := s.db.Exec(
			`INSERT INTO cart_actions (session_id, cart_id, action, details, created_at) VALUES (?, ?, ?, ?, ?)`,
			sessionID, cartID, a.Action, a.Details, a.Timestamp,
		); err != nil {
			L_warn("store: archive cart action failed", "session", sessionID, "error", err)
		}
	}
	return nil
}

// ArchiveTrimmedMessages writes history entries that have just fallen
// off a live session's in-memory cap, so they are archived rather than
// lost outright when sessionactor trims them. It ensures a
// conversations row exists for the session (started_at pinned, ended_at
// provisionally equal to started_at until End writes the real value),
// matching the same idempotent-by-session_id header ArchiveTranscript
// uses.
func (s *Store) ArchiveTrimmedMessages(sessionID string, startedAt int64, messages []domain.HistoryEntry) error {
	if len(messages) == 0 {
		return nil
	}
	if _, err := s.db.Exec(
		`INSERT OR IGNORE INTO conversations (session_id, started_at, ended_at) VALUES (?, ?, ?)`,
		sessionID, startedAt, startedAt,
	); err != nil {
		return fmt.Errorf("store: ensure conversation row: %w", err)
	}

	var conversationID int64
	if err := s.db.QueryRow(
		`SELECT id FROM conversations WHERE session_id = ?`, sessionID,
	).Scan(&conversationID); err != nil {
		return fmt.Errorf("store: resolve conversation id: %w", err)
	}

	for _, m := range messages {
		if _, err := s.db.Exec(
			`INSERT INTO messages (conversation_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
			conversationID, string(m.Role), m.Content, m.Timestamp,
		); err != nil {
			return fmt.Errorf("store: archive trimmed message: %w", err)
		}
	}
	return nil
}

// RestoredSessionState is what LoadSessionState hands back when a
// session id has durable live state from before a process restart.
type RestoredSessionState struct {
	History     []domain.HistoryEntry
	CartID      string
	CartActions []domain.CartAction
	StartedAt   int64
}

// SaveSessionState durably persists the full live state of one
// session — its capped history, pinned cart id, and cart-action ring —
// as a single upsert, so sessionactor.Append can honor "persists before
// returning" (spec.md §4.7) instead of holding the only copy in
// memory. One row per session, keyed by session_id, is rewritten on
// every append; that's more write volume than an append-only log, but
// matches the size of what's being protected (a capped history, never
// unbounded).
func (s *Store) SaveSessionState(sessionID string, startedAt int64, history []domain.HistoryEntry, cartID string, cartActions []domain.CartAction, updatedAt int64) error {
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("store: marshal session history: %w", err)
	}
	actionsJSON, err := json.Marshal(cartActions)
	if err != nil {
		return fmt.Errorf("store: marshal cart actions: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO session_state (session_id, started_at, history, cart_id, cart_actions, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			history = excluded.history,
			cart_id = excluded.cart_id,
			cart_actions = excluded.cart_actions,
			updated_at = excluded.updated_at`,
		sessionID, startedAt, string(historyJSON), cartID, string(actionsJSON), updatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: save session state: %w", err)
	}
	return nil
}

// LoadSessionState restores a session's live state after a process
// restart. found is false (with a nil error) when no durable state
// exists for sessionID yet.
func (s *Store) LoadSessionState(sessionID string) (state RestoredSessionState, found bool, err error) {
	var historyJSON, actionsJSON string
	row := s.db.QueryRow(
		`SELECT started_at, history, cart_id, cart_actions FROM session_state WHERE session_id = ?`,
		sessionID,
	)
	if err := row.Scan(&state.StartedAt, &historyJSON, &state.CartID, &actionsJSON); err != nil {
		if err == sql.ErrNoRows {
			return RestoredSessionState{}, false, nil
		}
		return RestoredSessionState{}, false, fmt.Errorf("store: load session state: %w", err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &state.History); err != nil {
		return RestoredSessionState{}, false, fmt.Errorf("store: decode session history: %w", err)
	}
	if err := json.Unmarshal([]byte(actionsJSON), &state.CartActions); err != nil {
		return RestoredSessionState{}, false, fmt.Errorf("store: decode cart actions: %w", err)
	}
	return state, true, nil
}

// DeleteSessionState drops a session's durable live state once it has
// ended and been archived, so a later request reusing the same id
// starts a genuinely fresh actor rather than resurrecting stale state.
func (s *Store) DeleteSessionState(sessionID string) error {
	if _, err := s.db.Exec(`DELETE FROM session_state WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("store: delete session state: %w", err)
	}
	return nil
}
