package gardenchat

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// History keeps delivered chat messages per group, plus the name of the last
// signed-in user. An empty or stale store is valid.
type History interface {
	Append(ctx context.Context, msg ChatMessage) error
	// Messages returns up to limit of the newest messages of group, oldest
	// first. A limit <= 0 returns everything.
	Messages(ctx context.Context, group string, limit int) ([]ChatMessage, error)
	SetUsername(ctx context.Context, username string) error
	Username(ctx context.Context) (string, error)
}

// ============================================================================
// MemoryHistory
// ============================================================================

// MemoryHistory is a goroutine-safe in-memory History.
type MemoryHistory struct {
	mu       sync.RWMutex
	messages map[string][]ChatMessage
	username string
}

// NewMemoryHistory creates an empty in-memory history.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{messages: make(map[string][]ChatMessage)}
}

func (h *MemoryHistory) Append(_ context.Context, msg ChatMessage) error {
	group := normalizeGroup(msg.Group)
	if group == "" {
		return ErrEmptyGroup
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages[group] = append(h.messages[group], msg)
	return nil
}

func (h *MemoryHistory) Messages(_ context.Context, group string, limit int) ([]ChatMessage, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msgs := h.messages[normalizeGroup(group)]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]ChatMessage, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Groups lists the groups with at least one stored message.
func (h *MemoryHistory) Groups() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.messages))
	for g := range h.messages {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

func (h *MemoryHistory) SetUsername(_ context.Context, username string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.username = username
	return nil
}

func (h *MemoryHistory) Username(context.Context) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.username, nil
}

// ============================================================================
// SQLiteHistory
// ============================================================================

const historySchema = `
CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_group TEXT    NOT NULL,
	sender     TEXT    NOT NULL,
	content    TEXT    NOT NULL,
	sent_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_group_idx ON messages (chat_group, id);
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

type historyRow struct {
	ID      int64  `db:"id"`
	Group   string `db:"chat_group"`
	Sender  string `db:"sender"`
	Content string `db:"content"`
	SentAt  int64  `db:"sent_at"`
}

// SQLiteHistory persists history in a SQLite file.
type SQLiteHistory struct {
	db *sqlx.DB
}

// OpenSQLiteHistory opens (creating if needed) the history database at path.
func OpenSQLiteHistory(path string) (*SQLiteHistory, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("history path is required")
	}
	db, err := sqlx.Open("sqlite", filepath.Clean(path)+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(historySchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &SQLiteHistory{db: db}, nil
}

func (h *SQLiteHistory) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

func (h *SQLiteHistory) Append(ctx context.Context, msg ChatMessage) error {
	group := normalizeGroup(msg.Group)
	if group == "" {
		return ErrEmptyGroup
	}
	var sentAt int64
	if !msg.Timestamp.IsZero() {
		sentAt = msg.Timestamp.UTC().UnixMilli()
	}
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO messages (chat_group, sender, content, sent_at) VALUES (?, ?, ?, ?)`,
		group, msg.Sender, msg.Content, sentAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (h *SQLiteHistory) Messages(ctx context.Context, group string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []historyRow
	err := h.db.SelectContext(ctx, &rows,
		`SELECT id, chat_group, sender, content, sent_at FROM messages
		 WHERE chat_group = ? ORDER BY id DESC LIMIT ?`,
		normalizeGroup(group), limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]ChatMessage, len(rows))
	for i, r := range rows {
		msg := ChatMessage{Sender: r.Sender, Content: r.Content, Group: r.Group}
		if r.SentAt != 0 {
			msg.Timestamp = Timestamp{time.UnixMilli(r.SentAt).UTC()}
		}
		out[len(rows)-1-i] = msg
	}
	return out, nil
}

func (h *SQLiteHistory) SetUsername(ctx context.Context, username string) error {
	_, err := h.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES ('username', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, username)
	if err != nil {
		return fmt.Errorf("store username: %w", err)
	}
	return nil
}

func (h *SQLiteHistory) Username(ctx context.Context) (string, error) {
	var names []string
	if err := h.db.SelectContext(ctx, &names, `SELECT value FROM settings WHERE key = 'username'`); err != nil {
		return "", fmt.Errorf("load username: %w", err)
	}
	if len(names) == 0 {
		return "", nil
	}
	return names[0], nil
}
