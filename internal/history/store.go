// Package history persists conversation turns per chat in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cedbot/internal/domain"

	_ "modernc.org/sqlite"
)

// maxStoredAssistantRunes caps assistant replies on write so a single long
// answer cannot dominate the context window later.
const maxStoredAssistantRunes = 2000

// SQLiteStore implements domain.HistoryStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversations (
		chat_id     TEXT PRIMARY KEY,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id                 INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_id            TEXT NOT NULL,
		role               TEXT NOT NULL,
		content            TEXT,
		attachment_summary TEXT,
		provider           TEXT,
		model              TEXT,
		created_at         DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Append stores one turn. Assistant text is truncated to a fixed rune
// budget; user text is stored as-is.
func (s *SQLiteStore) Append(ctx context.Context, chatID string, entry domain.HistoryEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	text := entry.Text
	if entry.Role == "assistant" {
		if runes := []rune(text); len(runes) > maxStoredAssistantRunes {
			text = string(runes[:maxStoredAssistantRunes])
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (chat_id, role, content, attachment_summary, provider, model, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		chatID, entry.Role, text, entry.AttachmentSummary, entry.Provider, entry.Model, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	_, _ = s.db.ExecContext(ctx,
		`INSERT INTO conversations (chat_id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET updated_at = excluded.updated_at`,
		chatID, entry.CreatedAt, entry.CreatedAt,
	)
	return nil
}

// Recent returns at most limit*2 entries (limit turns, two roles each) in
// chronological order.
func (s *SQLiteStore) Recent(ctx context.Context, chatID string, limit int) ([]domain.HistoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, attachment_summary, provider, model, created_at
		 FROM messages WHERE chat_id = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`, chatID, limit*2,
	)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		var content, summary, provider, model sql.NullString
		if err := rows.Scan(&e.Role, &content, &summary, &provider, &model, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Text = content.String
		e.AttachmentSummary = summary.String
		e.Provider = provider.String
		e.Model = model.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Clear removes all turns for a chat.
func (s *SQLiteStore) Clear(ctx context.Context, chatID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	_, _ = s.db.ExecContext(ctx, `DELETE FROM conversations WHERE chat_id = ?`, chatID)
	return nil
}

// Prune deletes turns older than the retention window.
func (s *SQLiteStore) Prune(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("history pruned", "removed", n, "retention_days", retentionDays)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
