package domain

import (
	"context"
	"time"
)

// HistoryStore is an append-only conversation log keyed by chat ID.
type HistoryStore interface {
	Append(ctx context.Context, chatID string, entry HistoryEntry) error
	// Recent returns at most limit*2 entries (limit turns, two roles each)
	// in chronological order, oldest first.
	Recent(ctx context.Context, chatID string, limit int) ([]HistoryEntry, error)
	Clear(ctx context.Context, chatID string) error
	Close() error
}

// HistoryEntry is one stored conversation turn. AttachmentSummary is kept
// as its own field; providers join it with Text only at the adapter
// boundary.
type HistoryEntry struct {
	Role              string    `json:"role"` // user | assistant
	Text              string    `json:"text"`
	AttachmentSummary string    `json:"attachment_summary,omitempty"`
	Provider          string    `json:"provider,omitempty"`
	Model             string    `json:"model,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
