package history

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cedbot/internal/domain"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "history.db"),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendAndRecent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	turns := []domain.HistoryEntry{
		{Role: "user", Text: "hello"},
		{Role: "assistant", Text: "hi there", Provider: "anthropic", Model: "claude-sonnet-4-20250514"},
	}
	base := time.Now().Add(-time.Minute)
	for i, e := range turns {
		e.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := store.Append(ctx, "chat1", e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := store.Recent(ctx, "chat1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Role != "user" || got[1].Role != "assistant" {
		t.Errorf("entries out of order: %s, %s", got[0].Role, got[1].Role)
	}
	if got[1].Provider != "anthropic" {
		t.Errorf("provider = %q", got[1].Provider)
	}
}

func TestRecentWindowing(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	// 25 turns (50 records); limit 10 must return the newest 20 in
	// chronological order.
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 25; i++ {
		ts := base.Add(time.Duration(i) * time.Minute)
		if err := store.Append(ctx, "chat1", domain.HistoryEntry{
			Role: "user", Text: fmt.Sprintf("question %d", i), CreatedAt: ts,
		}); err != nil {
			t.Fatal(err)
		}
		if err := store.Append(ctx, "chat1", domain.HistoryEntry{
			Role: "assistant", Text: fmt.Sprintf("answer %d", i), CreatedAt: ts.Add(time.Second),
		}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.Recent(ctx, "chat1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 20 {
		t.Fatalf("got %d entries, want 20", len(got))
	}
	if got[0].Text != "question 15" {
		t.Errorf("first entry = %q, want question 15", got[0].Text)
	}
	if got[len(got)-1].Text != "answer 24" {
		t.Errorf("last entry = %q, want answer 24", got[len(got)-1].Text)
	}
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.Before(got[i-1].CreatedAt) {
			t.Fatalf("entries not chronological at %d", i)
		}
	}
}

func TestAssistantTruncation(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	long := strings.Repeat("é", 2500)
	if err := store.Append(ctx, "chat1", domain.HistoryEntry{Role: "assistant", Text: long}); err != nil {
		t.Fatal(err)
	}
	if err := store.Append(ctx, "chat2", domain.HistoryEntry{Role: "user", Text: long}); err != nil {
		t.Fatal(err)
	}

	got, err := store.Recent(ctx, "chat1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if n := len([]rune(got[0].Text)); n != 2000 {
		t.Errorf("assistant text stored %d runes, want 2000", n)
	}

	got, err = store.Recent(ctx, "chat2", 5)
	if err != nil {
		t.Fatal(err)
	}
	if n := len([]rune(got[0].Text)); n != 2500 {
		t.Errorf("user text stored %d runes, want 2500 (no truncation)", n)
	}
}

func TestAttachmentSummaryRoundTrip(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.Append(ctx, "chat1", domain.HistoryEntry{
		Role: "user", Text: "what is this", AttachmentSummary: "[User sent an IMAGE]",
	}); err != nil {
		t.Fatal(err)
	}
	got, err := store.Recent(ctx, "chat1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].AttachmentSummary != "[User sent an IMAGE]" {
		t.Errorf("attachment summary = %q", got[0].AttachmentSummary)
	}
	if got[0].Text != "what is this" {
		t.Errorf("text = %q (summary must stay a separate field)", got[0].Text)
	}
}

func TestClear(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	store.Append(ctx, "chat1", domain.HistoryEntry{Role: "user", Text: "a"})
	store.Append(ctx, "chat2", domain.HistoryEntry{Role: "user", Text: "b"})

	if err := store.Clear(ctx, "chat1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	got, _ := store.Recent(ctx, "chat1", 5)
	if len(got) != 0 {
		t.Errorf("chat1 should be empty, got %d", len(got))
	}
	got, _ = store.Recent(ctx, "chat2", 5)
	if len(got) != 1 {
		t.Errorf("chat2 must be untouched, got %d", len(got))
	}
}

func TestPrune(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	store.Append(ctx, "chat1", domain.HistoryEntry{
		Role: "user", Text: "old", CreatedAt: time.Now().AddDate(0, 0, -40),
	})
	store.Append(ctx, "chat1", domain.HistoryEntry{Role: "user", Text: "new"})

	n, err := store.Prune(ctx, 30)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	got, _ := store.Recent(ctx, "chat1", 5)
	if len(got) != 1 || got[0].Text != "new" {
		t.Errorf("remaining = %+v", got)
	}
}
