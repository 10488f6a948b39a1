package domain

import "context"

// Provider is the interface all LLM backends must implement.
type Provider interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Name() string
	Models() []string
	Healthy(ctx context.Context) error
}

// ChatRequest carries one routed message to a provider adapter.
// At most one attachment is present; history is already windowed
// and in chronological order.
type ChatRequest struct {
	System      string
	Text        string
	Model       string
	MaxTokens   int
	Temperature float64
	Attachment  *Attachment
	History     []HistoryEntry
}

type ChatResponse struct {
	Text      string
	Model     string
	LatencyMs int64
}
