package provider

import (
	"strings"

	"cedbot/internal/domain"
)

const defaultMaxTokens = 1024

// historyText flattens a stored turn into the single text line sent to a
// provider. The attachment marker and the turn text are joined here and
// nowhere else; entries that end up empty are dropped by the callers.
// promptText assembles the user-turn text for a provider call. Media
// attachments get a default instruction when no caption was provided;
// text-extractable documents are inlined after the caption.
func promptText(req domain.ChatRequest) string {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		text = "Please analyze this content."
	}
	if att := req.Attachment; att != nil && att.Kind == domain.AttachmentDocument && att.Text != "" {
		text += "\n\n--- Document content ---\n" + att.Text
	}
	return text
}

func historyText(e domain.HistoryEntry) string {
	parts := make([]string, 0, 2)
	if e.AttachmentSummary != "" {
		parts = append(parts, e.AttachmentSummary)
	}
	if t := strings.TrimSpace(e.Text); t != "" {
		parts = append(parts, t)
	}
	return strings.Join(parts, " ")
}
