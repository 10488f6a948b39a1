// Package gateway runs the message loop: consume inbound messages,
// wrap routing with conversation history, and send replies back through
// the bus. The two-step media pipeline lives here.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cedbot/internal/config"
	"cedbot/internal/domain"
	"cedbot/internal/metrics"
	"cedbot/internal/router"
)

const (
	defaultConcurrency = 5

	fallbackReply = "No response"
	errorReply    = "⚠️ Sorry, I encountered an error. Please try again."

	audioTranscribePrompt = "Transcribe this audio accurately. Return ONLY the transcription, nothing else."
	videoTranscribePrompt = "Transcribe any speech in this video accurately. If there is no speech, briefly describe what is shown. Return ONLY the transcription or description, nothing else."
	imageDescribePrompt   = "Describe this image in detail. What do you see? If there is text, read it. Be factual and concise."
)

// Loop consumes inbound messages with bounded concurrency and replies
// through the bus.
type Loop struct {
	router      *router.Router
	history     domain.HistoryStore
	bus         domain.MessageBus
	cfg         *config.Config
	logger      *slog.Logger
	concurrency int
}

type LoopConfig struct {
	Router      *router.Router
	History     domain.HistoryStore // nil disables history
	Bus         domain.MessageBus
	Config      *config.Config
	Logger      *slog.Logger
	Concurrency int
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Loop{
		router:      cfg.Router,
		history:     cfg.History,
		bus:         cfg.Bus,
		cfg:         cfg.Config,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
	}
}

// Run consumes inbound messages until the context is cancelled or the
// bus closes.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("gateway loop started", "concurrency", l.concurrency)

	sem := make(chan struct{}, l.concurrency)
	inbound := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("gateway loop stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, gateway loop stopping")
				return
			}
			sem <- struct{}{}
			go func(m domain.InboundMessage) {
				defer func() { <-sem }()
				l.processMessage(ctx, m)
			}(msg)
		}
	}
}

// ProcessDirect handles a message synchronously and returns the reply.
// Used by the CLI channel and the one-shot chat command.
func (l *Loop) ProcessDirect(ctx context.Context, content, channel, chatID string) (string, error) {
	return l.handleMessage(ctx, domain.InboundMessage{
		Channel:   channel,
		ChatID:    chatID,
		SenderID:  "user",
		Content:   content,
		Timestamp: time.Now(),
	})
}

func (l *Loop) processMessage(ctx context.Context, msg domain.InboundMessage) {
	metrics.MessagesTotal.Inc()
	l.logger.Info("processing message",
		"channel", msg.Channel,
		"chat_id", msg.ChatID,
		"sender", msg.SenderID,
		"has_attachment", msg.Attachment != nil,
	)

	reply, err := l.handleMessage(ctx, msg)
	if err != nil {
		if errors.Is(err, errNothingToDo) {
			return
		}
		l.logger.Error("message handling failed", "chat_id", msg.ChatID, "error", err)
		reply = errorReply
	}

	l.bus.SendOutbound(domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: reply,
		Format:  "markdown",
	})
}

// errNothingToDo marks messages with no text and no attachment; they are
// silently dropped, matching the transport behavior users expect.
var errNothingToDo = errors.New("empty message")

func (l *Loop) handleMessage(ctx context.Context, msg domain.InboundMessage) (string, error) {
	if strings.TrimSpace(msg.Content) == "" && msg.Attachment == nil {
		return "", errNothingToDo
	}

	chatKey := msg.Channel + ":" + msg.ChatID
	history := l.loadHistory(ctx, chatKey)

	req := router.Request{
		ChatID:         msg.ChatID,
		Text:           msg.Content,
		Attachment:     msg.Attachment,
		ForcedProvider: msg.Provider,
		History:        history,
	}
	storedUserText := msg.Content

	// Two-step media pipeline: transcribe or describe with the multimodal
	// provider first, then route the enriched text with history so the
	// persona-bearing text provider writes the reply.
	if att := msg.Attachment; att != nil && l.strategyFor(att.Kind) == "two_step" {
		metrics.TwoStepTotal.Inc()
		transcript, err := l.transcribe(ctx, msg.Content, att)
		if err != nil {
			return "", err
		}
		req.Text = transcript
		req.Attachment = nil
		storedUserText = transcript
	}

	res := l.router.Route(ctx, req)
	if !res.Success {
		return "", res.Err
	}

	reply := res.Text
	if strings.TrimSpace(reply) == "" {
		reply = fallbackReply
	}

	l.saveTurns(ctx, chatKey, msg, storedUserText, reply, res)
	return reply, nil
}

// transcribe runs step one and folds the result into the user context
// string that step two routes as plain text.
func (l *Loop) transcribe(ctx context.Context, caption string, att *domain.Attachment) (string, error) {
	var prompt string
	switch att.Kind {
	case domain.AttachmentAudio:
		prompt = audioTranscribePrompt
	case domain.AttachmentVideo:
		prompt = videoTranscribePrompt
	case domain.AttachmentImage:
		prompt = imageDescribePrompt
	default:
		return "", fmt.Errorf("no two-step pipeline for %q attachments", att.Kind)
	}

	transcript, err := l.router.Transcribe(ctx, att, prompt)
	if err != nil {
		return "", fmt.Errorf("media transcription: %w", err)
	}
	l.logger.Debug("media transcribed", "kind", att.Kind, "transcript_len", len(transcript))

	switch att.Kind {
	case domain.AttachmentAudio:
		if caption != "" {
			return caption + " [Voice message transcription: " + transcript + "]", nil
		}
		return "[Voice message from user. They said: " + transcript + "]", nil
	case domain.AttachmentVideo:
		if caption != "" {
			return caption + " [Video message analysis: " + transcript + "]", nil
		}
		return "[User sent a video message. Analysis: " + transcript + "]", nil
	default:
		if caption != "" {
			return caption + " [Image description: " + transcript + "]", nil
		}
		return "[User sent an image. Description: " + transcript + "]", nil
	}
}

func (l *Loop) strategyFor(kind domain.AttachmentKind) string {
	switch kind {
	case domain.AttachmentAudio:
		return l.cfg.Routing.AudioStrategy
	case domain.AttachmentVideo:
		return l.cfg.Routing.VideoStrategy
	case domain.AttachmentImage:
		return l.cfg.Routing.ImageStrategy
	}
	return "direct"
}

func (l *Loop) loadHistory(ctx context.Context, chatKey string) []domain.HistoryEntry {
	if l.history == nil || !l.cfg.History.Enabled {
		return nil
	}
	entries, err := l.history.Recent(ctx, chatKey, l.cfg.History.WindowTurns)
	if err != nil {
		metrics.HistoryFailures.Inc()
		l.logger.Warn("failed to load history, continuing without it", "chat", chatKey, "error", err)
		return nil
	}
	return entries
}

func (l *Loop) saveTurns(ctx context.Context, chatKey string, msg domain.InboundMessage, userText, reply string, res router.Result) {
	if l.history == nil || !l.cfg.History.Enabled {
		return
	}
	var summary string
	if msg.Attachment != nil {
		summary = msg.Attachment.Summary()
	}
	if err := l.history.Append(ctx, chatKey, domain.HistoryEntry{
		Role:              "user",
		Text:              userText,
		AttachmentSummary: summary,
		CreatedAt:         msg.Timestamp,
	}); err != nil {
		metrics.HistoryFailures.Inc()
		l.logger.Warn("failed to save user turn", "chat", chatKey, "error", err)
	}
	if err := l.history.Append(ctx, chatKey, domain.HistoryEntry{
		Role:     "assistant",
		Text:     reply,
		Provider: res.Provider,
		Model:    res.Model,
	}); err != nil {
		metrics.HistoryFailures.Inc()
		l.logger.Warn("failed to save assistant turn", "chat", chatKey, "error", err)
	}
}
