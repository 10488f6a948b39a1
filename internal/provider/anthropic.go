package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"

	"cedbot/internal/domain"
)

const anthropicDefaultModel = "claude-sonnet-4-20250514"

// Anthropic implements domain.Provider on the Anthropic Messages API.
// It accepts image attachments inline; audio and video are not supported
// and must be transcribed upstream.
type Anthropic struct {
	client *anthropic.Client
	apiKey string
	model  string
	logger *slog.Logger
}

type AnthropicConfig struct {
	APIKey string
	Model  string
	Logger *slog.Logger
}

func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.Model == "" {
		cfg.Model = anthropicDefaultModel
	}
	cl := anthropic.NewClient(anthropicopt.WithAPIKey(cfg.APIKey))
	return &Anthropic{
		client: &cl,
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		logger: cfg.Logger,
	}
}

func (a *Anthropic) Name() string { return "anthropic" }

func (a *Anthropic) Models() []string {
	return []string{
		"claude-opus-4-20250514",
		"claude-sonnet-4-20250514",
		"claude-haiku-4-5-20241022",
	}
}

func (a *Anthropic) Healthy(ctx context.Context) error {
	if a.apiKey == "" {
		return fmt.Errorf("anthropic: %w", ErrMissingCredentials)
	}
	return nil
}

func (a *Anthropic) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if a.apiKey == "" {
		return nil, fmt.Errorf("anthropic: %w", ErrMissingCredentials)
	}
	model := req.Model
	if model == "" {
		model = a.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	msgs := make([]anthropic.MessageParam, 0, len(req.History)+1)
	for _, h := range req.History {
		text := historyText(h)
		if text == "" {
			continue
		}
		if h.Role == "assistant" {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
		}
	}

	var blocks []anthropic.ContentBlockParamUnion
	if att := req.Attachment; att != nil {
		switch att.Kind {
		case domain.AttachmentImage:
			encoded := base64.StdEncoding.EncodeToString(att.Data)
			blocks = append(blocks, anthropic.NewImageBlockBase64(att.MediaType, encoded))
		case domain.AttachmentDocument:
			// Text-extractable documents arrive as text.
		default:
			return nil, fmt.Errorf("anthropic: unsupported attachment kind %q", att.Kind)
		}
	}
	blocks = append(blocks, anthropic.NewTextBlock(promptText(req)))
	msgs = append(msgs, anthropic.NewUserMessage(blocks...))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	start := time.Now()
	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic chat: %w", err)
	}

	var b strings.Builder
	for _, cb := range msg.Content {
		if tb, ok := cb.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return nil, fmt.Errorf("anthropic: %w", ErrEmptyResponse)
	}

	return &domain.ChatResponse{
		Text:      out,
		Model:     model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
