package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"cedbot/internal/domain"
)

const geminiDefaultModel = "gemini-2.0-flash"

// Gemini implements domain.Provider on the Google Generative AI API.
// It is the only adapter that accepts audio and video attachments, so
// routing sends all raw media here.
type Gemini struct {
	apiKey string
	model  string
	logger *slog.Logger

	once    sync.Once
	client  *genai.Client
	initErr error
}

type GeminiConfig struct {
	APIKey string
	Model  string
	Logger *slog.Logger
}

func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.Model == "" {
		cfg.Model = geminiDefaultModel
	}
	return &Gemini{
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		logger: cfg.Logger,
	}
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Models() []string {
	return []string{"gemini-2.0-flash", "gemini-2.5-pro", "gemini-2.5-flash"}
}

func (g *Gemini) Healthy(ctx context.Context) error {
	if g.apiKey == "" {
		return fmt.Errorf("gemini: %w", ErrMissingCredentials)
	}
	return nil
}

// ensureClient creates the SDK client on first use. The SDK constructor
// takes a context, so creation is deferred out of NewGemini.
func (g *Gemini) ensureClient(ctx context.Context) (*genai.Client, error) {
	g.once.Do(func() {
		g.client, g.initErr = genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	})
	return g.client, g.initErr
}

func (g *Gemini) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	if g.apiKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrMissingCredentials)
	}
	client, err := g.ensureClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gemini init: %w", err)
	}

	modelName := req.Model
	if modelName == "" {
		modelName = g.model
	}
	model := client.GenerativeModel(modelName)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.Temperature > 0 {
		model.SetTemperature(float32(req.Temperature))
	}

	session := model.StartChat()
	for _, h := range req.History {
		text := historyText(h)
		if text == "" {
			continue
		}
		role := "user"
		if h.Role == "assistant" {
			role = "model"
		}
		session.History = append(session.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(text)},
		})
	}

	var parts []genai.Part
	if att := req.Attachment; att != nil && att.Kind != domain.AttachmentDocument && len(att.Data) > 0 {
		parts = append(parts, genai.Blob{MIMEType: att.MediaType, Data: att.Data})
	}
	parts = append(parts, genai.Text(promptText(req)))

	start := time.Now()
	resp, err := session.SendMessage(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("gemini chat: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return nil, fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}

	return &domain.ChatResponse{
		Text:      out,
		Model:     modelName,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
