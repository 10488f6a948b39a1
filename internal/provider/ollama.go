package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"

	"cedbot/internal/domain"
)

const (
	ollamaDefaultHost  = "http://localhost:11434"
	ollamaDefaultModel = "llama3.2"
)

// Ollama implements domain.Provider against a local Ollama server. No
// credentials are involved, so Healthy checks server reachability instead.
type Ollama struct {
	client *ollama.Client
	model  string
	logger *slog.Logger
}

type OllamaConfig struct {
	APIBase string
	Model   string
	Logger  *slog.Logger
}

func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	host := cfg.APIBase
	if host == "" {
		host = ollamaDefaultHost
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	if cfg.Model == "" {
		cfg.Model = ollamaDefaultModel
	}
	httpClient := &http.Client{Timeout: 120 * time.Second}
	return &Ollama{
		client: ollama.NewClient(u, httpClient),
		model:  cfg.Model,
		logger: cfg.Logger,
	}, nil
}

func (o *Ollama) Name() string { return "ollama" }

func (o *Ollama) Models() []string {
	return []string{"llama3.2", "mistral", "qwen2.5"}
}

func (o *Ollama) Healthy(ctx context.Context) error {
	if err := o.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama unreachable: %w", err)
	}
	return nil
}

func (o *Ollama) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	msgs := make([]ollama.Message, 0, len(req.History)+2)
	if req.System != "" {
		msgs = append(msgs, ollama.Message{Role: "system", Content: req.System})
	}
	for _, h := range req.History {
		text := historyText(h)
		if text == "" {
			continue
		}
		role := "user"
		if h.Role == "assistant" {
			role = "assistant"
		}
		msgs = append(msgs, ollama.Message{Role: role, Content: text})
	}

	userMsg := ollama.Message{Role: "user", Content: promptText(req)}
	if att := req.Attachment; att != nil && att.Kind == domain.AttachmentImage {
		userMsg.Images = []ollama.ImageData{ollama.ImageData(att.Data)}
	} else if att != nil && att.Kind != domain.AttachmentDocument {
		return nil, fmt.Errorf("ollama: unsupported attachment kind %q", att.Kind)
	}
	msgs = append(msgs, userMsg)

	opts := map[string]any{}
	if req.Temperature > 0 {
		opts["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}

	stream := false
	chatReq := &ollama.ChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   &stream,
		Options:  opts,
	}

	var b strings.Builder
	start := time.Now()
	err := o.client.Chat(ctx, chatReq, func(resp ollama.ChatResponse) error {
		b.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return nil, fmt.Errorf("ollama: %w", ErrEmptyResponse)
	}

	return &domain.ChatResponse{
		Text:      out,
		Model:     model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}
