// Package router selects a provider for each inbound message and
// dispatches the call. Media goes straight to the multimodal provider;
// text runs through keyword classification first.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"cedbot/internal/classify"
	"cedbot/internal/config"
	"cedbot/internal/domain"
	"cedbot/internal/metrics"
	"cedbot/internal/persona"
	"cedbot/internal/provider"
)

// Request is one message to route. At most one attachment; history is
// already windowed in chronological order.
type Request struct {
	ChatID         string
	Text           string
	Attachment     *domain.Attachment
	ForcedProvider string
	History        []domain.HistoryEntry
}

// Result is the routing outcome. Route never returns an error: failures
// are reported through Success=false and Err so callers always get a
// uniform envelope.
type Result struct {
	Success        bool
	Text           string
	Provider       string
	Model          string
	Classification string
	Confidence     string
	RequestID      string
	ElapsedMs      int64
	Err            error
}

// Router wires the classifier, the persona composer, and the provider
// factory together.
type Router struct {
	classifier *classify.Classifier
	factory    *provider.Factory
	persona    persona.Persona
	cfg        *config.Config
	logger     *slog.Logger
}

func New(cfg *config.Config, factory *provider.Factory, p persona.Persona, logger *slog.Logger) *Router {
	return &Router{
		classifier: classify.New(cfg.Routing.Categories, logger),
		factory:    factory,
		persona:    p,
		cfg:        cfg,
		logger:     logger,
	}
}

// Route classifies and dispatches one message. The decision order is
// fixed: attachment first, forced provider second, keyword classification
// last.
func (r *Router) Route(ctx context.Context, req Request) Result {
	start := time.Now()
	id := uuid.NewString()
	metrics.RoutesTotal.Inc()

	res := r.route(ctx, req, id)
	res.RequestID = id
	res.ElapsedMs = time.Since(start).Milliseconds()
	metrics.RouteLatency.Observe(time.Since(start).Seconds())

	if res.Success {
		r.logger.Info("message routed",
			"request_id", id,
			"chat_id", req.ChatID,
			"classification", res.Classification,
			"provider", res.Provider,
			"model", res.Model,
			"elapsed_ms", res.ElapsedMs)
	} else {
		metrics.RouteFailures.Inc()
		r.logger.Error("routing failed",
			"request_id", id,
			"chat_id", req.ChatID,
			"classification", res.Classification,
			"provider", res.Provider,
			"error", res.Err)
	}
	return res
}

func (r *Router) route(ctx context.Context, req Request, id string) Result {
	// Media pre-check beats everything, including forced providers and
	// classifier keywords in the caption. Documents are not media: they
	// carry extracted text and route like any text message.
	if att := req.Attachment; att != nil && att.Kind != domain.AttachmentDocument {
		return r.routeMedia(ctx, req)
	}

	var cls classify.Result
	if req.ForcedProvider != "" {
		forced, err := r.classifier.ForceProvider(req.ForcedProvider)
		if err != nil {
			return Result{Classification: classify.CategoryManual, Err: err}
		}
		cls = forced
	} else {
		cls = r.classifier.Classify(req.Text)
	}
	metrics.ClassificationsByCategory(cls.Category).Inc()

	p, err := r.factory.Get(cls.Provider)
	if err != nil {
		return Result{
			Classification: cls.Category,
			Provider:       cls.Provider,
			Err:            fmt.Errorf("provider %s unavailable: %w", cls.Provider, err),
		}
	}

	resp, err := r.dispatch(ctx, p, domain.ChatRequest{
		System:      persona.SystemPrompt(r.persona, req.Text, req.Attachment),
		Text:        req.Text,
		Attachment:  req.Attachment,
		Model:       cls.Model,
		MaxTokens:   r.cfg.General.MaxTokens,
		Temperature: r.cfg.General.Temperature,
		History:     req.History,
	})
	if err != nil {
		return Result{Classification: cls.Category, Provider: cls.Provider, Model: cls.Model, Err: err}
	}

	return Result{
		Success:        true,
		Text:           resp.Text,
		Provider:       cls.Provider,
		Model:          resp.Model,
		Classification: cls.Category,
		Confidence:     cls.Confidence,
	}
}

func (r *Router) routeMedia(ctx context.Context, req Request) Result {
	label := "MEDIA_" + strings.ToUpper(string(req.Attachment.Kind))
	metrics.MediaTotal.Inc()
	metrics.ClassificationsByCategory(label).Inc()

	p, err := r.factory.Multimodal()
	if err != nil {
		return Result{
			Classification: label,
			Err:            fmt.Errorf("multimodal provider unavailable: %w", err),
		}
	}

	resp, err := r.dispatch(ctx, p, domain.ChatRequest{
		System:      persona.SystemPrompt(r.persona, req.Text, req.Attachment),
		Text:        req.Text,
		Attachment:  req.Attachment,
		MaxTokens:   r.cfg.General.MaxTokens,
		Temperature: r.cfg.General.Temperature,
		History:     req.History,
	})
	if err != nil {
		return Result{Classification: label, Provider: p.Name(), Err: err}
	}

	return Result{
		Success:        true,
		Text:           resp.Text,
		Provider:       p.Name(),
		Model:          resp.Model,
		Classification: label,
	}
}

// Transcribe sends an attachment to the multimodal provider with a bare
// instruction prompt and no history or persona. Used as step one of the
// two-step media pipeline.
func (r *Router) Transcribe(ctx context.Context, att *domain.Attachment, prompt string) (string, error) {
	p, err := r.factory.Multimodal()
	if err != nil {
		return "", fmt.Errorf("multimodal provider unavailable: %w", err)
	}
	resp, err := r.dispatch(ctx, p, domain.ChatRequest{
		Text:       prompt,
		Attachment: att,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

func (r *Router) dispatch(ctx context.Context, p domain.Provider, req domain.ChatRequest) (*domain.ChatResponse, error) {
	metrics.DispatchesByProvider(p.Name()).Inc()

	timeout := r.cfg.General.RequestTimeout()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return p.Chat(ctx, req)
}
