package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"cedbot/internal/classify"
	"cedbot/internal/config"
	"cedbot/internal/domain"
	"cedbot/internal/persona"
	"cedbot/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockProvider struct {
	name  string
	reply string
	err   error

	mu      sync.Mutex
	lastReq domain.ChatRequest
	calls   int
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastReq = req
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	model := req.Model
	if model == "" {
		model = "mock-model"
	}
	return &domain.ChatResponse{Text: m.reply, Model: model}, nil
}

func (m *mockProvider) Name() string                      { return m.name }
func (m *mockProvider) Models() []string                  { return []string{"mock-model"} }
func (m *mockProvider) Healthy(ctx context.Context) error { return nil }

func (m *mockProvider) last() domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastReq
}

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type testEnv struct {
	router    *Router
	anthropic *mockProvider
	openai    *mockProvider
	gemini    *mockProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Defaults()
	for name, pc := range cfg.Providers {
		pc.Enabled = true
		pc.APIKey = "test-key"
		cfg.Providers[name] = pc
	}

	env := &testEnv{
		anthropic: &mockProvider{name: "anthropic", reply: "from anthropic"},
		openai:    &mockProvider{name: "openai", reply: "from openai"},
		gemini:    &mockProvider{name: "gemini", reply: "from gemini"},
	}

	factory := provider.NewFactory(cfg, testLogger())
	factory.RegisterConstructor("anthropic", func(config.ProviderConfig, *slog.Logger) (domain.Provider, error) {
		return env.anthropic, nil
	})
	factory.RegisterConstructor("openai", func(config.ProviderConfig, *slog.Logger) (domain.Provider, error) {
		return env.openai, nil
	})
	factory.RegisterConstructor("gemini", func(config.ProviderConfig, *slog.Logger) (domain.Provider, error) {
		return env.gemini, nil
	})

	env.router = New(cfg, factory, persona.Default(), testLogger())
	return env
}

func TestRouteTextClassification(t *testing.T) {
	env := newTestEnv(t)
	res := env.router.Route(context.Background(), Request{Text: "write a story about a dragon"})
	if !res.Success {
		t.Fatalf("route failed: %v", res.Err)
	}
	if res.Classification != classify.CategoryCreative {
		t.Errorf("classification = %s, want CREATIVE", res.Classification)
	}
	if res.Provider != "anthropic" {
		t.Errorf("provider = %s, want anthropic", res.Provider)
	}
	if got := env.anthropic.last().Model; got != "claude-sonnet-4-20250514" {
		t.Errorf("model override = %s", got)
	}
	if res.RequestID == "" {
		t.Error("request id must be set")
	}
}

func TestRouteMediaBeatsKeywords(t *testing.T) {
	env := newTestEnv(t)
	// Caption full of CODE keywords must still go to the multimodal provider.
	res := env.router.Route(context.Background(), Request{
		Text:       "debug this function and fix the error",
		Attachment: &domain.Attachment{Kind: domain.AttachmentImage, MediaType: "image/png", Data: []byte{1}},
	})
	if !res.Success {
		t.Fatalf("route failed: %v", res.Err)
	}
	if res.Classification != "MEDIA_IMAGE" {
		t.Errorf("classification = %s, want MEDIA_IMAGE", res.Classification)
	}
	if res.Provider != "gemini" {
		t.Errorf("provider = %s, want gemini", res.Provider)
	}
	if env.openai.callCount() != 0 || env.anthropic.callCount() != 0 {
		t.Error("text providers must not be called for media")
	}
	if env.gemini.last().Attachment == nil {
		t.Error("attachment must reach the multimodal provider")
	}
}

func TestRouteMediaLabels(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		kind domain.AttachmentKind
		want string
	}{
		{domain.AttachmentAudio, "MEDIA_AUDIO"},
		{domain.AttachmentVideo, "MEDIA_VIDEO"},
	}
	for _, c := range cases {
		res := env.router.Route(context.Background(), Request{
			Attachment: &domain.Attachment{Kind: c.kind, Data: []byte{1}},
		})
		if res.Classification != c.want {
			t.Errorf("kind %s: classification = %s, want %s", c.kind, res.Classification, c.want)
		}
	}
}

func TestRouteDocumentGoesThroughTextPath(t *testing.T) {
	env := newTestEnv(t)
	res := env.router.Route(context.Background(), Request{
		Text:       "Please analyze this document",
		Attachment: &domain.Attachment{Kind: domain.AttachmentDocument, MediaType: "text/plain", Text: "report body"},
	})
	if !res.Success {
		t.Fatalf("route failed: %v", res.Err)
	}
	if res.Provider == "gemini" {
		t.Error("documents must not take the media path")
	}
	if res.Classification == "MEDIA_DOCUMENT" {
		t.Errorf("classification = %s", res.Classification)
	}
}

func TestRouteForcedProvider(t *testing.T) {
	env := newTestEnv(t)
	res := env.router.Route(context.Background(), Request{
		Text:           "write a story", // creative keywords must be ignored
		ForcedProvider: "openai",
	})
	if !res.Success {
		t.Fatalf("route failed: %v", res.Err)
	}
	if res.Classification != classify.CategoryManual {
		t.Errorf("classification = %s, want MANUAL", res.Classification)
	}
	if res.Provider != "openai" {
		t.Errorf("provider = %s, want openai", res.Provider)
	}
}

func TestRouteForcedProviderInvalid(t *testing.T) {
	env := newTestEnv(t)
	res := env.router.Route(context.Background(), Request{
		Text:           "hello",
		ForcedProvider: "gemini",
	})
	if res.Success {
		t.Fatal("forcing a non-manual provider must fail")
	}
	if !errors.Is(res.Err, classify.ErrInvalidProvider) {
		t.Errorf("err = %v, want ErrInvalidProvider", res.Err)
	}
}

func TestRouteProviderFailure(t *testing.T) {
	env := newTestEnv(t)
	env.openai.err = errors.New("rate limited")
	res := env.router.Route(context.Background(), Request{Text: "debug this function"})
	if res.Success {
		t.Fatal("expected failure result")
	}
	if res.Err == nil {
		t.Error("failure result must carry the error")
	}
	if res.Classification != classify.CategoryCode {
		t.Errorf("classification = %s, want CODE", res.Classification)
	}
}

func TestRouteSystemPromptCarriesPersona(t *testing.T) {
	env := newTestEnv(t)
	env.router.Route(context.Background(), Request{Text: "hello there"})
	sys := env.anthropic.last().System
	if sys == "" {
		t.Fatal("system prompt must be set")
	}
	for _, want := range []string{"PRIMARY IDENTITY", "COMMUNICATION PROTOCOL"} {
		if !strings.Contains(sys, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestRouteHistoryPassedThrough(t *testing.T) {
	env := newTestEnv(t)
	history := []domain.HistoryEntry{
		{Role: "user", Text: "hi"},
		{Role: "assistant", Text: "hello"},
	}
	env.router.Route(context.Background(), Request{Text: "how are you", History: history})
	if got := len(env.anthropic.last().History); got != 2 {
		t.Errorf("history length = %d, want 2", got)
	}
}

func TestTranscribe(t *testing.T) {
	env := newTestEnv(t)
	env.gemini.reply = "hello world"
	att := &domain.Attachment{Kind: domain.AttachmentAudio, MediaType: "audio/ogg", Data: []byte{1}}

	text, err := env.router.Transcribe(context.Background(), att, "Transcribe this audio accurately. Return ONLY the transcription, nothing else.")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q", text)
	}
	last := env.gemini.last()
	if last.System != "" {
		t.Error("transcription step must not carry the persona")
	}
	if len(last.History) != 0 {
		t.Error("transcription step must not carry history")
	}
	if last.Attachment == nil {
		t.Error("attachment must reach the transcription call")
	}
}
