package channel

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"cedbot/internal/bus"
	"cedbot/internal/config"
	"cedbot/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewTelegramAllowList(t *testing.T) {
	tg := NewTelegram(TelegramConfig{
		Token:     "test-token",
		AllowFrom: []string{"12345", " 678 ", "not-a-number"},
		Limits:    config.Defaults().Limits,
		Logger:    testLogger(),
	})

	if !tg.isAllowed(12345) {
		t.Error("12345 should be allowed")
	}
	if !tg.isAllowed(678) {
		t.Error("678 should be allowed (whitespace trimmed)")
	}
	if tg.isAllowed(999) {
		t.Error("999 should not be allowed")
	}
}

func TestIsAllowedEmptyListAllowsAll(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Token: "t", Logger: testLogger()})
	if !tg.isAllowed(42) {
		t.Error("empty allow list should allow everyone")
	}
}

func TestIsTextualMime(t *testing.T) {
	cases := []struct {
		mime string
		want bool
	}{
		{"text/plain", true},
		{"text/markdown", true},
		{"application/json", true},
		{"application/x-yaml", true},
		{"application/octet-stream", false},
		{"image/png", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := isTextualMime(tc.mime); got != tc.want {
			t.Errorf("isTextualMime(%q) = %v, want %v", tc.mime, got, tc.want)
		}
	}
}

func TestAttachmentApology(t *testing.T) {
	cases := []struct {
		name string
		msg  *tgbotapi.Message
		want string
	}{
		{"photo", &tgbotapi.Message{Photo: []tgbotapi.PhotoSize{{}}}, "⚠️ Failed to process image. Please try again."},
		{"voice", &tgbotapi.Message{Voice: &tgbotapi.Voice{}}, "⚠️ Failed to process voice message. Please try again."},
		{"audio", &tgbotapi.Message{Audio: &tgbotapi.Audio{}}, "⚠️ Failed to process voice message. Please try again."},
		{"video", &tgbotapi.Message{Video: &tgbotapi.Video{}}, "⚠️ Failed to process video. Please try again."},
		{"document", &tgbotapi.Message{Document: &tgbotapi.Document{}}, "⚠️ Failed to process document. Please try again."},
		{"unknown", &tgbotapi.Message{}, "⚠️ Failed to process attachment. Please try again."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := attachmentApology(tc.msg); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestHandleUpdateBeforeConnect(t *testing.T) {
	tg := NewTelegram(TelegramConfig{
		Token:  "test-token",
		Limits: config.Defaults().Limits,
		Logger: testLogger(),
	})

	update := tgbotapi.Update{
		UpdateID: 1,
		Message: &tgbotapi.Message{
			MessageID: 1,
			From:      &tgbotapi.User{ID: 42},
			Chat:      &tgbotapi.Chat{ID: 42},
			Text:      "hello",
		},
	}

	err := tg.HandleUpdate(context.Background(), update)
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("err = %v, want ErrNotConnected", err)
	}
}

func TestSplitMessage(t *testing.T) {
	t.Run("short text single chunk", func(t *testing.T) {
		chunks := splitMessage("hello", 4000)
		if len(chunks) != 1 || chunks[0] != "hello" {
			t.Errorf("chunks = %v", chunks)
		}
	})

	t.Run("long text splits on newline", func(t *testing.T) {
		part1 := strings.Repeat("a", 3500)
		part2 := strings.Repeat("b", 1000)
		chunks := splitMessage(part1+"\n"+part2, 4000)
		if len(chunks) != 2 {
			t.Fatalf("got %d chunks, want 2", len(chunks))
		}
		if chunks[0] != part1 {
			t.Errorf("first chunk should end at the newline, len = %d", len(chunks[0]))
		}
		if chunks[1] != "\n"+part2 {
			t.Errorf("second chunk len = %d", len(chunks[1]))
		}
	})

	t.Run("no newline hard split at limit", func(t *testing.T) {
		chunks := splitMessage(strings.Repeat("x", 9000), 4000)
		if len(chunks) != 3 {
			t.Fatalf("got %d chunks, want 3", len(chunks))
		}
		if len(chunks[0]) != 4000 || len(chunks[1]) != 4000 || len(chunks[2]) != 1000 {
			t.Errorf("chunk lens = %d, %d, %d", len(chunks[0]), len(chunks[1]), len(chunks[2]))
		}
	})

	t.Run("early newline ignored", func(t *testing.T) {
		// A newline in the first half should not produce a tiny chunk.
		text := "short\n" + strings.Repeat("y", 5000)
		chunks := splitMessage(text, 4000)
		if len(chunks[0]) != 4000 {
			t.Errorf("first chunk len = %d, want hard split at 4000", len(chunks[0]))
		}
	})

	t.Run("hard split lands on rune boundary", func(t *testing.T) {
		// 2-byte runes with an odd limit force the cut into the middle
		// of a rune unless the split walks back.
		text := strings.Repeat("é", 50)
		chunks := splitMessage(text, 25)
		if len(chunks) < 2 {
			t.Fatalf("got %d chunks, want a split", len(chunks))
		}
		var rejoined string
		for i, chunk := range chunks {
			if !utf8.ValidString(chunk) {
				t.Errorf("chunk %d is not valid UTF-8: %q", i, chunk)
			}
			rejoined += chunk
		}
		if rejoined != text {
			t.Error("chunks do not rejoin to the original text")
		}
	})
}

func TestCLIPublishesAndQuits(t *testing.T) {
	b := bus.New(4, testLogger())
	defer b.Close()

	in := strings.NewReader("hello there\n/quit\n")
	cli := NewCLI(CLIConfig{Logger: testLogger(), In: in, Out: io.Discard})

	done := make(chan error, 1)
	go func() {
		done <- cli.Start(context.Background(), b)
	}()

	select {
	case msg := <-b.Subscribe():
		if msg.Channel != "cli" {
			t.Errorf("channel = %q, want cli", msg.Channel)
		}
		if msg.ChatID != "direct" {
			t.Errorf("chat id = %q, want direct", msg.ChatID)
		}
		if msg.Content != "hello there" {
			t.Errorf("content = %q", msg.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no inbound message published")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("/quit did not stop the REPL")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestCLIPrintsOutbound(t *testing.T) {
	b := bus.New(4, testLogger())
	defer b.Close()

	out := &syncBuffer{}
	in, inW := io.Pipe()
	cli := NewCLI(CLIConfig{Logger: testLogger(), In: in, Out: out})

	go func() {
		_ = cli.Start(context.Background(), b)
	}()

	// Give Start a moment to register the outbound handler.
	deadline := time.Now().Add(2 * time.Second)
	for {
		b.SendOutbound(domain.OutboundMessage{Channel: "cli", ChatID: "direct", Content: "reply text here"})
		if strings.Contains(out.String(), "reply text here") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("outbound reply never printed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	_ = inW.Close()
}
