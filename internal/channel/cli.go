package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"cedbot/internal/domain"
)

// cliExitWords stop the REPL.
var cliExitWords = map[string]bool{"/quit": true, "/exit": true, "/q": true}

// CLI is a terminal front end, mainly for local testing without a
// Telegram token.
type CLI struct {
	bus     domain.MessageBus
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	spinner *spinner
}

type CLIConfig struct {
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	return &CLI{
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		spinner: &spinner{out: cfg.Out},
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the read loop until /quit, EOF, or context cancellation.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus

	bus.OnOutbound("cli", func(msg domain.OutboundMessage) {
		c.spinner.stop()
		fmt.Fprint(c.out, "\r\033[K")
		fmt.Fprintf(c.out, "\n--- Ced ---\n%s\n-----------\n", msg.Content)
		c.prompt()
	})

	c.logger.Debug("cli channel started")
	fmt.Fprintln(c.out, "Ced CLI. Type a message, /quit to exit.")
	c.prompt()

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			c.prompt()
		case cliExitWords[line]:
			return nil
		default:
			c.spinner.start()
			c.bus.Publish(domain.InboundMessage{
				Channel:  "cli",
				ChatID:   "direct",
				SenderID: "user",
				Content:  line,
			})
		}
	}
}

func (c *CLI) prompt() {
	fmt.Fprint(c.out, "You> ")
}

func (c *CLI) Stop() error { return nil }

func (c *CLI) Send(ctx context.Context, chatID string, content string) error {
	_, err := fmt.Fprintln(c.out, content)
	return err
}

// spinner renders a braille progress indicator while a reply is pending.
type spinner struct {
	out io.Writer

	mu      sync.Mutex
	running bool
	done    chan struct{}
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

func (s *spinner) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-done:
				return
			case <-ticker.C:
				fmt.Fprintf(s.out, "\r%s Thinking...", spinnerFrames[i%len(spinnerFrames)])
			}
		}
	}(s.done)
}

func (s *spinner) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	close(s.done)
}
