package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"cedbot/internal/config"
	"cedbot/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

var (
	// ErrAttachmentTooLarge means the file exceeds its modality ceiling.
	ErrAttachmentTooLarge = errors.New("attachment exceeds size limit")

	// ErrDownloadFailed means the Telegram file could not be fetched.
	ErrDownloadFailed = errors.New("attachment download failed")

	// ErrNotConnected means Start has not finished connecting to the
	// Bot API yet, or failed to.
	ErrNotConnected = errors.New("telegram bot not connected")
)

// HistoryClearer is the subset of the history store the /clear command
// needs.
type HistoryClearer interface {
	Clear(ctx context.Context, chatID string) error
}

// Telegram implements domain.Channel for the Telegram Bot API.
type Telegram struct {
	token     string
	allowFrom []int64 // allowed user IDs (empty = allow all)
	parseMode string
	limits    config.LimitsConfig

	// mu guards bot: Start assigns it from its own goroutine while the
	// webhook feeds HandleUpdate from HTTP goroutines.
	mu  sync.RWMutex
	bot *tgbotapi.BotAPI

	bus     domain.MessageBus
	history HistoryClearer
	client  *http.Client
	logger  *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user IDs as strings
	ParseMode string
	Limits    config.LimitsConfig
	History   HistoryClearer // optional, enables /clear
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	timeout := time.Duration(cfg.Limits.DownloadTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		limits:    cfg.Limits,
		history:   cfg.History,
		client:    &http.Client{Timeout: timeout},
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.mu.Lock()
	t.bot = bot
	t.mu.Unlock()
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnOutbound("telegram", func(msg domain.OutboundMessage) {
		if msg.Content == "" {
			return
		}
		chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
		if err != nil {
			t.logger.Error("invalid chat ID for telegram outbound", "chatID", msg.ChatID, "err", err)
			return
		}
		t.sendMessage(chatID, msg.Content)
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if err := t.HandleUpdate(ctx, update); err != nil {
				t.logger.Warn("update handling failed", "err", err)
			}
		}
	}
}

// api returns the connected Bot API client, or ErrNotConnected until
// Start has established the connection.
func (t *Telegram) api() (*tgbotapi.BotAPI, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.bot == nil {
		return nil, ErrNotConnected
	}
	return t.bot, nil
}

// Stop is a no-op: the bot stops when Start's context is cancelled, and
// StopReceivingUpdates panics when called twice.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) Send(ctx context.Context, chatID string, content string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	t.sendMessage(id, content)
	return nil
}

// HandleUpdate processes one Telegram update. Exported so the webhook
// endpoint can feed updates through the same path as polling. Returns
// ErrNotConnected while Start has not finished connecting.
func (t *Telegram) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	bot, err := t.api()
	if err != nil {
		return err
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return nil
	}

	userID := msg.From.ID
	chatID := msg.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", msg.From.UserName,
		)
		t.sendMessage(chatID, "⛔ Unauthorized. Your user ID is not in the allow list.")
		return nil
	}

	if msg.IsCommand() {
		t.handleCommand(ctx, chatID, msg)
		return nil
	}

	att, err := t.extractAttachment(ctx, msg)
	if err != nil {
		t.logger.Warn("attachment handling failed", "chat_id", chatID, "error", err)
		t.sendMessage(chatID, attachmentApology(msg))
		return nil
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	if text == "" && att == nil {
		return nil
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
		"has_attachment", att != nil,
	)

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = bot.Send(typing)

	senderName := msg.From.FirstName
	if senderName == "" {
		senderName = msg.From.UserName
	}

	t.bus.Publish(domain.InboundMessage{
		Channel:    "telegram",
		ChatID:     strconv.FormatInt(chatID, 10),
		SenderID:   strconv.FormatInt(userID, 10),
		SenderName: senderName,
		Content:    text,
		Attachment: att,
		Timestamp:  time.Unix(int64(msg.Date), 0),
	})
	return nil
}

// extractAttachment downloads the message's media, if any, honoring the
// per-modality size ceiling. One attachment per message: photo wins over
// voice over video over document, matching the order users actually hit.
func (t *Telegram) extractAttachment(ctx context.Context, msg *tgbotapi.Message) (*domain.Attachment, error) {
	switch {
	case len(msg.Photo) > 0:
		// Telegram sends multiple resolutions; last is the largest.
		photo := msg.Photo[len(msg.Photo)-1]
		data, err := t.download(ctx, photo.FileID, t.limits.MaxImageBytes)
		if err != nil {
			return nil, err
		}
		return &domain.Attachment{
			Kind:      domain.AttachmentImage,
			MediaType: "image/jpeg",
			Data:      data,
			Size:      int64(len(data)),
		}, nil

	case msg.Voice != nil:
		data, err := t.download(ctx, msg.Voice.FileID, t.limits.MaxAudioBytes)
		if err != nil {
			return nil, err
		}
		mt := msg.Voice.MimeType
		if mt == "" {
			mt = "audio/ogg"
		}
		return &domain.Attachment{
			Kind:      domain.AttachmentAudio,
			MediaType: mt,
			Data:      data,
			Size:      int64(len(data)),
		}, nil

	case msg.Audio != nil:
		data, err := t.download(ctx, msg.Audio.FileID, t.limits.MaxAudioBytes)
		if err != nil {
			return nil, err
		}
		mt := msg.Audio.MimeType
		if mt == "" {
			mt = "audio/mpeg"
		}
		return &domain.Attachment{
			Kind:      domain.AttachmentAudio,
			MediaType: mt,
			Data:      data,
			Size:      int64(len(data)),
		}, nil

	case msg.Video != nil:
		data, err := t.download(ctx, msg.Video.FileID, t.limits.MaxVideoBytes)
		if err != nil {
			return nil, err
		}
		mt := msg.Video.MimeType
		if mt == "" {
			mt = "video/mp4"
		}
		return &domain.Attachment{
			Kind:      domain.AttachmentVideo,
			MediaType: mt,
			Data:      data,
			Size:      int64(len(data)),
		}, nil

	case msg.Document != nil:
		// PDFs are not handled; the message falls through as text-only.
		if msg.Document.MimeType == "application/pdf" {
			return nil, nil
		}
		data, err := t.download(ctx, msg.Document.FileID, t.limits.MaxDocumentBytes)
		if err != nil {
			return nil, err
		}
		att := &domain.Attachment{
			Kind:      domain.AttachmentDocument,
			MediaType: msg.Document.MimeType,
			Data:      data,
			Size:      int64(len(data)),
		}
		if isTextualMime(msg.Document.MimeType) {
			att.Text = string(data)
		}
		return att, nil
	}
	return nil, nil
}

func isTextualMime(mt string) bool {
	if strings.HasPrefix(mt, "text/") {
		return true
	}
	switch mt {
	case "application/json", "application/xml", "application/x-yaml", "application/javascript":
		return true
	}
	return false
}

// download fetches a Telegram file, aborting when it exceeds maxBytes.
func (t *Telegram) download(ctx context.Context, fileID string, maxBytes int64) ([]byte, error) {
	bot, err := t.api()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	url, err := bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrAttachmentTooLarge, resp.ContentLength, maxBytes)
	}

	reader := io.Reader(resp.Body)
	if maxBytes > 0 {
		reader = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrAttachmentTooLarge, maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrDownloadFailed)
	}
	return data, nil
}

// attachmentApology picks the user-facing failure line for the modality
// that failed.
func attachmentApology(msg *tgbotapi.Message) string {
	switch {
	case len(msg.Photo) > 0:
		return "⚠️ Failed to process image. Please try again."
	case msg.Voice != nil, msg.Audio != nil:
		return "⚠️ Failed to process voice message. Please try again."
	case msg.Video != nil:
		return "⚠️ Failed to process video. Please try again."
	case msg.Document != nil:
		return "⚠️ Failed to process document. Please try again."
	}
	return "⚠️ Failed to process attachment. Please try again."
}

func (t *Telegram) handleCommand(ctx context.Context, chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		t.sendMessage(chatID, "👋 Hello! I'm Ced.\n\nSend me text, images, voice messages, or videos and I'll respond.\n\nCommands:\n/status — Show bot status\n/clear — Clear conversation\n/help — Show this message")
	case "help":
		t.sendMessage(chatID, "📖 *Ced Bot Help*\n\nSend me any message and I'll route it to the right model.\n\nI can:\n• Answer questions\n• Analyze images and screenshots\n• Transcribe and respond to voice messages\n• Analyze videos\n• Read documents\n\nCommands:\n/status — Bot status\n/clear — Clear conversation")
	case "status":
		bot, err := t.api()
		if err != nil {
			return
		}
		t.sendMessage(chatID, fmt.Sprintf("🟢 Ced Bot is running\n\nBot: @%s\nYour ID: %d\nChat ID: %d", bot.Self.UserName, msg.From.ID, chatID))
	case "clear":
		if t.history != nil {
			key := "telegram:" + strconv.FormatInt(chatID, 10)
			if err := t.history.Clear(ctx, key); err != nil {
				t.logger.Warn("history clear failed", "chat", key, "error", err)
				t.sendMessage(chatID, "⚠️ Could not clear the conversation. Please try again.")
				return
			}
		}
		t.sendMessage(chatID, "🗑 Conversation cleared.")
	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	bot, err := t.api()
	if err != nil {
		t.logger.Warn("telegram send skipped", "chat_id", chatID, "err", err)
		return
	}
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		t.sendChunk(bot, chatID, chunk)
	}
}

// splitMessage breaks text into chunks below Telegram's 4096-char cap,
// preferring newline boundaries in the second half of each chunk. Hard
// cuts back up to the nearest rune start so no chunk carries a torn
// UTF-8 sequence.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			cutAt := strings.LastIndex(chunk[:maxLen], "\n")
			if cutAt < maxLen/2 {
				cutAt = maxLen
				for cutAt > 0 && !utf8.RuneStart(text[cutAt]) {
					cutAt--
				}
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// sendChunk sends a single message chunk with retry and rate limit handling.
// Strategy: try Markdown first → on parse error fallback to plain text → retry with backoff.
func (t *Telegram) sendChunk(bot *tgbotapi.BotAPI, chatID int64, text string) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}
		// On subsequent attempts: send as plain text (parse mode may be malformed).

		_, err := bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		// Handle Telegram rate limiting (HTTP 429).
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		// Markdown parse error on first attempt — immediately retry as plain text.
		if attempt == 0 && msg.ParseMode != "" &&
			strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text",
				"err", err, "parseMode", t.parseMode,
			)
			plainMsg := tgbotapi.NewMessage(chatID, text)
			if _, err2 := bot.Send(plainMsg); err2 == nil {
				return
			}
			// Plain also failed — fall through to backoff loop.
		}

		// Exponential backoff for other transient errors.
		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
