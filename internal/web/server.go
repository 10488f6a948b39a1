// Package web exposes the HTTP surface: health check, Telegram webhook
// intake, and Prometheus metrics.
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"cedbot/internal/channel"
	"cedbot/internal/config"
	"cedbot/internal/metrics"
)

// UpdateHandler processes a decoded Telegram update. Satisfied by
// channel.Telegram, which returns channel.ErrNotConnected until its
// Start has connected.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update) error
}

// Server is the HTTP front of the bot.
type Server struct {
	cfg     config.WebConfig
	updates UpdateHandler
	metrics *metrics.MetricsCollector
	logger  *slog.Logger
	srv     *http.Server
}

type ServerConfig struct {
	Web     config.WebConfig
	Metrics config.MetricsConfig
	Updates UpdateHandler // optional, enables the webhook route
	Logger  *slog.Logger
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.Web.Host == "" {
		cfg.Web.Host = "127.0.0.1"
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}

	s := &Server{
		cfg:     cfg.Web,
		updates: cfg.Updates,
		logger:  cfg.Logger,
	}
	if cfg.Metrics.Enabled {
		s.metrics = metrics.Collector
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "Ced Bot is running"})
	})
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	webhookPath := cfg.Web.WebhookPath
	if webhookPath == "" {
		webhookPath = "/webhook"
	}
	r.POST(webhookPath, s.handleWebhook)

	if s.metrics != nil {
		endpoint := cfg.Metrics.Endpoint
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapF(s.metrics.Handler()))
	}

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Handler returns the underlying HTTP handler. Used by tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) handleWebhook(c *gin.Context) {
	if s.updates == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": "webhook not configured"})
		return
	}

	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		s.logger.Warn("webhook decode failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid update payload"})
		return
	}

	if err := s.updates.HandleUpdate(c.Request.Context(), update); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, channel.ErrNotConnected) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Warn("webhook update rejected", "error", err)
		c.JSON(status, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
