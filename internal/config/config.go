package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for Ced Bot.
type Config struct {
	General   GeneralConfig             `json:"general"`
	Providers map[string]ProviderConfig `json:"providers"`
	Routing   RoutingConfig             `json:"routing"`
	Persona   PersonaConfig             `json:"persona"`
	Channels  ChannelsConfig            `json:"channels"`
	History   HistoryConfig             `json:"history"`
	Limits    LimitsConfig              `json:"limits"`
	Web       WebConfig                 `json:"web"`
	Metrics   MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string  `json:"logLevel"`
	LogFormat             string  `json:"logFormat,omitempty"` // "text" | "json"
	DefaultProvider       string  `json:"defaultProvider"`
	MaxConcurrentMessages int     `json:"maxConcurrentMessages"`
	MaxTokens             int     `json:"maxTokens"`
	Temperature           float64 `json:"temperature"`
	// RequestTimeoutSeconds caps each provider call; 0 disables the cap.
	RequestTimeoutSeconds int `json:"requestTimeoutSeconds"`
}

// RequestTimeout returns the per-call provider deadline.
func (g GeneralConfig) RequestTimeout() time.Duration {
	return time.Duration(g.RequestTimeoutSeconds) * time.Second
}

type ProviderConfig struct {
	Enabled      bool   `json:"enabled"`
	APIKey       string `json:"apiKey,omitempty"`
	APIBase      string `json:"apiBase,omitempty"`
	DefaultModel string `json:"defaultModel,omitempty"`
}

// RoutingConfig maps classifier categories to provider/model pairs and
// selects how media requests are handled.
type RoutingConfig struct {
	MultimodalProvider string                   `json:"multimodalProvider"`
	Categories         map[string]CategoryRoute `json:"categories"`
	// MediaStrategy per modality: "two_step" (transcribe with the
	// multimodal provider, then respond through text routing) or
	// "direct" (single call to the multimodal provider).
	AudioStrategy string `json:"audioStrategy"`
	VideoStrategy string `json:"videoStrategy"`
	ImageStrategy string `json:"imageStrategy"`
}

type CategoryRoute struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type PersonaConfig struct {
	File string `json:"file,omitempty"` // optional YAML persona file; built-in default otherwise
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	CLI      CLIConfig      `json:"cli"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
	ParseMode string         `json:"parseMode"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	// Fallback: array of mixed types
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

type HistoryConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"dbPath"`
	WindowTurns   int    `json:"windowTurns"` // turns kept as provider context (x2 records)
	RetentionDays int    `json:"retentionDays"`
}

// LimitsConfig caps attachment downloads per modality.
type LimitsConfig struct {
	MaxImageBytes          int64 `json:"maxImageBytes"`
	MaxAudioBytes          int64 `json:"maxAudioBytes"`
	MaxVideoBytes          int64 `json:"maxVideoBytes"`
	MaxDocumentBytes       int64 `json:"maxDocumentBytes"`
	DownloadTimeoutSeconds int   `json:"downloadTimeoutSeconds"`
}

// Max returns the byte ceiling for the given attachment kind.
func (l LimitsConfig) Max(kind string) int64 {
	switch kind {
	case "image":
		return l.MaxImageBytes
	case "audio":
		return l.MaxAudioBytes
	case "video":
		return l.MaxVideoBytes
	case "document":
		return l.MaxDocumentBytes
	}
	return 0
}

type WebConfig struct {
	Enabled     bool   `json:"enabled"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	WebhookPath string `json:"webhookPath"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.cedbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cedbot"
	}
	return filepath.Join(home, ".cedbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.History.DBPath = ExpandPath(cfg.History.DBPath)
	cfg.Persona.File = ExpandPath(cfg.Persona.File)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.General.MaxTokens < 1 {
		errs = append(errs, "general.maxTokens must be >= 1")
	}
	if cfg.General.Temperature < 0 || cfg.General.Temperature > 2 {
		errs = append(errs, "general.temperature must be between 0 and 2")
	}
	if cfg.General.RequestTimeoutSeconds < 0 {
		errs = append(errs, "general.requestTimeoutSeconds must be >= 0")
	}

	if cfg.Web.Port < 0 || cfg.Web.Port > 65535 {
		errs = append(errs, "web.port must be between 0 and 65535")
	}

	if cfg.History.WindowTurns < 1 {
		errs = append(errs, "history.windowTurns must be >= 1")
	}
	if cfg.History.RetentionDays < 1 {
		errs = append(errs, "history.retentionDays must be >= 1")
	}

	if cfg.Limits.DownloadTimeoutSeconds < 1 {
		errs = append(errs, "limits.downloadTimeoutSeconds must be >= 1")
	}

	if cfg.Routing.MultimodalProvider == "" {
		errs = append(errs, "routing.multimodalProvider is required")
	}
	for _, strategy := range []struct{ name, val string }{
		{"routing.audioStrategy", cfg.Routing.AudioStrategy},
		{"routing.videoStrategy", cfg.Routing.VideoStrategy},
		{"routing.imageStrategy", cfg.Routing.ImageStrategy},
	} {
		switch strategy.val {
		case "two_step", "direct":
			// valid
		default:
			errs = append(errs, fmt.Sprintf("%s must be one of: two_step, direct", strategy.name))
		}
	}

	// Validate category routes reference configured providers.
	for cat, route := range cfg.Routing.Categories {
		if route.Provider == "" {
			errs = append(errs, fmt.Sprintf("routing.categories.%s: provider is required", cat))
			continue
		}
		if _, ok := cfg.Providers[route.Provider]; !ok {
			errs = append(errs, fmt.Sprintf("routing.categories.%s references unknown provider: %s", cat, route.Provider))
		}
	}

	if _, ok := cfg.Providers[cfg.General.DefaultProvider]; cfg.General.DefaultProvider != "" && !ok {
		errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
