package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:              "info",
			LogFormat:             "text",
			DefaultProvider:       "anthropic",
			MaxConcurrentMessages: 5,
			MaxTokens:             1024,
			Temperature:           0.7,
			RequestTimeoutSeconds: 120,
		},
		Providers: map[string]ProviderConfig{
			"anthropic": {
				Enabled:      true,
				APIKey:       "${ANTHROPIC_API_KEY}",
				DefaultModel: "claude-sonnet-4-20250514",
			},
			"openai": {
				Enabled:      true,
				APIKey:       "${OPENAI_API_KEY}",
				DefaultModel: "gpt-4o",
			},
			"gemini": {
				Enabled:      true,
				APIKey:       "${GEMINI_API_KEY}",
				DefaultModel: "gemini-2.0-flash",
			},
			"ollama": {
				Enabled:      false,
				APIBase:      "http://localhost:11434",
				DefaultModel: "llama3.1:8b",
			},
		},
		Routing: RoutingConfig{
			MultimodalProvider: "gemini",
			Categories: map[string]CategoryRoute{
				"CREATIVE":       {Provider: "anthropic", Model: "claude-sonnet-4-20250514"},
				"ANALYTICAL":     {Provider: "anthropic", Model: "claude-opus-4-20250514"},
				"CODE":           {Provider: "openai", Model: "gpt-4o"},
				"FACTUAL":        {Provider: "openai", Model: "gpt-4o-mini"},
				"TECHNICAL":      {Provider: "openai", Model: "gpt-4o"},
				"CONVERSATIONAL": {Provider: "anthropic", Model: "claude-haiku-4-5-20241022"},
			},
			AudioStrategy: "two_step",
			VideoStrategy: "two_step",
			ImageStrategy: "direct",
		},
		Persona: PersonaConfig{},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				Token:     "${TELEGRAM_BOT_TOKEN}",
				ParseMode: "Markdown",
			},
			CLI: CLIConfig{
				Enabled: true,
			},
		},
		History: HistoryConfig{
			Enabled:       true,
			DBPath:        "~/.cedbot/history.db",
			WindowTurns:   10,
			RetentionDays: 365,
		},
		Limits: LimitsConfig{
			MaxImageBytes:          5 * 1024 * 1024,
			MaxAudioBytes:          8 * 1024 * 1024,
			MaxVideoBytes:          10 * 1024 * 1024,
			MaxDocumentBytes:       15 * 1024 * 1024,
			DownloadTimeoutSeconds: 30,
		},
		Web: WebConfig{
			Enabled:     false,
			Host:        "0.0.0.0",
			Port:        8080,
			WebhookPath: "/webhook",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
