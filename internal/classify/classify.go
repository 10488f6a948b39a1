// Package classify maps free-text messages to task categories using
// ordered keyword rules, and resolves each category to a provider/model
// pair. Classification is deterministic: first matching rule wins.
package classify

import (
	"fmt"
	"log/slog"
	"strings"

	"cedbot/internal/config"
)

// Task categories.
const (
	CategoryCreative       = "CREATIVE"
	CategoryAnalytical     = "ANALYTICAL"
	CategoryCode           = "CODE"
	CategoryFactual        = "FACTUAL"
	CategoryTechnical      = "TECHNICAL"
	CategoryConversational = "CONVERSATIONAL"
	CategoryManual         = "MANUAL"
)

// Confidence levels attached to a classification result.
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
	ConfidenceManual = "manual"
)

// ErrInvalidProvider is returned by ForceProvider for unsupported names.
var ErrInvalidProvider = fmt.Errorf("invalid provider")

// Result is a per-request classification. It is never persisted.
type Result struct {
	Category   string
	Provider   string
	Model      string
	Confidence string
}

// Rule pairs a category with its keyword set. Rules are evaluated in
// declaration order; the first substring match wins and later rules are
// never reached.
type Rule struct {
	Category   string
	Confidence string
	Keywords   []string
}

// DefaultRules returns the ordered rule list. The order is part of the
// routing contract: CREATIVE before ANALYTICAL before CODE before FACTUAL
// before TECHNICAL. Reordering changes which provider handles overlapping
// inputs.
func DefaultRules() []Rule {
	return []Rule{
		{
			Category:   CategoryCreative,
			Confidence: ConfidenceHigh,
			Keywords: []string{
				"write a story", "creative", "poem", "fiction", "narrative",
				"imagine", "describe", "storytelling", "character", "plot",
			},
		},
		{
			Category:   CategoryAnalytical,
			Confidence: ConfidenceHigh,
			Keywords: []string{
				"analyze", "evaluate", "compare", "assess", "consider",
				"reasoning", "logic", "think about", "philosophical", "ethical",
			},
		},
		{
			Category:   CategoryCode,
			Confidence: ConfidenceHigh,
			Keywords: []string{
				"code", "function", "debug", "programming", "javascript",
				"python", "html", "css", "api", "algorithm", "syntax",
			},
		},
		{
			Category:   CategoryFactual,
			Confidence: ConfidenceMedium,
			Keywords: []string{
				"what is", "who is", "when did", "where is", "define",
				"fact", "information", "lookup", "search",
			},
		},
		{
			Category:   CategoryTechnical,
			Confidence: ConfidenceMedium,
			Keywords: []string{
				"documentation", "technical", "specification", "api reference",
				"install", "setup", "configuration", "deploy",
			},
		},
	}
}

// manualProviders are the names accepted by ForceProvider.
var manualProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
}

// Classifier evaluates the ordered rule list against message text.
type Classifier struct {
	rules  []Rule
	routes map[string]config.CategoryRoute
	logger *slog.Logger
}

// New builds a classifier over the default rules and the given
// category to provider/model table.
func New(routes map[string]config.CategoryRoute, logger *slog.Logger) *Classifier {
	return &Classifier{
		rules:  DefaultRules(),
		routes: routes,
		logger: logger,
	}
}

// Rules exposes the evaluation order.
func (c *Classifier) Rules() []Rule {
	return c.rules
}

// Classify returns the first matching rule's category with its configured
// provider/model. Unmatched text falls through to CONVERSATIONAL with low
// confidence.
func (c *Classifier) Classify(text string) Result {
	lower := strings.ToLower(text)

	for _, rule := range c.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				route := c.routes[rule.Category]
				c.logger.Info("message classified",
					"category", rule.Category,
					"keyword", kw,
					"provider", route.Provider,
					"model", route.Model,
					"confidence", rule.Confidence,
				)
				return Result{
					Category:   rule.Category,
					Provider:   route.Provider,
					Model:      route.Model,
					Confidence: rule.Confidence,
				}
			}
		}
	}

	route := c.routes[CategoryConversational]
	c.logger.Info("message classified",
		"category", CategoryConversational,
		"provider", route.Provider,
		"model", route.Model,
		"confidence", ConfidenceLow,
	)
	return Result{
		Category:   CategoryConversational,
		Provider:   route.Provider,
		Model:      route.Model,
		Confidence: ConfidenceLow,
	}
}

// ForceProvider bypasses classification for manual routing. Only the
// text-path providers may be forced.
func (c *Classifier) ForceProvider(provider string) (Result, error) {
	if !manualProviders[provider] {
		return Result{}, fmt.Errorf("%w: %s (must be 'openai' or 'anthropic')", ErrInvalidProvider, provider)
	}
	return Result{
		Category:   CategoryManual,
		Provider:   provider,
		Confidence: ConfidenceManual,
	}, nil
}
