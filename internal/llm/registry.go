package llm

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrUnknownModel is returned when no provider family matches a model name.
var ErrUnknownModel = errors.New("unknown model family")

// ErrMissingAPIKey is returned when a model resolves to a provider whose API
// key was not configured.
var ErrMissingAPIKey = errors.New("missing API key for provider")

// Keys holds the per-vendor API keys the registry can construct clients from.
type Keys struct {
	OpenAI    string
	Anthropic string
	Google    string
	Mistral   string
}

// Registry resolves model names to providers, constructing each vendor
// client once on first use.
type Registry struct {
	keys   Keys
	logger *logrus.Logger

	mu        sync.Mutex
	providers map[string]Provider
}

// NewRegistry creates a provider registry.
func NewRegistry(keys Keys, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		keys:      keys,
		logger:    logger,
		providers: make(map[string]Provider),
	}
}

// familyFor sniffs the provider family from a model name.
func familyFor(model string) (string, bool) {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "claude"):
		return "anthropic", true
	case strings.Contains(lower, "gemini"):
		return "google", true
	case strings.Contains(lower, "mistral") || strings.Contains(lower, "mixtral"):
		return "mistral", true
	case strings.HasPrefix(lower, "gpt") || strings.HasPrefix(lower, "o1") ||
		strings.HasPrefix(lower, "o3") || strings.HasPrefix(lower, "chatgpt"):
		return "openai", true
	}
	return "", false
}

// ProviderFor returns the provider serving the given model.
func (r *Registry) ProviderFor(model string) (Provider, error) {
	family, ok := familyFor(model)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.providers[family]; ok {
		return p, nil
	}

	var p Provider
	switch family {
	case "anthropic":
		if r.keys.Anthropic == "" {
			return nil, fmt.Errorf("%w: anthropic", ErrMissingAPIKey)
		}
		p = NewAnthropic(r.keys.Anthropic, r.logger)
	case "google":
		if r.keys.Google == "" {
			return nil, fmt.Errorf("%w: google", ErrMissingAPIKey)
		}
		p = NewGemini(r.keys.Google, r.logger)
	case "mistral":
		if r.keys.Mistral == "" {
			return nil, fmt.Errorf("%w: mistral", ErrMissingAPIKey)
		}
		p = NewMistral(r.keys.Mistral, r.logger)
	case "openai":
		if r.keys.OpenAI == "" {
			return nil, fmt.Errorf("%w: openai", ErrMissingAPIKey)
		}
		p = NewOpenAI(r.keys.OpenAI, r.logger)
	}

	r.logger.WithFields(logrus.Fields{
		"provider": family,
		"model":    model,
	}).Debug("Initialized LLM provider")

	r.providers[family] = p
	return p, nil
}

// ValidateModel reports whether the model can be served with the configured
// keys, without constructing a client.
func (r *Registry) ValidateModel(model string) error {
	family, ok := familyFor(model)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	var key string
	switch family {
	case "anthropic":
		key = r.keys.Anthropic
	case "google":
		key = r.keys.Google
	case "mistral":
		key = r.keys.Mistral
	case "openai":
		key = r.keys.OpenAI
	}
	if key == "" {
		return fmt.Errorf("%w: %s", ErrMissingAPIKey, family)
	}
	return nil
}
