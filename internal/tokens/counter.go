// Package tokens provides token counting and cost estimation across the
// model families the debate server talks to.
package tokens

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/sirupsen/logrus"
)

// modelPricing is USD per 1M tokens.
type modelPricing struct {
	Input  float64
	Output float64
}

// pricing is a static table; unknown models fall back to gpt-4o.
var pricing = map[string]modelPricing{
	// OpenAI
	"gpt-4o":        {Input: 2.50, Output: 10.00},
	"gpt-4o-mini":   {Input: 0.15, Output: 0.60},
	"gpt-4-turbo":   {Input: 10.00, Output: 30.00},
	"gpt-4":         {Input: 30.00, Output: 60.00},
	"gpt-3.5-turbo": {Input: 0.50, Output: 1.50},

	// Anthropic
	"claude-3-5-sonnet-20241022": {Input: 3.00, Output: 15.00},
	"claude-3-5-haiku-20241022":  {Input: 0.80, Output: 4.00},
	"claude-3-opus-20240229":     {Input: 15.00, Output: 75.00},
	"claude-3-sonnet-20240229":   {Input: 3.00, Output: 15.00},
	"claude-3-haiku-20240307":    {Input: 0.25, Output: 1.25},

	// Google
	"gemini-1.5-pro":   {Input: 1.25, Output: 5.00},
	"gemini-1.5-flash": {Input: 0.075, Output: 0.30},
	"gemini-pro":       {Input: 0.50, Output: 1.50},

	// Mistral
	"mistral-large-latest":  {Input: 2.00, Output: 6.00},
	"mistral-medium-latest": {Input: 2.70, Output: 8.10},
	"mistral-small-latest":  {Input: 0.20, Output: 0.60},
	"open-mistral-7b":       {Input: 0.25, Output: 0.25},
}

const defaultPricingModel = "gpt-4o"

// Per-message framing overhead and reply primer, a fixed approximation of
// chat-template inflation.
const (
	messageOverheadTokens = 4
	replyPrimerTokens     = 2
)

// WarningLevel grades accumulated cost against a configured threshold.
type WarningLevel string

const (
	WarnNone     WarningLevel = "none"
	WarnLow      WarningLevel = "low"
	WarnMedium   WarningLevel = "medium"
	WarnHigh     WarningLevel = "high"
	WarnCritical WarningLevel = "critical"
)

// ChatMessage is the minimal shape the counter needs to size a chat turn.
type ChatMessage struct {
	Role    string
	Content string
}

// Counter counts tokens with cached tiktoken encoders and estimates cost
// from the static price table.
type Counter struct {
	logger *logrus.Logger

	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

// NewCounter creates a token counter.
func NewCounter(logger *logrus.Logger) *Counter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Counter{
		logger:   logger,
		encoders: make(map[string]*tiktoken.Tiktoken),
	}
}

// encoderFor returns a cached encoder for the model, or nil if none can be
// acquired. Models outside the GPT family share cl100k_base.
func (c *Counter) encoderFor(model string) *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()

	if enc, ok := c.encoders[model]; ok {
		return enc
	}

	var (
		enc *tiktoken.Tiktoken
		err error
	)
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "gpt-4"):
		enc, err = tiktoken.EncodingForModel("gpt-4")
	case strings.Contains(lower, "gpt-3.5"):
		enc, err = tiktoken.EncodingForModel("gpt-3.5-turbo")
	default:
		enc, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			c.logger.WithError(err).Warnf("No encoder available for %s, using character fallback", model)
			c.encoders[model] = nil
			return nil
		}
	}

	c.encoders[model] = enc
	return enc
}

// CountTokens returns the model's native token count for text. If no encoder
// can be acquired it falls back to ceil(len/4); the result is authoritative
// either way.
func (c *Counter) CountTokens(text, model string) int {
	enc := c.encoderFor(model)
	if enc == nil {
		return (len(text) + 3) / 4
	}
	return len(enc.Encode(text, nil, nil))
}

// CountMessageTokens sizes a chat message list including the per-message
// framing overhead and the assistant reply primer.
func (c *Counter) CountMessageTokens(messages []ChatMessage, model string) int {
	total := 0
	for _, msg := range messages {
		total += messageOverheadTokens
		total += c.CountTokens(msg.Role, model)
		total += c.CountTokens(msg.Content, model)
	}
	return total + replyPrimerTokens
}

// EstimateCost estimates USD cost for the token usage on a model. Unknown
// models use the default flagship pricing and log a warning.
func (c *Counter) EstimateCost(inputTokens, outputTokens int, model string) float64 {
	p, ok := lookupPricing(model)
	if !ok {
		c.logger.Warnf("No pricing data for %s, using %s as default", model, defaultPricingModel)
		p = pricing[defaultPricingModel]
	}
	inputCost := float64(inputTokens) / 1_000_000 * p.Input
	outputCost := float64(outputTokens) / 1_000_000 * p.Output
	return inputCost + outputCost
}

// lookupPricing matches on substring so versioned identifiers resolve to
// their family entry.
func lookupPricing(model string) (modelPricing, bool) {
	lower := strings.ToLower(model)
	for key, p := range pricing {
		if strings.Contains(lower, key) {
			return p, true
		}
	}
	return modelPricing{}, false
}

// CostWarningLevel grades cost against threshold.
func CostWarningLevel(cost, threshold float64) WarningLevel {
	if threshold <= 0 {
		return WarnNone
	}
	switch {
	case cost < threshold*0.5:
		return WarnNone
	case cost < threshold*0.75:
		return WarnLow
	case cost < threshold:
		return WarnMedium
	case cost < threshold*1.5:
		return WarnHigh
	default:
		return WarnCritical
	}
}

// WarningMessage renders the human-readable message for a warning level.
func WarningMessage(level WarningLevel, cost, threshold float64) string {
	switch level {
	case WarnLow:
		return fmt.Sprintf("Debate cost approaching threshold (%s / %s)", FormatCost(cost), FormatCost(threshold))
	case WarnMedium:
		return fmt.Sprintf("Debate cost near threshold (%s / %s)", FormatCost(cost), FormatCost(threshold))
	case WarnHigh:
		return fmt.Sprintf("Debate cost exceeded threshold (%s / %s)", FormatCost(cost), FormatCost(threshold))
	case WarnCritical:
		return fmt.Sprintf("CRITICAL: debate cost significantly exceeded threshold (%s / %s)", FormatCost(cost), FormatCost(threshold))
	default:
		return ""
	}
}

// FormatCost formats a USD amount for display.
func FormatCost(cost float64) string {
	return fmt.Sprintf("$%.4f", cost)
}
