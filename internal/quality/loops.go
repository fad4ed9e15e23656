package quality

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/krjordan/quorum/internal/llm"
	"github.com/krjordan/quorum/internal/models"
)

const (
	minPatternLength = 2
	maxPatternLength = 6
	minRepetitions   = 2
	// loopLookback bounds how many trailing messages are scanned per check.
	loopLookback = 20
)

type loopStore interface {
	InsertLoop(ctx context.Context, l *models.Loop) error
}

// LoopDetector spots repeating speaker patterns in the recent transcript.
type LoopDetector struct {
	store  loopStore
	judge  Completer
	logger *logrus.Logger
}

// NewLoopDetector creates a detector.
func NewLoopDetector(store loopStore, judge Completer, logger *logrus.Logger) *LoopDetector {
	if logger == nil {
		logger = logrus.New()
	}
	return &LoopDetector{store: store, judge: judge, logger: logger}
}

// Detect scans the trailing window of messages for a repeating speaker
// pattern, preferring longer patterns. Returns nil when no loop is found.
func (d *LoopDetector) Detect(ctx context.Context, conversationID string, messages []models.Message) (*models.Loop, error) {
	if len(messages) > loopLookback {
		messages = messages[len(messages)-loopLookback:]
	}
	if len(messages) < minPatternLength*minRepetitions {
		return nil, nil
	}

	sequence := make([]string, len(messages))
	for i, m := range messages {
		sequence[i] = m.AgentName
	}

	maxLen := len(sequence) / 2
	if maxLen > maxPatternLength {
		maxLen = maxPatternLength
	}
	for patternLen := maxLen; patternLen >= minPatternLength; patternLen-- {
		loop := d.findRepetition(messages, sequence, patternLen)
		if loop == nil {
			continue
		}
		loop.ConversationID = conversationID
		loop.InterventionText = d.intervention(ctx, loop.Pattern, loop.RepetitionCount, messages, loop.MessageIDs)

		if err := d.store.InsertLoop(ctx, loop); err != nil {
			return nil, fmt.Errorf("store loop: %w", err)
		}
		d.logger.WithFields(logrus.Fields{
			"conversation_id": conversationID,
			"pattern":         loop.Pattern,
			"repetitions":     loop.RepetitionCount,
		}).Info("Detected conversation loop")
		return loop, nil
	}
	return nil, nil
}

// findRepetition looks for the most frequent speaker pattern of the given
// length, requiring at least minRepetitions occurrences.
func (d *LoopDetector) findRepetition(messages []models.Message, sequence []string, patternLen int) *models.Loop {
	if len(sequence) < patternLen*minRepetitions {
		return nil
	}

	type occurrence struct {
		start int
	}
	counts := make(map[string][]occurrence)
	order := make([]string, 0)
	for i := 0; i+patternLen <= len(sequence); i++ {
		key := strings.Join(sequence[i:i+patternLen], "\x00")
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}
		counts[key] = append(counts[key], occurrence{start: i})
	}

	var bestKey string
	bestCount := 0
	for _, key := range order {
		if n := len(counts[key]); n > bestCount {
			bestCount = n
			bestKey = key
		}
	}
	if bestCount < minRepetitions {
		return nil
	}

	agents := strings.Split(bestKey, "\x00")
	var messageIDs []string
	var involved []models.Message
	for _, occ := range counts[bestKey] {
		for offset := 0; offset < patternLen; offset++ {
			msg := messages[occ.start+offset]
			messageIDs = append(messageIDs, msg.ID)
			involved = append(involved, msg)
		}
	}

	return &models.Loop{
		Pattern:         strings.Join(agents, " -> "),
		Fingerprint:     PatternFingerprint(involved),
		MessageIDs:      messageIDs,
		RepetitionCount: bestCount,
		AgentsInvolved:  uniqueStrings(agents),
	}
}

// PatternFingerprint hashes the speaker and leading content of each message
// so the same loop is recognized across checks.
func PatternFingerprint(messages []models.Message) string {
	parts := make([]string, len(messages))
	for i, msg := range messages {
		snippet := msg.Content
		if len(snippet) > 100 {
			snippet = snippet[:100]
		}
		snippet = strings.ToLower(strings.TrimSpace(snippet))
		parts[i] = msg.AgentName + ":" + snippet
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// intervention asks the judge for a short facilitator message to break the
// loop, with a static fallback when the call fails.
func (d *LoopDetector) intervention(ctx context.Context, pattern string, repetitions int, messages []models.Message, messageIDs []string) string {
	inLoop := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		inLoop[id] = true
	}

	var summaries []string
	for _, msg := range messages {
		if !inLoop[msg.ID] || len(summaries) >= 6 {
			continue
		}
		snippet := msg.Content
		if len(snippet) > 150 {
			snippet = snippet[:150] + "..."
		}
		summaries = append(summaries, msg.AgentName+": "+snippet)
	}

	prompt := fmt.Sprintf(`A conversation has entered a repetitive loop. The pattern %q has repeated %d times.

Recent messages in the loop:
%s

Generate a brief, constructive intervention message (2-3 sentences) that:
1. Acknowledges the repetition
2. Suggests a new angle or approach
3. Encourages moving forward productively

Intervention:`, pattern, repetitions, strings.Join(summaries, "\n"))

	resp, err := d.judge.Complete(ctx, llm.Request{
		Model:  judgeModel,
		System: "You are a facilitator helping conversations avoid repetitive patterns.",
		Messages: []llm.Message{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		d.logger.WithError(err).Warn("Loop intervention call failed")
		return fmt.Sprintf(
			"The conversation appears to be repeating the pattern '%s'. Let's explore a different angle or approach to move forward productively.",
			pattern)
	}
	return strings.TrimSpace(resp.Content)
}

func uniqueStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
