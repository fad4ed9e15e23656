// Package quality implements the analysis pipeline that runs after every
// debate turn: contradiction detection, loop detection and health scoring.
package quality

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/krjordan/quorum/internal/database"
	"github.com/krjordan/quorum/internal/llm"
	"github.com/krjordan/quorum/internal/models"
)

// judgeModel runs the cheap yes/no and explanation calls.
const judgeModel = "gpt-4o-mini"

// similarityThreshold is the minimum cosine similarity before two messages
// are even considered for contradiction analysis.
const similarityThreshold = 0.85

// strongIndicators upgrade a medium contradiction to high when they appear
// in the judge's explanation.
var strongIndicators = []string{
	"directly contradicts",
	"completely opposite",
	"mutually exclusive",
	"impossible",
	"logically inconsistent",
}

// Completer is the single LLM call the quality detectors need.
type Completer interface {
	Complete(ctx context.Context, req llm.Request) (llm.Response, error)
}

type contradictionStore interface {
	SimilarMessages(ctx context.Context, conversationID string, vector []float32, excludeMessageID string, limit int) ([]database.SimilarMessage, error)
	InsertContradiction(ctx context.Context, c *models.Contradiction) error
}

// ContradictionDetector finds semantically close but opposing statements.
type ContradictionDetector struct {
	store  contradictionStore
	judge  Completer
	logger *logrus.Logger
}

// NewContradictionDetector creates a detector.
func NewContradictionDetector(store contradictionStore, judge Completer, logger *logrus.Logger) *ContradictionDetector {
	if logger == nil {
		logger = logrus.New()
	}
	return &ContradictionDetector{store: store, judge: judge, logger: logger}
}

// Detect compares a newly persisted message against the conversation's
// embedding index and records any contradictions found. The message's
// embedding must already be stored; vector is that same embedding.
func (d *ContradictionDetector) Detect(ctx context.Context, conversationID string, msg models.Message, vector []float32) ([]models.Contradiction, error) {
	similar, err := d.store.SimilarMessages(ctx, conversationID, vector, msg.ID, 20)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	var found []models.Contradiction
	for _, hit := range similar {
		if hit.Similarity < similarityThreshold {
			continue
		}

		opposed, err := d.checkOpposition(ctx, msg.Content, hit.Message.Content)
		if err != nil {
			// A failed judge call must not sink the turn; skip the pair.
			d.logger.WithError(err).Warn("Contradiction judge call failed")
			continue
		}
		if !opposed {
			continue
		}

		explanation := d.explain(ctx, msg.Content, hit.Message.Content)
		contradiction := models.Contradiction{
			ConversationID: conversationID,
			MessageIDA:     msg.ID,
			MessageIDB:     hit.Message.ID,
			Similarity:     hit.Similarity,
			Severity:       classifySeverity(hit.Similarity, explanation),
			Explanation:    explanation,
		}
		if err := d.store.InsertContradiction(ctx, &contradiction); err != nil {
			return found, fmt.Errorf("store contradiction: %w", err)
		}
		found = append(found, contradiction)
	}

	if len(found) > 0 {
		d.logger.WithFields(logrus.Fields{
			"conversation_id": conversationID,
			"message_id":      msg.ID,
			"count":           len(found),
		}).Info("Detected contradictions")
	}
	return found, nil
}

// checkOpposition asks the judge whether two statements contradict.
func (d *ContradictionDetector) checkOpposition(ctx context.Context, a, b string) (bool, error) {
	prompt := fmt.Sprintf(`Analyze these two statements and determine if they express opposing or contradictory viewpoints.

Statement 1: %s

Statement 2: %s

Consider:
1. Do they make opposite claims about the same topic?
2. Do they contradict each other's core assertions?
3. Would accepting both statements create a logical inconsistency?

Respond with ONLY "YES" if they are contradictory, or "NO" if they are not.
`, a, b)

	resp, err := d.judge.Complete(ctx, llm.Request{
		Model:  judgeModel,
		System: "You are an expert at detecting logical contradictions and opposing viewpoints.",
		Messages: []llm.Message{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(resp.Content)), "YES"), nil
}

// explain asks the judge for a short explanation of the contradiction.
func (d *ContradictionDetector) explain(ctx context.Context, a, b string) string {
	prompt := fmt.Sprintf(`Explain how these two statements contradict each other. Be specific and concise (2-3 sentences).

Statement 1: %s

Statement 2: %s

Explanation:`, a, b)

	resp, err := d.judge.Complete(ctx, llm.Request{
		Model:  judgeModel,
		System: "You are an expert at analyzing logical contradictions.",
		Messages: []llm.Message{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		d.logger.WithError(err).Warn("Contradiction explanation call failed")
		return "Unable to generate explanation"
	}
	return strings.TrimSpace(resp.Content)
}

// classifySeverity grades a contradiction from its similarity and the
// judge's explanation. Critical exists in the schema but is never produced
// here.
func classifySeverity(similarity float64, explanation string) models.ContradictionSeverity {
	if similarity >= 0.9 {
		return models.SeverityHigh
	}
	if similarity >= similarityThreshold {
		lower := strings.ToLower(explanation)
		for _, indicator := range strongIndicators {
			if strings.Contains(lower, indicator) {
				return models.SeverityHigh
			}
		}
		return models.SeverityMedium
	}
	return models.SeverityLow
}
