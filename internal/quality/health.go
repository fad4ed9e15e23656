package quality

import (
	"context"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/krjordan/quorum/internal/embedding"
	"github.com/krjordan/quorum/internal/models"
)

// Composite weights and status thresholds for the health score.
const (
	coherenceWeight    = 0.4
	progressWeight     = 0.3
	productivityWeight = 0.3

	excellentThreshold = 85
	goodThreshold      = 70
	fairThreshold      = 50
)

type batchEmbedder interface {
	GenerateBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type healthStore interface {
	InsertHealthSample(ctx context.Context, h *models.HealthSample) error
	UpdateConversationHealth(ctx context.Context, id string, score float64) error
}

// HealthScorer computes the composite conversation health score.
type HealthScorer struct {
	embedder batchEmbedder
	store    healthStore
	logger   *logrus.Logger
}

// NewHealthScorer creates a scorer.
func NewHealthScorer(embedder batchEmbedder, store healthStore, logger *logrus.Logger) *HealthScorer {
	if logger == nil {
		logger = logrus.New()
	}
	return &HealthScorer{embedder: embedder, store: store, logger: logger}
}

// Score computes, persists and returns the health sample for the trailing
// window of messages. totalParticipants is the configured participant count,
// used as the denominator for participation.
func (s *HealthScorer) Score(ctx context.Context, conversationID string, messages []models.Message, totalParticipants int) (*models.HealthSample, error) {
	if len(messages) == 0 {
		sample := &models.HealthSample{
			ConversationID:     conversationID,
			HealthScore:        50,
			CoherenceScore:     50,
			ContradictionScore: 100,
			LoopScore:          100,
			CitationScore:      100,
			ProgressScore:      50,
			ProductivityScore:  50,
			Status:             models.HealthFair,
			AnalysisMetadata:   map[string]any{"reason": "No messages to analyze"},
		}
		return sample, s.persist(ctx, sample)
	}

	coherence := s.coherence(ctx, messages)
	progress := progressScore(messages, totalParticipants)
	productivity := productivityScore(messages)

	overall := coherence*coherenceWeight + progress*progressWeight + productivity*productivityWeight

	sample := &models.HealthSample{
		ConversationID:     conversationID,
		HealthScore:        overall,
		CoherenceScore:     coherence,
		ContradictionScore: 100,
		LoopScore:          100,
		CitationScore:      100,
		ProgressScore:      progress,
		ProductivityScore:  productivity,
		Status:             statusFor(overall),
		MessageCount:       len(messages),
		AnalysisMetadata: map[string]any{
			"unique_agents": len(uniqueAgents(messages)),
			"weights": map[string]float64{
				"coherence":    coherenceWeight,
				"progress":     progressWeight,
				"productivity": productivityWeight,
			},
		},
	}

	s.logger.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"health_score":    overall,
		"status":          sample.Status,
	}).Debug("Calculated health score")

	return sample, s.persist(ctx, sample)
}

func (s *HealthScorer) persist(ctx context.Context, sample *models.HealthSample) error {
	if err := s.store.InsertHealthSample(ctx, sample); err != nil {
		return err
	}
	return s.store.UpdateConversationHealth(ctx, sample.ConversationID, sample.HealthScore)
}

// coherence scores the average cosine similarity of consecutive messages,
// mapped so 0.3 similarity is 0 and 1.0 is 100. Embedding failures yield the
// neutral 50.
func (s *HealthScorer) coherence(ctx context.Context, messages []models.Message) float64 {
	if len(messages) < 2 {
		return 100
	}

	contents := make([]string, len(messages))
	for i, m := range messages {
		contents[i] = m.Content
	}
	vectors, err := s.embedder.GenerateBatch(ctx, contents)
	if err != nil {
		s.logger.WithError(err).Warn("Coherence embedding failed, using neutral score")
		return 50
	}

	var total float64
	for i := 0; i < len(vectors)-1; i++ {
		total += embedding.CosineSimilarity(vectors[i], vectors[i+1])
	}
	avg := total / float64(len(vectors)-1)

	return clamp((avg-0.3)*142.86, 0, 100)
}

// progressScore blends message length, vocabulary diversity and agent
// participation.
func progressScore(messages []models.Message, totalParticipants int) float64 {
	var lengthSum float64
	for _, m := range messages {
		lengthSum += float64(len(m.Content))
	}
	avgLength := lengthSum / float64(len(messages))

	var variance float64
	for _, m := range messages {
		d := float64(len(m.Content)) - avgLength
		variance += d * d
	}
	variance /= float64(len(messages))
	lengthScore := math.Min(100, avgLength/10+math.Sqrt(variance)/5)

	var totalWords int
	wordSet := make(map[string]bool)
	for _, m := range messages {
		for _, w := range strings.Fields(strings.ToLower(m.Content)) {
			totalWords++
			wordSet[w] = true
		}
	}
	var diversityScore float64
	if totalWords > 0 {
		diversityScore = float64(len(wordSet)) / float64(totalWords) * 100
	}

	if totalParticipants < 1 {
		totalParticipants = 1
	}
	participationScore := math.Min(100, float64(len(uniqueAgents(messages)))/float64(totalParticipants)*100)

	score := lengthScore*0.3 + diversityScore*0.4 + participationScore*0.3
	return clamp(score, 0, 100)
}

// productivityScore blends pacing, message density and turn efficiency.
func productivityScore(messages []models.Message) float64 {
	if len(messages) < 2 {
		return 100
	}

	// Pacing: ideal gap between messages is 30-120 seconds.
	var gaps []float64
	for i := 0; i < len(messages)-1; i++ {
		if messages[i].CreatedAt.IsZero() || messages[i+1].CreatedAt.IsZero() {
			continue
		}
		gaps = append(gaps, messages[i+1].CreatedAt.Sub(messages[i].CreatedAt).Seconds())
	}
	timingScore := 75.0
	if len(gaps) > 0 {
		var sum float64
		for _, g := range gaps {
			sum += g
		}
		avgGap := sum / float64(len(gaps))
		switch {
		case avgGap >= 30 && avgGap <= 120:
			timingScore = 100
		case avgGap < 30:
			timingScore = 70
		case avgGap <= 300:
			timingScore = 80
		default:
			timingScore = 60
		}
	}

	// Density: ideal message length is 50-200 words.
	var wordSum float64
	for _, m := range messages {
		wordSum += float64(len(strings.Fields(m.Content)))
	}
	avgWords := wordSum / float64(len(messages))
	var densityScore float64
	switch {
	case avgWords >= 50 && avgWords <= 200:
		densityScore = 100
	case avgWords < 50:
		densityScore = math.Max(50, avgWords)
	default:
		densityScore = math.Max(70, 100-(avgWords-200)/10)
	}

	// Efficiency: penalize consecutive turns by the same agent.
	consecutiveSame := 0
	for i := 0; i < len(messages)-1; i++ {
		if messages[i].AgentName == messages[i+1].AgentName {
			consecutiveSame++
		}
	}
	efficiencyScore := (1 - float64(consecutiveSame)/float64(len(messages))) * 100

	score := timingScore*0.3 + densityScore*0.4 + efficiencyScore*0.3
	return clamp(score, 0, 100)
}

func statusFor(score float64) models.HealthStatus {
	switch {
	case score >= excellentThreshold:
		return models.HealthExcellent
	case score >= goodThreshold:
		return models.HealthGood
	case score >= fairThreshold:
		return models.HealthFair
	default:
		return models.HealthPoor
	}
}

func uniqueAgents(messages []models.Message) map[string]bool {
	agents := make(map[string]bool)
	for _, m := range messages {
		agents[m.AgentName] = true
	}
	return agents
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
