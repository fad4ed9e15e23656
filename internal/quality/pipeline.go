package quality

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/krjordan/quorum/internal/models"
)

// loopCheckInterval controls how often loop detection runs: every third
// persisted message.
const loopCheckInterval = 3

// healthWindow is how many trailing messages feed the analyzers.
const healthWindow = 10

type pipelineStore interface {
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	InsertMessage(ctx context.Context, msg *models.Message) (string, error)
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
	InsertCitation(ctx context.Context, messageID, url, title string) error
}

type pipelineEmbedder interface {
	EmbedAndStore(ctx context.Context, messageID, content string) ([]float32, error)
	Generate(ctx context.Context, text string) ([]float32, error)
}

// Utterance is one participant response handed to the pipeline.
type Utterance struct {
	ConversationID string
	Topic          string
	SequenceNumber int
	RoundNumber    int
	TurnIndex      int
	AgentName      string
	AgentModel     string
	Content        string
	TokensUsed     int
	ResponseTimeMs float64
}

// Result is what a ProcessTurn call produced. Loop is nil when none was
// found or the same loop was already surfaced for this conversation.
type Result struct {
	MessageID      string
	Contradictions []models.Contradiction
	Loop           *models.Loop
	Health         *models.HealthSample
}

// Pipeline persists each utterance and runs the quality analyzers over it.
// Analysis failures are logged and skipped so a turn never fails on quality
// bookkeeping.
type Pipeline struct {
	store          pipelineStore
	embedder       pipelineEmbedder
	contradictions *ContradictionDetector
	loops          *LoopDetector
	health         *HealthScorer
	logger         *logrus.Logger

	mu        sync.Mutex
	seenLoops map[string]map[string]bool
}

// NewPipeline wires the analyzers together.
func NewPipeline(store pipelineStore, embedder pipelineEmbedder, contradictions *ContradictionDetector, loops *LoopDetector, health *HealthScorer, logger *logrus.Logger) *Pipeline {
	if logger == nil {
		logger = logrus.New()
	}
	return &Pipeline{
		store:          store,
		embedder:       embedder,
		contradictions: contradictions,
		loops:          loops,
		health:         health,
		logger:         logger,
		seenLoops:      make(map[string]map[string]bool),
	}
}

// EnsureConversation lazily creates the conversation row a debate's quality
// data hangs off, starting at full health.
func (p *Pipeline) EnsureConversation(ctx context.Context, id, topic string) error {
	return p.store.CreateConversation(ctx, &models.Conversation{
		ID:                 id,
		Title:              topic,
		Topic:              topic,
		CurrentHealthScore: 100,
	})
}

// ProcessTurn persists the utterance and runs contradiction detection, loop
// detection (every third message) and health scoring. Only the message
// insert is fatal; analyzer failures degrade to a partial result.
func (p *Pipeline) ProcessTurn(ctx context.Context, utt Utterance, totalParticipants int) (*Result, error) {
	msg := models.Message{
		ConversationID: utt.ConversationID,
		SequenceNumber: utt.SequenceNumber,
		RoundNumber:    utt.RoundNumber,
		TurnIndex:      utt.TurnIndex,
		AgentName:      utt.AgentName,
		AgentModel:     utt.AgentModel,
		Content:        utt.Content,
		TokensUsed:     utt.TokensUsed,
		ResponseTimeMs: utt.ResponseTimeMs,
	}
	id, err := p.store.InsertMessage(ctx, &msg)
	if err != nil {
		return nil, err
	}
	msg.ID = id
	result := &Result{MessageID: id}

	for _, url := range extractURLs(utt.Content) {
		if err := p.store.InsertCitation(ctx, id, url, ""); err != nil {
			p.logger.WithError(err).Warn("Failed to store citation")
		}
	}

	vector, err := p.embedder.EmbedAndStore(ctx, id, utt.Content)
	if err != nil {
		p.logger.WithError(err).Warn("Embedding failed, skipping semantic analysis")
	} else {
		if vector == nil {
			// Already embedded; the cache makes this cheap.
			vector, err = p.embedder.Generate(ctx, utt.Content)
			if err != nil {
				p.logger.WithError(err).Warn("Embedding lookup failed, skipping semantic analysis")
			}
		}
		if vector != nil {
			found, err := p.contradictions.Detect(ctx, utt.ConversationID, msg, vector)
			if err != nil {
				p.logger.WithError(err).Warn("Contradiction detection failed")
			} else {
				result.Contradictions = found
			}
		}
	}

	recent, err := p.store.RecentMessages(ctx, utt.ConversationID, healthWindow)
	if err != nil {
		p.logger.WithError(err).Warn("Failed to load recent messages, skipping loop and health analysis")
		return result, nil
	}

	// Sequence numbers are 0-indexed; the check fires on every third
	// utterance (3rd, 6th, ...).
	if (utt.SequenceNumber+1)%loopCheckInterval == 0 {
		loop, err := p.loops.Detect(ctx, utt.ConversationID, recent)
		if err != nil {
			p.logger.WithError(err).Warn("Loop detection failed")
		} else if loop != nil && p.firstSighting(utt.ConversationID, loop.Fingerprint) {
			result.Loop = loop
		}
	}

	sample, err := p.health.Score(ctx, utt.ConversationID, recent, totalParticipants)
	if err != nil {
		p.logger.WithError(err).Warn("Health scoring failed")
	} else {
		result.Health = sample
	}

	return result, nil
}

// firstSighting reports whether this loop fingerprint is new for the
// conversation, so the same loop is only surfaced once on the event stream.
func (p *Pipeline) firstSighting(conversationID, fingerprint string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	seen := p.seenLoops[conversationID]
	if seen == nil {
		seen = make(map[string]bool)
		p.seenLoops[conversationID] = seen
	}
	if seen[fingerprint] {
		return false
	}
	seen[fingerprint] = true
	return true
}

// Forget clears per-conversation dedup state, for when a debate is deleted.
func (p *Pipeline) Forget(conversationID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.seenLoops, conversationID)
}

var urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

// extractURLs pulls cited links out of an utterance, deduplicated in order.
func extractURLs(content string) []string {
	matches := urlPattern.FindAllString(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		m = strings.TrimRight(m, ".,;:")
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}
