package debate

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/krjordan/quorum/internal/llm"
	"github.com/krjordan/quorum/internal/models"
	"github.com/krjordan/quorum/internal/quality"
	"github.com/krjordan/quorum/internal/tokens"
)

// Sentinel errors the HTTP layer maps onto status codes.
var (
	ErrNotFound     = errors.New("debate not found")
	ErrInvalidState = errors.New("invalid debate state")
)

// ValidationError rejects a debate config with the offending field named.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Message)
}

// Config validation bounds.
const (
	minParticipants = 2
	maxParticipants = 4
	minRounds       = 1
	maxRounds       = 5

	defaultContextWindowRounds = 10
	minContextWindowRounds     = 3
	maxContextWindowRounds     = 20

	defaultTemperature  = 0.7
	defaultSystemPrompt = "You are a thoughtful debate participant. Engage with the topic and other participants' arguments carefully and respectfully."

	// defaultTurnTimeout bounds one participant turn end to end.
	defaultTurnTimeout = 120 * time.Second
)

// ProviderResolver maps a model name to its provider.
type ProviderResolver interface {
	ProviderFor(model string) (llm.Provider, error)
}

// QualityPipeline is the per-turn analysis hook. A nil pipeline disables
// quality processing.
type QualityPipeline interface {
	EnsureConversation(ctx context.Context, id, topic string) error
	ProcessTurn(ctx context.Context, utt quality.Utterance, totalParticipants int) (*quality.Result, error)
	Forget(conversationID string)
}

// Service owns the in-memory debate registry and drives turns.
type Service struct {
	providers   ProviderResolver
	assembler   *Assembler
	counter     *tokens.Counter
	pipeline    QualityPipeline
	metrics     *Metrics
	logger      *logrus.Logger
	turnTimeout time.Duration

	mu      sync.RWMutex
	debates map[string]*models.Debate
}

// NewService creates the orchestrator. pipeline and metrics may be nil.
func NewService(providers ProviderResolver, assembler *Assembler, counter *tokens.Counter, pipeline QualityPipeline, metrics *Metrics, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		providers:   providers,
		assembler:   assembler,
		counter:     counter,
		pipeline:    pipeline,
		metrics:     metrics,
		logger:      logger,
		turnTimeout: defaultTurnTimeout,
		debates:     make(map[string]*models.Debate),
	}
}

// SetTurnTimeout overrides the per-turn wall clock limit.
func (s *Service) SetTurnTimeout(d time.Duration) {
	if d > 0 {
		s.turnTimeout = d
	}
}

// newDebateID mints a short opaque identifier.
func newDebateID() string {
	u := uuid.New()
	return "debate_" + hex.EncodeToString(u[:])[:12]
}

// validateConfig checks bounds and fills defaults in place.
func validateConfig(config *models.DebateConfig) error {
	if config.Topic == "" {
		return &ValidationError{Field: "topic", Message: "must not be empty"}
	}
	n := len(config.Participants)
	if n < minParticipants || n > maxParticipants {
		return &ValidationError{
			Field:   "participants",
			Message: fmt.Sprintf("need between %d and %d participants, got %d", minParticipants, maxParticipants, n),
		}
	}
	seen := make(map[string]bool, n)
	for i := range config.Participants {
		p := &config.Participants[i]
		if p.Name == "" {
			return &ValidationError{Field: fmt.Sprintf("participants[%d].name", i), Message: "must not be empty"}
		}
		if seen[p.Name] {
			return &ValidationError{Field: fmt.Sprintf("participants[%d].name", i), Message: "duplicate participant name"}
		}
		seen[p.Name] = true
		if p.Model == "" {
			return &ValidationError{Field: fmt.Sprintf("participants[%d].model", i), Message: "must not be empty"}
		}
		if p.Temperature < 0 || p.Temperature > 2 {
			return &ValidationError{Field: fmt.Sprintf("participants[%d].temperature", i), Message: "must be between 0.0 and 2.0"}
		}
		if p.Temperature == 0 {
			p.Temperature = defaultTemperature
		}
		if p.SystemPrompt == "" {
			p.SystemPrompt = defaultSystemPrompt
		}
	}
	if config.MaxRounds < minRounds || config.MaxRounds > maxRounds {
		return &ValidationError{
			Field:   "max_rounds",
			Message: fmt.Sprintf("must be between %d and %d, got %d", minRounds, maxRounds, config.MaxRounds),
		}
	}
	if config.ContextWindowRounds == 0 {
		config.ContextWindowRounds = defaultContextWindowRounds
	}
	if config.ContextWindowRounds < minContextWindowRounds || config.ContextWindowRounds > maxContextWindowRounds {
		return &ValidationError{
			Field:   "context_window_rounds",
			Message: fmt.Sprintf("must be between %d and %d", minContextWindowRounds, maxContextWindowRounds),
		}
	}
	if config.CostWarningThreshold < 0 {
		return &ValidationError{Field: "cost_warning_threshold", Message: "must be non-negative"}
	}
	return nil
}

// Create validates the config and registers a fresh debate with an empty
// first round.
func (s *Service) Create(config models.DebateConfig) (*models.Debate, error) {
	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	d := &models.Debate{
		ID:           newDebateID(),
		Config:       config,
		Status:       models.StatusInitialized,
		Rounds:       []*models.DebateRound{{RoundNumber: 1, TokensUsed: map[string]int{}, Timestamp: now}},
		CurrentRound: 1,
		CurrentTurn:  0,
		TotalTokens:  map[string]int{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	s.debates[d.ID] = d
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.ActiveDebates.Inc()
	}
	s.logger.WithFields(logrus.Fields{
		"debate_id":    d.ID,
		"topic":        config.Topic,
		"participants": len(config.Participants),
		"max_rounds":   config.MaxRounds,
	}).Info("Created debate")

	return d.Clone(), nil
}

// Get returns a snapshot of a debate.
func (s *Service) Get(id string) (*models.Debate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.debates[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

// List returns snapshots of all registered debates, newest first.
func (s *Service) List() []*models.Debate {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Debate, 0, len(s.debates))
	for _, d := range s.debates {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Stop marks a debate stopped. Already-terminal debates are left untouched.
func (s *Service) Stop(id string) (*models.Debate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.debates[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !d.Status.IsTerminal() {
		d.Status = models.StatusStopped
		d.StoppedManually = true
		d.UpdatedAt = time.Now().UTC()
		s.logger.WithField("debate_id", id).Info("Debate stopped manually")
	}
	return d.Clone(), nil
}

// Pause pauses a running debate.
func (s *Service) Pause(id string) (*models.Debate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.debates[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.Status != models.StatusRunning {
		return nil, fmt.Errorf("%w: cannot pause debate in status %s", ErrInvalidState, d.Status)
	}
	d.Status = models.StatusPaused
	d.UpdatedAt = time.Now().UTC()
	s.logger.WithField("debate_id", id).Info("Debate paused")
	return d.Clone(), nil
}

// Resume resumes a paused debate.
func (s *Service) Resume(id string) (*models.Debate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.debates[id]
	if !ok {
		return nil, ErrNotFound
	}
	if d.Status != models.StatusPaused {
		return nil, fmt.Errorf("%w: cannot resume debate in status %s", ErrInvalidState, d.Status)
	}
	d.Status = models.StatusRunning
	d.UpdatedAt = time.Now().UTC()
	s.logger.WithField("debate_id", id).Info("Debate resumed")
	return d.Clone(), nil
}

// Delete evicts a debate from the registry. Persisted rows are unaffected.
func (s *Service) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.debates[id]; !ok {
		return ErrNotFound
	}
	delete(s.debates, id)
	if s.pipeline != nil {
		s.pipeline.Forget(id)
	}
	if s.metrics != nil {
		s.metrics.ActiveDebates.Dec()
	}
	s.logger.WithField("debate_id", id).Info("Debate deleted")
	return nil
}
