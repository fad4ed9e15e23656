package debate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/krjordan/quorum/internal/llm"
	"github.com/krjordan/quorum/internal/models"
	"github.com/krjordan/quorum/internal/quality"
	"github.com/krjordan/quorum/internal/tokens"
)

// NextTurn runs the next participant's turn and streams its events. The
// returned channel is closed when the turn (or the debate) ends. A paused
// debate refuses the call.
func (s *Service) NextTurn(ctx context.Context, id string) (<-chan models.TurnEvent, error) {
	s.mu.RLock()
	d, ok := s.debates[id]
	var status models.DebateStatus
	if ok {
		status = d.Status
	}
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if status == models.StatusPaused {
		return nil, fmt.Errorf("%w: debate is paused", ErrInvalidState)
	}

	events := make(chan models.TurnEvent, 64)
	go func() {
		defer close(events)
		s.runTurn(ctx, id, events)
	}()
	return events, nil
}

// send delivers an event unless the subscriber is gone.
func send(ctx context.Context, events chan<- models.TurnEvent, ev models.TurnEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// runTurn executes one participant turn end to end. It is the single writer
// for its debate while running; every event on the stream is emitted from
// this goroutine in order.
func (s *Service) runTurn(ctx context.Context, id string, events chan<- models.TurnEvent) {
	// Phase 1: completion check, Initialized -> Running, turn snapshot.
	s.mu.Lock()
	d, ok := s.debates[id]
	if !ok {
		s.mu.Unlock()
		send(ctx, events, models.NewTurnEvent(models.EventError, id, 0, 0, map[string]any{
			"error": "debate not found",
		}))
		return
	}

	if d.IsComplete() {
		s.finalizeStatusLocked(d)
		ev := s.completeEventLocked(d)
		s.mu.Unlock()
		send(ctx, events, ev)
		return
	}

	started := d.Status == models.StatusInitialized
	if started {
		d.Status = models.StatusRunning
		d.UpdatedAt = time.Now().UTC()
	}

	snapshot := d.Clone()
	r, t := snapshot.CurrentRound, snapshot.CurrentTurn
	participant := snapshot.CurrentParticipant()
	s.mu.Unlock()

	if started {
		names := make([]string, len(snapshot.Config.Participants))
		for i, p := range snapshot.Config.Participants {
			names[i] = p.Name
		}
		if !send(ctx, events, models.NewTurnEvent(models.EventDebateStart, id, r, t, map[string]any{
			"topic":        snapshot.Config.Topic,
			"participants": names,
			"max_rounds":   snapshot.Config.MaxRounds,
		})) {
			return
		}
	}

	if !send(ctx, events, models.NewTurnEvent(models.EventParticipantStart, id, r, t, map[string]any{
		"participant_name":  participant.Name,
		"participant_index": t,
		"model":             participant.Model,
	})) {
		return
	}

	// Phase 2: provider call with streamed chunk relay.
	provider, err := s.providers.ProviderFor(participant.Model)
	if err != nil {
		s.failTurn(ctx, events, id, r, t, participant.Name, participant.Model, err)
		return
	}

	if s.stopped(id) {
		s.emitStopComplete(ctx, events, id)
		return
	}

	req, inputEstimate := s.assembler.Build(snapshot.Config, snapshot.Rounds, participant)

	turnCtx, cancel := context.WithTimeout(ctx, s.turnTimeout)
	defer cancel()

	start := time.Now()
	var resp llm.Response
	if provider.SupportsStreaming() {
		resp, err = provider.Stream(turnCtx, req, func(delta string) {
			send(ctx, events, models.NewTurnEvent(models.EventChunk, id, r, t, map[string]any{
				"text":             delta,
				"participant_name": participant.Name,
			}))
		})
	} else {
		resp, err = provider.Complete(turnCtx, req)
		if err == nil {
			if !send(ctx, events, models.NewTurnEvent(models.EventChunk, id, r, t, map[string]any{
				"text":             resp.Content,
				"participant_name": participant.Name,
			})) {
				return
			}
		}
	}
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(turnCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timeout after %s: %w", s.turnTimeout, err)
		} else if ctx.Err() != nil {
			// The subscriber dropped the stream mid-call. Nothing was
			// committed, so the turn stays retryable on the next call.
			s.logger.WithFields(logrus.Fields{
				"debate_id":   id,
				"participant": participant.Name,
			}).Warn("Subscriber disconnected mid-turn")
			return
		}
		s.failTurn(ctx, events, id, r, t, participant.Name, participant.Model, err)
		return
	}

	if s.stopped(id) {
		s.emitStopComplete(ctx, events, id)
		return
	}

	// Phase 3: accounting and turn-pointer commit. The pointer MUST move
	// before ParticipantComplete goes out; a subscriber that closes on that
	// event reads the registry next and must see the new turn.
	inputTokens := resp.Usage.InputTokens
	if inputTokens == 0 {
		inputTokens = inputEstimate
	}
	outputTokens := resp.Usage.OutputTokens
	if outputTokens == 0 {
		outputTokens = s.counter.CountTokens(resp.Content, participant.Model)
	}
	turnTokens := inputTokens + outputTokens
	cost := s.counter.EstimateCost(inputTokens, outputTokens, participant.Model)

	now := time.Now().UTC()
	response := models.ParticipantResponse{
		ParticipantName:  participant.Name,
		ParticipantIndex: t,
		Model:            participant.Model,
		Content:          resp.Content,
		TokensUsed:       turnTokens,
		ResponseTimeMs:   float64(elapsed.Milliseconds()),
		Timestamp:        now,
	}

	s.mu.Lock()
	d, ok = s.debates[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	round := d.Rounds[r-1]
	round.Responses = append(round.Responses, response)
	round.TokensUsed[participant.Model] += turnTokens
	round.CostEstimate += cost
	d.TotalTokens[participant.Model] += turnTokens
	d.TotalCost += cost

	d.AdvanceTurn()
	wrapped := d.CurrentTurn == 0
	newRoundStarted := false
	if wrapped && d.CurrentRound <= d.Config.MaxRounds {
		d.Rounds = append(d.Rounds, &models.DebateRound{
			RoundNumber: d.CurrentRound,
			TokensUsed:  map[string]int{},
			Timestamp:   now,
		})
		newRoundStarted = true
	}
	d.UpdatedAt = now

	complete := d.IsComplete()
	if complete {
		s.finalizeStatusLocked(d)
	}
	totalCost := d.TotalCost
	totalTokens := make(map[string]int, len(d.TotalTokens))
	for k, v := range d.TotalTokens {
		totalTokens[k] = v
	}
	roundCost := round.CostEstimate
	responseCount := len(round.Responses)
	newRoundNumber := d.CurrentRound
	completedRounds := countCompletedRounds(d)
	stoppedManually := d.StoppedManually
	threshold := d.Config.CostWarningThreshold
	participants := len(d.Config.Participants)
	topic := d.Config.Topic
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.TurnsTotal.WithLabelValues(participant.Model).Inc()
		s.metrics.TurnDuration.Observe(elapsed.Seconds())
		s.metrics.TokensTotal.WithLabelValues(participant.Model).Add(float64(turnTokens))
		s.metrics.CostTotal.Add(cost)
	}

	if !send(ctx, events, models.NewTurnEvent(models.EventParticipantComplete, id, r, t, map[string]any{
		"participant_name": participant.Name,
		"model":            participant.Model,
		"tokens_used":      turnTokens,
		"cost":             cost,
		"response_time_ms": response.ResponseTimeMs,
	})) {
		return
	}

	// Phase 4: quality pipeline. Failures degrade to a non-critical error
	// frame; the cost and round events below still go out.
	if s.pipeline != nil {
		s.runQuality(ctx, events, id, topic, r, t, response, turnTokens, participants)
	}

	level := tokens.CostWarningLevel(totalCost, threshold)
	if !send(ctx, events, models.NewTurnEvent(models.EventCostUpdate, id, r, t, map[string]any{
		"total_cost":             totalCost,
		"round_cost":             roundCost,
		"total_tokens":           totalTokens,
		"warning_level":          string(level),
		"warning":                tokens.WarningMessage(level, totalCost, threshold),
		"cost_warning_threshold": threshold,
	})) {
		return
	}

	if wrapped {
		if !send(ctx, events, models.NewTurnEvent(models.EventRoundComplete, id, r, t, map[string]any{
			"round_number":   r,
			"response_count": responseCount,
			"round_cost":     roundCost,
		})) {
			return
		}
		if newRoundStarted {
			if !send(ctx, events, models.NewTurnEvent(models.EventRoundStart, id, newRoundNumber, 0, map[string]any{
				"round_number": newRoundNumber,
				"max_rounds":   snapshot.Config.MaxRounds,
			})) {
				return
			}
		}
	}

	if complete {
		send(ctx, events, models.NewTurnEvent(models.EventDebateComplete, id, r, t, map[string]any{
			"rounds_completed": completedRounds,
			"total_cost":       totalCost,
			"stopped_manually": stoppedManually,
		}))
	}
}

// runQuality feeds the finished utterance through the quality pipeline and
// relays its findings as QualityUpdate events.
func (s *Service) runQuality(ctx context.Context, events chan<- models.TurnEvent, id, topic string, r, t int, response models.ParticipantResponse, turnTokens, participants int) {
	emitSoftError := func(err error) {
		s.logger.WithError(err).WithField("debate_id", id).Warn("Quality pipeline failed")
		send(ctx, events, models.NewTurnEvent(models.EventError, id, r, t, map[string]any{
			"error":        err.Error(),
			"non_critical": true,
		}))
	}

	if err := s.pipeline.EnsureConversation(ctx, id, topic); err != nil {
		emitSoftError(err)
		return
	}

	seq := (r-1)*participants + t
	result, err := s.pipeline.ProcessTurn(ctx, quality.Utterance{
		ConversationID: id,
		Topic:          topic,
		SequenceNumber: seq,
		RoundNumber:    r,
		TurnIndex:      t,
		AgentName:      response.ParticipantName,
		AgentModel:     response.Model,
		Content:        response.Content,
		TokensUsed:     turnTokens,
		ResponseTimeMs: response.ResponseTimeMs,
	}, participants)
	if err != nil {
		emitSoftError(err)
		return
	}

	for _, c := range result.Contradictions {
		if !send(ctx, events, models.NewTurnEvent(models.EventQualityUpdate, id, r, t, map[string]any{
			"kind":        "contradiction",
			"severity":    string(c.Severity),
			"similarity":  c.Similarity,
			"explanation": c.Explanation,
		})) {
			return
		}
	}
	if result.Loop != nil {
		if !send(ctx, events, models.NewTurnEvent(models.EventQualityUpdate, id, r, t, map[string]any{
			"kind":              "loop",
			"pattern":           result.Loop.Pattern,
			"repetition_count":  result.Loop.RepetitionCount,
			"intervention_text": result.Loop.InterventionText,
		})) {
			return
		}
	}
	if result.Health != nil {
		send(ctx, events, models.NewTurnEvent(models.EventQualityUpdate, id, r, t, map[string]any{
			"kind":         "health_score",
			"overall":      result.Health.HealthScore,
			"status":       string(result.Health.Status),
			"coherence":    result.Health.CoherenceScore,
			"progress":     result.Health.ProgressScore,
			"productivity": result.Health.ProductivityScore,
		}))
	}
}

// failTurn records a primary provider failure: Error state plus an error
// frame, no turn advancement.
func (s *Service) failTurn(ctx context.Context, events chan<- models.TurnEvent, id string, r, t int, name, model string, err error) {
	s.mu.Lock()
	if d, ok := s.debates[id]; ok {
		d.Status = models.StatusError
		d.UpdatedAt = time.Now().UTC()
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.TurnErrors.WithLabelValues(model).Inc()
	}
	s.logger.WithError(err).WithFields(logrus.Fields{
		"debate_id":   id,
		"participant": name,
	}).Error("Participant turn failed")

	send(ctx, events, models.NewTurnEvent(models.EventError, id, r, t, map[string]any{
		"error":            err.Error(),
		"participant_name": name,
	}))
}

// stopped reports whether a manual stop has been observed.
func (s *Service) stopped(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.debates[id]
	return ok && d.StoppedManually
}

// emitStopComplete emits the terminal frame after an observed stop.
func (s *Service) emitStopComplete(ctx context.Context, events chan<- models.TurnEvent, id string) {
	s.mu.Lock()
	d, ok := s.debates[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	s.finalizeStatusLocked(d)
	ev := s.completeEventLocked(d)
	s.mu.Unlock()
	send(ctx, events, ev)
}

// finalizeStatusLocked pins the terminal status once a debate is complete.
func (s *Service) finalizeStatusLocked(d *models.Debate) {
	if d.Status.IsTerminal() {
		return
	}
	if d.StoppedManually {
		d.Status = models.StatusStopped
	} else {
		d.Status = models.StatusCompleted
	}
	d.UpdatedAt = time.Now().UTC()
}

// completeEventLocked builds the idempotent DebateComplete frame.
func (s *Service) completeEventLocked(d *models.Debate) models.TurnEvent {
	return models.NewTurnEvent(models.EventDebateComplete, d.ID, d.CurrentRound, d.CurrentTurn, map[string]any{
		"message":          "Debate is complete",
		"rounds_completed": countCompletedRounds(d),
		"total_cost":       d.TotalCost,
		"stopped_manually": d.StoppedManually,
	})
}

// countCompletedRounds counts rounds in which every participant spoke.
func countCompletedRounds(d *models.Debate) int {
	n := 0
	for _, round := range d.Rounds {
		if len(round.Responses) == len(d.Config.Participants) {
			n++
		}
	}
	return n
}
