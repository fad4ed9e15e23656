package models

import "time"

// DebateStatus represents the execution status of a debate.
type DebateStatus string

const (
	StatusInitialized DebateStatus = "initialized"
	StatusRunning     DebateStatus = "running"
	StatusPaused      DebateStatus = "paused"
	StatusStopped     DebateStatus = "stopped"
	StatusCompleted   DebateStatus = "completed"
	StatusError       DebateStatus = "error"
)

// IsTerminal reports whether the status permits no further turns.
func (s DebateStatus) IsTerminal() bool {
	return s == StatusStopped || s == StatusCompleted || s == StatusError
}

// ParticipantConfig describes a single debate participant.
type ParticipantConfig struct {
	Name         string  `json:"name"`
	Model        string  `json:"model"`
	SystemPrompt string  `json:"system_prompt"`
	Temperature  float64 `json:"temperature"`
}

// DebateConfig is the immutable configuration a debate is created from.
type DebateConfig struct {
	Topic                string              `json:"topic"`
	Participants         []ParticipantConfig `json:"participants"`
	MaxRounds            int                 `json:"max_rounds"`
	ContextWindowRounds  int                 `json:"context_window_rounds"`
	CostWarningThreshold float64             `json:"cost_warning_threshold"`
}

// ParticipantResponse is a single participant's contribution within a round.
type ParticipantResponse struct {
	ParticipantName  string    `json:"participant_name"`
	ParticipantIndex int       `json:"participant_index"`
	Model            string    `json:"model"`
	Content          string    `json:"content"`
	TokensUsed       int       `json:"tokens_used"`
	ResponseTimeMs   float64   `json:"response_time_ms"`
	Timestamp        time.Time `json:"timestamp"`
}

// DebateRound holds the sequential responses of one round.
type DebateRound struct {
	RoundNumber  int                   `json:"round_number"`
	Responses    []ParticipantResponse `json:"responses"`
	TokensUsed   map[string]int        `json:"tokens_used"`
	CostEstimate float64               `json:"cost_estimate"`
	Timestamp    time.Time             `json:"timestamp"`
}

// Debate is the full mutable state of a sequential debate. The orchestrator
// is the single writer; everyone else observes snapshots.
type Debate struct {
	ID              string         `json:"id"`
	Config          DebateConfig   `json:"config"`
	Status          DebateStatus   `json:"status"`
	Rounds          []*DebateRound `json:"rounds"`
	CurrentRound    int            `json:"current_round"`
	CurrentTurn     int            `json:"current_turn"`
	TotalTokens     map[string]int `json:"total_tokens"`
	TotalCost       float64        `json:"total_cost"`
	StoppedManually bool           `json:"stopped_manually"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// CurrentParticipant returns the participant whose turn is next.
func (d *Debate) CurrentParticipant() ParticipantConfig {
	return d.Config.Participants[d.CurrentTurn]
}

// AdvanceTurn moves the turn pointer forward, wrapping into the next round
// once every participant has spoken.
func (d *Debate) AdvanceTurn() {
	d.CurrentTurn++
	if d.CurrentTurn >= len(d.Config.Participants) {
		d.CurrentTurn = 0
		d.CurrentRound++
	}
}

// IsComplete reports whether the debate has finished all rounds, was stopped
// manually, or reached a terminal status.
func (d *Debate) IsComplete() bool {
	return d.StoppedManually ||
		d.CurrentRound > d.Config.MaxRounds ||
		d.Status.IsTerminal()
}

// SequenceNumber returns the monotonic utterance index for a (round, turn)
// pair: all turns of earlier rounds plus the turns already taken this round.
func (d *Debate) SequenceNumber(round, turn int) int {
	return (round-1)*len(d.Config.Participants) + turn
}

// Clone returns a deep copy suitable for publishing as an immutable snapshot.
func (d *Debate) Clone() *Debate {
	cp := *d
	cp.Rounds = make([]*DebateRound, len(d.Rounds))
	for i, r := range d.Rounds {
		rc := *r
		rc.Responses = append([]ParticipantResponse(nil), r.Responses...)
		rc.TokensUsed = copyIntMap(r.TokensUsed)
		cp.Rounds[i] = &rc
	}
	cp.TotalTokens = copyIntMap(d.TotalTokens)
	return &cp
}

func copyIntMap(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ParticipantStats aggregates one participant's numbers across a debate.
type ParticipantStats struct {
	Name                  string  `json:"name"`
	Model                 string  `json:"model"`
	TotalTokens           int     `json:"total_tokens"`
	TotalCost             float64 `json:"total_cost"`
	AverageResponseTimeMs float64 `json:"average_response_time_ms"`
	ResponseCount         int     `json:"response_count"`
}

// DebateSummary is the rendered summary of a finished (or stopped) debate.
type DebateSummary struct {
	DebateID           string             `json:"debate_id"`
	Topic              string             `json:"topic"`
	Status             DebateStatus       `json:"status"`
	RoundsCompleted    int                `json:"rounds_completed"`
	TotalRounds        int                `json:"total_rounds"`
	Participants       []string           `json:"participants"`
	ParticipantStats   []ParticipantStats `json:"participant_stats"`
	TotalTokens        map[string]int     `json:"total_tokens"`
	TotalCost          float64            `json:"total_cost"`
	DurationSeconds    float64            `json:"duration_seconds"`
	MarkdownTranscript string             `json:"markdown_transcript"`
	CreatedAt          time.Time          `json:"created_at"`
	CompletedAt        time.Time          `json:"completed_at"`
}
