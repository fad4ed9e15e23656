package models

import "time"

// TurnEventType enumerates the event kinds emitted on a turn stream.
type TurnEventType string

const (
	EventDebateStart         TurnEventType = "debate_start"
	EventRoundStart          TurnEventType = "round_start"
	EventParticipantStart    TurnEventType = "participant_start"
	EventChunk               TurnEventType = "chunk"
	EventParticipantComplete TurnEventType = "participant_complete"
	EventRoundComplete       TurnEventType = "round_complete"
	EventDebateComplete      TurnEventType = "debate_complete"
	EventDebateStopped       TurnEventType = "debate_stopped"
	EventCostUpdate          TurnEventType = "cost_update"
	EventQualityUpdate       TurnEventType = "quality_update"
	EventError               TurnEventType = "error"
)

// TurnEvent is a single frame on the SSE turn stream. The field names are
// part of the external contract.
type TurnEvent struct {
	EventType   TurnEventType  `json:"event_type"`
	DebateID    string         `json:"debate_id"`
	RoundNumber int            `json:"round_number"`
	TurnIndex   int            `json:"turn_index"`
	Data        map[string]any `json:"data"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewTurnEvent builds an event stamped with the current time.
func NewTurnEvent(t TurnEventType, debateID string, round, turn int, data map[string]any) TurnEvent {
	if data == nil {
		data = map[string]any{}
	}
	return TurnEvent{
		EventType:   t,
		DebateID:    debateID,
		RoundNumber: round,
		TurnIndex:   turn,
		Data:        data,
		Timestamp:   time.Now().UTC(),
	}
}
