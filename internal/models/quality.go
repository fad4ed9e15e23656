package models

import "time"

// Conversation is the persisted header row a debate's quality data hangs off.
type Conversation struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Topic              string    `json:"topic"`
	CurrentHealthScore float64   `json:"current_health_score"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Message is the persisted form of a participant response.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SequenceNumber int       `json:"sequence_number"`
	RoundNumber    int       `json:"round_number"`
	TurnIndex      int       `json:"turn_index"`
	AgentName      string    `json:"agent_name"`
	AgentModel     string    `json:"agent_model"`
	Content        string    `json:"content"`
	TokensUsed     int       `json:"tokens_used"`
	ResponseTimeMs float64   `json:"response_time_ms"`
	CreatedAt      time.Time `json:"created_at"`
}

// ContradictionSeverity classifies how strongly two utterances conflict.
type ContradictionSeverity string

const (
	SeverityLow    ContradictionSeverity = "low"
	SeverityMedium ContradictionSeverity = "medium"
	SeverityHigh   ContradictionSeverity = "high"
	// SeverityCritical is reserved; the classifier never emits it today.
	SeverityCritical ContradictionSeverity = "critical"
)

// Contradiction records an opposition between two persisted messages.
type Contradiction struct {
	ID             string                `json:"id"`
	ConversationID string                `json:"conversation_id"`
	MessageIDA     string                `json:"message_id_a"`
	MessageIDB     string                `json:"message_id_b"`
	Similarity     float64               `json:"similarity"`
	Severity       ContradictionSeverity `json:"severity"`
	Explanation    string                `json:"explanation"`
	DetectedAt     time.Time             `json:"detected_at"`
}

// Loop records a repetitive speaker pattern detected in a conversation.
type Loop struct {
	ID               string    `json:"id"`
	ConversationID   string    `json:"conversation_id"`
	Pattern          string    `json:"pattern"`
	Fingerprint      string    `json:"fingerprint"`
	MessageIDs       []string  `json:"message_ids"`
	RepetitionCount  int       `json:"repetition_count"`
	AgentsInvolved   []string  `json:"agents_involved"`
	InterventionText string    `json:"intervention_text"`
	DetectedAt       time.Time `json:"detected_at"`
}

// HealthStatus is the coarse label for an overall health score.
type HealthStatus string

const (
	HealthExcellent HealthStatus = "excellent"
	HealthGood      HealthStatus = "good"
	HealthFair      HealthStatus = "fair"
	HealthPoor      HealthStatus = "poor"
)

// HealthSample is one row of the conversation quality time series.
type HealthSample struct {
	ID                 string         `json:"id"`
	ConversationID     string         `json:"conversation_id"`
	HealthScore        float64        `json:"health_score"`
	CoherenceScore     float64        `json:"coherence_score"`
	ContradictionScore float64        `json:"contradiction_score"`
	LoopScore          float64        `json:"loop_score"`
	CitationScore      float64        `json:"citation_score"`
	ProgressScore      float64        `json:"progress_score"`
	ProductivityScore  float64        `json:"productivity_score"`
	Status             HealthStatus   `json:"status"`
	MessageCount       int            `json:"message_count"`
	AnalysisMetadata   map[string]any `json:"analysis_metadata"`
	CreatedAt          time.Time      `json:"created_at"`
}

// Embedding is a stored vector for one message, unique by message ID.
type Embedding struct {
	MessageID string    `json:"message_id"`
	Vector    []float32 `json:"vector"`
	ModelName string    `json:"model_name"`
	CreatedAt time.Time `json:"created_at"`
}
