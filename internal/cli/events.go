package cli

import "time"

// Event types written by JSONEmitter.
const (
	EventTurnStarted   = "turn.started"
	EventTurnCompleted = "turn.completed"
	EventTurnFailed    = "turn.failed"
	EventTraceEvent    = "trace.event"
	EventAgentStatus   = "agent.status"
)

type TurnStartedEvent struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Input          string    `json:"input"`
	Timestamp      time.Time `json:"timestamp"`
}

type TurnCompletedEvent struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id,omitempty"`
	Content        string    `json:"content"`
	TitleDerived   bool      `json:"title_derived,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

type TurnFailedEvent struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Outcome        string    `json:"outcome"`
	Error          string    `json:"error"`
	Timestamp      time.Time `json:"timestamp"`
}

type TraceLineEvent struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	EventType string    `json:"event_type"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type AgentStatusEvent struct {
	Type     string `json:"type"`
	Category string `json:"category"`
	Active   int    `json:"active"`
	Total    int    `json:"total"`
}
