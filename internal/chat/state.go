package chat

import (
	"errors"
	"time"

	"agentdesk/internal/conversation"
)

// State is the turn state of one conversation.
type State int

const (
	Idle State = iota
	AwaitingConversation
	Sending
	AwaitingCompletion
	Reconciling
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingConversation:
		return "awaiting_conversation"
	case Sending:
		return "sending"
	case AwaitingCompletion:
		return "awaiting_completion"
	case Reconciling:
		return "reconciling"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Busy reports whether a turn is running.
func (s State) Busy() bool { return s != Idle && s != Error }

// ErrTurnInFlight rejects a send while the conversation has an unfinished turn.
var ErrTurnInFlight = errors.New("a turn is already in flight for this conversation")

// TitleLimit is the number of characters of the first user message kept as
// the conversation title.
const TitleLimit = 50

// MessageStatus tracks a local message through reconciliation.
type MessageStatus int

const (
	// Pending messages are shown but not confirmed by the store yet.
	Pending MessageStatus = iota
	// Persisted messages carry the id assigned by the store.
	Persisted
	// Unsaved messages failed to persist. They stay visible and are still
	// part of the history sent to the backend.
	Unsaved
	// LocalOnly messages are never written to the store, such as the
	// synthetic error reply of a failed completion.
	LocalOnly
)

// LocalMessage is the in-memory view of a message. CorrelationID is generated
// on the client and stays stable across reconciliation; ID is the store id
// once persisted.
type LocalMessage struct {
	CorrelationID  string
	ID             string
	ConversationID string
	Role           conversation.Role
	Content        string
	CreatedAt      time.Time
	Status         MessageStatus
}

// Placeholder reports whether the message is the empty assistant bubble shown
// while a completion is outstanding.
func (m LocalMessage) Placeholder() bool {
	return m.Role == conversation.Assistant && m.Status == Pending
}

// Outcome summarizes how a SendMessage call ended.
type Outcome int

const (
	Completed Outcome = iota
	// Skipped means the input was blank and nothing happened.
	Skipped
	// NeedsCredential means no API key is configured; the caller should
	// prompt for one.
	NeedsCredential
	// Failed means the completion failed and a local error reply was added.
	Failed
	// Canceled means the conversation was closed or switched away from
	// before the reply arrived. The reply, if any, was discarded.
	Canceled
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Skipped:
		return "skipped"
	case NeedsCredential:
		return "needs_credential"
	case Failed:
		return "failed"
	case Canceled:
		return "canceled"
	default:
		return "unknown"
	}
}

type TurnResult struct {
	Outcome        Outcome
	ConversationID string
	User           LocalMessage
	Reply          LocalMessage
	TitleDerived   bool
	// Err holds the completion failure for Failed turns.
	Err error
}

// UpdateKind says which part of the local state changed.
type UpdateKind int

const (
	MessagesChanged UpdateKind = iota
	StateChanged
	ConversationsChanged
)

// Update is published whenever local state changes so a view can redraw.
type Update struct {
	Kind           UpdateKind
	ConversationID string
	State          State
}
