// Package conversation persists conversations and their messages.
//
// Store is the contract the chat coordinator depends on. SQLiteStore is the
// default embedded backend, PostgresStore targets a shared database and
// MemoryStore keeps everything in process.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// PlaceholderTitle is assigned on creation and replaced after the first exchange.
const PlaceholderTitle = "New Conversation"

// Role identifies who authored a message.
type Role string

const (
	User      Role = "user"
	Assistant Role = "assistant"
)

func (r Role) Valid() bool { return r == User || r == Assistant }

type Conversation struct {
	ID        string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	ID             string
	ConversationID string
	Role           Role
	Content        string
	CreatedAt      time.Time
}

// NewMessage is a message that has not been persisted yet. The store assigns
// ID and CreatedAt.
type NewMessage struct {
	ConversationID string
	Role           Role
	Content        string
}

// ConversationUpdate carries the optional fields of UpdateConversation. Nil
// fields are left untouched.
type ConversationUpdate struct {
	Title     *string
	UpdatedAt *time.Time
}

// Store is the persistence contract for conversations and messages.
type Store interface {
	CreateConversation(ctx context.Context) (Conversation, error)
	// ListConversations returns at most limit conversations, most recently
	// updated first. A non-positive limit returns all of them.
	ListConversations(ctx context.Context, limit int) ([]Conversation, error)
	// LoadMessages returns the messages of a conversation, oldest first.
	LoadMessages(ctx context.Context, conversationID string) ([]Message, error)
	AppendMessage(ctx context.Context, msg NewMessage) (Message, error)
	UpdateConversation(ctx context.Context, id string, update ConversationUpdate) error
	Close() error
}

var (
	// ErrUnavailable marks every storage or network failure of a Store.
	ErrUnavailable = errors.New("conversation store unavailable")
	// ErrNotFound is returned when the referenced conversation does not exist.
	ErrNotFound = errors.New("conversation not found")
	// ErrInvalidMessage rejects messages with an unknown role or no conversation.
	ErrInvalidMessage = errors.New("invalid message")
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func validate(msg NewMessage) error {
	if msg.ConversationID == "" {
		return fmt.Errorf("%w: missing conversation id", ErrInvalidMessage)
	}
	if !msg.Role.Valid() {
		return fmt.Errorf("%w: role %q", ErrInvalidMessage, msg.Role)
	}
	return nil
}
