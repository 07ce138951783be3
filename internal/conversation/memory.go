package conversation

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryStore keeps conversations in process. It is used for ephemeral
// sessions and as the reference implementation in tests.
type MemoryStore struct {
	mu       sync.Mutex
	ids      *idGenerator
	convs    map[string]Conversation
	messages map[string][]Message // conversationID -> messages
}

func NewMemoryStore() *MemoryStore {
	ids, err := newIDGenerator(0)
	if err != nil {
		panic(err) // node 0 is always in range
	}
	return &MemoryStore{
		ids:      ids,
		convs:    map[string]Conversation{},
		messages: map[string][]Message{},
	}
}

func (s *MemoryStore) CreateConversation(ctx context.Context) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, unavailable("create conversation", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, _, now := s.ids.next()
	c := Conversation{ID: id, Title: PlaceholderTitle, CreatedAt: now, UpdatedAt: now}
	s.convs[id] = c
	return c, nil
}

func (s *MemoryStore) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list conversations", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) LoadMessages(ctx context.Context, conversationID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("load messages", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[conversationID]; !ok {
		return nil, fmt.Errorf("load messages of %s: %w", conversationID, ErrNotFound)
	}
	msgs := s.messages[conversationID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, msg NewMessage) (Message, error) {
	if err := validate(msg); err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, unavailable("append message", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[msg.ConversationID]; !ok {
		return Message{}, fmt.Errorf("append message to %s: %w", msg.ConversationID, ErrNotFound)
	}

	id, _, now := s.ids.next()
	m := Message{
		ID:             id,
		ConversationID: msg.ConversationID,
		Role:           msg.Role,
		Content:        msg.Content,
		CreatedAt:      now,
	}
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], m)
	return m, nil
}

func (s *MemoryStore) UpdateConversation(ctx context.Context, id string, update ConversationUpdate) error {
	if err := ctx.Err(); err != nil {
		return unavailable("update conversation", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return fmt.Errorf("update conversation %s: %w", id, ErrNotFound)
	}
	if update.Title != nil {
		c.Title = *update.Title
	}
	if update.UpdatedAt != nil {
		c.UpdatedAt = *update.UpdatedAt
	}
	s.convs[id] = c
	return nil
}

func (s *MemoryStore) Close() error { return nil }
