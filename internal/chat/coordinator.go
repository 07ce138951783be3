// Package chat runs user turns against the completion backend and keeps the
// optimistic local view of each conversation consistent with the store.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"agentdesk/internal/completion"
	"agentdesk/internal/conversation"
	"agentdesk/internal/csync"
	"agentdesk/internal/pubsub"
)

// Completer sends the ordered history to the completion backend.
type Completer interface {
	Complete(ctx context.Context, apiKey string, req completion.Request) (string, error)
}

// CredentialSource supplies the API key for the completion backend.
type CredentialSource interface {
	APIKey() (string, bool)
}

type Options struct {
	Model     string
	MaxTokens int
	// HistoryLimit caps the cached conversation list.
	HistoryLimit int
	Logger       *slog.Logger
	Now          func() time.Time
}

type turn struct {
	id     string
	cancel context.CancelFunc
}

type localConversation struct {
	state    State
	messages []LocalMessage
	titled   bool
}

// Coordinator owns the local state of every open conversation. At most one
// turn runs per conversation; turns in different conversations are
// independent.
type Coordinator struct {
	store     conversation.Store
	completer Completer
	creds     CredentialSource

	model        string
	maxTokens    int
	historyLimit int
	logger       *slog.Logger
	now          func() time.Time

	turns *csync.Map[string, *turn]

	mu     sync.Mutex
	convs  map[string]*localConversation
	list   []conversation.Conversation
	active string

	broker *pubsub.Broker[Update]
}

func NewCoordinator(store conversation.Store, completer Completer, creds CredentialSource, opts Options) *Coordinator {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Coordinator{
		store:        store,
		completer:    completer,
		creds:        creds,
		model:        opts.Model,
		maxTokens:    opts.MaxTokens,
		historyLimit: opts.HistoryLimit,
		logger:       opts.Logger,
		now:          opts.Now,
		turns:        csync.NewMap[string, *turn](),
		convs:        make(map[string]*localConversation),
		broker:       pubsub.NewBrokerWithOptions[Update]("chat", 256),
	}
}

// Subscribe streams local state changes until ctx is done.
func (c *Coordinator) Subscribe(ctx context.Context) <-chan pubsub.Event[Update] {
	return c.broker.Subscribe(ctx)
}

// SendMessage runs one turn. Blank input and a missing credential end the
// call before anything is touched. A second call for a conversation with a
// turn in flight fails with ErrTurnInFlight. An empty conversationID creates
// a new conversation first.
//
// An unknown conversationID fails with conversation.ErrNotFound before any
// local change or backend call. Completion failures do not return an error:
// they end the turn with a local error reply and Outcome Failed. The user
// message is rolled back on completion failure only if it was not persisted
// either; a stored user message stays visible.
func (c *Coordinator) SendMessage(ctx context.Context, conversationID, input string) (TurnResult, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return TurnResult{Outcome: Skipped, ConversationID: conversationID}, nil
	}
	apiKey, ok := c.creds.APIKey()
	if !ok {
		return TurnResult{Outcome: NeedsCredential, ConversationID: conversationID}, nil
	}

	if conversationID != "" {
		if c.busy(conversationID) {
			return TurnResult{ConversationID: conversationID}, ErrTurnInFlight
		}
	} else {
		created, err := c.createConversation(ctx)
		if err != nil {
			return TurnResult{}, err
		}
		conversationID = created.ID
	}

	turnCtx, cancel := context.WithCancel(ctx)
	t := &turn{id: uuid.NewString(), cancel: cancel}
	if _, stored := c.turns.SetIfAbsent(conversationID, t); !stored {
		cancel()
		return TurnResult{ConversationID: conversationID}, ErrTurnInFlight
	}
	defer func() {
		cancel()
		c.turns.DeleteIf(conversationID, func(cur *turn) bool { return cur == t })
	}()

	if err := c.ensureLoaded(ctx, conversationID); err != nil {
		c.setState(conversationID, Idle)
		return TurnResult{ConversationID: conversationID}, err
	}
	return c.runTurn(ctx, turnCtx, conversationID, apiKey, text), nil
}

func (c *Coordinator) runTurn(ctx, turnCtx context.Context, convID, apiKey, text string) TurnResult {
	result := TurnResult{ConversationID: convID}
	persistCtx := context.WithoutCancel(ctx)

	c.setState(convID, Sending)
	user := LocalMessage{
		CorrelationID:  uuid.NewString(),
		ConversationID: convID,
		Role:           conversation.User,
		Content:        text,
		CreatedAt:      c.now(),
		Status:         Pending,
	}
	history, firstExchange, open := c.appendOptimistic(user)
	if !open {
		// Closed between loading and sending; nothing was written.
		result.Outcome = Canceled
		return result
	}
	titleSource := text
	if firstExchange && len(history) > 0 {
		// An earlier turn may have failed; the title comes from the first
		// message of the conversation.
		titleSource = history[0].Content
	}

	// The user message is persisted while the completion runs. The result is
	// joined before anything else is written so store order matches turn order.
	persisted := make(chan userPersistResult, 1)
	go func() {
		msg, err := c.store.AppendMessage(persistCtx, conversation.NewMessage{
			ConversationID: convID,
			Role:           conversation.User,
			Content:        text,
		})
		persisted <- userPersistResult{msg: msg, err: err}
	}()

	placeholder := LocalMessage{
		CorrelationID:  uuid.NewString(),
		ConversationID: convID,
		Role:           conversation.Assistant,
		CreatedAt:      c.now(),
		Status:         Pending,
	}
	c.appendLocal(placeholder)
	c.setState(convID, AwaitingCompletion)

	reply, err := c.completer.Complete(turnCtx, apiKey, completion.Request{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  history,
	})

	userRes := <-persisted
	result.User = c.reconcileUser(user, userRes)

	if turnCtx.Err() != nil {
		c.logger.Info("discarding completion for closed conversation", "conversation", convID)
		c.removeLocal(convID, placeholder.CorrelationID)
		c.setState(convID, Idle)
		result.Outcome = Canceled
		return result
	}

	if err != nil {
		c.setState(convID, Error)
		c.logger.Warn("completion failed", "conversation", convID, "error", err)
		errMsg := placeholder
		errMsg.Content = "Error: " + completion.Describe(err)
		errMsg.Status = LocalOnly
		c.replaceLocal(errMsg)
		if userRes.err != nil {
			// Neither the store nor the backend took the message.
			c.removeLocal(convID, user.CorrelationID)
		}
		c.setState(convID, Idle)
		result.Outcome = Failed
		result.Reply = errMsg
		result.Err = err
		return result
	}

	c.setState(convID, Reconciling)
	assistant := placeholder
	assistant.Content = reply
	saved, perr := c.store.AppendMessage(persistCtx, conversation.NewMessage{
		ConversationID: convID,
		Role:           conversation.Assistant,
		Content:        reply,
	})
	if perr != nil {
		c.logger.Error("failed to persist assistant message", "conversation", convID, "error", perr)
		assistant.Status = Unsaved
	} else {
		assistant.ID = saved.ID
		assistant.CreatedAt = saved.CreatedAt
		assistant.Status = Persisted
	}
	c.replaceLocal(assistant)
	result.Reply = assistant
	result.Outcome = Completed

	result.TitleDerived = c.finishExchange(persistCtx, convID, titleSource, firstExchange)
	c.setState(convID, Idle)
	return result
}

type userPersistResult struct {
	msg conversation.Message
	err error
}

func (c *Coordinator) reconcileUser(user LocalMessage, res userPersistResult) LocalMessage {
	if res.err != nil {
		c.logger.Error("failed to persist user message", "conversation", user.ConversationID, "error", res.err)
		user.Status = Unsaved
	} else {
		user.ID = res.msg.ID
		user.CreatedAt = res.msg.CreatedAt
		user.Status = Persisted
	}
	c.replaceLocal(user)
	return user
}

// finishExchange bumps the conversation and, on the first completed
// exchange, derives its title. It reports whether the title was set.
func (c *Coordinator) finishExchange(ctx context.Context, convID, input string, firstExchange bool) bool {
	now := c.now()
	update := conversation.ConversationUpdate{UpdatedAt: &now}

	c.mu.Lock()
	local := c.convs[convID]
	derive := firstExchange && local != nil && !local.titled
	if derive {
		local.titled = true
	}
	c.mu.Unlock()

	var title string
	if derive {
		title = DeriveTitle(input)
		update.Title = &title
	}

	if err := c.store.UpdateConversation(ctx, convID, update); err != nil {
		c.logger.Error("failed to update conversation", "conversation", convID, "error", err)
	}

	c.mu.Lock()
	for i := range c.list {
		if c.list[i].ID == convID {
			c.list[i].UpdatedAt = now
			if derive {
				c.list[i].Title = title
			}
		}
	}
	c.mu.Unlock()

	if derive {
		if _, err := c.RefreshConversations(ctx); err != nil {
			c.logger.Warn("failed to refresh conversations", "error", err)
			c.publish(Update{Kind: ConversationsChanged})
		}
	} else {
		c.publish(Update{Kind: ConversationsChanged})
	}
	return derive
}

// DeriveTitle returns the first TitleLimit characters of input.
func DeriveTitle(input string) string {
	text := strings.TrimSpace(input)
	if utf8.RuneCountInString(text) <= TitleLimit {
		return text
	}
	return string([]rune(text)[:TitleLimit])
}

// OpenConversation makes id the active conversation and loads its persisted
// messages. A turn still running in the previously active conversation is
// canceled.
func (c *Coordinator) OpenConversation(ctx context.Context, id string) ([]LocalMessage, error) {
	c.mu.Lock()
	prev := c.active
	c.active = id
	c.mu.Unlock()

	if prev != "" && prev != id {
		c.cancelTurn(prev)
	}
	if id == "" {
		return nil, nil
	}
	if err := c.ensureLoaded(ctx, id); err != nil {
		return nil, err
	}
	return c.Messages(id), nil
}

// CloseConversation cancels any in-flight turn of id and drops its local
// state. A reply that arrives afterwards is discarded.
func (c *Coordinator) CloseConversation(id string) {
	c.cancelTurn(id)

	c.mu.Lock()
	delete(c.convs, id)
	if c.active == id {
		c.active = ""
	}
	c.mu.Unlock()
	c.publish(Update{Kind: MessagesChanged, ConversationID: id})
}

// Active returns the id of the conversation opened last.
func (c *Coordinator) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Conversations returns the cached conversation list.
func (c *Coordinator) Conversations() []conversation.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]conversation.Conversation, len(c.list))
	copy(out, c.list)
	return out
}

// RefreshConversations reloads the conversation list from the store.
func (c *Coordinator) RefreshConversations(ctx context.Context) ([]conversation.Conversation, error) {
	list, err := c.store.ListConversations(ctx, c.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("refresh conversations: %w", err)
	}
	c.mu.Lock()
	c.list = list
	c.mu.Unlock()
	c.publish(Update{Kind: ConversationsChanged})
	return c.Conversations(), nil
}

// Messages returns a snapshot of the local messages of id, optimistic ones
// included.
func (c *Coordinator) Messages(id string) []LocalMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	local, ok := c.convs[id]
	if !ok {
		return nil
	}
	out := make([]LocalMessage, len(local.messages))
	copy(out, local.messages)
	return out
}

// State returns the turn state of id. Unknown conversations are Idle.
func (c *Coordinator) State(id string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if local, ok := c.convs[id]; ok {
		return local.state
	}
	return Idle
}

// Close cancels every running turn and stops publishing updates.
func (c *Coordinator) Close() {
	for _, id := range c.turns.Keys() {
		c.cancelTurn(id)
	}
	c.broker.Shutdown()
}

func (c *Coordinator) busy(id string) bool {
	_, running := c.turns.Get(id)
	return running
}

func (c *Coordinator) cancelTurn(id string) {
	if t, ok := c.turns.Get(id); ok {
		c.logger.Debug("canceling turn", "conversation", id, "turn", t.id)
		t.cancel()
	}
}

func (c *Coordinator) createConversation(ctx context.Context) (conversation.Conversation, error) {
	created, err := c.store.CreateConversation(ctx)
	if err != nil {
		return conversation.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}

	c.mu.Lock()
	c.convs[created.ID] = &localConversation{state: AwaitingConversation}
	c.active = created.ID
	c.list = append([]conversation.Conversation{created}, c.list...)
	c.mu.Unlock()

	c.publish(Update{Kind: ConversationsChanged, ConversationID: created.ID})
	return created, nil
}

// ensureLoaded fills the local state of id from the store unless it is
// already cached.
func (c *Coordinator) ensureLoaded(ctx context.Context, id string) error {
	c.mu.Lock()
	_, cached := c.convs[id]
	c.mu.Unlock()
	if cached {
		return nil
	}

	msgs, err := c.store.LoadMessages(ctx, id)
	if err != nil {
		return fmt.Errorf("load conversation %s: %w", id, err)
	}

	local := &localConversation{state: Idle, messages: make([]LocalMessage, 0, len(msgs))}
	for _, m := range msgs {
		local.messages = append(local.messages, LocalMessage{
			CorrelationID:  m.ID,
			ID:             m.ID,
			ConversationID: m.ConversationID,
			Role:           m.Role,
			Content:        m.Content,
			CreatedAt:      m.CreatedAt,
			Status:         Persisted,
		})
		if m.Role == conversation.Assistant {
			local.titled = true
		}
	}

	c.mu.Lock()
	if _, raced := c.convs[id]; !raced {
		c.convs[id] = local
	}
	c.mu.Unlock()
	c.publish(Update{Kind: MessagesChanged, ConversationID: id})
	return nil
}

// appendOptimistic adds the user message and returns the history to send,
// oldest first, plus whether no assistant reply has been persisted yet. open
// is false when the conversation was closed before the message was added.
func (c *Coordinator) appendOptimistic(user LocalMessage) (history []completion.Message, first, open bool) {
	c.mu.Lock()
	local, ok := c.convs[user.ConversationID]
	if !ok {
		c.mu.Unlock()
		return nil, false, false
	}
	local.messages = append(local.messages, user)

	history = make([]completion.Message, 0, len(local.messages))
	first = true
	for _, m := range local.messages {
		if m.Status == LocalOnly || m.Placeholder() {
			continue
		}
		if m.Role == conversation.Assistant {
			first = false
		}
		history = append(history, completion.Message{Role: string(m.Role), Content: m.Content})
	}
	c.mu.Unlock()

	c.publish(Update{Kind: MessagesChanged, ConversationID: user.ConversationID})
	return history, first, true
}

// appendLocal adds msg to the cached conversation. Like replaceLocal it is a
// no-op once the conversation was closed, so a running turn never brings
// back a partial cache entry.
func (c *Coordinator) appendLocal(msg LocalMessage) {
	c.mu.Lock()
	local, ok := c.convs[msg.ConversationID]
	if ok {
		local.messages = append(local.messages, msg)
	}
	c.mu.Unlock()
	if ok {
		c.publish(Update{Kind: MessagesChanged, ConversationID: msg.ConversationID})
	}
}

// replaceLocal swaps the message with the same correlation id. It is a no-op
// when the conversation was closed in the meantime.
func (c *Coordinator) replaceLocal(msg LocalMessage) {
	c.mu.Lock()
	local, ok := c.convs[msg.ConversationID]
	if ok {
		for i := range local.messages {
			if local.messages[i].CorrelationID == msg.CorrelationID {
				local.messages[i] = msg
				break
			}
		}
	}
	c.mu.Unlock()
	if ok {
		c.publish(Update{Kind: MessagesChanged, ConversationID: msg.ConversationID})
	}
}

func (c *Coordinator) removeLocal(convID, correlationID string) {
	c.mu.Lock()
	local, ok := c.convs[convID]
	if ok {
		kept := local.messages[:0]
		for _, m := range local.messages {
			if m.CorrelationID != correlationID {
				kept = append(kept, m)
			}
		}
		local.messages = kept
	}
	c.mu.Unlock()
	if ok {
		c.publish(Update{Kind: MessagesChanged, ConversationID: convID})
	}
}

func (c *Coordinator) setState(id string, s State) {
	c.mu.Lock()
	local, ok := c.convs[id]
	if ok {
		local.state = s
	}
	c.mu.Unlock()
	if ok {
		c.publish(Update{Kind: StateChanged, ConversationID: id, State: s})
	}
}

func (c *Coordinator) publish(u Update) {
	c.broker.Publish(pubsub.UpdatedEvent, u)
}
