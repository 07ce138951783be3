package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"agentdesk/internal/completion"
	"agentdesk/internal/conversation"
	"agentdesk/internal/logging"
)

type recordingStore struct {
	*conversation.MemoryStore

	mu         sync.Mutex
	calls      int
	appends    []conversation.NewMessage
	updates    []conversation.ConversationUpdate
	failCreate error
	failAppend func(conversation.NewMessage) error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: conversation.NewMemoryStore()}
}

func (s *recordingStore) record() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *recordingStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *recordingStore) Appends() []conversation.NewMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]conversation.NewMessage(nil), s.appends...)
}

func (s *recordingStore) CreateConversation(ctx context.Context) (conversation.Conversation, error) {
	s.record()
	if s.failCreate != nil {
		return conversation.Conversation{}, s.failCreate
	}
	return s.MemoryStore.CreateConversation(ctx)
}

func (s *recordingStore) ListConversations(ctx context.Context, limit int) ([]conversation.Conversation, error) {
	s.record()
	return s.MemoryStore.ListConversations(ctx, limit)
}

func (s *recordingStore) LoadMessages(ctx context.Context, id string) ([]conversation.Message, error) {
	s.record()
	return s.MemoryStore.LoadMessages(ctx, id)
}

func (s *recordingStore) AppendMessage(ctx context.Context, msg conversation.NewMessage) (conversation.Message, error) {
	s.record()
	s.mu.Lock()
	s.appends = append(s.appends, msg)
	fail := s.failAppend
	s.mu.Unlock()
	if fail != nil {
		if err := fail(msg); err != nil {
			return conversation.Message{}, err
		}
	}
	return s.MemoryStore.AppendMessage(ctx, msg)
}

func (s *recordingStore) UpdateConversation(ctx context.Context, id string, update conversation.ConversationUpdate) error {
	s.record()
	s.mu.Lock()
	s.updates = append(s.updates, update)
	s.mu.Unlock()
	return s.MemoryStore.UpdateConversation(ctx, id, update)
}

type fakeCompleter struct {
	mu       sync.Mutex
	requests []completion.Request
	respond  func(ctx context.Context, req completion.Request) (string, error)
}

func (f *fakeCompleter) Complete(ctx context.Context, apiKey string, req completion.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return "reply to " + req.Messages[len(req.Messages)-1].Content, nil
	}
	return respond(ctx, req)
}

func (f *fakeCompleter) Requests() []completion.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]completion.Request(nil), f.requests...)
}

type staticCreds string

func (s staticCreds) APIKey() (string, bool) { return string(s), s != "" }

func newTestCoordinator(store conversation.Store, completer Completer, creds CredentialSource) *Coordinator {
	return NewCoordinator(store, completer, creds, Options{
		Model:  "test-model",
		Logger: logging.Discard(),
	})
}

func TestSendMessageBlankInputIsNoOp(t *testing.T) {
	store := newRecordingStore()
	completer := &fakeCompleter{}
	c := newTestCoordinator(store, completer, staticCreds("sk-test"))

	for _, input := range []string{"", "   ", "\n\t"} {
		res, err := c.SendMessage(context.Background(), "", input)
		if err != nil {
			t.Fatalf("SendMessage(%q) failed: %v", input, err)
		}
		if res.Outcome != Skipped {
			t.Errorf("SendMessage(%q) outcome = %v, want skipped", input, res.Outcome)
		}
	}
	if store.Calls() != 0 {
		t.Errorf("blank input touched the store %d times", store.Calls())
	}
	if len(completer.Requests()) != 0 {
		t.Error("blank input reached the completion backend")
	}
	if len(c.Conversations()) != 0 {
		t.Error("blank input changed local state")
	}
}

func TestSendMessageWithoutCredentialPrompts(t *testing.T) {
	store := newRecordingStore()
	completer := &fakeCompleter{}
	c := newTestCoordinator(store, completer, staticCreds(""))

	res, err := c.SendMessage(context.Background(), "", "hello")
	if err != nil {
		t.Fatalf("missing credential should not be an error: %v", err)
	}
	if res.Outcome != NeedsCredential {
		t.Errorf("outcome = %v, want needs_credential", res.Outcome)
	}
	if store.Calls() != 0 || len(completer.Requests()) != 0 {
		t.Error("turn started without a credential")
	}
}

func TestFirstExchangeDerivesTitle(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	c := newTestCoordinator(store, &fakeCompleter{}, staticCreds("sk-test"))

	input := strings.Repeat("abcdefghij", 6) + "ü"
	res, err := c.SendMessage(ctx, "", input)
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if res.Outcome != Completed || !res.TitleDerived {
		t.Fatalf("unexpected result %+v", res)
	}

	list, err := store.ListConversations(ctx, 10)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one conversation, got %d", len(list))
	}
	if want := input[:50]; list[0].Title != want {
		t.Errorf("title = %q, want %q", list[0].Title, want)
	}
	cached := c.Conversations()
	if len(cached) != 1 || cached[0].Title != list[0].Title {
		t.Errorf("cached list not refreshed: %+v", cached)
	}

	msgs, err := store.LoadMessages(ctx, res.ConversationID)
	if err != nil {
		t.Fatalf("LoadMessages failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != conversation.User || msgs[1].Role != conversation.Assistant {
		t.Fatalf("unexpected persisted messages %+v", msgs)
	}

	local := c.Messages(res.ConversationID)
	if len(local) != 2 {
		t.Fatalf("expected 2 local messages, got %d", len(local))
	}
	for i, m := range local {
		if m.Status != Persisted || m.ID != msgs[i].ID {
			t.Errorf("local message %d not reconciled: %+v", i, m)
		}
	}
	if c.State(res.ConversationID) != Idle {
		t.Errorf("state = %v after turn", c.State(res.ConversationID))
	}
}

func TestTitleIsDerivedOnce(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	c := newTestCoordinator(store, &fakeCompleter{}, staticCreds("sk-test"))

	first, err := c.SendMessage(ctx, "", "first question")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	second, err := c.SendMessage(ctx, first.ConversationID, "second question")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if second.TitleDerived {
		t.Error("second exchange must not rewrite the title")
	}
	list, _ := store.ListConversations(ctx, 10)
	if list[0].Title != "first question" {
		t.Errorf("title = %q", list[0].Title)
	}
}

func TestCompletionFailureAddsLocalErrorOnly(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	completer := &fakeCompleter{respond: func(context.Context, completion.Request) (string, error) {
		return "", &completion.Error{Kind: completion.KindBackend, Status: 200, Message: "rate limited"}
	}}
	c := newTestCoordinator(store, completer, staticCreds("sk-test"))

	res, err := c.SendMessage(ctx, "", "hello")
	if err != nil {
		t.Fatalf("completion failures are recovered locally: %v", err)
	}
	if res.Outcome != Failed || !errors.Is(res.Err, completion.ErrCompletion) {
		t.Fatalf("unexpected result %+v", res)
	}

	local := c.Messages(res.ConversationID)
	if len(local) != 2 {
		t.Fatalf("expected user bubble and error reply, got %+v", local)
	}
	reply := local[1]
	if reply.Role != conversation.Assistant || reply.Content != "Error: rate limited" || reply.Status != LocalOnly {
		t.Errorf("unexpected error reply %+v", reply)
	}

	for _, m := range store.Appends() {
		if m.Role == conversation.Assistant {
			t.Errorf("error reply was written to the store: %+v", m)
		}
	}
	if c.State(res.ConversationID) != Idle {
		t.Errorf("state = %v, want idle after failure", c.State(res.ConversationID))
	}

	// A retry succeeds and the local error reply is not sent as history.
	completer.mu.Lock()
	completer.respond = nil
	completer.mu.Unlock()
	if _, err := c.SendMessage(ctx, res.ConversationID, "again"); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	list, _ := store.ListConversations(ctx, 1)
	if list[0].Title != "hello" {
		t.Errorf("title should come from the first message, got %q", list[0].Title)
	}
	reqs := completer.Requests()
	last := reqs[len(reqs)-1]
	for _, m := range last.Messages {
		if strings.HasPrefix(m.Content, "Error:") {
			t.Errorf("local error reply leaked into history: %+v", last.Messages)
		}
	}
}

func TestEachMessagePersistedOnceInCallOrder(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	completer := &fakeCompleter{}
	c := newTestCoordinator(store, completer, staticCreds("sk-test"))

	res, err := c.SendMessage(ctx, "", "one")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	for _, input := range []string{"two", "three"} {
		if _, err := c.SendMessage(ctx, res.ConversationID, input); err != nil {
			t.Fatalf("SendMessage(%q) failed: %v", input, err)
		}
	}

	appends := store.Appends()
	if len(appends) != 6 {
		t.Fatalf("expected 6 appends, got %d", len(appends))
	}

	msgs, err := store.LoadMessages(ctx, res.ConversationID)
	if err != nil {
		t.Fatalf("LoadMessages failed: %v", err)
	}
	want := []string{"one", "reply to one", "two", "reply to two", "three", "reply to three"}
	for i, m := range msgs {
		if m.Content != want[i] {
			t.Errorf("message %d = %q, want %q", i, m.Content, want[i])
		}
		if i > 0 && m.CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Errorf("message %d created before its predecessor", i)
		}
	}

	reqs := completer.Requests()
	if got := len(reqs[2].Messages); got != 5 {
		t.Errorf("third turn sent %d history messages, want 5", got)
	}
}

func TestSecondSendWhileInFlightIsRejected(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	completer := &fakeCompleter{respond: func(ctx context.Context, req completion.Request) (string, error) {
		started <- struct{}{}
		<-release
		return "done", nil
	}}
	c := newTestCoordinator(store, completer, staticCreds("sk-test"))

	conv, err := store.CreateConversation(ctx)
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	done := make(chan TurnResult, 1)
	go func() {
		res, _ := c.SendMessage(ctx, conv.ID, "first")
		done <- res
	}()
	<-started

	if c.State(conv.ID) != AwaitingCompletion {
		t.Errorf("state = %v while waiting for the backend", c.State(conv.ID))
	}
	if _, err := c.SendMessage(ctx, conv.ID, "second"); !errors.Is(err, ErrTurnInFlight) {
		t.Fatalf("expected ErrTurnInFlight, got %v", err)
	}

	close(release)
	if res := <-done; res.Outcome != Completed {
		t.Fatalf("first turn outcome = %v", res.Outcome)
	}
	if n := len(completer.Requests()); n != 1 {
		t.Errorf("backend called %d times, want 1", n)
	}
	for _, m := range store.Appends() {
		if m.Content == "second" {
			t.Error("rejected message was persisted")
		}
	}
}

func TestUserPersistFailureKeepsBubble(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	store.failAppend = func(m conversation.NewMessage) error {
		if m.Role == conversation.User {
			return errors.New("disk full")
		}
		return nil
	}
	c := newTestCoordinator(store, &fakeCompleter{}, staticCreds("sk-test"))

	res, err := c.SendMessage(ctx, "", "keep me")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if res.Outcome != Completed {
		t.Fatalf("outcome = %v", res.Outcome)
	}
	local := c.Messages(res.ConversationID)
	if len(local) != 2 || local[0].Content != "keep me" || local[0].Status != Unsaved {
		t.Errorf("user bubble should stay visible as unsaved: %+v", local)
	}
}

func TestCompletionFailureDropsUnsavedUserMessage(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	store.failAppend = func(conversation.NewMessage) error { return errors.New("offline") }
	completer := &fakeCompleter{respond: func(context.Context, completion.Request) (string, error) {
		return "", &completion.Error{Kind: completion.KindNetwork, Message: "connection refused"}
	}}
	c := newTestCoordinator(store, completer, staticCreds("sk-test"))

	res, err := c.SendMessage(ctx, "", "lost")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	local := c.Messages(res.ConversationID)
	if len(local) != 1 || local[0].Content != "Error: connection refused" {
		t.Errorf("expected only the error reply, got %+v", local)
	}
}

func TestCreateFailureAbortsTurn(t *testing.T) {
	store := newRecordingStore()
	store.failCreate = errors.New("database locked")
	completer := &fakeCompleter{}
	c := newTestCoordinator(store, completer, staticCreds("sk-test"))

	if _, err := c.SendMessage(context.Background(), "", "hello"); err == nil {
		t.Fatal("expected an error when no conversation can be created")
	}
	if len(completer.Requests()) != 0 {
		t.Error("backend called without a conversation")
	}
}

func TestSendToUnknownConversationIsRejected(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	completer := &fakeCompleter{}
	c := newTestCoordinator(store, completer, staticCreds("sk-test"))

	if _, err := c.OpenConversation(ctx, "does-not-exist"); !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("OpenConversation err = %v, want ErrNotFound", err)
	}

	res, err := c.SendMessage(ctx, "does-not-exist", "hello")
	if !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("SendMessage err = %v, want ErrNotFound", err)
	}
	if res.Outcome == Completed {
		t.Fatal("turn on a missing conversation reported as completed")
	}
	if len(completer.Requests()) != 0 {
		t.Error("backend called for a missing conversation")
	}
	if len(store.Appends()) != 0 {
		t.Errorf("appends = %+v, want none", store.Appends())
	}
	if msgs := c.Messages("does-not-exist"); msgs != nil {
		t.Errorf("local state created for missing conversation: %+v", msgs)
	}
	if c.busy("does-not-exist") {
		t.Error("rejected turn still registered as in flight")
	}
}

func TestClosedConversationIsNotRecreatedByRunningTurn(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	completer := &fakeCompleter{}
	c := newTestCoordinator(store, completer, staticCreds("sk-test"))

	conv, _ := store.CreateConversation(ctx)
	for _, m := range []conversation.NewMessage{
		{ConversationID: conv.ID, Role: conversation.User, Content: "earlier question"},
		{ConversationID: conv.ID, Role: conversation.Assistant, Content: "earlier answer"},
	} {
		if _, err := store.MemoryStore.AppendMessage(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := c.OpenConversation(ctx, conv.ID); err != nil {
		t.Fatalf("OpenConversation failed: %v", err)
	}

	// A turn that was already running when the conversation was closed.
	c.CloseConversation(conv.ID)
	c.appendLocal(LocalMessage{CorrelationID: "late", ConversationID: conv.ID, Role: conversation.Assistant, Status: Pending})
	if _, _, open := c.appendOptimistic(LocalMessage{CorrelationID: "user", ConversationID: conv.ID, Role: conversation.User, Content: "x"}); open {
		t.Error("appendOptimistic accepted a message for a closed conversation")
	}
	if msgs := c.Messages(conv.ID); msgs != nil {
		t.Fatalf("closed conversation came back with %+v", msgs)
	}

	if _, err := c.SendMessage(ctx, conv.ID, "next question"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	reqs := completer.Requests()
	if len(reqs) != 1 || len(reqs[0].Messages) != 3 {
		t.Fatalf("history sent = %+v, want the two stored messages plus the new one", reqs)
	}
	if reqs[0].Messages[0].Content != "earlier question" {
		t.Errorf("first history entry = %q", reqs[0].Messages[0].Content)
	}
}

func TestCloseConversationDiscardsLateReply(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	completer := &fakeCompleter{respond: func(context.Context, completion.Request) (string, error) {
		started <- struct{}{}
		<-release
		return "too late", nil
	}}
	c := newTestCoordinator(store, completer, staticCreds("sk-test"))

	conv, _ := store.CreateConversation(ctx)
	done := make(chan TurnResult, 1)
	go func() {
		res, _ := c.SendMessage(ctx, conv.ID, "question")
		done <- res
	}()
	<-started

	c.CloseConversation(conv.ID)
	close(release)

	res := <-done
	if res.Outcome != Canceled {
		t.Fatalf("outcome = %v, want canceled", res.Outcome)
	}
	for _, m := range store.Appends() {
		if m.Role == conversation.Assistant {
			t.Error("late reply was persisted")
		}
	}
	if msgs := c.Messages(conv.ID); msgs != nil {
		t.Errorf("closed conversation still has local state: %+v", msgs)
	}
}

func TestOpenConversationCancelsPreviousTurn(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	started := make(chan struct{}, 1)
	completer := &fakeCompleter{respond: func(ctx context.Context, req completion.Request) (string, error) {
		started <- struct{}{}
		<-ctx.Done()
		return "", &completion.Error{Kind: completion.KindCanceled, Message: "request canceled", Err: ctx.Err()}
	}}
	c := newTestCoordinator(store, completer, staticCreds("sk-test"))

	first, _ := store.CreateConversation(ctx)
	second, _ := store.CreateConversation(ctx)
	if _, err := c.OpenConversation(ctx, first.ID); err != nil {
		t.Fatalf("OpenConversation failed: %v", err)
	}

	done := make(chan TurnResult, 1)
	go func() {
		res, _ := c.SendMessage(ctx, first.ID, "question")
		done <- res
	}()
	<-started

	if _, err := c.OpenConversation(ctx, second.ID); err != nil {
		t.Fatalf("OpenConversation failed: %v", err)
	}

	select {
	case res := <-done:
		if res.Outcome != Canceled {
			t.Errorf("outcome = %v, want canceled", res.Outcome)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("turn was not canceled when switching conversations")
	}
	if c.Active() != second.ID {
		t.Errorf("active = %s", c.Active())
	}
	for _, m := range c.Messages(first.ID) {
		if m.Role == conversation.Assistant {
			t.Errorf("canceled turn left an assistant message: %+v", m)
		}
	}
	if c.State(first.ID) != Idle {
		t.Errorf("state = %v after cancel", c.State(first.ID))
	}
}

func TestOpenConversationLoadsHistory(t *testing.T) {
	ctx := context.Background()
	store := newRecordingStore()
	conv, _ := store.CreateConversation(ctx)
	for _, m := range []conversation.NewMessage{
		{ConversationID: conv.ID, Role: conversation.User, Content: "hi"},
		{ConversationID: conv.ID, Role: conversation.Assistant, Content: "hello"},
	} {
		if _, err := store.AppendMessage(ctx, m); err != nil {
			t.Fatalf("AppendMessage failed: %v", err)
		}
	}

	completer := &fakeCompleter{}
	c := newTestCoordinator(store, completer, staticCreds("sk-test"))
	msgs, err := c.OpenConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("OpenConversation failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Status != Persisted {
		t.Fatalf("unexpected messages %+v", msgs)
	}

	res, err := c.SendMessage(ctx, conv.ID, "follow up")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if res.TitleDerived {
		t.Error("a conversation with earlier replies must keep its title")
	}
	if got := len(completer.Requests()[0].Messages); got != 3 {
		t.Errorf("history length = %d, want 3", got)
	}
}

func TestUpdatesArePublished(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := newTestCoordinator(newRecordingStore(), &fakeCompleter{}, staticCreds("sk-test"))
	updates := c.Subscribe(ctx)

	res, err := c.SendMessage(ctx, "", "hello")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	var states []State
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-updates:
			u := ev.Payload
			if u.Kind == StateChanged && u.ConversationID == res.ConversationID {
				states = append(states, u.State)
			}
			if len(states) > 0 && states[len(states)-1] == Idle {
				want := []State{Sending, AwaitingCompletion, Reconciling, Idle}
				if len(states) != len(want) {
					t.Fatalf("states = %v, want %v", states, want)
				}
				for i := range want {
					if states[i] != want[i] {
						t.Fatalf("states = %v, want %v", states, want)
					}
				}
				return
			}
		case <-timeout:
			t.Fatalf("timed out, states so far %v", states)
		}
	}
}

func TestDeriveTitle(t *testing.T) {
	cases := map[string]string{
		"  short  ":             "short",
		strings.Repeat("é", 60): strings.Repeat("é", 50),
		strings.Repeat("x", 50): strings.Repeat("x", 50),
	}
	for in, want := range cases {
		if got := DeriveTitle(in); got != want {
			t.Errorf("DeriveTitle(%q) = %q, want %q", in, got, want)
		}
	}
}
