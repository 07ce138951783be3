package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"agentdesk/internal/agentstatus"
	"agentdesk/internal/chat"
	"agentdesk/internal/conversation"
	"agentdesk/internal/pubsub"
	"agentdesk/internal/trace"
)

type chatUpdateMsg struct{ update chat.Update }

type feedMsg struct{ event pubsub.Event[trace.Event] }

type statusMsg struct{ status agentstatus.Status }

type turnDoneMsg struct {
	input  string
	result chat.TurnResult
	err    error
}

type openedMsg struct {
	id  string
	err error
}

type refreshedMsg struct {
	conversations []conversation.Conversation
	err           error
}

type credentialSavedMsg struct {
	resend string
	err    error
}

// listen waits for the next event on ch. A closed channel yields no message
// and ends the subscription.
func listen[T any](ch <-chan pubsub.Event[T], wrap func(pubsub.Event[T]) tea.Msg) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return wrap(ev)
	}
}

func (m Model) listenChat() tea.Cmd {
	return listen(m.chatUpdates, func(ev pubsub.Event[chat.Update]) tea.Msg {
		return chatUpdateMsg{update: ev.Payload}
	})
}

func (m Model) listenFeed() tea.Cmd {
	return listen(m.feedEvents, func(ev pubsub.Event[trace.Event]) tea.Msg {
		return feedMsg{event: ev}
	})
}

func (m Model) listenStatus() tea.Cmd {
	return listen(m.statusEvents, func(ev pubsub.Event[agentstatus.Status]) tea.Msg {
		return statusMsg{status: ev.Payload}
	})
}

func (m Model) sendCmd(conversationID, input string) tea.Cmd {
	coord := m.session.Coordinator
	ctx := m.ctx
	return func() tea.Msg {
		res, err := coord.SendMessage(ctx, conversationID, input)
		return turnDoneMsg{input: input, result: res, err: err}
	}
}

func (m Model) openCmd(id string) tea.Cmd {
	coord := m.session.Coordinator
	ctx := m.ctx
	return func() tea.Msg {
		_, err := coord.OpenConversation(ctx, id)
		return openedMsg{id: id, err: err}
	}
}

func (m Model) refreshCmd() tea.Cmd {
	coord := m.session.Coordinator
	ctx := m.ctx
	return func() tea.Msg {
		list, err := coord.RefreshConversations(ctx)
		return refreshedMsg{conversations: list, err: err}
	}
}

func (m Model) saveCredentialCmd(key, resend string) tea.Cmd {
	creds := m.session.Credentials
	return func() tea.Msg {
		return credentialSavedMsg{resend: resend, err: creds.Set(key)}
	}
}
