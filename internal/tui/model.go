// Package tui is the interactive terminal client: conversation list, chat,
// live trace feed and agent activity by category.
package tui

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"agentdesk/internal/agentstatus"
	"agentdesk/internal/chat"
	"agentdesk/internal/conversation"
	"agentdesk/internal/pubsub"
	"agentdesk/internal/trace"
)

type focus int

const (
	focusInput focus = iota
	focusList
)

const sidebarWidth = 34

type Model struct {
	ctx     context.Context
	session *chat.Session

	chatUpdates  <-chan pubsub.Event[chat.Update]
	feedEvents   <-chan pubsub.Event[trace.Event]
	statusEvents <-chan pubsub.Event[agentstatus.Status]

	width  int
	height int
	focus  focus

	conversations []conversation.Conversation
	cursor        int

	chatView viewport.Model
	feedView viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	help     help.Model

	// keyPrompt collects the API key when a send reports a missing
	// credential. pendingInput is resent once the key is saved.
	keyPrompt    textinput.Model
	promptingKey bool
	pendingInput string

	notice string
}

// New builds the model for session. The subscriptions live until ctx is done.
func New(ctx context.Context, session *chat.Session) Model {
	input := textinput.New()
	input.Prompt = "❯ "
	input.Placeholder = "Ask the agent team..."
	input.CharLimit = 8000
	input.Focus()

	keyPrompt := textinput.New()
	keyPrompt.Prompt = "API key: "
	keyPrompt.EchoMode = textinput.EchoPassword
	keyPrompt.EchoCharacter = '•'

	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = lipgloss.NewStyle().Foreground(colorTitle)

	return Model{
		ctx:           ctx,
		session:       session,
		chatUpdates:   session.Coordinator.Subscribe(ctx),
		feedEvents:    session.Feed.Subscribe(ctx),
		statusEvents:  session.Registry.Subscribe(ctx),
		conversations: session.Coordinator.Conversations(),
		chatView:      viewport.New(0, 0),
		feedView:      viewport.New(0, 0),
		input:         input,
		keyPrompt:     keyPrompt,
		spinner:       sp,
		help:          help.New(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		m.listenChat(),
		m.listenFeed(),
		m.listenStatus(),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()

	case tea.KeyMsg:
		return m.handleKey(msg)

	case chatUpdateMsg:
		if msg.update.Kind == chat.ConversationsChanged {
			m.conversations = m.session.Coordinator.Conversations()
			m.clampCursor()
		}
		m.renderChat()
		cmds = append(cmds, m.listenChat())

	case feedMsg:
		m.renderFeed()
		cmds = append(cmds, m.listenFeed())

	case statusMsg:
		cmds = append(cmds, m.listenStatus())

	case turnDoneMsg:
		m.handleTurn(msg)
		m.renderChat()

	case openedMsg:
		if msg.err != nil {
			m.notice = "Could not open conversation: " + msg.err.Error()
		} else {
			m.notice = ""
		}
		m.renderChat()

	case refreshedMsg:
		if msg.err != nil {
			m.notice = "Could not load conversations: " + msg.err.Error()
		} else {
			m.conversations = msg.conversations
			m.clampCursor()
		}

	case credentialSavedMsg:
		if msg.err != nil {
			m.notice = "Could not save API key: " + msg.err.Error()
			break
		}
		m.notice = "API key saved"
		if msg.resend != "" {
			cmds = append(cmds, m.sendCmd(m.session.Coordinator.Active(), msg.resend))
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.session.Coordinator.State(m.session.Coordinator.Active()).Busy() {
			m.renderChat()
		}
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, keys.Quit) {
		return m, tea.Quit
	}

	if m.promptingKey {
		switch {
		case key.Matches(msg, keys.Cancel):
			m.promptingKey = false
			m.pendingInput = ""
			m.keyPrompt.Reset()
			m.keyPrompt.Blur()
			m.input.Focus()
			return m, nil
		case key.Matches(msg, keys.Send):
			value := m.keyPrompt.Value()
			if value == "" {
				return m, nil
			}
			resend := m.pendingInput
			m.promptingKey = false
			m.pendingInput = ""
			m.keyPrompt.Reset()
			m.keyPrompt.Blur()
			m.input.Focus()
			return m, m.saveCredentialCmd(value, resend)
		}
		var cmd tea.Cmd
		m.keyPrompt, cmd = m.keyPrompt.Update(msg)
		return m, cmd
	}

	coord := m.session.Coordinator
	switch {
	case key.Matches(msg, keys.Focus):
		if m.focus == focusInput {
			m.focus = focusList
			m.input.Blur()
		} else {
			m.focus = focusInput
			m.input.Focus()
		}
		return m, nil

	case key.Matches(msg, keys.New):
		m.notice = ""
		return m, m.openCmd("")

	case key.Matches(msg, keys.Close):
		if active := coord.Active(); active != "" {
			coord.CloseConversation(active)
			m.renderChat()
		}
		return m, nil

	case key.Matches(msg, keys.Refresh):
		return m, m.refreshCmd()
	}

	if m.focus == focusList {
		switch {
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.conversations)-1 {
				m.cursor++
			}
		case key.Matches(msg, keys.Send):
			if m.cursor < len(m.conversations) {
				m.focus = focusInput
				m.input.Focus()
				return m, m.openCmd(m.conversations[m.cursor].ID)
			}
		}
		return m, nil
	}

	if key.Matches(msg, keys.Send) {
		text := m.input.Value()
		m.input.Reset()
		if text == "" {
			return m, nil
		}
		return m, m.sendCmd(coord.Active(), text)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleTurn(msg turnDoneMsg) {
	switch {
	case errors.Is(msg.err, chat.ErrTurnInFlight):
		m.notice = "Still waiting for the previous reply"
		m.input.SetValue(msg.input)
	case msg.err != nil:
		m.notice = "Send failed: " + msg.err.Error()
		m.input.SetValue(msg.input)
	case msg.result.Outcome == chat.NeedsCredential:
		m.promptingKey = true
		m.pendingInput = msg.input
		m.notice = "An API key is required to talk to the agents"
		m.input.Blur()
		m.keyPrompt.Focus()
	case msg.result.Outcome == chat.Failed:
		m.notice = "The reply failed. Press enter to retry."
	default:
		m.notice = ""
	}
}

func (m *Model) clampCursor() {
	if m.cursor >= len(m.conversations) {
		m.cursor = len(m.conversations) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

func (m *Model) layout() {
	mainWidth := max(20, m.width-2*sidebarWidth-6)
	paneHeight := max(5, m.height-6)

	m.chatView.Width = mainWidth
	m.chatView.Height = max(3, paneHeight-3)
	m.feedView.Width = sidebarWidth
	m.feedView.Height = paneHeight
	m.input.Width = mainWidth - 4
	m.keyPrompt.Width = mainWidth - 12

	m.renderChat()
	m.renderFeed()
}

func (m *Model) renderChat() {
	coord := m.session.Coordinator
	content := renderMessages(coord.Messages(coord.Active()), m.spinner.View(), m.chatView.Width)
	m.chatView.SetContent(content)
	m.chatView.GotoBottom()
}

// renderFeed redraws the trace feed and keeps the newest event in view.
func (m *Model) renderFeed() {
	m.feedView.SetContent(renderFeed(m.session.Feed.Events(), m.feedView.Width))
	m.feedView.GotoBottom()
}

func (m Model) View() string {
	if m.width == 0 {
		return "loading..."
	}

	coord := m.session.Coordinator
	active := coord.Active()
	paneHeight := max(5, m.height-6)

	left := paneStyle(m.focus == focusList).Width(sidebarWidth).Height(paneHeight).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Conversations"),
			renderConversations(m.conversations, m.cursor, active, m.focus == focusList, sidebarWidth),
			"",
			titleStyle.Render("Active agents"),
			renderCategories(m.session.Registry.ActiveCounts(), sidebarWidth),
		),
	)

	var inputLine string
	if m.promptingKey {
		inputLine = m.keyPrompt.View()
	} else {
		inputLine = m.input.View()
	}
	header := titleStyle.Render(conversationTitle(m.conversations, active))
	if state := coord.State(active); state.Busy() {
		header += " " + workingStyle.Render(fmt.Sprintf("%s %s", m.spinner.View(), state))
	}
	center := paneStyle(m.focus == focusInput).Width(m.chatView.Width).Height(paneHeight).Render(
		lipgloss.JoinVertical(lipgloss.Left, header, m.chatView.View(), inputLine),
	)

	right := paneStyle(false).Width(sidebarWidth).Height(paneHeight).Render(
		lipgloss.JoinVertical(lipgloss.Left, titleStyle.Render("Trace"), m.feedView.View()),
	)

	footer := m.help.View(keys)
	if m.notice != "" {
		footer = noticeStyle.Render(m.notice) + "  " + footer
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, left, center, right),
		footer,
	)
}

// Run starts the program on the alternate screen and blocks until the user
// quits.
func Run(ctx context.Context, session *chat.Session) error {
	p := tea.NewProgram(New(ctx, session), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
