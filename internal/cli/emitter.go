package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// EventEmitter reports command progress either as JSON lines or as readable
// text.
type EventEmitter interface {
	EmitTurnStarted(event TurnStartedEvent)
	EmitTurnCompleted(event TurnCompletedEvent)
	EmitTurnFailed(event TurnFailedEvent)
	EmitTraceEvent(event TraceLineEvent)
	EmitAgentStatus(event AgentStatusEvent)
}

// JSONEmitter writes events as JSON Lines.
type JSONEmitter struct {
	mu     sync.Mutex
	output io.Writer
}

func NewJSONEmitter(out io.Writer) *JSONEmitter {
	return &JSONEmitter{output: out}
}

func (e *JSONEmitter) emit(event any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	data, err := json.Marshal(event)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to serialize event: %v\n", err)
		return
	}
	fmt.Fprintln(e.output, string(data))
}

func (e *JSONEmitter) EmitTurnStarted(event TurnStartedEvent) {
	event.Type = EventTurnStarted
	e.emit(event)
}

func (e *JSONEmitter) EmitTurnCompleted(event TurnCompletedEvent) {
	event.Type = EventTurnCompleted
	e.emit(event)
}

func (e *JSONEmitter) EmitTurnFailed(event TurnFailedEvent) {
	event.Type = EventTurnFailed
	e.emit(event)
}

func (e *JSONEmitter) EmitTraceEvent(event TraceLineEvent) {
	event.Type = EventTraceEvent
	e.emit(event)
}

func (e *JSONEmitter) EmitAgentStatus(event AgentStatusEvent) {
	event.Type = EventAgentStatus
	e.emit(event)
}

var (
	dimStyle   = lipgloss.NewStyle().Faint(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#f7768e"))
	labelStyle = lipgloss.NewStyle().Bold(true)
)

// PrettyEmitter writes progress to status and the assistant reply to
// output, so the reply can be piped while progress stays on the terminal.
type PrettyEmitter struct {
	mu     sync.Mutex
	output io.Writer
	status io.Writer
}

func NewPrettyEmitter(output, status io.Writer) *PrettyEmitter {
	return &PrettyEmitter{output: output, status: status}
}

func (e *PrettyEmitter) EmitTurnStarted(event TurnStartedEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintln(e.status, dimStyle.Render("Waiting for the agents..."))
}

func (e *PrettyEmitter) EmitTurnCompleted(event TurnCompletedEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintln(e.output, event.Content)
	fmt.Fprintln(e.status, dimStyle.Render("Resume with --conversation "+event.ConversationID))
}

func (e *PrettyEmitter) EmitTurnFailed(event TurnFailedEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintln(e.status, errorStyle.Render(event.Error))
}

func (e *PrettyEmitter) EmitTraceEvent(event TraceLineEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintf(e.output, "%s %s\n", dimStyle.Render(event.Timestamp.Format("15:04:05")), event.Text)
}

func (e *PrettyEmitter) EmitAgentStatus(event AgentStatusEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fmt.Fprintf(e.output, "%s %d/%d working\n", labelStyle.Render(event.Category+":"), event.Active, event.Total)
}
