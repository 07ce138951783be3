package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"agentdesk/internal/agentstatus"
	"agentdesk/internal/chat"
	"agentdesk/internal/conversation"
	"agentdesk/internal/trace"
)

func conversationTitle(list []conversation.Conversation, active string) string {
	if active == "" {
		return "New conversation"
	}
	for _, c := range list {
		if c.ID == active {
			return c.Title
		}
	}
	return conversation.PlaceholderTitle
}

func renderConversations(list []conversation.Conversation, cursor int, active string, focused bool, width int) string {
	if len(list) == 0 {
		return dimStyle.Render("No conversations yet")
	}
	var b strings.Builder
	for i, c := range list {
		line := truncate(c.Title, width-2)
		switch {
		case focused && i == cursor:
			line = selectedStyle.Render("› " + line)
		case c.ID == active:
			line = bodyStyle.Bold(true).Render("• " + line)
		default:
			line = dimStyle.Render("  " + line)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderCategories(counts []agentstatus.CategoryCount, width int) string {
	var b strings.Builder
	for _, c := range counts {
		count := fmt.Sprintf("%d/%d", c.Active, c.Total)
		name := truncate(c.Category, width-len(count)-1)
		pad := max(1, width-lipgloss.Width(name)-len(count))
		style := dimStyle
		if c.Active > 0 {
			style = workingStyle
		}
		b.WriteString(bodyStyle.Render(name) + strings.Repeat(" ", pad) + style.Render(count))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderMessages(msgs []chat.LocalMessage, spin string, width int) string {
	if len(msgs) == 0 {
		return dimStyle.Render("Type a message to start.")
	}
	body := lipgloss.NewStyle().Width(max(10, width))
	var b strings.Builder
	for _, m := range msgs {
		switch {
		case m.Placeholder():
			b.WriteString(assistStyle.Render("assistant") + "\n")
			b.WriteString(workingStyle.Render(spin + " thinking..."))
		case m.Status == chat.LocalOnly:
			b.WriteString(assistStyle.Render("assistant") + "\n")
			b.WriteString(errorStyle.Render(body.Render(m.Content)))
		case m.Role == conversation.User:
			label := userStyle.Render("you")
			if m.Status == chat.Unsaved {
				label += " " + dimStyle.Render("(not saved)")
			}
			b.WriteString(label + "\n" + bodyStyle.Render(body.Render(m.Content)))
		default:
			label := assistStyle.Render("assistant")
			if m.Status == chat.Unsaved {
				label += " " + dimStyle.Render("(not saved)")
			}
			b.WriteString(label + "\n" + bodyStyle.Render(body.Render(m.Content)))
		}
		b.WriteString("\n\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderFeed(events []trace.Event, width int) string {
	if len(events) == 0 {
		return dimStyle.Render("Waiting for agent activity")
	}
	body := lipgloss.NewStyle().Width(max(10, width))
	var b strings.Builder
	for _, e := range events {
		style := bodyStyle
		switch e.Type {
		case trace.TypeError:
			style = errorStyle
		case trace.TypeComplete:
			style = assistStyle
		case trace.TypeUnknown:
			style = dimStyle
		}
		b.WriteString(dimStyle.Render(e.Timestamp.Format("15:04:05")) + " ")
		b.WriteString(style.Render(body.Render(trace.Describe(e))))
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	if n <= 1 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
