package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"agentdesk/internal/conversation"
	"agentdesk/internal/timeutil"
)

type conversationRow struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type messageRow struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ListConversations prints the most recently updated conversations.
func ListConversations(ctx context.Context, store conversation.Store, out io.Writer, limit int, jsonMode bool) error {
	convs, err := store.ListConversations(ctx, limit)
	if err != nil {
		return err
	}

	if jsonMode {
		enc := json.NewEncoder(out)
		for _, c := range convs {
			if err := enc.Encode(conversationRow{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt, UpdatedAt: c.UpdatedAt}); err != nil {
				return err
			}
		}
		return nil
	}

	if len(convs) == 0 {
		fmt.Fprintln(out, "No conversations yet")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUPDATED\tTITLE")
	for _, c := range convs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.ID, timeutil.FormatRelativeTime(c.UpdatedAt, now), c.Title)
	}
	return w.Flush()
}

// History prints the messages of one conversation, oldest first.
func History(ctx context.Context, store conversation.Store, out io.Writer, id string, jsonMode bool) error {
	msgs, err := store.LoadMessages(ctx, id)
	if err != nil {
		return err
	}

	if jsonMode {
		enc := json.NewEncoder(out)
		for _, m := range msgs {
			if err := enc.Encode(messageRow{ID: m.ID, Role: string(m.Role), Content: m.Content, CreatedAt: m.CreatedAt}); err != nil {
				return err
			}
		}
		return nil
	}

	if len(msgs) == 0 {
		fmt.Fprintf(out, "Conversation %s has no messages\n", id)
		return nil
	}
	for i, m := range msgs {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "%s %s\n%s\n", labelStyle.Render(string(m.Role)), dimStyle.Render(m.CreatedAt.Local().Format("15:04:05")), m.Content)
	}
	return nil
}
