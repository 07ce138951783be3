package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agentdesk/internal/chat"
	"agentdesk/internal/credentials"
)

// ErrNoCredential is returned by Send when no API key is configured.
var ErrNoCredential = errors.New("no API key configured")

// Send runs a single turn outside the terminal UI. An empty conversationID
// starts a new conversation.
func Send(ctx context.Context, coord *chat.Coordinator, emitter EventEmitter, conversationID, message string) error {
	emitter.EmitTurnStarted(TurnStartedEvent{
		ConversationID: conversationID,
		Input:          message,
		Timestamp:      time.Now(),
	})

	if conversationID != "" {
		if _, err := coord.OpenConversation(ctx, conversationID); err != nil {
			emitter.EmitTurnFailed(TurnFailedEvent{ConversationID: conversationID, Outcome: "error", Error: err.Error(), Timestamp: time.Now()})
			return err
		}
	}

	res, err := coord.SendMessage(ctx, conversationID, message)
	if err != nil {
		emitter.EmitTurnFailed(TurnFailedEvent{ConversationID: conversationID, Outcome: "error", Error: err.Error(), Timestamp: time.Now()})
		return err
	}

	switch res.Outcome {
	case chat.Skipped:
		return fmt.Errorf("message is empty")
	case chat.NeedsCredential:
		emitter.EmitTurnFailed(TurnFailedEvent{
			ConversationID: conversationID,
			Outcome:        res.Outcome.String(),
			Error:          fmt.Sprintf("set %s or run 'agentdesk secret set'", credentials.APIKeyName),
			Timestamp:      time.Now(),
		})
		return ErrNoCredential
	case chat.Failed, chat.Canceled:
		emitter.EmitTurnFailed(TurnFailedEvent{
			ConversationID: res.ConversationID,
			Outcome:        res.Outcome.String(),
			Error:          res.Reply.Content,
			Timestamp:      time.Now(),
		})
		if res.Err != nil {
			return res.Err
		}
		return fmt.Errorf("turn %s", res.Outcome)
	}

	emitter.EmitTurnCompleted(TurnCompletedEvent{
		ConversationID: res.ConversationID,
		MessageID:      res.Reply.ID,
		Content:        res.Reply.Content,
		TitleDerived:   res.TitleDerived,
		Timestamp:      time.Now(),
	})
	return nil
}
