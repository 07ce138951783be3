package conversation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agentdesk/pkg/db"
	"agentdesk/pkg/migration"
)

// SQLiteStore persists conversations in the embedded SQLite database.
type SQLiteStore struct {
	db  *db.DB
	ids *idGenerator
}

// OpenSQLite opens the database at path, runs pending migrations and returns
// a store that owns the connection pools.
func OpenSQLite(ctx context.Context, path string, nodeID int64) (*SQLiteStore, error) {
	d, err := db.Open(path)
	if err != nil {
		return nil, unavailable("open sqlite", err)
	}

	if err := migration.NewRunner(d.Write()).Run(ctx); err != nil {
		d.Close()
		return nil, unavailable("migrate sqlite", err)
	}

	ids, err := newIDGenerator(nodeID)
	if err != nil {
		d.Close()
		return nil, err
	}

	return &SQLiteStore{db: d, ids: ids}, nil
}

func (s *SQLiteStore) CreateConversation(ctx context.Context) (Conversation, error) {
	id, _, now := s.ids.next()

	_, err := s.db.Write().ExecContext(ctx,
		`INSERT INTO conversations(id, title, created_at, updated_at) VALUES(?, ?, ?, ?)`,
		id, PlaceholderTitle, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return Conversation{}, unavailable("create conversation", err)
	}

	return Conversation{ID: id, Title: PlaceholderTitle, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Read().QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations
		 ORDER BY updated_at DESC, created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, unavailable("list conversations", err)
	}
	defer rows.Close()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		var created, updated int64
		if err := rows.Scan(&c.ID, &c.Title, &created, &updated); err != nil {
			return nil, unavailable("scan conversation", err)
		}
		c.CreatedAt = time.UnixMilli(created)
		c.UpdatedAt = time.UnixMilli(updated)
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list conversations", err)
	}

	return convs, nil
}

func (s *SQLiteStore) LoadMessages(ctx context.Context, conversationID string) ([]Message, error) {
	var exists int
	err := s.db.Read().QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load messages of %s: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("load messages", err)
	}

	rows, err := s.db.Read().QueryContext(ctx,
		`SELECT id, role, content, created_at FROM messages
		 WHERE conversation_id = ? ORDER BY created_at, seq`, conversationID)
	if err != nil {
		return nil, unavailable("load messages", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m       Message
			role    string
			created int64
		)
		if err := rows.Scan(&m.ID, &role, &m.Content, &created); err != nil {
			return nil, unavailable("scan message", err)
		}
		m.ConversationID = conversationID
		m.Role = Role(role)
		m.CreatedAt = time.UnixMilli(created)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("load messages", err)
	}

	return msgs, nil
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, msg NewMessage) (Message, error) {
	if err := validate(msg); err != nil {
		return Message{}, err
	}

	id, seq, now := s.ids.next()

	err := s.db.WithTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, msg.ConversationID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("append message to %s: %w", msg.ConversationID, ErrNotFound)
		}
		if err != nil {
			return unavailable("append message", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO messages(id, seq, conversation_id, role, content, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
			id, seq, msg.ConversationID, string(msg.Role), msg.Content, now.UnixMilli())
		if err != nil {
			return unavailable("append message", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnavailable) {
			return Message{}, err
		}
		return Message{}, unavailable("append message", err)
	}

	return Message{
		ID:             id,
		ConversationID: msg.ConversationID,
		Role:           msg.Role,
		Content:        msg.Content,
		CreatedAt:      now,
	}, nil
}

func (s *SQLiteStore) UpdateConversation(ctx context.Context, id string, update ConversationUpdate) error {
	var (
		title   sql.NullString
		updated sql.NullInt64
	)
	if update.Title != nil {
		title = sql.NullString{String: *update.Title, Valid: true}
	}
	if update.UpdatedAt != nil {
		updated = sql.NullInt64{Int64: update.UpdatedAt.UnixMilli(), Valid: true}
	}

	res, err := s.db.Write().ExecContext(ctx,
		`UPDATE conversations
		 SET title = COALESCE(?, title), updated_at = COALESCE(?, updated_at)
		 WHERE id = ?`,
		title, updated, id)
	if err != nil {
		return unavailable("update conversation", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("update conversation", err)
	}
	if n == 0 {
		return fmt.Errorf("update conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
