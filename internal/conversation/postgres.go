package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_updated_at ON conversations(updated_at DESC);
CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    seq BIGINT NOT NULL,
    conversation_id TEXT NOT NULL REFERENCES conversations(id),
    role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
    content TEXT NOT NULL,
    created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, seq);
`

type PostgresConfig struct {
	DSN      string
	MaxConns int32
	MinConns int32
	NodeID   int64
}

// PostgresStore persists conversations in a shared PostgreSQL database.
type PostgresStore struct {
	pool *pgxpool.Pool
	ids  *idGenerator
}

// OpenPostgres connects, verifies the connection and ensures the schema exists.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	} else {
		poolCfg.MaxConns = 4
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, unavailable("creating connection pool", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable("pinging database", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, unavailable("ensure schema", err)
	}

	ids, err := newIDGenerator(cfg.NodeID)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, ids: ids}, nil
}

func (s *PostgresStore) CreateConversation(ctx context.Context) (Conversation, error) {
	id, _, now := s.ids.next()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations(id, title, created_at, updated_at) VALUES($1, $2, $3, $4)`,
		id, PlaceholderTitle, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return Conversation{}, unavailable("create conversation", err)
	}

	return Conversation{ID: id, Title: PlaceholderTitle, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *PostgresStore) ListConversations(ctx context.Context, limit int) ([]Conversation, error) {
	var limitArg any
	if limit > 0 {
		limitArg = limit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations
		 ORDER BY updated_at DESC, created_at DESC LIMIT $1`, limitArg)
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

func (s *PostgresStore) LoadMessages(ctx context.Context, conversationID string) ([]Message, error) {
	var exists int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM conversations WHERE id = $1`, conversationID).Scan(&exists)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("load messages of %s: %w", conversationID, ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("load messages", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, role, content, created_at FROM messages
		 WHERE conversation_id = $1 ORDER BY created_at, seq`, conversationID)
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

func (s *PostgresStore) AppendMessage(ctx context.Context, msg NewMessage) (Message, error) {
	if err := validate(msg); err != nil {
		return Message{}, err
	}

	id, seq, now := s.ids.next()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var exists int
		err := tx.QueryRow(ctx, `SELECT 1 FROM conversations WHERE id = $1`, msg.ConversationID).Scan(&exists)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("append message to %s: %w", msg.ConversationID, ErrNotFound)
		}
		if err != nil {
			return unavailable("append message", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO messages(id, seq, conversation_id, role, content, created_at) VALUES($1, $2, $3, $4, $5, $6)`,
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

func (s *PostgresStore) UpdateConversation(ctx context.Context, id string, update ConversationUpdate) error {
	var (
		title   *string
		updated *int64
	)
	if update.Title != nil {
		title = update.Title
	}
	if update.UpdatedAt != nil {
		ms := update.UpdatedAt.UnixMilli()
		updated = &ms
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations
		 SET title = COALESCE($1, title), updated_at = COALESCE($2, updated_at)
		 WHERE id = $3`,
		title, updated, id)
	if err != nil {
		return unavailable("update conversation", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
