package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the pgx-backed Store.
//
// Expected table (schema configurable via WithPostgresSchema):
//
//	CREATE TABLE beacon.messages (
//	    id            TEXT PRIMARY KEY,
//	    channel_id    TEXT NOT NULL DEFAULT '',
//	    sender_id     TEXT NOT NULL,
//	    recipient_id  TEXT NOT NULL DEFAULT '',
//	    content       TEXT NOT NULL,
//	    kind          TEXT NOT NULL DEFAULT 'text',
//	    metadata      JSONB NOT NULL DEFAULT '{}',
//	    created_at    TIMESTAMPTZ NOT NULL,
//	    read          BOOLEAN NOT NULL DEFAULT FALSE,
//	    read_at       TIMESTAMPTZ
//	);
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption customizes a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithPostgresSchema overrides the default "beacon" schema.
func WithPostgresSchema(schema string) PostgresOption {
	return func(s *PostgresStore) { s.schema = schema }
}

// NewPostgresStore constructs a Store over an existing pool.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{pool: pool, schema: "beacon"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const messageColumns = `id, channel_id, sender_id, recipient_id, content, kind, metadata, created_at, read, read_at`

func (s *PostgresStore) Save(ctx context.Context, msg Message) error {
	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("history: encode metadata: %w", err)
	}

	q := fmt.Sprintf(`
		INSERT INTO %s.messages (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.schema, messageColumns)

	var readAt *time.Time
	if msg.Read {
		readAt = &msg.ReadAt
	}
	_, err = s.pool.Exec(ctx, q,
		msg.ID, msg.ChannelID, msg.SenderID, msg.RecipientID,
		msg.Content, msg.Kind, meta, msg.CreatedAt, msg.Read, readAt)
	if err != nil {
		return fmt.Errorf("history: save: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Message, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s.messages WHERE id = $1`, messageColumns, s.schema)
	return s.scanOne(s.pool.QueryRow(ctx, q, id))
}

func (s *PostgresStore) ListByChannel(ctx context.Context, channelID string, limit int) ([]Message, error) {
	limit = clampLimit(limit)
	q := fmt.Sprintf(`
		SELECT %s FROM %s.messages
		WHERE channel_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, messageColumns, s.schema)

	rows, err := s.pool.Query(ctx, q, channelID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list by channel: %w", err)
	}
	return s.collect(rows)
}

func (s *PostgresStore) ListDirect(ctx context.Context, userA, userB string, limit int) ([]Message, error) {
	limit = clampLimit(limit)
	q := fmt.Sprintf(`
		SELECT %s FROM %s.messages
		WHERE channel_id = ''
		  AND ((sender_id = $1 AND recipient_id = $2) OR (sender_id = $2 AND recipient_id = $1))
		ORDER BY created_at DESC, id DESC
		LIMIT $3`, messageColumns, s.schema)

	rows, err := s.pool.Query(ctx, q, userA, userB, limit)
	if err != nil {
		return nil, fmt.Errorf("history: list direct: %w", err)
	}
	return s.collect(rows)
}

func (s *PostgresStore) MarkRead(ctx context.Context, messageID, userID string, now time.Time) error {
	q := fmt.Sprintf(`
		UPDATE %s.messages
		SET read = TRUE, read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND recipient_id = $2`, s.schema)

	tag, err := s.pool.Exec(ctx, q, messageID, userID, now)
	if err != nil {
		return fmt.Errorf("history: mark read: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Disambiguate missing id from wrong recipient.
		if _, err := s.Get(ctx, messageID); err != nil {
			return err
		}
		return ErrNotRecipient
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanOne(row rowScanner) (Message, error) {
	var (
		m      Message
		meta   []byte
		readAt *time.Time
	)
	err := row.Scan(&m.ID, &m.ChannelID, &m.SenderID, &m.RecipientID,
		&m.Content, &m.Kind, &meta, &m.CreatedAt, &m.Read, &readAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Message{}, ErrNotFound
	}
	if err != nil {
		return Message{}, fmt.Errorf("history: scan: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &m.Metadata); err != nil {
			return Message{}, fmt.Errorf("history: decode metadata: %w", err)
		}
	}
	if readAt != nil {
		m.ReadAt = *readAt
	}
	return m, nil
}

// collect drains rows into oldest-first order (the query is newest-first).
func (s *PostgresStore) collect(rows pgx.Rows) ([]Message, error) {
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := s.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
