package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Message is one coalesced speaker turn.
type Message struct {
	ID             int64
	ConversationID int64
	UserID         int64
	RawText        string
	NormalizedText string
	Date           string
	Time           string
	CreatedAt      time.Time

	// Speaker is the author's display name, filled by read queries.
	Speaker string
	// HasEmbedding is filled by read queries.
	HasEmbedding bool
}

const messageSelect = `
	SELECT m.id, m.conversation_id, m.user_id, m.raw_text, m.normalized_text,
	       m.date, m.time, m.created_at, u.display_name,
	       EXISTS (SELECT 1 FROM message_embeddings e WHERE e.message_id = m.id)
	FROM messages m
	JOIN users u ON u.id = m.user_id`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	m := &Message{}
	err := row.Scan(&m.ID, &m.ConversationID, &m.UserID, &m.RawText, &m.NormalizedText,
		&m.Date, &m.Time, &m.CreatedAt, &m.Speaker, &m.HasEmbedding)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (q *queries) listMessages(ctx context.Context, tail string, args ...any) ([]*Message, error) {
	rows, err := q.q.QueryContext(ctx, messageSelect+" "+tail, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMessage retrieves one message with its speaker name.
func (q *queries) GetMessage(ctx context.Context, id int64) (*Message, error) {
	m, err := scanMessage(q.q.QueryRowContext(ctx, messageSelect+` WHERE m.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return m, nil
}

// GetMessages loads the listed messages in one query, keyed by ID. IDs
// with no row are absent from the map.
func (q *queries) GetMessages(ctx context.Context, ids []int64) (map[int64]*Message, error) {
	out := make(map[int64]*Message, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	msgs, err := q.listMessages(ctx, `WHERE m.id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		out[m.ID] = m
	}
	return out, nil
}

// ConversationMessages returns a conversation's messages ordered by
// (date, time, id).
func (q *queries) ConversationMessages(ctx context.Context, conversationID int64) ([]*Message, error) {
	return q.listMessages(ctx, `WHERE m.conversation_id = ? ORDER BY m.date, m.time, m.id`, conversationID)
}

// MessagesForReembed lists messages in ID order. With onlyMissing it
// returns only those without an embedding.
func (q *queries) MessagesForReembed(ctx context.Context, onlyMissing bool) ([]*Message, error) {
	if onlyMissing {
		return q.listMessages(ctx,
			`WHERE NOT EXISTS (SELECT 1 FROM message_embeddings e WHERE e.message_id = m.id) ORDER BY m.id`)
	}
	return q.listMessages(ctx, `ORDER BY m.id`)
}

// CountMessagesByUser counts messages authored by userID.
func (q *queries) CountMessagesByUser(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// InsertMessage inserts m and sets its ID. The author must already be a
// participant of the conversation.
func (t *Tx) InsertMessage(ctx context.Context, m *Message) error {
	m.CreatedAt = time.Now().UTC()
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO messages (conversation_id, user_id, raw_text, normalized_text, date, time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, m.ConversationID, m.UserID, m.RawText, m.NormalizedText, m.Date, m.Time, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	m.ID, err = res.LastInsertId()
	return err
}

// UpdateNormalizedText rewrites the derived normalized text of a message.
func (t *Tx) UpdateNormalizedText(ctx context.Context, messageID int64, normalized string) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE messages SET normalized_text = ? WHERE id = ?`, normalized, messageID)
	if err != nil {
		return fmt.Errorf("failed to update normalized text: %w", err)
	}
	return expectOne(res, fmt.Sprintf("message %d", messageID))
}

// ReassignMessages moves every message authored by from to to. to must
// already participate in each affected conversation.
func (t *Tx) ReassignMessages(ctx context.Context, from, to int64) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `UPDATE messages SET user_id = ? WHERE user_id = ?`, to, from)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign messages: %w", err)
	}
	return res.RowsAffected()
}
