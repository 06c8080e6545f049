package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Conversation is one ingested transcript session.
type Conversation struct {
	ID int64
	// Date is YYYY-MM-DD and Time is HH:MM:SS, both local to the transcript.
	Date       string
	Time       string
	Source     string
	IngestedAt time.Time
	// ParticipantIDs is ordered by first appearance.
	ParticipantIDs []int64
}

// GetConversation retrieves a conversation and its participant list.
func (q *queries) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	c := &Conversation{}
	err := q.q.QueryRowContext(ctx, `
		SELECT id, created_date, created_time, source, ingested_at
		FROM conversations WHERE id = ?
	`, id).Scan(&c.ID, &c.Date, &c.Time, &c.Source, &c.IngestedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	c.ParticipantIDs, err = q.Participants(ctx, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Participants returns the user IDs of a conversation in position order.
func (q *queries) Participants(ctx context.Context, conversationID int64) ([]int64, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = ?
		ORDER BY position, user_id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RecentSharedConversations returns up to limit IDs of conversations in
// which both users took part, newest first.
func (q *queries) RecentSharedConversations(ctx context.Context, userA, userB int64, limit int) ([]int64, error) {
	rows, err := q.q.QueryContext(ctx, `
		SELECT c.id
		FROM conversations c
		JOIN conversation_participants a ON a.conversation_id = c.id AND a.user_id = ?
		JOIN conversation_participants b ON b.conversation_id = c.id AND b.user_id = ?
		ORDER BY c.created_date DESC, c.created_time DESC, c.id DESC
		LIMIT ?
	`, userA, userB, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list shared conversations: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan conversation id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateConversation inserts c with an empty participant set and sets its
// ID.
func (t *Tx) CreateConversation(ctx context.Context, c *Conversation) error {
	c.IngestedAt = time.Now().UTC()
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO conversations (created_date, created_time, source, ingested_at)
		VALUES (?, ?, ?, ?)
	`, c.Date, c.Time, c.Source, c.IngestedAt)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return err
	}
	c.ParticipantIDs = nil
	return nil
}

// AddParticipant appends userID to the conversation's participant list.
// Adding an existing participant is a no-op.
func (t *Tx) AddParticipant(ctx context.Context, conversationID, userID int64) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id, position)
		SELECT ?, ?, COALESCE(MAX(position) + 1, 0)
		FROM conversation_participants WHERE conversation_id = ?
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`, conversationID, userID, conversationID)
	if err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}

// ReplaceResult counts the rows touched by ReplaceParticipant.
type ReplaceResult struct {
	Conversations int64
	Messages      int64
}

// ReplaceParticipant substitutes to for from in every conversation from
// took part in, keeping from's position unless to already participates.
// from's messages move to to in the same step, because a message author must
// always be a participant.
func (t *Tx) ReplaceParticipant(ctx context.Context, from, to int64) (ReplaceResult, error) {
	var out ReplaceResult

	// The WHERE clause keeps SQLite from reading ON CONFLICT as a join
	// constraint.
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id, position)
		SELECT conversation_id, ?, position FROM conversation_participants WHERE user_id = ?
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`, to, from)
	if err != nil {
		return out, fmt.Errorf("failed to add replacement participant: %w", err)
	}

	out.Messages, err = t.ReassignMessages(ctx, from, to)
	if err != nil {
		return out, err
	}

	res, err := t.tx.ExecContext(ctx, `DELETE FROM conversation_participants WHERE user_id = ?`, from)
	if err != nil {
		return out, fmt.Errorf("failed to remove replaced participant: %w", err)
	}
	out.Conversations, err = res.RowsAffected()
	return out, err
}
