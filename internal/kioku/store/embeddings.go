package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bdobrica/Kioku/internal/kioku/embedding"
)

// Embedding is the stored vector of one message.
type Embedding struct {
	MessageID int64
	Vector    []float32
	Model     string
	UpdatedAt time.Time
}

// GetEmbedding returns the vector of a message.
func (q *queries) GetEmbedding(ctx context.Context, messageID int64) (*Embedding, error) {
	var (
		e    = &Embedding{MessageID: messageID}
		blob []byte
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT vector, model, updated_at FROM message_embeddings WHERE message_id = ?
	`, messageID).Scan(&blob, &e.Model, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("embedding for message %d: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding: %w", err)
	}
	e.Vector, err = embedding.DecodeVector(blob)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ScanEmbeddings calls fn with every stored vector in message-ID order.
// fn runs while the result set is open and must not issue queries of its
// own. Returning an error from fn stops the scan and returns that error.
func (q *queries) ScanEmbeddings(ctx context.Context, fn func(messageID int64, vec []float32) error) error {
	rows, err := q.q.QueryContext(ctx, `SELECT message_id, vector FROM message_embeddings ORDER BY message_id`)
	if err != nil {
		return fmt.Errorf("failed to scan embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id   int64
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return fmt.Errorf("failed to scan embedding row: %w", err)
		}
		vec, err := embedding.DecodeVector(blob)
		if err != nil {
			return fmt.Errorf("message %d: %w", id, err)
		}
		if err := fn(id, vec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// SetEmbedding stores or replaces the vector of a message.
func (t *Tx) SetEmbedding(ctx context.Context, messageID int64, vec []float32, model string) error {
	if len(vec) == 0 {
		return fmt.Errorf("set embedding for message %d: empty vector", messageID)
	}
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO message_embeddings (message_id, dimension, vector, model, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (message_id) DO UPDATE SET
			dimension = excluded.dimension,
			vector = excluded.vector,
			model = excluded.model,
			updated_at = excluded.updated_at
	`, messageID, len(vec), embedding.EncodeVector(vec), model, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set embedding: %w", err)
	}
	return nil
}

// DeleteEmbedding removes the vector of a message, if any.
func (t *Tx) DeleteEmbedding(ctx context.Context, messageID int64) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM message_embeddings WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}
	return nil
}
