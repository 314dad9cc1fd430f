package store

import (
	"context"
	"fmt"
)

const messageColumns = `id, thread_id, sender_id, text, file_id, status, created_at`

func scanMessage(row interface{ Scan(...any) error }) (Message, error) {
	var item Message
	err := row.Scan(
		&item.ID,
		&item.ThreadID,
		&item.SenderID,
		&item.Text,
		&item.FileID,
		&item.Status,
		&item.CreatedAt,
	)
	return item, err
}

func (q *queries) InsertMessage(ctx context.Context, message Message) (Message, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO messages (thread_id, sender_id, text, file_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+messageColumns,
		message.ThreadID, message.SenderID, message.Text, message.FileID, message.Status)
	inserted, err := scanMessage(row)
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if _, err := q.db.ExecContext(ctx, `UPDATE message_threads SET updated_at=NOW() WHERE id=$1`, message.ThreadID); err != nil {
		return Message{}, fmt.Errorf("touch thread: %w", err)
	}
	return inserted, nil
}

func (q *queries) GetMessage(ctx context.Context, messageID int64) (Message, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	return scanMessage(row)
}

// LockMessage reads a message with a row lock held until the transaction ends.
func (q *queries) LockMessage(ctx context.Context, messageID int64) (Message, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id=$1 FOR UPDATE`, messageID)
	return scanMessage(row)
}

func (q *queries) UpdateMessageStatus(ctx context.Context, messageID int64, status string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE messages
		SET status=$2, updated_at=clock_timestamp()
		WHERE id=$1
	`, messageID, status)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	return nil
}

// ListMessages returns every message of the given threads regardless of
// status, oldest first with ids breaking ties.
func (q *queries) ListMessages(ctx context.Context, threadIDs []int64) ([]Message, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE thread_id = ANY($1)
		ORDER BY created_at ASC, id ASC
	`, threadIDs)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		item, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}
