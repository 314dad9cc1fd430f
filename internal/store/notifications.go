package store

import (
	"context"
	"fmt"

	"github.com/Gi7-ux/app-sub000/internal/notify"
)

// Enqueue appends a notification row. PostgresStore is the durable
// notify.Sink; it always writes on the pool so a failed delivery never
// touches the caller's transaction.
func (s *PostgresStore) Enqueue(ctx context.Context, n notify.Notification) error {
	_, err := s.pool.ExecContext(ctx, `
		INSERT INTO notifications (user_id, title, message, link, project_id, thread_id)
		VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), $5, $6)
	`, n.UserID, n.Title, n.Message, n.Link, n.ProjectID, n.ThreadID)
	if err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, userID int64, limit int) ([]notify.Notification, error) {
	rows, err := s.pool.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(title, ''), message, COALESCE(link, ''), project_id, thread_id, is_read, created_at
		FROM notifications
		WHERE user_id=$1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]notify.Notification, 0)
	for rows.Next() {
		var item notify.Notification
		if err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.Title,
			&item.Message,
			&item.Link,
			&item.ProjectID,
			&item.ThreadID,
			&item.IsRead,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

// MarkNotificationRead reports false when the notification does not exist or
// belongs to another user.
func (s *PostgresStore) MarkNotificationRead(ctx context.Context, userID, notificationID int64) (bool, error) {
	result, err := s.pool.ExecContext(ctx, `
		UPDATE notifications SET is_read=TRUE WHERE id=$1 AND user_id=$2
	`, notificationID, userID)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark notification read rows: %w", err)
	}
	return affected > 0, nil
}
