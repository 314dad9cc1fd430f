package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const threadColumns = `id, project_id, type, subject, participant_set_hash, created_at, updated_at`

func scanThread(row interface{ Scan(...any) error }) (Thread, error) {
	var item Thread
	err := row.Scan(
		&item.ID,
		&item.ProjectID,
		&item.Type,
		&item.Subject,
		&item.ParticipantSetHash,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

// FindThread looks a thread up by its identity. It returns sql.ErrNoRows
// when no thread matches.
func (q *queries) FindThread(ctx context.Context, projectID *int64, threadType, participantHash string) (Thread, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+threadColumns+`
		FROM message_threads
		WHERE COALESCE(project_id, 0) = COALESCE($1::bigint, 0)
		  AND type = $2
		  AND participant_set_hash = $3
	`, projectID, threadType, participantHash)
	return scanThread(row)
}

// InsertThread creates the thread unless one with the same identity already
// exists, in which case the existing row is returned with created=false.
func (q *queries) InsertThread(ctx context.Context, thread Thread) (Thread, bool, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO message_threads (project_id, type, subject, participant_set_hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ((COALESCE(project_id, 0)), type, participant_set_hash) DO NOTHING
		RETURNING `+threadColumns,
		thread.ProjectID, thread.Type, thread.Subject, thread.ParticipantSetHash)
	created, err := scanThread(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Thread{}, false, fmt.Errorf("insert thread: %w", err)
	}

	existing, err := q.FindThread(ctx, thread.ProjectID, thread.Type, thread.ParticipantSetHash)
	if err != nil {
		return Thread{}, false, fmt.Errorf("fetch concurrently created thread: %w", err)
	}
	return existing, false, nil
}

func (q *queries) GetThread(ctx context.Context, threadID int64) (Thread, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+threadColumns+` FROM message_threads WHERE id=$1`, threadID)
	return scanThread(row)
}

func (q *queries) ListThreadsForUser(ctx context.Context, userID int64) ([]Thread, error) {
	return q.listThreads(ctx, `
		SELECT t.id, t.project_id, t.type, t.subject, t.participant_set_hash, t.created_at, t.updated_at
		FROM message_threads t
		JOIN thread_participants tp ON tp.thread_id = t.id
		WHERE tp.user_id = $1
		ORDER BY t.updated_at DESC, t.id DESC
	`, userID)
}

func (q *queries) ListThreadsByProject(ctx context.Context, projectID int64) ([]Thread, error) {
	return q.listThreads(ctx, `
		SELECT `+threadColumns+`
		FROM message_threads
		WHERE project_id = $1
		ORDER BY created_at ASC, id ASC
	`, projectID)
}

func (q *queries) listThreads(ctx context.Context, query string, args ...any) ([]Thread, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	items := make([]Thread, 0)
	for rows.Next() {
		item, err := scanThread(rows)
		if err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	return items, nil
}

// UpdateThreadRoster stores the participant hash for the thread's current
// roster. It is not isolated: a thread whose hash disagrees with its roster
// would be returned for the wrong participant set.
func (q *queries) UpdateThreadRoster(ctx context.Context, threadID int64, participantHash string) error {
	result, err := q.db.ExecContext(ctx, `
		UPDATE message_threads
		SET participant_set_hash=$2, updated_at=NOW()
		WHERE id=$1
	`, threadID, participantHash)
	if err != nil {
		return fmt.Errorf("update thread roster: %w", err)
	}
	return expectRow(result, "update thread roster")
}

// ReclassifyThread changes the thread's type inside a savepoint, so a failure
// leaves the rest of the transaction usable.
func (q *queries) ReclassifyThread(ctx context.Context, threadID int64, threadType string) error {
	return q.savepoint(ctx, "thread_reclassify", func() error {
		result, err := q.db.ExecContext(ctx, `
			UPDATE message_threads
			SET type=$2, updated_at=NOW()
			WHERE id=$1
		`, threadID, threadType)
		if err != nil {
			return fmt.Errorf("reclassify thread: %w", err)
		}
		return expectRow(result, "reclassify thread")
	})
}

func expectRow(result sql.Result, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (q *queries) InsertParticipants(ctx context.Context, threadID int64, userIDs []int64) error {
	for _, userID := range userIDs {
		if _, err := q.db.ExecContext(ctx, `
			INSERT INTO thread_participants (thread_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (thread_id, user_id) DO NOTHING
		`, threadID, userID); err != nil {
			return fmt.Errorf("insert participant %d: %w", userID, err)
		}
	}
	return nil
}

// AddParticipant reports false when the pair already exists.
func (q *queries) AddParticipant(ctx context.Context, threadID, userID int64) (bool, error) {
	result, err := q.db.ExecContext(ctx, `
		INSERT INTO thread_participants (thread_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (thread_id, user_id) DO NOTHING
	`, threadID, userID)
	if err != nil {
		return false, fmt.Errorf("add participant: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add participant rows: %w", err)
	}
	return affected > 0, nil
}

func (q *queries) IsParticipant(ctx context.Context, threadID, userID int64) (bool, error) {
	var exists bool
	err := q.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM thread_participants WHERE thread_id=$1 AND user_id=$2)
	`, threadID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check participant: %w", err)
	}
	return exists, nil
}

func (q *queries) ListParticipants(ctx context.Context, threadIDs []int64) ([]Participant, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT thread_id, user_id, last_read_timestamp, joined_at
		FROM thread_participants
		WHERE thread_id = ANY($1)
		ORDER BY thread_id ASC, user_id ASC
	`, threadIDs)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	items := make([]Participant, 0)
	for rows.Next() {
		var item Participant
		if err := rows.Scan(&item.ThreadID, &item.UserID, &item.LastReadTimestamp, &item.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return items, nil
}

func (q *queries) MarkThreadRead(ctx context.Context, threadID, userID int64, at time.Time) (bool, error) {
	result, err := q.db.ExecContext(ctx, `
		UPDATE thread_participants
		SET last_read_timestamp=$3
		WHERE thread_id=$1 AND user_id=$2
	`, threadID, userID, at)
	if err != nil {
		return false, fmt.Errorf("mark thread read: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark thread read rows: %w", err)
	}
	return affected > 0, nil
}
