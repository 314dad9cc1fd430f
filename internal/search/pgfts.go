package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgtype"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; without Postgres nothing else works either.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit, offset := normalizePage(q)

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	where := []string{"m.fts @@ " + tsQuery}

	if q.ThreadID != nil {
		args = append(args, *q.ThreadID)
		where = append(where, fmt.Sprintf("m.thread_id = $%d", len(args)))
	}
	if q.ProjectID != nil {
		args = append(args, *q.ProjectID)
		where = append(where, fmt.Sprintf("t.project_id = $%d", len(args)))
	}
	if !q.IsAdmin {
		args = append(args, q.ViewerID)
		viewer := fmt.Sprintf("$%d", len(args))
		where = append(where,
			"EXISTS (SELECT 1 FROM thread_participants tp WHERE tp.thread_id = m.thread_id AND tp.user_id = "+viewer+")",
			"(m.status = 'approved' OR (m.status = 'pending' AND m.sender_id = "+viewer+"))",
		)
	}

	from := `FROM messages m JOIN message_threads t ON t.id = m.thread_id WHERE ` + strings.Join(where, " AND ")

	var total int
	if err := p.db.QueryRowContext(ctx, "SELECT count(*) "+from, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT m.id, m.thread_id, t.project_id, m.sender_id,
			ts_headline('english', m.text, %s, 'MaxFragments=1,MaxWords=30,StartSel=<mark>,StopSel=</mark>'),
			m.status, EXTRACT(EPOCH FROM m.created_at)::bigint
		%s
		ORDER BY ts_rank(m.fts, %s) DESC, m.id DESC
		LIMIT %d OFFSET %d`, tsQuery, from, tsQuery, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.MessageID, &r.ThreadID, &r.ProjectID, &r.SenderID, &r.Snippet, &r.Status, &r.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

// LoadAllRecords returns every message with its thread roster for a full
// reindex.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]MessageRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT m.id, m.thread_id, t.project_id, m.sender_id, m.text, m.status,
			EXTRACT(EPOCH FROM m.created_at)::bigint,
			COALESCE((SELECT array_agg(tp.user_id ORDER BY tp.user_id) FROM thread_participants tp WHERE tp.thread_id = m.thread_id), '{}')
		FROM messages m
		JOIN message_threads t ON t.id = m.thread_id
		ORDER BY m.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	typeMap := pgtype.NewMap()
	records := make([]MessageRecord, 0)
	for rows.Next() {
		var rec MessageRecord
		if err := rows.Scan(&rec.ID, &rec.ThreadID, &rec.ProjectID, &rec.SenderID, &rec.Text, &rec.Status, &rec.CreatedAt, typeMap.SQLScanner(&rec.ParticipantIDs)); err != nil {
			return nil, fmt.Errorf("scan message record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message records: %w", err)
	}
	return records, nil
}
