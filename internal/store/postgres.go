package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Querier is the set of messaging reads and writes that can run either
// directly on the pool or inside a transaction opened by WithinTx.
type Querier interface {
	FindThread(ctx context.Context, projectID *int64, threadType, participantHash string) (Thread, error)
	InsertThread(ctx context.Context, thread Thread) (Thread, bool, error)
	GetThread(ctx context.Context, threadID int64) (Thread, error)
	ListThreadsForUser(ctx context.Context, userID int64) ([]Thread, error)
	ListThreadsByProject(ctx context.Context, projectID int64) ([]Thread, error)
	UpdateThreadRoster(ctx context.Context, threadID int64, participantHash string) error
	ReclassifyThread(ctx context.Context, threadID int64, threadType string) error

	InsertParticipants(ctx context.Context, threadID int64, userIDs []int64) error
	AddParticipant(ctx context.Context, threadID, userID int64) (bool, error)
	IsParticipant(ctx context.Context, threadID, userID int64) (bool, error)
	ListParticipants(ctx context.Context, threadIDs []int64) ([]Participant, error)
	MarkThreadRead(ctx context.Context, threadID, userID int64, at time.Time) (bool, error)

	InsertMessage(ctx context.Context, message Message) (Message, error)
	GetMessage(ctx context.Context, messageID int64) (Message, error)
	LockMessage(ctx context.Context, messageID int64) (Message, error)
	UpdateMessageStatus(ctx context.Context, messageID int64, status string) error
	ListMessages(ctx context.Context, threadIDs []int64) ([]Message, error)
}

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db   dbtx
	inTx bool
}

type PostgresStore struct {
	queries
	pool *sql.DB
}

var _ Querier = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{queries: queries{db: db}, pool: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.pool
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.PingContext(ctx)
}

// WithinTx runs fn in a single transaction. Any error returned by fn, or a
// panic, rolls the whole transaction back.
func (s *PostgresStore) WithinTx(ctx context.Context, fn func(Querier) error) error {
	return runInTx(ctx, s.pool, func(tx *sql.Tx) error {
		return fn(&queries{db: tx, inTx: true})
	})
}

func runInTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// savepoint isolates fn so that a failing statement does not poison the
// enclosing transaction. Outside a transaction fn runs as is.
func (q *queries) savepoint(ctx context.Context, name string, fn func() error) error {
	if !q.inTx {
		return fn()
	}
	if _, err := q.db.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}
	if err := fn(); err != nil {
		if _, rbErr := q.db.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("rollback to savepoint %s: %w (after %v)", name, rbErr, err)
		}
		return err
	}
	if _, err := q.db.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint %s: %w", name, err)
	}
	return nil
}
