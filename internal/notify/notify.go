// Package notify delivers user notifications produced by the messaging core.
package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Notification is a single row destined for one user's inbox.
type Notification struct {
	ID        int64     `json:"id,omitempty"`
	UserID    int64     `json:"userId"`
	Title     string    `json:"title,omitempty"`
	Message   string    `json:"message"`
	Link      string    `json:"link,omitempty"`
	ProjectID *int64    `json:"projectId,omitempty"`
	ThreadID  *int64    `json:"threadId,omitempty"`
	IsRead    bool      `json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
}

// Sink accepts notifications for later delivery.
type Sink interface {
	Enqueue(ctx context.Context, n Notification) error
}

// Fanout hands every notification to each configured sink. A failing sink
// does not stop delivery to the others.
type Fanout struct {
	sinks  []Sink
	logger *zap.Logger
}

func NewFanout(logger *zap.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	active := make([]Sink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			active = append(active, sink)
		}
	}
	return &Fanout{sinks: active, logger: logger}
}

func (f *Fanout) Enqueue(ctx context.Context, n Notification) error {
	var errs []error
	for _, sink := range f.sinks {
		if err := sink.Enqueue(ctx, n); err != nil {
			f.logger.Warn("notification sink failed",
				zap.Int64("user_id", n.UserID),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Noop drops every notification.
type Noop struct{}

func (Noop) Enqueue(context.Context, Notification) error { return nil }
