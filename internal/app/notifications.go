package app

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Gi7-ux/app-sub000/internal/notify"
	"github.com/Gi7-ux/app-sub000/internal/store"
)

const previewLength = 80

func threadLink(thread store.Thread) string {
	if thread.ProjectID != nil {
		return fmt.Sprintf("/projects/%d/messages?thread=%d", *thread.ProjectID, thread.ID)
	}
	return fmt.Sprintf("/messages?thread=%d", thread.ID)
}

func preview(text string) string {
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewLength]) + "…"
}

func newNotification(userID int64, thread store.Thread, title, message string) notify.Notification {
	threadID := thread.ID
	return notify.Notification{
		UserID:    userID,
		Title:     title,
		Message:   message,
		Link:      threadLink(thread),
		ProjectID: thread.ProjectID,
		ThreadID:  &threadID,
	}
}

// deliver hands notifications to the sink after the primary write has
// committed. Failures are logged and counted, never returned.
func (s *Service) deliver(ctx context.Context, notifications ...notify.Notification) {
	for _, n := range notifications {
		if err := s.notifier.Enqueue(ctx, n); err != nil {
			s.metrics.NotificationFailed()
			s.logger.Warn("notification enqueue failed",
				zap.Int64("user_id", n.UserID),
				zap.String("link", n.Link),
				zap.Error(err),
			)
		}
	}
}

// usersByID resolves names and roles for notification text. A directory
// failure here only degrades the wording.
func (s *Service) usersByID(ctx context.Context, ids []int64) map[int64]store.User {
	users, err := s.users.GetUsers(ctx, normalizeIDs(ids))
	if err != nil {
		s.logger.Warn("user lookup for notifications failed", zap.Error(err))
		return map[int64]store.User{}
	}
	return users
}

func displayName(users map[int64]store.User, userID int64) string {
	if user, ok := users[userID]; ok && user.Name != "" {
		return user.Name
	}
	return fmt.Sprintf("User %d", userID)
}

// ListNotifications returns the caller's newest notifications.
func (s *Service) ListNotifications(ctx context.Context, rc RequestContext, limit int) ([]notify.Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	items, err := s.inbox.ListNotifications(ctx, rc.UserID, limit)
	if err != nil {
		return nil, storeErr(err, "Notifications")
	}
	return items, nil
}

// ListLiveNotifications reads the caller's recent notifications from the live
// feed. When the feed is missing or unreachable it answers from the inbox.
func (s *Service) ListLiveNotifications(ctx context.Context, rc RequestContext, limit int) ([]notify.Notification, error) {
	if s.live == nil {
		return s.ListNotifications(ctx, rc, limit)
	}
	items, err := s.live.Recent(ctx, rc.UserID, int64(limit))
	if err != nil {
		s.logger.Warn("live notifications unavailable, reading inbox",
			zap.Int64("user_id", rc.UserID),
			zap.Error(err),
		)
		return s.ListNotifications(ctx, rc, limit)
	}
	return items, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, rc RequestContext, notificationID int64) error {
	ok, err := s.inbox.MarkNotificationRead(ctx, rc.UserID, notificationID)
	if err != nil {
		return storeErr(err, "Notification")
	}
	if !ok {
		return notFound("Notification")
	}
	return nil
}
