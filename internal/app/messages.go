package app

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Gi7-ux/app-sub000/internal/notify"
	"github.com/Gi7-ux/app-sub000/internal/rbac"
	"github.com/Gi7-ux/app-sub000/internal/store"
)

type SendMessageInput struct {
	Text   string `json:"text"`
	FileID *int64 `json:"fileId,omitempty" validate:"omitempty,gt=0"`
}

type SendMessageResult struct {
	MessageID int64     `json:"messageId"`
	ThreadID  int64     `json:"threadId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// initialStatus holds freelancer messages in combined project threads for
// approval; everything else is approved on arrival.
func initialStatus(senderRole rbac.Role, threadType string) string {
	if senderRole == rbac.RoleFreelancer {
		if _, ok := combinedThreadTypes[threadType]; ok {
			return StatusPending
		}
	}
	return StatusApproved
}

func (s *Service) validateText(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", validationError("Message text is required", map[string]any{"field": "text"})
	}
	if utf8.RuneCountInString(text) > s.cfg.MessageMaxLength {
		return "", validationError("Message text is too long", map[string]any{
			"field": "text",
			"max":   s.cfg.MessageMaxLength,
		})
	}
	return text, nil
}

// SendMessage stores a message from a participant and notifies the rest of
// the thread. Pending messages are announced to admins only.
func (s *Service) SendMessage(ctx context.Context, rc RequestContext, threadID int64, input SendMessageInput) (SendMessageResult, error) {
	text, err := s.validateText(input.Text)
	if err != nil {
		return SendMessageResult{}, err
	}
	if !s.limiter.Allow(rc.UserID) {
		return SendMessageResult{}, rateLimited()
	}

	var (
		thread       store.Thread
		message      store.Message
		participants []store.Participant
	)
	err = s.store.WithinTx(ctx, func(q store.Querier) error {
		var err error
		thread, err = q.GetThread(ctx, threadID)
		if err != nil {
			return storeErr(err, "Thread")
		}
		ok, err := q.IsParticipant(ctx, threadID, rc.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return forbidden("Not a participant of this thread")
		}

		message, err = q.InsertMessage(ctx, store.Message{
			ThreadID: threadID,
			SenderID: rc.UserID,
			Text:     text,
			FileID:   input.FileID,
			Status:   initialStatus(rc.Role, thread.Type),
		})
		if err != nil {
			return err
		}
		participants, err = q.ListParticipants(ctx, []int64{threadID})
		return err
	})
	if err != nil {
		return SendMessageResult{}, storeErr(err, "Thread")
	}

	s.metrics.MessageSent(message.Status)
	ids := participantIDs(participants)
	s.indexMessage(message, thread, ids)
	s.deliver(ctx, s.messageNotifications(ctx, thread, message, ids)...)

	return SendMessageResult{
		MessageID: message.ID,
		ThreadID:  message.ThreadID,
		Status:    message.Status,
		CreatedAt: message.CreatedAt,
	}, nil
}

func (s *Service) messageNotifications(ctx context.Context, thread store.Thread, message store.Message, participants []int64) []notify.Notification {
	users := s.usersByID(ctx, participants)
	sender := displayName(users, message.SenderID)

	out := make([]notify.Notification, 0, len(participants))
	for _, userID := range participants {
		if userID == message.SenderID {
			continue
		}
		if message.Status == StatusPending {
			if rbac.Role(users[userID].Role) != rbac.RoleAdmin {
				continue
			}
			out = append(out, newNotification(userID, thread, "Message awaiting approval",
				"New message from "+sender+" awaits approval: "+preview(message.Text)))
			continue
		}
		out = append(out, newNotification(userID, thread, thread.Subject,
			"New message from "+sender+": "+preview(message.Text)))
	}
	return out
}

type ListMessagesInput struct {
	ThreadIDs []int64
	ProjectID *int64
}

type MessageView struct {
	ID           int64     `json:"id"`
	ThreadID     int64     `json:"threadId"`
	SenderID     int64     `json:"senderId"`
	SenderName   string    `json:"senderName"`
	SenderAvatar string    `json:"senderAvatar,omitempty"`
	Text         string    `json:"text"`
	FileID       *int64    `json:"fileId,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Status       string    `json:"status"`
}

// ListMessages returns the messages of the requested threads (or of every
// project thread the caller may read) in creation order, filtered for the
// caller.
func (s *Service) ListMessages(ctx context.Context, rc RequestContext, input ListMessagesInput) ([]MessageView, error) {
	var (
		threadIDs []int64
		err       error
	)
	switch {
	case input.ProjectID != nil && len(input.ThreadIDs) > 0:
		return nil, invalidRequest("Specify either threadIds or projectId, not both")
	case input.ProjectID != nil:
		threadIDs, err = s.projectThreadIDs(ctx, rc, *input.ProjectID)
	case len(input.ThreadIDs) > 0:
		threadIDs, err = s.readableThreadIDs(ctx, rc, input.ThreadIDs)
	default:
		return nil, invalidRequest("threadIds or projectId is required")
	}
	if err != nil {
		return nil, err
	}
	if len(threadIDs) == 0 {
		return []MessageView{}, nil
	}

	messages, err := s.store.ListMessages(ctx, threadIDs)
	if err != nil {
		return nil, storeErr(err, "Messages")
	}

	senders := make([]int64, 0, len(messages))
	for _, msg := range messages {
		senders = append(senders, msg.SenderID)
	}
	users, err := s.users.GetUsers(ctx, normalizeIDs(senders))
	if err != nil {
		return nil, storeErr(err, "Users")
	}

	out := make([]MessageView, 0, len(messages))
	for _, msg := range messages {
		visibility := VisibilityOf(msg.Status, rc.Role, msg.SenderID == rc.UserID)
		if visibility == Hidden {
			continue
		}
		view := MessageView{
			ID:           msg.ID,
			ThreadID:     msg.ThreadID,
			SenderID:     msg.SenderID,
			SenderName:   displayName(users, msg.SenderID),
			SenderAvatar: users[msg.SenderID].AvatarURL,
			Text:         msg.Text,
			FileID:       msg.FileID,
			Timestamp:    msg.CreatedAt,
			Status:       msg.Status,
		}
		if visibility == Redacted {
			view.Text = deletedMessageText
			view.FileID = nil
		}
		out = append(out, view)
	}
	return out, nil
}

func (s *Service) readableThreadIDs(ctx context.Context, rc RequestContext, requested []int64) ([]int64, error) {
	ids := normalizeIDs(requested)
	for _, threadID := range ids {
		if _, err := s.store.GetThread(ctx, threadID); err != nil {
			return nil, storeErr(err, "Thread")
		}
		if rc.IsAdmin() {
			continue
		}
		ok, err := s.store.IsParticipant(ctx, threadID, rc.UserID)
		if err != nil {
			return nil, storeErr(err, "Thread")
		}
		if !ok {
			return nil, forbidden("Not a participant of this thread")
		}
	}
	return ids, nil
}

func (s *Service) projectThreadIDs(ctx context.Context, rc RequestContext, projectID int64) ([]int64, error) {
	if _, err := s.projects.GetProject(ctx, projectID); err != nil {
		return nil, storeErr(err, "Project")
	}
	threads, err := s.store.ListThreadsByProject(ctx, projectID)
	if err != nil {
		return nil, storeErr(err, "Threads")
	}
	ids := make([]int64, 0, len(threads))
	for _, thread := range threads {
		ids = append(ids, thread.ID)
	}
	if rc.IsAdmin() || len(ids) == 0 {
		return ids, nil
	}

	participants, err := s.store.ListParticipants(ctx, ids)
	if err != nil {
		return nil, storeErr(err, "Participants")
	}
	readable := make([]int64, 0, len(ids))
	for _, p := range participants {
		if p.UserID == rc.UserID {
			readable = append(readable, p.ThreadID)
		}
	}
	if len(readable) == 0 {
		s.logger.Debug("caller has no threads in project",
			zap.Int64("project_id", projectID),
			zap.Int64("user_id", rc.UserID),
		)
	}
	return readable, nil
}
