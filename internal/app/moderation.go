package app

import (
	"context"

	"go.uber.org/zap"

	"github.com/Gi7-ux/app-sub000/internal/notify"
	"github.com/Gi7-ux/app-sub000/internal/rbac"
	"github.com/Gi7-ux/app-sub000/internal/store"
)

type ModerateMessageInput struct {
	Status string `json:"status" validate:"required,oneof=approved deleted"`
}

type ModerationResult struct {
	MessageID int64  `json:"messageId"`
	Status    string `json:"status"`
	Changed   bool   `json:"changed"`
}

// checkTransition returns changed=false for a same-status request. Approval
// is only possible from pending; any live message may be deleted.
func checkTransition(current, next string) (changed bool, err error) {
	if current == next {
		return false, nil
	}
	switch next {
	case StatusApproved:
		if current == StatusPending {
			return true, nil
		}
	case StatusDeleted:
		if current == StatusPending || current == StatusApproved {
			return true, nil
		}
	}
	return false, invalidTransition(current, next)
}

// ModerateMessage moves a message to approved or deleted under admin
// authority and notifies whoever the change concerns.
func (s *Service) ModerateMessage(ctx context.Context, rc RequestContext, messageID int64, newStatus string) (ModerationResult, error) {
	if !rbac.Can(rc.Role, rbac.ActionModerate) {
		return ModerationResult{}, forbidden("Only admins can moderate messages")
	}
	if newStatus != StatusApproved && newStatus != StatusDeleted {
		return ModerationResult{}, invalidRequest("status must be approved or deleted")
	}

	var (
		message      store.Message
		previous     string
		changed      bool
		thread       store.Thread
		participants []store.Participant
	)
	err := s.store.WithinTx(ctx, func(q store.Querier) error {
		var err error
		message, err = q.LockMessage(ctx, messageID)
		if err != nil {
			return storeErr(err, "Message")
		}
		previous = message.Status
		changed, err = checkTransition(message.Status, newStatus)
		if err != nil || !changed {
			return err
		}
		if err := q.UpdateMessageStatus(ctx, messageID, newStatus); err != nil {
			return err
		}
		message.Status = newStatus

		thread, err = q.GetThread(ctx, message.ThreadID)
		if err != nil {
			return err
		}
		participants, err = q.ListParticipants(ctx, []int64{message.ThreadID})
		return err
	})
	if err != nil {
		return ModerationResult{}, storeErr(err, "Message")
	}

	result := ModerationResult{MessageID: messageID, Status: message.Status, Changed: changed}
	if !changed {
		s.metrics.MessageModerated("noop")
		return result, nil
	}

	s.metrics.MessageModerated(newStatus)
	s.logger.Info("message moderated",
		zap.Int64("message_id", messageID),
		zap.String("from", previous),
		zap.String("to", newStatus),
		zap.Int64("admin_id", rc.UserID),
	)

	ids := participantIDs(participants)
	s.indexMessage(message, thread, ids)
	s.deliver(ctx, s.moderationNotifications(ctx, rc, thread, message, previous, ids)...)
	return result, nil
}

func (s *Service) moderationNotifications(ctx context.Context, rc RequestContext, thread store.Thread, message store.Message, previous string, participants []int64) []notify.Notification {
	switch message.Status {
	case StatusApproved:
		users := s.usersByID(ctx, append([]int64{message.SenderID}, participants...))
		sender := displayName(users, message.SenderID)

		out := make([]notify.Notification, 0, len(participants))
		for _, userID := range participants {
			if userID == message.SenderID || userID == rc.UserID {
				continue
			}
			out = append(out, newNotification(userID, thread, thread.Subject,
				"New message from "+sender+": "+preview(message.Text)))
		}
		if message.SenderID != rc.UserID {
			out = append(out, newNotification(message.SenderID, thread, "Message approved",
				"Your message was approved: "+preview(message.Text)))
		}
		return out

	case StatusDeleted:
		if message.SenderID == rc.UserID {
			return nil
		}
		text := "Your message was removed by a moderator."
		if previous == StatusPending {
			text = "Your message was not approved."
		}
		return []notify.Notification{newNotification(message.SenderID, thread, "Message moderated", text)}
	}
	return nil
}
