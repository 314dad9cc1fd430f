package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Gi7-ux/app-sub000/internal/rbac"
	"github.com/Gi7-ux/app-sub000/internal/store"
)

type AddParticipantInput struct {
	UserID        int64   `json:"userId" validate:"required,gt=0"`
	NewThreadType *string `json:"newThreadType,omitempty"`
}

type AddParticipantResult struct {
	ThreadID      int64  `json:"threadId"`
	UserAddedID   int64  `json:"userAddedId"`
	NewThreadType string `json:"newThreadType"`
}

// AddParticipant puts a user on an existing thread and, when asked or implied
// by the freelancer rule, reclassifies the thread. The reclassification is
// best-effort: if it fails the participant stays added.
func (s *Service) AddParticipant(ctx context.Context, rc RequestContext, threadID int64, input AddParticipantInput) (AddParticipantResult, error) {
	if !rbac.Can(rc.Role, rbac.ActionManageParticipants) {
		return AddParticipantResult{}, forbidden("Only admins can add participants")
	}
	if input.NewThreadType != nil && !isThreadType(*input.NewThreadType) {
		return AddParticipantResult{}, invalidRequest(fmt.Sprintf("Unknown thread type %q", *input.NewThreadType))
	}

	user, err := s.users.GetUser(ctx, input.UserID)
	if err != nil {
		return AddParticipantResult{}, storeErr(err, "User")
	}

	var (
		thread     store.Thread
		targetType string
	)
	err = s.store.WithinTx(ctx, func(q store.Querier) error {
		var err error
		thread, err = q.GetThread(ctx, threadID)
		if err != nil {
			return storeErr(err, "Thread")
		}
		if thread.Type == ThreadDirectMessage {
			return invalidRequest("Direct message threads always have exactly two participants")
		}
		present, err := q.IsParticipant(ctx, threadID, input.UserID)
		if err != nil {
			return err
		}
		if present {
			return conflict("User is already a participant of this thread")
		}

		targetType, err = s.targetThreadType(ctx, thread, user, input.NewThreadType)
		if err != nil {
			return err
		}

		added, err := q.AddParticipant(ctx, threadID, input.UserID)
		if err != nil {
			return err
		}
		if !added {
			return conflict("User is already a participant of this thread")
		}

		participants, err := q.ListParticipants(ctx, []int64{threadID})
		if err != nil {
			return err
		}
		if err := q.UpdateThreadRoster(ctx, threadID, participantSetHash(participantIDs(participants))); err != nil {
			return err
		}

		if targetType == thread.Type {
			return nil
		}
		if err := q.ReclassifyThread(ctx, threadID, targetType); err != nil {
			s.logger.Warn("thread reclassification failed, participant kept",
				zap.Int64("thread_id", threadID),
				zap.String("from", thread.Type),
				zap.String("to", targetType),
				zap.Error(err),
			)
			targetType = thread.Type
		}
		return nil
	})
	if err != nil {
		return AddParticipantResult{}, storeErr(err, "Thread")
	}

	s.metrics.ParticipantAdded()
	thread.Type = targetType
	s.deliver(ctx, newNotification(input.UserID, thread, "Added to conversation",
		"You were added to the conversation: "+thread.Subject))

	return AddParticipantResult{
		ThreadID:      threadID,
		UserAddedID:   input.UserID,
		NewThreadType: targetType,
	}, nil
}

// targetThreadType decides the type the thread should carry after the add.
// A freelancer joining a project's client_admin thread must be that project's
// freelancer, and by default turns it into the combined thread.
func (s *Service) targetThreadType(ctx context.Context, thread store.Thread, user store.User, requested *string) (string, error) {
	target := thread.Type
	if requested != nil {
		target = *requested
	}

	if thread.Type == ThreadClientAdmin && thread.ProjectID != nil && rbac.Role(user.Role) == rbac.RoleFreelancer {
		project, err := s.projects.GetProject(ctx, *thread.ProjectID)
		if err != nil {
			return "", storeErr(err, "Project")
		}
		if project.FreelancerID == nil || *project.FreelancerID != user.ID {
			return "", invalidRequest("User is not the freelancer assigned to this project")
		}
		if requested == nil {
			target = ThreadProjectClientAdminFreelancer
		}
	}

	if (target == ThreadDirectMessage) != (thread.ProjectID == nil) {
		return "", invalidRequest(fmt.Sprintf("Thread type %q does not match the thread's project scope", target))
	}
	return target, nil
}
