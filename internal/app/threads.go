package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Gi7-ux/app-sub000/internal/rbac"
	"github.com/Gi7-ux/app-sub000/internal/store"
)

const (
	ThreadDirectMessage                = "direct_message"
	ThreadClientAdmin                  = "client_admin"
	ThreadProjectCommunication         = "project_communication"
	ThreadProjectClientAdminFreelancer = "project_client_admin_freelancer"
	ThreadProjectAdminClient           = "project_admin_client"
	ThreadProjectAdminFreelancer       = "project_admin_freelancer"
)

var threadTypes = map[string]struct{}{
	ThreadDirectMessage:                {},
	ThreadClientAdmin:                  {},
	ThreadProjectCommunication:         {},
	ThreadProjectClientAdminFreelancer: {},
	ThreadProjectAdminClient:           {},
	ThreadProjectAdminFreelancer:       {},
}

// combinedThreadTypes span client, freelancer and admins; freelancer messages
// in them wait for approval.
var combinedThreadTypes = map[string]struct{}{
	ThreadProjectClientAdminFreelancer: {},
	ThreadProjectCommunication:         {},
}

func isThreadType(threadType string) bool {
	_, ok := threadTypes[threadType]
	return ok
}

type EnsureThreadInput struct {
	Type           string  `json:"type" validate:"required"`
	ProjectID      *int64  `json:"projectId,omitempty" validate:"omitempty,gt=0"`
	ParticipantIDs []int64 `json:"participantIds,omitempty" validate:"omitempty,dive,gt=0"`
}

type EnsureThreadResult struct {
	ThreadID int64  `json:"threadId"`
	Created  bool   `json:"created"`
	Type     string `json:"type"`
}

type threadPlan struct {
	projectID    *int64
	threadType   string
	subject      string
	participants []int64
}

// EnsureThread finds the thread identified by (project, type, roster) or
// creates it with its participants in one transaction.
func (s *Service) EnsureThread(ctx context.Context, rc RequestContext, input EnsureThreadInput) (EnsureThreadResult, error) {
	var (
		plan threadPlan
		err  error
	)
	switch input.Type {
	case ThreadClientAdmin, ThreadProjectCommunication:
		plan, err = s.planProjectThread(ctx, rc, input)
	case ThreadDirectMessage:
		plan, err = s.planDirectThread(ctx, rc, input)
	default:
		return EnsureThreadResult{}, invalidRequest(fmt.Sprintf("Thread type %q cannot be ensured", input.Type))
	}
	if err != nil {
		return EnsureThreadResult{}, err
	}

	hash := participantSetHash(plan.participants)
	var (
		thread  store.Thread
		created bool
	)
	err = s.store.WithinTx(ctx, func(q store.Querier) error {
		existing, err := q.FindThread(ctx, plan.projectID, plan.threadType, hash)
		if err == nil {
			thread = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		thread, created, err = q.InsertThread(ctx, store.Thread{
			ProjectID:          plan.projectID,
			Type:               plan.threadType,
			Subject:            plan.subject,
			ParticipantSetHash: hash,
		})
		if err != nil {
			return err
		}
		if !created {
			return nil
		}
		return q.InsertParticipants(ctx, thread.ID, plan.participants)
	})
	if err != nil {
		return EnsureThreadResult{}, storeErr(err, "Thread")
	}

	s.metrics.ThreadEnsured(thread.Type, created)
	if created {
		s.logger.Info("thread created",
			zap.Int64("thread_id", thread.ID),
			zap.String("type", thread.Type),
			zap.Int("participants", len(plan.participants)),
		)
	}
	return EnsureThreadResult{ThreadID: thread.ID, Created: created, Type: thread.Type}, nil
}

func (s *Service) planProjectThread(ctx context.Context, rc RequestContext, input EnsureThreadInput) (threadPlan, error) {
	if input.ProjectID == nil {
		return threadPlan{}, invalidRequest("projectId is required for " + input.Type)
	}
	if len(input.ParticipantIDs) > 0 {
		return threadPlan{}, invalidRequest("participantIds are not accepted for " + input.Type)
	}

	project, err := s.projects.GetProject(ctx, *input.ProjectID)
	if err != nil {
		return threadPlan{}, storeErr(err, "Project")
	}

	isFreelancer := project.FreelancerID != nil && *project.FreelancerID == rc.UserID
	allowed := rc.IsAdmin() || rc.UserID == project.ClientID
	if input.Type == ThreadProjectCommunication {
		allowed = allowed || isFreelancer
	}
	if !allowed {
		return threadPlan{}, forbidden("Not a member of this project")
	}

	admins, err := s.users.ListUsersByRole(ctx, string(rbac.RoleAdmin))
	if err != nil {
		return threadPlan{}, storeErr(err, "Users")
	}

	participants := []int64{project.ClientID}
	if input.Type == ThreadProjectCommunication && project.FreelancerID != nil {
		participants = append(participants, *project.FreelancerID)
	}
	for _, admin := range admins {
		participants = append(participants, admin.ID)
	}

	subject := "Inquiry about project: " + project.Title
	if input.Type == ThreadProjectCommunication {
		subject = "Discussion for project: " + project.Title
	}

	projectID := project.ID
	return threadPlan{
		projectID:    &projectID,
		threadType:   input.Type,
		subject:      subject,
		participants: normalizeIDs(participants),
	}, nil
}

func (s *Service) planDirectThread(ctx context.Context, rc RequestContext, input EnsureThreadInput) (threadPlan, error) {
	if input.ProjectID != nil {
		return threadPlan{}, invalidRequest("projectId is not accepted for direct_message")
	}
	ids := input.ParticipantIDs
	if len(ids) != 2 || ids[0] == ids[1] {
		return threadPlan{}, invalidRequest("direct_message requires exactly two distinct participantIds")
	}
	if !slices.Contains(ids, rc.UserID) {
		return threadPlan{}, forbidden("Caller must be one of the participants")
	}

	users, err := s.users.GetUsers(ctx, ids)
	if err != nil {
		return threadPlan{}, storeErr(err, "Users")
	}
	first, ok := users[ids[0]]
	if !ok {
		return threadPlan{}, notFound("User")
	}
	second, ok := users[ids[1]]
	if !ok {
		return threadPlan{}, notFound("User")
	}

	return threadPlan{
		threadType:   ThreadDirectMessage,
		subject:      fmt.Sprintf("Conversation between %s and %s", first.Name, second.Name),
		participants: normalizeIDs(ids),
	}, nil
}

type ParticipantView struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

type ThreadSummary struct {
	ThreadID             int64             `json:"threadId"`
	Type                 string            `json:"type"`
	ProjectID            *int64            `json:"projectId,omitempty"`
	Subject              string            `json:"subject"`
	Participants         []ParticipantView `json:"participants"`
	LastMessage          *string           `json:"lastMessage"`
	LastMessageTimestamp *time.Time        `json:"lastMessageTimestamp"`
	UnreadCount          int               `json:"unreadCount"`
}

// ListThreads returns the caller's threads, most recently active first.
func (s *Service) ListThreads(ctx context.Context, rc RequestContext) ([]ThreadSummary, error) {
	threads, err := s.store.ListThreadsForUser(ctx, rc.UserID)
	if err != nil {
		return nil, storeErr(err, "Threads")
	}
	if len(threads) == 0 {
		return []ThreadSummary{}, nil
	}

	threadIDs := make([]int64, len(threads))
	for i, thread := range threads {
		threadIDs[i] = thread.ID
	}
	participants, err := s.store.ListParticipants(ctx, threadIDs)
	if err != nil {
		return nil, storeErr(err, "Participants")
	}
	messages, err := s.store.ListMessages(ctx, threadIDs)
	if err != nil {
		return nil, storeErr(err, "Messages")
	}
	users, err := s.users.GetUsers(ctx, normalizeIDs(participantIDs(participants)))
	if err != nil {
		return nil, storeErr(err, "Users")
	}

	rosters := make(map[int64][]ParticipantView, len(threads))
	lastRead := make(map[int64]*time.Time, len(threads))
	for _, p := range participants {
		user := users[p.UserID]
		rosters[p.ThreadID] = append(rosters[p.ThreadID], ParticipantView{ID: p.UserID, Name: user.Name, Role: user.Role})
		if p.UserID == rc.UserID {
			lastRead[p.ThreadID] = p.LastReadTimestamp
		}
	}

	summaries := make(map[int64]*ThreadSummary, len(threads))
	out := make([]ThreadSummary, 0, len(threads))
	for _, thread := range threads {
		roster := rosters[thread.ID]
		if roster == nil {
			roster = []ParticipantView{}
		}
		out = append(out, ThreadSummary{
			ThreadID:     thread.ID,
			Type:         thread.Type,
			ProjectID:    thread.ProjectID,
			Subject:      thread.Subject,
			Participants: roster,
		})
	}
	for i := range out {
		summaries[out[i].ThreadID] = &out[i]
	}

	// messages arrive oldest first, so the last shown one wins.
	for _, msg := range messages {
		summary := summaries[msg.ThreadID]
		if summary == nil {
			continue
		}
		isOwner := msg.SenderID == rc.UserID
		visibility := VisibilityOf(msg.Status, rc.Role, isOwner)
		if visibility == Hidden {
			continue
		}
		text := msg.Text
		if visibility == Redacted {
			text = deletedMessageText
		}
		createdAt := msg.CreatedAt
		summary.LastMessage = &text
		summary.LastMessageTimestamp = &createdAt

		if visibility == Visible && !isOwner {
			if read := lastRead[msg.ThreadID]; read == nil || msg.CreatedAt.After(*read) {
				summary.UnreadCount++
			}
		}
	}

	created := make(map[int64]time.Time, len(threads))
	for _, thread := range threads {
		created[thread.ID] = thread.CreatedAt
	}
	lastActivity := func(summary ThreadSummary) time.Time {
		if summary.LastMessageTimestamp != nil {
			return *summary.LastMessageTimestamp
		}
		return created[summary.ThreadID]
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := lastActivity(out[i]), lastActivity(out[j])
		if !a.Equal(b) {
			return a.After(b)
		}
		return out[i].ThreadID > out[j].ThreadID
	})
	return out, nil
}

type MarkThreadReadResult struct {
	ThreadID          int64     `json:"threadId"`
	LastReadTimestamp time.Time `json:"lastReadTimestamp"`
}

// MarkThreadRead moves the caller's read marker to now.
func (s *Service) MarkThreadRead(ctx context.Context, rc RequestContext, threadID int64) (MarkThreadReadResult, error) {
	if _, err := s.store.GetThread(ctx, threadID); err != nil {
		return MarkThreadReadResult{}, storeErr(err, "Thread")
	}
	at := s.now().UTC()
	ok, err := s.store.MarkThreadRead(ctx, threadID, rc.UserID, at)
	if err != nil {
		return MarkThreadReadResult{}, storeErr(err, "Thread")
	}
	if !ok {
		return MarkThreadReadResult{}, forbidden("Not a participant of this thread")
	}
	return MarkThreadReadResult{ThreadID: threadID, LastReadTimestamp: at}, nil
}
