package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Gi7-ux/app-sub000/internal/config"
	"github.com/Gi7-ux/app-sub000/internal/metrics"
	"github.com/Gi7-ux/app-sub000/internal/notify"
	"github.com/Gi7-ux/app-sub000/internal/rbac"
	"github.com/Gi7-ux/app-sub000/internal/search"
	"github.com/Gi7-ux/app-sub000/internal/store"
)

// RequestContext is the authenticated caller of an operation.
type RequestContext struct {
	UserID int64
	Role   rbac.Role
}

func (rc RequestContext) IsAdmin() bool {
	return rc.Role == rbac.RoleAdmin
}

type dataStore interface {
	store.Querier
	WithinTx(ctx context.Context, fn func(store.Querier) error) error
	Ping(ctx context.Context) error
}

type userDirectory interface {
	GetUser(ctx context.Context, userID int64) (store.User, error)
	GetUsers(ctx context.Context, ids []int64) (map[int64]store.User, error)
	ListUsersByRole(ctx context.Context, role string) ([]store.User, error)
}

type projectDirectory interface {
	GetProject(ctx context.Context, projectID int64) (store.Project, error)
}

type notificationInbox interface {
	ListNotifications(ctx context.Context, userID int64, limit int) ([]notify.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID int64) (bool, error)
}

// MessageSearch is the full-text index over message text.
type MessageSearch interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexMessage(rec search.MessageRecord)
}

// LiveFeed is the short-lived per-user notification cache kept next to the
// pub/sub channel.
type LiveFeed interface {
	Recent(ctx context.Context, userID int64, limit int64) ([]notify.Notification, error)
	Ping(ctx context.Context) error
}

type Options struct {
	// Notifier receives every notification. Defaults to the store itself.
	Notifier notify.Sink
	// Live is optional; without it live reads come from the inbox.
	Live     LiveFeed
	Search   MessageSearch
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

type Service struct {
	cfg      config.Config
	store    dataStore
	users    userDirectory
	projects projectDirectory
	inbox    notificationInbox
	notifier notify.Sink
	live     LiveFeed
	search   MessageSearch
	metrics  *metrics.Metrics
	logger   *zap.Logger
	limiter  *sendLimiter
	now      func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore, opts Options) *Service {
	if opts.Notifier == nil {
		opts.Notifier = dataStore
	}
	return newService(cfg, dataStore, dataStore, dataStore, dataStore, opts)
}

func newService(cfg config.Config, data dataStore, users userDirectory, projects projectDirectory, inbox notificationInbox, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if cfg.MessageMaxLength <= 0 {
		cfg.MessageMaxLength = 2000
	}
	return &Service{
		cfg:      cfg,
		store:    data,
		users:    users,
		projects: projects,
		inbox:    inbox,
		notifier: notifier,
		live:     opts.Live,
		search:   opts.Search,
		metrics:  opts.Metrics,
		logger:   logger,
		limiter:  newSendLimiter(cfg.SendRatePerSecond, cfg.SendRateBurst),
		now:      time.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingLive reports whether the live feed is reachable. It returns false when
// no live feed is configured.
func (s *Service) PingLive(ctx context.Context) (bool, error) {
	if s.live == nil {
		return false, nil
	}
	return true, s.live.Ping(ctx)
}

func (s *Service) Logger() *zap.Logger {
	return s.logger
}

func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// participantIDs extracts user ids from participant rows, keeping order.
func participantIDs(participants []store.Participant) []int64 {
	ids := make([]int64, 0, len(participants))
	for _, p := range participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

func (s *Service) indexMessage(msg store.Message, thread store.Thread, participants []int64) {
	if s.search == nil {
		return
	}
	s.search.IndexMessage(search.MessageRecord{
		ID:             msg.ID,
		ThreadID:       msg.ThreadID,
		ProjectID:      thread.ProjectID,
		SenderID:       msg.SenderID,
		Text:           msg.Text,
		Status:         msg.Status,
		ParticipantIDs: normalizeIDs(participants),
		CreatedAt:      msg.CreatedAt.Unix(),
	})
}
