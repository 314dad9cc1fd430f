package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Gi7-ux/app-sub000/internal/config"
	"github.com/Gi7-ux/app-sub000/internal/notify"
	"github.com/Gi7-ux/app-sub000/internal/store"
)

type participantKey struct {
	threadID int64
	userID   int64
}

type threadKey struct {
	projectID  int64
	threadType string
	hash       string
}

type memState struct {
	threads      map[int64]store.Thread
	participants map[participantKey]store.Participant
	messages     map[int64]store.Message
	nextThread   int64
	nextMessage  int64
}

func (st memState) clone() memState {
	return memState{
		threads:      maps.Clone(st.threads),
		participants: maps.Clone(st.participants),
		messages:     maps.Clone(st.messages),
		nextThread:   st.nextThread,
		nextMessage:  st.nextMessage,
	}
}

// fakeStore is an in-memory dataStore with the directories and the
// notification sink attached. WithinTx restores the previous state when the
// callback fails.
type fakeStore struct {
	txMu sync.Mutex
	memState

	dirMu    sync.Mutex
	users    map[int64]store.User
	projects map[int64]store.Project

	notifMu       sync.Mutex
	notifications []notify.Notification
	enqueueErr    error

	clock time.Time

	pingErr         error
	reclassifyErr   error
	insertMessageFn func(store.Message) error
}

var _ dataStore = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		memState: memState{
			threads:      map[int64]store.Thread{},
			participants: map[participantKey]store.Participant{},
			messages:     map[int64]store.Message{},
		},
		users:    map[int64]store.User{},
		projects: map[int64]store.Project{},
		clock:    time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (f *fakeStore) addUser(id int64, name, role string) {
	f.dirMu.Lock()
	defer f.dirMu.Unlock()
	f.users[id] = store.User{ID: id, Name: name, Email: fmt.Sprintf("user%d@example.com", id), Role: role}
}

func (f *fakeStore) addProject(id int64, title string, clientID int64, freelancerID *int64) {
	f.dirMu.Lock()
	defer f.dirMu.Unlock()
	f.projects[id] = store.Project{ID: id, Title: title, ClientID: clientID, FreelancerID: freelancerID}
}

func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) notificationsFor(userID int64) []notify.Notification {
	f.notifMu.Lock()
	defer f.notifMu.Unlock()
	var out []notify.Notification
	for _, n := range f.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out
}

func (f *fakeStore) threadCount() int {
	f.txMu.Lock()
	defer f.txMu.Unlock()
	return len(f.threads)
}

func (f *fakeStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeStore) WithinTx(ctx context.Context, fn func(store.Querier) error) error {
	f.txMu.Lock()
	defer f.txMu.Unlock()
	snapshot := f.memState.clone()
	if err := fn(f); err != nil {
		f.memState = snapshot
		return err
	}
	return nil
}

func keyOf(t store.Thread) threadKey {
	var projectID int64
	if t.ProjectID != nil {
		projectID = *t.ProjectID
	}
	return threadKey{projectID: projectID, threadType: t.Type, hash: t.ParticipantSetHash}
}

func (f *fakeStore) FindThread(_ context.Context, projectID *int64, threadType, hash string) (store.Thread, error) {
	want := keyOf(store.Thread{ProjectID: projectID, Type: threadType, ParticipantSetHash: hash})
	for _, t := range f.threads {
		if keyOf(t) == want {
			return t, nil
		}
	}
	return store.Thread{}, sql.ErrNoRows
}

func (f *fakeStore) InsertThread(ctx context.Context, thread store.Thread) (store.Thread, bool, error) {
	if existing, err := f.FindThread(ctx, thread.ProjectID, thread.Type, thread.ParticipantSetHash); err == nil {
		return existing, false, nil
	}
	f.nextThread++
	now := f.tick()
	thread.ID = f.nextThread
	thread.CreatedAt = now
	thread.UpdatedAt = now
	f.threads[thread.ID] = thread
	return thread, true, nil
}

func (f *fakeStore) GetThread(_ context.Context, threadID int64) (store.Thread, error) {
	t, ok := f.threads[threadID]
	if !ok {
		return store.Thread{}, sql.ErrNoRows
	}
	return t, nil
}

func (f *fakeStore) ListThreadsForUser(_ context.Context, userID int64) ([]store.Thread, error) {
	out := make([]store.Thread, 0)
	for key := range f.participants {
		if key.userID == userID {
			out = append(out, f.threads[key.threadID])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (f *fakeStore) ListThreadsByProject(_ context.Context, projectID int64) ([]store.Thread, error) {
	out := make([]store.Thread, 0)
	for _, t := range f.threads {
		if t.ProjectID != nil && *t.ProjectID == projectID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) UpdateThreadRoster(_ context.Context, threadID int64, hash string) error {
	return f.rewriteThread(threadID, func(t *store.Thread) { t.ParticipantSetHash = hash })
}

func (f *fakeStore) ReclassifyThread(_ context.Context, threadID int64, threadType string) error {
	if f.reclassifyErr != nil {
		return f.reclassifyErr
	}
	return f.rewriteThread(threadID, func(t *store.Thread) { t.Type = threadType })
}

// rewriteThread applies change and enforces the identity index.
func (f *fakeStore) rewriteThread(threadID int64, change func(*store.Thread)) error {
	t, ok := f.threads[threadID]
	if !ok {
		return sql.ErrNoRows
	}
	change(&t)
	for id, other := range f.threads {
		if id != threadID && keyOf(other) == keyOf(t) {
			return errors.New("duplicate key value violates unique constraint")
		}
	}
	f.threads[threadID] = t
	return nil
}

func (f *fakeStore) InsertParticipants(ctx context.Context, threadID int64, userIDs []int64) error {
	for _, userID := range userIDs {
		if _, err := f.AddParticipant(ctx, threadID, userID); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeStore) AddParticipant(_ context.Context, threadID, userID int64) (bool, error) {
	key := participantKey{threadID: threadID, userID: userID}
	if _, ok := f.participants[key]; ok {
		return false, nil
	}
	f.participants[key] = store.Participant{ThreadID: threadID, UserID: userID, JoinedAt: f.clock}
	return true, nil
}

func (f *fakeStore) IsParticipant(_ context.Context, threadID, userID int64) (bool, error) {
	_, ok := f.participants[participantKey{threadID: threadID, userID: userID}]
	return ok, nil
}

func (f *fakeStore) ListParticipants(_ context.Context, threadIDs []int64) ([]store.Participant, error) {
	out := make([]store.Participant, 0)
	for _, p := range f.participants {
		if slices.Contains(threadIDs, p.ThreadID) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ThreadID != out[j].ThreadID {
			return out[i].ThreadID < out[j].ThreadID
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (f *fakeStore) MarkThreadRead(_ context.Context, threadID, userID int64, at time.Time) (bool, error) {
	key := participantKey{threadID: threadID, userID: userID}
	p, ok := f.participants[key]
	if !ok {
		return false, nil
	}
	p.LastReadTimestamp = &at
	f.participants[key] = p
	return true, nil
}

func (f *fakeStore) InsertMessage(_ context.Context, message store.Message) (store.Message, error) {
	if f.insertMessageFn != nil {
		if err := f.insertMessageFn(message); err != nil {
			return store.Message{}, err
		}
	}
	f.nextMessage++
	message.ID = f.nextMessage
	message.CreatedAt = f.tick()
	f.messages[message.ID] = message
	return message, nil
}

func (f *fakeStore) GetMessage(_ context.Context, messageID int64) (store.Message, error) {
	m, ok := f.messages[messageID]
	if !ok {
		return store.Message{}, sql.ErrNoRows
	}
	return m, nil
}

func (f *fakeStore) LockMessage(ctx context.Context, messageID int64) (store.Message, error) {
	return f.GetMessage(ctx, messageID)
}

func (f *fakeStore) UpdateMessageStatus(_ context.Context, messageID int64, status string) error {
	m, ok := f.messages[messageID]
	if !ok {
		return sql.ErrNoRows
	}
	m.Status = status
	f.messages[messageID] = m
	return nil
}

func (f *fakeStore) ListMessages(_ context.Context, threadIDs []int64) ([]store.Message, error) {
	out := make([]store.Message, 0)
	for _, m := range f.messages {
		if slices.Contains(threadIDs, m.ThreadID) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeStore) GetUser(_ context.Context, userID int64) (store.User, error) {
	f.dirMu.Lock()
	defer f.dirMu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return u, nil
}

func (f *fakeStore) GetUsers(_ context.Context, ids []int64) (map[int64]store.User, error) {
	f.dirMu.Lock()
	defer f.dirMu.Unlock()
	out := make(map[int64]store.User, len(ids))
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (f *fakeStore) ListUsersByRole(_ context.Context, role string) ([]store.User, error) {
	f.dirMu.Lock()
	defer f.dirMu.Unlock()
	out := make([]store.User, 0)
	for _, u := range f.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetProject(_ context.Context, projectID int64) (store.Project, error) {
	f.dirMu.Lock()
	defer f.dirMu.Unlock()
	p, ok := f.projects[projectID]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return p, nil
}

func (f *fakeStore) Enqueue(_ context.Context, n notify.Notification) error {
	f.notifMu.Lock()
	defer f.notifMu.Unlock()
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	n.ID = int64(len(f.notifications) + 1)
	f.notifications = append(f.notifications, n)
	return nil
}

func (f *fakeStore) ListNotifications(_ context.Context, userID int64, limit int) ([]notify.Notification, error) {
	f.notifMu.Lock()
	defer f.notifMu.Unlock()
	out := make([]notify.Notification, 0)
	for i := len(f.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if f.notifications[i].UserID == userID {
			out = append(out, f.notifications[i])
		}
	}
	return out, nil
}

func (f *fakeStore) MarkNotificationRead(_ context.Context, userID, notificationID int64) (bool, error) {
	f.notifMu.Lock()
	defer f.notifMu.Unlock()
	for i := range f.notifications {
		if f.notifications[i].ID == notificationID && f.notifications[i].UserID == userID {
			f.notifications[i].IsRead = true
			return true, nil
		}
	}
	return false, nil
}

func newTestService(fs *fakeStore, opts Options) *Service {
	if opts.Notifier == nil {
		opts.Notifier = fs
	}
	return newService(config.Config{MessageMaxLength: 2000}, fs, fs, fs, fs, opts)
}

// seedMarketplace mirrors a small marketplace: admin 1, client 2, freelancers
// 5 and 6, client 3, project 7 owned by 2 with 5 assigned.
func seedMarketplace(fs *fakeStore) {
	fs.addUser(1, "Ada Admin", "admin")
	fs.addUser(2, "Cleo Client", "client")
	fs.addUser(3, "Carl Client", "client")
	fs.addUser(5, "Finn Freelancer", "freelancer")
	fs.addUser(6, "Fay Freelancer", "freelancer")
	freelancer := int64(5)
	fs.addProject(7, "Logo redesign", 2, &freelancer)
	fs.addProject(8, "Unassigned project", 3, nil)
}

type failingParticipantsStore struct {
	*fakeStore
}

func (f *failingParticipantsStore) WithinTx(ctx context.Context, fn func(store.Querier) error) error {
	return f.fakeStore.WithinTx(ctx, func(q store.Querier) error {
		return fn(&failingParticipantsQuerier{Querier: q})
	})
}

type failingParticipantsQuerier struct {
	store.Querier
}

func (failingParticipantsQuerier) InsertParticipants(context.Context, int64, []int64) error {
	return errors.New(`pq: insert or update on table "thread_participants" violates foreign key constraint`)
}
