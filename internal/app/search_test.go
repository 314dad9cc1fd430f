package app

import (
	"context"
	"sync"
	"testing"

	"github.com/Gi7-ux/app-sub000/internal/rbac"
	"github.com/Gi7-ux/app-sub000/internal/search"
)

type fakeSearch struct {
	mu      sync.Mutex
	results []search.Result
	queries []search.Query
	indexed []search.MessageRecord
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	out := append([]search.Result(nil), f.results...)
	return search.Response{Results: out, Total: len(out) + 5, Query: q.Text}
}

func (f *fakeSearch) IndexMessage(rec search.MessageRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, rec)
}

func TestSearchMessagesRefiltersForNonAdmins(t *testing.T) {
	fs := newFakeStore()
	seedMarketplace(fs)
	backend := &fakeSearch{}
	svc := newTestService(fs, Options{Search: backend})
	ctx := context.Background()

	dm, err := svc.EnsureThread(ctx, rc(2, rbac.RoleClient), EnsureThreadInput{Type: ThreadDirectMessage, ParticipantIDs: []int64{2, 3}})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	other, err := svc.EnsureThread(ctx, rc(5, rbac.RoleFreelancer), EnsureThreadInput{Type: ThreadDirectMessage, ParticipantIDs: []int64{5, 6}})
	if err != nil {
		t.Fatalf("ensure other: %v", err)
	}

	backend.results = []search.Result{
		{MessageID: 1, ThreadID: dm.ThreadID, SenderID: 3, Status: StatusApproved, Snippet: "invoice"},
		{MessageID: 2, ThreadID: dm.ThreadID, SenderID: 3, Status: StatusPending, Snippet: "invoice draft"},
		{MessageID: 3, ThreadID: dm.ThreadID, SenderID: 2, Status: StatusPending, Snippet: "my invoice"},
		{MessageID: 4, ThreadID: dm.ThreadID, SenderID: 3, Status: StatusDeleted, Snippet: "old invoice"},
		{MessageID: 5, ThreadID: other.ThreadID, SenderID: 5, Status: StatusApproved, Snippet: "their invoice"},
	}

	resp, err := svc.SearchMessages(ctx, rc(2, rbac.RoleClient), SearchMessagesInput{Query: "  invoice "})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Results) != 2 || resp.Results[0].MessageID != 1 || resp.Results[1].MessageID != 3 {
		t.Fatalf("unexpected results %+v", resp.Results)
	}
	if resp.Total != 7 {
		t.Fatalf("total should drop by the filtered rows, got %d", resp.Total)
	}
	if q := backend.queries[0]; q.Text != "invoice" || q.ViewerID != 2 || q.IsAdmin {
		t.Fatalf("unexpected backend query %+v", q)
	}

	adminResp, err := svc.SearchMessages(ctx, rc(1, rbac.RoleAdmin), SearchMessagesInput{Query: "invoice", ThreadID: ptr(dm.ThreadID)})
	if err != nil {
		t.Fatalf("admin search: %v", err)
	}
	if len(adminResp.Results) != 5 {
		t.Fatalf("admin results are not filtered, got %d", len(adminResp.Results))
	}
	if q := backend.queries[1]; !q.IsAdmin || q.ThreadID == nil || *q.ThreadID != dm.ThreadID {
		t.Fatalf("unexpected admin query %+v", q)
	}
}

func TestSearchMessagesRequiresQuery(t *testing.T) {
	fs := newFakeStore()
	seedMarketplace(fs)
	svc := newTestService(fs, Options{Search: &fakeSearch{}})

	_, err := svc.SearchMessages(context.Background(), rc(2, rbac.RoleClient), SearchMessagesInput{Query: "   "})
	requireCode(t, err, CodeValidation)
}

func TestSearchMessagesWithoutBackend(t *testing.T) {
	fs := newFakeStore()
	seedMarketplace(fs)
	svc := newTestService(fs, Options{})

	resp, err := svc.SearchMessages(context.Background(), rc(2, rbac.RoleClient), SearchMessagesInput{Query: "logo"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Results == nil || len(resp.Results) != 0 || resp.Query != "logo" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestMessagesAreIndexedAfterWrites(t *testing.T) {
	fs := newFakeStore()
	seedMarketplace(fs)
	backend := &fakeSearch{}
	svc := newTestService(fs, Options{Search: backend})
	ctx := context.Background()
	combined := ensureCombinedThread(t, svc)

	sent, err := svc.SendMessage(ctx, rc(5, rbac.RoleFreelancer), combined, SendMessageInput{Text: "mockups attached"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := svc.ModerateMessage(ctx, rc(1, rbac.RoleAdmin), sent.MessageID, StatusApproved); err != nil {
		t.Fatalf("approve: %v", err)
	}

	if len(backend.indexed) != 2 {
		t.Fatalf("expected send and moderation to index, got %+v", backend.indexed)
	}
	first, second := backend.indexed[0], backend.indexed[1]
	if first.Status != StatusPending || second.Status != StatusApproved {
		t.Fatalf("unexpected indexed statuses %s, %s", first.Status, second.Status)
	}
	if first.ProjectID == nil || *first.ProjectID != 7 || len(first.ParticipantIDs) != 3 {
		t.Fatalf("record must carry project and roster, got %+v", first)
	}
}
