package app

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/Gi7-ux/app-sub000/internal/notify"
	"github.com/Gi7-ux/app-sub000/internal/rbac"
	"github.com/Gi7-ux/app-sub000/internal/store"
)

func TestNotificationInbox(t *testing.T) {
	fs := newFakeStore()
	seedMarketplace(fs)
	svc := newTestService(fs, Options{})
	ctx := context.Background()

	dm, err := svc.EnsureThread(ctx, rc(2, rbac.RoleClient), EnsureThreadInput{Type: ThreadDirectMessage, ParticipantIDs: []int64{2, 3}})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	for _, text := range []string{"first", "second", "third"} {
		if _, err := svc.SendMessage(ctx, rc(2, rbac.RoleClient), dm.ThreadID, SendMessageInput{Text: text}); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	items, err := svc.ListNotifications(ctx, rc(3, rbac.RoleClient), 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || !strings.HasSuffix(items[0].Message, ": third") {
		t.Fatalf("expected newest two notifications, got %+v", items)
	}
	if items[0].Link != "/messages?thread=1" || items[0].ProjectID != nil {
		t.Fatalf("direct thread link is not project scoped, got %+v", items[0])
	}
	if items[0].Title != "Conversation between Cleo Client and Carl Client" {
		t.Fatalf("title should be the thread subject, got %q", items[0].Title)
	}

	if err := svc.MarkNotificationRead(ctx, rc(3, rbac.RoleClient), items[0].ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	err = svc.MarkNotificationRead(ctx, rc(2, rbac.RoleClient), items[1].ID)
	requireCode(t, err, CodeNotFound)

	none, err := svc.ListNotifications(ctx, rc(2, rbac.RoleClient), 0)
	if err != nil {
		t.Fatalf("list sender: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("sender has no notifications, got %+v", none)
	}
}

func TestPreviewTruncatesOnRunes(t *testing.T) {
	short := strings.Repeat("ü", previewLength)
	if got := preview(short); got != short {
		t.Fatalf("text at the limit must be unchanged")
	}
	long := strings.Repeat("ü", previewLength+5)
	got := preview(long)
	if !strings.HasSuffix(got, "…") || strings.Count(got, "ü") != previewLength {
		t.Fatalf("unexpected preview %q", got)
	}
}

func TestThreadLink(t *testing.T) {
	project := int64(7)
	if got := threadLink(store.Thread{ID: 3, ProjectID: &project}); got != "/projects/7/messages?thread=3" {
		t.Fatalf("project link = %s", got)
	}
	if got := threadLink(store.Thread{ID: 4}); got != "/messages?thread=4" {
		t.Fatalf("direct link = %s", got)
	}
}

func TestNotificationsFanOutToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	publisher := notify.NewRedisPublisherWithClient(client)

	fs := newFakeStore()
	seedMarketplace(fs)
	svc := newTestService(fs, Options{Notifier: notify.NewFanout(nil, fs, publisher)})
	ctx := context.Background()

	dm, err := svc.EnsureThread(ctx, rc(2, rbac.RoleClient), EnsureThreadInput{Type: ThreadDirectMessage, ParticipantIDs: []int64{2, 3}})
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := svc.SendMessage(ctx, rc(2, rbac.RoleClient), dm.ThreadID, SendMessageInput{Text: "ping"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	recent, err := publisher.Recent(ctx, 3, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 1 || recent[0].Message != "New message from Cleo Client: ping" {
		t.Fatalf("unexpected redis notifications %+v", recent)
	}
	if got := fs.notificationsFor(3); len(got) != 1 {
		t.Fatalf("durable inbox should also receive it, got %+v", got)
	}

	mr.Close()
	if _, err := svc.SendMessage(ctx, rc(2, rbac.RoleClient), dm.ThreadID, SendMessageInput{Text: "redis is down"}); err != nil {
		t.Fatalf("send must survive a dead redis: %v", err)
	}
	if got := fs.notificationsFor(3); len(got) != 2 {
		t.Fatalf("inbox delivery continues without redis, got %+v", got)
	}
}
