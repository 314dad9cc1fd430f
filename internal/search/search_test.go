package search

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

type fakeSearcher struct {
	results []Result
	total   int
	err     error
	got     Query
}

func (f *fakeSearcher) Search(_ context.Context, q Query) ([]Result, int, error) {
	f.got = q
	return f.results, f.total, f.err
}

func (f *fakeSearcher) Healthy() bool { return true }

func TestServiceFallsBackWhenMeiliNotConfigured(t *testing.T) {
	fallback := &fakeSearcher{results: []Result{{MessageID: 4, ThreadID: 2, Status: "approved"}}, total: 1}
	svc := &Service{fallback: fallback, logger: zap.NewNop()}

	resp := svc.Search(context.Background(), Query{Text: "budget", ViewerID: 2})
	if resp.Total != 1 || len(resp.Results) != 1 || resp.Results[0].MessageID != 4 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Query != "budget" || fallback.got.ViewerID != 2 {
		t.Fatalf("query not forwarded: %+v", fallback.got)
	}
}

func TestServiceReturnsEmptyResultsOnFallbackError(t *testing.T) {
	svc := NewService(nil, nil, nil)
	svc.fallback = &fakeSearcher{err: errors.New("db down")}
	resp := svc.Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil || len(resp.Results) != 0 || resp.Total != 0 {
		t.Fatalf("expected empty non-nil results, got %+v", resp)
	}
}

func TestServiceWithoutBackends(t *testing.T) {
	svc := NewService(nil, nil, nil)
	resp := svc.Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("expected empty results, got %+v", resp)
	}
	svc.IndexMessage(MessageRecord{ID: 1})
	if _, err := svc.ReindexAllFromPG(context.Background()); err == nil {
		t.Fatal("expected reindex to fail without meilisearch")
	}
	svc.Close()
}

func TestMeiliFiltersRestrictNonAdmins(t *testing.T) {
	threadID := int64(9)
	cases := []struct {
		name string
		q    Query
		want []string
	}{
		{
			name: "admin sees everything",
			q:    Query{ViewerID: 1, IsAdmin: true},
			want: nil,
		},
		{
			name: "admin thread filter",
			q:    Query{ViewerID: 1, IsAdmin: true, ThreadID: &threadID},
			want: []string{"threadId = 9"},
		},
		{
			name: "participant",
			q:    Query{ViewerID: 5},
			want: []string{
				"participantIds = 5",
				`(status = "approved" OR (status = "pending" AND senderId = 5))`,
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := meiliFilters(tc.q)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("filters = %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestHitToResultPrefersHighlightedText(t *testing.T) {
	hit := meili.Hit{
		"id":         json.RawMessage(`12`),
		"threadId":   json.RawMessage(`3`),
		"projectId":  json.RawMessage(`7`),
		"senderId":   json.RawMessage(`5`),
		"status":     json.RawMessage(`"pending"`),
		"text":       json.RawMessage(`"need more budget"`),
		"createdAt":  json.RawMessage(`1700000000`),
		"_formatted": json.RawMessage(`{"text":"need more <mark>budget</mark>","id":"12"}`),
	}

	got := hitToResult(hit)
	if got.MessageID != 12 || got.ThreadID != 3 || got.SenderID != 5 || got.CreatedAt != 1700000000 {
		t.Fatalf("unexpected ids %+v", got)
	}
	if got.ProjectID == nil || *got.ProjectID != 7 {
		t.Fatalf("expected project 7, got %v", got.ProjectID)
	}
	if got.Status != "pending" || got.Snippet != "need more <mark>budget</mark>" {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestNormalizePage(t *testing.T) {
	limit, offset := normalizePage(Query{Limit: 0, Offset: -3})
	if limit != 20 || offset != 0 {
		t.Fatalf("got %d/%d", limit, offset)
	}
	limit, _ = normalizePage(Query{Limit: 500})
	if limit != 100 {
		t.Fatalf("expected clamp to 100, got %d", limit)
	}
}
