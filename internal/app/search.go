package app

import (
	"context"
	"strings"

	"github.com/Gi7-ux/app-sub000/internal/search"
)

type SearchMessagesInput struct {
	Query     string
	ThreadID  *int64
	ProjectID *int64
	Limit     int
	Offset    int
}

// SearchMessages runs a full-text query over message text. Whatever the
// backend returns is re-checked against the caller's threads and the read
// rule before it leaves the service.
func (s *Service) SearchMessages(ctx context.Context, rc RequestContext, input SearchMessagesInput) (search.Response, error) {
	text := strings.TrimSpace(input.Query)
	if text == "" {
		return search.Response{}, validationError("Search query is required", map[string]any{"field": "q"})
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Total: 0, Query: text}, nil
	}

	resp := s.search.Search(ctx, search.Query{
		Text:      text,
		ViewerID:  rc.UserID,
		IsAdmin:   rc.IsAdmin(),
		ThreadID:  input.ThreadID,
		ProjectID: input.ProjectID,
		Limit:     input.Limit,
		Offset:    input.Offset,
	})
	if rc.IsAdmin() {
		return resp, nil
	}

	threads, err := s.store.ListThreadsForUser(ctx, rc.UserID)
	if err != nil {
		return search.Response{}, storeErr(err, "Threads")
	}
	member := make(map[int64]struct{}, len(threads))
	for _, thread := range threads {
		member[thread.ID] = struct{}{}
	}

	filtered := make([]search.Result, 0, len(resp.Results))
	for _, result := range resp.Results {
		if _, ok := member[result.ThreadID]; !ok {
			continue
		}
		if !IsVisible(result.Status, rc.Role, result.SenderID == rc.UserID) {
			continue
		}
		filtered = append(filtered, result)
	}
	resp.Total -= len(resp.Results) - len(filtered)
	if resp.Total < 0 {
		resp.Total = 0
	}
	resp.Results = filtered
	return resp, nil
}
