// Package search indexes message text in Meilisearch and falls back to
// PostgreSQL full-text search when Meilisearch is unavailable.
package search

import "context"

// Result is a single message hit returned to the caller.
type Result struct {
	MessageID int64  `json:"messageId"`
	ThreadID  int64  `json:"threadId"`
	ProjectID *int64 `json:"projectId,omitempty"`
	SenderID  int64  `json:"senderId"`
	Snippet   string `json:"snippet"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"createdAt"`
}

// Query describes a search request. Non-admin viewers are restricted to
// threads they participate in and to messages they are allowed to read.
type Query struct {
	Text      string
	ViewerID  int64
	IsAdmin   bool
	ThreadID  *int64
	ProjectID *int64
	Limit     int
	Offset    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// MessageRecord is the data we index for a message.
type MessageRecord struct {
	ID             int64   `json:"id"`
	ThreadID       int64   `json:"threadId"`
	ProjectID      *int64  `json:"projectId,omitempty"`
	SenderID       int64   `json:"senderId"`
	Text           string  `json:"text"`
	Status         string  `json:"status"`
	ParticipantIDs []int64 `json:"participantIds"`
	CreatedAt      int64   `json:"createdAt"`
}

func normalizePage(q Query) (limit, offset int) {
	limit = q.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	offset = q.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
