package search

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// RecordLoader reads every indexable message from the primary database.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]MessageRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili    *Meili
	fallback Searcher
	loader   RecordLoader
	logger   *zap.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, pgfts *PgFTS, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{meili: meili, logger: logger}
	if pgfts != nil {
		s.fallback = pgfts
		s.loader = pgfts
	}
	return s
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("meilisearch error, falling back to pgfts", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Error("pgfts search failed", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexMessage indexes a message (fire-and-forget to Meilisearch).
func (s *Service) IndexMessage(rec MessageRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexMessage(rec); err != nil {
			s.logger.Warn("index message failed", zap.Int64("message_id", rec.ID), zap.Error(err))
		}
	}()
}

// ReindexAllFromPG pushes every message from PostgreSQL into Meilisearch and
// returns how many were sent.
func (s *Service) ReindexAllFromPG(ctx context.Context) (int, error) {
	if s.meili == nil || !s.meili.Healthy() {
		return 0, fmt.Errorf("meilisearch is not available")
	}
	if s.loader == nil {
		return 0, fmt.Errorf("no record source configured")
	}
	records, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("reindex load: %w", err)
	}
	if err := s.meili.IndexMessages(records); err != nil {
		return 0, fmt.Errorf("reindex messages: %w", err)
	}
	return len(records), nil
}

// Close stops the Meilisearch health loop if one is running.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
