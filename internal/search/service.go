package search

import (
	"context"

	"github.com/rs/zerolog"
)

// meiliBackend is the part of Meili the facade depends on.
type meiliBackend interface {
	Searcher
	IndexAntraege(records []AntragRecord) error
	DeleteAntrag(id string) error
}

// fallbackBackend is the part of PgFTS the facade depends on.
type fallbackBackend interface {
	Searcher
	LoadAllRecords(ctx context.Context) ([]AntragRecord, error)
}

// Service tries Meilisearch first and falls back to Postgres full-text search.
type Service struct {
	meili  meiliBackend
	pgfts  fallbackBackend
	logger zerolog.Logger
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger zerolog.Logger) *Service {
	s := &Service{logger: logger}
	if meili != nil {
		s.meili = meili
	}
	if pgfts != nil {
		s.pgfts = pgfts
	}
	return s
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "meilisearch"}
		}
		s.logger.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.logger.Error().Err(err).Msg("pgfts search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Backend: "postgres"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: "postgres"}
}

// IndexAntrag pushes a motion to Meilisearch in the background.
func (s *Service) IndexAntrag(rec AntragRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexAntraege([]AntragRecord{rec}); err != nil {
			s.logger.Warn().Err(err).Str("antrag", rec.ID).Msg("index antrag")
		}
	}()
}

// DeleteAntrag removes a motion from Meilisearch in the background.
func (s *Service) DeleteAntrag(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteAntrag(id); err != nil {
			s.logger.Warn().Err(err).Str("antrag", id).Msg("delete antrag from index")
		}
	}()
}

// ReindexAllFromPG copies every motion from Postgres into Meilisearch.
// Called once at startup.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	records, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.meili.IndexAntraege(records); err != nil {
		s.logger.Error().Err(err).Msg("reindex antraege")
		return
	}
	s.logger.Info().Int("count", len(records)).Msg("reindexed antraege")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
