package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexPlace indexes a place (fire-and-forget to Meilisearch).
func (s *Service) IndexPlace(p PlaceRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexPlace(p); err != nil {
			log.Printf("search: index place %s: %v", p.ID, err)
		}
	}()
}

// IndexSuggestion indexes a suggestion (fire-and-forget to Meilisearch).
func (s *Service) IndexSuggestion(rec SuggestionRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexSuggestion(rec); err != nil {
			log.Printf("search: index suggestion %s: %v", rec.ID, err)
		}
	}()
}

// IndexEdit indexes an accepted edit (fire-and-forget to Meilisearch).
func (s *Service) IndexEdit(rec EditRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexEdit(rec); err != nil {
			log.Printf("search: index edit %s: %v", rec.ID, err)
		}
	}()
}

// DeletePlace removes a place and its suggestion and edit documents from
// the search index (fire-and-forget).
func (s *Service) DeletePlace(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeletePlace(id); err != nil {
			log.Printf("search: delete place %s: %v", id, err)
		}
		if err := s.meili.DeleteByPlace(id); err != nil {
			log.Printf("search: delete place documents %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes the given records to Meilisearch in bulk.
// Called during Bootstrap if Meilisearch is healthy.
func (s *Service) ReindexAll(places []PlaceRecord, suggestions []SuggestionRecord, edits []EditRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	if len(places) > 0 {
		if err := s.meili.IndexPlaces(places); err != nil {
			log.Printf("search: reindex places: %v", err)
		}
	}
	if len(suggestions) > 0 {
		if err := s.meili.IndexSuggestions(suggestions); err != nil {
			log.Printf("search: reindex suggestions: %v", err)
		}
	}
	if len(edits) > 0 {
		if err := s.meili.IndexEdits(edits); err != nil {
			log.Printf("search: reindex edits: %v", err)
		}
	}
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	places, suggestions, edits, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(places, suggestions, edits)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
