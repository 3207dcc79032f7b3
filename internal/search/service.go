package search

import (
	"context"
	"log"
)

// AccessChecker reports which plants a user may see.
type AccessChecker interface {
	AccessiblePlantIDs(ctx context.Context, userID string) (map[string]struct{}, error)
}

// Service is the facade that tries Meilisearch first and falls back to SQL.
type Service struct {
	meili  *Meili
	pglike *PgLike
	access AccessChecker
}

// NewService creates a search service. meili may be nil if Meilisearch is not
// configured.
func NewService(meili *Meili, pglike *PgLike, access AccessChecker) *Service {
	return &Service{meili: meili, pglike: pglike, access: access}
}

// Search tries Meilisearch if healthy, otherwise falls back to the SQL scan.
// Meilisearch hits are filtered down to the caller's plants afterwards; the
// SQL path scopes in the query itself.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			scoped, scopeErr := s.scopeToUser(ctx, q.UserID, results)
			if scopeErr == nil {
				return Response{Results: scoped, Total: total, Query: q.Text}
			}
			log.Printf("search: scope results: %v", scopeErr)
		} else {
			log.Printf("search: meilisearch error, falling back to sql: %v", err)
		}
	}

	results, total, err := s.pglike.Search(q)
	if err != nil {
		log.Printf("search: sql fallback error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexPlant indexes a plant (fire-and-forget to Meilisearch).
func (s *Service) IndexPlant(p PlantRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexPlant(p); err != nil {
			log.Printf("search: index plant %s: %v", p.ID, err)
		}
	}()
}

// DeletePlant removes a plant from the search index (fire-and-forget).
func (s *Service) DeletePlant(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeletePlant(id); err != nil {
			log.Printf("search: delete plant %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reads all active plants from PostgreSQL and pushes them to
// Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pglike == nil {
		return
	}
	plants, err := s.pglike.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexPlants(plants); err != nil {
		log.Printf("search: reindex plants: %v", err)
	}
}

func (s *Service) scopeToUser(ctx context.Context, userID string, results []Result) ([]Result, error) {
	allowed, err := s.access.AccessiblePlantIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	filtered := make([]Result, 0, len(results))
	for _, result := range results {
		if _, ok := allowed[result.ID]; ok {
			filtered = append(filtered, result)
		}
	}
	return filtered, nil
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
