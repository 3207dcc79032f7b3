package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"plantguard/api/internal/rbac"
	"plantguard/api/internal/search"
	"plantguard/api/internal/store"
	"plantguard/api/internal/util"
)

// CreatePlant inserts the plant and the caller's owner grant atomically.
func (s *Service) CreatePlant(ctx context.Context, userID, name, location, description string) (store.PlantWithLatest, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.PlantWithLatest{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
	}

	plant := store.Plant{
		ID:          util.NewID("pl"),
		Name:        name,
		Location:    strings.TrimSpace(location),
		Description: strings.TrimSpace(description),
		IsActive:    true,
	}
	grant := store.Grant{
		ID:      util.NewID("upl"),
		UserID:  userID,
		PlantID: plant.ID,
		Role:    string(rbac.RoleOwner),
	}

	if err := s.store.CreatePlantWithOwner(ctx, plant, grant); err != nil {
		return store.PlantWithLatest{}, err
	}

	s.search.IndexPlant(search.PlantRecord{
		ID:          plant.ID,
		Name:        plant.Name,
		Location:    plant.Location,
		Description: plant.Description,
	})

	return store.PlantWithLatest{Plant: plant, Role: string(rbac.RoleOwner)}, nil
}

// ListPlants returns the caller's active plants with the role held on each.
func (s *Service) ListPlants(ctx context.Context, userID string) ([]store.PlantWithLatest, error) {
	return s.store.ListPlantsByUser(ctx, userID)
}

// ListPlantsWithLatest returns the caller's plants, each with its most recent
// reading when one exists.
func (s *Service) ListPlantsWithLatest(ctx context.Context, userID string) ([]store.PlantWithLatest, error) {
	return s.store.ListPlantsWithLatest(ctx, userID)
}

// GetPlant returns a single plant the caller has access to.
func (s *Service) GetPlant(ctx context.Context, userID, plantID string) (store.PlantWithLatest, error) {
	role, err := s.requireRole(ctx, userID, plantID, rbac.ActionRead)
	if err != nil {
		return store.PlantWithLatest{}, err
	}
	plant, err := s.store.GetPlant(ctx, plantID)
	if err != nil {
		return store.PlantWithLatest{}, err
	}
	return store.PlantWithLatest{Plant: plant, Role: string(role)}, nil
}

// UpdatePlant edits plant metadata. Owners and admins only.
func (s *Service) UpdatePlant(ctx context.Context, userID, plantID, name, location, description string) (store.PlantWithLatest, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return store.PlantWithLatest{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "name is required", nil)
	}

	role, err := s.requireRole(ctx, userID, plantID, rbac.ActionWrite)
	if err != nil {
		return store.PlantWithLatest{}, err
	}

	if err := s.store.UpdatePlant(ctx, plantID, name, strings.TrimSpace(location), strings.TrimSpace(description)); err != nil {
		return store.PlantWithLatest{}, err
	}

	plant, err := s.store.GetPlant(ctx, plantID)
	if err != nil {
		return store.PlantWithLatest{}, err
	}

	s.search.IndexPlant(search.PlantRecord{
		ID:          plant.ID,
		Name:        plant.Name,
		Location:    plant.Location,
		Description: plant.Description,
	})

	return store.PlantWithLatest{Plant: plant, Role: string(role)}, nil
}

// DeactivatePlant soft-deletes the plant. Owner only.
func (s *Service) DeactivatePlant(ctx context.Context, userID, plantID string) error {
	if _, err := s.requireRole(ctx, userID, plantID, rbac.ActionDeactivate); err != nil {
		return err
	}
	if err := s.store.DeactivatePlant(ctx, plantID); err != nil {
		return err
	}
	s.search.DeletePlant(plantID)
	return nil
}

// PlantStats aggregates the plant's readings over the last `days` days.
func (s *Service) PlantStats(ctx context.Context, userID, plantID string, days int) (store.ReadingStats, error) {
	if _, err := s.requireRole(ctx, userID, plantID, rbac.ActionRead); err != nil {
		return store.ReadingStats{}, err
	}
	if days <= 0 {
		days = 7
	}
	since := time.Now().AddDate(0, 0, -days)
	return s.store.ReadingStatsByPlant(ctx, plantID, &since)
}

// SearchPlants runs a text search scoped to the caller's plants.
func (s *Service) SearchPlants(ctx context.Context, userID, text string, limit, offset int) search.Response {
	return s.search.Search(ctx, search.Query{
		Text:   text,
		UserID: userID,
		Limit:  limit,
		Offset: offset,
	})
}
