package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"plantguard/api/internal/rbac"
	"plantguard/api/internal/store"
	"plantguard/api/internal/util"
)

// Pagination mirrors the envelope the API returns alongside paged lists.
type Pagination struct {
	CurrentPage  int  `json:"currentPage"`
	TotalPages   int  `json:"totalPages"`
	TotalRecords int  `json:"totalRecords"`
	HasNext      bool `json:"hasNext"`
	HasPrev      bool `json:"hasPrev"`
}

func paginate(page, limit, total int) Pagination {
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return Pagination{
		CurrentPage:  page,
		TotalPages:   totalPages,
		TotalRecords: total,
		HasNext:      page < totalPages,
		HasPrev:      page > 1,
	}
}

// CreateReadingInput carries a new sensor sample. Pointer fields distinguish
// an absent measurement from a zero one.
type CreateReadingInput struct {
	PlantID    string
	Battery    *float64
	Level      *float64
	Signal     *float64
	RecordedAt *time.Time
}

// CreateReading stores a sensor sample. Owners and admins only.
func (s *Service) CreateReading(ctx context.Context, userID string, input CreateReadingInput) (store.Reading, error) {
	if input.PlantID == "" || input.Battery == nil || input.Level == nil || input.Signal == nil {
		return store.Reading{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "plantId, batLocal, nivelLocal, and senLocal are required", nil)
	}

	if _, err := s.requireRole(ctx, userID, input.PlantID, rbac.ActionWrite); err != nil {
		return store.Reading{}, err
	}

	reading := store.Reading{
		ID:      util.NewID("rd"),
		PlantID: input.PlantID,
		Battery: *input.Battery,
		Level:   *input.Level,
		Signal:  *input.Signal,
	}
	if input.RecordedAt != nil {
		reading.RecordedAt = *input.RecordedAt
	}

	if err := s.store.InsertReading(ctx, reading); err != nil {
		if errors.Is(err, store.ErrReferenced) {
			return store.Reading{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "plant does not exist", nil)
		}
		return store.Reading{}, err
	}

	return s.store.GetReading(ctx, reading.ID)
}

// ListReadings returns a page of readings, scoped to one plant when plantID is
// set and to all of the caller's plants otherwise.
func (s *Service) ListReadings(ctx context.Context, userID, plantID string, page, limit int) ([]store.Reading, Pagination, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}
	offset := (page - 1) * limit

	var (
		readings []store.Reading
		total    int
		err      error
	)
	if plantID != "" {
		if _, err := s.requireRole(ctx, userID, plantID, rbac.ActionRead); err != nil {
			return nil, Pagination{}, err
		}
		readings, err = s.store.ListReadingsByPlant(ctx, plantID, limit, offset)
		if err != nil {
			return nil, Pagination{}, err
		}
		total, err = s.store.CountReadingsByPlant(ctx, plantID)
	} else {
		readings, err = s.store.ListReadingsByUser(ctx, userID, limit, offset)
		if err != nil {
			return nil, Pagination{}, err
		}
		total, err = s.store.CountReadingsByUser(ctx, userID)
	}
	if err != nil {
		return nil, Pagination{}, err
	}

	return readings, paginate(page, limit, total), nil
}

// LatestReading returns the most recent sample for one plant, or across all
// of the caller's plants when plantID is empty.
func (s *Service) LatestReading(ctx context.Context, userID, plantID string) (store.Reading, error) {
	if plantID != "" {
		if _, err := s.requireRole(ctx, userID, plantID, rbac.ActionRead); err != nil {
			return store.Reading{}, err
		}
		return s.store.LatestReadingByPlant(ctx, plantID)
	}
	return s.store.LatestReadingByUser(ctx, userID)
}

// ReadingsByDateRange returns a plant's readings between from and to, oldest
// first.
func (s *Service) ReadingsByDateRange(ctx context.Context, userID, plantID string, from, to time.Time) ([]store.Reading, error) {
	if plantID == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "plantId is required", nil)
	}
	if _, err := s.requireRole(ctx, userID, plantID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.store.ListReadingsByDateRange(ctx, plantID, from, to)
}

// UpdateReadingInput patches a sample; nil fields keep their stored value.
type UpdateReadingInput struct {
	Battery *float64
	Level   *float64
	Signal  *float64
}

// UpdateReading patches a sample. Owners and admins of the owning plant only.
func (s *Service) UpdateReading(ctx context.Context, userID, readingID string, input UpdateReadingInput) (store.Reading, error) {
	existing, err := s.store.GetReading(ctx, readingID)
	if err != nil {
		return store.Reading{}, err
	}

	if _, err := s.requireRole(ctx, userID, existing.PlantID, rbac.ActionWrite); err != nil {
		return store.Reading{}, err
	}

	if err := s.store.UpdateReading(ctx, readingID, input.Battery, input.Level, input.Signal); err != nil {
		return store.Reading{}, err
	}
	return s.store.GetReading(ctx, readingID)
}

// DeleteReading removes a sample. Owners and admins of the owning plant only.
func (s *Service) DeleteReading(ctx context.Context, userID, readingID string) error {
	existing, err := s.store.GetReading(ctx, readingID)
	if err != nil {
		return err
	}

	if _, err := s.requireRole(ctx, userID, existing.PlantID, rbac.ActionWrite); err != nil {
		return err
	}

	return s.store.DeleteReading(ctx, readingID)
}

// ReadingStats aggregates readings for one plant over the last `days` days,
// or across all of the caller's plants when plantID is empty.
func (s *Service) ReadingStats(ctx context.Context, userID, plantID string, days int) (store.ReadingStats, error) {
	if plantID == "" {
		return s.store.ReadingStatsByUser(ctx, userID)
	}
	if _, err := s.requireRole(ctx, userID, plantID, rbac.ActionRead); err != nil {
		return store.ReadingStats{}, err
	}
	if days <= 0 {
		days = 7
	}
	since := time.Now().AddDate(0, 0, -days)
	return s.store.ReadingStatsByPlant(ctx, plantID, &since)
}
