package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreatePlantWithOwner inserts the plant and its owner grant in a single
// transaction so a mid-sequence failure can never leave an ownerless plant.
func (s *PostgresStore) CreatePlantWithOwner(ctx context.Context, plant Plant, grant Grant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create plant tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO plants (id, name, location, description, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
	`, plant.ID, plant.Name, plant.Location, plant.Description); err != nil {
		_ = tx.Rollback()
		return classify("insert plant", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_plants (id, user_id, plant_id, role, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
	`, grant.ID, grant.UserID, grant.PlantID, grant.Role); err != nil {
		_ = tx.Rollback()
		return classify("insert owner grant", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create plant tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPlant(ctx context.Context, plantID string) (Plant, error) {
	var plant Plant
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, location, description, is_active, created_at, updated_at
		FROM plants
		WHERE id=$1
	`, plantID).Scan(&plant.ID, &plant.Name, &plant.Location, &plant.Description, &plant.IsActive, &plant.CreatedAt, &plant.UpdatedAt)
	if err != nil {
		return Plant{}, err
	}
	return plant, nil
}

func (s *PostgresStore) UpdatePlant(ctx context.Context, plantID, name, location, description string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE plants
		SET name=$2, location=$3, description=$4, updated_at=NOW()
		WHERE id=$1
	`, plantID, name, location, description)
	if err != nil {
		return fmt.Errorf("update plant: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeactivatePlant soft-deletes: the plant disappears from default listings
// but keeps its historical readings.
func (s *PostgresStore) DeactivatePlant(ctx context.Context, plantID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE plants SET is_active=FALSE, updated_at=NOW() WHERE id=$1
	`, plantID)
	if err != nil {
		return fmt.Errorf("deactivate plant: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListPlantsByUser returns the caller's active plants with the role held on each.
func (s *PostgresStore) ListPlantsByUser(ctx context.Context, userID string) ([]PlantWithLatest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.location, p.description, p.is_active, p.created_at, p.updated_at, up.role
		FROM user_plants up
		JOIN plants p ON p.id = up.plant_id
		WHERE up.user_id = $1 AND up.is_active = TRUE AND p.is_active = TRUE
		ORDER BY p.name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list plants by user: %w", err)
	}
	defer rows.Close()

	items := make([]PlantWithLatest, 0)
	for rows.Next() {
		var item PlantWithLatest
		if err := rows.Scan(&item.ID, &item.Name, &item.Location, &item.Description, &item.IsActive, &item.CreatedAt, &item.UpdatedAt, &item.Role); err != nil {
			return nil, fmt.Errorf("scan plant: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plants: %w", err)
	}
	return items, nil
}

// ListPlantsWithLatest returns the caller's active plants, each with its most
// recent reading when one exists.
func (s *PostgresStore) ListPlantsWithLatest(ctx context.Context, userID string) ([]PlantWithLatest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, p.name, p.location, p.description, p.is_active, p.created_at, p.updated_at, up.role,
			pd.id, pd.bat_local, pd.nivel_local, pd.sen_local, pd.recorded_at
		FROM user_plants up
		JOIN plants p ON p.id = up.plant_id
		LEFT JOIN LATERAL (
			SELECT id, bat_local, nivel_local, sen_local, recorded_at
			FROM plant_data
			WHERE plant_id = p.id
			ORDER BY recorded_at DESC
			LIMIT 1
		) pd ON TRUE
		WHERE up.user_id = $1 AND up.is_active = TRUE AND p.is_active = TRUE
		ORDER BY p.name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list plants with latest: %w", err)
	}
	defer rows.Close()

	items := make([]PlantWithLatest, 0)
	for rows.Next() {
		var item PlantWithLatest
		var readingID sql.NullString
		var battery, level, signal sql.NullFloat64
		var recordedAt sql.NullTime
		if err := rows.Scan(
			&item.ID, &item.Name, &item.Location, &item.Description, &item.IsActive,
			&item.CreatedAt, &item.UpdatedAt, &item.Role,
			&readingID, &battery, &level, &signal, &recordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan plant with latest: %w", err)
		}
		if readingID.Valid {
			item.Latest = &Reading{
				ID:         readingID.String,
				PlantID:    item.ID,
				Battery:    battery.Float64,
				Level:      level.Float64,
				Signal:     signal.Float64,
				RecordedAt: recordedAt.Time,
			}
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plants with latest: %w", err)
	}
	return items, nil
}

const readingColumns = `pd.id, pd.plant_id, pd.bat_local, pd.nivel_local, pd.sen_local, pd.recorded_at,
	COALESCE(p.name, ''), COALESCE(p.location, '')`

func scanReading(scan func(...any) error) (Reading, error) {
	var item Reading
	err := scan(
		&item.ID, &item.PlantID, &item.Battery, &item.Level, &item.Signal,
		&item.RecordedAt, &item.PlantName, &item.PlantLocation,
	)
	if err != nil {
		return Reading{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertReading(ctx context.Context, reading Reading) error {
	recordedAt := reading.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plant_data (id, plant_id, bat_local, nivel_local, sen_local, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, reading.ID, reading.PlantID, reading.Battery, reading.Level, reading.Signal, recordedAt)
	if err != nil {
		return classify("insert reading", err)
	}
	return nil
}

func (s *PostgresStore) GetReading(ctx context.Context, readingID string) (Reading, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+readingColumns+`
		FROM plant_data pd
		LEFT JOIN plants p ON p.id = pd.plant_id
		WHERE pd.id=$1
	`, readingID)
	return scanReading(row.Scan)
}

func (s *PostgresStore) ListReadingsByPlant(ctx context.Context, plantID string, limit, offset int) ([]Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+readingColumns+`
		FROM plant_data pd
		LEFT JOIN plants p ON p.id = pd.plant_id
		WHERE pd.plant_id = $1
		ORDER BY pd.recorded_at DESC
		LIMIT $2 OFFSET $3
	`, plantID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list readings by plant: %w", err)
	}
	return collectReadings(rows)
}

func (s *PostgresStore) ListReadingsByUser(ctx context.Context, userID string, limit, offset int) ([]Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+readingColumns+`
		FROM plant_data pd
		JOIN user_plants up ON up.plant_id = pd.plant_id
		LEFT JOIN plants p ON p.id = pd.plant_id
		WHERE up.user_id = $1 AND up.is_active = TRUE
		ORDER BY pd.recorded_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list readings by user: %w", err)
	}
	return collectReadings(rows)
}

func (s *PostgresStore) ListReadingsByDateRange(ctx context.Context, plantID string, from, to time.Time) ([]Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+readingColumns+`
		FROM plant_data pd
		LEFT JOIN plants p ON p.id = pd.plant_id
		WHERE pd.plant_id = $1 AND pd.recorded_at BETWEEN $2 AND $3
		ORDER BY pd.recorded_at ASC
	`, plantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list readings by range: %w", err)
	}
	return collectReadings(rows)
}

func collectReadings(rows *sql.Rows) ([]Reading, error) {
	defer rows.Close()
	items := make([]Reading, 0)
	for rows.Next() {
		item, err := scanReading(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate readings: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountReadingsByPlant(ctx context.Context, plantID string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM plant_data WHERE plant_id=$1`, plantID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count readings by plant: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) CountReadingsByUser(ctx context.Context, userID string) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM plant_data pd
		JOIN user_plants up ON up.plant_id = pd.plant_id
		WHERE up.user_id = $1 AND up.is_active = TRUE
	`, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count readings by user: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) LatestReadingByPlant(ctx context.Context, plantID string) (Reading, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+readingColumns+`
		FROM plant_data pd
		LEFT JOIN plants p ON p.id = pd.plant_id
		WHERE pd.plant_id = $1
		ORDER BY pd.recorded_at DESC
		LIMIT 1
	`, plantID)
	return scanReading(row.Scan)
}

func (s *PostgresStore) LatestReadingByUser(ctx context.Context, userID string) (Reading, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+readingColumns+`
		FROM plant_data pd
		JOIN user_plants up ON up.plant_id = pd.plant_id
		LEFT JOIN plants p ON p.id = pd.plant_id
		WHERE up.user_id = $1 AND up.is_active = TRUE
		ORDER BY pd.recorded_at DESC
		LIMIT 1
	`, userID)
	return scanReading(row.Scan)
}

// UpdateReading patches only the measurements supplied; nil fields keep their
// stored value.
func (s *PostgresStore) UpdateReading(ctx context.Context, readingID string, battery, level, signal *float64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE plant_data
		SET bat_local = COALESCE($2, bat_local),
			nivel_local = COALESCE($3, nivel_local),
			sen_local = COALESCE($4, sen_local)
		WHERE id = $1
	`, readingID, battery, level, signal)
	if err != nil {
		return fmt.Errorf("update reading: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteReading(ctx context.Context, readingID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM plant_data WHERE id=$1`, readingID)
	if err != nil {
		return fmt.Errorf("delete reading: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ReadingStatsByPlant aggregates over a plant's readings; when since is
// non-nil only readings at or after it count.
func (s *PostgresStore) ReadingStatsByPlant(ctx context.Context, plantID string, since *time.Time) (ReadingStats, error) {
	var stats ReadingStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			MIN(recorded_at), MAX(recorded_at),
			COALESCE(AVG(bat_local), 0), COALESCE(MIN(bat_local), 0), COALESCE(MAX(bat_local), 0),
			COALESCE(AVG(nivel_local), 0), COALESCE(MIN(nivel_local), 0), COALESCE(MAX(nivel_local), 0),
			COALESCE(AVG(sen_local), 0), COALESCE(MIN(sen_local), 0), COALESCE(MAX(sen_local), 0)
		FROM plant_data
		WHERE plant_id = $1 AND ($2::timestamptz IS NULL OR recorded_at >= $2)
	`, plantID, since).Scan(
		&stats.TotalRecords,
		&stats.FirstRecord, &stats.LastRecord,
		&stats.AvgBattery, &stats.MinBattery, &stats.MaxBattery,
		&stats.AvgLevel, &stats.MinLevel, &stats.MaxLevel,
		&stats.AvgSignal, &stats.MinSignal, &stats.MaxSignal,
	)
	if err != nil {
		return ReadingStats{}, fmt.Errorf("reading stats by plant: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) ReadingStatsByUser(ctx context.Context, userID string) (ReadingStats, error) {
	var stats ReadingStats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			MIN(pd.recorded_at), MAX(pd.recorded_at),
			COALESCE(AVG(pd.bat_local), 0), COALESCE(MIN(pd.bat_local), 0), COALESCE(MAX(pd.bat_local), 0),
			COALESCE(AVG(pd.nivel_local), 0), COALESCE(MIN(pd.nivel_local), 0), COALESCE(MAX(pd.nivel_local), 0),
			COALESCE(AVG(pd.sen_local), 0), COALESCE(MIN(pd.sen_local), 0), COALESCE(MAX(pd.sen_local), 0)
		FROM plant_data pd
		JOIN user_plants up ON up.plant_id = pd.plant_id
		WHERE up.user_id = $1 AND up.is_active = TRUE
	`, userID).Scan(
		&stats.TotalRecords,
		&stats.FirstRecord, &stats.LastRecord,
		&stats.AvgBattery, &stats.MinBattery, &stats.MaxBattery,
		&stats.AvgLevel, &stats.MinLevel, &stats.MaxLevel,
		&stats.AvgSignal, &stats.MinSignal, &stats.MaxSignal,
	)
	if err != nil {
		return ReadingStats{}, fmt.Errorf("reading stats by user: %w", err)
	}
	return stats, nil
}
