package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgLike implements Searcher with a PostgreSQL ILIKE scan as a fallback.
// Unlike Meilisearch it scopes results to the caller's plants directly in SQL.
type PgLike struct {
	db *sql.DB
}

// NewPgLike creates a PostgreSQL fallback searcher.
func NewPgLike(db *sql.DB) *PgLike {
	return &PgLike{db: db}
}

// Healthy always returns true. If Postgres is down, the whole app is down.
func (p *PgLike) Healthy() bool {
	return true
}

// Search matches the query text against plant name, location, and description
// within the user's active plants.
func (p *PgLike) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	pattern := "%" + q.Text + "%"
	where := `
		up.user_id = $1 AND up.is_active = TRUE AND p.is_active = TRUE
		AND (p.name ILIKE $2 OR p.location ILIKE $2 OR p.description ILIKE $2)`

	ctx := context.Background()

	var total int
	err := p.db.QueryRowContext(ctx, `
		SELECT count(*)
		FROM user_plants up
		JOIN plants p ON p.id = up.plant_id
		WHERE `+where, q.UserID, pattern).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("pglike count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT p.id, p.name, p.location, p.description, up.role
		FROM user_plants up
		JOIN plants p ON p.id = up.plant_id
		WHERE %s
		ORDER BY p.name ASC
		LIMIT %d OFFSET %d`, where, limit, offset), q.UserID, pattern)
	if err != nil {
		return nil, 0, fmt.Errorf("pglike query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Name, &r.Location, &r.Description, &r.Role); err != nil {
			return nil, 0, fmt.Errorf("pglike scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all active plants for full reindexing.
func (p *PgLike) LoadAllRecords(ctx context.Context) ([]PlantRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, location, description
		FROM plants
		WHERE is_active = TRUE
	`)
	if err != nil {
		return nil, fmt.Errorf("load plants: %w", err)
	}
	defer rows.Close()

	plants := make([]PlantRecord, 0)
	for rows.Next() {
		var p PlantRecord
		if err := rows.Scan(&p.ID, &p.Name, &p.Location, &p.Description); err != nil {
			return nil, fmt.Errorf("scan plant: %w", err)
		}
		plants = append(plants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plants: %w", err)
	}
	return plants, nil
}
