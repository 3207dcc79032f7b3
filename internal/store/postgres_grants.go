package store

import (
	"context"
	"database/sql"
	"fmt"
)

// HasAccess reports whether an active grant exists for the pair.
func (s *PostgresStore) HasAccess(ctx context.Context, userID, plantID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM user_plants
			WHERE user_id=$1 AND plant_id=$2 AND is_active=TRUE
		)
	`, userID, plantID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check access: %w", err)
	}
	return exists, nil
}

// RoleOf returns the active grant's role, or "" when the pair has no active
// grant.
func (s *PostgresStore) RoleOf(ctx context.Context, userID, plantID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM user_plants
		WHERE user_id=$1 AND plant_id=$2 AND is_active=TRUE
	`, userID, plantID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read role: %w", err)
	}
	return role, nil
}

// UpsertGrant creates an active grant for the pair, or reactivates an
// existing one and overwrites its role. Last write wins; no history is kept.
func (s *PostgresStore) UpsertGrant(ctx context.Context, grant Grant) (Grant, error) {
	var item Grant
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO user_plants (id, user_id, plant_id, role, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (user_id, plant_id)
		DO UPDATE SET role=EXCLUDED.role, is_active=TRUE, updated_at=NOW()
		RETURNING id, user_id, plant_id, role, is_active, created_at, updated_at
	`, grant.ID, grant.UserID, grant.PlantID, grant.Role).Scan(
		&item.ID, &item.UserID, &item.PlantID, &item.Role, &item.IsActive,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Grant{}, classify("upsert grant", err)
	}
	return item, nil
}

func (s *PostgresStore) GetGrant(ctx context.Context, grantID string) (Grant, error) {
	var item Grant
	err := s.db.QueryRowContext(ctx, `
		SELECT up.id, up.user_id, up.plant_id, up.role, up.is_active, up.created_at, up.updated_at,
			u.name, u.email, p.name
		FROM user_plants up
		JOIN users u ON u.id = up.user_id
		JOIN plants p ON p.id = up.plant_id
		WHERE up.id=$1
	`, grantID).Scan(
		&item.ID, &item.UserID, &item.PlantID, &item.Role, &item.IsActive,
		&item.CreatedAt, &item.UpdatedAt,
		&item.UserName, &item.UserEmail, &item.PlantName,
	)
	if err != nil {
		return Grant{}, err
	}
	return item, nil
}

func (s *PostgresStore) SetGrantRole(ctx context.Context, grantID, role string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_plants SET role=$2, updated_at=NOW() WHERE id=$1
	`, grantID, role)
	if err != nil {
		return fmt.Errorf("set grant role: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RevokeGrant deactivates the grant. Revoking an already-inactive grant is a
// no-op success.
func (s *PostgresStore) RevokeGrant(ctx context.Context, grantID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_plants SET is_active=FALSE, updated_at=NOW() WHERE id=$1
	`, grantID)
	if err != nil {
		return fmt.Errorf("revoke grant: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListGrantsByPlant returns the plant's active members with user details.
func (s *PostgresStore) ListGrantsByPlant(ctx context.Context, plantID string) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT up.id, up.user_id, up.plant_id, up.role, up.is_active, up.created_at, up.updated_at,
			u.name, u.email
		FROM user_plants up
		JOIN users u ON u.id = up.user_id
		WHERE up.plant_id = $1 AND up.is_active = TRUE
		ORDER BY up.role, u.name ASC
	`, plantID)
	if err != nil {
		return nil, fmt.Errorf("list grants by plant: %w", err)
	}
	defer rows.Close()

	items := make([]Grant, 0)
	for rows.Next() {
		var item Grant
		if err := rows.Scan(
			&item.ID, &item.UserID, &item.PlantID, &item.Role, &item.IsActive,
			&item.CreatedAt, &item.UpdatedAt,
			&item.UserName, &item.UserEmail,
		); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return items, nil
}

// ListGrantsByUser returns the user's active grants on active plants with
// plant details.
func (s *PostgresStore) ListGrantsByUser(ctx context.Context, userID string) ([]Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT up.id, up.user_id, up.plant_id, up.role, up.is_active, up.created_at, up.updated_at,
			p.name, p.location, p.description, p.is_active
		FROM user_plants up
		JOIN plants p ON p.id = up.plant_id
		WHERE up.user_id = $1 AND up.is_active = TRUE AND p.is_active = TRUE
		ORDER BY p.name ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list grants by user: %w", err)
	}
	defer rows.Close()

	items := make([]Grant, 0)
	for rows.Next() {
		var item Grant
		if err := rows.Scan(
			&item.ID, &item.UserID, &item.PlantID, &item.Role, &item.IsActive,
			&item.CreatedAt, &item.UpdatedAt,
			&item.PlantName, &item.PlantLocation, &item.PlantDescription, &item.PlantActive,
		); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return items, nil
}

// AccessiblePlantIDs returns the ids of active plants the user can read.
// Used to scope search results.
func (s *PostgresStore) AccessiblePlantIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT up.plant_id
		FROM user_plants up
		JOIN plants p ON p.id = up.plant_id
		WHERE up.user_id = $1 AND up.is_active = TRUE AND p.is_active = TRUE
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accessible plants: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan plant id: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plant ids: %w", err)
	}
	return ids, nil
}
