package app

import (
	"context"
	"net/http"
	"strings"

	"plantguard/api/internal/rbac"
	"plantguard/api/internal/store"
	"plantguard/api/internal/util"
)

// InviteInput identifies the invitee by id or by email address.
type InviteInput struct {
	UserID string
	Email  string
	Role   string
}

// InviteUser adds a user to a plant, or reactivates and re-roles a previous
// membership. Owners and admins only.
func (s *Service) InviteUser(ctx context.Context, callerID, plantID string, input InviteInput) (store.Grant, error) {
	role := strings.TrimSpace(input.Role)
	if role == "" {
		role = string(rbac.RoleViewer)
	}
	if !rbac.Valid(role) {
		return store.Grant{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "role must be one of owner, admin, viewer", nil)
	}
	if input.UserID == "" && input.Email == "" {
		return store.Grant{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "userId or email is required", nil)
	}

	if _, err := s.requireRole(ctx, callerID, plantID, rbac.ActionInvite); err != nil {
		return store.Grant{}, err
	}

	var (
		target store.User
		err    error
	)
	if input.UserID != "" {
		target, err = s.store.GetUserByID(ctx, input.UserID)
	} else {
		target, err = s.store.GetUserByEmail(ctx, input.Email)
	}
	if err != nil {
		return store.Grant{}, domainError(http.StatusNotFound, "NOT_FOUND", "User not found", nil)
	}

	return s.store.UpsertGrant(ctx, store.Grant{
		ID:      util.NewID("upl"),
		UserID:  target.ID,
		PlantID: plantID,
		Role:    role,
	})
}

// ListPlantUsers returns the plant's active members. Any member may look.
func (s *Service) ListPlantUsers(ctx context.Context, callerID, plantID string) ([]store.Grant, error) {
	if _, err := s.requireRole(ctx, callerID, plantID, rbac.ActionRead); err != nil {
		return nil, err
	}
	return s.store.ListGrantsByPlant(ctx, plantID)
}

// MyPlants returns the caller's active grants with plant details.
func (s *Service) MyPlants(ctx context.Context, userID string) ([]store.Grant, error) {
	return s.store.ListGrantsByUser(ctx, userID)
}

// UpdateGrantRole changes a member's role. Owner only.
func (s *Service) UpdateGrantRole(ctx context.Context, callerID, plantID, grantID, role string) (store.Grant, error) {
	role = strings.TrimSpace(role)
	if !rbac.Valid(role) {
		return store.Grant{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "role must be one of owner, admin, viewer", nil)
	}

	if _, err := s.requireRole(ctx, callerID, plantID, rbac.ActionChangeRole); err != nil {
		return store.Grant{}, err
	}

	grant, err := s.store.GetGrant(ctx, grantID)
	if err != nil {
		return store.Grant{}, err
	}
	if grant.PlantID != plantID {
		return store.Grant{}, domainError(http.StatusNotFound, "NOT_FOUND", "Assignment not found for this plant", nil)
	}

	if err := s.store.SetGrantRole(ctx, grantID, role); err != nil {
		return store.Grant{}, err
	}
	return s.store.GetGrant(ctx, grantID)
}

// RemoveUser deactivates a membership. Owners and admins only.
func (s *Service) RemoveUser(ctx context.Context, callerID, plantID, grantID string) error {
	if _, err := s.requireRole(ctx, callerID, plantID, rbac.ActionInvite); err != nil {
		return err
	}

	grant, err := s.store.GetGrant(ctx, grantID)
	if err != nil {
		return err
	}
	if grant.PlantID != plantID {
		return domainError(http.StatusNotFound, "NOT_FOUND", "Assignment not found for this plant", nil)
	}

	return s.store.RevokeGrant(ctx, grantID)
}
