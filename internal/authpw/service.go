// Package authpw provides email/password authentication with verification.
package authpw

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"golang.org/x/crypto/bcrypt"

	"plantguard/api/internal/store"
	"plantguard/api/internal/util"
)

var (
	ErrAccountExists      = errors.New("account already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidCode        = errors.New("invalid or expired verification code")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
)

// ValidationError reports rejected input. Its message is written for the
// client; everything else this package returns stays internal.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

const (
	verificationTTL = 24 * time.Hour
	resetTTL        = 1 * time.Hour
	minPasswordLen  = 6
)

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	GetUserByVerificationCode(ctx context.Context, code string) (store.User, error)
	GetUserByResetToken(ctx context.Context, token string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	MarkUserVerified(ctx context.Context, userID string) error
	SetResetToken(ctx context.Context, userID, token string, expiresAt time.Time) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	TouchLastLogin(ctx context.Context, userID string) error
}

// Service provides email/password authentication
type Service struct {
	store UserStore
}

// NewService creates a new auth service
func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// SignUpRequest contains sign-up parameters
type SignUpRequest struct {
	Email    string
	Password string
	Name     string
}

// SignUpResponse contains sign-up result
type SignUpResponse struct {
	User             store.User
	VerificationCode string
}

// SignUp creates a new unverified user account
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResponse, error) {
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return nil, validationError("email, password, and name are required")
	}

	if len(req.Password) < minPasswordLen {
		return nil, validationError("password must be at least %d characters", minPasswordLen)
	}

	if _, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		return nil, ErrAccountExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	code, err := generateVerificationCode()
	if err != nil {
		return nil, fmt.Errorf("generate verification code: %w", err)
	}

	expiresAt := time.Now().Add(verificationTTL)
	user := store.User{
		ID:                    util.NewID("usr"),
		Email:                 req.Email,
		Name:                  req.Name,
		PasswordHash:          string(hash),
		IsVerified:            false,
		VerificationCode:      code,
		VerificationExpiresAt: &expiresAt,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		// The unique index catches sign-ups racing the existence check.
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	return &SignUpResponse{
		User:             user,
		VerificationCode: code,
	}, nil
}

// VerifyEmail activates the account matching a pending verification code.
func (s *Service) VerifyEmail(ctx context.Context, code string) (store.User, error) {
	if code == "" {
		return store.User{}, ErrInvalidCode
	}

	user, err := s.store.GetUserByVerificationCode(ctx, code)
	if err != nil {
		return store.User{}, ErrInvalidCode
	}

	if user.VerificationExpiresAt == nil || time.Now().After(*user.VerificationExpiresAt) {
		return store.User{}, ErrInvalidCode
	}

	if err := s.store.MarkUserVerified(ctx, user.ID); err != nil {
		return store.User{}, fmt.Errorf("mark verified: %w", err)
	}

	user.IsVerified = true
	user.VerificationCode = ""
	user.VerificationExpiresAt = nil
	return user, nil
}

// SignInRequest contains sign-in parameters
type SignInRequest struct {
	Email    string
	Password string
}

// SignIn authenticates a user. Unknown email and wrong password return the
// same error so callers cannot probe which addresses have accounts.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	if req.Email == "" || req.Password == "" {
		return store.User{}, validationError("email and password are required")
	}

	user, err := s.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}

	if err := s.store.TouchLastLogin(ctx, user.ID); err != nil {
		return store.User{}, fmt.Errorf("touch last login: %w", err)
	}

	return user, nil
}

// ForgotPassword creates a reset token for the account. Unknown emails
// succeed with an empty token so the endpoint reveals nothing.
func (s *Service) ForgotPassword(ctx context.Context, email string) (string, store.User, error) {
	if email == "" {
		return "", store.User{}, validationError("email is required")
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", store.User{}, nil
	}

	token, err := generateResetToken()
	if err != nil {
		return "", store.User{}, fmt.Errorf("generate reset token: %w", err)
	}

	if err := s.store.SetResetToken(ctx, user.ID, token, time.Now().Add(resetTTL)); err != nil {
		return "", store.User{}, fmt.Errorf("set reset token: %w", err)
	}

	return token, user, nil
}

// ResetPassword replaces the password for the account holding a live reset
// token. The token is single-use.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (store.User, error) {
	if token == "" || newPassword == "" {
		return store.User{}, validationError("token and new password are required")
	}

	if len(newPassword) < minPasswordLen {
		return store.User{}, validationError("password must be at least %d characters", minPasswordLen)
	}

	user, err := s.store.GetUserByResetToken(ctx, token)
	if err != nil {
		return store.User{}, ErrInvalidResetToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	if err := s.store.UpdateUserPassword(ctx, user.ID, string(hash)); err != nil {
		return store.User{}, fmt.Errorf("update password: %w", err)
	}

	return user, nil
}

// generateVerificationCode returns a 6-digit numeric code.
func generateVerificationCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(100000+n.Int64(), 10), nil
}

// generateResetToken creates a secure random token.
func generateResetToken() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
