package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"plantguard/api/internal/auth"
	"plantguard/api/internal/authpw"
	"plantguard/api/internal/config"
	"plantguard/api/internal/email"
	"plantguard/api/internal/rbac"
	"plantguard/api/internal/search"
	"plantguard/api/internal/store"
)

// errAccountUnverified rejects tokens for accounts that have not completed
// email verification. Signup still issues a session so the client can hold
// it, but the API stays closed until the code is confirmed.
var errAccountUnverified = domainError(http.StatusUnauthorized, "ACCOUNT_UNVERIFIED", "Account not verified. Please verify your email.", nil)

// Session is an authenticated caller derived from a valid access token.
type Session struct {
	Token     string
	UserID    string
	UserName  string
	Email     string
	JTI       string
	ExpiresAt time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(ctx context.Context, userID string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)

	CreatePlantWithOwner(ctx context.Context, plant store.Plant, grant store.Grant) error
	GetPlant(ctx context.Context, plantID string) (store.Plant, error)
	UpdatePlant(ctx context.Context, plantID, name, location, description string) error
	DeactivatePlant(ctx context.Context, plantID string) error
	ListPlantsByUser(ctx context.Context, userID string) ([]store.PlantWithLatest, error)
	ListPlantsWithLatest(ctx context.Context, userID string) ([]store.PlantWithLatest, error)

	InsertReading(ctx context.Context, reading store.Reading) error
	GetReading(ctx context.Context, readingID string) (store.Reading, error)
	ListReadingsByPlant(ctx context.Context, plantID string, limit, offset int) ([]store.Reading, error)
	ListReadingsByUser(ctx context.Context, userID string, limit, offset int) ([]store.Reading, error)
	ListReadingsByDateRange(ctx context.Context, plantID string, from, to time.Time) ([]store.Reading, error)
	CountReadingsByPlant(ctx context.Context, plantID string) (int, error)
	CountReadingsByUser(ctx context.Context, userID string) (int, error)
	LatestReadingByPlant(ctx context.Context, plantID string) (store.Reading, error)
	LatestReadingByUser(ctx context.Context, userID string) (store.Reading, error)
	UpdateReading(ctx context.Context, readingID string, battery, level, signal *float64) error
	DeleteReading(ctx context.Context, readingID string) error
	ReadingStatsByPlant(ctx context.Context, plantID string, since *time.Time) (store.ReadingStats, error)
	ReadingStatsByUser(ctx context.Context, userID string) (store.ReadingStats, error)

	HasAccess(ctx context.Context, userID, plantID string) (bool, error)
	RoleOf(ctx context.Context, userID, plantID string) (string, error)
	UpsertGrant(ctx context.Context, grant store.Grant) (store.Grant, error)
	GetGrant(ctx context.Context, grantID string) (store.Grant, error)
	SetGrantRole(ctx context.Context, grantID, role string) error
	RevokeGrant(ctx context.Context, grantID string) error
	ListGrantsByPlant(ctx context.Context, plantID string) ([]store.Grant, error)
	ListGrantsByUser(ctx context.Context, userID string) ([]store.Grant, error)
}

// tokenRevoker is the access-token denylist. Backed by Redis when configured,
// otherwise by Postgres.
type tokenRevoker interface {
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// searcher is the plant search facade. Nil-safe via the noop implementation.
type searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexPlant(p search.PlantRecord)
	DeletePlant(id string)
}

type Service struct {
	cfg     config.Config
	store   dataStore
	revoker tokenRevoker
	authpw  *authpw.Service
	email   *email.Service
	search  searcher
}

func New(cfg config.Config, dataStore dataStore, revoker tokenRevoker, authSvc *authpw.Service, emailSvc *email.Service, searchSvc searcher) *Service {
	if searchSvc == nil {
		searchSvc = noopSearcher{}
	}
	return &Service{
		cfg:     cfg,
		store:   dataStore,
		revoker: revoker,
		authpw:  authSvc,
		email:   emailSvc,
		search:  searchSvc,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SMTPConfigured reports whether transactional email can be sent.
func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// SignUp creates the account, issues a session, and dispatches the
// verification email. Email delivery never blocks or rolls back the account
// creation.
func (s *Service) SignUp(ctx context.Context, emailAddr, password, name string) (Session, store.User, string, error) {
	resp, err := s.authpw.SignUp(ctx, authpw.SignUpRequest{
		Email:    emailAddr,
		Password: password,
		Name:     name,
	})
	if err != nil {
		return Session{}, store.User{}, "", err
	}

	session, err := s.issueSession(resp.User)
	if err != nil {
		return Session{}, store.User{}, "", err
	}

	s.sendAsync("verification", func() error {
		return s.email.SendVerificationEmail(resp.User.Email, resp.User.Name, resp.VerificationCode)
	})

	return session, resp.User, resp.VerificationCode, nil
}

// VerifyEmail activates the account and sends the welcome email.
func (s *Service) VerifyEmail(ctx context.Context, code string) (store.User, error) {
	user, err := s.authpw.VerifyEmail(ctx, code)
	if err != nil {
		return store.User{}, err
	}

	s.sendAsync("welcome", func() error {
		return s.email.SendWelcomeEmail(user.Email, user.Name)
	})

	return user, nil
}

// Login authenticates and issues a session token.
func (s *Service) Login(ctx context.Context, emailAddr, password string) (Session, store.User, error) {
	user, err := s.authpw.SignIn(ctx, authpw.SignInRequest{
		Email:    emailAddr,
		Password: password,
	})
	if err != nil {
		return Session{}, store.User{}, err
	}

	session, err := s.issueSession(user)
	if err != nil {
		return Session{}, store.User{}, err
	}
	return session, user, nil
}

// ForgotPassword dispatches a reset email. The result is identical whether or
// not the address has an account.
func (s *Service) ForgotPassword(ctx context.Context, emailAddr string) error {
	token, user, err := s.authpw.ForgotPassword(ctx, emailAddr)
	if err != nil {
		return err
	}
	if token == "" {
		return nil
	}

	resetURL := s.cfg.ClientURL + "/reset-password/" + token
	s.sendAsync("password reset", func() error {
		return s.email.SendPasswordResetEmail(user.Email, user.Name, resetURL)
	})
	return nil
}

// ResetPassword consumes the reset token and sends the confirmation email.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	user, err := s.authpw.ResetPassword(ctx, token, newPassword)
	if err != nil {
		return err
	}

	s.sendAsync("reset success", func() error {
		return s.email.SendResetSuccessEmail(user.Email, user.Name)
	})
	return nil
}

func (s *Service) issueSession(user store.User) (Session, error) {
	jti := uuid.NewString()
	token, expiresAt, err := auth.IssueToken([]byte(s.cfg.JWTSecret), user.ID, jti, s.cfg.TokenTTL)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Email:     user.Email,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

// SessionFromToken validates the token, rejects revoked JTIs, and confirms the
// account still exists and has completed email verification.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}

	revoked, err := s.revoker.IsRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, fmt.Errorf("check revoked token: %w", err)
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, auth.ErrInvalidToken
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session account: %w", err)
	}
	if !user.IsVerified {
		return Session{}, errAccountUnverified
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Name,
		Email:     user.Email,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Logout denylists the session's JTI until the token would have expired.
func (s *Service) Logout(ctx context.Context, session Session) error {
	if session.JTI == "" {
		return nil
	}
	return s.revoker.RevokeToken(ctx, session.JTI, session.ExpiresAt)
}

// CheckAuth returns the account behind a session.
func (s *Service) CheckAuth(ctx context.Context, session Session) (store.User, error) {
	return s.store.GetUserByID(ctx, session.UserID)
}

// requireRole loads the caller's role on the plant and checks the action.
// Returns 403 with no access, and passes store errors (plant missing) through.
func (s *Service) requireRole(ctx context.Context, userID, plantID string, action rbac.Action) (rbac.Role, error) {
	roleName, err := s.store.RoleOf(ctx, userID, plantID)
	if err != nil {
		return "", err
	}
	role := rbac.Role(roleName)
	if roleName == "" || !rbac.Can(role, action) {
		return "", domainError(http.StatusForbidden, "FORBIDDEN", "You do not have permission for this plant", nil)
	}
	return role, nil
}

func (s *Service) sendAsync(kind string, send func() error) {
	if !s.SMTPConfigured() {
		log.Printf("email: smtp not configured, skipping %s email", kind)
		return
	}
	go func() {
		if err := send(); err != nil {
			log.Printf("email: send %s email: %v", kind, err)
		}
	}()
}

type noopSearcher struct{}

func (noopSearcher) Search(ctx context.Context, q search.Query) search.Response {
	return search.Response{Results: []search.Result{}, Query: q.Text}
}
func (noopSearcher) IndexPlant(search.PlantRecord) {}
func (noopSearcher) DeletePlant(string)            {}
