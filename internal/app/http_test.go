package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"plantguard/api/internal/authpw"
	"plantguard/api/internal/config"
	"plantguard/api/internal/store"
)

// memUserStore is an in-memory authpw.UserStore for end-to-end handler tests.
// touchLastLoginErr simulates a store outage at the login stamp.
type memUserStore struct {
	users             map[string]store.User
	touchLastLoginErr error
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: make(map[string]store.User)}
}

func (m *memUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	for _, user := range m.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memUserStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	user, ok := m.users[id]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memUserStore) GetUserByVerificationCode(ctx context.Context, code string) (store.User, error) {
	for _, user := range m.users {
		if user.VerificationCode != "" && user.VerificationCode == code {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memUserStore) GetUserByResetToken(ctx context.Context, token string) (store.User, error) {
	for _, user := range m.users {
		if user.ResetToken != "" && user.ResetToken == token {
			if user.ResetExpiresAt == nil || time.Now().After(*user.ResetExpiresAt) {
				continue
			}
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memUserStore) CreateUser(ctx context.Context, user store.User) error {
	if _, err := m.GetUserByEmail(ctx, user.Email); err == nil {
		return store.ErrDuplicate
	}
	user.CreatedAt = time.Now()
	m.users[user.ID] = user
	return nil
}

func (m *memUserStore) MarkUserVerified(ctx context.Context, userID string) error {
	user := m.users[userID]
	user.IsVerified = true
	user.VerificationCode = ""
	user.VerificationExpiresAt = nil
	m.users[userID] = user
	return nil
}

func (m *memUserStore) SetResetToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	user := m.users[userID]
	user.ResetToken = token
	user.ResetExpiresAt = &expiresAt
	m.users[userID] = user
	return nil
}

func (m *memUserStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	user := m.users[userID]
	user.PasswordHash = passwordHash
	user.ResetToken = ""
	user.ResetExpiresAt = nil
	m.users[userID] = user
	return nil
}

func (m *memUserStore) TouchLastLogin(ctx context.Context, userID string) error {
	if m.touchLastLoginErr != nil {
		return m.touchLastLoginErr
	}
	now := time.Now()
	user := m.users[userID]
	user.LastLoginAt = &now
	m.users[userID] = user
	return nil
}

type testEnv struct {
	server *httptest.Server
	users  *memUserStore
	store  *fakeStore
}

func newTestEnv(t *testing.T, fs *fakeStore) *testEnv {
	t.Helper()
	if fs == nil {
		fs = &fakeStore{}
	}

	users := newMemUserStore()
	fs.getUserByIDFn = func(ctx context.Context, userID string) (store.User, error) {
		return users.GetUserByID(ctx, userID)
	}

	cfg := config.Config{
		JWTSecret:  "test-secret",
		TokenTTL:   time.Hour,
		CORSOrigin: "*",
		ClientURL:  "http://localhost:5173",
	}
	svc := New(cfg, fs, newFakeRevoker(), authpw.NewService(users), nil, nil)
	httpServer := NewHTTPServer(svc, cfg.CORSOrigin)

	server := httptest.NewServer(httpServer.Handler())
	t.Cleanup(server.Close)

	return &testEnv{server: server, users: users, store: fs}
}

type apiResponse struct {
	Success bool           `json:"success"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data"`
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) (int, apiResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var parsed apiResponse
	if resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode, parsed
}

// signupAndLogin runs the full signup, verify, login flow and returns the
// user id and a live token.
func (e *testEnv) signupAndLogin(t *testing.T, email, name string) (string, string) {
	t.Helper()

	status, resp := e.request(t, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":    email,
		"password": "secret123",
		"name":     name,
	})
	if status != http.StatusCreated {
		t.Fatalf("signup returned %d: %s", status, resp.Message)
	}
	code, _ := resp.Data["devVerificationCode"].(string)
	if code == "" {
		t.Fatal("expected dev verification code with smtp unconfigured")
	}

	status, _ = e.request(t, http.MethodPost, "/api/auth/verify-email", "", map[string]any{"code": code})
	if status != http.StatusOK {
		t.Fatalf("verify-email returned %d", status)
	}

	status, resp = e.request(t, http.MethodPost, "/api/auth/login", "", map[string]any{
		"email":    email,
		"password": "secret123",
	})
	if status != http.StatusOK {
		t.Fatalf("login returned %d: %s", status, resp.Message)
	}
	token, _ := resp.Data["token"].(string)
	if token == "" {
		t.Fatal("expected token in login response")
	}
	userID, _ := resp.Data["id"].(string)
	return userID, token
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t, nil)

	_, token := env.signupAndLogin(t, "ana@example.com", "Ana")

	status, resp := env.request(t, http.MethodGet, "/api/auth/check-auth", token, nil)
	if status != http.StatusOK {
		t.Fatalf("check-auth returned %d", status)
	}
	if email, _ := resp.Data["email"].(string); email != "ana@example.com" {
		t.Fatalf("check-auth returned wrong account: %v", resp.Data)
	}

	// Duplicate signup fails as a client error.
	status, _ = env.request(t, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":    "ana@example.com",
		"password": "secret123",
		"name":     "Ana Again",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("duplicate signup returned %d, want 400", status)
	}

	// Wrong password and unknown email answer identically.
	status1, resp1 := env.request(t, http.MethodPost, "/api/auth/login", "", map[string]any{
		"email":    "ana@example.com",
		"password": "wrong-pass",
	})
	status2, resp2 := env.request(t, http.MethodPost, "/api/auth/login", "", map[string]any{
		"email":    "nobody@example.com",
		"password": "whatever1",
	})
	if status1 != http.StatusBadRequest || status2 != http.StatusBadRequest {
		t.Fatalf("bad logins returned %d and %d, want 400", status1, status2)
	}
	if resp1.Message != resp2.Message || resp1.Code != resp2.Code {
		t.Fatalf("bad logins must be indistinguishable: %q vs %q", resp1.Message, resp2.Message)
	}

	// Logout revokes the token.
	status, _ = env.request(t, http.MethodPost, "/api/auth/logout", token, nil)
	if status != http.StatusOK {
		t.Fatalf("logout returned %d", status)
	}
	status, _ = env.request(t, http.MethodGet, "/api/auth/check-auth", token, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("check-auth after logout returned %d, want 401", status)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signupAndLogin(t, "ana@example.com", "Ana")

	status, _ := env.request(t, http.MethodPost, "/api/auth/forgot-password", "", map[string]any{
		"email": "ana@example.com",
	})
	if status != http.StatusOK {
		t.Fatalf("forgot-password returned %d", status)
	}

	// The endpoint answers the same for unknown addresses.
	status, _ = env.request(t, http.MethodPost, "/api/auth/forgot-password", "", map[string]any{
		"email": "nobody@example.com",
	})
	if status != http.StatusOK {
		t.Fatalf("forgot-password for unknown email returned %d", status)
	}

	user, err := env.users.GetUserByEmail(context.Background(), "ana@example.com")
	if err != nil || user.ResetToken == "" {
		t.Fatalf("expected a stored reset token, got %v", err)
	}

	status, _ = env.request(t, http.MethodPost, "/api/auth/reset-password/"+user.ResetToken, "", map[string]any{
		"password": "newsecret1",
	})
	if status != http.StatusOK {
		t.Fatalf("reset-password returned %d", status)
	}

	status, _ = env.request(t, http.MethodPost, "/api/auth/login", "", map[string]any{
		"email":    "ana@example.com",
		"password": "newsecret1",
	})
	if status != http.StatusOK {
		t.Fatalf("login with new password returned %d", status)
	}

	// The token is single use.
	status, _ = env.request(t, http.MethodPost, "/api/auth/reset-password/"+user.ResetToken, "", map[string]any{
		"password": "another12",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("reused reset token returned %d, want 400", status)
	}
}

func TestUnverifiedAccountCannotUseAPI(t *testing.T) {
	env := newTestEnv(t, nil)

	status, resp := env.request(t, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":    "ana@example.com",
		"password": "secret123",
		"name":     "Ana",
	})
	if status != http.StatusCreated {
		t.Fatalf("signup returned %d", status)
	}
	token, _ := resp.Data["token"].(string)
	if token == "" {
		t.Fatal("expected a session token at signup")
	}
	code, _ := resp.Data["devVerificationCode"].(string)

	// The signup token is held but unusable until the code is confirmed.
	for _, path := range []string{"/api/auth/check-auth", "/api/plants"} {
		status, resp := env.request(t, http.MethodGet, path, token, nil)
		if status != http.StatusUnauthorized {
			t.Fatalf("GET %s with unverified account returned %d, want 401", path, status)
		}
		if resp.Code != "ACCOUNT_UNVERIFIED" {
			t.Fatalf("GET %s returned code %q, want ACCOUNT_UNVERIFIED", path, resp.Code)
		}
	}

	status, _ = env.request(t, http.MethodPost, "/api/auth/verify-email", "", map[string]any{"code": code})
	if status != http.StatusOK {
		t.Fatalf("verify-email returned %d", status)
	}

	status, _ = env.request(t, http.MethodGet, "/api/auth/check-auth", token, nil)
	if status != http.StatusOK {
		t.Fatalf("check-auth after verification returned %d, want 200", status)
	}
}

func TestStoreFailuresStayOutOfResponses(t *testing.T) {
	env := newTestEnv(t, nil)
	env.signupAndLogin(t, "ana@example.com", "Ana")

	env.users.touchLastLoginErr = fmt.Errorf("pq: connection refused host=10.0.0.5")

	status, resp := env.request(t, http.MethodPost, "/api/auth/login", "", map[string]any{
		"email":    "ana@example.com",
		"password": "secret123",
	})
	if status != http.StatusInternalServerError {
		t.Fatalf("login during store outage returned %d, want 500", status)
	}
	if resp.Message != "Server error" {
		t.Fatalf("store outage leaked into the response: %q", resp.Message)
	}

	// Validation failures still carry their own message.
	env.users.touchLastLoginErr = nil
	status, resp = env.request(t, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":    "bob@example.com",
		"password": "abc",
		"name":     "Bob",
	})
	if status != http.StatusBadRequest {
		t.Fatalf("short password returned %d, want 400", status)
	}
	if resp.Code != "VALIDATION_ERROR" || resp.Message == "Server error" {
		t.Fatalf("unexpected validation response: code=%q message=%q", resp.Code, resp.Message)
	}
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/api/plants", "/api/planta", "/api/user-plants/my-plants"} {
		status, _ := env.request(t, http.MethodGet, path, "", nil)
		if status != http.StatusUnauthorized {
			t.Fatalf("GET %s without token returned %d, want 401", path, status)
		}
	}

	status, _ := env.request(t, http.MethodGet, "/api/plants", "not-a-jwt", nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("garbage token returned %d, want 401", status)
	}
}

func TestRoleEscalationScenario(t *testing.T) {
	roles := map[string]string{}
	grants := map[string]store.Grant{}

	fs := &fakeStore{
		roleOfFn: func(ctx context.Context, userID, plantID string) (string, error) {
			return roles[userID+"/"+plantID], nil
		},
		upsertGrantFn: func(ctx context.Context, grant store.Grant) (store.Grant, error) {
			roles[grant.UserID+"/"+grant.PlantID] = grant.Role
			grant.IsActive = true
			grants[grant.ID] = grant
			return grant, nil
		},
		getGrantFn: func(ctx context.Context, grantID string) (store.Grant, error) {
			grant, ok := grants[grantID]
			if !ok {
				return store.Grant{}, sql.ErrNoRows
			}
			return grant, nil
		},
		setGrantRoleFn: func(ctx context.Context, grantID, role string) error {
			grant := grants[grantID]
			grant.Role = role
			grants[grantID] = grant
			roles[grant.UserID+"/"+grant.PlantID] = role
			return nil
		},
	}
	env := newTestEnv(t, fs)

	ownerID, ownerToken := env.signupAndLogin(t, "owner@example.com", "Owner")
	viewerID, viewerToken := env.signupAndLogin(t, "viewer@example.com", "Viewer")
	roles[ownerID+"/pl_1"] = "owner"

	// Owner invites the second user as viewer.
	status, resp := env.request(t, http.MethodPost, "/api/user-plants/pl_1/users", ownerToken, map[string]any{
		"userId": viewerID,
	})
	if status != http.StatusCreated {
		t.Fatalf("invite returned %d: %s", status, resp.Message)
	}
	grantID, _ := resp.Data["id"].(string)
	if role, _ := resp.Data["role"].(string); role != "viewer" {
		t.Fatalf("invite defaulted to %q, want viewer", role)
	}

	// Viewer can read but not write the plant.
	status, _ = env.request(t, http.MethodGet, "/api/plants/pl_1", viewerToken, nil)
	if status != http.StatusOK {
		t.Fatalf("viewer read returned %d", status)
	}
	status, _ = env.request(t, http.MethodPut, "/api/plants/pl_1", viewerToken, map[string]any{
		"name": "Hijacked",
	})
	if status != http.StatusForbidden {
		t.Fatalf("viewer write returned %d, want 403", status)
	}

	// Viewer cannot promote themselves.
	status, _ = env.request(t, http.MethodPut, fmt.Sprintf("/api/user-plants/pl_1/users/%s", grantID), viewerToken, map[string]any{
		"role": "admin",
	})
	if status != http.StatusForbidden {
		t.Fatalf("viewer self-promotion returned %d, want 403", status)
	}

	// Owner promotes the viewer to admin; writes now succeed.
	status, _ = env.request(t, http.MethodPut, fmt.Sprintf("/api/user-plants/pl_1/users/%s", grantID), ownerToken, map[string]any{
		"role": "admin",
	})
	if status != http.StatusOK {
		t.Fatalf("owner promotion returned %d", status)
	}
	status, _ = env.request(t, http.MethodPut, "/api/plants/pl_1", viewerToken, map[string]any{
		"name": "Renamed by admin",
	})
	if status != http.StatusOK {
		t.Fatalf("admin write returned %d, want 200", status)
	}
}

func TestReadingEndpoints(t *testing.T) {
	readings := map[string]store.Reading{}

	fs := &fakeStore{
		roleOfFn: func(ctx context.Context, userID, plantID string) (string, error) {
			return "owner", nil
		},
		insertReadingFn: func(ctx context.Context, reading store.Reading) error {
			if reading.RecordedAt.IsZero() {
				reading.RecordedAt = time.Now()
			}
			readings[reading.ID] = reading
			return nil
		},
		getReadingFn: func(ctx context.Context, readingID string) (store.Reading, error) {
			reading, ok := readings[readingID]
			if !ok {
				return store.Reading{}, sql.ErrNoRows
			}
			return reading, nil
		},
	}
	env := newTestEnv(t, fs)
	_, token := env.signupAndLogin(t, "ana@example.com", "Ana")

	status, resp := env.request(t, http.MethodPost, "/api/planta", token, map[string]any{
		"plantId":    "pl_1",
		"batLocal":   87.5,
		"nivelLocal": 42.0,
		"senLocal":   -61.0,
	})
	if status != http.StatusCreated {
		t.Fatalf("create reading returned %d: %s", status, resp.Message)
	}
	if got := resp.Data["batLocal"].(float64); got != 87.5 {
		t.Fatalf("batLocal round-tripped as %v", got)
	}

	// Missing measurements are rejected before touching the store.
	status, _ = env.request(t, http.MethodPost, "/api/planta", token, map[string]any{
		"plantId":  "pl_1",
		"batLocal": 87.5,
	})
	if status != http.StatusBadRequest {
		t.Fatalf("partial reading returned %d, want 400", status)
	}

	// Unknown reading id is a 404.
	status, _ = env.request(t, http.MethodDelete, "/api/planta/rd_missing", token, nil)
	if status != http.StatusNotFound {
		t.Fatalf("delete missing reading returned %d, want 404", status)
	}
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, nil)

	status, _ := env.request(t, http.MethodGet, "/api/health", "", nil)
	if status != http.StatusOK {
		t.Fatalf("health returned %d", status)
	}

	status, _ = env.request(t, http.MethodGet, "/api/ready", "", nil)
	if status != http.StatusOK {
		t.Fatalf("ready returned %d", status)
	}

	env.store.pingFn = func(ctx context.Context) error {
		return fmt.Errorf("connection refused")
	}
	status, _ = env.request(t, http.MethodGet, "/api/ready", "", nil)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("ready with dead database returned %d, want 503", status)
	}
}
