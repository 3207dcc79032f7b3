package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"plantguard/api/internal/auth"
	"plantguard/api/internal/authpw"
	"plantguard/api/internal/store"
)

const sessionCookieName = "token"

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	parts := splitPath(r.URL.Path)

	// Auth routes (no session required, except check-auth)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "auth" {
		s.routeAuth(w, r, parts[2:])
		return
	}

	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "plants" {
		s.routePlants(w, r, session, parts[2:])
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "planta" {
		s.routeReadings(w, r, session, parts[2:])
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "user-plants" {
		s.routeGrants(w, r, session, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) routeAuth(w http.ResponseWriter, r *http.Request, rest []string) {
	switch {
	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "signup":
		s.handleSignUp(w, r)
	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "login":
		s.handleLogin(w, r)
	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "logout":
		s.handleLogout(w, r)
	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "verify-email":
		s.handleVerifyEmail(w, r)
	case r.Method == http.MethodPost && len(rest) == 1 && rest[0] == "forgot-password":
		s.handleForgotPassword(w, r)
	case r.Method == http.MethodPost && len(rest) == 2 && rest[0] == "reset-password":
		s.handleResetPassword(w, r, rest[1])
	case r.Method == http.MethodGet && len(rest) == 1 && rest[0] == "check-auth":
		s.handleCheckAuth(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, user, code, err := s.service.SignUp(r.Context(), body.Email, body.Password, body.Name)
	if err != nil {
		if errors.Is(err, authpw.ErrAccountExists) {
			writeError(w, http.StatusBadRequest, "EMAIL_EXISTS", "An account with this email already exists", nil)
			return
		}
		respondError(w, err)
		return
	}

	s.setSessionCookie(w, session)

	data := userJSON(user)
	data["token"] = session.Token
	// Dev bypass: surface the code directly when email delivery is off.
	if !s.service.SMTPConfigured() {
		data["devVerificationCode"] = code
	}
	writeSuccess(w, http.StatusCreated, "Account created. Check your email for the verification code.", data)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	session, user, err := s.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			writeError(w, http.StatusBadRequest, "INVALID_CREDENTIALS", "Invalid credentials", nil)
			return
		}
		respondError(w, err)
		return
	}

	s.setSessionCookie(w, session)

	data := userJSON(user)
	data["token"] = session.Token
	writeSuccess(w, http.StatusOK, "Logged in successfully", data)
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := requestToken(r); token != "" {
		if session, err := s.service.SessionFromToken(r.Context(), token); err == nil {
			if err := s.service.Logout(r.Context(), session); err != nil {
				log.Printf("logout: revoke token: %v", err)
			}
		}
	}
	s.clearSessionCookie(w)
	writeSuccess(w, http.StatusOK, "Logged out successfully", nil)
}

func (s *HTTPServer) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	user, err := s.service.VerifyEmail(r.Context(), body.Code)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCode) {
			writeError(w, http.StatusBadRequest, "INVALID_CODE", "Invalid or expired verification code", nil)
			return
		}
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	writeSuccess(w, http.StatusOK, "Email verified successfully", userJSON(user))
}

func (s *HTTPServer) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if strings.TrimSpace(body.Email) == "" {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "email is required", nil)
		return
	}

	if err := s.service.ForgotPassword(r.Context(), body.Email); err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}

	// Same response whether or not the account exists.
	writeSuccess(w, http.StatusOK, "If an account exists for that email, a reset link has been sent", nil)
}

func (s *HTTPServer) handleResetPassword(w http.ResponseWriter, r *http.Request, token string) {
	var body struct {
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	if err := s.service.ResetPassword(r.Context(), token, body.Password); err != nil {
		if errors.Is(err, authpw.ErrInvalidResetToken) {
			writeError(w, http.StatusBadRequest, "INVALID_RESET_TOKEN", "Invalid or expired reset token", nil)
			return
		}
		respondError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Password reset successfully", nil)
}

func (s *HTTPServer) handleCheckAuth(w http.ResponseWriter, r *http.Request) {
	session, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	user, err := s.service.CheckAuth(r.Context(), session)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		respondError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", userJSON(user))
}

func (s *HTTPServer) setSessionCookie(w http.ResponseWriter, session Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    session.Token,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *HTTPServer) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := requestToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		// Expired, invalid, and unverified all map distinctly; an infra
		// failure during the lookup surfaces as 500, not 401.
		respondError(w, err)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Access-Control-Allow-Credentials", "true")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, status int, message string, data any) {
	response := map[string]any{"success": true}
	if message != "" {
		response["message"] = message
	}
	if data != nil {
		response["data"] = data
	}
	writeJSON(w, status, response)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"success": false,
		"code":    code,
		"message": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// requestToken extracts the access token, preferring the Authorization header
// over the session cookie.
func requestToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// mapError translates service failures into the wire taxonomy. Anything not
// recognized is an internal failure and answers with a generic 500; its text
// goes to the log, never to the client.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validationErr *authpw.ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, "VALIDATION_ERROR", validationErr.Message, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "TOKEN_EXPIRED", "Session expired", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, store.ErrDuplicate) {
		return http.StatusBadRequest, "CONFLICT", "Resource already exists", nil
	}
	if errors.Is(err, store.ErrReferenced) {
		return http.StatusBadRequest, "VALIDATION_ERROR", "Referenced resource does not exist", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
