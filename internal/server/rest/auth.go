package rest

import (
	"errors"
	"net/http"
	"time"

	"github.com/athena-ai/dashboard/internal/audit"
	"github.com/athena-ai/dashboard/internal/server/storage"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expiresAt"`
	User      *storage.User `json:"user"`
}

// handleLogin responds to POST /api/auth/login.
//
// Returns HTTP 400 for a malformed body, 401 for bad credentials, and 200
// with a bearer token and the (password-free) user otherwise. Every
// successful login appends a "login" activity entry.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		writeError(w, http.StatusServiceUnavailable, "login is not configured")
		return
	}

	body, err := decodeBody(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	username, _ := body["username"].(string)
	password, _ := body["password"].(string)
	if username == "" || password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	u, err := s.store.Authenticate(r.Context(), username, password)
	if errors.Is(err, storage.ErrInvalidCredentials) {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}

	token, exp, err := s.tokens.Issue(u)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	ctx := r.Context()
	a, _ := audit.ActorFromContext(ctx)
	a.UserID = u.ID
	if _, err := s.store.Logs.Record(audit.WithActor(ctx, a), storage.ActionLogin, "user", u.ID, nil); err != nil {
		s.fail(w, r, err)
		return
	}

	hidePassword(u)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, ExpiresAt: exp, User: u})
}

// handleLogout responds to POST /api/auth/logout.
//
// Tokens are stateless, so logout only records the event. An anonymous
// logout is acknowledged without an activity entry.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, ok := ClaimsFromContext(r.Context()); ok {
		if _, err := s.store.Logs.Record(r.Context(), storage.ActionLogout, "user", c.Subject, nil); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
