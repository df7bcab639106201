// Package rest provides the HTTP REST API server for the Athena dashboard.
// This file implements HS256 bearer-token authentication and the
// request-scoped middleware shared by every route.
//
// # Authentication Flow
//
// POST /api/auth/login exchanges a username and password for a compact JWT
// signed with the session secret. Later requests send it back as
//
//	Authorization: Bearer <compact-JWT>
//
// Browsers cannot set headers on a WebSocket upgrade, so GET requests may
// pass the token as the access_token query parameter instead.
//
// When authentication is required, requests without a valid token get HTTP
// 401. When it is optional, anonymous requests pass through and only a
// present but invalid token is rejected. Either way a verified token's
// [Claims] are placed in the request context and its subject becomes the
// actor recorded in the activity log.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"

	"github.com/athena-ai/dashboard/internal/audit"
	"github.com/athena-ai/dashboard/internal/server/storage"
)

// ─── Context key ─────────────────────────────────────────────────────────────

type contextKey int

const claimsKey contextKey = 0

// ─── Tokens ──────────────────────────────────────────────────────────────────

// tokenIssuer is the "iss" claim on every token this server mints.
const tokenIssuer = "athena-dashboard"

// Claims is the JWT payload minted at login.
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies HS256 session tokens.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer returns an issuer signing with secret. Tokens expire after
// ttl.
func NewTokenIssuer(secret []byte, ttl time.Duration) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt: empty signing secret")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("jwt: token ttl must be positive, got %s", ttl)
	}
	return &TokenIssuer{secret: secret, ttl: ttl, now: time.Now}, nil
}

// Issue mints a token for u and returns it with its expiry.
func (ti *TokenIssuer) Issue(u *storage.User) (string, time.Time, error) {
	now := ti.now()
	exp := now.Add(ti.ttl)
	claims := Claims{
		Username: u.Username,
		Role:     string(u.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("jwt: sign: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies token and returns its claims. Only HS256 tokens from this
// issuer with an expiry are accepted.
func (ti *TokenIssuer) Parse(token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return ti.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		return nil, err
	}
	return &claims, nil
}

// ─── Context helpers ─────────────────────────────────────────────────────────

// ClaimsFromContext retrieves the verified [Claims] injected by
// [JWTMiddleware]. It returns (nil, false) for anonymous requests.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok
}

// ─── Middleware ──────────────────────────────────────────────────────────────

// JWTConfig holds the configuration for [JWTMiddleware].
type JWTConfig struct {
	// Tokens verifies bearer tokens. Required.
	Tokens *TokenIssuer

	// Required rejects requests that carry no token.
	Required bool

	// SkipPaths lists exact URL paths that bypass authentication entirely.
	SkipPaths []string

	// Logger records per-request authentication failures. When nil,
	// slog.Default() is used.
	Logger *slog.Logger
}

// JWTMiddleware returns an [http.Handler] that enforces bearer-token
// authentication as described in the package documentation.
func JWTMiddleware(cfg JWTConfig, next http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := skip[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		raw := r.Header.Get("Authorization")
		if raw == "" && r.Method == http.MethodGet {
			if tok := r.URL.Query().Get("access_token"); tok != "" {
				raw = "Bearer " + tok
			}
		}
		if raw == "" && !cfg.Required {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := bearerClaims(raw, cfg.Tokens)
		if err != nil {
			logger.Warn("jwt: authentication failed",
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("error", err.Error()),
			)
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerClaims(header string, tokens *TokenIssuer) (*Claims, error) {
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, errors.New("missing or malformed Authorization header")
	}
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" {
		return nil, errors.New("empty bearer token")
	}
	if tokens == nil {
		return nil, errors.New("token verification is not configured")
	}
	return tokens.Parse(token)
}

// actorMiddleware records who is acting on the request so storage can stamp
// activity-log entries. It runs after RealIP and JWTMiddleware.
func actorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a := audit.Actor{IP: clientIP(r.RemoteAddr)}
		if c, ok := ClaimsFromContext(r.Context()); ok {
			a.UserID = c.Subject
		}
		next.ServeHTTP(w, r.WithContext(audit.WithActor(r.Context(), a)))
	})
}

func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// requestLogger logs one line per request at Info level.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

// recoverer turns a handler panic into a logged 500 with the usual JSON
// error body.
func recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("handler panic",
					slog.Any("panic", rec),
					slog.String("path", r.URL.Path),
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.String("stack", string(debug.Stack())),
				)
				writeJSONError(w, http.StatusInternalServerError, "internal server error")
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// writeJSONError writes an HTTP error response with a JSON body.
// It sets the Content-Type header before writing the status code so that
// the header is included even when ResponseWriter buffers are flushed early.
func writeJSONError(w http.ResponseWriter, code int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": detail})
}
