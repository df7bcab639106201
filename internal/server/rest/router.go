package rest

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/athena-ai/dashboard/internal/server/storage"
)

// RouterOptions carries the optional collaborators of NewRouter.
type RouterOptions struct {
	// RequireAuth rejects /api requests without a valid bearer token,
	// except the login route.
	RequireAuth bool

	// Metrics, when set, instruments every request and serves /metrics.
	Metrics interface {
		Middleware(http.Handler) http.Handler
		Handler() http.Handler
	}

	// Live, when set, serves the activity-log WebSocket feed at
	// /api/logs/live.
	Live http.Handler

	// Static, when set, serves the built client for every path outside
	// /api.
	Static http.Handler
}

// NewRouter returns a configured chi.Router for the Athena dashboard API.
//
// Route layout:
//
//	GET    /healthz                 – liveness probe
//	GET    /metrics                 – Prometheus exposition (when enabled)
//	POST   /api/auth/login          – exchange credentials for a token
//	POST   /api/auth/logout         – record a logout
//	GET    /api/logs                – activity log, newest first
//	GET    /api/logs/live           – activity WebSocket feed (when enabled)
//	GET    /api/logs/{id}
//	POST   /api/logs
//	GET    /api/ai-control          – singleton control settings
//	PATCH  /api/ai-control
//	*      /api/<resource>[/{id}]   – CRUD for users, clients, sites, tests,
//	                                  documents, classifiers, ai-health, chat
func NewRouter(srv *Server, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(requestLogger(srv.logger))
	r.Use(recoverer(srv.logger))

	r.Get("/healthz", srv.handleHealthz)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(func(next http.Handler) http.Handler {
			return JWTMiddleware(JWTConfig{
				Tokens:    srv.tokens,
				Required:  opts.RequireAuth,
				SkipPaths: []string{"/api/auth/login"},
				Logger:    srv.logger,
			}, next)
		})
		r.Use(actorMiddleware)

		r.Post("/auth/login", srv.handleLogin)
		r.Post("/auth/logout", srv.handleLogout)

		if opts.Live != nil {
			r.Method(http.MethodGet, "/logs/live", opts.Live)
		}
		r.Get("/logs", srv.handleListLogs)
		r.Get("/logs/{id}", srv.handleGetLog)
		r.Post("/logs", srv.handleCreateLog)

		r.Get("/ai-control", srv.handleGetControl)
		r.Patch("/ai-control", srv.handleUpdateControl)

		st := srv.store
		r.Route("/users", (&resource[storage.User]{srv: srv, coll: st.Users, noun: "user", present: hidePassword}).mount)
		r.Route("/clients", (&resource[storage.Client]{srv: srv, coll: st.Clients, noun: "client"}).mount)
		r.Route("/sites", (&resource[storage.Site]{srv: srv, coll: st.Sites, noun: "site",
			filters: []string{"clientId"}}).mount)
		r.Route("/tests", (&resource[storage.Test]{srv: srv, coll: st.Tests, noun: "test",
			filters: []string{"clientId", "siteId", "status"}}).mount)
		r.Route("/documents", (&resource[storage.Document]{srv: srv, coll: st.Documents, noun: "document",
			filters: []string{"clientId"}}).mount)
		r.Route("/classifiers", (&resource[storage.Classifier]{srv: srv, coll: st.Classifiers, noun: "classifier"}).mount)
		r.Route("/ai-health", (&resource[storage.AIHealthMetric]{srv: srv, coll: st.Health, noun: "health metric"}).mount)
		r.Route("/chat", (&resource[storage.AIChatMessage]{srv: srv, coll: st.Chat, noun: "chat message",
			filters: []string{"userId"}}).mount)
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		api := req.URL.Path == "/api" || strings.HasPrefix(req.URL.Path, "/api/")
		if opts.Static == nil || api || (req.Method != http.MethodGet && req.Method != http.MethodHead) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		opts.Static.ServeHTTP(w, req)
	})

	return r
}
