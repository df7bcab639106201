package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/athena-ai/dashboard/internal/metrics"
	"github.com/athena-ai/dashboard/internal/server/storage"
)

func (hs *harness) createUser(t *testing.T, username, password string) string {
	t.Helper()
	u, err := hs.store.Users.Create(context.Background(), map[string]any{"username": username, "password": password})
	if err != nil {
		t.Fatalf("Users.Create: %v", err)
	}
	return u.ID
}

func (hs *harness) login(t *testing.T, username, password string) string {
	t.Helper()
	rec := hs.do(t, http.MethodPost, "/api/auth/login", map[string]any{"username": username, "password": password})
	wantStatus(t, rec, http.StatusOK)
	token, _ := decodeObject(t, rec)["token"].(string)
	if token == "" {
		t.Fatal("login returned no token")
	}
	return token
}

// ---- /api/auth --------------------------------------------------------------

func TestLogin_IssuesTokenAndLogs(t *testing.T) {
	eachBackend(t, func(t *testing.T, hs *harness) {
		id := hs.createUser(t, "ada", "lovelace")

		rec := hs.do(t, http.MethodPost, "/api/auth/login", map[string]any{"username": "ada", "password": "lovelace"})
		wantStatus(t, rec, http.StatusOK)
		body := decodeObject(t, rec)
		user, _ := body["user"].(map[string]any)
		if user["id"] != id {
			t.Errorf("user = %v", body["user"])
		}
		if _, ok := user["password"]; ok {
			t.Error("login response leaks password hash")
		}

		claims, err := hs.tokens.Parse(body["token"].(string))
		if err != nil || claims.Subject != id {
			t.Fatalf("token claims = %+v, err = %v", claims, err)
		}

		logs, err := hs.store.Logs.List(context.Background(), storage.LogFilter{Action: "login"})
		if err != nil {
			t.Fatal(err)
		}
		if len(logs) != 1 || logs[0].UserID == nil || *logs[0].UserID != id {
			t.Errorf("login logs = %+v", logs)
		}
	})
}

func TestLogin_Rejections(t *testing.T) {
	hs := newHarness(t, storage.NewMemory(), RouterOptions{})
	hs.createUser(t, "ada", "lovelace")
	ctx := context.Background()
	inactive := hs.createUser(t, "bob", "pw")
	if _, err := hs.store.Users.Update(ctx, inactive, map[string]any{"isActive": false}); err != nil {
		t.Fatal(err)
	}

	for _, tc := range []struct {
		name string
		body any
		want int
	}{
		{"bad json", "{", http.StatusBadRequest},
		{"missing password", map[string]any{"username": "ada"}, http.StatusBadRequest},
		{"wrong password", map[string]any{"username": "ada", "password": "nope"}, http.StatusUnauthorized},
		{"unknown user", map[string]any{"username": "eve", "password": "x"}, http.StatusUnauthorized},
		{"inactive user", map[string]any{"username": "bob", "password": "pw"}, http.StatusUnauthorized},
	} {
		t.Run(tc.name, func(t *testing.T) {
			wantStatus(t, hs.do(t, http.MethodPost, "/api/auth/login", tc.body), tc.want)
		})
	}

	logs := hs.allLogs(t)
	for _, l := range logs {
		if l.Action == storage.ActionLogin {
			t.Errorf("failed login was recorded: %+v", l)
		}
	}
}

func TestLogin_WithoutTokenIssuer_Returns503(t *testing.T) {
	store := storage.New(storage.NewMemory())
	h := NewRouter(NewServer(store, quietLogger(), nil), RouterOptions{})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"username":"a","password":"b"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	wantStatus(t, rec, http.StatusServiceUnavailable)
}

func TestLogout_RecordsAuthenticatedUser(t *testing.T) {
	hs := newHarness(t, storage.NewMemory(), RouterOptions{})
	id := hs.createUser(t, "ada", "lovelace")
	token := hs.login(t, "ada", "lovelace")

	wantStatus(t, hs.do(t, http.MethodPost, "/api/auth/logout", nil, "Authorization", "Bearer "+token), http.StatusOK)
	wantStatus(t, hs.do(t, http.MethodPost, "/api/auth/logout", nil), http.StatusOK)

	logs, err := hs.store.Logs.List(context.Background(), storage.LogFilter{Action: "logout"})
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || logs[0].EntityID == nil || *logs[0].EntityID != id {
		t.Errorf("logout logs = %+v", logs)
	}
}

// ---- authentication modes ---------------------------------------------------

func TestRequiredAuth_GuardsAPI(t *testing.T) {
	hs := newHarness(t, storage.NewMemory(), RouterOptions{RequireAuth: true})
	hs.createUser(t, "ada", "lovelace")

	wantStatus(t, hs.do(t, http.MethodGet, "/api/clients", nil), http.StatusUnauthorized)
	wantStatus(t, hs.do(t, http.MethodGet, "/healthz", nil), http.StatusOK)

	token := hs.login(t, "ada", "lovelace")
	wantStatus(t, hs.do(t, http.MethodGet, "/api/clients", nil, "Authorization", "Bearer "+token), http.StatusOK)
}

func TestMutationLog_CarriesActor(t *testing.T) {
	hs := newHarness(t, storage.NewMemory(), RouterOptions{})
	userID := hs.createUser(t, "ada", "lovelace")
	token := hs.login(t, "ada", "lovelace")

	rec := hs.do(t, http.MethodPost, "/api/clients", janeBody(), "Authorization", "Bearer "+token)
	wantStatus(t, rec, http.StatusOK)
	id := decodeObject(t, rec)["id"].(string)

	logs := hs.logsFor(t, id)
	if len(logs) != 1 {
		t.Fatalf("logs = %d, want 1", len(logs))
	}
	if logs[0].UserID == nil || *logs[0].UserID != userID {
		t.Errorf("userId = %v, want %s", logs[0].UserID, userID)
	}
	if logs[0].IPAddress == nil || *logs[0].IPAddress == "" {
		t.Error("ipAddress not recorded")
	}
}

// ---- routing ----------------------------------------------------------------

func TestUnknownAPIPath_ReturnsJSON404(t *testing.T) {
	static := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>app</html>"))
	})
	hs := newHarness(t, storage.NewMemory(), RouterOptions{Static: static})

	rec := hs.do(t, http.MethodGet, "/api/nothing-here", nil)
	wantStatus(t, rec, http.StatusNotFound)
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	rec = hs.do(t, http.MethodGet, "/clients/42", nil)
	wantStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "app") {
		t.Errorf("static body = %q", rec.Body.String())
	}

	wantStatus(t, hs.do(t, http.MethodPost, "/clients/42", nil), http.StatusNotFound)
}

func TestNoStatic_Returns404(t *testing.T) {
	hs := newHarness(t, storage.NewMemory(), RouterOptions{})
	wantStatus(t, hs.do(t, http.MethodGet, "/dashboard", nil), http.StatusNotFound)
}

func TestMetrics_CountsRoutes(t *testing.T) {
	m := metrics.New()
	hs := newHarness(t, storage.NewMemory(), RouterOptions{Metrics: m})
	hs.createClient(t)
	wantStatus(t, hs.do(t, http.MethodGet, "/api/clients", nil), http.StatusOK)

	rec := hs.do(t, http.MethodGet, "/metrics", nil)
	wantStatus(t, rec, http.StatusOK)
	body := rec.Body.String()
	if !strings.Contains(body, `athena_http_requests_total{method="GET",route="/api/clients`) {
		t.Errorf("metrics output missing client list counter:\n%s", body)
	}
}

func TestLiveFeed_MountedWhenConfigured(t *testing.T) {
	live := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	hs := newHarness(t, storage.NewMemory(), RouterOptions{Live: live})
	wantStatus(t, hs.do(t, http.MethodGet, "/api/logs/live", nil), http.StatusTeapot)

	hs = newHarness(t, storage.NewMemory(), RouterOptions{})
	wantStatus(t, hs.do(t, http.MethodGet, "/api/logs/live", nil), http.StatusNotFound)
}
