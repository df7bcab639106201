package storage_test

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/athena-ai/dashboard/internal/audit"
	"github.com/athena-ai/dashboard/internal/schema"
	"github.com/athena-ai/dashboard/internal/server/storage"
)

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// steppingClock returns a clock that advances one second per call, so every
// managed timestamp is distinct and ordering is deterministic.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

type backendCase struct {
	name string
	open func(t *testing.T) storage.Backend
}

var backendCases = []backendCase{
	{"memory", func(t *testing.T) storage.Backend { return storage.NewMemory() }},
	{"sqlite", func(t *testing.T) storage.Backend {
		t.Helper()
		b, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "athena.db"))
		if err != nil {
			t.Fatalf("OpenSQLite: %v", err)
		}
		return b
	}},
}

func newStore(t *testing.T, b storage.Backend, opts ...storage.Option) *storage.Storage {
	t.Helper()
	opts = append([]storage.Option{
		storage.WithClock(steppingClock()),
		storage.WithBcryptCost(bcrypt.MinCost),
	}, opts...)
	s := storage.New(b, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// eachBackend runs fn once per backend with a fresh Storage.
func eachBackend(t *testing.T, fn func(t *testing.T, s *storage.Storage)) {
	for _, bc := range backendCases {
		t.Run(bc.name, func(t *testing.T) {
			fn(t, newStore(t, bc.open(t)))
		})
	}
}

func jane() map[string]any {
	return map[string]any{"name": "Jane", "company": "Acme", "email": "jane@acme.com"}
}

func mustCreateClient(t *testing.T, s *storage.Storage) *storage.Client {
	t.Helper()
	c, err := s.Clients.Create(context.Background(), jane())
	if err != nil {
		t.Fatalf("Clients.Create: %v", err)
	}
	return c
}

func logsFor(t *testing.T, s *storage.Storage, entityID string) []storage.ActivityLog {
	t.Helper()
	logs, err := s.Logs.List(context.Background(), storage.LogFilter{EntityID: entityID})
	if err != nil {
		t.Fatalf("Logs.List: %v", err)
	}
	return logs
}

// --------------------------------------------------------------------------
// CRUD contract
// --------------------------------------------------------------------------

func TestCreate_AppliesDefaultsAndManagedFields(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		ctx := context.Background()
		c := mustCreateClient(t, s)

		if c.ID == "" {
			t.Error("id not assigned")
		}
		if c.Status != storage.ClientActive {
			t.Errorf("status = %q, want active", c.Status)
		}
		if c.CreatedAt.IsZero() {
			t.Error("createdAt not set")
		}
		if c.LastTestDate != nil {
			t.Errorf("lastTestDate = %v, want nil", c.LastTestDate)
		}

		got, err := s.Clients.Get(ctx, c.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !reflect.DeepEqual(got, c) {
			t.Errorf("Get = %+v\nwant  %+v", got, c)
		}
	})
}

func TestCreate_IDsAreUnique(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		seen := map[string]bool{}
		for i := 0; i < 25; i++ {
			c := mustCreateClient(t, s)
			if seen[c.ID] {
				t.Fatalf("duplicate id %s", c.ID)
			}
			seen[c.ID] = true
		}
	})
}

func TestCreate_ValidationErrorWritesNothing(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		ctx := context.Background()
		_, err := s.Clients.Create(ctx, map[string]any{"name": "NoCompany"})
		var ve *schema.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("err = %v, want *schema.ValidationError", err)
		}
		all, _ := s.Clients.List(ctx, storage.Filter{})
		logs, _ := s.Logs.List(ctx, storage.LogFilter{})
		if len(all) != 0 || len(logs) != 0 {
			t.Errorf("clients = %d, logs = %d; want 0, 0", len(all), len(logs))
		}
	})
}

func TestGet_MissingIsNil(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		got, err := s.Tests.Get(context.Background(), "no-such-id")
		if err != nil || got != nil {
			t.Errorf("Get = %v, %v; want nil, nil", got, err)
		}
	})
}

func TestUpdate_MissingIDCreatesNothing(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		ctx := context.Background()
		got, err := s.Clients.Update(ctx, "ghost", map[string]any{"name": "Boo"})
		if err != nil || got != nil {
			t.Fatalf("Update = %v, %v; want nil, nil", got, err)
		}
		all, _ := s.Clients.List(ctx, storage.Filter{})
		if len(all) != 0 {
			t.Errorf("clients = %d, want 0", len(all))
		}
		if logs := logsFor(t, s, "ghost"); len(logs) != 0 {
			t.Errorf("logs = %d, want 0", len(logs))
		}
	})
}

func TestUpdate_ShallowMergesPatch(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		ctx := context.Background()
		c := mustCreateClient(t, s)
		tst, err := s.Tests.Create(ctx, map[string]any{
			"clientId":             c.ID,
			"testType":             "external",
			"vulnerabilitiesFound": 7,
			"findings":             map[string]any{"open": []any{"22/tcp"}},
		})
		if err != nil {
			t.Fatalf("Tests.Create: %v", err)
		}

		got, err := s.Tests.Update(ctx, tst.ID, map[string]any{"status": "completed"})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if got.Status != storage.TestCompleted {
			t.Errorf("status = %q, want completed", got.Status)
		}
		if got.VulnerabilitiesFound != 7 {
			t.Errorf("vulnerabilitiesFound = %d, want 7", got.VulnerabilitiesFound)
		}
		if !reflect.DeepEqual(got.Findings, tst.Findings) {
			t.Errorf("findings changed: %v", got.Findings)
		}
		if !got.CreatedAt.Equal(tst.CreatedAt) {
			t.Errorf("createdAt changed: %v -> %v", tst.CreatedAt, got.CreatedAt)
		}
	})
}

func TestUpdate_RefreshesUpdatedAt(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		ctx := context.Background()
		doc, err := s.Documents.Create(ctx, map[string]any{
			"clientId": "c1", "title": "Report", "documentType": "report",
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := s.Documents.Update(ctx, doc.ID, map[string]any{"title": "Final report"})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if !got.UpdatedAt.After(doc.UpdatedAt) {
			t.Errorf("updatedAt = %v, want after %v", got.UpdatedAt, doc.UpdatedAt)
		}
	})
}

func TestDelete_TrueExactlyOnce(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		ctx := context.Background()
		site, err := s.Sites.Create(ctx, map[string]any{"clientId": "c1", "url": "https://acme.test", "name": "main"})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		for i, want := range []bool{true, false, false} {
			ok, err := s.Sites.Delete(ctx, site.ID)
			if err != nil {
				t.Fatalf("Delete #%d: %v", i, err)
			}
			if ok != want {
				t.Errorf("Delete #%d = %v, want %v", i, ok, want)
			}
		}
	})
}

func TestList_FiltersByParent(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		ctx := context.Background()
		for _, clientID := range []string{"a", "b", "a"} {
			if _, err := s.Sites.Create(ctx, map[string]any{"clientId": clientID, "url": "u", "name": "n"}); err != nil {
				t.Fatal(err)
			}
		}
		sites, err := s.Sites.List(ctx, storage.Filter{Where: map[string]any{"clientId": "a"}})
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(sites) != 2 {
			t.Errorf("sites = %d, want 2", len(sites))
		}
	})
}

func TestList_InsertionOrder(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		ctx := context.Background()
		var want []string
		for _, name := range []string{"zeta", "alpha", "mid"} {
			cl, err := s.Classifiers.Create(ctx, map[string]any{"name": name, "type": "cve"})
			if err != nil {
				t.Fatal(err)
			}
			want = append(want, cl.ID)
		}
		all, err := s.Classifiers.List(ctx, storage.Filter{})
		if err != nil {
			t.Fatal(err)
		}
		var got []string
		for _, cl := range all {
			got = append(got, cl.ID)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("order = %v, want %v", got, want)
		}
	})
}

func TestList_UnknownFilterField(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		_, err := s.Sites.List(context.Background(), storage.Filter{Where: map[string]any{"nope": "x"}})
		var ve *schema.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("err = %v, want *schema.ValidationError", err)
		}
	})
}

// --------------------------------------------------------------------------
// JSON fields
// --------------------------------------------------------------------------

func TestFindings_SameAcrossBackends(t *testing.T) {
	findings := map[string]any{
		"xss":    []any{"/search?q=", map[string]any{"param": "q", "cvss": 6.1}},
		"ports":  []int{22, 80, 443},
		"closed": nil,
		"ok":     true,
	}

	var results []map[string]any
	for _, bc := range backendCases {
		s := newStore(t, bc.open(t))
		ctx := context.Background()
		tst, err := s.Tests.Create(ctx, map[string]any{"clientId": "c", "testType": "web", "findings": findings})
		if err != nil {
			t.Fatalf("%s: Create: %v", bc.name, err)
		}
		got, err := s.Tests.Get(ctx, tst.ID)
		if err != nil {
			t.Fatalf("%s: Get: %v", bc.name, err)
		}
		results = append(results, got.Findings)
	}
	if !reflect.DeepEqual(results[0], results[1]) {
		t.Errorf("memory findings = %#v\nsqlite findings = %#v", results[0], results[1])
	}
}

func TestActiveSystems_DecodedAsList(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		ctx := context.Background()
		got, err := s.Control.Update(ctx, map[string]any{"activeSystems": []string{"ids", "waf"}})
		if err != nil {
			t.Fatalf("Control.Update: %v", err)
		}
		if !reflect.DeepEqual(got.ActiveSystems, []string{"ids", "waf"}) {
			t.Errorf("activeSystems = %#v", got.ActiveSystems)
		}
	})
}

func TestJSONShapeMismatch_WritesNothing(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		ctx := context.Background()
		_, err := s.Tests.Create(ctx, map[string]any{"clientId": "c1", "testType": "web", "findings": []any{"xss"}})
		var ve *schema.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("Tests.Create err = %v, want *schema.ValidationError", err)
		}
		tests, err := s.Tests.List(ctx, storage.Filter{})
		if err != nil {
			t.Fatalf("Tests.List: %v", err)
		}
		if len(tests) != 0 {
			t.Errorf("tests = %d, want 0", len(tests))
		}

		if _, err := s.Control.Get(ctx); err != nil {
			t.Fatalf("Control.Get: %v", err)
		}
		before, err := s.Control.Get(ctx)
		if err != nil {
			t.Fatalf("Control.Get: %v", err)
		}
		_, err = s.Control.Update(ctx, map[string]any{"activeSystems": map[string]any{"ids": 1}})
		if !errors.As(err, &ve) {
			t.Fatalf("Control.Update err = %v, want *schema.ValidationError", err)
		}
		after, err := s.Control.Get(ctx)
		if err != nil {
			t.Fatalf("Control.Get after rejected update: %v", err)
		}
		if !reflect.DeepEqual(after, before) {
			t.Errorf("control changed: %+v -> %+v", before, after)
		}

		logs, _ := s.Logs.List(ctx, storage.LogFilter{Action: string(storage.ActionUpdated)})
		if len(logs) != 0 {
			t.Errorf("updated logs = %d, want 0", len(logs))
		}
	})
}

// --------------------------------------------------------------------------
// Activity log pairing
// --------------------------------------------------------------------------

func TestUpdate_EmptyPatchIsNoOp(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		ctx := context.Background()
		doc, err := s.Documents.Create(ctx, map[string]any{
			"clientId": "c1", "title": "Report", "documentType": "report",
		})
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		for _, patch := range []map[string]any{{}, {"bogus": 1, "id": "x"}} {
			got, err := s.Documents.Update(ctx, doc.ID, patch)
			if err != nil {
				t.Fatalf("Update(%v): %v", patch, err)
			}
			if got.Title != doc.Title || !got.UpdatedAt.Equal(doc.UpdatedAt) {
				t.Errorf("Update(%v) = %q at %v, want unchanged %q at %v",
					patch, got.Title, got.UpdatedAt, doc.Title, doc.UpdatedAt)
			}
		}
		if logs := logsFor(t, s, doc.ID); len(logs) != 1 {
			t.Errorf("logs = %d, want only the create entry", len(logs))
		}

		got, err := s.Documents.Update(ctx, "no-such-id", map[string]any{})
		if err != nil || got != nil {
			t.Errorf("Update(missing, {}) = %v, %v; want nil, nil", got, err)
		}
	})
}

func TestMutations_AppendOneLogEach(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		ctx := audit.WithActor(context.Background(), audit.Actor{UserID: "u-42", IP: "10.1.2.3"})
		c, err := s.Clients.Create(ctx, jane())
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s.Clients.Update(ctx, c.ID, map[string]any{"notes": "vip"}); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Clients.Delete(ctx, c.ID); err != nil {
			t.Fatal(err)
		}

		logs := logsFor(t, s, c.ID)
		if len(logs) != 3 {
			t.Fatalf("logs = %d, want 3", len(logs))
		}
		// Newest first.
		wantActions := []storage.Action{storage.ActionDeleted, storage.ActionUpdated, storage.ActionCreated}
		for i, l := range logs {
			if l.Action != wantActions[i] {
				t.Errorf("logs[%d].action = %q, want %q", i, l.Action, wantActions[i])
			}
			if l.EntityType != "client" {
				t.Errorf("logs[%d].entityType = %q, want client", i, l.EntityType)
			}
			if l.UserID == nil || *l.UserID != "u-42" {
				t.Errorf("logs[%d].userId = %v, want u-42", i, l.UserID)
			}
			if l.IPAddress == nil || *l.IPAddress != "10.1.2.3" {
				t.Errorf("logs[%d].ipAddress = %v", i, l.IPAddress)
			}
		}

		created := logs[2].Details.(map[string]any)
		if created["name"] != "Jane" || created["company"] != "Acme" {
			t.Errorf("created details = %v", created)
		}
		updated := logs[1].Details.(map[string]any)
		if !reflect.DeepEqual(updated["fields"], []any{"notes"}) {
			t.Errorf("updated details = %v", updated)
		}
	})
}

func TestUnauditedEntity_WritesNoLog(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		ctx := context.Background()
		if _, err := s.Chat.Create(ctx, map[string]any{"userId": "u1", "message": "hi", "sender": "user"}); err != nil {
			t.Fatal(err)
		}
		logs, _ := s.Logs.List(ctx, storage.LogFilter{})
		if len(logs) != 0 {
			t.Errorf("logs = %d, want 0", len(logs))
		}
	})
}

func TestAuditHook_SeesCommittedEntries(t *testing.T) {
	for _, bc := range backendCases {
		t.Run(bc.name, func(t *testing.T) {
			var seen []storage.ActivityLog
			s := newStore(t, bc.open(t), storage.WithAuditHook(func(l storage.ActivityLog) {
				seen = append(seen, l)
			}))
			ctx := context.Background()
			mustCreateClient(t, s)
			// A rejected user create must not reach the hook.
			if _, err := s.Users.Create(ctx, map[string]any{"username": "a", "password": "pw"}); err != nil {
				t.Fatal(err)
			}
			_, _ = s.Users.Create(ctx, map[string]any{"username": "a", "password": "pw"})

			if len(seen) != 2 {
				t.Fatalf("hook saw %d entries, want 2", len(seen))
			}
			if seen[0].EntityType != "client" || seen[1].EntityType != "user" {
				t.Errorf("hook entries = %+v", seen)
			}
		})
	}
}

func TestAtomic_RollsBackOnError(t *testing.T) {
	for _, bc := range backendCases {
		t.Run(bc.name, func(t *testing.T) {
			b := bc.open(t)
			t.Cleanup(func() { _ = b.Close() })
			ctx := context.Background()
			boom := errors.New("boom")

			err := b.Atomic(ctx, func(tx storage.Backend) error {
				rec := storage.Record{"id": "s1", "clientId": "c", "url": "u", "name": "n",
					"environment": "production", "status": "active", "createdAt": schema.Timestamp(time.Now())}
				if err := tx.Insert(ctx, schema.Sites, rec); err != nil {
					return err
				}
				return boom
			})
			if !errors.Is(err, boom) {
				t.Fatalf("Atomic err = %v, want boom", err)
			}
			got, err := b.Get(ctx, schema.Sites, "s1")
			if err != nil || got != nil {
				t.Errorf("after rollback Get = %v, %v; want nil, nil", got, err)
			}
		})
	}
}

// --------------------------------------------------------------------------
// Users
// --------------------------------------------------------------------------

func TestUsers_PasswordIsHashed(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		u, err := s.Users.Create(context.Background(), map[string]any{"username": "ana", "password": "s3cret"})
		if err != nil {
			t.Fatal(err)
		}
		if u.Password == "s3cret" || u.Password == "" {
			t.Fatalf("password stored as %q", u.Password)
		}
		if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte("s3cret")); err != nil {
			t.Errorf("stored hash does not verify: %v", err)
		}
		if u.Role != storage.RoleUser || !u.IsActive {
			t.Errorf("defaults: role %q active %v", u.Role, u.IsActive)
		}
	})
}

func TestUsers_UsernameUnique(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		ctx := context.Background()
		if _, err := s.Users.Create(ctx, map[string]any{"username": "ana", "password": "x"}); err != nil {
			t.Fatal(err)
		}
		bob, err := s.Users.Create(ctx, map[string]any{"username": "bob", "password": "x"})
		if err != nil {
			t.Fatal(err)
		}

		if _, err := s.Users.Create(ctx, map[string]any{"username": "ana", "password": "y"}); !errors.Is(err, storage.ErrConflict) {
			t.Errorf("duplicate create err = %v, want ErrConflict", err)
		}
		if _, err := s.Users.Update(ctx, bob.ID, map[string]any{"username": "ana"}); !errors.Is(err, storage.ErrConflict) {
			t.Errorf("rename err = %v, want ErrConflict", err)
		}
		// Keeping one's own name is not a conflict.
		if _, err := s.Users.Update(ctx, bob.ID, map[string]any{"username": "bob"}); err != nil {
			t.Errorf("self rename: %v", err)
		}

		users, _ := s.Users.List(ctx, storage.Filter{})
		if len(users) != 2 {
			t.Errorf("users = %d, want 2", len(users))
		}
	})
}

func TestUsers_PasswordPatchIsHashed(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		ctx := context.Background()
		u, _ := s.Users.Create(ctx, map[string]any{"username": "ana", "password": "old"})
		got, err := s.Users.Update(ctx, u.ID, map[string]any{"password": "new"})
		if err != nil {
			t.Fatal(err)
		}
		if bcrypt.CompareHashAndPassword([]byte(got.Password), []byte("new")) != nil {
			t.Error("patched password not hashed")
		}
	})
}

func TestAuthenticate(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		ctx := context.Background()
		u, _ := s.Users.Create(ctx, map[string]any{"username": "ana", "password": "pw"})

		got, err := s.Authenticate(ctx, "ana", "pw")
		if err != nil || got.ID != u.ID {
			t.Fatalf("Authenticate = %v, %v", got, err)
		}
		if _, err := s.Authenticate(ctx, "ana", "wrong"); !errors.Is(err, storage.ErrInvalidCredentials) {
			t.Errorf("wrong password err = %v", err)
		}
		if _, err := s.Authenticate(ctx, "nobody", "pw"); !errors.Is(err, storage.ErrInvalidCredentials) {
			t.Errorf("unknown user err = %v", err)
		}

		if _, err := s.Users.Update(ctx, u.ID, map[string]any{"isActive": false}); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Authenticate(ctx, "ana", "pw"); !errors.Is(err, storage.ErrInvalidCredentials) {
			t.Errorf("inactive user err = %v", err)
		}
	})
}

// --------------------------------------------------------------------------
// Logs
// --------------------------------------------------------------------------

func TestLogs_NewestFirstWithLimit(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		ctx := context.Background()
		for _, action := range []storage.Action{storage.ActionLogin, storage.ActionLogout, storage.ActionLogin} {
			if _, err := s.Logs.Record(ctx, action, "user", "u1", nil); err != nil {
				t.Fatal(err)
			}
		}
		logs, err := s.Logs.List(ctx, storage.LogFilter{Limit: 2})
		if err != nil {
			t.Fatal(err)
		}
		if len(logs) != 2 {
			t.Fatalf("logs = %d, want 2", len(logs))
		}
		if !logs[0].Timestamp.After(logs[1].Timestamp) {
			t.Errorf("not newest first: %v then %v", logs[0].Timestamp, logs[1].Timestamp)
		}
		if logs[1].Action != storage.ActionLogout {
			t.Errorf("second entry = %q, want logout", logs[1].Action)
		}
	})
}

func TestLogs_AppendUsesActor(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		ctx := audit.WithActor(context.Background(), audit.Actor{UserID: "u7", IP: "127.0.0.1"})
		l, err := s.Logs.Append(ctx, map[string]any{
			"action": "login", "entityType": "user", "details": map[string]any{"via": "sso"},
		})
		if err != nil {
			t.Fatal(err)
		}
		if l.UserID == nil || *l.UserID != "u7" {
			t.Errorf("userId = %v", l.UserID)
		}
		got, err := s.Logs.Get(ctx, l.ID)
		if err != nil || got == nil {
			t.Fatalf("Get = %v, %v", got, err)
		}
		if !reflect.DeepEqual(got.Details, map[string]any{"via": "sso"}) {
			t.Errorf("details = %#v", got.Details)
		}
	})
}

func TestLogs_AppendRejectsBadAction(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		_, err := s.Logs.Append(context.Background(), map[string]any{"action": "exploded", "entityType": "user"})
		var ve *schema.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("err = %v, want *schema.ValidationError", err)
		}
	})
}

func TestPruneLogs(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		ctx := context.Background()
		var stamps []time.Time
		for i := 0; i < 5; i++ {
			l, err := s.Logs.Record(ctx, storage.ActionLogin, "user", "u", nil)
			if err != nil {
				t.Fatal(err)
			}
			stamps = append(stamps, l.Timestamp)
		}

		// Drop the two oldest by age.
		n, err := s.PruneLogs(ctx, stamps[2], 0)
		if err != nil || n != 2 {
			t.Fatalf("prune by age = %d, %v; want 2", n, err)
		}
		// Then keep only the newest two.
		n, err = s.PruneLogs(ctx, time.Time{}, 2)
		if err != nil || n != 1 {
			t.Fatalf("prune by count = %d, %v; want 1", n, err)
		}

		left, _ := s.Logs.List(ctx, storage.LogFilter{})
		if len(left) != 2 || !left[0].Timestamp.Equal(stamps[4]) || !left[1].Timestamp.Equal(stamps[3]) {
			t.Errorf("remaining = %+v", left)
		}
	})
}

// --------------------------------------------------------------------------
// Control and seeding
// --------------------------------------------------------------------------

func TestControl_SingletonWithDefaults(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		ctx := context.Background()
		a, err := s.Control.Get(ctx)
		if err != nil {
			t.Fatal(err)
		}
		b, err := s.Control.Get(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if a.ID != b.ID {
			t.Errorf("second Get created a new record: %s vs %s", a.ID, b.ID)
		}
		if !a.SystemEnabled || a.KillSwitch || a.ConfidenceThreshold != 0.85 {
			t.Errorf("defaults = %+v", a)
		}
	})
}

func TestControl_UpdateRecordsActor(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		ctx := audit.WithActor(context.Background(), audit.Actor{UserID: "admin-1"})
		got, err := s.Control.Update(ctx, map[string]any{"killSwitch": true})
		if err != nil {
			t.Fatal(err)
		}
		if !got.KillSwitch {
			t.Error("killSwitch not set")
		}
		if got.UpdatedBy == nil || *got.UpdatedBy != "admin-1" {
			t.Errorf("updatedBy = %v", got.UpdatedBy)
		}
		logs, _ := s.Logs.List(ctx, storage.LogFilter{EntityType: "ai_control", Action: "updated"})
		if len(logs) != 1 {
			t.Errorf("control update logs = %d, want 1", len(logs))
		}
	})
}

func TestSeed_Idempotent(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		ctx := context.Background()
		boot := storage.Bootstrap{AdminUsername: "admin", AdminPassword: "change-me"}
		for i := 0; i < 2; i++ {
			if err := s.Seed(ctx, boot); err != nil {
				t.Fatalf("Seed #%d: %v", i, err)
			}
		}
		users, _ := s.Users.List(ctx, storage.Filter{})
		if len(users) != 1 || users[0].Role != storage.RoleAdmin {
			t.Errorf("users = %+v", users)
		}
		if _, err := s.Authenticate(ctx, "admin", "change-me"); err != nil {
			t.Errorf("seeded admin cannot log in: %v", err)
		}
	})
}

func TestSeed_NoPasswordNoAdmin(t *testing.T) {
	eachBackend(t, func(t *testing.T, s *storage.Storage) {
		ctx := context.Background()
		if err := s.Seed(ctx, storage.Bootstrap{AdminUsername: "admin"}); err != nil {
			t.Fatal(err)
		}
		users, _ := s.Users.List(ctx, storage.Filter{})
		if len(users) != 0 {
			t.Errorf("users = %d, want 0", len(users))
		}
	})
}

// --------------------------------------------------------------------------
// Open
// --------------------------------------------------------------------------

func TestOpen_Drivers(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct{ driver, dsn string }{
		{storage.DriverMemory, ""},
		{storage.DriverSQLite, filepath.Join(t.TempDir(), "open.db")},
	} {
		s, err := storage.Open(ctx, tc.driver, tc.dsn)
		if err != nil {
			t.Fatalf("Open(%s): %v", tc.driver, err)
		}
		if err := s.Ping(ctx); err != nil {
			t.Errorf("Ping(%s): %v", tc.driver, err)
		}
		_ = s.Close()
	}
	if _, err := storage.Open(ctx, "oracle", ""); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestSQLite_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "persist.db")

	b, err := storage.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	s := storage.New(b, storage.WithBcryptCost(bcrypt.MinCost))
	c, err := s.Clients.Create(ctx, jane())
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	b, err = storage.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s = newStore(t, b)
	got, err := s.Clients.Get(ctx, c.ID)
	if err != nil || got == nil || got.Company != "Acme" {
		t.Errorf("after reopen Get = %+v, %v", got, err)
	}
}
