package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/athena-ai/dashboard/internal/schema"
)

// Drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrConflict is returned when a write would violate a uniqueness rule.
var ErrConflict = errors.New("already exists")

// Storage is the façade the REST layer talks to. It owns exactly one
// Backend, chosen when the Storage is built, and exposes one typed
// collection per entity family.
type Storage struct {
	backend    Backend
	clock      func() time.Time
	bcryptCost int
	onAudit    func(ActivityLog)

	Users       *Collection[User]
	Clients     *Collection[Client]
	Sites       *Collection[Site]
	Tests       *Collection[Test]
	Documents   *Collection[Document]
	Health      *Collection[AIHealthMetric]
	Chat        *Collection[AIChatMessage]
	Classifiers *Collection[Classifier]
	Logs        *Logs
	Control     *Control
}

// Option configures a Storage.
type Option func(*Storage)

// WithClock replaces time.Now for managed timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Storage) { s.clock = now }
}

// WithBcryptCost sets the cost used to hash user passwords. Tests use
// bcrypt.MinCost.
func WithBcryptCost(cost int) Option {
	return func(s *Storage) { s.bcryptCost = cost }
}

// WithAuditHook registers fn to observe every committed activity entry.
// fn runs after the transaction that wrote the entry has committed.
func WithAuditHook(fn func(ActivityLog)) Option {
	return func(s *Storage) { s.onAudit = fn }
}

// Open builds the backend named by driver and wraps it in a Storage. dsn is
// the SQLite file path or the PostgreSQL connection string; it is ignored
// for the memory driver.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Storage, error) {
	var (
		b   Backend
		err error
	)
	switch driver {
	case DriverMemory:
		b = NewMemory()
	case DriverSQLite:
		b, err = OpenSQLite(ctx, dsn)
	case DriverPostgres:
		b, err = OpenPostgres(ctx, dsn)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	return New(b, opts...), nil
}

// New wraps an already opened backend.
func New(b Backend, opts ...Option) *Storage {
	s := &Storage{
		backend:    b,
		clock:      time.Now,
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.Users = newCollection[User](s, schema.Users)
	s.Users.beforeCreate = s.prepareUser
	s.Users.beforeUpdate = s.prepareUserPatch
	s.Clients = newCollection[Client](s, schema.Clients)
	s.Sites = newCollection[Site](s, schema.Sites)
	s.Tests = newCollection[Test](s, schema.Tests)
	s.Documents = newCollection[Document](s, schema.Documents)
	s.Health = newCollection[AIHealthMetric](s, schema.HealthMetrics)
	s.Chat = newCollection[AIChatMessage](s, schema.ChatMessages)
	s.Classifiers = newCollection[Classifier](s, schema.Classifiers)
	s.Logs = &Logs{s: s}
	s.Control = newControl(s)
	return s
}

// Close releases the backend.
func (s *Storage) Close() error {
	return s.backend.Close()
}

// Ping checks that the backend answers a trivial read.
func (s *Storage) Ping(ctx context.Context) error {
	_, err := s.backend.List(ctx, schema.ControlSettings, Filter{Limit: 1})
	return err
}

func (s *Storage) now() time.Time {
	return schema.Timestamp(s.clock())
}

// atomic runs fn in one backend transaction and, once it has committed,
// hands every activity entry it wrote to the audit hook.
func (s *Storage) atomic(ctx context.Context, fn func(tx Backend, audit *[]ActivityLog) error) error {
	var written []ActivityLog
	err := s.backend.Atomic(ctx, func(tx Backend) error {
		written = written[:0]
		return fn(tx, &written)
	})
	if err != nil {
		return err
	}
	if s.onAudit != nil {
		for _, entry := range written {
			s.onAudit(entry)
		}
	}
	return nil
}
