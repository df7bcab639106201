package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/athena-ai/dashboard/internal/schema"
)

// Record is one row keyed by the entity's JSON field names. Values use the
// normalized representation documented on schema.Payload regardless of the
// backend that produced them.
type Record map[string]any

// Filter narrows a List call.
type Filter struct {
	// Where holds exact-match constraints keyed by JSON field name.
	Where map[string]any
	// Limit caps the number of rows returned; zero means no limit.
	Limit int
}

// Backend is the capability set shared by every physical store. Each
// implementation owns its map or database connection exclusively.
//
// Missing ids are not errors: Get returns a nil Record, Replace and Delete
// report false. Any error returned is an I/O or encoding failure.
type Backend interface {
	Get(ctx context.Context, e *schema.Entity, id string) (Record, error)
	List(ctx context.Context, e *schema.Entity, f Filter) ([]Record, error)
	Insert(ctx context.Context, e *schema.Entity, rec Record) error
	Replace(ctx context.Context, e *schema.Entity, id string, rec Record) (bool, error)
	Delete(ctx context.Context, e *schema.Entity, id string) (bool, error)

	// Prune deletes rows whose timestamp field is before the cutoff (when
	// non-zero) and then every row beyond the newest keep rows (when keep is
	// positive). It returns the number of rows removed.
	Prune(ctx context.Context, e *schema.Entity, field string, before time.Time, keep int) (int64, error)

	// Atomic runs fn against a transactional view of the backend. Either
	// every write made through tx is kept or, when fn returns an error, none
	// is. Calling Atomic on a view runs fn in the enclosing transaction.
	Atomic(ctx context.Context, fn func(tx Backend) error) error

	Close() error
}

// checkFilter rejects filters on fields the entity does not declare. SQL
// backends interpolate column names, so this also guards against injection.
func checkFilter(e *schema.Entity, f Filter) error {
	for name := range f.Where {
		if e.Field(name) == nil {
			return fmt.Errorf("%s has no field %q", e.Table, name)
		}
	}
	if f.Limit < 0 {
		return fmt.Errorf("negative limit %d", f.Limit)
	}
	return nil
}

// clone copies rec so that callers never share maps or JSON values with a
// backend's internal state.
func (rec Record) clone() Record {
	if rec == nil {
		return nil
	}
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = schema.CloneJSON(v)
	}
	return out
}
