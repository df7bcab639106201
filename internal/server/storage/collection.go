package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/athena-ai/dashboard/internal/schema"
)

// errMissing aborts an update transaction whose target does not exist.
var errMissing = errors.New("record not found")

// Collection is the typed CRUD surface for one entity family. Records are
// validated against the entity's schema on the way in and decoded into T on
// the way out. Mutations of audited entities append their ActivityLog entry
// in the same backend transaction.
type Collection[T any] struct {
	s *Storage
	e *schema.Entity

	beforeCreate func(ctx context.Context, tx Backend, rec Record) error
	beforeUpdate func(ctx context.Context, tx Backend, id string, patch schema.Payload) error
}

func newCollection[T any](s *Storage, e *schema.Entity) *Collection[T] {
	return &Collection[T]{s: s, e: e}
}

// Entity returns the schema the collection validates against.
func (c *Collection[T]) Entity() *schema.Entity { return c.e }

// Get returns the record with id, or nil when there is none.
func (c *Collection[T]) Get(ctx context.Context, id string) (*T, error) {
	rec, err := c.s.backend.Get(ctx, c.e, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return decode[T](rec)
}

// List returns the records matching f, in insertion order or the entity's
// declared order. Filter values are normalized like payload values, so a
// string such as "2026-01-02" matches a timestamp column.
func (c *Collection[T]) List(ctx context.Context, f Filter) ([]T, error) {
	where, err := normalizeWhere(c.e, f.Where)
	if err != nil {
		return nil, err
	}
	recs, err := c.s.backend.List(ctx, c.e, Filter{Where: where, Limit: f.Limit})
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(recs))
	for _, rec := range recs {
		v, err := decode[T](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

// Create validates raw, assigns the id and managed timestamps, and persists
// the record over the entity's defaults.
func (c *Collection[T]) Create(ctx context.Context, raw map[string]any) (*T, error) {
	payload, err := c.e.ValidateInsert(raw)
	if err != nil {
		return nil, err
	}

	rec := Record(payload)
	now := c.s.now()
	for _, name := range c.e.Managed(schema.ManagedID) {
		rec[name] = uuid.NewString()
	}
	for _, name := range c.e.Managed(schema.ManagedCreated) {
		rec[name] = now
	}
	for _, name := range c.e.Managed(schema.ManagedUpdated) {
		rec[name] = now
	}
	id := rec["id"].(string)

	var out *T
	err = c.s.atomic(ctx, func(tx Backend, written *[]ActivityLog) error {
		if c.beforeCreate != nil {
			if err := c.beforeCreate(ctx, tx, rec); err != nil {
				return err
			}
		}
		// A record that cannot be read back as T must never be stored.
		v, err := decode[T](rec)
		if err != nil {
			return err
		}
		out = v
		if err := tx.Insert(ctx, c.e, rec); err != nil {
			return err
		}
		if !c.e.Audited {
			return nil
		}
		return c.s.Logs.append(ctx, tx, written, ActionCreated, c.e.Type, id, summarize(c.e, rec))
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Update shallow-merges the validated patch over the stored record. It
// returns nil, nil when id does not exist, and writes nothing in that case.
// A patch with no recognized fields changes nothing and returns the stored
// record.
func (c *Collection[T]) Update(ctx context.Context, id string, raw map[string]any) (*T, error) {
	patch, err := c.e.ValidatePatch(raw)
	if err != nil {
		return nil, err
	}
	if len(patch) == 0 {
		return c.Get(ctx, id)
	}

	var out *T
	err = c.s.atomic(ctx, func(tx Backend, written *[]ActivityLog) error {
		prev, err := tx.Get(ctx, c.e, id)
		if err != nil {
			return err
		}
		if prev == nil {
			return errMissing
		}
		if c.beforeUpdate != nil {
			if err := c.beforeUpdate(ctx, tx, id, patch); err != nil {
				return err
			}
		}

		next := prev
		for k, v := range patch {
			next[k] = v
		}
		now := c.s.now()
		for _, name := range c.e.Managed(schema.ManagedUpdated) {
			next[name] = now
		}
		v, err := decode[T](next)
		if err != nil {
			return err
		}
		out = v

		ok, err := tx.Replace(ctx, c.e, id, next)
		if err != nil {
			return err
		}
		if !ok {
			return errMissing
		}
		if !c.e.Audited {
			return nil
		}
		return c.s.Logs.append(ctx, tx, written, ActionUpdated, c.e.Type, id,
			map[string]any{"fields": patchedFields(patch)})
	})
	if errors.Is(err, errMissing) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes the record with id. It reports true exactly once per
// existing record.
func (c *Collection[T]) Delete(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := c.s.atomic(ctx, func(tx Backend, written *[]ActivityLog) error {
		prev, err := tx.Get(ctx, c.e, id)
		if err != nil || prev == nil {
			return err
		}
		ok, err := tx.Delete(ctx, c.e, id)
		if err != nil || !ok {
			return err
		}
		deleted = true
		if !c.e.Audited {
			return nil
		}
		return c.s.Logs.append(ctx, tx, written, ActionDeleted, c.e.Type, id, summarize(c.e, prev))
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// decode converts a normalized record into T through its JSON tags.
func decode[T any](rec Record) (*T, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %T: %w", v, err)
	}
	return &v, nil
}

func normalizeWhere(e *schema.Entity, where map[string]any) (map[string]any, error) {
	if len(where) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(where))
	var issues []schema.Issue
	for name, v := range where {
		f := e.Field(name)
		if f == nil {
			issues = append(issues, schema.Issue{Field: name, Message: "is not a filterable field"})
			continue
		}
		if v == nil {
			out[name] = nil
			continue
		}
		nv, msg := f.Normalize(v)
		if msg != "" {
			issues = append(issues, schema.Issue{Field: name, Message: msg})
			continue
		}
		out[name] = nv
	}
	if len(issues) > 0 {
		sort.Slice(issues, func(i, j int) bool { return issues[i].Field < issues[j].Field })
		return nil, &schema.ValidationError{Entity: e.Type, Issues: issues}
	}
	return out, nil
}

// summarize builds the details payload of a create or delete entry from the
// entity's summary fields.
func summarize(e *schema.Entity, rec Record) map[string]any {
	if len(e.Summary) == 0 {
		return nil
	}
	out := make(map[string]any, len(e.Summary))
	for _, name := range e.Summary {
		out[name] = rec[name]
	}
	return out
}

func patchedFields(patch schema.Payload) []any {
	names := make([]string, 0, len(patch))
	for k := range patch {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}
