package storage

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/athena-ai/dashboard/internal/schema"
)

// Memory is the map-backed Backend used in web and development mode.
// It is safe for concurrent use; Atomic serialises writers behind a single
// lock and undoes partial work when the transaction function fails.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]*memTable
}

type memTable struct {
	rows  map[string]Record
	order []string
}

// NewMemory returns an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{tables: make(map[string]*memTable)}
}

func (m *Memory) table(e *schema.Entity) *memTable {
	t, ok := m.tables[e.Table]
	if !ok {
		t = &memTable{rows: make(map[string]Record)}
		m.tables[e.Table] = t
	}
	return t
}

// Get implements Backend.
func (m *Memory) Get(ctx context.Context, e *schema.Entity, id string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.get(e, id), nil
}

func (m *Memory) get(e *schema.Entity, id string) Record {
	t, ok := m.tables[e.Table]
	if !ok {
		return nil
	}
	return t.rows[id].clone()
}

// List implements Backend.
func (m *Memory) List(ctx context.Context, e *schema.Entity, f Filter) ([]Record, error) {
	if err := checkFilter(e, f); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.list(e, f), nil
}

func (m *Memory) list(e *schema.Entity, f Filter) []Record {
	t, ok := m.tables[e.Table]
	if !ok {
		return nil
	}
	var out []Record
	for _, id := range t.order {
		rec := t.rows[id]
		if matches(rec, f.Where) {
			out = append(out, rec.clone())
		}
	}
	if e.OrderBy != "" {
		// Newest first; ties keep the later insertion first, as the SQL
		// backends do.
		slices.Reverse(out)
		sort.SliceStable(out, func(i, j int) bool {
			return timeOf(out[i], e.OrderBy).After(timeOf(out[j], e.OrderBy))
		})
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// Insert implements Backend.
func (m *Memory) Insert(ctx context.Context, e *schema.Entity, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.insert(e, rec)
	return err
}

func (m *Memory) insert(e *schema.Entity, rec Record) (string, error) {
	id, _ := rec["id"].(string)
	if id == "" {
		return "", fmt.Errorf("insert %s: record has no id", e.Table)
	}
	t := m.table(e)
	if _, exists := t.rows[id]; exists {
		return "", fmt.Errorf("insert %s: duplicate id %s", e.Table, id)
	}
	t.rows[id] = rec.clone()
	t.order = append(t.order, id)
	return id, nil
}

// Replace implements Backend.
func (m *Memory) Replace(ctx context.Context, e *schema.Entity, id string, rec Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.replace(e, id, rec)
	return ok, nil
}

func (m *Memory) replace(e *schema.Entity, id string, rec Record) (Record, bool) {
	t := m.table(e)
	prev, ok := t.rows[id]
	if !ok {
		return nil, false
	}
	next := rec.clone()
	next["id"] = id
	t.rows[id] = next
	return prev, true
}

// Delete implements Backend.
func (m *Memory) Delete(ctx context.Context, e *schema.Entity, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, _, ok := m.delete(e, id)
	return ok, nil
}

func (m *Memory) delete(e *schema.Entity, id string) (Record, int, bool) {
	t := m.table(e)
	prev, ok := t.rows[id]
	if !ok {
		return nil, -1, false
	}
	pos := slices.Index(t.order, id)
	delete(t.rows, id)
	t.order = slices.Delete(t.order, pos, pos+1)
	return prev, pos, true
}

func (m *Memory) restore(e *schema.Entity, rec Record, pos int) {
	t := m.table(e)
	id := rec["id"].(string)
	t.rows[id] = rec
	t.order = slices.Insert(t.order, pos, id)
}

// Prune implements Backend.
func (m *Memory) Prune(ctx context.Context, e *schema.Entity, field string, before time.Time, keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prune(e, field, before, keep, nil)
}

func (m *Memory) prune(e *schema.Entity, field string, before time.Time, keep int, j *journal) (int64, error) {
	if f := e.Field(field); f == nil || f.Kind != schema.KindTime {
		return 0, fmt.Errorf("prune %s: %q is not a timestamp field", e.Table, field)
	}
	t := m.table(e)
	newest := make([]string, len(t.order))
	copy(newest, t.order)
	slices.Reverse(newest)
	sort.SliceStable(newest, func(i, k int) bool {
		return timeOf(t.rows[newest[i]], field).After(timeOf(t.rows[newest[k]], field))
	})

	var removed int64
	for rank, id := range newest {
		expired := !before.IsZero() && timeOf(t.rows[id], field).Before(before)
		overflow := keep > 0 && rank >= keep
		if !expired && !overflow {
			continue
		}
		prev, pos, _ := m.delete(e, id)
		j.add(func() { m.restore(e, prev, pos) })
		removed++
	}
	return removed, nil
}

// Atomic implements Backend. fn runs under the write lock; when it fails or
// panics every write it made is rolled back in reverse order.
func (m *Memory) Atomic(ctx context.Context, fn func(tx Backend) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m, j: &journal{}}
	defer func() {
		if p := recover(); p != nil {
			tx.j.rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.j.rollback()
		return err
	}
	return nil
}

// Close implements Backend. The memory backend holds no resources.
func (m *Memory) Close() error { return nil }

// journal records undo operations for one memory transaction.
type journal struct {
	undo []func()
}

func (j *journal) add(f func()) {
	if j != nil {
		j.undo = append(j.undo, f)
	}
}

func (j *journal) rollback() {
	for i := len(j.undo) - 1; i >= 0; i-- {
		j.undo[i]()
	}
	j.undo = nil
}

// memTx is the view handed to Atomic callbacks. The enclosing Atomic call
// already holds the write lock, so memTx never locks.
type memTx struct {
	m *Memory
	j *journal
}

func (tx *memTx) Get(ctx context.Context, e *schema.Entity, id string) (Record, error) {
	return tx.m.get(e, id), nil
}

func (tx *memTx) List(ctx context.Context, e *schema.Entity, f Filter) ([]Record, error) {
	if err := checkFilter(e, f); err != nil {
		return nil, err
	}
	return tx.m.list(e, f), nil
}

func (tx *memTx) Insert(ctx context.Context, e *schema.Entity, rec Record) error {
	id, err := tx.m.insert(e, rec)
	if err != nil {
		return err
	}
	tx.j.add(func() { tx.m.delete(e, id) })
	return nil
}

func (tx *memTx) Replace(ctx context.Context, e *schema.Entity, id string, rec Record) (bool, error) {
	prev, ok := tx.m.replace(e, id, rec)
	if ok {
		tx.j.add(func() { tx.m.table(e).rows[id] = prev })
	}
	return ok, nil
}

func (tx *memTx) Delete(ctx context.Context, e *schema.Entity, id string) (bool, error) {
	prev, pos, ok := tx.m.delete(e, id)
	if ok {
		tx.j.add(func() { tx.m.restore(e, prev, pos) })
	}
	return ok, nil
}

func (tx *memTx) Prune(ctx context.Context, e *schema.Entity, field string, before time.Time, keep int) (int64, error) {
	return tx.m.prune(e, field, before, keep, tx.j)
}

func (tx *memTx) Atomic(ctx context.Context, fn func(tx Backend) error) error {
	return fn(tx)
}

func (tx *memTx) Close() error { return nil }

func matches(rec Record, where map[string]any) bool {
	for k, want := range where {
		got := rec[k]
		if gt, ok := got.(time.Time); ok {
			wt, ok := want.(time.Time)
			if !ok || !gt.Equal(wt) {
				return false
			}
			continue
		}
		if !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func timeOf(rec Record, field string) time.Time {
	t, _ := rec[field].(time.Time)
	return t
}
