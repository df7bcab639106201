package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/athena-ai/dashboard/internal/audit"
	"github.com/athena-ai/dashboard/internal/schema"
)

// Logs is the append-only activity log. Entries are listed newest first.
type Logs struct {
	s *Storage
}

// LogFilter narrows Logs.List. Empty strings match everything.
type LogFilter struct {
	EntityType string
	EntityID   string
	Action     string
	UserID     string
	Limit      int
}

func (f LogFilter) where() map[string]any {
	where := make(map[string]any, 4)
	for name, v := range map[string]string{
		"entityType": f.EntityType,
		"entityId":   f.EntityID,
		"action":     f.Action,
		"userId":     f.UserID,
	} {
		if v != "" {
			where[name] = v
		}
	}
	return where
}

// List returns matching entries, newest first.
func (l *Logs) List(ctx context.Context, f LogFilter) ([]ActivityLog, error) {
	where, err := normalizeWhere(schema.ActivityLogs, f.where())
	if err != nil {
		return nil, err
	}
	recs, err := l.s.backend.List(ctx, schema.ActivityLogs, Filter{Where: where, Limit: f.Limit})
	if err != nil {
		return nil, err
	}
	out := make([]ActivityLog, 0, len(recs))
	for _, rec := range recs {
		entry, err := decode[ActivityLog](rec)
		if err != nil {
			return nil, err
		}
		out = append(out, *entry)
	}
	return out, nil
}

// Get returns one entry, or nil.
func (l *Logs) Get(ctx context.Context, id string) (*ActivityLog, error) {
	rec, err := l.s.backend.Get(ctx, schema.ActivityLogs, id)
	if err != nil || rec == nil {
		return nil, err
	}
	return decode[ActivityLog](rec)
}

// Append validates and stores a caller-supplied entry. userId and ipAddress
// default to the actor carried by ctx.
func (l *Logs) Append(ctx context.Context, raw map[string]any) (*ActivityLog, error) {
	in := make(map[string]any, len(raw)+2)
	for k, v := range raw {
		in[k] = v
	}
	if a, ok := audit.ActorFromContext(ctx); ok {
		if _, set := in["userId"]; !set && a.UserID != "" {
			in["userId"] = a.UserID
		}
		if _, set := in["ipAddress"]; !set && a.IP != "" {
			in["ipAddress"] = a.IP
		}
	}

	var entry *ActivityLog
	err := l.s.atomic(ctx, func(tx Backend, written *[]ActivityLog) error {
		var err error
		entry, err = l.insert(ctx, tx, in)
		if err != nil {
			return err
		}
		*written = append(*written, *entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Record appends a system-generated entry such as a login or logout.
func (l *Logs) Record(ctx context.Context, action Action, entityType, entityID string, details any) (*ActivityLog, error) {
	var entry *ActivityLog
	err := l.s.atomic(ctx, func(tx Backend, written *[]ActivityLog) error {
		if err := l.append(ctx, tx, written, action, entityType, entityID, details); err != nil {
			return err
		}
		entry = &(*written)[len(*written)-1]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// append writes one entry inside tx on behalf of the actor in ctx.
func (l *Logs) append(ctx context.Context, tx Backend, written *[]ActivityLog, action Action, entityType, entityID string, details any) error {
	raw := map[string]any{
		"action":     string(action),
		"entityType": entityType,
		"details":    details,
	}
	if entityID != "" {
		raw["entityId"] = entityID
	}
	if a, ok := audit.ActorFromContext(ctx); ok {
		if a.UserID != "" {
			raw["userId"] = a.UserID
		}
		if a.IP != "" {
			raw["ipAddress"] = a.IP
		}
	}
	entry, err := l.insert(ctx, tx, raw)
	if err != nil {
		return err
	}
	*written = append(*written, *entry)
	return nil
}

func (l *Logs) insert(ctx context.Context, tx Backend, raw map[string]any) (*ActivityLog, error) {
	payload, err := schema.ActivityLogs.ValidateInsert(raw)
	if err != nil {
		return nil, err
	}
	rec := Record(payload)
	rec["id"] = uuid.NewString()
	rec["timestamp"] = l.s.now()
	if err := tx.Insert(ctx, schema.ActivityLogs, rec); err != nil {
		return nil, err
	}
	return decode[ActivityLog](rec)
}

// PruneLogs applies a retention pass to the activity log: entries older
// than before (when non-zero) go first, then all but the newest keep (when
// keep is positive).
func (s *Storage) PruneLogs(ctx context.Context, before time.Time, keep int) (int64, error) {
	return s.backend.Prune(ctx, schema.ActivityLogs, "timestamp", before, keep)
}
