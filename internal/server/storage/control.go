package storage

import (
	"context"

	"github.com/athena-ai/dashboard/internal/audit"
	"github.com/athena-ai/dashboard/internal/schema"
)

// Control manages the singleton AI control record. The record is created
// with its defaults the first time it is read.
type Control struct {
	c *Collection[AIControlSetting]
}

func newControl(s *Storage) *Control {
	c := newCollection[AIControlSetting](s, schema.ControlSettings)
	c.beforeUpdate = func(ctx context.Context, _ Backend, _ string, patch schema.Payload) error {
		if a, ok := audit.ActorFromContext(ctx); ok && a.UserID != "" {
			patch["updatedBy"] = a.UserID
		}
		return nil
	}
	return &Control{c: c}
}

// Get returns the control record, creating it on first use.
func (ctl *Control) Get(ctx context.Context) (*AIControlSetting, error) {
	current, err := ctl.c.List(ctx, Filter{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(current) > 0 {
		return &current[0], nil
	}
	return ctl.c.Create(ctx, map[string]any{})
}

// Update patches the control record and records who changed it.
func (ctl *Control) Update(ctx context.Context, raw map[string]any) (*AIControlSetting, error) {
	current, err := ctl.Get(ctx)
	if err != nil {
		return nil, err
	}
	return ctl.c.Update(ctx, current.ID, raw)
}
