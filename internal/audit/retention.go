package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Retention bounds the activity log. A zero MaxAge keeps entries of any
// age; a zero MaxEntries keeps any number of entries. The zero Retention
// keeps everything.
type Retention struct {
	MaxAge     time.Duration
	MaxEntries int
}

// Enabled reports whether r removes anything at all.
func (r Retention) Enabled() bool {
	return r.MaxAge > 0 || r.MaxEntries > 0
}

// Pruner deletes activity entries older than before (when non-zero) and
// then all but the newest keep entries (when keep is positive).
type Pruner interface {
	PruneLogs(ctx context.Context, before time.Time, keep int) (int64, error)
}

// Apply runs one retention pass relative to now.
func (r Retention) Apply(ctx context.Context, p Pruner, now time.Time) (int64, error) {
	if !r.Enabled() {
		return 0, nil
	}
	var before time.Time
	if r.MaxAge > 0 {
		before = now.Add(-r.MaxAge)
	}
	n, err := p.PruneLogs(ctx, before, r.MaxEntries)
	if err != nil {
		return 0, fmt.Errorf("audit: prune activity log: %w", err)
	}
	return n, nil
}

// Schedule registers a retention pass on c using the cron spec (for example
// "@daily" or "0 3 * * *"). A disabled Retention registers nothing and
// returns a zero EntryID.
func Schedule(c *cron.Cron, spec string, r Retention, p Pruner, logger *slog.Logger) (cron.EntryID, error) {
	if !r.Enabled() {
		return 0, nil
	}
	id, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		n, err := r.Apply(ctx, p, time.Now())
		if err != nil {
			logger.Error("activity log retention failed", slog.Any("error", err))
			return
		}
		logger.Info("activity log retention applied",
			slog.Int64("removed", n),
			slog.Duration("max_age", r.MaxAge),
			slog.Int("max_entries", r.MaxEntries),
		)
	})
	if err != nil {
		return 0, fmt.Errorf("audit: schedule retention %q: %w", spec, err)
	}
	return id, nil
}
