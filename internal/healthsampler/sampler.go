// Package healthsampler periodically records an AI health snapshot. There is
// no model runtime to measure, so the snapshot combines live process figures
// (heap use, store latency) with the classifier registry and the AI control
// switches.
package healthsampler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/athena-ai/dashboard/internal/server/storage"
)

// Recorder observes the outcome of each run. *metrics.Metrics satisfies it.
type Recorder interface {
	ObserveSample(ok bool)
}

// Sampler builds and stores AIHealthMetric snapshots.
type Sampler struct {
	store    *storage.Storage
	logger   *slog.Logger
	recorder Recorder

	// ErrorRate is reported verbatim; nothing measures model errors.
	ErrorRate float64
	// DegradedMemory is the heap-use percentage above which a snapshot is
	// marked degraded.
	DegradedMemory float64
}

// New returns a Sampler writing to store. recorder may be nil.
func New(store *storage.Storage, logger *slog.Logger, recorder Recorder) *Sampler {
	return &Sampler{
		store:          store,
		logger:         logger,
		recorder:       recorder,
		DegradedMemory: 90,
	}
}

// Sample takes one snapshot and stores it.
func (s *Sampler) Sample(ctx context.Context) (*storage.AIHealthMetric, error) {
	start := time.Now()
	if err := s.store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("healthsampler: ping store: %w", err)
	}
	latency := float64(time.Since(start).Microseconds()) / 1000

	classifiers, err := s.store.Classifiers.List(ctx, storage.Filter{Where: map[string]any{"status": "active"}})
	if err != nil {
		return nil, fmt.Errorf("healthsampler: list classifiers: %w", err)
	}
	control, err := s.store.Control.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("healthsampler: read control settings: %w", err)
	}

	var accuracy float64
	for _, c := range classifiers {
		accuracy += c.Accuracy
	}
	if len(classifiers) > 0 {
		accuracy /= float64(len(classifiers))
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	var memory float64
	if ms.Sys > 0 {
		memory = float64(ms.HeapInuse) / float64(ms.Sys) * 100
	}

	status := "healthy"
	switch {
	case control.KillSwitch || !control.SystemEnabled:
		status = "critical"
	case len(classifiers) == 0 || memory > s.DegradedMemory:
		status = "degraded"
	}

	return s.store.Health.Create(ctx, map[string]any{
		"memoryUsage":  memory,
		"accuracy":     accuracy,
		"responseTime": latency,
		"activeModels": len(classifiers),
		"errorRate":    s.ErrorRate,
		"status":       status,
	})
}

// Schedule registers a sampling run on c using the cron spec.
func (s *Sampler) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		m, err := s.Sample(ctx)
		if s.recorder != nil {
			s.recorder.ObserveSample(err == nil)
		}
		if err != nil {
			s.logger.Error("health sample failed", slog.Any("error", err))
			return
		}
		s.logger.Debug("health sample stored",
			slog.String("id", m.ID),
			slog.String("status", m.Status),
			slog.Int("active_models", m.ActiveModels),
		)
	})
	if err != nil {
		return 0, fmt.Errorf("healthsampler: schedule %q: %w", spec, err)
	}
	return id, nil
}
