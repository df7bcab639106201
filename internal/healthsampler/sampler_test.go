package healthsampler_test

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/robfig/cron/v3"

	"github.com/athena-ai/dashboard/internal/healthsampler"
	"github.com/athena-ai/dashboard/internal/server/storage"
)

func newSampler(t *testing.T) (*healthsampler.Sampler, *storage.Storage) {
	t.Helper()
	s := storage.New(storage.NewMemory())
	t.Cleanup(func() { _ = s.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return healthsampler.New(s, logger, nil), s
}

func TestSample_NoClassifiersIsDegraded(t *testing.T) {
	sm, s := newSampler(t)
	m, err := sm.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if m.Status != "degraded" {
		t.Errorf("status = %q, want degraded", m.Status)
	}
	if m.ActiveModels != 0 {
		t.Errorf("activeModels = %d, want 0", m.ActiveModels)
	}

	stored, err := s.Health.List(context.Background(), storage.Filter{})
	if err != nil || len(stored) != 1 {
		t.Fatalf("stored = %d, %v; want 1", len(stored), err)
	}
}

func TestSample_AveragesActiveClassifiers(t *testing.T) {
	sm, s := newSampler(t)
	sm.DegradedMemory = 100
	ctx := context.Background()
	for _, c := range []map[string]any{
		{"name": "cve", "type": "nlp", "accuracy": 90.0},
		{"name": "phish", "type": "nlp", "accuracy": 80.0},
		{"name": "old", "type": "nlp", "accuracy": 10.0, "status": "inactive"},
	} {
		if _, err := s.Classifiers.Create(ctx, c); err != nil {
			t.Fatal(err)
		}
	}

	m, err := sm.Sample(ctx)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if m.ActiveModels != 2 {
		t.Errorf("activeModels = %d, want 2", m.ActiveModels)
	}
	if m.Accuracy != 85 {
		t.Errorf("accuracy = %v, want 85", m.Accuracy)
	}
	if m.Status != "healthy" {
		t.Errorf("status = %q, want healthy", m.Status)
	}
}

func TestSample_KillSwitchIsCritical(t *testing.T) {
	sm, s := newSampler(t)
	ctx := context.Background()
	if _, err := s.Control.Update(ctx, map[string]any{"killSwitch": true}); err != nil {
		t.Fatal(err)
	}
	m, err := sm.Sample(ctx)
	if err != nil {
		t.Fatalf("Sample: %v", err)
	}
	if m.Status != "critical" {
		t.Errorf("status = %q, want critical", m.Status)
	}
}

func TestSchedule_RejectsBadSpec(t *testing.T) {
	sm, _ := newSampler(t)
	if _, err := sm.Schedule(cron.New(), "every so often"); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}
