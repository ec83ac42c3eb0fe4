package scheduler

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/db"
)

type fakePushes struct {
	rows         []db.Push
	deleteCalls  int
	deletedCount int64
}

func (f *fakePushes) Create(ctx context.Context, p *db.Push) error { return nil }
func (f *fakePushes) GetByUUID(ctx context.Context, token string) (*db.Push, error) {
	return nil, nil
}
func (f *fakePushes) Update(ctx context.Context, p *db.Push) error { return nil }
func (f *fakePushes) Delete(ctx context.Context, token string) error { return nil }
func (f *fakePushes) DeleteExpired(ctx context.Context, nowUnix int64) (int64, error) {
	f.deleteCalls++
	var kept []db.Push
	var removed int64
	for _, p := range f.rows {
		if p.Until < nowUnix {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	f.rows = kept
	f.deletedCount = removed
	return removed, nil
}
func (f *fakePushes) ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]db.Push, error) {
	return f.rows, nil
}

func TestSweepOnceRemovesExpiredPushes(t *testing.T) {
	pushes := &fakePushes{rows: []db.Push{
		{UUID: "expired", Until: 1},
		{UUID: "active", Until: 9999999999},
	}}

	s, err := New(pushes, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	n, err := s.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("SweepOnce removed = %d, want 1", n)
	}
	if len(pushes.rows) != 1 || pushes.rows[0].UUID != "active" {
		t.Fatalf("expected only the active push to remain, got %+v", pushes.rows)
	}
}

func TestStartAndStop(t *testing.T) {
	pushes := &fakePushes{}
	s, err := New(pushes, zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
