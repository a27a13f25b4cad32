package janitor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/parley/internal/delivery"
	"github.com/matheus3301/parley/internal/msglog"
	"github.com/matheus3301/parley/internal/store"
	"github.com/stretchr/testify/require"
)

type fakeDeliveries struct {
	mu     sync.Mutex
	maxAge time.Duration
	calls  int
}

func (f *fakeDeliveries) Prune(maxAge time.Duration) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxAge = maxAge
	f.calls++
	return 2
}

func (f *fakeDeliveries) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTransport struct{ cutoff time.Time }

func (f *fakeTransport) Forget(cutoff time.Time) int {
	f.cutoff = cutoff
	return 1
}

type recorder map[string]int

func (r recorder) Pruned(target string, n int) { r[target] += n }

func openStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "parley.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestNewRejectsBadSchedule(t *testing.T) {
	_, err := New("every tuesday", time.Hour, Targets{}, nil)
	require.ErrorIs(t, err, ErrInvalidSchedule)

	_, err = New("", 0, Targets{}, nil)
	require.Error(t, err)

	j, err := New("", time.Hour, Targets{}, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultSchedule, j.schedule)
}

func TestRunOncePrunesEveryTarget(t *testing.T) {
	db := openStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, db.SaveMapping("c1", delivery.Mapping{
		ProvisionalID: "old", FinalID: "f-old",
		FinalKey:    msglog.OrderKey{Seq: 1, Tie: "f-old"},
		ConfirmedAt: now.Add(-48 * time.Hour),
	}))
	require.NoError(t, db.SaveMapping("c1", delivery.Mapping{
		ProvisionalID: "new", FinalID: "f-new",
		FinalKey:    msglog.OrderKey{Seq: 2, Tie: "f-new"},
		ConfirmedAt: now.Add(-time.Hour),
	}))

	deliveries := &fakeDeliveries{}
	tr := &fakeTransport{}
	rec := recorder{}
	j, err := New("0 * * * *", 24*time.Hour, Targets{Deliveries: deliveries, Transport: tr, Store: db, Metrics: rec}, nil)
	require.NoError(t, err)
	j.now = func() time.Time { return now }

	require.NoError(t, j.RunOnce(context.Background()))

	require.Equal(t, 24*time.Hour, deliveries.maxAge)
	require.Equal(t, now.Add(-24*time.Hour), tr.cutoff)
	require.Equal(t, recorder{"mappings": 2, "acks": 1, "stored_mappings": 1}, rec)

	left, err := db.ListMappings(time.Time{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, "new", left[0].ProvisionalID)

	value, ok, err := db.Checkpoint(CheckpointKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2026-03-01T12:00:00Z", value)
}

func TestRunOnceHonoursCancelledContext(t *testing.T) {
	j, err := New("", time.Hour, Targets{Deliveries: &fakeDeliveries{}}, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.True(t, errors.Is(j.RunOnce(ctx), context.Canceled))
}

func TestOverdue(t *testing.T) {
	db := openStore(t)
	j, err := New("0 * * * *", time.Hour, Targets{Store: db}, nil)
	require.NoError(t, err)
	now := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	overdue, err := j.Overdue()
	require.NoError(t, err)
	require.True(t, overdue, "never ran")

	require.NoError(t, db.SetCheckpoint(CheckpointKey, "2026-03-01T12:10:00Z"))
	overdue, err = j.Overdue()
	require.NoError(t, err)
	require.False(t, overdue, "ran after the 12:00 tick")

	require.NoError(t, db.SetCheckpoint(CheckpointKey, "2026-03-01T10:59:00Z"))
	overdue, err = j.Overdue()
	require.NoError(t, err)
	require.True(t, overdue, "missed the 11:00 and 12:00 ticks")
}

func TestStartCatchesUpMissedRun(t *testing.T) {
	db := openStore(t)
	deliveries := &fakeDeliveries{}
	j, err := New("0 0 1 1 *", time.Hour, Targets{Deliveries: deliveries, Store: db}, nil)
	require.NoError(t, err)

	j.Start(context.Background())
	require.Eventually(t, func() bool { return deliveries.Calls() == 1 }, 2*time.Second, 10*time.Millisecond)
	j.Stop()
	j.Stop()
}
