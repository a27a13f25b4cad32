package janitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"
)

// DefaultSchedule runs the janitor every fifteen minutes.
const DefaultSchedule = "*/15 * * * *"

// CheckpointKey stores the time of the last completed run.
const CheckpointKey = "janitor.last_run"

var ErrInvalidSchedule = errors.New("invalid cron schedule")

// Deliveries drops in-memory delivery bookkeeping older than maxAge.
type Deliveries interface {
	Prune(maxAge time.Duration) int
}

// Transport forgets acknowledgments accepted before cutoff.
type Transport interface {
	Forget(cutoff time.Time) int
}

// Store is the persisted side of the janitor's work.
type Store interface {
	PruneMappings(cutoff time.Time) (int64, error)
	SetCheckpoint(key, value string) error
	Checkpoint(key string) (string, bool, error)
}

// Recorder receives per-target removal counts.
type Recorder interface {
	Pruned(target string, n int)
}

// Targets lists what a run cleans. Nil targets are skipped.
type Targets struct {
	Deliveries Deliveries
	Transport  Transport
	Store      Store
	Metrics    Recorder
}

// Janitor periodically expires provisional-to-final ID mappings and other
// bookkeeping that only needs to outlive the duplicate window.
type Janitor struct {
	schedule  string
	retention time.Duration
	targets   Targets
	logger    *zap.Logger
	now       func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New validates the schedule and returns a janitor.
func New(schedule string, retention time.Duration, targets Targets, logger *zap.Logger) (*Janitor, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if !gronx.IsValid(schedule) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, schedule)
	}
	if retention <= 0 {
		return nil, fmt.Errorf("janitor retention must be positive, got %s", retention)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		schedule:  schedule,
		retention: retention,
		targets:   targets,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// RunOnce prunes every target and records the checkpoint.
func (j *Janitor) RunOnce(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := j.now()
	cutoff := now.Add(-j.retention)

	var mappings, acks, stored int
	if t := j.targets.Deliveries; t != nil {
		mappings = t.Prune(j.retention)
	}
	if t := j.targets.Transport; t != nil {
		acks = t.Forget(cutoff)
	}
	if s := j.targets.Store; s != nil {
		n, err := s.PruneMappings(cutoff)
		if err != nil {
			return fmt.Errorf("prune stored mappings: %w", err)
		}
		stored = int(n)
		if err := s.SetCheckpoint(CheckpointKey, now.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("record checkpoint: %w", err)
		}
	}
	if m := j.targets.Metrics; m != nil {
		m.Pruned("mappings", mappings)
		m.Pruned("acks", acks)
		m.Pruned("stored_mappings", stored)
	}
	j.logger.Info("janitor run",
		zap.Int("mappings", mappings),
		zap.Int("acks", acks),
		zap.Int("stored_mappings", stored))
	return nil
}

// Overdue reports whether a scheduled tick passed since the last recorded run.
func (j *Janitor) Overdue() (bool, error) {
	s := j.targets.Store
	if s == nil {
		return false, nil
	}
	value, ok, err := s.Checkpoint(CheckpointKey)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	last, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return true, nil
	}
	prev, err := gronx.PrevTickBefore(j.schedule, j.now(), true)
	if err != nil {
		return false, err
	}
	return prev.After(last), nil
}

// Start runs the janitor on its schedule until Stop. A run missed while the
// daemon was down is caught up immediately.
func (j *Janitor) Start(ctx context.Context) {
	ctx, j.cancel = context.WithCancel(ctx)
	j.done = make(chan struct{})

	go func() {
		defer close(j.done)
		if overdue, err := j.Overdue(); err != nil {
			j.logger.Warn("janitor checkpoint", zap.Error(err))
		} else if overdue {
			j.run(ctx)
		}
		for {
			next, err := gronx.NextTickAfter(j.schedule, j.now(), false)
			if err != nil {
				j.logger.Error("janitor next tick", zap.Error(err))
				next = j.now().Add(time.Minute)
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case <-timer.C:
				j.run(ctx)
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}()
}

func (j *Janitor) run(ctx context.Context) {
	if err := j.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		j.logger.Error("janitor run failed", zap.Error(err))
	}
}

// Stop stops the scheduler and waits for an in-progress run.
func (j *Janitor) Stop() {
	if j.cancel == nil {
		return
	}
	j.cancel()
	<-j.done
}
