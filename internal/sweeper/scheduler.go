// Package sweeper runs the expiry sweep on a fixed interval.
package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/room-reservation/internal/metrics"
)

const defaultInterval = time.Minute

// Expirer is implemented by booking.Service.
type Expirer interface {
	SweepExpiredHolds(ctx context.Context, now time.Time) (int, error)
}

// Params configure a Scheduler.  Lock defaults to NoopLock.
type Params struct {
	Expirer  Expirer
	Lock     Lock
	Logger   *zap.Logger
	Metrics  *metrics.Sweeper
	Interval time.Duration
	Now      func() time.Time
}

// Scheduler sweeps once on Start and then every Interval until Stop or
// until the context passed to Start is cancelled.
type Scheduler struct {
	expirer  Expirer
	lock     Lock
	log      *zap.Logger
	metrics  *metrics.Sweeper
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex // serializes runs so the lock owner token is not shared
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// New validates p and returns a stopped scheduler.
func New(p Params) (*Scheduler, error) {
	if p.Expirer == nil {
		return nil, errors.New("sweeper: expirer required")
	}
	s := &Scheduler{
		expirer:  p.Expirer,
		lock:     p.Lock,
		log:      p.Logger,
		metrics:  p.Metrics,
		interval: p.Interval,
		now:      p.Now,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	if s.lock == nil {
		s.lock = NoopLock{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Start launches the loop in its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("starting expiry sweeper", zap.Duration("interval", s.interval))
	go s.loop(ctx)
}

// Stop ends the loop and waits for a running sweep to finish.  It must
// only be called after Start.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.log.Info("stopping expiry sweeper")
		close(s.stopCh)
	})
	<-s.done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.log.Info("expiry sweeper cancelled")
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.log.Error("expiry sweep failed", zap.Error(err))
	}
}

// RunOnce performs a single guarded sweep and returns how many
// reservations were released.  A run skipped because another instance
// holds the lock returns 0 and no error.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()
	locked, err := s.lock.Acquire(ctx)
	switch {
	case err != nil:
		// Sweeps are idempotent, so run unguarded.
		s.log.Warn("sweeper lock unavailable, sweeping anyway", zap.Error(err))
	case !locked:
		s.log.Debug("another instance is sweeping; skipping")
		s.metrics.ObserveRun("skipped", 0, time.Since(started))
		return 0, nil
	default:
		defer func() {
			if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
				s.log.Warn("failed to release sweeper lock", zap.Error(err))
			}
		}()
	}

	released, err := s.expirer.SweepExpiredHolds(ctx, s.now())
	result := "ok"
	if err != nil {
		result = "failed"
	}
	s.metrics.ObserveRun(result, released, time.Since(started))
	if released > 0 {
		s.log.Info("expired holds released", zap.Int("released", released))
	}
	return released, err
}
