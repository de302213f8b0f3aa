// Package booking is the reservation engine: availability checks,
// admission of new bookings, lifecycle transitions, guest lookup and the
// expiry sweep.  All state lives in a ledger.Ledger; availability is
// always derived from the overlap query, never from a cached counter.
package booking

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/room-reservation/internal/ledger"
	"github.com/iliyamo/room-reservation/internal/metrics"
	"github.com/iliyamo/room-reservation/internal/model"
)

const (
	defaultAdmissionAttempts = 3
	defaultNotifyTimeout     = 10 * time.Second
	defaultSweepBatch        = 200
)

// Options configures a Service.  Zero values select defaults.
type Options struct {
	Policy            Policy
	References        *ReferenceAllocator
	Notifier          Notifier
	Logger            *zap.Logger
	Metrics           *metrics.Booking
	Now               func() time.Time
	AdmissionAttempts int
	NotifyTimeout     time.Duration
	SweepBatchSize    int
}

// Service is safe for concurrent use.
type Service struct {
	ledger   ledger.Ledger
	policy   Policy
	refs     *ReferenceAllocator
	notifier Notifier
	log      *zap.Logger
	metrics  *metrics.Booking
	now      func() time.Time

	admissionAttempts int
	notifyTimeout     time.Duration
	sweepBatch        int

	inflight sync.WaitGroup
}

// NewService wires a Service around l.  It panics when l is nil.
func NewService(l ledger.Ledger, opts Options) *Service {
	if l == nil {
		panic("nil ledger passed to NewService")
	}
	s := &Service{
		ledger:            l,
		policy:            opts.Policy,
		refs:              opts.References,
		notifier:          opts.Notifier,
		log:               opts.Logger,
		metrics:           opts.Metrics,
		now:               opts.Now,
		admissionAttempts: opts.AdmissionAttempts,
		notifyTimeout:     opts.NotifyTimeout,
		sweepBatch:        opts.SweepBatchSize,
	}
	if s.policy == (Policy{}) {
		s.policy = DefaultPolicy()
	}
	if s.refs == nil {
		s.refs = NewReferenceAllocator(DefaultReferencePrefix, DefaultReferenceAttempts)
	}
	if s.notifier == nil {
		s.notifier = NopNotifier{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.admissionAttempts <= 0 {
		s.admissionAttempts = defaultAdmissionAttempts
	}
	if s.notifyTimeout <= 0 {
		s.notifyTimeout = defaultNotifyTimeout
	}
	if s.sweepBatch <= 0 {
		s.sweepBatch = defaultSweepBatch
	}
	return s
}

// Policy returns the stay rules in force.
func (s *Service) Policy() Policy { return s.policy }

// Wait blocks until every in-flight notification has finished.
func (s *Service) Wait() { s.inflight.Wait() }

// clock returns the current time truncated to the second, which is the
// precision DATETIME columns keep.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

// withRetry runs fn again while it fails with ledger.ErrConflict.  The
// last conflict is returned when every attempt lost.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.admissionAttempts; attempt++ {
		err = fn()
		if !errors.Is(err, ledger.ErrConflict) {
			return err
		}
		s.metrics.IncRetry()
		s.log.Debug("retrying after lock conflict", zap.Int("attempt", attempt), zap.Error(err))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

// notify runs fn on a detached context after the caller's write has
// committed.  Failures are logged and counted.
func (s *Service) notify(ctx context.Context, event string, r model.Reservation, fn func(context.Context) error) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
		defer cancel()
		if err := fn(nctx); err != nil {
			s.metrics.IncNotifyFailure(event)
			s.log.Warn("notification failed",
				zap.String("event", event),
				zap.String("reference", r.Reference),
				zap.Error(err))
		}
	}()
}

func (s *Service) notifyCreated(ctx context.Context, r model.Reservation) {
	s.notify(ctx, "booking.created", r, func(nctx context.Context) error {
		return s.notifier.NotifyBookingCreated(nctx, r)
	})
}

func (s *Service) notifyCancelled(ctx context.Context, r model.Reservation, reason string) {
	s.notify(ctx, "booking.cancelled", r, func(nctx context.Context) error {
		return s.notifier.NotifyBookingCancelled(nctx, r, reason)
	})
}

// storeError converts ledger failures into rejections.  Rejections pass
// through unchanged.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := AsRejection(err); ok {
		return err
	}
	if errors.Is(err, ledger.ErrNotFound) {
		return notFound()
	}
	return storeUnavailable(err)
}

func categoryNotFound() *Rejection {
	return reject(CodeNotFound, "room category not found")
}
