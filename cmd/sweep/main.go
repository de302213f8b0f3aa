// Command sweep runs one expiry sweep against the MySQL ledger and exits.
// It takes the same Redis lock as the server's scheduler, so it can be
// run from cron next to live servers.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/room-reservation/internal/booking"
	"github.com/iliyamo/room-reservation/internal/config"
	"github.com/iliyamo/room-reservation/internal/database"
	"github.com/iliyamo/room-reservation/internal/ledger"
	"github.com/iliyamo/room-reservation/internal/queue"
	"github.com/iliyamo/room-reservation/internal/repository"
	"github.com/iliyamo/room-reservation/internal/sweeper"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		log = zap.NewNop()
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}
	if cfg.App.Store != config.StoreMySQL {
		log.Fatal("sweep needs APP_STORE=mysql", zap.String("store", cfg.App.Store))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	released, err := run(ctx, cfg, log)
	if err != nil {
		log.Error("sweep finished with errors", zap.Int("released", released), zap.Error(err))
		// os.Exit skips deferred calls
		cancel()
		stop()
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("sweep finished", zap.Int("released", released))
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) (int, error) {
	db, err := database.Open(ctx, cfg.DB.Options())
	if err != nil {
		return 0, err
	}
	defer db.Close()

	notifier, closer := newNotifier(cfg.AMQP, log)
	defer closer.Close()

	var lock sweeper.Lock = sweeper.NoopLock{}
	rdb, err := config.NewRedisClient(ctx, cfg.Redis)
	switch {
	case err != nil:
		log.Warn("redis unavailable; sweeping without the lock", zap.Error(err))
	case rdb != nil:
		defer rdb.Close()
		if lock, err = sweeper.NewRedisLock(rdb, cfg.Sweeper.LockKey, cfg.Sweeper.LockTTL); err != nil {
			return 0, err
		}
	}

	return sweepOnce(ctx, repository.NewReservationRepo(db), notifier, lock, cfg, log)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newNotifier mirrors the server: expired holds announce their
// cancellation on the broker whenever AMQP is enabled.
func newNotifier(cfg config.AMQPConfig, log *zap.Logger) (booking.Notifier, io.Closer) {
	if !cfg.Enabled {
		return booking.NopNotifier{}, nopCloser{}
	}
	pub := queue.NewPublisher(cfg.BrokerURL(), log.Named("publisher"))
	return pub, pub
}

// sweepOnce runs a single guarded sweep and waits for the cancellation
// notices it queued.
func sweepOnce(ctx context.Context, l ledger.Ledger, n booking.Notifier, lock sweeper.Lock, cfg *config.Config, log *zap.Logger) (int, error) {
	svc := booking.NewService(l, booking.Options{
		Policy:         cfg.Booking.Policy(),
		Notifier:       n,
		Logger:         log.Named("booking"),
		NotifyTimeout:  cfg.Booking.NotifyTimeout,
		SweepBatchSize: cfg.Sweeper.BatchSize,
	})
	defer svc.Wait()

	sched, err := sweeper.New(sweeper.Params{Expirer: svc, Lock: lock, Logger: log.Named("sweeper")})
	if err != nil {
		return 0, err
	}
	return sched.RunOnce(ctx)
}
