package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/room-reservation/internal/booking"
	"github.com/iliyamo/room-reservation/internal/config"
	"github.com/iliyamo/room-reservation/internal/database"
	"github.com/iliyamo/room-reservation/internal/handler"
	"github.com/iliyamo/room-reservation/internal/ledger"
	"github.com/iliyamo/room-reservation/internal/metrics"
	"github.com/iliyamo/room-reservation/internal/middleware"
	"github.com/iliyamo/room-reservation/internal/queue"
	"github.com/iliyamo/room-reservation/internal/repository"
	"github.com/iliyamo/room-reservation/internal/router"
	"github.com/iliyamo/room-reservation/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config", zap.Error(err))
	}
	log := newLogger(cfg.App)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(app config.AppConfig) *zap.Logger {
	var zc zap.Config
	if app.IsProd() {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	if lvl, err := zap.ParseAtomicLevel(app.LogLevel); err == nil {
		zc.Level = lvl
	}
	log, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// stores bundles the ledger, catalog and staff accounts for one APP_STORE.
type stores struct {
	ledger  ledger.Ledger
	catalog ledger.Catalog
	users   *repository.UserRepo
	db      *sqlx.DB
}

func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	if cfg.App.Store == config.StoreMemory {
		// staff accounts still need SQL; reservations stay in process memory
		db, err := database.OpenSQLiteMemory(ctx)
		if err != nil {
			return nil, err
		}
		mem := ledger.NewMemory()
		log.Warn("using in-memory ledger; reservations are lost on restart")
		return &stores{ledger: mem, catalog: mem, users: repository.NewUserRepo(db), db: db}, nil
	}

	db, err := database.Open(ctx, cfg.DB.Options())
	if err != nil {
		return nil, err
	}
	if cfg.DB.AutoMigrate {
		if err := database.Migrate(ctx, db.DB, "mysql"); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &stores{
		ledger:  repository.NewReservationRepo(db),
		catalog: repository.NewRoomCategoryRepo(db),
		users:   repository.NewUserRepo(db),
		db:      db,
	}, nil
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.db.Close()

	created, err := st.users.EnsureAdmin(ctx, cfg.Auth.BootstrapEmail, cfg.Auth.BootstrapPassword, cfg.Auth.BcryptCost)
	if err != nil {
		return err
	}
	if created {
		log.Info("bootstrap admin created", zap.String("email", cfg.Auth.BootstrapEmail))
	}

	rdb, err := config.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Warn("redis unavailable; caching, rate limiting and the sweeper lock are off", zap.Error(err))
	}
	if rdb != nil {
		defer rdb.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var notifier booking.Notifier = booking.NopNotifier{}
	if cfg.AMQP.Enabled {
		pub := queue.NewPublisher(cfg.AMQP.BrokerURL(), log.Named("publisher"))
		defer pub.Close()
		notifier = pub
		if cfg.AMQP.ConsumerEnabled {
			consumer := queue.NewConsumer(cfg.AMQP.BrokerURL(), cfg.AMQP.NotificationLog, log.Named("consumer"))
			go func() {
				if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Error("notification consumer stopped", zap.Error(err))
				}
			}()
		}
	}

	svc := booking.NewService(st.ledger, booking.Options{
		Policy:            cfg.Booking.Policy(),
		References:        booking.NewReferenceAllocator(cfg.Booking.ReferencePrefix, cfg.Booking.ReferenceAttempts),
		Notifier:          notifier,
		Logger:            log.Named("booking"),
		Metrics:           metrics.NewBooking(reg),
		AdmissionAttempts: cfg.Booking.AdmissionAttempts,
		NotifyTimeout:     cfg.Booking.NotifyTimeout,
		SweepBatchSize:    cfg.Sweeper.BatchSize,
	})

	var lock sweeper.Lock = sweeper.NoopLock{}
	if rdb != nil {
		rl, err := sweeper.NewRedisLock(rdb, cfg.Sweeper.LockKey, cfg.Sweeper.LockTTL)
		if err != nil {
			return err
		}
		lock = rl
	}
	sched, err := sweeper.New(sweeper.Params{
		Expirer:  svc,
		Lock:     lock,
		Logger:   log.Named("sweeper"),
		Metrics:  metrics.NewSweeper(reg),
		Interval: cfg.Sweeper.Interval,
	})
	if err != nil {
		return err
	}
	if cfg.Sweeper.Enabled {
		sched.Start(ctx)
	}

	e := newEcho(cfg, log, st, svc, sched, rdb, reg)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.App.Port
		log.Info("listening", zap.String("addr", addr), zap.String("env", cfg.App.Env), zap.String("store", cfg.App.Store))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	sched.Stop()
	svc.Wait()
	return nil
}

func newEcho(cfg *config.Config, log *zap.Logger, st *stores, svc *booking.Service, sched *sweeper.Scheduler, rdb *redis.Client, reg *prometheus.Registry) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(log.Named("http")))

	health := &handler.HealthHandler{Log: log.Named("health"), Checks: map[string]handler.Pinger{
		"db": st.db.PingContext,
	}}
	var pub router.PublicMiddleware
	var responses middleware.ResponseStore
	if rdb != nil {
		health.Checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		store := middleware.NewRedisResponseStore(rdb)
		responses = store
		pub.Catalog = middleware.ResponseCache(cfg.Cache, store, log.Named("cache"))
		pub.Limit = middleware.RateLimit(cfg.RateLimit, middleware.NewRedisBucket(rdb, cfg.RateLimit), log.Named("ratelimit"))
	}

	var purger handler.CachePurger
	if responses != nil && cfg.Cache.Enabled {
		purger = responses
	}
	catalog := handler.NewCatalogHandler(st.catalog, purger, cfg.Cache.Prefix, log.Named("catalog"))
	auth := handler.NewAuthHandler(st.users, cfg.Auth.JWTSecret, cfg.Auth.AccessTTL(), cfg.Auth.BcryptCost)
	admin := handler.NewAdminHandler(svc, sched.RunOnce)

	router.RegisterRoutes(e, health, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	router.RegisterPublic(e, catalog, handler.NewBookingHandler(svc), pub)
	router.RegisterAuth(e, auth, cfg.Auth.JWTSecret)
	router.RegisterAdmin(e, admin, catalog, auth, cfg.Auth.JWTSecret)
	return e
}
