package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/iliyamo/babyfoot-reservation/internal/booking"
	"github.com/iliyamo/babyfoot-reservation/internal/config"
	"github.com/iliyamo/babyfoot-reservation/internal/database"
	"github.com/iliyamo/babyfoot-reservation/internal/handler"
	"github.com/iliyamo/babyfoot-reservation/internal/jobs"
	"github.com/iliyamo/babyfoot-reservation/internal/logging"
	"github.com/iliyamo/babyfoot-reservation/internal/metrics"
	"github.com/iliyamo/babyfoot-reservation/internal/middleware"
	"github.com/iliyamo/babyfoot-reservation/internal/queue"
	"github.com/iliyamo/babyfoot-reservation/internal/repository"
	"github.com/iliyamo/babyfoot-reservation/internal/router"
)

// store is what the server needs from either backend.
type store interface {
	booking.Store
	handler.TableAdmin
}

func main() {
	config.LoadDotEnv()
	cfg := config.Load() // exits when required variables are missing

	logger, closer, err := logging.Setup(cfg.Log, "server")
	if err != nil {
		log.Fatal(err)
	}
	defer closer.Close()

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}

func run(cfg config.Config, logger *log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Store ----
	var st store
	health := handler.Health{}
	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Warn("using the in-memory store, data is lost on exit")
		st = repository.NewMemoryStore(cfg.SlotLockTimeout)
	default:
		db, err := database.Open(ctx, database.Options{
			User: cfg.DBUser, Pass: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
		})
		if err != nil {
			return err
		}
		defer db.Close()
		if cfg.DBMigrate {
			if err := database.Migrate(ctx, db); err != nil {
				return err
			}
		}
		st = repository.NewMySQLStore(db, cfg.SlotLockTimeout)
		health.DB = db
	}

	// ---- Redis: rate limiting and response cache ----
	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb != nil {
		defer rdb.Close()
	}
	cacheCfg := config.LoadCacheConfig()

	// ---- Events ----
	var notifiers booking.MultiNotifier
	if cfg.EventsEnabled {
		notifiers = append(notifiers, queue.NewPublisher(cfg.AMQPURL, cfg.EventsQueue, logger.WithField("component", "publisher")))
		consumer := &queue.Consumer{
			URL:      cfg.AMQPURL,
			Queue:    cfg.EventsQueue,
			Handlers: []queue.Handler{(&queue.FileLog{Path: cfg.EventsLogPath}).Handle},
			Log:      logger.WithField("component", "consumer"),
		}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("event consumer stopped")
			}
		}()
	}
	if rdb != nil && cacheCfg.Enabled {
		notifiers = append(notifiers, &middleware.CachePurger{
			Client: rdb,
			Prefix: cacheCfg.Prefix,
			Log:    logger.WithField("component", "cache"),
		})
	}

	// ---- Engine ----
	var rec *metrics.Recorder
	if cfg.MetricsEnabled {
		rec = metrics.NewRecorder()
	}
	engine := booking.NewEngine(st, booking.Config{
		RetryAttempts: cfg.RetryAttempts,
		RetryInitial:  cfg.RetryInitial,
		RetryMax:      cfg.RetryMax,
		Notifier:      notifiers,
		Metrics:       rec,
		Logger:        logger.WithField("component", "engine"),
	})

	// ---- Expiry job ----
	if cfg.ExpiryEnabled {
		sched, err := jobs.NewScheduler(cfg.ExpirySchedule, &jobs.Expiry{
			Store:  st,
			Engine: engine,
			Log:    logger.WithField("component", "expiry"),
		})
		if err != nil {
			return err
		}
		sched.Start()
		defer func() { <-sched.Stop().Done() }()
	}

	// ---- HTTP ----
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.RequestLogger(logger, rec))

	deps := router.Deps{
		JWTSecret:    cfg.JWTSecret,
		Reservations: handler.NewReservationHandler(engine),
		Tables:       handler.NewTableHandler(engine.Projector()),
		Admin:        handler.NewAdminHandler(st, engine, notifiers),
		Health:       health,
		RateLimit:    middleware.NewRateLimiter(config.LoadRateLimitConfig(), rdb, logger).Middleware(),
		Cache:        middleware.NewRedisCache(cacheCfg, rdb),
	}
	if rec != nil {
		deps.Metrics = rec.Handler()
	}
	router.Register(e, deps)

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{"addr": addr, "env": cfg.Env, "store": cfg.StoreDriver}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
