package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/franzego/dispatchd/internal/channels"
	"github.com/franzego/dispatchd/internal/config"
	"github.com/franzego/dispatchd/internal/database"
	"github.com/franzego/dispatchd/internal/dispatch"
	"github.com/franzego/dispatchd/internal/handlers"
	"github.com/franzego/dispatchd/internal/queue"
	"github.com/franzego/dispatchd/internal/render"
	"github.com/franzego/dispatchd/internal/store"
	"github.com/franzego/dispatchd/internal/tasks"
	"github.com/franzego/dispatchd/pkg/circuitbreaker"
	"github.com/franzego/dispatchd/pkg/logger"
	"github.com/franzego/dispatchd/pkg/redis"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "dispatchd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	log := logger.WithModule("main")
	gin.SetMode(cfg.Server.Mode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(database.Config{
		Driver: cfg.Database.Driver,
		Path:   cfg.Database.Path,
		DSN:    cfg.Database.DSN,
	})
	if err != nil {
		return err
	}
	if cfg.Database.Seed {
		err = database.AutoMigrateAndSeed(db)
	} else {
		err = database.AutoMigrate(db)
	}
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	// rdb stays a nil interface when Redis is not configured.
	var rdb goredis.UniversalClient
	client, err := redis.InitRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if client != nil {
		rdb = client
		defer client.Close()
	}

	st, err := store.New(db)
	if err != nil {
		return err
	}
	registry, err := channels.NewDefaultRegistry(cfg.Channels)
	if err != nil {
		return err
	}
	breakers, err := newBreakers(cfg.Dispatch, rdb)
	if err != nil {
		return err
	}

	q, err := queue.Open(cfg, rdb)
	if err != nil {
		return err
	}
	defer q.Close()

	var deduper tasks.Deduper = tasks.NewMemoryDeduper()
	if rdb != nil {
		deduper = tasks.NewRedisDeduper(rdb)
	}
	enq := tasks.NewEnqueuer(q, tasks.WithDeduper(deduper, cfg.Queue.DedupeTTL))

	svc := dispatch.NewService(st, registry, breakers, render.New(logger.WithModule("render")),
		dispatch.WithMaxRetries(cfg.Dispatch.MaxRetries),
		dispatch.WithEnqueuer(enq),
	)
	backoff := tasks.Backoff{Base: cfg.Dispatch.RetryBase, Max: cfg.Dispatch.RetryMax}

	worker := tasks.NewWorker(q,
		tasks.WithConcurrency(cfg.Queue.Concurrency),
		tasks.WithRateLimit(cfg.Queue.RatePerSecond, cfg.Queue.Burst),
	)
	worker.RegisterHandler(queue.TaskSendNotification, tasks.NewSendHandler(svc, enq, backoff))

	router, err := handlers.NewRouter(cfg, handlers.Deps{
		DB:        db,
		Redis:     rdb,
		Queue:     q,
		Service:   svc,
		Templates: dispatch.NewTemplateService(st, registry),
	})
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.Timeout,
		WriteTimeout:      cfg.Server.Timeout,
	}

	var sweeper *tasks.Sweeper
	if cfg.Sweeps.Enabled {
		sweeper = tasks.NewSweeper(st, svc, enq, cfg.Sweeps, tasks.WithBackoff(backoff))
		if err := sweeper.Start(); err != nil {
			return fmt.Errorf("start sweeper: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(worker.Run(gctx))
	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if sweeper != nil {
			select {
			case <-sweeper.Stop().Done():
			case <-shutdownCtx.Done():
			}
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("dispatchd stopped with error", zap.Error(err))
		return err
	}
	log.Info("dispatchd stopped")
	return nil
}

func newBreakers(cfg config.DispatchConfig, rdb goredis.UniversalClient) (*circuitbreaker.Group, error) {
	settings := dispatch.BreakerSettings(cfg.FailureThreshold, cfg.RecoveryTimeout)
	switch cfg.BreakerDriver {
	case "", "local":
		return circuitbreaker.NewGroup(circuitbreaker.LocalFactory(settings)), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("breaker driver redis requires redis.addr")
		}
		return circuitbreaker.NewGroup(circuitbreaker.SharedFactory(rdb, settings)), nil
	default:
		return nil, fmt.Errorf("unsupported breaker driver %q", cfg.BreakerDriver)
	}
}
