package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"kanban-board/api"
	"kanban-board/config"
	"kanban-board/storage"
)

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	defer rc.Close()

	logger := log.StandardLogger()
	notifier := storage.NewNotifier(rc, cfg.ChangesChannel, logger)
	base, err := storage.New(cfg.StorageOptions(), notifier, logger)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	store := storage.NewCache(base, rc, cfg.TasksCacheTTL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	broker := api.NewBroker(25 * time.Second)
	// Task changes from any process invalidate the cached list before SSE
	// clients are told to re-fetch.
	unfollow, err := broker.Follow(ctx, store.Follow(notifier))
	if err != nil {
		log.Fatalf("change stream: %v", err)
	}
	defer unfollow()

	recorder := api.NewRecorder(base, api.RecorderConfig{
		Workers:        cfg.ActivityWorkers,
		Buffer:         cfg.ActivityBuffer,
		HandoffTimeout: 15 * time.Millisecond,
	}, logger)
	defer recorder.Close()

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Decompress())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, "Idempotency-Key"},
	}))

	api.Register(e, api.Options{
		Store:    store,
		Broker:   broker,
		Deduper:  api.NewRedisDeduper(rc, cfg.DeduperTTL),
		Recorder: recorder,
		Logger:   logger,
		Scope:    cfg.BoardID,
	})

	go func() {
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()
	log.WithFields(log.Fields{"addr": cfg.ListenAddr, "board": cfg.BoardID}).Info("board api started")

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown")
	}
}
