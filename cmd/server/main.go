package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cliply/cliply/internal/analytics"
	"github.com/cliply/cliply/internal/cache"
	"github.com/cliply/cliply/internal/clicks"
	"github.com/cliply/cliply/internal/config"
	"github.com/cliply/cliply/internal/httpapi"
	"github.com/cliply/cliply/internal/httpapi/middleware"
	"github.com/cliply/cliply/internal/links"
	"github.com/cliply/cliply/internal/migrations"
	"github.com/cliply/cliply/internal/resolver"
)

func main() {
	// JSON logs by default, pretty output on a TTY
	if isatty() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	cfg := config.Load()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("ping database")
	}

	if err := migrations.Up(cfg.DatabaseURL); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 10,
	})
	defer rdb.Close()

	repo := links.NewRepository(db)
	linkSvc := links.NewService(repo)
	redirects := resolver.New(repo, cache.New(rdb), cfg.CacheTTL)
	aggregator := analytics.New(repo)

	pool := clicks.New(repo, clicks.Config{
		Workers:    cfg.ClickWorkers,
		QueueSize:  cfg.ClickQueueSize,
		BatchSize:  cfg.ClickBatchSize,
		FlushEvery: cfg.ClickFlushEvery,
		MaxRetries: cfg.ClickMaxRetries,
	})
	pool.Start()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())

	// Creation is rate limited per IP; redirects never are.
	rateLimiter := middleware.NewRateLimiter(cfg.CreateRate, cfg.CreateRatePer)

	h := httpapi.New(linkSvc, redirects, pool, aggregator, cfg.BaseURL)
	h.Register(r, rateLimiter.Middleware())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}

	// Flush whatever clicks are still queued before closing the stores
	pool.Stop()
	log.Info().Msg("bye")
}

func isatty() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
