package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pocketbrain/pocketbrain-sync/internal/auth"
	"github.com/pocketbrain/pocketbrain-sync/internal/config"
	"github.com/pocketbrain/pocketbrain-sync/internal/db"
	"github.com/pocketbrain/pocketbrain-sync/internal/httpapi"
	"github.com/pocketbrain/pocketbrain-sync/internal/maintenance"
	"github.com/pocketbrain/pocketbrain-sync/internal/metrics"
	"github.com/pocketbrain/pocketbrain-sync/internal/realtime"
	"github.com/pocketbrain/pocketbrain-sync/internal/service/syncservice"
	"github.com/pocketbrain/pocketbrain-sync/internal/ticket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Configure structured logging
	zerolog.TimeFieldFormat = time.RFC3339Nano
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.With().Str("service", "pocketbrain-sync").Logger()

	// Pretty logging for local dev
	if cfg.IsDevelopment() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns: cfg.PGPoolMaxConns,
		MinConns: cfg.PGPoolMinConns,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		log.Fatal().Err(err).Msg("failed to apply schema")
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
	}

	g, ctx := errgroup.WithContext(ctx)

	hub := realtime.NewHub(rdb)
	hub.Start(ctx)
	metrics.RegisterFanoutDwell(prometheus.DefaultRegisterer, hub.DegradedDwellSeconds)

	ticketSecret := cfg.StreamTicketSecret
	if ticketSecret == "" {
		ticketSecret = "dev-stream-ticket-secret"
		log.Warn().Msg("STREAM_TICKET_SECRET not set, using insecure development secret")
	}
	var replay ticket.ReplayStore
	if rdb != nil {
		replay = ticket.NewRedisReplayStore(rdb)
	} else {
		replay = ticket.NewMemoryReplayStore()
	}
	tickets := ticket.NewService(ticketSecret, cfg.StreamTicketTTL, replay, cfg.IsProduction())

	svc := syncservice.New(pool, hub, cfg.SyncPullLimit)

	maint := maintenance.New(svc, maintenance.Config{
		Interval:           cfg.MaintenanceInterval,
		TombstoneRetention: cfg.TombstoneRetention,
		ChangeRetention:    cfg.ChangeRetention,
	})
	g.Go(func() error {
		maint.Run(ctx)
		return nil
	})

	srv := &httpapi.Server{
		DB:      pool,
		Auth:    auth.Config{IDPSecret: cfg.IDPSecretKey, DevAuth: cfg.DevAuthEnabled(), DevUserID: cfg.DevUserID},
		Sync:    svc,
		Hub:     hub,
		Tickets: tickets,
		Maint:   maint,
		Redis:   rdb,

		BatchLimit:           cfg.SyncBatchLimit,
		PullLimit:            cfg.SyncPullLimit,
		CORSOrigin:           cfg.CORSOrigin,
		RequireRedisForReady: cfg.RequireRedisForReady,
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Routes(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
		// WriteTimeout stays zero: event streams outlive any fixed deadline.
		// Request contexts hang off the group context so a shutdown signal
		// ends open streams and lets the listener drain.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr()).Str("env", cfg.Env).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server exited with error")
	}
	log.Info().Msg("server stopped")
}
