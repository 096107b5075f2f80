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

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/tripsync/internal/adapters/http"
	wssignal "github.com/dkeye/tripsync/internal/adapters/signal"
	"github.com/dkeye/tripsync/internal/app"
	"github.com/dkeye/tripsync/internal/app/lifecycle"
	"github.com/dkeye/tripsync/internal/app/orch"
	"github.com/dkeye/tripsync/internal/config"
	"github.com/dkeye/tripsync/internal/core"
	"github.com/dkeye/tripsync/internal/store/memory"
	"github.com/dkeye/tripsync/internal/store/pgstore"
	"github.com/dkeye/tripsync/internal/store/redisstore"
)

type stores interface {
	core.RoomRepository
	core.UserDirectory
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	store, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open store")
	}
	defer closeStore()

	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(store, cfg.Presence.IdleAfter, cfg.Presence.Timeout),
		Policy:   app.SimplePolicy{},
	}
	deps := router.Deps{
		Orch:      o,
		Lifecycle: lifecycle.NewService(store, store, cfg.BaseURL),
		Users:     store,
		Signal: wssignal.NewSignalWSController(o, wssignal.Options{
			ReadLimit:  cfg.ReadLimit,
			PingPeriod: cfg.PingPeriod,
			ChatLimit:  cfg.Chat.Limit,
			ChatWindow: cfg.Chat.Window,
		}),
	}

	r := router.SetupRouter(ctx, cfg, deps)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("TripSync server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		sweep(gctx, o, cfg.Presence.SweepInterval)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		if err := o.Rooms.FlushAll(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("flush rooms on shutdown")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	log.Info().Msg("Server exited gracefully")
}

// sweep demotes silent participants and periodically persists live rooms.
func sweep(ctx context.Context, o *orch.Orchestrator, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := o.SweepPresence(); n > 0 {
				log.Debug().Int("changes", n).Msg("presence sweep")
			}
			if err := o.Rooms.FlushAll(ctx); err != nil {
				log.Error().Err(err).Msg("periodic flush")
			}
		}
	}
}

func openStore(ctx context.Context, cfg config.StoreConfig) (stores, func(), error) {
	switch cfg.Driver {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return redisstore.New(client, cfg.Redis.Prefix, cfg.Redis.TTL), func() { _ = client.Close() }, nil
	case "postgres":
		db, err := pgstore.Open(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxOpenConns)
		if err != nil {
			return nil, nil, err
		}
		s := pgstore.New(db)
		if cfg.Postgres.Migrate {
			if err := s.Migrate(ctx); err != nil {
				_ = db.Close()
				return nil, nil, err
			}
		}
		return s, func() { _ = db.Close() }, nil
	default:
		log.Warn().Msg("using in-memory store; rooms are lost on restart")
		return memory.New(), func() {}, nil
	}
}
