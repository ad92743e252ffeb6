// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"html/template"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/inkpot/internal/auth"
	"github.com/briangreenhill/inkpot/internal/bundle"
	"github.com/briangreenhill/inkpot/internal/config"
	"github.com/briangreenhill/inkpot/internal/content"
	"github.com/briangreenhill/inkpot/internal/http/routes"
	"github.com/briangreenhill/inkpot/internal/microcache"
	"github.com/briangreenhill/inkpot/internal/render"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("config error")
	}

	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if !cfg.IsProduction() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).Level(zerolog.DebugLevel)
	} else {
		logger = logger.Level(zerolog.InfoLevel)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Content
	var store content.Store = content.NewMemoryStore()
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("db error")
		}
		defer pool.Close()
		store = content.NewPGStore(pool)
	} else {
		logger.Warn().Msg("DATABASE_URL not set, serving from an empty in-memory store")
	}

	// Caches
	fragments := microcache.New[string, template.HTML](microcache.Options{
		Capacity: cfg.FragmentCacheMax,
		TTL:      cfg.FragmentCacheTTL,
	})
	var pages routes.PageCache
	if cfg.MicroCache {
		pages = microcache.New[string, []byte](microcache.Options{
			Capacity: cfg.MicroCacheMax,
			TTL:      cfg.MicroCacheTTL,
		})
	}

	// Renderer
	slot := render.NewSlot()
	opts := bundle.Options{Dir: cfg.BundleDir, Store: store, Fragments: fragments}
	if cfg.IsProduction() {
		r, err := bundle.Load(opts)
		if err != nil {
			logger.Fatal().Err(err).Str("dir", cfg.BundleDir).Msg("bundle error")
		}
		slot.Store(r)
	} else {
		w := bundle.NewWatcher(opts, cfg.WatchInterval, logger, func(r render.Renderer) {
			fragments.Purge()
			slot.Store(r)
		})
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("bundle watcher stopped")
			}
		}()
	}

	// Router / server
	s, err := routes.New(routes.ServerOptions{
		Cfg:       cfg,
		Gate:      auth.NewGate(auth.NewVerifier([]byte(cfg.JWTSecret))),
		Renderers: slot,
		Cache:     pages,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("router error")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown")
		}
	}()

	logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("listen")
	}
	logger.Info().Msg("server stopped")
}
