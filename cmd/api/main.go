package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"acomody/internal/adapters/fx"
	server "acomody/internal/adapters/http_server"
	"acomody/internal/adapters/notify"
	"acomody/internal/adapters/observability"
	redisad "acomody/internal/adapters/redis"
	"acomody/internal/app"
	"acomody/internal/domain"
	"acomody/internal/shared"
	"acomody/internal/storage/memory"
	mysqlrepo "acomody/internal/storage/mysql"
)

func main() {
	cfg, err := shared.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := observability.InitRegistry()
	observability.Serve(cfg.MetricsAddr, reg)

	// store
	var store interface {
		domain.Store
		UpsertListing(ctx context.Context, l domain.Listing) error
	}
	switch cfg.Store {
	case "memory":
		store = memory.New()
		log.Warn().Msg("using in-memory store; data is lost on restart")
	default:
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("sql.Open failed")
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Fatal().Err(err).Msg("db.Ping failed")
		}
		log.Info().Msg("database connection ok")
		store = mysqlrepo.New(db)
	}

	if cfg.ListingsFile != "" {
		listings, err := shared.LoadListings(cfg.ListingsFile)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load listings")
		}
		for _, l := range listings {
			if err := store.UpsertListing(ctx, l); err != nil {
				log.Fatal().Err(err).Str("entity", l.Ref.String()).Msg("failed to seed listing")
			}
		}
		log.Info().Int("listings", len(listings)).Str("file", cfg.ListingsFile).Msg("listings seeded")
	}

	// cache is optional; a nil interface disables it
	var cache domain.Cache
	if cfg.RedisAddr != "" {
		rc := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		defer rc.Close()
		if err := rc.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("redis unreachable; calendar cache disabled")
		} else {
			cache = rc
		}
	}

	var converter domain.CurrencyConverter
	if cfg.FXBaseURL != "" {
		c, err := fx.New(cfg.FXBaseURL, cfg.FXKey, cfg.FXRPS)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize fx client")
		}
		converter = c
	}

	var notifier domain.Notifier
	if len(cfg.KafkaBrokers) > 0 {
		k, err := notify.NewKafka(notify.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize kafka producer")
		}
		defer k.Close()
		notifier = k
	}

	// services
	avail := app.NewAvailabilityService(store, cache, cfg.CacheTTL)
	pricing := app.NewPricingService(store, converter)
	catalog := app.NewCatalogService(store, converter)
	history := app.NewHistoryService(store, avail)
	bookings := app.NewBookingService(store, avail, pricing, notifier)

	// http
	srv := server.New()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{
		Availability: avail, Pricing: pricing, Bookings: bookings, History: history,
		Catalog: catalog, Listings: store,
	})

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("store", cfg.Store).Msg("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	bookings.Wait()
}
