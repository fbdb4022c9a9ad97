package main

import (
	"context"
	"database/sql"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"acomody/internal/adapters/notify"
	"acomody/internal/adapters/observability"
	redisad "acomody/internal/adapters/redis"
	"acomody/internal/app"
	"acomody/internal/domain"
	"acomody/internal/shared"
	mysqlrepo "acomody/internal/storage/mysql"
)

// sweepBatch bounds how many bookings one run completes.
const sweepBatch = 500

func main() {
	cfg, err := shared.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	// 1) initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv, cfg.LogFile)

	log.Info().
		Str("schedule", cfg.CompletionSchedule).
		Int("workers", cfg.WorkerConcurrency).
		Msg("worker starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := observability.InitRegistry()
	observability.Serve(cfg.MetricsAddr, reg)

	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("sql.Open failed")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("db.Ping failed")
	}
	log.Info().Msg("db ping ok")
	store := mysqlrepo.New(db)

	var cache domain.Cache
	if cfg.RedisAddr != "" {
		rc := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		defer rc.Close()
		cache = rc
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

	avail := app.NewAvailabilityService(store, cache, cfg.CacheTTL)
	pricing := app.NewPricingService(store, nil)
	bookings := app.NewBookingService(store, avail, pricing, notifier)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(cfg.CompletionSchedule, func() {
		sweep(ctx, bookings, cfg.WorkerConcurrency)
	}); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.CompletionSchedule).Msg("invalid completion schedule")
	}
	c.Start()

	// run once on boot so a restart does not wait a full interval
	sweep(ctx, bookings, cfg.WorkerConcurrency)

	<-ctx.Done()
	log.Info().Msg("worker stopping")
	<-c.Stop().Done()
	bookings.Wait()
}

// sweep completes confirmed bookings whose check-out has arrived.
func sweep(ctx context.Context, bookings *app.BookingService, workers int) {
	start := time.Now()
	due, err := bookings.DueForCompletion(ctx, sweepBatch)
	if err != nil {
		log.Error().Err(err).Msg("list due bookings failed")
		return
	}
	if len(due) == 0 {
		return
	}

	sem := semaphore.NewWeighted(int64(workers))
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)
	for _, b := range due {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			break // shutting down
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer sem.Release(1)

			if _, err := bookings.Complete(ctx, id, domain.System); err != nil {
				log.Warn().Str("booking_id", id).Err(err).Msg("complete failed")
				return
			}
			mu.Lock()
			completed++
			mu.Unlock()
		}(b.ID)
	}

	wg.Wait()
	log.Info().
		Int("due", len(due)).
		Int("completed", completed).
		Dur("took", time.Since(start)).
		Msg("completion sweep done")
}
