// Command worker is the worker daemon entry point (spec §6 "CLI /
// process surface"): it drains the job queue through the per-item
// pipeline and serves the webhook/health/metrics HTTP surface.
// Grounded on raito's cmd/raito-api/main.go wiring shape (flag-parsed
// config path, migrate-then-open-db, slog text handler to stdout).
package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/jdubz/job-finder/internal/aiscorer"
	"github.com/jdubz/job-finder/internal/company"
	"github.com/jdubz/job-finder/internal/companyenrich"
	"github.com/jdubz/job-finder/internal/config"
	"github.com/jdubz/job-finder/internal/dedupcache"
	"github.com/jdubz/job-finder/internal/docstore"
	"github.com/jdubz/job-finder/internal/ingest"
	"github.com/jdubz/job-finder/internal/migrate"
	"github.com/jdubz/job-finder/internal/pipeline"
	"github.com/jdubz/job-finder/internal/queue"
	"github.com/jdubz/job-finder/internal/scraper"
	"github.com/jdubz/job-finder/internal/stoplist"
	"github.com/jdubz/job-finder/internal/webhook"
	"github.com/jdubz/job-finder/internal/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		return 2
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		return 2
	}

	if err := migrate.Run(cfg.Database.DSN); err != nil {
		logger.Error("migrations failed", "error", err)
		return 2
	}

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		logger.Error("open db", "error", err)
		return 2
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	gw := &docstore.Postgres{DB: db}
	qm := queue.OpenPostgres(db)

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Error("parse redis url", "error", err)
			return 2
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	defaults := stoplist.Snapshot{
		Queue: stoplist.QueueSettings{
			MaxRetries:               cfg.Queue.MaxRetries,
			RetryDelaySeconds:        cfg.Queue.RetryDelaySeconds,
			ProcessingTimeoutSeconds: cfg.Queue.ProcessingTimeoutSeconds,
			BatchSize:                cfg.Worker.BatchSize,
			LeaseSeconds:             cfg.Worker.LeaseSeconds,
			MaxConcurrentItems:       cfg.Worker.MaxConcurrentItems,
			PollIntervalSeconds:      cfg.Worker.PollIntervalSeconds,
		},
		AI: stoplist.AISettings{
			Provider:        cfg.AI.Provider,
			Model:           cfg.AI.Model,
			MinMatchScore:   cfg.AI.MinMatchScore,
			DailyCostBudget: cfg.AI.DailyCostBudget,
		},
	}
	sl := stoplist.NewLoader(gw, time.Duration(cfg.StopList.RefreshIntervalSeconds)*time.Second, defaults, logger)
	sl.Start(ctx)

	companies := company.NewResolver(gw, companyenrich.New(30*time.Second), time.Duration(cfg.Pipeline.CompanyAnalysisTimeoutSeconds)*time.Second)

	jobScraper := scraper.NewJobScraper(
		scraper.NewHTTPScraper(time.Duration(cfg.Pipeline.JobScrapeTimeoutSeconds)*time.Second),
		scraper.NewRodScraper(time.Duration(cfg.Pipeline.JobScrapeTimeoutSeconds)*time.Second),
	)

	scorer := aiscorer.New(os.Getenv("ANTHROPIC_API_KEY"), cfg.AI.Model, time.Duration(cfg.Pipeline.ScoreTimeoutSeconds)*time.Second, int(cfg.AI.DailyCostBudget))

	pl := pipeline.New(
		gw, companies, sl, qm, jobScraper, scorer, pipeline.Profile{},
		time.Duration(cfg.Pipeline.JobScrapeTimeoutSeconds)*time.Second,
		time.Duration(cfg.Pipeline.ScoreTimeoutSeconds)*time.Second,
		logger,
	)

	cache := dedupcache.New(time.Duration(cfg.DedupCache.TTLSeconds)*time.Second, cfg.DedupCache.MaxEntries)
	if cfg.Redis.Enabled {
		warmer, err := dedupcache.NewWarmer(cfg.Redis.URL, time.Duration(cfg.DedupCache.TTLSeconds)*time.Second)
		if err != nil {
			logger.Warn("dedup cache warmer unavailable", "error", err)
		} else {
			defer warmer.Close()
			if err := warmer.Prewarm(ctx, cache); err != nil {
				logger.Warn("dedup cache prewarm failed", "error", err)
			}
		}
	}

	intake := ingest.New(gw, cache, sl, qm)

	w := worker.New(qm, pl, worker.Settings{
		BatchSize:          cfg.Worker.BatchSize,
		Lease:              time.Duration(cfg.Worker.LeaseSeconds) * time.Second,
		MaxConcurrentItems: cfg.Worker.MaxConcurrentItems,
		PollInterval:       time.Duration(cfg.Worker.PollIntervalSeconds) * time.Second,
		ShutdownGrace:      time.Duration(cfg.Worker.ShutdownGraceSeconds) * time.Second,
	}, logger)

	srv := webhook.NewServer(cfg, gw, intake, rdb, logger)

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		if err := srv.Shutdown(); err != nil {
			logger.Error("webhook shutdown", "error", err)
		}
	}()

	go func() {
		sighup := make(chan os.Signal, 1)
		signal.Notify(sighup, syscall.SIGHUP)
		for range sighup {
			logger.Info("reloading config on SIGHUP")
			sl.Reload(ctx)
			qs := sl.QueueSettings()
			w.SetSettings(worker.Settings{
				BatchSize:          qs.BatchSize,
				Lease:              time.Duration(qs.LeaseSeconds) * time.Second,
				MaxConcurrentItems: qs.MaxConcurrentItems,
				PollInterval:       time.Duration(qs.PollIntervalSeconds) * time.Second,
				ShutdownGrace:      time.Duration(cfg.Worker.ShutdownGraceSeconds) * time.Second,
			})
		}
	}()

	workerErrCh := make(chan error, 1)
	go func() {
		workerErrCh <- w.Run(ctx)
	}()

	go runRetentionSweep(ctx, qm, time.Duration(cfg.Queue.CleanupRetentionHours)*time.Hour, logger)

	if err := srv.Listen(); err != nil {
		logger.Error("webhook server", "error", err)
	}

	if err := <-workerErrCh; err != nil {
		log.Printf("worker stopped with error: %v", err)
		return 1
	}
	return 0
}

// runRetentionSweep periodically deletes terminal queue items older than
// retention, freeing the table from completed/skipped/failed rows that
// have no further use. Runs once every six hours regardless of
// retention window size.
func runRetentionSweep(ctx context.Context, qm queue.Manager, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		n, err := qm.Cleanup(retention)
		if err != nil {
			logger.Error("retention cleanup failed", "error", err)
			continue
		}
		if n > 0 {
			logger.Info("retention cleanup", "deleted", n)
		}
	}
}
