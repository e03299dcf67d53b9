// Command rotation-driver is the second long-running process named in
// spec §6: it periodically asks the Rotation Scheduler for the next
// sources to scrape, discovers job postings on each, and feeds them
// through the same Ingest Intake the webhook uses. Grounded on the
// teacher's corpus for a dedicated scheduler binary — raito has no
// equivalent, so the cobra+viper flag/env wiring here follows
// ScrapeGoat-And-ArchEnemy's cmd/webstalk/main.go root-command shape.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jdubz/job-finder/internal/config"
	"github.com/jdubz/job-finder/internal/dedupcache"
	"github.com/jdubz/job-finder/internal/discovery"
	"github.com/jdubz/job-finder/internal/docstore"
	"github.com/jdubz/job-finder/internal/ingest"
	"github.com/jdubz/job-finder/internal/migrate"
	"github.com/jdubz/job-finder/internal/queue"
	"github.com/jdubz/job-finder/internal/rotation"
	"github.com/jdubz/job-finder/internal/sources"
	"github.com/jdubz/job-finder/internal/stoplist"
)

var (
	cfgFile string
	dryRun  bool
)

func main() {
	root := &cobra.Command{
		Use:   "rotation-driver",
		Short: "Feeds the job queue by rotating through registered scrape sources",
		RunE:  runDriver,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config/config.yaml", "path to config file")
	root.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "discover and rank sources without enqueuing")

	viper.SetEnvPrefix("JOB_FINDER")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("dry-run", root.PersistentFlags().Lookup("dry-run"))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDriver(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(2)
	}

	if err := migrate.Run(cfg.Database.DSN); err != nil {
		logger.Error("migrations failed", "error", err)
		os.Exit(2)
	}

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		logger.Error("open db", "error", err)
		os.Exit(2)
	}
	defer db.Close()

	gw := &docstore.Postgres{DB: db}
	qm := queue.OpenPostgres(db)
	tracker := sources.NewTracker(gw)
	scheduler := rotation.NewScheduler(tracker)
	adapter := discovery.NewHTTPAdapter(30 * time.Second)

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	sl := stoplist.NewLoader(gw, time.Duration(cfg.StopList.RefreshIntervalSeconds)*time.Second, defaults, logger)
	sl.Start(ctx)

	cache := dedupcache.New(time.Duration(cfg.DedupCache.TTLSeconds)*time.Second, cfg.DedupCache.MaxEntries)
	intake := ingest.New(gw, cache, sl, qm)

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			logger.Info("reloading config on SIGHUP")
			sl.Reload(ctx)
		}
	}()

	backoff := retry.WithCappedDuration(
		time.Duration(cfg.Rotation.BackoffMaxSeconds)*time.Second,
		retry.WithJitter(time.Second, must(retry.NewExponential(time.Duration(cfg.Rotation.BackoffBaseSeconds)*time.Second))),
	)

	ticker := time.NewTicker(time.Duration(cfg.Rotation.IntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("rotation driver shutting down")
			return nil
		case <-ticker.C:
		}

		stats, err := qm.Stats()
		if err != nil {
			logger.Error("queue stats", "error", err)
			continue
		}
		if int(stats.Pending) > cfg.Queue.HighWatermark {
			delay, _ := backoff.Next()
			logger.Warn("queue above high watermark, backing off", "pending", stats.Pending, "delay", delay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}
		backoff = retry.WithCappedDuration(
			time.Duration(cfg.Rotation.BackoffMaxSeconds)*time.Second,
			retry.WithJitter(time.Second, must(retry.NewExponential(time.Duration(cfg.Rotation.BackoffBaseSeconds)*time.Second))),
		)

		picks, err := scheduler.Next(ctx, cfg.Rotation.BatchSize)
		if err != nil {
			logger.Error("rotation pick failed", "error", err)
			continue
		}

		for _, src := range picks {
			runOnce(ctx, src, adapter, intake, tracker, logger)
		}
	}
}

func runOnce(ctx context.Context, src sources.Record, adapter discovery.Adapter, intake *ingest.Intake, tracker *sources.Tracker, logger *slog.Logger) {
	start := time.Now()

	raw, err := adapter.Discover(ctx, src.EndpointURL, src.CompanyName)
	if err != nil {
		kind := "DISCOVERY_FAILED"
		if kinded, ok := err.(interface{ Kind() string }); ok {
			kind = kinded.Kind()
		}
		logger.Warn("discovery failed", "source", src.SourceID, "error", err)
		if rerr := tracker.RecordFailure(ctx, src.SourceID, kind); rerr != nil {
			logger.Error("record source failure", "error", rerr)
		}
		return
	}

	if dryRun {
		fmt.Printf("source %s (%s): %d candidate postings\n", src.SourceID, src.CompanyName, len(raw))
		return
	}

	queued := 0
	for _, job := range raw {
		outcome, err := intake.Ingest(ctx, ingest.Candidate{
			URL:         job.URL,
			CompanyName: job.CompanyName,
			Source:      queue.SourceScraper,
		})
		if err != nil {
			logger.Error("ingest failed", "url", job.URL, "error", err)
			continue
		}
		if outcome.Accepted {
			queued++
		}
	}

	if err := tracker.RecordSuccess(ctx, src.SourceID, queued, time.Since(start).Milliseconds()); err != nil {
		logger.Error("record source success", "error", err)
	}
}

func must(b retry.Backoff, err error) retry.Backoff {
	if err != nil {
		panic(err)
	}
	return b
}
