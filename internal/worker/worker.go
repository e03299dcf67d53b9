// Package worker implements the Queue Worker (spec §4.I): a
// long-lived claim loop with a bounded fan-out of concurrent per-item
// pipeline runs, cooperative shutdown, and stale-lease recovery
// delegated entirely to the queue manager's Claim. Grounded on the
// teacher's internal/jobs/runner.go poll-and-dispatch loop,
// generalized from a job-type switch to a single pipeline.Run call
// per claimed item.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jdubz/job-finder/internal/metrics"
	"github.com/jdubz/job-finder/internal/queue"
)

// Pipeline is the subset of pipeline.Pipeline the worker depends on,
// kept as an interface so tests can substitute a fake without
// constructing a full Pipeline.
type Pipeline interface {
	Run(ctx context.Context, item queue.Item) error
}

// Settings are the tunables named in spec §4.I. cmd/worker builds the
// initial value from the static config's worker section and, on
// SIGHUP, replaces it via SetSettings with the stoplist.Loader's
// QueueSettings.
type Settings struct {
	BatchSize          int
	Lease              time.Duration
	MaxConcurrentItems int
	PollInterval       time.Duration
	ShutdownGrace      time.Duration
}

// DefaultSettings matches spec §4.I's defaults: B=10, T_lease=5m,
// P=4, poll_interval=60s.
func DefaultSettings() Settings {
	return Settings{
		BatchSize:          10,
		Lease:              5 * time.Minute,
		MaxConcurrentItems: 4,
		PollInterval:       60 * time.Second,
		ShutdownGrace:      30 * time.Second,
	}
}

// Worker runs the claim loop described in spec §4.I.
type Worker struct {
	queue    queue.Manager
	pipeline Pipeline
	logger   *slog.Logger

	mu       sync.RWMutex
	settings Settings

	wg sync.WaitGroup
}

// New constructs a Worker. A zero Settings is replaced with
// DefaultSettings.
func New(q queue.Manager, p Pipeline, settings Settings, logger *slog.Logger) *Worker {
	if settings.BatchSize <= 0 {
		settings = DefaultSettings()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{queue: q, pipeline: p, settings: settings, logger: logger}
}

// SetSettings atomically swaps the tunables, used when the stop list
// loader's SIGHUP-triggered reload changes queue_settings.
func (w *Worker) SetSettings(s Settings) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.settings = s
}

func (w *Worker) current() Settings {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.settings
}

// Run blocks, claiming and dispatching items, until ctx is cancelled
// (spec §4.I: SIGTERM/SIGINT stop claiming, wait for in-flight items
// up to a grace window, then return). Items still PROCESSING when Run
// returns are recovered by the next worker's stale-lease cleanup on
// its first Claim call.
func (w *Worker) Run(ctx context.Context) error {
	sem := w.claimSemaphore(w.current())

	for {
		select {
		case <-ctx.Done():
			return w.drain()
		default:
		}

		settings := w.current()

		items, err := w.queue.Claim(settings.BatchSize, settings.Lease)
		if err != nil {
			w.logger.Error("worker: claim failed", "error", err)
			if !sleepOrDone(ctx, settings.PollInterval) {
				return w.drain()
			}
			continue
		}

		if len(items) == 0 {
			if !sleepOrDone(ctx, settings.PollInterval) {
				return w.drain()
			}
			continue
		}

		metrics.RecordQueueClaim(len(items))

		for _, item := range items {
			item := item
			sem <- struct{}{}
			w.wg.Add(1)
			go func() {
				defer w.wg.Done()
				defer func() { <-sem }()
				w.runOne(ctx, item)
			}()
		}
	}
}

func (w *Worker) claimSemaphore(settings Settings) chan struct{} {
	p := settings.MaxConcurrentItems
	if p <= 0 {
		p = 1
	}
	return make(chan struct{}, p)
}

func (w *Worker) runOne(ctx context.Context, item queue.Item) {
	if err := w.pipeline.Run(ctx, item); err != nil {
		w.logger.Error("worker: pipeline run failed", "item", item.ID, "error", err)
	}
}

// drain waits for in-flight items up to ShutdownGrace before
// returning, matching spec §4.I's graceful shutdown.
func (w *Worker) drain() error {
	grace := w.current().ShutdownGrace
	if grace <= 0 {
		grace = 30 * time.Second
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(grace):
		w.logger.Warn("worker: shutdown grace window elapsed with items still in flight")
		return nil
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
