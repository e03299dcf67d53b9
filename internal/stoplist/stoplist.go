// Package stoplist implements the Stop List & Config Loader (spec
// §4.D): a polled refresh of three documents in the job-finder-config
// collection, exposed as an immutable typed snapshot behind an atomic
// pointer swap, in the "dynamic config as typed snapshots" style
// described in spec §9 and grounded on the teacher's own
// decode-into-struct config loading (internal/config/config.go).
package stoplist

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jdubz/job-finder/internal/docstore"
)

// Collection and fixed document ids named in spec §6.
const (
	Collection       = "job_finder_config"
	DocStopList      = "stop-list"
	DocQueueSettings = "queue-settings"
	DocAISettings    = "ai-settings"
)

// StopListDoc is the shape of the "stop-list" document.
type StopListDoc struct {
	ExcludedCompanies []string `json:"excludedCompanies"`
	ExcludedKeywords  []string `json:"excludedKeywords"`
	ExcludedHosts     []string `json:"excludedHostSuffixes"`
}

// QueueSettings is the shape of the "queue-settings" document.
type QueueSettings struct {
	MaxRetries               int `json:"maxRetries"`
	RetryDelaySeconds        int `json:"retryDelaySeconds"`
	ProcessingTimeoutSeconds int `json:"processingTimeoutSeconds"`
	BatchSize                int `json:"batchSize"`
	LeaseSeconds             int `json:"leaseSeconds"`
	MaxConcurrentItems       int `json:"maxConcurrentItems"`
	PollIntervalSeconds      int `json:"pollIntervalSeconds"`
}

// AISettings is the shape of the "ai-settings" document.
type AISettings struct {
	Provider        string  `json:"provider"`
	Model           string  `json:"model"`
	MinMatchScore   int     `json:"minMatchScore"`
	DailyCostBudget float64 `json:"dailyCostBudget"`
}

// Snapshot is the immutable view exposed to callers between refreshes.
type Snapshot struct {
	StopList StopListDoc
	Queue    QueueSettings
	AI       AISettings
	LoadedAt time.Time
}

// Loader polls the config collection and keeps the last-known-good
// Snapshot available even when a refresh fails (spec §4.D "graceful
// degradation").
type Loader struct {
	gw       docstore.Gateway
	interval time.Duration
	logger   *slog.Logger

	snapshot atomic.Pointer[Snapshot]

	stop chan struct{}
	done chan struct{}
}

// NewLoader constructs a Loader seeded with defaults so callers never
// observe a nil snapshot, even before the first refresh completes.
func NewLoader(gw docstore.Gateway, interval time.Duration, defaults Snapshot, logger *slog.Logger) *Loader {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{
		gw:       gw,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	defaults.LoadedAt = time.Now()
	l.snapshot.Store(&defaults)
	return l
}

// Start launches the polling loop in a new goroutine. It performs one
// synchronous refresh attempt before returning so callers started
// right after Start see up-to-date config when the store is reachable.
func (l *Loader) Start(ctx context.Context) {
	l.refresh(ctx)

	go func() {
		defer close(l.done)
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stop:
				return
			case <-ticker.C:
				l.refresh(ctx)
			}
		}
	}()
}

// Reload forces an immediate refresh, used to implement SIGHUP
// handling in the process surface (spec §6).
func (l *Loader) Reload(ctx context.Context) {
	l.refresh(ctx)
}

// Stop halts the polling loop and waits for it to exit.
func (l *Loader) Stop() {
	close(l.stop)
	<-l.done
}

func (l *Loader) refresh(ctx context.Context) {
	next := *l.snapshot.Load()

	if doc, err := l.gw.Get(ctx, Collection, DocStopList); err != nil {
		l.logger.Error("stoplist: refresh failed, keeping last snapshot", "doc", DocStopList, "error", err)
	} else {
		var parsed StopListDoc
		if err := json.Unmarshal(doc, &parsed); err != nil {
			l.logger.Error("stoplist: decode failed, keeping last snapshot", "doc", DocStopList, "error", err)
		} else {
			next.StopList = parsed
		}
	}

	if doc, err := l.gw.Get(ctx, Collection, DocQueueSettings); err != nil {
		l.logger.Error("stoplist: refresh failed, keeping last snapshot", "doc", DocQueueSettings, "error", err)
	} else {
		var parsed QueueSettings
		if err := json.Unmarshal(doc, &parsed); err != nil {
			l.logger.Error("stoplist: decode failed, keeping last snapshot", "doc", DocQueueSettings, "error", err)
		} else {
			next.Queue = parsed
		}
	}

	if doc, err := l.gw.Get(ctx, Collection, DocAISettings); err != nil {
		l.logger.Error("stoplist: refresh failed, keeping last snapshot", "doc", DocAISettings, "error", err)
	} else {
		var parsed AISettings
		if err := json.Unmarshal(doc, &parsed); err != nil {
			l.logger.Error("stoplist: decode failed, keeping last snapshot", "doc", DocAISettings, "error", err)
		} else {
			next.AI = parsed
		}
	}

	next.LoadedAt = time.Now()
	l.snapshot.Store(&next)
}

// Snapshot returns the current immutable view. Reads require no
// locking beyond the atomic pointer load (spec §9 "Global state").
func (l *Loader) Snapshot() Snapshot {
	return *l.snapshot.Load()
}

// QueueSettings is a convenience accessor named after §4.D's
// queue_settings().
func (l *Loader) QueueSettings() QueueSettings {
	return l.snapshot.Load().Queue
}

// AISettings is a convenience accessor named after §4.D's
// ai_settings().
func (l *Loader) AISettings() AISettings {
	return l.snapshot.Load().AI
}

// IsExcluded implements §4.D's is_excluded: case-insensitive substring
// match against company names and title+description, and
// right-anchored suffix match against the host.
func (l *Loader) IsExcluded(companyName, title, description, host string) (bool, string) {
	snap := l.snapshot.Load()

	companyLower := strings.ToLower(companyName)
	for _, excluded := range snap.StopList.ExcludedCompanies {
		if excluded == "" {
			continue
		}
		if strings.Contains(companyLower, strings.ToLower(excluded)) {
			return true, "stop_listed:company"
		}
	}

	textLower := strings.ToLower(title + " " + description)
	for _, excluded := range snap.StopList.ExcludedKeywords {
		if excluded == "" {
			continue
		}
		if strings.Contains(textLower, strings.ToLower(excluded)) {
			return true, "stop_listed:keyword"
		}
	}

	hostLower := strings.ToLower(host)
	for _, suffix := range snap.StopList.ExcludedHosts {
		if suffix == "" {
			continue
		}
		if strings.HasSuffix(hostLower, strings.ToLower(suffix)) {
			return true, "stop_listed:host"
		}
	}

	return false, ""
}
