// Package sources implements the Source Registry & Health Tracker
// (spec §4.F): one record per scraping endpoint, with health_score
// recomputed on every success/failure report and a company-level
// scrapes_per_day derived from last_scraped_at across a 30-day
// window. Grounded on the teacher's source/company split in
// internal/store/store.go, generalized onto docstore.Gateway since a
// flat document is sufficient for this component (spec §3).
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jdubz/job-finder/internal/docstore"
	"github.com/jdubz/job-finder/internal/metrics"
)

func unmarshal(doc []byte, v any) error {
	return json.Unmarshal(doc, v)
}

// Collection holds one document per source record.
const Collection = "job_finder_sources"

// Tier is a coarse quality bucket, ordered S (best) through D.
type Tier string

const (
	TierS Tier = "S"
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
	TierD Tier = "D"
)

var tierRank = map[Tier]int{
	TierS: 0,
	TierA: 1,
	TierB: 2,
	TierC: 3,
	TierD: 4,
}

// Rank returns tier's ordering weight, lower is better. Unknown tiers
// sort after D.
func (t Tier) Rank() int {
	if r, ok := tierRank[t]; ok {
		return r
	}
	return len(tierRank)
}

// Record is a source document (spec §3 "Source Record").
type Record struct {
	SourceID             uuid.UUID  `json:"sourceId"`
	CompanyID            uuid.UUID  `json:"companyId"`
	CompanyName          string     `json:"companyName"`
	Kind                 string     `json:"kind"`
	EndpointURL          string     `json:"endpointUrl"`
	Enabled              bool       `json:"enabled"`
	Tier                 Tier       `json:"tier"`
	LastScrapedAt        *time.Time `json:"lastScrapedAt,omitempty"`
	LastScrapeDurationMS int64      `json:"lastScrapeDurationMs"`
	SuccessCount         int64      `json:"successCount"`
	FailureCount         int64      `json:"failureCount"`
	TotalJobsFound       int64      `json:"totalJobsFound"`
	HealthScore          float64    `json:"healthScore"`

	// recentOutcomes is a ring of the last N attempt outcomes (true =
	// success), used to compute the exponentially weighted average.
	// Exported for JSON round-tripping through the document store.
	RecentOutcomes []bool `json:"recentOutcomes,omitempty"`
}

const (
	// recentWindow bounds the exponentially weighted average to the
	// last N attempts, per spec §4.F.
	recentWindow = 20
	// decay weights more recent attempts higher; health_score is a
	// weighted mean of (success=+1, failure=-1) rescaled to [0,1].
	decay = 0.85
)

// Tracker implements record_success/record_failure and company-level
// scrapes_per_day over the source registry.
type Tracker struct {
	gw docstore.Gateway
}

// NewTracker constructs a Tracker backed by gw.
func NewTracker(gw docstore.Gateway) *Tracker {
	return &Tracker{gw: gw}
}

func key(sourceID uuid.UUID) string { return sourceID.String() }

// Register writes a new source record, assigning a fresh SourceID when
// none is set. Enabled is stored as given.
func (t *Tracker) Register(ctx context.Context, rec Record) error {
	if rec.SourceID == uuid.Nil {
		rec.SourceID = uuid.New()
	}
	return t.gw.Put(ctx, Collection, key(rec.SourceID), rec)
}

// Get fetches a single source record.
func (t *Tracker) Get(ctx context.Context, sourceID uuid.UUID) (Record, error) {
	doc, err := t.gw.Get(ctx, Collection, key(sourceID))
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := unmarshal(doc, &rec); err != nil {
		return Record{}, fmt.Errorf("sources: decode %s: %w", sourceID, err)
	}
	return rec, nil
}

// RecordSuccess updates counts, last_scraped_at and recomputes
// health_score after a successful scrape (spec §4.F).
func (t *Tracker) RecordSuccess(ctx context.Context, sourceID uuid.UUID, jobsFound int, durationMS int64) error {
	var kind string
	err := t.update(ctx, sourceID, func(rec Record) Record {
		now := time.Now().UTC()
		rec.LastScrapedAt = &now
		rec.LastScrapeDurationMS = durationMS
		rec.SuccessCount++
		rec.TotalJobsFound += int64(jobsFound)
		rec.RecentOutcomes = pushOutcome(rec.RecentOutcomes, true)
		rec.HealthScore = healthScore(rec.RecentOutcomes)
		kind = rec.Kind
		return rec
	})
	if err == nil {
		metrics.RecordSourceOutcome(kind, "success")
	}
	return err
}

// RecordFailure updates counts and recomputes health_score after a
// failed scrape attempt. The error kind is accepted for logging
// parity with the queue's taxonomy but does not change the formula.
func (t *Tracker) RecordFailure(ctx context.Context, sourceID uuid.UUID, errorKind string) error {
	var kind string
	err := t.update(ctx, sourceID, func(rec Record) Record {
		now := time.Now().UTC()
		rec.LastScrapedAt = &now
		rec.FailureCount++
		rec.RecentOutcomes = pushOutcome(rec.RecentOutcomes, false)
		rec.HealthScore = healthScore(rec.RecentOutcomes)
		kind = rec.Kind
		return rec
	})
	if err == nil {
		metrics.RecordSourceOutcome(kind, "failure")
	}
	return err
}

func (t *Tracker) update(ctx context.Context, sourceID uuid.UUID, fn func(Record) Record) error {
	return t.gw.Update(ctx, Collection, key(sourceID), func(current json.RawMessage) (json.RawMessage, error) {
		var rec Record
		if current != nil {
			if err := unmarshal(current, &rec); err != nil {
				return nil, fmt.Errorf("sources: decode %s: %w", sourceID, err)
			}
		} else {
			rec.SourceID = sourceID
		}
		return json.Marshal(fn(rec))
	})
}

// pushOutcome appends outcome, keeping only the last recentWindow
// entries (spec §4.F "last N attempts").
func pushOutcome(outcomes []bool, outcome bool) []bool {
	outcomes = append(outcomes, outcome)
	if len(outcomes) > recentWindow {
		outcomes = outcomes[len(outcomes)-recentWindow:]
	}
	return outcomes
}

// healthScore computes an exponentially weighted average of
// (successes-failures)/attempts over outcomes, most recent weighted
// highest, clamped to [0,1] (spec §4.F).
func healthScore(outcomes []bool) float64 {
	if len(outcomes) == 0 {
		return 1.0
	}

	var weightedSum, weightTotal float64
	weight := 1.0
	// Iterate from most recent to oldest, decaying weight each step.
	for i := len(outcomes) - 1; i >= 0; i-- {
		v := -1.0
		if outcomes[i] {
			v = 1.0
		}
		weightedSum += v * weight
		weightTotal += weight
		weight *= decay
	}

	raw := weightedSum / weightTotal // in [-1, 1]
	score := (raw + 1) / 2           // rescale to [0, 1]
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score
}

// ListEnabled returns all enabled source records, used as the
// rotation scheduler's input snapshot.
func (t *Tracker) ListEnabled(ctx context.Context) ([]Record, error) {
	docs, err := t.gw.Query(ctx, Collection, []docstore.Filter{{Field: "enabled", Op: "=", Value: true}}, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("sources: list enabled: %w", err)
	}
	recs := make([]Record, 0, len(docs))
	for _, doc := range docs {
		var rec Record
		if err := unmarshal(doc, &rec); err != nil {
			return nil, fmt.Errorf("sources: decode: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// ScrapesPerDay computes company_scrapes_per_day(company_id) over a
// 30-day window by scanning that company's sources' last_scraped_at
// (spec §4.F). It is a point-in-time estimate: (scrapes in window) /
// 30.
func (t *Tracker) ScrapesPerDay(ctx context.Context, companyID uuid.UUID) (float64, error) {
	docs, err := t.gw.Query(ctx, Collection, []docstore.Filter{{Field: "companyId", Op: "=", Value: companyID.String()}}, nil, 0)
	if err != nil {
		return 0, fmt.Errorf("sources: scrapes per day: %w", err)
	}

	const window = 30 * 24 * time.Hour
	cutoff := time.Now().UTC().Add(-window)

	var count int
	for _, doc := range docs {
		var rec Record
		if err := unmarshal(doc, &rec); err != nil {
			return 0, fmt.Errorf("sources: decode: %w", err)
		}
		if rec.LastScrapedAt != nil && rec.LastScrapedAt.After(cutoff) {
			count++
		}
	}
	return float64(count) / 30.0, nil
}
