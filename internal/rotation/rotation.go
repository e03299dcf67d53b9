// Package rotation implements the Rotation Scheduler (spec §4.G): a
// deterministic pick of the next k sources to scrape from a registry
// snapshot, ordered by health, tier, staleness and company fairness.
// Grounded on the teacher's runner.go dispatch loop shape but with no
// randomization and no goroutine of its own — callers (the
// rotation-driver binary) own scheduling cadence.
package rotation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jdubz/job-finder/internal/metrics"
	"github.com/jdubz/job-finder/internal/sources"
)

// Candidate is one source as seen by the scheduler, carrying the
// company-level scrapes_per_day figure alongside the source record
// itself (spec §4.G ordering key component 4).
type Candidate struct {
	Record        sources.Record
	ScrapesPerDay float64
}

// Scheduler picks the next sources to scrape from a registry
// snapshot.
type Scheduler struct {
	tracker *sources.Tracker
}

// NewScheduler constructs a Scheduler reading from tracker.
func NewScheduler(tracker *sources.Tracker) *Scheduler {
	return &Scheduler{tracker: tracker}
}

// epoch stands in for "never scraped" in the ordering key (spec
// §4.G component 3).
var epoch = time.Unix(0, 0).UTC()

// Next returns the next k sources to scrape, enabled-only, ordered by
// the lexicographic key from spec §4.G:
//  1. -health_score (higher first)
//  2. tier_rank (S<A<B<C<D, lower first)
//  3. last_scraped_at (oldest first; never-scraped as epoch)
//  4. company_scrapes_per_day (lower first)
//
// Ties break on source_id. The result is fully deterministic given the
// registry snapshot; no randomization is used.
func (s *Scheduler) Next(ctx context.Context, k int) ([]sources.Record, error) {
	candidates, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	Rank(candidates)

	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]sources.Record, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, candidates[i].Record)
	}
	metrics.RecordRotationPick(len(out))
	return out, nil
}

func (s *Scheduler) snapshot(ctx context.Context) ([]Candidate, error) {
	recs, err := s.tracker.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("rotation: snapshot: %w", err)
	}

	candidates := make([]Candidate, 0, len(recs))
	for _, rec := range recs {
		perDay, err := s.tracker.ScrapesPerDay(ctx, rec.CompanyID)
		if err != nil {
			return nil, fmt.Errorf("rotation: scrapes per day for %s: %w", rec.CompanyID, err)
		}
		candidates = append(candidates, Candidate{Record: rec, ScrapesPerDay: perDay})
	}
	return candidates, nil
}

// Rank sorts candidates in place per the scheduler's ordering key.
// Exported so tests can apply the same ordering to a hand-built
// snapshot without a Tracker.
func Rank(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]

		if a.Record.HealthScore != b.Record.HealthScore {
			return a.Record.HealthScore > b.Record.HealthScore
		}
		if a.Record.Tier.Rank() != b.Record.Tier.Rank() {
			return a.Record.Tier.Rank() < b.Record.Tier.Rank()
		}
		aLast := lastScrapedOrEpoch(a.Record)
		bLast := lastScrapedOrEpoch(b.Record)
		if !aLast.Equal(bLast) {
			return aLast.Before(bLast)
		}
		if a.ScrapesPerDay != b.ScrapesPerDay {
			return a.ScrapesPerDay < b.ScrapesPerDay
		}
		return a.Record.SourceID.String() < b.Record.SourceID.String()
	})
}

func lastScrapedOrEpoch(rec sources.Record) time.Time {
	if rec.LastScrapedAt == nil {
		return epoch
	}
	return *rec.LastScrapedAt
}
