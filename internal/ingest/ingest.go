// Package ingest implements the Ingest Intake (spec §4.H): the single
// entry point that turns a raw candidate URL into a queued JOB or
// COMPANY item, applying canonicalization, the stop list and dedup in
// that order before ever touching the queue. Grounded on the
// teacher's batch_scrape.go request-validation-then-dispatch shape,
// generalized from HTTP handler to a plain library call so both the
// webhook and the rotation driver can share it.
package ingest

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jdubz/job-finder/internal/dedupcache"
	"github.com/jdubz/job-finder/internal/docstore"
	"github.com/jdubz/job-finder/internal/metrics"
	"github.com/jdubz/job-finder/internal/queue"
	"github.com/jdubz/job-finder/internal/stoplist"
	"github.com/jdubz/job-finder/internal/urlnorm"
)

// MatchesCollection is queried by batch_exists to rule out candidates
// that already produced a Job Match (spec §4.H step 3).
const MatchesCollection = "job_finder_matches"

// Candidate is the Ingest Intake's input shape (spec §4.H).
type Candidate struct {
	URL         string
	CompanyName string
	Website     string
	Type        queue.ItemType
	Source      queue.Source
	SubmittedBy string
	ScrapedData []byte
}

// Outcome is the result of ingesting one candidate.
type Outcome struct {
	Accepted bool
	Skipped  bool
	Reason   string
	Item     queue.Item
}

// Intake wires the dedup cache, stop list and queue manager together
// per the §4.H pipeline.
type Intake struct {
	gw       docstore.Gateway
	cache    *dedupcache.Cache
	stoplist *stoplist.Loader
	queue    queue.Manager
}

// New constructs an Intake.
func New(gw docstore.Gateway, cache *dedupcache.Cache, sl *stoplist.Loader, q queue.Manager) *Intake {
	return &Intake{gw: gw, cache: cache, stoplist: sl, queue: q}
}

// Ingest runs a single candidate through the full pipeline (spec
// §4.H steps 1-4).
func (in *Intake) Ingest(ctx context.Context, c Candidate) (Outcome, error) {
	canonical, hash := urlnorm.CanonicalizeAndHash(c.URL)

	sourceLabel := string(c.Source)

	host := hostOf(canonical)
	if excluded, reason := in.stoplist.IsExcluded(c.CompanyName, "", "", host); excluded {
		metrics.RecordIngest(sourceLabel, "skipped", reason)
		return Outcome{Skipped: true, Reason: reason}, nil
	}

	duplicate, err := in.isDuplicate(ctx, hash)
	if err != nil {
		return Outcome{}, fmt.Errorf("ingest: dedup check: %w", err)
	}
	if duplicate {
		metrics.RecordIngest(sourceLabel, "skipped", "duplicate")
		return Outcome{Skipped: true, Reason: "duplicate"}, nil
	}

	itemType := c.Type
	if itemType == "" {
		itemType = queue.TypeJob
	}

	item, err := in.queue.Enqueue(queue.NewItem{
		Type:        itemType,
		URL:         canonical,
		URLHash:     hash,
		CompanyName: c.CompanyName,
		Source:      c.Source,
		SubmittedBy: c.SubmittedBy,
		ScrapedData: c.ScrapedData,
	})
	if err != nil {
		if err == queue.ErrDuplicateURL {
			metrics.RecordIngest(sourceLabel, "skipped", "duplicate")
			return Outcome{Skipped: true, Reason: "duplicate"}, nil
		}
		return Outcome{}, fmt.Errorf("ingest: enqueue: %w", err)
	}

	in.cache.Set(hash, true)
	metrics.RecordIngest(sourceLabel, "queued", "")
	return Outcome{Accepted: true, Item: item}, nil
}

// IngestBatch runs a batch through the §4.H bulk variant, collapsing
// duplicates within the batch before the dedup-cache/batch_exists
// check so that a burst of identical URLs produces exactly one
// accepted item.
func (in *Intake) IngestBatch(ctx context.Context, candidates []Candidate) ([]Outcome, error) {
	seenInBatch := make(map[string]bool, len(candidates))
	outcomes := make([]Outcome, len(candidates))

	for i, c := range candidates {
		_, hash := urlnorm.CanonicalizeAndHash(c.URL)
		if seenInBatch[hash] {
			metrics.RecordIngest(string(c.Source), "skipped", "duplicate")
			outcomes[i] = Outcome{Skipped: true, Reason: "duplicate"}
			continue
		}
		seenInBatch[hash] = true

		outcome, err := in.Ingest(ctx, c)
		if err != nil {
			return outcomes, err
		}
		outcomes[i] = outcome
	}
	return outcomes, nil
}

// isDuplicate implements step 3: a dedup-cache hit short-circuits the
// check; a miss falls through to batch_exists against the matches
// collection. Non-terminal duplicates already queued are caught by
// Enqueue's own url_hash check (spec §4.E), so this only needs to
// guard against candidates that already produced a Job Match.
func (in *Intake) isDuplicate(ctx context.Context, hash string) (bool, error) {
	if exists, hit := in.cache.Check(hash); hit {
		return exists, nil
	}

	results, err := in.gw.BatchExists(ctx, MatchesCollection, []string{hash})
	if err != nil {
		return false, err
	}
	in.cache.SetMany(results)
	return results[hash], nil
}

func hostOf(canonicalURL string) string {
	u, err := url.Parse(canonicalURL)
	if err != nil {
		return ""
	}
	return u.Host
}
