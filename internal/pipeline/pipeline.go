// Package pipeline implements the Per-Item Pipeline (spec §4.J): the
// sequence a single queue item goes through on a worker goroutine,
// from company resolution through job-detail scraping, stop-list
// re-check, AI scoring, and the final Job Match write. Grounded on the
// teacher's internal/services executor shapes (one method per stage,
// explicit external adapters), generalized onto the tagged-outcome
// control flow spec §9 calls for instead of exceptions.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdubz/job-finder/internal/company"
	"github.com/jdubz/job-finder/internal/docstore"
	"github.com/jdubz/job-finder/internal/metrics"
	"github.com/jdubz/job-finder/internal/queue"
	"github.com/jdubz/job-finder/internal/stoplist"
)

// MatchesCollection holds Job Match documents keyed by url_hash (spec
// §6 "job-matches: keyed by url_hash").
const MatchesCollection = "job_finder_matches"

// Priority is the coarse urgency tag attached to a Job Match.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

// JobDetail is the scraped posting body (spec §6 scrape_job(url) ->
// detail).
type JobDetail struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// Profile is the candidate profile handed to the scorer; its shape is
// opaque to the core beyond being passed through.
type Profile struct {
	Raw json.RawMessage `json:"raw"`
}

// ScoreResult is the external LLM scorer's output (spec §6).
type ScoreResult struct {
	Score         int      `json:"score"`
	Priority      Priority `json:"priority"`
	MatchedSkills []string `json:"matchedSkills"`
	MissingSkills []string `json:"missingSkills"`
	Keywords      []string `json:"keywords"`
	Reasoning     string   `json:"reasoning"`
}

// JobMatch is the final output written by the pipeline (spec §3).
type JobMatch struct {
	URLHash       string    `json:"urlHash"`
	URL           string    `json:"url"`
	CompanySlug   string    `json:"companySlug"`
	CompanyName   string    `json:"companyName"`
	Score         int       `json:"score"`
	Priority      Priority  `json:"priority"`
	MatchedSkills []string  `json:"matchedSkills"`
	MissingSkills []string  `json:"missingSkills"`
	Keywords      []string  `json:"keywords"`
	Reasoning     string    `json:"reasoning"`
	IngestedAt    time.Time `json:"ingestedAt"`
	ScoredAt      time.Time `json:"scoredAt"`
}

// ScraperAdapter is the external job-detail scraper contract (spec
// §6): scrape_job(url) -> detail. Errors are classified into
// TRANSIENT, BLOCKED, PARSE_FAILED by the adapter implementation and
// surfaced as queue.ErrorKind by the pipeline.
type ScraperAdapter interface {
	ScrapeJob(ctx context.Context, url string) (JobDetail, error)
}

// Scorer is the external AI scorer contract (spec §6): score(profile,
// job, company) -> {score, priority, matched_skills, missing_skills,
// keywords, reasoning}.
type Scorer interface {
	Score(ctx context.Context, profile Profile, job JobDetail, facts company.Facts) (ScoreResult, error)
}

// OutcomeKind is the tag of the "Retry control flow" pattern (spec
// §9): each stage reports one of these instead of panicking or
// returning a bare error.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeSkip
	OutcomeRetry
	OutcomeTerminal
)

// Outcome is the tagged result of running a pipeline stage or the
// full pipeline for one item.
type Outcome struct {
	Kind      OutcomeKind
	ErrorKind queue.ErrorKind
	Reason    string
}

func success() Outcome                 { return Outcome{Kind: OutcomeSuccess} }
func skip(reason string) Outcome       { return Outcome{Kind: OutcomeSkip, Reason: reason} }
func retry(k queue.ErrorKind, msg string) Outcome {
	return Outcome{Kind: OutcomeRetry, ErrorKind: k, Reason: msg}
}
func terminal(k queue.ErrorKind, msg string) Outcome {
	return Outcome{Kind: OutcomeTerminal, ErrorKind: k, Reason: msg}
}

// Pipeline wires the per-item stages together and dispatches the
// queue completion call matching the final Outcome.
type Pipeline struct {
	gw        docstore.Gateway
	companies *company.Resolver
	stoplist  *stoplist.Loader
	queue     queue.Manager
	scraper   ScraperAdapter
	scorer    Scorer
	profile   Profile

	jobScrapeTimeout time.Duration
	scoreTimeout     time.Duration

	logger *slog.Logger
}

// New constructs a Pipeline. Zero-value timeouts fall back to spec
// §4.D defaults.
func New(
	gw docstore.Gateway,
	companies *company.Resolver,
	sl *stoplist.Loader,
	q queue.Manager,
	scraper ScraperAdapter,
	scorer Scorer,
	profile Profile,
	jobScrapeTimeout, scoreTimeout time.Duration,
	logger *slog.Logger,
) *Pipeline {
	if jobScrapeTimeout <= 0 {
		jobScrapeTimeout = 120 * time.Second
	}
	if scoreTimeout <= 0 {
		scoreTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		gw: gw, companies: companies, stoplist: sl, queue: q,
		scraper: scraper, scorer: scorer, profile: profile,
		jobScrapeTimeout: jobScrapeTimeout, scoreTimeout: scoreTimeout,
		logger: logger,
	}
}

// Run executes the full per-item pipeline for item and dispatches the
// matching queue.Manager call (Complete or Release) before returning.
// The returned error is only non-nil on an infrastructure failure
// while recording the outcome itself (spec §9 "the worker dispatches
// on the tag").
func (p *Pipeline) Run(ctx context.Context, item queue.Item) error {
	outcome := p.process(ctx, item)
	return p.dispatch(ctx, item, outcome)
}

func (p *Pipeline) process(ctx context.Context, item queue.Item) Outcome {
	facts, companySlug, companyErr := p.resolveCompany(ctx, item)
	if companyErr.Kind != OutcomeSuccess {
		return companyErr
	}

	if item.Type == queue.TypeCompany {
		return success()
	}

	detail, outcome := p.scrapeDetail(ctx, item)
	if outcome.Kind != OutcomeSuccess {
		return outcome
	}

	if excluded, reason := p.stoplist.IsExcluded(item.CompanyName, detail.Title, detail.Description, ""); excluded {
		return skip(reason)
	}

	result, outcome := p.score(ctx, detail, facts)
	if outcome.Kind != OutcomeSuccess {
		return outcome
	}

	minScore := p.stoplist.AISettings().MinMatchScore
	if result.Score < minScore {
		return skip("below_threshold")
	}

	match := JobMatch{
		URLHash:       item.URLHash,
		URL:           item.URL,
		CompanySlug:   companySlug,
		CompanyName:   item.CompanyName,
		Score:         result.Score,
		Priority:      result.Priority,
		MatchedSkills: result.MatchedSkills,
		MissingSkills: result.MissingSkills,
		Keywords:      result.Keywords,
		Reasoning:     result.Reasoning,
		IngestedAt:    item.CreatedAt,
		ScoredAt:      time.Now().UTC(),
	}
	if err := p.writeMatch(ctx, match); err != nil {
		return classifyStorageErr(err)
	}

	return success()
}

func (p *Pipeline) resolveCompany(ctx context.Context, item queue.Item) (company.Facts, string, Outcome) {
	if item.CompanyName == "" {
		return company.Facts{}, "", success()
	}
	rec, err := p.companies.ResolveOrCreate(ctx, item.CompanyName, "")
	if err != nil {
		return company.Facts{}, "", retry(queue.ErrorInternal, fmt.Sprintf("resolve company: %v", err))
	}
	if err := p.queue.SetCompanyID(item.ID, rec.ID); err != nil {
		p.logger.Warn("pipeline: failed to record resolved company id", "item", item.ID, "error", err)
	}
	return rec.Facts, rec.Slug, success()
}

func (p *Pipeline) scrapeDetail(ctx context.Context, item queue.Item) (JobDetail, Outcome) {
	if len(item.ScrapedData) > minScrapedDataLen {
		var detail JobDetail
		if err := json.Unmarshal(item.ScrapedData, &detail); err == nil && detail.Title != "" {
			return detail, success()
		}
	}

	scrapeCtx, cancel := context.WithTimeout(ctx, p.jobScrapeTimeout)
	defer cancel()

	detail, err := p.scraper.ScrapeJob(scrapeCtx, item.URL)
	if err != nil {
		return JobDetail{}, classifyScrapeErr(err)
	}

	if payload, merr := json.Marshal(detail); merr == nil {
		if serr := p.queue.SetScrapedData(item.ID, payload); serr != nil {
			p.logger.Warn("pipeline: failed to persist scraped data", "item", item.ID, "error", serr)
		}
	}
	return detail, success()
}

// minScrapedDataLen is the threshold below which scraped_data is
// treated as "sparse" and re-scraped (spec §4.J step 2).
const minScrapedDataLen = 16

func (p *Pipeline) score(ctx context.Context, detail JobDetail, facts company.Facts) (ScoreResult, Outcome) {
	scoreCtx, cancel := context.WithTimeout(ctx, p.scoreTimeout)
	defer cancel()

	result, err := p.scorer.Score(scoreCtx, p.profile, detail, facts)
	if err != nil {
		return ScoreResult{}, classifyScorerErr(err)
	}
	return result, success()
}

// writeMatch implements the §4.J step 6 conflict rule atomically via
// a single conditional update keyed on url_hash: higher score wins,
// and on an exact tie the newer scored_at timestamp wins.
func (p *Pipeline) writeMatch(ctx context.Context, match JobMatch) error {
	return p.gw.Update(ctx, MatchesCollection, match.URLHash, func(current json.RawMessage) (json.RawMessage, error) {
		if current == nil {
			return json.Marshal(match)
		}
		var existing JobMatch
		if err := json.Unmarshal(current, &existing); err != nil {
			return json.Marshal(match)
		}
		if match.Score > existing.Score {
			return json.Marshal(match)
		}
		if match.Score == existing.Score && match.ScoredAt.After(existing.ScoredAt) {
			return json.Marshal(match)
		}
		return json.Marshal(existing)
	})
}

// dispatch maps a tagged Outcome to the queue.Manager call that moves
// the item out of PROCESSING (spec §7 propagation policy).
func (p *Pipeline) dispatch(ctx context.Context, item queue.Item, outcome Outcome) error {
	metrics.RecordPipelineRun(string(item.Type), outcomeLabel(outcome.Kind))
	switch outcome.Kind {
	case OutcomeSuccess:
		metrics.RecordQueueComplete(string(queue.StatusSuccess))
		return p.queue.Complete(item.ID, queue.StatusSuccess, "matched")
	case OutcomeSkip:
		metrics.RecordQueueComplete(string(queue.StatusSkipped))
		return p.queue.Complete(item.ID, queue.StatusSkipped, outcome.Reason)
	case OutcomeTerminal:
		metrics.RecordQueueComplete(string(queue.StatusFailed))
		return p.queue.Complete(item.ID, queue.StatusFailed, string(outcome.ErrorKind)+": "+outcome.Reason)
	case OutcomeRetry:
		metrics.RecordQueueRelease(string(outcome.ErrorKind))
		return p.queue.Release(item.ID, outcome.ErrorKind, outcome.Reason)
	default:
		return fmt.Errorf("pipeline: unknown outcome kind %v", outcome.Kind)
	}
}

func outcomeLabel(k OutcomeKind) string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeSkip:
		return "skip"
	case OutcomeRetry:
		return "retry"
	case OutcomeTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// classifyScrapeErr maps the scraper adapter's closed error taxonomy
// (TRANSIENT, BLOCKED, PARSE_FAILED; spec §6) onto the core's error
// kinds and the propagation policy from spec §7.
func classifyScrapeErr(err error) Outcome {
	switch scraperKind(err) {
	case "BLOCKED":
		return retry(queue.ErrorBlocked, err.Error())
	case "PARSE_FAILED":
		return retry(queue.ErrorParseFailed, err.Error())
	default:
		return retry(queue.ErrorNetwork, err.Error())
	}
}

func classifyScorerErr(err error) Outcome {
	switch scorerKind(err) {
	case "RATE_LIMITED":
		return retry(queue.ErrorRateLimited, err.Error())
	default:
		return retry(queue.ErrorLLMFailed, err.Error())
	}
}

// classifyStorageErr implements spec §7's "STORAGE_PRECONDITION ⇒
// FAILED terminal immediately" rule; anything else is retried.
func classifyStorageErr(err error) Outcome {
	if docstore.KindOf(err) == docstore.KindPrecondition {
		return terminal(queue.ErrorStoragePrecondition, err.Error())
	}
	return retry(queue.ErrorStorageTransient, err.Error())
}

// kindedError lets adapters tag their errors with the taxonomy named
// in spec §6 without the core importing adapter packages.
type kindedError interface {
	Kind() string
}

func scraperKind(err error) string {
	if k, ok := err.(kindedError); ok {
		return k.Kind()
	}
	return ""
}

func scorerKind(err error) string {
	if k, ok := err.(kindedError); ok {
		return k.Kind()
	}
	return ""
}
