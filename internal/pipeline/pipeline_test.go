package pipeline

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jdubz/job-finder/internal/company"
	"github.com/jdubz/job-finder/internal/docstore"
	"github.com/jdubz/job-finder/internal/queue"
	"github.com/jdubz/job-finder/internal/stoplist"
)

type fakeEnricher struct{}

func (fakeEnricher) Enrich(ctx context.Context, name, website string) (company.Facts, error) {
	return company.Facts{About: "test co"}, nil
}

type fakeScraper struct {
	detail JobDetail
	err    error
}

func (f *fakeScraper) ScrapeJob(ctx context.Context, url string) (JobDetail, error) {
	return f.detail, f.err
}

type taggedError struct {
	kind string
	msg  string
}

func (e taggedError) Error() string { return e.msg }
func (e taggedError) Kind() string  { return e.kind }

type fakeScorer struct {
	calls   int
	results []ScoreResult
	errs    []error
}

func (f *fakeScorer) Score(ctx context.Context, profile Profile, job JobDetail, facts company.Facts) (ScoreResult, error) {
	i := f.calls
	f.calls++
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	var result ScoreResult
	if i < len(f.results) {
		result = f.results[i]
	}
	return result, err
}

func setup(t *testing.T, scraper ScraperAdapter, scorer Scorer, minScore int) (*Pipeline, queue.Manager, docstore.Gateway) {
	t.Helper()
	gw := docstore.NewMemory()
	q := queue.NewMemory()
	resolver := company.NewResolver(gw, fakeEnricher{}, time.Second)

	require.NoError(t, gw.Put(context.Background(), stoplist.Collection, stoplist.DocAISettings, stoplist.AISettings{MinMatchScore: minScore}))
	loader := stoplist.NewLoader(gw, time.Hour, stoplist.Snapshot{}, nil)
	loader.Reload(context.Background())

	p := New(gw, resolver, loader, q, scraper, scorer, Profile{}, time.Second, time.Second, nil)
	return p, q, gw
}

// TestPipelineRetryThenSuccessScenario4 mirrors spec scenario 4: the
// first scorer call raises LLM_FAILED, the item releases and
// re-claims, the second attempt succeeds with score=88/priority=HIGH,
// a Job Match is written, and the final status is SUCCESS with
// retry_count=1.
func TestPipelineRetryThenSuccessScenario4(t *testing.T) {
	scraper := &fakeScraper{detail: JobDetail{Title: "Engineer", Description: "Build things"}}
	scorer := &fakeScorer{
		errs:    []error{taggedError{kind: "TIMEOUT", msg: "scorer timed out"}, nil},
		results: []ScoreResult{{}, {Score: 88, Priority: PriorityHigh}},
	}
	p, q, gw := setup(t, scraper, scorer, 60)

	item, err := q.Enqueue(queue.NewItem{Type: queue.TypeJob, URL: "https://acme.com/jobs/1", URLHash: "hash-1", CompanyName: "Acme", Source: queue.SourceScraper, MaxRetries: 3})
	require.NoError(t, err)

	claimed, err := q.Claim(1, time.Minute)
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background(), claimed[0]))

	afterFirst, err := q.Get(item.ID)
	require.NoError(t, err)
	require.Equal(t, queue.StatusPending, afterFirst.Status)
	require.Equal(t, 1, afterFirst.RetryCount)

	claimed, err = q.Claim(1, time.Minute)
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background(), claimed[0]))

	final, err := q.Get(item.ID)
	require.NoError(t, err)
	require.Equal(t, queue.StatusSuccess, final.Status)
	require.Equal(t, 1, final.RetryCount)

	doc, err := gw.Get(context.Background(), MatchesCollection, "hash-1")
	require.NoError(t, err)
	var match JobMatch
	require.NoError(t, json.Unmarshal(doc, &match))
	require.Equal(t, 88, match.Score)
	require.Equal(t, PriorityHigh, match.Priority)
}

func TestPipelineBelowThresholdSkips(t *testing.T) {
	scraper := &fakeScraper{detail: JobDetail{Title: "Intern", Description: "Junior role"}}
	scorer := &fakeScorer{results: []ScoreResult{{Score: 40, Priority: PriorityLow}}}
	p, q, _ := setup(t, scraper, scorer, 60)

	item, err := q.Enqueue(queue.NewItem{Type: queue.TypeJob, URL: "https://acme.com/jobs/2", URLHash: "hash-2", CompanyName: "Acme", Source: queue.SourceScraper})
	require.NoError(t, err)
	claimed, err := q.Claim(1, time.Minute)
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background(), claimed[0]))

	final, err := q.Get(item.ID)
	require.NoError(t, err)
	require.Equal(t, queue.StatusSkipped, final.Status)
	require.Equal(t, "below_threshold", final.ResultMessage)
}

func TestPipelineStopListedAfterScrapeSkips(t *testing.T) {
	gw := docstore.NewMemory()
	q := queue.NewMemory()
	resolver := company.NewResolver(gw, fakeEnricher{}, time.Second)
	require.NoError(t, gw.Put(context.Background(), stoplist.Collection, stoplist.DocStopList, stoplist.StopListDoc{ExcludedKeywords: []string{"unpaid internship"}}))
	loader := stoplist.NewLoader(gw, time.Hour, stoplist.Snapshot{}, nil)
	loader.Reload(context.Background())

	scraper := &fakeScraper{detail: JobDetail{Title: "Summer Role", Description: "This is an unpaid internship"}}
	scorer := &fakeScorer{}
	p := New(gw, resolver, loader, q, scraper, scorer, Profile{}, time.Second, time.Second, nil)

	item, err := q.Enqueue(queue.NewItem{Type: queue.TypeJob, URL: "https://acme.com/jobs/3", URLHash: "hash-3", CompanyName: "Acme", Source: queue.SourceScraper})
	require.NoError(t, err)
	claimed, err := q.Claim(1, time.Minute)
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background(), claimed[0]))

	final, err := q.Get(item.ID)
	require.NoError(t, err)
	require.Equal(t, queue.StatusSkipped, final.Status)
	require.Equal(t, "stop_listed:keyword", final.ResultMessage)
}

func TestPipelineMatchConflictHigherScoreWins(t *testing.T) {
	p, q, gw := setup(t, &fakeScraper{detail: JobDetail{Title: "Engineer", Description: "desc"}}, &fakeScorer{results: []ScoreResult{{Score: 70, Priority: PriorityMedium}}}, 60)

	item, err := q.Enqueue(queue.NewItem{Type: queue.TypeJob, URL: "https://acme.com/jobs/4", URLHash: "hash-4", CompanyName: "Acme", Source: queue.SourceScraper})
	require.NoError(t, err)
	claimed, err := q.Claim(1, time.Minute)
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background(), claimed[0]))
	_ = item

	ctx := context.Background()
	require.NoError(t, p.writeMatch(ctx, JobMatch{URLHash: "hash-4", Score: 50, ScoredAt: time.Now().UTC()}))

	doc, err := gw.Get(ctx, MatchesCollection, "hash-4")
	require.NoError(t, err)
	var match JobMatch
	require.NoError(t, json.Unmarshal(doc, &match))
	require.Equal(t, 70, match.Score)
}

func TestPipelineCompanyOnlyItemSkipsScraping(t *testing.T) {
	p, q, _ := setup(t, &fakeScraper{err: taggedError{kind: "BLOCKED", msg: "should not be called"}}, &fakeScorer{}, 60)

	item, err := q.Enqueue(queue.NewItem{Type: queue.TypeCompany, URL: "https://acme.com", URLHash: "hash-company", CompanyName: "Acme", Source: queue.SourceUserSubmission})
	require.NoError(t, err)
	claimed, err := q.Claim(1, time.Minute)
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background(), claimed[0]))

	final, err := q.Get(item.ID)
	require.NoError(t, err)
	require.Equal(t, queue.StatusSuccess, final.Status)
}

func TestPipelineScrapeBlockedRetries(t *testing.T) {
	p, q, _ := setup(t, &fakeScraper{err: taggedError{kind: "BLOCKED", msg: "blocked by waf"}}, &fakeScorer{}, 60)

	item, err := q.Enqueue(queue.NewItem{Type: queue.TypeJob, URL: "https://acme.com/jobs/5", URLHash: "hash-5", CompanyName: "Acme", Source: queue.SourceScraper, MaxRetries: 5})
	require.NoError(t, err)
	claimed, err := q.Claim(1, time.Minute)
	require.NoError(t, err)
	require.NoError(t, p.Run(context.Background(), claimed[0]))

	final, err := q.Get(item.ID)
	require.NoError(t, err)
	require.Equal(t, queue.StatusPending, final.Status)
	require.NotNil(t, final.ErrorDetails)
	require.Equal(t, queue.ErrorBlocked, final.ErrorDetails.Kind)
}
