package company

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jdubz/job-finder/internal/docstore"
)

type fakeEnricher struct {
	facts Facts
	err   error
	delay time.Duration
}

func (f *fakeEnricher) Enrich(ctx context.Context, name, website string) (Facts, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Facts{}, ctx.Err()
		}
	}
	return f.facts, f.err
}

func TestResolveOrCreateNewCompany(t *testing.T) {
	gw := docstore.NewMemory()
	enricher := &fakeEnricher{facts: Facts{About: "We build things", Size: "50-100"}}
	r := NewResolver(gw, enricher, time.Second)

	rec, err := r.ResolveOrCreate(context.Background(), "Acme Corp", "https://acme.com")
	require.NoError(t, err)
	require.Equal(t, "acme-corp-acme-com", rec.Slug)
	require.Equal(t, AnalysisComplete, rec.AnalysisStatus)
	require.Equal(t, "We build things", rec.Facts.About)
}

func TestResolveOrCreateReturnsExisting(t *testing.T) {
	gw := docstore.NewMemory()
	enricher := &fakeEnricher{facts: Facts{About: "first"}}
	r := NewResolver(gw, enricher, time.Second)

	first, err := r.ResolveOrCreate(context.Background(), "Acme Corp", "https://acme.com")
	require.NoError(t, err)

	enricher.facts = Facts{About: "should not be used"}
	second, err := r.ResolveOrCreate(context.Background(), "Acme Corp", "https://acme.com")
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "first", second.Facts.About)
}

func TestResolveOrCreateDifferentWebsitesDoNotCollide(t *testing.T) {
	gw := docstore.NewMemory()
	enricherA := &fakeEnricher{facts: Facts{About: "maker of widgets"}}
	enricherB := &fakeEnricher{facts: Facts{About: "unrelated company"}}

	a, err := NewResolver(gw, enricherA, time.Second).ResolveOrCreate(context.Background(), "Acme", "https://acme.com")
	require.NoError(t, err)

	b, err := NewResolver(gw, enricherB, time.Second).ResolveOrCreate(context.Background(), "Acme", "https://acme.io")
	require.NoError(t, err)

	require.NotEqual(t, a.Slug, b.Slug)
	require.Equal(t, "maker of widgets", a.Facts.About)
	require.Equal(t, "unrelated company", b.Facts.About)
}

func TestResolveOrCreateTimeoutProceedsWithMinimalData(t *testing.T) {
	gw := docstore.NewMemory()
	enricher := &fakeEnricher{delay: 50 * time.Millisecond}
	r := NewResolver(gw, enricher, 5*time.Millisecond)

	rec, err := r.ResolveOrCreate(context.Background(), "Slow Co", "https://slow.example")
	require.NoError(t, err)
	require.Equal(t, AnalysisFailed, rec.AnalysisStatus)
	require.Equal(t, "slow-co-slow-example", rec.Slug)
}

func TestMergeNeverOverwritesWithEmpty(t *testing.T) {
	gw := docstore.NewMemory()
	enricher := &fakeEnricher{facts: Facts{About: "about", HQ: "NYC"}}
	r := NewResolver(gw, enricher, time.Second)

	_, err := r.ResolveOrCreate(context.Background(), "Acme", "https://acme.com")
	require.NoError(t, err)

	require.NoError(t, r.persist(context.Background(), Slugify("Acme", "https://acme.com"), Record{
		Facts:          Facts{Size: "500+"},
		AnalysisStatus: AnalysisComplete,
		UpdatedAt:      time.Now().UTC(),
	}))

	rec, err := r.ResolveOrCreate(context.Background(), "Acme", "https://acme.com")
	require.NoError(t, err)
	require.Equal(t, "about", rec.Facts.About)
	require.Equal(t, "NYC", rec.Facts.HQ)
	require.Equal(t, "500+", rec.Facts.Size)
}

func TestSlugify(t *testing.T) {
	require.Equal(t, "acme-corp", Slugify("Acme Corp", ""))
	require.Equal(t, "a-b-c", Slugify("  A & B / C  ", ""))
	require.Equal(t, "", Slugify("   ", ""))
	require.Equal(t, "acme-corp-acme-com", Slugify("Acme Corp", "https://acme.com"))
	require.Equal(t, "acme-corp-acme-com", Slugify("Acme Corp", "acme.com/careers"))
	require.NotEqual(t, Slugify("Acme", "https://acme.com"), Slugify("Acme", "https://acme.io"))
}
