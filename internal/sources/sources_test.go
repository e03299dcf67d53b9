package sources

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jdubz/job-finder/internal/docstore"
)

func TestRecordSuccessIncreasesHealthScore(t *testing.T) {
	gw := docstore.NewMemory()
	tracker := NewTracker(gw)
	ctx := context.Background()

	sourceID := uuid.New()
	require.NoError(t, tracker.Register(ctx, Record{SourceID: sourceID, CompanyID: uuid.New(), Tier: TierA, Enabled: true}))

	for i := 0; i < 5; i++ {
		require.NoError(t, tracker.RecordSuccess(ctx, sourceID, 10, 500))
	}

	rec, err := tracker.Get(ctx, sourceID)
	require.NoError(t, err)
	require.InDelta(t, 1.0, rec.HealthScore, 0.001)
	require.EqualValues(t, 5, rec.SuccessCount)
	require.EqualValues(t, 50, rec.TotalJobsFound)
	require.NotNil(t, rec.LastScrapedAt)
}

func TestRecordFailureDecreasesHealthScore(t *testing.T) {
	gw := docstore.NewMemory()
	tracker := NewTracker(gw)
	ctx := context.Background()

	sourceID := uuid.New()
	require.NoError(t, tracker.Register(ctx, Record{SourceID: sourceID, CompanyID: uuid.New(), Tier: TierA, Enabled: true}))

	for i := 0; i < 5; i++ {
		require.NoError(t, tracker.RecordFailure(ctx, sourceID, "NETWORK"))
	}

	rec, err := tracker.Get(ctx, sourceID)
	require.NoError(t, err)
	require.InDelta(t, 0.0, rec.HealthScore, 0.001)
	require.EqualValues(t, 5, rec.FailureCount)
}

func TestHealthScoreClampedAndWeightsRecentHigher(t *testing.T) {
	gw := docstore.NewMemory()
	tracker := NewTracker(gw)
	ctx := context.Background()

	sourceID := uuid.New()
	require.NoError(t, tracker.Register(ctx, Record{SourceID: sourceID, Enabled: true}))

	for i := 0; i < 3; i++ {
		require.NoError(t, tracker.RecordFailure(ctx, sourceID, "NETWORK"))
	}
	afterFailures, err := tracker.Get(ctx, sourceID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, tracker.RecordSuccess(ctx, sourceID, 1, 10))
	}
	afterRecovery, err := tracker.Get(ctx, sourceID)
	require.NoError(t, err)

	require.GreaterOrEqual(t, afterRecovery.HealthScore, 0.0)
	require.LessOrEqual(t, afterRecovery.HealthScore, 1.0)
	require.Greater(t, afterRecovery.HealthScore, afterFailures.HealthScore)
}

func TestListEnabledExcludesDisabled(t *testing.T) {
	gw := docstore.NewMemory()
	tracker := NewTracker(gw)
	ctx := context.Background()

	enabled := uuid.New()
	disabled := uuid.New()
	require.NoError(t, tracker.Register(ctx, Record{SourceID: enabled, Enabled: true}))
	require.NoError(t, tracker.Register(ctx, Record{SourceID: disabled, Enabled: false}))

	recs, err := tracker.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, enabled, recs[0].SourceID)
}

func TestScrapesPerDayCountsWithinWindow(t *testing.T) {
	gw := docstore.NewMemory()
	tracker := NewTracker(gw)
	ctx := context.Background()

	companyID := uuid.New()
	recent := time.Now().UTC().Add(-time.Hour)
	stale := time.Now().UTC().Add(-60 * 24 * time.Hour)

	require.NoError(t, tracker.Register(ctx, Record{SourceID: uuid.New(), CompanyID: companyID, Enabled: true, LastScrapedAt: &recent}))
	require.NoError(t, tracker.Register(ctx, Record{SourceID: uuid.New(), CompanyID: companyID, Enabled: true, LastScrapedAt: &stale}))

	perDay, err := tracker.ScrapesPerDay(ctx, companyID)
	require.NoError(t, err)
	require.InDelta(t, 1.0/30.0, perDay, 0.0001)
}

func TestTierRankOrdersSToD(t *testing.T) {
	require.Less(t, TierS.Rank(), TierA.Rank())
	require.Less(t, TierA.Rank(), TierB.Rank())
	require.Less(t, TierB.Rank(), TierC.Rank())
	require.Less(t, TierC.Rank(), TierD.Rank())
	require.Less(t, TierD.Rank(), Tier("unknown").Rank())
}
