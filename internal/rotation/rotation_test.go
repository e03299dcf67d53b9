package rotation

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jdubz/job-finder/internal/sources"
)

// TestRankScenario5 mirrors spec scenario 5 literally: A(tier=S,
// health=0.9, last=1h ago), B(tier=S, health=0.9, last=2h ago),
// C(tier=A, health=1.0, last=1h ago), k=2 -> [C, B].
func TestRankScenario5(t *testing.T) {
	now := time.Now().UTC()
	oneHourAgo := now.Add(-time.Hour)
	twoHoursAgo := now.Add(-2 * time.Hour)

	a := sources.Record{SourceID: uuid.MustParse("00000000-0000-0000-0000-00000000000a"), Tier: sources.TierS, HealthScore: 0.9, LastScrapedAt: &oneHourAgo}
	b := sources.Record{SourceID: uuid.MustParse("00000000-0000-0000-0000-00000000000b"), Tier: sources.TierS, HealthScore: 0.9, LastScrapedAt: &twoHoursAgo}
	c := sources.Record{SourceID: uuid.MustParse("00000000-0000-0000-0000-00000000000c"), Tier: sources.TierA, HealthScore: 1.0, LastScrapedAt: &oneHourAgo}

	candidates := []Candidate{{Record: a}, {Record: b}, {Record: c}}
	Rank(candidates)

	require.Equal(t, c.SourceID, candidates[0].Record.SourceID)
	require.Equal(t, b.SourceID, candidates[1].Record.SourceID)
	require.Equal(t, a.SourceID, candidates[2].Record.SourceID)
}

func TestRankNeverScrapedSortsAsEpoch(t *testing.T) {
	now := time.Now().UTC()

	scraped := sources.Record{SourceID: uuid.New(), Tier: sources.TierA, HealthScore: 0.5, LastScrapedAt: &now}
	neverScraped := sources.Record{SourceID: uuid.New(), Tier: sources.TierA, HealthScore: 0.5}

	candidates := []Candidate{{Record: scraped}, {Record: neverScraped}}
	Rank(candidates)

	require.Equal(t, neverScraped.SourceID, candidates[0].Record.SourceID)
}

func TestRankTieBreaksOnSourceID(t *testing.T) {
	idLow := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	idHigh := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	high := sources.Record{SourceID: idHigh, Tier: sources.TierA, HealthScore: 0.5}
	low := sources.Record{SourceID: idLow, Tier: sources.TierA, HealthScore: 0.5}

	candidates := []Candidate{{Record: high}, {Record: low}}
	Rank(candidates)

	require.Equal(t, idLow, candidates[0].Record.SourceID)
}

func TestRankCompanyScrapesPerDayPreventsStarvation(t *testing.T) {
	busy := sources.Record{SourceID: uuid.New(), Tier: sources.TierA, HealthScore: 0.5}
	quiet := sources.Record{SourceID: uuid.New(), Tier: sources.TierA, HealthScore: 0.5}

	candidates := []Candidate{
		{Record: busy, ScrapesPerDay: 5.0},
		{Record: quiet, ScrapesPerDay: 0.1},
	}
	Rank(candidates)

	require.Equal(t, quiet.SourceID, candidates[0].Record.SourceID)
}
