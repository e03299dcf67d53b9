package aiscorer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseScoreResultPlainJSON(t *testing.T) {
	result, err := parseScoreResult(`{"score":80,"priority":"HIGH","matchedSkills":["go"],"missingSkills":[],"keywords":["go"],"reasoning":"good fit"}`)
	require.NoError(t, err)
	require.Equal(t, 80, result.Score)
	require.Equal(t, "HIGH", string(result.Priority))
	require.Equal(t, []string{"go"}, result.MatchedSkills)
}

func TestParseScoreResultExtractsEmbeddedJSON(t *testing.T) {
	result, err := parseScoreResult("Here is the result:\n```json\n{\"score\":42,\"priority\":\"LOW\"}\n```\nthanks")
	require.NoError(t, err)
	require.Equal(t, 42, result.Score)
	require.Equal(t, "LOW", string(result.Priority))
}

func TestParseScoreResultNoJSONErrors(t *testing.T) {
	_, err := parseScoreResult("no json here at all")
	require.Error(t, err)
}

func TestNewDisablesLimiterWhenBudgetNonPositive(t *testing.T) {
	c := New("key", "", 0, 0)
	require.Nil(t, c.limiter)
	require.Equal(t, "claude-3-5-haiku-latest", c.model)
}

func TestNewCapsLimiterBurstAt50(t *testing.T) {
	c := New("key", "custom-model", 0, 10000)
	require.NotNil(t, c.limiter)
	require.Equal(t, 50, c.limiter.Burst())
	require.Equal(t, "custom-model", c.model)
}
