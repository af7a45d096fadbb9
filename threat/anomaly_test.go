package threat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/core"
)

func TestScoreBucketsFlagsSpike(t *testing.T) {
	counts := map[string]float64{
		"h0": 10, "h1": 10, "h2": 10, "h3": 10, "h4": 100,
	}
	scores := ScoreBuckets(counts, 2.0, HourlyHighZ)
	require.Len(t, scores, 5)

	// most deviant bucket sorts first
	assert.Equal(t, "h4", scores[0].Bucket)
	assert.True(t, scores[0].Anomalous)
	assert.Equal(t, core.SeverityMedium, scores[0].Severity)

	for _, score := range scores[1:] {
		assert.False(t, score.Anomalous, "bucket %s should not be flagged", score.Bucket)
	}
}

func TestScoreBucketsUniformCountsNeverFlag(t *testing.T) {
	counts := map[string]float64{"a": 50, "b": 50, "c": 50, "d": 50}
	for _, score := range ScoreBuckets(counts, 2.0, HourlyHighZ) {
		assert.Zero(t, score.ZScore)
		assert.False(t, score.Anomalous)
	}
}

func TestScoreBucketsHighEscalation(t *testing.T) {
	// one bucket far enough out to clear the high threshold
	counts := map[string]float64{}
	for i := 0; i < 20; i++ {
		counts[string(rune('a'+i))] = 10
	}
	counts["spike"] = 500

	scores := ScoreBuckets(counts, 2.0, 3.0)
	assert.Equal(t, "spike", scores[0].Bucket)
	assert.Equal(t, core.SeverityHigh, scores[0].Severity)
}

func TestWorstSeverity(t *testing.T) {
	medium := []BucketScore{
		{Bucket: "a", Severity: core.SeverityMedium},
		{Bucket: "b", Severity: core.SeverityMedium},
	}
	assert.Equal(t, core.SeverityMedium, worstSeverity(medium))

	escalated := append(medium, BucketScore{Bucket: "c", Severity: core.SeverityHigh})
	assert.Equal(t, core.SeverityHigh, worstSeverity(escalated))

	// empty input still floors at medium
	assert.Equal(t, core.SeverityMedium, worstSeverity(nil))
}

func TestScoreBucketsEmpty(t *testing.T) {
	assert.Nil(t, ScoreBuckets(nil, 2.0, 3.0))
}

func TestHourlyVolumeScoresMinimumSamples(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	var events []*core.SecurityEvent

	// only three distinct hours: below the activation floor
	for hour := 0; hour < 3; hour++ {
		event := core.NewSecurityEvent(core.SeverityLow, "login", "ok")
		event.CreatedAt = base.Add(time.Duration(hour) * time.Hour)
		events = append(events, event)
	}
	assert.Nil(t, HourlyVolumeScores(events, 2.0))

	event := core.NewSecurityEvent(core.SeverityLow, "login", "ok")
	event.CreatedAt = base.Add(3 * time.Hour)
	events = append(events, event)
	assert.NotNil(t, HourlyVolumeScores(events, 2.0))
}

func TestSourceIPScoresMinimumDistinctIPs(t *testing.T) {
	var events []*core.SecurityEvent
	for i := 0; i < 5; i++ {
		event := core.NewSecurityEvent(core.SeverityLow, "login", "ok")
		event.IPAddress = "10.0.0." + string(rune('1'+i))
		events = append(events, event)
	}
	assert.Nil(t, SourceIPScores(events, 2.0))

	extra := core.NewSecurityEvent(core.SeverityLow, "login", "ok")
	extra.IPAddress = "10.0.0.99"
	events = append(events, extra)
	assert.NotNil(t, SourceIPScores(events, 2.0))
}
