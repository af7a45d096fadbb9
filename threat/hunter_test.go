package threat

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vigil/analysis"
	"vigil/core"
	"vigil/storage"
)

func seedHunt(t *testing.T, store *storage.MemoryStore, hunt *core.ThreatHunt) {
	t.Helper()
	if hunt.Status == "" {
		hunt.Status = core.HuntStatusActive
	}
	if hunt.TimeRangeHours == 0 {
		hunt.TimeRangeHours = 24
	}
	require.NoError(t, store.CreateHunt(context.Background(), hunt))
}

func TestHuntRunUnknownHunt(t *testing.T) {
	hunter := NewHunter(storage.NewMemoryStore(), nil, HunterOptions{}, zap.NewNop().Sugar())
	_, err := hunter.Run(context.Background(), "missing", false)
	assert.ErrorIs(t, err, storage.ErrHuntNotFound)
}

func TestHuntRunArchivedHunt(t *testing.T) {
	store := storage.NewMemoryStore()
	seedHunt(t, store, &core.ThreatHunt{ID: "h1", Name: "old", Status: core.HuntStatusArchived})

	hunter := NewHunter(store, nil, HunterOptions{}, zap.NewNop().Sugar())
	_, err := hunter.Run(context.Background(), "h1", false)
	assert.True(t, core.IsValidationError(err))
}

func TestHuntKeywordPassAggregatesMatches(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		event := core.NewSecurityEvent(core.SeverityMedium, "process_alert", "mimikatz execution detected")
		event.IPAddress = fmt.Sprintf("10.1.1.%d", i+1)
		require.NoError(t, store.CreateEvent(ctx, event))
	}
	require.NoError(t, store.CreateEvent(ctx, core.NewSecurityEvent(core.SeverityLow, "login", "routine")))

	seedHunt(t, store, &core.ThreatHunt{ID: "h1", Name: "credential theft",
		QueryConfig: core.QueryConfig{
			DataSources: []string{core.DataSourceEvents},
			Keywords:    []string{"mimikatz"},
		}})

	hunter := NewHunter(store, nil, HunterOptions{}, zap.NewNop().Sugar())
	result, err := hunter.Run(ctx, "h1", false)
	require.NoError(t, err)

	require.Len(t, result.Findings, 1)
	finding := result.Findings[0]
	assert.Equal(t, core.FindingKeywordMatch, finding.FindingType)
	assert.Equal(t, 3, finding.Evidence["match_count"])
	assert.Len(t, finding.RelatedIPs, 3)

	// findings were persisted and last run recorded
	persisted, err := store.ListFindings(ctx, "h1", 0)
	require.NoError(t, err)
	assert.Len(t, persisted, 1)

	hunt, err := store.GetHunt(ctx, "h1")
	require.NoError(t, err)
	assert.NotNil(t, hunt.LastRunAt)
}

func TestHuntFilterAndSeverityPasses(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	critical := core.NewSecurityEvent(core.SeverityCritical, "brute_force", "spray")
	critical.IPAddress = "203.0.113.9"
	require.NoError(t, store.CreateEvent(ctx, critical))
	require.NoError(t, store.CreateEvent(ctx, core.NewSecurityEvent(core.SeverityLow, "login", "ok")))

	seedHunt(t, store, &core.ThreatHunt{ID: "h1", Name: "brute force watch",
		QueryConfig: core.QueryConfig{
			DataSources: []string{core.DataSourceEvents},
			Filters:     []core.FieldFilter{{Field: "event_type", Operator: core.OpEquals, Value: "brute_force"}},
			MinSeverity: core.SeverityHigh,
		}})

	hunter := NewHunter(store, nil, HunterOptions{}, zap.NewNop().Sugar())
	result, err := hunter.Run(ctx, "h1", false)
	require.NoError(t, err)

	require.Len(t, result.Findings, 2)
	types := map[core.FindingType]bool{}
	for _, finding := range result.Findings {
		types[finding.FindingType] = true
	}
	assert.True(t, types[core.FindingFilterMatch])
	assert.True(t, types[core.FindingSeverityMatch])
}

func TestHuntPostureCheck(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		posture := core.PostureNormal
		if i == 0 {
			posture = core.PostureCompromised
		}
		require.NoError(t, store.CreateEndpoint(ctx, &core.Endpoint{
			ID: fmt.Sprintf("ep%d", i), Hostname: fmt.Sprintf("host-%d", i),
			SecurityPosture: posture, Status: core.EndpointOnline,
		}))
	}

	seedHunt(t, store, &core.ThreatHunt{ID: "h1", Name: "fleet posture",
		QueryConfig: core.QueryConfig{DataSources: []string{core.DataSourceEndpoints}}})

	hunter := NewHunter(store, nil, HunterOptions{}, zap.NewNop().Sugar())
	result, err := hunter.Run(ctx, "h1", true)
	require.NoError(t, err)

	var posture *core.HuntFinding
	for _, finding := range result.Findings {
		if finding.FindingType == core.FindingPostureRisk {
			posture = finding
		}
	}
	require.NotNil(t, posture)
	assert.Equal(t, core.SeverityCritical, posture.Severity)
}

func TestHuntRiskNarrative(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.CreateEndpoint(ctx, &core.Endpoint{
		ID: "ep1", Hostname: "dc-01", SecurityPosture: core.PostureCompromised, Status: core.EndpointOnline,
	}))
	seedHunt(t, store, &core.ThreatHunt{ID: "h1", Name: "dc watch",
		QueryConfig: core.QueryConfig{DataSources: []string{core.DataSourceEndpoints}}})

	t.Run("narrative appended on success", func(t *testing.T) {
		ai := &analysis.MockClient{Response: json.RawMessage(
			`{"risk_level":"critical","narrative":"Domain controller compromised.","recommendations":["isolate dc-01"]}`)}
		hunter := NewHunter(store, ai, HunterOptions{}, zap.NewNop().Sugar())

		result, err := hunter.Run(ctx, "h1", true)
		require.NoError(t, err)
		assert.False(t, result.AnalysisDegraded)
		assert.Equal(t, 1, ai.CallCount())

		var narrative *core.HuntFinding
		for _, finding := range result.Findings {
			if finding.FindingType == core.FindingRiskAssessment {
				narrative = finding
			}
		}
		require.NotNil(t, narrative)
		assert.Equal(t, core.SeverityCritical, narrative.Severity)
		assert.Equal(t, "Domain controller compromised.", narrative.Analysis)
	})

	t.Run("failure swallowed", func(t *testing.T) {
		ai := &analysis.MockClient{Err: fmt.Errorf("model overloaded")}
		hunter := NewHunter(store, ai, HunterOptions{}, zap.NewNop().Sugar())

		result, err := hunter.Run(ctx, "h1", true)
		require.NoError(t, err)
		assert.True(t, result.AnalysisDegraded)
		for _, finding := range result.Findings {
			assert.NotEqual(t, core.FindingRiskAssessment, finding.FindingType)
		}
	})
}

func TestHuntVolumeAnomalyPass(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC().Add(-6 * time.Hour)
	// four quiet hours and one noisy hour
	for hour := 0; hour < 4; hour++ {
		event := core.NewSecurityEvent(core.SeverityLow, "login", "ok")
		event.CreatedAt = base.Add(time.Duration(hour) * time.Hour)
		require.NoError(t, store.CreateEvent(ctx, event))
	}
	for i := 0; i < 40; i++ {
		event := core.NewSecurityEvent(core.SeverityLow, "login", "burst")
		event.CreatedAt = base.Add(4 * time.Hour)
		require.NoError(t, store.CreateEvent(ctx, event))
	}

	seedHunt(t, store, &core.ThreatHunt{ID: "h1", Name: "volume watch",
		QueryConfig: core.QueryConfig{
			DataSources: []string{core.DataSourceEvents},
			Anomaly:     core.AnomalyConfig{Enabled: true},
		}})

	hunter := NewHunter(store, nil, HunterOptions{}, zap.NewNop().Sugar())
	result, err := hunter.Run(ctx, "h1", false)
	require.NoError(t, err)

	var volume *core.HuntFinding
	for _, finding := range result.Findings {
		if finding.FindingType == core.FindingVolumeAnomaly {
			volume = finding
		}
	}
	require.NotNil(t, volume)
}

func TestHunterOptionFallbacks(t *testing.T) {
	t.Run("configured window bounds hunts without one", func(t *testing.T) {
		store := storage.NewMemoryStore()
		ctx := context.Background()

		stale := core.NewSecurityEvent(core.SeverityMedium, "process_alert", "mimikatz execution detected")
		stale.CreatedAt = time.Now().UTC().Add(-3 * time.Hour)
		require.NoError(t, store.CreateEvent(ctx, stale))

		// TimeRangeHours left zero so the hunter fallback applies
		require.NoError(t, store.CreateHunt(ctx, &core.ThreatHunt{
			ID: "h1", Name: "credential theft", Status: core.HuntStatusActive,
			QueryConfig: core.QueryConfig{
				DataSources: []string{core.DataSourceEvents},
				Keywords:    []string{"mimikatz"},
			}}))

		narrow := NewHunter(store, nil, HunterOptions{DefaultTimeRangeHours: 1}, zap.NewNop().Sugar())
		result, err := narrow.Run(ctx, "h1", false)
		require.NoError(t, err)
		assert.Zero(t, result.EventsExamined)
		assert.Empty(t, result.Findings)

		wide := NewHunter(store, nil, HunterOptions{DefaultTimeRangeHours: 24}, zap.NewNop().Sugar())
		result, err = wide.Run(ctx, "h1", false)
		require.NoError(t, err)
		assert.Equal(t, 1, result.EventsExamined)
		require.Len(t, result.Findings, 1)
	})

	t.Run("configured deviation threshold suppresses the spike", func(t *testing.T) {
		store := storage.NewMemoryStore()
		ctx := context.Background()

		base := time.Now().UTC().Add(-6 * time.Hour)
		for hour := 0; hour < 4; hour++ {
			event := core.NewSecurityEvent(core.SeverityLow, "login", "ok")
			event.CreatedAt = base.Add(time.Duration(hour) * time.Hour)
			require.NoError(t, store.CreateEvent(ctx, event))
		}
		for i := 0; i < 40; i++ {
			event := core.NewSecurityEvent(core.SeverityLow, "login", "burst")
			event.CreatedAt = base.Add(4 * time.Hour)
			require.NoError(t, store.CreateEvent(ctx, event))
		}

		// hunt carries no threshold of its own
		seedHunt(t, store, &core.ThreatHunt{ID: "h1", Name: "volume watch",
			QueryConfig: core.QueryConfig{
				DataSources: []string{core.DataSourceEvents},
				Anomaly:     core.AnomalyConfig{Enabled: true},
			}})

		hunter := NewHunter(store, nil, HunterOptions{DeviationThreshold: 50}, zap.NewNop().Sugar())
		result, err := hunter.Run(ctx, "h1", false)
		require.NoError(t, err)
		for _, finding := range result.Findings {
			assert.NotEqual(t, core.FindingVolumeAnomaly, finding.FindingType)
		}
	})
}
