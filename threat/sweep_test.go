package threat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vigil/core"
	"vigil/storage"
)

func newTestSweeper(t *testing.T, store *storage.MemoryStore, lookup LookupClient) *Sweeper {
	t.Helper()
	correlator, err := NewIntelCorrelator(lookup, 128, time.Minute, zap.NewNop().Sugar())
	require.NoError(t, err)
	return NewSweeper(store, correlator, zap.NewNop().Sugar())
}

func TestSweepRequiresIOCs(t *testing.T) {
	sweeper := newTestSweeper(t, storage.NewMemoryStore(), nil)
	_, err := sweeper.Sweep(context.Background(), SweepRequest{})
	assert.True(t, core.IsValidationError(err))
}

func TestSweepFindsEvidenceAcrossRecordTypes(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	event := core.NewSecurityEvent(core.SeverityHigh, "c2_beacon", "outbound to 203.0.113.50")
	event.IPAddress = "203.0.113.50"
	require.NoError(t, store.CreateEvent(ctx, event))

	endpointEvent := core.NewEndpointEvent("ep1", "network_connection", core.SeverityMedium)
	endpointEvent.RemoteIP = "203.0.113.50"
	require.NoError(t, store.CreateEndpointEvent(ctx, endpointEvent))

	require.NoError(t, store.CreateEndpoint(ctx, &core.Endpoint{
		ID: "ep1", Hostname: "ws-17", LastIP: "10.0.0.5",
		SecurityPosture: core.PostureNormal, Status: core.EndpointOnline,
		NetworkConnections: []core.NetworkConnection{{RemoteIP: "203.0.113.50", RemotePort: 443}},
	}))

	lookup := &fakeLookup{matched: map[string]bool{"203.0.113.50": true}}
	sweeper := newTestSweeper(t, store, lookup)

	result, err := sweeper.Sweep(ctx, SweepRequest{IOCs: []string{"203.0.113.50"}})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)

	iocResult := result.Results[0]
	assert.Equal(t, core.IOCTypeIP, iocResult.Type)
	assert.True(t, iocResult.IntelMatched)
	assert.Equal(t, 1, iocResult.MatchedEvents)
	assert.Equal(t, 1, iocResult.MatchedEndpointEvents)
	assert.Equal(t, 1, iocResult.MatchedEndpoints)
	assert.NotEmpty(t, iocResult.Evidence)
}

func TestSweepCapsIOCCount(t *testing.T) {
	sweeper := newTestSweeper(t, storage.NewMemoryStore(), nil)

	iocs := make([]string, 150)
	for i := range iocs {
		iocs[i] = fmt.Sprintf("indicator-%d.example.com", i)
	}
	result, err := sweeper.Sweep(context.Background(), SweepRequest{IOCs: iocs})
	require.NoError(t, err)

	assert.True(t, result.IOCsTruncated)
	assert.Equal(t, MaxIOCsPerSweep, result.IOCsProcessed)
	assert.Len(t, result.Results, MaxIOCsPerSweep)
}

func TestSweepIntelFailureDegrades(t *testing.T) {
	store := storage.NewMemoryStore()
	lookup := &fakeLookup{err: fmt.Errorf("intel service down")}
	sweeper := newTestSweeper(t, store, lookup)

	result, err := sweeper.Sweep(context.Background(), SweepRequest{IOCs: []string{"198.51.100.77"}})
	require.NoError(t, err)
	assert.True(t, result.IntelDegraded)
	assert.False(t, result.Results[0].IntelMatched)
}

func TestSweepPersistsFindingsForHunt(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	seedHunt(t, store, &core.ThreatHunt{ID: "h1", Name: "ioc sweep"})
	event := core.NewSecurityEvent(core.SeverityHigh, "dns_query", "lookup for evil.example.com")
	require.NoError(t, store.CreateEvent(ctx, event))

	sweeper := newTestSweeper(t, store, &fakeLookup{matched: map[string]bool{"evil.example.com": true}})
	_, err := sweeper.Sweep(ctx, SweepRequest{IOCs: []string{"evil.example.com"}, HuntID: "h1"})
	require.NoError(t, err)

	findings, err := store.ListFindings(ctx, "h1", 0)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, core.FindingIOCMatch, findings[0].FindingType)
	assert.Equal(t, core.SeverityHigh, findings[0].Severity)
}

func TestSweepEventCapPerIOC(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		event := core.NewSecurityEvent(core.SeverityLow, "beacon", "traffic to 192.0.2.200")
		require.NoError(t, store.CreateEvent(ctx, event))
	}

	sweeper := newTestSweeper(t, store, nil)
	result, err := sweeper.Sweep(ctx, SweepRequest{IOCs: []string{"192.0.2.200"}})
	require.NoError(t, err)

	iocResult := result.Results[0]
	assert.LessOrEqual(t, iocResult.MatchedEvents, MaxEventsPerIOC)
	assert.LessOrEqual(t, len(iocResult.Evidence), MaxEvidencePerFinding)
}
