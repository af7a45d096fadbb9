package threat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeLookup records batches and serves canned verdicts
type fakeLookup struct {
	mu      sync.Mutex
	batches [][]string
	matched map[string]bool
	err     error
}

func (f *fakeLookup) Lookup(_ context.Context, indicators []string, _ bool) (map[string]IntelResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, indicators)
	if f.err != nil {
		return nil, f.err
	}
	results := make(map[string]IntelResult)
	for _, indicator := range indicators {
		results[indicator] = IntelResult{Indicator: indicator, Matched: f.matched[indicator], RiskLevel: "high"}
	}
	return results, nil
}

func TestCheckIndicatorsBatching(t *testing.T) {
	lookup := &fakeLookup{matched: map[string]bool{}}
	correlator, err := NewIntelCorrelator(lookup, 128, time.Minute, zap.NewNop().Sugar())
	require.NoError(t, err)

	var indicators []string
	for i := 0; i < 75; i++ {
		indicators = append(indicators, fmt.Sprintf("10.0.%d.%d", i/250, i%250))
	}
	signal := correlator.CheckIndicators(context.Background(), indicators)

	assert.False(t, signal.Degraded)
	assert.Len(t, signal.Results, 75)
	require.Len(t, lookup.batches, 3)
	assert.Len(t, lookup.batches[0], 30)
	assert.Len(t, lookup.batches[1], 30)
	assert.Len(t, lookup.batches[2], 15)
}

func TestCheckIndicatorsDegradesOnFailure(t *testing.T) {
	lookup := &fakeLookup{err: fmt.Errorf("connection refused")}
	correlator, err := NewIntelCorrelator(lookup, 128, time.Minute, zap.NewNop().Sugar())
	require.NoError(t, err)

	signal := correlator.CheckIndicators(context.Background(), []string{"198.51.100.1", "198.51.100.2"})
	assert.True(t, signal.Degraded)
	assert.False(t, signal.MatchedIndicator("198.51.100.1"))
	assert.False(t, signal.AnyMatched())
}

func TestCheckIndicatorsCacheHit(t *testing.T) {
	lookup := &fakeLookup{matched: map[string]bool{"evil.example.com": true}}
	correlator, err := NewIntelCorrelator(lookup, 128, time.Minute, zap.NewNop().Sugar())
	require.NoError(t, err)

	first := correlator.CheckIndicators(context.Background(), []string{"evil.example.com"})
	assert.True(t, first.MatchedIndicator("evil.example.com"))
	second := correlator.CheckIndicators(context.Background(), []string{"evil.example.com"})
	assert.True(t, second.MatchedIndicator("evil.example.com"))

	// cache served the second call
	assert.Len(t, lookup.batches, 1)
}

func TestCheckIndicatorsNilClient(t *testing.T) {
	correlator, err := NewIntelCorrelator(nil, 0, 0, zap.NewNop().Sugar())
	require.NoError(t, err)

	signal := correlator.CheckIndicators(context.Background(), []string{"x"})
	assert.True(t, signal.Degraded)
	assert.False(t, signal.AnyMatched())
}

func TestCheckIndicatorsDeduplicates(t *testing.T) {
	lookup := &fakeLookup{matched: map[string]bool{}}
	correlator, err := NewIntelCorrelator(lookup, 128, time.Minute, zap.NewNop().Sugar())
	require.NoError(t, err)

	correlator.CheckIndicators(context.Background(), []string{"a.example.com", "a.example.com", ""})
	require.Len(t, lookup.batches, 1)
	assert.Len(t, lookup.batches[0], 1)
}
