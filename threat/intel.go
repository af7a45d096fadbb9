package threat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"vigil/metrics"
)

// IntelResult is the verdict for one indicator
type IntelResult struct {
	Indicator   string   `json:"indicator"`
	Matched     bool     `json:"matched"`
	RiskLevel   string   `json:"risk_level,omitempty"`
	RiskScore   float64  `json:"risk_score,omitempty"`
	Families    []string `json:"families,omitempty"`
	Sources     []string `json:"sources,omitempty"`
	Mitigations []string `json:"mitigations,omitempty"`
}

// IntelSignal carries lookup results plus a degraded flag. When the
// collaborator is unreachable the signal degrades to no-match for every
// indicator instead of failing the caller.
type IntelSignal struct {
	Results  map[string]IntelResult `json:"results"`
	Degraded bool                   `json:"degraded"`
}

// Matched reports whether a specific indicator hit
func (s *IntelSignal) MatchedIndicator(indicator string) bool {
	if s == nil {
		return false
	}
	result, ok := s.Results[indicator]
	return ok && result.Matched
}

// AnyMatched reports whether any indicator in the signal hit
func (s *IntelSignal) AnyMatched() bool {
	if s == nil {
		return false
	}
	for _, result := range s.Results {
		if result.Matched {
			return true
		}
	}
	return false
}

// LookupClient is the external threat-intel collaborator
type LookupClient interface {
	Lookup(ctx context.Context, indicators []string, deep bool) (map[string]IntelResult, error)
}

// IntelConfig holds correlator settings
type IntelConfig struct {
	Enabled   bool          `json:"enabled" mapstructure:"enabled"`
	BaseURL   string        `json:"base_url" mapstructure:"base_url"`
	APIKey    string        `json:"-" mapstructure:"api_key"`
	CacheSize int           `json:"cache_size" mapstructure:"cache_size"`
	CacheTTL  time.Duration `json:"cache_ttl" mapstructure:"cache_ttl"`
}

// maxBatchSize is the collaborator's per-call indicator limit
const maxBatchSize = 30

const (
	defaultCacheSize = 4096
	defaultCacheTTL  = 15 * time.Minute
)

// HTTPLookupClient implements LookupClient over the collaborator's JSON API
type HTTPLookupClient struct {
	cfg    IntelConfig
	client *http.Client
}

// NewHTTPLookupClient creates a lookup client
func NewHTTPLookupClient(cfg IntelConfig) *HTTPLookupClient {
	return &HTTPLookupClient{cfg: cfg, client: &http.Client{Timeout: 15 * time.Second}}
}

type lookupRequest struct {
	Indicators []string `json:"indicators"`
	DeepLookup bool     `json:"deep_lookup,omitempty"`
}

type lookupResponse struct {
	Results map[string]IntelResult `json:"results"`
}

func (c *HTTPLookupClient) Lookup(ctx context.Context, indicators []string, deep bool) (map[string]IntelResult, error) {
	body, err := json.Marshal(lookupRequest{Indicators: indicators, DeepLookup: deep})
	if err != nil {
		return nil, fmt.Errorf("failed to encode lookup request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/lookup", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("threat intel request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read lookup response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("threat intel service returned status %d", resp.StatusCode)
	}

	var parsed lookupResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode lookup response: %w", err)
	}
	return parsed.Results, nil
}

type cachedIntel struct {
	result    IntelResult
	expiresAt time.Time
}

// IntelCorrelator batches indicator lookups through the collaborator with
// an LRU+TTL cache in front. Lookup failures never propagate; the signal
// degrades to no-match and flags itself.
type IntelCorrelator struct {
	client LookupClient
	cache  *lru.Cache[string, cachedIntel]
	ttl    time.Duration
	logger *zap.SugaredLogger
}

// NewIntelCorrelator creates a correlator. A nil client yields a permanently
// degraded (always no-match) correlator.
func NewIntelCorrelator(client LookupClient, cacheSize int, ttl time.Duration, logger *zap.SugaredLogger) (*IntelCorrelator, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	cache, err := lru.New[string, cachedIntel](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create intel cache: %w", err)
	}
	return &IntelCorrelator{client: client, cache: cache, ttl: ttl, logger: logger}, nil
}

// CheckIndicators resolves every indicator, serving cache hits and batching
// the rest in chunks of at most 30 per collaborator call.
func (c *IntelCorrelator) CheckIndicators(ctx context.Context, indicators []string) *IntelSignal {
	signal := &IntelSignal{Results: make(map[string]IntelResult, len(indicators))}
	if len(indicators) == 0 {
		return signal
	}
	if c.client == nil {
		signal.Degraded = true
		return signal
	}

	now := time.Now()
	var misses []string
	seen := make(map[string]bool, len(indicators))
	for _, indicator := range indicators {
		if indicator == "" || seen[indicator] {
			continue
		}
		seen[indicator] = true
		if entry, ok := c.cache.Get(indicator); ok && now.Before(entry.expiresAt) {
			signal.Results[indicator] = entry.result
			metrics.ThreatIntelLookups.WithLabelValues("cache_hit").Inc()
			continue
		}
		misses = append(misses, indicator)
	}

	for start := 0; start < len(misses); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(misses) {
			end = len(misses)
		}
		batch := misses[start:end]

		results, err := c.client.Lookup(ctx, batch, false)
		if err != nil {
			c.logger.Warnw("Threat intel lookup failed, degrading to no-match",
				"indicators", len(batch), "error", err)
			metrics.ThreatIntelLookups.WithLabelValues("degraded").Inc()
			signal.Degraded = true
			for _, indicator := range batch {
				signal.Results[indicator] = IntelResult{Indicator: indicator, Matched: false}
			}
			continue
		}

		for _, indicator := range batch {
			result, ok := results[indicator]
			if !ok {
				result = IntelResult{Indicator: indicator, Matched: false}
			}
			result.Indicator = indicator
			signal.Results[indicator] = result
			c.cache.Add(indicator, cachedIntel{result: result, expiresAt: now.Add(c.ttl)})
			if result.Matched {
				metrics.ThreatIntelLookups.WithLabelValues("match").Inc()
			} else {
				metrics.ThreatIntelLookups.WithLabelValues("no_match").Inc()
			}
		}
	}
	return signal
}

// CheckIndicator is the single-indicator convenience form
func (c *IntelCorrelator) CheckIndicator(ctx context.Context, indicator string) (bool, *IntelSignal) {
	signal := c.CheckIndicators(ctx, []string{indicator})
	return signal.MatchedIndicator(indicator), signal
}
