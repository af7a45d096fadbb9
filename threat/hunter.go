package threat

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"vigil/analysis"
	"vigil/core"
	"vigil/metrics"
	"vigil/storage"
)

// DefaultHuntHours is the lookback window for hunts that omit one
const DefaultHuntHours = 24

// huntFetchLimit bounds how much telemetry one hunt run loads per source
const huntFetchLimit = 2000

// Fleet posture thresholds for the direct endpoint check
const (
	atRiskFleetRatio = 0.30
	atRiskMinCount   = 3
)

// riskNarrativeTopN is how many findings feed the risk narrative prompt
const riskNarrativeTopN = 5

// HuntResult is the outcome of one hunt run
type HuntResult struct {
	HuntID                 string              `json:"hunt_id"`
	HuntName               string              `json:"hunt_name"`
	Findings               []*core.HuntFinding `json:"findings"`
	EventsExamined         int                 `json:"events_examined"`
	EndpointEventsExamined int                 `json:"endpoint_events_examined"`
	EndpointsExamined      int                 `json:"endpoints_examined"`
	AnalysisDegraded       bool                `json:"analysis_degraded,omitempty"`
	RanAt                  time.Time           `json:"ran_at"`
}

// Hunter runs stored hunt definitions over a time-windowed corpus
type Hunter struct {
	store        storage.Store
	ai           analysis.Client
	defaultHours int
	threshold    float64
	logger       *zap.SugaredLogger
}

// HunterOptions carries deployment-level fallbacks applied to hunts that
// omit their own time range or deviation threshold. Zero values fall back
// to the package defaults.
type HunterOptions struct {
	DefaultTimeRangeHours int
	DeviationThreshold    float64
}

// NewHunter creates a hunter. A nil analysis client disables risk
// narratives; hunts still run.
func NewHunter(store storage.Store, ai analysis.Client, opts HunterOptions, logger *zap.SugaredLogger) *Hunter {
	if opts.DefaultTimeRangeHours <= 0 {
		opts.DefaultTimeRangeHours = DefaultHuntHours
	}
	if opts.DeviationThreshold <= 0 {
		opts.DeviationThreshold = core.DefaultDeviationThreshold
	}
	return &Hunter{
		store:        store,
		ai:           ai,
		defaultHours: opts.DefaultTimeRangeHours,
		threshold:    opts.DeviationThreshold,
		logger:       logger,
	}
}

// Run executes one hunt: parallel corpus fetch per configured data source,
// filter/keyword/severity passes each producing one aggregate finding, an
// optional anomaly pass, and an optional risk narrative. All findings are
// persisted before returning.
func (h *Hunter) Run(ctx context.Context, huntID string, runAnomalyDetection bool) (*HuntResult, error) {
	started := time.Now()
	defer func() {
		metrics.HuntDuration.Observe(time.Since(started).Seconds())
	}()

	hunt, err := h.store.GetHunt(ctx, huntID)
	if err != nil {
		return nil, err
	}
	if hunt.Status == core.HuntStatusArchived {
		return nil, core.NewValidationError("hunt_id", "hunt is archived")
	}

	hours := hunt.TimeRangeHours
	if hours <= 0 {
		hours = h.defaultHours
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	runAnomaly := runAnomalyDetection || hunt.QueryConfig.Anomaly.Enabled
	corpus, err := h.fetchCorpus(ctx, hunt.QueryConfig.DataSources, since, runAnomaly)
	if err != nil {
		return nil, err
	}

	result := &HuntResult{
		HuntID:                 hunt.ID,
		HuntName:               hunt.Name,
		EventsExamined:         len(corpus.events),
		EndpointEventsExamined: len(corpus.endpointEvents),
		EndpointsExamined:      len(corpus.endpoints),
		RanAt:                  started.UTC(),
	}

	if finding := h.filterPass(hunt, corpus.events); finding != nil {
		result.Findings = append(result.Findings, finding)
	}
	if finding := h.keywordPass(hunt, corpus.events); finding != nil {
		result.Findings = append(result.Findings, finding)
	}
	if finding := h.severityPass(hunt, corpus.events); finding != nil {
		result.Findings = append(result.Findings, finding)
	}

	if runAnomaly {
		threshold := hunt.QueryConfig.Anomaly.DeviationThreshold
		if threshold <= 0 {
			threshold = h.threshold
		}
		result.Findings = append(result.Findings, h.anomalyPass(hunt, corpus, threshold)...)
	}

	if h.hasEscalated(result.Findings) {
		narrative, ok := h.riskNarrative(ctx, hunt, result.Findings)
		if ok {
			result.Findings = append(result.Findings, narrative)
		} else {
			result.AnalysisDegraded = true
		}
	}

	for _, finding := range result.Findings {
		if err := h.store.CreateFinding(ctx, finding); err != nil {
			h.logger.Warnw("Failed to persist hunt finding", "hunt_id", hunt.ID,
				"finding_type", finding.FindingType, "error", err)
			continue
		}
		metrics.HuntFindings.WithLabelValues(string(finding.FindingType)).Inc()
	}

	if err := h.store.UpdateHuntLastRun(ctx, hunt.ID, started.UTC()); err != nil {
		h.logger.Warnw("Failed to record hunt run time", "hunt_id", hunt.ID, "error", err)
	}
	return result, nil
}

type huntCorpus struct {
	events         []*core.SecurityEvent
	endpointEvents []*core.EndpointEvent
	endpoints      []*core.Endpoint
}

func (h *Hunter) fetchCorpus(ctx context.Context, sources []string, since time.Time, includeEndpoints bool) (*huntCorpus, error) {
	wantEvents := len(sources) == 0
	wantEndpointEvents := false
	wantEndpoints := includeEndpoints
	for _, source := range sources {
		switch source {
		case core.DataSourceEvents:
			wantEvents = true
		case core.DataSourceEndpointEvents:
			wantEndpointEvents = true
		case core.DataSourceEndpoints:
			wantEndpoints = true
		}
	}

	corpus := &huntCorpus{}
	var wg sync.WaitGroup
	errs := make([]error, 3)

	if wantEvents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			corpus.events, errs[0] = h.store.ListEvents(ctx, &core.EventFilters{Since: &since, Limit: huntFetchLimit})
		}()
	}
	if wantEndpointEvents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			corpus.endpointEvents, errs[1] = h.store.ListEndpointEvents(ctx, since, huntFetchLimit)
		}()
	}
	if wantEndpoints {
		wg.Add(1)
		go func() {
			defer wg.Done()
			corpus.endpoints, errs[2] = h.store.ListEndpoints(ctx, huntFetchLimit)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return corpus, nil
}

// filterPass applies the hunt's field filters. An event counts when every
// filter matches. One aggregate finding summarizes all matched events.
func (h *Hunter) filterPass(hunt *core.ThreatHunt, events []*core.SecurityEvent) *core.HuntFinding {
	filters := hunt.QueryConfig.Filters
	if len(filters) == 0 {
		return nil
	}

	var matched []*core.SecurityEvent
	for _, event := range events {
		fields := RecordFields(event)
		all := true
		for _, filter := range filters {
			if !core.MatchesFilter(lookupField(fields, filter.Field), filter.Operator, filter.Value) {
				all = false
				break
			}
		}
		if all {
			matched = append(matched, event)
		}
	}
	if len(matched) == 0 {
		return nil
	}

	finding := core.NewHuntFinding(hunt.ID, core.FindingFilterMatch, core.SeverityMedium,
		fmt.Sprintf("%d events matched hunt filters", len(matched)))
	summarizeEvents(finding, matched)
	finding.Evidence["filters"] = filters
	return finding
}

// keywordPass matches events whose stringified content contains any of the
// hunt's keywords.
func (h *Hunter) keywordPass(hunt *core.ThreatHunt, events []*core.SecurityEvent) *core.HuntFinding {
	keywords := hunt.QueryConfig.Keywords
	if len(keywords) == 0 {
		return nil
	}

	var matched []*core.SecurityEvent
	hits := make(map[string]int)
	for _, event := range events {
		fields := RecordFields(event)
		for _, keyword := range keywords {
			if len(SearchRecord(fields, keyword, 1)) > 0 {
				matched = append(matched, event)
				hits[strings.ToLower(keyword)]++
				break
			}
		}
	}
	if len(matched) == 0 {
		return nil
	}

	finding := core.NewHuntFinding(hunt.ID, core.FindingKeywordMatch, core.SeverityMedium,
		fmt.Sprintf("%d events matched hunt keywords", len(matched)))
	summarizeEvents(finding, matched)
	finding.Evidence["keyword_hits"] = hits
	return finding
}

// severityPass applies the hunt's severity floor
func (h *Hunter) severityPass(hunt *core.ThreatHunt, events []*core.SecurityEvent) *core.HuntFinding {
	floor := hunt.QueryConfig.MinSeverity
	if floor == "" || !floor.IsValid() {
		return nil
	}

	var matched []*core.SecurityEvent
	worst := floor
	for _, event := range events {
		if event.Severity.AtLeast(floor) {
			matched = append(matched, event)
			if event.Severity.AtLeast(worst) {
				worst = event.Severity
			}
		}
	}
	if len(matched) == 0 {
		return nil
	}

	finding := core.NewHuntFinding(hunt.ID, core.FindingSeverityMatch, worst,
		fmt.Sprintf("%d events at or above %s severity", len(matched), floor))
	summarizeEvents(finding, matched)
	return finding
}

func (h *Hunter) anomalyPass(hunt *core.ThreatHunt, corpus *huntCorpus, threshold float64) []*core.HuntFinding {
	var findings []*core.HuntFinding

	if anomalies := Anomalies(HourlyVolumeScores(corpus.events, threshold)); len(anomalies) > 0 {
		finding := core.NewHuntFinding(hunt.ID, core.FindingVolumeAnomaly, worstSeverity(anomalies),
			fmt.Sprintf("%d anomalous hourly volume buckets", len(anomalies)))
		finding.Evidence["buckets"] = anomalies
		finding.Evidence["threshold"] = threshold
		findings = append(findings, finding)
	}

	if anomalies := Anomalies(SourceIPScores(corpus.events, threshold)); len(anomalies) > 0 {
		finding := core.NewHuntFinding(hunt.ID, core.FindingSourceAnomaly, worstSeverity(anomalies),
			fmt.Sprintf("%d anomalous source IPs", len(anomalies)))
		finding.Evidence["buckets"] = anomalies
		finding.Evidence["threshold"] = threshold
		for _, anomaly := range anomalies {
			finding.RelatedIPs = append(finding.RelatedIPs, anomaly.Bucket)
		}
		findings = append(findings, finding)
	}

	if finding := h.posturePass(hunt, corpus.endpoints); finding != nil {
		findings = append(findings, finding)
	}
	return findings
}

// posturePass is the direct fleet check: any compromised endpoint is
// always critical; an at_risk share over 30% of the fleet, with at least
// 3 such endpoints, is high.
func (h *Hunter) posturePass(hunt *core.ThreatHunt, endpoints []*core.Endpoint) *core.HuntFinding {
	if len(endpoints) == 0 {
		return nil
	}

	var compromised, atRisk []string
	for _, endpoint := range endpoints {
		switch endpoint.SecurityPosture {
		case core.PostureCompromised:
			compromised = append(compromised, endpoint.Hostname)
		case core.PostureAtRisk:
			atRisk = append(atRisk, endpoint.Hostname)
		}
	}

	if len(compromised) > 0 {
		finding := core.NewHuntFinding(hunt.ID, core.FindingPostureRisk, core.SeverityCritical,
			fmt.Sprintf("%d compromised endpoints in fleet", len(compromised)))
		finding.Evidence["compromised"] = compromised
		finding.Evidence["fleet_size"] = len(endpoints)
		return finding
	}

	ratio := float64(len(atRisk)) / float64(len(endpoints))
	if len(atRisk) >= atRiskMinCount && ratio > atRiskFleetRatio {
		finding := core.NewHuntFinding(hunt.ID, core.FindingPostureRisk, core.SeverityHigh,
			fmt.Sprintf("%d of %d endpoints at risk", len(atRisk), len(endpoints)))
		finding.Evidence["at_risk"] = atRisk
		finding.Evidence["fleet_size"] = len(endpoints)
		return finding
	}
	return nil
}

func (h *Hunter) hasEscalated(findings []*core.HuntFinding) bool {
	for _, finding := range findings {
		if finding.Severity.AtLeast(core.SeverityHigh) {
			return true
		}
	}
	return false
}

type riskNarrativeResponse struct {
	RiskLevel       string   `json:"risk_level"`
	Narrative       string   `json:"narrative"`
	Recommendations []string `json:"recommendations"`
}

// riskNarrative asks the analysis collaborator for one summary over the
// top findings. Any failure is swallowed; the hunt's computed findings
// stand on their own.
func (h *Hunter) riskNarrative(ctx context.Context, hunt *core.ThreatHunt, findings []*core.HuntFinding) (*core.HuntFinding, bool) {
	if h.ai == nil {
		return nil, false
	}

	top := make([]*core.HuntFinding, len(findings))
	copy(top, findings)
	sort.SliceStable(top, func(i, j int) bool {
		return top[i].Severity.Rank() > top[j].Severity.Rank()
	})
	if len(top) > riskNarrativeTopN {
		top = top[:riskNarrativeTopN]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Threat hunt %q produced the following findings. Assess overall risk and recommend next steps.\n", hunt.Name)
	for _, finding := range top {
		fmt.Fprintf(&sb, "- [%s] %s: %s\n", finding.Severity, finding.FindingType, finding.Title)
	}

	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"risk_level":      map[string]interface{}{"type": "string", "enum": []string{"low", "medium", "high", "critical"}},
			"narrative":       map[string]interface{}{"type": "string"},
			"recommendations": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		},
		"required": []string{"risk_level", "narrative"},
	}

	raw, err := h.ai.Complete(ctx, sb.String(), schema)
	if err != nil {
		h.logger.Warnw("Risk narrative generation failed", "hunt_id", hunt.ID, "error", err)
		return nil, false
	}
	var parsed riskNarrativeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Narrative == "" {
		h.logger.Warnw("Risk narrative response unusable", "hunt_id", hunt.ID, "error", err)
		return nil, false
	}

	severity := core.Severity(parsed.RiskLevel)
	if !severity.IsValid() {
		severity = core.SeverityHigh
	}
	finding := core.NewHuntFinding(hunt.ID, core.FindingRiskAssessment, severity, "Hunt risk assessment")
	finding.Analysis = parsed.Narrative
	if len(parsed.Recommendations) > 0 {
		finding.Evidence["recommendations"] = parsed.Recommendations
	}
	return finding, true
}

// summarizeEvents fills the aggregate evidence shared by the match passes
func summarizeEvents(finding *core.HuntFinding, events []*core.SecurityEvent) {
	ips := make(map[string]bool)
	users := make(map[string]bool)
	var sampleIDs []string
	for _, event := range events {
		if event.IPAddress != "" {
			ips[event.IPAddress] = true
		}
		if event.UserEmail != "" {
			users[event.UserEmail] = true
		}
		if len(sampleIDs) < 10 {
			sampleIDs = append(sampleIDs, event.ID)
		}
	}
	for ip := range ips {
		finding.RelatedIPs = append(finding.RelatedIPs, ip)
	}
	for user := range users {
		finding.RelatedUsers = append(finding.RelatedUsers, user)
	}
	sort.Strings(finding.RelatedIPs)
	sort.Strings(finding.RelatedUsers)
	finding.Evidence["match_count"] = len(events)
	finding.Evidence["sample_event_ids"] = sampleIDs
}

// lookupField resolves a dotted path inside a decoded record
func lookupField(fields map[string]interface{}, path string) interface{} {
	if fields == nil || path == "" {
		return nil
	}
	parts := strings.Split(path, ".")
	var current interface{} = fields
	for _, part := range parts {
		asMap, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		current, ok = asMap[part]
		if !ok {
			return nil
		}
	}
	return current
}
