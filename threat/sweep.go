package threat

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"vigil/core"
	"vigil/metrics"
	"vigil/storage"
)

// DefaultSweepHours is the lookback window when the request omits one
const DefaultSweepHours = 24

// sweepFetchLimit bounds how much telemetry one sweep loads per source
const sweepFetchLimit = 1000

// SweepRequest asks for an IOC sweep over stored telemetry
type SweepRequest struct {
	IOCs           []string `json:"iocs"`
	HuntID         string   `json:"hunt_id,omitempty"`
	TimeRangeHours int      `json:"time_range_hours,omitempty"`
}

// IOCSweepResult summarizes one indicator's matches
type IOCSweepResult struct {
	IOC                   string       `json:"ioc"`
	Type                  core.IOCType `json:"type"`
	IntelMatched          bool         `json:"intel_matched"`
	MatchedEvents         int          `json:"matched_events"`
	MatchedEndpointEvents int          `json:"matched_endpoint_events"`
	MatchedEndpoints      int          `json:"matched_endpoints"`
	Evidence              []Evidence   `json:"evidence,omitempty"`
}

// SweepResult is the full sweep response
type SweepResult struct {
	Results        []IOCSweepResult `json:"results"`
	IOCsProcessed  int              `json:"iocs_processed"`
	IOCsTruncated  bool             `json:"iocs_truncated"`
	IntelDegraded  bool             `json:"intel_degraded"`
	TimeRangeHours int              `json:"time_range_hours"`
}

// Sweeper runs IOC sweeps across events, endpoint events and endpoints
type Sweeper struct {
	store  storage.Store
	intel  *IntelCorrelator
	logger *zap.SugaredLogger
}

// NewSweeper creates a sweeper
func NewSweeper(store storage.Store, intel *IntelCorrelator, logger *zap.SugaredLogger) *Sweeper {
	return &Sweeper{store: store, intel: intel, logger: logger}
}

// Sweep correlates each IOC against a time-windowed telemetry corpus.
// The three corpus fetches run concurrently and are joined before any
// correlation begins. Per-IOC output is bounded by the package caps.
func (s *Sweeper) Sweep(ctx context.Context, req SweepRequest) (*SweepResult, error) {
	if len(req.IOCs) == 0 {
		return nil, core.NewValidationError("iocs", "at least one IOC is required")
	}

	iocs := req.IOCs
	truncated := false
	if len(iocs) > MaxIOCsPerSweep {
		iocs = iocs[:MaxIOCsPerSweep]
		truncated = true
	}

	hours := req.TimeRangeHours
	if hours <= 0 {
		hours = DefaultSweepHours
	}
	since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	corpus, err := s.fetchCorpus(ctx, since)
	if err != nil {
		return nil, err
	}

	// one intel batch for the network-shaped indicators
	var networkIOCs []string
	for _, raw := range iocs {
		normalized := core.NormalizeIOC(raw)
		switch core.DetectIOCType(normalized) {
		case core.IOCTypeIP, core.IOCTypeDomain, core.IOCTypeURL:
			networkIOCs = append(networkIOCs, normalized)
		}
	}
	var signal *IntelSignal
	if s.intel != nil {
		signal = s.intel.CheckIndicators(ctx, networkIOCs)
	}

	result := &SweepResult{
		Results:        make([]IOCSweepResult, 0, len(iocs)),
		IOCsProcessed:  len(iocs),
		IOCsTruncated:  truncated,
		IntelDegraded:  signal != nil && signal.Degraded,
		TimeRangeHours: hours,
	}

	for _, raw := range iocs {
		normalized := core.NormalizeIOC(raw)
		iocResult := s.sweepOne(normalized, corpus, signal)
		result.Results = append(result.Results, iocResult)

		if req.HuntID != "" && len(iocResult.Evidence) > 0 {
			s.persistIOCFinding(ctx, req.HuntID, iocResult)
		}
	}
	return result, nil
}

type sweepCorpus struct {
	events         []*core.SecurityEvent
	endpointEvents []*core.EndpointEvent
	endpoints      []*core.Endpoint
}

func (s *Sweeper) fetchCorpus(ctx context.Context, since time.Time) (*sweepCorpus, error) {
	corpus := &sweepCorpus{}
	var wg sync.WaitGroup
	errs := make([]error, 3)

	wg.Add(3)
	go func() {
		defer wg.Done()
		corpus.events, errs[0] = s.store.ListEvents(ctx, &core.EventFilters{Since: &since, Limit: sweepFetchLimit})
	}()
	go func() {
		defer wg.Done()
		corpus.endpointEvents, errs[1] = s.store.ListEndpointEvents(ctx, since, sweepFetchLimit)
	}()
	go func() {
		defer wg.Done()
		corpus.endpoints, errs[2] = s.store.ListEndpoints(ctx, sweepFetchLimit)
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return corpus, nil
}

func (s *Sweeper) sweepOne(ioc string, corpus *sweepCorpus, signal *IntelSignal) IOCSweepResult {
	result := IOCSweepResult{
		IOC:          ioc,
		Type:         core.DetectIOCType(ioc),
		IntelMatched: signal.MatchedIndicator(ioc),
	}

	remaining := MaxEvidencePerFinding
	for _, event := range corpus.events {
		if result.MatchedEvents >= MaxEventsPerIOC {
			break
		}
		evidence := SearchRecord(RecordFields(event), ioc, remaining)
		if len(evidence) == 0 {
			continue
		}
		result.MatchedEvents++
		result.Evidence = append(result.Evidence, evidence...)
		remaining -= len(evidence)
		if remaining <= 0 {
			break
		}
	}

	for _, event := range corpus.endpointEvents {
		if remaining <= 0 {
			break
		}
		evidence := SearchRecord(RecordFields(event), ioc, remaining)
		if len(evidence) == 0 {
			continue
		}
		result.MatchedEndpointEvents++
		result.Evidence = append(result.Evidence, evidence...)
		remaining -= len(evidence)
	}

	for _, endpoint := range corpus.endpoints {
		if remaining <= 0 {
			break
		}
		evidence := SearchRecord(RecordFields(endpoint), ioc, remaining)
		if len(evidence) == 0 {
			continue
		}
		result.MatchedEndpoints++
		result.Evidence = append(result.Evidence, evidence...)
		remaining -= len(evidence)
	}
	return result
}

func (s *Sweeper) persistIOCFinding(ctx context.Context, huntID string, iocResult IOCSweepResult) {
	severity := core.SeverityMedium
	if iocResult.IntelMatched {
		severity = core.SeverityHigh
	}
	finding := core.NewHuntFinding(huntID, core.FindingIOCMatch, severity,
		"IOC match: "+iocResult.IOC)
	finding.Evidence["ioc"] = iocResult.IOC
	finding.Evidence["ioc_type"] = string(iocResult.Type)
	finding.Evidence["intel_matched"] = iocResult.IntelMatched
	finding.Evidence["matched_events"] = iocResult.MatchedEvents
	finding.Evidence["matched_endpoint_events"] = iocResult.MatchedEndpointEvents
	finding.Evidence["matched_endpoints"] = iocResult.MatchedEndpoints
	finding.Evidence["fields"] = iocResult.Evidence
	if iocResult.Type == core.IOCTypeIP {
		finding.RelatedIPs = []string{iocResult.IOC}
	}

	if err := s.store.CreateFinding(ctx, finding); err != nil {
		s.logger.Warnw("Failed to persist IOC finding", "hunt_id", huntID, "ioc", iocResult.IOC, "error", err)
		return
	}
	metrics.HuntFindings.WithLabelValues(string(core.FindingIOCMatch)).Inc()
}
