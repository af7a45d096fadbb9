package core

import (
	"time"

	"github.com/google/uuid"
)

// Hunt data sources
const (
	DataSourceEvents         = "security_events"
	DataSourceEndpointEvents = "endpoint_events"
	DataSourceEndpoints      = "endpoints"
)

// AnomalyConfig controls statistical anomaly detection during a hunt
type AnomalyConfig struct {
	Enabled            bool    `json:"enabled"`
	DeviationThreshold float64 `json:"deviation_threshold,omitempty"` // z-score cutoff, default 2.0
}

// DefaultDeviationThreshold is the z-score above which a bucket is
// considered anomalous when the hunt does not configure one
const DefaultDeviationThreshold = 2.0

// QueryConfig is the declarative definition of what a hunt examines
type QueryConfig struct {
	DataSources []string      `json:"data_sources"`
	Filters     []FieldFilter `json:"filters,omitempty"`
	Keywords    []string      `json:"keywords,omitempty"`
	MinSeverity Severity      `json:"min_severity,omitempty"`
	Anomaly     AnomalyConfig `json:"anomaly,omitempty"`
}

// HuntStatus is the lifecycle state of a hunt definition
type HuntStatus string

const (
	HuntStatusActive   HuntStatus = "active"
	HuntStatusPaused   HuntStatus = "paused"
	HuntStatusArchived HuntStatus = "archived"
)

// ThreatHunt is a stored hunt definition. Runs are triggered externally
// (cron-style); the engine has no scheduler of its own.
type ThreatHunt struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Description    string      `json:"description,omitempty"`
	Status         HuntStatus  `json:"status"`
	QueryConfig    QueryConfig `json:"query_config"`
	TimeRangeHours int         `json:"time_range_hours"`
	LastRunAt      *time.Time  `json:"last_run_at,omitempty"`
	CreatedBy      string      `json:"created_by,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// FindingType identifies what kind of signal produced a hunt finding
type FindingType string

const (
	FindingFilterMatch     FindingType = "filter_match"
	FindingKeywordMatch    FindingType = "keyword_match"
	FindingSeverityMatch   FindingType = "severity_match"
	FindingVolumeAnomaly   FindingType = "volume_anomaly"
	FindingSourceAnomaly   FindingType = "source_ip_anomaly"
	FindingPostureRisk     FindingType = "endpoint_posture"
	FindingIOCMatch        FindingType = "ioc_match"
	FindingRiskAssessment  FindingType = "risk_assessment"
)

// HuntFinding is one append-only result of a hunt or IOC sweep. A finding
// summarizes all matches for its signal rather than recording one finding
// per match.
type HuntFinding struct {
	ID              string                 `json:"id"`
	HuntID          string                 `json:"hunt_id,omitempty"`
	FindingType     FindingType            `json:"finding_type"`
	Severity        Severity               `json:"severity"`
	Title           string                 `json:"title"`
	Description     string                 `json:"description,omitempty"`
	Evidence        map[string]interface{} `json:"evidence,omitempty"`
	RelatedIPs      []string               `json:"related_ips,omitempty"`
	RelatedUsers    []string               `json:"related_users,omitempty"`
	MitreTechniques []string               `json:"mitre_techniques,omitempty"`
	Analysis        string                 `json:"analysis,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// NewHuntFinding creates a finding with generated ID and timestamp
func NewHuntFinding(huntID string, findingType FindingType, severity Severity, title string) *HuntFinding {
	return &HuntFinding{
		ID:          uuid.New().String(),
		HuntID:      huntID,
		FindingType: findingType,
		Severity:    severity,
		Title:       title,
		Evidence:    make(map[string]interface{}),
		CreatedAt:   time.Now().UTC(),
	}
}
