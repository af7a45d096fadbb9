package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsTriaged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_events_triaged_total",
			Help: "Total number of events classified by the triage pipeline",
		},
		[]string{"category", "source"},
	)

	ResponseActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_response_actions_total",
			Help: "Total number of response actions by outcome",
		},
		[]string{"action", "status"},
	)

	HuntFindings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_hunt_findings_total",
			Help: "Total number of hunt findings by type",
		},
		[]string{"finding_type"},
	)

	ThreatIntelLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_threat_intel_lookups_total",
			Help: "Threat intel lookup outcomes",
		},
		[]string{"result"},
	)

	TriageDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_triage_duration_seconds",
			Help:    "Time taken to classify an event",
			Buckets: prometheus.DefBuckets,
		},
	)

	HuntDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vigil_hunt_duration_seconds",
			Help:    "Time taken to execute a hunt",
			Buckets: prometheus.DefBuckets,
		},
	)
)
