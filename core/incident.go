package core

import (
	"time"

	"github.com/google/uuid"
)

// IncidentCategory is the triage outcome for a security event
type IncidentCategory string

const (
	CategoryCriticalIncident      IncidentCategory = "critical_incident"
	CategoryHighPriority          IncidentCategory = "high_priority"
	CategoryRequiresInvestigation IncidentCategory = "requires_investigation"
	CategoryMonitor               IncidentCategory = "monitor"
	CategoryLowRisk               IncidentCategory = "low_risk"
)

// IsValid checks if the category is valid
func (c IncidentCategory) IsValid() bool {
	switch c {
	case CategoryCriticalIncident, CategoryHighPriority, CategoryRequiresInvestigation,
		CategoryMonitor, CategoryLowRisk:
		return true
	}
	return false
}

// RequiresNotification reports whether triaging into this category pages
// someone
func (c IncidentCategory) RequiresNotification() bool {
	return c == CategoryCriticalIncident || c == CategoryHighPriority
}

// SLAMinutes returns the response deadline for the category in minutes.
// The table is fixed: new categories are a compile-time decision, not a
// configuration knob.
func (c IncidentCategory) SLAMinutes() int {
	switch c {
	case CategoryCriticalIncident:
		return 15
	case CategoryHighPriority:
		return 60
	case CategoryRequiresInvestigation:
		return 240
	case CategoryMonitor:
		return 1440
	default:
		return 4320
	}
}

// DefaultInvestigationSteps returns the standard checklist for incidents
// in the category
func (c IncidentCategory) DefaultInvestigationSteps() []string {
	switch c {
	case CategoryCriticalIncident:
		return []string{
			"Confirm the event is not a false positive",
			"Identify affected accounts and endpoints",
			"Contain: block source IP and isolate affected endpoints",
			"Collect forensic evidence before remediation",
			"Escalate to incident commander",
		}
	case CategoryHighPriority:
		return []string{
			"Confirm the event is not a false positive",
			"Review recent activity from the same source",
			"Check threat intelligence for the involved indicators",
			"Decide on containment within the SLA window",
		}
	case CategoryRequiresInvestigation:
		return []string{
			"Review the event context and related telemetry",
			"Correlate with endpoint posture and recent alerts",
			"Document findings and close or escalate",
		}
	case CategoryMonitor:
		return []string{
			"Add the source to the watch list",
			"Re-evaluate if the pattern repeats",
		}
	default:
		return []string{
			"No immediate action required; review during routine sweep",
		}
	}
}

// CategoryForSeverity maps an event severity straight to a category. This
// is the last-resort classification when no rule matches and AI
// classification is unavailable.
func CategoryForSeverity(s Severity) IncidentCategory {
	switch s {
	case SeverityCritical:
		return CategoryCriticalIncident
	case SeverityHigh:
		return CategoryHighPriority
	case SeverityMedium:
		return CategoryRequiresInvestigation
	case SeverityLow:
		return CategoryMonitor
	default:
		return CategoryLowRisk
	}
}

// ClassificationSource records which stage of the triage state machine
// produced the category
type ClassificationSource string

const (
	ClassifiedByRule     ClassificationSource = "rule"
	ClassifiedByAI       ClassificationSource = "ai"
	ClassifiedByFallback ClassificationSource = "severity_fallback"
)

// TriagedIncident is the one-to-one triage outcome for a SecurityEvent.
// At-most-once per event is enforced by an existence check before
// creation; the check is not atomic, and a duplicate under concurrent
// triage of the same event is an accepted race.
type TriagedIncident struct {
	ID                 string               `json:"id"`
	EventID            string               `json:"event_id"`
	Category           IncidentCategory     `json:"category"`
	Confidence         float64              `json:"confidence"`
	Reasoning          string               `json:"reasoning"`
	Source             ClassificationSource `json:"source"`
	RuleID             string               `json:"rule_id,omitempty"`
	SLADeadline        time.Time            `json:"sla_deadline"`
	InvestigationSteps []string             `json:"investigation_steps"`
	// EventSnapshot is a denormalized copy taken at triage time so the
	// incident record survives later event mutation upstream.
	EventSnapshot *SecurityEvent `json:"event_snapshot"`
	CreatedAt     time.Time      `json:"created_at"`
}

// NewTriagedIncident builds an incident for an event with the SLA
// deadline computed from the category table
func NewTriagedIncident(event *SecurityEvent, category IncidentCategory, confidence float64, reasoning string, source ClassificationSource) *TriagedIncident {
	now := time.Now().UTC()
	snapshot := *event
	return &TriagedIncident{
		ID:                 uuid.New().String(),
		EventID:            event.ID,
		Category:           category,
		Confidence:         confidence,
		Reasoning:          reasoning,
		Source:             source,
		SLADeadline:        now.Add(time.Duration(category.SLAMinutes()) * time.Minute),
		InvestigationSteps: category.DefaultInvestigationSteps(),
		EventSnapshot:      &snapshot,
		CreatedAt:          now,
	}
}
