package core

import (
	"time"

	"github.com/google/uuid"
)

// Severity represents the severity level of a security event
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AllSeverities returns all valid severities for validation
var AllSeverities = []Severity{
	SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical,
}

// IsValid checks if the severity is valid
func (s Severity) IsValid() bool {
	for _, valid := range AllSeverities {
		if s == valid {
			return true
		}
	}
	return false
}

// Rank returns the ordinal position of the severity, info lowest.
// Unknown severities rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityLow:
		return 2
	case SeverityMedium:
		return 3
	case SeverityHigh:
		return 4
	case SeverityCritical:
		return 5
	default:
		return 0
	}
}

// AtLeast reports whether s is at least as severe as floor.
func (s Severity) AtLeast(floor Severity) bool {
	return s.Rank() >= floor.Rank()
}

// String returns the string representation
func (s Severity) String() string {
	return string(s)
}

// SecurityEvent represents a single piece of raw security telemetry.
// Events are immutable once created; every downstream component consumes
// them read-only.
type SecurityEvent struct {
	ID        string                 `json:"id"`
	Severity  Severity               `json:"severity"`
	EventType string                 `json:"event_type"`
	Message   string                 `json:"message"`
	IPAddress string                 `json:"ip_address,omitempty"`
	UserEmail string                 `json:"user_email,omitempty"`
	Route     string                 `json:"route,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// NewSecurityEvent creates a new event with a generated ID and timestamp
func NewSecurityEvent(severity Severity, eventType, message string) *SecurityEvent {
	return &SecurityEvent{
		ID:        uuid.New().String(),
		Severity:  severity,
		EventType: eventType,
		Message:   message,
		Details:   make(map[string]interface{}),
		CreatedAt: time.Now().UTC(),
	}
}

// EventFilters defines filters for listing security events
type EventFilters struct {
	Severities []Severity
	EventTypes []string
	IPAddress  string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}
