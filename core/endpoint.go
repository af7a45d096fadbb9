package core

import (
	"time"

	"github.com/google/uuid"
)

// Posture represents an endpoint's current security classification
type Posture string

const (
	PostureNormal      Posture = "normal"
	PostureAtRisk      Posture = "at_risk"
	PostureCompromised Posture = "compromised"
)

// IsValid checks if the posture is valid
func (p Posture) IsValid() bool {
	switch p {
	case PostureNormal, PostureAtRisk, PostureCompromised:
		return true
	}
	return false
}

// EndpointStatus represents endpoint connectivity status
type EndpointStatus string

const (
	EndpointOnline  EndpointStatus = "online"
	EndpointOffline EndpointStatus = "offline"
)

// Vulnerability is a known weakness detected on an endpoint
type Vulnerability struct {
	CVE        string   `json:"cve,omitempty"`
	Title      string   `json:"title"`
	Severity   Severity `json:"severity"`
	DetectedAt string   `json:"detected_at,omitempty"`
}

// InstalledSoftware is a software inventory entry
type InstalledSoftware struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Vendor  string `json:"vendor,omitempty"`
}

// NetworkConnection is an observed connection from the endpoint
type NetworkConnection struct {
	RemoteIP   string `json:"remote_ip"`
	RemotePort int    `json:"remote_port,omitempty"`
	Protocol   string `json:"protocol,omitempty"`
	Process    string `json:"process,omitempty"`
}

// SuspiciousProcess is a flagged process on the endpoint
type SuspiciousProcess struct {
	Name   string `json:"name"`
	PID    int    `json:"pid,omitempty"`
	Path   string `json:"path,omitempty"`
	Hash   string `json:"hash,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Endpoint represents a managed device. It is the one mutable record in
// the response path: isolation and scan actions rewrite posture, status
// and tags with a full read-modify-write (last writer wins, no lock).
type Endpoint struct {
	ID                  string              `json:"id"`
	Hostname            string              `json:"hostname"`
	LastIP              string              `json:"last_ip,omitempty"`
	OwnerEmail          string              `json:"owner_email,omitempty"`
	SecurityPosture     Posture             `json:"security_posture"`
	Status              EndpointStatus      `json:"status"`
	Tags                []string            `json:"tags,omitempty"`
	Vulnerabilities     []Vulnerability     `json:"vulnerabilities,omitempty"`
	InstalledSoftware   []InstalledSoftware `json:"installed_software,omitempty"`
	NetworkConnections  []NetworkConnection `json:"network_connections,omitempty"`
	SuspiciousProcesses []SuspiciousProcess `json:"suspicious_processes,omitempty"`
	LastScanAt          *time.Time          `json:"last_scan_at,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// HasTag reports whether the endpoint carries the given tag
func (e *Endpoint) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// AddTag appends a tag if not already present
func (e *Endpoint) AddTag(tag string) {
	if !e.HasTag(tag) {
		e.Tags = append(e.Tags, tag)
	}
}

// EndpointEvent is endpoint-scoped telemetry. Append-only; created by
// collectors and by isolation/scan actions.
type EndpointEvent struct {
	ID         string                 `json:"id"`
	EndpointID string                 `json:"endpoint_id"`
	Type       string                 `json:"type"`
	Severity   Severity               `json:"severity"`
	Timestamp  time.Time              `json:"timestamp"`
	Process    string                 `json:"process,omitempty"`
	File       string                 `json:"file,omitempty"`
	Hash       string                 `json:"hash,omitempty"`
	RemoteIP   string                 `json:"remote_ip,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// NewEndpointEvent creates a new endpoint event with generated ID and timestamp
func NewEndpointEvent(endpointID, eventType string, severity Severity) *EndpointEvent {
	return &EndpointEvent{
		ID:         uuid.New().String(),
		EndpointID: endpointID,
		Type:       eventType,
		Severity:   severity,
		Timestamp:  time.Now().UTC(),
		Details:    make(map[string]interface{}),
	}
}
