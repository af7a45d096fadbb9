package storage

import (
	"context"
	"time"

	"vigil/core"
)

// EventStorage defines the interface for security event persistence.
// Events are created by upstream ingestion; this engine reads them and
// counts recent activity per source.
type EventStorage interface {
	CreateEvent(ctx context.Context, event *core.SecurityEvent) error
	GetEvent(ctx context.Context, id string) (*core.SecurityEvent, error)
	ListEvents(ctx context.Context, filters *core.EventFilters) ([]*core.SecurityEvent, error)
	// CountRecentByIP counts events from one source IP since the given time
	CountRecentByIP(ctx context.Context, ip string, since time.Time) (int, error)
}

// EndpointStorage defines the interface for endpoint records
type EndpointStorage interface {
	CreateEndpoint(ctx context.Context, endpoint *core.Endpoint) error
	GetEndpoint(ctx context.Context, id string) (*core.Endpoint, error)
	// FindEndpointByIP returns ErrEndpointNotFound when no endpoint has
	// the address as its last known IP
	FindEndpointByIP(ctx context.Context, ip string) (*core.Endpoint, error)
	ListEndpoints(ctx context.Context, limit int) ([]*core.Endpoint, error)
	UpdateEndpoint(ctx context.Context, endpoint *core.Endpoint) error
}

// EndpointEventStorage defines the interface for endpoint telemetry
type EndpointEventStorage interface {
	CreateEndpointEvent(ctx context.Context, event *core.EndpointEvent) error
	ListEndpointEvents(ctx context.Context, since time.Time, limit int) ([]*core.EndpointEvent, error)
}

// BlockedIPStorage defines the interface for IP block records
type BlockedIPStorage interface {
	CreateBlockedIP(ctx context.Context, block *core.BlockedIP) error
	// FindActiveBlock returns ErrBlockNotFound when the IP has no active
	// block. Callers use this as the pre-create existence check; the
	// check-then-create pair is not atomic.
	FindActiveBlock(ctx context.Context, ip string) (*core.BlockedIP, error)
	ListBlockedIPs(ctx context.Context, activeOnly bool, limit int) ([]*core.BlockedIP, error)
	UpdateBlockedIP(ctx context.Context, block *core.BlockedIP) error
}

// TriageRuleStorage defines the read interface for triage rules
type TriageRuleStorage interface {
	GetTriageRule(ctx context.Context, id string) (*core.TriageRule, error)
	ListEnabledTriageRules(ctx context.Context) ([]*core.TriageRule, error)
}

// ResponseRuleStorage defines the interface for auto-response rules.
// LastTriggered is the only field the engine writes.
type ResponseRuleStorage interface {
	GetResponseRule(ctx context.Context, id string) (*core.AutoResponseRule, error)
	ListEnabledResponseRules(ctx context.Context) ([]*core.AutoResponseRule, error)
	UpdateLastTriggered(ctx context.Context, id string, triggeredAt time.Time) error
}

// IncidentStorage defines the interface for triaged incidents
type IncidentStorage interface {
	CreateIncident(ctx context.Context, incident *core.TriagedIncident) error
	// GetIncidentByEventID returns ErrIncidentNotFound when the event has
	// not been triaged; used as the idempotency check before triage.
	GetIncidentByEventID(ctx context.Context, eventID string) (*core.TriagedIncident, error)
	ListIncidents(ctx context.Context, limit int) ([]*core.TriagedIncident, error)
}

// HuntStorage defines the interface for threat hunts and their findings
type HuntStorage interface {
	CreateHunt(ctx context.Context, hunt *core.ThreatHunt) error
	GetHunt(ctx context.Context, id string) (*core.ThreatHunt, error)
	UpdateHuntLastRun(ctx context.Context, id string, ranAt time.Time) error
	CreateFinding(ctx context.Context, finding *core.HuntFinding) error
	ListFindings(ctx context.Context, huntID string, limit int) ([]*core.HuntFinding, error)
}

// InvestigationStorage defines the interface for active investigations
type InvestigationStorage interface {
	CreateInvestigation(ctx context.Context, inv *core.ActiveInvestigation) error
	GetInvestigation(ctx context.Context, id string) (*core.ActiveInvestigation, error)
	UpdateInvestigation(ctx context.Context, inv *core.ActiveInvestigation) error
}

// NotificationStorage defines the interface for user-facing notifications
type NotificationStorage interface {
	CreateNotification(ctx context.Context, n *core.Notification) error
	ListNotifications(ctx context.Context, limit int) ([]*core.Notification, error)
}

// Store aggregates every entity interface the engine consumes. Both the
// SQLite store and the in-memory store satisfy it.
type Store interface {
	EventStorage
	EndpointStorage
	EndpointEventStorage
	BlockedIPStorage
	TriageRuleStorage
	ResponseRuleStorage
	IncidentStorage
	HuntStorage
	InvestigationStorage
	NotificationStorage
}
