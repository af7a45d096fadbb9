package core

import (
	"time"
)

// InvestigationStatus is the lifecycle state of an active investigation
type InvestigationStatus string

const (
	InvestigationOpen   InvestigationStatus = "open"
	InvestigationClosed InvestigationStatus = "closed"
)

// TimelineEntry is one recorded step in an investigation timeline
type TimelineEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Action    string                 `json:"action"`
	User      string                 `json:"user"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ActiveInvestigation is a human-led response effort. The playbook
// executor appends timeline entries with a full read-modify-write of the
// current record; there is no optimistic-concurrency token, so concurrent
// appends can lose an entry (last writer wins).
type ActiveInvestigation struct {
	ID          string              `json:"id"`
	Title       string              `json:"title"`
	Status      InvestigationStatus `json:"status"`
	AssignedTo  string              `json:"assigned_to,omitempty"`
	Timeline    []TimelineEntry     `json:"timeline"`
	CreatedAt   time.Time           `json:"created_at"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// AppendTimeline adds an entry to the in-memory timeline
func (inv *ActiveInvestigation) AppendTimeline(action, user string, details map[string]interface{}) {
	inv.Timeline = append(inv.Timeline, TimelineEntry{
		Timestamp: time.Now().UTC(),
		Action:    action,
		User:      user,
		Details:   details,
	})
	inv.UpdatedAt = time.Now().UTC()
}
