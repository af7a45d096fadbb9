package core

import (
	"fmt"
	"time"
)

// RuleConditions is the typed condition set shared by triage and
// auto-response rules. Each populated category must hold for the rule to
// match; empty categories are ignored. A rule with no populated
// conditions never matches.
//
// Conditions arrive as loosely-typed JSON from rule authors; Validate is
// run at rule-load time so evaluation never sees a malformed condition.
type RuleConditions struct {
	Severities       []Severity `json:"severities,omitempty"`
	EventTypes       []string   `json:"event_types,omitempty"`
	ThreatIntelMatch *bool      `json:"threat_intel_match,omitempty"`
	EndpointPostures []Posture  `json:"endpoint_postures,omitempty"`
	MinEventCount    int        `json:"min_event_count,omitempty"`
	Keywords         []string   `json:"keywords,omitempty"`
}

// Empty reports whether no condition category is populated
func (c *RuleConditions) Empty() bool {
	return len(c.Severities) == 0 &&
		len(c.EventTypes) == 0 &&
		c.ThreatIntelMatch == nil &&
		len(c.EndpointPostures) == 0 &&
		c.MinEventCount <= 0 &&
		len(c.Keywords) == 0
}

// Validate checks enum membership and bounds for every populated category
func (c *RuleConditions) Validate() error {
	for _, s := range c.Severities {
		if !s.IsValid() {
			return fmt.Errorf("invalid severity in conditions: %s", s)
		}
	}
	for _, p := range c.EndpointPostures {
		if !p.IsValid() {
			return fmt.Errorf("invalid endpoint posture in conditions: %s", p)
		}
	}
	if c.MinEventCount < 0 {
		return fmt.Errorf("min_event_count cannot be negative")
	}
	return nil
}

// DefaultRulePriority applies when a rule does not set one; lower number
// means higher priority.
const DefaultRulePriority = 50

// TriageRule categorizes events during triage. Rules are externally
// authored; this engine reads them and resolves the first match in
// ascending priority order.
type TriageRule struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Enabled    bool             `json:"enabled"`
	Priority   int              `json:"priority"`
	Conditions RuleConditions   `json:"conditions"`
	Category   IncidentCategory `json:"category"`
	Confidence float64          `json:"confidence"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Validate checks the rule is well-formed at load time
func (r *TriageRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule ID is required")
	}
	if !r.Category.IsValid() {
		return fmt.Errorf("invalid incident category: %s", r.Category)
	}
	return r.Conditions.Validate()
}

// EffectivePriority returns the rule priority, substituting the default
// when unset
func (r *TriageRule) EffectivePriority() int {
	if r.Priority == 0 {
		return DefaultRulePriority
	}
	return r.Priority
}

// DefaultCooldownMinutes is the minimum spacing between automated
// triggers of the same response rule
const DefaultCooldownMinutes = 30

// ResponseActions declares which remediations an auto-response rule
// executes when it fires
type ResponseActions struct {
	BlockIP         bool     `json:"block_ip,omitempty"`
	BlockMinutes    int      `json:"block_minutes,omitempty"`
	IsolateEndpoint bool     `json:"isolate_endpoint,omitempty"`
	TriggerVulnScan bool     `json:"trigger_vuln_scan,omitempty"`
	NotifyEmails    []string `json:"notify_emails,omitempty"`
}

// Empty reports whether the rule declares no actions at all
func (a *ResponseActions) Empty() bool {
	return !a.BlockIP && !a.IsolateEndpoint && !a.TriggerVulnScan && len(a.NotifyEmails) == 0
}

// AutoResponseRule drives the automated response executor. Unlike triage,
// every enabled matching rule fires: independent automations may
// legitimately overlap on one event. LastTriggered is the only field this
// engine writes back.
type AutoResponseRule struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Enabled         bool            `json:"enabled"`
	Priority        int             `json:"priority"`
	Conditions      RuleConditions  `json:"conditions"`
	Actions         ResponseActions `json:"actions"`
	CooldownMinutes int             `json:"cooldown_minutes"`
	LastTriggered   *time.Time      `json:"last_triggered,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Validate checks the rule is well-formed at load time
func (r *AutoResponseRule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule ID is required")
	}
	if r.CooldownMinutes < 0 {
		return fmt.Errorf("cooldown_minutes cannot be negative")
	}
	return r.Conditions.Validate()
}

// EffectiveCooldown returns the rule cooldown, substituting the default
// when unset
func (r *AutoResponseRule) EffectiveCooldown() time.Duration {
	minutes := r.CooldownMinutes
	if minutes <= 0 {
		minutes = DefaultCooldownMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// InCooldown reports whether the rule fired within its cooldown window
func (r *AutoResponseRule) InCooldown(now time.Time) bool {
	if r.LastTriggered == nil {
		return false
	}
	return now.Sub(*r.LastTriggered) < r.EffectiveCooldown()
}
