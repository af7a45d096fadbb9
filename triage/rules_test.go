package triage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/core"
)

func boolPtr(b bool) *bool { return &b }

func eventContext(severity core.Severity, eventType, message string) *RuleContext {
	return &RuleContext{Event: core.NewSecurityEvent(severity, eventType, message)}
}

func TestEvaluateConditionsEmptyNeverMatches(t *testing.T) {
	matched, reasons := EvaluateConditions(&core.RuleConditions{}, eventContext(core.SeverityCritical, "x", "y"))
	assert.False(t, matched)
	assert.Nil(t, reasons)
}

func TestEvaluateConditionsCategories(t *testing.T) {
	ctx := eventContext(core.SeverityHigh, "failed_login", "password spray against admin")
	ctx.ThreatIntelMatched = true
	ctx.RecentEventCount = 12
	ctx.Endpoint = &core.Endpoint{Hostname: "ws-4", SecurityPosture: core.PostureAtRisk}

	tests := []struct {
		name       string
		conditions core.RuleConditions
		want       bool
	}{
		{"severity member", core.RuleConditions{Severities: []core.Severity{core.SeverityHigh, core.SeverityCritical}}, true},
		{"severity not member", core.RuleConditions{Severities: []core.Severity{core.SeverityLow}}, false},
		{"event type case-insensitive", core.RuleConditions{EventTypes: []string{"FAILED_LOGIN"}}, true},
		{"intel flag true", core.RuleConditions{ThreatIntelMatch: boolPtr(true)}, true},
		{"intel flag false mismatch", core.RuleConditions{ThreatIntelMatch: boolPtr(false)}, false},
		{"posture member", core.RuleConditions{EndpointPostures: []core.Posture{core.PostureAtRisk}}, true},
		{"count at threshold", core.RuleConditions{MinEventCount: 12}, true},
		{"count below threshold", core.RuleConditions{MinEventCount: 13}, false},
		{"keyword in message", core.RuleConditions{Keywords: []string{"spray"}}, true},
		{"keyword absent", core.RuleConditions{Keywords: []string{"ransomware"}}, false},
		{"one satisfied category suffices", core.RuleConditions{
			Severities: []core.Severity{core.SeverityHigh},
			Keywords:   []string{"ransomware"},
		}, true},
		{"no satisfied category", core.RuleConditions{
			Severities: []core.Severity{core.SeverityLow},
			Keywords:   []string{"ransomware"},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched, reasons := EvaluateConditions(&tt.conditions, ctx)
			assert.Equal(t, tt.want, matched)
			if tt.want {
				assert.NotEmpty(t, reasons)
			}
		})
	}
}

func TestEvaluateConditionsAnyCategoryMatches(t *testing.T) {
	ctx := eventContext(core.SeverityCritical, "malware_detected", "payload dropped")

	matched, reasons := EvaluateConditions(&core.RuleConditions{
		Severities: []core.Severity{core.SeverityCritical},
		EventTypes: []string{"brute_force"},
	}, ctx)

	// the severity category holds, so the event-type miss does not veto
	assert.True(t, matched)
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "severity is critical")
}

func TestEvaluateConditionsPostureNeedsEndpoint(t *testing.T) {
	ctx := eventContext(core.SeverityHigh, "x", "y")
	matched, _ := EvaluateConditions(&core.RuleConditions{
		EndpointPostures: []core.Posture{core.PostureCompromised},
	}, ctx)
	assert.False(t, matched)
}

func TestFirstMatchPriorityOrder(t *testing.T) {
	ctx := eventContext(core.SeverityCritical, "brute_force", "spray")
	conditions := core.RuleConditions{Severities: []core.Severity{core.SeverityCritical}}

	rules := []*core.TriageRule{
		{ID: "default-priority", Name: "default", Enabled: true, Conditions: conditions, Category: core.CategoryMonitor},
		{ID: "urgent", Name: "urgent", Enabled: true, Priority: 10, Conditions: conditions, Category: core.CategoryCriticalIncident},
		{ID: "late", Name: "late", Enabled: true, Priority: 90, Conditions: conditions, Category: core.CategoryLowRisk},
	}

	match := FirstMatch(rules, ctx)
	require.NotNil(t, match)
	assert.Equal(t, "urgent", match.Rule.ID)
}

func TestFirstMatchSkipsDisabled(t *testing.T) {
	ctx := eventContext(core.SeverityCritical, "x", "y")
	conditions := core.RuleConditions{Severities: []core.Severity{core.SeverityCritical}}

	rules := []*core.TriageRule{
		{ID: "off", Enabled: false, Priority: 1, Conditions: conditions, Category: core.CategoryCriticalIncident},
		{ID: "on", Enabled: true, Priority: 50, Conditions: conditions, Category: core.CategoryHighPriority},
	}
	match := FirstMatch(rules, ctx)
	require.NotNil(t, match)
	assert.Equal(t, "on", match.Rule.ID)
}

func TestFirstMatchNoMatch(t *testing.T) {
	ctx := eventContext(core.SeverityLow, "x", "y")
	rules := []*core.TriageRule{
		{ID: "r", Enabled: true, Conditions: core.RuleConditions{Severities: []core.Severity{core.SeverityCritical}}},
	}
	assert.Nil(t, FirstMatch(rules, ctx))
}

func TestAllMatchesReturnsEveryMatchingRule(t *testing.T) {
	ctx := eventContext(core.SeverityCritical, "brute_force", "spray")
	critical := core.RuleConditions{Severities: []core.Severity{core.SeverityCritical}}

	rules := []*core.AutoResponseRule{
		{ID: "block", Enabled: true, Conditions: critical, Actions: core.ResponseActions{BlockIP: true}},
		{ID: "notify", Enabled: true, Conditions: critical, Actions: core.ResponseActions{NotifyEmails: []string{"soc@example.com"}}},
		{ID: "off", Enabled: false, Conditions: critical, Actions: core.ResponseActions{BlockIP: true}},
		{ID: "nomatch", Enabled: true, Conditions: core.RuleConditions{EventTypes: []string{"malware"}}},
	}

	matches := AllMatches(rules, ctx)
	require.Len(t, matches, 2)
	assert.Equal(t, "block", matches[0].Rule.ID)
	assert.Equal(t, "notify", matches[1].Rule.ID)
}
