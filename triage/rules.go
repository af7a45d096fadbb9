package triage

import (
	"fmt"
	"sort"
	"strings"

	"vigil/core"
)

// RuleContext is the enriched view of one event that rules evaluate
// against. ThreatIntelMatched and Endpoint come from the correlators and
// may be absent; absent signals simply fail the conditions that need them.
type RuleContext struct {
	Event              *core.SecurityEvent
	ThreatIntelMatched bool
	Endpoint           *core.Endpoint
	RecentEventCount   int
}

// EvaluateConditions checks every populated condition category against the
// context. Any populated category that holds marks the rule matched;
// unsatisfied categories are ignored rather than vetoing the match. A rule
// with zero populated conditions never matches. Returns one human-readable
// trigger reason per satisfied category.
func EvaluateConditions(conditions *core.RuleConditions, ctx *RuleContext) (bool, []string) {
	if conditions.Empty() || ctx.Event == nil {
		return false, nil
	}

	var reasons []string

	if len(conditions.Severities) > 0 && containsSeverity(conditions.Severities, ctx.Event.Severity) {
		reasons = append(reasons, fmt.Sprintf("severity is %s", ctx.Event.Severity))
	}

	if len(conditions.EventTypes) > 0 && containsString(conditions.EventTypes, ctx.Event.EventType) {
		reasons = append(reasons, fmt.Sprintf("event type is %s", ctx.Event.EventType))
	}

	if conditions.ThreatIntelMatch != nil && ctx.ThreatIntelMatched == *conditions.ThreatIntelMatch {
		if ctx.ThreatIntelMatched {
			reasons = append(reasons, "threat intelligence matched the source")
		} else {
			reasons = append(reasons, "no threat intelligence match")
		}
	}

	if len(conditions.EndpointPostures) > 0 && ctx.Endpoint != nil &&
		containsPosture(conditions.EndpointPostures, ctx.Endpoint.SecurityPosture) {
		reasons = append(reasons, fmt.Sprintf("endpoint %s posture is %s",
			ctx.Endpoint.Hostname, ctx.Endpoint.SecurityPosture))
	}

	if conditions.MinEventCount > 0 && ctx.RecentEventCount >= conditions.MinEventCount {
		reasons = append(reasons, fmt.Sprintf("%d recent events from source (threshold %d)",
			ctx.RecentEventCount, conditions.MinEventCount))
	}

	if len(conditions.Keywords) > 0 {
		if keyword, found := matchKeyword(conditions.Keywords, ctx.Event); found {
			reasons = append(reasons, fmt.Sprintf("keyword %q present", keyword))
		}
	}

	return len(reasons) > 0, reasons
}

// TriageMatch is a triage rule that matched, with its trigger reasons
type TriageMatch struct {
	Rule    *core.TriageRule
	Reasons []string
}

// FirstMatch resolves the highest-priority matching triage rule. Rules are
// sorted ascending by priority (lower number wins, default 50) and the
// first match ends evaluation.
func FirstMatch(rules []*core.TriageRule, ctx *RuleContext) *TriageMatch {
	sorted := make([]*core.TriageRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EffectivePriority() < sorted[j].EffectivePriority()
	})

	for _, rule := range sorted {
		if !rule.Enabled {
			continue
		}
		if matched, reasons := EvaluateConditions(&rule.Conditions, ctx); matched {
			return &TriageMatch{Rule: rule, Reasons: reasons}
		}
	}
	return nil
}

// ResponseMatch is an auto-response rule that matched, with its trigger
// reasons
type ResponseMatch struct {
	Rule    *core.AutoResponseRule
	Reasons []string
}

// AllMatches evaluates every enabled auto-response rule. This is
// deliberately not first-match: multiple independent automations may fire
// for one event.
func AllMatches(rules []*core.AutoResponseRule, ctx *RuleContext) []ResponseMatch {
	var matches []ResponseMatch
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if matched, reasons := EvaluateConditions(&rule.Conditions, ctx); matched {
			matches = append(matches, ResponseMatch{Rule: rule, Reasons: reasons})
		}
	}
	return matches
}

func containsSeverity(haystack []core.Severity, needle core.Severity) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

func containsPosture(haystack []core.Posture, needle core.Posture) bool {
	for _, p := range haystack {
		if p == needle {
			return true
		}
	}
	return false
}

// matchKeyword looks for any keyword as a case-insensitive substring of
// the event's message, type or details
func matchKeyword(keywords []string, event *core.SecurityEvent) (string, bool) {
	var sb strings.Builder
	sb.WriteString(event.Message)
	sb.WriteByte(' ')
	sb.WriteString(event.EventType)
	for _, value := range event.Details {
		fmt.Fprintf(&sb, " %v", value)
	}
	haystack := strings.ToLower(sb.String())

	for _, keyword := range keywords {
		keyword = strings.TrimSpace(keyword)
		if keyword == "" {
			continue
		}
		if strings.Contains(haystack, strings.ToLower(keyword)) {
			return keyword, true
		}
	}
	return "", false
}
