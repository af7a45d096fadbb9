package respond

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vigil/core"
	"vigil/storage"
	"vigil/threat"
	"vigil/triage"
)

// RespondRequest asks for automated response to one event
type RespondRequest struct {
	EventID string `json:"event_id"`
	RuleID  string `json:"rule_id,omitempty"`
	Manual  bool   `json:"manual,omitempty"`
}

// RuleOutcome is the result of one rule's evaluation: either skipped with
// a reason, or executed with per-action results
type RuleOutcome struct {
	RuleID     string         `json:"rule_id"`
	RuleName   string         `json:"rule_name"`
	Skipped    bool           `json:"skipped,omitempty"`
	SkipReason string         `json:"skip_reason,omitempty"`
	Reasons    []string       `json:"trigger_reasons,omitempty"`
	Actions    []ActionResult `json:"actions,omitempty"`
}

// RespondResult is the full auto-response outcome for an event
type RespondResult struct {
	EventID       string        `json:"event_id"`
	Outcomes      []RuleOutcome `json:"outcomes"`
	IntelDegraded bool          `json:"intel_degraded,omitempty"`
}

// Responder runs the rule-driven automated response path
type Responder struct {
	engine *Engine
	store  storage.Store
	intel  *threat.IntelCorrelator
}

// NewResponder creates a responder on top of an action engine
func NewResponder(engine *Engine, intel *threat.IntelCorrelator) *Responder {
	return &Responder{engine: engine, store: engine.store, intel: intel}
}

// Respond evaluates auto-response rules for the event and executes the
// actions of every firing rule. Unlike triage this is not first-match:
// each enabled matching rule fires independently. Manual requests pin one
// rule and bypass both condition matching and cooldown.
func (r *Responder) Respond(ctx context.Context, req RespondRequest) (*RespondResult, error) {
	if req.EventID == "" {
		return nil, core.NewValidationError("event_id", "event_id is required")
	}
	if req.Manual && req.RuleID == "" {
		return nil, core.NewValidationError("rule_id", "manual response requires a rule_id")
	}

	event, err := r.store.GetEvent(ctx, req.EventID)
	if err != nil {
		return nil, err
	}

	ruleCtx, intelDegraded := triage.EnrichContext(ctx, r.store, r.intel, event)
	result := &RespondResult{EventID: event.ID, IntelDegraded: intelDegraded}

	matches, err := r.matchRules(ctx, req, ruleCtx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, match := range matches {
		outcome := RuleOutcome{RuleID: match.Rule.ID, RuleName: match.Rule.Name, Reasons: match.Reasons}

		if !req.Manual && match.Rule.InCooldown(now) {
			outcome.Skipped = true
			outcome.SkipReason = fmt.Sprintf("cooldown: rule fired %s ago, cooldown is %s",
				now.Sub(*match.Rule.LastTriggered).Round(time.Second), match.Rule.EffectiveCooldown())
			result.Outcomes = append(result.Outcomes, outcome)
			continue
		}

		outcome.Actions = r.executeRule(ctx, match.Rule, event, match.Reasons)
		if err := r.store.UpdateLastTriggered(ctx, match.Rule.ID, now); err != nil {
			r.engine.logger.Warnw("Failed to record rule trigger time", "rule_id", match.Rule.ID, "error", err)
		}
		result.Outcomes = append(result.Outcomes, outcome)
	}
	return result, nil
}

func (r *Responder) matchRules(ctx context.Context, req RespondRequest, ruleCtx *triage.RuleContext) ([]triage.ResponseMatch, error) {
	if req.RuleID != "" {
		rule, err := r.store.GetResponseRule(ctx, req.RuleID)
		if err != nil {
			return nil, err
		}
		if !rule.Enabled {
			return nil, core.NewValidationError("rule_id", "rule is disabled")
		}
		if req.Manual {
			return []triage.ResponseMatch{{Rule: rule, Reasons: []string{"manually triggered"}}}, nil
		}
		if matched, reasons := triage.EvaluateConditions(&rule.Conditions, ruleCtx); matched {
			return []triage.ResponseMatch{{Rule: rule, Reasons: reasons}}, nil
		}
		return nil, nil
	}

	rules, err := r.store.ListEnabledResponseRules(ctx)
	if err != nil {
		return nil, err
	}
	return triage.AllMatches(rules, ruleCtx), nil
}

// executeRule runs every action the rule declares. A failing action is
// recorded and the rest still run.
func (r *Responder) executeRule(ctx context.Context, rule *core.AutoResponseRule, event *core.SecurityEvent, reasons []string) []ActionResult {
	var results []ActionResult
	reason := fmt.Sprintf("auto-response rule %q: %s", rule.Name, strings.Join(reasons, "; "))

	var endpoint *core.Endpoint
	if rule.Actions.IsolateEndpoint || rule.Actions.TriggerVulnScan {
		endpoint = r.engine.endpointForEvent(ctx, event)
	}

	if rule.Actions.BlockIP {
		minutes := rule.Actions.BlockMinutes
		if minutes <= 0 {
			minutes = core.DefaultBlockMinutes
		}
		results = append(results, r.engine.blockIP(ctx, event.IPAddress, reason, minutes))
	}
	if rule.Actions.IsolateEndpoint {
		results = append(results, r.engine.isolateEndpoint(ctx, endpoint, reason))
	}
	if rule.Actions.TriggerVulnScan {
		results = append(results, r.engine.triggerVulnScan(ctx, endpoint, reason))
	}
	if len(rule.Actions.NotifyEmails) > 0 {
		subject := fmt.Sprintf("[vigil] Auto-response fired: %s", rule.Name)
		body := fmt.Sprintf("Event %s (%s, %s)\nTriggered because: %s\n",
			event.ID, event.EventType, event.Severity, strings.Join(reasons, "; "))
		results = append(results, r.engine.notifyEmails(ctx, rule.Actions.NotifyEmails, subject, body))
	}
	return results
}
