package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"vigil/analysis"
	"vigil/core"
	"vigil/metrics"
	"vigil/notify"
	"vigil/storage"
	"vigil/threat"
)

// recentWindow is the lookback used for the recent-event-count enrichment
const recentWindow = time.Hour

// TriageRequest asks for one event to be classified
type TriageRequest struct {
	EventID string `json:"event_id"`
	RuleID  string `json:"rule_id,omitempty"`
	Manual  bool   `json:"manual,omitempty"`
}

// TriageResult is the classification outcome
type TriageResult struct {
	Incident         *core.TriagedIncident `json:"incident"`
	AlreadyTriaged   bool                  `json:"already_triaged"`
	MatchedRuleID    string                `json:"matched_rule_id,omitempty"`
	TriggerReasons   []string              `json:"trigger_reasons,omitempty"`
	IntelDegraded    bool                  `json:"intel_degraded,omitempty"`
	AnalysisDegraded bool                  `json:"analysis_degraded,omitempty"`
}

// Classifier runs the triage state machine: existing-incident check, rule
// first-match, AI classification, severity fallback. Every path persists
// an incident with an SLA deadline and an event snapshot.
type Classifier struct {
	store    storage.Store
	intel    *threat.IntelCorrelator
	ai       analysis.Client
	notifier *notify.Notifier
	logger   *zap.SugaredLogger
}

// NewClassifier creates a classifier. intel, ai and notifier may each be
// nil; the corresponding stage degrades instead of failing.
func NewClassifier(store storage.Store, intel *threat.IntelCorrelator, ai analysis.Client, notifier *notify.Notifier, logger *zap.SugaredLogger) *Classifier {
	return &Classifier{store: store, intel: intel, ai: ai, notifier: notifier, logger: logger}
}

// Triage classifies one event. Calling it twice for the same event is
// idempotent: the second call returns the stored incident with
// AlreadyTriaged set and creates nothing.
func (c *Classifier) Triage(ctx context.Context, req TriageRequest) (*TriageResult, error) {
	started := time.Now()
	defer func() {
		metrics.TriageDuration.Observe(time.Since(started).Seconds())
	}()

	if req.EventID == "" {
		return nil, core.NewValidationError("event_id", "event_id is required")
	}

	event, err := c.store.GetEvent(ctx, req.EventID)
	if err != nil {
		return nil, err
	}

	// idempotent short-circuit. The existence check is read-before-write
	// and not atomic; concurrent triage of one event can race.
	if existing, err := c.store.GetIncidentByEventID(ctx, event.ID); err == nil {
		return &TriageResult{Incident: existing, AlreadyTriaged: true}, nil
	} else if !errors.Is(err, storage.ErrIncidentNotFound) {
		return nil, err
	}

	ruleCtx, intelDegraded := EnrichContext(ctx, c.store, c.intel, event)
	result := &TriageResult{IntelDegraded: intelDegraded}

	incident, err := c.classify(ctx, req, event, ruleCtx, result)
	if err != nil {
		return nil, err
	}

	if err := c.store.CreateIncident(ctx, incident); err != nil {
		return nil, fmt.Errorf("failed to persist incident: %w", err)
	}
	metrics.EventsTriaged.WithLabelValues(string(incident.Category), string(incident.Source)).Inc()

	c.notifyIfRequired(ctx, incident)

	result.Incident = incident
	return result, nil
}

// EnrichContext gathers the rule-evaluation context for an event: threat
// intel verdict, owning endpoint, and recent-event count from the same
// source IP. The three lookups are independent and run concurrently. The
// second return reports a degraded intel signal.
func EnrichContext(ctx context.Context, store storage.Store, intel *threat.IntelCorrelator, event *core.SecurityEvent) (*RuleContext, bool) {
	ruleCtx := &RuleContext{Event: event}
	degraded := false
	if event.IPAddress == "" {
		return ruleCtx, false
	}

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		if intel == nil {
			return
		}
		matched, signal := intel.CheckIndicator(ctx, event.IPAddress)
		ruleCtx.ThreatIntelMatched = matched
		degraded = signal.Degraded
	}()

	go func() {
		defer wg.Done()
		endpoint, err := store.FindEndpointByIP(ctx, event.IPAddress)
		if err == nil {
			ruleCtx.Endpoint = endpoint
		}
	}()

	go func() {
		defer wg.Done()
		count, err := store.CountRecentByIP(ctx, event.IPAddress, time.Now().UTC().Add(-recentWindow))
		if err == nil {
			ruleCtx.RecentEventCount = count
		}
	}()

	wg.Wait()
	return ruleCtx, degraded
}

func (c *Classifier) classify(ctx context.Context, req TriageRequest, event *core.SecurityEvent, ruleCtx *RuleContext, result *TriageResult) (*core.TriagedIncident, error) {
	match, err := c.matchRules(ctx, req, ruleCtx)
	if err != nil {
		return nil, err
	}
	if match != nil {
		result.MatchedRuleID = match.Rule.ID
		result.TriggerReasons = match.Reasons
		incident := core.NewTriagedIncident(event, match.Rule.Category, match.Rule.Confidence,
			fmt.Sprintf("Rule %q matched: %s", match.Rule.Name, strings.Join(match.Reasons, "; ")),
			core.ClassifiedByRule)
		incident.RuleID = match.Rule.ID
		return incident, nil
	}

	if incident, ok := c.classifyWithAI(ctx, event, ruleCtx); ok {
		return incident, nil
	}
	if c.ai != nil {
		result.AnalysisDegraded = true
	}

	category := core.CategoryForSeverity(event.Severity)
	return core.NewTriagedIncident(event, category, 0.5,
		fmt.Sprintf("No rule matched; classified by %s severity", event.Severity),
		core.ClassifiedByFallback), nil
}

// matchRules resolves the triage rule to apply: the named rule when the
// request pins one, otherwise first-match over all enabled rules.
func (c *Classifier) matchRules(ctx context.Context, req TriageRequest, ruleCtx *RuleContext) (*TriageMatch, error) {
	if req.RuleID != "" {
		rule, err := c.store.GetTriageRule(ctx, req.RuleID)
		if err != nil {
			return nil, err
		}
		if !rule.Enabled {
			return nil, core.NewValidationError("rule_id", "rule is disabled")
		}
		if req.Manual {
			return &TriageMatch{Rule: rule, Reasons: []string{"manually applied"}}, nil
		}
		if matched, reasons := EvaluateConditions(&rule.Conditions, ruleCtx); matched {
			return &TriageMatch{Rule: rule, Reasons: reasons}, nil
		}
		return nil, nil
	}

	rules, err := c.store.ListEnabledTriageRules(ctx)
	if err != nil {
		return nil, err
	}
	return FirstMatch(rules, ruleCtx), nil
}

type aiClassification struct {
	Category           string   `json:"category"`
	Confidence         float64  `json:"confidence"`
	Reasoning          string   `json:"reasoning"`
	InvestigationSteps []string `json:"investigation_steps"`
}

// classifyWithAI asks the analysis collaborator for a structured
// classification. Any failure falls through to the severity map.
func (c *Classifier) classifyWithAI(ctx context.Context, event *core.SecurityEvent, ruleCtx *RuleContext) (*core.TriagedIncident, bool) {
	if c.ai == nil {
		return nil, false
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Classify this security event into a triage category.\n")
	fmt.Fprintf(&sb, "Severity: %s\nType: %s\nMessage: %s\n", event.Severity, event.EventType, event.Message)
	if event.IPAddress != "" {
		fmt.Fprintf(&sb, "Source IP: %s (threat intel match: %t, recent events: %d)\n",
			event.IPAddress, ruleCtx.ThreatIntelMatched, ruleCtx.RecentEventCount)
	}
	if ruleCtx.Endpoint != nil {
		fmt.Fprintf(&sb, "Endpoint: %s (posture: %s)\n",
			ruleCtx.Endpoint.Hostname, ruleCtx.Endpoint.SecurityPosture)
	}

	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"category": map[string]interface{}{
				"type": "string",
				"enum": []string{
					string(core.CategoryCriticalIncident),
					string(core.CategoryHighPriority),
					string(core.CategoryRequiresInvestigation),
					string(core.CategoryMonitor),
					string(core.CategoryLowRisk),
				},
			},
			"confidence":          map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
			"reasoning":           map[string]interface{}{"type": "string"},
			"investigation_steps": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		},
		"required": []string{"category", "confidence", "reasoning"},
	}

	raw, err := c.ai.Complete(ctx, sb.String(), schema)
	if err != nil {
		c.logger.Warnw("AI classification failed, falling back", "event_id", event.ID, "error", err)
		return nil, false
	}

	var parsed aiClassification
	if err := json.Unmarshal(raw, &parsed); err != nil {
		c.logger.Warnw("AI classification response undecodable", "event_id", event.ID, "error", err)
		return nil, false
	}
	category := core.IncidentCategory(parsed.Category)
	if !category.IsValid() {
		c.logger.Warnw("AI classification returned unknown category", "event_id", event.ID, "category", parsed.Category)
		return nil, false
	}

	incident := core.NewTriagedIncident(event, category, parsed.Confidence, parsed.Reasoning, core.ClassifiedByAI)
	if len(parsed.InvestigationSteps) > 0 {
		incident.InvestigationSteps = parsed.InvestigationSteps
	}
	return incident, true
}

// notifyIfRequired creates the in-app notification for paging categories
// and fans out the email/webhook channel. Both are best effort.
func (c *Classifier) notifyIfRequired(ctx context.Context, incident *core.TriagedIncident) {
	if !incident.Category.RequiresNotification() {
		return
	}

	notification := core.NewNotification(
		fmt.Sprintf("Incident triaged as %s", incident.Category),
		incident.Reasoning,
		incident.EventSnapshot.Severity,
	)
	notification.Link = "/incidents/" + incident.ID
	if err := c.store.CreateNotification(ctx, notification); err != nil {
		c.logger.Warnw("Failed to create triage notification", "incident_id", incident.ID, "error", err)
	}

	if c.notifier != nil {
		c.notifier.NotifyIncident(ctx, incident)
	}
}
