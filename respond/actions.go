package respond

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"vigil/core"
	"vigil/metrics"
	"vigil/notify"
	"vigil/storage"
	"vigil/threat"
)

// Engine executes remediation actions. It is shared by the rule-driven
// auto-response path and the human-directed playbook path; both use the
// same primitives so idempotency behaves identically.
type Engine struct {
	store    storage.Store
	notifier *notify.Notifier
	sweeper  *threat.Sweeper
	logger   *zap.SugaredLogger
}

// NewEngine creates an engine. notifier and sweeper may be nil; the
// actions needing them report skipped.
func NewEngine(store storage.Store, notifier *notify.Notifier, sweeper *threat.Sweeper, logger *zap.SugaredLogger) *Engine {
	return &Engine{store: store, notifier: notifier, sweeper: sweeper, logger: logger}
}

func record(result ActionResult) ActionResult {
	metrics.ResponseActions.WithLabelValues(string(result.Action), string(result.Status)).Inc()
	return result
}

// blockIP creates an active block for the IP unless one already exists.
// The existence check is read-before-write; a concurrent duplicate is an
// accepted race.
func (e *Engine) blockIP(ctx context.Context, ip, reason string, minutes int) ActionResult {
	result := ActionResult{Action: ActionBlockIP, Target: ip}
	if ip == "" {
		result.Status = StatusSkipped
		result.Details = "event has no source IP"
		return record(result)
	}

	existing, err := e.store.FindActiveBlock(ctx, ip)
	if err == nil {
		result.Status = StatusSkipped
		result.Details = fmt.Sprintf("IP already blocked (block %s)", existing.ID)
		return record(result)
	}
	if !errors.Is(err, storage.ErrBlockNotFound) {
		result.Status = StatusFailed
		result.Details = fmt.Sprintf("block lookup failed: %v", err)
		return record(result)
	}

	block := core.NewBlockedIP(ip, reason, minutes)
	if err := e.store.CreateBlockedIP(ctx, block); err != nil {
		result.Status = StatusFailed
		result.Details = fmt.Sprintf("failed to create block: %v", err)
		return record(result)
	}

	result.Status = StatusSuccess
	result.Details = fmt.Sprintf("blocked until %s", block.BlockedUntil.Format("2006-01-02 15:04 MST"))
	e.logger.Infow("Blocked IP", "ip", ip, "reason", reason, "until", block.BlockedUntil)
	return record(result)
}

// isolateEndpoint flips the endpoint to compromised/offline, tags it and
// logs an endpoint alert. Full read-modify-write, last writer wins.
func (e *Engine) isolateEndpoint(ctx context.Context, endpoint *core.Endpoint, reason string) ActionResult {
	result := ActionResult{Action: ActionIsolateEndpoint}
	if endpoint == nil {
		result.Status = StatusSkipped
		result.Details = "no endpoint associated with the event source"
		return record(result)
	}
	result.Target = endpoint.Hostname

	endpoint.SecurityPosture = core.PostureCompromised
	endpoint.Status = core.EndpointOffline
	endpoint.AddTag("isolated")
	if err := e.store.UpdateEndpoint(ctx, endpoint); err != nil {
		result.Status = StatusFailed
		result.Details = fmt.Sprintf("failed to update endpoint: %v", err)
		return record(result)
	}

	alert := core.NewEndpointEvent(endpoint.ID, "endpoint_isolated", core.SeverityHigh)
	alert.Details["reason"] = reason
	if err := e.store.CreateEndpointEvent(ctx, alert); err != nil {
		e.logger.Warnw("Failed to log isolation event", "endpoint_id", endpoint.ID, "error", err)
	}

	result.Status = StatusSuccess
	result.Details = "endpoint isolated: posture compromised, status offline"
	e.logger.Infow("Isolated endpoint", "hostname", endpoint.Hostname, "reason", reason)
	return record(result)
}

// triggerVulnScan clears the last-scan marker so the next collector pass
// rescans, tags the endpoint and logs an endpoint alert
func (e *Engine) triggerVulnScan(ctx context.Context, endpoint *core.Endpoint, reason string) ActionResult {
	result := ActionResult{Action: ActionTriggerVulnScan}
	if endpoint == nil {
		result.Status = StatusSkipped
		result.Details = "no endpoint associated with the event source"
		return record(result)
	}
	result.Target = endpoint.Hostname

	endpoint.LastScanAt = nil
	endpoint.AddTag("scan_pending")
	if err := e.store.UpdateEndpoint(ctx, endpoint); err != nil {
		result.Status = StatusFailed
		result.Details = fmt.Sprintf("failed to update endpoint: %v", err)
		return record(result)
	}

	alert := core.NewEndpointEvent(endpoint.ID, "vuln_scan_triggered", core.SeverityMedium)
	alert.Details["reason"] = reason
	if err := e.store.CreateEndpointEvent(ctx, alert); err != nil {
		e.logger.Warnw("Failed to log scan trigger event", "endpoint_id", endpoint.ID, "error", err)
	}

	result.Status = StatusSuccess
	result.Details = "vulnerability scan requested"
	return record(result)
}

// notifyEmails fans out to the rule's recipients. Per-recipient failures
// are isolated; the action fails only when every delivery fails.
func (e *Engine) notifyEmails(ctx context.Context, recipients []string, subject, body string) ActionResult {
	result := ActionResult{Action: ActionNotifyEmail, Target: fmt.Sprintf("%d recipients", len(recipients))}
	if e.notifier == nil || len(recipients) == 0 {
		result.Status = StatusSkipped
		result.Details = "no notifier configured or no recipients"
		return record(result)
	}

	deliveries := e.notifier.SendEmails(ctx, recipients, subject, body)
	sent := 0
	for _, delivery := range deliveries {
		if delivery.Sent {
			sent++
		}
	}
	switch {
	case sent == len(deliveries):
		result.Status = StatusSuccess
		result.Details = fmt.Sprintf("notified %d recipients", sent)
	case sent > 0:
		result.Status = StatusSuccess
		result.Details = fmt.Sprintf("notified %d of %d recipients", sent, len(deliveries))
	default:
		result.Status = StatusFailed
		result.Details = "all deliveries failed"
	}
	return record(result)
}

// endpointForEvent resolves the endpoint behind the event's source IP
func (e *Engine) endpointForEvent(ctx context.Context, event *core.SecurityEvent) *core.Endpoint {
	if event.IPAddress == "" {
		return nil
	}
	endpoint, err := e.store.FindEndpointByIP(ctx, event.IPAddress)
	if err != nil {
		return nil
	}
	return endpoint
}
