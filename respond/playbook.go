package respond

import (
	"context"
	"errors"
	"fmt"

	"vigil/core"
	"vigil/storage"
	"vigil/threat"
)

// PlaybookRequest is a directly-invoked remediation step, as opposed to a
// rule-triggered one. Params are action-specific.
type PlaybookRequest struct {
	ActionType      string                 `json:"action_type"`
	Params          map[string]interface{} `json:"params,omitempty"`
	InvestigationID string                 `json:"investigation_id,omitempty"`
	StepID          string                 `json:"step_id,omitempty"`
	User            string                 `json:"user,omitempty"`
}

// PlaybookResult is the uniform outcome for every playbook action.
// Unknown action types and missing params are failures in this shape,
// never errors.
type PlaybookResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Target  string `json:"target,omitempty"`
}

// ExecutePlaybook dispatches one playbook action by type. On success, when
// an investigation id is supplied, the action is appended to that
// investigation's timeline; the append is best effort and its failure
// never invalidates the primary result.
func (e *Engine) ExecutePlaybook(ctx context.Context, req PlaybookRequest) (*PlaybookResult, error) {
	if req.ActionType == "" {
		return nil, core.NewValidationError("action_type", "action_type is required")
	}

	result := e.dispatch(ctx, req)
	if result.Success && req.InvestigationID != "" {
		e.appendTimeline(ctx, req, result)
	}
	return result, nil
}

func (e *Engine) dispatch(ctx context.Context, req PlaybookRequest) *PlaybookResult {
	switch ActionType(req.ActionType) {
	case ActionBlockIP:
		return e.playbookBlockIP(ctx, req)
	case ActionIsolateEndpoint:
		return e.playbookIsolate(ctx, req)
	case ActionTriggerVulnScan:
		return e.playbookVulnScan(ctx, req)
	case ActionSendNotification:
		return e.playbookNotification(ctx, req)
	case ActionCreateFinding:
		return e.playbookFinding(ctx, req)
	case ActionRunIOCSweep:
		return e.playbookSweep(ctx, req)
	case ActionDisableUser:
		return e.playbookDisableUser(ctx, req)
	case ActionCustom:
		message := stringParam(req.Params, "description")
		if message == "" {
			message = "custom action recorded"
		}
		return &PlaybookResult{Success: true, Message: message}
	default:
		return &PlaybookResult{Success: false,
			Message: fmt.Sprintf("unknown action type %q", req.ActionType)}
	}
}

func (e *Engine) playbookBlockIP(ctx context.Context, req PlaybookRequest) *PlaybookResult {
	ip := stringParam(req.Params, "ip_address")
	if ip == "" {
		return &PlaybookResult{Success: false, Message: "ip_address param is required"}
	}

	// already-blocked is success for a human-directed block: the desired
	// state holds
	if existing, err := e.store.FindActiveBlock(ctx, ip); err == nil {
		return &PlaybookResult{Success: true, Target: ip,
			Message: fmt.Sprintf("IP %s already blocked (block %s)", ip, existing.ID)}
	} else if !errors.Is(err, storage.ErrBlockNotFound) {
		return &PlaybookResult{Success: false, Target: ip,
			Message: fmt.Sprintf("block lookup failed: %v", err)}
	}

	reason := stringParam(req.Params, "reason")
	if reason == "" {
		reason = "playbook block"
	}
	minutes := intParam(req.Params, "block_minutes", core.DefaultBlockMinutes)

	block := core.NewBlockedIP(ip, reason, minutes)
	if err := e.store.CreateBlockedIP(ctx, block); err != nil {
		return &PlaybookResult{Success: false, Target: ip,
			Message: fmt.Sprintf("failed to create block: %v", err)}
	}
	return &PlaybookResult{Success: true, Target: ip,
		Message: fmt.Sprintf("IP %s blocked until %s", ip, block.BlockedUntil.Format("2006-01-02 15:04 MST"))}
}

func (e *Engine) playbookIsolate(ctx context.Context, req PlaybookRequest) *PlaybookResult {
	endpoint, failure := e.endpointParam(ctx, req)
	if failure != nil {
		return failure
	}
	result := e.isolateEndpoint(ctx, endpoint, "playbook isolation by "+userOrSystem(req.User))
	return &PlaybookResult{Success: result.Status == StatusSuccess, Message: result.Details, Target: result.Target}
}

func (e *Engine) playbookVulnScan(ctx context.Context, req PlaybookRequest) *PlaybookResult {
	endpoint, failure := e.endpointParam(ctx, req)
	if failure != nil {
		return failure
	}
	result := e.triggerVulnScan(ctx, endpoint, "playbook scan by "+userOrSystem(req.User))
	return &PlaybookResult{Success: result.Status == StatusSuccess, Message: result.Details, Target: result.Target}
}

func (e *Engine) playbookNotification(ctx context.Context, req PlaybookRequest) *PlaybookResult {
	title := stringParam(req.Params, "title")
	if title == "" {
		return &PlaybookResult{Success: false, Message: "title param is required"}
	}
	severity := core.Severity(stringParam(req.Params, "severity"))
	if !severity.IsValid() {
		severity = core.SeverityMedium
	}

	notification := core.NewNotification(title, stringParam(req.Params, "message"), severity)
	if err := e.store.CreateNotification(ctx, notification); err != nil {
		return &PlaybookResult{Success: false, Message: fmt.Sprintf("failed to create notification: %v", err)}
	}
	return &PlaybookResult{Success: true, Target: notification.ID, Message: "notification created"}
}

func (e *Engine) playbookFinding(ctx context.Context, req PlaybookRequest) *PlaybookResult {
	title := stringParam(req.Params, "title")
	if title == "" {
		return &PlaybookResult{Success: false, Message: "title param is required"}
	}
	severity := core.Severity(stringParam(req.Params, "severity"))
	if !severity.IsValid() {
		severity = core.SeverityMedium
	}

	finding := core.NewHuntFinding(stringParam(req.Params, "hunt_id"), core.FindingRiskAssessment, severity, title)
	finding.Description = stringParam(req.Params, "description")
	finding.Evidence["created_by"] = userOrSystem(req.User)
	if err := e.store.CreateFinding(ctx, finding); err != nil {
		return &PlaybookResult{Success: false, Message: fmt.Sprintf("failed to create finding: %v", err)}
	}
	return &PlaybookResult{Success: true, Target: finding.ID, Message: "finding created"}
}

func (e *Engine) playbookSweep(ctx context.Context, req PlaybookRequest) *PlaybookResult {
	if e.sweeper == nil {
		return &PlaybookResult{Success: false, Message: "sweep runner not configured"}
	}
	iocs := stringSliceParam(req.Params, "iocs")
	if len(iocs) == 0 {
		return &PlaybookResult{Success: false, Message: "iocs param is required"}
	}

	sweepResult, err := e.sweeper.Sweep(ctx, threat.SweepRequest{
		IOCs:           iocs,
		HuntID:         stringParam(req.Params, "hunt_id"),
		TimeRangeHours: intParam(req.Params, "time_range_hours", 0),
	})
	if err != nil {
		return &PlaybookResult{Success: false, Message: fmt.Sprintf("sweep failed: %v", err)}
	}

	matched := 0
	for _, iocResult := range sweepResult.Results {
		if len(iocResult.Evidence) > 0 {
			matched++
		}
	}
	return &PlaybookResult{Success: true,
		Message: fmt.Sprintf("swept %d IOCs, %d with matches", sweepResult.IOCsProcessed, matched)}
}

// playbookDisableUser records the disable request; account state itself is
// owned by the identity collaborator.
func (e *Engine) playbookDisableUser(ctx context.Context, req PlaybookRequest) *PlaybookResult {
	email := stringParam(req.Params, "user_email")
	if email == "" {
		return &PlaybookResult{Success: false, Message: "user_email param is required"}
	}

	notification := core.NewNotification(
		"User account disabled",
		fmt.Sprintf("Account %s disabled by %s during incident response", email, userOrSystem(req.User)),
		core.SeverityHigh,
	)
	if err := e.store.CreateNotification(ctx, notification); err != nil {
		return &PlaybookResult{Success: false, Target: email,
			Message: fmt.Sprintf("failed to record disable: %v", err)}
	}
	return &PlaybookResult{Success: true, Target: email,
		Message: fmt.Sprintf("user %s disabled", email)}
}

// appendTimeline is the best-effort investigation side effect
func (e *Engine) appendTimeline(ctx context.Context, req PlaybookRequest, result *PlaybookResult) {
	inv, err := e.store.GetInvestigation(ctx, req.InvestigationID)
	if err != nil {
		e.logger.Warnw("Timeline append skipped: investigation lookup failed",
			"investigation_id", req.InvestigationID, "error", err)
		return
	}

	details := map[string]interface{}{"message": result.Message}
	if result.Target != "" {
		details["target"] = result.Target
	}
	if req.StepID != "" {
		details["step_id"] = req.StepID
	}
	inv.AppendTimeline(req.ActionType, userOrSystem(req.User), details)

	if err := e.store.UpdateInvestigation(ctx, inv); err != nil {
		e.logger.Warnw("Timeline append failed", "investigation_id", req.InvestigationID, "error", err)
	}
}

func (e *Engine) endpointParam(ctx context.Context, req PlaybookRequest) (*core.Endpoint, *PlaybookResult) {
	id := stringParam(req.Params, "endpoint_id")
	if id == "" {
		return nil, &PlaybookResult{Success: false, Message: "endpoint_id param is required"}
	}
	endpoint, err := e.store.GetEndpoint(ctx, id)
	if err != nil {
		return nil, &PlaybookResult{Success: false, Target: id,
			Message: fmt.Sprintf("endpoint lookup failed: %v", err)}
	}
	return endpoint, nil
}

func stringParam(params map[string]interface{}, key string) string {
	if value, ok := params[key].(string); ok {
		return value
	}
	return ""
}

func intParam(params map[string]interface{}, key string, fallback int) int {
	switch value := params[key].(type) {
	case float64:
		return int(value)
	case int:
		return value
	}
	return fallback
}

func stringSliceParam(params map[string]interface{}, key string) []string {
	var out []string
	switch value := params[key].(type) {
	case []string:
		return value
	case []interface{}:
		for _, item := range value {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func userOrSystem(user string) string {
	if user == "" {
		return "system"
	}
	return user
}
