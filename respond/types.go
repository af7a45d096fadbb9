package respond

// ActionType tags every remediation this engine can execute
type ActionType string

const (
	ActionBlockIP          ActionType = "block_ip"
	ActionIsolateEndpoint  ActionType = "isolate_endpoint"
	ActionTriggerVulnScan  ActionType = "trigger_vuln_scan"
	ActionNotifyEmail      ActionType = "notify_email"
	ActionSendNotification ActionType = "send_notification"
	ActionCreateFinding    ActionType = "create_finding"
	ActionRunIOCSweep      ActionType = "run_ioc_sweep"
	ActionDisableUser      ActionType = "disable_user"
	ActionCustom           ActionType = "custom"
)

// ActionStatus is the per-action outcome. Skipped is a first-class result:
// cooldowns and idempotency checks skip, they do not fail.
type ActionStatus string

const (
	StatusSuccess ActionStatus = "success"
	StatusSkipped ActionStatus = "skipped"
	StatusFailed  ActionStatus = "failed"
)

// ActionResult records one action outcome. Failures are captured here and
// never thrown; sibling actions and sibling rules still run.
type ActionResult struct {
	Action  ActionType   `json:"action"`
	Status  ActionStatus `json:"status"`
	Target  string       `json:"target,omitempty"`
	Details string       `json:"details,omitempty"`
}
