package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryForSeverity(t *testing.T) {
	tests := []struct {
		severity Severity
		category IncidentCategory
	}{
		{SeverityCritical, CategoryCriticalIncident},
		{SeverityHigh, CategoryHighPriority},
		{SeverityMedium, CategoryRequiresInvestigation},
		{SeverityLow, CategoryMonitor},
		{SeverityInfo, CategoryLowRisk},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.category, CategoryForSeverity(tt.severity))
	}
}

func TestIncidentCategory_SLAMinutes(t *testing.T) {
	assert.Equal(t, 15, CategoryCriticalIncident.SLAMinutes())
	assert.Equal(t, 60, CategoryHighPriority.SLAMinutes())
	assert.Equal(t, 240, CategoryRequiresInvestigation.SLAMinutes())
	assert.Equal(t, 1440, CategoryMonitor.SLAMinutes())
	assert.Equal(t, 4320, CategoryLowRisk.SLAMinutes())
}

func TestIncidentCategory_RequiresNotification(t *testing.T) {
	assert.True(t, CategoryCriticalIncident.RequiresNotification())
	assert.True(t, CategoryHighPriority.RequiresNotification())
	assert.False(t, CategoryRequiresInvestigation.RequiresNotification())
	assert.False(t, CategoryMonitor.RequiresNotification())
	assert.False(t, CategoryLowRisk.RequiresNotification())
}

func TestNewTriagedIncident_SnapshotsEvent(t *testing.T) {
	event := NewSecurityEvent(SeverityCritical, "brute_force", "10 failed logins")
	event.IPAddress = "1.2.3.4"

	incident := NewTriagedIncident(event, CategoryCriticalIncident, 0.9, "matched rule", ClassifiedByRule)

	require.NotNil(t, incident.EventSnapshot)
	assert.Equal(t, event.ID, incident.EventID)
	assert.Equal(t, "1.2.3.4", incident.EventSnapshot.IPAddress)
	assert.NotEmpty(t, incident.InvestigationSteps)

	// Snapshot must survive later event mutation
	event.Message = "rewritten"
	assert.Equal(t, "10 failed logins", incident.EventSnapshot.Message)
}

func TestNewTriagedIncident_SLADeadline(t *testing.T) {
	event := NewSecurityEvent(SeverityCritical, "brute_force", "msg")
	before := time.Now().UTC()
	incident := NewTriagedIncident(event, CategoryCriticalIncident, 1.0, "r", ClassifiedByFallback)
	after := time.Now().UTC()

	assert.True(t, incident.SLADeadline.After(before.Add(14*time.Minute)))
	assert.True(t, incident.SLADeadline.Before(after.Add(16*time.Minute)))
}
