package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vigil/analysis"
	"vigil/core"
	"vigil/storage"
)

func newTestClassifier(store *storage.MemoryStore, ai analysis.Client) *Classifier {
	return NewClassifier(store, nil, ai, nil, zap.NewNop().Sugar())
}

func seedEvent(t *testing.T, store *storage.MemoryStore, severity core.Severity, eventType string) *core.SecurityEvent {
	t.Helper()
	event := core.NewSecurityEvent(severity, eventType, "test event")
	require.NoError(t, store.CreateEvent(context.Background(), event))
	return event
}

func TestTriageRequiresEventID(t *testing.T) {
	classifier := newTestClassifier(storage.NewMemoryStore(), nil)
	_, err := classifier.Triage(context.Background(), TriageRequest{})
	assert.True(t, core.IsValidationError(err))
}

func TestTriageUnknownEvent(t *testing.T) {
	classifier := newTestClassifier(storage.NewMemoryStore(), nil)
	_, err := classifier.Triage(context.Background(), TriageRequest{EventID: "missing"})
	assert.ErrorIs(t, err, storage.ErrEventNotFound)
}

func TestTriageSeverityFallback(t *testing.T) {
	store := storage.NewMemoryStore()
	event := seedEvent(t, store, core.SeverityCritical, "brute_force")
	classifier := newTestClassifier(store, nil)

	result, err := classifier.Triage(context.Background(), TriageRequest{EventID: event.ID})
	require.NoError(t, err)
	require.NotNil(t, result.Incident)

	incident := result.Incident
	assert.False(t, result.AlreadyTriaged)
	assert.Equal(t, core.CategoryCriticalIncident, incident.Category)
	assert.Equal(t, core.ClassifiedByFallback, incident.Source)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), incident.SLADeadline, 5*time.Second)
	assert.NotEmpty(t, incident.InvestigationSteps)
	assert.Equal(t, event.ID, incident.EventSnapshot.ID)

	// critical incidents page someone
	notifications, err := store.ListNotifications(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, notifications, 1)
}

func TestTriageIdempotent(t *testing.T) {
	store := storage.NewMemoryStore()
	event := seedEvent(t, store, core.SeverityHigh, "lateral_movement")
	classifier := newTestClassifier(store, nil)
	ctx := context.Background()

	first, err := classifier.Triage(ctx, TriageRequest{EventID: event.ID})
	require.NoError(t, err)
	second, err := classifier.Triage(ctx, TriageRequest{EventID: event.ID})
	require.NoError(t, err)

	assert.False(t, first.AlreadyTriaged)
	assert.True(t, second.AlreadyTriaged)
	assert.Equal(t, first.Incident.ID, second.Incident.ID)

	incidents, err := store.ListIncidents(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, incidents, 1)
}

func TestTriageRuleFirstMatchWins(t *testing.T) {
	store := storage.NewMemoryStore()
	event := seedEvent(t, store, core.SeverityHigh, "failed_login")

	conditions := core.RuleConditions{Severities: []core.Severity{core.SeverityHigh}}
	store.AddTriageRule(&core.TriageRule{ID: "loose", Name: "loose", Enabled: true, Priority: 50,
		Conditions: conditions, Category: core.CategoryMonitor, Confidence: 0.6})
	store.AddTriageRule(&core.TriageRule{ID: "tight", Name: "tight", Enabled: true, Priority: 10,
		Conditions: conditions, Category: core.CategoryHighPriority, Confidence: 0.9})

	classifier := newTestClassifier(store, nil)
	result, err := classifier.Triage(context.Background(), TriageRequest{EventID: event.ID})
	require.NoError(t, err)

	assert.Equal(t, "tight", result.MatchedRuleID)
	assert.Equal(t, core.CategoryHighPriority, result.Incident.Category)
	assert.Equal(t, core.ClassifiedByRule, result.Incident.Source)
	assert.Equal(t, 0.9, result.Incident.Confidence)
	assert.NotEmpty(t, result.TriggerReasons)
}

func TestTriageAIClassification(t *testing.T) {
	store := storage.NewMemoryStore()
	event := seedEvent(t, store, core.SeverityMedium, "odd_access")

	t.Run("ai result used", func(t *testing.T) {
		ai := &analysis.MockClient{Response: json.RawMessage(
			`{"category":"high_priority","confidence":0.85,"reasoning":"access from impossible location","investigation_steps":["verify travel"]}`)}
		classifier := newTestClassifier(store, ai)

		result, err := classifier.Triage(context.Background(), TriageRequest{EventID: event.ID})
		require.NoError(t, err)
		assert.Equal(t, core.ClassifiedByAI, result.Incident.Source)
		assert.Equal(t, core.CategoryHighPriority, result.Incident.Category)
		assert.Equal(t, []string{"verify travel"}, result.Incident.InvestigationSteps)
	})

	t.Run("ai failure falls back to severity map", func(t *testing.T) {
		store := storage.NewMemoryStore()
		event := seedEvent(t, store, core.SeverityMedium, "odd_access")
		ai := &analysis.MockClient{Err: fmt.Errorf("timeout")}
		classifier := newTestClassifier(store, ai)

		result, err := classifier.Triage(context.Background(), TriageRequest{EventID: event.ID})
		require.NoError(t, err)
		assert.True(t, result.AnalysisDegraded)
		assert.Equal(t, core.ClassifiedByFallback, result.Incident.Source)
		assert.Equal(t, core.CategoryRequiresInvestigation, result.Incident.Category)
	})

	t.Run("unknown ai category falls back", func(t *testing.T) {
		store := storage.NewMemoryStore()
		event := seedEvent(t, store, core.SeverityLow, "odd_access")
		ai := &analysis.MockClient{Response: json.RawMessage(`{"category":"defcon_1","confidence":1,"reasoning":"x"}`)}
		classifier := newTestClassifier(store, ai)

		result, err := classifier.Triage(context.Background(), TriageRequest{EventID: event.ID})
		require.NoError(t, err)
		assert.Equal(t, core.ClassifiedByFallback, result.Incident.Source)
		assert.Equal(t, core.CategoryMonitor, result.Incident.Category)
	})
}

func TestTriagePinnedRule(t *testing.T) {
	store := storage.NewMemoryStore()
	event := seedEvent(t, store, core.SeverityLow, "login")

	store.AddTriageRule(&core.TriageRule{ID: "pin", Name: "pin", Enabled: true,
		Conditions: core.RuleConditions{Severities: []core.Severity{core.SeverityCritical}},
		Category:   core.CategoryRequiresInvestigation, Confidence: 0.7})

	classifier := newTestClassifier(store, nil)
	ctx := context.Background()

	t.Run("pinned rule that does not match falls through", func(t *testing.T) {
		result, err := classifier.Triage(ctx, TriageRequest{EventID: event.ID, RuleID: "pin"})
		require.NoError(t, err)
		assert.Equal(t, core.ClassifiedByFallback, result.Incident.Source)
	})

	t.Run("manual bypasses condition match", func(t *testing.T) {
		event := seedEvent(t, store, core.SeverityLow, "login")
		result, err := classifier.Triage(ctx, TriageRequest{EventID: event.ID, RuleID: "pin", Manual: true})
		require.NoError(t, err)
		assert.Equal(t, core.ClassifiedByRule, result.Incident.Source)
		assert.Equal(t, core.CategoryRequiresInvestigation, result.Incident.Category)
	})

	t.Run("disabled pinned rule rejected", func(t *testing.T) {
		store.AddTriageRule(&core.TriageRule{ID: "off", Name: "off", Enabled: false,
			Conditions: core.RuleConditions{Severities: []core.Severity{core.SeverityLow}},
			Category:   core.CategoryMonitor})
		event := seedEvent(t, store, core.SeverityLow, "login")
		_, err := classifier.Triage(ctx, TriageRequest{EventID: event.ID, RuleID: "off"})
		assert.True(t, core.IsValidationError(err))
	})
}

func TestTriageNoNotificationForLowCategories(t *testing.T) {
	store := storage.NewMemoryStore()
	event := seedEvent(t, store, core.SeverityLow, "login")
	classifier := newTestClassifier(store, nil)

	_, err := classifier.Triage(context.Background(), TriageRequest{EventID: event.ID})
	require.NoError(t, err)

	notifications, err := store.ListNotifications(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, notifications)
}
