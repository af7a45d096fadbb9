package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vigil/config"
	"vigil/core"
	"vigil/respond"
	"vigil/storage"
	"vigil/threat"
	"vigil/triage"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestAPI(t *testing.T, authEnabled bool) (*API, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	logger := zap.NewNop().Sugar()

	cfg := &config.Config{
		Server:    config.ServerConfig{Host: "127.0.0.1", Port: 8080},
		Auth:      config.AuthConfig{Enabled: authEnabled, JWTSecret: testSecret},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
	}

	classifier := triage.NewClassifier(store, nil, nil, nil, logger)
	engine := respond.NewEngine(store, nil, nil, logger)
	responder := respond.NewResponder(engine, nil)
	hunter := threat.NewHunter(store, nil, threat.HunterOptions{}, logger)
	sweeper := threat.NewSweeper(store, nil, logger)

	a := NewAPI(cfg, store, classifier, responder, engine, hunter, sweeper, logger)
	t.Cleanup(func() { a.Shutdown(context.Background()) })
	return a, store
}

func signToken(t *testing.T, roles []string) string {
	t.Helper()
	claims := &Claims{
		Username: "analyst@example.com",
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func doJSON(t *testing.T, a *API, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthOpen(t *testing.T) {
	a, _ := newTestAPI(t, true)
	rec := doJSON(t, a, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	a, _ := newTestAPI(t, true)

	t.Run("missing token", func(t *testing.T) {
		rec := doJSON(t, a, http.MethodPost, "/api/v1/triage", "", map[string]string{"event_id": "x"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("non-admin role", func(t *testing.T) {
		rec := doJSON(t, a, http.MethodPost, "/api/v1/triage", signToken(t, []string{"analyst"}),
			map[string]string{"event_id": "x"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		rec := doJSON(t, a, http.MethodPost, "/api/v1/triage", "not.a.token",
			map[string]string{"event_id": "x"})
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestTriageEndpoint(t *testing.T) {
	a, store := newTestAPI(t, true)
	token := signToken(t, []string{"admin"})

	event := core.NewSecurityEvent(core.SeverityCritical, "malware_detected", "malware found")
	require.NoError(t, store.CreateEvent(context.Background(), event))

	t.Run("missing event_id is 400", func(t *testing.T) {
		rec := doJSON(t, a, http.MethodPost, "/api/v1/triage", token, map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown event is 400", func(t *testing.T) {
		rec := doJSON(t, a, http.MethodPost, "/api/v1/triage", token,
			map[string]string{"event_id": "missing"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("triages the event", func(t *testing.T) {
		rec := doJSON(t, a, http.MethodPost, "/api/v1/triage", token,
			map[string]string{"event_id": event.ID})
		require.Equal(t, http.StatusOK, rec.Code)

		var result triage.TriageResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		require.NotNil(t, result.Incident)
		assert.Equal(t, event.ID, result.Incident.EventID)
	})
}

func TestRespondEndpoint(t *testing.T) {
	a, store := newTestAPI(t, false)
	ctx := context.Background()

	event := core.NewSecurityEvent(core.SeverityCritical, "brute_force", "many failures")
	event.IPAddress = "203.0.113.9"
	require.NoError(t, store.CreateEvent(ctx, event))
	store.AddResponseRule(&core.AutoResponseRule{
		ID:      "r1",
		Name:    "block critical",
		Enabled: true,
		Conditions: core.RuleConditions{
			Severities: []core.Severity{core.SeverityCritical},
		},
		Actions: core.ResponseActions{BlockIP: true},
	})

	rec := doJSON(t, a, http.MethodPost, "/api/v1/respond", "", map[string]string{"event_id": event.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	var result respond.RespondResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	require.Len(t, result.Outcomes, 1)

	_, err := store.FindActiveBlock(ctx, "203.0.113.9")
	assert.NoError(t, err)
}

func TestPlaybookEndpoint(t *testing.T) {
	a, store := newTestAPI(t, false)

	rec := doJSON(t, a, http.MethodPost, "/api/v1/playbook/execute", "", map[string]interface{}{
		"action_type": "block_ip",
		"params":      map[string]interface{}{"ip_address": "198.51.100.4"},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result respond.PlaybookResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)

	_, err := store.FindActiveBlock(context.Background(), "198.51.100.4")
	assert.NoError(t, err)
}

func TestHuntRunEndpoint(t *testing.T) {
	a, store := newTestAPI(t, false)
	ctx := context.Background()

	hunt := &core.ThreatHunt{
		ID:     "hunt1",
		Name:   "lateral movement",
		Status: core.HuntStatusActive,
		QueryConfig: core.QueryConfig{
			Keywords: []string{"psexec"},
		},
	}
	require.NoError(t, store.CreateHunt(ctx, hunt))

	event := core.NewSecurityEvent(core.SeverityHigh, "process_start", "psexec.exe launched")
	require.NoError(t, store.CreateEvent(ctx, event))

	rec := doJSON(t, a, http.MethodPost, "/api/v1/hunts/run", "",
		map[string]interface{}{"hunt_id": hunt.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	var result threat.HuntResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, hunt.ID, result.HuntID)
	assert.NotEmpty(t, result.Findings)

	t.Run("unknown hunt is 400", func(t *testing.T) {
		rec := doJSON(t, a, http.MethodPost, "/api/v1/hunts/run", "",
			map[string]interface{}{"hunt_id": "ghost"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestSweepEndpoint(t *testing.T) {
	a, _ := newTestAPI(t, false)

	t.Run("empty iocs is 400", func(t *testing.T) {
		rec := doJSON(t, a, http.MethodPost, "/api/v1/sweep", "",
			map[string]interface{}{"iocs": []string{}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("sweeps", func(t *testing.T) {
		rec := doJSON(t, a, http.MethodPost, "/api/v1/sweep", "",
			map[string]interface{}{"iocs": []string{"198.51.100.4"}})
		require.Equal(t, http.StatusOK, rec.Code)

		var result threat.SweepResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, 1, result.IOCsProcessed)
	})
}

func TestRateLimit(t *testing.T) {
	store := storage.NewMemoryStore()
	logger := zap.NewNop().Sugar()
	cfg := &config.Config{
		Server:    config.ServerConfig{Host: "127.0.0.1", Port: 8080},
		Auth:      config.AuthConfig{Enabled: false},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 1, Burst: 2},
	}
	classifier := triage.NewClassifier(store, nil, nil, nil, logger)
	engine := respond.NewEngine(store, nil, nil, logger)
	a := NewAPI(cfg, store, classifier, respond.NewResponder(engine, nil), engine,
		threat.NewHunter(store, nil, threat.HunterOptions{}, logger), threat.NewSweeper(store, nil, logger), logger)
	defer a.Shutdown(context.Background())

	router := a.Router()
	statuses := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sweep", bytes.NewBufferString(`{"iocs":["1.2.3.4"]}`))
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		statuses = append(statuses, rec.Code)
	}
	assert.Equal(t, http.StatusOK, statuses[0])
	assert.Equal(t, http.StatusOK, statuses[1])
	assert.Equal(t, http.StatusTooManyRequests, statuses[2])
}
