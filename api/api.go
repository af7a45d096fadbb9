package api

import (
	"context"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"vigil/config"
	"vigil/respond"
	"vigil/storage"
	"vigil/threat"
	"vigil/triage"
)

// API wires the triage, response, hunting and sweep runners behind an
// HTTP surface
type API struct {
	cfg        *config.Config
	store      storage.Store
	classifier *triage.Classifier
	responder  *respond.Responder
	engine     *respond.Engine
	hunter     *threat.Hunter
	sweeper    *threat.Sweeper
	validate   *validator.Validate
	limiter    *ipRateLimiter
	logger     *zap.SugaredLogger
}

// NewAPI creates the HTTP surface over the assembled runners
func NewAPI(cfg *config.Config, store storage.Store, classifier *triage.Classifier,
	responder *respond.Responder, engine *respond.Engine, hunter *threat.Hunter,
	sweeper *threat.Sweeper, logger *zap.SugaredLogger) *API {
	return &API{
		cfg:        cfg,
		store:      store,
		classifier: classifier,
		responder:  responder,
		engine:     engine,
		hunter:     hunter,
		sweeper:    sweeper,
		validate:   validator.New(),
		limiter:    newIPRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		logger:     logger,
	}
}

// Router builds the route table with rate limiting and auth applied to
// the API subtree. /health and /metrics stay open.
func (a *API) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", a.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(a.rateLimitMiddleware)
	v1.Use(a.authMiddleware)
	v1.HandleFunc("/triage", a.handleTriage).Methods(http.MethodPost)
	v1.HandleFunc("/respond", a.handleRespond).Methods(http.MethodPost)
	v1.HandleFunc("/playbook/execute", a.handlePlaybook).Methods(http.MethodPost)
	v1.HandleFunc("/hunts/run", a.handleHuntRun).Methods(http.MethodPost)
	v1.HandleFunc("/sweep", a.handleSweep).Methods(http.MethodPost)
	return r
}

// Server builds the http.Server for the configured listen address
func (a *API) Server() *http.Server {
	return &http.Server{
		Addr:         a.cfg.Server.Addr(),
		Handler:      a.Router(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if _, err := a.store.ListNotifications(r.Context(), 1); err != nil {
		a.logger.Errorw("Health check storage read failed", "error", err)
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Shutdown stops background middleware state
func (a *API) Shutdown(ctx context.Context) {
	a.limiter.stop()
}
