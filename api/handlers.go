package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"vigil/core"
	"vigil/respond"
	"vigil/storage"
	"vigil/threat"
	"vigil/triage"
)

const maxBodyBytes = 1 << 20 // 1MB

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps the error taxonomy onto HTTP statuses: authorization
// 403, validation and unknown-entity 400, everything else 500. The full
// error is logged; the client sees the message only for 4xx.
func writeError(w http.ResponseWriter, logger *zap.SugaredLogger, err error) {
	switch {
	case core.IsAuthorizationError(err):
		respondJSON(w, http.StatusForbidden, errorResponse{Error: err.Error()})
	case core.IsValidationError(err), isNotFound(err):
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		logger.Errorw("Request failed", "error", err)
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func isNotFound(err error) bool {
	for _, sentinel := range []error{
		storage.ErrEventNotFound,
		storage.ErrEndpointNotFound,
		storage.ErrBlockNotFound,
		storage.ErrRuleNotFound,
		storage.ErrIncidentNotFound,
		storage.ErrHuntNotFound,
		storage.ErrInvestigationNotFound,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// decodeAndValidate parses the JSON body into dst and runs struct
// validation. A false return means the response was already written.
func (a *API) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request: " + err.Error()})
		return false
	}
	return true
}

type triageRequest struct {
	EventID string `json:"event_id" validate:"required"`
	RuleID  string `json:"rule_id,omitempty"`
	Manual  bool   `json:"manual,omitempty"`
}

func (a *API) handleTriage(w http.ResponseWriter, r *http.Request) {
	var req triageRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := a.classifier.Triage(r.Context(), triage.TriageRequest{
		EventID: req.EventID,
		RuleID:  req.RuleID,
		Manual:  req.Manual,
	})
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type respondRequest struct {
	EventID string `json:"event_id" validate:"required"`
	RuleID  string `json:"rule_id,omitempty"`
	Manual  bool   `json:"manual,omitempty"`
}

func (a *API) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req respondRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := a.responder.Respond(r.Context(), respond.RespondRequest{
		EventID: req.EventID,
		RuleID:  req.RuleID,
		Manual:  req.Manual,
	})
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type playbookRequest struct {
	ActionType      string                 `json:"action_type" validate:"required"`
	Params          map[string]interface{} `json:"params,omitempty"`
	InvestigationID string                 `json:"investigation_id,omitempty"`
	StepID          string                 `json:"step_id,omitempty"`
}

func (a *API) handlePlaybook(w http.ResponseWriter, r *http.Request) {
	var req playbookRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := a.engine.ExecutePlaybook(r.Context(), respond.PlaybookRequest{
		ActionType:      req.ActionType,
		Params:          req.Params,
		InvestigationID: req.InvestigationID,
		StepID:          req.StepID,
		User:            a.usernameFromToken(r),
	})
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// usernameFromToken re-parses the bearer token for the acting user.
// Auth middleware already verified it; failures here just mean the
// timeline records "system".
func (a *API) usernameFromToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) <= len("Bearer ") {
		return ""
	}
	claims, err := a.parseToken(header[len("Bearer "):])
	if err != nil {
		return ""
	}
	return claims.Username
}

type huntRunRequest struct {
	HuntID              string `json:"hunt_id" validate:"required"`
	RunAnomalyDetection bool   `json:"run_anomaly_detection,omitempty"`
}

func (a *API) handleHuntRun(w http.ResponseWriter, r *http.Request) {
	var req huntRunRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := a.hunter.Run(r.Context(), req.HuntID, req.RunAnomalyDetection)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

type sweepRequest struct {
	IOCs           []string `json:"iocs" validate:"required,min=1"`
	HuntID         string   `json:"hunt_id,omitempty"`
	TimeRangeHours int      `json:"time_range_hours,omitempty" validate:"omitempty,min=1,max=720"`
}

func (a *API) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if !a.decodeAndValidate(w, r, &req) {
		return
	}

	result, err := a.sweeper.Sweep(r.Context(), threat.SweepRequest{
		IOCs:           req.IOCs,
		HuntID:         req.HuntID,
		TimeRangeHours: req.TimeRangeHours,
	})
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}
