package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/faucetdb/adminguard/internal/actionlog"
	"github.com/faucetdb/adminguard/internal/anomaly"
	"github.com/faucetdb/adminguard/internal/config"
	"github.com/faucetdb/adminguard/internal/incident"
	"github.com/faucetdb/adminguard/internal/model"
	"github.com/faucetdb/adminguard/internal/ratelimit"
	"github.com/faucetdb/adminguard/internal/scheduler"
	"github.com/faucetdb/adminguard/internal/server/middleware"
	"github.com/faucetdb/adminguard/internal/session"
)

// Deps are the components behind the security API.
type Deps struct {
	Store        *config.Store
	Sessions     *session.Manager
	Limiter      *ratelimit.Limiter
	Incidents    *incident.Tracker
	Actions      *actionlog.Recorder
	Detector     *anomaly.Detector
	Invalidation *scheduler.InvalidationService
	Logger       *slog.Logger
}

// SecurityHandler serves /api/v1/security.
type SecurityHandler struct {
	Deps
}

// NewSecurityHandler creates a new SecurityHandler.
func NewSecurityHandler(deps Deps) *SecurityHandler {
	return &SecurityHandler{Deps: deps}
}

// ---------------------------------------------------------------------------
// Own session
// ---------------------------------------------------------------------------

type createSessionRequest struct {
	IPBinding        *bool `json:"ip_binding,omitempty"`
	UserAgentBinding *bool `json:"user_agent_binding,omitempty"`
}

type sessionResponse struct {
	model.SessionCredentials
	Session *model.AdminSession `json:"session"`
}

// CreateSession opens a session for the verified identity. Binding
// overrides are optional; an empty body keeps the configured defaults.
// POST /api/v1/security/sessions
func (h *SecurityHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetIdentity(r.Context())

	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}

	create := model.CreateSessionRequest{
		AdminID:   id.AdminID,
		Role:      id.Role,
		IPAddress: id.IPAddress,
		UserAgent: id.UserAgent,
	}
	if req.IPBinding != nil || req.UserAgentBinding != nil {
		flags := h.Sessions.DefaultFlags()
		if req.IPBinding != nil {
			flags.IPBinding = *req.IPBinding
		}
		if req.UserAgentBinding != nil {
			flags.UserAgentBinding = *req.UserAgentBinding
		}
		create.Flags = &flags
	}

	sess, err := h.Sessions.CreateSession(r.Context(), create)
	if err != nil {
		writeServiceError(w, err, "session")
		return
	}
	creds := sess.Credentials()
	middleware.SetCredentials(w, &creds)
	writeJSON(w, http.StatusCreated, sessionResponse{SessionCredentials: creds, Session: sess})
}

// CurrentSession reports the verification result of the presented session.
// GET /api/v1/security/sessions/current
func (h *SecurityHandler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, middleware.GetSession(r.Context()).Result)
}

// Logout invalidates the presented session.
// DELETE /api/v1/security/sessions/current
func (h *SecurityHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())
	ok, err := h.Sessions.InvalidateSession(r.Context(), sess.Token, "logout")
	if err != nil {
		writeServiceError(w, err, "session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": ok})
}

// RotateSession replaces the presented token and verifier with fresh ones.
// POST /api/v1/security/sessions/current/rotate
func (h *SecurityHandler) RotateSession(w http.ResponseWriter, r *http.Request) {
	sess := middleware.GetSession(r.Context())
	creds, err := h.Sessions.Rotate(r.Context(), sess.Token, model.RotationManual)
	if err != nil {
		writeServiceError(w, err, "session")
		return
	}
	middleware.SetCredentials(w, creds)
	writeJSON(w, http.StatusOK, creds)
}

// ---------------------------------------------------------------------------
// Session administration
// ---------------------------------------------------------------------------

// ListSessions returns live sessions, optionally for one administrator.
// GET /api/v1/security/sessions?admin_id=
func (h *SecurityHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Sessions.ListSessions(r.Context(), r.URL.Query().Get("admin_id"))
	if err != nil {
		writeServiceError(w, err, "sessions")
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: sessions,
		Meta:     &model.ResponseMeta{Count: len(sessions)},
	})
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// InvalidateAll ends every session immediately.
// POST /api/v1/security/sessions/invalidate-all
func (h *SecurityHandler) InvalidateAll(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	if r.ContentLength != 0 {
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "operator request by " + middleware.GetIdentity(r.Context()).AdminID
	}
	n, err := h.Sessions.InvalidateAllSessions(r.Context(), req.Reason)
	if err != nil {
		writeServiceError(w, err, "sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"invalidated": n})
}

// ListEvents returns the session event history of an administrator.
// GET /api/v1/security/admins/{adminID}/events?limit=
func (h *SecurityHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(queryInt(r, "limit", 100), 1, 1000)
	events, err := h.Store.ListEvents(r.Context(), chi.URLParam(r, "adminID"), limit)
	if err != nil {
		writeServiceError(w, err, "events")
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: events,
		Meta:     &model.ResponseMeta{Count: len(events), Limit: limit},
	})
}

// ---------------------------------------------------------------------------
// Failures and blocks
// ---------------------------------------------------------------------------

type failureRequest struct {
	IPAddress string `json:"ip_address"`
	Kind      string `json:"failure_kind"`
	Identity  string `json:"identity_attempted,omitempty"`
}

// RecordFailure counts a failed credential check reported by the upstream
// authentication flow.
// POST /api/v1/security/failures
func (h *SecurityHandler) RecordFailure(w http.ResponseWriter, r *http.Request) {
	var req failureRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	kind, err := model.ParseFailureKind(req.Kind)
	if err != nil {
		writeServiceError(w, err, "failure")
		return
	}
	blocked, err := h.Limiter.RecordFailure(r.Context(), req.IPAddress, kind, req.Identity)
	if err != nil {
		writeServiceError(w, err, "failure")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"blocked": blocked})
}

// ListBlocks returns blocks, latest expiry first.
// GET /api/v1/security/blocks?include_expired=
func (h *SecurityHandler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	blocks, err := h.Limiter.ListBlocks(r.Context(), queryBool(r, "include_expired"))
	if err != nil {
		writeServiceError(w, err, "blocks")
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: blocks,
		Meta:     &model.ResponseMeta{Count: len(blocks)},
	})
}

// CheckBlock reports whether an address is blocked right now.
// GET /api/v1/security/blocks/{ip}
func (h *SecurityHandler) CheckBlock(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	block, err := h.Limiter.ActiveBlock(r.Context(), ip)
	if err != nil {
		writeServiceError(w, err, "block")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ip_address": ip,
		"blocked":    block != nil,
		"block":      block,
	})
}

// Unblock lifts a block and resolves its pending incident.
// DELETE /api/v1/security/blocks/{ip}
func (h *SecurityHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	operator := middleware.GetIdentity(r.Context()).AdminID
	ok, err := h.Limiter.UnblockManual(r.Context(), chi.URLParam(r, "ip"), operator)
	if err != nil {
		writeServiceError(w, err, "block")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"unblocked": ok})
}

// CleanupBlocks removes expired block rows now instead of waiting for the
// sweep.
// POST /api/v1/security/blocks/cleanup
func (h *SecurityHandler) CleanupBlocks(w http.ResponseWriter, r *http.Request) {
	n, err := h.Limiter.CleanupExpiredBlocks(r.Context())
	if err != nil {
		writeServiceError(w, err, "blocks")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"removed": n})
}

// ---------------------------------------------------------------------------
// Incidents
// ---------------------------------------------------------------------------

// ListIncidents returns pending incidents, or every incident of one address
// when ip is given.
// GET /api/v1/security/incidents?ip=&limit=
func (h *SecurityHandler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	var (
		list []model.BlockIncident
		err  error
	)
	limit := clampInt(queryInt(r, "limit", incident.DefaultListLimit), 1, incident.MaxListLimit)
	if ip := r.URL.Query().Get("ip"); ip != "" {
		list, err = h.Incidents.ListByIP(r.Context(), ip)
		limit = 0
	} else {
		list, err = h.Incidents.ListPending(r.Context(), limit)
	}
	if err != nil {
		writeServiceError(w, err, "incidents")
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: list,
		Meta:     &model.ResponseMeta{Count: len(list), Limit: limit},
	})
}

// GetIncident looks up one incident by its ID.
// GET /api/v1/security/incidents/{incidentID}
func (h *SecurityHandler) GetIncident(w http.ResponseWriter, r *http.Request) {
	inc, err := h.Incidents.FindByIncidentID(r.Context(), chi.URLParam(r, "incidentID"))
	if err != nil {
		writeServiceError(w, err, "incident")
		return
	}
	writeJSON(w, http.StatusOK, inc)
}

type resolveRequest struct {
	Notes string `json:"notes"`
}

// ResolveIncident closes an incident. Resolving twice reports
// resolved=false rather than an error.
// POST /api/v1/security/incidents/{incidentID}/resolve
func (h *SecurityHandler) ResolveIncident(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if r.ContentLength != 0 {
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}
	operator := middleware.GetIdentity(r.Context()).AdminID
	ok, err := h.Incidents.ResolveIncident(r.Context(), chi.URLParam(r, "incidentID"), operator, req.Notes)
	if err != nil {
		writeServiceError(w, err, "incident")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resolved": ok})
}

// ---------------------------------------------------------------------------
// Actions and assessments
// ---------------------------------------------------------------------------

type actionRequest struct {
	ActionType   string `json:"action_type"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	RiskLevel    string `json:"risk_level,omitempty"`
	Success      *bool  `json:"success,omitempty"`
}

// RecordAction appends a privileged action performed under the presented
// session. Success defaults to true.
// POST /api/v1/security/actions
func (h *SecurityHandler) RecordAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	id := middleware.GetIdentity(r.Context())
	success := req.Success == nil || *req.Success

	rec, err := h.Actions.RecordAction(r.Context(), actionlog.Action{
		AdminID:      id.AdminID,
		ActionType:   req.ActionType,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		RiskLevel:    req.RiskLevel,
		IPAddress:    id.IPAddress,
		UserAgent:    id.UserAgent,
		Success:      success,
	})
	if err != nil {
		writeServiceError(w, err, "action")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// ListActions returns recent actions of the caller, or of {adminID} on the
// operator route.
// GET /api/v1/security/actions?limit=
// GET /api/v1/security/admins/{adminID}/actions?limit=
func (h *SecurityHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	adminID := chi.URLParam(r, "adminID")
	if adminID == "" {
		adminID = middleware.GetIdentity(r.Context()).AdminID
	}
	limit := clampInt(queryInt(r, "limit", 100), 1, 1000)
	actions, err := h.Actions.ListRecent(r.Context(), adminID, limit)
	if err != nil {
		writeServiceError(w, err, "actions")
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: actions,
		Meta:     &model.ResponseMeta{Count: len(actions), Limit: limit},
	})
}

// Assess scores an administrator's recent actions.
// GET /api/v1/security/admins/{adminID}/assessment?window=
func (h *SecurityHandler) Assess(w http.ResponseWriter, r *http.Request) {
	window, err := queryDuration(r, "window", 24*time.Hour)
	if err != nil {
		writeServiceError(w, err, "assessment")
		return
	}
	a, err := h.Detector.Assess(r.Context(), chi.URLParam(r, "adminID"), window)
	if err != nil {
		writeServiceError(w, err, "assessment")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Alert assesses an administrator and raises an alert when the result is
// severe enough.
// POST /api/v1/security/admins/{adminID}/alerts?window=
func (h *SecurityHandler) Alert(w http.ResponseWriter, r *http.Request) {
	window, err := queryDuration(r, "window", 24*time.Hour)
	if err != nil {
		writeServiceError(w, err, "assessment")
		return
	}
	a, err := h.Detector.Assess(r.Context(), chi.URLParam(r, "adminID"), window)
	if err != nil {
		writeServiceError(w, err, "assessment")
		return
	}
	res := h.Detector.TriggerAlert(r.Context(), a)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"assessment": a,
		"alert":      res,
	})
}

// ---------------------------------------------------------------------------
// Mass invalidation schedule
// ---------------------------------------------------------------------------

type scheduleRequest struct {
	At string `json:"at"`
}

// GetSchedule returns the pending mass invalidation time.
// GET /api/v1/security/schedule/invalidation
func (h *SecurityHandler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	at, err := h.Invalidation.Scheduled(r.Context())
	if err != nil {
		writeServiceError(w, err, "schedule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scheduled": at != nil,
		"at":        at,
	})
}

// SetSchedule schedules a mass invalidation, replacing any earlier one.
// PUT /api/v1/security/schedule/invalidation
func (h *SecurityHandler) SetSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	at, err := time.Parse(time.RFC3339, strings.TrimSpace(req.At))
	if err != nil {
		writeError(w, http.StatusBadRequest, "at must be an RFC 3339 timestamp")
		return
	}
	if err := h.Invalidation.Schedule(r.Context(), at); err != nil {
		writeServiceError(w, err, "schedule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"scheduled": true, "at": at.UTC()})
}

// ClearSchedule cancels the pending mass invalidation.
// DELETE /api/v1/security/schedule/invalidation
func (h *SecurityHandler) ClearSchedule(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.Invalidation.Clear(r.Context())
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		writeServiceError(w, err, "schedule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": cleared})
}
