package handler

import (
	"encoding/json"
	"net/http"

	"github.com/crestline/be-tax-approvals/internal/errors"
	"github.com/crestline/be-tax-approvals/internal/logger"
	"github.com/crestline/be-tax-approvals/internal/repository"
	"github.com/crestline/be-tax-approvals/internal/service"
)

// userIDHeader carries the authenticated user, injected by the platform
// gateway after JWT validation.
const userIDHeader = "X-User-ID"

// HTTPHandler exposes the approval engine over JSON/HTTP.
type HTTPHandler struct {
	service *service.ApprovalService
	log     *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(svc *service.ApprovalService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		service: svc,
		log:     log,
	}
}

// Register wires all routes onto the mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/approvals", h.CreateApproval)
	mux.HandleFunc("/api/v1/approvals/get", h.GetApproval)
	mux.HandleFunc("/api/v1/approvals/approve", h.ApproveStep)
	mux.HandleFunc("/api/v1/approvals/reject", h.RejectStep)
	mux.HandleFunc("/api/v1/approvals/reassign", h.ReassignStep)
	mux.HandleFunc("/api/v1/approvals/pending", h.GetPendingApprovals)
	mux.HandleFunc("/api/v1/approvals/audit", h.GetAuditTrail)

	mux.HandleFunc("/api/v1/routes", h.Routes)
	mux.HandleFunc("/api/v1/routes/get", h.GetRoute)
	mux.HandleFunc("/api/v1/routes/update", h.UpdateRoute)
	mux.HandleFunc("/api/v1/routes/deactivate", h.DeactivateRoute)

	mux.HandleFunc("/api/v1/delegations", h.Delegations)
	mux.HandleFunc("/api/v1/delegations/revoke", h.RevokeDelegation)
}

// ── approvals ────────────────────────────────────────────────────────────────

// CreateApproval starts a routed sign-off for a business object.
func (h *HTTPHandler) CreateApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cfg service.CreateApprovalConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if cfg.RequestedBy == "" {
		cfg.RequestedBy = r.Header.Get(userIDHeader)
	}

	approval, err := h.service.CreateApproval(r.Context(), &cfg)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, approval)
}

// GetApproval returns one approval with its steps.
func (h *HTTPHandler) GetApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Approval ID is required", http.StatusBadRequest)
		return
	}

	detail, err := h.service.GetApproval(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, detail)
}

// ApproveStep records an approval on one step.
func (h *HTTPHandler) ApproveStep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		StepID  string  `json:"step_id"`
		Comment *string `json:"comment,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.ApproveStep(r.Context(), req.StepID, r.Header.Get(userIDHeader), req.Comment)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// RejectStep records a rejection, vetoing the whole approval.
func (h *HTTPHandler) RejectStep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		StepID  string `json:"step_id"`
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.service.RejectStep(r.Context(), req.StepID, r.Header.Get(userIDHeader), req.Comment)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// ReassignStep manually corrects a step's assignee.
func (h *HTTPHandler) ReassignStep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		StepID string `json:"step_id"`
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.ReassignStep(r.Context(), req.StepID, req.UserID, r.Header.Get(userIDHeader)); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "reassigned"})
}

// GetPendingApprovals returns the caller's outstanding work queue.
func (h *HTTPHandler) GetPendingApprovals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	resp, err := h.service.GetUserApprovals(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetAuditTrail returns the audit log for an approval.
func (h *HTTPHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("approval_id")
	if id == "" {
		http.Error(w, "Approval ID is required", http.StatusBadRequest)
		return
	}

	entries, err := h.service.GetAuditTrail(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// ── routes ───────────────────────────────────────────────────────────────────

// Routes dispatches list and create on the routes collection.
func (h *HTTPHandler) Routes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listRoutes(w, r)
	case http.MethodPost:
		h.createRoute(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPHandler) listRoutes(w http.ResponseWriter, r *http.Request) {
	var workflowType *string
	if wt := r.URL.Query().Get("workflow_type"); wt != "" {
		workflowType = &wt
	}
	activeOnly := r.URL.Query().Get("active") == "true"

	routes, err := h.service.ListRoutes(r.Context(), workflowType, activeOnly)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"routes": routes})
}

func (h *HTTPHandler) createRoute(w http.ResponseWriter, r *http.Request) {
	var route repository.Route
	if err := json.NewDecoder(r.Body).Decode(&route); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.CreateRoute(r.Context(), &route); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, route)
}

// GetRoute returns one route by ID.
func (h *HTTPHandler) GetRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Route ID is required", http.StatusBadRequest)
		return
	}

	route, err := h.service.GetRoute(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, route)
}

// UpdateRoute edits a route, bumping its version.
func (h *HTTPHandler) UpdateRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var route repository.Route
	if err := json.NewDecoder(r.Body).Decode(&route); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.UpdateRoute(r.Context(), &route); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, route)
}

// DeactivateRoute retires a route.
func (h *HTTPHandler) DeactivateRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.DeactivateRoute(r.Context(), req.ID); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

// ── delegations ──────────────────────────────────────────────────────────────

// Delegations dispatches list and create on the delegations collection.
func (h *HTTPHandler) Delegations(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listDelegations(w, r)
	case http.MethodPost:
		h.createDelegation(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *HTTPHandler) listDelegations(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get(userIDHeader)
	if userID == "" {
		http.Error(w, "User ID is required", http.StatusBadRequest)
		return
	}

	delegations, err := h.service.ListDelegations(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"delegations": delegations})
}

func (h *HTTPHandler) createDelegation(w http.ResponseWriter, r *http.Request) {
	var req service.DelegateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	delegation, err := h.service.DelegateApprovals(r.Context(), r.Header.Get(userIDHeader), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, delegation)
}

// RevokeDelegation deactivates a delegation grant.
func (h *HTTPHandler) RevokeDelegation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.service.RevokeDelegation(r.Context(), req.ID, r.Header.Get(userIDHeader)); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// ── response helpers ─────────────────────────────────────────────────────────

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("Failed to encode response body")
	}
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("Request failed")
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":  string(errors.CodeOf(err)),
		"error": err.Error(),
	})
}
