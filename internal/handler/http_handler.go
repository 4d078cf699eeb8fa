package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/internal/service"
	"github.com/pesio-ai/be-expense-approvals/pkg/auth"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
	"github.com/pesio-ai/be-expense-approvals/pkg/logger"
)

// APIPrefix is the mount point of every JSON route except /health.
const APIPrefix = "/api/v1"

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	approvals   *service.ApprovalService
	workflows   *service.WorkflowService
	delegations *service.DelegationService
	payments    *service.PaymentQueue
	log         *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(
	approvals *service.ApprovalService,
	workflows *service.WorkflowService,
	delegations *service.DelegationService,
	payments *service.PaymentQueue,
	log *logger.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		approvals:   approvals,
		workflows:   workflows,
		delegations: delegations,
		payments:    payments,
		log:         log,
	}
}

// RegisterRoutes mounts every route on mux.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)

	route := func(pattern string, fn http.HandlerFunc) {
		method, path, _ := strings.Cut(pattern, " ")
		mux.HandleFunc(method+" "+APIPrefix+path, fn)
	}

	route("GET /workflows", h.ListWorkflows)
	route("POST /workflows", h.CreateWorkflow)
	route("GET /workflows/get", h.GetWorkflow)
	route("POST /workflows/update", h.UpdateWorkflow)
	route("POST /workflows/steps", h.UpdateWorkflowSteps)
	route("POST /workflows/activate", h.SetWorkflowActive)
	route("DELETE /workflows/delete", h.DeleteWorkflow)

	route("GET /members/manager-check", h.CheckManager)

	route("POST /approvals/submit", h.Submit)
	route("POST /approvals/approve", h.Approve)
	route("POST /approvals/reject", h.Reject)
	route("POST /approvals/resubmit", h.Resubmit)
	route("POST /approvals/cancel", h.Cancel)
	route("POST /approvals/comment", h.Comment)
	route("POST /approvals/batch-approve", h.BatchApprove)
	route("GET /approvals/get", h.GetApproval)
	route("GET /approvals/pending", h.ListPending)
	route("GET /approvals/stats", h.GetStats)

	route("GET /payments/queue", h.PaymentQueue)
	route("POST /payments/process", h.ProcessPayment)
	route("POST /payments/batch", h.ProcessPaymentBatch)

	route("GET /delegations", h.ListDelegations)
	route("POST /delegations", h.CreateDelegation)
	route("POST /delegations/revoke", h.RevokeDelegation)
}

// Health handles liveness checks
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── Workflows ────────────────────────────────────────────────────────────────

// ListWorkflows handles list workflows HTTP requests
func (h *HTTPHandler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	activeOnly := r.URL.Query().Get("active_only") == "true"
	workflows, err := h.workflows.ListWorkflows(r.Context(), uc.OrganizationID, activeOnly)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"workflows": workflows})
}

// CreateWorkflow handles create workflow HTTP requests
func (h *HTTPHandler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req service.CreateWorkflowRequest
	if !h.decode(w, r, &req) {
		return
	}
	wf, err := h.workflows.CreateWorkflow(r.Context(), uc.OrganizationID, uc.UserID, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

// GetWorkflow handles get workflow HTTP requests
func (h *HTTPHandler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.queryParam(w, r, "id")
	if !ok {
		return
	}
	wf, err := h.workflows.GetWorkflow(r.Context(), uc.OrganizationID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// UpdateWorkflow handles update workflow HTTP requests
func (h *HTTPHandler) UpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		ID string `json:"id"`
		service.UpdateWorkflowRequest
	}
	if !h.decode(w, r, &req) {
		return
	}
	wf, err := h.workflows.UpdateWorkflow(r.Context(), uc.OrganizationID, uc.UserID, req.ID, &req.UpdateWorkflowRequest)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// UpdateWorkflowSteps atomically replaces the step list of a workflow
func (h *HTTPHandler) UpdateWorkflowSteps(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		WorkflowID string                     `json:"workflow_id"`
		Steps      []*repository.ApprovalStep `json:"steps"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	wf, err := h.workflows.UpdateWorkflowSteps(r.Context(), uc.OrganizationID, uc.UserID, req.WorkflowID, req.Steps)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// SetWorkflowActive handles workflow activation HTTP requests
func (h *HTTPHandler) SetWorkflowActive(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		ID       string `json:"id"`
		IsActive bool   `json:"is_active"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	wf, err := h.workflows.SetWorkflowActive(r.Context(), uc.OrganizationID, uc.UserID, req.ID, req.IsActive)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

// DeleteWorkflow handles delete workflow HTTP requests
func (h *HTTPHandler) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.queryParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.workflows.DeleteWorkflow(r.Context(), uc.OrganizationID, uc.UserID, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CheckManager reports whether a user can submit, i.e. has an active manager.
func (h *HTTPHandler) CheckManager(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = uc.UserID
	}
	manager, err := h.approvals.CheckManagerAssignment(r.Context(), uc.OrganizationID, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"manager": manager,
	})
}

// ── Approvals ────────────────────────────────────────────────────────────────

// submissionRequest names exactly one of an expense or a report.
type submissionRequest struct {
	ExpenseID string `json:"expense_id"`
	ReportID  string `json:"report_id"`
}

func (req submissionRequest) target() (repository.SubmissionKind, string, error) {
	switch {
	case req.ExpenseID != "" && req.ReportID != "":
		return "", "", errors.InvalidInput("expense_id", "provide either expense_id or report_id, not both")
	case req.ExpenseID != "":
		return repository.KindExpense, req.ExpenseID, nil
	case req.ReportID != "":
		return repository.KindReport, req.ReportID, nil
	default:
		return "", "", errors.InvalidInput("expense_id", "expense_id or report_id is required")
	}
}

// Submit builds the approval chain for an expense or report
func (h *HTTPHandler) Submit(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req submissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	kind, id, err := req.target()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var a *repository.ExpenseApproval
	if kind == repository.KindReport {
		a, err = h.approvals.SubmitReport(r.Context(), uc.OrganizationID, id, uc.UserID)
	} else {
		a, err = h.approvals.SubmitExpense(r.Context(), uc.OrganizationID, id, uc.UserID)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

type decisionRequest struct {
	ApprovalID      string  `json:"approval_id"`
	Comment         *string `json:"comment,omitempty"`
	RejectionReason string  `json:"rejection_reason,omitempty"`
}

// Approve handles approve HTTP requests
func (h *HTTPHandler) Approve(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.approvals.Approve(r.Context(), uc.OrganizationID, req.ApprovalID, uc.UserID, req.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Reject handles reject HTTP requests
func (h *HTTPHandler) Reject(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.approvals.Reject(r.Context(), uc.OrganizationID, req.ApprovalID, uc.UserID, req.RejectionReason, req.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Resubmit restarts the chain of a rejected report or expense
func (h *HTTPHandler) Resubmit(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req submissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	kind, id, err := req.target()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var a *repository.ExpenseApproval
	if kind == repository.KindReport {
		a, err = h.approvals.ResubmitReport(r.Context(), uc.OrganizationID, id, uc.UserID)
	} else {
		a, err = h.approvals.ResubmitExpense(r.Context(), uc.OrganizationID, id, uc.UserID)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Cancel handles cancel HTTP requests
func (h *HTTPHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.approvals.Cancel(r.Context(), uc.OrganizationID, req.ApprovalID, uc.UserID, req.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Comment handles comment HTTP requests
func (h *HTTPHandler) Comment(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		ApprovalID string `json:"approval_id"`
		Comment    string `json:"comment"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	action, err := h.approvals.Comment(r.Context(), uc.OrganizationID, req.ApprovalID, uc.UserID, req.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, action)
}

type batchRequest struct {
	ApprovalIDs []string `json:"approval_ids"`
	Comment     *string  `json:"comment,omitempty"`
}

// BatchApprove handles batch approve HTTP requests
func (h *HTTPHandler) BatchApprove(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req batchRequest
	if !h.decode(w, r, &req) {
		return
	}
	results, err := h.approvals.BatchApprove(r.Context(), uc.OrganizationID, req.ApprovalIDs, uc.UserID, req.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// GetApproval handles get approval HTTP requests
func (h *HTTPHandler) GetApproval(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.queryParam(w, r, "id")
	if !ok {
		return
	}
	detail, err := h.approvals.GetApproval(r.Context(), uc.OrganizationID, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// ListPending lists approvals waiting on the caller, delegated queues included
func (h *HTTPHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	approvals, err := h.approvals.ListPendingForApprover(r.Context(), uc.OrganizationID, uc.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"approvals": approvals})
}

// GetStats handles approval stats HTTP requests
func (h *HTTPHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	stats, err := h.approvals.GetStats(r.Context(), uc.OrganizationID, uc.UserID, r.URL.Query().Get("approver_id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ── Payments ─────────────────────────────────────────────────────────────────

// PaymentQueue handles payment queue HTTP requests
func (h *HTTPHandler) PaymentQueue(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	items, err := h.payments.List(r.Context(), uc.OrganizationID, uc.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

// ProcessPayment handles process payment HTTP requests
func (h *HTTPHandler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req decisionRequest
	if !h.decode(w, r, &req) {
		return
	}
	a, err := h.approvals.ProcessPayment(r.Context(), uc.OrganizationID, req.ApprovalID, uc.UserID, req.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ProcessPaymentBatch handles batch payment HTTP requests
func (h *HTTPHandler) ProcessPaymentBatch(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req batchRequest
	if !h.decode(w, r, &req) {
		return
	}
	results, err := h.payments.ProcessBatch(r.Context(), uc.OrganizationID, req.ApprovalIDs, uc.UserID, req.Comment)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": results})
}

// ── Delegations ──────────────────────────────────────────────────────────────

// ListDelegations handles list delegations HTTP requests
func (h *HTTPHandler) ListDelegations(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	delegations, err := h.delegations.ListDelegations(r.Context(), uc.OrganizationID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"delegations": delegations})
}

// CreateDelegation handles create delegation HTTP requests
func (h *HTTPHandler) CreateDelegation(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req service.CreateDelegationRequest
	if !h.decode(w, r, &req) {
		return
	}
	d, err := h.delegations.CreateDelegation(r.Context(), uc.OrganizationID, uc.UserID, &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// RevokeDelegation handles revoke delegation HTTP requests
func (h *HTTPHandler) RevokeDelegation(w http.ResponseWriter, r *http.Request) {
	uc, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.delegations.RevokeDelegation(r.Context(), uc.OrganizationID, uc.UserID, req.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── helpers ──────────────────────────────────────────────────────────────────

// caller resolves the authenticated user and the organization they are an
// active member of, or writes the error.
func (h *HTTPHandler) caller(w http.ResponseWriter, r *http.Request) (*auth.UserContext, bool) {
	uc, err := auth.RequireOrganization(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	if _, err := h.approvals.RequireMember(r.Context(), uc.OrganizationID, uc.UserID); err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return uc, true
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return false
	}
	return true
}

func (h *HTTPHandler) queryParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		h.writeError(w, r, errors.InvalidInput(name, name+" is required"))
		return "", false
	}
	return v, true
}

// errorResponse is the JSON body of every failed request.
type errorResponse struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
	Field   string           `json:"field,omitempty"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Code: errors.CodeOf(err), Message: err.Error()}
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		resp.Message = appErr.Message
		resp.Field = appErr.Field
	}

	status := HTTPStatus(resp.Code)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		resp.Message = "internal error"
	}
	writeJSON(w, status, resp)
}

// HTTPStatus maps an error code to its HTTP status.
func HTTPStatus(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeUnauthorized, errors.ErrCodeNotAuthenticated:
		return http.StatusUnauthorized
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeNoOrganizationSelected, errors.ErrCodeNoManagerAssigned,
		errors.ErrCodeNoEligibleApprover, errors.ErrCodeNoWorkflowFound:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
