package repository

import (
	"time"

	"github.com/shopspring/decimal"
)

// ── Approval status ──────────────────────────────────────────────────────────

// ApprovalStatus is the lifecycle state of an ExpenseApproval.
type ApprovalStatus string

const (
	StatusPending         ApprovalStatus = "pending"
	StatusApproved        ApprovalStatus = "approved"
	StatusAwaitingPayment ApprovalStatus = "awaiting_payment"
	StatusRejected        ApprovalStatus = "rejected"
	StatusCancelled       ApprovalStatus = "cancelled"
	StatusPaid            ApprovalStatus = "paid"
)

// IsTerminal reports whether no further transition is possible from s.
// Rejected is terminal for the state machine; resubmission reopens the row
// explicitly.
func (s ApprovalStatus) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusPaid, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// ── Organization membership ──────────────────────────────────────────────────

// Member roles.
const (
	RoleAdmin    = "admin"
	RoleFinance  = "finance"
	RoleManager  = "manager"
	RoleEmployee = "employee"
)

// OrganizationMember is one user's membership in an organization. ManagerID
// refers to the manager's user ID, not their membership ID.
type OrganizationMember struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	Role           string    `json:"role"`
	ManagerID      *string   `json:"manager_id,omitempty"`
	Department     *string   `json:"department,omitempty"`
	IsActive       bool      `json:"is_active"`
	FullName       string    `json:"full_name"`
	Email          string    `json:"email"`
	JoinedAt       time.Time `json:"joined_at"`
}

// ── Workflows ────────────────────────────────────────────────────────────────

// WorkflowConditions are ANDed across present fields. Empty fields match
// everything; list fields match when the value is one of the entries.
type WorkflowConditions struct {
	AmountMin    *decimal.Decimal `json:"amount_min,omitempty"`
	AmountMax    *decimal.Decimal `json:"amount_max,omitempty"`
	Categories   []string         `json:"categories,omitempty"`
	Departments  []string         `json:"departments,omitempty"`
	SubmitterIDs []string         `json:"submitter_ids,omitempty"`
}

// IsEmpty reports whether the conditions match every submission.
func (c WorkflowConditions) IsEmpty() bool {
	return c.AmountMin == nil && c.AmountMax == nil &&
		len(c.Categories) == 0 && len(c.Departments) == 0 && len(c.SubmitterIDs) == 0
}

// ApprovalWorkflow is a named, conditional, ordered list of approval steps.
type ApprovalWorkflow struct {
	ID             string             `json:"id"`
	OrganizationID string             `json:"organization_id"`
	Name           string             `json:"name"`
	Description    *string            `json:"description,omitempty"`
	Conditions     WorkflowConditions `json:"conditions"`
	Priority       int                `json:"priority"` // higher wins
	IsDefault      bool               `json:"is_default"`
	IsActive       bool               `json:"is_active"`
	CreatedBy      *string            `json:"created_by,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	Steps          []*ApprovalStep    `json:"steps"`
}

// HasStepType reports whether any step of w has the given type.
func (w *ApprovalWorkflow) HasStepType(t StepType) bool {
	for _, s := range w.Steps {
		if s.Type() == t {
			return true
		}
	}
	return false
}

// ── Submissions ──────────────────────────────────────────────────────────────

// SubmissionKind distinguishes expenses from reports.
type SubmissionKind string

const (
	KindExpense SubmissionKind = "expense"
	KindReport  SubmissionKind = "report"
)

// Submission statuses mirrored onto expenses / expense_reports.
const (
	SubmissionDraft     = "draft"
	SubmissionSubmitted = "submitted"
	SubmissionApproved  = "approved"
	SubmissionRejected  = "rejected"
	SubmissionPaid      = "paid"
)

// Submission is the approval-relevant view of an expense or report.
type Submission struct {
	Kind           SubmissionKind  `json:"kind"`
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	SubmitterID    string          `json:"submitter_id"`
	Title          string          `json:"title"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Category       *string         `json:"category,omitempty"`
	Department     *string         `json:"department,omitempty"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

// SubmissionStatusFor maps an approval status onto the submission status.
func SubmissionStatusFor(s ApprovalStatus) string {
	switch s {
	case StatusApproved, StatusAwaitingPayment:
		return SubmissionApproved
	case StatusRejected:
		return SubmissionRejected
	case StatusPaid:
		return SubmissionPaid
	case StatusCancelled:
		return SubmissionDraft
	default:
		return SubmissionSubmitted
	}
}

// ── Approval records ─────────────────────────────────────────────────────────

// ExpenseApproval is the live state of one submission moving through its chain.
// Exactly one of ExpenseID / ReportID is set. ChainSteps snapshots the workflow
// steps at submission so later workflow edits do not reshape in-flight chains.
type ExpenseApproval struct {
	ID                 string          `json:"id"`
	OrganizationID     string          `json:"organization_id"`
	ExpenseID          *string         `json:"expense_id,omitempty"`
	ReportID           *string         `json:"report_id,omitempty"`
	WorkflowID         string          `json:"workflow_id"`
	SubmitterID        string          `json:"submitter_id"`
	CurrentStep        int             `json:"current_step"`
	TotalSteps         int             `json:"total_steps"`
	Status             ApprovalStatus  `json:"status"`
	CurrentApproverID  *string         `json:"current_approver_id,omitempty"`
	CurrentApproverIDs []string        `json:"current_approver_ids"`
	ChainSteps         []*ApprovalStep `json:"chain_steps"`
	SubmittedAt        time.Time       `json:"submitted_at"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// SubmissionRef returns the kind and ID of the approved submission.
func (a *ExpenseApproval) SubmissionRef() (SubmissionKind, string) {
	if a.ReportID != nil {
		return KindReport, *a.ReportID
	}
	if a.ExpenseID != nil {
		return KindExpense, *a.ExpenseID
	}
	return "", ""
}

// StepAt returns the snapshot step with the given 1-based order, or nil.
func (a *ExpenseApproval) StepAt(order int) *ApprovalStep {
	if order < 1 || order > len(a.ChainSteps) {
		return nil
	}
	return a.ChainSteps[order-1]
}

// IsEligible reports whether userID is listed for the current step.
func (a *ExpenseApproval) IsEligible(userID string) bool {
	if a.CurrentApproverID != nil && *a.CurrentApproverID == userID {
		return true
	}
	for _, id := range a.CurrentApproverIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// TransitionGuard is the snapshot a conditional update must still match.
type TransitionGuard struct {
	Status      ApprovalStatus
	CurrentStep int
}

// GuardOf captures the current state of a as a guard.
func GuardOf(a *ExpenseApproval) TransitionGuard {
	return TransitionGuard{Status: a.Status, CurrentStep: a.CurrentStep}
}

// ── Audit trail ──────────────────────────────────────────────────────────────

// ActionType is the kind of an audit entry.
type ActionType string

const (
	ActionSubmitted ActionType = "submitted"
	ActionApproved  ActionType = "approved"
	ActionRejected  ActionType = "rejected"
	ActionDelegated ActionType = "delegated"
	ActionCommented ActionType = "commented"
	ActionPaid      ActionType = "paid"
	ActionCancelled ActionType = "cancelled"
)

// ApprovalAction is one immutable row in the approval audit trail.
type ApprovalAction struct {
	ID              string                 `json:"id"`
	ApprovalID      string                 `json:"approval_id"`
	OrganizationID  string                 `json:"organization_id"`
	Action          ActionType             `json:"action"`
	ActorID         string                 `json:"actor_id"`
	StepNumber      int                    `json:"step_number"`
	Comment         *string                `json:"comment,omitempty"`
	RejectionReason *string                `json:"rejection_reason,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
}

// ── Delegations ──────────────────────────────────────────────────────────────

// ApprovalDelegation temporarily hands one approver's authority to another.
type ApprovalDelegation struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	DelegatorID    string    `json:"delegator_id"`
	DelegateID     string    `json:"delegate_id"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	Reason         *string   `json:"reason,omitempty"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// ActiveAt reports whether the delegation applies at t.
func (d *ApprovalDelegation) ActiveAt(t time.Time) bool {
	return d.IsActive && !t.Before(d.StartDate) && !t.After(d.EndDate)
}

// ── Stats ────────────────────────────────────────────────────────────────────

// ApprovalStats are the aggregate counters shown on the approver dashboard.
type ApprovalStats struct {
	PendingForMe    int             `json:"pending_for_me"`
	ApprovedByMe    int             `json:"approved_by_me"`
	RejectedByMe    int             `json:"rejected_by_me"`
	AwaitingPayment int             `json:"awaiting_payment"`
	PaidCount       int             `json:"paid_count"`
	PaidTotal       decimal.Decimal `json:"paid_total"`
}
