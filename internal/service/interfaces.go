package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

// WorkflowStore persists workflows together with their ordered steps.
type WorkflowStore interface {
	// Create inserts the workflow and its steps. When wf.IsDefault is set every
	// other workflow of the organization loses the default flag.
	Create(ctx context.Context, wf *repository.ApprovalWorkflow) error
	GetByID(ctx context.Context, orgID, id string) (*repository.ApprovalWorkflow, error)
	// List returns workflows with steps ordered by priority DESC, created_at ASC, id ASC.
	List(ctx context.Context, orgID string, activeOnly bool) ([]*repository.ApprovalWorkflow, error)
	// Update persists header fields (not steps).
	Update(ctx context.Context, wf *repository.ApprovalWorkflow) error
	// ReplaceSteps atomically swaps the whole step list.
	ReplaceSteps(ctx context.Context, orgID, workflowID string, steps []*repository.ApprovalStep) error
	// Delete fails with a conflict while approvals still reference the workflow.
	Delete(ctx context.Context, orgID, id string) error
}

// MemberStore reads the organization membership graph.
type MemberStore interface {
	GetByUserID(ctx context.Context, orgID, userID string) (*repository.OrganizationMember, error)
	// ListActiveByRole returns active members with role ordered by joined_at.
	ListActiveByRole(ctx context.Context, orgID, role string) ([]*repository.OrganizationMember, error)
	// ListActiveByDepartment returns active members of a department ordered by joined_at.
	ListActiveByDepartment(ctx context.Context, orgID, department string) ([]*repository.OrganizationMember, error)
}

// DelegationStore manages approval delegations.
type DelegationStore interface {
	Create(ctx context.Context, d *repository.ApprovalDelegation) error
	List(ctx context.Context, orgID string) ([]*repository.ApprovalDelegation, error)
	// FindActive returns the delegation of delegatorID in effect at t, or nil.
	FindActive(ctx context.Context, orgID, delegatorID string, at time.Time) (*repository.ApprovalDelegation, error)
	// ListActiveForDelegate returns delegations handing authority to delegateID at t.
	ListActiveForDelegate(ctx context.Context, orgID, delegateID string, at time.Time) ([]*repository.ApprovalDelegation, error)
	Revoke(ctx context.Context, orgID, id string) error
}

// SubmissionStore reads expenses and reports.
type SubmissionStore interface {
	Get(ctx context.Context, orgID string, kind repository.SubmissionKind, id string) (*repository.Submission, error)
}

// ApprovalStore persists approval records and their audit trail.
type ApprovalStore interface {
	// Create inserts the approval and its actions and marks the submission
	// as submitted, in one transaction.
	Create(ctx context.Context, a *repository.ExpenseApproval, actions []*repository.ApprovalAction) error
	GetByID(ctx context.Context, orgID, id string) (*repository.ExpenseApproval, error)
	// GetBySubmission returns nil when the submission was never submitted.
	GetBySubmission(ctx context.Context, orgID string, kind repository.SubmissionKind, submissionID string) (*repository.ExpenseApproval, error)
	// Transition persists a's mutable fields only if the stored row still
	// matches guard, appends actions and mirrors the status onto the
	// submission. A guard mismatch is a CONFLICT error.
	Transition(ctx context.Context, a *repository.ExpenseApproval, guard repository.TransitionGuard, actions []*repository.ApprovalAction) error
	AppendAction(ctx context.Context, action *repository.ApprovalAction) error
	ListActions(ctx context.Context, orgID, approvalID string) ([]*repository.ApprovalAction, error)
	// ListByStatus returns approvals oldest submission first.
	ListByStatus(ctx context.Context, orgID string, status repository.ApprovalStatus) ([]*repository.ExpenseApproval, error)
	// ListActionable returns pending or awaiting-payment approvals listing
	// userID among the current approvers.
	ListActionable(ctx context.Context, orgID, userID string) ([]*repository.ExpenseApproval, error)
	Stats(ctx context.Context, orgID, approverID string) (*repository.ApprovalStats, error)
}

// EventPublisher announces approval state changes. Implementations must not
// block the caller on delivery failures.
type EventPublisher interface {
	PublishApprovalEvent(ctx context.Context, eventType string, a *repository.ExpenseApproval, actorID string, recipients []string, payload map[string]interface{})
}

// Clock is swapped in tests.
type Clock func() time.Time
