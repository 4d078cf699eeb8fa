package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-expense-approvals/pkg/database"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

// ApprovalRepository persists approval records, their audit trail and the
// mirrored submission status.
type ApprovalRepository struct {
	db *database.DB
}

// NewApprovalRepository creates a new ApprovalRepository.
func NewApprovalRepository(db *database.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

const approvalColumns = `
	id, organization_id, expense_id, report_id, workflow_id, submitter_id,
	current_step, total_steps, status, current_approver_id, current_approver_ids,
	chain_steps, submitted_at, completed_at, created_at, updated_at`

// Create inserts the approval with its initial actions and marks the
// submission as submitted, all in one transaction.
func (r *ApprovalRepository) Create(ctx context.Context, a *ExpenseApproval, actions []*ApprovalAction) error {
	chain, err := marshalJSON(a.ChainSteps, "chain steps")
	if err != nil {
		return err
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO expense_approvals
			    (organization_id, expense_id, report_id, workflow_id, submitter_id,
			     current_step, total_steps, status,
			     current_approver_id, current_approver_ids, chain_steps, submitted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id, created_at, updated_at
		`
		err := tx.QueryRow(ctx, query,
			a.OrganizationID,
			a.ExpenseID,
			a.ReportID,
			a.WorkflowID,
			a.SubmitterID,
			a.CurrentStep,
			a.TotalSteps,
			string(a.Status),
			a.CurrentApproverID,
			approverIDs(a),
			chain,
			a.SubmittedAt,
		).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
		if isUniqueViolation(err) {
			kind, id := a.SubmissionRef()
			return errors.New(errors.ErrCodeConflict, fmt.Sprintf("%s %s already has an approval", kind, id))
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create expense approval")
		}

		if err := insertActions(ctx, tx, a, actions); err != nil {
			return err
		}
		return setSubmissionStatus(ctx, tx, a)
	})
}

func (r *ApprovalRepository) GetByID(ctx context.Context, orgID, id string) (*ExpenseApproval, error) {
	query := `SELECT ` + approvalColumns + `
		FROM expense_approvals
		WHERE id::text = $1 AND organization_id = $2
	`
	a, err := scanApproval(r.db.QueryRow(ctx, query, id, orgID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("expense_approval", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get expense approval")
	}
	return a, nil
}

// GetBySubmission returns nil when the submission has no approval yet.
func (r *ApprovalRepository) GetBySubmission(ctx context.Context, orgID string, kind SubmissionKind, submissionID string) (*ExpenseApproval, error) {
	column := "expense_id"
	if kind == KindReport {
		column = "report_id"
	}
	query := `SELECT ` + approvalColumns + `
		FROM expense_approvals
		WHERE ` + column + `::text = $1 AND organization_id = $2
	`
	a, err := scanApproval(r.db.QueryRow(ctx, query, submissionID, orgID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get expense approval")
	}
	return a, nil
}

// Transition writes a's mutable state only when the stored row still matches
// guard. Zero matched rows is reported as a conflict (or not found), never as
// success.
func (r *ApprovalRepository) Transition(ctx context.Context, a *ExpenseApproval, guard TransitionGuard, actions []*ApprovalAction) error {
	chain, err := marshalJSON(a.ChainSteps, "chain steps")
	if err != nil {
		return err
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE expense_approvals
			SET workflow_id          = $5,
			    current_step         = $6,
			    total_steps          = $7,
			    status               = $8,
			    current_approver_id  = $9,
			    current_approver_ids = $10,
			    chain_steps          = $11,
			    submitted_at         = $12,
			    completed_at         = $13,
			    updated_at           = NOW()
			WHERE id::text = $1
			  AND organization_id = $2
			  AND status = $3
			  AND current_step = $4
			RETURNING updated_at
		`
		err := tx.QueryRow(ctx, query,
			a.ID,
			a.OrganizationID,
			string(guard.Status),
			guard.CurrentStep,
			a.WorkflowID,
			a.CurrentStep,
			a.TotalSteps,
			string(a.Status),
			a.CurrentApproverID,
			approverIDs(a),
			chain,
			a.SubmittedAt,
			a.CompletedAt,
		).Scan(&a.UpdatedAt)
		if err == pgx.ErrNoRows {
			return r.missedGuard(ctx, tx, a)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update expense approval")
		}

		if err := insertActions(ctx, tx, a, actions); err != nil {
			return err
		}
		return setSubmissionStatus(ctx, tx, a)
	})
}

// missedGuard tells a vanished row apart from a concurrent modification.
func (r *ApprovalRepository) missedGuard(ctx context.Context, tx pgx.Tx, a *ExpenseApproval) error {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM expense_approvals WHERE id::text = $1 AND organization_id = $2)`,
		a.ID, a.OrganizationID,
	).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to check expense approval")
	}
	if !exists {
		return errors.NotFound("expense_approval", a.ID)
	}
	return errors.New(errors.ErrCodeConflict, "approval was modified concurrently; reload and retry")
}

func (r *ApprovalRepository) AppendAction(ctx context.Context, action *ApprovalAction) error {
	return insertAction(ctx, r.db, action)
}

func (r *ApprovalRepository) ListActions(ctx context.Context, orgID, approvalID string) ([]*ApprovalAction, error) {
	return listActions(ctx, r.db, orgID, approvalID)
}

// ListByStatus returns approvals in status, oldest submission first.
func (r *ApprovalRepository) ListByStatus(ctx context.Context, orgID string, status ApprovalStatus) ([]*ExpenseApproval, error) {
	query := `SELECT ` + approvalColumns + `
		FROM expense_approvals
		WHERE organization_id = $1 AND status = $2
		ORDER BY submitted_at ASC, id ASC
	`
	return r.list(ctx, query, orgID, string(status))
}

// ListActionable returns open approvals listing userID as a current approver.
func (r *ApprovalRepository) ListActionable(ctx context.Context, orgID, userID string) ([]*ExpenseApproval, error) {
	query := `SELECT ` + approvalColumns + `
		FROM expense_approvals
		WHERE organization_id = $1
		  AND status IN ('pending', 'awaiting_payment')
		  AND (current_approver_id = $2 OR $2 = ANY(current_approver_ids))
		ORDER BY submitted_at ASC, id ASC
	`
	return r.list(ctx, query, orgID, userID)
}

// Stats computes the dashboard counters for approverID.
func (r *ApprovalRepository) Stats(ctx context.Context, orgID, approverID string) (*ApprovalStats, error) {
	stats := &ApprovalStats{}
	var paidTotal string
	err := r.db.QueryRow(ctx, `
		SELECT
		    COUNT(*) FILTER (WHERE a.status = 'pending'
		                       AND (a.current_approver_id = $2 OR $2 = ANY(a.current_approver_ids))),
		    COUNT(*) FILTER (WHERE a.status = 'awaiting_payment'),
		    COUNT(*) FILTER (WHERE a.status = 'paid'),
		    COALESCE(SUM(COALESCE(e.amount, rp.total_amount)) FILTER (WHERE a.status = 'paid'), 0)::text
		FROM expense_approvals a
		LEFT JOIN expenses e ON e.id = a.expense_id
		LEFT JOIN expense_reports rp ON rp.id = a.report_id
		WHERE a.organization_id = $1
	`, orgID, approverID).Scan(
		&stats.PendingForMe,
		&stats.AwaitingPayment,
		&stats.PaidCount,
		&paidTotal,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to compute approval stats")
	}
	if stats.PaidTotal, err = parseAmount(paidTotal); err != nil {
		return nil, err
	}

	err = r.db.QueryRow(ctx, `
		SELECT
		    COUNT(*) FILTER (WHERE action = 'approved'),
		    COUNT(*) FILTER (WHERE action = 'rejected')
		FROM approval_actions
		WHERE organization_id = $1 AND actor_id = $2
	`, orgID, approverID).Scan(&stats.ApprovedByMe, &stats.RejectedByMe)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to compute approval stats")
	}
	return stats, nil
}

func (r *ApprovalRepository) list(ctx context.Context, query string, args ...any) ([]*ExpenseApproval, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list expense approvals")
	}
	defer rows.Close()

	var out []*ExpenseApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan expense approval")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list expense approvals")
	}
	return out, nil
}

// approverIDs never returns nil so the NOT NULL array column is satisfied.
func approverIDs(a *ExpenseApproval) []string {
	if a.CurrentApproverIDs == nil {
		return []string{}
	}
	return a.CurrentApproverIDs
}

// ── scan helper ───────────────────────────────────────────────────────────────

func scanApproval(row rowScanner) (*ExpenseApproval, error) {
	a := &ExpenseApproval{}
	var (
		status string
		chain  []byte
	)
	err := row.Scan(
		&a.ID,
		&a.OrganizationID,
		&a.ExpenseID,
		&a.ReportID,
		&a.WorkflowID,
		&a.SubmitterID,
		&a.CurrentStep,
		&a.TotalSteps,
		&status,
		&a.CurrentApproverID,
		&a.CurrentApproverIDs,
		&chain,
		&a.SubmittedAt,
		&a.CompletedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = ApprovalStatus(status)
	if err := unmarshalJSON(chain, &a.ChainSteps, "chain steps"); err != nil {
		return nil, err
	}
	return a, nil
}
