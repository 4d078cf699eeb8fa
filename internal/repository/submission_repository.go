package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-expense-approvals/pkg/database"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

// submissionTable maps a submission kind to its table layout.
type submissionTable struct {
	name     string
	amount   string
	category string
}

var submissionTables = map[SubmissionKind]submissionTable{
	KindExpense: {name: "expenses", amount: "s.amount", category: "s.category"},
	KindReport:  {name: "expense_reports", amount: "s.total_amount", category: "NULL::text"},
}

func tableFor(kind SubmissionKind) (submissionTable, error) {
	t, ok := submissionTables[kind]
	if !ok {
		return submissionTable{}, errors.InvalidInput("kind", fmt.Sprintf("unknown submission kind %q", kind))
	}
	return t, nil
}

// SubmissionRepository reads expenses and expense reports.
type SubmissionRepository struct {
	db *database.DB
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(db *database.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

// Get loads a submission. Department falls back to the submitter's
// membership department.
func (r *SubmissionRepository) Get(ctx context.Context, orgID string, kind SubmissionKind, id string) (*Submission, error) {
	t, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT s.id, s.organization_id, s.submitter_id, s.title,
		       (%s)::text, s.currency, %s,
		       COALESCE(s.department, m.department),
		       s.status, s.created_at
		FROM %s s
		LEFT JOIN organization_members m
		       ON m.organization_id = s.organization_id AND m.user_id = s.submitter_id
		WHERE s.id::text = $1 AND s.organization_id = $2
	`, t.amount, t.category, t.name)

	sub := &Submission{Kind: kind}
	var amount string
	err = r.db.QueryRow(ctx, query, id, orgID).Scan(
		&sub.ID,
		&sub.OrganizationID,
		&sub.SubmitterID,
		&sub.Title,
		&amount,
		&sub.Currency,
		&sub.Category,
		&sub.Department,
		&sub.Status,
		&sub.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound(string(kind), id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get "+string(kind))
	}
	if sub.Amount, err = parseAmount(amount); err != nil {
		return nil, err
	}
	return sub, nil
}

// setSubmissionStatus mirrors an approval status onto its submission row.
func setSubmissionStatus(ctx context.Context, tx pgx.Tx, a *ExpenseApproval) error {
	kind, id := a.SubmissionRef()
	t, err := tableFor(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1, updated_at = NOW()
		WHERE id::text = $2 AND organization_id = $3
	`, t.name)
	if _, err := tx.Exec(ctx, query, SubmissionStatusFor(a.Status), id, a.OrganizationID); err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update "+string(kind)+" status")
	}
	return nil
}
