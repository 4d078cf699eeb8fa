package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-expense-approvals/pkg/database"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

// DelegationRepository manages approval delegations.
type DelegationRepository struct {
	db *database.DB
}

// NewDelegationRepository creates a new DelegationRepository.
func NewDelegationRepository(db *database.DB) *DelegationRepository {
	return &DelegationRepository{db: db}
}

const delegationColumns = `
	id, organization_id, delegator_id, delegate_id,
	start_date, end_date, reason, is_active, created_at`

func (r *DelegationRepository) Create(ctx context.Context, d *ApprovalDelegation) error {
	query := `
		INSERT INTO approval_delegations
		    (organization_id, delegator_id, delegate_id,
		     start_date, end_date, reason, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	err := r.db.QueryRow(ctx, query,
		d.OrganizationID,
		d.DelegatorID,
		d.DelegateID,
		d.StartDate,
		d.EndDate,
		d.Reason,
		d.IsActive,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create delegation")
	}
	return nil
}

func (r *DelegationRepository) List(ctx context.Context, orgID string) ([]*ApprovalDelegation, error) {
	query := `SELECT ` + delegationColumns + `
		FROM approval_delegations
		WHERE organization_id = $1
		ORDER BY created_at ASC
	`
	return r.list(ctx, query, orgID)
}

// FindActive returns the newest delegation of delegatorID in effect at t, or nil.
func (r *DelegationRepository) FindActive(ctx context.Context, orgID, delegatorID string, at time.Time) (*ApprovalDelegation, error) {
	query := `SELECT ` + delegationColumns + `
		FROM approval_delegations
		WHERE organization_id = $1
		  AND delegator_id = $2
		  AND is_active
		  AND start_date <= $3 AND end_date >= $3
		ORDER BY created_at DESC
		LIMIT 1
	`
	d, err := scanDelegation(r.db.QueryRow(ctx, query, orgID, delegatorID, at))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to find active delegation")
	}
	return d, nil
}

func (r *DelegationRepository) ListActiveForDelegate(ctx context.Context, orgID, delegateID string, at time.Time) ([]*ApprovalDelegation, error) {
	query := `SELECT ` + delegationColumns + `
		FROM approval_delegations
		WHERE organization_id = $1
		  AND delegate_id = $2
		  AND is_active
		  AND start_date <= $3 AND end_date >= $3
		ORDER BY created_at ASC
	`
	return r.list(ctx, query, orgID, delegateID, at)
}

func (r *DelegationRepository) Revoke(ctx context.Context, orgID, id string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE approval_delegations
		SET is_active = FALSE
		WHERE id::text = $1 AND organization_id = $2
	`, id, orgID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to revoke delegation")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("approval_delegation", id)
	}
	return nil
}

func (r *DelegationRepository) list(ctx context.Context, query string, args ...any) ([]*ApprovalDelegation, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list delegations")
	}
	defer rows.Close()

	var out []*ApprovalDelegation
	for rows.Next() {
		d, err := scanDelegation(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan delegation")
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list delegations")
	}
	return out, nil
}

func scanDelegation(row rowScanner) (*ApprovalDelegation, error) {
	d := &ApprovalDelegation{}
	err := row.Scan(
		&d.ID,
		&d.OrganizationID,
		&d.DelegatorID,
		&d.DelegateID,
		&d.StartDate,
		&d.EndDate,
		&d.Reason,
		&d.IsActive,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}
