package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

// The approval_actions table is append-only: a trigger rejects UPDATE and
// DELETE, so inserting is the only write exposed here.

// rowQuerier is the single-row surface shared by *database.DB and pgx.Tx.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertAction(ctx context.Context, q rowQuerier, action *ApprovalAction) error {
	var metadata []byte
	if action.Metadata != nil {
		var err error
		if metadata, err = marshalJSON(action.Metadata, "action metadata"); err != nil {
			return err
		}
	}

	query := `
		INSERT INTO approval_actions
		    (approval_id, organization_id, action, actor_id,
		     step_number, comment, rejection_reason, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err := q.QueryRow(ctx, query,
		action.ApprovalID,
		action.OrganizationID,
		string(action.Action),
		action.ActorID,
		action.StepNumber,
		action.Comment,
		action.RejectionReason,
		metadata,
	).Scan(&action.ID, &action.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append approval action")
	}
	return nil
}

func insertActions(ctx context.Context, tx pgx.Tx, a *ExpenseApproval, actions []*ApprovalAction) error {
	for _, action := range actions {
		action.ApprovalID = a.ID
		action.OrganizationID = a.OrganizationID
		if err := insertAction(ctx, tx, action); err != nil {
			return err
		}
	}
	return nil
}

// listActions returns the audit trail of one approval in insertion order.
func listActions(ctx context.Context, q querier, orgID, approvalID string) ([]*ApprovalAction, error) {
	query := `
		SELECT id, approval_id, organization_id, action, actor_id,
		       step_number, comment, rejection_reason, metadata, created_at
		FROM approval_actions
		WHERE approval_id::text = $1 AND organization_id = $2
		ORDER BY seq ASC
	`
	rows, err := q.Query(ctx, query, approvalID, orgID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval actions")
	}
	defer rows.Close()

	var actions []*ApprovalAction
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval actions")
	}
	return actions, nil
}

func scanAction(row rowScanner) (*ApprovalAction, error) {
	action := &ApprovalAction{}
	var (
		kind     string
		metadata []byte
	)
	err := row.Scan(
		&action.ID,
		&action.ApprovalID,
		&action.OrganizationID,
		&kind,
		&action.ActorID,
		&action.StepNumber,
		&action.Comment,
		&action.RejectionReason,
		&metadata,
		&action.CreatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval action")
	}
	action.Action = ActionType(kind)
	if err := unmarshalJSON(metadata, &action.Metadata, "action metadata"); err != nil {
		return nil, err
	}
	return action, nil
}
