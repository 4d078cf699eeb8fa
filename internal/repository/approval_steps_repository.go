package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

// querier is the read surface shared by *database.DB and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// insertSteps writes steps in their flat column shape.
func insertSteps(ctx context.Context, tx pgx.Tx, workflowID string, steps []*ApprovalStep) error {
	query := `
		INSERT INTO approval_steps
		    (workflow_id, step_order, name, step_type,
		     approver_role, approver_user_id, approver_user_ids, is_payment_step)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	for _, step := range steps {
		step.WorkflowID = workflowID
		c := step.Columns()
		err := tx.QueryRow(ctx, query,
			workflowID,
			c.StepOrder,
			c.Name,
			string(c.StepType),
			c.ApproverRole,
			c.ApproverUserID,
			c.ApproverUserIDs,
			c.IsPaymentStep,
		).Scan(&step.ID)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal,
				fmt.Sprintf("failed to create approval step %d", step.StepOrder))
		}
	}
	return nil
}

// loadSteps returns the steps of each workflow keyed by workflow ID, ordered
// by step_order.
func loadSteps(ctx context.Context, q querier, workflowIDs []string) (map[string][]*ApprovalStep, error) {
	query := `
		SELECT id, workflow_id, step_order, name, step_type,
		       approver_role, approver_user_id, approver_user_ids, is_payment_step
		FROM approval_steps
		WHERE workflow_id::text = ANY($1)
		ORDER BY workflow_id, step_order
	`
	rows, err := q.Query(ctx, query, workflowIDs)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load approval steps")
	}
	defer rows.Close()

	out := make(map[string][]*ApprovalStep, len(workflowIDs))
	for rows.Next() {
		var (
			c        StepColumns
			stepType string
		)
		err := rows.Scan(
			&c.ID,
			&c.WorkflowID,
			&c.StepOrder,
			&c.Name,
			&stepType,
			&c.ApproverRole,
			&c.ApproverUserID,
			&c.ApproverUserIDs,
			&c.IsPaymentStep,
		)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval step")
		}
		c.StepType = StepType(stepType)
		step, err := StepFromColumns(c)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal,
				fmt.Sprintf("workflow %s has an invalid step %d", c.WorkflowID, c.StepOrder))
		}
		out[c.WorkflowID] = append(out[c.WorkflowID], step)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load approval steps")
	}
	return out, nil
}
