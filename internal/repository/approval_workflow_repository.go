package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-expense-approvals/pkg/database"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

// WorkflowRepository manages workflow definitions and their steps.
// Header and step writes always share one transaction.
type WorkflowRepository struct {
	db *database.DB
}

// NewWorkflowRepository creates a new WorkflowRepository.
func NewWorkflowRepository(db *database.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

const workflowColumns = `
	id, organization_id, name, description, conditions,
	priority, is_default, is_active, created_by,
	created_at, updated_at`

// Create inserts a workflow and its steps in one transaction. A default
// workflow takes the flag away from every other workflow of the organization.
func (r *WorkflowRepository) Create(ctx context.Context, wf *ApprovalWorkflow) error {
	conditions, err := marshalJSON(wf.Conditions, "workflow conditions")
	if err != nil {
		return err
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if wf.IsDefault {
			if err := clearDefault(ctx, tx, wf.OrganizationID, ""); err != nil {
				return err
			}
		}

		query := `
			INSERT INTO approval_workflows
			    (organization_id, name, description, conditions,
			     priority, is_default, is_active, created_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at, updated_at
		`
		err := tx.QueryRow(ctx, query,
			wf.OrganizationID,
			wf.Name,
			wf.Description,
			conditions,
			wf.Priority,
			wf.IsDefault,
			wf.IsActive,
			wf.CreatedBy,
		).Scan(&wf.ID, &wf.CreatedAt, &wf.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval workflow")
		}

		return insertSteps(ctx, tx, wf.ID, wf.Steps)
	})
}

// GetByID returns a workflow with its steps.
func (r *WorkflowRepository) GetByID(ctx context.Context, orgID, id string) (*ApprovalWorkflow, error) {
	query := `SELECT ` + workflowColumns + `
		FROM approval_workflows
		WHERE id = $1 AND organization_id = $2
	`
	wf, err := r.scanWorkflow(r.db.QueryRow(ctx, query, id, orgID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_workflow", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval workflow")
	}

	steps, err := loadSteps(ctx, r.db, []string{wf.ID})
	if err != nil {
		return nil, err
	}
	wf.Steps = steps[wf.ID]
	return wf, nil
}

// List returns workflows ordered for selection: priority DESC, then oldest first.
func (r *WorkflowRepository) List(ctx context.Context, orgID string, activeOnly bool) ([]*ApprovalWorkflow, error) {
	query := `SELECT ` + workflowColumns + `
		FROM approval_workflows
		WHERE organization_id = $1
		  AND ($2 = FALSE OR is_active)
		ORDER BY priority DESC, created_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, orgID, activeOnly)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval workflows")
	}
	defer rows.Close()

	var (
		workflows []*ApprovalWorkflow
		ids       []string
	)
	for rows.Next() {
		wf, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval workflow")
		}
		workflows = append(workflows, wf)
		ids = append(ids, wf.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval workflows")
	}
	if len(ids) == 0 {
		return workflows, nil
	}

	steps, err := loadSteps(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for _, wf := range workflows {
		wf.Steps = steps[wf.ID]
	}
	return workflows, nil
}

// Update persists header fields. Steps are replaced through ReplaceSteps.
func (r *WorkflowRepository) Update(ctx context.Context, wf *ApprovalWorkflow) error {
	conditions, err := marshalJSON(wf.Conditions, "workflow conditions")
	if err != nil {
		return err
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		if wf.IsDefault {
			if err := clearDefault(ctx, tx, wf.OrganizationID, wf.ID); err != nil {
				return err
			}
		}

		query := `
			UPDATE approval_workflows
			SET name        = $3,
			    description = $4,
			    conditions  = $5,
			    priority    = $6,
			    is_default  = $7,
			    is_active   = $8,
			    updated_at  = NOW()
			WHERE id = $1 AND organization_id = $2
			RETURNING created_at, updated_at
		`
		err := tx.QueryRow(ctx, query,
			wf.ID,
			wf.OrganizationID,
			wf.Name,
			wf.Description,
			conditions,
			wf.Priority,
			wf.IsDefault,
			wf.IsActive,
		).Scan(&wf.CreatedAt, &wf.UpdatedAt)
		if err == pgx.ErrNoRows {
			return errors.NotFound("approval_workflow", wf.ID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval workflow")
		}
		return nil
	})
}

// ReplaceSteps deletes and re-inserts the whole step list atomically.
func (r *WorkflowRepository) ReplaceSteps(ctx context.Context, orgID, workflowID string, steps []*ApprovalStep) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var id string
		err := tx.QueryRow(ctx, `
			UPDATE approval_workflows
			SET updated_at = NOW()
			WHERE id = $1 AND organization_id = $2
			RETURNING id
		`, workflowID, orgID).Scan(&id)
		if err == pgx.ErrNoRows {
			return errors.NotFound("approval_workflow", workflowID)
		}
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to lock approval workflow")
		}

		if _, err := tx.Exec(ctx, `DELETE FROM approval_steps WHERE workflow_id = $1`, workflowID); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete approval steps")
		}
		return insertSteps(ctx, tx, workflowID, steps)
	})
}

// Delete removes a workflow unless approvals still reference it.
func (r *WorkflowRepository) Delete(ctx context.Context, orgID, id string) error {
	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		var referenced bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM expense_approvals WHERE workflow_id = $1)`, id,
		).Scan(&referenced)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to check workflow references")
		}
		if referenced {
			return errors.New(errors.ErrCodeConflict, "workflow is referenced by existing approvals; deactivate it instead")
		}

		tag, err := tx.Exec(ctx,
			`DELETE FROM approval_workflows WHERE id = $1 AND organization_id = $2`, id, orgID)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to delete approval workflow")
		}
		if tag.RowsAffected() == 0 {
			return errors.NotFound("approval_workflow", id)
		}
		return nil
	})
}

func clearDefault(ctx context.Context, tx pgx.Tx, orgID, keepID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE approval_workflows
		SET is_default = FALSE, updated_at = NOW()
		WHERE organization_id = $1 AND is_default AND id::text <> $2
	`, orgID, keepID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to clear default workflow")
	}
	return nil
}

// ── scan helper ───────────────────────────────────────────────────────────────

func (r *WorkflowRepository) scanWorkflow(row rowScanner) (*ApprovalWorkflow, error) {
	wf := &ApprovalWorkflow{}
	var conditions []byte
	err := row.Scan(
		&wf.ID,
		&wf.OrganizationID,
		&wf.Name,
		&wf.Description,
		&conditions,
		&wf.Priority,
		&wf.IsDefault,
		&wf.IsActive,
		&wf.CreatedBy,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(conditions, &wf.Conditions, "workflow conditions"); err != nil {
		return nil, err
	}
	return wf, nil
}
