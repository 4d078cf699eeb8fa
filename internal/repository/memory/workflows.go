package memory

import (
	"context"
	"sort"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

// WorkflowRepository is the in-memory workflow store.
type WorkflowRepository struct {
	s *Store
}

// Create inserts a workflow and its steps.
func (r *WorkflowRepository) Create(ctx context.Context, wf *repository.ApprovalWorkflow) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	wf.ID = newID()
	now := r.s.tick()
	wf.CreatedAt = now
	wf.UpdatedAt = now
	for _, st := range wf.Steps {
		st.ID = newID()
		st.WorkflowID = wf.ID
	}
	if wf.IsDefault {
		r.clearDefaultLocked(wf.OrganizationID, wf.ID)
	}
	r.s.workflows[wf.ID] = copyWorkflow(wf)
	return nil
}

// GetByID returns a workflow with its steps.
func (r *WorkflowRepository) GetByID(ctx context.Context, orgID, id string) (*repository.ApprovalWorkflow, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	wf, ok := r.s.workflows[id]
	if !ok || wf.OrganizationID != orgID {
		return nil, errors.NotFound("approval_workflow", id)
	}
	return copyWorkflow(wf), nil
}

// List returns the organization's workflows, highest priority first.
func (r *WorkflowRepository) List(ctx context.Context, orgID string, activeOnly bool) ([]*repository.ApprovalWorkflow, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*repository.ApprovalWorkflow
	for _, wf := range r.s.workflows {
		if wf.OrganizationID != orgID {
			continue
		}
		if activeOnly && !wf.IsActive {
			continue
		}
		out = append(out, copyWorkflow(wf))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Update persists header fields.
func (r *WorkflowRepository) Update(ctx context.Context, wf *repository.ApprovalWorkflow) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.workflows[wf.ID]
	if !ok || stored.OrganizationID != wf.OrganizationID {
		return errors.NotFound("approval_workflow", wf.ID)
	}
	if wf.IsDefault {
		r.clearDefaultLocked(wf.OrganizationID, wf.ID)
	}
	updated := copyWorkflow(wf)
	updated.Steps = stored.Steps
	updated.CreatedAt = stored.CreatedAt
	updated.UpdatedAt = r.s.tick()
	r.s.workflows[wf.ID] = updated

	wf.CreatedAt = updated.CreatedAt
	wf.UpdatedAt = updated.UpdatedAt
	return nil
}

// ReplaceSteps swaps the step list of a workflow.
func (r *WorkflowRepository) ReplaceSteps(ctx context.Context, orgID, workflowID string, steps []*repository.ApprovalStep) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.workflows[workflowID]
	if !ok || stored.OrganizationID != orgID {
		return errors.NotFound("approval_workflow", workflowID)
	}
	replaced := make([]*repository.ApprovalStep, 0, len(steps))
	for _, st := range steps {
		st.ID = newID()
		st.WorkflowID = workflowID
		replaced = append(replaced, copyStep(st))
	}
	stored.Steps = replaced
	stored.UpdatedAt = r.s.tick()
	return nil
}

// Delete removes a workflow no approval references.
func (r *WorkflowRepository) Delete(ctx context.Context, orgID, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.workflows[id]
	if !ok || stored.OrganizationID != orgID {
		return errors.NotFound("approval_workflow", id)
	}
	for _, a := range r.s.approvals {
		if a.WorkflowID == id {
			return errors.New(errors.ErrCodeConflict, "workflow is referenced by existing approvals; deactivate it instead")
		}
	}
	delete(r.s.workflows, id)
	return nil
}

func (r *WorkflowRepository) clearDefaultLocked(orgID, keepID string) {
	for id, wf := range r.s.workflows {
		if wf.OrganizationID == orgID && id != keepID {
			wf.IsDefault = false
		}
	}
}
