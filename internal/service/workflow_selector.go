package service

import (
	"context"
	"fmt"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
	"github.com/pesio-ai/be-expense-approvals/pkg/logger"
)

// WorkflowSelector picks the workflow that governs a submission.
type WorkflowSelector struct {
	workflows WorkflowStore
	log       *logger.Logger
}

// NewWorkflowSelector creates a new WorkflowSelector.
func NewWorkflowSelector(workflows WorkflowStore, log *logger.Logger) *WorkflowSelector {
	return &WorkflowSelector{workflows: workflows, log: log}
}

// Select returns the highest-priority active workflow whose conditions match
// sub, falling back to the organization's active default workflow. Workflows
// sharing a priority are tried oldest first.
func (s *WorkflowSelector) Select(ctx context.Context, sub *repository.Submission) (*repository.ApprovalWorkflow, error) {
	workflows, err := s.workflows.List(ctx, sub.OrganizationID, true)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to load workflows")
	}

	var fallback *repository.ApprovalWorkflow
	for _, wf := range workflows {
		if len(wf.Steps) == 0 {
			continue
		}
		if MatchesConditions(wf.Conditions, sub) {
			s.log.Debug().
				Str("workflow_id", wf.ID).
				Str("submission_id", sub.ID).
				Int("priority", wf.Priority).
				Msg("Workflow matched")
			return wf, nil
		}
		if wf.IsDefault && fallback == nil {
			fallback = wf
		}
	}
	if fallback != nil {
		return fallback, nil
	}

	return nil, errors.New(errors.ErrCodeNoWorkflowFound,
		fmt.Sprintf("no approval workflow applies to %s %s; ask an administrator to configure a default workflow", sub.Kind, sub.ID))
}

// MatchesConditions reports whether every present condition holds for sub.
// Amount bounds are inclusive; empty lists are wildcards.
func MatchesConditions(c repository.WorkflowConditions, sub *repository.Submission) bool {
	if c.AmountMin != nil && sub.Amount.LessThan(*c.AmountMin) {
		return false
	}
	if c.AmountMax != nil && sub.Amount.GreaterThan(*c.AmountMax) {
		return false
	}
	if len(c.Categories) > 0 && (sub.Category == nil || !contains(c.Categories, *sub.Category)) {
		return false
	}
	if len(c.Departments) > 0 && (sub.Department == nil || !contains(c.Departments, *sub.Department)) {
		return false
	}
	if len(c.SubmitterIDs) > 0 && !contains(c.SubmitterIDs, sub.SubmitterID) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
