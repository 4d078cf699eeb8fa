package service

import (
	"context"
	"sort"
	"strings"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
	"github.com/pesio-ai/be-expense-approvals/pkg/logger"
)

// WorkflowService administers approval workflows. Mutations require an
// active admin membership.
type WorkflowService struct {
	workflows WorkflowStore
	members   MemberStore
	log       *logger.Logger
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(workflows WorkflowStore, members MemberStore, log *logger.Logger) *WorkflowService {
	return &WorkflowService{workflows: workflows, members: members, log: log}
}

// CreateWorkflowRequest describes a new workflow. IsActive defaults to true.
type CreateWorkflowRequest struct {
	Name        string                        `json:"name"`
	Description *string                       `json:"description,omitempty"`
	Conditions  repository.WorkflowConditions `json:"conditions"`
	Priority    int                           `json:"priority"`
	IsDefault   bool                          `json:"is_default"`
	IsActive    *bool                         `json:"is_active,omitempty"`
	Steps       []*repository.ApprovalStep    `json:"steps"`
}

// UpdateWorkflowRequest carries the header fields to change. Nil fields are
// left untouched.
type UpdateWorkflowRequest struct {
	Name        *string                        `json:"name,omitempty"`
	Description *string                        `json:"description,omitempty"`
	Conditions  *repository.WorkflowConditions `json:"conditions,omitempty"`
	Priority    *int                           `json:"priority,omitempty"`
	IsDefault   *bool                          `json:"is_default,omitempty"`
	IsActive    *bool                          `json:"is_active,omitempty"`
}

// CreateWorkflow validates and stores a workflow with its steps.
func (s *WorkflowService) CreateWorkflow(ctx context.Context, orgID, actorID string, req *CreateWorkflowRequest) (*repository.ApprovalWorkflow, error) {
	if err := s.requireAdmin(ctx, orgID, actorID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, errors.InvalidInput("name", "workflow name is required")
	}
	if err := validateConditions(req.Conditions); err != nil {
		return nil, err
	}
	steps, err := normalizeSteps(req.Steps)
	if err != nil {
		return nil, err
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	createdBy := actorID
	wf := &repository.ApprovalWorkflow{
		OrganizationID: orgID,
		Name:           name,
		Description:    req.Description,
		Conditions:     req.Conditions,
		Priority:       req.Priority,
		IsDefault:      req.IsDefault,
		IsActive:       active,
		CreatedBy:      &createdBy,
		Steps:          steps,
	}
	if err := s.workflows.Create(ctx, wf); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("workflow_id", wf.ID).
		Str("organization_id", orgID).
		Int("steps", len(steps)).
		Bool("is_default", wf.IsDefault).
		Msg("Workflow created")
	return wf, nil
}

// GetWorkflow returns a workflow with its steps.
func (s *WorkflowService) GetWorkflow(ctx context.Context, orgID, id string) (*repository.ApprovalWorkflow, error) {
	if orgID == "" {
		return nil, errNoOrganization()
	}
	return s.workflows.GetByID(ctx, orgID, id)
}

// ListWorkflows returns workflows in selection order.
func (s *WorkflowService) ListWorkflows(ctx context.Context, orgID string, activeOnly bool) ([]*repository.ApprovalWorkflow, error) {
	if orgID == "" {
		return nil, errNoOrganization()
	}
	return s.workflows.List(ctx, orgID, activeOnly)
}

// UpdateWorkflow changes header fields. Steps are replaced separately.
func (s *WorkflowService) UpdateWorkflow(ctx context.Context, orgID, actorID, id string, req *UpdateWorkflowRequest) (*repository.ApprovalWorkflow, error) {
	if err := s.requireAdmin(ctx, orgID, actorID); err != nil {
		return nil, err
	}
	wf, err := s.workflows.GetByID(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, errors.InvalidInput("name", "workflow name is required")
		}
		wf.Name = name
	}
	if req.Description != nil {
		wf.Description = req.Description
	}
	if req.Conditions != nil {
		if err := validateConditions(*req.Conditions); err != nil {
			return nil, err
		}
		wf.Conditions = *req.Conditions
	}
	if req.Priority != nil {
		wf.Priority = *req.Priority
	}
	if req.IsDefault != nil {
		wf.IsDefault = *req.IsDefault
	}
	if req.IsActive != nil {
		wf.IsActive = *req.IsActive
	}

	if err := s.workflows.Update(ctx, wf); err != nil {
		return nil, err
	}
	s.log.Info().Str("workflow_id", wf.ID).Msg("Workflow updated")
	return wf, nil
}

// UpdateWorkflowSteps validates and atomically replaces the whole step list.
// Approvals already in flight keep their own step snapshot.
func (s *WorkflowService) UpdateWorkflowSteps(ctx context.Context, orgID, actorID, id string, steps []*repository.ApprovalStep) (*repository.ApprovalWorkflow, error) {
	if err := s.requireAdmin(ctx, orgID, actorID); err != nil {
		return nil, err
	}
	normalized, err := normalizeSteps(steps)
	if err != nil {
		return nil, err
	}
	if _, err := s.workflows.GetByID(ctx, orgID, id); err != nil {
		return nil, err
	}
	if err := s.workflows.ReplaceSteps(ctx, orgID, id, normalized); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("workflow_id", id).
		Int("steps", len(normalized)).
		Msg("Workflow steps replaced")
	return s.workflows.GetByID(ctx, orgID, id)
}

// SetWorkflowActive enables or disables a workflow.
func (s *WorkflowService) SetWorkflowActive(ctx context.Context, orgID, actorID, id string, active bool) (*repository.ApprovalWorkflow, error) {
	return s.UpdateWorkflow(ctx, orgID, actorID, id, &UpdateWorkflowRequest{IsActive: &active})
}

// DeleteWorkflow removes a workflow no approval references.
func (s *WorkflowService) DeleteWorkflow(ctx context.Context, orgID, actorID, id string) error {
	if err := s.requireAdmin(ctx, orgID, actorID); err != nil {
		return err
	}
	if err := s.workflows.Delete(ctx, orgID, id); err != nil {
		return err
	}
	s.log.Info().Str("workflow_id", id).Msg("Workflow deleted")
	return nil
}

func (s *WorkflowService) requireAdmin(ctx context.Context, orgID, actorID string) error {
	if err := requireContext(orgID, actorID); err != nil {
		return err
	}
	m, err := s.members.GetByUserID(ctx, orgID, actorID)
	if err != nil && !errors.Is(err, errors.ErrCodeNotFound) {
		return err
	}
	if m == nil || !m.IsActive || m.Role != repository.RoleAdmin {
		return errors.New(errors.ErrCodeForbidden, "only admins can manage approval workflows")
	}
	return nil
}

func validateConditions(c repository.WorkflowConditions) error {
	if c.AmountMin != nil && c.AmountMin.IsNegative() {
		return errors.InvalidInput("conditions.amount_min", "amount_min must not be negative")
	}
	if c.AmountMax != nil && c.AmountMax.IsNegative() {
		return errors.InvalidInput("conditions.amount_max", "amount_max must not be negative")
	}
	if c.AmountMin != nil && c.AmountMax != nil && c.AmountMin.GreaterThan(*c.AmountMax) {
		return errors.InvalidInput("conditions.amount_max", "amount_max must be greater than or equal to amount_min")
	}
	return nil
}

// normalizeSteps orders steps by step_order and validates the list.
func normalizeSteps(steps []*repository.ApprovalStep) ([]*repository.ApprovalStep, error) {
	out := make([]*repository.ApprovalStep, 0, len(steps))
	for _, st := range steps {
		if st != nil {
			out = append(out, st)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	if err := repository.ValidateSteps(out); err != nil {
		return nil, errors.InvalidInput("steps", err.Error())
	}
	for _, st := range out {
		st.Name = strings.TrimSpace(st.Name)
	}
	return out, nil
}
