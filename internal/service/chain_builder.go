package service

import (
	"context"
	"fmt"
	"time"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
	"github.com/pesio-ai/be-expense-approvals/pkg/logger"
)

// ResolvedStep is a workflow step bound to concrete approvers.
type ResolvedStep struct {
	Step              *repository.ApprovalStep
	ApproverIDs       []string
	PrimaryApproverID string
	// DelegatedFrom is the original primary approver when an active
	// delegation substituted the delegate.
	DelegatedFrom string
	DelegationID  string
}

// Chain is a workflow resolved for one submission.
type Chain struct {
	Workflow *repository.ApprovalWorkflow
	Steps    []*ResolvedStep
}

// ChainBuilder resolves workflow steps against the membership graph.
type ChainBuilder struct {
	members     MemberStore
	delegations DelegationStore
	log         *logger.Logger
	now         Clock
}

// NewChainBuilder creates a new ChainBuilder.
func NewChainBuilder(members MemberStore, delegations DelegationStore, log *logger.Logger) *ChainBuilder {
	return &ChainBuilder{
		members:     members,
		delegations: delegations,
		log:         log,
		now:         time.Now,
	}
}

// Build resolves every step of wf for sub. Any unresolvable step fails the
// whole build so nothing is persisted for a broken chain.
func (b *ChainBuilder) Build(ctx context.Context, wf *repository.ApprovalWorkflow, sub *repository.Submission) (*Chain, error) {
	if len(wf.Steps) == 0 {
		return nil, errors.New(errors.ErrCodeNoWorkflowFound,
			fmt.Sprintf("workflow %q has no steps", wf.Name))
	}
	chain := &Chain{Workflow: wf, Steps: make([]*ResolvedStep, 0, len(wf.Steps))}
	for _, step := range wf.Steps {
		rs, err := b.ResolveStep(ctx, step, sub)
		if err != nil {
			return nil, err
		}
		chain.Steps = append(chain.Steps, rs)
	}
	return chain, nil
}

// NewApproval builds the initial approval record for a resolved chain.
func (c *Chain) NewApproval(sub *repository.Submission, at time.Time) *repository.ExpenseApproval {
	a := &repository.ExpenseApproval{
		OrganizationID: sub.OrganizationID,
		WorkflowID:     c.Workflow.ID,
		SubmitterID:    sub.SubmitterID,
		SubmittedAt:    at,
	}
	switch sub.Kind {
	case repository.KindReport:
		id := sub.ID
		a.ReportID = &id
	default:
		id := sub.ID
		a.ExpenseID = &id
	}
	c.Reset(a)
	return a
}

// Reset points a at step 1 of the chain and refreshes its step snapshot.
func (c *Chain) Reset(a *repository.ExpenseApproval) {
	a.WorkflowID = c.Workflow.ID
	a.TotalSteps = len(c.Steps)
	a.ChainSteps = make([]*repository.ApprovalStep, 0, len(c.Steps))
	for _, rs := range c.Steps {
		a.ChainSteps = append(a.ChainSteps, rs.Step)
	}
	a.CompletedAt = nil
	EnterStep(a, 1, c.Steps[0])
}

// EnterStep moves a onto step with the resolved approvers.
func EnterStep(a *repository.ExpenseApproval, order int, rs *ResolvedStep) {
	a.CurrentStep = order
	primary := rs.PrimaryApproverID
	a.CurrentApproverID = &primary
	a.CurrentApproverIDs = append([]string(nil), rs.ApproverIDs...)
	if rs.Step.IsPaymentStep() {
		a.Status = repository.StatusAwaitingPayment
	} else {
		a.Status = repository.StatusPending
	}
}

// CheckManagerAssigned returns the active manager membership of userID, or a
// NO_MANAGER_ASSIGNED error the submitter can act on.
func (b *ChainBuilder) CheckManagerAssigned(ctx context.Context, orgID, userID string) (*repository.OrganizationMember, error) {
	member, err := b.members.GetByUserID(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if member.ManagerID == nil || *member.ManagerID == "" {
		return nil, errors.New(errors.ErrCodeNoManagerAssigned,
			"You do not have a manager assigned. Contact your administrator before submitting.")
	}
	manager, err := b.members.GetByUserID(ctx, orgID, *member.ManagerID)
	if err != nil {
		if errors.Is(err, errors.ErrCodeNotFound) {
			return nil, errors.New(errors.ErrCodeNoManagerAssigned,
				"Your assigned manager is not a member of this organization. Contact your administrator.")
		}
		return nil, err
	}
	if !manager.IsActive {
		return nil, errors.New(errors.ErrCodeNoManagerAssigned,
			"Your assigned manager is no longer active. Contact your administrator.")
	}
	return manager, nil
}

// ResolveStep binds one step to its approvers for sub's submitter.
func (b *ChainBuilder) ResolveStep(ctx context.Context, step *repository.ApprovalStep, sub *repository.Submission) (*ResolvedStep, error) {
	orgID := sub.OrganizationID
	var ids []string

	switch t := step.Target.(type) {
	case repository.ManagerTarget:
		manager, err := b.CheckManagerAssigned(ctx, orgID, sub.SubmitterID)
		if err != nil {
			return nil, err
		}
		ids = []string{manager.UserID}

	case repository.RoleTarget:
		members, err := b.members.ListActiveByRole(ctx, orgID, t.Role)
		if err != nil {
			return nil, err
		}
		ids = userIDsExcluding(members, sub.SubmitterID)
		if len(ids) == 0 {
			return nil, noEligibleApprover(step, fmt.Sprintf("no active member holds role %q", t.Role))
		}

	case repository.SpecificUserTarget:
		if err := b.requireActive(ctx, orgID, t.UserID, step); err != nil {
			return nil, err
		}
		ids = []string{t.UserID}

	case repository.SpecificManagerTarget:
		if err := b.requireActive(ctx, orgID, t.UserID, step); err != nil {
			return nil, err
		}
		ids = []string{t.UserID}

	case repository.MultipleUsersTarget:
		for _, id := range t.UserIDs {
			m, err := b.members.GetByUserID(ctx, orgID, id)
			if err != nil {
				if errors.Is(err, errors.ErrCodeNotFound) {
					continue
				}
				return nil, err
			}
			if m.IsActive {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return nil, noEligibleApprover(step, "none of the listed approvers is an active member")
		}

	case repository.PaymentTarget:
		members, err := b.members.ListActiveByRole(ctx, orgID, repository.RoleFinance)
		if err != nil {
			return nil, err
		}
		ids = userIDsExcluding(members, sub.SubmitterID)
		if len(ids) == 0 {
			return nil, noEligibleApprover(step, "no active finance member can process payment")
		}

	case repository.DepartmentOwnerTarget:
		resolved, err := b.resolveDepartmentOwner(ctx, step, sub)
		if err != nil {
			return nil, err
		}
		ids = resolved

	default:
		return nil, errors.New(errors.ErrCodeInternal,
			fmt.Sprintf("step %d has unsupported step type %q", step.StepOrder, step.Type()))
	}

	rs := &ResolvedStep{Step: step, ApproverIDs: ids, PrimaryApproverID: ids[0]}
	if err := b.applyDelegation(ctx, orgID, rs, sub.SubmitterID); err != nil {
		return nil, err
	}
	return rs, nil
}

// resolveDepartmentOwner returns the active managers of the submitter's
// department, falling back to the submitter's own manager.
func (b *ChainBuilder) resolveDepartmentOwner(ctx context.Context, step *repository.ApprovalStep, sub *repository.Submission) ([]string, error) {
	if sub.Department != nil && *sub.Department != "" {
		members, err := b.members.ListActiveByDepartment(ctx, sub.OrganizationID, *sub.Department)
		if err != nil {
			return nil, err
		}
		var owners []*repository.OrganizationMember
		for _, m := range members {
			if m.Role == repository.RoleManager {
				owners = append(owners, m)
			}
		}
		if ids := userIDsExcluding(owners, sub.SubmitterID); len(ids) > 0 {
			return ids, nil
		}
	}

	manager, err := b.CheckManagerAssigned(ctx, sub.OrganizationID, sub.SubmitterID)
	if err != nil {
		if errors.Is(err, errors.ErrCodeNoManagerAssigned) {
			return nil, noEligibleApprover(step, "the department has no active owner and the submitter has no manager")
		}
		return nil, err
	}
	return []string{manager.UserID}, nil
}

func (b *ChainBuilder) applyDelegation(ctx context.Context, orgID string, rs *ResolvedStep, submitterID string) error {
	d, err := b.delegations.FindActive(ctx, orgID, rs.PrimaryApproverID, b.now())
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to look up delegation")
	}
	if d == nil || d.DelegateID == submitterID {
		return nil
	}
	rs.DelegatedFrom = rs.PrimaryApproverID
	rs.DelegationID = d.ID
	rs.PrimaryApproverID = d.DelegateID
	if !contains(rs.ApproverIDs, d.DelegateID) {
		rs.ApproverIDs = append([]string{d.DelegateID}, rs.ApproverIDs...)
	}
	b.log.Debug().
		Str("delegator_id", d.DelegatorID).
		Str("delegate_id", d.DelegateID).
		Int("step", rs.Step.StepOrder).
		Msg("Approver substituted by delegation")
	return nil
}

func (b *ChainBuilder) requireActive(ctx context.Context, orgID, userID string, step *repository.ApprovalStep) error {
	m, err := b.members.GetByUserID(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, errors.ErrCodeNotFound) {
			return noEligibleApprover(step, fmt.Sprintf("approver %s is not a member of this organization", userID))
		}
		return err
	}
	if !m.IsActive {
		return noEligibleApprover(step, fmt.Sprintf("approver %s is no longer active", userID))
	}
	return nil
}

func userIDsExcluding(members []*repository.OrganizationMember, exclude string) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		if m.UserID != exclude {
			ids = append(ids, m.UserID)
		}
	}
	return ids
}

func noEligibleApprover(step *repository.ApprovalStep, reason string) error {
	name := step.Name
	if name == "" {
		name = string(step.Type())
	}
	return errors.New(errors.ErrCodeNoEligibleApprover,
		fmt.Sprintf("step %d (%s): %s", step.StepOrder, name, reason))
}
