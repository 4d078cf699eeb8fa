package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
	"github.com/pesio-ai/be-expense-approvals/pkg/logger"
)

// Notification event types, published as notifications.expenses.<type>.
const (
	EventApprovalRequired = "approval_required"
	EventApproved         = "approved"
	EventRejected         = "rejected"
	EventAwaitingPayment  = "awaiting_payment"
	EventPaid             = "paid"
	EventCancelled        = "cancelled"
)

// ApprovalService is the approval state machine. Every mutation is a
// conditional transition against the snapshot it was computed from; a lost
// race surfaces as CONFLICT and is never retried here.
type ApprovalService struct {
	approvals   ApprovalStore
	submissions SubmissionStore
	members     MemberStore
	delegations DelegationStore
	workflows   WorkflowStore
	selector    *WorkflowSelector
	builder     *ChainBuilder
	publisher   EventPublisher
	log         *logger.Logger
	now         Clock
}

// NewApprovalService creates a new ApprovalService. publisher may be nil.
func NewApprovalService(
	approvals ApprovalStore,
	submissions SubmissionStore,
	members MemberStore,
	delegations DelegationStore,
	workflows WorkflowStore,
	selector *WorkflowSelector,
	builder *ChainBuilder,
	publisher EventPublisher,
	log *logger.Logger,
) *ApprovalService {
	return &ApprovalService{
		approvals:   approvals,
		submissions: submissions,
		members:     members,
		delegations: delegations,
		workflows:   workflows,
		selector:    selector,
		builder:     builder,
		publisher:   publisher,
		log:         log,
		now:         time.Now,
	}
}

// ApprovalDetail is an approval with its audit trail, oldest action first.
type ApprovalDetail struct {
	Approval *repository.ExpenseApproval `json:"approval"`
	Actions  []*repository.ApprovalAction `json:"actions"`
}

// BatchResult is the outcome of one item of a batch operation.
type BatchResult struct {
	ApprovalID string                    `json:"approval_id"`
	Status     repository.ApprovalStatus `json:"status,omitempty"`
	Error      string                    `json:"error,omitempty"`
	Code       errors.ErrorCode          `json:"code,omitempty"`
}

// ── Submission ────────────────────────────────────────────────────────────────

// SubmitExpense starts the approval chain of a draft expense.
func (s *ApprovalService) SubmitExpense(ctx context.Context, orgID, expenseID, submitterID string) (*repository.ExpenseApproval, error) {
	return s.submit(ctx, orgID, repository.KindExpense, expenseID, submitterID)
}

// SubmitReport starts the approval chain of a draft expense report.
func (s *ApprovalService) SubmitReport(ctx context.Context, orgID, reportID, submitterID string) (*repository.ExpenseApproval, error) {
	return s.submit(ctx, orgID, repository.KindReport, reportID, submitterID)
}

func (s *ApprovalService) submit(ctx context.Context, orgID string, kind repository.SubmissionKind, id, submitterID string) (*repository.ExpenseApproval, error) {
	if err := requireContext(orgID, submitterID); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, errors.InvalidInput(string(kind)+"_id", fmt.Sprintf("%s_id is required", kind))
	}

	sub, err := s.submissions.Get(ctx, orgID, kind, id)
	if err != nil {
		return nil, err
	}
	if sub.SubmitterID != submitterID {
		return nil, errors.New(errors.ErrCodeForbidden, fmt.Sprintf("only the owner can submit this %s", kind))
	}
	if !sub.Amount.IsPositive() {
		return nil, errors.InvalidInput("amount", fmt.Sprintf("%s amount must be greater than zero", kind))
	}

	existing, err := s.approvals.GetBySubmission(ctx, orgID, kind, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to look up existing approval")
	}
	if existing != nil && existing.Status != repository.StatusCancelled {
		return nil, errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("%s %s already has an approval in status %s", kind, id, existing.Status))
	}
	if sub.Status != repository.SubmissionDraft {
		return nil, errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("only draft submissions can be submitted (status: %s)", sub.Status))
	}

	wf, err := s.selector.Select(ctx, sub)
	if err != nil {
		return nil, err
	}
	chain, err := s.builder.Build(ctx, wf, sub)
	if err != nil {
		return nil, err
	}

	now := s.now()
	actions := []*repository.ApprovalAction{{
		Action:     repository.ActionSubmitted,
		ActorID:    submitterID,
		StepNumber: 1,
		Metadata:   map[string]interface{}{"workflow_id": wf.ID, "workflow_name": wf.Name},
	}}
	actions = append(actions, delegationActions(chain.Steps[0], 1)...)

	var a *repository.ExpenseApproval
	if existing == nil {
		a = chain.NewApproval(sub, now)
		if err := s.approvals.Create(ctx, a, actions); err != nil {
			return nil, err
		}
	} else {
		// A cancelled approval is restarted in place.
		a = existing
		guard := repository.GuardOf(a)
		a.SubmittedAt = now
		chain.Reset(a)
		actions[0].Metadata["restarted"] = true
		if err := s.approvals.Transition(ctx, a, guard, actions); err != nil {
			return nil, err
		}
	}

	s.log.Info().
		Str("approval_id", a.ID).
		Str("submission_id", id).
		Str("kind", string(kind)).
		Str("workflow_id", wf.ID).
		Int("total_steps", a.TotalSteps).
		Msg("Approval chain created")

	s.announceStep(ctx, a, submitterID)
	return a, nil
}

// CheckManagerAssignment verifies that userID has an active manager before
// they submit anything routed through a manager step.
func (s *ApprovalService) CheckManagerAssignment(ctx context.Context, orgID, userID string) (*repository.OrganizationMember, error) {
	if err := requireContext(orgID, userID); err != nil {
		return nil, err
	}
	return s.builder.CheckManagerAssigned(ctx, orgID, userID)
}

// ── Transitions ───────────────────────────────────────────────────────────────

// Approve completes the current step. Approving a non-final step advances the
// chain and re-resolves its approvers; entering the payment step moves the
// approval to awaiting_payment. Approving the final step approves it.
func (s *ApprovalService) Approve(ctx context.Context, orgID, approvalID, approverID string, comment *string) (*repository.ExpenseApproval, error) {
	if err := requireContext(orgID, approverID); err != nil {
		return nil, err
	}
	a, err := s.approvals.GetByID(ctx, orgID, approvalID)
	if err != nil {
		return nil, err
	}
	if a.Status != repository.StatusPending {
		return nil, errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("approval is not pending (status: %s)", a.Status))
	}
	onBehalfOf, err := s.authorize(ctx, a, approverID)
	if err != nil {
		return nil, err
	}

	guard := repository.GuardOf(a)
	completed := a.CurrentStep
	approved := &repository.ApprovalAction{
		Action:     repository.ActionApproved,
		ActorID:    approverID,
		StepNumber: completed,
		Comment:    trimmed(comment),
	}
	if onBehalfOf != "" {
		approved.Metadata = map[string]interface{}{"on_behalf_of": onBehalfOf}
	}
	actions := []*repository.ApprovalAction{approved}

	if completed < a.TotalSteps {
		next := a.StepAt(completed + 1)
		if next == nil {
			return nil, errors.New(errors.ErrCodeInternal,
				fmt.Sprintf("approval %s has no snapshot for step %d", a.ID, completed+1))
		}
		sub, err := s.submissionOf(ctx, a)
		if err != nil {
			return nil, err
		}
		rs, err := s.builder.ResolveStep(ctx, next, sub)
		if err != nil {
			return nil, err
		}
		EnterStep(a, completed+1, rs)
		actions = append(actions, delegationActions(rs, completed+1)...)
	} else {
		now := s.now()
		a.Status = repository.StatusApproved
		a.CompletedAt = &now
		a.CurrentApproverID = nil
		a.CurrentApproverIDs = nil
	}

	if err := s.approvals.Transition(ctx, a, guard, actions); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("approval_id", a.ID).
		Str("approver_id", approverID).
		Int("step", completed).
		Str("status", string(a.Status)).
		Msg("Approval step approved")

	if a.Status == repository.StatusApproved {
		s.publish(ctx, EventApproved, a, approverID, []string{a.SubmitterID}, nil)
	} else {
		s.announceStep(ctx, a, approverID)
	}
	return a, nil
}

// Reject ends the chain. A reason is required.
func (s *ApprovalService) Reject(ctx context.Context, orgID, approvalID, approverID, reason string, comment *string) (*repository.ExpenseApproval, error) {
	if err := requireContext(orgID, approverID); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.InvalidInput("rejection_reason", "a rejection reason is required")
	}
	a, err := s.approvals.GetByID(ctx, orgID, approvalID)
	if err != nil {
		return nil, err
	}
	if a.Status != repository.StatusPending {
		return nil, errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("approval is not pending (status: %s)", a.Status))
	}
	onBehalfOf, err := s.authorize(ctx, a, approverID)
	if err != nil {
		return nil, err
	}

	guard := repository.GuardOf(a)
	now := s.now()
	a.Status = repository.StatusRejected
	a.CompletedAt = &now
	a.CurrentApproverID = nil
	a.CurrentApproverIDs = nil

	action := &repository.ApprovalAction{
		Action:          repository.ActionRejected,
		ActorID:         approverID,
		StepNumber:      a.CurrentStep,
		Comment:         trimmed(comment),
		RejectionReason: &reason,
	}
	if onBehalfOf != "" {
		action.Metadata = map[string]interface{}{"on_behalf_of": onBehalfOf}
	}
	if err := s.approvals.Transition(ctx, a, guard, []*repository.ApprovalAction{action}); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("approval_id", a.ID).
		Str("approver_id", approverID).
		Int("step", a.CurrentStep).
		Msg("Approval rejected")

	s.publish(ctx, EventRejected, a, approverID, []string{a.SubmitterID},
		map[string]interface{}{"rejection_reason": reason})
	return a, nil
}

// ProcessPayment marks an awaiting_payment approval as paid. Only active
// finance members other than the submitter may pay.
func (s *ApprovalService) ProcessPayment(ctx context.Context, orgID, approvalID, actorID string, comment *string) (*repository.ExpenseApproval, error) {
	if err := requireContext(orgID, actorID); err != nil {
		return nil, err
	}
	a, err := s.approvals.GetByID(ctx, orgID, approvalID)
	if err != nil {
		return nil, err
	}
	if a.Status != repository.StatusAwaitingPayment {
		return nil, errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("approval is not awaiting payment (status: %s)", a.Status))
	}
	if _, err := activeMember(ctx, s.members, orgID, actorID,
		"only finance members can process payments", repository.RoleFinance); err != nil {
		return nil, err
	}
	if actorID == a.SubmitterID {
		return nil, errors.New(errors.ErrCodeForbidden, "submitters cannot process payment of their own submission")
	}

	guard := repository.GuardOf(a)
	now := s.now()
	a.Status = repository.StatusPaid
	a.CompletedAt = &now
	a.CurrentApproverID = nil
	a.CurrentApproverIDs = nil

	action := &repository.ApprovalAction{
		Action:     repository.ActionPaid,
		ActorID:    actorID,
		StepNumber: a.CurrentStep,
		Comment:    trimmed(comment),
	}
	if err := s.approvals.Transition(ctx, a, guard, []*repository.ApprovalAction{action}); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("approval_id", a.ID).
		Str("actor_id", actorID).
		Msg("Payment processed")

	s.publish(ctx, EventPaid, a, actorID, []string{a.SubmitterID}, nil)
	return a, nil
}

// ResubmitReport restarts a rejected report's approval at step 1.
func (s *ApprovalService) ResubmitReport(ctx context.Context, orgID, reportID, submitterID string) (*repository.ExpenseApproval, error) {
	return s.resubmit(ctx, orgID, repository.KindReport, reportID, submitterID)
}

// ResubmitExpense restarts a rejected expense's approval at step 1.
func (s *ApprovalService) ResubmitExpense(ctx context.Context, orgID, expenseID, submitterID string) (*repository.ExpenseApproval, error) {
	return s.resubmit(ctx, orgID, repository.KindExpense, expenseID, submitterID)
}

// resubmit re-resolves the original workflow and resets the same approval row.
func (s *ApprovalService) resubmit(ctx context.Context, orgID string, kind repository.SubmissionKind, id, submitterID string) (*repository.ExpenseApproval, error) {
	if err := requireContext(orgID, submitterID); err != nil {
		return nil, err
	}
	a, err := s.approvals.GetBySubmission(ctx, orgID, kind, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to look up approval")
	}
	if a == nil {
		return nil, errors.NotFound("expense_approval", id)
	}
	if a.SubmitterID != submitterID {
		return nil, errors.New(errors.ErrCodeForbidden, "only the submitter can resubmit")
	}
	if a.Status != repository.StatusRejected {
		return nil, errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("only rejected submissions can be resubmitted (status: %s)", a.Status))
	}

	sub, err := s.submissions.Get(ctx, orgID, kind, id)
	if err != nil {
		return nil, err
	}
	wf, err := s.workflows.GetByID(ctx, orgID, a.WorkflowID)
	if err != nil {
		return nil, err
	}
	chain, err := s.builder.Build(ctx, wf, sub)
	if err != nil {
		return nil, err
	}

	guard := repository.GuardOf(a)
	a.SubmittedAt = s.now()
	chain.Reset(a)

	actions := []*repository.ApprovalAction{{
		Action:     repository.ActionSubmitted,
		ActorID:    submitterID,
		StepNumber: 1,
		Metadata:   map[string]interface{}{"resubmission": true},
	}}
	actions = append(actions, delegationActions(chain.Steps[0], 1)...)
	if err := s.approvals.Transition(ctx, a, guard, actions); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("approval_id", a.ID).
		Str("submission_id", id).
		Msg("Submission resubmitted")

	s.announceStep(ctx, a, submitterID)
	return a, nil
}

// Cancel lets the submitter withdraw a pending approval. The submission
// returns to draft and may be submitted again.
func (s *ApprovalService) Cancel(ctx context.Context, orgID, approvalID, submitterID string, comment *string) (*repository.ExpenseApproval, error) {
	if err := requireContext(orgID, submitterID); err != nil {
		return nil, err
	}
	a, err := s.approvals.GetByID(ctx, orgID, approvalID)
	if err != nil {
		return nil, err
	}
	if a.SubmitterID != submitterID {
		return nil, errors.New(errors.ErrCodeForbidden, "only the submitter can cancel")
	}
	if a.Status != repository.StatusPending {
		return nil, errors.New(errors.ErrCodeConflict,
			fmt.Sprintf("only pending approvals can be cancelled (status: %s)", a.Status))
	}

	notify := append([]string(nil), a.CurrentApproverIDs...)
	guard := repository.GuardOf(a)
	now := s.now()
	a.Status = repository.StatusCancelled
	a.CompletedAt = &now
	a.CurrentApproverID = nil
	a.CurrentApproverIDs = nil

	action := &repository.ApprovalAction{
		Action:     repository.ActionCancelled,
		ActorID:    submitterID,
		StepNumber: a.CurrentStep,
		Comment:    trimmed(comment),
	}
	if err := s.approvals.Transition(ctx, a, guard, []*repository.ApprovalAction{action}); err != nil {
		return nil, err
	}

	s.log.Info().Str("approval_id", a.ID).Msg("Approval cancelled")
	s.publish(ctx, EventCancelled, a, submitterID, notify, nil)
	return a, nil
}

// Comment appends a comment to the audit trail. The submitter, current
// approvers and anyone who already acted on the approval may comment.
func (s *ApprovalService) Comment(ctx context.Context, orgID, approvalID, actorID, comment string) (*repository.ApprovalAction, error) {
	if err := requireContext(orgID, actorID); err != nil {
		return nil, err
	}
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return nil, errors.InvalidInput("comment", "comment is required")
	}
	a, err := s.approvals.GetByID(ctx, orgID, approvalID)
	if err != nil {
		return nil, err
	}

	allowed := a.SubmitterID == actorID || a.IsEligible(actorID)
	if !allowed {
		history, err := s.approvals.ListActions(ctx, orgID, a.ID)
		if err != nil {
			return nil, err
		}
		for _, h := range history {
			if h.ActorID == actorID {
				allowed = true
				break
			}
		}
	}
	if !allowed {
		if _, err := s.authorize(ctx, a, actorID); err != nil {
			return nil, errors.New(errors.ErrCodeForbidden, "only participants of this approval can comment")
		}
	}

	action := &repository.ApprovalAction{
		ApprovalID:     a.ID,
		OrganizationID: orgID,
		Action:         repository.ActionCommented,
		ActorID:        actorID,
		StepNumber:     a.CurrentStep,
		Comment:        &comment,
	}
	if err := s.approvals.AppendAction(ctx, action); err != nil {
		return nil, err
	}
	return action, nil
}

// BatchApprove approves each approval in order. A failing item is reported in
// its result and does not stop the batch; only context cancellation does.
func (s *ApprovalService) BatchApprove(ctx context.Context, orgID string, approvalIDs []string, approverID string, comment *string) ([]BatchResult, error) {
	if err := requireContext(orgID, approverID); err != nil {
		return nil, err
	}
	results := make([]BatchResult, 0, len(approvalIDs))
	for _, id := range approvalIDs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		a, err := s.Approve(ctx, orgID, id, approverID, comment)
		results = append(results, batchResult(id, a, err))
	}
	return results, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetApproval returns an approval with its history.
func (s *ApprovalService) GetApproval(ctx context.Context, orgID, approvalID string) (*ApprovalDetail, error) {
	if orgID == "" {
		return nil, errNoOrganization()
	}
	a, err := s.approvals.GetByID(ctx, orgID, approvalID)
	if err != nil {
		return nil, err
	}
	actions, err := s.approvals.ListActions(ctx, orgID, a.ID)
	if err != nil {
		return nil, err
	}
	return &ApprovalDetail{Approval: a, Actions: actions}, nil
}

// GetApprovalBySubmission returns the approval of an expense or report.
func (s *ApprovalService) GetApprovalBySubmission(ctx context.Context, orgID string, kind repository.SubmissionKind, id string) (*repository.ExpenseApproval, error) {
	if orgID == "" {
		return nil, errNoOrganization()
	}
	a, err := s.approvals.GetBySubmission(ctx, orgID, kind, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, errors.NotFound("expense_approval", id)
	}
	return a, nil
}

// GetHistory returns the audit trail of an approval, oldest first.
func (s *ApprovalService) GetHistory(ctx context.Context, orgID, approvalID string) ([]*repository.ApprovalAction, error) {
	detail, err := s.GetApproval(ctx, orgID, approvalID)
	if err != nil {
		return nil, err
	}
	return detail.Actions, nil
}

// ListPendingForApprover returns the pending approvals userID can act on,
// including those of delegators who handed their authority to userID.
func (s *ApprovalService) ListPendingForApprover(ctx context.Context, orgID, userID string) ([]*repository.ExpenseApproval, error) {
	if err := requireContext(orgID, userID); err != nil {
		return nil, err
	}
	actors := []string{userID}
	delegations, err := s.delegations.ListActiveForDelegate(ctx, orgID, userID, s.now())
	if err != nil {
		return nil, err
	}
	for _, d := range delegations {
		actors = append(actors, d.DelegatorID)
	}

	seen := make(map[string]bool)
	var out []*repository.ExpenseApproval
	for _, actor := range actors {
		list, err := s.approvals.ListActionable(ctx, orgID, actor)
		if err != nil {
			return nil, err
		}
		for _, a := range list {
			if a.Status != repository.StatusPending || seen[a.ID] {
				continue
			}
			seen[a.ID] = true
			out = append(out, a)
		}
	}
	return out, nil
}

// GetStats returns the dashboard counters for approverID. Only admins and
// finance members may read another approver's counters.
func (s *ApprovalService) GetStats(ctx context.Context, orgID, actorID, approverID string) (*repository.ApprovalStats, error) {
	if err := requireContext(orgID, actorID); err != nil {
		return nil, err
	}
	if approverID == "" {
		approverID = actorID
	}
	if approverID != actorID {
		if _, err := activeMember(ctx, s.members, orgID, actorID,
			"only admins and finance members can view another approver's stats",
			repository.RoleAdmin, repository.RoleFinance); err != nil {
			return nil, err
		}
	}
	return s.approvals.Stats(ctx, orgID, approverID)
}

// RequireMember returns the active membership of userID in orgID. Callers
// outside the organization get FORBIDDEN.
func (s *ApprovalService) RequireMember(ctx context.Context, orgID, userID string) (*repository.OrganizationMember, error) {
	if err := requireContext(orgID, userID); err != nil {
		return nil, err
	}
	return activeMember(ctx, s.members, orgID, userID, "not an active member of this organization")
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// authorize checks that userID may act on the current step, either directly
// or as the active delegate of a listed approver. The submitter never may.
// It returns the delegator
// when acting on someone's behalf.
func (s *ApprovalService) authorize(ctx context.Context, a *repository.ExpenseApproval, userID string) (string, error) {
	if userID == a.SubmitterID {
		return "", errors.New(errors.ErrCodeForbidden, "submitters cannot approve their own submission")
	}
	if a.IsEligible(userID) {
		return "", nil
	}
	delegations, err := s.delegations.ListActiveForDelegate(ctx, a.OrganizationID, userID, s.now())
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeInternal, "failed to load delegations")
	}
	for _, d := range delegations {
		if a.IsEligible(d.DelegatorID) {
			return d.DelegatorID, nil
		}
	}
	return "", errors.New(errors.ErrCodeForbidden,
		fmt.Sprintf("user is not an approver for step %d of this approval", a.CurrentStep))
}

func (s *ApprovalService) submissionOf(ctx context.Context, a *repository.ExpenseApproval) (*repository.Submission, error) {
	kind, id := a.SubmissionRef()
	if kind == "" {
		return nil, errors.New(errors.ErrCodeInternal, fmt.Sprintf("approval %s references no submission", a.ID))
	}
	return s.submissions.Get(ctx, a.OrganizationID, kind, id)
}

// announceStep notifies whoever must act next.
func (s *ApprovalService) announceStep(ctx context.Context, a *repository.ExpenseApproval, actorID string) {
	switch a.Status {
	case repository.StatusAwaitingPayment:
		s.publish(ctx, EventAwaitingPayment, a, actorID, append([]string{a.SubmitterID}, a.CurrentApproverIDs...), nil)
	case repository.StatusPending:
		s.publish(ctx, EventApprovalRequired, a, actorID, a.CurrentApproverIDs, nil)
	}
}

func (s *ApprovalService) publish(ctx context.Context, eventType string, a *repository.ExpenseApproval, actorID string, recipients []string, payload map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	s.publisher.PublishApprovalEvent(ctx, eventType, a, actorID, recipients, payload)
}

// delegationActions records the substitution of a delegated approver.
func delegationActions(rs *ResolvedStep, step int) []*repository.ApprovalAction {
	if rs.DelegatedFrom == "" {
		return nil
	}
	return []*repository.ApprovalAction{{
		Action:     repository.ActionDelegated,
		ActorID:    rs.DelegatedFrom,
		StepNumber: step,
		Metadata: map[string]interface{}{
			"delegate_id":   rs.PrimaryApproverID,
			"delegation_id": rs.DelegationID,
		},
	}}
}

func batchResult(id string, a *repository.ExpenseApproval, err error) BatchResult {
	if err != nil {
		return BatchResult{ApprovalID: id, Error: err.Error(), Code: errors.CodeOf(err)}
	}
	return BatchResult{ApprovalID: id, Status: a.Status}
}

// activeMember loads userID's membership and fails with FORBIDDEN (carrying
// denied) unless it is active and, when roles are given, holds one of them.
func activeMember(ctx context.Context, members MemberStore, orgID, userID, denied string, roles ...string) (*repository.OrganizationMember, error) {
	m, err := members.GetByUserID(ctx, orgID, userID)
	if err != nil && !errors.Is(err, errors.ErrCodeNotFound) {
		return nil, err
	}
	if m == nil || !m.IsActive || (len(roles) > 0 && !slices.Contains(roles, m.Role)) {
		return nil, errors.New(errors.ErrCodeForbidden, denied)
	}
	return m, nil
}

func requireContext(orgID, userID string) error {
	if orgID == "" {
		return errNoOrganization()
	}
	if userID == "" {
		return errors.New(errors.ErrCodeNotAuthenticated, "authentication required")
	}
	return nil
}

func errNoOrganization() error {
	return errors.New(errors.ErrCodeNoOrganizationSelected, "select an organization first")
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}
