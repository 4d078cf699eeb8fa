package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

// ApprovalRepository is the in-memory approval + audit store.
type ApprovalRepository struct {
	s *Store
}

func (r *ApprovalRepository) Create(ctx context.Context, a *repository.ExpenseApproval, actions []*repository.ApprovalAction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	kind, subID := a.SubmissionRef()
	if kind == "" {
		return errors.InvalidInput("submission", "approval must reference an expense or a report")
	}
	for _, existing := range r.s.approvals {
		if k, id := existing.SubmissionRef(); k == kind && id == subID {
			return errors.New(errors.ErrCodeConflict, fmt.Sprintf("%s %s already has an approval", kind, subID))
		}
	}

	a.ID = newID()
	now := r.s.tick()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.SubmittedAt.IsZero() {
		a.SubmittedAt = now
	}
	r.s.approvals[a.ID] = copyApproval(a)
	r.s.setStatusLocked(a)
	r.appendLocked(a.ID, a.OrganizationID, actions)
	return nil
}

func (r *ApprovalRepository) GetByID(ctx context.Context, orgID, id string) (*repository.ExpenseApproval, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.approvals[id]
	if !ok || a.OrganizationID != orgID {
		return nil, errors.NotFound("expense_approval", id)
	}
	return copyApproval(a), nil
}

func (r *ApprovalRepository) GetBySubmission(ctx context.Context, orgID string, kind repository.SubmissionKind, submissionID string) (*repository.ExpenseApproval, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	for _, a := range r.s.approvals {
		if a.OrganizationID != orgID {
			continue
		}
		if k, id := a.SubmissionRef(); k == kind && id == submissionID {
			return copyApproval(a), nil
		}
	}
	return nil, nil
}

func (r *ApprovalRepository) Transition(ctx context.Context, a *repository.ExpenseApproval, guard repository.TransitionGuard, actions []*repository.ApprovalAction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.approvals[a.ID]
	if !ok || stored.OrganizationID != a.OrganizationID {
		return errors.NotFound("expense_approval", a.ID)
	}
	if stored.Status != guard.Status || stored.CurrentStep != guard.CurrentStep {
		return errors.New(errors.ErrCodeConflict, "approval was modified concurrently; reload and retry")
	}

	a.UpdatedAt = r.s.tick()
	updated := copyApproval(a)
	updated.CreatedAt = stored.CreatedAt
	r.s.approvals[a.ID] = updated
	r.s.setStatusLocked(a)
	r.appendLocked(a.ID, a.OrganizationID, actions)
	return nil
}

func (r *ApprovalRepository) AppendAction(ctx context.Context, action *repository.ApprovalAction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.approvals[action.ApprovalID]; !ok {
		return errors.NotFound("expense_approval", action.ApprovalID)
	}
	r.appendLocked(action.ApprovalID, action.OrganizationID, []*repository.ApprovalAction{action})
	return nil
}

func (r *ApprovalRepository) appendLocked(approvalID, orgID string, actions []*repository.ApprovalAction) {
	for _, action := range actions {
		action.ID = newID()
		action.ApprovalID = approvalID
		action.OrganizationID = orgID
		action.CreatedAt = r.s.tick()
		r.s.actions = append(r.s.actions, copyAction(action))
	}
}

func (r *ApprovalRepository) ListActions(ctx context.Context, orgID, approvalID string) ([]*repository.ApprovalAction, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*repository.ApprovalAction
	for _, action := range r.s.actions {
		if action.ApprovalID == approvalID && action.OrganizationID == orgID {
			out = append(out, copyAction(action))
		}
	}
	return out, nil
}

func (r *ApprovalRepository) ListByStatus(ctx context.Context, orgID string, status repository.ApprovalStatus) ([]*repository.ExpenseApproval, error) {
	return r.filter(func(a *repository.ExpenseApproval) bool {
		return a.OrganizationID == orgID && a.Status == status
	}), nil
}

func (r *ApprovalRepository) ListActionable(ctx context.Context, orgID, userID string) ([]*repository.ExpenseApproval, error) {
	return r.filter(func(a *repository.ExpenseApproval) bool {
		if a.OrganizationID != orgID {
			return false
		}
		if a.Status != repository.StatusPending && a.Status != repository.StatusAwaitingPayment {
			return false
		}
		return a.IsEligible(userID)
	}), nil
}

func (r *ApprovalRepository) Stats(ctx context.Context, orgID, approverID string) (*repository.ApprovalStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	stats := &repository.ApprovalStats{PaidTotal: decimal.Zero}
	for _, a := range r.s.approvals {
		if a.OrganizationID != orgID {
			continue
		}
		switch a.Status {
		case repository.StatusPending:
			if a.IsEligible(approverID) {
				stats.PendingForMe++
			}
		case repository.StatusAwaitingPayment:
			stats.AwaitingPayment++
		case repository.StatusPaid:
			stats.PaidCount++
			kind, id := a.SubmissionRef()
			if sub, ok := r.s.submissions[submissionKey(kind, id)]; ok {
				stats.PaidTotal = stats.PaidTotal.Add(sub.Amount)
			}
		}
	}
	for _, action := range r.s.actions {
		if action.OrganizationID != orgID || action.ActorID != approverID {
			continue
		}
		switch action.Action {
		case repository.ActionApproved:
			stats.ApprovedByMe++
		case repository.ActionRejected:
			stats.RejectedByMe++
		}
	}
	return stats, nil
}

func (r *ApprovalRepository) filter(keep func(*repository.ExpenseApproval) bool) []*repository.ExpenseApproval {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*repository.ExpenseApproval
	for _, a := range r.s.approvals {
		if keep(a) {
			out = append(out, copyApproval(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.Before(out[j].SubmittedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
