package service

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
	"github.com/pesio-ai/be-expense-approvals/pkg/logger"
)

// queueFetchLimit bounds concurrent lookups while assembling the queue.
const queueFetchLimit = 8

// PaymentQueueItem is an approval awaiting payment with its context.
type PaymentQueueItem struct {
	Approval   *repository.ExpenseApproval   `json:"approval"`
	Submission *repository.Submission        `json:"submission"`
	Submitter  *repository.OrganizationMember `json:"submitter,omitempty"`
}

// PaymentQueue lists and settles approvals in awaiting_payment.
type PaymentQueue struct {
	approvals   ApprovalStore
	submissions SubmissionStore
	members     MemberStore
	service     *ApprovalService
	log         *logger.Logger
}

// NewPaymentQueue creates a new PaymentQueue.
func NewPaymentQueue(approvals ApprovalStore, submissions SubmissionStore, members MemberStore, service *ApprovalService, log *logger.Logger) *PaymentQueue {
	return &PaymentQueue{
		approvals:   approvals,
		submissions: submissions,
		members:     members,
		service:     service,
		log:         log,
	}
}

// List returns the organization's payment queue, oldest submission first.
// Only active finance members see it.
func (q *PaymentQueue) List(ctx context.Context, orgID, actorID string) ([]*PaymentQueueItem, error) {
	if err := requireContext(orgID, actorID); err != nil {
		return nil, err
	}
	if _, err := activeMember(ctx, q.members, orgID, actorID,
		"only finance members can view the payment queue", repository.RoleFinance); err != nil {
		return nil, err
	}
	approvals, err := q.approvals.ListByStatus(ctx, orgID, repository.StatusAwaitingPayment)
	if err != nil {
		return nil, err
	}

	items := make([]*PaymentQueueItem, len(approvals))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(queueFetchLimit)
	for i, a := range approvals {
		g.Go(func() error {
			kind, id := a.SubmissionRef()
			sub, err := q.submissions.Get(gctx, orgID, kind, id)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to load submission for approval "+a.ID)
			}
			item := &PaymentQueueItem{Approval: a, Submission: sub}
			submitter, err := q.members.GetByUserID(gctx, orgID, a.SubmitterID)
			switch {
			case err == nil:
				item.Submitter = submitter
			case errors.Is(err, errors.ErrCodeNotFound):
				// Former members still get paid.
			default:
				return err
			}
			items[i] = item
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// ProcessBatch pays each approval in order and reports per-item outcomes.
// Failures do not stop the batch; context cancellation does.
func (q *PaymentQueue) ProcessBatch(ctx context.Context, orgID string, approvalIDs []string, actorID string, comment *string) ([]BatchResult, error) {
	if err := requireContext(orgID, actorID); err != nil {
		return nil, err
	}
	results := make([]BatchResult, 0, len(approvalIDs))
	failed := 0
	for _, id := range approvalIDs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		a, err := q.service.ProcessPayment(ctx, orgID, id, actorID, comment)
		if err != nil {
			failed++
		}
		results = append(results, batchResult(id, a, err))
	}

	q.log.Info().
		Str("actor_id", actorID).
		Int("requested", len(approvalIDs)).
		Int("failed", failed).
		Msg("Payment batch processed")
	return results, nil
}
