package memory

import (
	"context"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

// SubmissionRepository is the in-memory expense / report table.
type SubmissionRepository struct {
	s *Store
}

// Put inserts or replaces a submission. Status defaults to draft.
func (r *SubmissionRepository) Put(sub *repository.Submission) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if sub.ID == "" {
		sub.ID = newID()
	}
	if sub.Status == "" {
		sub.Status = repository.SubmissionDraft
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = r.s.tick()
	}
	r.s.submissions[submissionKey(sub.Kind, sub.ID)] = copySubmission(sub)
}

func (r *SubmissionRepository) Get(ctx context.Context, orgID string, kind repository.SubmissionKind, id string) (*repository.Submission, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	sub, ok := r.s.submissions[submissionKey(kind, id)]
	if !ok || sub.OrganizationID != orgID {
		return nil, errors.NotFound(string(kind), id)
	}
	c := copySubmission(sub)
	if c.Department == nil {
		if m, ok := r.s.members[memberKey(orgID, c.SubmitterID)]; ok {
			c.Department = strPtr(m.Department)
		}
	}
	return c, nil
}

// setStatusLocked mirrors an approval status onto its submission.
func (s *Store) setStatusLocked(a *repository.ExpenseApproval) {
	kind, id := a.SubmissionRef()
	if sub, ok := s.submissions[submissionKey(kind, id)]; ok {
		sub.Status = repository.SubmissionStatusFor(a.Status)
	}
}
