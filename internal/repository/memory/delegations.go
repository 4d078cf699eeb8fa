package memory

import (
	"context"
	"sort"
	"time"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

// DelegationRepository is the in-memory delegation store.
type DelegationRepository struct {
	s *Store
}

func (r *DelegationRepository) Create(ctx context.Context, d *repository.ApprovalDelegation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d.ID = newID()
	d.CreatedAt = r.s.tick()
	c := *d
	c.Reason = strPtr(d.Reason)
	r.s.delegations[d.ID] = &c
	return nil
}

func (r *DelegationRepository) List(ctx context.Context, orgID string) ([]*repository.ApprovalDelegation, error) {
	return r.filter(func(d *repository.ApprovalDelegation) bool {
		return d.OrganizationID == orgID
	}), nil
}

// FindActive returns the most recently created delegation in effect.
func (r *DelegationRepository) FindActive(ctx context.Context, orgID, delegatorID string, at time.Time) (*repository.ApprovalDelegation, error) {
	found := r.filter(func(d *repository.ApprovalDelegation) bool {
		return d.OrganizationID == orgID && d.DelegatorID == delegatorID && d.ActiveAt(at)
	})
	if len(found) == 0 {
		return nil, nil
	}
	return found[len(found)-1], nil
}

func (r *DelegationRepository) ListActiveForDelegate(ctx context.Context, orgID, delegateID string, at time.Time) ([]*repository.ApprovalDelegation, error) {
	return r.filter(func(d *repository.ApprovalDelegation) bool {
		return d.OrganizationID == orgID && d.DelegateID == delegateID && d.ActiveAt(at)
	}), nil
}

func (r *DelegationRepository) Revoke(ctx context.Context, orgID, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.delegations[id]
	if !ok || d.OrganizationID != orgID {
		return errors.NotFound("approval_delegation", id)
	}
	d.IsActive = false
	return nil
}

// filter returns matches ordered by creation time.
func (r *DelegationRepository) filter(keep func(*repository.ApprovalDelegation) bool) []*repository.ApprovalDelegation {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*repository.ApprovalDelegation
	for _, d := range r.s.delegations {
		if keep(d) {
			c := *d
			c.Reason = strPtr(d.Reason)
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
