package memory

import (
	"context"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

// MemberRepository is the in-memory membership graph.
type MemberRepository struct {
	s *Store
}

// Put inserts or replaces a membership. JoinedAt defaults to now.
func (r *MemberRepository) Put(m *repository.OrganizationMember) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if m.ID == "" {
		m.ID = newID()
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = r.s.tick()
	}
	r.s.members[memberKey(m.OrganizationID, m.UserID)] = copyMember(m)
}

func (r *MemberRepository) GetByUserID(ctx context.Context, orgID, userID string) (*repository.OrganizationMember, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	m, ok := r.s.members[memberKey(orgID, userID)]
	if !ok {
		return nil, errors.NotFound("organization_member", userID)
	}
	return copyMember(m), nil
}

func (r *MemberRepository) ListActiveByRole(ctx context.Context, orgID, role string) ([]*repository.OrganizationMember, error) {
	return r.filter(orgID, func(m *repository.OrganizationMember) bool {
		return m.Role == role
	}), nil
}

func (r *MemberRepository) ListActiveByDepartment(ctx context.Context, orgID, department string) ([]*repository.OrganizationMember, error) {
	return r.filter(orgID, func(m *repository.OrganizationMember) bool {
		return m.Department != nil && *m.Department == department
	}), nil
}

func (r *MemberRepository) filter(orgID string, keep func(*repository.OrganizationMember) bool) []*repository.OrganizationMember {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*repository.OrganizationMember
	for _, m := range r.s.members {
		if m.OrganizationID == orgID && m.IsActive && keep(m) {
			out = append(out, copyMember(m))
		}
	}
	sortMembers(out)
	return out
}
