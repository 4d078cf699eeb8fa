package service

import (
	"context"
	"time"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
	"github.com/pesio-ai/be-expense-approvals/pkg/logger"
)

// DelegationService manages temporary hand-overs of approval authority.
type DelegationService struct {
	delegations DelegationStore
	members     MemberStore
	log         *logger.Logger
}

// NewDelegationService creates a new DelegationService.
func NewDelegationService(delegations DelegationStore, members MemberStore, log *logger.Logger) *DelegationService {
	return &DelegationService{delegations: delegations, members: members, log: log}
}

// CreateDelegationRequest describes a new delegation. An empty DelegatorID
// means the caller delegates their own authority.
type CreateDelegationRequest struct {
	DelegatorID string    `json:"delegator_id"`
	DelegateID  string    `json:"delegate_id"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Reason      *string   `json:"reason,omitempty"`
}

// CreateDelegation stores a delegation. Members delegate their own authority;
// admins may delegate on behalf of anyone.
func (s *DelegationService) CreateDelegation(ctx context.Context, orgID, actorID string, req *CreateDelegationRequest) (*repository.ApprovalDelegation, error) {
	if err := requireContext(orgID, actorID); err != nil {
		return nil, err
	}
	if req.DelegatorID == "" {
		req.DelegatorID = actorID
	}
	if req.DelegateID == "" {
		return nil, errors.InvalidInput("delegate_id", "delegate_id is required")
	}
	if req.DelegateID == req.DelegatorID {
		return nil, errors.InvalidInput("delegate_id", "cannot delegate to yourself")
	}
	if req.StartDate.IsZero() || req.EndDate.IsZero() {
		return nil, errors.InvalidInput("start_date", "start_date and end_date are required")
	}
	if req.EndDate.Before(req.StartDate) {
		return nil, errors.InvalidInput("end_date", "end_date must not be before start_date")
	}
	if err := s.requireSelfOrAdmin(ctx, orgID, actorID, req.DelegatorID); err != nil {
		return nil, err
	}

	delegate, err := s.members.GetByUserID(ctx, orgID, req.DelegateID)
	if err != nil {
		if errors.Is(err, errors.ErrCodeNotFound) {
			return nil, errors.InvalidInput("delegate_id", "delegate is not a member of this organization")
		}
		return nil, err
	}
	if !delegate.IsActive {
		return nil, errors.InvalidInput("delegate_id", "delegate is not an active member")
	}

	d := &repository.ApprovalDelegation{
		OrganizationID: orgID,
		DelegatorID:    req.DelegatorID,
		DelegateID:     req.DelegateID,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
		Reason:         req.Reason,
		IsActive:       true,
	}
	if err := s.delegations.Create(ctx, d); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("delegation_id", d.ID).
		Str("delegator_id", d.DelegatorID).
		Str("delegate_id", d.DelegateID).
		Time("end_date", d.EndDate).
		Msg("Delegation created")
	return d, nil
}

// ListDelegations returns every delegation of the organization.
func (s *DelegationService) ListDelegations(ctx context.Context, orgID string) ([]*repository.ApprovalDelegation, error) {
	if orgID == "" {
		return nil, errNoOrganization()
	}
	return s.delegations.List(ctx, orgID)
}

// RevokeDelegation deactivates a delegation.
func (s *DelegationService) RevokeDelegation(ctx context.Context, orgID, actorID, id string) error {
	if err := requireContext(orgID, actorID); err != nil {
		return err
	}
	all, err := s.delegations.List(ctx, orgID)
	if err != nil {
		return err
	}
	var target *repository.ApprovalDelegation
	for _, d := range all {
		if d.ID == id {
			target = d
			break
		}
	}
	if target == nil {
		return errors.NotFound("approval_delegation", id)
	}
	if err := s.requireSelfOrAdmin(ctx, orgID, actorID, target.DelegatorID); err != nil {
		return err
	}
	if err := s.delegations.Revoke(ctx, orgID, id); err != nil {
		return err
	}
	s.log.Info().Str("delegation_id", id).Msg("Delegation revoked")
	return nil
}

func (s *DelegationService) requireSelfOrAdmin(ctx context.Context, orgID, actorID, delegatorID string) error {
	if actorID == delegatorID {
		return nil
	}
	actor, err := s.members.GetByUserID(ctx, orgID, actorID)
	if err != nil && !errors.Is(err, errors.ErrCodeNotFound) {
		return err
	}
	if actor == nil || !actor.IsActive || actor.Role != repository.RoleAdmin {
		return errors.New(errors.ErrCodeForbidden, "only admins can manage another member's delegations")
	}
	return nil
}
