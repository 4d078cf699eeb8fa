package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

func TestCreateDelegation_Validation(t *testing.T) {
	start, end := activeWindow()
	tests := []struct {
		name     string
		actor    string
		req      CreateDelegationRequest
		wantCode errors.ErrorCode
	}{
		{"missing delegate", "mgr", CreateDelegationRequest{StartDate: start, EndDate: end}, errors.ErrCodeInvalidInput},
		{"self delegation", "mgr", CreateDelegationRequest{DelegateID: "mgr", StartDate: start, EndDate: end}, errors.ErrCodeInvalidInput},
		{"end before start", "mgr", CreateDelegationRequest{DelegateID: "admin", StartDate: end, EndDate: start}, errors.ErrCodeInvalidInput},
		{"missing dates", "mgr", CreateDelegationRequest{DelegateID: "admin"}, errors.ErrCodeInvalidInput},
		{"unknown delegate", "mgr", CreateDelegationRequest{DelegateID: "nobody", StartDate: start, EndDate: end}, errors.ErrCodeInvalidInput},
		{"on behalf of someone else", "emp", CreateDelegationRequest{DelegatorID: "mgr", DelegateID: "admin", StartDate: start, EndDate: end}, errors.ErrCodeForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := tt.req
			_, err := f.delegation.CreateDelegation(f.ctx, testOrg, tt.actor, &req)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, errors.CodeOf(err))
		})
	}
}

func TestCreateDelegation_AdminOnBehalf(t *testing.T) {
	f := newFixture(t)
	start := time.Now()
	d, err := f.delegation.CreateDelegation(f.ctx, testOrg, "admin", &CreateDelegationRequest{
		DelegatorID: "mgr", DelegateID: "fin", StartDate: start, EndDate: start.Add(48 * time.Hour), Reason: str("vacation"),
	})
	require.NoError(t, err)
	assert.Equal(t, "mgr", d.DelegatorID)
	assert.True(t, d.IsActive)
	assert.NotEmpty(t, d.ID)
}

func TestRevokeDelegation(t *testing.T) {
	f := newFixture(t)
	start, end := activeWindow()
	d, err := f.delegation.CreateDelegation(f.ctx, testOrg, "mgr", &CreateDelegationRequest{
		DelegateID: "admin", StartDate: start, EndDate: end,
	})
	require.NoError(t, err)

	err = f.delegation.RevokeDelegation(f.ctx, testOrg, "emp", d.ID)
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))

	require.NoError(t, f.delegation.RevokeDelegation(f.ctx, testOrg, "mgr", d.ID))

	list, err := f.delegation.ListDelegations(f.ctx, testOrg)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].IsActive)

	rs, err := resolve(t, f, "emp", repository.ManagerTarget{})
	require.NoError(t, err)
	assert.Equal(t, "mgr", rs.PrimaryApproverID, "revoked delegation no longer substitutes")

	err = f.delegation.RevokeDelegation(f.ctx, testOrg, "mgr", "missing")
	assert.Equal(t, errors.ErrCodeNotFound, errors.CodeOf(err))
}
