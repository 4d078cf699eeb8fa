package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

func resolve(t *testing.T, f *fixture, submitterID string, target repository.StepTarget) (*ResolvedStep, error) {
	t.Helper()
	sub, err := f.store.Submissions().Get(f.ctx, testOrg, repository.KindExpense, f.expense(t, submitterID, "10").ID)
	require.NoError(t, err)
	return f.builder.ResolveStep(f.ctx, &repository.ApprovalStep{StepOrder: 1, Target: target}, sub)
}

func TestResolveStep(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(f *fixture)
		submitter string
		target    repository.StepTarget
		want      []string
		wantCode  errors.ErrorCode
	}{
		{
			name:      "manager",
			submitter: "emp",
			target:    repository.ManagerTarget{},
			want:      []string{"mgr"},
		},
		{
			name:      "manager missing",
			submitter: "loner",
			target:    repository.ManagerTarget{},
			wantCode:  errors.ErrCodeNoManagerAssigned,
		},
		{
			name:      "manager inactive",
			setup:     func(f *fixture) { f.deactivate("mgr") },
			submitter: "emp",
			target:    repository.ManagerTarget{},
			wantCode:  errors.ErrCodeNoManagerAssigned,
		},
		{
			name:      "manager without membership",
			setup:     func(f *fixture) { f.member("ghost-report", repository.RoleEmployee, "ghost", "") },
			submitter: "ghost-report",
			target:    repository.ManagerTarget{},
			wantCode:  errors.ErrCodeNoManagerAssigned,
		},
		{
			name:      "role in join order",
			submitter: "emp",
			target:    repository.RoleTarget{Role: repository.RoleFinance},
			want:      []string{"fin", "fin2"},
		},
		{
			name:      "role excludes submitter",
			submitter: "fin",
			target:    repository.RoleTarget{Role: repository.RoleFinance},
			want:      []string{"fin2"},
		},
		{
			name:      "role without members",
			submitter: "emp",
			target:    repository.RoleTarget{Role: "auditor"},
			wantCode:  errors.ErrCodeNoEligibleApprover,
		},
		{
			name:      "specific user",
			submitter: "emp",
			target:    repository.SpecificUserTarget{UserID: "admin"},
			want:      []string{"admin"},
		},
		{
			name:      "specific user inactive",
			setup:     func(f *fixture) { f.deactivate("admin") },
			submitter: "emp",
			target:    repository.SpecificUserTarget{UserID: "admin"},
			wantCode:  errors.ErrCodeNoEligibleApprover,
		},
		{
			name:      "specific manager",
			submitter: "loner",
			target:    repository.SpecificManagerTarget{UserID: "mgr"},
			want:      []string{"mgr"},
		},
		{
			name:      "specific manager unknown",
			submitter: "emp",
			target:    repository.SpecificManagerTarget{UserID: "nobody"},
			wantCode:  errors.ErrCodeNoEligibleApprover,
		},
		{
			name:      "multiple users skips inactive and unknown",
			setup:     func(f *fixture) { f.deactivate("fin") },
			submitter: "emp",
			target:    repository.MultipleUsersTarget{UserIDs: []string{"fin", "nobody", "admin", "mgr"}},
			want:      []string{"admin", "mgr"},
		},
		{
			name:      "multiple users all inactive",
			setup:     func(f *fixture) { f.deactivate("fin") },
			submitter: "emp",
			target:    repository.MultipleUsersTarget{UserIDs: []string{"fin"}},
			wantCode:  errors.ErrCodeNoEligibleApprover,
		},
		{
			name:      "payment resolves finance",
			submitter: "emp",
			target:    repository.PaymentTarget{},
			want:      []string{"fin", "fin2"},
		},
		{
			name: "payment without finance",
			setup: func(f *fixture) {
				f.deactivate("fin")
				f.deactivate("fin2")
			},
			submitter: "emp",
			target:    repository.PaymentTarget{},
			wantCode:  errors.ErrCodeNoEligibleApprover,
		},
		{
			name:      "department owner",
			setup:     func(f *fixture) { f.member("mgr2", repository.RoleManager, "", "eng") },
			submitter: "emp",
			target:    repository.DepartmentOwnerTarget{},
			want:      []string{"mgr", "mgr2"},
		},
		{
			name:      "department owner excludes submitting manager and falls back",
			setup:     func(f *fixture) { f.member("mgr", repository.RoleManager, "admin", "eng") },
			submitter: "mgr",
			target:    repository.DepartmentOwnerTarget{},
			want:      []string{"admin"},
		},
		{
			name:      "department owner without department or manager",
			submitter: "loner",
			target:    repository.DepartmentOwnerTarget{},
			wantCode:  errors.ErrCodeNoEligibleApprover,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			rs, err := resolve(t, f, tt.submitter, tt.target)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, errors.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, rs.ApproverIDs)
			assert.Equal(t, tt.want[0], rs.PrimaryApproverID)
			assert.Empty(t, rs.DelegatedFrom)
		})
	}
}

func TestResolveStep_ActiveDelegationSubstitutesPrimary(t *testing.T) {
	f := newFixture(t)
	start, end := activeWindow()
	_, err := f.delegation.CreateDelegation(f.ctx, testOrg, "mgr", &CreateDelegationRequest{
		DelegateID: "admin", StartDate: start, EndDate: end,
	})
	require.NoError(t, err)

	rs, err := resolve(t, f, "emp", repository.ManagerTarget{})
	require.NoError(t, err)
	assert.Equal(t, "admin", rs.PrimaryApproverID)
	assert.Equal(t, "mgr", rs.DelegatedFrom)
	assert.NotEmpty(t, rs.DelegationID)
	assert.ElementsMatch(t, []string{"admin", "mgr"}, rs.ApproverIDs)
}

func TestResolveStep_DelegationOutsideWindowIgnored(t *testing.T) {
	f := newFixture(t)
	past := time.Now().Add(-72 * time.Hour)
	_, err := f.delegation.CreateDelegation(f.ctx, testOrg, "mgr", &CreateDelegationRequest{
		DelegateID: "admin", StartDate: past, EndDate: past.Add(24 * time.Hour),
	})
	require.NoError(t, err)

	rs, err := resolve(t, f, "emp", repository.ManagerTarget{})
	require.NoError(t, err)
	assert.Equal(t, "mgr", rs.PrimaryApproverID)
	assert.Empty(t, rs.DelegatedFrom)
}

func TestResolveStep_DelegationToSubmitterIgnored(t *testing.T) {
	f := newFixture(t)
	start, end := activeWindow()
	_, err := f.delegation.CreateDelegation(f.ctx, testOrg, "mgr", &CreateDelegationRequest{
		DelegateID: "emp", StartDate: start, EndDate: end,
	})
	require.NoError(t, err)

	rs, err := resolve(t, f, "emp", repository.ManagerTarget{})
	require.NoError(t, err)
	assert.Equal(t, "mgr", rs.PrimaryApproverID)
	assert.Equal(t, []string{"mgr"}, rs.ApproverIDs)
}

func TestBuild_FailsFastOnUnresolvableStep(t *testing.T) {
	f := newFixture(t)
	wf := f.workflow(t, "Broken", 0, true, repository.WorkflowConditions{},
		repository.ManagerTarget{}, repository.RoleTarget{Role: "auditor"})
	sub := f.expense(t, "emp", "10")

	_, err := f.builder.Build(f.ctx, wf, sub)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNoEligibleApprover, errors.CodeOf(err))
}

func TestChainNewApproval_PaymentFirstStartsAwaitingPayment(t *testing.T) {
	f := newFixture(t)
	wf := f.workflow(t, "Pay only", 0, true, repository.WorkflowConditions{}, repository.PaymentTarget{})
	sub := f.report(t, "emp", "10")

	chain, err := f.builder.Build(f.ctx, wf, sub)
	require.NoError(t, err)
	a := chain.NewApproval(sub, time.Now())

	assert.Equal(t, repository.StatusAwaitingPayment, a.Status)
	assert.Equal(t, 1, a.CurrentStep)
	assert.Equal(t, 1, a.TotalSteps)
	require.NotNil(t, a.ReportID)
	assert.Nil(t, a.ExpenseID)
	assert.Len(t, a.ChainSteps, 1)
}
