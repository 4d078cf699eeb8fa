package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

func awaitingPayment(t *testing.T, f *fixture, amount string) *repository.ExpenseApproval {
	t.Helper()
	a, err := f.approvals.SubmitExpense(f.ctx, testOrg, f.expense(t, "emp", amount).ID, "emp")
	require.NoError(t, err)
	a, err = f.approvals.Approve(f.ctx, testOrg, a.ID, "mgr", nil)
	require.NoError(t, err)
	require.Equal(t, repository.StatusAwaitingPayment, a.Status)
	return a
}

func TestPaymentQueue_List(t *testing.T) {
	f := newFixture(t)
	f.workflow(t, "Pay", 0, true, repository.WorkflowConditions{}, repository.ManagerTarget{}, repository.PaymentTarget{})

	first := awaitingPayment(t, f, "10")
	second := awaitingPayment(t, f, "25.75")
	_, err := f.approvals.SubmitExpense(f.ctx, testOrg, f.expense(t, "emp", "5").ID, "emp")
	require.NoError(t, err)

	items, err := f.queue.List(f.ctx, testOrg, "fin")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].Approval.ID)
	assert.Equal(t, second.ID, items[1].Approval.ID)
	assert.Equal(t, "25.75", items[1].Submission.Amount.String())
	require.NotNil(t, items[0].Submitter)
	assert.Equal(t, "emp", items[0].Submitter.UserID)
}

func TestPaymentQueue_ListRequiresOrganization(t *testing.T) {
	f := newFixture(t)
	_, err := f.queue.List(f.ctx, "", "fin")
	assert.Equal(t, errors.ErrCodeNoOrganizationSelected, errors.CodeOf(err))
}

func TestPaymentQueue_ListRequiresFinance(t *testing.T) {
	f := newFixture(t)
	f.workflow(t, "Pay", 0, true, repository.WorkflowConditions{}, repository.ManagerTarget{}, repository.PaymentTarget{})
	awaitingPayment(t, f, "10")
	f.deactivate("fin2")

	for _, actor := range []string{"emp", "mgr", "admin", "fin2", "stranger"} {
		items, err := f.queue.List(f.ctx, testOrg, actor)
		assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err), actor)
		assert.Nil(t, items, actor)
	}

	items, err := f.queue.List(f.ctx, testOrg, "fin")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestPaymentQueue_ProcessBatch(t *testing.T) {
	f := newFixture(t)
	f.workflow(t, "Pay", 0, true, repository.WorkflowConditions{}, repository.ManagerTarget{}, repository.PaymentTarget{})
	first := awaitingPayment(t, f, "10")
	second := awaitingPayment(t, f, "20")

	results, err := f.queue.ProcessBatch(f.ctx, testOrg, []string{first.ID, first.ID, second.ID}, "fin", str("March run"))
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, repository.StatusPaid, results[0].Status)
	assert.Equal(t, errors.ErrCodeConflict, results[1].Code, "already paid")
	assert.Equal(t, repository.StatusPaid, results[2].Status)

	items, err := f.queue.List(f.ctx, testOrg, "fin")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestPaymentQueue_ProcessBatchByNonFinance(t *testing.T) {
	f := newFixture(t)
	f.workflow(t, "Pay", 0, true, repository.WorkflowConditions{}, repository.ManagerTarget{}, repository.PaymentTarget{})
	a := awaitingPayment(t, f, "10")

	results, err := f.queue.ProcessBatch(f.ctx, testOrg, []string{a.ID}, "mgr", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, errors.ErrCodeForbidden, results[0].Code)
}
