package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/internal/repository/memory"
	"github.com/pesio-ai/be-expense-approvals/pkg/logger"
)

const testOrg = "org-1"

type publishedEvent struct {
	Type       string
	ApprovalID string
	ActorID    string
	Recipients []string
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) PublishApprovalEvent(ctx context.Context, eventType string, a *repository.ExpenseApproval, actorID string, recipients []string, payload map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{
		Type:       eventType,
		ApprovalID: a.ID,
		ActorID:    actorID,
		Recipients: append([]string(nil), recipients...),
	})
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	ctx        context.Context
	store      *memory.Store
	publisher  *recordingPublisher
	workflows  *WorkflowService
	selector   *WorkflowSelector
	builder    *ChainBuilder
	approvals  *ApprovalService
	delegation *DelegationService
	queue      *PaymentQueue
}

// newFixture seeds one organization:
//
//	admin (admin), mgr (manager, eng), emp (employee, eng, reports to mgr),
//	fin and fin2 (finance), loner (employee, no manager).
func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.New()
	log := logger.Nop()
	pub := &recordingPublisher{}

	selector := NewWorkflowSelector(store.Workflows(), log)
	builder := NewChainBuilder(store.Members(), store.Delegations(), log)
	approvals := NewApprovalService(
		store.Approvals(), store.Submissions(), store.Members(), store.Delegations(),
		store.Workflows(), selector, builder, pub, log,
	)
	approvals.now = tickingClock()

	f := &fixture{
		ctx:        context.Background(),
		store:      store,
		publisher:  pub,
		workflows:  NewWorkflowService(store.Workflows(), store.Members(), log),
		selector:   selector,
		builder:    builder,
		approvals:  approvals,
		delegation: NewDelegationService(store.Delegations(), store.Members(), log),
		queue:      NewPaymentQueue(store.Approvals(), store.Submissions(), store.Members(), approvals, log),
	}

	f.member("admin", repository.RoleAdmin, "", "")
	f.member("mgr", repository.RoleManager, "", "eng")
	f.member("emp", repository.RoleEmployee, "mgr", "eng")
	f.member("fin", repository.RoleFinance, "", "finance")
	f.member("fin2", repository.RoleFinance, "", "finance")
	f.member("loner", repository.RoleEmployee, "", "")
	return f
}

func (f *fixture) member(userID, role, managerID, department string) *repository.OrganizationMember {
	m := &repository.OrganizationMember{
		OrganizationID: testOrg,
		UserID:         userID,
		Role:           role,
		IsActive:       true,
		FullName:       userID,
		Email:          userID + "@example.com",
	}
	if managerID != "" {
		m.ManagerID = &managerID
	}
	if department != "" {
		m.Department = &department
	}
	f.store.Members().Put(m)
	return m
}

func (f *fixture) deactivate(userID string) {
	m, err := f.store.Members().GetByUserID(f.ctx, testOrg, userID)
	if err != nil {
		panic(err)
	}
	m.IsActive = false
	f.store.Members().Put(m)
}

func (f *fixture) expense(t *testing.T, submitterID, amount string) *repository.Submission {
	t.Helper()
	return f.submission(repository.KindExpense, submitterID, amount, "Taxi")
}

func (f *fixture) report(t *testing.T, submitterID, amount string) *repository.Submission {
	t.Helper()
	return f.submission(repository.KindReport, submitterID, amount, "Conference trip")
}

func (f *fixture) submission(kind repository.SubmissionKind, submitterID, amount, title string) *repository.Submission {
	sub := &repository.Submission{
		Kind:           kind,
		OrganizationID: testOrg,
		SubmitterID:    submitterID,
		Title:          title,
		Amount:         decimal.RequireFromString(amount),
		Currency:       "USD",
	}
	f.store.Submissions().Put(sub)
	return sub
}

func (f *fixture) workflow(t *testing.T, name string, priority int, isDefault bool, cond repository.WorkflowConditions, targets ...repository.StepTarget) *repository.ApprovalWorkflow {
	t.Helper()
	wf, err := f.workflows.CreateWorkflow(f.ctx, testOrg, "admin", &CreateWorkflowRequest{
		Name:       name,
		Conditions: cond,
		Priority:   priority,
		IsDefault:  isDefault,
		Steps:      steps(targets...),
	})
	require.NoError(t, err)
	return wf
}

func (f *fixture) submissionStatus(t *testing.T, sub *repository.Submission) string {
	t.Helper()
	got, err := f.store.Submissions().Get(f.ctx, testOrg, sub.Kind, sub.ID)
	require.NoError(t, err)
	return got.Status
}

func steps(targets ...repository.StepTarget) []*repository.ApprovalStep {
	out := make([]*repository.ApprovalStep, 0, len(targets))
	for i, target := range targets {
		out = append(out, &repository.ApprovalStep{StepOrder: i + 1, Target: target})
	}
	return out
}

func amount(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func str(v string) *string { return &v }

// tickingClock advances one second per call so submission order is strict.
func tickingClock() Clock {
	var mu sync.Mutex
	base := time.Now()
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

func activeWindow() (time.Time, time.Time) {
	now := time.Now()
	return now.Add(-time.Hour), now.Add(time.Hour)
}
