// Package memory is an in-process implementation of the repository
// interfaces. It backs the `--store=memory` development mode and the service
// tests. All records are copied on the way in and out.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

// Store holds every table behind one lock so multi-table writes are atomic.
type Store struct {
	mu          sync.RWMutex
	now         func() time.Time
	workflows   map[string]*repository.ApprovalWorkflow
	members     map[string]*repository.OrganizationMember // key: org/user
	delegations map[string]*repository.ApprovalDelegation
	submissions map[string]*repository.Submission // key: kind/id
	approvals   map[string]*repository.ExpenseApproval
	actions     []*repository.ApprovalAction
	seq         int64
}

// New creates an empty store.
func New() *Store {
	return &Store{
		now:         time.Now,
		workflows:   make(map[string]*repository.ApprovalWorkflow),
		members:     make(map[string]*repository.OrganizationMember),
		delegations: make(map[string]*repository.ApprovalDelegation),
		submissions: make(map[string]*repository.Submission),
		approvals:   make(map[string]*repository.ExpenseApproval),
	}
}

// SetClock overrides the timestamp source.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Workflows returns the workflow repository view.
func (s *Store) Workflows() *WorkflowRepository { return &WorkflowRepository{s: s} }

// Members returns the membership repository view.
func (s *Store) Members() *MemberRepository { return &MemberRepository{s: s} }

// Delegations returns the delegation repository view.
func (s *Store) Delegations() *DelegationRepository { return &DelegationRepository{s: s} }

// Submissions returns the submission repository view.
func (s *Store) Submissions() *SubmissionRepository { return &SubmissionRepository{s: s} }

// Approvals returns the approval repository view.
func (s *Store) Approvals() *ApprovalRepository { return &ApprovalRepository{s: s} }

func newID() string { return uuid.NewString() }

// tick returns a strictly increasing timestamp so ordering by time is stable.
func (s *Store) tick() time.Time {
	s.seq++
	return s.now().Add(time.Duration(s.seq) * time.Microsecond)
}

func memberKey(orgID, userID string) string { return orgID + "/" + userID }

func submissionKey(kind repository.SubmissionKind, id string) string {
	return string(kind) + "/" + id
}

// ── copy helpers ──────────────────────────────────────────────────────────────

func strPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func timePtr(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func copyStep(st *repository.ApprovalStep) *repository.ApprovalStep {
	c := *st
	if t, ok := st.Target.(repository.MultipleUsersTarget); ok {
		c.Target = repository.MultipleUsersTarget{UserIDs: copyStrings(t.UserIDs)}
	}
	return &c
}

func copyWorkflow(wf *repository.ApprovalWorkflow) *repository.ApprovalWorkflow {
	c := *wf
	c.Description = strPtr(wf.Description)
	c.CreatedBy = strPtr(wf.CreatedBy)
	c.Conditions = repository.WorkflowConditions{
		AmountMin:    wf.Conditions.AmountMin,
		AmountMax:    wf.Conditions.AmountMax,
		Categories:   copyStrings(wf.Conditions.Categories),
		Departments:  copyStrings(wf.Conditions.Departments),
		SubmitterIDs: copyStrings(wf.Conditions.SubmitterIDs),
	}
	c.Steps = make([]*repository.ApprovalStep, 0, len(wf.Steps))
	for _, st := range wf.Steps {
		c.Steps = append(c.Steps, copyStep(st))
	}
	return &c
}

func copyMember(m *repository.OrganizationMember) *repository.OrganizationMember {
	c := *m
	c.ManagerID = strPtr(m.ManagerID)
	c.Department = strPtr(m.Department)
	return &c
}

func copyApproval(a *repository.ExpenseApproval) *repository.ExpenseApproval {
	c := *a
	c.ExpenseID = strPtr(a.ExpenseID)
	c.ReportID = strPtr(a.ReportID)
	c.CurrentApproverID = strPtr(a.CurrentApproverID)
	c.CurrentApproverIDs = copyStrings(a.CurrentApproverIDs)
	c.CompletedAt = timePtr(a.CompletedAt)
	c.ChainSteps = make([]*repository.ApprovalStep, 0, len(a.ChainSteps))
	for _, st := range a.ChainSteps {
		c.ChainSteps = append(c.ChainSteps, copyStep(st))
	}
	return &c
}

func copyAction(a *repository.ApprovalAction) *repository.ApprovalAction {
	c := *a
	c.Comment = strPtr(a.Comment)
	c.RejectionReason = strPtr(a.RejectionReason)
	if a.Metadata != nil {
		c.Metadata = make(map[string]interface{}, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func copySubmission(sub *repository.Submission) *repository.Submission {
	c := *sub
	c.Category = strPtr(sub.Category)
	c.Department = strPtr(sub.Department)
	return &c
}

func sortMembers(ms []*repository.OrganizationMember) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].JoinedAt.Equal(ms[j].JoinedAt) {
			return ms[i].UserID < ms[j].UserID
		}
		return ms[i].JoinedAt.Before(ms[j].JoinedAt)
	})
}
