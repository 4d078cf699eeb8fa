package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

func TestMatchesConditions(t *testing.T) {
	sub := &repository.Submission{
		SubmitterID: "emp",
		Amount:      decimal.RequireFromString("500"),
		Category:    str("travel"),
		Department:  str("eng"),
	}

	tests := []struct {
		name string
		cond repository.WorkflowConditions
		want bool
	}{
		{"empty matches everything", repository.WorkflowConditions{}, true},
		{"min is inclusive", repository.WorkflowConditions{AmountMin: amount("500")}, true},
		{"below min", repository.WorkflowConditions{AmountMin: amount("500.01")}, false},
		{"max is inclusive", repository.WorkflowConditions{AmountMax: amount("500")}, true},
		{"above max", repository.WorkflowConditions{AmountMax: amount("499.99")}, false},
		{"category listed", repository.WorkflowConditions{Categories: []string{"meals", "travel"}}, true},
		{"category not listed", repository.WorkflowConditions{Categories: []string{"meals"}}, false},
		{"department listed", repository.WorkflowConditions{Departments: []string{"eng"}}, true},
		{"department not listed", repository.WorkflowConditions{Departments: []string{"sales"}}, false},
		{"submitter listed", repository.WorkflowConditions{SubmitterIDs: []string{"emp"}}, true},
		{"submitter not listed", repository.WorkflowConditions{SubmitterIDs: []string{"other"}}, false},
		{
			"all fields ANDed",
			repository.WorkflowConditions{AmountMin: amount("100"), Categories: []string{"travel"}, Departments: []string{"sales"}},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchesConditions(tt.cond, sub))
		})
	}
}

func TestMatchesConditions_MissingCategoryFailsCategoryFilter(t *testing.T) {
	sub := &repository.Submission{Amount: decimal.NewFromInt(10)}
	assert.False(t, MatchesConditions(repository.WorkflowConditions{Categories: []string{"travel"}}, sub))
	assert.False(t, MatchesConditions(repository.WorkflowConditions{Departments: []string{"eng"}}, sub))
}

func TestSelect_AmountThresholdBeatsDefault(t *testing.T) {
	f := newFixture(t)
	def := f.workflow(t, "Default", 0, true, repository.WorkflowConditions{}, repository.ManagerTarget{})
	big := f.workflow(t, "Large expenses", 10, false,
		repository.WorkflowConditions{AmountMin: amount("500")},
		repository.ManagerTarget{}, repository.RoleTarget{Role: repository.RoleFinance})

	got, err := f.selector.Select(f.ctx, f.expense(t, "emp", "600"))
	require.NoError(t, err)
	assert.Equal(t, big.ID, got.ID)

	got, err = f.selector.Select(f.ctx, f.expense(t, "emp", "50"))
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.ID)
}

func TestSelect_HigherPriorityWins(t *testing.T) {
	f := newFixture(t)
	f.workflow(t, "Low", 1, false, repository.WorkflowConditions{}, repository.ManagerTarget{})
	high := f.workflow(t, "High", 5, false, repository.WorkflowConditions{}, repository.ManagerTarget{})

	got, err := f.selector.Select(f.ctx, f.expense(t, "emp", "10"))
	require.NoError(t, err)
	assert.Equal(t, high.ID, got.ID)
}

func TestSelect_EqualPriorityPrefersOlder(t *testing.T) {
	f := newFixture(t)
	older := f.workflow(t, "First", 3, false, repository.WorkflowConditions{}, repository.ManagerTarget{})
	f.workflow(t, "Second", 3, false, repository.WorkflowConditions{}, repository.ManagerTarget{})

	for i := 0; i < 5; i++ {
		got, err := f.selector.Select(f.ctx, f.expense(t, "emp", "10"))
		require.NoError(t, err)
		assert.Equal(t, older.ID, got.ID)
	}
}

func TestSelect_SkipsInactiveWorkflows(t *testing.T) {
	f := newFixture(t)
	def := f.workflow(t, "Default", 0, true, repository.WorkflowConditions{}, repository.ManagerTarget{})
	off := f.workflow(t, "Disabled", 100, false, repository.WorkflowConditions{}, repository.ManagerTarget{})
	_, err := f.workflows.SetWorkflowActive(f.ctx, testOrg, "admin", off.ID, false)
	require.NoError(t, err)

	got, err := f.selector.Select(f.ctx, f.expense(t, "emp", "10"))
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.ID)
}

func TestSelect_DefaultFallbackIgnoresItsConditions(t *testing.T) {
	f := newFixture(t)
	def := f.workflow(t, "Default", 0, true,
		repository.WorkflowConditions{Categories: []string{"meals"}}, repository.ManagerTarget{})

	got, err := f.selector.Select(f.ctx, f.expense(t, "emp", "10"))
	require.NoError(t, err)
	assert.Equal(t, def.ID, got.ID)
}

func TestSelect_NoWorkflowFound(t *testing.T) {
	f := newFixture(t)
	f.workflow(t, "Only big", 0, false, repository.WorkflowConditions{AmountMin: amount("1000")}, repository.ManagerTarget{})

	_, err := f.selector.Select(f.ctx, f.expense(t, "emp", "10"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeNoWorkflowFound, errors.CodeOf(err))
}
