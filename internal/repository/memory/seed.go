package memory

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/pesio-ai/be-expense-approvals/internal/repository"
)

// Seed is a YAML fixture for the memory store. Members and submissions have
// no write route, so development mode loads them from here; workflows are
// created through the API by a seeded admin.
//
//	organization_id: org-1
//	members:
//	  - {user_id: admin, role: admin}
//	  - {user_id: emp, role: employee, manager_id: mgr, department: eng}
//	expenses:
//	  - {id: exp-1, submitter_id: emp, amount: "120.50", category: travel}
type Seed struct {
	OrganizationID string           `yaml:"organization_id"`
	Members        []SeedMember     `yaml:"members"`
	Expenses       []SeedSubmission `yaml:"expenses"`
	Reports        []SeedSubmission `yaml:"reports"`
}

type SeedMember struct {
	UserID     string `yaml:"user_id"`
	Role       string `yaml:"role"`
	ManagerID  string `yaml:"manager_id"`
	Department string `yaml:"department"`
	FullName   string `yaml:"full_name"`
	Email      string `yaml:"email"`
	Inactive   bool   `yaml:"inactive"`
}

type SeedSubmission struct {
	ID          string `yaml:"id"`
	SubmitterID string `yaml:"submitter_id"`
	Title       string `yaml:"title"`
	Amount      string `yaml:"amount"`
	Currency    string `yaml:"currency"`
	Category    string `yaml:"category"`
	Department  string `yaml:"department"`
}

// LoadSeed reads and validates a fixture file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	if seed.OrganizationID == "" {
		return nil, fmt.Errorf("seed file %s: organization_id is required", path)
	}
	return &seed, nil
}

// Apply loads seed into s. Existing records with the same keys are replaced.
func (s *Store) Apply(seed *Seed) error {
	for i, m := range seed.Members {
		if m.UserID == "" {
			return fmt.Errorf("members[%d]: user_id is required", i)
		}
		switch m.Role {
		case repository.RoleAdmin, repository.RoleFinance, repository.RoleManager, repository.RoleEmployee:
		default:
			return fmt.Errorf("members[%d]: unknown role %q", i, m.Role)
		}
		s.Members().Put(&repository.OrganizationMember{
			OrganizationID: seed.OrganizationID,
			UserID:         m.UserID,
			Role:           m.Role,
			ManagerID:      optional(m.ManagerID),
			Department:     optional(m.Department),
			IsActive:       !m.Inactive,
			FullName:       m.FullName,
			Email:          m.Email,
		})
	}

	add := func(kind repository.SubmissionKind, list []SeedSubmission) error {
		for i, sub := range list {
			if sub.ID == "" || sub.SubmitterID == "" {
				return fmt.Errorf("%ss[%d]: id and submitter_id are required", kind, i)
			}
			amount, err := decimal.NewFromString(sub.Amount)
			if err != nil {
				return fmt.Errorf("%ss[%d]: invalid amount %q", kind, i, sub.Amount)
			}
			currency := sub.Currency
			if currency == "" {
				currency = "USD"
			}
			s.Submissions().Put(&repository.Submission{
				Kind:           kind,
				ID:             sub.ID,
				OrganizationID: seed.OrganizationID,
				SubmitterID:    sub.SubmitterID,
				Title:          sub.Title,
				Amount:         amount,
				Currency:       currency,
				Category:       optional(sub.Category),
				Department:     optional(sub.Department),
			})
		}
		return nil
	}
	if err := add(repository.KindExpense, seed.Expenses); err != nil {
		return err
	}
	return add(repository.KindReport, seed.Reports)
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
