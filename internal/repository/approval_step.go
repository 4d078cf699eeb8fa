package repository

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StepType names the approver-resolution strategy of a step.
type StepType string

const (
	StepManager         StepType = "manager"
	StepRole            StepType = "role"
	StepSpecificUser    StepType = "specific_user"
	StepSpecificManager StepType = "specific_manager"
	StepMultipleUsers   StepType = "multiple_users"
	StepPayment         StepType = "payment"
	StepDepartmentOwner StepType = "department_owner"
)

// StepTarget is the closed set of step payloads. Each variant carries only the
// fields its step type needs.
type StepTarget interface {
	StepType() StepType
	validate() error
}

// ManagerTarget routes to the submitter's direct manager.
type ManagerTarget struct{}

// RoleTarget routes to any active member holding Role.
type RoleTarget struct{ Role string }

// SpecificUserTarget routes to one named user.
type SpecificUserTarget struct{ UserID string }

// SpecificManagerTarget routes to one named manager.
type SpecificManagerTarget struct{ UserID string }

// MultipleUsersTarget lets any one of UserIDs complete the step.
type MultipleUsersTarget struct{ UserIDs []string }

// PaymentTarget is the terminal finance-only payment step.
type PaymentTarget struct{}

// DepartmentOwnerTarget routes to the head of the submitter's department.
type DepartmentOwnerTarget struct{}

func (ManagerTarget) StepType() StepType         { return StepManager }
func (RoleTarget) StepType() StepType            { return StepRole }
func (SpecificUserTarget) StepType() StepType    { return StepSpecificUser }
func (SpecificManagerTarget) StepType() StepType { return StepSpecificManager }
func (MultipleUsersTarget) StepType() StepType   { return StepMultipleUsers }
func (PaymentTarget) StepType() StepType         { return StepPayment }
func (DepartmentOwnerTarget) StepType() StepType { return StepDepartmentOwner }

func (ManagerTarget) validate() error         { return nil }
func (PaymentTarget) validate() error         { return nil }
func (DepartmentOwnerTarget) validate() error { return nil }

func (t RoleTarget) validate() error {
	if strings.TrimSpace(t.Role) == "" {
		return fmt.Errorf("role step requires approver_role")
	}
	return nil
}

func (t SpecificUserTarget) validate() error {
	if t.UserID == "" {
		return fmt.Errorf("specific_user step requires approver_user_id")
	}
	return nil
}

func (t SpecificManagerTarget) validate() error {
	if t.UserID == "" {
		return fmt.Errorf("specific_manager step requires approver_user_id")
	}
	return nil
}

func (t MultipleUsersTarget) validate() error {
	if len(t.UserIDs) == 0 {
		return fmt.Errorf("multiple_users step requires approver_user_ids")
	}
	seen := make(map[string]bool, len(t.UserIDs))
	for _, id := range t.UserIDs {
		if id == "" {
			return fmt.Errorf("multiple_users step has an empty user id")
		}
		if seen[id] {
			return fmt.Errorf("multiple_users step lists %s twice", id)
		}
		seen[id] = true
	}
	return nil
}

// ApprovalStep is one link of a workflow.
type ApprovalStep struct {
	ID         string
	WorkflowID string
	StepOrder  int
	Name       string
	Target     StepTarget
}

// Type returns the step type, or "" for a step without a target.
func (s *ApprovalStep) Type() StepType {
	if s.Target == nil {
		return ""
	}
	return s.Target.StepType()
}

// IsPaymentStep reports whether s is the finance payment step.
func (s *ApprovalStep) IsPaymentStep() bool {
	return s.Type() == StepPayment
}

// ── Flat encoding ────────────────────────────────────────────────────────────

// StepColumns is the flat shape used by the approval_steps table and the JSON API.
type StepColumns struct {
	ID              string   `json:"id,omitempty"`
	WorkflowID      string   `json:"workflow_id,omitempty"`
	StepOrder       int      `json:"step_order"`
	Name            string   `json:"name,omitempty"`
	StepType        StepType `json:"step_type"`
	ApproverRole    *string  `json:"approver_role,omitempty"`
	ApproverUserID  *string  `json:"approver_user_id,omitempty"`
	ApproverUserIDs []string `json:"approver_user_ids,omitempty"`
	IsPaymentStep   bool     `json:"is_payment_step"`
}

// Columns flattens s.
func (s *ApprovalStep) Columns() StepColumns {
	c := StepColumns{
		ID:            s.ID,
		WorkflowID:    s.WorkflowID,
		StepOrder:     s.StepOrder,
		Name:          s.Name,
		StepType:      s.Type(),
		IsPaymentStep: s.IsPaymentStep(),
	}
	switch t := s.Target.(type) {
	case RoleTarget:
		role := t.Role
		c.ApproverRole = &role
	case SpecificUserTarget:
		id := t.UserID
		c.ApproverUserID = &id
	case SpecificManagerTarget:
		id := t.UserID
		c.ApproverUserID = &id
	case MultipleUsersTarget:
		c.ApproverUserIDs = append([]string(nil), t.UserIDs...)
	}
	return c
}

// StepFromColumns decodes the flat shape into exactly one target variant.
func StepFromColumns(c StepColumns) (*ApprovalStep, error) {
	target, err := decodeTarget(c)
	if err != nil {
		return nil, err
	}
	return &ApprovalStep{
		ID:         c.ID,
		WorkflowID: c.WorkflowID,
		StepOrder:  c.StepOrder,
		Name:       c.Name,
		Target:     target,
	}, nil
}

func decodeTarget(c StepColumns) (StepTarget, error) {
	str := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	switch c.StepType {
	case StepManager:
		return ManagerTarget{}, nil
	case StepRole:
		return RoleTarget{Role: str(c.ApproverRole)}, nil
	case StepSpecificUser:
		return SpecificUserTarget{UserID: str(c.ApproverUserID)}, nil
	case StepSpecificManager:
		return SpecificManagerTarget{UserID: str(c.ApproverUserID)}, nil
	case StepMultipleUsers:
		return MultipleUsersTarget{UserIDs: append([]string(nil), c.ApproverUserIDs...)}, nil
	case StepPayment:
		return PaymentTarget{}, nil
	case StepDepartmentOwner:
		return DepartmentOwnerTarget{}, nil
	}
	// Older rows only carry the payment flag.
	if c.StepType == "" && c.IsPaymentStep {
		return PaymentTarget{}, nil
	}
	return nil, fmt.Errorf("unknown step_type %q", c.StepType)
}

func (s *ApprovalStep) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Columns())
}

func (s *ApprovalStep) UnmarshalJSON(data []byte) error {
	var c StepColumns
	if err := json.Unmarshal(data, &c); err != nil {
		return err
	}
	decoded, err := StepFromColumns(c)
	if err != nil {
		return err
	}
	*s = *decoded
	return nil
}

// ── Validation ───────────────────────────────────────────────────────────────

// ValidateSteps checks a workflow's step list: non-empty, contiguous
// step_order from 1, every payload complete, at most one payment step and
// only in the last position. Steps must already be sorted by StepOrder.
func ValidateSteps(steps []*ApprovalStep) error {
	if len(steps) == 0 {
		return fmt.Errorf("workflow must have at least one step")
	}
	payments := 0
	for i, s := range steps {
		if s == nil || s.Target == nil {
			return fmt.Errorf("step %d has no step_type", i+1)
		}
		if s.StepOrder != i+1 {
			return fmt.Errorf("step_order must be contiguous from 1: position %d has %d", i+1, s.StepOrder)
		}
		if err := s.Target.validate(); err != nil {
			return fmt.Errorf("step %d: %w", s.StepOrder, err)
		}
		if s.IsPaymentStep() {
			payments++
			if i != len(steps)-1 {
				return fmt.Errorf("payment step must be the last step")
			}
		}
	}
	if payments > 1 {
		return fmt.Errorf("at most one payment step is allowed")
	}
	return nil
}
