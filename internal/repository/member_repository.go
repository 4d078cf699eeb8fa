package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-expense-approvals/pkg/database"
	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

// MemberRepository reads the organization membership graph.
type MemberRepository struct {
	db *database.DB
}

// NewMemberRepository creates a new MemberRepository.
func NewMemberRepository(db *database.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

const memberColumns = `
	id, organization_id, user_id, role, manager_id, department,
	is_active, full_name, email, joined_at`

func (r *MemberRepository) GetByUserID(ctx context.Context, orgID, userID string) (*OrganizationMember, error) {
	query := `SELECT ` + memberColumns + `
		FROM organization_members
		WHERE organization_id = $1 AND user_id = $2
	`
	m, err := scanMember(r.db.QueryRow(ctx, query, orgID, userID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("organization_member", userID)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get organization member")
	}
	return m, nil
}

func (r *MemberRepository) ListActiveByRole(ctx context.Context, orgID, role string) ([]*OrganizationMember, error) {
	query := `SELECT ` + memberColumns + `
		FROM organization_members
		WHERE organization_id = $1 AND role = $2 AND is_active
		ORDER BY joined_at ASC, user_id ASC
	`
	return r.list(ctx, query, orgID, role)
}

func (r *MemberRepository) ListActiveByDepartment(ctx context.Context, orgID, department string) ([]*OrganizationMember, error) {
	query := `SELECT ` + memberColumns + `
		FROM organization_members
		WHERE organization_id = $1 AND department = $2 AND is_active
		ORDER BY joined_at ASC, user_id ASC
	`
	return r.list(ctx, query, orgID, department)
}

func (r *MemberRepository) list(ctx context.Context, query string, args ...any) ([]*OrganizationMember, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list organization members")
	}
	defer rows.Close()

	var members []*OrganizationMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan organization member")
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list organization members")
	}
	return members, nil
}

func scanMember(row rowScanner) (*OrganizationMember, error) {
	m := &OrganizationMember{}
	err := row.Scan(
		&m.ID,
		&m.OrganizationID,
		&m.UserID,
		&m.Role,
		&m.ManagerID,
		&m.Department,
		&m.IsActive,
		&m.FullName,
		&m.Email,
		&m.JoinedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}
