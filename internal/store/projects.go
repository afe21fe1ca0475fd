package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const projectColumns = `id, company_id, name, COALESCE(description, ''), status, COALESCE(address, ''), created_by, created_at, updated_at`

func scanProject(row interface{ Scan(...any) error }) (Project, error) {
	var item Project
	err := row.Scan(
		&item.ID,
		&item.CompanyID,
		&item.Name,
		&item.Description,
		&item.Status,
		&item.Address,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Project{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertProject(ctx context.Context, item Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, company_id, name, description, status, address, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.CompanyID, item.Name, item.Description, item.Status, item.Address, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=$1`, projectID)
	return scanProject(row)
}

// ListProjectsForUser returns every project the user can see: projects they
// created, projects where a membership row exists, and (for company admins)
// all projects of their company.
func (s *PostgresStore) ListProjectsForUser(ctx context.Context, userID, companyID string, isAdmin bool) ([]Project, error) {
	query := `
		SELECT ` + projectColumns + `
		FROM projects p
		WHERE p.created_by = $1
			OR EXISTS (SELECT 1 FROM project_members pm WHERE pm.project_id = p.id AND pm.user_id = $1)
	`
	args := []any{userID}
	if isAdmin && companyID != "" {
		query += ` OR p.company_id = $2`
		args = append(args, companyID)
	}
	query += ` ORDER BY p.updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	items := make([]Project, 0)
	for rows.Next() {
		item, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, projectID string, update ProjectUpdate) error {
	sets := []string{"updated_at=NOW()"}
	args := []any{projectID}
	n := 2

	appendSet := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s=$%d", column, n))
		args = append(args, value)
		n++
	}
	if update.Name != nil {
		appendSet("name", *update.Name)
	}
	if update.Description != nil {
		appendSet("description", *update.Description)
	}
	if update.Status != nil {
		appendSet("status", *update.Status)
	}
	if update.Address != nil {
		appendSet("address", *update.Address)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE projects SET `+strings.Join(sets, ", ")+` WHERE id=$1`, args...)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return requireRowAffected(result)
}

func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireRowAffected(result)
}

// ── Project members ──

func (s *PostgresStore) GetProjectMemberRole(ctx context.Context, projectID, userID string) (string, bool, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM project_members WHERE project_id=$1 AND user_id=$2
	`, projectID, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get member role: %w", err)
	}
	return role, true, nil
}

func (s *PostgresStore) InsertProjectMember(ctx context.Context, member ProjectMember) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_members (id, project_id, user_id, role, added_by)
		VALUES ($1, $2, $3, $4, $5)
	`, member.ID, member.ProjectID, member.UserID, member.Role, member.AddedBy)
	if err != nil {
		return fmt.Errorf("insert project member: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateProjectMemberRole(ctx context.Context, projectID, userID, role string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE project_members SET role=$3 WHERE project_id=$1 AND user_id=$2
	`, projectID, userID, role)
	if err != nil {
		return fmt.Errorf("update member role: %w", err)
	}
	return requireRowAffected(result)
}

func (s *PostgresStore) DeleteProjectMember(ctx context.Context, projectID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM project_members WHERE project_id=$1 AND user_id=$2
	`, projectID, userID)
	if err != nil {
		return fmt.Errorf("delete project member: %w", err)
	}
	return requireRowAffected(result)
}

func (s *PostgresStore) ListProjectMembers(ctx context.Context, projectID string) ([]ProjectMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pm.id, pm.project_id, pm.user_id, pm.role, COALESCE(pm.added_by, ''), pm.created_at,
			u.display_name, u.email
		FROM project_members pm
		JOIN users u ON u.id = pm.user_id
		WHERE pm.project_id=$1
		ORDER BY pm.created_at
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list project members: %w", err)
	}
	defer rows.Close()

	items := make([]ProjectMember, 0)
	for rows.Next() {
		var item ProjectMember
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.UserID, &item.Role, &item.AddedBy, &item.CreatedAt, &item.UserName, &item.UserEmail); err != nil {
			return nil, fmt.Errorf("scan project member: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project members: %w", err)
	}
	return items, nil
}
