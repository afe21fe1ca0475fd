package store

import (
	"context"
	"fmt"
	"strings"
)

const approvalColumns = `id, project_id, authority, COALESCE(reference_no, ''), status,
	submitted_at, decided_at, COALESCE(notes, ''), created_by, created_at, updated_at`

func scanCityApproval(row interface{ Scan(...any) error }) (CityApproval, error) {
	var item CityApproval
	err := row.Scan(
		&item.ID,
		&item.ProjectID,
		&item.Authority,
		&item.ReferenceNo,
		&item.Status,
		&item.SubmittedAt,
		&item.DecidedAt,
		&item.Notes,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return CityApproval{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertCityApproval(ctx context.Context, item CityApproval) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO city_approvals (id, project_id, authority, reference_no, status, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.ProjectID, item.Authority, item.ReferenceNo, item.Status, item.Notes, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert city approval: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCityApproval(ctx context.Context, approvalID string) (CityApproval, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+approvalColumns+` FROM city_approvals WHERE id=$1`, approvalID)
	return scanCityApproval(row)
}

func (s *PostgresStore) ListProjectCityApprovals(ctx context.Context, projectID string) ([]CityApproval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+approvalColumns+` FROM city_approvals WHERE project_id=$1 ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list city approvals: %w", err)
	}
	defer rows.Close()

	items := make([]CityApproval, 0)
	for rows.Next() {
		item, err := scanCityApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("scan city approval: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate city approvals: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateCityApproval(ctx context.Context, approvalID string, update CityApprovalUpdate) error {
	sets := []string{"updated_at=NOW()"}
	args := []any{approvalID}
	n := 2

	appendSet := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s=$%d", column, n))
		args = append(args, value)
		n++
	}
	if update.Authority != nil {
		appendSet("authority", *update.Authority)
	}
	if update.ReferenceNo != nil {
		appendSet("reference_no", *update.ReferenceNo)
	}
	if update.Status != nil {
		appendSet("status", *update.Status)
		switch *update.Status {
		case "submitted":
			sets = append(sets, "submitted_at=NOW()")
		case "approved", "rejected":
			sets = append(sets, "decided_at=NOW()")
		}
	}
	if update.Notes != nil {
		appendSet("notes", *update.Notes)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE city_approvals SET `+strings.Join(sets, ", ")+` WHERE id=$1`, args...)
	if err != nil {
		return fmt.Errorf("update city approval: %w", err)
	}
	return requireRowAffected(result)
}

func (s *PostgresStore) DeleteCityApproval(ctx context.Context, approvalID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM city_approvals WHERE id=$1`, approvalID)
	if err != nil {
		return fmt.Errorf("delete city approval: %w", err)
	}
	return requireRowAffected(result)
}

// ── Corrections ──

func (s *PostgresStore) InsertCorrection(ctx context.Context, item Correction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO corrections (id, approval_id, description, status, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.ApprovalID, item.Description, item.Status, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert correction: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCorrection(ctx context.Context, correctionID string) (Correction, error) {
	var item Correction
	err := s.db.QueryRowContext(ctx, `
		SELECT id, approval_id, description, status, created_by, resolved_at, created_at
		FROM corrections WHERE id=$1
	`, correctionID).Scan(&item.ID, &item.ApprovalID, &item.Description, &item.Status, &item.CreatedBy, &item.ResolvedAt, &item.CreatedAt)
	if err != nil {
		return Correction{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListApprovalCorrections(ctx context.Context, approvalID string) ([]Correction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, approval_id, description, status, created_by, resolved_at, created_at
		FROM corrections WHERE approval_id=$1 ORDER BY created_at
	`, approvalID)
	if err != nil {
		return nil, fmt.Errorf("list corrections: %w", err)
	}
	defer rows.Close()

	items := make([]Correction, 0)
	for rows.Next() {
		var item Correction
		if err := rows.Scan(&item.ID, &item.ApprovalID, &item.Description, &item.Status, &item.CreatedBy, &item.ResolvedAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan correction: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate corrections: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ResolveCorrection(ctx context.Context, correctionID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE corrections SET status='resolved', resolved_at=NOW() WHERE id=$1 AND status='open'
	`, correctionID)
	if err != nil {
		return fmt.Errorf("resolve correction: %w", err)
	}
	return requireRowAffected(result)
}

func (s *PostgresStore) DeleteCorrection(ctx context.Context, correctionID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM corrections WHERE id=$1`, correctionID)
	if err != nil {
		return fmt.Errorf("delete correction: %w", err)
	}
	return requireRowAffected(result)
}
