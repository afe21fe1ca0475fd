package store

import (
	"context"
	"fmt"
	"strings"
)

const taskColumns = `id, project_id, title, COALESCE(description, ''), status, priority,
	assigned_to, due_date, created_by, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (Task, error) {
	var item Task
	err := row.Scan(
		&item.ID,
		&item.ProjectID,
		&item.Title,
		&item.Description,
		&item.Status,
		&item.Priority,
		&item.AssignedTo,
		&item.DueDate,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Task{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertTask(ctx context.Context, item Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, title, description, status, priority, assigned_to, due_date, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.ProjectID, item.Title, item.Description, item.Status, item.Priority, item.AssignedTo, item.DueDate, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, taskID)
	return scanTask(row)
}

func (s *PostgresStore) ListProjectTasks(ctx context.Context, projectID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE project_id=$1 ORDER BY created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	items := make([]Task, 0)
	for rows.Next() {
		item, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateTask(ctx context.Context, taskID string, update TaskUpdate) error {
	sets := []string{"updated_at=NOW()"}
	args := []any{taskID}
	n := 2

	appendSet := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s=$%d", column, n))
		args = append(args, value)
		n++
	}
	if update.Title != nil {
		appendSet("title", *update.Title)
	}
	if update.Description != nil {
		appendSet("description", *update.Description)
	}
	if update.Status != nil {
		appendSet("status", *update.Status)
	}
	if update.Priority != nil {
		appendSet("priority", *update.Priority)
	}
	if update.AssignedTo != nil {
		if *update.AssignedTo == "" {
			sets = append(sets, "assigned_to=NULL")
		} else {
			appendSet("assigned_to", *update.AssignedTo)
		}
	}
	if update.DueDate != nil {
		appendSet("due_date", *update.DueDate)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id=$1`, args...)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return requireRowAffected(result)
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return requireRowAffected(result)
}

// ── Subtasks ──

func (s *PostgresStore) InsertSubtask(ctx context.Context, item Subtask) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subtasks (id, task_id, title, done, created_by)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.TaskID, item.Title, item.Done, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert subtask: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSubtask(ctx context.Context, subtaskID string) (Subtask, error) {
	var item Subtask
	err := s.db.QueryRowContext(ctx, `
		SELECT id, task_id, title, done, created_by, created_at FROM subtasks WHERE id=$1
	`, subtaskID).Scan(&item.ID, &item.TaskID, &item.Title, &item.Done, &item.CreatedBy, &item.CreatedAt)
	if err != nil {
		return Subtask{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListTaskSubtasks(ctx context.Context, taskID string) ([]Subtask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, title, done, created_by, created_at
		FROM subtasks WHERE task_id=$1 ORDER BY created_at
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	defer rows.Close()

	items := make([]Subtask, 0)
	for rows.Next() {
		var item Subtask
		if err := rows.Scan(&item.ID, &item.TaskID, &item.Title, &item.Done, &item.CreatedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan subtask: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subtasks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateSubtask(ctx context.Context, subtaskID, title string, done bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE subtasks SET title=$2, done=$3 WHERE id=$1
	`, subtaskID, title, done)
	if err != nil {
		return fmt.Errorf("update subtask: %w", err)
	}
	return requireRowAffected(result)
}

func (s *PostgresStore) DeleteSubtask(ctx context.Context, subtaskID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM subtasks WHERE id=$1`, subtaskID)
	if err != nil {
		return fmt.Errorf("delete subtask: %w", err)
	}
	return requireRowAffected(result)
}
