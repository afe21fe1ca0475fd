package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"planroom/api/internal/notify"
	"planroom/api/internal/search"
	"planroom/api/internal/store"
	"planroom/api/internal/util"
)

var allowedTaskStatuses = map[string]struct{}{
	"todo":        {},
	"in_progress": {},
	"blocked":     {},
	"done":        {},
}

var allowedTaskPriorities = map[string]struct{}{
	"low":    {},
	"medium": {},
	"high":   {},
	"urgent": {},
}

type TaskInput struct {
	ProjectID   string `json:"projectId"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	AssignedTo  string `json:"assignedTo"`
	DueDate     string `json:"dueDate"` // RFC 3339 or YYYY-MM-DD
}

type TaskUpdateInput struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Priority    *string `json:"priority"`
	AssignedTo  *string `json:"assignedTo"`
	DueDate     *string `json:"dueDate"`
}

func taskPayload(t store.Task) map[string]any {
	payload := map[string]any{
		"id":          t.ID,
		"projectId":   t.ProjectID,
		"title":       t.Title,
		"description": t.Description,
		"status":      t.Status,
		"priority":    t.Priority,
		"createdBy":   t.CreatedBy,
		"createdAt":   t.CreatedAt.Format(time.RFC3339),
		"updatedAt":   t.UpdatedAt.Format(time.RFC3339),
	}
	if t.AssignedTo != nil {
		payload["assignedTo"] = *t.AssignedTo
	}
	if t.DueDate != nil {
		payload["dueDate"] = t.DueDate.Format(time.RFC3339)
	}
	return payload
}

func parseDueDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, validationError("dueDate must be RFC 3339 or YYYY-MM-DD")
}

func (s *Service) CreateTask(ctx context.Context, session Session, input TaskInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, validationError("title is required")
	}
	project, _, err := s.authorizeProject(ctx, session, input.ProjectID)
	if err != nil {
		return nil, err
	}

	status := strings.TrimSpace(input.Status)
	if status == "" {
		status = "todo"
	}
	if _, ok := allowedTaskStatuses[status]; !ok {
		return nil, validationError("invalid status")
	}
	priority := strings.TrimSpace(input.Priority)
	if priority == "" {
		priority = "medium"
	}
	if _, ok := allowedTaskPriorities[priority]; !ok {
		return nil, validationError("invalid priority")
	}

	dueDate, err := parseDueDate(input.DueDate)
	if err != nil {
		return nil, err
	}

	task := store.Task{
		ID:          util.NewID("task"),
		ProjectID:   project.ID,
		Title:       title,
		Description: strings.TrimSpace(input.Description),
		Status:      status,
		Priority:    priority,
		DueDate:     dueDate,
		CreatedBy:   session.UserID,
	}
	if assignee := strings.TrimSpace(input.AssignedTo); assignee != "" {
		if _, err := s.store.GetUserByID(ctx, assignee); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, notFoundError("Assignee not found")
			}
			return nil, err
		}
		task.AssignedTo = &assignee
	}

	if err := s.store.InsertTask(ctx, task); err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexTask(search.TaskRecord{
			ID:          task.ID,
			Title:       task.Title,
			Description: task.Description,
			ProjectID:   task.ProjectID,
			Status:      task.Status,
			Priority:    task.Priority,
		})
	}

	if task.AssignedTo != nil && *task.AssignedTo != session.UserID && s.notifier != nil {
		_ = s.notifier.Dispatch(ctx, notify.Event{
			Kind:        notify.KindTaskAssigned,
			UserID:      *task.AssignedTo,
			Title:       "You were assigned a task",
			Body:        fmt.Sprintf("%s assigned you %q in %s.", session.UserName, task.Title, project.Name),
			EntityType:  "task",
			EntityID:    task.ID,
			ProjectName: project.Name,
		})
	}

	created, err := s.store.GetTask(ctx, task.ID)
	if err != nil {
		created = task
	}
	return taskPayload(created), nil
}

func (s *Service) GetTask(ctx context.Context, session Session, taskID string) (map[string]any, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("Task not found")
		}
		return nil, err
	}
	if _, _, err := s.authorizeProject(ctx, session, task.ProjectID); err != nil {
		return nil, err
	}
	return taskPayload(task), nil
}

func (s *Service) ListProjectTasks(ctx context.Context, session Session, projectID string) ([]map[string]any, error) {
	if _, _, err := s.authorizeProject(ctx, session, projectID); err != nil {
		return nil, err
	}
	tasks, err := s.store.ListProjectTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, taskPayload(t))
	}
	return items, nil
}

func (s *Service) UpdateTask(ctx context.Context, session Session, taskID string, input TaskUpdateInput) (map[string]any, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("Task not found")
		}
		return nil, err
	}
	project, _, err := s.authorizeProject(ctx, session, task.ProjectID)
	if err != nil {
		return nil, err
	}

	update := store.TaskUpdate{
		Title:       input.Title,
		Description: input.Description,
	}
	if input.Status != nil {
		if _, ok := allowedTaskStatuses[*input.Status]; !ok {
			return nil, validationError("invalid status")
		}
		update.Status = input.Status
	}
	if input.Priority != nil {
		if _, ok := allowedTaskPriorities[*input.Priority]; !ok {
			return nil, validationError("invalid priority")
		}
		update.Priority = input.Priority
	}
	if input.DueDate != nil {
		dueDate, err := parseDueDate(*input.DueDate)
		if err != nil {
			return nil, err
		}
		update.DueDate = dueDate
	}

	var newAssignee string
	if input.AssignedTo != nil {
		assignee := strings.TrimSpace(*input.AssignedTo)
		if assignee != "" {
			if _, err := s.store.GetUserByID(ctx, assignee); err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return nil, notFoundError("Assignee not found")
				}
				return nil, err
			}
			previouslyAssigned := task.AssignedTo != nil && *task.AssignedTo == assignee
			if !previouslyAssigned {
				newAssignee = assignee
			}
		}
		update.AssignedTo = &assignee
	}

	if err := s.store.UpdateTask(ctx, taskID, update); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("Task not found")
		}
		return nil, err
	}

	updated, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexTask(search.TaskRecord{
			ID:          updated.ID,
			Title:       updated.Title,
			Description: updated.Description,
			ProjectID:   updated.ProjectID,
			Status:      updated.Status,
			Priority:    updated.Priority,
		})
	}

	if newAssignee != "" && newAssignee != session.UserID && s.notifier != nil {
		_ = s.notifier.Dispatch(ctx, notify.Event{
			Kind:        notify.KindTaskAssigned,
			UserID:      newAssignee,
			Title:       "You were assigned a task",
			Body:        fmt.Sprintf("%s assigned you %q in %s.", session.UserName, updated.Title, project.Name),
			EntityType:  "task",
			EntityID:    updated.ID,
			ProjectName: project.Name,
		})
	}

	return taskPayload(updated), nil
}

func (s *Service) DeleteTask(ctx context.Context, session Session, taskID string) error {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("Task not found")
		}
		return err
	}
	if _, _, err := s.authorizeProject(ctx, session, task.ProjectID); err != nil {
		return err
	}
	if err := s.store.DeleteTask(ctx, taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("Task not found")
		}
		return err
	}
	if s.search != nil {
		s.search.DeleteTask(taskID)
	}
	return nil
}

type SubtaskInput struct {
	TaskID string `json:"taskId"`
	Title  string `json:"title"`
	Done   bool   `json:"done"`
}

func subtaskPayload(st store.Subtask) map[string]any {
	return map[string]any{
		"id":        st.ID,
		"taskId":    st.TaskID,
		"title":     st.Title,
		"done":      st.Done,
		"createdBy": st.CreatedBy,
		"createdAt": st.CreatedAt.Format(time.RFC3339),
	}
}

// authorizeSubtaskTask resolves a subtask's parent task and checks project access.
func (s *Service) authorizeTask(ctx context.Context, session Session, taskID string) (store.Task, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Task{}, notFoundError("Task not found")
		}
		return store.Task{}, err
	}
	if _, _, err := s.authorizeProject(ctx, session, task.ProjectID); err != nil {
		return store.Task{}, err
	}
	return task, nil
}

func (s *Service) CreateSubtask(ctx context.Context, session Session, input SubtaskInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, validationError("title is required")
	}
	if strings.TrimSpace(input.TaskID) == "" {
		return nil, validationError("taskId is required")
	}
	if _, err := s.authorizeTask(ctx, session, input.TaskID); err != nil {
		return nil, err
	}

	subtask := store.Subtask{
		ID:        util.NewID("sub"),
		TaskID:    input.TaskID,
		Title:     title,
		Done:      input.Done,
		CreatedBy: session.UserID,
	}
	if err := s.store.InsertSubtask(ctx, subtask); err != nil {
		return nil, err
	}
	return subtaskPayload(subtask), nil
}

func (s *Service) ListTaskSubtasks(ctx context.Context, session Session, taskID string) ([]map[string]any, error) {
	if _, err := s.authorizeTask(ctx, session, taskID); err != nil {
		return nil, err
	}
	subtasks, err := s.store.ListTaskSubtasks(ctx, taskID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(subtasks))
	for _, st := range subtasks {
		items = append(items, subtaskPayload(st))
	}
	return items, nil
}

func (s *Service) UpdateSubtask(ctx context.Context, session Session, subtaskID string, input SubtaskInput) (map[string]any, error) {
	subtask, err := s.store.GetSubtask(ctx, subtaskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("Subtask not found")
		}
		return nil, err
	}
	if _, err := s.authorizeTask(ctx, session, subtask.TaskID); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = subtask.Title
	}
	if err := s.store.UpdateSubtask(ctx, subtaskID, title, input.Done); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("Subtask not found")
		}
		return nil, err
	}

	subtask.Title = title
	subtask.Done = input.Done
	return subtaskPayload(subtask), nil
}

func (s *Service) DeleteSubtask(ctx context.Context, session Session, subtaskID string) error {
	subtask, err := s.store.GetSubtask(ctx, subtaskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("Subtask not found")
		}
		return err
	}
	if _, err := s.authorizeTask(ctx, session, subtask.TaskID); err != nil {
		return err
	}
	if err := s.store.DeleteSubtask(ctx, subtaskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("Subtask not found")
		}
		return err
	}
	return nil
}
