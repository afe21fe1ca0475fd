package export

import (
	"context"
	"fmt"
	"time"

	"planroom/api/internal/store"
)

// DataStore defines the interface for data access
type DataStore interface {
	GetProject(ctx context.Context, projectID string) (store.Project, error)
	GetCompany(ctx context.Context, companyID string) (store.Company, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	ListProjectTasks(ctx context.Context, projectID string) ([]store.Task, error)
	ListProjectCityApprovals(ctx context.Context, projectID string) ([]store.CityApproval, error)
	ListLatestDocuments(ctx context.Context, projectID string) ([]store.Document, error)
}

// Service generates project status reports
type Service struct {
	store DataStore
}

// NewService creates a new export service
func NewService(store DataStore) *Service {
	return &Service{store: store}
}

// Export generates a status report in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	project, err := s.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	data := TemplateData{
		ProjectName: project.Name,
		Status:      project.Status,
		Address:     project.Address,
		Description: project.Description,
		GeneratedAt: time.Now(),
	}

	if project.CompanyID != "" {
		if company, err := s.store.GetCompany(ctx, project.CompanyID); err == nil {
			data.CompanyName = company.Name
		}
	}

	if req.IncludeTasks {
		tasks, err := s.store.ListProjectTasks(ctx, req.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("list tasks: %w", err)
		}
		for _, t := range tasks {
			row := TemplateTask{
				Title:    t.Title,
				Status:   t.Status,
				Priority: t.Priority,
			}
			if t.AssignedTo != nil {
				if u, err := s.store.GetUserByID(ctx, *t.AssignedTo); err == nil {
					row.Assignee = u.DisplayName
				}
			}
			if t.DueDate != nil {
				row.DueDate = t.DueDate.Format("Jan 2, 2006")
			}
			data.Tasks = append(data.Tasks, row)
		}
	}

	if req.IncludeApprovals {
		approvals, err := s.store.ListProjectCityApprovals(ctx, req.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("list approvals: %w", err)
		}
		for _, a := range approvals {
			row := TemplateApproval{
				Authority: a.Authority,
				Status:    a.Status,
				Reference: a.ReferenceNo,
				Notes:     a.Notes,
			}
			if a.SubmittedAt != nil {
				row.SubmittedAt = a.SubmittedAt.Format("Jan 2, 2006")
			}
			if a.DecidedAt != nil {
				row.DecidedAt = a.DecidedAt.Format("Jan 2, 2006")
			}
			data.Approvals = append(data.Approvals, row)
		}
	}

	if req.IncludeDocuments {
		documents, err := s.store.ListLatestDocuments(ctx, req.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		for _, d := range documents {
			data.Documents = append(data.Documents, TemplateDocument{
				Name:       d.Name,
				Version:    d.Version,
				UploadedAt: d.CreatedAt.Format("Jan 2, 2006"),
			})
		}
	}

	html, err := RenderReportHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	title := project.Name + " Status Report"
	switch req.Format {
	case FormatPDF:
		return exportPDF(html, title)
	case FormatDOCX:
		return exportDOCX(html, title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}
