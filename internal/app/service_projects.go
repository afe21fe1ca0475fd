package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"planroom/api/internal/access"
	"planroom/api/internal/export"
	"planroom/api/internal/search"
	"planroom/api/internal/store"
	"planroom/api/internal/util"
)

var allowedProjectStatuses = map[string]struct{}{
	"planning":  {},
	"active":    {},
	"on_hold":   {},
	"completed": {},
	"cancelled": {},
}

// authorizeProject loads the project and evaluates the caller's effective
// role. Returns NotFound when the project does not exist and Forbidden when
// the caller has no access path to it.
func (s *Service) authorizeProject(ctx context.Context, session Session, projectID string) (store.Project, access.Decision, error) {
	if strings.TrimSpace(projectID) == "" {
		return store.Project{}, access.Decision{}, validationError("project_id is required")
	}

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Project{}, access.Decision{}, notFoundError("Project not found")
		}
		return store.Project{}, access.Decision{}, err
	}

	identity := access.Identity{
		UserID:    session.UserID,
		CompanyID: session.CompanyID,
		Role:      access.NormalizeGlobal(session.Role),
	}
	ref := access.Project{
		ID:        project.ID,
		CompanyID: project.CompanyID,
		CreatedBy: project.CreatedBy,
	}

	var membership *access.ProjectRole
	role, found, err := s.store.GetProjectMemberRole(ctx, project.ID, session.UserID)
	if err != nil {
		return store.Project{}, access.Decision{}, err
	}
	if found {
		normalized := access.NormalizeProject(role)
		membership = &normalized
	}

	decision := access.Evaluate(identity, ref, membership)
	if !decision.Allowed {
		return store.Project{}, access.Decision{}, forbiddenError()
	}
	return project, decision, nil
}

// requireProjectManager is the second authorization tier for mutations.
func (s *Service) requireProjectManager(ctx context.Context, session Session, projectID string) (store.Project, access.Decision, error) {
	project, decision, err := s.authorizeProject(ctx, session, projectID)
	if err != nil {
		return store.Project{}, access.Decision{}, err
	}
	if !access.CanManage(decision.Role) {
		return store.Project{}, access.Decision{}, forbiddenError()
	}
	return project, decision, nil
}

type ProjectInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Address     string `json:"address"`
}

func projectPayload(p store.Project, myRole access.ProjectRole) map[string]any {
	return map[string]any{
		"id":          p.ID,
		"companyId":   p.CompanyID,
		"name":        p.Name,
		"description": p.Description,
		"status":      p.Status,
		"address":     p.Address,
		"createdBy":   p.CreatedBy,
		"createdAt":   p.CreatedAt.Format(time.RFC3339),
		"updatedAt":   p.UpdatedAt.Format(time.RFC3339),
		"my_role":     string(myRole),
	}
}

func (s *Service) CreateProject(ctx context.Context, session Session, input ProjectInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, validationError("name is required")
	}
	status := strings.TrimSpace(input.Status)
	if status == "" {
		status = "planning"
	}
	if _, ok := allowedProjectStatuses[status]; !ok {
		return nil, validationError("invalid status")
	}

	project := store.Project{
		ID:          util.NewID("proj"),
		CompanyID:   session.CompanyID,
		Name:        name,
		Description: strings.TrimSpace(input.Description),
		Status:      status,
		Address:     strings.TrimSpace(input.Address),
		CreatedBy:   session.UserID,
	}
	if err := s.store.InsertProject(ctx, project); err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexProject(search.ProjectRecord{
			ID:          project.ID,
			Name:        project.Name,
			Description: project.Description,
			Address:     project.Address,
			Status:      project.Status,
		})
	}

	created, err := s.store.GetProject(ctx, project.ID)
	if err != nil {
		created = project
	}
	return projectPayload(created, access.RoleOwner), nil
}

func (s *Service) GetProject(ctx context.Context, session Session, projectID string) (map[string]any, error) {
	project, decision, err := s.authorizeProject(ctx, session, projectID)
	if err != nil {
		return nil, err
	}
	return projectPayload(project, decision.Role), nil
}

func (s *Service) ListProjects(ctx context.Context, session Session) ([]map[string]any, error) {
	isAdmin := access.NormalizeGlobal(session.Role) == access.GlobalAdmin && session.CompanyID != ""
	projects, err := s.store.ListProjectsForUser(ctx, session.UserID, session.CompanyID, isAdmin)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(projects))
	for _, project := range projects {
		identity := access.Identity{
			UserID:    session.UserID,
			CompanyID: session.CompanyID,
			Role:      access.NormalizeGlobal(session.Role),
		}
		var membership *access.ProjectRole
		role, found, err := s.store.GetProjectMemberRole(ctx, project.ID, session.UserID)
		if err != nil {
			return nil, err
		}
		if found {
			normalized := access.NormalizeProject(role)
			membership = &normalized
		}
		decision := access.Evaluate(identity, access.Project{
			ID:        project.ID,
			CompanyID: project.CompanyID,
			CreatedBy: project.CreatedBy,
		}, membership)
		items = append(items, projectPayload(project, decision.Role))
	}
	return items, nil
}

func (s *Service) UpdateProject(ctx context.Context, session Session, projectID string, input ProjectInput) (map[string]any, error) {
	_, decision, err := s.requireProjectManager(ctx, session, projectID)
	if err != nil {
		return nil, err
	}

	update := store.ProjectUpdate{}
	if name := strings.TrimSpace(input.Name); name != "" {
		update.Name = &name
	}
	if input.Description != "" {
		desc := strings.TrimSpace(input.Description)
		update.Description = &desc
	}
	if input.Address != "" {
		addr := strings.TrimSpace(input.Address)
		update.Address = &addr
	}
	if status := strings.TrimSpace(input.Status); status != "" {
		if _, ok := allowedProjectStatuses[status]; !ok {
			return nil, validationError("invalid status")
		}
		update.Status = &status
	}

	if err := s.store.UpdateProject(ctx, projectID, update); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("Project not found")
		}
		return nil, err
	}

	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if s.search != nil {
		s.search.IndexProject(search.ProjectRecord{
			ID:          project.ID,
			Name:        project.Name,
			Description: project.Description,
			Address:     project.Address,
			Status:      project.Status,
		})
	}
	return projectPayload(project, decision.Role), nil
}

func (s *Service) DeleteProject(ctx context.Context, session Session, projectID string) error {
	if _, _, err := s.requireProjectManager(ctx, session, projectID); err != nil {
		return err
	}

	// Collect file keys before the cascade wipes the document rows.
	var fileKeys []string
	if s.files != nil {
		documents, err := s.store.ListLatestDocuments(ctx, projectID)
		if err == nil {
			for _, doc := range documents {
				history, err := s.store.ListDocumentHistory(ctx, doc.ID)
				if err != nil {
					continue
				}
				for _, version := range history {
					if version.FileKey != "" {
						fileKeys = append(fileKeys, version.FileKey)
					}
				}
			}
		}
	}

	if err := s.store.DeleteProject(ctx, projectID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("Project not found")
		}
		return err
	}

	for _, key := range fileKeys {
		_ = s.files.Remove(ctx, key)
	}
	if s.search != nil {
		s.search.DeleteProject(projectID)
	}
	return nil
}

type MemberInput struct {
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`
	Role      string `json:"role"`
}

func memberPayload(m store.ProjectMember) map[string]any {
	return map[string]any{
		"id":        m.ID,
		"projectId": m.ProjectID,
		"userId":    m.UserID,
		"role":      m.Role,
		"addedBy":   m.AddedBy,
		"userName":  m.UserName,
		"userEmail": m.UserEmail,
		"createdAt": m.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Service) ListProjectMembers(ctx context.Context, session Session, projectID string) ([]map[string]any, error) {
	if _, _, err := s.authorizeProject(ctx, session, projectID); err != nil {
		return nil, err
	}
	members, err := s.store.ListProjectMembers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(members))
	for _, m := range members {
		items = append(items, memberPayload(m))
	}
	return items, nil
}

func (s *Service) AddProjectMember(ctx context.Context, session Session, input MemberInput) (map[string]any, error) {
	if strings.TrimSpace(input.UserID) == "" {
		return nil, validationError("userId is required")
	}
	if _, _, err := s.requireProjectManager(ctx, session, input.ProjectID); err != nil {
		return nil, err
	}

	if _, err := s.store.GetUserByID(ctx, input.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("User not found")
		}
		return nil, err
	}

	role := access.NormalizeProject(input.Role)
	member := store.ProjectMember{
		ID:        util.NewID("pmem"),
		ProjectID: input.ProjectID,
		UserID:    input.UserID,
		Role:      string(role),
		AddedBy:   session.UserID,
	}
	if err := s.store.InsertProjectMember(ctx, member); err != nil {
		if store.IsUniqueViolation(err) {
			return nil, conflictError("User is already a member of this project")
		}
		return nil, err
	}
	return memberPayload(member), nil
}

func (s *Service) UpdateProjectMemberRole(ctx context.Context, session Session, input MemberInput) error {
	if strings.TrimSpace(input.UserID) == "" {
		return validationError("userId is required")
	}
	if _, _, err := s.requireProjectManager(ctx, session, input.ProjectID); err != nil {
		return err
	}
	role := access.NormalizeProject(input.Role)
	if err := s.store.UpdateProjectMemberRole(ctx, input.ProjectID, input.UserID, string(role)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("Membership not found")
		}
		return err
	}
	return nil
}

func (s *Service) RemoveProjectMember(ctx context.Context, session Session, projectID, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return validationError("userId is required")
	}
	if _, _, err := s.requireProjectManager(ctx, session, projectID); err != nil {
		return err
	}
	if err := s.store.DeleteProjectMember(ctx, projectID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("Membership not found")
		}
		return err
	}
	return nil
}

// ExportProjectReport renders a status report for download.
func (s *Service) ExportProjectReport(ctx context.Context, session Session, projectID, format string) (*export.Result, error) {
	if _, _, err := s.authorizeProject(ctx, session, projectID); err != nil {
		return nil, err
	}

	var f export.Format
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "pdf":
		f = export.FormatPDF
	case "docx":
		f = export.FormatDOCX
	default:
		return nil, validationError("format must be pdf or docx")
	}

	result, err := s.export.Export(ctx, export.Request{
		ProjectID:        projectID,
		Format:           f,
		IncludeTasks:     true,
		IncludeApprovals: true,
		IncludeDocuments: true,
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
