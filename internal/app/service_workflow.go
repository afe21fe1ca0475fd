package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"planroom/api/internal/access"
	"planroom/api/internal/notify"
	"planroom/api/internal/store"
	"planroom/api/internal/util"
)

var allowedApprovalStatuses = map[string]struct{}{
	"draft":                {},
	"submitted":            {},
	"in_review":            {},
	"corrections_required": {},
	"approved":             {},
	"rejected":             {},
}

type CityApprovalInput struct {
	ProjectID   string `json:"projectId"`
	Authority   string `json:"authority"`
	ReferenceNo string `json:"referenceNo"`
	Status      string `json:"status"`
	Notes       string `json:"notes"`
}

type CityApprovalUpdateInput struct {
	Authority   *string `json:"authority"`
	ReferenceNo *string `json:"referenceNo"`
	Status      *string `json:"status"`
	Notes       *string `json:"notes"`
}

func cityApprovalPayload(a store.CityApproval) map[string]any {
	payload := map[string]any{
		"id":          a.ID,
		"projectId":   a.ProjectID,
		"authority":   a.Authority,
		"referenceNo": a.ReferenceNo,
		"status":      a.Status,
		"notes":       a.Notes,
		"createdBy":   a.CreatedBy,
		"createdAt":   a.CreatedAt.Format(time.RFC3339),
		"updatedAt":   a.UpdatedAt.Format(time.RFC3339),
	}
	if a.SubmittedAt != nil {
		payload["submittedAt"] = a.SubmittedAt.Format(time.RFC3339)
	}
	if a.DecidedAt != nil {
		payload["decidedAt"] = a.DecidedAt.Format(time.RFC3339)
	}
	return payload
}

func (s *Service) CreateCityApproval(ctx context.Context, session Session, input CityApprovalInput) (map[string]any, error) {
	authority := strings.TrimSpace(input.Authority)
	if authority == "" {
		return nil, validationError("authority is required")
	}
	project, _, err := s.requireProjectManager(ctx, session, input.ProjectID)
	if err != nil {
		return nil, err
	}

	status := strings.TrimSpace(input.Status)
	if status == "" {
		status = "draft"
	}
	if _, ok := allowedApprovalStatuses[status]; !ok {
		return nil, validationError("invalid status")
	}

	approval := store.CityApproval{
		ID:          util.NewID("appr"),
		ProjectID:   project.ID,
		Authority:   authority,
		ReferenceNo: strings.TrimSpace(input.ReferenceNo),
		Status:      status,
		Notes:       input.Notes,
		CreatedBy:   session.UserID,
	}
	if err := s.store.InsertCityApproval(ctx, approval); err != nil {
		return nil, err
	}

	created, err := s.store.GetCityApproval(ctx, approval.ID)
	if err != nil {
		created = approval
	}
	return cityApprovalPayload(created), nil
}

func (s *Service) GetCityApproval(ctx context.Context, session Session, approvalID string) (map[string]any, error) {
	approval, err := s.store.GetCityApproval(ctx, approvalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("City approval not found")
		}
		return nil, err
	}
	if _, _, err := s.authorizeProject(ctx, session, approval.ProjectID); err != nil {
		return nil, err
	}
	return cityApprovalPayload(approval), nil
}

func (s *Service) ListProjectCityApprovals(ctx context.Context, session Session, projectID string) ([]map[string]any, error) {
	if _, _, err := s.authorizeProject(ctx, session, projectID); err != nil {
		return nil, err
	}
	approvals, err := s.store.ListProjectCityApprovals(ctx, projectID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(approvals))
	for _, a := range approvals {
		items = append(items, cityApprovalPayload(a))
	}
	return items, nil
}

func (s *Service) UpdateCityApproval(ctx context.Context, session Session, approvalID string, input CityApprovalUpdateInput) (map[string]any, error) {
	approval, err := s.store.GetCityApproval(ctx, approvalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("City approval not found")
		}
		return nil, err
	}
	project, _, err := s.requireProjectManager(ctx, session, approval.ProjectID)
	if err != nil {
		return nil, err
	}

	update := store.CityApprovalUpdate{
		Authority:   input.Authority,
		ReferenceNo: input.ReferenceNo,
		Notes:       input.Notes,
	}
	statusChanged := false
	if input.Status != nil {
		if _, ok := allowedApprovalStatuses[*input.Status]; !ok {
			return nil, validationError("invalid status")
		}
		statusChanged = *input.Status != approval.Status
		update.Status = input.Status
	}

	if err := s.store.UpdateCityApproval(ctx, approvalID, update); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("City approval not found")
		}
		return nil, err
	}

	updated, err := s.store.GetCityApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	if statusChanged {
		s.notifyProjectMembers(ctx, project, session.UserID, notify.Event{
			Kind:       notify.KindApprovalStatus,
			Title:      "City approval status changed",
			Body:       fmt.Sprintf("The %s approval for %s is now %s.", updated.Authority, project.Name, humanApprovalStatus(updated.Status)),
			EntityType: "city_approval",
			EntityID:   updated.ID,
		})
	}

	return cityApprovalPayload(updated), nil
}

func (s *Service) DeleteCityApproval(ctx context.Context, session Session, approvalID string) error {
	approval, err := s.store.GetCityApproval(ctx, approvalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("City approval not found")
		}
		return err
	}
	if _, _, err := s.requireProjectManager(ctx, session, approval.ProjectID); err != nil {
		return err
	}
	if err := s.store.DeleteCityApproval(ctx, approvalID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("City approval not found")
		}
		return err
	}
	return nil
}

func humanApprovalStatus(status string) string {
	return strings.ReplaceAll(status, "_", " ")
}

type CorrectionInput struct {
	ApprovalID  string `json:"approvalId"`
	Description string `json:"description"`
}

func correctionPayload(c store.Correction) map[string]any {
	payload := map[string]any{
		"id":          c.ID,
		"approvalId":  c.ApprovalID,
		"description": c.Description,
		"status":      c.Status,
		"createdBy":   c.CreatedBy,
		"createdAt":   c.CreatedAt.Format(time.RFC3339),
	}
	if c.ResolvedAt != nil {
		payload["resolvedAt"] = c.ResolvedAt.Format(time.RFC3339)
	}
	return payload
}

// authorizeApproval resolves an approval and checks access to its project.
func (s *Service) authorizeApproval(ctx context.Context, session Session, approvalID string) (store.CityApproval, store.Project, access.Decision, error) {
	approval, err := s.store.GetCityApproval(ctx, approvalID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.CityApproval{}, store.Project{}, access.Decision{}, notFoundError("City approval not found")
		}
		return store.CityApproval{}, store.Project{}, access.Decision{}, err
	}
	project, decision, err := s.authorizeProject(ctx, session, approval.ProjectID)
	if err != nil {
		return store.CityApproval{}, store.Project{}, access.Decision{}, err
	}
	return approval, project, decision, nil
}

func (s *Service) CreateCorrection(ctx context.Context, session Session, input CorrectionInput) (map[string]any, error) {
	description := strings.TrimSpace(input.Description)
	if description == "" {
		return nil, validationError("description is required")
	}
	if strings.TrimSpace(input.ApprovalID) == "" {
		return nil, validationError("approvalId is required")
	}
	approval, project, decision, err := s.authorizeApproval(ctx, session, input.ApprovalID)
	if err != nil {
		return nil, err
	}
	if !access.CanManage(decision.Role) {
		return nil, forbiddenError()
	}

	correction := store.Correction{
		ID:          util.NewID("corr"),
		ApprovalID:  approval.ID,
		Description: description,
		Status:      "open",
		CreatedBy:   session.UserID,
	}
	if err := s.store.InsertCorrection(ctx, correction); err != nil {
		return nil, err
	}

	// An open correction means the authority is waiting on revisions.
	if approval.Status != "corrections_required" {
		status := "corrections_required"
		if err := s.store.UpdateCityApproval(ctx, approval.ID, store.CityApprovalUpdate{Status: &status}); err == nil {
			s.notifyProjectMembers(ctx, project, session.UserID, notify.Event{
				Kind:       notify.KindApprovalStatus,
				Title:      "City approval status changed",
				Body:       fmt.Sprintf("The %s approval for %s is now corrections required.", approval.Authority, project.Name),
				EntityType: "city_approval",
				EntityID:   approval.ID,
			})
		}
	}

	created, err := s.store.GetCorrection(ctx, correction.ID)
	if err != nil {
		created = correction
	}
	return correctionPayload(created), nil
}

func (s *Service) ListApprovalCorrections(ctx context.Context, session Session, approvalID string) ([]map[string]any, error) {
	if _, _, _, err := s.authorizeApproval(ctx, session, approvalID); err != nil {
		return nil, err
	}
	corrections, err := s.store.ListApprovalCorrections(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(corrections))
	for _, c := range corrections {
		items = append(items, correctionPayload(c))
	}
	return items, nil
}

func (s *Service) ResolveCorrection(ctx context.Context, session Session, correctionID string) (map[string]any, error) {
	correction, err := s.store.GetCorrection(ctx, correctionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("Correction not found")
		}
		return nil, err
	}
	if _, _, _, err := s.authorizeApproval(ctx, session, correction.ApprovalID); err != nil {
		return nil, err
	}
	if correction.Status == "resolved" {
		return correctionPayload(correction), nil
	}
	if err := s.store.ResolveCorrection(ctx, correctionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("Correction not found")
		}
		return nil, err
	}
	resolved, err := s.store.GetCorrection(ctx, correctionID)
	if err != nil {
		return nil, err
	}
	return correctionPayload(resolved), nil
}

func (s *Service) DeleteCorrection(ctx context.Context, session Session, correctionID string) error {
	correction, err := s.store.GetCorrection(ctx, correctionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("Correction not found")
		}
		return err
	}
	_, _, decision, err := s.authorizeApproval(ctx, session, correction.ApprovalID)
	if err != nil {
		return err
	}
	if !access.CanManage(decision.Role) {
		return forbiddenError()
	}
	if err := s.store.DeleteCorrection(ctx, correctionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("Correction not found")
		}
		return err
	}
	return nil
}
