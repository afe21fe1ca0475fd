package app

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"planroom/api/internal/access"
	"planroom/api/internal/store"
)

func userPayload(u store.User) map[string]any {
	payload := map[string]any{
		"id":              u.ID,
		"displayName":     u.DisplayName,
		"email":           u.Email,
		"role":            u.Role,
		"companyId":       u.CompanyID,
		"isEmailVerified": u.IsEmailVerified,
		"createdAt":       u.CreatedAt.Format(time.RFC3339),
	}
	if u.DeactivatedAt != nil {
		payload["deactivatedAt"] = u.DeactivatedAt.Format(time.RFC3339)
	}
	return payload
}

func (s *Service) CurrentUser(ctx context.Context, session Session) (map[string]any, error) {
	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("User not found")
		}
		return nil, err
	}
	return userPayload(user), nil
}

type ProfileInput struct {
	DisplayName string `json:"displayName"`
}

func (s *Service) UpdateProfile(ctx context.Context, session Session, input ProfileInput) (map[string]any, error) {
	displayName := strings.TrimSpace(input.DisplayName)
	if displayName == "" {
		return nil, validationError("displayName is required")
	}
	if err := s.store.UpdateUserProfile(ctx, session.UserID, displayName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("User not found")
		}
		return nil, err
	}
	return s.CurrentUser(ctx, session)
}

// ListCompanyUsers returns the user directory of the caller's own company.
func (s *Service) ListCompanyUsers(ctx context.Context, session Session) ([]map[string]any, error) {
	if session.CompanyID == "" {
		return []map[string]any{}, nil
	}
	users, err := s.store.ListCompanyUsers(ctx, session.CompanyID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, u := range users {
		items = append(items, userPayload(u))
	}
	return items, nil
}

// DeactivateUser is admin-only and company-scoped. Deactivated users keep
// their rows (authorship history stays intact) but can no longer sign in.
func (s *Service) DeactivateUser(ctx context.Context, session Session, userID string) error {
	if access.NormalizeGlobal(session.Role) != access.GlobalAdmin || session.CompanyID == "" {
		return forbiddenError()
	}
	if userID == session.UserID {
		return validationError("cannot deactivate yourself")
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("User not found")
		}
		return err
	}
	if user.CompanyID != session.CompanyID {
		return forbiddenError()
	}
	if err := s.store.DeactivateUser(ctx, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("User not found")
		}
		return err
	}
	return nil
}

func (s *Service) GetCompany(ctx context.Context, session Session) (map[string]any, error) {
	if session.CompanyID == "" {
		return nil, notFoundError("Company not found")
	}
	company, err := s.store.GetCompany(ctx, session.CompanyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError("Company not found")
		}
		return nil, err
	}
	return map[string]any{
		"id":        company.ID,
		"name":      company.Name,
		"createdAt": company.CreatedAt.Format(time.RFC3339),
	}, nil
}
