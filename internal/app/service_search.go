package app

import (
	"context"

	"planroom/api/internal/access"
	"planroom/api/internal/search"
)

// Search runs a scoped search across projects, tasks and latest document
// versions. The scope is the caller's accessible project set, computed the
// same way ListProjects computes it, so search can never leak entities from
// projects the caller could not open directly.
func (s *Service) Search(ctx context.Context, session Session, text, filterType, filterProjectID string, limit, offset int) (map[string]any, error) {
	if s.search == nil {
		return map[string]any{"results": []search.Result{}, "total": 0}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	var allowed []string
	if filterProjectID != "" {
		if _, _, err := s.authorizeProject(ctx, session, filterProjectID); err != nil {
			return nil, err
		}
		allowed = []string{filterProjectID}
	} else {
		isAdmin := access.NormalizeGlobal(session.Role) == access.GlobalAdmin && session.CompanyID != ""
		projects, err := s.store.ListProjectsForUser(ctx, session.UserID, session.CompanyID, isAdmin)
		if err != nil {
			return nil, err
		}
		allowed = make([]string, 0, len(projects))
		for _, p := range projects {
			allowed = append(allowed, p.ID)
		}
	}

	response := s.search.Search(search.Query{
		Text:              text,
		FilterType:        search.ResultType(filterType),
		FilterProjectID:   filterProjectID,
		AllowedProjectIDs: allowed,
		Limit:             limit,
		Offset:            offset,
	})
	return map[string]any{"results": response.Results, "total": response.Total, "query": response.Query}, nil
}
