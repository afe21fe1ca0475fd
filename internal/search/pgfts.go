package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across projects, tasks, and documents
// using plainto_tsquery and ts_rank, with ts_headline for snippets. Results
// are restricted to the caller's allowed projects.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	if len(q.AllowedProjectIDs) == 0 {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	inList := func(column string) string {
		placeholders := make([]string, len(q.AllowedProjectIDs))
		for i, id := range q.AllowedProjectIDs {
			placeholders[i] = fmt.Sprintf("$%d", argN)
			args = append(args, id)
			argN++
		}
		return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", "))
	}

	var subQueries []string

	// Projects sub-query
	if q.FilterType == "" || q.FilterType == ResultProject {
		projWhere := "p.fts @@ " + tsQuery + " AND " + inList("p.id")
		if q.FilterProjectID != "" {
			projWhere += fmt.Sprintf(" AND p.id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'project'::text AS type, p.id, p.name AS title,
				ts_headline('english', coalesce(p.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				p.id AS project_id, p.status,
				ts_rank(p.fts, %s) AS rank
			FROM projects p
			WHERE %s`, tsQuery, tsQuery, projWhere))
	}

	// Tasks sub-query
	if q.FilterType == "" || q.FilterType == ResultTask {
		taskWhere := "t.fts @@ " + tsQuery + " AND " + inList("t.project_id")
		if q.FilterProjectID != "" {
			taskWhere += fmt.Sprintf(" AND t.project_id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'task'::text AS type, t.id, t.title,
				ts_headline('english', coalesce(t.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				t.project_id, t.status,
				ts_rank(t.fts, %s) AS rank
			FROM tasks t
			WHERE %s`, tsQuery, tsQuery, taskWhere))
	}

	// Documents sub-query, latest versions only
	if q.FilterType == "" || q.FilterType == ResultDocument {
		docWhere := "d.fts @@ " + tsQuery + " AND d.is_latest = TRUE AND " + inList("d.project_id")
		if q.FilterProjectID != "" {
			docWhere += fmt.Sprintf(" AND d.project_id = $%d", argN)
			args = append(args, q.FilterProjectID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'document'::text AS type, d.id, d.name AS title,
				''::text AS snippet,
				d.project_id, ''::text AS status,
				ts_rank(d.fts, %s) AS rank
			FROM documents d
			WHERE %s`, tsQuery, docWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	// Count query
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	// Data query
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, project_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ProjectID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ProjectRecord, []TaskRecord, []DocumentRecord, error) {
	projRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, coalesce(description, ''), coalesce(address, ''), status
		FROM projects
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load projects: %w", err)
	}
	defer projRows.Close()

	projects := make([]ProjectRecord, 0)
	for projRows.Next() {
		var p ProjectRecord
		if err := projRows.Scan(&p.ID, &p.Name, &p.Description, &p.Address, &p.Status); err != nil {
			return nil, nil, nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := projRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate projects: %w", err)
	}

	taskRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, coalesce(description, ''), project_id, status, priority
		FROM tasks
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load tasks: %w", err)
	}
	defer taskRows.Close()

	tasks := make([]TaskRecord, 0)
	for taskRows.Next() {
		var t TaskRecord
		if err := taskRows.Scan(&t.ID, &t.Title, &t.Description, &t.ProjectID, &t.Status, &t.Priority); err != nil {
			return nil, nil, nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := taskRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate tasks: %w", err)
	}

	docRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, project_id, version
		FROM documents
		WHERE is_latest = TRUE
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load documents: %w", err)
	}
	defer docRows.Close()

	documents := make([]DocumentRecord, 0)
	for docRows.Next() {
		var d DocumentRecord
		if err := docRows.Scan(&d.ID, &d.Name, &d.ProjectID, &d.Version); err != nil {
			return nil, nil, nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := docRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate documents: %w", err)
	}

	return projects, tasks, documents, nil
}
