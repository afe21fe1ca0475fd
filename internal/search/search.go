package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultProject  ResultType = "project"
	ResultTask     ResultType = "task"
	ResultDocument ResultType = "document"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ProjectID string     `json:"projectId"`
	Status    string     `json:"status,omitempty"`
}

// Query describes a search request. AllowedProjectIDs is the set of projects
// the caller may see; an empty set yields no project-scoped hits.
type Query struct {
	Text              string
	FilterType        ResultType // empty = all types
	FilterProjectID   string
	AllowedProjectIDs []string
	Limit             int
	Offset            int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexProject(p ProjectRecord) error
	IndexTask(t TaskRecord) error
	IndexDocument(d DocumentRecord) error
	DeleteProject(id string) error
	DeleteTask(id string) error
	DeleteDocument(id string) error
}

// ProjectRecord is the data we index for a project.
type ProjectRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Address     string `json:"address"`
	Status      string `json:"status"`
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ProjectID   string `json:"projectId"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
}

// DocumentRecord is the data we index for a document version.
type DocumentRecord struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ProjectID string `json:"projectId"`
	Version   int    `json:"version"`
}
