package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	CompanyID             string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Company struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

type Project struct {
	ID          string
	CompanyID   string
	Name        string
	Description string
	Status      string
	Address     string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProjectUpdate is the allow-listed set of mutable project fields. Nil
// pointers leave the column untouched.
type ProjectUpdate struct {
	Name        *string
	Description *string
	Status      *string
	Address     *string
}

type ProjectMember struct {
	ID        string
	ProjectID string
	UserID    string
	Role      string
	AddedBy   string
	CreatedAt time.Time
	// Joined fields for API responses
	UserName  string
	UserEmail string
}

// Document is one version row in a chain. The chain root has a nil
// ParentDocumentID; all later versions point at the root. Exactly one row
// per chain carries IsLatest.
type Document struct {
	ID               string
	ProjectID        string
	Name             string
	FileKey          string
	FileSize         int64
	ContentType      string
	Version          int
	ParentDocumentID *string
	IsLatest         bool
	UploadedBy       string
	CreatedAt        time.Time
}

type Task struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	Status      string
	Priority    string
	AssignedTo  *string
	DueDate     *time.Time
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type TaskUpdate struct {
	Title       *string
	Description *string
	Status      *string
	Priority    *string
	AssignedTo  *string
	DueDate     *time.Time
}

type Subtask struct {
	ID        string
	TaskID    string
	Title     string
	Done      bool
	CreatedBy string
	CreatedAt time.Time
}

type CityApproval struct {
	ID          string
	ProjectID   string
	Authority   string
	ReferenceNo string
	Status      string
	SubmittedAt *time.Time
	DecidedAt   *time.Time
	Notes       string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type CityApprovalUpdate struct {
	Authority   *string
	ReferenceNo *string
	Status      *string
	Notes       *string
}

type Correction struct {
	ID          string
	ApprovalID  string
	Description string
	Status      string
	CreatedBy   string
	ResolvedAt  *time.Time
	CreatedAt   time.Time
}

type Message struct {
	ID        string
	ProjectID string
	Body      string
	AuthorID  string
	CreatedAt time.Time
	// Joined for API responses
	AuthorName string
}

type Notification struct {
	ID         string
	UserID     string
	Kind       string
	Title      string
	Body       string
	EntityType string
	EntityID   string
	ReadAt     *time.Time
	CreatedAt  time.Time
}

// NotificationPreference is a per-user, per-kind email opt-out. Absence of a
// row means email is enabled.
type NotificationPreference struct {
	UserID       string
	Kind         string
	EmailEnabled bool
}
