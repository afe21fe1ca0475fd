package app

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"planroom/api/internal/auth"
	"planroom/api/internal/authpw"
	"planroom/api/internal/config"
	"planroom/api/internal/email"
	"planroom/api/internal/export"
	"planroom/api/internal/filestore"
	"planroom/api/internal/notify"
	"planroom/api/internal/search"
	"planroom/api/internal/store"
	"planroom/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	CompanyID    string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	// users, companies
	CreateUser(context.Context, store.User) error
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	ListCompanyUsers(context.Context, string) ([]store.User, error)
	UpdateUserProfile(context.Context, string, string) error
	DeactivateUser(context.Context, string) error
	UpdateUserVerificationToken(context.Context, string, string, time.Time) error
	VerifyUserEmail(context.Context, string) error
	UpdateUserPassword(context.Context, string, string) error
	CreatePasswordReset(context.Context, string, string, time.Time) error
	GetPasswordReset(context.Context, string) (string, error)
	MarkPasswordResetUsed(context.Context, string) error
	CreateCompany(context.Context, store.Company) error
	GetCompany(context.Context, string) (store.Company, error)

	// sessions, tokens
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	// projects, members
	InsertProject(context.Context, store.Project) error
	GetProject(context.Context, string) (store.Project, error)
	ListProjectsForUser(context.Context, string, string, bool) ([]store.Project, error)
	UpdateProject(context.Context, string, store.ProjectUpdate) error
	DeleteProject(context.Context, string) error
	GetProjectMemberRole(context.Context, string, string) (string, bool, error)
	InsertProjectMember(context.Context, store.ProjectMember) error
	UpdateProjectMemberRole(context.Context, string, string, string) error
	DeleteProjectMember(context.Context, string, string) error
	ListProjectMembers(context.Context, string) ([]store.ProjectMember, error)

	// documents
	GetDocument(context.Context, string) (store.Document, error)
	InsertDocumentVersion(context.Context, store.Document) (store.Document, error)
	ListLatestDocuments(context.Context, string) ([]store.Document, error)
	ListDocumentHistory(context.Context, string) ([]store.Document, error)
	DeleteDocumentChain(context.Context, string) ([]string, error)

	// tasks, subtasks
	InsertTask(context.Context, store.Task) error
	GetTask(context.Context, string) (store.Task, error)
	ListProjectTasks(context.Context, string) ([]store.Task, error)
	UpdateTask(context.Context, string, store.TaskUpdate) error
	DeleteTask(context.Context, string) error
	InsertSubtask(context.Context, store.Subtask) error
	GetSubtask(context.Context, string) (store.Subtask, error)
	ListTaskSubtasks(context.Context, string) ([]store.Subtask, error)
	UpdateSubtask(context.Context, string, string, bool) error
	DeleteSubtask(context.Context, string) error

	// city approvals, corrections
	InsertCityApproval(context.Context, store.CityApproval) error
	GetCityApproval(context.Context, string) (store.CityApproval, error)
	ListProjectCityApprovals(context.Context, string) ([]store.CityApproval, error)
	UpdateCityApproval(context.Context, string, store.CityApprovalUpdate) error
	DeleteCityApproval(context.Context, string) error
	InsertCorrection(context.Context, store.Correction) error
	GetCorrection(context.Context, string) (store.Correction, error)
	ListApprovalCorrections(context.Context, string) ([]store.Correction, error)
	ResolveCorrection(context.Context, string) error
	DeleteCorrection(context.Context, string) error

	// messages, notifications
	InsertMessage(context.Context, store.Message) error
	GetMessage(context.Context, string) (store.Message, error)
	ListProjectMessages(context.Context, string, int) ([]store.Message, error)
	DeleteMessage(context.Context, string) error
	InsertNotification(context.Context, store.Notification) error
	ListUserNotifications(context.Context, string, bool, int) ([]store.Notification, error)
	MarkNotificationRead(context.Context, string, string) error
	DeleteNotification(context.Context, string, string) error
	EmailEnabled(context.Context, string, string) (bool, error)
	UpsertNotificationPreference(context.Context, store.NotificationPreference) error

	Ping(ctx context.Context) error
}

// sessionStore holds refresh tokens outside Postgres. Optional; when nil the
// data store's refresh_sessions table is used instead.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	authpw   *authpw.Service
	mailer   *email.Service
	notifier *notify.Dispatcher
	search   *search.Service
	export   *export.Service
	files    *filestore.Store
}

func New(cfg config.Config, dataStore *store.PostgresStore, searchService *search.Service, files *filestore.Store) *Service {
	return newService(cfg, dataStore, nil, searchService, files)
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, searchService *search.Service, files *filestore.Store) *Service {
	return newService(cfg, dataStore, sessions, searchService, files)
}

func newService(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, searchService *search.Service, files *filestore.Store) *Service {
	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		authpw:   authpw.NewService(dataStore),
		mailer:   mailer,
		notifier: notify.New(dataStore, mailer),
		search:   searchService,
		export:   export.NewService(dataStore),
		files:    files,
	}
}

// AuthPasswordService exposes the email/password auth service to handlers.
func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// SMTPConfigured reports whether outbound email is available.
func (s *Service) SMTPConfigured() bool {
	return s.mailer != nil && s.mailer.IsConfigured()
}

// FilesConfigured reports whether object storage is available.
func (s *Service) FilesConfigured() bool {
	return s.files != nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// WaitForNotifications blocks until background notification emails finish.
func (s *Service) WaitForNotifications() {
	if s.notifier != nil {
		s.notifier.Wait()
	}
}

// CreateSession issues access and refresh tokens for an authenticated user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)

	var user store.User
	var err error
	if s.sessions != nil {
		user, err = s.sessions.LookupRefreshSession(ctx, tokenHash)
	} else {
		user, err = s.store.LookupRefreshSession(ctx, tokenHash)
	}
	if err != nil {
		return Session{}, err
	}

	// Rotate: the old refresh token is single use.
	if s.sessions != nil {
		err = s.sessions.RevokeRefreshSession(ctx, tokenHash)
	} else {
		err = s.store.RevokeRefreshSession(ctx, tokenHash)
	}
	if err != nil {
		return Session{}, err
	}

	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:       user.ID,
		Name:      user.DisplayName,
		Role:      user.Role,
		CompanyID: user.CompanyID,
		JTI:       jti,
		Exp:       expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	tokenHash := auth.HashToken(refresh)
	if s.sessions != nil {
		err = s.sessions.SaveRefreshSession(ctx, tokenHash, user, refreshExpires)
	} else {
		err = s.store.SaveRefreshSession(ctx, tokenHash, user.ID, refreshExpires)
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		CompanyID:    user.CompanyID,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if user.DeactivatedAt != nil {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		CompanyID: user.CompanyID,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		tokenHash := auth.HashToken(refreshToken)
		if s.sessions != nil {
			_ = s.sessions.RevokeRefreshSession(ctx, tokenHash)
		} else {
			_ = s.store.RevokeRefreshSession(ctx, tokenHash)
		}
	}
	return nil
}
