package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"planroom/api/internal/auth"
	"planroom/api/internal/authpw"
	"planroom/api/internal/config"
	"planroom/api/internal/export"
	"planroom/api/internal/store"
)

type fakeStore struct {
	createUserFn                  func(context.Context, store.User) error
	getUserByIDFn                 func(context.Context, string) (store.User, error)
	getUserByEmailFn              func(context.Context, string) (store.User, error)
	listCompanyUsersFn            func(context.Context, string) ([]store.User, error)
	updateUserProfileFn           func(context.Context, string, string) error
	deactivateUserFn              func(context.Context, string) error
	getCompanyFn                  func(context.Context, string) (store.Company, error)
	insertProjectFn               func(context.Context, store.Project) error
	getProjectFn                  func(context.Context, string) (store.Project, error)
	listProjectsForUserFn         func(context.Context, string, string, bool) ([]store.Project, error)
	updateProjectFn               func(context.Context, string, store.ProjectUpdate) error
	deleteProjectFn               func(context.Context, string) error
	getProjectMemberRoleFn        func(context.Context, string, string) (string, bool, error)
	insertProjectMemberFn         func(context.Context, store.ProjectMember) error
	updateProjectMemberRoleFn     func(context.Context, string, string, string) error
	deleteProjectMemberFn         func(context.Context, string, string) error
	listProjectMembersFn          func(context.Context, string) ([]store.ProjectMember, error)
	getDocumentFn                 func(context.Context, string) (store.Document, error)
	insertDocumentVersionFn       func(context.Context, store.Document) (store.Document, error)
	listLatestDocumentsFn         func(context.Context, string) ([]store.Document, error)
	listDocumentHistoryFn         func(context.Context, string) ([]store.Document, error)
	deleteDocumentChainFn         func(context.Context, string) ([]string, error)
	insertTaskFn                  func(context.Context, store.Task) error
	getTaskFn                     func(context.Context, string) (store.Task, error)
	listProjectTasksFn            func(context.Context, string) ([]store.Task, error)
	updateTaskFn                  func(context.Context, string, store.TaskUpdate) error
	deleteTaskFn                  func(context.Context, string) error
	insertSubtaskFn               func(context.Context, store.Subtask) error
	getSubtaskFn                  func(context.Context, string) (store.Subtask, error)
	listTaskSubtasksFn            func(context.Context, string) ([]store.Subtask, error)
	updateSubtaskFn               func(context.Context, string, string, bool) error
	insertCityApprovalFn          func(context.Context, store.CityApproval) error
	getCityApprovalFn             func(context.Context, string) (store.CityApproval, error)
	listProjectCityApprovalsFn    func(context.Context, string) ([]store.CityApproval, error)
	updateCityApprovalFn          func(context.Context, string, store.CityApprovalUpdate) error
	insertCorrectionFn            func(context.Context, store.Correction) error
	getCorrectionFn               func(context.Context, string) (store.Correction, error)
	listApprovalCorrectionsFn     func(context.Context, string) ([]store.Correction, error)
	resolveCorrectionFn           func(context.Context, string) error
	insertMessageFn               func(context.Context, store.Message) error
	getMessageFn                  func(context.Context, string) (store.Message, error)
	listProjectMessagesFn         func(context.Context, string, int) ([]store.Message, error)
	deleteMessageFn               func(context.Context, string) error
	insertNotificationFn          func(context.Context, store.Notification) error
	listUserNotificationsFn       func(context.Context, string, bool, int) ([]store.Notification, error)
	markNotificationReadFn        func(context.Context, string, string) error
	emailEnabledFn                func(context.Context, string, string) (bool, error)
	upsertNotificationPrefFn      func(context.Context, store.NotificationPreference) error
	pingFn                        func(context.Context) error
	saveRefreshSessionFn          func(context.Context, string, string, time.Time) error
	lookupRefreshSessionFn        func(context.Context, string) (store.User, error)
	revokeRefreshSessionFn        func(context.Context, string) error
	isAccessTokenRevokedFn        func(context.Context, string) (bool, error)
	updateUserVerificationTokenFn func(context.Context, string, string, time.Time) error
	verifyUserEmailFn             func(context.Context, string) error
	createCompanyFn               func(context.Context, store.Company) error
}

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}
func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID}, nil
}
func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) ListCompanyUsers(ctx context.Context, companyID string) ([]store.User, error) {
	if f.listCompanyUsersFn != nil {
		return f.listCompanyUsersFn(ctx, companyID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateUserProfile(ctx context.Context, userID, displayName string) error {
	if f.updateUserProfileFn != nil {
		return f.updateUserProfileFn(ctx, userID, displayName)
	}
	return nil
}
func (f *fakeStore) DeactivateUser(ctx context.Context, userID string) error {
	if f.deactivateUserFn != nil {
		return f.deactivateUserFn(ctx, userID)
	}
	return nil
}
func (f *fakeStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	if f.updateUserVerificationTokenFn != nil {
		return f.updateUserVerificationTokenFn(ctx, userID, token, expiresAt)
	}
	return nil
}
func (f *fakeStore) VerifyUserEmail(ctx context.Context, token string) error {
	if f.verifyUserEmailFn != nil {
		return f.verifyUserEmailFn(ctx, token)
	}
	return nil
}
func (f *fakeStore) UpdateUserPassword(context.Context, string, string) error { return nil }
func (f *fakeStore) CreatePasswordReset(context.Context, string, string, time.Time) error {
	return nil
}
func (f *fakeStore) GetPasswordReset(context.Context, string) (string, error) {
	return "", sql.ErrNoRows
}
func (f *fakeStore) MarkPasswordResetUsed(context.Context, string) error { return nil }
func (f *fakeStore) CreateCompany(ctx context.Context, company store.Company) error {
	if f.createCompanyFn != nil {
		return f.createCompanyFn(ctx, company)
	}
	return nil
}
func (f *fakeStore) GetCompany(ctx context.Context, companyID string) (store.Company, error) {
	if f.getCompanyFn != nil {
		return f.getCompanyFn(ctx, companyID)
	}
	return store.Company{}, sql.ErrNoRows
}

func (f *fakeStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	if f.saveRefreshSessionFn != nil {
		return f.saveRefreshSessionFn(ctx, tokenHash, userID, expiresAt)
	}
	return nil
}
func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	if f.lookupRefreshSessionFn != nil {
		return f.lookupRefreshSessionFn(ctx, tokenHash)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if f.revokeRefreshSessionFn != nil {
		return f.revokeRefreshSessionFn(ctx, tokenHash)
	}
	return nil
}
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error { return nil }
func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isAccessTokenRevokedFn != nil {
		return f.isAccessTokenRevokedFn(ctx, jti)
	}
	return false, nil
}

func (f *fakeStore) InsertProject(ctx context.Context, item store.Project) error {
	if f.insertProjectFn != nil {
		return f.insertProjectFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	if f.getProjectFn != nil {
		return f.getProjectFn(ctx, projectID)
	}
	return store.Project{}, sql.ErrNoRows
}
func (f *fakeStore) ListProjectsForUser(ctx context.Context, userID, companyID string, isAdmin bool) ([]store.Project, error) {
	if f.listProjectsForUserFn != nil {
		return f.listProjectsForUserFn(ctx, userID, companyID, isAdmin)
	}
	return nil, nil
}
func (f *fakeStore) UpdateProject(ctx context.Context, projectID string, update store.ProjectUpdate) error {
	if f.updateProjectFn != nil {
		return f.updateProjectFn(ctx, projectID, update)
	}
	return nil
}
func (f *fakeStore) DeleteProject(ctx context.Context, projectID string) error {
	if f.deleteProjectFn != nil {
		return f.deleteProjectFn(ctx, projectID)
	}
	return nil
}
func (f *fakeStore) GetProjectMemberRole(ctx context.Context, projectID, userID string) (string, bool, error) {
	if f.getProjectMemberRoleFn != nil {
		return f.getProjectMemberRoleFn(ctx, projectID, userID)
	}
	return "", false, nil
}
func (f *fakeStore) InsertProjectMember(ctx context.Context, member store.ProjectMember) error {
	if f.insertProjectMemberFn != nil {
		return f.insertProjectMemberFn(ctx, member)
	}
	return nil
}
func (f *fakeStore) UpdateProjectMemberRole(ctx context.Context, projectID, userID, role string) error {
	if f.updateProjectMemberRoleFn != nil {
		return f.updateProjectMemberRoleFn(ctx, projectID, userID, role)
	}
	return nil
}
func (f *fakeStore) DeleteProjectMember(ctx context.Context, projectID, userID string) error {
	if f.deleteProjectMemberFn != nil {
		return f.deleteProjectMemberFn(ctx, projectID, userID)
	}
	return nil
}
func (f *fakeStore) ListProjectMembers(ctx context.Context, projectID string) ([]store.ProjectMember, error) {
	if f.listProjectMembersFn != nil {
		return f.listProjectMembersFn(ctx, projectID)
	}
	return nil, nil
}

func (f *fakeStore) GetDocument(ctx context.Context, documentID string) (store.Document, error) {
	if f.getDocumentFn != nil {
		return f.getDocumentFn(ctx, documentID)
	}
	return store.Document{}, sql.ErrNoRows
}
func (f *fakeStore) InsertDocumentVersion(ctx context.Context, item store.Document) (store.Document, error) {
	if f.insertDocumentVersionFn != nil {
		return f.insertDocumentVersionFn(ctx, item)
	}
	item.Version = 1
	item.IsLatest = true
	return item, nil
}
func (f *fakeStore) ListLatestDocuments(ctx context.Context, projectID string) ([]store.Document, error) {
	if f.listLatestDocumentsFn != nil {
		return f.listLatestDocumentsFn(ctx, projectID)
	}
	return nil, nil
}
func (f *fakeStore) ListDocumentHistory(ctx context.Context, documentID string) ([]store.Document, error) {
	if f.listDocumentHistoryFn != nil {
		return f.listDocumentHistoryFn(ctx, documentID)
	}
	return nil, nil
}
func (f *fakeStore) DeleteDocumentChain(ctx context.Context, documentID string) ([]string, error) {
	if f.deleteDocumentChainFn != nil {
		return f.deleteDocumentChainFn(ctx, documentID)
	}
	return nil, nil
}

func (f *fakeStore) InsertTask(ctx context.Context, item store.Task) error {
	if f.insertTaskFn != nil {
		return f.insertTaskFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) GetTask(ctx context.Context, taskID string) (store.Task, error) {
	if f.getTaskFn != nil {
		return f.getTaskFn(ctx, taskID)
	}
	return store.Task{}, sql.ErrNoRows
}
func (f *fakeStore) ListProjectTasks(ctx context.Context, projectID string) ([]store.Task, error) {
	if f.listProjectTasksFn != nil {
		return f.listProjectTasksFn(ctx, projectID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateTask(ctx context.Context, taskID string, update store.TaskUpdate) error {
	if f.updateTaskFn != nil {
		return f.updateTaskFn(ctx, taskID, update)
	}
	return nil
}
func (f *fakeStore) DeleteTask(ctx context.Context, taskID string) error {
	if f.deleteTaskFn != nil {
		return f.deleteTaskFn(ctx, taskID)
	}
	return nil
}
func (f *fakeStore) InsertSubtask(ctx context.Context, item store.Subtask) error {
	if f.insertSubtaskFn != nil {
		return f.insertSubtaskFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) GetSubtask(ctx context.Context, subtaskID string) (store.Subtask, error) {
	if f.getSubtaskFn != nil {
		return f.getSubtaskFn(ctx, subtaskID)
	}
	return store.Subtask{}, sql.ErrNoRows
}
func (f *fakeStore) ListTaskSubtasks(ctx context.Context, taskID string) ([]store.Subtask, error) {
	if f.listTaskSubtasksFn != nil {
		return f.listTaskSubtasksFn(ctx, taskID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateSubtask(ctx context.Context, subtaskID, title string, done bool) error {
	if f.updateSubtaskFn != nil {
		return f.updateSubtaskFn(ctx, subtaskID, title, done)
	}
	return nil
}
func (f *fakeStore) DeleteSubtask(context.Context, string) error { return nil }

func (f *fakeStore) InsertCityApproval(ctx context.Context, item store.CityApproval) error {
	if f.insertCityApprovalFn != nil {
		return f.insertCityApprovalFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) GetCityApproval(ctx context.Context, approvalID string) (store.CityApproval, error) {
	if f.getCityApprovalFn != nil {
		return f.getCityApprovalFn(ctx, approvalID)
	}
	return store.CityApproval{}, sql.ErrNoRows
}
func (f *fakeStore) ListProjectCityApprovals(ctx context.Context, projectID string) ([]store.CityApproval, error) {
	if f.listProjectCityApprovalsFn != nil {
		return f.listProjectCityApprovalsFn(ctx, projectID)
	}
	return nil, nil
}
func (f *fakeStore) UpdateCityApproval(ctx context.Context, approvalID string, update store.CityApprovalUpdate) error {
	if f.updateCityApprovalFn != nil {
		return f.updateCityApprovalFn(ctx, approvalID, update)
	}
	return nil
}
func (f *fakeStore) DeleteCityApproval(context.Context, string) error { return nil }
func (f *fakeStore) InsertCorrection(ctx context.Context, item store.Correction) error {
	if f.insertCorrectionFn != nil {
		return f.insertCorrectionFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) GetCorrection(ctx context.Context, correctionID string) (store.Correction, error) {
	if f.getCorrectionFn != nil {
		return f.getCorrectionFn(ctx, correctionID)
	}
	return store.Correction{}, sql.ErrNoRows
}
func (f *fakeStore) ListApprovalCorrections(ctx context.Context, approvalID string) ([]store.Correction, error) {
	if f.listApprovalCorrectionsFn != nil {
		return f.listApprovalCorrectionsFn(ctx, approvalID)
	}
	return nil, nil
}
func (f *fakeStore) ResolveCorrection(ctx context.Context, correctionID string) error {
	if f.resolveCorrectionFn != nil {
		return f.resolveCorrectionFn(ctx, correctionID)
	}
	return nil
}
func (f *fakeStore) DeleteCorrection(context.Context, string) error { return nil }

func (f *fakeStore) InsertMessage(ctx context.Context, item store.Message) error {
	if f.insertMessageFn != nil {
		return f.insertMessageFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) GetMessage(ctx context.Context, messageID string) (store.Message, error) {
	if f.getMessageFn != nil {
		return f.getMessageFn(ctx, messageID)
	}
	return store.Message{}, sql.ErrNoRows
}
func (f *fakeStore) ListProjectMessages(ctx context.Context, projectID string, limit int) ([]store.Message, error) {
	if f.listProjectMessagesFn != nil {
		return f.listProjectMessagesFn(ctx, projectID, limit)
	}
	return nil, nil
}
func (f *fakeStore) DeleteMessage(ctx context.Context, messageID string) error {
	if f.deleteMessageFn != nil {
		return f.deleteMessageFn(ctx, messageID)
	}
	return nil
}
func (f *fakeStore) InsertNotification(ctx context.Context, item store.Notification) error {
	if f.insertNotificationFn != nil {
		return f.insertNotificationFn(ctx, item)
	}
	return nil
}
func (f *fakeStore) ListUserNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]store.Notification, error) {
	if f.listUserNotificationsFn != nil {
		return f.listUserNotificationsFn(ctx, userID, unreadOnly, limit)
	}
	return nil, nil
}
func (f *fakeStore) MarkNotificationRead(ctx context.Context, notificationID, userID string) error {
	if f.markNotificationReadFn != nil {
		return f.markNotificationReadFn(ctx, notificationID, userID)
	}
	return nil
}
func (f *fakeStore) DeleteNotification(context.Context, string, string) error { return nil }
func (f *fakeStore) EmailEnabled(ctx context.Context, userID, kind string) (bool, error) {
	if f.emailEnabledFn != nil {
		return f.emailEnabledFn(ctx, userID, kind)
	}
	return true, nil
}
func (f *fakeStore) UpsertNotificationPreference(ctx context.Context, pref store.NotificationPreference) error {
	if f.upsertNotificationPrefFn != nil {
		return f.upsertNotificationPrefFn(ctx, pref)
	}
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			TokenSecret: "test-secret",
			AccessTTL:   time.Hour,
			RefreshTTL:  24 * time.Hour,
		},
		store:  fs,
		authpw: authpw.NewService(fs),
		export: export.NewService(fs),
	}
}

// issueTestToken mints a bearer token the way issueSession does, without
// touching the refresh side.
func issueTestToken(t *testing.T, svc *Service, user store.User) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(svc.cfg.TokenSecret), auth.Claims{
		Sub:       user.ID,
		Name:      user.DisplayName,
		Role:      user.Role,
		CompanyID: user.CompanyID,
		JTI:       "jti-test",
		Exp:       time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func doRequest(t *testing.T, server *HTTPServer, method, target, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)
	return rr
}

func parseEnvelope(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func envelopeData(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	payload := parseEnvelope(t, rr)
	if payload["success"] != true {
		t.Fatalf("expected success envelope, got %s", rr.Body.String())
	}
	data, ok := payload["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %s", rr.Body.String())
	}
	return data
}

func envelopeList(t *testing.T, rr *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	payload := parseEnvelope(t, rr)
	if payload["success"] != true {
		t.Fatalf("expected success envelope, got %s", rr.Body.String())
	}
	raw, ok := payload["data"].([]any)
	if !ok {
		t.Fatalf("expected data array, got %s", rr.Body.String())
	}
	items := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		item, ok := entry.(map[string]any)
		if !ok {
			t.Fatalf("expected object entries, got %s", rr.Body.String())
		}
		items = append(items, item)
	}
	return items
}

func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
	payload := parseEnvelope(t, rr)
	if payload["success"] != false {
		t.Fatalf("expected success=false, got %s", rr.Body.String())
	}
	if payload["code"] != code {
		t.Fatalf("expected code %s, got %v", code, payload["code"])
	}
}
