package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"testing"
	"time"

	"planroom/api/internal/notify"
	"planroom/api/internal/store"
)

// chainStore is an in-memory stand-in for the documents table. It reproduces
// the version-chain rules of the Postgres layer: a parentless insert starts a
// chain at version 1, an insert with a parent resolves the chain root, takes
// the next version, and flips the previous latest row off.
type chainStore struct {
	mu   sync.Mutex
	docs map[string]store.Document
	tick int
}

func newChainStore() *chainStore {
	return &chainStore{docs: map[string]store.Document{}}
}

func (c *chainStore) insert(_ context.Context, item store.Document) (store.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick++
	item.CreatedAt = time.Unix(int64(c.tick), 0)

	if item.ParentDocumentID == nil {
		item.Version = 1
		item.IsLatest = true
		c.docs[item.ID] = item
		return item, nil
	}

	parent, ok := c.docs[*item.ParentDocumentID]
	if !ok || parent.ProjectID != item.ProjectID {
		return store.Document{}, sql.ErrNoRows
	}
	rootID := parent.ID
	if parent.ParentDocumentID != nil {
		rootID = *parent.ParentDocumentID
	}

	next := 0
	for id, d := range c.docs {
		if id == rootID || (d.ParentDocumentID != nil && *d.ParentDocumentID == rootID) {
			if d.Version > next {
				next = d.Version
			}
			if d.IsLatest {
				d.IsLatest = false
				c.docs[id] = d
			}
		}
	}

	item.Version = next + 1
	item.IsLatest = true
	item.ParentDocumentID = &rootID
	c.docs[item.ID] = item
	return item, nil
}

func (c *chainStore) get(_ context.Context, documentID string) (store.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.docs[documentID]; ok {
		return d, nil
	}
	return store.Document{}, sql.ErrNoRows
}

func (c *chainStore) listLatest(_ context.Context, projectID string) ([]store.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []store.Document
	for _, d := range c.docs {
		if d.ProjectID == projectID && d.IsLatest {
			out = append(out, d)
		}
	}
	return out, nil
}

func (c *chainStore) history(_ context.Context, documentID string) ([]store.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.docs[documentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	rootID := d.ID
	if d.ParentDocumentID != nil {
		rootID = *d.ParentDocumentID
	}
	var out []store.Document
	for id, doc := range c.docs {
		if id == rootID || (doc.ParentDocumentID != nil && *doc.ParentDocumentID == rootID) {
			out = append(out, doc)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Version > out[i].Version {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (c *chainStore) deleteChain(_ context.Context, documentID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.docs[documentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	rootID := d.ID
	if d.ParentDocumentID != nil {
		rootID = *d.ParentDocumentID
	}
	var keys []string
	for id, doc := range c.docs {
		if id == rootID || (doc.ParentDocumentID != nil && *doc.ParentDocumentID == rootID) {
			if doc.FileKey != "" {
				keys = append(keys, doc.FileKey)
			}
			delete(c.docs, id)
		}
	}
	return keys, nil
}

// documentFixture returns a server over a chain-backed fake store with one
// project and configurable membership.
func documentFixture(t *testing.T, memberRoles map[string]string, users map[string]store.User) (*HTTPServer, *fakeStore, *chainStore, func(userID string) string) {
	t.Helper()
	chain := newChainStore()
	fs := &fakeStore{
		getProjectFn: func(_ context.Context, projectID string) (store.Project, error) {
			if projectID == "proj-1" {
				return projectFixture(), nil
			}
			return store.Project{}, sql.ErrNoRows
		},
		getProjectMemberRoleFn: func(_ context.Context, projectID, userID string) (string, bool, error) {
			role, ok := memberRoles[userID]
			return role, ok, nil
		},
		getUserByIDFn: func(_ context.Context, userID string) (store.User, error) {
			if user, ok := users[userID]; ok {
				return user, nil
			}
			return store.User{}, sql.ErrNoRows
		},
		insertDocumentVersionFn: chain.insert,
		getDocumentFn:           chain.get,
		listLatestDocumentsFn:   chain.listLatest,
		listDocumentHistoryFn:   chain.history,
		deleteDocumentChainFn:   chain.deleteChain,
	}
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "*")
	tokenFor := func(userID string) string {
		return issueTestToken(t, svc, users[userID])
	}
	return server, fs, chain, tokenFor
}

func uploadDocument(t *testing.T, server *HTTPServer, token, name, parentID string) map[string]any {
	t.Helper()
	body := map[string]string{"projectId": "proj-1", "name": name}
	if parentID != "" {
		body["parentDocumentId"] = parentID
	}
	raw, _ := json.Marshal(body)
	rr := doRequest(t, server, http.MethodPost, "/api/documents", token, string(raw))
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 uploading %q, got %d body=%s", name, rr.Code, rr.Body.String())
	}
	return envelopeData(t, rr)
}

func TestDocumentUploadStartsChainAtVersionOne(t *testing.T) {
	users := map[string]store.User{
		"user-arch": {ID: "user-arch", DisplayName: "Ana Silva", Role: "member", CompanyID: "comp-1"},
	}
	server, _, _, tokenFor := documentFixture(t, map[string]string{"user-arch": "member"}, users)

	data := uploadDocument(t, server, tokenFor("user-arch"), "site-survey.pdf", "")
	if data["version"] != float64(1) {
		t.Fatalf("expected version 1, got %v", data["version"])
	}
	if data["isLatest"] != true {
		t.Fatalf("expected a new chain head to be latest")
	}
	if _, ok := data["parentDocumentId"]; ok {
		t.Fatalf("chain head must not carry a parent, got %v", data["parentDocumentId"])
	}
}

func TestDocumentSupersedeMakesNewVersionLatest(t *testing.T) {
	users := map[string]store.User{
		"user-arch": {ID: "user-arch", DisplayName: "Ana Silva", Role: "member", CompanyID: "comp-1"},
	}
	server, _, _, tokenFor := documentFixture(t, map[string]string{"user-arch": "member"}, users)
	token := tokenFor("user-arch")

	v1 := uploadDocument(t, server, token, "plan.pdf", "")
	v2 := uploadDocument(t, server, token, "plan.pdf", v1["id"].(string))

	if v2["version"] != float64(2) || v2["isLatest"] != true {
		t.Fatalf("expected version 2 latest, got %+v", v2)
	}
	if v2["parentDocumentId"] != v1["id"] {
		t.Fatalf("expected new version to point at the chain root, got %v", v2["parentDocumentId"])
	}

	// The project listing collapses the chain to its current version.
	rr := doRequest(t, server, http.MethodGet, "/api/documents?project_id=proj-1", token, "")
	list := envelopeList(t, rr)
	if len(list) != 1 {
		t.Fatalf("expected one listed document per chain, got %d", len(list))
	}
	if list[0]["version"] != float64(2) {
		t.Fatalf("expected the listing to show version 2, got %v", list[0]["version"])
	}

	// History is reachable from either version and runs newest first.
	for _, id := range []string{v1["id"].(string), v2["id"].(string)} {
		rr = doRequest(t, server, http.MethodGet, "/api/documents?id="+id+"&history=true", token, "")
		history := envelopeList(t, rr)
		if len(history) != 2 {
			t.Fatalf("expected 2 history entries via %s, got %d", id, len(history))
		}
		if history[0]["version"] != float64(2) || history[1]["version"] != float64(1) {
			t.Fatalf("expected history newest first, got %v then %v", history[0]["version"], history[1]["version"])
		}
	}
}

func TestDocumentChainKeepsSingleLatest(t *testing.T) {
	users := map[string]store.User{
		"user-arch": {ID: "user-arch", DisplayName: "Ana Silva", Role: "member", CompanyID: "comp-1"},
	}
	server, _, chain, tokenFor := documentFixture(t, map[string]string{"user-arch": "member"}, users)
	token := tokenFor("user-arch")

	rng := rand.New(rand.NewSource(42))
	head := uploadDocument(t, server, token, "structural-calcs.pdf", "")
	ids := []string{head["id"].(string)}

	// Append versions using arbitrary chain members as the parent; the
	// store must always resolve to the root and keep exactly one latest.
	for i := 0; i < 8; i++ {
		parent := ids[rng.Intn(len(ids))]
		created := uploadDocument(t, server, token, "structural-calcs.pdf", parent)
		ids = append(ids, created["id"].(string))
		if created["version"] != float64(i+2) {
			t.Fatalf("expected version %d, got %v", i+2, created["version"])
		}
	}

	chain.mu.Lock()
	latest := 0
	for _, d := range chain.docs {
		if d.IsLatest {
			latest++
		}
	}
	total := len(chain.docs)
	chain.mu.Unlock()
	if latest != 1 {
		t.Fatalf("expected exactly one latest row, got %d", latest)
	}
	if total != len(ids) {
		t.Fatalf("expected %d chain rows, got %d", len(ids), total)
	}

	rr := doRequest(t, server, http.MethodGet, "/api/documents?id="+ids[0]+"&history=true", token, "")
	history := envelopeList(t, rr)
	if len(history) != len(ids) {
		t.Fatalf("expected %d history entries, got %d", len(ids), len(history))
	}
	for i, entry := range history {
		if entry["version"] != float64(len(ids)-i) {
			t.Fatalf("history out of order at %d: %v", i, entry["version"])
		}
	}
}

func TestDocumentMissingParentReturnsNotFound(t *testing.T) {
	users := map[string]store.User{
		"user-arch": {ID: "user-arch", DisplayName: "Ana Silva", Role: "member", CompanyID: "comp-1"},
	}
	server, _, _, tokenFor := documentFixture(t, map[string]string{"user-arch": "member"}, users)

	rr := doRequest(t, server, http.MethodPost, "/api/documents", tokenFor("user-arch"),
		`{"projectId":"proj-1","name":"plan.pdf","parentDocumentId":"doc-missing"}`)
	assertErrorCode(t, rr, http.StatusNotFound, "NOT_FOUND")
}

func TestDocumentUploadNotifiesProjectMembers(t *testing.T) {
	users := map[string]store.User{
		"user-arch": {ID: "user-arch", DisplayName: "Ana Silva", Role: "member", CompanyID: "comp-1"},
	}
	server, fs, _, tokenFor := documentFixture(t, map[string]string{"user-arch": "manager"}, users)

	fs.listProjectMembersFn = func(_ context.Context, projectID string) ([]store.ProjectMember, error) {
		return []store.ProjectMember{
			{ProjectID: projectID, UserID: "user-arch", Role: "manager"},
			{ProjectID: projectID, UserID: "user-eng", Role: "member"},
			{ProjectID: projectID, UserID: "user-city", Role: "viewer"},
		}, nil
	}
	var mu sync.Mutex
	var recipients []string
	fs.insertNotificationFn = func(_ context.Context, n store.Notification) error {
		mu.Lock()
		defer mu.Unlock()
		if n.Kind != notify.KindDocumentUploaded {
			return fmt.Errorf("unexpected notification kind %q", n.Kind)
		}
		recipients = append(recipients, n.UserID)
		return nil
	}
	server.service.notifier = notify.New(fs, nil)

	uploadDocument(t, server, tokenFor("user-arch"), "permit-set.pdf", "")

	mu.Lock()
	defer mu.Unlock()
	got := map[string]bool{}
	for _, r := range recipients {
		got[r] = true
	}
	if got["user-arch"] {
		t.Fatalf("the uploader must not be notified about their own upload")
	}
	for _, want := range []string{"user-eng", "user-city", "user-owner"} {
		if !got[want] {
			t.Fatalf("expected %s to be notified, got %v", want, recipients)
		}
	}
	if len(recipients) != 3 {
		t.Fatalf("expected 3 notifications, got %v", recipients)
	}
}

func TestViewerCannotDeleteDocument(t *testing.T) {
	users := map[string]store.User{
		"user-arch":   {ID: "user-arch", DisplayName: "Ana Silva", Role: "member", CompanyID: "comp-1"},
		"user-viewer": {ID: "user-viewer", DisplayName: "Vera", Role: "member", CompanyID: "comp-1"},
	}
	roles := map[string]string{"user-arch": "member", "user-viewer": "viewer"}
	server, _, chain, tokenFor := documentFixture(t, roles, users)

	doc := uploadDocument(t, server, tokenFor("user-arch"), "plan.pdf", "")
	rr := doRequest(t, server, http.MethodDelete, "/api/documents?id="+doc["id"].(string), tokenFor("user-viewer"), "")
	assertErrorCode(t, rr, http.StatusForbidden, "FORBIDDEN")

	chain.mu.Lock()
	remaining := len(chain.docs)
	chain.mu.Unlock()
	if remaining != 1 {
		t.Fatalf("expected the chain to survive a forbidden delete, got %d rows", remaining)
	}
}

func TestManagerDeletesWholeChain(t *testing.T) {
	users := map[string]store.User{
		"user-pm": {ID: "user-pm", DisplayName: "Paulo", Role: "member", CompanyID: "comp-1"},
	}
	server, _, chain, tokenFor := documentFixture(t, map[string]string{"user-pm": "manager"}, users)
	token := tokenFor("user-pm")

	v1 := uploadDocument(t, server, token, "plan.pdf", "")
	v2 := uploadDocument(t, server, token, "plan.pdf", v1["id"].(string))

	// Deleting via a non-root version still removes the full chain.
	rr := doRequest(t, server, http.MethodDelete, "/api/documents?id="+v2["id"].(string), token, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected delete to succeed, got %d body=%s", rr.Code, rr.Body.String())
	}

	chain.mu.Lock()
	remaining := len(chain.docs)
	chain.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected an empty chain after delete, got %d rows", remaining)
	}
}
