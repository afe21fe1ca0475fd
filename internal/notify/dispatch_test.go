package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"planroom/api/internal/email"
	"planroom/api/internal/store"
)

type fakeNotifyStore struct {
	mu            sync.Mutex
	notifications []store.Notification
	insertErr     error
	emailEnabled  map[string]bool // kind -> enabled, missing means enabled
	users         map[string]store.User
}

func newFakeNotifyStore() *fakeNotifyStore {
	return &fakeNotifyStore{
		emailEnabled: make(map[string]bool),
		users:        make(map[string]store.User),
	}
}

func (f *fakeNotifyStore) InsertNotification(ctx context.Context, item store.Notification) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifications = append(f.notifications, item)
	return nil
}

func (f *fakeNotifyStore) EmailEnabled(ctx context.Context, userID, kind string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if enabled, ok := f.emailEnabled[kind]; ok {
		return enabled, nil
	}
	return true, nil
}

func (f *fakeNotifyStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return store.User{}, errors.New("user not found")
}

type fakeMailer struct {
	mu         sync.Mutex
	configured bool
	sendErr    error
	sent       []string // recipient emails
}

func (m *fakeMailer) IsConfigured() bool { return m.configured }

func (m *fakeMailer) SendNotificationEmail(to string, subject string, data email.NotificationData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, to)
	return nil
}

func (m *fakeMailer) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func TestDispatchWritesNotificationRow(t *testing.T) {
	fs := newFakeNotifyStore()
	d := New(fs, nil)

	ev := Event{
		Kind:       KindTaskAssigned,
		UserID:     "user_1",
		Title:      "You were assigned a task",
		Body:       "Submit structural calcs",
		EntityType: "task",
		EntityID:   "task_1",
	}
	if err := d.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	d.Wait()

	if len(fs.notifications) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(fs.notifications))
	}
	n := fs.notifications[0]
	if n.UserID != "user_1" || n.Kind != KindTaskAssigned {
		t.Errorf("unexpected notification %+v", n)
	}
	if n.ID == "" {
		t.Error("expected notification ID to be assigned")
	}
}

func TestDispatchPropagatesInsertError(t *testing.T) {
	fs := newFakeNotifyStore()
	fs.insertErr = errors.New("db down")
	d := New(fs, nil)

	err := d.Dispatch(context.Background(), Event{Kind: KindMention, UserID: "user_1"})
	if err == nil {
		t.Fatal("expected error when the notification row cannot be written")
	}
}

func TestDispatchSendsEmailWhenEnabled(t *testing.T) {
	fs := newFakeNotifyStore()
	fs.users["user_1"] = store.User{ID: "user_1", DisplayName: "Omar", Email: "omar@example.com"}
	m := &fakeMailer{configured: true}
	d := New(fs, m)

	ev := Event{Kind: KindDocumentUploaded, UserID: "user_1", Title: "New document version"}
	if err := d.Dispatch(context.Background(), ev); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	d.Wait()

	if m.sentCount() != 1 {
		t.Fatalf("expected 1 email sent, got %d", m.sentCount())
	}
	if m.sent[0] != "omar@example.com" {
		t.Errorf("unexpected recipient %s", m.sent[0])
	}
}

func TestDispatchSkipsEmailWhenOptedOut(t *testing.T) {
	fs := newFakeNotifyStore()
	fs.users["user_1"] = store.User{ID: "user_1", Email: "omar@example.com"}
	fs.emailEnabled[KindTaskAssigned] = false
	m := &fakeMailer{configured: true}
	d := New(fs, m)

	if err := d.Dispatch(context.Background(), Event{Kind: KindTaskAssigned, UserID: "user_1"}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	d.Wait()

	if m.sentCount() != 0 {
		t.Errorf("expected no email for opted-out kind, got %d", m.sentCount())
	}
	if len(fs.notifications) != 1 {
		t.Errorf("in-app notification should still be recorded")
	}
}

func TestDispatchSwallowsEmailFailure(t *testing.T) {
	fs := newFakeNotifyStore()
	fs.users["user_1"] = store.User{ID: "user_1", Email: "omar@example.com"}
	m := &fakeMailer{configured: true, sendErr: errors.New("smtp refused")}
	d := New(fs, m)

	if err := d.Dispatch(context.Background(), Event{Kind: KindApprovalStatus, UserID: "user_1"}); err != nil {
		t.Fatalf("email failure must not surface: %v", err)
	}
	d.Wait()

	if len(fs.notifications) != 1 {
		t.Errorf("notification row should be written despite email failure")
	}
}

func TestDispatchSkipsUnconfiguredMailer(t *testing.T) {
	fs := newFakeNotifyStore()
	fs.users["user_1"] = store.User{ID: "user_1", Email: "omar@example.com"}
	m := &fakeMailer{configured: false}
	d := New(fs, m)

	if err := d.Dispatch(context.Background(), Event{Kind: KindMention, UserID: "user_1"}); err != nil {
		t.Fatalf("Dispatch failed: %v", err)
	}
	d.Wait()

	if m.sentCount() != 0 {
		t.Errorf("expected no email attempt when mailer is unconfigured")
	}
}
