// Package notify records in-app notifications and fans them out over email.
package notify

import (
	"context"
	"log"
	"sync"

	"planroom/api/internal/email"
	"planroom/api/internal/store"
	"planroom/api/internal/util"
)

// Notification kinds.
const (
	KindTaskAssigned     = "task_assigned"
	KindDocumentUploaded = "document_uploaded"
	KindMention          = "mention"
	KindApprovalStatus   = "approval_status"
)

// Store is the persistence surface the dispatcher needs.
type Store interface {
	InsertNotification(ctx context.Context, item store.Notification) error
	EmailEnabled(ctx context.Context, userID, kind string) (bool, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
}

// Mailer sends the outbound half of a notification.
type Mailer interface {
	IsConfigured() bool
	SendNotificationEmail(to string, subject string, data email.NotificationData) error
}

// Event is one thing that happened to one recipient.
type Event struct {
	Kind        string
	UserID      string
	Title       string
	Body        string
	EntityType  string
	EntityID    string
	ProjectName string
	Link        string
}

// Dispatcher writes notification rows synchronously and sends email in the
// background. Email failures are logged and never surface to the caller.
type Dispatcher struct {
	store  Store
	mailer Mailer
	wg     sync.WaitGroup
}

// New creates a dispatcher. mailer may be nil when SMTP is not configured.
func New(s Store, mailer Mailer) *Dispatcher {
	return &Dispatcher{store: s, mailer: mailer}
}

// Dispatch records the notification and schedules the email. The returned
// error covers only the notification row; the email half is best effort.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	n := store.Notification{
		ID:         util.NewID("notif"),
		UserID:     ev.UserID,
		Kind:       ev.Kind,
		Title:      ev.Title,
		Body:       ev.Body,
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
	}
	if err := d.store.InsertNotification(ctx, n); err != nil {
		return err
	}

	if d.mailer == nil || !d.mailer.IsConfigured() {
		return nil
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.sendEmail(ev)
	}()

	return nil
}

// Wait blocks until all scheduled emails have been attempted. Used by tests
// and graceful shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) sendEmail(ev Event) {
	// Detached from the request context; the request should not be able to
	// cancel an email that was already scheduled.
	ctx := context.Background()

	enabled, err := d.store.EmailEnabled(ctx, ev.UserID, ev.Kind)
	if err != nil {
		log.Printf("notify: check email preference for %s: %v", ev.UserID, err)
		return
	}
	if !enabled {
		return
	}

	user, err := d.store.GetUserByID(ctx, ev.UserID)
	if err != nil {
		log.Printf("notify: load recipient %s: %v", ev.UserID, err)
		return
	}
	if user.Email == "" || user.DeactivatedAt != nil {
		return
	}

	data := email.NotificationData{
		UserName:    user.DisplayName,
		Heading:     ev.Title,
		Body:        ev.Body,
		ProjectName: ev.ProjectName,
		ActionURL:   ev.Link,
	}
	if err := d.mailer.SendNotificationEmail(user.Email, ev.Title, data); err != nil {
		log.Printf("notify: send %s email to %s: %v", ev.Kind, ev.UserID, err)
	}
}
