package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"planroom/api/internal/access"
	"planroom/api/internal/notify"
	"planroom/api/internal/store"
	"planroom/api/internal/util"
)

type MessageInput struct {
	ProjectID string `json:"projectId"`
	Body      string `json:"body"`
}

func messagePayload(m store.Message) map[string]any {
	return map[string]any{
		"id":         m.ID,
		"projectId":  m.ProjectID,
		"body":       m.Body,
		"authorId":   m.AuthorID,
		"authorName": m.AuthorName,
		"createdAt":  m.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Service) CreateMessage(ctx context.Context, session Session, input MessageInput) (map[string]any, error) {
	body := strings.TrimSpace(input.Body)
	if body == "" {
		return nil, validationError("body is required")
	}
	project, _, err := s.authorizeProject(ctx, session, input.ProjectID)
	if err != nil {
		return nil, err
	}

	message := store.Message{
		ID:        util.NewID("msg"),
		ProjectID: project.ID,
		Body:      body,
		AuthorID:  session.UserID,
	}
	if err := s.store.InsertMessage(ctx, message); err != nil {
		return nil, err
	}

	s.notifyMentions(ctx, session, project, message)

	created, err := s.store.GetMessage(ctx, message.ID)
	if err != nil {
		created = message
		created.AuthorName = session.UserName
	}
	return messagePayload(created), nil
}

// notifyMentions scans a message body for @-mentions of project members by
// display name. Longer names are matched first so "@Ana Silva" is not
// claimed by a member named "Ana".
func (s *Service) notifyMentions(ctx context.Context, session Session, project store.Project, message store.Message) {
	if s.notifier == nil || !strings.Contains(message.Body, "@") {
		return
	}
	members, err := s.store.ListProjectMembers(ctx, project.ID)
	if err != nil {
		return
	}

	type candidate struct {
		userID string
		name   string
	}
	candidates := make([]candidate, 0, len(members))
	for _, member := range members {
		if member.UserName == "" || member.UserID == session.UserID {
			continue
		}
		candidates = append(candidates, candidate{userID: member.UserID, name: member.UserName})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return len(candidates[i].name) > len(candidates[j].name)
	})

	remaining := message.Body
	notified := map[string]bool{}
	for _, c := range candidates {
		tag := "@" + c.name
		if !strings.Contains(remaining, tag) || notified[c.userID] {
			continue
		}
		notified[c.userID] = true
		remaining = strings.ReplaceAll(remaining, tag, "")
		_ = s.notifier.Dispatch(ctx, notify.Event{
			Kind:        notify.KindMention,
			UserID:      c.userID,
			Title:       "You were mentioned",
			Body:        fmt.Sprintf("%s mentioned you in %s.", session.UserName, project.Name),
			EntityType:  "message",
			EntityID:    message.ID,
			ProjectName: project.Name,
		})
	}
}

func (s *Service) ListProjectMessages(ctx context.Context, session Session, projectID string, limit int) ([]map[string]any, error) {
	if _, _, err := s.authorizeProject(ctx, session, projectID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	messages, err := s.store.ListProjectMessages(ctx, projectID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		items = append(items, messagePayload(m))
	}
	return items, nil
}

func (s *Service) DeleteMessage(ctx context.Context, session Session, messageID string) error {
	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("Message not found")
		}
		return err
	}
	_, decision, err := s.authorizeProject(ctx, session, message.ProjectID)
	if err != nil {
		return err
	}
	if message.AuthorID != session.UserID && !access.CanManage(decision.Role) {
		return forbiddenError()
	}
	if err := s.store.DeleteMessage(ctx, messageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("Message not found")
		}
		return err
	}
	return nil
}

func notificationPayload(n store.Notification) map[string]any {
	payload := map[string]any{
		"id":         n.ID,
		"kind":       n.Kind,
		"title":      n.Title,
		"body":       n.Body,
		"entityType": n.EntityType,
		"entityId":   n.EntityID,
		"read":       n.ReadAt != nil,
		"createdAt":  n.CreatedAt.Format(time.RFC3339),
	}
	if n.ReadAt != nil {
		payload["readAt"] = n.ReadAt.Format(time.RFC3339)
	}
	return payload
}

func (s *Service) ListNotifications(ctx context.Context, session Session, unreadOnly bool, limit int) ([]map[string]any, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	notifications, err := s.store.ListUserNotifications(ctx, session.UserID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(notifications))
	for _, n := range notifications {
		items = append(items, notificationPayload(n))
	}
	return items, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, session Session, notificationID string) error {
	if err := s.store.MarkNotificationRead(ctx, notificationID, session.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("Notification not found")
		}
		return err
	}
	return nil
}

func (s *Service) DeleteNotification(ctx context.Context, session Session, notificationID string) error {
	if err := s.store.DeleteNotification(ctx, notificationID, session.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return notFoundError("Notification not found")
		}
		return err
	}
	return nil
}

type NotificationPreferenceInput struct {
	Kind         string `json:"kind"`
	EmailEnabled bool   `json:"emailEnabled"`
}

func (s *Service) UpdateNotificationPreference(ctx context.Context, session Session, input NotificationPreferenceInput) error {
	kind := strings.TrimSpace(input.Kind)
	switch kind {
	case notify.KindTaskAssigned, notify.KindDocumentUploaded, notify.KindMention, notify.KindApprovalStatus:
	default:
		return validationError("invalid notification kind")
	}
	return s.store.UpsertNotificationPreference(ctx, store.NotificationPreference{
		UserID:       session.UserID,
		Kind:         kind,
		EmailEnabled: input.EmailEnabled,
	})
}
