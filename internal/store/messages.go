package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *PostgresStore) InsertMessage(ctx context.Context, item Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, project_id, body, author_id)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.ProjectID, item.Body, item.AuthorID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	var item Message
	err := s.db.QueryRowContext(ctx, `
		SELECT m.id, m.project_id, m.body, m.author_id, m.created_at, u.display_name
		FROM messages m
		JOIN users u ON u.id = m.author_id
		WHERE m.id=$1
	`, messageID).Scan(&item.ID, &item.ProjectID, &item.Body, &item.AuthorID, &item.CreatedAt, &item.AuthorName)
	if err != nil {
		return Message{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListProjectMessages(ctx context.Context, projectID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.project_id, m.body, m.author_id, m.created_at, u.display_name
		FROM messages m
		JOIN users u ON u.id = m.author_id
		WHERE m.project_id=$1
		ORDER BY m.created_at DESC
		LIMIT $2
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var item Message
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.Body, &item.AuthorID, &item.CreatedAt, &item.AuthorName); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id=$1`, messageID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return requireRowAffected(result)
}

// ── Notifications ──

func (s *PostgresStore) InsertNotification(ctx context.Context, item Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, kind, title, body, entity_type, entity_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.UserID, item.Kind, item.Title, item.Body, item.EntityType, item.EntityID)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUserNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, user_id, kind, title, COALESCE(body, ''), entity_type, entity_id, read_at, created_at
		FROM notifications
		WHERE user_id=$1
	`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		if err := rows.Scan(&item.ID, &item.UserID, &item.Kind, &item.Title, &item.Body, &item.EntityType, &item.EntityID, &item.ReadAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, notificationID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read_at=NOW() WHERE id=$1 AND user_id=$2 AND read_at IS NULL
	`, notificationID, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	return requireRowAffected(result)
}

func (s *PostgresStore) DeleteNotification(ctx context.Context, notificationID, userID string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM notifications WHERE id=$1 AND user_id=$2
	`, notificationID, userID)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return requireRowAffected(result)
}

// EmailEnabled reports whether the user wants email for the given kind.
// Absence of a preference row means enabled.
func (s *PostgresStore) EmailEnabled(ctx context.Context, userID, kind string) (bool, error) {
	var enabled bool
	err := s.db.QueryRowContext(ctx, `
		SELECT email_enabled FROM notification_preferences WHERE user_id=$1 AND kind=$2
	`, userID, kind).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read notification preference: %w", err)
	}
	return enabled, nil
}

func (s *PostgresStore) UpsertNotificationPreference(ctx context.Context, pref NotificationPreference) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_preferences (user_id, kind, email_enabled)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, kind) DO UPDATE SET email_enabled=EXCLUDED.email_enabled
	`, pref.UserID, pref.Kind, pref.EmailEnabled)
	if err != nil {
		return fmt.Errorf("upsert notification preference: %w", err)
	}
	return nil
}
