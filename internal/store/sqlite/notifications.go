package sqlite

import (
	"context"
	"database/sql"
	"encoding/json/v2"
	"fmt"
	"strings"

	"github.com/fableseek/fableseek-server/internal/domain"
	"github.com/fableseek/fableseek-server/internal/errors"
)

const notificationColumns = `id, name, url, headers, event, body_type, body,
	enabled, created_at, updated_at`

func scanNotification(scanner interface{ Scan(dest ...any) error }) (*domain.Notification, error) {
	var n domain.Notification

	var (
		headers   string
		event     string
		bodyType  string
		enabled   int
		createdAt string
		updatedAt string
	)

	err := scanner.Scan(
		&n.ID,
		&n.Name,
		&n.URL,
		&headers,
		&event,
		&bodyType,
		&n.Body,
		&enabled,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(headers), &n.Headers); err != nil {
		return nil, fmt.Errorf("decode headers: %w", err)
	}
	n.Event = domain.EventType(event)
	n.BodyType = domain.BodyType(bodyType)
	n.Enabled = enabled != 0

	n.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	n.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	return &n, nil
}

func notificationArgs(n *domain.Notification) ([]any, error) {
	headers := n.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("encode headers: %w", err)
	}

	return []any{
		n.ID,
		n.Name,
		n.URL,
		string(data),
		string(n.Event),
		string(n.BodyType),
		n.Body,
		boolToInt(n.Enabled),
		formatTime(n.CreatedAt),
		formatTime(n.UpdatedAt),
	}, nil
}

// CreateNotification inserts a new notification template.
func (s *Store) CreateNotification(ctx context.Context, n *domain.Notification) error {
	args, err := notificationArgs(n)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notifications (`+notificationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errors.Conflictf("notification %s already exists", n.ID)
		}
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// GetNotification fetches one notification template by id.
func (s *Store) GetNotification(ctx context.Context, id string) (*domain.Notification, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)

	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("notification %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}

// UpdateNotification rewrites a notification template.
func (s *Store) UpdateNotification(ctx context.Context, n *domain.Notification) error {
	args, err := notificationArgs(n)
	if err != nil {
		return err
	}
	args = append(args[1:], n.ID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET
			name = ?, url = ?, headers = ?, event = ?, body_type = ?,
			body = ?, enabled = ?, created_at = ?, updated_at = ?
		 WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.NotFoundf("notification %s not found", n.ID)
	}
	return nil
}

// DeleteNotification removes a notification template.
func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM notifications WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.NotFoundf("notification %s not found", id)
	}
	return nil
}

// ListNotifications returns every notification template.
func (s *Store) ListNotifications(ctx context.Context) ([]*domain.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

// ListNotificationsForEvent returns the enabled templates bound to event.
func (s *Store) ListNotificationsForEvent(ctx context.Context, event domain.EventType) ([]*domain.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+notificationColumns+` FROM notifications
		 WHERE event = ? AND enabled = 1 ORDER BY name ASC`, string(event))
	if err != nil {
		return nil, fmt.Errorf("list notifications for event: %w", err)
	}
	defer rows.Close()
	return collectNotifications(rows)
}

func collectNotifications(rows *sql.Rows) ([]*domain.Notification, error) {
	var notifications []*domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}
