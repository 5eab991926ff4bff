package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/fableseek/fableseek-server/internal/domain"
	"github.com/fableseek/fableseek-server/internal/errors"
	"github.com/fableseek/fableseek-server/internal/id"
	"github.com/fableseek/fableseek-server/internal/store"
	"github.com/fableseek/fableseek-server/internal/validation"
)

// Sender delivers a single notification, used for test-firing a template.
type Sender interface {
	Send(ctx context.Context, n *domain.Notification, event domain.NotificationEvent) error
}

// NotificationService manages webhook notification templates.
type NotificationService struct {
	store     store.Store
	sender    Sender
	validator *validation.Validator
	logger    *slog.Logger
}

// NewNotificationService creates a new notification service.
func NewNotificationService(s store.Store, sender Sender, logger *slog.Logger) *NotificationService {
	return &NotificationService{
		store:     s,
		sender:    sender,
		validator: validation.New(),
		logger:    logger.With("service", "notification"),
	}
}

// NotificationInput carries the fields accepted when creating or updating a
// notification template.
type NotificationInput struct {
	Name     string            `json:"name" validate:"required,max=200"`
	URL      string            `json:"url" validate:"required,max=2000"`
	Headers  map[string]string `json:"headers" validate:"max=20"`
	Event    string            `json:"event" validate:"required"`
	BodyType string            `json:"body_type" validate:"required,oneof=text json"`
	Body     string            `json:"body" validate:"max=10000"`
	Enabled  bool              `json:"enabled"`
}

func (s *NotificationService) fromInput(input *NotificationInput) (*domain.Notification, error) {
	if err := s.validator.Validate(input); err != nil {
		return nil, err
	}

	parsed, err := url.Parse(input.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, errors.Validation("url must be a valid http or https URL")
	}

	event, ok := domain.ParseEventType(input.Event)
	if !ok {
		return nil, errors.Validationf("unknown event type %q", input.Event)
	}

	return &domain.Notification{
		Name:     input.Name,
		URL:      input.URL,
		Headers:  input.Headers,
		Event:    event,
		BodyType: domain.BodyType(input.BodyType),
		Body:     input.Body,
		Enabled:  input.Enabled,
	}, nil
}

// Create registers a new notification template.
func (s *NotificationService) Create(ctx context.Context, input *NotificationInput) (*domain.Notification, error) {
	n, err := s.fromInput(input)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	n.ID = id.MustGenerate("ntf")
	n.CreatedAt = now
	n.UpdatedAt = now

	if err := s.store.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	s.logger.Info("notification created", "notification_id", n.ID, "name", n.Name, "event", n.Event)
	return n, nil
}

// Update replaces the template fields of an existing notification.
func (s *NotificationService) Update(ctx context.Context, notificationID string, input *NotificationInput) (*domain.Notification, error) {
	existing, err := s.store.GetNotification(ctx, notificationID)
	if err != nil {
		return nil, err
	}

	n, err := s.fromInput(input)
	if err != nil {
		return nil, err
	}

	n.ID = existing.ID
	n.CreatedAt = existing.CreatedAt
	n.UpdatedAt = time.Now()

	if err := s.store.UpdateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("update notification: %w", err)
	}
	return n, nil
}

// Get returns one notification template.
func (s *NotificationService) Get(ctx context.Context, notificationID string) (*domain.Notification, error) {
	return s.store.GetNotification(ctx, notificationID)
}

// List returns all notification templates.
func (s *NotificationService) List(ctx context.Context) ([]*domain.Notification, error) {
	return s.store.ListNotifications(ctx)
}

// Delete removes a notification template.
func (s *NotificationService) Delete(ctx context.Context, notificationID string) error {
	return s.store.DeleteNotification(ctx, notificationID)
}

// Test fires a notification with placeholder variables so an admin can verify
// the endpoint before enabling it.
func (s *NotificationService) Test(ctx context.Context, notificationID string) error {
	n, err := s.store.GetNotification(ctx, notificationID)
	if err != nil {
		return err
	}

	event := domain.NotificationEvent{
		Type: n.Event,
		Vars: map[string]string{
			"eventType":     string(n.Event),
			"eventUser":     "tester",
			"bookTitle":     "Test Book",
			"bookAuthors":   "Test Author",
			"bookNarrators": "Test Narrator",
			"bookAsin":      "B000TEST00",
		},
	}
	return s.sender.Send(ctx, n, event)
}
