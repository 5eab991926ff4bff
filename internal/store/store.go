// Package store defines the persistence interface for the FableSeek server.
package store

import (
	"context"

	"github.com/fableseek/fableseek-server/internal/domain"
)

// Store defines the interface for all persistence operations. Not-found
// lookups return errors.ErrNotFound from the errors package.
type Store interface {
	// Lifecycle
	Close() error

	// Book requests
	CreateRequest(ctx context.Context, req *domain.BookRequest) error
	GetRequest(ctx context.Context, id string) (*domain.BookRequest, error)
	UpdateRequest(ctx context.Context, req *domain.BookRequest) error
	DeleteRequest(ctx context.Context, id string) error
	ListRequests(ctx context.Context) ([]*domain.BookRequest, error)
	ListRequestsByUser(ctx context.Context, userID string) ([]*domain.BookRequest, error)
	ListRequestsByStatus(ctx context.Context, statuses ...domain.RequestStatus) ([]*domain.BookRequest, error)

	// Download settings
	GetDownloadSettings(ctx context.Context) (domain.DownloadSettings, error)
	SaveDownloadSettings(ctx context.Context, settings domain.DownloadSettings) error

	// Notifications
	CreateNotification(ctx context.Context, n *domain.Notification) error
	GetNotification(ctx context.Context, id string) (*domain.Notification, error)
	UpdateNotification(ctx context.Context, n *domain.Notification) error
	DeleteNotification(ctx context.Context, id string) error
	ListNotifications(ctx context.Context) ([]*domain.Notification, error)
	ListNotificationsForEvent(ctx context.Context, event domain.EventType) ([]*domain.Notification, error)
}
