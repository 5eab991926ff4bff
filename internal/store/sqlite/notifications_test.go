package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fableseek/fableseek-server/internal/domain"
	"github.com/fableseek/fableseek-server/internal/errors"
)

func testNotification(id string, event domain.EventType) *domain.Notification {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return &domain.Notification{
		ID:        id,
		Name:      "discord " + string(event),
		URL:       "https://discord.example/webhook",
		Headers:   map[string]string{"Content-Type": "application/json"},
		Event:     event,
		BodyType:  domain.BodyTypeJSON,
		Body:      `{"content": "{bookTitle} by {bookAuthors}"}`,
		Enabled:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestNotificationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := testNotification("ntf_1", domain.EventBookDownloaded)
	require.NoError(t, s.CreateNotification(ctx, n))

	got, err := s.GetNotification(ctx, "ntf_1")
	require.NoError(t, err)
	assert.Equal(t, n, got)
}

func TestUpdateNotification(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n := testNotification("ntf_upd", domain.EventBookFailed)
	require.NoError(t, s.CreateNotification(ctx, n))

	n.Enabled = false
	n.Body = "download failed: {errorReason}"
	n.BodyType = domain.BodyTypeText
	require.NoError(t, s.UpdateNotification(ctx, n))

	got, err := s.GetNotification(ctx, "ntf_upd")
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, domain.BodyTypeText, got.BodyType)

	assert.ErrorIs(t, s.UpdateNotification(ctx, testNotification("ntf_ghost", domain.EventBookFailed)), errors.ErrNotFound)
}

func TestDeleteNotification(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateNotification(ctx, testNotification("ntf_del", domain.EventBookDenied)))
	require.NoError(t, s.DeleteNotification(ctx, "ntf_del"))
	assert.ErrorIs(t, s.DeleteNotification(ctx, "ntf_del"), errors.ErrNotFound)
}

func TestListNotificationsForEvent_OnlyEnabledMatching(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	match := testNotification("ntf_match", domain.EventBookDownloaded)
	require.NoError(t, s.CreateNotification(ctx, match))

	disabled := testNotification("ntf_off", domain.EventBookDownloaded)
	disabled.Enabled = false
	require.NoError(t, s.CreateNotification(ctx, disabled))

	other := testNotification("ntf_other", domain.EventBookFailed)
	require.NoError(t, s.CreateNotification(ctx, other))

	got, err := s.ListNotificationsForEvent(ctx, domain.EventBookDownloaded)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ntf_match", got[0].ID)

	all, err := s.ListNotifications(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
