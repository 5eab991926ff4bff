// Package notify delivers user-configured webhook notifications for request
// lifecycle events.
package notify

import (
	"context"
	"encoding/json/v2"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fableseek/fableseek-server/internal/domain"
	"github.com/fableseek/fableseek-server/internal/errors"
)

const (
	defaultTimeout = 30 * time.Second
	maxErrBodyLen  = 256
)

// Source yields the enabled notifications registered for an event type.
// Satisfied by store.Store.
type Source interface {
	ListNotificationsForEvent(ctx context.Context, event domain.EventType) ([]*domain.Notification, error)
}

// Dispatcher fans a lifecycle event out to every enabled notification
// registered for it. Delivery is best effort: failures are logged and never
// propagate into the fulfillment flow that raised the event.
type Dispatcher struct {
	store  Source
	http   *http.Client
	logger *slog.Logger
}

// NewDispatcher creates a Dispatcher backed by the given notification source.
func NewDispatcher(s Source, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		store:  s,
		http:   &http.Client{Timeout: defaultTimeout},
		logger: logger,
	}
}

// Dispatch delivers event to every enabled notification for its type.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.NotificationEvent) {
	notifications, err := d.store.ListNotificationsForEvent(ctx, event.Type)
	if err != nil {
		d.logger.Error("list notifications failed", "event", event.Type, "error", err)
		return
	}
	for _, n := range notifications {
		if err := d.Send(ctx, n, event); err != nil {
			d.logger.Error("notification delivery failed",
				"notification", n.Name, "url", n.URL, "event", event.Type, "error", err)
			continue
		}
		d.logger.Info("notification sent", "notification", n.Name, "event", event.Type)
	}
}

// Send renders one notification's body template against the event variables
// and posts it. Exposed so a configured notification can be test-fired.
func (d *Dispatcher) Send(ctx context.Context, n *domain.Notification, event domain.NotificationEvent) error {
	body := ExpandTemplate(n.Body, event.Vars)

	contentType := "text/plain"
	if n.BodyType == domain.BodyTypeJSON {
		var probe any
		if err := json.Unmarshal([]byte(body), &probe); err != nil {
			return errors.Validationf("rendered body is not valid JSON: %v", err)
		}
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	// Delivery ID lets the receiving end deduplicate retried webhooks.
	req.Header.Set("X-Delivery-Id", uuid.NewString())
	for k, v := range n.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBodyLen))
		return fmt.Errorf("webhook status %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}

// ExpandTemplate substitutes {name} placeholders in template with the matching
// variable values. Unknown placeholders are left untouched so a typo is
// visible at the receiving end instead of silently vanishing.
func ExpandTemplate(template string, vars map[string]string) string {
	if len(vars) == 0 {
		return template
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
