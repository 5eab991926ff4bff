package domain

import (
	"strings"
	"time"
)

// EventType identifies a request lifecycle event that notifications can be
// attached to.
type EventType string

const (
	EventBookRequested  EventType = "book_requested"
	EventBookApproved   EventType = "book_approved"
	EventBookDenied     EventType = "book_denied"
	EventBookDownloaded EventType = "book_downloaded"
	EventBookFailed     EventType = "book_failed"
)

// ParseEventType converts a string into a known EventType.
func ParseEventType(value string) (EventType, bool) {
	switch EventType(value) {
	case EventBookRequested, EventBookApproved, EventBookDenied,
		EventBookDownloaded, EventBookFailed:
		return EventType(value), true
	}
	return "", false
}

// BodyType selects how a notification body template is delivered.
type BodyType string

const (
	BodyTypeText BodyType = "text"
	BodyTypeJSON BodyType = "json"
)

// Notification is a user-configured webhook template bound to one event type.
type Notification struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	URL      string            `json:"url"`
	Headers  map[string]string `json:"headers,omitempty"`
	Event    EventType         `json:"event"`
	BodyType BodyType          `json:"body_type"`
	Body     string            `json:"body"`
	Enabled  bool              `json:"enabled"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NotificationEvent is one lifecycle occurrence with its flat payload of
// substitution variables.
type NotificationEvent struct {
	Type EventType `json:"type"`
	// Vars maps template variable names (without braces) to values, e.g.
	// bookTitle, bookAuthors, sourceTitle, errorReason.
	Vars map[string]string `json:"vars"`
}

// RequestEvent builds the standard variable payload for a request, merging
// any extra per-event variables on top.
func RequestEvent(eventType EventType, req *BookRequest, extra map[string]string) NotificationEvent {
	vars := map[string]string{
		"eventType":     string(eventType),
		"eventUser":     req.RequestedBy,
		"bookTitle":     req.Title,
		"bookAuthors":   strings.Join(req.Authors, ","),
		"bookNarrators": strings.Join(req.Narrators, ","),
		"bookAsin":      req.ASIN,
	}
	for k, v := range extra {
		vars[k] = v
	}
	return NotificationEvent{Type: eventType, Vars: vars}
}
