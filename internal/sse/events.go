// Package sse implements Server-Sent Events for real-time request updates.
package sse

import (
	"time"

	"github.com/fableseek/fableseek-server/internal/domain"
)

// EventType represents the type of SSE Event.
type EventType string

const (
	// EventRequestCreated represents a new book request.
	EventRequestCreated EventType = "request.created"
	// EventRequestUpdated represents a request status or candidate change.
	EventRequestUpdated EventType = "request.updated"
	// EventRequestDeleted represents a request deletion.
	EventRequestDeleted EventType = "request.deleted"

	// EventHeartbeat represents a connection keepalive event.
	EventHeartbeat EventType = "heartbeat"
)

// Event represents an SSE event to be sent to clients.
// The Data field contains the event payload as a JSON object for direct
// deserialization.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Type      EventType `json:"type"`
}

// RequestEventData is the data payload for request created/updated events.
// The full request is embedded so clients can render the change without a
// follow-up fetch.
type RequestEventData struct {
	Request *domain.BookRequest `json:"request"`
}

// RequestDeletedEventData is the data payload for request delete events.
type RequestDeletedEventData struct {
	DeletedAt time.Time `json:"deleted_at"`
	RequestID string    `json:"request_id"`
}

// HeartbeatEventData is the data payload for heartbeat events.
type HeartbeatEventData struct {
	ServerTime time.Time `json:"server_time"`
}

// NewRequestCreatedEvent creates an event for a new request.
func NewRequestCreatedEvent(req *domain.BookRequest) Event {
	return Event{
		Type:      EventRequestCreated,
		Timestamp: time.Now(),
		Data:      RequestEventData{Request: req},
	}
}

// NewRequestUpdatedEvent creates an event for a request state change.
func NewRequestUpdatedEvent(req *domain.BookRequest) Event {
	return Event{
		Type:      EventRequestUpdated,
		Timestamp: time.Now(),
		Data:      RequestEventData{Request: req},
	}
}

// NewRequestDeletedEvent creates an event for a removed request.
func NewRequestDeletedEvent(requestID string) Event {
	now := time.Now()
	return Event{
		Type:      EventRequestDeleted,
		Timestamp: now,
		Data:      RequestDeletedEventData{DeletedAt: now, RequestID: requestID},
	}
}

// NewHeartbeatEvent creates a keepalive event.
func NewHeartbeatEvent() Event {
	now := time.Now()
	return Event{
		Type:      EventHeartbeat,
		Timestamp: now,
		Data:      HeartbeatEventData{ServerTime: now},
	}
}
