// Package protocol defines the messages exchanged with the monitoring
// backend: the stream event envelope pushed over the persistent connection
// and the alarm and site records carried by it and by the REST API. All
// messages are JSON.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Event type constants
// ---------------------------------------------------------------------------

// Server -> client event types.
const (
	EventAlarmCreated     = "alarm.created"
	EventAlarmUpdated     = "alarm.updated"
	EventConnectionStatus = "connection.status"
)

// Severity ranks an alarm.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// AlarmStatus is the lifecycle state of an alarm.
type AlarmStatus string

const (
	StatusActive       AlarmStatus = "active"
	StatusAcknowledged AlarmStatus = "acknowledged"
	StatusResolved     AlarmStatus = "resolved"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Event is the envelope of every stream message. Data is decoded later,
// once the event type is known.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

// Alarm is a monitoring alarm raised for a site.
type Alarm struct {
	ID             string      `json:"id"`
	SiteID         string      `json:"siteId"`
	Severity       Severity    `json:"severity"`
	Message        string      `json:"message"`
	Status         AlarmStatus `json:"status"`
	Timestamp      time.Time   `json:"timestamp"`
	AcknowledgedAt *time.Time  `json:"acknowledgedAt,omitempty"`
}

// Site is a monitored location.
type Site struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int `json:"page"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// SitesResponse is the body of GET /api/sites.
type SitesResponse struct {
	Sites      []Site     `json:"sites"`
	Pagination Pagination `json:"pagination"`
}

// ConnectionStatus is the payload of a connection.status event.
type ConnectionStatus struct {
	Status string `json:"status"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// DecodeAlarm decodes the payload of an alarm.created or alarm.updated event.
func DecodeAlarm(e Event) (Alarm, error) {
	if e.Event != EventAlarmCreated && e.Event != EventAlarmUpdated {
		return Alarm{}, fmt.Errorf("protocol: %q is not an alarm event", e.Event)
	}
	if len(e.Data) == 0 {
		return Alarm{}, fmt.Errorf("protocol: %q event has no data", e.Event)
	}
	var a Alarm
	if err := json.Unmarshal(e.Data, &a); err != nil {
		return Alarm{}, fmt.Errorf("protocol: failed to decode %q payload: %w", e.Event, err)
	}
	if a.ID == "" {
		return Alarm{}, fmt.Errorf("protocol: %q payload missing id", e.Event)
	}
	return a, nil
}

// NewEvent wraps payload in an Event envelope of the given type.
func NewEvent(eventType string, payload any) (Event, error) {
	if eventType == "" {
		return Event{}, fmt.Errorf("protocol: missing event type")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}
	return Event{Event: eventType, Data: raw}, nil
}
