// Package webhook delivers HMAC-signed event notifications to subscriber
// URLs. Endpoints subscribe to event type patterns; each delivery attempt is
// recorded and failed deliveries are retried with linear backoff.
package webhook

import (
	"encoding/json"
	"time"
)

// GlobalOwner marks an endpoint that receives events for every user.
// Only admins may register one.
const GlobalOwner = "*"

// Endpoint is a registered webhook destination.
type Endpoint struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	URL         string    `json:"url"`
	Secret      string    `json:"secret,omitempty"`
	Events      []string  `json:"events"`
	Active      bool      `json:"active"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Subscribes returns true if the endpoint subscribes to eventType.
func (ep *Endpoint) Subscribes(eventType string) bool {
	for _, pat := range ep.Events {
		if MatchEvent(pat, eventType) {
			return true
		}
	}
	return false
}

// Receives reports whether an event for userID should go to this endpoint.
func (ep *Endpoint) Receives(ev Event) bool {
	if !ep.Active {
		return false
	}
	if ep.OwnerID != GlobalOwner && ep.OwnerID != ev.UserID {
		return false
	}
	return ep.Subscribes(ev.Type)
}

// Delivery records one delivery attempt.
type Delivery struct {
	ID           string          `json:"id"`
	EndpointID   string          `json:"endpoint_id"`
	EventType    string          `json:"event_type"`
	Payload      json.RawMessage `json:"payload"`
	StatusCode   int             `json:"status_code"`
	ResponseBody string          `json:"response_body,omitempty"`
	Attempt      int             `json:"attempt"`
	Success      bool            `json:"success"`
	Error        string          `json:"error,omitempty"`
	DurationMS   int64           `json:"duration_ms"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Event is the JSON body POSTed to subscribers.
type Event struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	UserID       string          `json:"user_id"`
	ResourceType string          `json:"resource_type,omitempty"`
	ResourceID   string          `json:"resource_id,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Result summarises the outcome of delivering an event to one endpoint.
type Result struct {
	EndpointID string `json:"endpoint_id"`
	Success    bool   `json:"success"`
	StatusCode int    `json:"status_code"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error,omitempty"`
}
