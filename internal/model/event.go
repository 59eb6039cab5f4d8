package model

import "time"

// EventType tags an Event published to the dashboard and to Redis.
type EventType string

const (
	EventStatus   EventType = "status"
	EventSignal   EventType = "signal"
	EventTrade    EventType = "trade"
	EventRecovery EventType = "recovery"
)

// Event is an envelope pushed to dashboard subscribers.
type Event struct {
	Type   EventType `json:"type"`
	Symbol string    `json:"symbol,omitempty"`
	At     time.Time `json:"ts"`
	Data   any       `json:"data"`
}
