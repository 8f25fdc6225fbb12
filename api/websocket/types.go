package websocket

import (
	"encoding/json"
)

// SubscriptionType represents the type of subscription
type SubscriptionType string

const (
	// SubscribeMessageUpdated delivers confirmed message changes
	SubscribeMessageUpdated SubscriptionType = "messageUpdated"

	// SubscribeHistoryRefreshed delivers every published history view
	SubscribeHistoryRefreshed SubscriptionType = "historyRefreshed"
)

// Valid reports whether t is a known subscription type
func (t SubscriptionType) Valid() bool {
	switch t {
	case SubscribeMessageUpdated, SubscribeHistoryRefreshed:
		return true
	}
	return false
}

// Message represents a WebSocket message
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribeRequest represents a subscription or unsubscription request
type SubscribeRequest struct {
	Type SubscriptionType `json:"type"`
}

// Event represents a subscription event
type Event struct {
	Type SubscriptionType `json:"type"`
	Data interface{}      `json:"data"`
}

// ErrorMessage represents an error message
type ErrorMessage struct {
	Error string `json:"error"`
}

// SuccessMessage represents a success message
type SuccessMessage struct {
	Message string `json:"message"`
}
