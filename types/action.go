package types

import (
	"time"
)

// EventSource delivers push events by name. The returned func removes the subscription.
type EventSource interface {
	On(event string, handler ActionHandler) (dispose func())
}

type ActionBroker interface {
	LifecycleManager
	EventSource
	Publish(action string, payload interface{}) error
}

type ActionHandler func(msg *ActionMessage) error

type ActionMessage struct {
	Action    string            `json:"action"`
	Payload   interface{}       `json:"payload"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	MessageID string            `json:"message_id"`
}
