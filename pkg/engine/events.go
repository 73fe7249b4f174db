package engine

import "time"

// EventType identifies a lifecycle event on the instance event stream.
type EventType string

// Instance lifecycle events.
const (
	EventNodeStarted       EventType = "node-started"
	EventNodeCompleted     EventType = "node-completed"
	EventNodeFailed        EventType = "node-failed"
	EventInputRequired     EventType = "user-input-required"
	EventInstanceSucceeded EventType = "instance-succeeded"
	EventInstanceFailed    EventType = "instance-failed"
	EventInstanceCancelled EventType = "instance-cancelled"
)

// Event is one entry on an instance's event stream.
type Event struct {
	Type       EventType      `json:"type"`
	InstanceID string         `json:"instanceId"`
	NodeID     string         `json:"nodeId,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Data       map[string]any `json:"data,omitempty"`
}

// publish delivers an event without blocking the engine goroutine. A slow
// or absent consumer loses events rather than stalling execution.
func (i *Instance) publish(ev Event) {
	select {
	case i.events <- ev:
	default:
		i.engine.logger.Debug("event dropped, consumer behind",
			"instance_id", i.ctx.InstanceID, "event_type", ev.Type)
	}
}
