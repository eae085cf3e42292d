// Package eventbus dispatches node lifecycle events to in-process
// handlers and streaming subscribers (the SSE endpoint, telemetry).
package eventbus

import (
	"time"

	"github.com/formicaio/formicaiod/internal/types"
)

// EventType enumerates the events the supervisor publishes.
type EventType string

const (
	EventNodeCreated   EventType = "node.created"
	EventNodeStarted   EventType = "node.started"
	EventNodeStopped   EventType = "node.stopped"
	EventNodeUpgraded  EventType = "node.upgraded"
	EventNodeRecycled  EventType = "node.recycled"
	EventNodeRemoved   EventType = "node.removed"
	EventNodeStatus    EventType = "node.status_changed"
	EventBatchQueued   EventType = "batch.queued"
	EventBatchFinished EventType = "batch.finished"
	EventSettings      EventType = "settings.updated"
)

// Event is one published occurrence. NodeID and BatchID are set when
// they apply; Status carries the node's state after the transition.
type Event struct {
	Type      EventType        `json:"type"`
	NodeID    types.NodeID     `json:"node_id,omitempty"`
	BatchID   uint16           `json:"batch_id,omitempty"`
	Status    types.NodeStatus `json:"status,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewEvent stamps an event with the current time.
func NewEvent(t EventType) *Event {
	return &Event{Type: t, Timestamp: time.Now()}
}

// WithNode attaches the node id and its post-transition status.
func (e *Event) WithNode(id types.NodeID, status types.NodeStatus) *Event {
	e.NodeID = id
	e.Status = status
	return e
}

// WithBatch attaches the batch id.
func (e *Event) WithBatch(id uint16) *Event {
	e.BatchID = id
	return e
}
