package websocket

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType represents what happened to an entity
type EventType string

const (
	EventTypeHeld      EventType = "held"
	EventTypeReleased  EventType = "released"
	EventTypeRefunded  EventType = "refunded"
	EventTypeScheduled EventType = "scheduled"
	EventTypePaid      EventType = "paid"
	EventTypeFailed    EventType = "failed"
	EventTypeAdjusted  EventType = "adjusted"
	EventTypeSnapshot  EventType = "snapshot"
)

// EntityType represents the type of entity the event is about
type EntityType string

const (
	EntityTypeEscrow     EntityType = "escrow"
	EntityTypePayout     EntityType = "payout"
	EntityTypeCommission EntityType = "commission"
	EntityTypeFeed       EntityType = "feed"
)

// Event represents a WebSocket event message sent to clients
// Format: { type, entity, payload, timestamp }
type Event struct {
	Type      string      `json:"type"`      // Combined type e.g. "payout.paid"
	Entity    EntityType  `json:"entity"`    // Entity type e.g. "payout"
	Payload   interface{} `json:"payload"`   // Full entity data
	Timestamp time.Time   `json:"timestamp"` // Event timestamp
}

// NewEvent creates a new event with the given type, entity, and payload
func NewEvent(eventType EventType, entityType EntityType, payload interface{}) Event {
	return Event{
		Type:      fmt.Sprintf("%s.%s", entityType, eventType),
		Entity:    entityType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON serializes the event to JSON bytes
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EscrowHeld creates an escrow.held event
func EscrowHeld(payload interface{}) Event {
	return NewEvent(EventTypeHeld, EntityTypeEscrow, payload)
}

// EscrowReleased creates an escrow.released event
func EscrowReleased(payload interface{}) Event {
	return NewEvent(EventTypeReleased, EntityTypeEscrow, payload)
}

// EscrowRefunded creates an escrow.refunded event
func EscrowRefunded(payload interface{}) Event {
	return NewEvent(EventTypeRefunded, EntityTypeEscrow, payload)
}

// CommissionAdjusted creates a commission.adjusted event
func CommissionAdjusted(payload interface{}) Event {
	return NewEvent(EventTypeAdjusted, EntityTypeCommission, payload)
}

// PayoutScheduled creates a payout.scheduled event
func PayoutScheduled(payload interface{}) Event {
	return NewEvent(EventTypeScheduled, EntityTypePayout, payload)
}

// PayoutPaid creates a payout.paid event
func PayoutPaid(payload interface{}) Event {
	return NewEvent(EventTypePaid, EntityTypePayout, payload)
}

// PayoutFailed creates a payout.failed event
func PayoutFailed(payload interface{}) Event {
	return NewEvent(EventTypeFailed, EntityTypePayout, payload)
}

// SnapshotPayload is the body of the feed.snapshot event
type SnapshotPayload struct {
	Scope   string      `json:"scope"`
	Payouts interface{} `json:"payouts"`
}

// FeedSnapshot creates the feed.snapshot event that opens every connection
func FeedSnapshot(sub Subscription, payouts interface{}) Event {
	return NewEvent(EventTypeSnapshot, EntityTypeFeed, SnapshotPayload{Scope: sub.String(), Payouts: payouts})
}
