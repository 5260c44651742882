package websocket

import "github.com/google/uuid"

// EventPublisher delivers settlement events about a seller to the feeds
// subscribed to them
type EventPublisher interface {
	Publish(sellerID uuid.UUID, event Event)
}

var _ EventPublisher = (*Hub)(nil)
