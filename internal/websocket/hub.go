package websocket

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrClientClosed is returned when attempting to send to a closed client
var ErrClientClosed = errors.New("client is closed")

// Subscription scopes a feed connection. A seller feed carries every event
// about that seller; an operator feed carries payout events of all sellers.
type Subscription struct {
	SellerID uuid.UUID
	Operator bool
}

// SellerSubscription returns the feed scope of one seller
func SellerSubscription(sellerID uuid.UUID) Subscription {
	return Subscription{SellerID: sellerID}
}

// OperatorSubscription returns the cross-seller payout feed scope
func OperatorSubscription() Subscription {
	return Subscription{Operator: true}
}

func (s Subscription) String() string {
	if s.Operator {
		return "operator"
	}
	return "seller:" + s.SellerID.String()
}

// Subscriber is a feed connection registered with the hub
type Subscriber interface {
	ID() string
	Subscription() Subscription
	Send(data []byte) error
	Close() error
}

// Hub routes settlement events to seller and operator feeds. Publish sends
// to each subscriber in call order and never blocks on a slow one: a
// subscriber that cannot take an event is dropped and closed, and recovers
// the missed state from the snapshot it receives when it reconnects.
type Hub struct {
	mu        sync.RWMutex
	sellers   map[uuid.UUID]map[string]Subscriber
	operators map[string]Subscriber
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		sellers:   make(map[uuid.UUID]map[string]Subscriber),
		operators: make(map[string]Subscriber),
	}
}

// Register adds a subscriber under its subscription
func (h *Hub) Register(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := s.Subscription()
	if sub.Operator {
		h.operators[s.ID()] = s
	} else {
		if h.sellers[sub.SellerID] == nil {
			h.sellers[sub.SellerID] = make(map[string]Subscriber)
		}
		h.sellers[sub.SellerID][s.ID()] = s
	}

	log.Debug().
		Str("subscription", sub.String()).
		Str("client_id", s.ID()).
		Msg("Feed subscriber registered")
}

// Unregister removes a subscriber. Unknown subscribers are ignored.
func (h *Hub) Unregister(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(s)
}

func (h *Hub) remove(s Subscriber) bool {
	sub := s.Subscription()
	if sub.Operator {
		if _, ok := h.operators[s.ID()]; !ok {
			return false
		}
		delete(h.operators, s.ID())
		return true
	}

	clients, ok := h.sellers[sub.SellerID]
	if !ok {
		return false
	}
	if _, ok := clients[s.ID()]; !ok {
		return false
	}
	delete(clients, s.ID())
	if len(clients) == 0 {
		delete(h.sellers, sub.SellerID)
	}
	return true
}

// Publish implements EventPublisher
func (h *Hub) Publish(sellerID uuid.UUID, event Event) {
	data, err := event.ToJSON()
	if err != nil {
		log.Error().
			Err(err).
			Str("seller_id", sellerID.String()).
			Str("event_type", event.Type).
			Msg("Failed to serialize event")
		return
	}

	targets := h.targets(sellerID, event)
	for _, s := range targets {
		if err := s.Send(data); err != nil {
			h.drop(s, err)
		}
	}

	if len(targets) > 0 {
		log.Debug().
			Str("seller_id", sellerID.String()).
			Str("event_type", event.Type).
			Int("subscriber_count", len(targets)).
			Msg("Published event")
	}
}

func (h *Hub) targets(sellerID uuid.UUID, event Event) []Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := make([]Subscriber, 0, len(h.sellers[sellerID])+len(h.operators))
	for _, s := range h.sellers[sellerID] {
		targets = append(targets, s)
	}
	if event.Entity == EntityTypePayout {
		for _, s := range h.operators {
			targets = append(targets, s)
		}
	}
	return targets
}

func (h *Hub) drop(s Subscriber, cause error) {
	h.mu.Lock()
	removed := h.remove(s)
	h.mu.Unlock()
	if !removed {
		return
	}

	log.Warn().
		Err(cause).
		Str("subscription", s.Subscription().String()).
		Str("client_id", s.ID()).
		Msg("Dropping feed subscriber")
	s.Close()
}

// SellerCount returns the number of feeds open for a seller
func (h *Hub) SellerCount(sellerID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sellers[sellerID])
}

// OperatorCount returns the number of open operator feeds
func (h *Hub) OperatorCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.operators)
}

// TotalCount returns the number of open feeds
func (h *Hub) TotalCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := len(h.operators)
	for _, clients := range h.sellers {
		total += len(clients)
	}
	return total
}
