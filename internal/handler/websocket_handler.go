package handler

import (
	"context"
	"net/http"

	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/dafibh/marketplace/settlement-backend/internal/websocket"
	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// JWTValidator validates JWT tokens and returns the feed they may open
type JWTValidator interface {
	ValidateToken(ctx context.Context, token string) (websocket.Subscription, error)
}

// FeedSnapshotSource loads the payouts a feed starts from. A nil seller
// means the operator feed.
type FeedSnapshotSource interface {
	OpenPayouts(ctx context.Context, sellerID *uuid.UUID) ([]*domain.Payout, error)
}

// WebSocketHandler serves the settlement event feed
type WebSocketHandler struct {
	hub            *websocket.Hub
	validator      JWTValidator
	snapshots      FeedSnapshotSource
	allowedOrigins map[string]bool
	upgrader       ws.Upgrader
}

// NewWebSocketHandler creates a new WebSocketHandler
func NewWebSocketHandler(hub *websocket.Hub, validator JWTValidator, snapshots FeedSnapshotSource, allowedOrigins []string) *WebSocketHandler {
	originMap := make(map[string]bool)
	for _, origin := range allowedOrigins {
		originMap[origin] = true
	}

	h := &WebSocketHandler{
		hub:            hub,
		validator:      validator,
		snapshots:      snapshots,
		allowedOrigins: originMap,
	}

	h.upgrader = ws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

// checkOrigin allows requests without an Origin header and listed origins
func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigins[origin] {
		return true
	}

	log.Warn().
		Str("origin", origin).
		Msg("WebSocket connection rejected: origin not allowed")
	return false
}

// HandleWS streams settlement events at GET /ws?token=. The first message is
// a feed.snapshot of open payouts; live events follow in publish order.
func (h *WebSocketHandler) HandleWS(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		log.Debug().Msg("WebSocket connection rejected: missing token")
		return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}

	sub, err := h.validator.ValidateToken(c.Request().Context(), token)
	if err != nil {
		log.Debug().Err(err).Msg("WebSocket connection rejected: invalid token")
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return err
	}

	// Register before loading so nothing published meanwhile is lost. Such
	// events are sent after the snapshot and may repeat state it shows.
	client := websocket.NewClient(conn, sub)
	h.hub.Register(client)

	snapshot, err := h.snapshot(c.Request().Context(), sub)
	if err != nil {
		log.Error().
			Err(err).
			Str("subscription", sub.String()).
			Msg("Failed to load feed snapshot")
		h.hub.Unregister(client)
		client.Close()
		return nil
	}

	log.Info().
		Str("subscription", sub.String()).
		Str("client_id", client.ID()).
		Msg("WebSocket client connected")

	go client.Serve(h.hub, snapshot)
	return nil
}

func (h *WebSocketHandler) snapshot(ctx context.Context, sub websocket.Subscription) ([]byte, error) {
	var sellerID *uuid.UUID
	if !sub.Operator {
		id := sub.SellerID
		sellerID = &id
	}

	payouts, err := h.snapshots.OpenPayouts(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	return websocket.FeedSnapshot(sub, payouts).ToJSON()
}
