package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/dafibh/marketplace/settlement-backend/internal/websocket"
	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockJWTValidator is a test double for JWT validation
type mockJWTValidator struct {
	sub websocket.Subscription
	err error
}

func (m *mockJWTValidator) ValidateToken(ctx context.Context, token string) (websocket.Subscription, error) {
	return m.sub, m.err
}

// fakeSnapshotSource records which feed asked for its snapshot
type fakeSnapshotSource struct {
	payouts []*domain.Payout
	err     error

	mu       sync.Mutex
	calls    int
	sellerID *uuid.UUID
}

func (f *fakeSnapshotSource) OpenPayouts(ctx context.Context, sellerID *uuid.UUID) ([]*domain.Payout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.sellerID = sellerID
	return f.payouts, f.err
}

func (f *fakeSnapshotSource) requested() (int, *uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, f.sellerID
}

var testAllowedOrigins = []string{"http://localhost:3000", "https://seller.marketplace.dev"}

func dialFeed(t *testing.T, h *WebSocketHandler) *ws.Conn {
	t.Helper()

	e := echo.New()
	e.GET("/ws", h.HandleWS)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=feed-token"
	conn, _, err := ws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *ws.Conn) websocket.Event {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var evt websocket.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	return evt
}

func snapshotPayouts(t *testing.T, evt websocket.Event) (string, []interface{}) {
	t.Helper()

	require.Equal(t, "feed.snapshot", evt.Type)
	payload, ok := evt.Payload.(map[string]interface{})
	require.True(t, ok)
	payouts, ok := payload["payouts"].([]interface{})
	require.True(t, ok)
	return payload["scope"].(string), payouts
}

func TestWebSocketHandler_HandleWS_MissingToken(t *testing.T) {
	e := echo.New()
	h := NewWebSocketHandler(websocket.NewHub(), &mockJWTValidator{sub: websocket.SellerSubscription(uuid.New())}, &fakeSnapshotSource{}, testAllowedOrigins)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.HandleWS(c)

	assert.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	assert.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestWebSocketHandler_HandleWS_TokenWithoutFeed(t *testing.T) {
	e := echo.New()
	source := &fakeSnapshotSource{}
	h := NewWebSocketHandler(websocket.NewHub(), &mockJWTValidator{err: websocket.ErrNoFeed}, source, testAllowedOrigins)

	req := httptest.NewRequest(http.MethodGet, "/ws?token=buyer-jwt", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.HandleWS(c)

	assert.Error(t, err)
	httpErr, ok := err.(*echo.HTTPError)
	assert.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
	calls, _ := source.requested()
	assert.Zero(t, calls)
}

func TestWebSocketHandler_HandleWS_ValidToken_NoUpgrade(t *testing.T) {
	e := echo.New()
	hub := websocket.NewHub()
	h := NewWebSocketHandler(hub, &mockJWTValidator{sub: websocket.SellerSubscription(uuid.New())}, &fakeSnapshotSource{}, testAllowedOrigins)

	req := httptest.NewRequest(http.MethodGet, "/ws?token=valid-jwt", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.HandleWS(c)

	// Auth passes, the upgrade itself fails without upgrade headers
	assert.Error(t, err)
	assert.NotContains(t, err.Error(), "unauthorized")
	assert.Zero(t, hub.TotalCount())
}

func TestWebSocketHandler_SellerFeed_SnapshotThenLiveEvents(t *testing.T) {
	sellerID := uuid.New()
	hub := websocket.NewHub()
	source := &fakeSnapshotSource{payouts: []*domain.Payout{
		{ID: uuid.New(), SellerID: sellerID, Amount: decimal.RequireFromString("120.50"), Currency: "USD", Status: domain.PayoutStatusScheduled},
		{ID: uuid.New(), SellerID: sellerID, Amount: decimal.RequireFromString("80.00"), Currency: "USD", Status: domain.PayoutStatusFailed},
	}}
	h := NewWebSocketHandler(hub, &mockJWTValidator{sub: websocket.SellerSubscription(sellerID)}, source, testAllowedOrigins)

	conn := dialFeed(t, h)

	scope, payouts := snapshotPayouts(t, readEvent(t, conn))
	assert.Equal(t, "seller:"+sellerID.String(), scope)
	assert.Len(t, payouts, 2)
	_, requestedFor := source.requested()
	require.NotNil(t, requestedFor)
	assert.Equal(t, sellerID, *requestedFor)

	hub.Publish(uuid.New(), websocket.PayoutPaid(map[string]interface{}{"id": "other-seller"}))
	hub.Publish(sellerID, websocket.EscrowReleased(map[string]interface{}{"orderId": "o-1"}))
	hub.Publish(sellerID, websocket.PayoutPaid(map[string]interface{}{"id": "p-1"}))

	assert.Equal(t, "escrow.released", readEvent(t, conn).Type)
	assert.Equal(t, "payout.paid", readEvent(t, conn).Type)
	assert.Equal(t, 1, hub.SellerCount(sellerID))
}

func TestWebSocketHandler_OperatorFeed_ReceivesEverySellersPayouts(t *testing.T) {
	hub := websocket.NewHub()
	source := &fakeSnapshotSource{payouts: []*domain.Payout{}}
	h := NewWebSocketHandler(hub, &mockJWTValidator{sub: websocket.OperatorSubscription()}, source, testAllowedOrigins)

	conn := dialFeed(t, h)

	scope, payouts := snapshotPayouts(t, readEvent(t, conn))
	assert.Equal(t, "operator", scope)
	assert.Empty(t, payouts)
	calls, requestedFor := source.requested()
	assert.Equal(t, 1, calls)
	assert.Nil(t, requestedFor)

	sellerA := uuid.New()
	sellerB := uuid.New()
	hub.Publish(sellerA, websocket.EscrowHeld(map[string]interface{}{"orderId": "o-1"}))
	hub.Publish(sellerA, websocket.PayoutScheduled(map[string]interface{}{"id": "p-a"}))
	hub.Publish(sellerB, websocket.PayoutFailed(map[string]interface{}{"id": "p-b"}))

	first := readEvent(t, conn)
	assert.Equal(t, "payout.scheduled", first.Type)
	assert.Equal(t, "p-a", first.Payload.(map[string]interface{})["id"])
	second := readEvent(t, conn)
	assert.Equal(t, "payout.failed", second.Type)
	assert.Equal(t, "p-b", second.Payload.(map[string]interface{})["id"])
	assert.Equal(t, 1, hub.OperatorCount())
}

func TestWebSocketHandler_SnapshotFailure_ClosesFeed(t *testing.T) {
	sellerID := uuid.New()
	hub := websocket.NewHub()
	source := &fakeSnapshotSource{err: errors.New("database unavailable")}
	h := NewWebSocketHandler(hub, &mockJWTValidator{sub: websocket.SellerSubscription(sellerID)}, source, testAllowedOrigins)

	conn := dialFeed(t, h)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, ws.IsCloseError(err, ws.CloseTryAgainLater))
	assert.Zero(t, hub.SellerCount(sellerID))
}

func TestWebSocketHandler_CheckOrigin(t *testing.T) {
	h := NewWebSocketHandler(websocket.NewHub(), &mockJWTValidator{}, &fakeSnapshotSource{}, testAllowedOrigins)

	tests := []struct {
		name     string
		origin   string
		expected bool
	}{
		{"allowed origin", "http://localhost:3000", true},
		{"allowed origin https", "https://seller.marketplace.dev", true},
		{"disallowed origin", "https://evil.com", false},
		{"empty origin (same-origin)", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.expected, h.checkOrigin(req))
		})
	}
}
