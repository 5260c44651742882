package websocket

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "invalid token", ErrInvalidToken.Error())
	assert.Equal(t, "token grants no settlement feed", ErrNoFeed.Error())
}

func TestCustomClaims_Validate(t *testing.T) {
	claims := &CustomClaims{}
	err := claims.Validate(context.Background())
	assert.NoError(t, err, "CustomClaims.Validate should return nil")
}

func TestSubscriptionFromClaims(t *testing.T) {
	sellerID := uuid.New()

	tests := []struct {
		name    string
		claims  *CustomClaims
		want    Subscription
		wantErr error
	}{
		{"seller role", &CustomClaims{Role: "seller", SellerID: sellerID.String()}, SellerSubscription(sellerID), nil},
		{"seller claim without role", &CustomClaims{SellerID: sellerID.String()}, SellerSubscription(sellerID), nil},
		{"admin", &CustomClaims{Role: "admin"}, OperatorSubscription(), nil},
		{"system", &CustomClaims{Role: "system"}, OperatorSubscription(), nil},
		{"admin carrying a seller claim", &CustomClaims{Role: "admin", SellerID: sellerID.String()}, OperatorSubscription(), nil},
		{"buyer", &CustomClaims{Role: "buyer"}, Subscription{}, ErrNoFeed},
		{"seller role without seller claim", &CustomClaims{Role: "seller"}, Subscription{}, ErrNoFeed},
		{"malformed seller claim", &CustomClaims{SellerID: "seller-42"}, Subscription{}, ErrNoFeed},
		{"no claims", &CustomClaims{}, Subscription{}, ErrNoFeed},
		{"missing claims", nil, Subscription{}, ErrNoFeed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SubscriptionFromClaims(tt.claims)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewAuth0JWTValidator_Success(t *testing.T) {
	validator, err := NewAuth0JWTValidator("test.auth0.com", "https://api.marketplace.test")
	assert.NoError(t, err)
	assert.NotNil(t, validator)
	assert.NotNil(t, validator.validator)
}

func TestAuth0JWTValidator_ValidateToken_InvalidJWT(t *testing.T) {
	validator, err := NewAuth0JWTValidator("test.auth0.com", "https://api.marketplace.test")
	assert.NoError(t, err)

	sub, err := validator.ValidateToken(context.Background(), "invalid-token")
	assert.Error(t, err)
	assert.Equal(t, Subscription{}, sub)
	assert.True(t, errors.Is(err, ErrInvalidToken))
}
