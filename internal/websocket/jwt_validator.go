package websocket

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned when JWT validation fails
var ErrInvalidToken = errors.New("invalid token")

// ErrNoFeed is returned when the token grants no settlement feed
var ErrNoFeed = errors.New("token grants no settlement feed")

// CustomClaims carries the claims that decide which feed a token opens
type CustomClaims struct {
	Role     string `json:"role"`
	SellerID string `json:"seller_id"`
}

// Validate implements validator.CustomClaims
func (c CustomClaims) Validate(ctx context.Context) error {
	return nil
}

// SubscriptionFromClaims maps claims to a feed. Admin and system tokens open
// the operator feed, sellers their own feed; buyers have none.
func SubscriptionFromClaims(c *CustomClaims) (Subscription, error) {
	if c == nil {
		return Subscription{}, ErrNoFeed
	}

	switch c.Role {
	case "admin", "system":
		return OperatorSubscription(), nil
	case "seller", "":
		if c.SellerID == "" {
			return Subscription{}, ErrNoFeed
		}
		id, err := uuid.Parse(c.SellerID)
		if err != nil {
			return Subscription{}, ErrNoFeed
		}
		return SellerSubscription(id), nil
	default:
		return Subscription{}, ErrNoFeed
	}
}

// Auth0JWTValidator validates Auth0 JWT tokens for WebSocket connections
type Auth0JWTValidator struct {
	validator *validator.Validator
}

// NewAuth0JWTValidator creates a new Auth0JWTValidator
func NewAuth0JWTValidator(domain, audience string) (*Auth0JWTValidator, error) {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, err
	}

	provider := jwks.NewCachingProvider(issuerURL, 5*time.Minute)

	jwtValidator, err := validator.New(
		provider.KeyFunc,
		validator.RS256,
		issuerURL.String(),
		[]string{audience},
		validator.WithCustomClaims(func() validator.CustomClaims {
			return &CustomClaims{}
		}),
		validator.WithAllowedClockSkew(time.Minute),
	)
	if err != nil {
		return nil, err
	}

	return &Auth0JWTValidator{validator: jwtValidator}, nil
}

// ValidateToken validates a JWT token and returns the feed it may open
func (v *Auth0JWTValidator) ValidateToken(ctx context.Context, token string) (Subscription, error) {
	claims, err := v.validator.ValidateToken(ctx, token)
	if err != nil {
		return Subscription{}, ErrInvalidToken
	}

	validatedClaims, ok := claims.(*validator.ValidatedClaims)
	if !ok {
		return Subscription{}, ErrInvalidToken
	}

	custom, _ := validatedClaims.CustomClaims.(*CustomClaims)
	return SubscriptionFromClaims(custom)
}
