package middleware

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/dafibh/marketplace/settlement-backend/internal/domain"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// CustomClaims contains the marketplace claims added to Auth0 access tokens
type CustomClaims struct {
	Role     string `json:"role"`
	SellerID string `json:"seller_id"`
	Email    string `json:"email"`
}

// Validate implements validator.CustomClaims
func (c CustomClaims) Validate(ctx context.Context) error {
	return nil
}

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// ClaimsKey is the context key for JWT claims
	ClaimsKey contextKey = "claims"
	// ActorKey is the context key for the authenticated domain.Actor
	ActorKey contextKey = "actor"
	// SellerIDKey is the context key for the caller's seller id, when the caller is a seller
	SellerIDKey contextKey = "seller_id"
)

// TokenValidator validates a raw bearer token
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (interface{}, error)
}

// AuthMiddleware provides JWT validation middleware
type AuthMiddleware struct {
	validator TokenValidator
}

// NewAuthMiddleware creates a new AuthMiddleware with Auth0 configuration
func NewAuthMiddleware(domain, audience string) (*AuthMiddleware, error) {
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

	return NewAuthMiddlewareWithValidator(jwtValidator), nil
}

// NewAuthMiddlewareWithValidator creates an AuthMiddleware around any token validator
func NewAuthMiddlewareWithValidator(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// Authenticate returns an Echo middleware that validates JWT tokens and stores
// the caller's Actor in the request context
func (m *AuthMiddleware) Authenticate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return unauthorizedError(c, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				return unauthorizedError(c, "invalid authorization header format")
			}

			claims, err := m.validator.ValidateToken(c.Request().Context(), parts[1])
			if err != nil {
				log.Debug().Err(err).Msg("Token validation failed")
				return unauthorizedError(c, "invalid token")
			}

			validatedClaims, ok := claims.(*validator.ValidatedClaims)
			if !ok || validatedClaims.RegisteredClaims.Subject == "" {
				return unauthorizedError(c, "invalid claims")
			}

			custom, _ := validatedClaims.CustomClaims.(*CustomClaims)
			actor, sellerID, err := actorFromClaims(validatedClaims.RegisteredClaims.Subject, custom)
			if err != nil {
				log.Debug().Err(err).Str("subject", validatedClaims.RegisteredClaims.Subject).Msg("Invalid seller claim")
				return unauthorizedError(c, "invalid seller claim")
			}

			ctx := context.WithValue(c.Request().Context(), ClaimsKey, validatedClaims)
			ctx = context.WithValue(ctx, ActorKey, actor)
			if sellerID != uuid.Nil {
				ctx = context.WithValue(ctx, SellerIDKey, sellerID)
			}
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

// actorFromClaims maps token claims to an Actor. Tokens without a role are
// buyers, unless they carry a seller id.
func actorFromClaims(subject string, custom *CustomClaims) (domain.Actor, uuid.UUID, error) {
	actor := domain.Actor{SubjectID: subject, Role: domain.RoleBuyer}
	if custom == nil {
		return actor, uuid.Nil, nil
	}

	switch custom.Role {
	case domain.RoleAdmin, domain.RoleSystem, domain.RoleSeller, domain.RoleBuyer:
		actor.Role = custom.Role
	case "":
		if custom.SellerID != "" {
			actor.Role = domain.RoleSeller
		}
	}

	if actor.Role != domain.RoleSeller {
		return actor, uuid.Nil, nil
	}
	sellerID, err := uuid.Parse(custom.SellerID)
	if err != nil {
		return domain.Actor{}, uuid.Nil, err
	}
	return actor, sellerID, nil
}

// RequireRole rejects callers whose role is not one of roles
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := GetActor(c)
			for _, r := range roles {
				if actor.Role == r {
					return next(c)
				}
			}
			return forbiddenError(c, "insufficient role for this operation")
		}
	}
}

// GetActor extracts the authenticated Actor from the context
func GetActor(c echo.Context) domain.Actor {
	if actor, ok := c.Request().Context().Value(ActorKey).(domain.Actor); ok {
		return actor
	}
	return domain.Actor{}
}

// GetSellerID extracts the caller's seller id, or uuid.Nil for non-sellers
func GetSellerID(c echo.Context) uuid.UUID {
	if id, ok := c.Request().Context().Value(SellerIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// GetClaims extracts the validated claims from the context
func GetClaims(c echo.Context) *validator.ValidatedClaims {
	if claims, ok := c.Request().Context().Value(ClaimsKey).(*validator.ValidatedClaims); ok {
		return claims
	}
	return nil
}

// WithActor returns a copy of ctx carrying the actor and, for sellers, the seller id
func WithActor(ctx context.Context, actor domain.Actor, sellerID uuid.UUID) context.Context {
	ctx = context.WithValue(ctx, ActorKey, actor)
	if sellerID != uuid.Nil {
		ctx = context.WithValue(ctx, SellerIDKey, sellerID)
	}
	return ctx
}
