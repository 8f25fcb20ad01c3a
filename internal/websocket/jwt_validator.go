package websocket

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/dafibh/layouts/layouts-backend/internal/domain"
)

// ErrInvalidToken is returned when JWT validation fails
var ErrInvalidToken = errors.New("invalid token")

// CustomClaims contains the custom claims from Auth0 JWT
type CustomClaims struct {
	OrgID string `json:"org_id"`
}

// Validate implements validator.CustomClaims
func (c CustomClaims) Validate(ctx context.Context) error {
	return nil
}

// Identity is who a connection belongs to and which namespace it follows
type Identity struct {
	UserID    string
	Namespace string
}

// tokenValidator is satisfied by *validator.Validator
type tokenValidator interface {
	ValidateToken(ctx context.Context, token string) (interface{}, error)
}

// Auth0JWTValidator validates Auth0 JWT tokens for WebSocket connections
type Auth0JWTValidator struct {
	validator tokenValidator
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

// ValidateToken validates a JWT token and returns the caller's identity
func (v *Auth0JWTValidator) ValidateToken(ctx context.Context, token string) (Identity, error) {
	claims, err := v.validator.ValidateToken(ctx, token)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	return identityFromClaims(claims)
}

func identityFromClaims(claims interface{}) (Identity, error) {
	validatedClaims, ok := claims.(*validator.ValidatedClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}

	subject := validatedClaims.RegisteredClaims.Subject
	if subject == "" {
		return Identity{}, ErrInvalidToken
	}

	var orgID string
	if custom, ok := validatedClaims.CustomClaims.(*CustomClaims); ok {
		orgID = custom.OrgID
	}

	return Identity{
		UserID:    subject,
		Namespace: domain.ResolveNamespace(orgID, subject),
	}, nil
}
