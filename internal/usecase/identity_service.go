package usecase

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"checkout-backend/internal/domain"
)

// Caller is the resolved identity acting on a checkout.
type Caller struct {
	CustomerID string
	// System marks server-side callers such as verified processor webhooks.
	System bool
}

func (c Caller) Anonymous() bool { return c.CustomerID == "" && !c.System }

// MayAccess reports whether the caller may act on co.
func (c Caller) MayAccess(co *domain.CheckoutSession) bool {
	return c.System || co.IsGuest() || co.CustomerID == c.CustomerID
}

// IdentityService issues and verifies the customer session tokens minted by
// the storefront's login flow.
type IdentityService struct {
	JWTSecret string
	Issuer    string
}

func (s *IdentityService) Issue(customerID string, ttl time.Duration) (string, error) {
	if customerID == "" {
		return "", ErrBadRequest("customer id required")
	}
	if s.JWTSecret == "" {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"customer_id": customerID,
		"iat":         now.Unix(),
		"exp":         now.Add(ttl).Unix(),
	}
	if s.Issuer != "" {
		claims["iss"] = s.Issuer
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(s.JWTSecret))
}

func (s *IdentityService) Verify(token string) (string, error) {
	if s.JWTSecret == "" {
		return "", errors.New("jwt secret not configured")
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return []byte(s.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	if !parsed.Valid {
		return "", errors.New("token invalid")
	}
	m, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrNotFound("claims")
	}
	cid, _ := m["customer_id"].(string)
	if cid == "" {
		return "", ErrNotFound("customer_id claim")
	}
	return cid, nil
}

// Resolve maps an optional bearer token to a Caller. Missing or invalid
// tokens resolve to an anonymous caller, which can still act on guest
// checkouts.
func (s *IdentityService) Resolve(token string) Caller {
	if token == "" {
		return Caller{}
	}
	cid, err := s.Verify(token)
	if err != nil {
		return Caller{}
	}
	return Caller{CustomerID: cid}
}
