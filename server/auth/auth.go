// Package auth resolves the requesting user from a bearer token.
package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// ErrUnauthenticated is returned for missing, malformed or expired tokens.
var ErrUnauthenticated = errors.New("unauthenticated")

// User is the authenticated principal.
type User struct {
	ID string
}

// Provider authenticates a raw bearer token.
type Provider interface {
	Authenticate(token string) (*User, error)
}

type sessionClaims struct {
	jwt.RegisteredClaims
}

// JWTProvider validates HS256 session tokens whose subject is the user id.
type JWTProvider struct {
	secret []byte
	issuer string
}

// NewJWTProvider creates a provider for the given signing secret.
func NewJWTProvider(secret, issuer string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret), issuer: issuer}
}

func (p *JWTProvider) Authenticate(token string) (*User, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}

	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (any, error) {
		return p.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, ErrUnauthenticated
	}

	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || claims.Subject == "" {
		return nil, ErrUnauthenticated
	}
	if p.issuer != "" && claims.Issuer != p.issuer {
		return nil, ErrUnauthenticated
	}

	return &User{ID: claims.Subject}, nil
}

// IssueToken signs a session token for userID. Used by tests and the dev
// login helper; production deployments mint tokens in their identity layer
// with the same secret.
func (p *JWTProvider) IssueToken(userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign token")
	}
	return signed, nil
}

// TokenFromRequest extracts the bearer token from the Authorization header.
func TokenFromRequest(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
