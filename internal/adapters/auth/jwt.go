// Package auth resolves participant identities from bearer credentials.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dkeye/Meet/internal/domain"
)

// Authenticator returns the participant a bearer token belongs to.
type Authenticator interface {
	Authenticate(token string) (domain.ParticipantID, error)
}

// Claims mirrors the tokens issued by the meetings API.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuthenticator validates HS256 tokens signed with a shared secret.
type JWTAuthenticator struct {
	secret []byte
}

func NewJWTAuthenticator(secret string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: []byte(secret)}
}

func (a *JWTAuthenticator) Authenticate(token string) (domain.ParticipantID, error) {
	if token == "" {
		return "", domain.ErrUnauthenticated
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	p, err := domain.ParseParticipantID(id)
	if err != nil {
		return "", fmt.Errorf("%w: token subject: %v", domain.ErrUnauthenticated, err)
	}
	return p, nil
}

// Issue signs a token for p. Used by the development client and tests.
func (a *JWTAuthenticator) Issue(p domain.ParticipantID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: string(p),
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(p),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", errors.New("authorization header must be Bearer <token>")
	}
	return strings.TrimSpace(token), nil
}
