// Package auth issues and verifies the bearer tokens players present at
// connection establishment. Tokens are HS256 JWTs carrying the player's
// identity; verification fails closed.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidToken = errors.New("invalid or expired token")

// Identity is the validated (playerId, displayName) pair a token resolves to.
type Identity struct {
	UserID      string
	DisplayName string
}

type Tokens struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
}

func NewTokens(secret, issuer, audience string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), issuer: issuer, audience: audience, ttl: ttl}
}

// Issue signs a token for the identity, valid for the configured TTL.
func (t *Tokens) Issue(id Identity) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  id.UserID,
		"name": id.DisplayName,
		"iss":  t.issuer,
		"aud":  t.audience,
		"iat":  now.Unix(),
		"exp":  now.Add(t.ttl).Unix(),
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning the identity it carries.
// Any parse, signature, issuer, audience or expiry problem yields
// ErrInvalidToken.
func (t *Tokens) Verify(raw string) (Identity, error) {
	token, err := jwt.Parse(raw,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithAudience(t.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	name, _ := claims["name"].(string)
	if sub == "" {
		return Identity{}, ErrInvalidToken
	}
	return Identity{UserID: sub, DisplayName: name}, nil
}

// BearerToken extracts a token from the Authorization header or, for
// websocket upgrades where headers are awkward for browser clients, the
// "token" query parameter.
func BearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, found := strings.CutPrefix(auth, "Bearer "); found {
			return token
		}
	}
	return r.URL.Query().Get("token")
}

func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(b), err
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
