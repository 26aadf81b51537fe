package session

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arcforge/arcforge/protocol"
)

// Authenticator validates a client's handshake token and returns the
// player's identity. Implementations must be safe for concurrent use;
// one authenticator serves every connection.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (protocol.PlayerID, error)
}

// DevAuthenticator accepts any numeric token and uses it directly as
// the player id. Development and tests only.
type DevAuthenticator struct{}

func (DevAuthenticator) Authenticate(_ context.Context, token string) (protocol.PlayerID, error) {
	id, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: token must be a numeric player id", ErrAuthFailed)
	}
	return protocol.PlayerID(id), nil
}

// JWTAuthenticator validates HS256 tokens whose subject claim carries
// the player id.
type JWTAuthenticator struct {
	secret []byte
	issuer string
}

// NewJWTAuthenticator builds an authenticator for tokens signed with
// the given secret. Issuer is checked when non-empty.
func NewJWTAuthenticator(secret []byte, issuer string) *JWTAuthenticator {
	return &JWTAuthenticator{secret: secret, issuer: issuer}
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (protocol.PlayerID, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return 0, fmt.Errorf("%w: invalid claims", ErrAuthFailed)
	}
	if a.issuer != "" && claims.Issuer != a.issuer {
		return 0, fmt.Errorf("%w: unexpected issuer %q", ErrAuthFailed, claims.Issuer)
	}

	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: subject is not a player id", ErrAuthFailed)
	}
	return protocol.PlayerID(id), nil
}

// IssueToken signs a token for the player, expiring after ttl. Intended
// for tooling and tests; production deployments typically mint tokens
// in a separate auth service sharing the secret.
func (a *JWTAuthenticator) IssueToken(playerID protocol.PlayerID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatUint(uint64(playerID), 10),
		Issuer:    a.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
