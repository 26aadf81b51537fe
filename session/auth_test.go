package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcforge/arcforge/protocol"
)

func TestDevAuthenticatorAcceptsNumericToken(t *testing.T) {
	var a DevAuthenticator

	id, err := a.Authenticate(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, protocol.PlayerID(42), id)
}

func TestDevAuthenticatorRejectsNonNumericToken(t *testing.T) {
	var a DevAuthenticator

	_, err := a.Authenticate(context.Background(), "alice")
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestJWTAuthenticatorRoundTrip(t *testing.T) {
	a := NewJWTAuthenticator([]byte("test-secret"), "arcforge")

	token, err := a.IssueToken(protocol.PlayerID(7), time.Minute)
	require.NoError(t, err)

	id, err := a.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, protocol.PlayerID(7), id)
}

func TestJWTAuthenticatorRejectsWrongSecret(t *testing.T) {
	issuer := NewJWTAuthenticator([]byte("secret-a"), "arcforge")
	verifier := NewJWTAuthenticator([]byte("secret-b"), "arcforge")

	token, err := issuer.IssueToken(protocol.PlayerID(7), time.Minute)
	require.NoError(t, err)

	_, err = verifier.Authenticate(context.Background(), token)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestJWTAuthenticatorRejectsExpiredToken(t *testing.T) {
	a := NewJWTAuthenticator([]byte("test-secret"), "arcforge")

	token, err := a.IssueToken(protocol.PlayerID(7), -time.Minute)
	require.NoError(t, err)

	_, err = a.Authenticate(context.Background(), token)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestJWTAuthenticatorRejectsWrongIssuer(t *testing.T) {
	issuer := NewJWTAuthenticator([]byte("test-secret"), "someone-else")
	verifier := NewJWTAuthenticator([]byte("test-secret"), "arcforge")

	token, err := issuer.IssueToken(protocol.PlayerID(7), time.Minute)
	require.NoError(t, err)

	_, err = verifier.Authenticate(context.Background(), token)
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestJWTAuthenticatorRejectsGarbage(t *testing.T) {
	a := NewJWTAuthenticator([]byte("test-secret"), "")

	_, err := a.Authenticate(context.Background(), "not.a.jwt")
	require.ErrorIs(t, err, ErrAuthFailed)
}
