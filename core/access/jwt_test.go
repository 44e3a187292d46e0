package access

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJWKSServer(t *testing.T, kid string, key *rsa.PublicKey) (*httptest.Server, *int) {
	t.Helper()
	downloads := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		downloads++
		set := map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString([]byte{0x01, 0x00, 0x01}),
			}},
		}
		json.NewEncoder(w).Encode(set)
	}))
	return server, &downloads
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestJWTVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	server, downloads := newJWKSServer(t, "key-1", &key.PublicKey)
	defer server.Close()

	verifier := NewJWTVerifier(&JWTVerifierBuilder{JWKSURL: server.URL})

	token := signToken(t, key, "key-1", jwt.MapClaims{
		"sub":   "user-1",
		"email": "ana@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	identity, err := verifier.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", identity.Subject)
	assert.Equal(t, "ana@example.com", identity.Email)

	// the key set is cached, a second verification downloads nothing
	_, err = verifier.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, 1, *downloads)
}

func TestJWTVerifierRejectsExpiredToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	server, _ := newJWKSServer(t, "key-1", &key.PublicKey)
	defer server.Close()

	verifier := NewJWTVerifier(&JWTVerifierBuilder{JWKSURL: server.URL})

	token := signToken(t, key, "key-1", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err = verifier.Verify(context.Background(), token)
	assert.Error(t, err)
}

func TestJWTVerifierRejectsUnknownKey(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	server, _ := newJWKSServer(t, "key-1", &key.PublicKey)
	defer server.Close()

	verifier := NewJWTVerifier(&JWTVerifierBuilder{JWKSURL: server.URL})

	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	token := signToken(t, otherKey, "key-2", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err = verifier.Verify(context.Background(), token)
	assert.Error(t, err)
}

func TestJWTVerifierRateLimitsRefresh(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	server, downloads := newJWKSServer(t, "key-1", &key.PublicKey)
	defer server.Close()

	verifier := NewJWTVerifier(&JWTVerifierBuilder{
		JWKSURL:            server.URL,
		MinRefreshInterval: time.Hour,
	})

	unknown := signToken(t, key, "key-2", jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	// the first unknown kid triggers a download, the second is rate-limited
	_, err = verifier.Verify(context.Background(), unknown)
	assert.Error(t, err)
	_, err = verifier.Verify(context.Background(), unknown)
	assert.Error(t, err)
	assert.Equal(t, 1, *downloads)
}

func TestJWTVerifierRejectsTokenWithoutSubject(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	server, _ := newJWKSServer(t, "key-1", &key.PublicKey)
	defer server.Close()

	verifier := NewJWTVerifier(&JWTVerifierBuilder{JWKSURL: server.URL})

	token := signToken(t, key, "key-1", jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	_, err = verifier.Verify(context.Background(), token)
	assert.Error(t, err)
}
