// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v4"

	"github.com/cuido-tech/cuido-bff/core/logger"
)

// JWTVerifierBuilder is a helper builder for JWTVerifier
type JWTVerifierBuilder struct {
	// JWKSURL is the download url for the identity provider's signing keys
	JWKSURL string
	// HTTPTimeout bounds the JWKS download. Default 5s.
	HTTPTimeout time.Duration
	// MinRefreshInterval bounds how often an unknown key id triggers a re-download.
	// Default 10s.
	MinRefreshInterval time.Duration
}

// JWTVerifier validates bearer tokens locally against the provider's JWKS.
//
// This is the alternative to remote token introspection: no network call per
// request once the key set is cached. Keys are re-downloaded when a token
// presents an unknown kid, rate-limited by MinRefreshInterval.
type JWTVerifier struct {
	jwksURL    string
	httpClient *http.Client
	minRefresh time.Duration

	mutex       sync.Mutex
	keys        map[string]interface{}
	lastRefresh time.Time
}

type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

type jwkSet struct {
	Keys []jwkKey `json:"keys"`
}

// NewJWTVerifier returns a verifier for the given JWKS endpoint
func NewJWTVerifier(b *JWTVerifierBuilder) *JWTVerifier {
	timeout := b.HTTPTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	minRefresh := b.MinRefreshInterval
	if minRefresh == 0 {
		minRefresh = 10 * time.Second
	}
	return &JWTVerifier{
		jwksURL:    b.JWKSURL,
		httpClient: &http.Client{Timeout: timeout},
		minRefresh: minRefresh,
		keys:       map[string]interface{}{},
	}
}

// Verify validates the token signature and expiry and returns the caller identity
func (v *JWTVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, v.lookupKey,
		jwt.WithValidMethods([]string{"RS256", "ES256"}))
	if err != nil {
		return Identity{}, err
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return Identity{}, errors.New("token has no subject")
	}
	email, _ := claims["email"].(string)
	return Identity{Subject: sub, Email: email, Claims: claims}, nil
}

func (v *JWTVerifier) lookupKey(token *jwt.Token) (interface{}, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token has no kid")
	}

	v.mutex.Lock()
	defer v.mutex.Unlock()

	key, ok := v.keys[kid]
	if ok {
		return key, nil
	}

	// unknown kid, maybe the provider rotated keys
	if time.Since(v.lastRefresh) < v.minRefresh {
		return nil, fmt.Errorf("unknown key id %s", kid)
	}
	if err := v.refreshKeysLocked(); err != nil {
		return nil, err
	}
	key, ok = v.keys[kid]
	if !ok {
		logger.Default().Warningf("have %d well known keys, but not kid %s", len(v.keys), kid)
		return nil, fmt.Errorf("unknown key id %s", kid)
	}
	return key, nil
}

func (v *JWTVerifier) refreshKeysLocked() error {
	v.lastRefresh = time.Now()

	res, err := v.httpClient.Get(v.jwksURL)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("jwks download failed with status %d: %s", res.StatusCode, string(body))
	}

	var set jwkSet
	if err := json.NewDecoder(res.Body).Decode(&set); err != nil {
		return err
	}

	keys := map[string]interface{}{}
	for _, k := range set.Keys {
		key, err := parseJWK(k)
		if err != nil {
			logger.Default().Warningln("skipping jwk", k.Kid, ":", err)
			continue
		}
		keys[k.Kid] = key
	}
	v.keys = keys
	logger.Default().Debugf("jwks refreshed, %d keys", len(keys))
	return nil
}

func parseJWK(k jwkKey) (interface{}, error) {
	switch k.Kty {
	case "RSA":
		nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, err
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, err
		}
		e := 0
		for _, b := range eBytes {
			e = e<<8 | int(b)
		}
		return &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: e}, nil
	case "EC":
		if k.Crv != "P-256" {
			return nil, fmt.Errorf("unsupported curve %s", k.Crv)
		}
		xBytes, err := base64.RawURLEncoding.DecodeString(k.X)
		if err != nil {
			return nil, err
		}
		yBytes, err := base64.RawURLEncoding.DecodeString(k.Y)
		if err != nil {
			return nil, err
		}
		return &ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(xBytes),
			Y:     new(big.Int).SetBytes(yBytes),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported key type %s", k.Kty)
	}
}
