package federated

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const testClientID = "client-123.apps.googleusercontent.com"

func TestNewVerifierRequiresClientID(t *testing.T) {
	if _, err := NewVerifier(Config{}); err == nil {
		t.Fatalf("expected missing client id to fail")
	}
}

func TestVerifyReturnsIdentityAndRefreshesOnUnknownKid(t *testing.T) {
	key1 := mustKey(t)
	key2 := mustKey(t)

	var active atomic.Value
	active.Store("kid-1")
	var fetches atomic.Int32
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fetches.Add(1)
		kid := active.Load().(string)
		pub := key1.PublicKey
		if kid == "kid-2" {
			pub = key2.PublicKey
		}
		w.Header().Set("Cache-Control", "public, max-age=300")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{toJWK(kid, pub)}})
	}))
	defer jwksServer.Close()

	v, err := NewVerifier(Config{JWKSURL: jwksServer.URL, ClientID: testClientID})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	if fetches.Load() != 0 {
		t.Fatalf("keys must be fetched lazily")
	}

	signed1 := signIDToken(t, key1, "kid-1", idClaims("sub-1", "Pat@Example.com", "accounts.google.com", testClientID))
	id, err := v.Verify(context.Background(), signed1)
	if err != nil {
		t.Fatalf("verify token1: %v", err)
	}
	if id.Subject != "sub-1" || id.Email != "pat@example.com" || id.Name != "Pat Example" {
		t.Fatalf("unexpected identity: %+v", id)
	}

	active.Store("kid-2")
	signed2 := signIDToken(t, key2, "kid-2", idClaims("sub-2", "b@example.com", "https://accounts.google.com", testClientID))
	if id, err := v.Verify(context.Background(), signed2); err != nil || id.Subject != "sub-2" {
		t.Fatalf("verify token2 failed: id=%+v err=%v", id, err)
	}
	if fetches.Load() != 2 {
		t.Fatalf("expected 2 jwks fetches, got %d", fetches.Load())
	}
}

func TestVerifyRejectsWrongAudienceIssuerAndUnverifiedEmail(t *testing.T) {
	key := mustKey(t)
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{toJWK("kid-1", key.PublicKey)}})
	}))
	defer jwksServer.Close()

	v, err := NewVerifier(Config{JWKSURL: jwksServer.URL, ClientID: testClientID})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	unverified := idClaims("sub-3", "c@example.com", "accounts.google.com", testClientID)
	f := false
	unverified.EmailVerified = &f

	cases := map[string]idTokenClaims{
		"audience":   idClaims("sub-1", "a@example.com", "accounts.google.com", "someone-else"),
		"issuer":     idClaims("sub-2", "b@example.com", "https://evil.example.com", testClientID),
		"unverified": unverified,
		"no email":   idClaims("sub-4", "", "accounts.google.com", testClientID),
	}
	for name, claims := range cases {
		t.Run(name, func(t *testing.T) {
			signed := signIDToken(t, key, "kid-1", claims)
			if _, err := v.Verify(context.Background(), signed); err == nil {
				t.Fatalf("expected %s check to fail", name)
			}
		})
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	key := mustKey(t)
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{toJWK("kid-1", key.PublicKey)}})
	}))
	defer jwksServer.Close()

	v, err := NewVerifier(Config{JWKSURL: jwksServer.URL, ClientID: testClientID, Leeway: time.Second})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	claims := idClaims("sub-1", "a@example.com", "accounts.google.com", testClientID)
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	claims.IssuedAt = jwt.NewNumericDate(time.Now().Add(-2 * time.Minute))
	if _, err := v.Verify(context.Background(), signIDToken(t, key, "kid-1", claims)); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestParseCacheMaxAge(t *testing.T) {
	if got := parseCacheMaxAge("public, max-age=120, must-revalidate"); got != 120*time.Second {
		t.Fatalf("max-age = %v", got)
	}
	if got := parseCacheMaxAge("no-store"); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func idClaims(sub, email, issuer, aud string) idTokenClaims {
	now := time.Now()
	return idTokenClaims{
		Email: email,
		Name:  "Pat Example",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{aud},
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, kid string, claims idTokenClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func mustKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

func toJWK(kid string, key rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}
