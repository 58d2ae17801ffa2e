package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testProject = "piggybank-test"
	testIssuer  = "https://securetoken.google.com/piggybank-test"
)

type jwksFixture struct {
	key     *rsa.PrivateKey
	server  *httptest.Server
	fetches atomic.Int32
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	f := &jwksFixture{key: key}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.fetches.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kid": "kid-1",
				"kty": "RSA",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			}},
		})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *jwksFixture) sign(t *testing.T, kid string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(f.key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims() jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Subject:   "firebase-uid-1",
		Issuer:    testIssuer,
		Audience:  jwt.ClaimStrings{testProject},
		IssuedAt:  jwt.NewNumericDate(now.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}
}

func TestAuthMiddleware(t *testing.T) {
	f := newJWKSFixture(t)

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	wrongAudience := validClaims()
	wrongAudience.Audience = jwt.ClaimStrings{"another-project"}
	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "https://evil.example.com"
	noSubject := validClaims()
	noSubject.Subject = ""

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   string
	}{
		{name: "valid token", header: "Bearer " + f.sign(t, "kid-1", validClaims()), wantStatus: http.StatusOK, wantUser: "firebase-uid-1"},
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized},
		{name: "not a bearer token", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "expired token", header: "Bearer " + f.sign(t, "kid-1", expired), wantStatus: http.StatusUnauthorized},
		{name: "wrong audience", header: "Bearer " + f.sign(t, "kid-1", wrongAudience), wantStatus: http.StatusUnauthorized},
		{name: "wrong issuer", header: "Bearer " + f.sign(t, "kid-1", wrongIssuer), wantStatus: http.StatusUnauthorized},
		{name: "unknown kid", header: "Bearer " + f.sign(t, "kid-2", validClaims()), wantStatus: http.StatusUnauthorized},
		{name: "missing subject", header: "Bearer " + f.sign(t, "kid-1", noSubject), wantStatus: http.StatusUnauthorized},
	}

	verifier := NewJWKSVerifier(AuthConfig{JWKSURL: f.server.URL, ExpectedAudience: testProject, ExpectedIssuer: testIssuer})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			handler := AuthMiddleware(verifier, logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotUser = GetUserIDFromContext(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/v1/onboarding/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if gotUser != tt.wantUser {
				t.Fatalf("expected user %q, got %q", tt.wantUser, gotUser)
			}
		})
	}
}

func TestJWKSVerifierCachesKeys(t *testing.T) {
	f := newJWKSFixture(t)
	verifier := NewJWKSVerifier(AuthConfig{JWKSURL: f.server.URL})
	token := f.sign(t, "kid-1", validClaims())

	for i := 0; i < 3; i++ {
		if _, err := verifier.ValidateToken(context.Background(), token); err != nil {
			t.Fatalf("ValidateToken returned error: %v", err)
		}
	}
	if got := f.fetches.Load(); got != 1 {
		t.Fatalf("expected one JWKS fetch, got %d", got)
	}
}

func TestGetUserIDFromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if got := GetUserIDFromContext(req.Context()); got != "" {
		t.Fatalf("expected empty user id, got %q", got)
	}
	ctx := WithUserID(req.Context(), "uid")
	if got := GetUserIDFromContext(ctx); got != "uid" {
		t.Fatalf("expected uid, got %q", got)
	}
}
