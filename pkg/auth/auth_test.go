package auth

import (
	"crypto/ed25519"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tome-gg/negotiation-protocols/pkg/negotiation"
)

func testKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	priv, err := GenerateKey()
	require.NoError(t, err)
	return priv
}

func TestDeriveKey(t *testing.T) {
	seed := make([]byte, 32)
	seed[0] = 1

	a1, err := DeriveKey(seed, "alice")
	require.NoError(t, err)
	a2, err := DeriveKey(seed, "alice")
	require.NoError(t, err)
	b, err := DeriveKey(seed, "bob")
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, IdentityOf(a1), IdentityOf(b))

	// Composed and decomposed forms of "é" derive the same key.
	composed, err := DeriveKey(seed, "caf\u00e9")
	require.NoError(t, err)
	decomposed, err := DeriveKey(seed, "cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)

	_, err = DeriveKey(seed[:8], "alice")
	assert.Error(t, err)
	_, err = DeriveKey(seed, "")
	assert.Error(t, err)
}

func TestKeyFileRoundTrip(t *testing.T) {
	priv := testKey(t)
	path := filepath.Join(t.TempDir(), "party.key")
	require.NoError(t, WriteKeyFile(path, priv))

	loaded, err := LoadKeyFile(path)
	require.NoError(t, err)
	assert.Equal(t, priv, loaded)
	assert.Equal(t, IdentityOf(priv), IdentityOf(loaded))
	assert.Equal(t, []byte(priv.Public().(ed25519.PublicKey)), []byte(PublicKey(IdentityOf(priv))))
}

func TestValidator(t *testing.T) {
	priv := testKey(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := NewValidator(15 * time.Minute)
	v.Now = func() time.Time { return now }

	token, err := IssueToken(priv, time.Minute, now)
	require.NoError(t, err)
	id, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, IdentityOf(priv), id)

	t.Run("expired", func(t *testing.T) {
		old, err := IssueToken(priv, time.Minute, now.Add(-time.Hour))
		require.NoError(t, err)
		_, err = v.Validate(old)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("lifetime too long", func(t *testing.T) {
		long, err := IssueToken(priv, 2*time.Hour, now)
		require.NoError(t, err)
		_, err = v.Validate(long)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("signed by another key", func(t *testing.T) {
		other := testKey(t)
		claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   IdentityOf(priv).String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		}}
		forged, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(other)
		require.NoError(t, err)
		_, err = v.Validate(forged)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("wrong algorithm", func(t *testing.T) {
		claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   IdentityOf(priv).String(),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		}}
		hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
		require.NoError(t, err)
		_, err = v.Validate(hs)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := v.Validate("not-a-token")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestMiddleware(t *testing.T) {
	priv := testKey(t)
	v := NewValidator(0)
	token, err := IssueToken(priv, time.Minute, time.Now())
	require.NoError(t, err)

	var (
		seen     negotiation.Identity
		seenOK   bool
		rejected string
	)
	reject := func(w http.ResponseWriter, r *http.Request, detail string) {
		rejected = detail
		w.WriteHeader(http.StatusUnauthorized)
	}
	handler := NewMiddleware(v, reject)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, seenOK = CallerFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name   string
		path   string
		header string
		want   int
		caller negotiation.Identity
	}{
		{name: "valid", path: "/v1/negotiations", header: "Bearer " + token, want: http.StatusOK, caller: IdentityOf(priv)},
		{name: "public", path: "/health", want: http.StatusOK},
		{name: "missing", path: "/v1/negotiations", want: http.StatusUnauthorized},
		{name: "basic scheme", path: "/v1/negotiations", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "bad token", path: "/v1/negotiations", header: "Bearer nope", want: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rejected, seen, seenOK = "", negotiation.Identity{}, false
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.NotEmpty(t, rejected)
			}
			assert.Equal(t, tt.caller, seen)
			assert.Equal(t, !tt.caller.IsZero(), seenOK)
		})
	}
}

func TestMiddleware_NilValidatorFailsClosed(t *testing.T) {
	handler := NewMiddleware(nil, func(w http.ResponseWriter, r *http.Request, detail string) {
		w.WriteHeader(http.StatusUnauthorized)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/negotiations/x", nil)
	req.Header.Set("Authorization", "Bearer abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
}
