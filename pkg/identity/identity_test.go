package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hydranotes/hydra/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func TestJWTVerifier_RoundTrip(t *testing.T) {
	issuer, err := NewIssuer(testSecret, "HS256", time.Hour)
	require.NoError(t, err)
	verifier, err := NewJWTVerifier(testSecret, "HS256")
	require.NoError(t, err)

	token, err := issuer.Issue(User{ID: "user-1", Email: "a@example.com", Name: "Ada"})
	require.NoError(t, err)

	user, err := verifier.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, models.UserID("user-1"), user.ID)
	assert.Equal(t, "a@example.com", user.Email)
	assert.Equal(t, "Ada", user.Name)
}

func TestJWTVerifier_Rejects(t *testing.T) {
	verifier, err := NewJWTVerifier(testSecret, "HS256")
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("expired", func(t *testing.T) {
		issuer, err := NewIssuer(testSecret, "HS256", time.Hour)
		require.NoError(t, err)
		token, err := issuer.IssueAt(User{ID: "u"}, time.Now().Add(-2*time.Hour))
		require.NoError(t, err)

		_, err = verifier.Verify(ctx, token)
		require.ErrorIs(t, err, ErrUnauthenticated)
		assert.Contains(t, err.Error(), "expired")
	})

	t.Run("wrong secret", func(t *testing.T) {
		issuer, err := NewIssuer("other-secret", "HS256", time.Hour)
		require.NoError(t, err)
		token, err := issuer.Issue(User{ID: "u"})
		require.NoError(t, err)

		_, err = verifier.Verify(ctx, token)
		require.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("other algorithm", func(t *testing.T) {
		issuer, err := NewIssuer(testSecret, "HS512", time.Hour)
		require.NoError(t, err)
		token, err := issuer.Issue(User{ID: "u"})
		require.NoError(t, err)

		_, err = verifier.Verify(ctx, token)
		require.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("missing expiry", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u"}).SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = verifier.Verify(ctx, token)
		require.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("missing subject", func(t *testing.T) {
		claims := jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
		require.NoError(t, err)

		_, err = verifier.Verify(ctx, token)
		require.ErrorIs(t, err, ErrUnauthenticated)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := verifier.Verify(ctx, "not-a-jwt")
		require.ErrorIs(t, err, ErrUnauthenticated)
	})
}

func TestNewJWTVerifier_Config(t *testing.T) {
	_, err := NewJWTVerifier("", "HS256")
	assert.Error(t, err)
	_, err = NewJWTVerifier(testSecret, "RS256")
	assert.Error(t, err)
	_, err = NewIssuer(testSecret, "none", 0)
	assert.Error(t, err)
}

func TestDevVerifier(t *testing.T) {
	user, err := DevVerifier{}.Verify(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, models.UserID("alice"), user.ID)

	_, err = DevVerifier{}.Verify(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestMiddleware(t *testing.T) {
	var seen *User
	handler := Middleware(DevVerifier{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name    string
		header  string
		status  int
		message string
	}{
		{name: "missing header", status: http.StatusUnauthorized, message: "Authorization header required"},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized, message: "Invalid authorization format. Use: Bearer <token>"},
		{name: "no token", header: "Bearer", status: http.StatusUnauthorized, message: "Invalid authorization format. Use: Bearer <token>"},
		{name: "valid", header: "Bearer bob", status: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/api/blocks", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tt.status, rec.Code)
			if tt.message != "" {
				var body map[string]string
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.message, body["error"])
				assert.Nil(t, seen)
				return
			}
			require.NotNil(t, seen)
			assert.Equal(t, models.UserID("bob"), seen.ID)
		})
	}
}

func TestTokenFromRequest_Query(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/blocks/events?token=abc", nil)

	token, err := TokenFromRequest(req, true)
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	_, err = TokenFromRequest(req, false)
	assert.Error(t, err)
}
