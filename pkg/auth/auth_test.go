package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-expense-approvals/pkg/errors"
)

func TestVerifier_SignAndParse(t *testing.T) {
	v := NewVerifier("test-secret")
	token, err := v.Sign(UserContext{UserID: "u1", Email: "u1@example.com", OrganizationID: "org1"}, time.Hour)
	require.NoError(t, err)

	uc, err := v.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", uc.UserID)
	assert.Equal(t, "org1", uc.OrganizationID)
}

func TestVerifier_RejectsWrongSecret(t *testing.T) {
	token, err := NewVerifier("a").Sign(UserContext{UserID: "u1"}, time.Hour)
	require.NoError(t, err)

	_, err = NewVerifier("b").Parse(token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeNotAuthenticated))
}

func TestVerifier_RejectsExpired(t *testing.T) {
	v := NewVerifier("s")
	v.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := v.Sign(UserContext{UserID: "u1"}, time.Hour)
	require.NoError(t, err)

	_, err = NewVerifier("s").Parse(token)
	assert.Error(t, err)
}

func TestRequireOrganization(t *testing.T) {
	_, err := RequireOrganization(context.Background())
	assert.True(t, errors.Is(err, errors.ErrCodeNotAuthenticated))

	ctx := WithUserContext(context.Background(), &UserContext{UserID: "u1"})
	_, err = RequireOrganization(ctx)
	assert.True(t, errors.Is(err, errors.ErrCodeNoOrganizationSelected))

	ctx = WithUserContext(context.Background(), &UserContext{UserID: "u1", OrganizationID: "org1"})
	uc, err := RequireOrganization(ctx)
	require.NoError(t, err)
	assert.Equal(t, "org1", uc.OrganizationID)
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("s")
	token, err := v.Sign(UserContext{UserID: "u1"}, time.Hour)
	require.NoError(t, err)

	var seen *UserContext
	h := v.Middleware("/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetUserContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("public path", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("organization header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set(OrganizationHeader, "org9")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, seen)
		assert.Equal(t, "u1", seen.UserID)
		assert.Equal(t, "org9", seen.OrganizationID)
	})
}
