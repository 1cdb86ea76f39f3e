package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthMiddleware_WithValidToken(t *testing.T) {
	m := NewAuthMiddleware("test-secret")

	token, err := m.IssueToken("admin-42", RoleAdmin, time.Hour)
	require.NoError(t, err)

	nextCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		actor, ok := ActorFromContext(r.Context())
		require.True(t, ok, "actor not in context")
		assert.Equal(t, "admin-42", actor.ID)
		assert.True(t, actor.IsAdmin())
	})

	r := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	m.Middleware(next).ServeHTTP(httptest.NewRecorder(), r)
	assert.True(t, nextCalled, "next handler was not called")
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	m := NewAuthMiddleware("test-secret")
	other := NewAuthMiddleware("other-secret")

	foreign, err := other.IssueToken("admin-42", RoleAdmin, time.Hour)
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := m.IssueToken("admin-42", RoleAdmin, time.Hour)
	require.NoError(t, err)
	m.now = time.Now

	noSubject, err := m.IssueToken("", RoleAdmin, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{name: "no header", header: ""},
		{name: "not bearer", header: "Basic abc"},
		{name: "garbage", header: "Bearer not-a-token"},
		{name: "foreign signature", header: "Bearer " + foreign},
		{name: "expired", header: "Bearer " + expired},
		{name: "no subject", header: "Bearer " + noSubject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatalf("next handler should not be called")
			})

			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}

			m.Middleware(next).ServeHTTP(w, r)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestRequireRole(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	h := RequireRole(RoleAdmin)(ok)

	tests := []struct {
		name   string
		actor  *Actor
		status int
	}{
		{name: "admin", actor: &Actor{ID: "a1", Role: RoleAdmin}, status: http.StatusNoContent},
		{name: "customer", actor: &Actor{ID: "c1", Role: RoleCustomer}, status: http.StatusForbidden},
		{name: "anonymous", actor: nil, status: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/admin", nil)
			if tt.actor != nil {
				r = r.WithContext(WithActor(r.Context(), *tt.actor))
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}
