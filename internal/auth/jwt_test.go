package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/visit-booking/internal/appointment"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func actorEcho(t *testing.T, got *appointment.Actor) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFrom(r.Context())
		require.True(t, ok)
		*got = actor
		w.WriteHeader(http.StatusOK)
	})
}

func TestMiddleware_AcceptsValidTokens(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		staff   bool
	}{
		{"patient", "patient-1", false},
		{"staff", "staff-1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := Issue(testSigningKey, tt.subject, tt.staff, time.Hour)
			require.NoError(t, err)

			var actor appointment.Actor
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()

			Middleware(testSigningKey)(actorEcho(t, &actor)).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, appointment.Actor{SubjectID: tt.subject, Privileged: tt.staff}, actor)
		})
	}
}

func TestMiddleware_RejectsBadTokens(t *testing.T) {
	expired, err := Issue(testSigningKey, "patient-1", false, -time.Minute)
	require.NoError(t, err)
	otherKey, err := Issue([]byte("another-key"), "patient-1", false, time.Hour)
	require.NoError(t, err)
	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{}).SignedString(testSigningKey)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"no bearer prefix", "Token abc123"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"garbage", "Bearer not.a.jwt"},
		{"expired", "Bearer " + expired},
		{"wrong key", "Bearer " + otherKey},
		{"no subject", "Bearer " + noSubject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			called := false
			next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })

			Middleware(testSigningKey)(next).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.False(t, called)
		})
	}
}

func TestRequireStaff(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	RequireStaff(ok).ServeHTTP(rec, req.WithContext(WithActor(req.Context(), appointment.Actor{SubjectID: "p"})))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	RequireStaff(ok).ServeHTTP(rec, req.WithContext(WithActor(req.Context(), appointment.Actor{SubjectID: "s", Privileged: true})))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
