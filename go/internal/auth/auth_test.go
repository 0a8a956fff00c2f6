package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 9, 1, 12, 0, 0, 0, time.UTC))
	a := NewAuthenticator("secret", "draftroom", clock)

	token, err := a.Issue("user-1", time.Minute, RoleManager)
	require.NoError(t, err)

	p, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.UserID)
	assert.True(t, p.HasRole(RoleManager))

	clock.Advance(2 * time.Minute)
	_, err = a.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	token, err := NewAuthenticator("other", "draftroom", nil).Issue("user-1", time.Minute)
	require.NoError(t, err)

	_, err = NewAuthenticator("secret", "draftroom", nil).Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestFromRequest(t *testing.T) {
	a := NewAuthenticator("secret", "", nil)
	token, err := a.Issue("user-2", time.Minute)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	p, err := a.FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "user-2", p.UserID)

	r = httptest.NewRequest(http.MethodGet, "/ws/drafts?draft_id=1&token="+token, nil)
	p, err = a.FromRequest(r)
	require.NoError(t, err)
	assert.Equal(t, "user-2", p.UserID)

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	_, err = a.FromRequest(r)
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestMiddleware(t *testing.T) {
	a := NewAuthenticator("secret", "", nil)
	h := a.Middleware(RequireRole(RoleManager)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	cases := []struct {
		name   string
		roles  []string
		token  bool
		status int
	}{
		{name: "no token", status: http.StatusUnauthorized},
		{name: "missing role", token: true, status: http.StatusForbidden},
		{name: "manager", token: true, roles: []string{RoleManager}, status: http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			if tc.token {
				token, err := a.Issue("u", time.Minute, tc.roles...)
				require.NoError(t, err)
				r.Header.Set("Authorization", "Bearer "+token)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tc.status, w.Code)
		})
	}
}
