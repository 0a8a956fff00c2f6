package pick

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mcdev12/draftroom/go/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, f *fixture) (*httptest.Server, *auth.Authenticator) {
	t.Helper()
	authn := auth.NewAuthenticator("test-secret", "draftroom", f.clock)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(authn.Middleware)
		NewService(f.app).RegisterRoutes(r)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, authn
}

func postPick(t *testing.T, srv *httptest.Server, token string, draftID int64, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/drafts/%d/picks", srv.URL, draftID), bytes.NewReader(raw))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestService_SubmitPick(t *testing.T) {
	f := newFixture(t, fixtureOpts{rateLimit: 3})
	srv, authn := newTestServer(t, f)

	user1, err := authn.Issue("user-1", time.Hour)
	require.NoError(t, err)
	user3, err := authn.Issue("user-3", time.Hour)
	require.NoError(t, err)

	body := map[string]any{"nomination_id": 101, "request_id": "req-1"}

	resp, out := postPick(t, srv, user1, f.draft.ID, body)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	pick, ok := out["pick"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), pick["pick_number"])

	resp, out = postPick(t, srv, user1, f.draft.ID, body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, pick["id"], out["pick"].(map[string]any)["id"])

	resp, out = postPick(t, srv, user3, f.draft.ID, map[string]any{"nomination_id": 102, "request_id": "req-x"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "not_active_turn", errorCode(out))

	resp, out = postPick(t, srv, user3, f.draft.ID, map[string]any{"nomination_id": 101, "request_id": "req-y"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "nomination_already_picked", errorCode(out))

	resp, out = postPick(t, srv, user3, f.draft.ID, map[string]any{"nomination_id": 103, "request_id": "req-z"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, out = postPick(t, srv, user3, f.draft.ID, map[string]any{"nomination_id": 103, "request_id": "req-w"})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate_limited", errorCode(out))

	resp, out = postPick(t, srv, "", f.draft.ID, body)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthenticated", errorCode(out))

	resp, out = postPick(t, srv, user1, 9999, map[string]any{"nomination_id": 102, "request_id": "req-2"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "draft_not_found", errorCode(out))
}

func TestService_BadBody(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	srv, authn := newTestServer(t, f)
	token, err := authn.Issue("user-1", time.Hour)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/drafts/%d/picks", srv.URL, f.draft.ID), bytes.NewBufferString("{"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, out := postPick(t, srv, token, f.draft.ID, map[string]any{"nomination_id": 101})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", errorCode(out))
}

func TestService_Tick(t *testing.T) {
	timer := 30
	f := newFixture(t, fixtureOpts{timer: &timer})
	srv, authn := newTestServer(t, f)
	token, err := authn.Issue("scheduler", time.Hour)
	require.NoError(t, err)

	f.clock.Advance(31 * time.Second)

	req, err := http.NewRequest(http.MethodPost, fmt.Sprintf("%s/drafts/%d/tick", srv.URL, f.draft.ID), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out TickResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotNil(t, out.AutoPick)
	assert.Equal(t, 1, out.AutoPick.PickNumber)
}
