package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/draftroom/go/internal/auth"
	"github.com/mcdev12/draftroom/go/internal/draft/events"
	"github.com/mcdev12/draftroom/go/internal/metrics"
	"github.com/mcdev12/draftroom/go/internal/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGateway(t *testing.T) (*ConnectionManager, *auth.Authenticator, *httptest.Server, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(nil)
	cm := NewConnectionManager(DefaultConnectionConfig(), m, nil)
	authn := auth.NewAuthenticator("secret", "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go cm.Start(ctx)

	r := chi.NewRouter()
	NewWebSocketHandler(cm, authn).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return cm, authn, srv, m
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/drafts?" + query
}

func TestBroadcastToViewers(t *testing.T) {
	cm, authn, srv, m := newGateway(t)
	token, err := authn.Issue("viewer", time.Minute)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "draft_id=42&token="+token), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return cm.Stats().TotalConnections == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WSConnections))

	ev := models.DraftEvent{
		ID:      uuid.New(),
		DraftID: 42,
		Version: 3,
		Type:    events.TypeDraftPaused,
		Payload: json.RawMessage(`{"draft":{"status":"PAUSED","current_pick_number":2,"pick_deadline_at":null}}`),
	}
	require.NoError(t, cm.Publish(context.Background(), ev))
	// Other drafts are not delivered.
	require.NoError(t, cm.Publish(context.Background(), models.DraftEvent{DraftID: 7, Version: 1, Type: events.TypeDraftPaused, Payload: json.RawMessage(`{}`)}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg events.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, events.WireEventName, msg.Event)
	assert.Equal(t, int64(42), msg.Data.DraftID)
	assert.Equal(t, int64(3), msg.Data.Version)
	assert.Equal(t, events.TypeDraftPaused, msg.Data.EventType)
}

func TestConnectionRejected(t *testing.T) {
	_, authn, srv, _ := newGateway(t)
	token, err := authn.Issue("viewer", time.Minute)
	require.NoError(t, err)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "draft_id=abc&token="+token), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "draft_id=1"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProcessMessage(t *testing.T) {
	var got []models.DraftEvent
	ec := &EventConsumer{publisher: events.PublisherFunc(func(_ context.Context, ev models.DraftEvent) error {
		got = append(got, ev)
		return nil
	})}

	data, err := json.Marshal(models.DraftEvent{ID: uuid.New(), DraftID: 5, Version: 9, Type: events.TypePickSubmitted, Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	require.NoError(t, ec.processMessage(context.Background(), data))
	require.Len(t, got, 1)
	assert.Equal(t, int64(9), got[0].Version)

	assert.Error(t, ec.processMessage(context.Background(), []byte("not json")))
	assert.Error(t, ec.processMessage(context.Background(), []byte(`{"draft_id":5}`)))
}
