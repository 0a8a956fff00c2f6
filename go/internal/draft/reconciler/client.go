package reconciler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/draftroom/go/internal/draft/events"
	"github.com/mcdev12/draftroom/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ClientConfig points a viewer at the API and the websocket gateway.
type ClientConfig struct {
	APIURL     string // e.g. http://localhost:8080
	GatewayURL string // e.g. ws://localhost:8081
	DraftID    int64
	Token      string
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Client subscribes to one draft and keeps a Reconciler fed.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	dialer     *websocket.Dialer
	clock      clockwork.Clock
	rec        *Reconciler
}

// NewClient creates a viewer client. opts configure the underlying Reconciler.
func NewClient(cfg ClientConfig, clock clockwork.Clock, opts ...Option) *Client {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 30 * time.Second
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		dialer:     websocket.DefaultDialer,
		clock:      clock,
	}
	c.rec = New(cfg.DraftID, c, opts...)
	return c
}

// Reconciler exposes the local state machine.
func (c *Client) Reconciler() *Reconciler {
	return c.rec
}

// FetchSnapshot loads GET /drafts/{id}/snapshot.
func (c *Client) FetchSnapshot(ctx context.Context, draftID int64) (*models.Snapshot, error) {
	u := fmt.Sprintf("%s/drafts/%d/snapshot", strings.TrimRight(c.cfg.APIURL, "/"), draftID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected snapshot status: %d", resp.StatusCode)
	}
	var snap models.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snap, nil
}

func (c *Client) wsURL() string {
	q := url.Values{}
	q.Set("draft_id", strconv.FormatInt(c.cfg.DraftID, 10))
	if c.cfg.Token != "" {
		q.Set("token", c.cfg.Token)
	}
	return strings.TrimRight(c.cfg.GatewayURL, "/") + "/ws/drafts?" + q.Encode()
}

// Run connects, resyncs on every (re)connect and applies events until ctx is
// done. Lost connections are retried with exponential backoff.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.cfg.MinBackoff
	for {
		conn, _, err := c.dialer.DialContext(ctx, c.wsURL(), nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Int64("draft_id", c.cfg.DraftID).Dur("backoff", backoff).Msg("websocket dial failed")
			select {
			case <-ctx.Done():
				return nil
			case <-c.clock.After(backoff):
			}
			backoff = min(backoff*2, c.cfg.MaxBackoff)
			continue
		}
		backoff = c.cfg.MinBackoff

		log.Info().Int64("draft_id", c.cfg.DraftID).Msg("connected to draft gateway")
		c.rec.HandleReconnect(ctx)
		c.listen(ctx, conn)

		if ctx.Err() != nil {
			return nil
		}
	}
}

// listen reads frames until the connection fails or ctx is done.
func (c *Client) listen(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Warn().Err(err).Int64("draft_id", c.cfg.DraftID).Msg("websocket read error")
			}
			return
		}

		var msg events.Message
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Warn().Err(err).Msg("failed to parse event frame")
			continue
		}
		if msg.Event != events.WireEventName {
			continue
		}
		c.rec.HandleEvent(ctx, msg.Data)
	}
}
