package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

type JetStreamConfig struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration // How long to keep messages
	MaxMsgs         int64         // Max number of messages to keep
	Replicas        int           // Number of replicas for the stream
	DuplicateWindow time.Duration // Window for duplicate detection
}

func DefaultJetStreamConfig() JetStreamConfig {
	return JetStreamConfig{
		URL:             nats.DefaultURL,
		StreamName:      "DRAFT_EVENTS",
		SubjectPrefix:   "draft.events",
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		MaxAge:          7 * 24 * time.Hour,
		MaxMsgs:         -1,
		Replicas:        1,
		DuplicateWindow: 2 * time.Hour,
	}
}

// Connect opens a NATS connection with the reconnect and logging options the
// draft services share.
func Connect(url string, maxReconnects int, reconnectWait time.Duration) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// JetStreamPublisher publishes draft events on draft.events.<draft_id>. The
// event id doubles as the JetStream message id so relayed duplicates are dropped.
type JetStreamPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config JetStreamConfig
}

func NewJetStreamPublisher(nc *nats.Conn, cfg JetStreamConfig) (*JetStreamPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &JetStreamPublisher{nc: nc, js: js, config: cfg}
	if err := p.ensureStream(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return p, nil
}

func (p *JetStreamPublisher) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        p.config.StreamName,
		Description: "Committed draft events",
		Subjects:    []string{p.config.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      p.config.MaxAge,
		MaxMsgs:     p.config.MaxMsgs,
		Storage:     jetstream.FileStorage,
		Replicas:    p.config.Replicas,
		Duplicates:  p.config.DuplicateWindow,
	}

	if _, err := p.js.CreateOrUpdateStream(ctx, sc); err != nil {
		return fmt.Errorf("create or update stream: %w", err)
	}
	log.Info().Str("stream", p.config.StreamName).Msg("JetStream stream ready")
	return nil
}

// Subject returns the subject events of draftID are published on.
func (p *JetStreamPublisher) Subject(draftID int64) string {
	return p.config.SubjectPrefix + "." + strconv.FormatInt(draftID, 10)
}

func (p *JetStreamPublisher) Publish(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec.DraftEvent)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	header := nats.Header{}
	for k, v := range rec.Headers {
		header.Set(k, v)
	}
	header.Set("Event-Type", rec.Type)
	header.Set("Draft-ID", strconv.FormatInt(rec.DraftID, 10))
	header.Set("Event-Version", strconv.FormatInt(rec.Version, 10))

	subject := p.Subject(rec.DraftID)
	ack, err := p.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  header,
	},
		jetstream.WithMsgID(rec.ID.String()),
		jetstream.WithExpectStream(p.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", rec.ID.String()).
		Int64("version", rec.Version).
		Uint64("sequence", ack.Sequence).
		Bool("duplicate", ack.Duplicate).
		Msg("published to JetStream")
	return nil
}

// BenchmarkSubject carries recompute requests for completed drafts.
const BenchmarkSubject = "draft.benchmark.recompute"

// BenchmarkTrigger asks the scoring service to recompute benchmarks over core NATS.
type BenchmarkTrigger struct {
	nc *nats.Conn
}

func NewBenchmarkTrigger(nc *nats.Conn) *BenchmarkTrigger {
	return &BenchmarkTrigger{nc: nc}
}

type benchmarkRequest struct {
	DraftID int64 `json:"draft_id"`
}

func (t *BenchmarkTrigger) RecomputeBenchmarks(ctx context.Context, draftID int64) error {
	data, err := json.Marshal(benchmarkRequest{DraftID: draftID})
	if err != nil {
		return err
	}
	if err := t.nc.Publish(BenchmarkSubject, data); err != nil {
		return fmt.Errorf("publish benchmark request: %w", err)
	}
	log.Info().Int64("draft_id", draftID).Msg("benchmark recompute requested")
	return nil
}
