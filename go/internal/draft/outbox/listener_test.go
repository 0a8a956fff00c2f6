package outbox

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/draftroom/go/internal/metrics"
	"github.com/mcdev12/draftroom/go/internal/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore mimics the repository's drain contract over a slice.
type memStore struct {
	mu      sync.Mutex
	records []Record
	sent    map[uuid.UUID]bool
}

func newMemStore(recs ...Record) *memStore {
	return &memStore{records: recs, sent: map[uuid.UUID]bool{}}
}

func (s *memStore) Drain(ctx context.Context, limit int, fn func(ctx context.Context, rec Record) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var unsent []Record
	for _, r := range s.records {
		if !s.sent[r.ID] {
			unsent = append(unsent, r)
		}
	}
	sort.Slice(unsent, func(i, j int) bool {
		if unsent[i].DraftID != unsent[j].DraftID {
			return unsent[i].DraftID < unsent[j].DraftID
		}
		return unsent[i].Version < unsent[j].Version
	})
	if len(unsent) > limit {
		unsent = unsent[:limit]
	}

	blocked := map[int64]bool{}
	n := 0
	for _, r := range unsent {
		if blocked[r.DraftID] {
			continue
		}
		if err := fn(ctx, r); err != nil {
			blocked[r.DraftID] = true
			continue
		}
		s.sent[r.ID] = true
		n++
	}
	return n, nil
}

func (s *memStore) CountUnsent(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records) - len(s.sent), nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []Record
	failDraft int64
	failures  int
}

func (p *fakePublisher) Publish(ctx context.Context, rec Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec.DraftID == p.failDraft && p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.published = append(p.published, rec)
	return nil
}

func (p *fakePublisher) versions(draftID int64) []int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []int64
	for _, r := range p.published {
		if r.DraftID == draftID {
			out = append(out, r.Version)
		}
	}
	return out
}

func record(draftID, version int64) Record {
	return Record{DraftEvent: models.DraftEvent{
		ID:      uuid.New(),
		DraftID: draftID,
		Version: version,
		Type:    "pick.submitted",
	}}
}

func testConfig() ListenerConfig {
	cfg := DefaultListenerConfig()
	cfg.BatchSize = 2
	cfg.MaxRetries = 0
	cfg.RetryDelay = 0
	return cfg
}

func TestRelay_DrainAllInVersionOrder(t *testing.T) {
	store := newMemStore(record(2, 2), record(1, 3), record(1, 1), record(2, 1), record(1, 2))
	pub := &fakePublisher{}
	m := metrics.New(nil)
	relay := NewRelay(store, pub, testConfig(), m, clockwork.NewFakeClock())

	n, err := relay.DrainAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []int64{1, 2, 3}, pub.versions(1))
	assert.Equal(t, []int64{1, 2}, pub.versions(2))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.OutboxLag))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.EventsPublished.WithLabelValues("jetstream", "ok")))

	processed, last := relay.Stats()
	assert.Equal(t, uint64(5), processed)
	assert.False(t, last.IsZero())
}

func TestRelay_FailedDraftDoesNotSkipAhead(t *testing.T) {
	store := newMemStore(record(1, 1), record(1, 2), record(2, 1))
	pub := &fakePublisher{failDraft: 1, failures: 1}
	cfg := testConfig()
	cfg.BatchSize = 10
	m := metrics.New(nil)
	relay := NewRelay(store, pub, cfg, m, clockwork.NewFakeClock())

	n, err := relay.DrainAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, pub.versions(1))
	assert.Equal(t, []int64{1}, pub.versions(2))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.OutboxLag))

	n, err = relay.DrainAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 2}, pub.versions(1))
}

func TestRelay_RetryWaitsOnClock(t *testing.T) {
	store := newMemStore(record(1, 1))
	pub := &fakePublisher{failDraft: 1, failures: 1}
	cfg := testConfig()
	cfg.MaxRetries = 1
	cfg.RetryDelay = time.Second
	clock := clockwork.NewFakeClock()
	relay := NewRelay(store, pub, cfg, nil, clock)

	done := make(chan int, 1)
	go func() {
		n, _ := relay.DrainAll(context.Background())
		done <- n
	}()

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(time.Second)

	select {
	case n := <-done:
		assert.Equal(t, 1, n)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not finish after retry delay")
	}
	assert.Equal(t, []int64{1}, pub.versions(1))
}

func TestRelay_RunDrainsOnWake(t *testing.T) {
	store := newMemStore()
	pub := &fakePublisher{}
	relay := NewRelay(store, pub, testConfig(), nil, clockwork.NewFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wake := make(chan struct{}, 1)
	go func() { _ = relay.Run(ctx, wake) }()

	store.mu.Lock()
	store.records = append(store.records, record(7, 1))
	store.mu.Unlock()
	wake <- struct{}{}

	require.Eventually(t, func() bool {
		return len(pub.versions(7)) == 1
	}, 2*time.Second, 10*time.Millisecond)
}
