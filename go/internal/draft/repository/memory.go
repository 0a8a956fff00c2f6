package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/draftroom/go/internal/models"
)

// Memory is a single-process Store. Each draft has its own mutex for the
// exclusive section; writes are staged on a copy and swapped in on success.
type Memory struct {
	clock clockwork.Clock

	mu          sync.RWMutex
	drafts      map[int64]*memDraft
	seasons     map[int64]models.Season
	nominations map[int64][]models.Nomination // by season
	nextPickID  int64
	nextDraftID int64
}

type memDraft struct {
	lock sync.Mutex // exclusive section

	stateMu sync.RWMutex
	state   *memState
}

type memState struct {
	draft  models.Draft
	seats  []models.Seat
	picks  []models.DraftPick
	events []models.DraftEvent
}

func (s *memState) clone() *memState {
	c := &memState{
		draft:  *s.draft.Clone(),
		seats:  append([]models.Seat(nil), s.seats...),
		picks:  append([]models.DraftPick(nil), s.picks...),
		events: append([]models.DraftEvent(nil), s.events...),
	}
	return c
}

// NewMemory creates an empty in-memory store.
func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		clock:       clock,
		drafts:      make(map[int64]*memDraft),
		seasons:     make(map[int64]models.Season),
		nominations: make(map[int64][]models.Nomination),
	}
}

var _ Store = (*Memory)(nil)

// PutSeason stores or replaces reference data for a season.
func (m *Memory) PutSeason(season models.Season, nominations ...models.Nomination) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seasons[season.ID] = season
	for _, n := range nominations {
		n.SeasonID = season.ID
		m.nominations[season.ID] = append(m.nominations[season.ID], n)
	}
}

// CreateDraft registers a draft and its seats. A zero ID is assigned.
func (m *Memory) CreateDraft(d models.Draft, seats []models.Seat) (*models.Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d.ID == 0 {
		m.nextDraftID++
		d.ID = m.nextDraftID
	} else if d.ID > m.nextDraftID {
		m.nextDraftID = d.ID
	}
	if _, exists := m.drafts[d.ID]; exists {
		return nil, fmt.Errorf("draft %d already exists", d.ID)
	}
	if d.Status == "" {
		d.Status = models.DraftStatusPending
	}
	now := m.clock.Now()
	d.CreatedAt, d.UpdatedAt = now, now

	st := &memState{draft: *d.Clone()}
	for _, seat := range seats {
		seat.DraftID = d.ID
		st.seats = append(st.seats, seat)
	}
	sort.Slice(st.seats, func(i, j int) bool { return st.seats[i].SeatNumber < st.seats[j].SeatNumber })

	m.drafts[d.ID] = &memDraft{state: st}
	return d.Clone(), nil
}

// Events returns the committed event log of a draft.
func (m *Memory) Events(draftID int64) []models.DraftEvent {
	d, err := m.draft(draftID)
	if err != nil {
		return nil
	}
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	return append([]models.DraftEvent(nil), d.state.events...)
}

func (m *Memory) draft(id int64) (*memDraft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drafts[id]
	if !ok {
		return nil, fmt.Errorf("draft %d: %w", id, ErrNotFound)
	}
	return d, nil
}

func (m *Memory) WithDraftLock(ctx context.Context, draftID int64, fn func(ctx context.Context, tx DraftTx) error) error {
	d, err := m.draft(draftID)
	if err != nil {
		return err
	}

	d.lock.Lock()
	defer d.lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	d.stateMu.RLock()
	staged := d.state.clone()
	d.stateMu.RUnlock()

	if err := fn(ctx, &memTx{store: m, state: staged}); err != nil {
		return err
	}

	d.stateMu.Lock()
	d.state = staged
	d.stateMu.Unlock()
	return nil
}

func (m *Memory) FindPickByRequestID(_ context.Context, draftID int64, requestID string) (*models.DraftPick, error) {
	d, err := m.draft(draftID)
	if err != nil {
		return nil, err
	}
	d.stateMu.RLock()
	defer d.stateMu.RUnlock()
	for _, p := range d.state.picks {
		if p.RequestID == requestID {
			pick := p
			return &pick, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) Snapshot(_ context.Context, draftID int64) (*models.Snapshot, error) {
	d, err := m.draft(draftID)
	if err != nil {
		return nil, err
	}
	d.stateMu.RLock()
	st := d.state.clone()
	d.stateMu.RUnlock()

	m.mu.RLock()
	season, ok := m.seasons[st.draft.SeasonID]
	m.mu.RUnlock()
	var sp *models.Season
	if ok {
		sp = &season
	}

	return &models.Snapshot{
		Draft:         st.draft,
		Seats:         st.seats,
		Picks:         st.picks,
		Version:       st.draft.Version,
		PicksRequired: PicksRequired(st.draft, sp, len(st.seats)),
	}, nil
}

func (m *Memory) DueDrafts(_ context.Context, now time.Time, limit int) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []int64
	for id, d := range m.drafts {
		d.stateMu.RLock()
		h := d.state.draft
		d.stateMu.RUnlock()
		if h.Status == models.DraftStatusInProgress && h.PickDeadlineAt != nil && h.PickDeadlineAt.Before(now) {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i] < due[j] })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *Memory) NextDeadline(_ context.Context) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var next *time.Time
	for _, d := range m.drafts {
		d.stateMu.RLock()
		h := d.state.draft
		d.stateMu.RUnlock()
		if h.Status != models.DraftStatusInProgress || h.PickDeadlineAt == nil {
			continue
		}
		if next == nil || h.PickDeadlineAt.Before(*next) {
			t := *h.PickDeadlineAt
			next = &t
		}
	}
	return next, nil
}

type memTx struct {
	store *Memory
	state *memState
}

func (t *memTx) Draft(context.Context) (*models.Draft, error) {
	return t.state.draft.Clone(), nil
}

func (t *memTx) Season(context.Context) (*models.Season, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	s, ok := t.store.seasons[t.state.draft.SeasonID]
	if !ok {
		return nil, fmt.Errorf("season %d: %w", t.state.draft.SeasonID, ErrNotFound)
	}
	return &s, nil
}

func (t *memTx) Seats(context.Context) ([]models.Seat, error) {
	return append([]models.Seat(nil), t.state.seats...), nil
}

func (t *memTx) CountPicks(context.Context) (int, error) {
	return len(t.state.picks), nil
}

func (t *memTx) findPick(match func(models.DraftPick) bool) (*models.DraftPick, error) {
	for _, p := range t.state.picks {
		if match(p) {
			pick := p
			return &pick, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) PickByRequestID(_ context.Context, requestID string) (*models.DraftPick, error) {
	return t.findPick(func(p models.DraftPick) bool { return p.RequestID == requestID })
}

func (t *memTx) PickByNumber(_ context.Context, pickNumber int) (*models.DraftPick, error) {
	return t.findPick(func(p models.DraftPick) bool { return p.PickNumber == pickNumber })
}

func (t *memTx) PickByNomination(_ context.Context, nominationID int64) (*models.DraftPick, error) {
	return t.findPick(func(p models.DraftPick) bool { return p.NominationID == nominationID })
}

func (t *memTx) NominationExists(_ context.Context, nominationID int64) (bool, error) {
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	for _, n := range t.store.nominations[t.state.draft.SeasonID] {
		if n.ID == nominationID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) AvailableNominations(_ context.Context, limit int) ([]models.Nomination, error) {
	claimed := make(map[int64]bool, len(t.state.picks))
	for _, p := range t.state.picks {
		claimed[p.NominationID] = true
	}

	t.store.mu.RLock()
	catalog := append([]models.Nomination(nil), t.store.nominations[t.state.draft.SeasonID]...)
	t.store.mu.RUnlock()
	sort.Slice(catalog, func(i, j int) bool { return catalog[i].ID < catalog[j].ID })

	var out []models.Nomination
	for _, n := range catalog {
		if claimed[n.ID] {
			continue
		}
		out = append(out, n)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (t *memTx) InsertPick(_ context.Context, p *models.DraftPick) error {
	for _, existing := range t.state.picks {
		if existing.PickNumber == p.PickNumber ||
			existing.NominationID == p.NominationID ||
			existing.RequestID == p.RequestID {
			return ErrDuplicate
		}
	}

	t.store.mu.Lock()
	t.store.nextPickID++
	p.ID = t.store.nextPickID
	t.store.mu.Unlock()

	p.DraftID = t.state.draft.ID
	t.state.picks = append(t.state.picks, *p)
	return nil
}

func (t *memTx) UpdateDraft(_ context.Context, d *models.Draft) error {
	version := t.state.draft.Version
	t.state.draft = *d.Clone()
	t.state.draft.Version = version
	t.state.draft.UpdatedAt = t.store.clock.Now()
	return nil
}

func (t *memTx) AppendEvent(_ context.Context, eventType string, payload json.RawMessage) (*models.DraftEvent, error) {
	t.state.draft.Version++
	ev := models.DraftEvent{
		ID:        uuid.New(),
		DraftID:   t.state.draft.ID,
		Version:   t.state.draft.Version,
		Type:      eventType,
		Payload:   append(json.RawMessage(nil), payload...),
		CreatedAt: t.store.clock.Now(),
	}
	t.state.events = append(t.state.events, ev)
	return &ev, nil
}
