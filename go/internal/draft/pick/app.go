package pick

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/draftroom/go/internal/apperr"
	"github.com/mcdev12/draftroom/go/internal/draft/events"
	"github.com/mcdev12/draftroom/go/internal/draft/repository"
	"github.com/mcdev12/draftroom/go/internal/draft/turn"
	"github.com/mcdev12/draftroom/go/internal/metrics"
	"github.com/mcdev12/draftroom/go/internal/models"
	"github.com/rs/zerolog/log"
)

// App coordinates pick submission: one pick per draft commits at a time, each
// request id takes effect at most once and every commit appends one event.
type App struct {
	store      repository.Store
	fallback   FallbackSelector
	clock      clockwork.Clock
	limiter    *RateLimiter
	publisher  events.Publisher
	benchmarks BenchmarkTrigger
	autoDraft  AutoDraftService
	metrics    *metrics.Metrics
	cfg        Config

	seq *events.Sequencer
}

// Option configures an App.
type Option func(*App)

func WithClock(c clockwork.Clock) Option       { return func(a *App) { a.clock = c } }
func WithPublisher(p events.Publisher) Option  { return func(a *App) { a.publisher = p } }
func WithBenchmarks(b BenchmarkTrigger) Option { return func(a *App) { a.benchmarks = b } }
func WithAutoDraft(s AutoDraftService) Option  { return func(a *App) { a.autoDraft = s } }
func WithMetrics(m *metrics.Metrics) Option    { return func(a *App) { a.metrics = m } }
func WithConfig(cfg Config) Option             { return func(a *App) { a.cfg = cfg } }

// WithSequencer shares the post-commit queue with other writers of the same
// drafts, such as the lifecycle app.
func WithSequencer(s *events.Sequencer) Option { return func(a *App) { a.seq = s } }

// NewApp creates a new pick App
func NewApp(store repository.Store, fallback FallbackSelector, opts ...Option) *App {
	a := &App{
		store:      store,
		fallback:   fallback,
		clock:      clockwork.NewRealClock(),
		publisher:  events.Fanout{},
		benchmarks: NoopBenchmarks{},
		autoDraft:  SeatFlagAutoDraft{},
		cfg:        DefaultConfig(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.metrics == nil {
		a.metrics = metrics.New(nil)
	}
	a.limiter = NewRateLimiter(a.clock, a.cfg.RateLimitAttempts, a.cfg.RateLimitWindow)
	if a.seq == nil {
		a.seq = events.NewSequencer(a.cfg.SideEffectBuffer)
	}
	return a
}

// SubmitPick validates and commits one pick.
func (a *App) SubmitPick(ctx context.Context, req SubmitPickRequest) (*PickResult, error) {
	if err := req.Validate(); err != nil {
		a.metrics.PicksTotal.WithLabelValues("invalid").Inc()
		return nil, apperr.Wrap(apperr.CodeInvalidRequest, err, err.Error())
	}

	if !a.limiter.Allow(strconv.FormatInt(req.DraftID, 10) + ":" + req.UserID) {
		a.metrics.RateLimited.Inc()
		a.metrics.PicksTotal.WithLabelValues("rate_limited").Inc()
		return nil, apperr.New(apperr.CodeRateLimited, "too many pick attempts, slow down")
	}

	// Fast path: retries of an accepted pick succeed without the lock, even
	// after the draft has completed.
	existing, err := a.store.FindPickByRequestID(ctx, req.DraftID, req.RequestID)
	switch {
	case err == nil:
		return a.replayed(existing), nil
	case !errors.Is(err, repository.ErrNotFound):
		return nil, apperr.Wrap(apperr.CodeInternal, err, "failed to check request id")
	}

	var (
		out         lockedOutcome
		deferredErr error
		slot        *events.Slot
	)
	// Once inside the exclusive section the request runs to completion.
	lockCtx := context.WithoutCancel(ctx)
	err = a.store.WithDraftLock(lockCtx, req.DraftID, func(ctx context.Context, tx repository.DraftTx) error {
		out, deferredErr = lockedOutcome{}, nil
		slot.Cancel()
		slot = nil

		err := a.submitLocked(ctx, tx, req, &out)
		if err != nil && out.forced != nil && isDomainError(err) {
			// The forced pick for the expired seat stands on its own; only
			// this request is rejected.
			deferredErr = err
			err = nil
		}
		if err != nil {
			return err
		}
		if out.forced != nil || out.own != nil {
			slot = a.reserve(req.DraftID)
		}
		return nil
	})
	if err != nil {
		slot.Cancel()
		a.metrics.PicksTotal.WithLabelValues(string(apperr.CodeOf(translateStoreError(err)))).Inc()
		return nil, translateStoreError(err)
	}

	var commits []*Commit
	if out.forced != nil {
		commits = append(commits, out.forced)
	}
	if out.own != nil {
		commits = append(commits, out.own)
	}
	a.afterCommit(slot, commits...)

	if deferredErr != nil {
		a.metrics.PicksTotal.WithLabelValues(string(apperr.CodeOf(deferredErr))).Inc()
		return nil, deferredErr
	}
	if out.replay != nil {
		return a.replayed(out.replay), nil
	}

	a.metrics.PicksTotal.WithLabelValues("accepted").Inc()
	log.Info().
		Int64("draft_id", req.DraftID).
		Str("user_id", req.UserID).
		Str("request_id", req.RequestID).
		Int("pick_number", out.own.Pick.PickNumber).
		Int("seat_number", out.own.Pick.SeatNumber).
		Int64("version", out.own.Event.Version).
		Bool("completed", out.own.Completed).
		Msg("pick committed")

	return &PickResult{Pick: out.own.Pick, Draft: out.own.Draft}, nil
}

func (a *App) replayed(p *models.DraftPick) *PickResult {
	a.metrics.PicksTotal.WithLabelValues("replayed").Inc()
	log.Debug().
		Int64("draft_id", p.DraftID).
		Str("request_id", p.RequestID).
		Msg("idempotent pick replay")
	return &PickResult{Pick: *p, Replayed: true}
}

type lockedOutcome struct {
	forced *Commit
	own    *Commit
	replay *models.DraftPick
}

func (a *App) submitLocked(ctx context.Context, tx repository.DraftTx, req SubmitPickRequest, out *lockedOutcome) error {
	if p, err := lookupPick(tx.PickByRequestID(ctx, req.RequestID)); err != nil {
		return err
	} else if p != nil {
		out.replay = p
		return nil
	}

	draft, err := tx.Draft(ctx)
	if err != nil {
		return err
	}
	if err := checkStatus(draft); err != nil {
		return err
	}

	season, err := tx.Season(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperr.New(apperr.CodeSeasonNotFound, "season for draft %d not found", draft.ID)
		}
		return err
	}
	if err := checkSeason(draft, season); err != nil {
		return err
	}

	seats, err := tx.Seats(ctx)
	if err != nil {
		return err
	}
	if len(seats) == 0 {
		return apperr.New(apperr.CodePrereqMissingSeats, "draft %d has no seats", draft.ID)
	}

	forced, err := a.autoPickIfExpired(ctx, tx, draft, triggerPrecheck)
	if err != nil {
		return err
	}
	if forced != nil {
		out.forced = forced
		if draft, err = tx.Draft(ctx); err != nil {
			return err
		}
		if err := checkStatus(draft); err != nil {
			return err
		}
	}

	res, err := a.commitPick(ctx, tx, draft, pickIntent{
		userID:       req.UserID,
		nominationID: req.NominationID,
		requestID:    req.RequestID,
	})
	if err != nil {
		return err
	}
	out.own, out.replay = res.commit, res.replay
	return nil
}

type pickIntent struct {
	userID       string
	nominationID int64
	requestID    string
	auto         bool
}

type commitOutcome struct {
	commit *Commit
	replay *models.DraftPick
}

// position is where the ledger stands for a locked draft.
type position struct {
	seats    []models.Seat
	count    int
	required int
	current  int
}

func (a *App) locate(ctx context.Context, tx repository.DraftTx, draft *models.Draft) (position, error) {
	seats, err := tx.Seats(ctx)
	if err != nil {
		return position{}, err
	}
	if len(seats) == 0 {
		return position{}, apperr.New(apperr.CodePrereqMissingSeats, "draft %d has no seats", draft.ID)
	}

	season, err := tx.Season(ctx)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return position{}, err
	}

	count, err := tx.CountPicks(ctx)
	if err != nil {
		return position{}, err
	}

	current := count + 1
	if draft.CurrentPickNumber != nil && *draft.CurrentPickNumber > current {
		current = *draft.CurrentPickNumber
	}

	return position{
		seats:    seats,
		count:    count,
		required: repository.PicksRequired(*draft, season, len(seats)),
		current:  current,
	}, nil
}

// commitPick inserts a pick for the current position, advances or completes
// the draft and appends the event. User and forced picks both go through here.
func (a *App) commitPick(ctx context.Context, tx repository.DraftTx, draft *models.Draft, intent pickIntent) (commitOutcome, error) {
	pos, err := a.locate(ctx, tx, draft)
	if err != nil {
		return commitOutcome{}, err
	}
	if pos.count >= pos.required {
		return commitOutcome{}, apperr.New(apperr.CodeDraftNotInProgress, "draft %d already has all %d picks", draft.ID, pos.required)
	}

	if !intent.auto {
		ok, err := tx.NominationExists(ctx, intent.nominationID)
		if err != nil {
			return commitOutcome{}, err
		}
		if !ok {
			return commitOutcome{}, apperr.New(apperr.CodeNominationNotFound, "nomination %d not found", intent.nominationID)
		}
	}

	claimed, err := lookupPick(tx.PickByNomination(ctx, intent.nominationID))
	if err != nil {
		return commitOutcome{}, err
	}
	if claimed != nil {
		if claimed.RequestID == intent.requestID {
			return commitOutcome{replay: claimed}, nil
		}
		return commitOutcome{}, apperr.New(apperr.CodeNominationAlreadyPicked, "nomination %d was already picked", intent.nominationID)
	}

	assign, err := turn.Resolve(pos.current, len(pos.seats))
	if err != nil {
		return commitOutcome{}, apperr.Wrap(apperr.CodeTurnResolution, err, "failed to resolve turn")
	}
	expected, ok := models.SeatByNumber(pos.seats, assign.Seat)
	if !ok {
		return commitOutcome{}, apperr.New(apperr.CodeTurnResolution, "no seat %d for pick %d", assign.Seat, pos.current)
	}

	seatNumber, userID := expected.SeatNumber, expected.UserID
	if !intent.auto {
		userID = intent.userID
		held := models.SeatsForUser(pos.seats, intent.userID)
		isFinal := pos.current >= pos.required

		switch {
		case containsSeat(held, expected.SeatNumber):
		case isFinal && len(held) > 0:
			seatNumber = held[0]
			a.metrics.FinalPickRelaxed.Inc()
			log.Warn().
				Int64("draft_id", draft.ID).
				Str("user_id", intent.userID).
				Int("pick_number", pos.current).
				Int("expected_seat", expected.SeatNumber).
				Int("seat_number", seatNumber).
				Msg("final pick accepted from a seat other than the expected one")
		default:
			if p, err := lookupPick(tx.PickByRequestID(ctx, intent.requestID)); err != nil {
				return commitOutcome{}, err
			} else if p != nil {
				return commitOutcome{replay: p}, nil
			}
			return commitOutcome{}, apperr.New(apperr.CodeNotActiveTurn, "pick %d belongs to seat %d", pos.current, expected.SeatNumber)
		}
	}

	now := a.clock.Now()
	p := models.DraftPick{
		DraftID:      draft.ID,
		PickNumber:   pos.current,
		RoundNumber:  assign.Round,
		SeatNumber:   seatNumber,
		NominationID: intent.nominationID,
		RequestID:    intent.requestID,
		UserID:       userID,
		Auto:         intent.auto,
		MadeAt:       now,
	}
	if err := tx.InsertPick(ctx, &p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return classifyConflict(ctx, tx, p)
		}
		return commitOutcome{}, err
	}

	commit, err := a.advance(ctx, tx, draft, p, now)
	if err != nil {
		return commitOutcome{}, err
	}
	return commitOutcome{commit: commit}, nil
}

// advance moves the pointer or completes the draft after p, then appends the event.
func (a *App) advance(ctx context.Context, tx repository.DraftTx, draft *models.Draft, p models.DraftPick, now time.Time) (*Commit, error) {
	// Recount rather than trust the position computed before the insert.
	pos, err := a.locate(ctx, tx, draft)
	if err != nil {
		return nil, err
	}

	d := draft.Clone()
	c := &Commit{Pick: p}
	if pos.count >= pos.required {
		d.Status = models.DraftStatusCompleted
		d.CurrentPickNumber = nil
		d.PickDeadlineAt = nil
		d.CompletedAt = &now
		c.Completed = true
	} else {
		next := pos.count + 1
		d.CurrentPickNumber = &next
		d.PickDeadlineAt = nil
		if d.Timed() {
			deadline := now.Add(time.Duration(*d.PickTimerSeconds) * time.Second)
			d.PickDeadlineAt = &deadline
		}
		if assign, err := turn.Resolve(next, len(pos.seats)); err == nil {
			if seat, ok := models.SeatByNumber(pos.seats, assign.Seat); ok {
				c.NextSeat = &seat
			}
		}
	}

	if err := tx.UpdateDraft(ctx, d); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(events.PickSubmittedPayload{Pick: p, Draft: events.HeaderOf(d)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pick payload: %w", err)
	}
	ev, err := tx.AppendEvent(ctx, events.TypePickSubmitted, payload)
	if err != nil {
		return nil, err
	}
	d.Version = ev.Version

	c.Draft = d
	c.Event = *ev
	return c, nil
}

// classifyConflict re-reads each unique dimension to explain an insert that
// lost a race.
func classifyConflict(ctx context.Context, tx repository.DraftTx, p models.DraftPick) (commitOutcome, error) {
	if existing, err := lookupPick(tx.PickByRequestID(ctx, p.RequestID)); err != nil {
		return commitOutcome{}, err
	} else if existing != nil {
		return commitOutcome{replay: existing}, nil
	}
	if existing, err := lookupPick(tx.PickByNumber(ctx, p.PickNumber)); err != nil {
		return commitOutcome{}, err
	} else if existing != nil {
		return commitOutcome{}, apperr.New(apperr.CodeNotActiveTurn, "pick %d was already made", p.PickNumber)
	}
	if existing, err := lookupPick(tx.PickByNomination(ctx, p.NominationID)); err != nil {
		return commitOutcome{}, err
	} else if existing != nil {
		return commitOutcome{}, apperr.New(apperr.CodeNominationAlreadyPicked, "nomination %d was already picked", p.NominationID)
	}
	return commitOutcome{}, fmt.Errorf("unclassified pick conflict: %w", repository.ErrDuplicate)
}

func checkStatus(d *models.Draft) error {
	switch d.Status {
	case models.DraftStatusInProgress:
		return nil
	case models.DraftStatusPaused:
		return apperr.New(apperr.CodeDraftPaused, "draft %d is paused", d.ID)
	default:
		return apperr.New(apperr.CodeDraftNotInProgress, "draft %d is %s", d.ID, d.Status)
	}
}

func checkSeason(d *models.Draft, s *models.Season) error {
	if s.Status != models.SeasonStatusActive {
		return apperr.New(apperr.CodeDraftNotInProgress, "season %d is %s", s.ID, s.Status)
	}
	if s.DraftLocked && !d.AllowDraftingAfterLock {
		return apperr.New(apperr.CodeDraftLocked, "drafting is locked for season %d", s.ID)
	}
	return nil
}

// lookupPick turns ErrNotFound into a nil pick.
func lookupPick(p *models.DraftPick, err error) (*models.DraftPick, error) {
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func containsSeat(seats []int, seat int) bool {
	for _, s := range seats {
		if s == seat {
			return true
		}
	}
	return false
}

func isDomainError(err error) bool {
	var e *apperr.Error
	return errors.As(err, &e) && e.Status() < 500
}

func translateStoreError(err error) error {
	var e *apperr.Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.Wrap(apperr.CodeDraftNotFound, err, "draft not found")
	}
	return apperr.Wrap(apperr.CodeInternal, err, "internal error")
}
