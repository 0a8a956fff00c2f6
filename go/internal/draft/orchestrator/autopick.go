package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/mcdev12/draftroom/go/internal/draft/pick"
	"github.com/mcdev12/draftroom/go/internal/draft/repository"
	"github.com/mcdev12/draftroom/go/internal/models"
	"github.com/rs/zerolog/log"
)

// candidateLimit bounds how many open nominations a strategy looks at.
const candidateLimit = 50

// FirstAvailable picks the lowest-id nomination nobody has claimed.
type FirstAvailable struct{}

func (FirstAvailable) SelectNomination(ctx context.Context, tx repository.DraftTx, draft *models.Draft, seat models.Seat) (int64, error) {
	open, err := tx.AvailableNominations(ctx, 1)
	if err != nil {
		return 0, fmt.Errorf("list available nominations: %w", err)
	}
	if len(open) == 0 {
		return 0, pick.ErrNoNominations
	}
	return open[0].ID, nil
}

// RandomStrategy uses random choice among the open nominations.
type RandomStrategy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomStrategy constructs a RandomStrategy with its own seed.
func NewRandomStrategy(seed int64) *RandomStrategy {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomStrategy{rng: rand.New(rand.NewSource(seed))}
}

func (s *RandomStrategy) SelectNomination(ctx context.Context, tx repository.DraftTx, draft *models.Draft, seat models.Seat) (int64, error) {
	open, err := tx.AvailableNominations(ctx, candidateLimit)
	if err != nil {
		return 0, fmt.Errorf("list available nominations: %w", err)
	}
	if len(open) == 0 {
		return 0, pick.ErrNoNominations
	}

	s.mu.Lock()
	choice := open[s.rng.Intn(len(open))]
	s.mu.Unlock()

	log.Info().
		Int64("draft_id", draft.ID).
		Int("seat_number", seat.SeatNumber).
		Int64("nomination_id", choice.ID).
		Msg("auto-pick chose random nomination")
	return choice.ID, nil
}

// NewStrategy maps a configured strategy name to a selector.
func NewStrategy(name string) (pick.FallbackSelector, error) {
	switch name {
	case "", "first_available":
		return FirstAvailable{}, nil
	case "random":
		return NewRandomStrategy(0), nil
	default:
		return nil, fmt.Errorf("unknown auto-pick strategy %q", name)
	}
}
