package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/draftroom/go/internal/dbconfig"
	"github.com/mcdev12/draftroom/go/internal/draft/repository"
	"github.com/mcdev12/draftroom/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Store is the draft store plus whatever closes it.
type Store struct {
	repository.Store
	Close func()
}

// setupStore opens the store named by STORE_DRIVER: "postgres" (default) or
// "memory", which is seeded from the config file.
func setupStore(ctx context.Context, cfg *Config, clock clockwork.Clock) (*Store, error) {
	switch driver := getEnv("STORE_DRIVER", "postgres"); driver {
	case "memory":
		mem := repository.NewMemory(clock)
		if err := seedMemory(mem, cfg.Seed); err != nil {
			return nil, err
		}
		log.Info().
			Int("seasons", len(cfg.Seed.Seasons)).
			Int("drafts", len(cfg.Seed.Drafts)).
			Msg("using in-memory draft store")
		return &Store{Store: mem, Close: func() {}}, nil

	case "postgres":
		dbCfg := dbconfig.NewConfigFromEnv()
		if getEnvAsBool("RUN_MIGRATIONS", true) {
			if err := repository.Migrate(dbCfg.DSN()); err != nil {
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		pool, err := dbCfg.NewPool(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create database connection: %w", err)
		}
		log.Info().
			Str("user", dbCfg.User).
			Str("host", dbCfg.Host).
			Int("port", dbCfg.Port).
			Str("database", dbCfg.Database).
			Msg("connected to database")
		return &Store{Store: repository.NewPostgres(pool), Close: pool.Close}, nil

	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", driver)
	}
}

func seedMemory(mem *repository.Memory, seed SeedConfig) error {
	for _, s := range seed.Seasons {
		noms := make([]models.Nomination, 0, len(s.Nominations))
		for _, n := range s.Nominations {
			noms = append(noms, models.Nomination{ID: n.ID, SeasonID: s.ID, Name: n.Name})
		}
		status := s.Status
		if status == "" {
			status = models.SeasonStatusActive
		}
		mem.PutSeason(models.Season{
			ID:                   s.ID,
			Status:               status,
			DraftLocked:          s.DraftLocked,
			PicksPerSeatOverride: s.PicksPerSeatOverride,
		}, noms...)
	}

	for _, d := range seed.Drafts {
		seats := make([]models.Seat, 0, len(d.Seats))
		for _, s := range d.Seats {
			seats = append(seats, models.Seat{
				DraftID:    d.ID,
				SeatNumber: s.SeatNumber,
				MemberID:   s.MemberID,
				UserID:     s.UserID,
				AutoPick:   s.AutoPick,
			})
		}
		_, err := mem.CreateDraft(models.Draft{
			ID:                     d.ID,
			SeasonID:               d.SeasonID,
			Status:                 models.DraftStatusPending,
			PickTimerSeconds:       d.PickTimerSeconds,
			PicksPerSeat:           d.PicksPerSeat,
			AllowDraftingAfterLock: d.AllowDraftingAfterLock,
		}, seats)
		if err != nil {
			return fmt.Errorf("failed to seed draft %d: %w", d.ID, err)
		}
	}
	return nil
}
