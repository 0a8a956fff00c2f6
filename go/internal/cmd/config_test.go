package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/draftroom/go/internal/draft/repository"
	"github.com/mcdev12/draftroom/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
engine:
  rate_limit_attempts: 5
  rate_limit_window: 3s
  fallback_strategy: random
  random_seed: 42
scheduler:
  embedded: true
  workers: 2
seed:
  seasons:
    - id: 1
      nominations:
        - {id: 101, name: "Best Picture A"}
        - {id: 102, name: "Best Picture B"}
  drafts:
    - id: 7
      season_id: 1
      pick_timer_seconds: 60
      picks_per_seat: 1
      seats:
        - {seat_number: 1, member_id: 11, user_id: alice}
        - {seat_number: 2, member_id: 12, user_id: bob, auto_pick: true}
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "draft.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Engine.RateLimitAttempts)
	assert.Equal(t, 3*time.Second, cfg.Engine.RateLimitWindow)
	// Unset keys keep their defaults.
	assert.Equal(t, 10*time.Second, cfg.Engine.SideEffectTimeout)
	assert.True(t, cfg.Scheduler.Embedded)
	assert.Equal(t, 2, cfg.schedulerConfig().Workers)
	assert.Equal(t, 100, cfg.schedulerConfig().BatchSize)

	_, err = fallbackStrategy(cfg)
	require.NoError(t, err)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.pickConfig().RateLimitAttempts)
	assert.Equal(t, 2*time.Second, cfg.pickConfig().RateLimitWindow)
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := loadConfig(writeConfig(t, "engine:\n  rate_limit_attempts: 0\n"))
	assert.Error(t, err)

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	cfg, err := loadConfig(writeConfig(t, "engine:\n  fallback_strategy: best_guess\n"))
	require.NoError(t, err)
	_, err = fallbackStrategy(cfg)
	assert.Error(t, err)
}

func TestSeedMemory(t *testing.T) {
	cfg, err := loadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)

	mem := repository.NewMemory(clockwork.NewFakeClock())
	require.NoError(t, seedMemory(mem, cfg.Seed))

	snap, err := mem.Snapshot(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, models.DraftStatusPending, snap.Draft.Status)
	require.Len(t, snap.Seats, 2)
	assert.Equal(t, "bob", snap.Seats[1].UserID)
	assert.True(t, snap.Seats[1].AutoPick)
	assert.Zero(t, snap.Version)

	assert.Error(t, seedMemory(mem, cfg.Seed), "seeding the same draft twice")
}
