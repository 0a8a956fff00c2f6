package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mcdev12/draftroom/go/internal/draft/orchestrator"
	"github.com/mcdev12/draftroom/go/internal/draft/pick"
	"github.com/mcdev12/draftroom/go/internal/models"
	"gopkg.in/yaml.v3"
)

// Config is the engine tuning file named by DRAFT_CONFIG.
type Config struct {
	Engine struct {
		RateLimitAttempts int           `yaml:"rate_limit_attempts"`
		RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
		SideEffectTimeout time.Duration `yaml:"side_effect_timeout"`
		SideEffectBuffer  int           `yaml:"side_effect_buffer"`
		FallbackStrategy  string        `yaml:"fallback_strategy"`
		RandomSeed        int64         `yaml:"random_seed"`
	} `yaml:"engine"`

	Scheduler struct {
		Embedded     bool          `yaml:"embedded"`
		Workers      int           `yaml:"workers"`
		BatchSize    int           `yaml:"batch_size"`
		IdlePoll     time.Duration `yaml:"idle_poll"`
		RetryBackoff time.Duration `yaml:"retry_backoff"`
	} `yaml:"scheduler"`

	Seed SeedConfig `yaml:"seed"`
}

// SeedConfig preloads the in-memory store.
type SeedConfig struct {
	Seasons []SeasonSeed `yaml:"seasons"`
	Drafts  []DraftSeed  `yaml:"drafts"`
}

type SeasonSeed struct {
	ID                   int64               `yaml:"id"`
	Status               models.SeasonStatus `yaml:"status"`
	DraftLocked          bool                `yaml:"draft_locked"`
	PicksPerSeatOverride *int                `yaml:"picks_per_seat_override"`
	Nominations          []struct {
		ID   int64  `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"nominations"`
}

type DraftSeed struct {
	ID                     int64 `yaml:"id"`
	SeasonID               int64 `yaml:"season_id"`
	PickTimerSeconds       *int  `yaml:"pick_timer_seconds"`
	PicksPerSeat           int   `yaml:"picks_per_seat"`
	AllowDraftingAfterLock bool  `yaml:"allow_drafting_after_lock"`
	Seats                  []struct {
		SeatNumber int    `yaml:"seat_number"`
		MemberID   int64  `yaml:"member_id"`
		UserID     string `yaml:"user_id"`
		AutoPick   bool   `yaml:"auto_pick"`
	} `yaml:"seats"`
}

func defaultConfig() *Config {
	var cfg Config
	pc := pick.DefaultConfig()
	cfg.Engine.RateLimitAttempts = pc.RateLimitAttempts
	cfg.Engine.RateLimitWindow = pc.RateLimitWindow
	cfg.Engine.SideEffectTimeout = pc.SideEffectTimeout
	cfg.Engine.SideEffectBuffer = pc.SideEffectBuffer

	oc := orchestrator.DefaultConfig()
	cfg.Scheduler.Workers = oc.Workers
	cfg.Scheduler.BatchSize = oc.BatchSize
	cfg.Scheduler.IdlePoll = oc.IdlePoll
	cfg.Scheduler.RetryBackoff = oc.RetryBackoff
	return &cfg
}

func (c *Config) pickConfig() pick.Config {
	return pick.Config{
		RateLimitAttempts: c.Engine.RateLimitAttempts,
		RateLimitWindow:   c.Engine.RateLimitWindow,
		SideEffectTimeout: c.Engine.SideEffectTimeout,
		SideEffectBuffer:  c.Engine.SideEffectBuffer,
	}
}

func (c *Config) schedulerConfig() orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.Workers = c.Scheduler.Workers
	oc.BatchSize = c.Scheduler.BatchSize
	oc.IdlePoll = c.Scheduler.IdlePoll
	oc.RetryBackoff = c.Scheduler.RetryBackoff
	return oc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// loadConfig reads path over the defaults. An empty path yields the defaults.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if config.Engine.RateLimitAttempts < 1 || config.Engine.RateLimitWindow <= 0 {
		return nil, fmt.Errorf("engine rate limit must allow at least one attempt per positive window")
	}
	return config, nil
}
