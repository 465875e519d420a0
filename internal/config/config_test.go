package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MJE43/forage-arena-go/internal/round"
	"github.com/MJE43/forage-arena-go/internal/sim"
	"github.com/MJE43/forage-arena-go/internal/store"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 600.0, cfg.LayoutConfig().CanvasSize)
	assert.Equal(t, 20, cfg.Layout.RewardCount)
	assert.Equal(t, 60*time.Second, cfg.Round.TimeLimit)
	assert.Equal(t, 20.0, cfg.Round.HitRadius)
	assert.NotNil(t, cfg.Maze)
}

func TestCanvasSizePropagates(t *testing.T) {
	cfg := Default()
	cfg.CanvasSize = 800
	assert.Equal(t, 800.0, cfg.LayoutConfig().CanvasSize)
	assert.Equal(t, 800.0, cfg.SimConfig().CanvasSize)
	assert.Equal(t, 800.0, cfg.StatsConfig().CanvasSize)
	// the embedded sections are left untouched
	assert.Equal(t, 600.0, cfg.Layout.CanvasSize)
}

func TestDecodeOverlay(t *testing.T) {
	in := `{
		"scheme": "concentrated_diffuse",
		"rounds": 4,
		"round": {"mode": "cursor", "timeLimit": 30000000000},
		"store": {"kind": "memory"}
	}`
	cfg, err := Decode(Default(), strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, "concentrated_diffuse", cfg.Scheme)
	assert.Equal(t, 4, cfg.Rounds)
	assert.Equal(t, round.ModeCursor, cfg.Round.Mode)
	assert.Equal(t, 30*time.Second, cfg.Round.TimeLimit)
	assert.Equal(t, store.KindMemory, cfg.Store.Kind)
	// untouched fields keep their defaults
	assert.Equal(t, 3, cfg.Round.Countdown)
	assert.Equal(t, 20, cfg.Layout.RewardCount)
	require.NoError(t, cfg.Validate())
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	base := Default()
	cfg, err := Decode(base, strings.NewReader(`{"rewardz": 3}`))
	require.Error(t, err)
	assert.Equal(t, base.Scheme, cfg.Scheme)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"canvasSize": 400, "layout": {"rewardCount": 8}}`), 0o644))

	cfg, err := Load(Default(), path)
	require.NoError(t, err)
	assert.Equal(t, 400.0, cfg.CanvasSize)
	assert.Equal(t, 8, cfg.Layout.RewardCount)

	_, err = Load(Default(), filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("ARENA_ADDR", ":9999")
	t.Setenv("ARENA_STORE", "memory")
	t.Setenv("ARENA_ROUNDS", "6")
	t.Setenv("ARENA_HIT_RADIUS", "12.5")
	t.Setenv("ARENA_TIME_LIMIT", "45s")
	t.Setenv("ARENA_BOUNDARY", "clamp")

	cfg, err := FromEnv(Default(), filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, store.KindMemory, cfg.Store.Kind)
	assert.Equal(t, 6, cfg.Rounds)
	assert.Equal(t, 12.5, cfg.Round.HitRadius)
	assert.Equal(t, 45*time.Second, cfg.Round.TimeLimit)
	assert.Equal(t, sim.BoundaryClamp, cfg.Sim.Boundary)
}

func TestFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("ARENA_SCHEME=concentrated_diffuse\nARENA_COUNTDOWN=0\n"), 0o644))
	// registered so t restores them; godotenv only fills unset variables
	t.Setenv("ARENA_SCHEME", "")
	t.Setenv("ARENA_COUNTDOWN", "")
	require.NoError(t, os.Unsetenv("ARENA_SCHEME"))
	require.NoError(t, os.Unsetenv("ARENA_COUNTDOWN"))

	cfg, err := FromEnv(Default(), path)
	require.NoError(t, err)
	assert.Equal(t, "concentrated_diffuse", cfg.Scheme)
	assert.Equal(t, 0, cfg.Round.Countdown)
}

func TestFromEnvBadValue(t *testing.T) {
	t.Setenv("ARENA_ROUNDS", "many")
	base := Default()
	cfg, err := FromEnv(base)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ARENA_ROUNDS")
	assert.Equal(t, base.Rounds, cfg.Rounds)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero canvas", func(c *Config) { c.CanvasSize = 0 }},
		{"unknown scheme", func(c *Config) { c.Scheme = "nope" }},
		{"negative rounds", func(c *Config) { c.Rounds = -1 }},
		{"unknown store", func(c *Config) { c.Store.Kind = "postgres" }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
		{"no rewards", func(c *Config) { c.Layout.RewardCount = 0 }},
		{"bad boundary", func(c *Config) { c.Sim.Boundary = "bounce" }},
		{"bad mode", func(c *Config) { c.Round.Mode = "telepathy" }},
		{"bad grid", func(c *Config) { c.Stats.GridSize = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLogger(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "debug"
	var sb strings.Builder
	logger := cfg.Logger(&sb)
	assert.Equal(t, log.DebugLevel, logger.GetLevel())
	logger.Debug("hello", "k", 1)
	assert.Contains(t, sb.String(), "hello")
}
