// Package config assembles the arena's tunables from defaults, an optional
// JSON scenario file and ARENA_* environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"github.com/MJE43/forage-arena-go/internal/layout"
	"github.com/MJE43/forage-arena-go/internal/round"
	"github.com/MJE43/forage-arena-go/internal/sim"
	"github.com/MJE43/forage-arena-go/internal/stats"
	"github.com/MJE43/forage-arena-go/internal/store"
)

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
	// MirrorPath, when set, mirrors every write to a second SQLite file.
	MirrorPath string `json:"mirrorPath,omitempty"`
}

// Config is the full arena configuration. CanvasSize is authoritative and
// is copied into the per-package configs by their accessors.
type Config struct {
	Addr       string      `json:"addr"`
	LogLevel   string      `json:"logLevel"`
	Store      StoreConfig `json:"store"`
	Scheme     string      `json:"scheme"`
	Rounds     int         `json:"rounds"`
	CanvasSize float64     `json:"canvasSize"`
	LiveBuffer int         `json:"liveBuffer"`

	Layout layout.Config `json:"layout"`
	Sim    sim.Config    `json:"sim"`
	Round  round.Config  `json:"round"`
	Stats  stats.Config  `json:"stats"`
	Maze   *round.Maze   `json:"maze,omitempty"`
}

// Default returns the standard arena: a 600px canvas, 20 rewards, a 60s
// agent-mode round and the cluster/noise scheme.
func Default() Config {
	maze := DefaultMaze()
	return Config{
		Addr:       ":8077",
		LogLevel:   "info",
		Store:      StoreConfig{Kind: store.KindSQLite, Path: "arena.db"},
		Scheme:     layout.SchemeClusterNoise,
		Rounds:     0,
		CanvasSize: 600,
		LiveBuffer: 64,
		Layout:     layout.DefaultConfig(),
		Sim:        sim.DefaultConfig(),
		Round:      round.DefaultConfig(),
		Stats:      stats.DefaultConfig(),
		Maze:       &maze,
	}
}

// DefaultMaze is an L-shaped barrier between the start and a goal in the
// top-left corner.
func DefaultMaze() round.Maze {
	return round.Maze{
		Walls: sim.Walls{
			{X: 100, Y: 200, W: 400, H: 10},
			{X: 100, Y: 200, W: 10, H: 300},
		},
		Goal:   sim.Rect{X: 20, Y: 20, W: 60, H: 60},
		Radius: 8,
	}
}

// Load overlays the JSON scenario file at path onto base. Durations are
// encoded as nanoseconds, as encoding/json does for time.Duration.
func Load(base Config, path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return base, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return Decode(base, f)
}

// Decode overlays JSON from r onto base.
func Decode(base Config, r io.Reader) (Config, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	cfg := base
	if err := dec.Decode(&cfg); err != nil {
		return base, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// FromEnv loads the given .env files (missing files are skipped) and then
// applies ARENA_* variables onto base. Variables already set in the
// process environment win over .env values.
func FromEnv(base Config, envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return base, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	cfg := base
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return base, err
	}
	return cfg, nil
}

type envSetter func(cfg *Config, v string) error

func str(set func(*Config, string)) envSetter {
	return func(c *Config, v string) error { set(c, v); return nil }
}

func integer(set func(*Config, int)) envSetter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		set(c, n)
		return nil
	}
}

func float(set func(*Config, float64)) envSetter {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		set(c, f)
		return nil
	}
}

func duration(set func(*Config, time.Duration)) envSetter {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		set(c, d)
		return nil
	}
}

var envVars = map[string]envSetter{
	"ARENA_ADDR":             str(func(c *Config, v string) { c.Addr = v }),
	"ARENA_LOG_LEVEL":        str(func(c *Config, v string) { c.LogLevel = v }),
	"ARENA_STORE":            str(func(c *Config, v string) { c.Store.Kind = v }),
	"ARENA_DB":               str(func(c *Config, v string) { c.Store.Path = v }),
	"ARENA_MIRROR_DB":        str(func(c *Config, v string) { c.Store.MirrorPath = v }),
	"ARENA_SCHEME":           str(func(c *Config, v string) { c.Scheme = v }),
	"ARENA_MODE":             str(func(c *Config, v string) { c.Round.Mode = round.Mode(v) }),
	"ARENA_BOUNDARY":         str(func(c *Config, v string) { c.Sim.Boundary = sim.BoundaryPolicy(v) }),
	"ARENA_ROUNDS":           integer(func(c *Config, n int) { c.Rounds = n }),
	"ARENA_REWARD_COUNT":     integer(func(c *Config, n int) { c.Layout.RewardCount = n }),
	"ARENA_COUNTDOWN":        integer(func(c *Config, n int) { c.Round.Countdown = n }),
	"ARENA_BATCH_SIZE":       integer(func(c *Config, n int) { c.Round.BatchSize = n }),
	"ARENA_GRID_SIZE":        integer(func(c *Config, n int) { c.Stats.GridSize = n }),
	"ARENA_CLUSTER_K":        integer(func(c *Config, n int) { c.Layout.ClusterK = n }),
	"ARENA_LIVE_BUFFER":      integer(func(c *Config, n int) { c.LiveBuffer = n }),
	"ARENA_MIN_PAUSE_MS":     integer(func(c *Config, n int) { c.Stats.MinPauseMs = int64(n) }),
	"ARENA_CANVAS_SIZE":      float(func(c *Config, f float64) { c.CanvasSize = f }),
	"ARENA_HIT_RADIUS":       float(func(c *Config, f float64) { c.Round.HitRadius = f }),
	"ARENA_SPEED":            float(func(c *Config, f float64) { c.Sim.Speed = f }),
	"ARENA_TURN_RATE":        float(func(c *Config, f float64) { c.Sim.TurnRate = f }),
	"ARENA_AGENT_HZ":         float(func(c *Config, f float64) { c.Sim.AgentSampleHz = f }),
	"ARENA_CURSOR_HZ":        float(func(c *Config, f float64) { c.Sim.CursorSampleHz = f }),
	"ARENA_MIN_SPACING":      float(func(c *Config, f float64) { c.Layout.MinSpacing = f }),
	"ARENA_CLUSTER_RADIUS":   float(func(c *Config, f float64) { c.Layout.ClusterRadius = f }),
	"ARENA_IDLE_THRESHOLD":   float(func(c *Config, f float64) { c.Stats.IdleThreshold = f }),
	"ARENA_TIME_LIMIT":       duration(func(c *Config, d time.Duration) { c.Round.TimeLimit = d }),
	"ARENA_POST_ROUND_DELAY": duration(func(c *Config, d time.Duration) { c.Round.PostRoundDelay = d }),
	"ARENA_MAX_FRAME_DELTA":  duration(func(c *Config, d time.Duration) { c.Sim.MaxFrameDelta = d }),
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for name, set := range envVars {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		if err := set(cfg, v); err != nil {
			return fmt.Errorf("config: %s=%q: %w", name, v, err)
		}
	}
	return nil
}

// LayoutConfig returns the generator config on the shared canvas.
func (c Config) LayoutConfig() layout.Config {
	l := c.Layout
	l.CanvasSize = c.CanvasSize
	return l
}

// SimConfig returns the simulator config on the shared canvas.
func (c Config) SimConfig() sim.Config {
	s := c.Sim
	s.CanvasSize = c.CanvasSize
	return s
}

// StatsConfig returns the calculator config on the shared canvas.
func (c Config) StatsConfig() stats.Config {
	s := c.Stats
	s.CanvasSize = c.CanvasSize
	return s
}

// Validate checks every section.
func (c Config) Validate() error {
	if c.CanvasSize <= 0 {
		return fmt.Errorf("config: canvas size must be positive")
	}
	if _, err := layout.LookupScheme(c.Scheme); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Rounds < 0 {
		return fmt.Errorf("config: rounds must not be negative")
	}
	switch c.Store.Kind {
	case store.KindSQLite, store.KindMemory:
	default:
		return fmt.Errorf("config: unknown store kind %q", c.Store.Kind)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: log level: %w", err)
	}
	if err := c.LayoutConfig().Validate(); err != nil {
		return fmt.Errorf("config: layout: %w", err)
	}
	if err := c.SimConfig().Validate(); err != nil {
		return fmt.Errorf("config: sim: %w", err)
	}
	if err := c.Round.Validate(); err != nil {
		return fmt.Errorf("config: round: %w", err)
	}
	if err := c.StatsConfig().Validate(); err != nil {
		return fmt.Errorf("config: stats: %w", err)
	}
	return nil
}

// Logger builds the root logger at the configured level.
func (c Config) Logger(w io.Writer) *log.Logger {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		lvl = log.InfoLevel
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           lvl,
	})
}
