// Command arena-sim plays rounds headlessly with a scripted pilot and
// prints the statistics of each round.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/log"

	"github.com/MJE43/forage-arena-go/internal/clock"
	"github.com/MJE43/forage-arena-go/internal/config"
	"github.com/MJE43/forage-arena-go/internal/layout"
	"github.com/MJE43/forage-arena-go/internal/pilot"
	"github.com/MJE43/forage-arena-go/internal/round"
	"github.com/MJE43/forage-arena-go/internal/session"
	"github.com/MJE43/forage-arena-go/internal/stats"
	"github.com/MJE43/forage-arena-go/internal/store"
)

type options struct {
	rounds      int
	participant string
	scriptPath  string
	storeKind   string
	dbPath      string
	mode        string
	scheme      string
	cfgPath     string
	fps         int
}

func main() {
	var o options
	flag.IntVar(&o.rounds, "rounds", 3, "rounds to play")
	flag.StringVar(&o.participant, "participant", "sim-participant", "participant key")
	flag.StringVar(&o.scriptPath, "script", "", "steering script (default: built-in spiral pilot)")
	flag.StringVar(&o.storeKind, "store", store.KindMemory, "store backend: memory or sqlite")
	flag.StringVar(&o.dbPath, "db", "arena-sim.db", "SQLite path when -store=sqlite")
	flag.StringVar(&o.mode, "mode", string(round.ModeAgent), "agent, cursor or maze")
	flag.StringVar(&o.scheme, "scheme", "", "condition scheme (default from config)")
	flag.StringVar(&o.cfgPath, "config", "", "JSON scenario file")
	flag.IntVar(&o.fps, "fps", 60, "simulated frames per second")
	flag.Parse()

	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true, Prefix: "arena-sim"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, o, os.Stdout, logger); err != nil {
		logger.Fatal("simulation_failed", "err", err)
	}
}

func run(ctx context.Context, o options, out io.Writer, logger *log.Logger) error {
	cfg := config.Default()
	var err error
	if o.cfgPath != "" {
		if cfg, err = config.Load(cfg, o.cfgPath); err != nil {
			return err
		}
	}
	cfg.Store.Kind = o.storeKind
	cfg.Store.Path = o.dbPath
	cfg.Rounds = o.rounds
	if o.scheme != "" {
		cfg.Scheme = o.scheme
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	source := pilot.SpiralScript
	if o.scriptPath != "" {
		b, err := os.ReadFile(o.scriptPath)
		if err != nil {
			return fmt.Errorf("read script: %w", err)
		}
		source = string(b)
	}
	vm, err := pilot.NewVM(source)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.Store.Kind, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	gen, err := layout.NewGenerator(cfg.LayoutConfig())
	if err != nil {
		return err
	}
	calc, err := stats.NewCalculator(cfg.StatsConfig())
	if err != nil {
		return err
	}
	scheme, err := layout.LookupScheme(cfg.Scheme)
	if err != nil {
		return err
	}

	clk := clock.NewManual(time.Now())
	mgr, err := session.NewManager(st, session.Options{
		Generator: gen,
		Scheme:    scheme,
		Round:     cfg.Round,
		Sim:       cfg.SimConfig(),
		Maze:      cfg.Maze,
		Rounds:    cfg.Rounds,
		Clock:     clk,
		Logger:    logger.WithPrefix("session"),
	})
	if err != nil {
		return err
	}
	sess, err := mgr.Begin(ctx, o.participant, o.mode)
	if err != nil {
		return err
	}
	defer mgr.End(sess.Info().ID)

	fmt.Fprintf(out, "session %s  condition %s  mode %s\n\n", sess.Info().ID, sess.Condition().Name, o.mode)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "round\tend\tms\trewards\tdist\tcoverage%\tpauses\tlatency\tedge%\tcollisions\t")

	for i := 0; i < cfg.Rounds; i++ {
		c, err := sess.NextRound(ctx, round.Hooks{})
		if err != nil {
			return err
		}
		rec, err := pilot.Run(ctx, c, clk, vm, o.fps)
		if err != nil {
			return err
		}
		ms, err := st.GetMovements(ctx, rec.SessionID, rec.RoundIndex)
		if err != nil {
			return err
		}
		rs := calc.Calculate(ms, c.Events(), rec.DurationMs, rec.RewardsCollected).Rounded(2)
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d/%d\t%.2f\t%.2f\t%d\t%.0f\t%.2f\t%d\t\n",
			rec.RoundIndex, rec.EndReason, rec.DurationMs,
			rec.RewardsCollected, len(rec.ResourcePositions),
			rs.TotalDistance, rs.CoveragePercent, rs.PauseCount,
			rs.FirstRewardLatency, rs.EdgeTimePercent, c.Snapshot().Collisions,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, line := range vm.Logs() {
		fmt.Fprintln(out, "script:", line)
	}
	return nil
}
