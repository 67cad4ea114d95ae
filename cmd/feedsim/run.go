package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/feedsim/internal/agents"
	"github.com/talgya/feedsim/internal/api"
	"github.com/talgya/feedsim/internal/config"
	"github.com/talgya/feedsim/internal/engine"
	"github.com/talgya/feedsim/internal/entropy"
	"github.com/talgya/feedsim/internal/logging"
	"github.com/talgya/feedsim/internal/persistence"
	"github.com/talgya/feedsim/internal/recommend"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation",
		Long: `Run a simulation until the tick limit is reached or it is interrupted.

Examples:
  feedsim run --ticks 1440                   # one simulated day
  feedsim run --seed 7 --db data/feedsim.db  # reproducible, persisted run
  feedsim run --api-port 8080                # observe over HTTP`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			applyRunFlags(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runSimulation(ctx, cfg, cmd.OutOrStdout())
		},
	}

	cmd.Flags().Int("ticks", 0, "Stop after this many ticks (0 runs until interrupted)")
	cmd.Flags().Int64("seed", 0, "Random seed (0 picks one)")
	cmd.Flags().Int("api-port", 0, "Serve the HTTP API on this port (0 disables)")
	cmd.Flags().String("db", "", "Persist the run to this database DSN")
	cmd.Flags().String("driver", "", "Storage driver: sqlite or postgres")
	cmd.Flags().String("log-level", "", "Log level: trace, debug, info, warn, error")
	cmd.Flags().Int("workers", 0, "Parallel agent workers (0 uses GOMAXPROCS)")
	return cmd
}

// applyRunFlags lets explicitly set flags win over file and environment.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("ticks") {
		cfg.Simulation.Ticks, _ = flags.GetInt("ticks")
	}
	if flags.Changed("seed") {
		cfg.Simulation.Seed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("api-port") {
		cfg.API.Port, _ = flags.GetInt("api-port")
	}
	if flags.Changed("db") {
		cfg.Storage.DSN, _ = flags.GetString("db")
	}
	if flags.Changed("driver") {
		cfg.Storage.Driver, _ = flags.GetString("driver")
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("workers") {
		cfg.Simulation.Workers, _ = flags.GetInt("workers")
	}
}

func runSimulation(ctx context.Context, cfg *config.Config, out io.Writer) error {
	slog.SetDefault(logging.NewLogger(cfg.Logging.Level, os.Stderr))
	if warn := cfg.WeightsWarning(); warn != "" {
		slog.Warn(warn)
	}

	seed := entropy.Seed(cfg.Simulation.Seed)

	// ── Population and pool ──────────────────────────────────────────
	pool, err := recommend.New(cfg.Simulation.Tags, cfg.Engine)
	if err != nil {
		return fmt.Errorf("create recommendation engine: %w", err)
	}
	population := agents.NewSpawner(seed, pool.Index()).SpawnPopulation(cfg.Population())
	sim := engine.NewSimulation(pool, population, engine.Options{
		Clock:    engine.Clock{Start: time.Now().UTC().Truncate(time.Minute), TickDuration: cfg.Simulation.TickDuration},
		Settings: cfg.AgentSettings(),
		Workers:  cfg.Simulation.Workers,
	})
	slog.Info("population ready",
		"seed", seed,
		"individuals", cfg.Simulation.Individuals,
		"bots", cfg.Simulation.Bots,
		"organisations", cfg.Simulation.Organisations,
		"tags", len(cfg.Simulation.Tags),
	)

	// ── Storage ──────────────────────────────────────────────────────
	var (
		db    *persistence.DB
		saver *snapshotSaver
	)
	if cfg.Storage.DSN != "" {
		db, err = persistence.Open(persistence.Options{
			Driver:          cfg.Storage.Driver,
			DSN:             cfg.Storage.DSN,
			VectorDimension: pool.Index().Dimension(),
		})
		if err != nil {
			return err
		}
		defer db.Close()

		stored := *cfg
		stored.Storage.DSN, stored.API.AdminKey = "", ""
		run, err := db.CreateRun(seed, stored)
		if err != nil {
			return err
		}
		if err := db.SaveMeta("last_run", run.ID); err != nil {
			slog.Warn("save meta failed", "error", err)
		}
		guard := persistence.NewGuard(db, persistence.GuardConfig{
			MaxFailures: uint32(cfg.Storage.BreakerFailures),
			Timeout:     cfg.Storage.BreakerTimeout,
		})
		saver = &snapshotSaver{sim: sim, store: guard, runID: run.ID}
		slog.Info("persisting run", "run", run.ID, "driver", db.Driver(), "vectors", db.Vectors())
	} else {
		slog.Warn("no storage DSN set, run will not be persisted")
	}

	// ── Engine ───────────────────────────────────────────────────────
	eng := engine.NewEngine(cfg.TickRate())
	interval := uint64(cfg.Storage.SaveIntervalTicks)
	eng.OnTick = func(tick uint64) {
		sim.TickMinute(tick)
		if saver != nil && interval > 0 && tick%interval == 0 {
			if err := saver.Save(); err != nil {
				slog.Error("periodic save failed", "tick", tick, "error", err)
			}
		}
	}
	eng.OnHour = sim.TickHour
	eng.OnDay = sim.TickDay

	// ── HTTP API ─────────────────────────────────────────────────────
	if cfg.API.Port > 0 {
		if cfg.API.AdminKey == "" {
			slog.Warn("FEEDSIM_ADMIN_KEY not set, admin POST endpoints will be disabled")
		}
		proxies, err := api.ParseTrustedProxies(cfg.API.TrustedProxies)
		if err != nil {
			return err
		}
		srv := &api.Server{
			Sim:            sim,
			Eng:            eng,
			DB:             db,
			Port:           cfg.API.Port,
			AdminKey:       cfg.API.AdminKey,
			CORSOrigins:    cfg.API.CORSOrigins,
			TrustedProxies: proxies,
			RateLimit:      cfg.API.RateLimit,
			RateBurst:      cfg.API.RateBurst,
		}
		if saver != nil {
			srv.Guard = saver.store
			srv.RunID = saver.runID
			srv.Save = saver.Save
		}
		srv.Start(ctx)
		fmt.Fprintf(out, "API: http://localhost:%d/api/v1/status\n", cfg.API.Port)
	}

	// ── Start ────────────────────────────────────────────────────────
	runErr := eng.Run(ctx, uint64(cfg.Simulation.Ticks))
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("simulation stopped", "error", runErr)
	}

	stats := sim.UpdateStats()
	if saver != nil {
		slog.Info("final save...")
		if err := saver.Save(); err != nil {
			slog.Error("final save failed", "error", err)
		}
	}

	fmt.Fprintf(out, "Stopped at tick %d (%s): %d posts, %d comments, %d agent errors.\n",
		stats.Tick, engine.SimTime(stats.Tick), stats.Posts, stats.Comments, stats.TotalErrors)
	if saver != nil {
		fmt.Fprintf(out, "Run saved as %s\n", saver.runID)
	}
	return nil
}

// snapshotSaver writes incremental snapshots: all posts (engagement keeps
// changing) and only the events recorded since the previous save.
type snapshotSaver struct {
	sim   *engine.Simulation
	store *persistence.Guard
	runID string

	mu        sync.Mutex
	lastSaved uint64
	saved     bool
}

// Save writes one snapshot. Concurrent calls are serialized.
func (s *snapshotSaver) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.sim.Snapshot(0, s.lastSaved)
	if s.saved && snap.Tick == s.lastSaved {
		return nil
	}
	if err := s.store.SaveSnapshot(s.runID, snap); err != nil {
		return err
	}
	s.lastSaved, s.saved = snap.Tick, true
	return nil
}
