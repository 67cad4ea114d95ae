// Package engine provides the tick-based simulation loop and the driver that
// advances the agent population against the content pool.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// TickSchedule: with the default one-minute tick these line up with sim time.
const (
	TicksPerSimHour = 60   // 60 ticks = 1 sim-hour
	TicksPerSimDay  = 1440 // 24 hours × 60
)

// Clock maps tick numbers to simulated wall time.
type Clock struct {
	Start        time.Time
	TickDuration time.Duration
}

// Now returns the simulated time at tick.
func (c Clock) Now(tick uint64) time.Time {
	return c.Start.Add(time.Duration(tick) * c.TickDuration)
}

// Engine drives the simulation forward.
type Engine struct {
	tick atomic.Uint64 // Current tick counter (monotonic, never resets)

	mu       sync.Mutex
	speed    float64       // Multiplier: 1.0 = configured rate
	paused   bool
	interval time.Duration // Base tick interval; 0 runs as fast as possible
	limiter  *rate.Limiter

	// Callbacks for each tick layer, populated during setup.
	OnTick func(tick uint64) // Every tick
	OnHour func(tick uint64) // Every 60 ticks
	OnDay  func(tick uint64) // Every 1440 ticks
}

// NewEngine creates a simulation engine ticking every interval.
func NewEngine(interval time.Duration) *Engine {
	e := &Engine{speed: 1.0, interval: interval}
	if interval > 0 {
		e.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	return e
}

// Tick returns the last completed tick.
func (e *Engine) Tick() uint64 {
	return e.tick.Load()
}

// SetTick resumes counting from tick, for restored runs.
func (e *Engine) SetTick(tick uint64) {
	e.tick.Store(tick)
}

// Speed returns the current speed multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the speed multiplier. Zero pauses.
func (e *Engine) SetSpeed(speed float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = speed
	if e.limiter != nil && speed > 0 {
		e.limiter.SetLimit(rate.Every(time.Duration(float64(e.interval) / speed)))
	}
}

// Paused reports whether the loop is held.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused || e.speed <= 0
}

// SetPaused holds or releases the loop without touching the speed.
func (e *Engine) SetPaused(paused bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = paused
}

// Run advances the simulation until ctx is done or maxTicks ticks have run
// in total (0 means no limit). It returns nil when the tick limit is reached
// and ctx.Err() on cancellation.
func (e *Engine) Run(ctx context.Context, maxTicks uint64) error {
	slog.Info("simulation engine started", "tick", e.Tick(), "speed", e.Speed(), "max_ticks", maxTicks)
	defer func() { slog.Info("simulation engine stopped", "tick", e.Tick()) }()

	for maxTicks == 0 || e.Tick() < maxTicks {
		if err := ctx.Err(); err != nil {
			return err
		}

		if e.Paused() {
			// Paused: sleep briefly and check again.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				// The next tick would land past the deadline.
				<-ctx.Done()
				return ctx.Err()
			}
		}

		e.Step()
	}
	return nil
}

// Step advances the simulation by one tick regardless of pacing or pause.
func (e *Engine) Step() {
	tick := e.tick.Add(1)

	if e.OnTick != nil {
		e.OnTick(tick)
	}

	// Every sim-hour: summaries and periodic saves.
	if tick%TicksPerSimHour == 0 && e.OnHour != nil {
		e.OnHour(tick)
	}

	// Every sim-day: daily report.
	if tick%TicksPerSimDay == 0 && e.OnDay != nil {
		e.OnDay(tick)
	}
}

// SimTime returns a human-readable simulation time string from a tick number,
// assuming one tick per sim-minute.
func SimTime(tick uint64) string {
	minutes := tick % 60
	totalHours := tick / 60
	hours := totalHours % 24
	days := totalHours/24 + 1

	return fmt.Sprintf("Day %d, %d:%02d", days, hours, minutes)
}
