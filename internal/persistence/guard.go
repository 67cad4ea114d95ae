package persistence

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/talgya/feedsim/internal/engine"
)

// ErrUnavailable is returned while the breaker is open.
var ErrUnavailable = errors.New("storage unavailable")

// SnapshotSaver is what the guard protects.
type SnapshotSaver interface {
	SaveSnapshot(runID string, snap engine.Snapshot) error
}

// GuardConfig configures the save-path circuit breaker.
type GuardConfig struct {
	MaxFailures uint32        // Consecutive failures before opening
	Timeout     time.Duration // Open duration before a trial save
}

// Guard wraps snapshot saves in a circuit breaker so a failing database
// costs one quick rejection per save instead of a stalled tick loop.
type Guard struct {
	store   SnapshotSaver
	breaker *gobreaker.CircuitBreaker
}

// NewGuard wraps store. Zero config values fall back to 3 failures and 30s.
func NewGuard(store SnapshotSaver, cfg GuardConfig) *Guard {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:        "persistence",
		MaxRequests: 1,
		Interval:    0, // Don't clear counts periodically
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			slog.Warn("storage breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	}
	return &Guard{store: store, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// SaveSnapshot saves through the breaker.
func (g *Guard) SaveSnapshot(runID string, snap engine.Snapshot) error {
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, g.store.SaveSnapshot(runID, snap)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// State returns "closed", "open" or "half-open".
func (g *Guard) State() string {
	return g.breaker.State().String()
}
