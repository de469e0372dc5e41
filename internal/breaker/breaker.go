// v1
// internal/breaker/breaker.go
// Package breaker guards calls to the external ledger with a three-state
// circuit breaker so a down ledger degrades ingestion instead of stalling it.
package breaker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is the fast-fail result while the breaker is open.
var ErrOpen = errors.New("breaker: open, fast-fail")

type Config struct {
	MaxFailures  int
	ResetTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{MaxFailures: 5, ResetTimeout: 30 * time.Second}
}

// Breaker trips open after MaxFailures consecutive failures; after
// ResetTimeout it probes (if a probe is configured) and retries half-open.
type Breaker struct {
	name  string
	cfg   Config
	log   *slog.Logger
	probe func(ctx context.Context) error

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	onChange func(State)
}

func New(name string, cfg Config, log *slog.Logger, probe func(ctx context.Context) error) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultConfig().MaxFailures
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig().ResetTimeout
	}
	return &Breaker{name: name, cfg: cfg, log: log, probe: probe, state: Closed}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// OnStateChange registers a hook invoked after every state transition.
// Set it before the breaker sees traffic.
func (b *Breaker) OnStateChange(fn func(State)) {
	b.onChange = fn
}

func (b *Breaker) setState(s State) {
	if b.state == s {
		return
	}
	b.state = s
	if b.onChange != nil {
		b.onChange(s)
	}
}

// Execute runs op under breaker protection.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	state := b.state
	openedAt := b.openedAt
	b.mu.Unlock()

	if state == Open {
		if time.Since(openedAt) < b.cfg.ResetTimeout {
			return ErrOpen
		}
		return b.probeThenRun(ctx, op)
	}

	if err := op(ctx); err != nil {
		b.onFailure(err)
		return err
	}
	b.onSuccess()
	return nil
}

func (b *Breaker) probeThenRun(ctx context.Context, op func(ctx context.Context) error) error {
	b.mu.Lock()
	b.setState(HalfOpen)
	b.mu.Unlock()
	b.log.Info("breaker_probe", "name", b.name)

	if b.probe != nil {
		if err := b.probe(ctx); err != nil {
			b.log.Warn("breaker_probe_failed", "name", b.name, "err", err)
			b.reopen()
			return ErrOpen
		}
	}

	if err := op(ctx); err != nil {
		b.log.Warn("breaker_halfopen_failed", "name", b.name, "err", err)
		b.reopen()
		return err
	}
	b.onSuccess()
	b.log.Info("breaker_closed", "name", b.name)
	return nil
}

func (b *Breaker) reopen() {
	b.mu.Lock()
	b.setState(Open)
	b.openedAt = time.Now()
	b.mu.Unlock()
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	b.setState(Closed)
	b.failures = 0
	b.mu.Unlock()
}

func (b *Breaker) onFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.cfg.MaxFailures && b.state == Closed {
		b.setState(Open)
		b.openedAt = time.Now()
		b.log.Error("breaker_opened", "name", b.name, "failures", b.failures, "err", err)
	}
}
