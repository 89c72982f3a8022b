// Package circuitbreaker provides a per-host circuit breaker with
// closed → open → half-open state transitions.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal: requests flow through
	StateOpen                  // Tripped: requests are rejected
	StateHalfOpen              // Probing: one request allowed to test recovery
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var cbStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "sentinel",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by host, from-state, and to-state.",
}, []string{"host", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(cbStateTransitions)
}

// Config holds the tuning knobs for a breaker. Immutable after construction.
type Config struct {
	// FailureThreshold is the number of consecutive failures that trips
	// the circuit open.
	FailureThreshold int
	// RecoveryTimeout is how long the circuit stays open before allowing
	// a half-open probe.
	RecoveryTimeout time.Duration
}

// DefaultConfig returns the breaker defaults used for internal services.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
	}
}

// entry tracks per-host circuit state.
type entry struct {
	state       State
	failures    int
	successes   int64
	failuresAll int64
	lastFailure time.Time
	lastSuccess time.Time
	probeStart  time.Time // when the current half-open probe was admitted
}

// Snapshot is an immutable point-in-time copy of one host's breaker state,
// safe to hand to readers without holding the breaker lock.
type Snapshot struct {
	Host            string        `json:"host"`
	State           State         `json:"-"`
	StateName       string        `json:"state"`
	Failures        int           `json:"consecutive_failures"`
	TotalFailures   int64         `json:"total_failures"`
	TotalSuccesses  int64         `json:"total_successes"`
	LastFailure     time.Time     `json:"last_failure,omitzero"`
	LastSuccess     time.Time     `json:"last_success,omitzero"`
	RecoveryTimeout time.Duration `json:"-"`
	Taken           time.Time     `json:"taken"`
}

// ErrorRate returns the failure fraction in [0,1] over all recorded outcomes.
func (s Snapshot) ErrorRate() float64 {
	total := s.TotalFailures + s.TotalSuccesses
	if total == 0 {
		return 0
	}
	return float64(s.TotalFailures) / float64(total)
}

// Breaker is a per-host circuit breaker. It tracks consecutive failures per
// host and trips open when failures reach the threshold. After the recovery
// timeout the circuit moves to half-open and allows exactly one probe.
type Breaker struct {
	mu           sync.Mutex
	entries      map[string]*entry
	cfg          Config
	onTransition func(host string, from, to State) // optional callback
	now          func() time.Time                  // injectable clock for tests
}

// New creates a circuit breaker with the given config. Zero or negative
// config fields fall back to DefaultConfig values.
func New(cfg Config) *Breaker {
	def := DefaultConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	return &Breaker{
		entries: make(map[string]*entry),
		cfg:     cfg,
		now:     time.Now,
	}
}

// OnTransition sets a callback invoked on state changes (for event streaming).
func (b *Breaker) OnTransition(fn func(host string, from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// Allow reports whether a request to host should be allowed.
// If the circuit is open and the recovery timeout has elapsed, it
// transitions to half-open and admits exactly one probe; concurrent
// callers in half-open are rejected until the probe completes. A probe
// that never reports an outcome (the caller was cancelled, or the pool
// rejected it) expires after another recovery timeout, so an abandoned
// probe cannot wedge the breaker in half-open.
func (b *Breaker) Allow(host string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[host]
	if !ok {
		return true // No entry = closed
	}

	switch e.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(e.lastFailure) >= b.cfg.RecoveryTimeout {
			b.transition(e, host, StateHalfOpen)
			e.probeStart = b.now()
			return true // Allow one probe
		}
		return false
	case StateHalfOpen:
		if b.now().Sub(e.probeStart) >= b.cfg.RecoveryTimeout {
			// The outstanding probe went missing; admit a replacement.
			e.probeStart = b.now()
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess records a successful request. Resets the consecutive
// failure count and closes the circuit if it was half-open.
func (b *Breaker) RecordSuccess(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entry(host)
	if e.state == StateHalfOpen {
		b.transition(e, host, StateClosed)
	}
	e.failures = 0
	e.successes++
	e.lastSuccess = b.now()
}

// RecordFailure records a failed request. Trips the circuit open when
// consecutive failures reach the threshold, or immediately if a half-open
// probe fails.
func (b *Breaker) RecordFailure(host string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entry(host)
	e.failures++
	e.failuresAll++
	e.lastFailure = b.now()

	if e.state == StateHalfOpen {
		// Probe failed: back to open, recovery timer restarts.
		b.transition(e, host, StateOpen)
		return
	}

	if e.state == StateClosed && e.failures >= b.cfg.FailureThreshold {
		b.transition(e, host, StateOpen)
	}
}

// State returns the current state for a host. Unknown hosts are closed.
func (b *Breaker) State(host string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[host]
	if !ok {
		return StateClosed
	}
	return e.state
}

// Snapshot returns a point-in-time copy of one host's state.
// Unknown hosts report a closed, empty snapshot.
func (b *Breaker) Snapshot(host string) Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	taken := b.now()
	e, ok := b.entries[host]
	if !ok {
		return Snapshot{
			Host:            host,
			State:           StateClosed,
			StateName:       StateClosed.String(),
			RecoveryTimeout: b.cfg.RecoveryTimeout,
			Taken:           taken,
		}
	}
	return b.snapshotLocked(host, e, taken)
}

// Snapshots returns copies for every host seen so far. The lock is released
// before the caller inspects the result, so monitoring passes never block
// request traffic.
func (b *Breaker) Snapshots() []Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	taken := b.now()
	out := make([]Snapshot, 0, len(b.entries))
	for host, e := range b.entries {
		out = append(out, b.snapshotLocked(host, e, taken))
	}
	return out
}

func (b *Breaker) snapshotLocked(host string, e *entry, taken time.Time) Snapshot {
	return Snapshot{
		Host:            host,
		State:           e.state,
		StateName:       e.state.String(),
		Failures:        e.failures,
		TotalFailures:   e.failuresAll,
		TotalSuccesses:  e.successes,
		LastFailure:     e.lastFailure,
		LastSuccess:     e.lastSuccess,
		RecoveryTimeout: b.cfg.RecoveryTimeout,
		Taken:           taken,
	}
}

// entry returns the tracked entry for host, creating it lazily.
// Caller must hold b.mu.
func (b *Breaker) entry(host string) *entry {
	e, ok := b.entries[host]
	if !ok {
		e = &entry{state: StateClosed}
		b.entries[host] = e
	}
	return e
}

// transition changes state and fires the callback if set.
// Caller must hold b.mu.
func (b *Breaker) transition(e *entry, host string, to State) {
	from := e.state
	if from == to {
		return
	}
	e.state = to
	cbStateTransitions.WithLabelValues(host, from.String(), to.String()).Inc()
	if b.onTransition != nil {
		fn := b.onTransition
		go fn(host, from, to)
	}
}
