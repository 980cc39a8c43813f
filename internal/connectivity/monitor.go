// Package connectivity tracks whether the central backend is reachable.
//
// Two independent sources update a single authoritative state: low-level signals
// (network interface or broker connection events, trusted immediately) and a
// periodic heartbeat probe that reconciles anything the signals missed.
package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the last known connectivity state.
type State int

const (
	Offline State = iota
	Online
)

func (s State) String() string {
	if s == Online {
		return "online"
	}
	return "offline"
}

// Source identifies what caused a state update.
type Source string

const (
	SourceSignal    Source = "signal"
	SourceHeartbeat Source = "heartbeat"
)

// Transition describes a state change.
type Transition struct {
	From   State
	To     State
	Source Source
	At     time.Time
}

// Listener is invoked synchronously on every transition into the state it subscribed to.
type Listener func(Transition)

// Prober actively checks reachability; a non-nil error means offline.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProbeFunc adapts a function to Prober.
type ProbeFunc func(ctx context.Context) error

// Probe calls f.
func (f ProbeFunc) Probe(ctx context.Context) error {
	return f(ctx)
}

// Options configures a Monitor.
type Options struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
	Initial      State
	// OnTransition observes every transition, e.g. for metrics.
	OnTransition func(Transition)
}

type subscriber struct {
	state    State
	listener Listener
}

// Monitor is a two-state machine fed by signals and heartbeats. Transitions are
// delivered one at a time in the order they were applied, so listeners must not
// call Signal or Probe themselves.
type Monitor struct {
	// deliver serialises transitions together with their notifications.
	deliver sync.Mutex

	mu          sync.Mutex
	state       State
	lastChange  time.Time
	subscribers map[uint64]subscriber
	nextID      uint64

	prober       Prober
	interval     time.Duration
	probeTimeout time.Duration
	onTransition func(Transition)
	logger       zerolog.Logger
	now          func() time.Time
}

// NewMonitor constructs a monitor. A nil prober disables heartbeats; signals still work.
func NewMonitor(prober Prober, opts Options, logger zerolog.Logger) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	if opts.ProbeTimeout <= 0 || opts.ProbeTimeout > opts.Interval {
		opts.ProbeTimeout = opts.Interval / 2
	}

	return &Monitor{
		state:        opts.Initial,
		subscribers:  make(map[uint64]subscriber),
		prober:       prober,
		interval:     opts.Interval,
		probeTimeout: opts.ProbeTimeout,
		onTransition: opts.OnTransition,
		logger:       logger.With().Str("component", "connectivity_monitor").Logger(),
		now:          time.Now,
	}
}

// IsOnline reports the last known state.
func (m *Monitor) IsOnline() bool {
	return m.State() == Online
}

// State returns the last known state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastChange returns when the state last changed; zero if it never did.
func (m *Monitor) LastChange() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastChange
}

// OnOnline subscribes to Offline→Online transitions. The returned func unsubscribes.
func (m *Monitor) OnOnline(listener Listener) func() {
	return m.subscribe(Online, listener)
}

// OnOffline subscribes to Online→Offline transitions. The returned func unsubscribes.
func (m *Monitor) OnOffline(listener Listener) func() {
	return m.subscribe(Offline, listener)
}

func (m *Monitor) subscribe(state State, listener Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subscribers[id] = subscriber{state: state, listener: listener}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers, id)
			m.mu.Unlock()
		})
	}
}

// Signal records a low-level connectivity event.
func (m *Monitor) Signal(online bool) {
	m.set(stateOf(online), SourceSignal)
}

// Watch consumes a signal channel until it closes or ctx ends.
func (m *Monitor) Watch(ctx context.Context, signals <-chan bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case online, ok := <-signals:
			if !ok {
				return
			}
			m.Signal(online)
		}
	}
}

// Probe runs one heartbeat and applies its result. Probe failures, including
// panics inside the prober, only ever mark the monitor offline.
func (m *Monitor) Probe(ctx context.Context) State {
	if m.prober == nil {
		return m.State()
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	err := m.safeProbe(probeCtx)
	if err != nil {
		m.logger.Debug().Err(err).Msg("heartbeat probe failed")
		if ctx.Err() != nil {
			return m.State()
		}
	}

	next := stateOf(err == nil)
	m.set(next, SourceHeartbeat)
	return next
}

func (m *Monitor) safeProbe(ctx context.Context) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			m.logger.Warn().Interface("panic", recovered).Msg("heartbeat probe panicked")
			err = errProbePanicked
		}
	}()
	return m.prober.Probe(ctx)
}

// Start runs an immediate heartbeat and then one per interval until ctx ends.
func (m *Monitor) Start(ctx context.Context) {
	if m.prober == nil {
		return
	}

	go func() {
		m.Probe(ctx)

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Probe(ctx)
			}
		}
	}()
}

func (m *Monitor) set(next State, source Source) {
	m.deliver.Lock()
	defer m.deliver.Unlock()

	m.mu.Lock()
	previous := m.state
	if previous == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	m.lastChange = m.now()

	transition := Transition{From: previous, To: next, Source: source, At: m.lastChange}
	listeners := make([]Listener, 0, len(m.subscribers))
	for _, sub := range m.subscribers {
		if sub.state == next {
			listeners = append(listeners, sub.listener)
		}
	}
	m.mu.Unlock()

	m.logger.Info().
		Str("from", previous.String()).
		Str("to", next.String()).
		Str("source", string(source)).
		Msg("connectivity changed")

	if m.onTransition != nil {
		m.onTransition(transition)
	}
	for _, listener := range listeners {
		m.notify(listener, transition)
	}
}

func (m *Monitor) notify(listener Listener, transition Transition) {
	defer func() {
		if recovered := recover(); recovered != nil {
			m.logger.Error().Interface("panic", recovered).Str("to", transition.To.String()).Msg("connectivity listener panicked")
		}
	}()
	listener(transition)
}

func stateOf(online bool) State {
	if online {
		return Online
	}
	return Offline
}
