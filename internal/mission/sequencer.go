package mission

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// transitionsTotal counts phase transitions.
	// Labels: from, to
	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flightd",
		Subsystem: "mission",
		Name:      "transitions_total",
		Help:      "Total number of phase transitions",
	}, []string{"from", "to"})

	// phaseRecoveredPanics counts panics recovered from phase bodies.
	phaseRecoveredPanics = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flightd",
		Subsystem: "mission",
		Name:      "phase_panics_recovered_total",
		Help:      "Total number of panics recovered from phase bodies",
	})
)

// Snapshot is the read-only sequencer state exposed to the beacon and the
// ground-test surface.
type Snapshot struct {
	Phase            string `json:"phase"`
	AntennasDeployed bool   `json:"antennas_deployed"`
	PayloadDeployed  bool   `json:"payload_deployed"`
}

// Builder instantiates phase bodies. *Phases is the production
// implementation.
type Builder interface {
	Build(name PhaseName) (Phase, error)
}

// Sequencer owns the single active mission phase. It is the sole mutator of
// the active-phase handle and of the milestone flags. Transitions cancel
// the outgoing phase's task and join it before the next phase starts, so
// two phases never drive shared actuator lines concurrently.
//
// Snapshot is served from its own lock: phase bodies read sequencer state
// (the Comms downlink snapshots it mid-tick), and a body blocking on the
// transition mutex while the transition joins that same body would wedge
// the mission.
type Sequencer struct {
	phases Builder
	logger *zap.Logger

	mu       sync.Mutex
	parent   context.Context
	active   Phase
	cancel   context.CancelFunc
	finished chan struct{}
	flags    milestones
	started  bool

	snapMu sync.Mutex
	snap   Snapshot
}

// NewSequencer creates a sequencer over the given phase builder. It does
// not start a phase until Start is called.
func NewSequencer(phases Builder, logger *zap.Logger) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequencer{phases: phases, logger: logger}
}

// Start enters the Bootup phase. ctx is the parent of every phase task;
// cancelling it stops the active phase.
func (s *Sequencer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("sequencer already started")
	}
	s.parent = ctx
	s.started = true
	return s.startPhaseLocked(PhaseBootup)
}

// Stop cancels the active phase and waits for its task to exit.
func (s *Sequencer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopActiveLocked()
	s.publishLocked()
}

// Step polls the active phase and advances per the transition table when
// the phase reports done. It is non-blocking apart from the join on the
// outgoing phase's task and never propagates a failure from a phase body.
func (s *Sequencer) Step() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active == nil {
		return
	}
	if !s.phaseDone(s.active) {
		return
	}

	r, ok := nextPhase(s.active.Name(), s.flags)
	if !ok {
		// No row for this phase/flag combination; hold the phase.
		s.logger.Warn("no transition for completed phase",
			zap.String("phase", string(s.active.Name())))
		return
	}

	s.stopActiveLocked()
	if r.effect != nil {
		r.effect(&s.flags)
	}
	transitionsTotal.WithLabelValues(string(r.from), string(r.next)).Inc()
	s.logger.Info("phase transition",
		zap.String("from", string(r.from)),
		zap.String("to", string(r.next)),
		zap.Bool("antennas_deployed", s.flags.antennasDeployed),
		zap.Bool("payload_deployed", s.flags.payloadDeployed),
	)

	if err := s.startPhaseLocked(r.next); err != nil {
		s.logger.Error("failed to start phase", zap.Error(err))
		s.publishLocked()
	}
}

// SetState force-overrides the active phase, with the same stop-then-start
// discipline as a table transition. Used for recovery and ground testing;
// milestone flags are left untouched.
func (s *Sequencer) SetState(name PhaseName) error {
	if _, err := ParsePhaseName(string(name)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return fmt.Errorf("sequencer not started")
	}

	from := PhaseName("")
	if s.active != nil {
		from = s.active.Name()
	}
	s.stopActiveLocked()
	s.logger.Warn("phase force-override",
		zap.String("from", string(from)),
		zap.String("to", string(name)),
	)
	if err := s.startPhaseLocked(name); err != nil {
		s.publishLocked()
		return err
	}
	return nil
}

// Snapshot returns the current phase and milestone flags. It never touches
// the transition mutex, so it is safe to call from inside a phase body.
// During a transition it reports the outgoing phase until the incoming one
// has started.
func (s *Sequencer) Snapshot() Snapshot {
	s.snapMu.Lock()
	defer s.snapMu.Unlock()
	return s.snap
}

// publishLocked refreshes the state served by Snapshot. Callers hold s.mu.
func (s *Sequencer) publishLocked() {
	snap := Snapshot{
		AntennasDeployed: s.flags.antennasDeployed,
		PayloadDeployed:  s.flags.payloadDeployed,
	}
	if s.active != nil {
		snap.Phase = string(s.active.Name())
	}
	s.snapMu.Lock()
	s.snap = snap
	s.snapMu.Unlock()
}

// startPhaseLocked instantiates and launches the named phase. The phase
// task runs under a context derived from the sequencer parent; a panic in
// the body is recovered and logged so the sequencer survives it.
func (s *Sequencer) startPhaseLocked(name PhaseName) error {
	phase, err := s.phases.Build(name)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(s.parent)
	finished := make(chan struct{})
	s.active = phase
	s.cancel = cancel
	s.finished = finished

	go func() {
		defer close(finished)
		defer func() {
			if r := recover(); r != nil {
				phaseRecoveredPanics.Inc()
				s.logger.Error("phase body panicked",
					zap.String("phase", string(name)),
					zap.Any("panic", r),
				)
			}
		}()
		phase.Run(ctx)
	}()

	s.logger.Info("phase started", zap.String("phase", string(name)))
	s.publishLocked()
	return nil
}

// stopActiveLocked cancels the active phase task and blocks until it has
// fully exited. A transition is not complete until this join returns.
func (s *Sequencer) stopActiveLocked() {
	if s.active == nil {
		return
	}
	s.cancel()
	<-s.finished
	s.active = nil
	s.cancel = nil
	s.finished = nil
}

// phaseDone polls Done, containing a panicking phase body.
func (s *Sequencer) phaseDone(p Phase) (done bool) {
	defer func() {
		if r := recover(); r != nil {
			phaseRecoveredPanics.Inc()
			s.logger.Error("phase Done panicked",
				zap.String("phase", string(p.Name())),
				zap.Any("panic", r),
			)
			done = false
		}
	}()
	return p.Done()
}
