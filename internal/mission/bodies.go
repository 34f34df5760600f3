package mission

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flightd/internal/hardware"
	"github.com/fyrsmithlabs/flightd/internal/orient"
	"github.com/fyrsmithlabs/flightd/internal/telemetry"
)

// Timings collects the phase cadences so tests can shrink them.
type Timings struct {
	BootupSettle      time.Duration
	DetumblePoll      time.Duration
	DetumbleMinDwell  time.Duration
	DetumbleThreshold float64 // rad/s, on the integrated magnitude
	BurnLead          time.Duration
	BurnDuration      time.Duration
	CommsTick         time.Duration
}

// DefaultTimings returns the flight cadences.
func DefaultTimings() Timings {
	return Timings{
		BootupSettle:      10 * time.Second,
		DetumblePoll:      time.Second,
		DetumbleMinDwell:  5 * time.Second,
		DetumbleThreshold: 0.2,
		BurnLead:          time.Second,
		BurnDuration:      5 * time.Second,
		CommsTick:         5 * time.Second,
	}
}

// Downlink is what the Comms phase needs from the beacon.
type Downlink interface {
	SendBeacon() error
}

// bootupPhase waits out the post-separation settle time, then is done.
type bootupPhase struct {
	settle time.Duration
	done   atomic.Bool
}

func (p *bootupPhase) Name() PhaseName { return PhaseBootup }
func (p *bootupPhase) Done() bool      { return p.done.Load() }

func (p *bootupPhase) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.settle):
		p.done.Store(true)
	}
}

// detumblePhase watches the integrated angular-velocity magnitude on the
// blackboard and completes once it has stayed below the threshold for the
// minimum dwell.
type detumblePhase struct {
	board     *telemetry.Blackboard
	poll      time.Duration
	minDwell  time.Duration
	threshold float64
	logger    *zap.Logger
	done      atomic.Bool
}

func (p *detumblePhase) Name() PhaseName { return PhaseDetumble }
func (p *detumblePhase) Done() bool      { return p.done.Load() }

func (p *detumblePhase) Run(ctx context.Context) {
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	var belowSince time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			_, magnitude := p.board.AngularVelocity()
			if magnitude >= p.threshold {
				belowSince = time.Time{}
				continue
			}
			if belowSince.IsZero() {
				belowSince = now
				continue
			}
			if now.Sub(belowSince) >= p.minDwell {
				p.logger.Info("detumble complete", zap.Float64("magnitude", magnitude))
				p.done.Store(true)
				return
			}
		}
	}
}

// deployPhase fires a burn wire exactly once per instance, then is
// permanently done. It backs both AntennaDeploy and PayloadDeploy; the
// sequencer's milestone flags keep a line from being re-entered once its
// deployment is recorded.
type deployPhase struct {
	name         PhaseName
	burnwire     hardware.Burnwire
	lead         time.Duration
	duration     time.Duration
	logger       *zap.Logger
	finishedBurn atomic.Bool
	done         atomic.Bool
}

func (p *deployPhase) Name() PhaseName { return p.name }
func (p *deployPhase) Done() bool      { return p.done.Load() }

func (p *deployPhase) Run(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(p.lead):
	}

	if !p.finishedBurn.Load() {
		p.logger.Info("firing burn wire",
			zap.String("phase", string(p.name)),
			zap.Duration("duration", p.duration),
		)
		if err := p.burnwire.Burn(ctx, p.duration); err != nil {
			// An interrupted burn is not recorded as finished; a fresh
			// instance may fire again.
			p.logger.Error("burn wire fire failed", zap.Error(err))
			return
		}
		p.finishedBurn.Store(true)
	}
	p.done.Store(true)
}

// commsPhase heartbeats on a fixed cadence, downlinking one beacon frame
// per tick. It marks itself done after the first tick; the sequencer's
// polling cadence, not this flag, sets the real dwell in the phase.
type commsPhase struct {
	beacon Downlink
	tick   time.Duration
	logger *zap.Logger
	done   atomic.Bool
}

func (p *commsPhase) Name() PhaseName { return PhaseComms }
func (p *commsPhase) Done() bool      { return p.done.Load() }

func (p *commsPhase) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.beacon != nil {
				if err := p.beacon.SendBeacon(); err != nil {
					p.logger.Warn("beacon send failed", zap.Error(err))
				}
			}
			p.done.Store(true)
		}
	}
}

// orientPhase hosts the sun-pointing controller. It never completes on its
// own; the sequencer stops it on transition.
type orientPhase struct {
	controller *orient.Controller
}

func (p *orientPhase) Name() PhaseName { return PhaseOrient }
func (p *orientPhase) Done() bool      { return false }

func (p *orientPhase) Run(ctx context.Context) {
	p.controller.Run(ctx)
}

// Phases builds fresh phase bodies from their collaborators.
type Phases struct {
	Board           *telemetry.Blackboard
	AntennaBurnwire hardware.Burnwire
	PayloadBurnwire hardware.Burnwire
	Beacon          Downlink
	Orient          *orient.Controller
	Timings         Timings
	Logger          *zap.Logger
}

// Build instantiates the named phase. Each call returns a fresh instance
// with its own done flag and burn state.
func (p *Phases) Build(name PhaseName) (Phase, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	switch name {
	case PhaseBootup:
		return &bootupPhase{settle: p.Timings.BootupSettle}, nil
	case PhaseDetumble:
		return &detumblePhase{
			board:     p.Board,
			poll:      p.Timings.DetumblePoll,
			minDwell:  p.Timings.DetumbleMinDwell,
			threshold: p.Timings.DetumbleThreshold,
			logger:    logger,
		}, nil
	case PhaseAntennaDeploy:
		return &deployPhase{
			name:     PhaseAntennaDeploy,
			burnwire: p.AntennaBurnwire,
			lead:     p.Timings.BurnLead,
			duration: p.Timings.BurnDuration,
			logger:   logger,
		}, nil
	case PhaseComms:
		return &commsPhase{beacon: p.Beacon, tick: p.Timings.CommsTick, logger: logger}, nil
	case PhasePayloadDeploy:
		return &deployPhase{
			name:     PhasePayloadDeploy,
			burnwire: p.PayloadBurnwire,
			lead:     p.Timings.BurnLead,
			duration: p.Timings.BurnDuration,
			logger:   logger,
		}, nil
	case PhaseOrient:
		return &orientPhase{controller: p.Orient}, nil
	}
	return nil, fmt.Errorf("unknown phase %q", name)
}
