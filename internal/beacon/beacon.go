// Package beacon downlinks periodic state snapshots: sequencer phase and
// milestone flags alongside the headline telemetry values.
package beacon

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/flightd/internal/hardware"
	"github.com/fyrsmithlabs/flightd/internal/mission"
	"github.com/fyrsmithlabs/flightd/internal/telemetry"
)

// DefaultInterval is the autonomous beacon cadence outside the Comms phase.
const DefaultInterval = 30 * time.Second

// Frame is one beacon downlink payload.
type Frame struct {
	Name                     string  `json:"name"`
	Phase                    string  `json:"phase"`
	AntennasDeployed         bool    `json:"antennas_deployed"`
	PayloadDeployed          bool    `json:"payload_deployed"`
	BatteryPercent           float64 `json:"battery_percent"`
	AngularVelocityMagnitude float64 `json:"angular_velocity_magnitude"`
	SentAt                   string  `json:"sent_at"`
}

// Beacon snapshots sequencer and blackboard state for downlink. It
// implements the Comms phase's Downlink capability and can also run on its
// own cadence.
type Beacon struct {
	name      string
	sequencer *mission.Sequencer
	board     *telemetry.Blackboard
	radio     hardware.Radio
	limiter   *rate.Limiter
	interval  time.Duration
	logger    *zap.Logger
}

// New creates a beacon. A nil limiter disables duty-cycle limiting; an
// interval of zero uses DefaultInterval.
func New(name string, sequencer *mission.Sequencer, board *telemetry.Blackboard, radio hardware.Radio, limiter *rate.Limiter, interval time.Duration, logger *zap.Logger) *Beacon {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Beacon{
		name:      name,
		sequencer: sequencer,
		board:     board,
		radio:     radio,
		limiter:   limiter,
		interval:  interval,
		logger:    logger,
	}
}

// Build assembles the current frame without sending it.
func (b *Beacon) Build() Frame {
	snap := b.sequencer.Snapshot()
	board := b.board.Snapshot()
	return Frame{
		Name:                     b.name,
		Phase:                    snap.Phase,
		AntennasDeployed:         snap.AntennasDeployed,
		PayloadDeployed:          snap.PayloadDeployed,
		BatteryPercent:           board.BatteryPercent,
		AngularVelocityMagnitude: board.AngularVelocityMagnitude,
		SentAt:                   time.Now().UTC().Format(time.RFC3339),
	}
}

// SendBeacon downlinks one frame. A frame suppressed by the duty-cycle
// limiter is not an error; the next tick tries again.
func (b *Beacon) SendBeacon() error {
	if b.limiter != nil && !b.limiter.Allow() {
		b.logger.Debug("beacon suppressed by transmit duty-cycle limit")
		return nil
	}

	payload, err := json.Marshal(b.Build())
	if err != nil {
		return fmt.Errorf("failed to encode beacon frame: %w", err)
	}
	if err := b.radio.Send(payload); err != nil {
		return fmt.Errorf("failed to send beacon frame: %w", err)
	}
	return nil
}

// Run sends on the beacon cadence until ctx is cancelled. Send failures are
// logged and the loop keeps its schedule.
func (b *Beacon) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.SendBeacon(); err != nil {
				b.logger.Warn("beacon send failed", zap.Error(err))
			}
		}
	}
}
