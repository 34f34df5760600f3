package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flightd/internal/hardware"
)

// Battery bus voltage to charge estimate, from the pack datasheet: 35000 mV
// empty, 41000 mV full.
const (
	batteryEmptyMillivolt = 35000.0
	batteryFullMillivolt  = 41000.0
)

// DefaultSampleInterval is the per-loop sampling cadence.
const DefaultSampleInterval = time.Second

// Sensors gathers the acquisition inputs. A nil sensor disables its loop.
type Sensors struct {
	Power        hardware.PowerMonitor
	IMU          hardware.IMU
	Magnetometer hardware.Magnetometer
	Position     hardware.PositionSensor
}

// Acquisition runs one sampling loop per blackboard field group. A sensor
// fault skips that tick and keeps the previous value; no loop ever waits on
// another.
type Acquisition struct {
	board    *Blackboard
	sensors  Sensors
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastIMU time.Time
}

// NewAcquisition creates an acquisition system writing to board. An interval
// of zero uses DefaultSampleInterval.
func NewAcquisition(board *Blackboard, sensors Sensors, interval time.Duration, logger *zap.Logger) *Acquisition {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Acquisition{
		board:    board,
		sensors:  sensors,
		interval: interval,
		logger:   logger,
	}
}

// Start schedules the sampling loops and returns without blocking. Calling
// Start on a running acquisition is a no-op.
func (a *Acquisition) Start(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.lastIMU = time.Now()

	if a.sensors.Power != nil {
		a.spawn(ctx, "battery", a.sampleBattery)
	}
	if a.sensors.IMU != nil {
		a.spawn(ctx, "imu", a.sampleIMU)
	}
	if a.sensors.Magnetometer != nil {
		a.spawn(ctx, "magnetometer", a.sampleMagnetometer)
	}
	if a.sensors.Position != nil {
		a.spawn(ctx, "position", a.samplePosition)
	}
}

// Stop halts every loop and waits for all of them to exit. Each loop stops
// within one sampling interval.
func (a *Acquisition) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	a.wg.Wait()
}

// spawn runs one sampling function on the shared cadence until ctx is done.
// The sample runs first so a fresh start populates the blackboard within
// the first tick.
func (a *Acquisition) spawn(ctx context.Context, sensor string, sample func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		a.logger.Debug("sampling loop started", zap.String("sensor", sensor))
		for {
			sample()
			select {
			case <-ctx.Done():
				a.logger.Debug("sampling loop stopped", zap.String("sensor", sensor))
				return
			case <-ticker.C:
			}
		}
	}()
}

func (a *Acquisition) sampleBattery() {
	millivolt, err := a.sensors.Power.BusVoltage()
	if err != nil {
		a.fault("battery", err)
		return
	}
	percent := 100 * (millivolt - batteryEmptyMillivolt) / (batteryFullMillivolt - batteryEmptyMillivolt)
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	a.board.setBatteryPercent(percent)
	samplesTotal.WithLabelValues("battery").Inc()
}

// sampleIMU integrates the gyro rate over the elapsed wall time and keeps
// the running vector's Euclidean magnitude alongside it.
func (a *Acquisition) sampleIMU() {
	now := time.Now()
	rate, err := a.sensors.IMU.Gyro()
	if err != nil {
		// The previous value and integration timestamp stand; the next
		// good sample integrates over the full gap.
		a.fault("imu", err)
		return
	}

	a.mu.Lock()
	dt := now.Sub(a.lastIMU).Seconds()
	a.lastIMU = now
	a.mu.Unlock()

	velocity, _ := a.board.AngularVelocity()
	velocity = velocity.Add(rate.Scale(dt))
	a.board.setAngularVelocity(velocity, velocity.Norm())
	samplesTotal.WithLabelValues("imu").Inc()
}

func (a *Acquisition) sampleMagnetometer() {
	vec, err := a.sensors.Magnetometer.Vector()
	if err != nil {
		a.fault("magnetometer", err)
		return
	}
	a.board.setMagnetometerVector(vec)
	samplesTotal.WithLabelValues("magnetometer").Inc()
}

func (a *Acquisition) samplePosition() {
	vec, err := a.sensors.Position.Position()
	if err != nil {
		a.fault("position", err)
		return
	}
	a.board.setPosition(vec)
	samplesTotal.WithLabelValues("position").Inc()
}

func (a *Acquisition) fault(sensor string, err error) {
	sensorFaultsTotal.WithLabelValues(sensor).Inc()
	a.logger.Warn("sensor read failed, keeping previous value",
		zap.String("sensor", sensor),
		zap.Error(err),
	)
}
