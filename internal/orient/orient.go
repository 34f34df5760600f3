// Package orient implements the sun-pointing controller executed inside the
// Orient mission phase. Four face-mounted light sensors produce a net sun
// vector in the body XY plane; the controller picks the best of eight fixed
// pointing directions and drives the two actuator pairs accordingly.
package orient

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flightd/internal/config"
	"github.com/fyrsmithlabs/flightd/internal/hardware"
)

// DefaultTickInterval is the control loop cadence.
const DefaultTickInterval = 2 * time.Second

// Payload control modes held in config.KeyOrientSetting.
const (
	ModeIdle       = 0 // hold the all-false pattern
	ModeContinuous = 1 // re-point every tick
	ModePeriodic   = 2 // re-point once per configured period, hold between
)

// Vec2 is a vector in the body XY plane.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Dot returns the dot product of v and w.
func (v Vec2) Dot(w Vec2) float64 { return v.X*w.X + v.Y*w.Y }

var invSqrt2 = 1 / math.Sqrt2

// faceNormals are the outward unit normals of the four sensed faces, in the
// fixed order +X, -X, +Y, -Y.
var faceNormals = [4]Vec2{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

// directions is the compass rose of candidate pointing directions. Axis
// directions come before diagonals; index order is the tie-break order.
var directions = [8]Vec2{
	{1, 0}, {-1, 0}, {0, 1}, {0, -1},
	{invSqrt2, invSqrt2}, {invSqrt2, -invSqrt2},
	{-invSqrt2, invSqrt2}, {-invSqrt2, -invSqrt2},
}

// Pattern is one actuator drive state over the RX and TX pairs.
type Pattern struct {
	RX0 bool `json:"rx0"`
	RX1 bool `json:"rx1"`
	TX0 bool `json:"tx0"`
	TX1 bool `json:"tx1"`
}

// Idle is the all-false fallback pattern.
var Idle = Pattern{}

// patterns maps a winning direction index to its drive state.
var patterns = [8]Pattern{
	{RX0: true},            // 0: +X
	{RX1: true},            // 1: -X
	{TX0: true},            // 2: +Y
	{TX1: true},            // 3: -Y
	{RX0: true, TX0: true}, // 4: +X+Y
	{RX0: true, TX1: true}, // 5: +X-Y
	{RX1: true, TX0: true}, // 6: -X+Y
	{TX0: true, TX1: true}, // 7: -X-Y
}

// NetSunVector sums the face readings weighted by their outward normals.
func NetSunVector(lights [4]float64) Vec2 {
	var net Vec2
	for i, lux := range lights {
		net.X += faceNormals[i].X * lux
		net.Y += faceNormals[i].Y * lux
	}
	return net
}

// BestDirection returns the index of the candidate direction maximizing the
// dot product with net, and the winning score. Ties resolve to the lowest
// index, so a zero vector pins to direction 0.
func BestDirection(net Vec2) (int, float64) {
	best := 0
	bestScore := math.Inf(-1)
	for i, dir := range directions {
		if score := net.Dot(dir); score > bestScore {
			bestScore = score
			best = i
		}
	}
	return best, bestScore
}

// PatternFor maps a direction index to its actuator pattern. Any index
// outside 0..7 yields the idle pattern.
func PatternFor(index int) Pattern {
	if index < 0 || index >= len(patterns) {
		return Idle
	}
	return patterns[index]
}

// Actuators are the two spring drive pairs.
type Actuators struct {
	RX0, RX1, TX0, TX1 hardware.Pin
}

// Controller runs the sun-pointing loop. It subscribes to the configuration
// store so in-flight orient-payload-control commands take effect on the
// next tick.
type Controller struct {
	sensors   [4]hardware.LightSensor
	actuators Actuators
	interval  time.Duration
	logger    *zap.Logger

	mu        sync.Mutex
	mode      int
	period    time.Duration
	lastPoint time.Time
	havePoint bool
}

// NewController creates a controller over the four face sensors (+X, -X,
// +Y, -Y order). A nil sensor is logged and read as zero, so a failed
// initialization degrades the controller instead of aborting the phase.
// The controller registers itself on store for live reconfiguration.
func NewController(sensors [4]hardware.LightSensor, actuators Actuators, store *config.Store, interval time.Duration, logger *zap.Logger) *Controller {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Controller{
		sensors:   sensors,
		actuators: actuators,
		interval:  interval,
		logger:    logger,
		mode:      ModeContinuous,
		period:    24 * time.Hour,
	}

	for i, sensor := range sensors {
		if sensor == nil {
			logger.Warn("light sensor unavailable, face reads as dark", zap.Int("face", i))
		}
	}

	if store != nil {
		c.setMode(store.Int(config.KeyOrientSetting))
		c.setPeriodHours(store.Float(config.KeyOrientPeriodHours))
		store.Subscribe(c.onConfigUpdate)
	}

	return c
}

// onConfigUpdate picks up orient-payload-control changes pushed through the
// store's subscriber mechanism.
func (c *Controller) onConfigUpdate(key string, value any) {
	switch key {
	case config.KeyOrientSetting:
		if mode, ok := asInt(value); ok {
			c.setMode(mode)
		}
	case config.KeyOrientPeriodHours:
		if hours, ok := asFloat(value); ok {
			c.setPeriodHours(hours)
		}
	}
}

func (c *Controller) setMode(mode int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if mode < ModeIdle || mode > ModePeriodic {
		return
	}
	c.mode = mode
	c.havePoint = false
}

func (c *Controller) setPeriodHours(hours float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hours <= 0 || hours > 24 {
		return
	}
	c.period = time.Duration(hours * float64(time.Hour))
}

// Run executes the control loop until ctx is cancelled, then parks the
// actuators idle. It never returns early on a tick failure.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	defer c.apply(Idle)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(time.Now())
		}
	}
}

// Tick performs one control step at the given time.
func (c *Controller) Tick(now time.Time) {
	c.mu.Lock()
	mode := c.mode
	period := c.period
	due := !c.havePoint || now.Sub(c.lastPoint) >= period
	c.mu.Unlock()

	switch mode {
	case ModeIdle:
		c.apply(Idle)
		return
	case ModePeriodic:
		if !due {
			return
		}
	}

	lights := c.readLights()
	net := NetSunVector(lights)
	best, score := BestDirection(net)
	pattern := PatternFor(best)
	c.apply(pattern)

	c.mu.Lock()
	c.lastPoint = now
	c.havePoint = true
	c.mu.Unlock()

	c.logger.Info("sun pointing",
		zap.Float64("net_x", net.X),
		zap.Float64("net_y", net.Y),
		zap.Int("direction", best),
		zap.Float64("alignment", score),
	)
}

// readLights reads all four faces, substituting 0.0 for a faulted face
// without blocking the tick.
func (c *Controller) readLights() [4]float64 {
	var lights [4]float64
	for i, sensor := range c.sensors {
		if sensor == nil {
			continue
		}
		lux, err := sensor.Lux()
		if err != nil {
			c.logger.Warn("light sensor read failed, using zero",
				zap.Int("face", i),
				zap.Error(err),
			)
			continue
		}
		lights[i] = lux
	}
	return lights
}

// apply drives all four lines to the pattern. The pattern is written line
// by line, but only this controller owns the lines while the Orient phase
// is active, so no other pattern can interleave.
func (c *Controller) apply(p Pattern) {
	c.actuators.RX0.Set(p.RX0)
	c.actuators.RX1.Set(p.RX1)
	c.actuators.TX0.Set(p.TX0)
	c.actuators.TX1.Set(p.TX1)
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
