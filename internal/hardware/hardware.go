// Package hardware defines the capability interfaces the flight core needs
// from the board: sensors, actuator GPIO lines, the burnwire driver, and the
// packetized radio. Register-level drivers live behind these interfaces and
// are out of scope; the sim subpackage provides bench implementations.
package hardware

import (
	"context"
	"math"
	"time"
)

// Vec3 is a three-axis reading in body coordinates.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns the component-wise sum of v and w.
func (v Vec3) Add(w Vec3) Vec3 {
	return Vec3{X: v.X + w.X, Y: v.Y + w.Y, Z: v.Z + w.Z}
}

// Scale returns v scaled by s.
func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Norm returns the Euclidean norm of v.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// LightSensor reads one face-mounted ambient light sensor.
type LightSensor interface {
	// Lux returns the current illuminance reading.
	Lux() (float64, error)
}

// IMU reads the inertial measurement unit.
type IMU interface {
	// Gyro returns the angular rate sample in rad/s per axis.
	Gyro() (Vec3, error)
}

// Magnetometer reads the three-axis magnetometer.
type Magnetometer interface {
	// Vector returns the magnetic field vector.
	Vector() (Vec3, error)
}

// PowerMonitor reads the battery bus monitor.
type PowerMonitor interface {
	// BusVoltage returns the battery bus voltage in millivolts.
	BusVoltage() (float64, error)
}

// PositionSensor reads the position (or acceleration) source.
type PositionSensor interface {
	Position() (Vec3, error)
}

// Pin is a single digital output line. Set is idempotent.
type Pin interface {
	Set(high bool)
	Get() bool
}

// Burnwire drives a deployment burn wire. Burn energizes the wire for the
// given duration and de-energizes it before returning, even on context
// cancellation.
type Burnwire interface {
	Burn(ctx context.Context, d time.Duration) error
}

// Radio is the packetized radio channel. Framing, modulation internals and
// license handling happen below this interface.
type Radio interface {
	// Listen waits up to timeout for one inbound frame. A timeout with no
	// frame returns (nil, nil).
	Listen(timeout time.Duration) ([]byte, error)

	// Send transmits one frame.
	Send(payload []byte) error

	// SendAcknowledgement transmits the fixed acknowledgement frame.
	SendAcknowledgement() error

	// SetModulation switches the radio modulation scheme.
	SetModulation(mode string) error

	// Modulations lists the schemes SetModulation accepts.
	Modulations() []string
}
