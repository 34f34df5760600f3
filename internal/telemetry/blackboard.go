// Package telemetry maintains the shared telemetry blackboard and the
// sampling loops that feed it. Each blackboard field group has exactly one
// writer loop; readers get stale-tolerant snapshots. Field groups carry
// their own lock so updates stay independent of each other.
package telemetry

import (
	"sync"

	"github.com/fyrsmithlabs/flightd/internal/hardware"
)

// Blackboard is the shared telemetry state.
type Blackboard struct {
	battery  batteryField
	angular  angularField
	magnet   vectorField
	position vectorField
}

type batteryField struct {
	mu      sync.RWMutex
	percent float64
}

type angularField struct {
	mu        sync.RWMutex
	velocity  hardware.Vec3
	magnitude float64
}

type vectorField struct {
	mu  sync.RWMutex
	vec hardware.Vec3
}

// NewBlackboard returns a zeroed blackboard.
func NewBlackboard() *Blackboard {
	return &Blackboard{}
}

// BatteryPercent returns the last battery charge estimate.
func (b *Blackboard) BatteryPercent() float64 {
	b.battery.mu.RLock()
	defer b.battery.mu.RUnlock()
	return b.battery.percent
}

func (b *Blackboard) setBatteryPercent(p float64) {
	b.battery.mu.Lock()
	b.battery.percent = p
	b.battery.mu.Unlock()
	batteryPercent.Set(p)
}

// AngularVelocity returns the integrated angular velocity vector and its
// Euclidean magnitude as one consistent pair.
func (b *Blackboard) AngularVelocity() (hardware.Vec3, float64) {
	b.angular.mu.RLock()
	defer b.angular.mu.RUnlock()
	return b.angular.velocity, b.angular.magnitude
}

func (b *Blackboard) setAngularVelocity(v hardware.Vec3, magnitude float64) {
	b.angular.mu.Lock()
	b.angular.velocity = v
	b.angular.magnitude = magnitude
	b.angular.mu.Unlock()
	angularMagnitude.Set(magnitude)
}

// MagnetometerVector returns the last magnetic field sample.
func (b *Blackboard) MagnetometerVector() hardware.Vec3 {
	b.magnet.mu.RLock()
	defer b.magnet.mu.RUnlock()
	return b.magnet.vec
}

func (b *Blackboard) setMagnetometerVector(v hardware.Vec3) {
	b.magnet.mu.Lock()
	b.magnet.vec = v
	b.magnet.mu.Unlock()
}

// Position returns the last position (or acceleration) sample.
func (b *Blackboard) Position() hardware.Vec3 {
	b.position.mu.RLock()
	defer b.position.mu.RUnlock()
	return b.position.vec
}

func (b *Blackboard) setPosition(v hardware.Vec3) {
	b.position.mu.Lock()
	b.position.vec = v
	b.position.mu.Unlock()
}

// Snapshot is a point-in-time copy of the blackboard for downlink and the
// ground-test surface.
type Snapshot struct {
	BatteryPercent           float64       `json:"battery_percent"`
	AngularVelocity          hardware.Vec3 `json:"angular_velocity"`
	AngularVelocityMagnitude float64       `json:"angular_velocity_magnitude"`
	MagnetometerVector       hardware.Vec3 `json:"magnetometer_vector"`
	Position                 hardware.Vec3 `json:"position"`
}

// Snapshot reads every field group. Groups are read one at a time; the
// result is eventually consistent, never torn within a field.
func (b *Blackboard) Snapshot() Snapshot {
	velocity, magnitude := b.AngularVelocity()
	return Snapshot{
		BatteryPercent:           b.BatteryPercent(),
		AngularVelocity:          velocity,
		AngularVelocityMagnitude: magnitude,
		MagnetometerVector:       b.MagnetometerVector(),
		Position:                 b.Position(),
	}
}
