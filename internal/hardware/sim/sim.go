// Package sim provides in-memory hardware implementations for bench runs and
// tests. Every device is safe for concurrent use and supports fault
// injection so the fault-handling paths can be exercised without a board.
package sim

import (
	"context"
	"sync"
	"time"

	"github.com/fyrsmithlabs/flightd/internal/hardware"
)

// LightSensor is a settable light sensor.
type LightSensor struct {
	mu   sync.Mutex
	lux  float64
	fail error
}

// NewLightSensor returns a sensor reading lux.
func NewLightSensor(lux float64) *LightSensor {
	return &LightSensor{lux: lux}
}

// SetLux sets the reading returned by Lux.
func (s *LightSensor) SetLux(lux float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lux = lux
}

// Fail makes subsequent reads return err; nil clears the fault.
func (s *LightSensor) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *LightSensor) Lux() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	return s.lux, nil
}

// IMU is a settable inertial measurement unit.
type IMU struct {
	mu   sync.Mutex
	gyro hardware.Vec3
	fail error
}

func NewIMU(gyro hardware.Vec3) *IMU {
	return &IMU{gyro: gyro}
}

func (s *IMU) SetGyro(v hardware.Vec3) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gyro = v
}

func (s *IMU) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *IMU) Gyro() (hardware.Vec3, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return hardware.Vec3{}, s.fail
	}
	return s.gyro, nil
}

// Magnetometer is a settable magnetometer.
type Magnetometer struct {
	mu   sync.Mutex
	vec  hardware.Vec3
	fail error
}

func NewMagnetometer(v hardware.Vec3) *Magnetometer {
	return &Magnetometer{vec: v}
}

func (s *Magnetometer) SetVector(v hardware.Vec3) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vec = v
}

func (s *Magnetometer) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *Magnetometer) Vector() (hardware.Vec3, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return hardware.Vec3{}, s.fail
	}
	return s.vec, nil
}

// PowerMonitor is a settable battery bus monitor.
type PowerMonitor struct {
	mu        sync.Mutex
	millivolt float64
	fail      error
}

func NewPowerMonitor(millivolt float64) *PowerMonitor {
	return &PowerMonitor{millivolt: millivolt}
}

func (s *PowerMonitor) SetBusVoltage(millivolt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.millivolt = millivolt
}

func (s *PowerMonitor) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *PowerMonitor) BusVoltage() (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	return s.millivolt, nil
}

// PositionSensor is a settable position source.
type PositionSensor struct {
	mu   sync.Mutex
	pos  hardware.Vec3
	fail error
}

func NewPositionSensor(v hardware.Vec3) *PositionSensor {
	return &PositionSensor{pos: v}
}

func (s *PositionSensor) SetPosition(v hardware.Vec3) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = v
}

func (s *PositionSensor) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *PositionSensor) Position() (hardware.Vec3, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return hardware.Vec3{}, s.fail
	}
	return s.pos, nil
}

// Pin is an in-memory GPIO line.
type Pin struct {
	mu   sync.Mutex
	high bool
}

func NewPin() *Pin { return &Pin{} }

func (p *Pin) Set(high bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.high = high
}

func (p *Pin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.high
}

// Burnwire records burn activity instead of heating a wire.
type Burnwire struct {
	mu    sync.Mutex
	burns []time.Duration
	sleep bool
}

// NewBurnwire returns a burnwire that records burns. If realTime is true,
// Burn blocks for the requested duration (bench mode); otherwise it returns
// immediately (tests).
func NewBurnwire(realTime bool) *Burnwire {
	return &Burnwire{sleep: realTime}
}

func (b *Burnwire) Burn(ctx context.Context, d time.Duration) error {
	b.mu.Lock()
	b.burns = append(b.burns, d)
	sleep := b.sleep
	b.mu.Unlock()
	if !sleep {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Burns returns every burn duration recorded so far.
func (b *Burnwire) Burns() []time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]time.Duration, len(b.burns))
	copy(out, b.burns)
	return out
}

// Radio is an in-memory radio: inbound frames are queued with Uplink, sent
// frames are captured for inspection.
type Radio struct {
	mu          sync.Mutex
	inbound     chan []byte
	sent        [][]byte
	acks        int
	modulation  string
	modulations []string
	sendErr     error
}

// NewRadio returns a radio supporting the given modulation schemes. The
// first scheme is active initially.
func NewRadio(modulations ...string) *Radio {
	if len(modulations) == 0 {
		modulations = []string{"LoRa", "FSK"}
	}
	return &Radio{
		inbound:     make(chan []byte, 16),
		modulation:  modulations[0],
		modulations: modulations,
	}
}

// Uplink queues one inbound frame for the next Listen call.
func (r *Radio) Uplink(frame []byte) {
	r.inbound <- frame
}

func (r *Radio) Listen(timeout time.Duration) ([]byte, error) {
	select {
	case frame := <-r.inbound:
		return frame, nil
	case <-time.After(timeout):
		return nil, nil
	}
}

func (r *Radio) Send(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	frame := make([]byte, len(payload))
	copy(frame, payload)
	r.sent = append(r.sent, frame)
	return nil
}

func (r *Radio) SendAcknowledgement() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sendErr != nil {
		return r.sendErr
	}
	r.acks++
	return nil
}

func (r *Radio) SetModulation(mode string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modulation = mode
	return nil
}

func (r *Radio) Modulations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.modulations))
	copy(out, r.modulations)
	return out
}

// Modulation returns the active modulation scheme.
func (r *Radio) Modulation() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.modulation
}

// FailSends makes Send and SendAcknowledgement return err; nil clears it.
func (r *Radio) FailSends(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sendErr = err
}

// Sent returns a copy of every frame sent so far.
func (r *Radio) Sent() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]byte, len(r.sent))
	for i, f := range r.sent {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// Acks returns the number of acknowledgement frames sent.
func (r *Radio) Acks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acks
}
