// Package command implements the authenticated uplink dispatcher: it
// listens on the radio channel, authenticates frames against the override
// or standard tier, and dispatches the decoded command. Authentication
// failures are intentionally silent so an unauthenticated sender never
// learns whether it reached the right satellite.
package command

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/flightd/internal/config"
	"github.com/fyrsmithlabs/flightd/internal/hardware"
	"github.com/fyrsmithlabs/flightd/internal/mission"
)

// Standard command set.
const (
	CmdReset                 = "reset"
	CmdChangeRadioModulation = "change-radio-modulation"
	CmdSendJoke              = "send-joke"
	CmdOrientPayloadControl  = "orient-payload-control"
)

// Override-only command set (recovery).
const (
	CmdSetPhase = "set-phase"
)

// DefaultSendDelay gives the ground station time to switch to listening
// mode before a reply.
const DefaultSendDelay = 200 * time.Millisecond

// DefaultListenTimeout bounds one listen call so the loop can observe
// cancellation.
const DefaultListenTimeout = 10 * time.Second

var (
	// commandsTotal counts dispatched commands.
	// Labels: command, outcome (ok, invalid, error)
	commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flightd",
		Subsystem: "command",
		Name:      "commands_total",
		Help:      "Total number of dispatched uplink commands",
	}, []string{"command", "outcome"})

	// silentDropsTotal counts frames dropped without any reply.
	silentDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flightd",
		Subsystem: "command",
		Name:      "silent_drops_total",
		Help:      "Total number of frames dropped silently on authentication failure",
	})

	// malformedFramesTotal counts frames that failed to decode.
	malformedFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "flightd",
		Subsystem: "command",
		Name:      "malformed_frames_total",
		Help:      "Total number of malformed uplink frames",
	})
)

// Message is one decoded uplink frame.
type Message struct {
	Password string   `json:"password"`
	Command  string   `json:"command"`
	Args     []string `json:"args,omitempty"`
	Name     string   `json:"name,omitempty"`
}

// Dispatcher listens for and executes uplinked commands.
type Dispatcher struct {
	radio         hardware.Radio
	store         *config.Store
	sequencer     *mission.Sequencer
	limiter       *rate.Limiter
	reset         func()
	sendDelay     time.Duration
	listenTimeout time.Duration
	logger        *zap.Logger
	sleep         func(time.Duration)
}

// Options tunes a Dispatcher beyond its collaborators.
type Options struct {
	// SendDelay is the turnaround delay before any reply frame.
	SendDelay time.Duration

	// ListenTimeout bounds a single listen call.
	ListenTimeout time.Duration

	// Limiter is the shared transmit duty-cycle limiter; nil disables it.
	// Reply frames count against it; the acknowledgement frame does not.
	Limiter *rate.Limiter

	// Reset is invoked by the reset command. Nil makes reset report an
	// error frame instead of silently doing nothing.
	Reset func()
}

// NewDispatcher creates a dispatcher. Secrets and the satellite name are
// read from the store on every frame, so in-flight configuration changes
// take effect immediately.
func NewDispatcher(radio hardware.Radio, store *config.Store, sequencer *mission.Sequencer, opts Options, logger *zap.Logger) *Dispatcher {
	if opts.SendDelay <= 0 {
		opts.SendDelay = DefaultSendDelay
	}
	if opts.ListenTimeout <= 0 {
		opts.ListenTimeout = DefaultListenTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		radio:         radio,
		store:         store,
		sequencer:     sequencer,
		limiter:       opts.Limiter,
		reset:         opts.Reset,
		sendDelay:     opts.SendDelay,
		listenTimeout: opts.ListenTimeout,
		logger:        logger,
		sleep:         time.Sleep,
	}
}

// Run listens until ctx is cancelled. No failure inside a single frame's
// handling ever stops the loop.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := d.radio.Listen(d.listenTimeout)
		if err != nil {
			d.logger.Warn("radio listen failed", zap.Error(err))
			continue
		}
		if frame == nil {
			continue
		}
		d.HandleFrame(frame)
	}
}

// HandleFrame processes one received frame end to end.
func (d *Dispatcher) HandleFrame(frame []byte) {
	id := uuid.NewString()
	logger := d.logger.With(zap.String("frame_id", id))

	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		malformedFramesTotal.Inc()
		logger.Warn("malformed command frame", zap.Error(err))
		d.send(logger, fmt.Sprintf("failed to process command message: %v", err))
		return
	}

	// Tier-1: the override secret bypasses the standard checks entirely.
	if override := d.store.String(config.KeyOverrideSecret); override != "" && msg.Password == override {
		d.handleOverride(logger, msg)
		return
	}

	// Tier-2: wrong secret or wrong satellite name drops silently. An
	// unset secret never authenticates anything.
	secret := d.store.String(config.KeySecret)
	if secret == "" || msg.Password != secret {
		silentDropsTotal.Inc()
		logger.Debug("invalid password in message")
		return
	}
	if msg.Name != d.store.String(config.KeySatelliteName) {
		silentDropsTotal.Inc()
		logger.Debug("satellite name mismatch in message")
		return
	}

	if msg.Command == "" {
		logger.Warn("no command found in message")
		d.send(logger, "no command found in message")
		return
	}

	logger.Info("command received",
		zap.String("command", msg.Command),
		zap.Strings("args", msg.Args),
	)

	d.acknowledge(logger)
	d.dispatchStandard(logger, msg)
}

// handleOverride dispatches the override-only command set. An override
// frame with a missing or unknown command gets exactly one diagnostic
// frame and changes no state.
func (d *Dispatcher) handleOverride(logger *zap.Logger, msg Message) {
	logger.Info("override command received", zap.String("command", msg.Command))

	switch msg.Command {
	case CmdReset, CmdSetPhase:
	default:
		commandsTotal.WithLabelValues(msg.Command, "invalid").Inc()
		d.send(logger, fmt.Sprintf("unknown override command: %s", msg.Command))
		return
	}

	d.acknowledge(logger)

	switch msg.Command {
	case CmdReset:
		d.handleReset(logger)
	case CmdSetPhase:
		d.handleSetPhase(logger, msg.Args)
	}
}

func (d *Dispatcher) dispatchStandard(logger *zap.Logger, msg Message) {
	switch msg.Command {
	case CmdReset:
		d.handleReset(logger)
	case CmdChangeRadioModulation:
		d.handleChangeModulation(logger, msg.Args)
	case CmdSendJoke:
		d.handleSendJoke(logger)
	case CmdOrientPayloadControl:
		d.handleOrientPayloadControl(logger, msg.Args)
	default:
		commandsTotal.WithLabelValues(msg.Command, "invalid").Inc()
		logger.Warn("unknown command received", zap.String("command", msg.Command))
		d.send(logger, fmt.Sprintf("unknown command received: %s", msg.Command))
	}
}

func (d *Dispatcher) handleReset(logger *zap.Logger) {
	if d.reset == nil {
		commandsTotal.WithLabelValues(CmdReset, "error").Inc()
		d.send(logger, "reset unavailable on this build")
		return
	}
	commandsTotal.WithLabelValues(CmdReset, "ok").Inc()
	logger.Warn("resetting on ground command")
	d.reset()
}

func (d *Dispatcher) handleSetPhase(logger *zap.Logger, args []string) {
	if len(args) < 1 {
		commandsTotal.WithLabelValues(CmdSetPhase, "invalid").Inc()
		d.send(logger, "set-phase requires a phase name")
		return
	}
	name, err := mission.ParsePhaseName(args[0])
	if err != nil {
		commandsTotal.WithLabelValues(CmdSetPhase, "invalid").Inc()
		d.send(logger, fmt.Sprintf("set-phase: %v", err))
		return
	}
	if err := d.sequencer.SetState(name); err != nil {
		commandsTotal.WithLabelValues(CmdSetPhase, "error").Inc()
		d.send(logger, fmt.Sprintf("set-phase failed: %v", err))
		return
	}
	commandsTotal.WithLabelValues(CmdSetPhase, "ok").Inc()
	d.send(logger, fmt.Sprintf("phase forced to %s", name))
}

func (d *Dispatcher) handleChangeModulation(logger *zap.Logger, args []string) {
	if len(args) < 1 {
		commandsTotal.WithLabelValues(CmdChangeRadioModulation, "invalid").Inc()
		d.send(logger, "change-radio-modulation requires a modulation name")
		return
	}
	requested := args[0]
	for _, mode := range d.radio.Modulations() {
		if mode != requested {
			continue
		}
		if err := d.radio.SetModulation(requested); err != nil {
			commandsTotal.WithLabelValues(CmdChangeRadioModulation, "error").Inc()
			d.send(logger, fmt.Sprintf("failed to change modulation: %v", err))
			return
		}
		commandsTotal.WithLabelValues(CmdChangeRadioModulation, "ok").Inc()
		d.send(logger, fmt.Sprintf("modulation changed to %s", requested))
		return
	}
	commandsTotal.WithLabelValues(CmdChangeRadioModulation, "invalid").Inc()
	d.send(logger, fmt.Sprintf("unsupported modulation: %s", requested))
}

func (d *Dispatcher) handleSendJoke(logger *zap.Logger) {
	jokes := d.store.Strings(config.KeyJokes)
	if len(jokes) == 0 {
		commandsTotal.WithLabelValues(CmdSendJoke, "error").Inc()
		d.send(logger, "no jokes configured")
		return
	}
	commandsTotal.WithLabelValues(CmdSendJoke, "ok").Inc()
	d.send(logger, jokes[rand.Intn(len(jokes))])
}

// handleOrientPayloadControl validates the mode and period independently
// and applies each valid argument durably even when the other is invalid.
// A result frame summarizing the received arguments is always sent.
func (d *Dispatcher) handleOrientPayloadControl(logger *zap.Logger, args []string) {
	if len(args) < 2 {
		commandsTotal.WithLabelValues(CmdOrientPayloadControl, "invalid").Inc()
		d.send(logger, "orient-payload-control requires a setting and a periodic time")
		return
	}

	outcome := "ok"

	switch args[0] {
	case "0", "1", "2":
		mode, _ := strconv.Atoi(args[0])
		if err := d.store.Update(config.KeyOrientSetting, mode, true); err != nil {
			logger.Warn("failed to persist orient setting", zap.Error(err))
		}
	default:
		outcome = "invalid"
		logger.Warn("invalid orient payload setting, want 0, 1 or 2",
			zap.String("setting", args[0]))
	}

	period, err := strconv.ParseFloat(args[1], 64)
	if err != nil || period <= 0 || period > 24 {
		outcome = "invalid"
		logger.Warn("invalid orient payload periodic time, want hours in (0, 24]",
			zap.String("period", args[1]))
	} else {
		if err := d.store.Update(config.KeyOrientPeriodHours, period, true); err != nil {
			logger.Warn("failed to persist orient periodic time", zap.Error(err))
		}
	}

	commandsTotal.WithLabelValues(CmdOrientPayloadControl, outcome).Inc()
	d.send(logger, fmt.Sprintf("orient payload control applied with args: %v", args))
}

// acknowledge waits out the turnaround delay and sends the acknowledgement
// frame. The ack is exempt from the duty-cycle limiter: it is a short fixed
// frame, and silence after a command that ran would read on the ground as a
// drop.
func (d *Dispatcher) acknowledge(logger *zap.Logger) {
	d.sleep(d.sendDelay)
	if err := d.radio.SendAcknowledgement(); err != nil {
		logger.Warn("failed to send acknowledgement", zap.Error(err))
	}
}

// send transmits one reply frame, respecting the duty-cycle limiter.
func (d *Dispatcher) send(logger *zap.Logger, text string) {
	if d.limiter != nil && !d.limiter.Allow() {
		logger.Warn("reply suppressed by transmit duty-cycle limit",
			zap.String("reply", text))
		return
	}
	if err := d.radio.Send([]byte(text)); err != nil {
		logger.Warn("failed to send reply frame", zap.Error(err))
	}
}
