package command

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/flightd/internal/config"
	"github.com/fyrsmithlabs/flightd/internal/hardware/sim"
	"github.com/fyrsmithlabs/flightd/internal/mission"
	"github.com/fyrsmithlabs/flightd/internal/telemetry"
)

const (
	testSecret   = "ground-secret"
	testOverride = "recovery-secret"
	testSatName  = "flightd-1"
)

type fixture struct {
	radio  *sim.Radio
	store  *config.Store
	d      *Dispatcher
	resets atomic.Int64
}

func newFixture(t *testing.T, seq *mission.Sequencer) *fixture {
	t.Helper()
	store, err := config.Load("", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Update(config.KeySecret, testSecret, false))
	require.NoError(t, store.Update(config.KeyOverrideSecret, testOverride, false))

	f := &fixture{radio: sim.NewRadio("LoRa", "FSK"), store: store}
	f.d = NewDispatcher(f.radio, store, seq, Options{
		Reset: func() { f.resets.Add(1) },
	}, zap.NewNop())
	// Skip the real turnaround delay in tests.
	f.d.sleep = func(time.Duration) {}
	return f
}

func frame(t *testing.T, msg Message) []byte {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return raw
}

func (f *fixture) sentTexts() []string {
	var out []string
	for _, raw := range f.radio.Sent() {
		out = append(out, string(raw))
	}
	return out
}

func TestMalformedFrameGetsDiagnostic(t *testing.T) {
	f := newFixture(t, nil)

	f.d.HandleFrame([]byte("{not json"))

	require.Len(t, f.radio.Sent(), 1)
	assert.Contains(t, f.sentTexts()[0], "failed to process command message")
	assert.Zero(t, f.radio.Acks())
}

func TestWrongPasswordDropsSilently(t *testing.T) {
	f := newFixture(t, nil)

	f.d.HandleFrame(frame(t, Message{Password: "guess", Command: CmdSendJoke, Name: testSatName}))

	assert.Empty(t, f.radio.Sent(), "a bad password must produce no reply at all")
	assert.Zero(t, f.radio.Acks())
}

func TestUnsetSecretNeverAuthenticates(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.Update(config.KeySecret, "", false))

	f.d.HandleFrame(frame(t, Message{Password: "", Command: CmdSendJoke, Name: testSatName}))

	assert.Empty(t, f.radio.Sent())
	assert.Zero(t, f.radio.Acks())
}

func TestNameMismatchDropsSilently(t *testing.T) {
	f := newFixture(t, nil)

	f.d.HandleFrame(frame(t, Message{Password: testSecret, Command: CmdSendJoke, Name: "some-other-sat"}))

	assert.Empty(t, f.radio.Sent())
	assert.Zero(t, f.radio.Acks())
}

func TestMissingCommandGetsDiagnosticWithoutAck(t *testing.T) {
	f := newFixture(t, nil)

	f.d.HandleFrame(frame(t, Message{Password: testSecret, Name: testSatName}))

	require.Len(t, f.radio.Sent(), 1)
	assert.Contains(t, f.sentTexts()[0], "no command found")
	assert.Zero(t, f.radio.Acks())
}

func TestUnknownCommandAcknowledgedThenRejected(t *testing.T) {
	f := newFixture(t, nil)

	f.d.HandleFrame(frame(t, Message{Password: testSecret, Command: "self-destruct", Name: testSatName}))

	assert.Equal(t, 1, f.radio.Acks())
	require.Len(t, f.radio.Sent(), 1)
	assert.Contains(t, f.sentTexts()[0], "unknown command received: self-destruct")
}

func TestSendJoke(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.Update(config.KeyJokes, []string{"only joke"}, false))

	f.d.HandleFrame(frame(t, Message{Password: testSecret, Command: CmdSendJoke, Name: testSatName}))

	assert.Equal(t, 1, f.radio.Acks())
	require.Len(t, f.radio.Sent(), 1)
	assert.Equal(t, "only joke", f.sentTexts()[0])
}

func TestResetInvokesHook(t *testing.T) {
	f := newFixture(t, nil)

	f.d.HandleFrame(frame(t, Message{Password: testSecret, Command: CmdReset, Name: testSatName}))

	assert.Equal(t, int64(1), f.resets.Load())
	assert.Equal(t, 1, f.radio.Acks())
}

func TestResetWithoutHookReportsError(t *testing.T) {
	f := newFixture(t, nil)
	f.d.reset = nil

	f.d.HandleFrame(frame(t, Message{Password: testSecret, Command: CmdReset, Name: testSatName}))

	require.Len(t, f.radio.Sent(), 1)
	assert.Contains(t, f.sentTexts()[0], "reset unavailable")
}

func TestChangeRadioModulation(t *testing.T) {
	f := newFixture(t, nil)

	f.d.HandleFrame(frame(t, Message{
		Password: testSecret, Command: CmdChangeRadioModulation,
		Args: []string{"FSK"}, Name: testSatName,
	}))

	assert.Equal(t, "FSK", f.radio.Modulation())
	require.Len(t, f.radio.Sent(), 1)
	assert.Contains(t, f.sentTexts()[0], "modulation changed to FSK")
}

func TestChangeRadioModulationRejectsUnsupported(t *testing.T) {
	f := newFixture(t, nil)

	f.d.HandleFrame(frame(t, Message{
		Password: testSecret, Command: CmdChangeRadioModulation,
		Args: []string{"AM"}, Name: testSatName,
	}))

	assert.Equal(t, "LoRa", f.radio.Modulation(), "an unsupported scheme leaves the radio untouched")
	require.Len(t, f.radio.Sent(), 1)
	assert.Contains(t, f.sentTexts()[0], "unsupported modulation: AM")
}

func TestOrientPayloadControlAppliesBothArgs(t *testing.T) {
	f := newFixture(t, nil)

	f.d.HandleFrame(frame(t, Message{
		Password: testSecret, Command: CmdOrientPayloadControl,
		Args: []string{"2", "12"}, Name: testSatName,
	}))

	assert.Equal(t, 2, f.store.Int(config.KeyOrientSetting))
	assert.Equal(t, 12.0, f.store.Float(config.KeyOrientPeriodHours))
	assert.Equal(t, 1, f.radio.Acks())
	require.Len(t, f.radio.Sent(), 1)
	assert.Contains(t, f.sentTexts()[0], "orient payload control applied")
}

func TestOrientPayloadControlArgsIndependent(t *testing.T) {
	f := newFixture(t, nil)

	// Bad mode, good period: only the period lands.
	f.d.HandleFrame(frame(t, Message{
		Password: testSecret, Command: CmdOrientPayloadControl,
		Args: []string{"5", "6"}, Name: testSatName,
	}))
	assert.Equal(t, 1, f.store.Int(config.KeyOrientSetting), "invalid mode leaves the stored setting alone")
	assert.Equal(t, 6.0, f.store.Float(config.KeyOrientPeriodHours))

	// Good mode, out-of-range period: only the mode lands.
	f.d.HandleFrame(frame(t, Message{
		Password: testSecret, Command: CmdOrientPayloadControl,
		Args: []string{"0", "25"}, Name: testSatName,
	}))
	assert.Equal(t, 0, f.store.Int(config.KeyOrientSetting))
	assert.Equal(t, 6.0, f.store.Float(config.KeyOrientPeriodHours))

	// The result frame is sent either way.
	assert.Len(t, f.radio.Sent(), 2)
}

func TestOrientPayloadControlRequiresTwoArgs(t *testing.T) {
	f := newFixture(t, nil)

	f.d.HandleFrame(frame(t, Message{
		Password: testSecret, Command: CmdOrientPayloadControl,
		Args: []string{"1"}, Name: testSatName,
	}))

	assert.Equal(t, 1, f.store.Int(config.KeyOrientSetting))
	require.Len(t, f.radio.Sent(), 1)
	assert.Contains(t, f.sentTexts()[0], "requires a setting and a periodic time")
}

func TestOverrideBypassesNameCheck(t *testing.T) {
	f := newFixture(t, nil)

	// Override tier ignores the satellite name entirely.
	f.d.HandleFrame(frame(t, Message{Password: testOverride, Command: CmdReset, Name: "wrong-name"}))

	assert.Equal(t, int64(1), f.resets.Load())
	assert.Equal(t, 1, f.radio.Acks())
}

func TestOverrideUnknownCommandSingleDiagnostic(t *testing.T) {
	f := newFixture(t, nil)

	f.d.HandleFrame(frame(t, Message{Password: testOverride, Command: CmdSendJoke}))

	require.Len(t, f.radio.Sent(), 1, "exactly one diagnostic frame, nothing else")
	assert.Contains(t, f.sentTexts()[0], "unknown override command")
	assert.Zero(t, f.radio.Acks(), "no acknowledgement for a rejected override")
	assert.Equal(t, int64(0), f.resets.Load())
}

func TestUnsetOverrideSecretDisablesTier(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.Update(config.KeyOverrideSecret, "", false))

	// An empty password must not ride the empty override secret into tier-1.
	f.d.HandleFrame(frame(t, Message{Password: "", Command: CmdReset}))

	assert.Empty(t, f.radio.Sent())
	assert.Zero(t, f.radio.Acks())
	assert.Equal(t, int64(0), f.resets.Load())
}

func TestOverrideSetPhase(t *testing.T) {
	seq := mission.NewSequencer(&mission.Phases{
		Board:           telemetry.NewBlackboard(),
		AntennaBurnwire: sim.NewBurnwire(false),
		PayloadBurnwire: sim.NewBurnwire(false),
		Timings: mission.Timings{
			BootupSettle:      time.Hour,
			DetumblePoll:      time.Millisecond,
			DetumbleMinDwell:  time.Hour,
			DetumbleThreshold: 0.2,
			BurnLead:          time.Hour,
			BurnDuration:      time.Millisecond,
			CommsTick:         time.Millisecond,
		},
	}, zap.NewNop())
	require.NoError(t, seq.Start(context.Background()))
	defer seq.Stop()

	f := newFixture(t, seq)

	f.d.HandleFrame(frame(t, Message{
		Password: testOverride, Command: CmdSetPhase, Args: []string{"comms"},
	}))

	assert.Equal(t, "comms", seq.Snapshot().Phase)
	assert.Equal(t, 1, f.radio.Acks())
	require.Len(t, f.radio.Sent(), 1)
	assert.Contains(t, f.sentTexts()[0], "phase forced to comms")

	// An unknown phase is rejected after the ack, with a diagnostic.
	f.d.HandleFrame(frame(t, Message{
		Password: testOverride, Command: CmdSetPhase, Args: []string{"launchpad"},
	}))
	assert.Equal(t, "comms", seq.Snapshot().Phase)
	assert.Contains(t, f.sentTexts()[1], "unknown phase")
}

func TestLimiterSuppressesReplies(t *testing.T) {
	f := newFixture(t, nil)
	f.d.limiter = rate.NewLimiter(rate.Every(time.Hour), 0)

	f.d.HandleFrame(frame(t, Message{Password: testSecret, Command: CmdSendJoke, Name: testSatName}))

	assert.Empty(t, f.radio.Sent(), "an exhausted duty-cycle budget suppresses reply frames")
	assert.Equal(t, 1, f.radio.Acks(),
		"the acknowledgement is exempt so an executed command is never silent")
}

func TestRunProcessesUplinkedFrames(t *testing.T) {
	f := newFixture(t, nil)
	f.d.listenTimeout = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		f.d.Run(ctx)
	}()

	f.radio.Uplink(frame(t, Message{Password: testSecret, Command: CmdSendJoke, Name: testSatName}))

	require.Eventually(t, func() bool {
		return len(f.radio.Sent()) == 1
	}, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after cancel")
	}
}
