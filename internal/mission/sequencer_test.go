package mission

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubPhase blocks in Run until cancelled and reports done on demand.
type stubPhase struct {
	name    PhaseName
	done    atomic.Bool
	running atomic.Bool
	exited  atomic.Bool
}

func (p *stubPhase) Name() PhaseName { return p.name }
func (p *stubPhase) Done() bool      { return p.done.Load() }

func (p *stubPhase) Run(ctx context.Context) {
	p.running.Store(true)
	<-ctx.Done()
	p.running.Store(false)
	p.exited.Store(true)
}

// stubBuilder hands out fresh stub phases and remembers them per name.
type stubBuilder struct {
	mu    sync.Mutex
	built map[PhaseName][]*stubPhase
}

func newStubBuilder() *stubBuilder {
	return &stubBuilder{built: map[PhaseName][]*stubPhase{}}
}

func (b *stubBuilder) Build(name PhaseName) (Phase, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := &stubPhase{name: name}
	b.built[name] = append(b.built[name], p)
	return p, nil
}

// current returns the most recently built instance of name.
func (b *stubBuilder) current(name PhaseName) *stubPhase {
	b.mu.Lock()
	defer b.mu.Unlock()
	instances := b.built[name]
	if len(instances) == 0 {
		return nil
	}
	return instances[len(instances)-1]
}

func (b *stubBuilder) buildCount(name PhaseName) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.built[name])
}

// advance marks the active phase done and steps the sequencer once.
func advance(t *testing.T, s *Sequencer, b *stubBuilder, from PhaseName) {
	t.Helper()
	phase := b.current(from)
	require.NotNil(t, phase, "no %s instance was built", from)
	phase.done.Store(true)
	s.Step()
}

func startSequencer(t *testing.T) (*Sequencer, *stubBuilder) {
	t.Helper()
	builder := newStubBuilder()
	s := NewSequencer(builder, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(s.Stop)
	return s, builder
}

func TestStartEntersBootup(t *testing.T) {
	s, _ := startSequencer(t)
	assert.Equal(t, string(PhaseBootup), s.Snapshot().Phase)

	err := s.Start(context.Background())
	require.Error(t, err, "double start must be rejected")
}

func TestNominalMissionSequence(t *testing.T) {
	s, b := startSequencer(t)

	advance(t, s, b, PhaseBootup)
	assert.Equal(t, string(PhaseDetumble), s.Snapshot().Phase)

	advance(t, s, b, PhaseDetumble)
	assert.Equal(t, string(PhaseAntennaDeploy), s.Snapshot().Phase)

	advance(t, s, b, PhaseAntennaDeploy)
	snap := s.Snapshot()
	assert.Equal(t, string(PhaseComms), snap.Phase)
	assert.True(t, snap.AntennasDeployed, "leaving antenna deploy records the milestone")
	assert.False(t, snap.PayloadDeployed)

	// First pass through Comms heads to payload deploy.
	advance(t, s, b, PhaseComms)
	assert.Equal(t, string(PhasePayloadDeploy), s.Snapshot().Phase)

	advance(t, s, b, PhasePayloadDeploy)
	snap = s.Snapshot()
	assert.Equal(t, string(PhaseOrient), snap.Phase)
	assert.True(t, snap.PayloadDeployed)
}

func TestOrientCommsAlternationAfterDeployments(t *testing.T) {
	s, b := startSequencer(t)
	advance(t, s, b, PhaseBootup)
	advance(t, s, b, PhaseDetumble)
	advance(t, s, b, PhaseAntennaDeploy)
	advance(t, s, b, PhaseComms)
	advance(t, s, b, PhasePayloadDeploy)

	for range 3 {
		advance(t, s, b, PhaseOrient)
		assert.Equal(t, string(PhaseComms), s.Snapshot().Phase)

		advance(t, s, b, PhaseComms)
		assert.Equal(t, string(PhaseOrient), s.Snapshot().Phase,
			"with payload deployed, comms must route to orient, never back to deploy")
	}

	assert.Equal(t, 1, b.buildCount(PhaseAntennaDeploy), "antenna deploy runs once per mission")
	assert.Equal(t, 1, b.buildCount(PhasePayloadDeploy), "payload deploy runs once per mission")
}

func TestStepNoOpWhenPhaseNotDone(t *testing.T) {
	s, b := startSequencer(t)

	s.Step()
	s.Step()
	assert.Equal(t, string(PhaseBootup), s.Snapshot().Phase)
	assert.Equal(t, 1, b.buildCount(PhaseBootup))
}

func TestTransitionJoinsOutgoingPhase(t *testing.T) {
	s, b := startSequencer(t)

	bootup := b.current(PhaseBootup)
	require.Eventually(t, func() bool {
		return bootup.running.Load()
	}, 2*time.Second, time.Millisecond)

	advance(t, s, b, PhaseBootup)

	assert.True(t, bootup.exited.Load(), "outgoing task must be joined before Step returns")
	assert.False(t, bootup.running.Load())
}

func TestSetStateForcesPhaseAndKeepsFlags(t *testing.T) {
	s, b := startSequencer(t)
	advance(t, s, b, PhaseBootup)
	advance(t, s, b, PhaseDetumble)
	advance(t, s, b, PhaseAntennaDeploy)
	require.True(t, s.Snapshot().AntennasDeployed)

	require.NoError(t, s.SetState(PhaseOrient))
	snap := s.Snapshot()
	assert.Equal(t, string(PhaseOrient), snap.Phase)
	assert.True(t, snap.AntennasDeployed, "a force-override leaves milestones alone")

	require.Error(t, s.SetState(PhaseName("launchpad")))
	assert.Equal(t, string(PhaseOrient), s.Snapshot().Phase)
}

func TestStopEndsActivePhase(t *testing.T) {
	builder := newStubBuilder()
	s := NewSequencer(builder, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))

	bootup := builder.current(PhaseBootup)
	require.Eventually(t, func() bool {
		return bootup.running.Load()
	}, 2*time.Second, time.Millisecond)

	s.Stop()
	assert.True(t, bootup.exited.Load())
	assert.Empty(t, s.Snapshot().Phase)

	// Stop again is a no-op.
	s.Stop()
}

// panicPhase panics in both Run and Done.
type panicPhase struct{}

func (panicPhase) Name() PhaseName         { return PhaseBootup }
func (panicPhase) Done() bool              { panic("done blew up") }
func (panicPhase) Run(ctx context.Context) { panic("run blew up") }

type panicBuilder struct{}

func (panicBuilder) Build(name PhaseName) (Phase, error) { return panicPhase{}, nil }

func TestSequencerSurvivesPanickingPhase(t *testing.T) {
	s := NewSequencer(panicBuilder{}, zap.NewNop())
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	// Done panics on every poll; the sequencer keeps going.
	assert.NotPanics(t, s.Step)
	assert.NotPanics(t, s.Step)
	assert.Equal(t, string(PhaseBootup), s.Snapshot().Phase)
}

func TestParsePhaseName(t *testing.T) {
	for _, name := range AllPhases() {
		got, err := ParsePhaseName(string(name))
		require.NoError(t, err)
		assert.Equal(t, name, got)
	}
	_, err := ParsePhaseName("warp")
	require.Error(t, err)
}
