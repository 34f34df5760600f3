// Package mission implements the mission-phase state machine: the six phase
// bodies, the transition table, and the sequencer that owns the single
// active phase.
package mission

import (
	"context"
	"fmt"
)

// PhaseName identifies a mission phase.
type PhaseName string

const (
	PhaseBootup        PhaseName = "bootup"
	PhaseDetumble      PhaseName = "detumble"
	PhaseAntennaDeploy PhaseName = "antennas"
	PhaseComms         PhaseName = "comms"
	PhasePayloadDeploy PhaseName = "deploy"
	PhaseOrient        PhaseName = "orient"
)

// AllPhases returns every phase name in first-visit order.
func AllPhases() []PhaseName {
	return []PhaseName{
		PhaseBootup, PhaseDetumble, PhaseAntennaDeploy,
		PhaseComms, PhasePayloadDeploy, PhaseOrient,
	}
}

// ParsePhaseName validates a phase name received over the command link.
func ParsePhaseName(s string) (PhaseName, error) {
	for _, name := range AllPhases() {
		if s == string(name) {
			return name, nil
		}
	}
	return "", fmt.Errorf("unknown phase %q", s)
}

// Phase is the capability set the sequencer drives. Run executes the phase
// body until it completes on its own or ctx is cancelled; stopping a phase
// is cancellation plus a join on Run's return. Done reports self-completion
// and must be safe to call concurrently with Run.
type Phase interface {
	Name() PhaseName
	Run(ctx context.Context)
	Done() bool
}

// milestones are the one-way mission flags. They only ever go false→true.
type milestones struct {
	antennasDeployed bool
	payloadDeployed  bool
}

// rule is one row of the transition table. A nil guard always passes.
type rule struct {
	from   PhaseName
	guard  func(m milestones) bool
	next   PhaseName
	effect func(m *milestones)
}

// transitions is the table Step consults when the active phase reports
// done. Rows are evaluated in order; the first row whose from and guard
// match wins.
var transitions = []rule{
	{from: PhaseBootup, next: PhaseDetumble},
	{from: PhaseDetumble, next: PhaseAntennaDeploy},
	{from: PhaseAntennaDeploy, next: PhaseComms,
		effect: func(m *milestones) { m.antennasDeployed = true }},
	{from: PhaseComms, guard: func(m milestones) bool { return !m.payloadDeployed },
		next: PhasePayloadDeploy},
	{from: PhaseComms, guard: func(m milestones) bool { return m.payloadDeployed },
		next: PhaseOrient},
	{from: PhasePayloadDeploy, next: PhaseOrient,
		effect: func(m *milestones) { m.payloadDeployed = true }},
	{from: PhaseOrient, next: PhaseComms},
}

// nextPhase resolves the successor of from under the current milestones.
func nextPhase(from PhaseName, m milestones) (rule, bool) {
	for _, r := range transitions {
		if r.from != from {
			continue
		}
		if r.guard != nil && !r.guard(m) {
			continue
		}
		return r, true
	}
	return rule{}, false
}
