package lifecycle

import (
	"slices"

	"github.com/cosmic-gao/nexo-machine/internal/pipeline"
)

// Phase names one step of the lifecycle.
type Phase string

const (
	PhaseInit      Phase = "init"
	PhaseValidate  Phase = "validate"
	PhasePrepare   Phase = "prepare"
	PhaseExecute   Phase = "execute"
	PhaseTransform Phase = "transform"
	PhaseGenerate  Phase = "generate"
	PhaseFinalize  Phase = "finalize"
	PhaseCleanup   Phase = "cleanup"
)

var phaseOrder = []Phase{
	PhaseInit,
	PhaseValidate,
	PhasePrepare,
	PhaseExecute,
	PhaseTransform,
	PhaseGenerate,
	PhaseFinalize,
	PhaseCleanup,
}

// Phases returns the phases in execution order.
func Phases() []Phase {
	return slices.Clone(phaseOrder)
}

// ParsePhase validates a phase name.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if p.index() < 0 {
		return "", pipeline.Configf("invalid phase %q", s)
	}
	return p, nil
}

// HookName is the hook dispatched when the phase runs.
func (p Phase) HookName() string {
	return "lifecycle:" + string(p)
}

func (p Phase) index() int {
	return slices.Index(phaseOrder, p)
}
