package parabuild

// RunKind identifies a run-method topology (§4.2).
type RunKind int

const (
	// RunNo means only compile; artifacts are staged and persisted as the
	// final deliverable, nothing is executed.
	RunNo RunKind = iota
	// RunInPlace means the build worker runs the artifact itself,
	// immediately after a successful compile, in its own workspace.
	RunInPlace
	// RunOutOfPlace means build and run proceed concurrently through the
	// handoff queue, with Workers run workers.
	RunOutOfPlace
	// RunExclusive means all builds finish before any run worker is
	// spawned — used when the run phase needs exclusive access to a shared
	// resource such as a single GPU.
	RunExclusive
)

// RunMethod selects the pipeline topology. Construct one with RunMethodNo,
// RunMethodInPlace, RunMethodOutOfPlace, or RunMethodExclusive — the zero
// value is RunMethodNo.
type RunMethod struct {
	Kind    RunKind
	Workers int // run worker count; unused for RunNo/RunInPlace
}

func RunMethodNo() RunMethod      { return RunMethod{Kind: RunNo} }
func RunMethodInPlace() RunMethod { return RunMethod{Kind: RunInPlace} }

func RunMethodOutOfPlace(workers int) RunMethod {
	return RunMethod{Kind: RunOutOfPlace, Workers: workers}
}

func RunMethodExclusive(workers int) RunMethod {
	return RunMethod{Kind: RunExclusive, Workers: workers}
}

// runWorkerCount returns how many run workspaces/workers this method needs.
func (m RunMethod) runWorkerCount() int {
	switch m.Kind {
	case RunOutOfPlace, RunExclusive:
		return m.Workers
	default:
		return 0
	}
}

// usesHandoff reports whether builds push artifacts onto the handoff queue
// for a separate run worker to pick up (true for OutOfPlace and Exclusive).
func (m RunMethod) usesHandoff() bool {
	return m.Kind == RunOutOfPlace || m.Kind == RunExclusive
}
