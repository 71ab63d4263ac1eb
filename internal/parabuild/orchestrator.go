package parabuild

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// InitWorkspace implements §4.1 init_workspace: provisions build and (where
// the run method needs them) run workspaces and the artifact staging
// directory. Must be called once, before Run.
func (o *Orchestrator) InitWorkspace(ctx context.Context) error {
	res, err := provision(ctx, o)
	if err != nil {
		return err
	}
	o.provisioned = &res
	return nil
}

// Run implements §4.1 run(): spawns workers per the configured topology
// (§4.2), joins them, and returns the aggregated result (§4.5).
func (o *Orchestrator) Run(ctx context.Context) (runData any, compileErrors []Binding, processedIDs []int, err error) {
	if o.seedErr != nil {
		return nil, nil, nil, o.seedErr
	}
	if !o.seeded {
		return nil, nil, nil, newError(ConfigurationInvalid, "Run called before SetBindings", nil)
	}
	if o.provisioned == nil {
		return nil, nil, nil, newError(ConfigurationInvalid, "Run called before InitWorkspace", nil)
	}

	stop := &StopFlag{}
	stop.armFrom(ctx.Done())
	board := o.ensureBoard()
	startTime := newStartTime(time.Now())

	var buildStates, runStates []checkpointState

	switch o.runMethod.Kind {
	case RunNo, RunInPlace:
		buildStates, err = o.runBuildOnly(ctx, stop, board, startTime)
	case RunOutOfPlace:
		buildStates, runStates, err = o.runPipelined(ctx, stop, board, startTime)
	case RunExclusive:
		buildStates, runStates, err = o.runExclusive(ctx, stop, board, startTime)
	default:
		err = newError(ConfigurationInvalid, "unknown run method", nil)
	}
	if err != nil {
		return nil, nil, nil, err
	}

	return aggregate(o.runMethod, o.autoGatherArrayData, buildStates, runStates)
}

// runBuildOnly covers RunNo and RunInPlace: a single worker pool, no handoff
// queue.
func (o *Orchestrator) runBuildOnly(ctx context.Context, stop *StopFlag, board *progressBoard, startTime string) ([]checkpointState, error) {
	input := newInputQueue(o.bindings)
	states := make([]checkpointState, o.buildWorkers)

	eg, egCtx := errgroup.WithContext(ctx)
	for k := 0; k < o.buildWorkers; k++ {
		k := k
		eg.Go(func() error {
			ckpt, err := newCheckpoint(o.autosaveDir, startTime)
			if err != nil {
				return err
			}
			w := newBuildWorker(o, k, o.provisioned.buildWorkspaces[k], stop, board, ckpt)
			runErr := w.run(egCtx, input, nil)
			states[k] = w.state
			return runErr
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return states, nil
}

// runPipelined covers RunOutOfPlace: build and run workers run concurrently,
// connected by the handoff queue, which build workers close once the input
// queue is drained (§4.2).
func (o *Orchestrator) runPipelined(ctx context.Context, stop *StopFlag, board *progressBoard, startTime string) ([]checkpointState, []checkpointState, error) {
	input := newInputQueue(o.bindings)
	handoff := newHandoffQueue(len(o.bindings))

	buildStates := make([]checkpointState, o.buildWorkers)
	runStates := make([]checkpointState, o.runMethod.runWorkerCount())

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		buildEg, buildCtx := errgroup.WithContext(egCtx)
		for k := 0; k < o.buildWorkers; k++ {
			k := k
			buildEg.Go(func() error {
				ckpt, err := newCheckpoint(o.autosaveDir, startTime)
				if err != nil {
					return err
				}
				w := newBuildWorker(o, k, o.provisioned.buildWorkspaces[k], stop, board, ckpt)
				runErr := w.run(buildCtx, input, handoff)
				buildStates[k] = w.state
				return runErr
			})
		}
		buildErr := buildEg.Wait()
		close(handoff)
		return buildErr
	})

	for k := 0; k < o.runMethod.runWorkerCount(); k++ {
		k := k
		eg.Go(func() error {
			ckpt, err := newCheckpoint(o.autosaveDir, startTime)
			if err != nil {
				return err
			}
			w := newRunWorker(o, k, o.provisioned.runWorkspaces[k], stop, board, ckpt)
			runErr := w.run(egCtx, handoff)
			runStates[k] = w.state
			return runErr
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}
	return buildStates, runStates, nil
}

// runExclusive covers RunExclusive: every build worker must join before any
// run worker is spawned (§4.2), so the handoff queue is sized to hold the
// entire input and the two phases run strictly in sequence.
func (o *Orchestrator) runExclusive(ctx context.Context, stop *StopFlag, board *progressBoard, startTime string) ([]checkpointState, []checkpointState, error) {
	input := newInputQueue(o.bindings)
	handoff := newHandoffQueue(len(o.bindings))

	buildStates := make([]checkpointState, o.buildWorkers)
	runStates := make([]checkpointState, o.runMethod.runWorkerCount())

	buildEg, buildCtx := errgroup.WithContext(ctx)
	for k := 0; k < o.buildWorkers; k++ {
		k := k
		buildEg.Go(func() error {
			ckpt, err := newCheckpoint(o.autosaveDir, startTime)
			if err != nil {
				return err
			}
			w := newBuildWorker(o, k, o.provisioned.buildWorkspaces[k], stop, board, ckpt)
			runErr := w.run(buildCtx, input, handoff)
			buildStates[k] = w.state
			return runErr
		})
	}
	if err := buildEg.Wait(); err != nil {
		return nil, nil, err
	}
	close(handoff)

	runEg, runCtx := errgroup.WithContext(ctx)
	for k := 0; k < o.runMethod.runWorkerCount(); k++ {
		k := k
		runEg.Go(func() error {
			ckpt, err := newCheckpoint(o.autosaveDir, startTime)
			if err != nil {
				return err
			}
			w := newRunWorker(o, k, o.provisioned.runWorkspaces[k], stop, board, ckpt)
			runErr := w.run(runCtx, handoff)
			runStates[k] = w.state
			return runErr
		})
	}
	if err := runEg.Wait(); err != nil {
		return nil, nil, err
	}
	return buildStates, runStates, nil
}

// aggregate implements §4.5 across both worker pools: build-worker states
// hold run_data only for RunInPlace (everything else routes run_data through
// the run-worker states instead).
func aggregate(method RunMethod, autoGatherArrayData bool, buildStates, runStates []checkpointState) (any, []Binding, []int, error) {
	var perWorkerRunData []any
	var compileErrors []Binding
	var processedIDs []int

	for _, s := range buildStates {
		if s.RunData != nil {
			perWorkerRunData = append(perWorkerRunData, s.RunData)
		}
		compileErrors = append(compileErrors, s.CompileErrors...)
		processedIDs = append(processedIDs, s.ProcessedIDs...)
	}
	for _, s := range runStates {
		if s.RunData != nil {
			perWorkerRunData = append(perWorkerRunData, s.RunData)
		}
		compileErrors = append(compileErrors, s.CompileErrors...)
		processedIDs = append(processedIDs, s.ProcessedIDs...)
	}

	runData := gatherData(method, autoGatherArrayData, perWorkerRunData)
	return runData, compileErrors, processedIDs, nil
}

// Resume loads the most recent (or a named) checkpoint generation under
// autosaveDir and seeds the input queue with only the unprocessed bindings,
// per §4.6's Load/resume semantics. all is the full original input set the
// interrupted run was given.
func (o *Orchestrator) Resume(startTime string, all []Binding) (resumeBaseline, error) {
	baseline, err := autosaveLoad(o.autosaveDir, startTime, o.runMethod, o.autoGatherArrayData)
	if err != nil {
		return baseline, err
	}
	o.bindings = unprocessedBindings(all, baseline.ProcessedIDs)
	o.seeded = true
	return baseline, nil
}
