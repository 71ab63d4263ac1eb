package parabuild

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/renameio"
	"golang.org/x/xerrors"
)

// buildWorker owns one build workspace and drains the input queue,
// implementing §4.3 step by step.
type buildWorker struct {
	o         *Orchestrator
	index     int
	workspace string
	stop      *StopFlag
	board     *progressBoard
	ckpt      *checkpoint

	state   checkpointState
	runData []any
}

func newBuildWorker(o *Orchestrator, index int, workspace string, stop *StopFlag, board *progressBoard, ckpt *checkpoint) *buildWorker {
	return &buildWorker{o: o, index: index, workspace: workspace, stop: stop, board: board, ckpt: ckpt}
}

// run drains in until it's closed or the stop flag fires, dispatching
// according to o.runMethod. handoff is non-nil only for OutOfPlace/Exclusive.
func (w *buildWorker) run(ctx context.Context, in <-chan item, handoff chan<- handoffItem) error {
	lastSave := time.Now()

	for it := range in {
		if w.stop.isSet() {
			return w.checkpointNow()
		}

		done, err := w.processOne(ctx, it, handoff)
		if err != nil {
			return err
		}
		if done {
			w.board.advanceBuilding()
		}

		if w.stop.isSet() {
			return w.checkpointNow()
		}

		if w.o.autosaveIntervalSeconds > 0 &&
			time.Since(lastSave) > time.Duration(w.o.autosaveIntervalSeconds)*time.Second {
			if err := w.checkpointNow(); err != nil {
				return err
			}
			lastSave = time.Now()
		}
	}
	return nil
}

// processOne runs steps 1-5 of §4.3 for a single binding. done reports
// whether the item was marked processed by the build side (false for
// OutOfPlace/Exclusive, where the run worker marks it).
func (w *buildWorker) processOne(ctx context.Context, it item, handoff chan<- handoffItem) (done bool, err error) {
	if w.o.templateFile != "" {
		src := filepath.Join(w.workspace, w.o.templateFile)
		out := w.o.templateFile
		if w.o.inPlaceTemplate {
			// The workspace copy is overwritten by every render, so read the
			// unrendered template from the project tree instead.
			src = filepath.Join(w.o.projectPath, w.o.templateFile)
		} else {
			out = stripTerminalExt(out)
		}
		if err := render(src, filepath.Join(w.workspace, out), it.binding); err != nil {
			return false, err
		}
	}

	env := map[string]string{"PARABUILD_ID": strconv.Itoa(w.index)}
	if id := isolationIDFor(ctx, w.index); id != "" {
		env["CUDA_VISIBLE_DEVICES"] = id
	}
	if w.o.enableCPPFlags {
		flags, err := cppflagsFor(it.binding)
		if err != nil {
			return false, err
		}
		env["CPPFLAGS"] = flags
	}

	_, compileErr := execScript(ctx, w.workspace, w.o.compileScript, env)
	if compileErr != nil {
		switch w.o.compileErrorHandling {
		case Panic:
			return false, newError(CompileFailed, fmt.Sprintf("compile failed for id %d", it.id), compileErr)
		case Collect:
			w.state.CompileErrors = append(w.state.CompileErrors, it.binding)
			w.markProcessed(it.id)
			w.board.advanceRunning()
			return true, nil
		case Ignore:
			w.markProcessed(it.id)
			w.board.advanceRunning()
			return true, nil
		}
	}

	switch w.o.runMethod.Kind {
	case RunInPlace:
		v, err := w.o.runFunc.Run(ctx, w.workspace, w.o.runScript, env, it.binding, w.stop)
		if err != nil {
			return false, err
		}
		w.runData = append(w.runData, v)
		w.state.RunData = w.runData
		w.markProcessed(it.id)
		w.board.advanceRunning()
		return true, nil

	case RunNo:
		if err := w.stageTargets(it.id); err != nil {
			return false, err
		}
		if err := w.writeSidecar(it.id, it.binding); err != nil {
			return false, err
		}
		w.markProcessed(it.id)
		w.board.advanceRunning()
		return true, nil

	default: // RunOutOfPlace, RunExclusive
		if err := w.stageTargets(it.id); err != nil {
			return false, err
		}
		select {
		case handoff <- it:
		case <-ctx.Done():
			return false, ctx.Err()
		}
		return false, nil
	}
}

func (w *buildWorker) stageTargets(id int) error {
	dir := w.o.stagingDir()
	for _, target := range w.o.targetFiles {
		src := filepath.Join(w.workspace, target)
		dst := filepath.Join(dir, stagedName(target, id))
		if err := copyFile(src, dst, 0o644); err != nil {
			return xerrors.Errorf("staging %s for id %d: %w", target, id, err)
		}
	}
	return nil
}

func (w *buildWorker) writeSidecar(id int, binding Binding) error {
	path := filepath.Join(w.o.stagingDir(), fmt.Sprintf("data_%d.json", id))
	data, err := json.Marshal(binding)
	if err != nil {
		return xerrors.Errorf("marshaling sidecar for id %d: %w", id, err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return xerrors.Errorf("writing sidecar for id %d: %w", id, err)
	}
	return nil
}

func (w *buildWorker) markProcessed(id int) {
	w.state.ProcessedIDs = append(w.state.ProcessedIDs, id)
}

func (w *buildWorker) checkpointNow() error {
	if w.ckpt == nil {
		return nil
	}
	return w.ckpt.save(w.state)
}

// stripTerminalExt removes the last extension from path, e.g.
// "kernel.cu.tpl" -> "kernel.cu".
func stripTerminalExt(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext)
}

func stagedName(target string, id int) string {
	return fmt.Sprintf("%s_%d", filepath.Base(target), id)
}

// cppflagsFor renders the binding's top-level fields as -Dkey=value tokens
// for Makefile-style projects that don't use a rendered template (§4.1
// enable_cppflags).
func cppflagsFor(b Binding) (string, error) {
	fields, err := topLevelFields(b)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(fields))
	for k, v := range fields {
		parts = append(parts, fmt.Sprintf("-D%s=%v", k, v))
	}
	return strings.Join(parts, " "), nil
}
