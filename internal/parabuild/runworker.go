package parabuild

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/xerrors"
)

const (
	artifactReadyRetries = 100
	artifactReadyDelay   = 100 * time.Millisecond
)

// runWorker owns one run workspace and drains the handoff queue, per §4.4.
type runWorker struct {
	o         *Orchestrator
	index     int
	workspace string
	stop      *StopFlag
	board     *progressBoard
	ckpt      *checkpoint

	state   checkpointState
	runData []any
}

func newRunWorker(o *Orchestrator, index int, workspace string, stop *StopFlag, board *progressBoard, ckpt *checkpoint) *runWorker {
	return &runWorker{o: o, index: index, workspace: workspace, stop: stop, board: board, ckpt: ckpt}
}

func (w *runWorker) run(ctx context.Context, in <-chan handoffItem) error {
	lastSave := time.Now()

	for it := range in {
		if w.stop.isSet() {
			return w.checkpointNow()
		}

		if err := w.processOne(ctx, it); err != nil {
			return err
		}
		w.board.advanceRunning()

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

func (w *runWorker) processOne(ctx context.Context, it handoffItem) error {
	for _, target := range w.o.targetFiles {
		staged := filepath.Join(w.o.stagingDir(), stagedName(target, it.id))
		dst := filepath.Join(w.workspace, target)
		if err := os.Rename(staged, dst); err != nil {
			return newError(ArtifactUnavailable, "moving staged artifact into place", err)
		}
		if err := waitUntilFileReady(ctx, dst); err != nil {
			return err
		}
	}

	env := map[string]string{"PARABUILD_ID": strconv.Itoa(w.index)}
	if id := isolationIDFor(ctx, w.index); id != "" {
		env["CUDA_VISIBLE_DEVICES"] = id
	}

	v, err := w.o.runFunc.Run(ctx, w.workspace, w.o.runScript, env, it.binding, w.stop)
	if err != nil {
		return err
	}
	w.runData = append(w.runData, v)
	w.state.RunData = w.runData
	w.state.ProcessedIDs = append(w.state.ProcessedIDs, it.id)
	return nil
}

func (w *runWorker) checkpointNow() error {
	if w.ckpt == nil {
		return nil
	}
	return w.ckpt.save(w.state)
}

// waitUntilFileReady polls lsof for holders of path with bounded retries, per
// §4.3's "wait until the file is not held open by any other process" — a
// direct translation of filesystem_utils.rs's wait_until_file_ready, which
// polls the same way for the same reason (some filesystems/tools keep a
// just-moved file open briefly).
func waitUntilFileReady(ctx context.Context, path string) error {
	for attempt := 0; attempt < artifactReadyRetries; attempt++ {
		cmd := exec.CommandContext(ctx, "lsof", path)
		if err := cmd.Run(); err != nil {
			// lsof exits non-zero when no process holds the file open.
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(artifactReadyDelay):
		}
	}
	return newError(ArtifactUnavailable, "artifact "+path+" never became quiescent", xerrors.New("retry cap exceeded"))
}
