package parabuild

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/renameio"
	"github.com/google/uuid"
	"golang.org/x/xerrors"
)

const (
	runDatasFile          = "run_datas.json"
	compileErrorDatasFile = "compile_error_datas.json"
	processedDataIDsFile  = "processed_data_ids.json"
)

// checkpointState is one worker's accumulated progress, the unit §4.6 saves
// and loads.
type checkpointState struct {
	RunData       any      // null, or whatever this worker has accumulated
	CompileErrors []Binding
	ProcessedIDs  []int
}

// checkpoint owns the on-disk directory for one worker:
// {autosaveDir}/{startTime}/{workerUUID}/, per §3's Checkpoint data model.
type checkpoint struct {
	dir string
}

// newCheckpoint creates (and returns a handle to) a fresh per-worker
// checkpoint directory. Each worker gets its own UUID-named subdirectory so
// concurrent workers never contend on the same files.
func newCheckpoint(autosaveDir, startTime string) (*checkpoint, error) {
	dir := filepath.Join(autosaveDir, startTime, uuid.New().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.Errorf("creating checkpoint dir: %w", err)
	}
	return &checkpoint{dir: dir}, nil
}

// save atomically persists state, preserving the prior generation of each
// file as a ".1" tombstone before the new write lands (§4.6 Save). Each of
// the three files gets its own rename-then-write so a crash mid-save leaves
// at least one fully consistent generation on disk for every file
// independently.
func (c *checkpoint) save(state checkpointState) error {
	if err := writeCheckpointFile(c.dir, runDatasFile, state.RunData); err != nil {
		return err
	}
	if err := writeCheckpointFile(c.dir, compileErrorDatasFile, state.CompileErrors); err != nil {
		return err
	}
	if err := writeCheckpointFile(c.dir, processedDataIDsFile, state.ProcessedIDs); err != nil {
		return err
	}
	return nil
}

func writeCheckpointFile(dir, name string, v any) error {
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); err == nil {
		if err := os.Rename(path, path+".1"); err != nil {
			return xerrors.Errorf("tombstoning %s: %w", name, err)
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return xerrors.Errorf("marshaling %s: %w", name, err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return xerrors.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// loadCheckpointState reads one worker directory's three files back into a
// checkpointState, falling back to the ".1" tombstone when the primary file
// is missing or unreadable (crash mid-write left only the shadow).
func loadCheckpointState(dir string) (checkpointState, error) {
	var state checkpointState

	if err := readCheckpointJSON(dir, runDatasFile, &state.RunData); err != nil {
		return state, err
	}
	if err := readCheckpointJSON(dir, compileErrorDatasFile, &state.CompileErrors); err != nil {
		return state, err
	}
	if err := readCheckpointJSON(dir, processedDataIDsFile, &state.ProcessedIDs); err != nil {
		return state, err
	}
	return state, nil
}

func readCheckpointJSON(dir, name string, dest any) error {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		data, err = os.ReadFile(path + ".1")
		if err != nil {
			return newError(CheckpointCorrupt, "reading "+name, err)
		}
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return newError(CheckpointCorrupt, "parsing "+name, err)
	}
	return nil
}

// resumeBaseline is what autosaveLoad exposes to the orchestrator: the
// merged result of every worker's last checkpoint, with RunData already
// passed through gatherData the same way a completed run's per-worker states
// are.
type resumeBaseline struct {
	RunData       any
	CompileErrors []Binding
	ProcessedIDs  []int
}

// autosaveLoad implements §4.6 Load: startTime empty means "most recent
// subdirectory of autosaveDir by modification time"; otherwise the named
// subdirectory. Every per-worker directory inside is read and merged by the
// §4.5 rules.
func autosaveLoad(autosaveDir, startTime string, method RunMethod, autoGatherArrayData bool) (resumeBaseline, error) {
	var baseline resumeBaseline

	root := autosaveDir
	if startTime == "" {
		latest, err := latestSubdir(autosaveDir)
		if err != nil {
			return baseline, err
		}
		root = filepath.Join(autosaveDir, latest)
	} else {
		root = filepath.Join(autosaveDir, startTime)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return baseline, newError(CheckpointCorrupt, "reading checkpoint root "+root, err)
	}

	var perWorkerRunData []any
	processedSet := map[int]struct{}{}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		state, err := loadCheckpointState(filepath.Join(root, e.Name()))
		if err != nil {
			return baseline, err
		}
		if state.RunData != nil {
			perWorkerRunData = append(perWorkerRunData, state.RunData)
		}
		baseline.CompileErrors = append(baseline.CompileErrors, state.CompileErrors...)
		for _, id := range state.ProcessedIDs {
			processedSet[id] = struct{}{}
		}
	}

	baseline.ProcessedIDs = make([]int, 0, len(processedSet))
	for id := range processedSet {
		baseline.ProcessedIDs = append(baseline.ProcessedIDs, id)
	}
	sort.Ints(baseline.ProcessedIDs)

	baseline.RunData = gatherData(method, autoGatherArrayData, perWorkerRunData)
	return baseline, nil
}

func latestSubdir(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", newError(CheckpointCorrupt, "reading autosave root "+root, err)
	}
	var best string
	var bestMod time.Time
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(bestMod) {
			bestMod = info.ModTime()
			best = e.Name()
		}
	}
	if best == "" {
		return "", newError(CheckpointCorrupt, "no checkpoint subdirectories under "+root, nil)
	}
	return best, nil
}

// unprocessedBindings is the set-difference helper named in §4.6 Load: given
// the full input and a set of already-processed ids, returns the bindings
// still needing work, keyed by their original id.
func unprocessedBindings(all []Binding, processed []int) []item {
	skip := make(map[int]struct{}, len(processed))
	for _, id := range processed {
		skip[id] = struct{}{}
	}
	out := make([]item, 0, len(all))
	for id, b := range all {
		if _, ok := skip[id]; ok {
			continue
		}
		out = append(out, item{id: id, binding: b})
	}
	return out
}

// newStartTime is a compact, filesystem-safe timestamp used to name a fresh
// checkpoint generation's root directory.
func newStartTime(now time.Time) string {
	return now.UTC().Format("20060102T150405Z")
}
