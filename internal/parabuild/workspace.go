package parabuild

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

const (
	scratchDirName = ".parabuild-scratch"
)

// provisionResult is what InitWorkspace hands back to Run: the paths of
// every build and run workspace, ready for workers to claim.
type provisionResult struct {
	buildWorkspaces []string
	runWorkspaces   []string
}

// provision implements §4.1 init_workspace: ensure workspacesPath exists
// (wiping it first under no_cache), guard against copying project_path into
// itself, then concurrently seed every build and run workspace from the
// project tree and execute init_bash_script inside each.
func provision(ctx context.Context, o *Orchestrator) (provisionResult, error) {
	board := o.ensureBoard()

	if o.withoutRsync {
		// ignore-aware copier never shells out; nothing to probe.
	} else if err := checkIncrementalCopierAvailable(); err != nil {
		return provisionResult{}, err
	}

	if o.noCache {
		if err := os.RemoveAll(o.workspacesPath); err != nil {
			return provisionResult{}, xerrors.Errorf("clearing workspaces root: %w", err)
		}
	}
	if err := os.MkdirAll(o.workspacesPath, 0o755); err != nil {
		return provisionResult{}, xerrors.Errorf("creating workspaces root: %w", err)
	}
	if err := os.MkdirAll(o.stagingDir(), 0o755); err != nil {
		return provisionResult{}, xerrors.Errorf("creating staging dir: %w", err)
	}

	board.note(fmt.Sprintf("copying %s into %d workspace(s)", o.projectPath, o.buildWorkers+o.runMethod.runWorkerCount()))

	src, cleanup, err := resolveSource(o)
	if err != nil {
		return provisionResult{}, err
	}
	if cleanup != nil {
		defer cleanup()
	}

	res := provisionResult{
		buildWorkspaces: make([]string, o.buildWorkers),
		runWorkspaces:   make([]string, o.runMethod.runWorkerCount()),
	}

	eg, egCtx := errgroup.WithContext(ctx)

	for k := 0; k < o.buildWorkers; k++ {
		k := k
		dir := filepath.Join(o.workspacesPath, workspaceName(k))
		res.buildWorkspaces[k] = dir
		eg.Go(func() error {
			if err := seedWorkspace(egCtx, o, src, dir); err != nil {
				return err
			}
			board.note(fmt.Sprintf("build workspace %d ready", k))
			if _, err := execScript(egCtx, dir, o.initScript, map[string]string{"PARABUILD_ID": strconv.Itoa(k)}); err != nil {
				// Tolerated for build workspaces: an individual build may
				// still succeed, or fail later at compile time.
				o.Log.Printf("build workspace %d: init script failed: %v", k, err)
			}
			return nil
		})
	}

	for k := 0; k < o.runMethod.runWorkerCount(); k++ {
		k := k
		dir := filepath.Join(o.workspacesPath, runWorkspaceName(k))
		res.runWorkspaces[k] = dir
		eg.Go(func() error {
			if err := seedWorkspace(egCtx, o, src, dir); err != nil {
				return err
			}
			board.note(fmt.Sprintf("run workspace %d ready", k))
			if _, err := execScript(egCtx, dir, o.initScript, map[string]string{"PARABUILD_ID": strconv.Itoa(k)}); err != nil {
				// Fatal: the run protocol assumes a built base tree is
				// available to accept artifacts.
				return xerrors.Errorf("run workspace %d: init script failed: %w", k, err)
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return provisionResult{}, err
	}
	return res, nil
}

// resolveSource returns the directory workspaces should be seeded from. When
// workspacesPath lives inside project_path and without_rsync is set, the
// project is copied once into a scratch directory first to avoid the
// in-process copier recursing into its own output (§4.1).
func resolveSource(o *Orchestrator) (src string, cleanup func(), err error) {
	projectAbs, err := filepath.Abs(o.projectPath)
	if err != nil {
		return "", nil, xerrors.Errorf("resolving project path: %w", err)
	}
	workspacesAbs, err := filepath.Abs(o.workspacesPath)
	if err != nil {
		return "", nil, xerrors.Errorf("resolving workspaces path: %w", err)
	}

	contained, relErr := filepath.Rel(projectAbs, workspacesAbs)
	if relErr == nil && o.withoutRsync && !pathEscapes(contained) {
		scratch := filepath.Join(os.TempDir(), scratchDirName+"-"+strconv.Itoa(os.Getpid()))
		if err := os.MkdirAll(scratch, 0o755); err != nil {
			return "", nil, xerrors.Errorf("creating scratch dir: %w", err)
		}
		if err := replicateIgnoreAware(projectAbs, scratch); err != nil {
			return "", nil, err
		}
		return scratch, func() { os.RemoveAll(scratch) }, nil
	}
	return projectAbs, nil, nil
}

// pathEscapes reports whether a filepath.Rel result climbs out of its base
// (starts with ".."), meaning the candidate isn't actually contained.
func pathEscapes(rel string) bool {
	return len(rel) >= 2 && rel[:2] == ".."
}

func seedWorkspace(ctx context.Context, o *Orchestrator, src, dst string) error {
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return xerrors.Errorf("creating workspace dir: %w", err)
	}
	if o.withoutRsync {
		return replicateIgnoreAware(src, dst)
	}
	return replicateIncremental(ctx, src, dst)
}

func workspaceName(k int) string    { return "workspace_" + strconv.Itoa(k) }
func runWorkspaceName(k int) string { return "workspace_exe_" + strconv.Itoa(k) }
