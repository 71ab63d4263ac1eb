package parabuild

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	ignore "github.com/sabhiram/go-gitignore"
)

// replicateIgnoreAware copies src into dst file-by-file, skipping anything
// matched by a .gitignore found at src's root. Grounded on
// copy_dir_with_ignore in filesystem_utils.rs, which builds an
// ignore.WalkBuilder with git_ignore(true); github.com/sabhiram/go-gitignore
// is the equivalent matcher here.
func replicateIgnoreAware(src, dst string) error {
	matcher, _ := ignore.CompileIgnoreFile(filepath.Join(src, ".gitignore")) // nil is fine: no patterns

	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if matcher != nil && matcher.MatchesPath(rel) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		return copyFile(path, target, info.Mode())
	})
}

// replicateIncremental shells out to rsync for repeat-run speed (§9
// "Incremental copy vs. full copy"). Returns MissingDependency if rsync
// isn't on PATH — checked once by the caller before provisioning starts, per
// §4.1 ("Fails with MissingDependency if the incremental copier is selected
// but the external copy tool is absent").
func replicateIncremental(ctx context.Context, src, dst string) error {
	if _, err := exec.LookPath("rsync"); err != nil {
		return newError(MissingDependency, "rsync not found on PATH", err)
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return newError(ConfigurationInvalid, "creating workspace directory", err)
	}
	// trailing slash on src: copy contents of src into dst, not src itself
	cmd := exec.CommandContext(ctx, "rsync", "-a", "--delete", src+string(filepath.Separator), dst)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return newError(ConfigurationInvalid, "rsync failed: "+string(out), err)
	}
	return nil
}

// checkIncrementalCopierAvailable is the up-front dependency probe run once
// from InitWorkspace, generalizing filesystem_utils.rs's
// is_command_installed.
func checkIncrementalCopierAvailable() error {
	if _, err := exec.LookPath("rsync"); err != nil {
		return newError(MissingDependency, "rsync not found on PATH", err)
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
