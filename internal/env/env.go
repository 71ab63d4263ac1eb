// Package env captures details about the parabuild runtime environment.
package env

import (
	"os"
	"path/filepath"
)

// Home is the root directory parabuild uses for state that isn't tied to a
// specific run (currently just the default autosave location).
var Home = findHome()

func findHome() string {
	if env := os.Getenv("PARABUILD_HOME"); env != "" {
		return env
	}
	return os.ExpandEnv("$HOME/.parabuild") // default
}

// DefaultAutosaveDir is the checkpoint root used when an Orchestrator isn't
// configured with an explicit autosave directory.
func DefaultAutosaveDir() string {
	return filepath.Join(Home, "autosave")
}
