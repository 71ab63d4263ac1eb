package parabuild

// CompileErrorHandling selects how a build worker reacts to a non-zero
// compile script (§4.3 step 4).
type CompileErrorHandling int

const (
	// Ignore drops a failed binding silently; it's still marked processed.
	Ignore CompileErrorHandling = iota
	// Collect records the failed binding in compile_errors; marked processed.
	Collect
	// Panic terminates the owning worker with a fault, triggering
	// orchestrator-wide teardown.
	Panic
)
