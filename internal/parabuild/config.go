package parabuild

import (
	"log"
	"path/filepath"

	"github.com/distr1/parabuild/internal/env"
)

// Orchestrator is the public entry point (§4.1): configure with the chained
// setters below, call InitWorkspace, then Run. The zero value is not usable
// directly — use New, which fills in the documented defaults.
type Orchestrator struct {
	projectPath    string
	workspacesPath string

	templateFile string
	targetFiles  []string

	initScript    string
	compileScript string
	runScript     string

	buildWorkers int
	runMethod    RunMethod

	compileErrorHandling CompileErrorHandling
	runFunc              RunFunc

	inPlaceTemplate     bool
	autoGatherArrayData bool
	noCache             bool
	withoutRsync        bool
	enableCPPFlags      bool

	autosaveIntervalSeconds int
	autosaveDir             string

	enableProgressBar bool

	Log *log.Logger

	provisioned *provisionResult
	board       *progressBoard

	bindings []item
	seeded   bool
	seedErr  error
}

// New returns an Orchestrator configured with spec.md §4.1's documented
// defaults: one build worker, no-run mode, panic on compile error, auto
// gather enabled, caching and rsync enabled, progress disabled, autosave
// disabled. projectPath and workspacesPath are required; everything else
// narrows from here via the With* setters.
func New(projectPath, workspacesPath string) *Orchestrator {
	return &Orchestrator{
		projectPath:          projectPath,
		workspacesPath:       workspacesPath,
		buildWorkers:         1,
		runMethod:            RunMethodNo(),
		compileErrorHandling: Panic,
		runFunc:              PanicOnError(),
		autoGatherArrayData:  true,
		autosaveDir:          env.DefaultAutosaveDir(),
		Log:                  log.Default(),
	}
}

func (o *Orchestrator) WithTemplateFile(path string) *Orchestrator {
	o.templateFile = path
	return o
}

func (o *Orchestrator) WithTargetFiles(files ...string) *Orchestrator {
	o.targetFiles = files
	return o
}

func (o *Orchestrator) WithInitScript(script string) *Orchestrator {
	o.initScript = script
	return o
}

func (o *Orchestrator) WithCompileScript(script string) *Orchestrator {
	o.compileScript = script
	return o
}

func (o *Orchestrator) WithRunScript(script string) *Orchestrator {
	o.runScript = script
	return o
}

func (o *Orchestrator) WithBuildWorkers(n int) *Orchestrator {
	o.buildWorkers = n
	return o
}

func (o *Orchestrator) WithRunMethod(m RunMethod) *Orchestrator {
	o.runMethod = m
	return o
}

func (o *Orchestrator) WithCompileErrorHandling(h CompileErrorHandling) *Orchestrator {
	o.compileErrorHandling = h
	return o
}

func (o *Orchestrator) WithRunFunc(f RunFunc) *Orchestrator {
	o.runFunc = f
	return o
}

func (o *Orchestrator) WithInPlaceTemplate(b bool) *Orchestrator {
	o.inPlaceTemplate = b
	return o
}

func (o *Orchestrator) WithAutoGatherArrayData(b bool) *Orchestrator {
	o.autoGatherArrayData = b
	return o
}

func (o *Orchestrator) WithNoCache(b bool) *Orchestrator {
	o.noCache = b
	return o
}

func (o *Orchestrator) WithoutRsync(b bool) *Orchestrator {
	o.withoutRsync = b
	return o
}

func (o *Orchestrator) WithCPPFlags(b bool) *Orchestrator {
	o.enableCPPFlags = b
	return o
}

func (o *Orchestrator) WithAutosave(intervalSeconds int, dir string) *Orchestrator {
	o.autosaveIntervalSeconds = intervalSeconds
	if dir != "" {
		o.autosaveDir = dir
	}
	return o
}

func (o *Orchestrator) WithProgressBar(b bool) *Orchestrator {
	o.enableProgressBar = b
	return o
}

// ensureBoard lazily creates the progress board shared by InitWorkspace's
// provisioning phase and Run's worker phases, so a single status renderer
// covers the whole lifetime of a run instead of resetting between them.
func (o *Orchestrator) ensureBoard() *progressBoard {
	if o.board == nil {
		o.board = newProgressBoard(o.enableProgressBar, len(o.bindings))
	}
	return o.board
}

// stagingDir is the shared artifact drop area, {workspaces}/targets/ (§3).
func (o *Orchestrator) stagingDir() string {
	return filepath.Join(o.workspacesPath, "targets")
}

// SetBindings seeds the input queue with bindings numbered 0..len(bindings).
// May only be called once per Orchestrator; a second call is a
// ConfigurationInvalid error surfaced from Run (§7, "repeated queue
// seeding").
func (o *Orchestrator) SetBindings(bindings []Binding) *Orchestrator {
	if o.seeded {
		o.seedErr = newError(ConfigurationInvalid, "SetBindings called more than once", nil)
		return o
	}
	items := make([]item, len(bindings))
	for i, b := range bindings {
		items[i] = item{id: i, binding: b}
	}
	o.bindings = items
	o.seeded = true
	return o
}
