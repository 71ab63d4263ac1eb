// Command parabuild drives a parabuild.Orchestrator from the command line:
// parse flags, load a JSON bindings file, run the pipeline, print the JSON
// result. Argument parsing and output formatting are deliberately thin —
// everything interesting lives in internal/parabuild.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/distr1/parabuild"
	pb "github.com/distr1/parabuild/internal/parabuild"
)

var (
	projectPath    = flag.String("project", "", "project directory to replicate per workspace")
	workspacesPath = flag.String("workspaces", "", "root directory for isolated worker workspaces")
	templateFile   = flag.String("template", "", "template file path, relative to project (empty: no rendering)")
	targetFiles    = flag.String("targets", "", "comma-separated build output filenames to stage")
	initScript     = flag.String("init_script", "", "shell snippet run once per workspace")
	compileScript  = flag.String("compile_script", "", "shell snippet that compiles the rendered project")
	runScript      = flag.String("run_script", "", "shell snippet that executes the compiled artifact")
	buildWorkers   = flag.Int("build_workers", 1, "number of concurrent build workers")
	runWorkers     = flag.Int("run_workers", 0, "number of concurrent run workers (OutOfPlace/Exclusive only)")
	runMethod      = flag.String("run_method", "no", "no | in_place | out_of_place | exclusive")
	onCompileError = flag.String("on_compile_error", "panic", "ignore | collect | panic")
	autoGather     = flag.Bool("auto_gather_array_data", true, "concatenate per-worker run_data when all are arrays")
	noCache        = flag.Bool("no_cache", false, "wipe the workspaces root before provisioning")
	withoutRsync   = flag.Bool("without_rsync", false, "use the in-process ignore-aware copier instead of rsync")
	cppflags       = flag.Bool("enable_cppflags", false, "export binding fields as -Dkey=value in CPPFLAGS")
	autosaveEvery  = flag.Int("autosave_interval_seconds", 0, "checkpoint cadence; 0 disables periodic saves")
	progressBar    = flag.Bool("progress", false, "render a Building/Running status board")
	bindingsFile   = flag.String("bindings", "", "path to a JSON array of bindings")
)

func main() {
	log.SetFlags(0)
	flag.Parse()

	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, cancel := parabuild.InterruptibleContext()
	defer cancel()

	method, err := parseRunMethod(*runMethod, *runWorkers)
	if err != nil {
		return err
	}
	handling, err := parseCompileErrorHandling(*onCompileError)
	if err != nil {
		return err
	}
	bindings, err := loadBindings(*bindingsFile)
	if err != nil {
		return err
	}

	o := pb.New(*projectPath, *workspacesPath).
		WithTemplateFile(*templateFile).
		WithTargetFiles(splitTargets(*targetFiles)...).
		WithInitScript(*initScript).
		WithCompileScript(*compileScript).
		WithRunScript(*runScript).
		WithBuildWorkers(*buildWorkers).
		WithRunMethod(method).
		WithCompileErrorHandling(handling).
		WithAutoGatherArrayData(*autoGather).
		WithNoCache(*noCache).
		WithoutRsync(*withoutRsync).
		WithCPPFlags(*cppflags).
		WithAutosave(*autosaveEvery, "").
		WithProgressBar(*progressBar).
		SetBindings(bindings)

	if err := o.InitWorkspace(ctx); err != nil {
		return err
	}

	runData, compileErrors, processedIDs, err := o.Run(ctx)
	if err != nil {
		return err
	}

	return printResult(runData, compileErrors, processedIDs)
}

func parseRunMethod(name string, workers int) (pb.RunMethod, error) {
	switch name {
	case "no":
		return pb.RunMethodNo(), nil
	case "in_place":
		return pb.RunMethodInPlace(), nil
	case "out_of_place":
		return pb.RunMethodOutOfPlace(workers), nil
	case "exclusive":
		return pb.RunMethodExclusive(workers), nil
	default:
		return pb.RunMethod{}, fmt.Errorf("unknown -run_method %q", name)
	}
}

func parseCompileErrorHandling(name string) (pb.CompileErrorHandling, error) {
	switch name {
	case "ignore":
		return pb.Ignore, nil
	case "collect":
		return pb.Collect, nil
	case "panic":
		return pb.Panic, nil
	default:
		return 0, fmt.Errorf("unknown -on_compile_error %q", name)
	}
}

func splitTargets(csv string) []string {
	if csv == "" {
		return nil
	}
	return strings.Split(csv, ",")
}

func loadBindings(path string) ([]pb.Binding, error) {
	if path == "" {
		return nil, fmt.Errorf("-bindings is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var bindings []pb.Binding
	if err := json.Unmarshal(data, &bindings); err != nil {
		return nil, err
	}
	return bindings, nil
}

type resultDoc struct {
	RunData       any          `json:"run_data"`
	CompileErrors []pb.Binding `json:"compile_errors"`
	ProcessedIDs  []int        `json:"processed_ids"`
}

func printResult(runData any, compileErrors []pb.Binding, processedIDs []int) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resultDoc{
		RunData:       runData,
		CompileErrors: compileErrors,
		ProcessedIDs:  processedIDs,
	})
}
