package parabuild_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	pb "github.com/distr1/parabuild/internal/parabuild"
)

// newProject writes a minimal project tree: a template rendering to "main"
// and a compile script that validates the rendered content looks like an
// integer, standing in for a real C/C++ toolchain.
func newProject(t *testing.T, template, compileScript string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.tpl"), []byte(template), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "compile.sh"), []byte(compileScript), 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func intBindings(n int) []pb.Binding {
	out := make([]pb.Binding, n)
	for i := 0; i < n; i++ {
		out[i] = pb.Binding(fmt.Sprintf(`{"N": %d}`, i+1))
	}
	return out
}

const validatingCompileScript = `set -e
[[ "$(cat main)" =~ ^-?[0-9]+$ ]]
`

func TestRunNoStagesArtifactsAndCollectsCompileErrors(t *testing.T) {
	project := newProject(t, "{{.N}}", validatingCompileScript)
	workspaces := t.TempDir()
	autosave := t.TempDir()

	bindings := intBindings(20)
	bindings = append(bindings, pb.Binding(`{"N": "a"}`))

	o := pb.New(project, workspaces).
		WithTemplateFile("main.tpl").
		WithTargetFiles("main").
		WithCompileScript("bash compile.sh").
		WithCompileErrorHandling(pb.Collect).
		WithRunMethod(pb.RunMethodNo()).
		WithoutRsync(true).
		WithAutosave(0, autosave).
		SetBindings(bindings)

	ctx := context.Background()
	if err := o.InitWorkspace(ctx); err != nil {
		t.Fatalf("InitWorkspace: %v", err)
	}
	runData, compileErrors, processedIDs, err := o.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if runData != nil {
		t.Errorf("runData = %v, want nil for RunNo", runData)
	}
	if len(compileErrors) != 1 {
		t.Fatalf("len(compileErrors) = %d, want 1", len(compileErrors))
	}
	if len(processedIDs) != 21 {
		t.Fatalf("len(processedIDs) = %d, want 21", len(processedIDs))
	}

	staging := filepath.Join(workspaces, "targets")
	for i := 0; i < 20; i++ {
		if _, err := os.Stat(filepath.Join(staging, "main_"+strconv.Itoa(i))); err != nil {
			t.Errorf("staged artifact for id %d missing: %v", i, err)
		}
		if _, err := os.Stat(filepath.Join(staging, "data_"+strconv.Itoa(i)+".json")); err != nil {
			t.Errorf("sidecar for id %d missing: %v", i, err)
		}
	}
	if _, err := os.Stat(filepath.Join(staging, "main_20")); err == nil {
		t.Errorf("id 20 (invalid binding) should not have staged an artifact")
	}
}

func TestRunInPlaceSumsRunResults(t *testing.T) {
	project := newProject(t, "{{.N}}", validatingCompileScript)
	workspaces := t.TempDir()
	autosave := t.TempDir()

	o := pb.New(project, workspaces).
		WithTemplateFile("main.tpl").
		WithTargetFiles("main").
		WithCompileScript("bash compile.sh").
		WithRunScript("cat main").
		WithRunMethod(pb.RunMethodInPlace()).
		WithCompileErrorHandling(pb.Collect).
		WithoutRsync(true).
		WithAutosave(0, autosave).
		SetBindings(intBindings(20))

	ctx := context.Background()
	if err := o.InitWorkspace(ctx); err != nil {
		t.Fatalf("InitWorkspace: %v", err)
	}
	runData, compileErrors, processedIDs, err := o.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(compileErrors) != 0 {
		t.Fatalf("len(compileErrors) = %d, want 0", len(compileErrors))
	}
	if len(processedIDs) != 20 {
		t.Fatalf("len(processedIDs) = %d, want 20", len(processedIDs))
	}

	records, ok := runData.([]any)
	if !ok {
		t.Fatalf("runData = %T, want []any", runData)
	}
	sum := sumStdout(t, records)
	if sum != 210 {
		t.Errorf("sum = %d, want 210", sum)
	}
}

func TestRunOutOfPlaceSumsAcrossWorkers(t *testing.T) {
	project := newProject(t, "{{.N}}", validatingCompileScript)
	workspaces := t.TempDir()
	autosave := t.TempDir()

	o := pb.New(project, workspaces).
		WithTemplateFile("main.tpl").
		WithTargetFiles("main").
		WithCompileScript("bash compile.sh").
		WithRunScript("cat main").
		WithBuildWorkers(4).
		WithRunMethod(pb.RunMethodOutOfPlace(2)).
		WithCompileErrorHandling(pb.Collect).
		WithoutRsync(true).
		WithAutosave(0, autosave).
		SetBindings(intBindings(100))

	ctx := context.Background()
	if err := o.InitWorkspace(ctx); err != nil {
		t.Fatalf("InitWorkspace: %v", err)
	}
	runData, compileErrors, processedIDs, err := o.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(compileErrors) != 0 {
		t.Fatalf("len(compileErrors) = %d, want 0", len(compileErrors))
	}
	if len(processedIDs) != 100 {
		t.Fatalf("len(processedIDs) = %d, want 100", len(processedIDs))
	}

	records, ok := runData.([]any)
	if !ok {
		t.Fatalf("runData = %T, want []any", runData)
	}
	if len(records) != 100 {
		t.Fatalf("len(records) = %d, want 100", len(records))
	}
	if sum := sumStdout(t, records); sum != 5050 {
		t.Errorf("sum = %d, want 5050", sum)
	}
}

// TestRunExclusiveBuildsAllBeforeAnyRun exercises the §4.2 invariant that no
// run worker makes progress until every build worker has joined. Each
// compile appends a line to a shared counter file; each run script reads the
// counter and fails loudly if it sees fewer lines than the full binding
// count, which would mean a run started while builds were still in flight.
func TestRunExclusiveBuildsAllBeforeAnyRun(t *testing.T) {
	counter := filepath.Join(t.TempDir(), "build_counter")
	if err := os.WriteFile(counter, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	compileScript := validatingCompileScript + fmt.Sprintf("echo 1 >> %q\n", counter)
	runScript := fmt.Sprintf(`n=$(wc -l < %q)
if [ "$n" -lt 10 ]; then
  echo "run started early: only $n/10 builds done" >&2
  exit 1
fi
cat main
`, counter)

	project := newProject(t, "{{.N}}", compileScript)
	workspaces := t.TempDir()
	autosave := t.TempDir()

	o := pb.New(project, workspaces).
		WithTemplateFile("main.tpl").
		WithTargetFiles("main").
		WithCompileScript("bash compile.sh").
		WithRunScript(runScript).
		WithBuildWorkers(3).
		WithRunMethod(pb.RunMethodExclusive(2)).
		WithoutRsync(true).
		WithAutosave(0, autosave).
		SetBindings(intBindings(10))

	ctx := context.Background()
	if err := o.InitWorkspace(ctx); err != nil {
		t.Fatalf("InitWorkspace: %v", err)
	}
	_, compileErrors, processedIDs, err := o.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v (a nonzero run script means a run started before all builds joined)", err)
	}
	if len(compileErrors) != 0 {
		t.Fatalf("len(compileErrors) = %d, want 0", len(compileErrors))
	}
	if len(processedIDs) != 10 {
		t.Fatalf("len(processedIDs) = %d, want 10", len(processedIDs))
	}
}

func TestRunOutOfPlaceInPlaceTemplateDefaultHelper(t *testing.T) {
	project := newProject(t, "{{default .Flag \"off\"}}", "set -e\ntest -s main.tpl\n")
	workspaces := t.TempDir()
	autosave := t.TempDir()

	bindings := []pb.Binding{
		pb.Binding(`{"Flag": "on"}`),
		pb.Binding(`{}`),
	}

	o := pb.New(project, workspaces).
		WithTemplateFile("main.tpl").
		WithInPlaceTemplate(true).
		WithTargetFiles("main.tpl").
		WithCompileScript("bash compile.sh").
		WithRunScript("cat main.tpl").
		WithRunMethod(pb.RunMethodOutOfPlace(2)).
		WithoutRsync(true).
		WithAutosave(0, autosave).
		SetBindings(bindings)

	ctx := context.Background()
	if err := o.InitWorkspace(ctx); err != nil {
		t.Fatalf("InitWorkspace: %v", err)
	}
	runData, compileErrors, processedIDs, err := o.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(compileErrors) != 0 {
		t.Fatalf("len(compileErrors) = %d, want 0", len(compileErrors))
	}
	if len(processedIDs) != 2 {
		t.Fatalf("len(processedIDs) = %d, want 2", len(processedIDs))
	}

	records, ok := runData.([]any)
	if !ok {
		t.Fatalf("runData = %T, want []any", runData)
	}
	var outputs []string
	for _, r := range records {
		rec, ok := asRecord(r)
		if !ok {
			t.Fatalf("record = %T, want ResultRecord-shaped value", r)
		}
		outputs = append(outputs, strings.TrimSpace(rec.stdout))
	}
	if !contains(outputs, "on") || !contains(outputs, "off") {
		t.Errorf("outputs = %v, want one \"on\" and one \"off\" (default fallback)", outputs)
	}
}

// TestResumeAfterInterruptFinishesRemainingBindings simulates a crash by
// hand-writing the on-disk checkpoint layout a single worker would have left
// behind after processing ids 0-14 (N=1..15), the way §4.6 Save documents:
// {autosaveDir}/{startTime}/{workerID}/{run_datas,compile_error_datas,
// processed_data_ids}.json. Resume should then hand the orchestrator only
// the remaining 15 bindings.
func TestResumeAfterInterruptFinishesRemainingBindings(t *testing.T) {
	project := newProject(t, "{{.N}}", validatingCompileScript)
	workspaces := t.TempDir()
	autosave := t.TempDir()
	all := intBindings(30)

	const startTime = "20260101T000000Z"
	workerDir := filepath.Join(autosave, startTime, "worker-0")
	if err := os.MkdirAll(workerDir, 0o755); err != nil {
		t.Fatal(err)
	}
	processedIDs := make([]int, 15)
	for i := range processedIDs {
		processedIDs[i] = i
	}
	writeJSON(t, filepath.Join(workerDir, "run_datas.json"), nil)
	writeJSON(t, filepath.Join(workerDir, "compile_error_datas.json"), []pb.Binding{})
	writeJSON(t, filepath.Join(workerDir, "processed_data_ids.json"), processedIDs)

	o := pb.New(project, workspaces).
		WithTemplateFile("main.tpl").
		WithTargetFiles("main").
		WithCompileScript("bash compile.sh").
		WithRunScript("cat main").
		WithRunMethod(pb.RunMethodInPlace()).
		WithoutRsync(true).
		WithAutosave(0, autosave)

	baseline, err := o.Resume(startTime, all)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if len(baseline.ProcessedIDs) != 15 {
		t.Fatalf("len(baseline.ProcessedIDs) = %d, want 15", len(baseline.ProcessedIDs))
	}

	ctx := context.Background()
	if err := o.InitWorkspace(ctx); err != nil {
		t.Fatalf("InitWorkspace (resumed): %v", err)
	}
	runData, compileErrors, resumedIDs, err := o.Run(ctx)
	if err != nil {
		t.Fatalf("Run (resumed): %v", err)
	}
	if len(compileErrors) != 0 {
		t.Fatalf("len(compileErrors) = %d, want 0", len(compileErrors))
	}
	if len(resumedIDs) != 15 {
		t.Fatalf("len(resumedIDs) = %d, want 15 (bindings 16..30)", len(resumedIDs))
	}

	records, ok := runData.([]any)
	if !ok {
		t.Fatalf("runData = %T, want []any", runData)
	}
	if sum := sumStdout(t, records); sum != 345 {
		t.Errorf("sum of resumed run's records = %d, want 345 (16+17+...+30)", sum)
	}
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

type resultRecordShape struct {
	status int
	stdout string
}

func asRecord(v any) (resultRecordShape, bool) {
	type recordLike struct {
		Status int    `json:"status"`
		Stdout string `json:"stdout"`
	}
	data, err := json.Marshal(v)
	if err != nil {
		return resultRecordShape{}, false
	}
	var rl recordLike
	if err := json.Unmarshal(data, &rl); err != nil {
		return resultRecordShape{}, false
	}
	return resultRecordShape{status: rl.Status, stdout: rl.Stdout}, true
}

func sumStdout(t *testing.T, records []any) int {
	t.Helper()
	sum := 0
	for _, r := range records {
		rec, ok := asRecord(r)
		if !ok {
			t.Fatalf("record = %T, want ResultRecord-shaped value", r)
		}
		n, err := strconv.Atoi(strings.TrimSpace(rec.stdout))
		if err != nil {
			t.Fatalf("stdout %q not an integer: %v", rec.stdout, err)
		}
		sum += n
	}
	return sum
}

func contains(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}
