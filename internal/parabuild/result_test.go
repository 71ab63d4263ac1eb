package parabuild

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGatherDataNoRunIsNull(t *testing.T) {
	got := gatherData(RunMethodNo(), true, []any{[]any{1, 2}, []any{3}})
	if got != nil {
		t.Fatalf("gatherData(No, ...) = %v, want nil", got)
	}
}

func TestGatherDataDropsNilEntries(t *testing.T) {
	got := gatherData(RunMethodInPlace(), true, []any{nil, []any{1, 2}, nil, []any{3}})
	want := []any{1, 2, 3}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("gatherData() mismatch (-want +got):\n%s", diff)
	}
}

func TestGatherDataConcatenatesArrays(t *testing.T) {
	perWorker := []any{[]any{1, 2, 3}, []any{4, 5}, []any{6}}
	got := gatherData(RunMethodOutOfPlace(2), true, perWorker)
	want := []any{1, 2, 3, 4, 5, 6}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("gatherData() mismatch (-want +got):\n%s", diff)
	}
	gotSlice, ok := got.([]any)
	if !ok {
		t.Fatalf("gatherData() = %T, want []any", got)
	}
	if len(gotSlice) != 3+2+1 {
		t.Errorf("len(gatherData()) = %d, want sum of per-worker lengths", len(gotSlice))
	}
}

func TestGatherDataKeepsNonArrayValuesAsIs(t *testing.T) {
	perWorker := []any{"one worker's scalar result", []any{1, 2}}
	got := gatherData(RunMethodOutOfPlace(2), true, perWorker)
	want := perWorker
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("gatherData() mismatch (-want +got):\n%s", diff)
	}
}

func TestGatherDataWithoutAutoGatherPreservesPerWorkerArrays(t *testing.T) {
	perWorker := []any{[]any{1, 2}, []any{3, 4}}
	got := gatherData(RunMethodOutOfPlace(2), false, perWorker)
	want := perWorker
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("gatherData() mismatch (-want +got):\n%s", diff)
	}
}
