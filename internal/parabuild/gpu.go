package parabuild

import (
	"context"
	"os/exec"
	"regexp"
	"sync"
)

var migUUIDRe = regexp.MustCompile(`\(UUID: (MIG-[a-f0-9-]+)\)`)

var (
	isolationOnce sync.Once
	isolationIDs  []string
)

// gpuIsolationIDs returns the list of MIG device UUIDs visible on this host,
// reversed to match the original crate's ordering, or nil if nvidia-smi
// isn't present or reports none. Initialized once per process (§9 "Global
// state": process-wide, lazy, immutable thereafter), mirroring
// cuda_utils.rs's get_cuda_mig_device_uuids.
func gpuIsolationIDs(ctx context.Context) []string {
	isolationOnce.Do(func() {
		out, err := exec.CommandContext(ctx, "nvidia-smi", "-L").Output()
		if err != nil {
			return
		}
		matches := migUUIDRe.FindAllStringSubmatch(string(out), -1)
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m[1])
		}
		for i, j := 0, len(ids)-1; i < j; i, j = i+1, j-1 {
			ids[i], ids[j] = ids[j], ids[i]
		}
		isolationIDs = ids
	})
	return isolationIDs
}

// isolationIDFor returns the isolation id for the given workspace index, or
// "" if none is available for that index (fewer devices than workers, or no
// GPU at all).
func isolationIDFor(ctx context.Context, idx int) string {
	ids := gpuIsolationIDs(ctx)
	if idx < 0 || idx >= len(ids) {
		return ""
	}
	return ids[idx]
}
