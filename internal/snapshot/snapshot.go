// Package snapshot persists completed measurement runs as JSON documents.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fleek-network/latency-measure/internal/collect"
	"github.com/fleek-network/latency-measure/internal/measure"
)

// Snapshot is the persisted form of a run: per-worker sample series for
// the target, plus the parallel comparison series when one was measured.
type Snapshot struct {
	TargetResults     map[string][]measure.Response `json:"targetResults"`
	ComparisonResults map[string][]measure.Response `json:"comparisonResults,omitempty"`
}

// Build assembles the snapshot for a finished run. Workers that failed
// part way contribute the samples they gathered before the failure.
func Build(run *collect.Run) Snapshot {
	snap := Snapshot{
		TargetResults: make(map[string][]measure.Response, len(run.Results)),
	}
	if run.Comparison != nil {
		snap.ComparisonResults = make(map[string][]measure.Response, len(run.Results))
	}

	for _, res := range run.Results {
		snap.TargetResults[res.Worker] = res.Target
		if snap.ComparisonResults != nil {
			snap.ComparisonResults[res.Worker] = res.Comparison
		}
	}
	return snap
}

// Writer persists snapshots under a single output directory.
type Writer struct {
	Dir string
}

// Write stores the snapshot atomically under a timestamp-derived name
// and returns the final path. The directory is created when missing.
// Names carry nanosecond precision so runs finishing within the same
// second get their own files; an existing snapshot is never replaced.
func (w Writer) Write(snap Snapshot, at time.Time) (string, error) {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", err
	}

	finalPath := w.pickPath(at)

	tmp, err := os.CreateTemp(w.Dir, filepath.Base(finalPath)+".tmp.*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()

	ok := false
	defer func() {
		_ = tmp.Close()
		if !ok {
			_ = os.Remove(tmpPath)
		}
	}()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", err
	}
	ok = true
	return finalPath, nil
}

// pickPath returns the first unused snapshot path for the timestamp,
// falling back to a counter suffix when the name is already taken.
func (w Writer) pickPath(at time.Time) string {
	base := at.UTC().Format(time.RFC3339Nano)
	path := filepath.Join(w.Dir, base+".json")
	for n := 1; ; n++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(w.Dir, fmt.Sprintf("%s-%d.json", base, n))
	}
}
