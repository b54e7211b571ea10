package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/audit-cli/internal/model"
)

// DebugRecorder persists every model exchange of a run as numbered files
// under {artifacts}/{run-id}/debug. The sequence number orders files the
// way the calls happened, across goroutines. Write failures are logged
// and dropped; debug output never fails a run.
type DebugRecorder struct {
	dir string
	log *zap.Logger

	mu  sync.Mutex
	seq int
}

// NewDebugRecorder returns a recorder writing under the run's artifact
// directory. The directory is created on first write.
func NewDebugRecorder(artifactDir, runID string) *DebugRecorder {
	return &DebugRecorder{
		dir: filepath.Join(artifactDir, runID, "debug"),
		log: zap.L().With(zap.String("component", "audit.debug")),
	}
}

// Record writes one artifact. Kind "parsed" lands as .json, raw prompt
// and response text as .txt.
func (r *DebugRecorder) Record(stage, kind string, data []byte) {
	r.mu.Lock()
	r.seq++
	n := r.seq
	r.mu.Unlock()

	ext := "txt"
	if kind == "parsed" {
		ext = "json"
	}
	name := fmt.Sprintf("%02d-%s-%s.%s", n, stage, kind, ext)

	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		r.log.Warn("debug dir create failed", zap.String("dir", r.dir), zap.Error(err))
		return
	}
	if err := os.WriteFile(filepath.Join(r.dir, name), data, 0o644); err != nil {
		r.log.Warn("debug write failed", zap.String("file", name), zap.Error(err))
	}
}

// RecordResult mirrors the final run envelope next to the exchange dumps
// so a debug directory is self-contained.
func (r *DebugRecorder) RecordResult(res *model.AnalysisResult) {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		r.log.Warn("debug result marshal failed", zap.Error(err))
		return
	}
	r.Record("result", "parsed", data)
}
