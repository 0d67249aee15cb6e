// File: internal/bridge/finalize.go
package bridge

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"go.uber.org/zap"

	"github.com/xkilldash9x/bridge-cli/internal/report"
	"github.com/xkilldash9x/bridge-cli/internal/runstore"
)

var actionShapeRE = regexp.MustCompile(`^cmd: .+`)

// finalize is the one exit path for every run. It normalizes the report,
// enforces the persisted invariants, writes report.json atomically and
// updates status.json last. No failure escapes it: a late error degrades to
// a fatal finding inside a failed-but-well-formed report.
func (b *Bridge) finalize(rc *runstore.RunContext, task string, r *report.Report, flags Flags, logger *zap.Logger) *report.Report {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Error("Finalizer panic contained.", zap.Any("panic", recovered))
			fallback := report.New(rc.RunID, task)
			fallback.Result = report.ResultFailed
			fallback.UIFindings = append(fallback.UIFindings,
				fmt.Sprintf("fatal: finalizer panic: %v", recovered))
			_ = writeReport(rc, fallback)
			_ = b.Store.WriteStatus(runstore.Status{
				RunID: rc.RunID, RunDir: rc.RunDir, Task: task,
				Result: string(fallback.Result), State: runstore.StateFailed,
				ReportPath: rc.ReportPath,
			})
		}
	}()

	if r == nil {
		r = report.New(rc.RunID, task)
		r.Result = report.ResultFailed
		r.UIFindings = append(r.UIFindings, "fatal: backend produced no report")
	}

	normalizer := &report.Normalizer{RunDir: rc.RunDir}
	normalizer.Normalize(r)

	// Action shape is an invariant of the persisted artifact, not advice.
	for _, action := range r.Actions {
		if !actionShapeRE.MatchString(action) {
			r.UIFindings = append(r.UIFindings,
				fmt.Sprintf("fatal: malformed action survived normalization: %s", action))
			r.Result = report.ResultFailed
		}
	}

	if flags.Verified {
		b.assertVerified(rc, r)
	}

	if err := writeReport(rc, r); err != nil {
		logger.Error("Failed to persist report.", zap.Error(err))
	}

	state := runstore.StateCompleted
	if r.Result == report.ResultFailed {
		state = runstore.StateFailed
	}
	if err := b.Store.WriteStatus(runstore.Status{
		RunID: rc.RunID, RunDir: rc.RunDir, Task: task,
		Result: string(r.Result), State: state,
		ReportPath: rc.ReportPath, Progress: "run finalized",
	}); err != nil {
		logger.Error("Failed to persist status.", zap.Error(err))
	}

	_ = runstore.AppendLog(rc.BridgeLog,
		fmt.Sprintf("run %s finalized result=%s evidence=%d actions=%d",
			rc.RunID, r.Result, len(r.EvidencePaths), len(r.Actions)))
	return r
}

// assertVerified enforces the strict evidence contract: every step_N_before
// must have a non-empty step_N_after sibling.
func (b *Bridge) assertVerified(rc *runstore.RunContext, r *report.Report) {
	befores := map[string]string{}
	afters := map[string]string{}
	stepRE := regexp.MustCompile(`step_(\d+)_(before|after)\.png$`)
	for _, path := range r.EvidencePaths {
		m := stepRE.FindStringSubmatch(path)
		if m == nil {
			continue
		}
		if m[2] == "before" {
			befores[m[1]] = path
		} else {
			afters[m[1]] = path
		}
	}
	for step, beforePath := range befores {
		afterPath, ok := afters[step]
		if !ok || !nonEmptyFile(afterPath) || !nonEmptyFile(beforePath) {
			r.UIFindings = append(r.UIFindings,
				fmt.Sprintf("verified mode: step %s lacks complete before/after evidence", step))
			if r.Result == report.ResultSuccess {
				r.Result = report.ResultPartial
			}
		}
	}
}

func nonEmptyFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

func writeReport(rc *runstore.RunContext, r *report.Report) error {
	data, err := r.Marshal()
	if err != nil {
		return err
	}
	return runstore.WriteFileAtomic(filepath.Clean(rc.ReportPath), data, 0o644)
}
