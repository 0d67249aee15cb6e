// File: internal/web/evidence.go
// Description: Evidence capture around interactions. Screenshots are written
// synchronously so the report can never reference a file that is still in
// flight; write failures degrade to findings, never crash the loop.
package web

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/bridge-cli/internal/report"
	"github.com/xkilldash9x/bridge-cli/internal/runstore"
)

// EvidencePhase tags when a capture happened relative to its step.
type EvidencePhase string

const (
	PhaseBefore  EvidencePhase = "before"
	PhaseAfter   EvidencePhase = "after"
	PhaseRetry   EvidencePhase = "retry"
	PhaseTimeout EvidencePhase = "timeout"
	PhaseContext EvidencePhase = "context"
)

// evidenceName builds the canonical evidence filename for a step/phase.
func evidenceName(stepNum int, phase EvidencePhase, retry int) string {
	switch phase {
	case PhaseRetry:
		return fmt.Sprintf("step_%d_retry_%d.png", stepNum, retry)
	case PhaseContext:
		return fmt.Sprintf("step_%d_context.png", stepNum)
	default:
		return fmt.Sprintf("step_%d_%s.png", stepNum, phase)
	}
}

// captureEvidence screenshots the page into the run's evidence directory and
// appends the path to the report. Containment is checked before recording.
func (e *Engine) captureEvidence(ctx context.Context, name string) (string, bool) {
	path := filepath.Join(e.run.EvidenceDir, name)

	contained, err := report.PathInside(e.run.RunDir, path)
	if err != nil || !contained {
		e.report.UIFindings = append(e.report.UIFindings,
			fmt.Sprintf("guardrail: refused evidence path outside run directory: %s", name))
		return "", false
	}

	shotCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(shotCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		e.logger.Warn("Evidence capture failed.", zap.String("name", name), zap.Error(err))
		e.report.UIFindings = append(e.report.UIFindings,
			fmt.Sprintf("evidence capture failed for %s: %v", name, err))
		return "", false
	}
	if err := runstore.WriteFileAtomic(path, buf, 0o644); err != nil {
		e.logger.Warn("Evidence write failed.", zap.String("path", path), zap.Error(err))
		e.report.UIFindings = append(e.report.UIFindings,
			fmt.Sprintf("evidence write failed for %s: %v", name, err))
		return "", false
	}
	e.report.EvidencePaths = append(e.report.EvidencePaths, path)
	return path, true
}
