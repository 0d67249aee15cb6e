// File: internal/web/watchdog_test.go
package web

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWatchdogNoSignatureNeverStuck(t *testing.T) {
	w := &WatchdogState{}
	cfg := WatchdogConfig{StuckIframe: 8 * time.Second, StuckStep: 20 * time.Second, StuckInteractive: 8 * time.Second}
	assert.Equal(t, StuckNone, w.Evaluate(cfg, time.Now(), false))
}

func TestWatchdogIframeLockOutranksStep(t *testing.T) {
	base := time.Now()
	w := &WatchdogState{}
	cfg := WatchdogConfig{StuckIframe: 8 * time.Second, StuckStep: 20 * time.Second, StuckInteractive: 10 * time.Second}
	w.UpdateStepSignature("step 1/3 click_text:Stop", "Stop", base)

	// Inside every threshold: fine.
	assert.Equal(t, StuckNone, w.Evaluate(cfg, base.Add(5*time.Second), true))
	// Past the iframe threshold with a locked iframe: iframe verdict.
	assert.Equal(t, StuckIframeFocus, w.Evaluate(cfg, base.Add(9*time.Second), true))
	// Same instant without the lock: not stuck yet.
	assert.Equal(t, StuckNone, w.Evaluate(cfg, base.Add(9*time.Second), false))
}

func TestWatchdogInteractiveWindow(t *testing.T) {
	base := time.Now()
	w := &WatchdogState{}
	cfg := WatchdogConfig{StuckIframe: 8 * time.Second, StuckStep: 20 * time.Second, StuckInteractive: 8 * time.Second}
	w.UpdateStepSignature("step 1/1 wait_text:Hola", "", base)

	assert.Equal(t, StuckStep, w.Evaluate(cfg, base.Add(9*time.Second), false))

	// Useful progress resets the interactive window.
	w.PollProgress(1, base.Add(8*time.Second))
	assert.Equal(t, StuckNone, w.Evaluate(cfg, base.Add(12*time.Second), false))
}

func TestWatchdogSignatureChangeIsProgress(t *testing.T) {
	base := time.Now()
	w := &WatchdogState{}
	cfg := WatchdogConfig{StuckIframe: 8 * time.Second, StuckStep: 10 * time.Second, StuckInteractive: 8 * time.Second}

	w.UpdateStepSignature("step 1/2 click_text:A", "A", base)
	w.UpdateStepSignature("step 2/2 click_text:B", "B", base.Add(9*time.Second))
	assert.Equal(t, StuckNone, w.Evaluate(cfg, base.Add(12*time.Second), false))
}

func TestWatchdogProgressCounterMonotonic(t *testing.T) {
	base := time.Now()
	w := &WatchdogState{}
	w.UpdateStepSignature("step 1/1 click_text:A", "A", base)

	w.PollProgress(3, base.Add(time.Second))
	first := w.LastProgressEventAt
	// A stale (lower) counter must not tick progress.
	w.PollProgress(2, base.Add(5*time.Second))
	assert.Equal(t, first, w.LastProgressEventAt)
}
