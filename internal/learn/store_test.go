// File: internal/learn/store_test.go
package learn

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/bridge-cli/internal/steps"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return NewStore(filepath.Join(dir, "global", "web_teaching_selectors.json"), filepath.Join(dir, "run", "learning"))
}

func TestRecordCaptureAndReuse(t *testing.T) {
	store := newTestStore(t)
	contextKey := ContextKey("localhost:5173", "h1:Catalog|nav:Main")

	artifact, err := store.RecordCapture(Capture{
		Target:     "Stop",
		Selector:   "#player-stop-btn",
		ContextKey: contextKey,
		Source:     "manual_teaching",
	})
	require.NoError(t, err)
	assert.FileExists(t, artifact)

	m := store.Load()
	selectors := store.SelectorsFor(m, contextKey, steps.Step{Kind: steps.KindClickText, Target: "Stop"})
	assert.Equal(t, []string{"#player-stop-btn"}, selectors)

	// A different context key sees nothing.
	other := ContextKey("localhost:5173", "h1:Player")
	assert.Empty(t, store.SelectorsFor(m, other, steps.Step{Kind: steps.KindClickText, Target: "Stop"}))
}

func TestSuccessCountMonotonic(t *testing.T) {
	store := newTestStore(t)
	contextKey := ContextKey("localhost:5173", "catalog")
	capture := Capture{Target: "Stop", Selector: "#stop", ContextKey: contextKey, Source: "test"}

	_, err := store.RecordCapture(capture)
	require.NoError(t, err)
	_, err = store.RecordCapture(capture)
	require.NoError(t, err)

	entries := store.Load()[contextKey]["stop"]
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].SuccessCount)

	// Misses never decrease success_count.
	require.NoError(t, store.MarkOutcome(contextKey, "Stop", "#stop", false))
	entries = store.Load()[contextKey]["stop"]
	assert.Equal(t, 2, entries[0].SuccessCount)
	assert.Equal(t, 1, entries[0].MissCount)
}

func TestDemotionAfterTwoMisses(t *testing.T) {
	store := newTestStore(t)
	contextKey := ContextKey("localhost:5173", "catalog")

	_, err := store.RecordCapture(Capture{Target: "Stop", Selector: "#old-stop", ContextKey: contextKey, Source: "test"})
	require.NoError(t, err)
	_, err = store.RecordCapture(Capture{Target: "Stop", Selector: "#new-stop", ContextKey: contextKey, Source: "test"})
	require.NoError(t, err)

	require.NoError(t, store.MarkOutcome(contextKey, "Stop", "#old-stop", false))
	require.NoError(t, store.MarkOutcome(contextKey, "Stop", "#old-stop", false))

	m := store.Load()
	selectors := store.SelectorsFor(m, contextKey, steps.Step{Kind: steps.KindClickText, Target: "Stop"})
	// Demoted, not erased: the failing selector sinks to the back.
	require.Equal(t, []string{"#new-stop", "#old-stop"}, selectors)
}

func TestInsertionOrderRankAtEqualSuccess(t *testing.T) {
	store := newTestStore(t)
	contextKey := ContextKey("localhost:5173", "catalog")

	_, err := store.RecordCapture(Capture{Target: "Stop", Selector: "#a", ContextKey: contextKey, Source: "test"})
	require.NoError(t, err)
	_, err = store.RecordCapture(Capture{Target: "Stop", Selector: "#b", ContextKey: contextKey, Source: "test"})
	require.NoError(t, err)

	selectors := store.SelectorsFor(store.Load(), contextKey, steps.Step{Kind: steps.KindClickText, Target: "Stop"})
	// Newest capture leads; ties at equal success keep insertion order.
	assert.Equal(t, []string{"#b", "#a"}, selectors)
}

func TestUnspecificSelectorsRejected(t *testing.T) {
	store := newTestStore(t)
	contextKey := ContextKey("localhost:5173", "catalog")

	_, err := store.RecordCapture(Capture{Target: "Stop", Selector: `button:has-text("Stop")`, ContextKey: contextKey, Source: "test"})
	assert.Error(t, err)
	_, err = store.RecordCapture(Capture{Target: "Stop", Selector: "#__bridge_top_bar", ContextKey: contextKey, Source: "test"})
	assert.Error(t, err)
}

func TestSelectorOnlyOverridesItselfForExplicitTargets(t *testing.T) {
	store := newTestStore(t)
	contextKey := ContextKey("localhost:5173", "catalog")
	_, err := store.RecordCapture(Capture{Target: "#explicit-btn", Selector: "#other-btn", ContextKey: contextKey, Source: "test"})
	require.NoError(t, err)

	// click_selector steps never get substituted by a different selector.
	selectors := store.SelectorsFor(store.Load(), contextKey, steps.Step{Kind: steps.KindClickSelector, Target: "#explicit-btn"})
	assert.Empty(t, selectors)
}

func TestNormalizeTargetKey(t *testing.T) {
	assert.Equal(t, "entrar demo", NormalizeTargetKey("Entrar demo"))
	assert.Equal(t, "entrar demo", NormalizeTargetKey(`click_text: "Entrar demo"`))
	assert.Equal(t, "", NormalizeTargetKey("step 3/5 click_text:Stop"))
	assert.Equal(t, "", NormalizeTargetKey("   "))
}

func TestContextKeyStable(t *testing.T) {
	a := ContextKey("Localhost:5173", "sig")
	b := ContextKey("localhost:5173", "sig")
	assert.Equal(t, a, b, "host casing must not change the key")
	assert.NotEqual(t, a, ContextKey("localhost:5173", "other"))
	assert.Len(t, a, 16)
}
