// File: internal/runstore/runstore_test.go
package runstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateRunAllocatesCollisionSafeDirs(t *testing.T) {
	store := NewStore(t.TempDir())
	now := time.Date(2026, 8, 6, 12, 0, 0, 0, time.UTC)

	first, err := store.CreateRun(now)
	require.NoError(t, err)
	second, err := store.CreateRun(now)
	require.NoError(t, err)

	assert.Equal(t, "20260806-120000", first.RunID)
	assert.Equal(t, "20260806-120000-01", second.RunID)
	assert.DirExists(t, first.EvidenceDir)
	assert.DirExists(t, first.LearningDir)
	assert.DirExists(t, filepath.Join(first.HomeDir, ".cache"))
	assert.DirExists(t, filepath.Join(first.HomeDir, ".config"))
}

func TestWriteFileAtomicReplacesContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "data.json")

	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0o644))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	// No temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStatusLifecycle(t *testing.T) {
	store := NewStore(t.TempDir())

	_, ok, err := store.ReadStatus()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.WriteStatus(Status{
		RunID: "r1", RunDir: "/tmp/r1", Task: "t", State: StateRunning,
	}))
	status, ok, err := store.ReadStatus()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateRunning, status.State)
	assert.NotEmpty(t, status.UpdatedAt)

	require.NoError(t, store.WriteStatus(Status{
		RunID: "r1", RunDir: "/tmp/r1", Task: "t", State: StateCompleted, Result: "success",
	}))
	status, _, err = store.ReadStatus()
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, "success", status.Result)
}

func TestTailLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\nd\ne\n"), 0o644))

	lines, err := TailLines(path, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d", "e"}, lines)

	lines, err = TailLines(filepath.Join(dir, "missing.txt"), 3)
	require.NoError(t, err)
	assert.Nil(t, lines)
}

func TestFileLockExcludesWriters(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "store.json")

	lock, err := AcquireLock(target)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		inner, innerErr := AcquireLock(target)
		assert.NoError(t, innerErr)
		inner.Release()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second writer acquired the lock while held")
	case <-time.After(150 * time.Millisecond):
	}

	lock.Release()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("second writer never acquired the lock")
	}
}
