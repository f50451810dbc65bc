package logcask

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompactionWithUpdates(t *testing.T) {
	cask := openTestCask(t)

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key%02d", i))
		require.NoError(t, cask.Set(key, []byte(fmt.Sprintf("value%d", i))))
	}
	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key%02d", i))
		require.NoError(t, cask.Set(key, []byte(fmt.Sprintf("updated%d", i))))
	}

	before, err := cask.Status()
	require.NoError(t, err)
	require.Positive(t, before.GarbageDiskSize)

	require.NoError(t, cask.Compact())

	after, err := cask.Status()
	require.NoError(t, err)
	assert.Equal(t, before.Keys, after.Keys)
	assert.Equal(t, before.Size, after.Size)
	assert.Equal(t, before.LiveDiskSize, after.LiveDiskSize)
	assert.Equal(t, after.LiveDiskSize, after.TotalDiskSize)
	assert.Zero(t, after.GarbageDiskSize)

	for i := 0; i < 50; i++ {
		value, ok, err := cask.Get([]byte(fmt.Sprintf("key%02d", i)))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte(fmt.Sprintf("updated%d", i)), value)
	}
}

func TestCompactionWithDeletions(t *testing.T) {
	cask := openTestCask(t)

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("key%02d", i))
		require.NoError(t, cask.Set(key, []byte(fmt.Sprintf("value%d", i))))
	}
	for i := 0; i < 25; i++ {
		mustDelete(t, cask, []byte(fmt.Sprintf("key%02d", i)))
	}

	require.NoError(t, cask.Compact())

	status, err := cask.Status()
	require.NoError(t, err)
	assert.Equal(t, uint64(25), status.Keys)
	assert.Zero(t, status.GarbageDiskSize)

	// Deleted keys are physically gone, not just masked by tombstones.
	data, err := os.ReadFile(cask.Path())
	require.NoError(t, err)
	for i := 0; i < 25; i++ {
		assert.NotContains(t, string(data), fmt.Sprintf("key%02d", i))
	}
	for i := 25; i < 50; i++ {
		assert.Contains(t, string(data), fmt.Sprintf("key%02d", i))
	}
}

// Compaction preserves the scan output exactly and keeps serving afterwards.
func TestCompactionPreservesScan(t *testing.T) {
	cask := openTestCask(t)
	setupLog(t, cask)

	before := collect(t, cask.Scan(RangeAll()))
	require.NoError(t, cask.Compact())
	after := collect(t, cask.Scan(RangeAll()))
	assert.Empty(t, cmp.Diff(before, after, cmpopts.EquateEmpty()))

	// The engine keeps accepting writes against the swapped-in log.
	require.NoError(t, cask.Set([]byte("z"), []byte{0x07}))
	value, ok, err := cask.Get([]byte("z"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{0x07}, value)
}

// The temporary file does not survive a successful compaction.
func TestCompactionRemovesTemporaryFile(t *testing.T) {
	cask := openTestCask(t)
	setupLog(t, cask)

	require.NoError(t, cask.Compact())

	_, err := os.Stat(compactionPath(cask.Path()))
	assert.True(t, os.IsNotExist(err))
}

// A leaked temporary from an interrupted compaction is truncated and reused.
func TestCompactionReusesLeakedTemporary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "testdb")
	require.NoError(t, os.WriteFile(compactionPath(path), []byte("stale garbage"), 0o644))

	cask, err := Open(path)
	require.NoError(t, err)
	defer cask.Close()
	setupLog(t, cask)

	require.NoError(t, cask.Compact())

	got := collect(t, cask.Scan(RangeAll()))
	assert.Empty(t, cmp.Diff(setupLogResult, got, cmpopts.EquateEmpty()))
}

// After compaction the lock still rides the live file: a second open fails.
func TestCompactionKeepsLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "testdb")
	cask, err := Open(path)
	require.NoError(t, err)
	defer cask.Close()
	setupLog(t, cask)

	require.NoError(t, cask.Compact())

	_, err = Open(path)
	require.ErrorIs(t, err, ErrLockHeld)
}

// OpenWithCompaction compacts only when the garbage ratio meets the
// threshold.
func TestOpenWithCompactionThresholds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orig")

	cask, err := Open(path)
	require.NoError(t, err)
	setupLog(t, cask)
	status, err := cask.Status()
	require.NoError(t, err)
	require.NoError(t, cask.Close())

	garbageRatio := float64(status.GarbageDiskSize) / float64(status.TotalDiskSize)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	cases := []struct {
		threshold     float64
		expectCompact bool
	}{
		{-1.0, true},
		{0.0, true},
		{garbageRatio - 0.001, true},
		{garbageRatio, true},
		{garbageRatio + 0.001, false},
		{1.0, false},
		{2.0, false},
	}
	for i, tc := range cases {
		copyPath := filepath.Join(dir, fmt.Sprintf("copy%d", i))
		require.NoError(t, os.WriteFile(copyPath, data, 0o644))

		compacted, err := OpenWithCompaction(copyPath, tc.threshold)
		require.NoError(t, err)

		newStatus, err := compacted.Status()
		require.NoError(t, err)
		assert.Equal(t, status.LiveDiskSize, newStatus.LiveDiskSize, "threshold %v", tc.threshold)
		if tc.expectCompact {
			assert.Equal(t, status.LiveDiskSize, newStatus.TotalDiskSize, "threshold %v", tc.threshold)
			assert.Zero(t, newStatus.GarbageDiskSize, "threshold %v", tc.threshold)
		} else {
			assert.Equal(t, status, newStatus, "threshold %v", tc.threshold)
		}
		require.NoError(t, compacted.Close())
	}
}

// An empty store compacts to an empty file without error.
func TestCompactionOnEmptyStore(t *testing.T) {
	cask := openTestCask(t)

	require.NoError(t, cask.Compact())

	status, err := cask.Status()
	require.NoError(t, err)
	assert.Equal(t, Status{Name: "logcask"}, status)
}
