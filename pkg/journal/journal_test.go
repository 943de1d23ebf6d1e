package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCommitAndRevert is spec §8's literal sidecar round-trip scenario.
func TestCommitAndRevert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.WriteFile(path, []byte{0xAA, 0xBB, 0xCC, 0xDD}, 0o644))

	q := NewQueue()
	q.QueueWrite(path, 1, []byte{0x90, 0x91})
	require.NoError(t, q.Commit())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0x90, 0x91, 0xDD}, got)

	sidecar, err := os.ReadFile(path + origByteFileExt)
	require.NoError(t, err, "reading sidecar")
	assert.Equal(t, "1: bb cc \n", string(sidecar))

	require.NoError(t, Revert(path))

	got, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, got, "after revert")

	_, err = os.Stat(path + origByteFileExt)
	assert.True(t, os.IsNotExist(err), "sidecar should be removed after revert")
}

func TestRevertWithoutSidecarIsNoop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))
	assert.NoError(t, Revert(path))
}

func TestQueueWriteOrdersByOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache")
	require.NoError(t, os.WriteFile(path, make([]byte, 8), 0o644))

	q := NewQueue()
	q.QueueWrite(path, 4, []byte{0xFF})
	q.QueueWrite(path, 0, []byte{0xEE})

	ws := q.sortedWrites(path)
	require.Len(t, ws, 2)
	assert.Equal(t, int64(0), ws[0].offset)
	assert.Equal(t, int64(4), ws[1].offset)
}
