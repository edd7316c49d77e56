package filecore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/filecore/location"
)

func TestMergeUnionsLocations(t *testing.T) {
	env := newTestEnv(t)
	local, path := registerTestLocal(t, env, "both sides")
	remote, err := env.mgr.RegisterRemote(testRemote, 7, 0, 0, "named.bin")
	require.NoError(t, err)

	surviving, err := env.mgr.Merge(local, remote, false)
	require.NoError(t, err)

	view, err := env.mgr.GetFileView(surviving)
	require.NoError(t, err)
	assert.Equal(t, path, view.Path())
	assert.Equal(t, testRemote, view.RemoteLocation())
	assert.Equal(t, "named.bin", view.Name())
	assert.Equal(t, int64(7), view.OwnerDialogID())

	// Both original handles still resolve, to the same node.
	v1, err := env.mgr.GetFileView(local)
	require.NoError(t, err)
	v2, err := env.mgr.GetFileView(remote)
	require.NoError(t, err)
	assert.Equal(t, v1.FileID(), v2.FileID())
	checkInvariants(t, env.mgr)
}

func TestMergeIdempotent(t *testing.T) {
	env := newTestEnv(t)
	h1, _ := registerTestLocal(t, env, "merge twice")
	h2, err := env.mgr.RegisterRemote(testRemote, 1, 0, 0, "")
	require.NoError(t, err)

	first, err := env.mgr.Merge(h1, h2, false)
	require.NoError(t, err)
	second, err := env.mgr.Merge(h1, h2, false)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	checkInvariants(t, env.mgr)
}

// Merging is commutative in outcome: the surviving node carries the same
// state regardless of argument order.
func TestMergeCommutative(t *testing.T) {
	build := func(t *testing.T, env *testEnv, flip bool) FileView {
		h1, _ := registerTestLocal(t, env, "commutative")
		h2, err := env.mgr.RegisterRemote(testRemote, 3, 0, 0, "n.bin")
		require.NoError(t, err)
		var surviving FileID
		if flip {
			surviving, err = env.mgr.Merge(h2, h1, false)
		} else {
			surviving, err = env.mgr.Merge(h1, h2, false)
		}
		require.NoError(t, err)
		view, err := env.mgr.GetFileView(surviving)
		require.NoError(t, err)
		return view
	}

	a := build(t, newTestEnv(t), false)
	b := build(t, newTestEnv(t), true)
	assert.Equal(t, a.HasLocalLocation(), b.HasLocalLocation())
	assert.Equal(t, a.RemoteLocation(), b.RemoteLocation())
	assert.Equal(t, a.Name(), b.Name())
	assert.Equal(t, a.Size(), b.Size())
	assert.Equal(t, a.OwnerDialogID(), b.OwnerDialogID())
}

// Scenario: two nodes with different full remote locations cannot share
// ownership unless the caller forces it, in which case the survivor's
// remote wins.
func TestMergeConflictingRemotes(t *testing.T) {
	env := newTestEnv(t)
	h1, err := env.mgr.RegisterRemote(testRemote, 1, 0, 0, "")
	require.NoError(t, err)
	other := testRemote
	other.ID = testRemote.ID + 1
	h2, err := env.mgr.RegisterRemote(other, 1, 0, 0, "")
	require.NoError(t, err)

	_, err = env.mgr.Merge(h1, h2, false)
	assert.ErrorIs(t, err, ErrCantShareOwnership)

	// Both nodes must be intact after the failed merge.
	v1, err := env.mgr.GetFileView(h1)
	require.NoError(t, err)
	v2, err := env.mgr.GetFileView(h2)
	require.NoError(t, err)
	assert.NotEqual(t, v1.FileID(), v2.FileID())
	checkInvariants(t, env.mgr)

	surviving, err := env.mgr.Merge(h1, h2, true)
	require.NoError(t, err)
	view, err := env.mgr.GetFileView(surviving)
	require.NoError(t, err)
	assert.Equal(t, testRemote, view.RemoteLocation(), "survivor's remote wins under no_sync")
	checkInvariants(t, env.mgr)
}

func TestMergeAdoptsSizesMonotonically(t *testing.T) {
	env := newTestEnv(t)
	h1, err := env.mgr.RegisterRemote(testRemote, 1, 4096, 0, "")
	require.NoError(t, err)
	h2, err := env.mgr.RegisterEmpty(location.FileTypeDocument)
	require.NoError(t, err)

	surviving, err := env.mgr.Merge(h2, h1, false)
	require.NoError(t, err)
	view, err := env.mgr.GetFileView(surviving)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), view.Size(), "a known size never decreases across a merge")
}

func TestMergeCancelsSupersededDownload(t *testing.T) {
	env := newTestEnv(t)
	h1, err := env.mgr.RegisterRemote(testRemote, 1, 100, 0, "")
	require.NoError(t, err)
	require.NoError(t, env.mgr.Download(h1, &recordingDownloadCallback{}, 5))
	require.Len(t, env.load.callsOf("download"), 1)

	// A merged-in local completes the node; the download is superseded.
	h2, path := registerTestLocal(t, env, "local wins")
	_ = path
	_, err = env.mgr.Merge(h2, h1, false)
	require.NoError(t, err)

	assert.NotEmpty(t, env.load.callsOf("cancel"), "in-flight download must be cancelled by the merge")
	checkInvariants(t, env.mgr)
}

func TestMergeInvalidHandles(t *testing.T) {
	env := newTestEnv(t)
	h1, _ := registerTestLocal(t, env, "x")
	_, err := env.mgr.Merge(h1, 999, false)
	assert.ErrorIs(t, err, ErrInvalidFileID)
	_, err = env.mgr.Merge(999, h1, false)
	assert.ErrorIs(t, err, ErrInvalidFileID)
}
