package vfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMountTableInsertEntryRemove(t *testing.T) {
	mtab := NewMountTable()
	mountPoint := &Inode{}
	root := &Inode{}

	require.NoError(t, mtab.Insert(1, mountPoint, root, "super"))

	e, ok := mtab.Entry(1)
	require.True(t, ok)
	require.Same(t, mountPoint, e.MountPoint)
	require.Same(t, root, e.Root)
	require.Equal(t, "super", e.Super)

	mtab.Remove(1)
	_, ok = mtab.Entry(1)
	require.False(t, ok)
}

func TestMountTableInsertSameMinorDifferentMountPointRejected(t *testing.T) {
	mtab := NewMountTable()
	require.NoError(t, mtab.Insert(1, &Inode{}, &Inode{}, nil))
	err := mtab.Insert(1, &Inode{}, &Inode{}, nil)
	require.Error(t, err)
}

func TestMountTableInsertSameMountPointIsNoOp(t *testing.T) {
	mtab := NewMountTable()
	mountPoint := &Inode{}
	root := &Inode{}
	require.NoError(t, mtab.Insert(1, mountPoint, root, nil))
	require.NoError(t, mtab.Insert(1, mountPoint, root, nil))
}

func TestMountTableRootInodeForAndMountPointFor(t *testing.T) {
	mtab := NewMountTable()
	mountPoint := &Inode{}
	root := &Inode{}
	require.NoError(t, mtab.Insert(1, mountPoint, root, nil))

	got, ok := mtab.RootInodeFor(mountPoint)
	require.True(t, ok)
	require.Same(t, root, got)

	mp, ok := mtab.MountPointFor(root)
	require.True(t, ok)
	require.Same(t, mountPoint, mp)

	_, ok = mtab.RootInodeFor(&Inode{})
	require.False(t, ok)
}
