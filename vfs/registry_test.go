package vfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	fs := &FSType{Name: "s5"}
	require.NoError(t, r.Register(fs))

	got, ok := r.Lookup("s5")
	require.True(t, ok)
	require.Same(t, fs, got)

	_, ok = r.Lookup("ext2")
	require.False(t, ok)
}

func TestRegistryDuplicateNameRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(&FSType{Name: "s5"}))
	err := r.Register(&FSType{Name: "s5"})
	require.Error(t, err)
}

func TestVFSListPutGetRemove(t *testing.T) {
	l := NewVFSList()
	fs := &FSType{Name: "s5"}
	require.NoError(t, l.Put(1, 0, fs))

	got, ok := l.Get(1, 0)
	require.True(t, ok)
	require.Same(t, fs, got.Type)

	_, ok = l.Get(1, 1)
	require.False(t, ok)

	l.Remove(1, 0)
	_, ok = l.Get(1, 0)
	require.False(t, ok)
}

func TestVFSListPutDuplicateDeviceRejected(t *testing.T) {
	l := NewVFSList()
	require.NoError(t, l.Put(1, 0, &FSType{Name: "s5"}))
	err := l.Put(1, 0, &FSType{Name: "ext2"})
	require.Error(t, err)
}
