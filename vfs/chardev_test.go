package vfs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCharSwitchRegisterAndGet(t *testing.T) {
	sw := NewCharSwitch()
	ops := CharOps{
		Read:  func(ip *Inode, dst []byte) (int, error) { return 0, nil },
		Write: func(ip *Inode, src []byte) (int, error) { return len(src), nil },
	}
	sw.Register(1, ops)

	got, ok := sw.Get(1)
	require.True(t, ok)
	require.NotNil(t, got.Read)
	require.NotNil(t, got.Write)

	_, ok = sw.Get(2)
	require.False(t, ok)
}
