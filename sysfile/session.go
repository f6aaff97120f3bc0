// Package sysfile is the syscall surface restated as ordinary Go
// functions: no trap-frame argument fetching, just explicit
// parameters, with the operations themselves (open/read/write/close/
// link/unlink/mkdir/mknod/chdir/mount) running against a *Session
// standing in for a process's cwd and open-file table.
package sysfile

import (
	"fmt"

	"github.com/gokernelfs/govfs/vfs"
)

// NOFILE bounds the number of files one Session may hold open, the
// same constant as the original kernel's proc->ofile array size.
const NOFILE = 16

// OpenFile is one entry in a Session's file table. There is no pipe
// variant: no IPC primitives exist in this kernel.
type OpenFile struct {
	Inode    *vfs.Inode
	Offset   int64
	Readable bool
	Writable bool

	ref int
}

// Session stands in for the owning process: its current working
// directory inode plus its open file table.
type Session struct {
	Root *vfs.Inode
	Cwd  *vfs.Inode
	Mtab *vfs.MountTable

	ofile [NOFILE]*OpenFile
}

// NewSession returns a session rooted and positioned at root (root is
// used for both the filesystem root and the initial cwd). Root keeps
// the caller's reference; Cwd takes one more via Dup.
func NewSession(root *vfs.Inode, mtab *vfs.MountTable) *Session {
	return &Session{Root: root, Cwd: root.Dup(), Mtab: mtab}
}

// fdAlloc installs f into the first free slot (fdalloc).
func (s *Session) fdAlloc(f *OpenFile) (int, error) {
	for fd := 0; fd < NOFILE; fd++ {
		if s.ofile[fd] == nil {
			s.ofile[fd] = f
			return fd, nil
		}
	}
	return -1, fmt.Errorf("sysfile: fdalloc: %w", vfs.ErrInvalidArgument)
}

// file resolves fd to its OpenFile (argfd), rejecting an out-of-range
// or unopened descriptor.
func (s *Session) file(fd int) (*OpenFile, error) {
	if fd < 0 || fd >= NOFILE || s.ofile[fd] == nil {
		return nil, fmt.Errorf("sysfile: bad file descriptor %d: %w", fd, vfs.ErrInvalidArgument)
	}
	return s.ofile[fd], nil
}
