package vfs

import (
	"fmt"
	"sync"
)

// MountEntry binds a mount-point inode (on the parent filesystem) to
// the (dev, inum) root of the mounted filesystem, plus that
// filesystem's parsed superblock. Super is an opaque backend-specific
// value; vfs core never looks inside it.
type MountEntry struct {
	Minor      int
	MountPoint *Inode
	Root       *Inode
	Super      any
}

// MountTable is the global mount table (mtable in the original
// kernel). One entry exists per mounted minor; a mount on an already-
// mounted mount-point inode reuses its slot rather than erroring.
type MountTable struct {
	mu      sync.Mutex
	byMinor map[int]*MountEntry
}

// NewMountTable returns an empty mount table.
func NewMountTable() *MountTable {
	return &MountTable{byMinor: make(map[int]*MountEntry)}
}

// Insert records that minor is now mounted at mountPoint with root
// root and superblock super. If minor is already mounted, it is
// rejected unless the existing entry's mount point is the very same
// inode, in which case the call is a no-op reusing that slot.
func (t *MountTable) Insert(minor int, mountPoint, root *Inode, super any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byMinor[minor]; ok {
		if existing.MountPoint == mountPoint {
			return nil
		}
		return fmt.Errorf("vfs: device minor %d is already mounted", minor)
	}

	t.byMinor[minor] = &MountEntry{Minor: minor, MountPoint: mountPoint, Root: root, Super: super}
	return nil
}

// Remove drops the mount-table entry for minor, used by Unmount.
func (t *MountTable) Remove(minor int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byMinor, minor)
}

// Entry returns the mount entry for minor, if mounted.
func (t *MountTable) Entry(minor int) (*MountEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byMinor[minor]
	return e, ok
}

// RootInodeFor returns the root inode of the filesystem mounted at
// mountPoint. Cache.Get calls this to transparently substitute a
// MOUNT-typed inode with the mounted filesystem's root.
func (t *MountTable) RootInodeFor(mountPoint *Inode) (*Inode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.byMinor {
		if e.MountPoint == mountPoint {
			return e.Root, true
		}
	}
	return nil, false
}

// MountPointFor returns the mount-point inode that anchors the
// filesystem whose root is root. namex's cross-mount ".." ascent
// calls this.
func (t *MountTable) MountPointFor(root *Inode) (*Inode, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.byMinor {
		if e.Root == root {
			return e.MountPoint, true
		}
	}
	return nil, false
}
