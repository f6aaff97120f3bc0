package ext2fs

import (
	"fmt"

	"github.com/gokernelfs/govfs/blockdev"
	"github.com/gokernelfs/govfs/vfs"
)

// getRoot returns the root inode of the filesystem mounted on minor
// (ext2_getroot: iget(minor, ROOTINO)).
func (fs *FS) getRoot(major, minor int) (*vfs.Inode, error) {
	return fs.Icache.Get(uint32(minor), rootIno, fs.fsType)
}

// BootRoot registers dev as minor, parses its superblock and group
// descriptor table directly, then returns its root inode: the
// boot-time path (iinit's readsb, no sys_mount bracket) cmd/ls uses to
// open a standalone ext2 image without first needing an s5 root to
// mount it onto.
func (fs *FS) BootRoot(dev blockdev.Device, minor uint32) (*vfs.Inode, error) {
	fs.RegisterDevice(minor, dev)

	sb, err := ReadSB(fs.Cache, dev)
	if err != nil {
		return nil, fmt.Errorf("ext2fs: bootroot: %w", err)
	}

	fs.mu.Lock()
	fs.superblocks[minor] = sb
	fs.mu.Unlock()

	root, err := fs.getRoot(0, int(minor))
	if err != nil {
		return nil, fmt.Errorf("ext2fs: bootroot: getroot: %w", err)
	}
	return root, nil
}

// mount parses devInode's ext2 superblock and group descriptor table
// and records the mount in the shared mount table (ext2_mount).
func (fs *FS) mount(devInode, mountPointInode *vfs.Inode) error {
	minor := uint32(devInode.Minor)

	device := fs.deviceFor(minor)
	if device == nil {
		return fmt.Errorf("ext2fs: mount: no device registered for minor %d", minor)
	}

	sb, err := ReadSB(fs.Cache, device)
	if err != nil {
		return fmt.Errorf("ext2fs: mount: %w", err)
	}

	root, err := fs.getRoot(devInode.Major, int(minor))
	if err != nil {
		return fmt.Errorf("ext2fs: mount: getroot: %w", err)
	}

	fs.mu.Lock()
	fs.superblocks[minor] = sb
	fs.mu.Unlock()

	if err := fs.Mtab.Insert(int(minor), mountPointInode, root, sb); err != nil {
		fs.mu.Lock()
		delete(fs.superblocks, minor)
		fs.mu.Unlock()
		root.Put()
		return fmt.Errorf("ext2fs: mount: %w", err)
	}
	return nil
}

// unmount drops minor's mount-table entry and releases its decoded
// group-descriptor table. The original kernel's ext2_unmount was an
// unconditional no-op stub; this backend actually tears down what
// mount set up.
func (fs *FS) unmount(devInode *vfs.Inode) error {
	minor := uint32(devInode.Minor)
	fs.Mtab.Remove(int(minor))

	fs.mu.Lock()
	if sb, ok := fs.superblocks[minor]; ok {
		sb.Release()
	}
	delete(fs.superblocks, minor)
	fs.mu.Unlock()
	return nil
}
