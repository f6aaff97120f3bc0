package s5fs

import (
	"fmt"

	"github.com/gokernelfs/govfs/blockdev"
	"github.com/gokernelfs/govfs/txlog"
	"github.com/gokernelfs/govfs/vfs"
)

// getRoot returns the root inode of the filesystem mounted on minor
// (s5_getroot: iget(minor, ROOTINO)).
func (fs *FS) getRoot(major, minor int) (*vfs.Inode, error) {
	return fs.Icache.Get(uint32(minor), ROOTINO, fs.fsType)
}

// BootRoot registers dev as minor, reads its superblock and opens its
// log directly, then returns its root inode: the boot-time path
// (iinit: readsb into sb[dev], no sys_mount bracket) that cmd/mount
// uses to bring the very first filesystem up, since sys_mount itself
// needs a pre-existing root to resolve devPath/mountPath against.
func (fs *FS) BootRoot(dev blockdev.Device, minor uint32) (*vfs.Inode, error) {
	fs.RegisterDevice(minor, dev)

	sb, err := ReadSB(fs.Cache, dev)
	if err != nil {
		return nil, fmt.Errorf("s5fs: bootroot: %w", err)
	}
	log, err := txlog.Open(dev, fs.Cache, sb.LogStart, int(sb.NLog)-1)
	if err != nil {
		return nil, fmt.Errorf("s5fs: bootroot: open log: %w", err)
	}

	fs.mu.Lock()
	fs.superblocks[minor] = sb
	fs.logs[minor] = log
	fs.mu.Unlock()

	root, err := fs.getRoot(0, int(minor))
	if err != nil {
		return nil, fmt.Errorf("s5fs: bootroot: getroot: %w", err)
	}
	return root, nil
}

// mount reads devInode's superblock, opens its log, fetches its root
// inode and records the mount in the shared mount table, exactly per
// s5_mount (minus the original's "goto found_slot" re-mount branch,
// which vfs.MountTable.Insert already absorbs as an idempotent no-op).
func (fs *FS) mount(devInode, mountPointInode *vfs.Inode) error {
	minor := uint32(devInode.Minor)

	device := fs.deviceFor(minor)
	if device == nil {
		return fmt.Errorf("s5fs: mount: no device registered for minor %d", minor)
	}

	sb, err := ReadSB(fs.Cache, device)
	if err != nil {
		return fmt.Errorf("s5fs: mount: %w", err)
	}

	log, err := txlog.Open(device, fs.Cache, sb.LogStart, int(sb.NLog)-1)
	if err != nil {
		return fmt.Errorf("s5fs: mount: open log: %w", err)
	}

	root, err := fs.getRoot(devInode.Major, int(minor))
	if err != nil {
		return fmt.Errorf("s5fs: mount: getroot: %w", err)
	}

	fs.mu.Lock()
	fs.superblocks[minor] = sb
	fs.logs[minor] = log
	fs.mu.Unlock()

	if err := fs.Mtab.Insert(int(minor), mountPointInode, root, sb); err != nil {
		fs.mu.Lock()
		delete(fs.superblocks, minor)
		delete(fs.logs, minor)
		fs.mu.Unlock()
		root.Put()
		return fmt.Errorf("s5fs: mount: %w", err)
	}
	return nil
}

// unmount drops minor's mount-table entry and releases its superblock
// and log state. The original kernel's s5_unmount was an unconditional
// no-op stub; this backend actually tears down what mount set up.
func (fs *FS) unmount(devInode *vfs.Inode) error {
	minor := uint32(devInode.Minor)
	fs.Mtab.Remove(int(minor))

	fs.mu.Lock()
	delete(fs.superblocks, minor)
	delete(fs.logs, minor)
	fs.mu.Unlock()
	return nil
}
