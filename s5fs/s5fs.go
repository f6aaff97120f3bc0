// Package s5fs implements the native, read-write s5 filesystem
// backend behind the vfs.FSType vtable: superblock, bitmap allocator,
// packed inode table, direct+single-indirect block mapping, and
// fixed-size directory entries, backed by the shared buffer cache and
// write-ahead log.
package s5fs

import (
	"bytes"
	"sync"

	"github.com/gokernelfs/govfs/bcache"
	"github.com/gokernelfs/govfs/blockdev"
	"github.com/gokernelfs/govfs/txlog"
	"github.com/gokernelfs/govfs/vfs"
)

// FS binds the s5 backend to its shared infrastructure (buffer cache,
// inode cache, mount table, character-device switch) and tracks one
// superblock and one log per mounted minor, mirroring the original
// kernel's global sb[]/log[] arrays indexed by device.
type FS struct {
	Cache  *bcache.Cache
	Icache *vfs.Cache
	Mtab   *vfs.MountTable
	Chars  *vfs.CharSwitch

	fsType *vfs.FSType

	mu          sync.RWMutex
	devices     map[uint32]blockdev.Device
	superblocks map[uint32]Superblock
	logs        map[uint32]*txlog.Log
}

// New returns an s5 backend wired to the given shared infrastructure,
// with its vfs.FSType vtable fully populated.
func New(cache *bcache.Cache, icache *vfs.Cache, mtab *vfs.MountTable, chars *vfs.CharSwitch) *FS {
	fs := &FS{
		Cache:       cache,
		Icache:      icache,
		Mtab:        mtab,
		Chars:       chars,
		devices:     make(map[uint32]blockdev.Device),
		superblocks: make(map[uint32]Superblock),
		logs:        make(map[uint32]*txlog.Log),
	}

	fs.fsType = &vfs.FSType{
		Name: "s5",
		Ops: &vfs.VFSOperations{
			Init:    fs.init,
			Mount:   fs.mount,
			Unmount: fs.unmount,
			GetRoot: fs.getRoot,
			IAlloc:  fs.ialloc,
			Balloc:  fs.balloc,
			Bzero:   fs.bzero,
			Bfree:   fs.bfree,
			Namecmp: Namecmp,
		},
		IOps: &vfs.InodeOperations{
			Dirlookup:  fs.dirlookup,
			IUpdate:    fs.iupdate,
			ITrunc:     fs.itrunc,
			Bmap:       fs.bmap,
			Fill:       fs.fill,
			Stati:      vfs.GenericStati,
			Readi:      fs.readi,
			Writei:     fs.writei,
			Dirlink:    vfs.GenericDirlink,
			Unlink:     fs.unlink,
			IsDirEmpty: fs.isDirEmpty,
		},
	}
	return fs
}

// Type returns the vfs.FSType to register with a vfs.Registry.
func (fs *FS) Type() *vfs.FSType { return fs.fsType }

func (fs *FS) init() error { return nil }

// RegisterDevice binds minor to the raw block device cmd/mount opened,
// so Mount/the allocator paths can resolve it without threading a
// *blockdev.Device through every call.
func (fs *FS) RegisterDevice(minor uint32, dev blockdev.Device) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.devices[minor] = dev
}

func (fs *FS) deviceFor(dev uint32) blockdev.Device {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.devices[dev]
}

func (fs *FS) sbFor(dev uint32) Superblock {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.superblocks[dev]
}

func (fs *FS) logFor(dev uint32) *txlog.Log {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.logs[dev]
}

// LogFor exports logFor for sysfile, which needs to bracket its own
// mutating calls in BeginOp/EndOp for the device the mutation actually
// lands on; that bracket belongs to sysfile, never to s5fs's own
// operations.
func (fs *FS) LogFor(dev uint32) *txlog.Log { return fs.logFor(dev) }

// Namecmp compares two path-component names up to DIRSIZ bytes
// (s5_namecmp: strncmp(s, t, DIRSIZ)).
func Namecmp(a, b string) int {
	trunc := func(s string) string {
		if len(s) > vfs.DIRSIZ {
			return s[:vfs.DIRSIZ]
		}
		return s
	}
	return bytes.Compare([]byte(trunc(a)), []byte(trunc(b)))
}
