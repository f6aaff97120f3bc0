package ext2fs

import (
	"sync"

	"github.com/gokernelfs/govfs/bcache"
	"github.com/gokernelfs/govfs/blockdev"
	"github.com/gokernelfs/govfs/vfs"
)

// FS binds the ext2 backend to its shared infrastructure, tracking one
// decoded Superblock per mounted minor. There is no log map (unlike
// s5fs): this backend never writes, so it has nothing to journal.
type FS struct {
	Cache  *bcache.Cache
	Icache *vfs.Cache
	Mtab   *vfs.MountTable
	Chars  *vfs.CharSwitch

	fsType *vfs.FSType

	mu          sync.RWMutex
	devices     map[uint32]blockdev.Device
	superblocks map[uint32]*Superblock
}

// New returns an ext2 backend wired to the given shared infrastructure,
// with its vfs.FSType vtable fully populated. Every mutating entry
// point panics; this filesystem type exists to browse volumes in
// place, not to author them.
func New(cache *bcache.Cache, icache *vfs.Cache, mtab *vfs.MountTable, chars *vfs.CharSwitch) *FS {
	fs := &FS{
		Cache:       cache,
		Icache:      icache,
		Mtab:        mtab,
		Chars:       chars,
		devices:     make(map[uint32]blockdev.Device),
		superblocks: make(map[uint32]*Superblock),
	}

	fs.fsType = &vfs.FSType{
		Name: "ext2",
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
			Cleanup:    fs.cleanup,
			Bmap:       fs.bmap,
			Fill:       fs.fill,
			Stati:      vfs.GenericStati,
			Readi:      fs.readi,
			Writei:     fs.writei,
			Dirlink:    fs.dirlink,
			Unlink:     fs.unlink,
			IsDirEmpty: fs.isDirEmpty,
		},
	}
	return fs
}

// Type returns the vfs.FSType to register with a vfs.Registry.
func (fs *FS) Type() *vfs.FSType { return fs.fsType }

func (fs *FS) init() error { return nil }

// RegisterDevice binds minor to the raw block device cmd/mount opened.
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

func (fs *FS) sbFor(dev uint32) *Superblock {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.superblocks[dev]
}
