package vfs

// VFSOperations is the per-filesystem-type vtable: every operation
// that depends on on-disk layout dispatches through it.
// bread/bwrite/brelse are not part of this
// vtable: every backend holds its own *bcache.Cache and calls it
// directly, since the buffer cache itself is shared infrastructure,
// not a per-backend concern.
type VFSOperations struct {
	Init    func() error
	Mount   func(devInode, mountPointInode *Inode) error
	Unmount func(devInode *Inode) error
	GetRoot func(major, minor int) (*Inode, error)
	IAlloc  func(dev uint32, typ ShortType) (*Inode, error)
	Balloc  func(dev uint32) (uint32, error)
	Bzero   func(dev uint32, blockno uint32) error
	Bfree   func(dev uint32, blockno uint32) error
	Namecmp func(a, b string) int
}

// InodeOperations is the per-filesystem-type inode vtable. Fill is
// the backend hook Inode.Lock calls when it finds !VALID; unlock
// itself is always the core's GenericIunlock and so is not part of
// this table.
type InodeOperations struct {
	Dirlookup  func(dp *Inode, name string) (ip *Inode, offset uint64, err error)
	IUpdate    func(ip *Inode) error
	ITrunc     func(ip *Inode) error
	Cleanup    func(ip *Inode)
	Bmap       func(ip *Inode, logicalBn uint32) (uint32, error)
	Fill       func(ip *Inode) error
	Stati      func(ip *Inode) Stat
	Readi      func(ip *Inode, dst []byte, off uint64) (int, error)
	Writei     func(ip *Inode, src []byte, off uint64) (int, error)
	Dirlink    func(dp *Inode, name string, inum uint32) error
	Unlink     func(dp *Inode, offset uint64) error
	IsDirEmpty func(dp *Inode) bool
}

// FSType is one entry in the filesystem-type registry: a (name,
// vfs-ops, inode-ops) triple. Names are unique within a Registry.
type FSType struct {
	Name string
	Ops  *VFSOperations
	IOps *InodeOperations
}
