package vfs

import (
	"fmt"
	"sync"
)

type iflag uint8

const (
	fBusy iflag = 1 << iota
	fValid
)

// Inode is the polymorphic in-memory handle over an on-disk
// file/dir/device. It is never constructed directly;
// Cache.Get (iget) returns the only valid instances.
type Inode struct {
	Dev, Inum    uint32
	Type         ShortType
	Major, Minor int
	Nlink        int16
	Size         uint64
	Private      any
	FSType       *FSType
	IOps         *InodeOperations

	cache *Cache
	ref   int
	flags iflag
}

// Cache is the inode cache (icache in the original kernel): a fixed
// pool of slots keyed by (dev, inum), one spinlock-equivalent mutex
// protecting ref/flags for every slot, and the lock/unlock state
// machine backends hang their fill and truncate hooks off.
type Cache struct {
	mu    sync.Mutex
	cond  *sync.Cond
	slots []*Inode
	size  int
	mtab  *MountTable
}

// NewCache returns an inode cache that holds up to size cached
// inodes, consulting mtab for the MOUNT-type substitution in Get.
func NewCache(size int, mtab *MountTable) *Cache {
	c := &Cache{size: size, mtab: mtab}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Get returns the in-memory inode for (dev, inum), looking it up or
// recycling an unused slot (iget). It does not read from disk; that
// happens lazily in Lock. If the matching cached entry's Type is
// Mount, Get transparently substitutes a reference to the mounted
// filesystem's root inode instead.
func (c *Cache) Get(dev, inum uint32, fs *FSType) (*Inode, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var empty *Inode
	for _, ip := range c.slots {
		if ip.ref > 0 && ip.Dev == dev && ip.Inum == inum {
			if ip.Type == Mount {
				root, ok := c.mtab.RootInodeFor(ip)
				if !ok {
					panic("vfs: invalid inode on mount table")
				}
				root.ref++
				return root, nil
			}
			ip.ref++
			return ip, nil
		}
		if empty == nil && ip.ref == 0 {
			empty = ip
		}
	}

	if empty == nil {
		if len(c.slots) < c.size {
			empty = &Inode{cache: c}
			c.slots = append(c.slots, empty)
		} else {
			panic("vfs: iget: no inodes")
		}
	}

	empty.Dev = dev
	empty.Inum = inum
	empty.ref = 1
	empty.flags = 0
	empty.FSType = fs
	empty.IOps = fs.IOps
	return empty, nil
}

// Dup increments ip's reference count (idup), returning ip so callers
// can write `ip = cache.Dup(ip)`.
func (c *Cache) Dup(ip *Inode) *Inode {
	c.mu.Lock()
	ip.ref++
	c.mu.Unlock()
	return ip
}

// Dup increments ip's own reference count, returning ip (idup).
func (ip *Inode) Dup() *Inode {
	return ip.cache.Dup(ip)
}

// Lock blocks until ip is not BUSY, then marks it BUSY (ilock). If ip
// is not yet VALID, it calls the backend's Fill hook to populate
// metadata from disk before marking it VALID. A zero on-disk type
// after Fill means corrupt storage and panics.
func (ip *Inode) Lock() error {
	if ip.ref < 1 {
		panic("vfs: ilock: ref < 1")
	}
	c := ip.cache
	c.mu.Lock()
	for ip.flags&fBusy != 0 {
		c.cond.Wait()
	}
	ip.flags |= fBusy
	c.mu.Unlock()

	if ip.flags&fValid == 0 {
		if ip.IOps.Fill != nil {
			if err := ip.IOps.Fill(ip); err != nil {
				ip.Unlock()
				return fmt.Errorf("vfs: ilock: fill: %w", err)
			}
		}
		c.mu.Lock()
		ip.flags |= fValid
		c.mu.Unlock()
		if ip.Type == Unused {
			panic("vfs: ilock: no type")
		}
	}
	return nil
}

// Unlock clears BUSY and wakes any waiter (iunlock). ip must be
// locked and referenced.
func (ip *Inode) Unlock() {
	c := ip.cache
	c.mu.Lock()
	if ip.flags&fBusy == 0 || ip.ref < 1 {
		c.mu.Unlock()
		panic("vfs: iunlock: not busy or unreferenced")
	}
	ip.flags &^= fBusy
	c.mu.Unlock()
	c.cond.Broadcast()
}

// GenericIunlock is a function-valued alias for Unlock. InodeOperations
// has no unlock slot, so neither s5fs nor ext2fs references it; both
// unlock through Unlock directly.
func GenericIunlock(ip *Inode) { ip.Unlock() }

// Put decrements ip's reference count (iput). If the reference count
// would drop to zero with VALID set and Nlink==0, the inode is first
// truncated and its on-disk type cleared via the backend's ITrunc/
// IUpdate hooks; callers must already be inside a transaction bracket
// for the on-disk writes this performs.
func (ip *Inode) Put() error {
	c := ip.cache
	c.mu.Lock()
	if ip.ref == 1 && ip.flags&fValid != 0 && ip.Nlink == 0 {
		if ip.flags&fBusy != 0 {
			c.mu.Unlock()
			panic("vfs: iput: busy")
		}
		ip.flags |= fBusy
		c.mu.Unlock()

		if err := ip.IOps.ITrunc(ip); err != nil {
			return fmt.Errorf("vfs: iput: itrunc: %w", err)
		}
		ip.Type = Unused
		if err := ip.IOps.IUpdate(ip); err != nil {
			return fmt.Errorf("vfs: iput: iupdate: %w", err)
		}
		if ip.IOps.Cleanup != nil {
			ip.IOps.Cleanup(ip)
		}

		c.mu.Lock()
		ip.flags = 0
		c.cond.Broadcast()
	}
	ip.ref--
	c.mu.Unlock()
	return nil
}

// UnlockPut is the common idiom: unlock, then put.
func (ip *Inode) UnlockPut() error {
	ip.Unlock()
	return ip.Put()
}

// Ref reports the current reference count, for tests and diagnostics.
func (ip *Inode) Ref() int {
	c := ip.cache
	c.mu.Lock()
	defer c.mu.Unlock()
	return ip.ref
}
