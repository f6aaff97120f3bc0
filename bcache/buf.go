// Package bcache implements the buffer cache: a fixed pool of
// fixed-size block buffers shared by every mounted filesystem, with
// at most one cached buffer per (device, block number), strict LRU
// recycling, and a busy/valid/dirty flag set.
package bcache

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/gokernelfs/govfs/blockdev"
)

// Flag bits on a Buf, named after the original kernel's B_BUSY/
// B_VALID/B_DIRTY.
type Flag uint8

const (
	Busy Flag = 1 << iota
	Valid
	Dirty
)

// Buf is one cached block buffer. At most one Buf exists per
// (Dev, BlockNo) at any moment; BUSY means exactly one holder is
// using it; DIRTY means it must be written back before reuse.
type Buf struct {
	Dev     blockdev.Device
	BlockNo uint32
	Data    []byte

	flags   Flag
	elem    *list.Element // position in the cache's LRU list
	waiters int           // count of goroutines parked in cond.Wait on this buf
}

// Flags returns the current BUSY/VALID/DIRTY bits, for tests and
// invariant checks.
func (b *Buf) Flags() Flag { return b.flags }

func (f Flag) String() string {
	s := ""
	if f&Busy != 0 {
		s += "B"
	}
	if f&Valid != 0 {
		s += "V"
	}
	if f&Dirty != 0 {
		s += "D"
	}
	if s == "" {
		s = "-"
	}
	return s
}

type key struct {
	dev     blockdev.Device
	blockno uint32
}

// Cache is the fixed-size buffer pool (bcache in the original kernel).
// mu/cond model the kernel's spinlock + sleep/wakeup pair:
// no lock is held across disk I/O, and waiters block on
// cond until the buffer they want becomes free.
type Cache struct {
	mu    sync.Mutex
	cond  *sync.Cond
	queue *blockdev.Queue

	size  int
	lru   *list.List // front = most-recently-used, back = least
	index map[key]*list.Element
}

// New returns a buffer cache of size buffers, driving I/O through
// queue.
func New(size int, queue *blockdev.Queue) *Cache {
	c := &Cache{
		size:  size,
		lru:   list.New(),
		index: make(map[key]*list.Element),
		queue: queue,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Bread returns a BUSY buffer reflecting the contents of (dev,
// blockno), blocking on disk I/O if it was not already VALID, and
// blocking on another holder if it is currently BUSY. Panics if no
// buffer can be recycled for a miss; the pool is sized so normal
// workloads never hit that.
func (c *Cache) Bread(dev blockdev.Device, blockno uint32) (*Buf, error) {
	c.mu.Lock()
	k := key{dev, blockno}
	for {
		if elem, ok := c.index[k]; ok {
			b := elem.Value.(*Buf)
			if b.flags&Busy != 0 {
				b.waiters++
				c.cond.Wait()
				b.waiters--
				continue
			}
			b.flags |= Busy
			c.lru.MoveToFront(elem)
			c.mu.Unlock()
			if b.flags&Valid == 0 {
				if err := c.queue.Submit(dev, false, blockno, b.Data); err != nil {
					return nil, err
				}
				c.mu.Lock()
				b.flags |= Valid
				c.mu.Unlock()
			}
			return b, nil
		}

		b, ok := c.recycleLocked(k)
		if !ok {
			c.mu.Unlock()
			panic("bcache: no buffers to recycle")
		}
		c.mu.Unlock()

		if err := c.queue.Submit(dev, false, blockno, b.Data); err != nil {
			c.mu.Lock()
			b.flags &^= Busy
			c.cond.Broadcast()
			c.mu.Unlock()
			return nil, err
		}
		c.mu.Lock()
		b.flags |= Valid
		c.mu.Unlock()
		return b, nil
	}
}

// recycleLocked finds the least-recently-used buffer that is neither
// BUSY nor DIRTY, rebinds it to k, clears VALID, sets BUSY, and
// indexes it. While the pool is below size it grows by one new buffer
// instead. Must be called with mu held; returns ok=false only when the
// pool is at size and every slot is either BUSY or DIRTY.
func (c *Cache) recycleLocked(k key) (*Buf, bool) {
	if c.lru.Len() < c.size {
		b := &Buf{Data: make([]byte, blockdev.BlockSize)}
		b.Dev, b.BlockNo = k.dev, k.blockno
		b.flags = Busy
		elem := c.lru.PushFront(b)
		b.elem = elem
		c.index[k] = elem
		return b, true
	}
	for elem := c.lru.Back(); elem != nil; elem = elem.Prev() {
		b := elem.Value.(*Buf)
		if b.flags&(Busy|Dirty) != 0 {
			continue
		}
		delete(c.index, key{b.Dev, b.BlockNo})
		b.Dev, b.BlockNo = k.dev, k.blockno
		b.flags = Busy
		c.lru.MoveToFront(elem)
		c.index[k] = elem
		return b, true
	}
	return nil, false
}

// Bwrite synchronously drives a write of buf's contents, marking it
// DIRTY then clean once the write completes. Caller must hold BUSY
// (i.e. buf came from Bread and has not been released).
func (c *Cache) Bwrite(buf *Buf) error {
	if buf.flags&Busy == 0 {
		panic("bcache: bwrite on non-busy buffer")
	}
	c.mu.Lock()
	buf.flags |= Dirty
	c.mu.Unlock()

	if err := c.queue.Submit(buf.Dev, true, buf.BlockNo, buf.Data); err != nil {
		return fmt.Errorf("bcache: bwrite: %w", err)
	}

	c.mu.Lock()
	buf.flags |= Valid
	buf.flags &^= Dirty
	c.mu.Unlock()
	return nil
}

// Brelse clears BUSY on buf, moves it to the MRU end of the LRU list
// and wakes any waiter parked on it. Caller must hold BUSY.
func (c *Cache) Brelse(buf *Buf) {
	c.mu.Lock()
	if buf.flags&Busy == 0 {
		c.mu.Unlock()
		panic("bcache: brelse on non-busy buffer")
	}
	buf.flags &^= Busy
	if buf.elem != nil {
		c.lru.MoveToFront(buf.elem)
	}
	c.mu.Unlock()
	c.cond.Broadcast()
}

// Pin keeps buf out of LRU recycling by forcing DIRTY, used by txlog
// to hold logged buffers resident until they are copied home. The
// caller need not (and typically does not) continue holding BUSY;
// Pin/Unpin are independent of the BUSY handshake.
func (c *Cache) Pin(buf *Buf) {
	c.mu.Lock()
	buf.flags |= Dirty
	c.mu.Unlock()
}

// Unpin clears the DIRTY bit set by Pin once the pinned contents have
// been durably copied to their home location, making buf recyclable
// again. It does not touch BUSY and wakes any waiter blocked on
// recycling.
func (c *Cache) Unpin(buf *Buf) {
	c.mu.Lock()
	buf.flags &^= Dirty
	c.mu.Unlock()
	c.cond.Broadcast()
}
