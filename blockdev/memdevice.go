package blockdev

import (
	"fmt"
	"sync"
)

// MemDevice is an in-memory block device with no file backing; the
// cmd/ tools use FileDevice instead.
type MemDevice struct {
	major, minor int
	mu           sync.Mutex
	blocks       [][]byte
}

// NewMemDevice allocates an in-memory device of nblocks blocks.
func NewMemDevice(major, minor int, nblocks int) *MemDevice {
	d := &MemDevice{major: major, minor: minor, blocks: make([][]byte, nblocks)}
	for i := range d.blocks {
		d.blocks[i] = make([]byte, BlockSize)
	}
	return d
}

func (d *MemDevice) Major() int { return d.major }
func (d *MemDevice) Minor() int { return d.minor }

func (d *MemDevice) ReadBlock(blockno uint32, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(blockno) >= len(d.blocks) {
		return fmt.Errorf("blockdev: block %d out of range (%d blocks)", blockno, len(d.blocks))
	}
	copy(dst, d.blocks[blockno])
	return nil
}

func (d *MemDevice) WriteBlock(blockno uint32, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if int(blockno) >= len(d.blocks) {
		return fmt.Errorf("blockdev: block %d out of range (%d blocks)", blockno, len(d.blocks))
	}
	copy(d.blocks[blockno], src)
	return nil
}
