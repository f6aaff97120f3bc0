// Package blockdev implements the block-device registry and the
// disk request queue that the buffer cache drives I/O through.
//
// The actual disk controller (IDE/PIO in the original kernel) is an
// external collaborator: this package treats it as an opaque device
// that services ReadBlock/WriteBlock requests, completing them on a
// single consumer goroutine that stands in for the interrupt handler.
package blockdev

import (
	"fmt"
	"sync"
)

// BlockSize is the fixed payload size of every block buffer.
const BlockSize = 512

// Device is the interface boundary for a block device: synchronous
// block-granularity read/write. Real drivers are expected to satisfy
// this without blocking other devices' queues.
type Device interface {
	Major() int
	Minor() int
	ReadBlock(blockno uint32, dst []byte) error
	WriteBlock(blockno uint32, src []byte) error
}

// Ops is the open/close half of the block-device switch table (the
// "bdev_ops" struct in the original kernel). It is keyed by major
// number in a Switch.
type Ops struct {
	Open  func(minor int) error
	Close func(minor int) error
}

// Switch is the major-indexed device table (bdevtable in the
// original). registerbdev/unregisterbdev become Register/Unregister.
type Switch struct {
	mu      sync.Mutex
	byMajor map[int]Ops
}

// NewSwitch returns an empty device switch.
func NewSwitch() *Switch {
	return &Switch{byMajor: make(map[int]Ops)}
}

// Register installs the open/close callbacks for major.
func (s *Switch) Register(major int, ops Ops) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byMajor[major] = ops
}

// Unregister removes major from the table.
func (s *Switch) Unregister(major int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byMajor, major)
}

// Open invokes the registered Open callback for (major, minor). It
// returns an error if no driver is registered for major.
func (s *Switch) Open(major, minor int) error {
	s.mu.Lock()
	ops, ok := s.byMajor[major]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("blockdev: no driver registered for major %d", major)
	}
	if ops.Open == nil {
		return nil
	}
	return ops.Open(minor)
}

// Close invokes the registered Close callback for (major, minor).
func (s *Switch) Close(major, minor int) error {
	s.mu.Lock()
	ops, ok := s.byMajor[major]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("blockdev: no driver registered for major %d", major)
	}
	if ops.Close == nil {
		return nil
	}
	return ops.Close(minor)
}
