package vfs

import "sync"

// CharOps is one character device's read/write callbacks, consumed by
// GenericReadi and the backends' own readi/writei for DEV-typed inodes.
type CharOps struct {
	Read  func(ip *Inode, dst []byte) (int, error)
	Write func(ip *Inode, src []byte) (int, error)
}

// CharSwitch is the major-indexed character-device table (devsw in
// the original kernel).
type CharSwitch struct {
	mu      sync.Mutex
	byMajor map[int]CharOps
}

// NewCharSwitch returns an empty character-device switch.
func NewCharSwitch() *CharSwitch {
	return &CharSwitch{byMajor: make(map[int]CharOps)}
}

// Register installs ops for major.
func (s *CharSwitch) Register(major int, ops CharOps) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byMajor[major] = ops
}

// Get returns the registered ops for major, if any.
func (s *CharSwitch) Get(major int) (CharOps, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ops, ok := s.byMajor[major]
	return ops, ok
}
