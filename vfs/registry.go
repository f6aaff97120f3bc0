package vfs

import (
	"fmt"
	"sync"
)

// Registry is the global filesystem-type switch (vfssw in the
// original kernel): register_fs/getfs become Register/Lookup. Names
// are unique.
type Registry struct {
	mu     sync.Mutex
	byName map[string]*FSType
}

// NewRegistry returns an empty filesystem-type registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*FSType)}
}

// Register installs fs under fs.Name. It returns an error if the name
// is already registered.
func (r *Registry) Register(fs *FSType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[fs.Name]; exists {
		return fmt.Errorf("vfs: filesystem type %q already registered", fs.Name)
	}
	r.byName[fs.Name] = fs
	return nil
}

// Lookup returns the registered FSType named name, if any.
func (r *Registry) Lookup(name string) (*FSType, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fs, ok := r.byName[name]
	return fs, ok
}

// VFSEntry binds a (major, minor) device to the filesystem type
// mounted on it (vfsmlist in the original kernel).
type VFSEntry struct {
	Major, Minor int
	Type         *FSType
}

// VFSList is the device→filesystem-type binding list (putvfsonlist/
// getvfsentry in the original).
type VFSList struct {
	mu      sync.Mutex
	entries []*VFSEntry
}

// NewVFSList returns an empty binding list.
func NewVFSList() *VFSList {
	return &VFSList{}
}

// Put records that (major, minor) is served by fs. Returns an error
// if a binding for that device already exists.
func (l *VFSList) Put(major, minor int, fs *FSType) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Major == major && e.Minor == minor {
			return fmt.Errorf("vfs: device %d,%d already bound to filesystem %q", major, minor, e.Type.Name)
		}
	}
	l.entries = append(l.entries, &VFSEntry{Major: major, Minor: minor, Type: fs})
	return nil
}

// Get returns the filesystem-type binding for (major, minor), if any.
func (l *VFSList) Get(major, minor int) (*VFSEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.Major == major && e.Minor == minor {
			return e, true
		}
	}
	return nil, false
}

// Remove drops the binding for (major, minor), used by Unmount.
func (l *VFSList) Remove(major, minor int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, e := range l.entries {
		if e.Major == major && e.Minor == minor {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}
