package vfs

import "sync"

// fakeNode is one in-memory inode for the fake filesystem package-
// internal tests drive vfs.Cache/Namei/generic helpers against,
// without pulling in a real block device or on-disk layout. A
// directory's data is just a run of encoded Dirent records, the same
// fixed-record shape s5fs stores on disk (and GenericReaddir/
// GenericDirlink expect).
type fakeNode struct {
	typ   ShortType
	nlink int16
	data  []byte
}

// fakeBackend is a minimal InodeOperations implementation: enough of
// a toy filesystem to exercise the vfs core's lock/unlock state
// machine, path resolution, and generic directory helpers in
// isolation from any real backend.
type fakeBackend struct {
	mu    sync.Mutex
	nodes map[uint32]*fakeNode
	next  uint32
	fs    *FSType
}

const fakeRootInum = 1

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{nodes: make(map[uint32]*fakeNode), next: fakeRootInum}
	root := b.alloc(Dir)
	b.dirlinkRaw(root, root, ".")
	b.dirlinkRaw(root, root, "..")
	b.fs = &FSType{Name: "fake", IOps: &InodeOperations{
		Fill:       b.fill,
		IUpdate:    b.iupdate,
		ITrunc:     b.itrunc,
		Dirlookup:  b.dirlookup,
		Readi:      b.readi,
		Writei:     b.writei,
		Stati:      GenericStati,
		IsDirEmpty: b.isDirEmpty,
	}}
	return b
}

func (b *fakeBackend) alloc(typ ShortType) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	inum := b.next
	b.next++
	nlink := int16(0)
	if typ == Dir {
		nlink = 1 // counts the new directory's own "."
	}
	b.nodes[inum] = &fakeNode{typ: typ, nlink: nlink}
	return inum
}

// dirlinkRaw appends a {name, inum} record directly to dp's data,
// bypassing GenericDirlink; used only to seed "."/".." at alloc time
// before any Cache exists to Get an Inode through.
func (b *fakeBackend) dirlinkRaw(dp, inum uint32, name string) {
	var de Dirent
	de.Inum = uint16(inum)
	de.SetName(name)
	b.nodes[dp].data = append(b.nodes[dp].data, de.Encode()...)
}

func (b *fakeBackend) mkdir(parent uint32, name string) uint32 {
	child := b.alloc(Dir)
	b.dirlinkRaw(child, child, ".")
	b.dirlinkRaw(child, parent, "..")
	b.dirlinkRaw(parent, child, name)
	b.mu.Lock()
	b.nodes[parent].nlink++ // the child's ".." now points back up
	b.mu.Unlock()
	return child
}

func (b *fakeBackend) mkfile(parent uint32, name string, content []byte) uint32 {
	child := b.alloc(File)
	b.mu.Lock()
	b.nodes[child].nlink = 1
	b.nodes[child].data = append([]byte(nil), content...)
	b.mu.Unlock()
	b.dirlinkRaw(parent, child, name)
	return child
}

func (b *fakeBackend) fill(ip *Inode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.nodes[ip.Inum]
	ip.Type = n.typ
	ip.Nlink = n.nlink
	ip.Size = uint64(len(n.data))
	return nil
}

func (b *fakeBackend) iupdate(ip *Inode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.nodes[ip.Inum]
	n.typ = ip.Type
	n.nlink = ip.Nlink
	return nil
}

func (b *fakeBackend) itrunc(ip *Inode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nodes[ip.Inum].data = nil
	ip.Size = 0
	return nil
}

func (b *fakeBackend) dirlookup(dp *Inode, name string) (*Inode, uint64, error) {
	b.mu.Lock()
	data := append([]byte(nil), b.nodes[dp.Inum].data...)
	b.mu.Unlock()

	for off := 0; off+DirentSize <= len(data); off += DirentSize {
		de := DecodeDirent(data[off : off+DirentSize])
		if de.Inum != 0 && de.NameString() == name {
			ip, err := dp.cache.Get(dp.Dev, uint32(de.Inum), dp.FSType)
			if err != nil {
				return nil, 0, err
			}
			return ip, uint64(off), nil
		}
	}
	return nil, 0, ErrNotFound
}

func (b *fakeBackend) readi(ip *Inode, dst []byte, off uint64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.nodes[ip.Inum]
	if off >= uint64(len(n.data)) {
		return 0, nil
	}
	return copy(dst, n.data[off:]), nil
}

func (b *fakeBackend) writei(ip *Inode, src []byte, off uint64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.nodes[ip.Inum]
	end := off + uint64(len(src))
	if end > uint64(len(n.data)) {
		grown := make([]byte, end)
		copy(grown, n.data)
		n.data = grown
	}
	copied := copy(n.data[off:end], src)
	ip.Size = uint64(len(n.data))
	return copied, nil
}

func (b *fakeBackend) isDirEmpty(dp *Inode) bool {
	b.mu.Lock()
	data := append([]byte(nil), b.nodes[dp.Inum].data...)
	b.mu.Unlock()
	for off := 0; off+DirentSize <= len(data); off += DirentSize {
		de := DecodeDirent(data[off : off+DirentSize])
		if de.Inum == 0 {
			continue
		}
		if de.NameString() != "." && de.NameString() != ".." {
			return false
		}
	}
	return true
}

// rootInode returns a referenced, unlocked handle on the fake
// filesystem's root, analogous to a backend's GetRoot.
func (b *fakeBackend) rootInode(cache *Cache, dev uint32) (*Inode, error) {
	return cache.Get(dev, fakeRootInum, b.fs)
}
