package s5fs

import (
	"fmt"

	"github.com/gokernelfs/govfs/vfs"
)

// dirlookup scans dp's directory entries via readi and matches with
// Namecmp, returning a fresh reference to the matching inode
// (s5_dirlookup). dp must be locked and a directory; looking up in a
// non-directory is a CorruptState violation and panics, matching the
// original's own panic("dirlookup not DIR").
func (fs *FS) dirlookup(dp *vfs.Inode, name string) (*vfs.Inode, uint64, error) {
	if dp.Type == vfs.File || dp.Type == vfs.Dev {
		panic("s5fs: dirlookup: not a directory")
	}

	buf := make([]byte, vfs.DirentSize)
	for off := uint64(0); off < dp.Size; off += vfs.DirentSize {
		n, err := fs.readi(dp, buf, off)
		if err != nil {
			return nil, 0, fmt.Errorf("s5fs: dirlookup: %w", err)
		}
		if n != vfs.DirentSize {
			panic("s5fs: dirlookup: short directory read")
		}
		de := vfs.DecodeDirent(buf)
		if de.Inum == 0 {
			continue
		}
		if Namecmp(name, de.NameString()) == 0 {
			ip, err := fs.Icache.Get(dp.Dev, uint32(de.Inum), fs.fsType)
			if err != nil {
				return nil, 0, err
			}
			return ip, off, nil
		}
	}
	return nil, 0, vfs.ErrNotFound
}

// unlink clears the directory entry at offset, writing a zeroed
// dirent record in its place.
func (fs *FS) unlink(dp *vfs.Inode, offset uint64) error {
	var de vfs.Dirent
	n, err := fs.writei(dp, de.Encode(), offset)
	if err != nil {
		return fmt.Errorf("s5fs: unlink: %w", err)
	}
	if n != vfs.DirentSize {
		return fmt.Errorf("s5fs: unlink: short write")
	}
	return nil
}

// isDirEmpty reports whether dp has any entries beyond "." and ".."
// (s5_isdirempty), used by sysfile.Unlink to refuse removing a
// non-empty directory.
func (fs *FS) isDirEmpty(dp *vfs.Inode) bool {
	buf := make([]byte, vfs.DirentSize)
	for off := uint64(2 * vfs.DirentSize); off < dp.Size; off += vfs.DirentSize {
		n, err := fs.readi(dp, buf, off)
		if err != nil {
			panic(fmt.Sprintf("s5fs: isdirempty: %v", err))
		}
		if n != vfs.DirentSize {
			panic("s5fs: isdirempty: short directory read")
		}
		if vfs.DecodeDirent(buf).Inum != 0 {
			return false
		}
	}
	return true
}
