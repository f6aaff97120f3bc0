package ext2fs

import (
	"encoding/binary"
	"fmt"

	"github.com/gokernelfs/govfs/vfs"
)

// nameLen is EXT2_NAME_LEN, the maximum on-disk directory entry name
// length.
const nameLen = 255

// rawDirEntry mirrors struct ext2_dir_entry_2: a variable-length
// directory record of (inode, rec_len, name_len, file_type, name).
type rawDirEntry struct {
	Inode   uint32
	RecLen  uint16
	NameLen uint8
	Name    string
}

func decodeDirEntry(buf []byte) rawDirEntry {
	nameLen := buf[6]
	return rawDirEntry{
		Inode:   binary.LittleEndian.Uint32(buf[0:4]),
		RecLen:  binary.LittleEndian.Uint16(buf[4:6]),
		NameLen: nameLen,
		Name:    string(buf[8 : 8+uint16(nameLen)]),
	}
}

// dirlookup scans dp's directory entries block by block through Bmap,
// matching names up to EXT2_NAME_LEN bytes (ext2_dirlookup).
func (fs *FS) dirlookup(dp *vfs.Inode, name string) (*vfs.Inode, uint64, error) {
	sb := fs.sbFor(dp.Dev)
	device := fs.deviceFor(dp.Dev)
	namelen := len(name)

	for off := uint64(0); off < dp.Size; {
		currBlk := uint32(off / uint64(sb.BlockSize))

		blockAddr, err := fs.bmap(dp, currBlk)
		if err != nil {
			return nil, 0, fmt.Errorf("ext2fs: dirlookup: %w", err)
		}
		data, err := readLogicalBlock(fs.Cache, device, sb.BlockSize, blockAddr)
		if err != nil {
			return nil, 0, fmt.Errorf("ext2fs: dirlookup: %w", err)
		}

		inBlock := uint32(off) % sb.BlockSize
		de := decodeDirEntry(data[inBlock:])
		if de.RecLen == 0 {
			panic("ext2fs: dirlookup: zero-length directory record")
		}

		if de.Inode != 0 && int(de.NameLen) == namelen && Namecmp(name, de.Name) == 0 {
			ip, err := fs.Icache.Get(dp.Dev, de.Inode, fs.fsType)
			if err != nil {
				return nil, 0, err
			}
			return ip, off, nil
		}
		off += uint64(de.RecLen)
	}

	return nil, 0, vfs.ErrNotFound
}

// Readdir lists dp's entries. ext2's variable-length dir_entry_2
// records don't fit vfs.GenericReaddir's fixed-Dirent assumption, so
// cmd/ls calls this directly for ext2-mounted directories instead.
func (fs *FS) Readdir(dp *vfs.Inode) ([]vfs.DirEntry, error) {
	sb := fs.sbFor(dp.Dev)
	device := fs.deviceFor(dp.Dev)

	var entries []vfs.DirEntry
	for off := uint64(0); off < dp.Size; {
		currBlk := uint32(off / uint64(sb.BlockSize))
		blockAddr, err := fs.bmap(dp, currBlk)
		if err != nil {
			return nil, fmt.Errorf("ext2fs: readdir: %w", err)
		}
		data, err := readLogicalBlock(fs.Cache, device, sb.BlockSize, blockAddr)
		if err != nil {
			return nil, fmt.Errorf("ext2fs: readdir: %w", err)
		}

		inBlock := uint32(off) % sb.BlockSize
		de := decodeDirEntry(data[inBlock:])
		if de.RecLen == 0 {
			panic("ext2fs: readdir: zero-length directory record")
		}
		if de.Inode != 0 {
			entries = append(entries, vfs.DirEntry{Inum: uint64(de.Inode), Name: de.Name})
		}
		off += uint64(de.RecLen)
	}
	return entries, nil
}

// Namecmp compares two path-component names up to EXT2_NAME_LEN bytes
// (ext2_namecmp).
func Namecmp(a, b string) int {
	if len(a) > nameLen {
		a = a[:nameLen]
	}
	if len(b) > nameLen {
		b = b[:nameLen]
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// isDirEmpty reports whether dp holds any entries besides "." and
// "..". ext2fs is read-only, but sysfile's Unlink still calls
// IsDirEmpty on a directory before it reaches the backend's unlink
// (which panics here), so this is implemented for real rather than
// stubbed.
func (fs *FS) isDirEmpty(dp *vfs.Inode) bool {
	sb := fs.sbFor(dp.Dev)
	device := fs.deviceFor(dp.Dev)

	for off := uint64(0); off < dp.Size; {
		currBlk := uint32(off / uint64(sb.BlockSize))
		blockAddr, err := fs.bmap(dp, currBlk)
		if err != nil {
			panic(fmt.Sprintf("ext2fs: isdirempty: %v", err))
		}
		data, err := readLogicalBlock(fs.Cache, device, sb.BlockSize, blockAddr)
		if err != nil {
			panic(fmt.Sprintf("ext2fs: isdirempty: %v", err))
		}

		inBlock := uint32(off) % sb.BlockSize
		de := decodeDirEntry(data[inBlock:])
		if de.RecLen == 0 {
			panic("ext2fs: isdirempty: zero-length directory record")
		}
		if de.Inode != 0 && de.Name != "." && de.Name != ".." {
			return false
		}
		off += uint64(de.RecLen)
	}
	return true
}

// writei is the ext2 backend's write stub: this filesystem is
// read-only (ext2_writei has no counterpart in the original; the
// op table simply never wires one).
func (fs *FS) writei(ip *vfs.Inode, src []byte, off uint64) (int, error) {
	panic("ext2fs: writei not supported (read-only backend)")
}

func (fs *FS) ialloc(dev uint32, typ vfs.ShortType) (*vfs.Inode, error) {
	panic("ext2 ialloc op not defined")
}

func (fs *FS) balloc(dev uint32) (uint32, error) {
	panic("ext2 balloc op not defined")
}

func (fs *FS) bzero(dev, blockno uint32) error {
	panic("ext2 bzero op not defined")
}

func (fs *FS) bfree(dev, b uint32) error {
	panic("ext2 bfree op not defined")
}

func (fs *FS) iupdate(ip *vfs.Inode) error {
	panic("ext2 iupdate op not defined")
}

func (fs *FS) itrunc(ip *vfs.Inode) error {
	panic("ext2 itrunc op not defined")
}

func (fs *FS) dirlink(dp *vfs.Inode, name string, inum uint32) error {
	panic("ext2 dirlink op not defined")
}

func (fs *FS) unlink(dp *vfs.Inode, offset uint64) error {
	panic("ext2 unlink op not defined")
}
