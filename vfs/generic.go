package vfs

import (
	"fmt"

	"github.com/gokernelfs/govfs/bcache"
	"github.com/gokernelfs/govfs/blockdev"
)

// GenericStati copies out the stat-visible subset of ip's metadata.
// Backends with no layout-specific stat point their vtable here.
func GenericStati(ip *Inode) Stat {
	return Stat{Dev: ip.Dev, Ino: ip.Inum, Type: ip.Type, Nlink: ip.Nlink, Size: ip.Size}
}

// GenericReadi is the shared file-read path: for a
// DEV-typed inode it dispatches to the character-device switch;
// otherwise it clips [off, off+len(dst)) against ip.Size and walks
// data blocks through the backend's Bmap, reading them from cache/dev.
func GenericReadi(ip *Inode, dst []byte, off uint64, blockSize int, cache *bcache.Cache, dev blockdev.Device, chars *CharSwitch) (int, error) {
	if ip.Type == Dev {
		ops, ok := chars.Get(ip.Major)
		if !ok || ops.Read == nil {
			return 0, ErrInvalidArgument
		}
		return ops.Read(ip, dst)
	}

	n := uint64(len(dst))
	if off > ip.Size {
		return 0, ErrInvalidArgument
	}
	if off+n > ip.Size {
		n = ip.Size - off
	}

	var tot uint64
	for tot < n {
		bn, err := ip.IOps.Bmap(ip, uint32(off/uint64(blockSize)))
		if err != nil {
			return int(tot), err
		}
		buf, err := cache.Bread(dev, bn)
		if err != nil {
			return int(tot), err
		}
		m := n - tot
		if avail := uint64(blockSize) - off%uint64(blockSize); m > avail {
			m = avail
		}
		copy(dst[tot:tot+m], buf.Data[off%uint64(blockSize):])
		cache.Brelse(buf)
		tot += m
		off += m
	}
	return int(tot), nil
}

// DirEntry is one listed directory entry, the shape cmd/ls and similar
// callers consume regardless of which backend's on-disk record
// produced it.
type DirEntry struct {
	Inum uint64
	Name string
}

// GenericReaddir lists ip's entries by scanning fixed-size Dirent
// records via Readi, the shape s5fs (and any other fixed-record
// backend) stores on disk. ext2fs's variable-length records are not
// this shape; ext2fs exports its own Readdir instead.
func GenericReaddir(ip *Inode) ([]DirEntry, error) {
	buf := make([]byte, DirentSize)
	var entries []DirEntry
	for off := uint64(0); off < ip.Size; off += DirentSize {
		n, err := ip.IOps.Readi(ip, buf, off)
		if err != nil {
			return nil, fmt.Errorf("vfs: readdir: %w", err)
		}
		if n != DirentSize {
			return nil, fmt.Errorf("vfs: readdir: short read of directory entry")
		}
		de := DecodeDirent(buf)
		if de.Inum == 0 {
			continue
		}
		entries = append(entries, DirEntry{Inum: uint64(de.Inum), Name: de.NameString()})
	}
	return entries, nil
}

// GenericDirlink appends a new fixed-size directory entry to dp: it
// scans dp (via dp.IOps.Readi) for an empty slot, or appends past the
// end, then writes the new {inum, name} record via dp.IOps.Writei.
// dp must already be locked by the caller.
func GenericDirlink(dp *Inode, name string, inum uint32) error {
	if existing, _, err := dp.IOps.Dirlookup(dp, name); err == nil && existing != nil {
		existing.Put()
		return fmt.Errorf("vfs: dirlink: %q already exists: %w", name, ErrInvalidArgument)
	}

	var off uint64
	buf := make([]byte, DirentSize)
	for off = 0; off < dp.Size; off += DirentSize {
		n, err := dp.IOps.Readi(dp, buf, off)
		if err != nil {
			return fmt.Errorf("vfs: dirlink: read: %w", err)
		}
		if n != DirentSize {
			return fmt.Errorf("vfs: dirlink: short read of directory entry")
		}
		if DecodeDirent(buf).Inum == 0 {
			break
		}
	}

	var de Dirent
	de.Inum = uint16(inum)
	de.SetName(name)
	n, err := dp.IOps.Writei(dp, de.Encode(), off)
	if err != nil {
		return fmt.Errorf("vfs: dirlink: write: %w", err)
	}
	if n != DirentSize {
		return fmt.Errorf("vfs: dirlink: short write of directory entry")
	}
	return nil
}
