package ext2fs

import (
	"github.com/gokernelfs/govfs/vfs"
)

// readi reads ip's data through Bmap, walking logical blocks at the
// mount's true block size rather than vfs.GenericReadi's fixed
// cache-sector size, since ext2 volumes may format wider than
// blockdev.BlockSize (readLogicalBlock's rationale in superblock.go
// applies here too).
func (fs *FS) readi(ip *vfs.Inode, dst []byte, off uint64) (int, error) {
	if ip.Type == vfs.Dev {
		ops, ok := fs.Chars.Get(ip.Major)
		if !ok || ops.Read == nil {
			return 0, vfs.ErrInvalidArgument
		}
		return ops.Read(ip, dst)
	}

	sb := fs.sbFor(ip.Dev)
	device := fs.deviceFor(ip.Dev)
	blockSize := uint64(sb.BlockSize)

	n := uint64(len(dst))
	if off > ip.Size {
		return 0, vfs.ErrInvalidArgument
	}
	if off+n > ip.Size {
		n = ip.Size - off
	}

	var tot uint64
	for tot < n {
		bn, err := fs.bmap(ip, uint32(off/blockSize))
		if err != nil {
			return int(tot), err
		}
		data, err := readLogicalBlock(fs.Cache, device, sb.BlockSize, bn)
		if err != nil {
			return int(tot), err
		}
		m := n - tot
		if avail := blockSize - off%blockSize; m > avail {
			m = avail
		}
		copy(dst[tot:tot+m], data[off%blockSize:])
		tot += m
		off += m
	}
	return int(tot), nil
}
