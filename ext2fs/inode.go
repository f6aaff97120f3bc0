package ext2fs

import (
	"encoding/binary"
	"fmt"

	"github.com/gokernelfs/govfs/vfs"
)

const (
	sIFMT  = 0xF000
	sIFDIR = 0x4000
	sIFREG = 0x8000
	sIFCHR = 0x2000
	sIFBLK = 0x6000
)

// rawInode is the on-disk ext2 inode record (struct ext2_inode, the
// standard 128-byte "good old revision" layout): only the fields this
// read-only backend consults.
type rawInode struct {
	Mode       uint16
	Size       uint32
	LinksCount uint16
	Block      [nBlocks]uint32
}

func decodeRawInode(buf []byte) rawInode {
	var d rawInode
	d.Mode = binary.LittleEndian.Uint16(buf[0:2])
	d.Size = binary.LittleEndian.Uint32(buf[4:8])
	d.LinksCount = binary.LittleEndian.Uint16(buf[26:28])
	for i := 0; i < nBlocks; i++ {
		off := 40 + 4*i
		d.Block[i] = binary.LittleEndian.Uint32(buf[off : off+4])
	}
	return d
}

// getInode reads inode ino's on-disk record off dev, resolving its
// block group and in-table offset (ext2_get_inode).
func (fs *FS) getInode(sb *Superblock, dev uint32, ino uint32) (rawInode, error) {
	if (ino != rootIno && ino < sb.FirstIno) || ino > sb.raw.InodesCount {
		panic(fmt.Sprintf("ext2fs: invalid inode number %d", ino))
	}

	blockGroup := (ino - 1) / sb.InodesPerGroup
	gd := sb.groupDescFor(blockGroup)

	offset := ((ino - 1) % sb.InodesPerGroup) * sb.InodeSize
	block := gd.InodeTable + offset/sb.BlockSize

	device := fs.deviceFor(dev)
	data, err := readLogicalBlock(fs.Cache, device, sb.BlockSize, block)
	if err != nil {
		return rawInode{}, fmt.Errorf("ext2fs: getinode: %w", err)
	}
	offset &= sb.BlockSize - 1
	return decodeRawInode(data[offset : offset+goodOldInodeSize]), nil
}

// fill is the ilock "not VALID" hook: it reads ip's on-disk inode and
// translates its mode into the core's ShortType (ext2_fill_inode).
func (fs *FS) fill(ip *vfs.Inode) error {
	sb := fs.sbFor(ip.Dev)
	raw, err := fs.getInode(sb, ip.Dev, ip.Inum)
	if err != nil {
		return err
	}

	switch raw.Mode & sIFMT {
	case sIFDIR:
		ip.Type = vfs.Dir
	case sIFREG:
		ip.Type = vfs.File
	case sIFCHR, sIFBLK:
		ip.Type = vfs.Dev
	default:
		panic("ext2fs: invalid file mode")
	}

	ip.Nlink = int16(raw.LinksCount)
	ip.Size = uint64(raw.Size)
	ip.Private = &raw
	return nil
}

// cleanup clears ip's private ext2 inode state once its cache slot is
// recycled (ext2_cleanup).
func (fs *FS) cleanup(ip *vfs.Inode) {
	ip.Private = nil
}
