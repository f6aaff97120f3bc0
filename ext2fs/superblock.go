// Package ext2fs implements the read-only ext2 backend behind the
// vfs.FSType vtable: superblock and group-descriptor parsing, the
// four-level indirect block walk, directory scanning, and inode
// fetch. Every mutating operation is a deliberate panic stub;
// ext2fs never writes.
package ext2fs

import (
	"encoding/binary"
	"fmt"

	"github.com/gokernelfs/govfs/bcache"
	"github.com/gokernelfs/govfs/blockdev"
)

const (
	minBlockSize = 1024
	superMagic   = 0xEF53

	rootIno          = 2
	goodOldRev       = 0
	goodOldFirstIno  = 11
	goodOldInodeSize = 128

	ndirBlocks = 12
	indBlock   = 12
	dindBlock  = 13
	tindBlock  = 14
	nBlocks    = 15

	featureRoCompatSparseSuper = 0x0001
	featureIncompatMetaBG      = 0x0010

	// maxGroupDescBlocks bounds how many group-descriptor blocks a
	// mount will load (EXT2_MAX_BGC in the original kernel).
	maxGroupDescBlocks = 32

	groupDescSize = 32
)

// rawSuperblock is the on-disk ext2 superblock (the standard Linux
// ext2 layout). Only the fields this read-only backend consults are
// decoded; the rest of the 1024-byte block is ignored.
type rawSuperblock struct {
	InodesCount     uint32
	BlocksCount     uint32
	FirstDataBlock  uint32
	LogBlockSize    uint32
	BlocksPerGroup  uint32
	InodesPerGroup  uint32
	Magic           uint16
	RevLevel        uint32
	FirstIno        uint32
	InodeSize       uint16
	FeatureIncompat uint32
	FeatureRoCompat uint32
	FirstMetaBlkGrp uint32
}

func decodeRawSuperblock(buf []byte) rawSuperblock {
	var s rawSuperblock
	s.InodesCount = binary.LittleEndian.Uint32(buf[0:4])
	s.BlocksCount = binary.LittleEndian.Uint32(buf[4:8])
	s.FirstDataBlock = binary.LittleEndian.Uint32(buf[20:24])
	s.LogBlockSize = binary.LittleEndian.Uint32(buf[24:28])
	s.BlocksPerGroup = binary.LittleEndian.Uint32(buf[32:36])
	s.InodesPerGroup = binary.LittleEndian.Uint32(buf[40:44])
	s.Magic = binary.LittleEndian.Uint16(buf[56:58])
	s.RevLevel = binary.LittleEndian.Uint32(buf[76:80])
	s.FirstIno = binary.LittleEndian.Uint32(buf[84:88])
	s.InodeSize = binary.LittleEndian.Uint16(buf[88:90])
	s.FeatureIncompat = binary.LittleEndian.Uint32(buf[96:100])
	s.FeatureRoCompat = binary.LittleEndian.Uint32(buf[100:104])
	s.FirstMetaBlkGrp = binary.LittleEndian.Uint32(buf[260:264])
	return s
}

// Superblock is the mounted-filesystem state ext2fs keeps per minor:
// the decoded superblock fields plus the derived per-mount constants
// every Bmap/Dirlookup/inode-fetch call needs (ext2_sb_info in the
// original kernel), plus the group descriptor table loaded at mount
// time.
type Superblock struct {
	raw rawSuperblock

	BlockSize      uint32
	FirstIno       uint32
	InodeSize      uint32
	InodesPerGroup uint32
	BlocksPerGroup uint32
	InodesPerBlock uint32
	ItbPerGroup    uint32
	DescPerBlock   uint32
	AddrPerBlock   uint32
	GroupsCount    uint32

	groupDescs []groupDesc
}

// readLogicalBlock reads one ext2-sized logical block by combining the
// underlying buffer cache's fixed-size physical sectors, since
// bcache/blockdev fix their payload at blockdev.BlockSize while ext2
// volumes may format at 1024/2048/4096 bytes. The result is always a
// fresh copy, which is safe because this backend never writes it
// back.
func readLogicalBlock(cache *bcache.Cache, dev blockdev.Device, blockSize, logicalBlock uint32) ([]byte, error) {
	nsectors := blockSize / blockdev.BlockSize
	if nsectors == 0 {
		nsectors = 1
	}
	data := make([]byte, blockSize)
	base := logicalBlock * nsectors
	for i := uint32(0); i < nsectors; i++ {
		buf, err := cache.Bread(dev, base+i)
		if err != nil {
			return nil, err
		}
		copy(data[i*blockdev.BlockSize:], buf.Data)
		cache.Brelse(buf)
	}
	return data, nil
}

// ReadSB parses dev's ext2 superblock, re-reading at the filesystem's
// true block size when it differs from the 1024-byte minimum probe
// read, and loads the group descriptor table (ext2_readsb).
func ReadSB(cache *bcache.Cache, dev blockdev.Device) (*Superblock, error) {
	logicalSBBlock := uint32(1)
	blockSize := uint32(minBlockSize)

	data, err := readLogicalBlock(cache, dev, minBlockSize, logicalSBBlock)
	if err != nil {
		return nil, fmt.Errorf("ext2fs: readsb: %w", err)
	}
	raw := decodeRawSuperblock(data)

	if raw.Magic != superMagic {
		return nil, fmt.Errorf("ext2fs: readsb: bad magic %#x, not an ext2 volume", raw.Magic)
	}

	trueBlockSize := uint32(minBlockSize) << raw.LogBlockSize
	if trueBlockSize != blockSize {
		logicalSBBlock = minBlockSize / trueBlockSize
		offset := minBlockSize % trueBlockSize
		data, err = readLogicalBlock(cache, dev, trueBlockSize, logicalSBBlock)
		if err != nil {
			return nil, fmt.Errorf("ext2fs: readsb: second read: %w", err)
		}
		raw = decodeRawSuperblock(data[offset:])
		if raw.Magic != superMagic {
			return nil, fmt.Errorf("ext2fs: readsb: magic mismatch on second read")
		}
		blockSize = trueBlockSize
	}

	sb := &Superblock{raw: raw, BlockSize: blockSize}
	if raw.RevLevel == goodOldRev {
		sb.InodeSize = goodOldInodeSize
		sb.FirstIno = goodOldFirstIno
	} else {
		sb.InodeSize = uint32(raw.InodeSize)
		sb.FirstIno = raw.FirstIno
	}

	sb.BlocksPerGroup = raw.BlocksPerGroup
	sb.InodesPerGroup = raw.InodesPerGroup
	sb.InodesPerBlock = blockSize / sb.InodeSize
	sb.ItbPerGroup = sb.InodesPerGroup / sb.InodesPerBlock
	sb.DescPerBlock = blockSize / groupDescSize
	sb.AddrPerBlock = blockSize / 4

	if sb.BlocksPerGroup > blockSize*8 {
		return nil, fmt.Errorf("ext2fs: readsb: blocks per group too large")
	}
	if sb.InodesPerGroup > blockSize*8 {
		return nil, fmt.Errorf("ext2fs: readsb: inodes per group too large")
	}

	sb.GroupsCount = (raw.BlocksCount-raw.FirstDataBlock-1)/sb.BlocksPerGroup + 1
	dbCount := (sb.GroupsCount + sb.DescPerBlock - 1) / sb.DescPerBlock
	if dbCount > maxGroupDescBlocks {
		return nil, fmt.Errorf("ext2fs: readsb: too many group descriptor blocks (%d > %d)", dbCount, maxGroupDescBlocks)
	}

	for i := uint32(0); i < dbCount; i++ {
		block := descriptorLoc(sb, logicalSBBlock, i)
		data, err := readLogicalBlock(cache, dev, blockSize, block)
		if err != nil {
			return nil, fmt.Errorf("ext2fs: readsb: group descriptor block %d: %w", i, err)
		}
		for off := uint32(0); off+groupDescSize <= blockSize && uint32(len(sb.groupDescs)) < sb.GroupsCount; off += groupDescSize {
			sb.groupDescs = append(sb.groupDescs, decodeGroupDesc(data[off:off+groupDescSize]))
		}
	}
	return sb, nil
}

// Release drops this mount's decoded group-descriptor table. The
// descriptors are plain decoded copies (not live cache buffers), so
// there is nothing to unpin; Unmount calls this purely to drop the
// reference.
func (sb *Superblock) Release() {
	sb.groupDescs = nil
}

func hasRoCompatSparseSuper(sb *Superblock) bool {
	return sb.raw.FeatureRoCompat&featureRoCompatSparseSuper != 0
}

func hasIncompatMetaBG(sb *Superblock) bool {
	return sb.raw.FeatureIncompat&featureIncompatMetaBG != 0
}

// groupSparse reports whether group holds a backup superblock under
// the sparse_super layout: group 0 and 1 always do, and otherwise only
// powers of 3, 5, or 7 (ext2_group_sparse).
func groupSparse(group uint32) bool {
	if group <= 1 {
		return true
	}
	return isPowerOf(group, 3) || isPowerOf(group, 5) || isPowerOf(group, 7)
}

func isPowerOf(a, b uint32) bool {
	n := b
	for a > n {
		n *= b
	}
	return n == a
}

// bgHasSuper reports whether group spends a block on a superblock
// copy (ext2_bg_has_super).
func bgHasSuper(sb *Superblock, group uint32) bool {
	if hasRoCompatSparseSuper(sb) && !groupSparse(group) {
		return false
	}
	return true
}

func groupFirstBlockNo(sb *Superblock, group uint32) uint32 {
	return sb.raw.FirstDataBlock + group*sb.BlocksPerGroup
}

// descriptorLoc returns the block holding group descriptor nr,
// honoring the META_BG layout when the filesystem uses it
// (descriptor_loc).
func descriptorLoc(sb *Superblock, logicalSBBlock, nr uint32) uint32 {
	if !hasIncompatMetaBG(sb) || nr < sb.raw.FirstMetaBlkGrp {
		return logicalSBBlock + nr + 1
	}
	bg := sb.DescPerBlock * nr
	block := groupFirstBlockNo(sb, bg)
	if bgHasSuper(sb, bg) {
		block++
	}
	return block
}
