package ext2fs

import (
	"encoding/binary"
	"fmt"
)

// groupDesc is one 32-byte ext2 block group descriptor
// (struct ext2_group_desc): only the fields this read-only backend
// needs. The block/inode bitmaps are never consulted since the
// backend never allocates.
type groupDesc struct {
	BlockBitmap uint32
	InodeBitmap uint32
	InodeTable  uint32
}

func decodeGroupDesc(buf []byte) groupDesc {
	return groupDesc{
		BlockBitmap: binary.LittleEndian.Uint32(buf[0:4]),
		InodeBitmap: binary.LittleEndian.Uint32(buf[4:8]),
		InodeTable:  binary.LittleEndian.Uint32(buf[8:12]),
	}
}

// groupDescFor returns the descriptor for block_group, panicking if
// out of range (ext2_get_group_desc).
func (sb *Superblock) groupDescFor(group uint32) groupDesc {
	if group >= uint32(len(sb.groupDescs)) {
		panic(fmt.Sprintf("ext2fs: block group %d is too large", group))
	}
	return sb.groupDescs[group]
}

// ilog2 returns log2(n) for a power-of-two n, the same shift count
// ext2_block_to_path derives once at mount time for addr_per_block_bits.
func ilog2(n uint32) uint32 {
	var bits uint32
	for n > 1 {
		n >>= 1
		bits++
	}
	return bits
}
