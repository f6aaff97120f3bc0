package s5fs

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/gokernelfs/govfs/bcache"
	"github.com/gokernelfs/govfs/blockdev"
)

// BlockSize is the s5 filesystem's fixed block size.
const BlockSize = blockdev.BlockSize

// ROOTINO is the inode number of the filesystem root.
const ROOTINO = 1

// superblockBlock is the fixed block number of the superblock.
const superblockBlock = 1

// BPB is the number of free-map bits packed into one block.
const BPB = BlockSize * 8

const superblockSize = 4*7 + 16 // seven uint32 fields + a 16-byte UUID trailer

// Superblock is the on-disk s5 superblock, read into memory at mount
// time (s5_readsb) and consulted by every allocator/bmap call.
// VolumeUUID lives in the superblock's reserved trailer; cmd/mkfs
// stamps a fresh identifier at format time and prints it, and ReadSB
// decodes it back.
type Superblock struct {
	Size       uint32
	NBlocks    uint32
	NInodes    uint32
	NLog       uint32
	LogStart   uint32
	InodeStart uint32
	BmapStart  uint32
	VolumeUUID uuid.UUID
}

func encodeSuperblock(sb Superblock) []byte {
	buf := make([]byte, superblockSize)
	binary.LittleEndian.PutUint32(buf[0:4], sb.Size)
	binary.LittleEndian.PutUint32(buf[4:8], sb.NBlocks)
	binary.LittleEndian.PutUint32(buf[8:12], sb.NInodes)
	binary.LittleEndian.PutUint32(buf[12:16], sb.NLog)
	binary.LittleEndian.PutUint32(buf[16:20], sb.LogStart)
	binary.LittleEndian.PutUint32(buf[20:24], sb.InodeStart)
	binary.LittleEndian.PutUint32(buf[24:28], sb.BmapStart)
	idBytes, _ := sb.VolumeUUID.MarshalBinary()
	copy(buf[28:44], idBytes)
	return buf
}

func decodeSuperblock(buf []byte) Superblock {
	var sb Superblock
	sb.Size = binary.LittleEndian.Uint32(buf[0:4])
	sb.NBlocks = binary.LittleEndian.Uint32(buf[4:8])
	sb.NInodes = binary.LittleEndian.Uint32(buf[8:12])
	sb.NLog = binary.LittleEndian.Uint32(buf[12:16])
	sb.LogStart = binary.LittleEndian.Uint32(buf[16:20])
	sb.InodeStart = binary.LittleEndian.Uint32(buf[20:24])
	sb.BmapStart = binary.LittleEndian.Uint32(buf[24:28])
	_ = sb.VolumeUUID.UnmarshalBinary(buf[28:44])
	return sb
}

// IBlock returns the block number holding inode inum's dinode, given
// sb (IBLOCK in the original kernel).
func IBlock(inum uint32, sb Superblock) uint32 {
	return inum/IPB + sb.InodeStart
}

// BBlock returns the free-map block number containing the bit for
// block b (BBLOCK in the original kernel).
func BBlock(b uint32, sb Superblock) uint32 {
	return b/BPB + sb.BmapStart
}

// ReadSB reads and decodes the superblock at its fixed block on dev
// (s5_readsb).
func ReadSB(cache *bcache.Cache, dev blockdev.Device) (Superblock, error) {
	buf, err := cache.Bread(dev, superblockBlock)
	if err != nil {
		return Superblock{}, fmt.Errorf("s5fs: readsb: %w", err)
	}
	sb := decodeSuperblock(buf.Data)
	cache.Brelse(buf)
	return sb, nil
}

// WriteSB encodes and writes sb to its fixed block on dev, used by
// cmd/mkfs when formatting a new volume.
func WriteSB(cache *bcache.Cache, dev blockdev.Device, sb Superblock) error {
	buf, err := cache.Bread(dev, superblockBlock)
	if err != nil {
		return fmt.Errorf("s5fs: writesb: %w", err)
	}
	copy(buf.Data, encodeSuperblock(sb))
	err = cache.Bwrite(buf)
	cache.Brelse(buf)
	return err
}
