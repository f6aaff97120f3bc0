package s5fs

import "github.com/gokernelfs/govfs/vfs"

// WriteRootDinode encodes the root directory's dinode into blockBuf (a
// full IBlock(ROOTINO, sb)-sized block buffer already read from disk),
// at ROOTINO's packed offset, pointing its first direct block at
// dataBlock. cmd/mkfs calls this at format time, before any FS is
// mounted and ialloc/iupdate exist to do it the ordinary way.
func WriteRootDinode(blockBuf []byte, sb Superblock, dataBlock uint32) {
	var d Dinode
	d.Type = int16(vfs.Dir)
	d.Nlink = 1
	d.Size = uint32(2 * vfs.DirentSize)
	d.Addrs[0] = dataBlock

	off := (ROOTINO % IPB) * dinodeSize
	encodeDinodeInto(blockBuf[off:off+dinodeSize], d)
}
