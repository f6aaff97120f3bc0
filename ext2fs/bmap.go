package ext2fs

import (
	"encoding/binary"

	"github.com/gokernelfs/govfs/vfs"
)

// maxChainRetries bounds how many times Bmap will re-walk an indirect
// chain after a verify mismatch before giving up. A mismatch means
// the chain changed underfoot; with no concurrent writers on this
// read-only backend a persistent mismatch is corruption, so the walk
// retries a bounded number of times and then panics.
const maxChainRetries = 3

// blockToPath translates a logical block number into the offsets of
// pointers to follow in the inode (level 0) and any indirect blocks
// (levels 1..3), returning how many levels deep the walk goes
// (ext2_block_to_path).
func blockToPath(sb *Superblock, iBlock uint32) ([4]uint32, int) {
	var offsets [4]uint32
	ptrs := sb.AddrPerBlock
	ptrsBits := ilog2(ptrs)
	direct := uint32(ndirBlocks)
	indirect := ptrs
	double := uint32(1) << (ptrsBits * 2)

	switch {
	case iBlock < direct:
		offsets[0] = iBlock
		return offsets, 1
	case iBlock-direct < indirect:
		b := iBlock - direct
		offsets[0] = indBlock
		offsets[1] = b
		return offsets, 2
	case iBlock-direct-indirect < double:
		b := iBlock - direct - indirect
		offsets[0] = dindBlock
		offsets[1] = b >> ptrsBits
		offsets[2] = b & (ptrs - 1)
		return offsets, 3
	default:
		b := iBlock - direct - indirect - double
		if (b >> (ptrsBits * 2)) >= ptrs {
			panic("ext2fs: bmap: block number out of bounds")
		}
		offsets[0] = tindBlock
		offsets[1] = b >> (ptrsBits * 2)
		offsets[2] = (b >> ptrsBits) & (ptrs - 1)
		offsets[3] = b & (ptrs - 1)
		return offsets, 4
	}
}

// readIndirectKey reads the uint32 at slot offset within the indirect
// block addressed by blockAddr.
func (fs *FS) readIndirectKey(sb *Superblock, dev uint32, blockAddr, offset uint32) (uint32, error) {
	data, err := readLogicalBlock(fs.Cache, fs.deviceFor(dev), sb.BlockSize, blockAddr)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data[offset*4 : offset*4+4]), nil
}

// walkChain follows offsets through ip's direct block array and any
// indirect blocks, filling chain[0:depth] with the resolved key at
// each level and stopping early (leaving the rest zero) the first
// time it finds an absent (hole) pointer, mirroring
// ext2_get_branch/add_chain.
func (fs *FS) walkChain(ip *vfs.Inode, sb *Superblock, offsets [4]uint32, depth int) ([4]uint32, error) {
	var chain [4]uint32
	raw := ip.Private.(*rawInode)

	chain[0] = raw.Block[offsets[0]]
	for level := 1; level < depth && chain[level-1] != 0; level++ {
		key, err := fs.readIndirectKey(sb, ip.Dev, chain[level-1], offsets[level])
		if err != nil {
			return chain, err
		}
		chain[level] = key
	}
	return chain, nil
}

// bmap resolves inode ip's logicalBn'th data block through the
// Indirect[4] chain, retrying the walk if a re-verification of the
// path finds it changed underfoot (ext2_bmap/verify_chain).
func (fs *FS) bmap(ip *vfs.Inode, logicalBn uint32) (uint32, error) {
	sb := fs.sbFor(ip.Dev)
	offsets, depth := blockToPath(sb, logicalBn)

	var chain [4]uint32
	var err error
	for attempt := 0; attempt < maxChainRetries; attempt++ {
		chain, err = fs.walkChain(ip, sb, offsets, depth)
		if err != nil {
			return 0, err
		}
		again, verifyErr := fs.walkChain(ip, sb, offsets, depth)
		if verifyErr != nil {
			return 0, verifyErr
		}
		if chain == again {
			return chain[depth-1], nil
		}
	}
	panic("ext2: bmap chain verify exceeded retry budget")
}
