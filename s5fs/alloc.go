package s5fs

import (
	"github.com/gokernelfs/govfs/vfs"
)

// ialloc scans the inode table linearly for a zero-type slot and
// writes a typed stub through the log (s5_ialloc). All mutating
// allocator calls run inside the caller's begin_op/end_op bracket;
// s5fs itself never opens one.
func (fs *FS) ialloc(dev uint32, typ vfs.ShortType) (*vfs.Inode, error) {
	sb := fs.sbFor(dev)
	device := fs.deviceFor(dev)
	log := fs.logFor(dev)

	for inum := uint32(1); inum < sb.NInodes; inum++ {
		buf, err := fs.Cache.Bread(device, IBlock(inum, sb))
		if err != nil {
			return nil, err
		}
		off := (inum % IPB) * dinodeSize
		d := decodeDinode(buf.Data[off : off+dinodeSize])
		if d.Type == 0 {
			d = Dinode{Type: int16(typ)}
			encodeDinodeInto(buf.Data[off:off+dinodeSize], d)
			log.Write(buf)
			fs.Cache.Brelse(buf)
			return fs.Icache.Get(dev, inum, fs.fsType)
		}
		fs.Cache.Brelse(buf)
	}
	panic("s5fs: ialloc: out of inodes")
}

// balloc scans the free-map bitmap linearly for a clear bit, sets it,
// and zeroes the data block through the log (s5_balloc).
func (fs *FS) balloc(dev uint32) (uint32, error) {
	sb := fs.sbFor(dev)
	device := fs.deviceFor(dev)
	log := fs.logFor(dev)

	for b := uint32(0); b < sb.Size; b += BPB {
		buf, err := fs.Cache.Bread(device, BBlock(b, sb))
		if err != nil {
			return 0, err
		}
		for bi := uint32(0); bi < BPB && b+bi < sb.Size; bi++ {
			m := byte(1 << (bi % 8))
			if buf.Data[bi/8]&m == 0 {
				buf.Data[bi/8] |= m
				log.Write(buf)
				fs.Cache.Brelse(buf)
				blockno := b + bi
				if err := fs.bzero(dev, blockno); err != nil {
					return 0, err
				}
				return blockno, nil
			}
		}
		fs.Cache.Brelse(buf)
	}
	panic("s5fs: balloc: out of blocks")
}

// bzero clears a data block through the log (s5_bzero).
func (fs *FS) bzero(dev uint32, blockno uint32) error {
	device := fs.deviceFor(dev)
	log := fs.logFor(dev)

	buf, err := fs.Cache.Bread(device, blockno)
	if err != nil {
		return err
	}
	for i := range buf.Data {
		buf.Data[i] = 0
	}
	log.Write(buf)
	fs.Cache.Brelse(buf)
	return nil
}

// bfree clears block b's free-map bit through the log (s5_bfree).
// Freeing an already-free block means the bitmap is corrupt and
// panics.
func (fs *FS) bfree(dev uint32, b uint32) error {
	sb := fs.sbFor(dev)
	device := fs.deviceFor(dev)
	log := fs.logFor(dev)

	buf, err := fs.Cache.Bread(device, BBlock(b, sb))
	if err != nil {
		return err
	}
	bi := b % BPB
	m := byte(1 << (bi % 8))
	if buf.Data[bi/8]&m == 0 {
		fs.Cache.Brelse(buf)
		panic("s5fs: bfree: freeing free block")
	}
	buf.Data[bi/8] &^= m
	log.Write(buf)
	fs.Cache.Brelse(buf)
	return nil
}
