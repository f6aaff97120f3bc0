package s5fs

import "encoding/binary"

// NDIRECT is the number of direct block addresses in a dinode; NINDIRECT
// is the number of block addresses reachable through the single
// indirect block.
const (
	NDIRECT   = 12
	NINDIRECT = BlockSize / 4
	MaxFile   = NDIRECT + NINDIRECT
)

// IPB is the number of packed dinodes per disk block.
const IPB = BlockSize / dinodeSize

const dinodeSize = 2 + 2 + 2 + 2 + 4 + 4*(NDIRECT+1)

// Dinode is the on-disk inode: type, device numbers, link count, size
// and NDIRECT+1 block addresses where the last slot is a single
// indirect block pointer.
type Dinode struct {
	Type  int16
	Major int16
	Minor int16
	Nlink int16
	Size  uint32
	Addrs [NDIRECT + 1]uint32
}

func encodeDinode(d Dinode) []byte {
	buf := make([]byte, dinodeSize)
	encodeDinodeInto(buf, d)
	return buf
}

func encodeDinodeInto(buf []byte, d Dinode) {
	binary.LittleEndian.PutUint16(buf[0:2], uint16(d.Type))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(d.Major))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(d.Minor))
	binary.LittleEndian.PutUint16(buf[6:8], uint16(d.Nlink))
	binary.LittleEndian.PutUint32(buf[8:12], d.Size)
	for i, a := range d.Addrs {
		off := 12 + 4*i
		binary.LittleEndian.PutUint32(buf[off:off+4], a)
	}
}

func decodeDinode(buf []byte) Dinode {
	var d Dinode
	d.Type = int16(binary.LittleEndian.Uint16(buf[0:2]))
	d.Major = int16(binary.LittleEndian.Uint16(buf[2:4]))
	d.Minor = int16(binary.LittleEndian.Uint16(buf[4:6]))
	d.Nlink = int16(binary.LittleEndian.Uint16(buf[6:8]))
	d.Size = binary.LittleEndian.Uint32(buf[8:12])
	for i := range d.Addrs {
		off := 12 + 4*i
		d.Addrs[i] = binary.LittleEndian.Uint32(buf[off : off+4])
	}
	return d
}
