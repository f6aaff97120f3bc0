package s5fs

import (
	"encoding/binary"

	"github.com/gokernelfs/govfs/vfs"
)

// bmap returns the disk block address for inode ip's logicalBn'th
// data block, allocating on demand within direct or single-indirect
// space. Addresses past NDIRECT+NINDIRECT are out of range for this
// backend and panic (s5_bmap).
func (fs *FS) bmap(ip *vfs.Inode, logicalBn uint32) (uint32, error) {
	priv := ip.Private.(*Dinode)

	if logicalBn < NDIRECT {
		addr := priv.Addrs[logicalBn]
		if addr == 0 {
			a, err := fs.balloc(ip.Dev)
			if err != nil {
				return 0, err
			}
			priv.Addrs[logicalBn] = a
			addr = a
		}
		return addr, nil
	}
	logicalBn -= NDIRECT

	if logicalBn < NINDIRECT {
		indAddr := priv.Addrs[NDIRECT]
		if indAddr == 0 {
			a, err := fs.balloc(ip.Dev)
			if err != nil {
				return 0, err
			}
			priv.Addrs[NDIRECT] = a
			indAddr = a
		}

		device := fs.deviceFor(ip.Dev)
		log := fs.logFor(ip.Dev)
		buf, err := fs.Cache.Bread(device, indAddr)
		if err != nil {
			return 0, err
		}
		off := logicalBn * 4
		addr := binary.LittleEndian.Uint32(buf.Data[off : off+4])
		if addr == 0 {
			a, err := fs.balloc(ip.Dev)
			if err != nil {
				fs.Cache.Brelse(buf)
				return 0, err
			}
			binary.LittleEndian.PutUint32(buf.Data[off:off+4], a)
			log.Write(buf)
			addr = a
		}
		fs.Cache.Brelse(buf)
		return addr, nil
	}

	panic("s5fs: bmap: offset out of range")
}
