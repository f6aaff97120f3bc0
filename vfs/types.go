// Package vfs implements the backend-agnostic filesystem core: the
// filesystem-type registry, the device→filesystem binding list, the
// mount table, the inode cache and its locking state machine, the
// generic inode operations, and path resolution across mount
// boundaries.
package vfs

// DIRSIZ is the maximum length of one path component; SkipElem
// truncates (never rejects) longer components.
const DIRSIZ = 14

// ShortType is the in-memory inode's type tag (T_DIR/T_FILE/T_DEV/
// T_MOUNT in the original kernel).
type ShortType int8

const (
	Unused ShortType = iota
	Dir
	File
	Dev
	Mount
)

func (t ShortType) String() string {
	switch t {
	case Dir:
		return "DIR"
	case File:
		return "FILE"
	case Dev:
		return "DEV"
	case Mount:
		return "MOUNT"
	default:
		return "UNUSED"
	}
}

// Stat mirrors the original kernel's struct stat: the subset of inode
// metadata exposed to generic_stati/fstat.
type Stat struct {
	Dev   uint32
	Ino   uint32
	Type  ShortType
	Nlink int16
	Size  uint64
}

// Dirent is the fixed directory-entry record GenericDirlink appends
// and dirlookup-style scans expect: {inum: u16, name: [DIRSIZ]u8}.
type Dirent struct {
	Inum uint16
	Name [DIRSIZ]byte
}

// NameString returns the NUL-trimmed entry name.
func (d Dirent) NameString() string {
	n := 0
	for n < len(d.Name) && d.Name[n] != 0 {
		n++
	}
	return string(d.Name[:n])
}

// SetName copies name into the fixed-size Name field, truncating to
// DIRSIZ.
func (d *Dirent) SetName(name string) {
	b := []byte(name)
	if len(b) > DIRSIZ {
		b = b[:DIRSIZ]
	}
	var arr [DIRSIZ]byte
	copy(arr[:], b)
	d.Name = arr
}

// DirentSize is the on-disk/in-buffer size of one Dirent record.
const DirentSize = 2 + DIRSIZ

// Encode packs d into its fixed on-disk representation.
func (d Dirent) Encode() []byte {
	buf := make([]byte, DirentSize)
	buf[0] = byte(d.Inum)
	buf[1] = byte(d.Inum >> 8)
	copy(buf[2:], d.Name[:])
	return buf
}

// DecodeDirent unpacks a fixed-size Dirent record from buf.
func DecodeDirent(buf []byte) Dirent {
	var d Dirent
	d.Inum = uint16(buf[0]) | uint16(buf[1])<<8
	copy(d.Name[:], buf[2:2+DIRSIZ])
	return d
}
