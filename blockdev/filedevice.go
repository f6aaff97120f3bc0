package blockdev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileDevice backs a block device with a real file, read and written
// with raw pread/pwrite syscalls rather than os.File.ReadAt/WriteAt,
// keeping the I/O path at the same level the original IDE driver
// operated at (direct positioned reads/writes against a descriptor,
// no buffering layer of our own underneath the buffer cache).
type FileDevice struct {
	major, minor int
	fd           int
	path         string
}

// OpenFileDevice opens path (O_RDWR, created if missing) as a block
// device for (major, minor).
func OpenFileDevice(major, minor int, path string) (*FileDevice, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blockdev: open %s: %w", path, err)
	}
	return &FileDevice{major: major, minor: minor, fd: fd, path: path}, nil
}

func (d *FileDevice) Major() int { return d.major }
func (d *FileDevice) Minor() int { return d.minor }

func (d *FileDevice) ReadBlock(blockno uint32, dst []byte) error {
	off := int64(blockno) * int64(BlockSize)
	n, err := unix.Pread(d.fd, dst, off)
	if err != nil {
		return fmt.Errorf("blockdev: pread %s block %d: %w", d.path, blockno, err)
	}
	for n < len(dst) {
		dst[n] = 0
		n++
	}
	return nil
}

func (d *FileDevice) WriteBlock(blockno uint32, src []byte) error {
	off := int64(blockno) * int64(BlockSize)
	_, err := unix.Pwrite(d.fd, src, off)
	if err != nil {
		return fmt.Errorf("blockdev: pwrite %s block %d: %w", d.path, blockno, err)
	}
	return nil
}

// Close closes the underlying file descriptor.
func (d *FileDevice) Close() error {
	return unix.Close(d.fd)
}

// Truncate grows the backing file to hold nblocks blocks, used by
// cmd/mkfs when formatting a fresh image.
func (d *FileDevice) Truncate(nblocks int) error {
	return os.Truncate(d.path, int64(nblocks)*int64(BlockSize))
}
