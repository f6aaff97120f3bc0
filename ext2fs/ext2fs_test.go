package ext2fs

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gokernelfs/govfs/bcache"
	"github.com/gokernelfs/govfs/blockdev"
	"github.com/gokernelfs/govfs/vfs"
)

type memDevice struct {
	mu     sync.Mutex
	blocks map[uint32][]byte
}

func newMemDevice() *memDevice { return &memDevice{blocks: make(map[uint32][]byte)} }

func (d *memDevice) Major() int { return 1 }
func (d *memDevice) Minor() int { return 1 }

func (d *memDevice) ReadBlock(blockno uint32, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b, ok := d.blocks[blockno]; ok {
		copy(dst, b)
	}
	return nil
}

func (d *memDevice) WriteBlock(blockno uint32, src []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := make([]byte, len(src))
	copy(cp, src)
	d.blocks[blockno] = cp
	return nil
}

func newTestFS(t *testing.T) (*FS, blockdev.Device) {
	t.Helper()
	queue := blockdev.NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- queue.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		queue.Close()
		<-done
	})

	cache := bcache.New(64, queue)
	mtab := vfs.NewMountTable()
	icache := vfs.NewCache(64, mtab)
	chars := vfs.NewCharSwitch()
	fs := New(cache, icache, mtab, chars)
	dev := newMemDevice()
	fs.RegisterDevice(0, dev)
	return fs, dev
}

// encodeRawDirEntry packs one variable-length ext2 directory record.
func encodeRawDirEntry(inode uint32, recLen uint16, name string) []byte {
	buf := make([]byte, recLen)
	binary.LittleEndian.PutUint32(buf[0:4], inode)
	binary.LittleEndian.PutUint16(buf[4:6], recLen)
	buf[6] = byte(len(name))
	copy(buf[8:], name)
	return buf
}

func TestDecodeRawSuperblockFields(t *testing.T) {
	buf := make([]byte, 264+4)
	binary.LittleEndian.PutUint32(buf[0:4], 1024)    // InodesCount
	binary.LittleEndian.PutUint32(buf[4:8], 4096)    // BlocksCount
	binary.LittleEndian.PutUint32(buf[20:24], 1)     // FirstDataBlock
	binary.LittleEndian.PutUint32(buf[24:28], 0)     // LogBlockSize -> 1024-byte blocks
	binary.LittleEndian.PutUint32(buf[32:36], 8192)  // BlocksPerGroup
	binary.LittleEndian.PutUint32(buf[40:44], 2048)  // InodesPerGroup
	binary.LittleEndian.PutUint16(buf[56:58], superMagic)
	binary.LittleEndian.PutUint32(buf[76:80], 1) // RevLevel (dynamic)
	binary.LittleEndian.PutUint32(buf[84:88], 11)
	binary.LittleEndian.PutUint16(buf[88:90], 128)

	got := decodeRawSuperblock(buf)
	require.Equal(t, uint32(1024), got.InodesCount)
	require.Equal(t, uint32(4096), got.BlocksCount)
	require.Equal(t, uint16(superMagic), got.Magic)
	require.Equal(t, uint32(8192), got.BlocksPerGroup)
	require.Equal(t, uint32(2048), got.InodesPerGroup)
	require.Equal(t, uint32(11), got.FirstIno)
	require.Equal(t, uint16(128), got.InodeSize)
}

func TestGroupSparseKnownGroups(t *testing.T) {
	sparse := map[uint32]bool{0: true, 1: true, 2: false, 3: true, 4: false, 5: true, 7: true, 8: false, 9: true, 25: true}
	for g, want := range sparse {
		require.Equalf(t, want, groupSparse(g), "group %d", g)
	}
}

func TestBgHasSuperHonorsSparseSuperFeature(t *testing.T) {
	sparse := &Superblock{raw: rawSuperblock{FeatureRoCompat: featureRoCompatSparseSuper}}
	require.True(t, bgHasSuper(sparse, 0))
	require.True(t, bgHasSuper(sparse, 3))
	require.False(t, bgHasSuper(sparse, 2))

	noFeature := &Superblock{}
	require.True(t, bgHasSuper(noFeature, 2))
}

func TestDescriptorLocWithoutMetaBG(t *testing.T) {
	sb := &Superblock{}
	require.Equal(t, uint32(5), descriptorLoc(sb, 2, 2))
}

func TestIlog2PowersOfTwo(t *testing.T) {
	require.Equal(t, uint32(0), ilog2(1))
	require.Equal(t, uint32(7), ilog2(128))
	require.Equal(t, uint32(8), ilog2(256))
}

func TestBlockToPathBoundaries(t *testing.T) {
	sb := &Superblock{AddrPerBlock: 256} // ptrsBits = 8

	_, depth := blockToPath(sb, 0)
	require.Equal(t, 1, depth)
	_, depth = blockToPath(sb, ndirBlocks-1)
	require.Equal(t, 1, depth)

	offsets, depth := blockToPath(sb, ndirBlocks)
	require.Equal(t, 2, depth)
	require.Equal(t, uint32(indBlock), offsets[0])
	require.Equal(t, uint32(0), offsets[1])

	offsets, depth = blockToPath(sb, ndirBlocks+256-1)
	require.Equal(t, 2, depth)
	require.Equal(t, uint32(255), offsets[1])

	offsets, depth = blockToPath(sb, ndirBlocks+256)
	require.Equal(t, 3, depth)
	require.Equal(t, uint32(dindBlock), offsets[0])

	offsets, depth = blockToPath(sb, ndirBlocks+256+256*256)
	require.Equal(t, 4, depth)
	require.Equal(t, uint32(tindBlock), offsets[0])
}

func TestBmapResolvesDirectBlock(t *testing.T) {
	fs, _ := newTestFS(t)
	fs.mu.Lock()
	fs.superblocks[0] = &Superblock{BlockSize: 512, AddrPerBlock: 128}
	fs.mu.Unlock()

	ip := &vfs.Inode{Dev: 0, Private: &rawInode{Block: [nBlocks]uint32{7}}}
	bn, err := fs.bmap(ip, 0)
	require.NoError(t, err)
	require.Equal(t, uint32(7), bn)
}

func TestBmapResolvesSingleIndirectBlock(t *testing.T) {
	fs, dev := newTestFS(t)
	fs.mu.Lock()
	fs.superblocks[0] = &Superblock{BlockSize: 512, AddrPerBlock: 128}
	fs.mu.Unlock()

	indirectBlockAddr := uint32(50)
	buf, err := fs.Cache.Bread(dev, indirectBlockAddr)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(buf.Data[0:4], 99) // slot 0 of the indirect block
	require.NoError(t, fs.Cache.Bwrite(buf))
	fs.Cache.Brelse(buf)

	ip := &vfs.Inode{Dev: 0, Private: &rawInode{Block: [nBlocks]uint32{indBlock: indirectBlockAddr}}}
	bn, err := fs.bmap(ip, ndirBlocks)
	require.NoError(t, err)
	require.Equal(t, uint32(99), bn)
}

func TestDirlookupFindsMatchingEntry(t *testing.T) {
	fs, dev := newTestFS(t)
	fs.mu.Lock()
	fs.superblocks[0] = &Superblock{BlockSize: 512, AddrPerBlock: 128}
	fs.mu.Unlock()

	dataBlockAddr := uint32(20)
	buf, err := fs.Cache.Bread(dev, dataBlockAddr)
	require.NoError(t, err)
	copy(buf.Data, encodeRawDirEntry(42, 512, "hello.txt"))
	require.NoError(t, fs.Cache.Bwrite(buf))
	fs.Cache.Brelse(buf)

	dp, err := fs.Icache.Get(0, rootIno, fs.fsType)
	require.NoError(t, err)
	defer dp.Put()
	dp.Type = vfs.Dir
	dp.Size = 512
	dp.Private = &rawInode{Block: [nBlocks]uint32{dataBlockAddr}}

	found, off, err := fs.dirlookup(dp, "hello.txt")
	require.NoError(t, err)
	defer found.Put()
	require.Equal(t, uint32(42), found.Inum)
	require.Zero(t, off)

	_, _, err = fs.dirlookup(dp, "nope")
	require.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestReaddirListsAllEntries(t *testing.T) {
	fs, dev := newTestFS(t)
	fs.mu.Lock()
	fs.superblocks[0] = &Superblock{BlockSize: 512, AddrPerBlock: 128}
	fs.mu.Unlock()

	dataBlockAddr := uint32(21)
	buf, err := fs.Cache.Bread(dev, dataBlockAddr)
	require.NoError(t, err)
	first := encodeRawDirEntry(2, 16, ".")
	second := encodeRawDirEntry(7, 496, "leaf")
	copy(buf.Data[0:16], first)
	copy(buf.Data[16:16+496], second)
	require.NoError(t, fs.Cache.Bwrite(buf))
	fs.Cache.Brelse(buf)

	dp := &vfs.Inode{Dev: 0, Type: vfs.Dir, Size: 512, Private: &rawInode{Block: [nBlocks]uint32{dataBlockAddr}}}
	entries, err := fs.Readdir(dp)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, ".", entries[0].Name)
	require.Equal(t, "leaf", entries[1].Name)
}

func TestIsDirEmptyIgnoresDotEntries(t *testing.T) {
	fs, dev := newTestFS(t)
	fs.mu.Lock()
	fs.superblocks[0] = &Superblock{BlockSize: 512, AddrPerBlock: 128}
	fs.mu.Unlock()

	dataBlockAddr := uint32(22)
	buf, err := fs.Cache.Bread(dev, dataBlockAddr)
	require.NoError(t, err)
	dot := encodeRawDirEntry(2, 16, ".")
	dotdot := encodeRawDirEntry(2, 496, "..")
	copy(buf.Data[0:16], dot)
	copy(buf.Data[16:16+496], dotdot)
	require.NoError(t, fs.Cache.Bwrite(buf))
	fs.Cache.Brelse(buf)

	dp := &vfs.Inode{Dev: 0, Type: vfs.Dir, Size: 512, Private: &rawInode{Block: [nBlocks]uint32{dataBlockAddr}}}
	require.True(t, fs.isDirEmpty(dp))
}

func TestReadiReadsFileContentThroughBmap(t *testing.T) {
	fs, dev := newTestFS(t)
	fs.mu.Lock()
	fs.superblocks[0] = &Superblock{BlockSize: 512, AddrPerBlock: 128}
	fs.mu.Unlock()

	dataBlockAddr := uint32(30)
	buf, err := fs.Cache.Bread(dev, dataBlockAddr)
	require.NoError(t, err)
	copy(buf.Data, "Hello\n")
	require.NoError(t, fs.Cache.Bwrite(buf))
	fs.Cache.Brelse(buf)

	ip := &vfs.Inode{Dev: 0, Type: vfs.File, Size: 6, Private: &rawInode{Block: [nBlocks]uint32{dataBlockAddr}}}
	dst := make([]byte, 6)
	n, err := fs.readi(ip, dst, 0)
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, "Hello\n", string(dst))
}

func TestWriteiPanicsReadOnly(t *testing.T) {
	fs, _ := newTestFS(t)
	ip := &vfs.Inode{Dev: 0}
	require.Panics(t, func() { fs.writei(ip, []byte("x"), 0) })
}

func TestMutatingOpsPanicReadOnly(t *testing.T) {
	fs, _ := newTestFS(t)
	require.Panics(t, func() { fs.ialloc(0, vfs.File) })
	require.Panics(t, func() { fs.balloc(0) })
	require.Panics(t, func() { fs.bzero(0, 0) })
	require.Panics(t, func() { fs.bfree(0, 0) })
	require.Panics(t, func() { fs.iupdate(&vfs.Inode{}) })
	require.Panics(t, func() { fs.itrunc(&vfs.Inode{}) })
	require.Panics(t, func() { fs.dirlink(&vfs.Inode{}, "x", 1) })
	require.Panics(t, func() { fs.unlink(&vfs.Inode{}, 0) })
}
