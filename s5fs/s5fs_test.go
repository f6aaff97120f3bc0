package s5fs

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gokernelfs/govfs/bcache"
	"github.com/gokernelfs/govfs/blockdev"
	"github.com/gokernelfs/govfs/txlog"
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

// testLayout mirrors cmd/mkfs's layout(): boot block, superblock, log
// region, inode table, free-map, then data, sized for size total blocks
// and ninodes inodes.
func testLayout(size, ninodes uint32) Superblock {
	nlog := uint32(1 + txlog.LogSize)
	logStart := uint32(2)
	ninodeBlocks := (ninodes + IPB - 1) / IPB
	inodeStart := logStart + nlog
	bmapStart := inodeStart + ninodeBlocks
	return Superblock{Size: size, NBlocks: size, NInodes: ninodes, LogStart: logStart, NLog: nlog, InodeStart: inodeStart, BmapStart: bmapStart}
}

// newFormattedFS builds a freshly-formatted in-memory s5 image (the
// same bring-up cmd/mkfs performs) and boots an *FS against it,
// returning the root inode still referenced (caller must Put it).
func newFormattedFS(t *testing.T, size, ninodes uint32) (*FS, *vfs.Inode) {
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
	dev := newMemDevice()
	sb := testLayout(size, ninodes)
	dataStart := sb.BmapStart + (sb.NBlocks+BPB-1)/BPB
	require.Less(t, dataStart, sb.NBlocks)

	for bn := uint32(0); bn < sb.NBlocks; bn++ {
		buf, err := cache.Bread(dev, bn)
		require.NoError(t, err)
		for i := range buf.Data {
			buf.Data[i] = 0
		}
		require.NoError(t, cache.Bwrite(buf))
		cache.Brelse(buf)
	}

	require.NoError(t, WriteSB(cache, dev, sb))

	// Mirror cmd/mkfs: every block before dataStart is reserved and
	// must be marked used, or balloc will happily hand one back out.
	for b := uint32(0); b < dataStart; b++ {
		bitmapBuf, err := cache.Bread(dev, BBlock(b, sb))
		require.NoError(t, err)
		bitmapBuf.Data[(b%BPB)/8] |= 1 << ((b % BPB) % 8)
		require.NoError(t, cache.Bwrite(bitmapBuf))
		cache.Brelse(bitmapBuf)
	}

	rootAddr := dataStart
	dirBuf, err := cache.Bread(dev, rootAddr)
	require.NoError(t, err)
	var dot, dotdot vfs.Dirent
	dot.Inum = ROOTINO
	dot.SetName(".")
	dotdot.Inum = ROOTINO
	dotdot.SetName("..")
	copy(dirBuf.Data[0:vfs.DirentSize], dot.Encode())
	copy(dirBuf.Data[vfs.DirentSize:2*vfs.DirentSize], dotdot.Encode())
	require.NoError(t, cache.Bwrite(dirBuf))
	cache.Brelse(dirBuf)

	inodeBuf, err := cache.Bread(dev, IBlock(ROOTINO, sb))
	require.NoError(t, err)
	WriteRootDinode(inodeBuf.Data, sb, rootAddr)
	require.NoError(t, cache.Bwrite(inodeBuf))
	cache.Brelse(inodeBuf)

	bitmapBuf, err := cache.Bread(dev, BBlock(rootAddr, sb))
	require.NoError(t, err)
	bitmapBuf.Data[(rootAddr%BPB)/8] |= 1 << ((rootAddr % BPB) % 8)
	require.NoError(t, cache.Bwrite(bitmapBuf))
	cache.Brelse(bitmapBuf)

	mtab := vfs.NewMountTable()
	icache := vfs.NewCache(64, mtab)
	chars := vfs.NewCharSwitch()
	fs := New(cache, icache, mtab, chars)

	root, err := fs.BootRoot(dev, 0)
	require.NoError(t, err)
	return fs, root
}

func TestSuperblockEncodeDecodeRoundTrip(t *testing.T) {
	sb := testLayout(1024, 200)
	sb.VolumeUUID[0] = 0xAB
	got := decodeSuperblock(encodeSuperblock(sb))
	require.Equal(t, sb, got)
}

func TestIBlockAndBBlockArithmetic(t *testing.T) {
	sb := testLayout(1024, 200)
	require.Equal(t, sb.InodeStart, IBlock(0, sb))
	require.Equal(t, sb.InodeStart, IBlock(IPB-1, sb))
	require.Equal(t, sb.InodeStart+1, IBlock(IPB, sb))
	require.Equal(t, sb.BmapStart, BBlock(0, sb))
	require.Equal(t, sb.BmapStart+1, BBlock(BPB, sb))
}

func TestBootRootYieldsLockableDirectory(t *testing.T) {
	fs, root := newFormattedFS(t, 1024, 200)
	defer root.UnlockPut()

	require.NoError(t, root.Lock())
	require.Equal(t, vfs.Dir, root.Type)
	require.Equal(t, uint64(2*vfs.DirentSize), root.Size)

	entries, err := vfs.GenericReaddir(root)
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name] = true
	}
	require.True(t, names["."])
	require.True(t, names[".."])
	_ = fs
}

func TestIallocBallocUnderLogBracket(t *testing.T) {
	fs, root := newFormattedFS(t, 1024, 200)
	defer root.Put()

	log := fs.LogFor(0)
	log.BeginOp()
	ip, err := fs.ialloc(0, vfs.File)
	require.NoError(t, err)
	require.NoError(t, log.EndOp())
	defer ip.Put()

	require.NoError(t, ip.Lock())
	require.Equal(t, vfs.File, ip.Type)
	ip.Unlock()

	log.BeginOp()
	blockno, err := fs.balloc(0)
	require.NoError(t, err)
	require.NoError(t, log.EndOp())
	require.NotZero(t, blockno)
}

func TestDirlinkDirlookupRoundTrip(t *testing.T) {
	fs, root := newFormattedFS(t, 1024, 200)
	defer root.UnlockPut()
	require.NoError(t, root.Lock())

	log := fs.LogFor(0)
	log.BeginOp()
	child, err := fs.ialloc(0, vfs.File)
	require.NoError(t, err)
	require.NoError(t, child.Lock())
	child.Nlink = 1
	require.NoError(t, fs.iupdate(child))
	require.NoError(t, vfs.GenericDirlink(root, "greeting", child.Inum))
	require.NoError(t, log.EndOp())
	defer child.UnlockPut()

	found, _, err := fs.dirlookup(root, "greeting")
	require.NoError(t, err)
	defer found.Put()
	require.Equal(t, child.Inum, found.Inum)
}

// TestWriteReadSpansIndirectBoundary writes content across the
// NDIRECT/single-indirect boundary and reads it back, exercising
// bmap's indirect-block allocation path.
func TestWriteReadSpansIndirectBoundary(t *testing.T) {
	fs, root := newFormattedFS(t, 4096, 200)
	defer root.Put()

	log := fs.LogFor(0)
	log.BeginOp()
	ip, err := fs.ialloc(0, vfs.File)
	require.NoError(t, err)
	require.NoError(t, ip.Lock())
	ip.Nlink = 1
	require.NoError(t, fs.iupdate(ip))
	require.NoError(t, log.EndOp())
	defer ip.UnlockPut()

	// Grow the file one block per transaction, two blocks past the
	// direct-address table into single-indirect space. Writes must be
	// sequential: writei rejects offsets beyond the current size.
	pattern := func(bn uint32) byte { return byte(bn*7 + 3) }
	for bn := uint32(0); bn < NDIRECT+2; bn++ {
		chunk := bytes.Repeat([]byte{pattern(bn)}, BlockSize)
		log.BeginOp()
		n, err := fs.writei(ip, chunk, uint64(bn)*BlockSize)
		require.NoError(t, err)
		require.Equal(t, BlockSize, n)
		require.NoError(t, log.EndOp())
	}

	got := make([]byte, 1)
	for _, off := range []uint64{0, BlockSize - 1, NDIRECT * BlockSize, (NDIRECT+2)*BlockSize - 1} {
		n, err := fs.readi(ip, got, off)
		require.NoError(t, err)
		require.Equal(t, 1, n)
		require.Equalf(t, pattern(uint32(off/BlockSize)), got[0], "offset %d", off)
	}
}

func TestIsDirEmpty(t *testing.T) {
	fs, root := newFormattedFS(t, 1024, 200)
	defer root.UnlockPut()
	require.NoError(t, root.Lock())

	require.True(t, fs.isDirEmpty(root))

	log := fs.LogFor(0)
	log.BeginOp()
	child, err := fs.ialloc(0, vfs.File)
	require.NoError(t, err)
	require.NoError(t, child.Lock())
	child.Nlink = 1
	require.NoError(t, fs.iupdate(child))
	require.NoError(t, vfs.GenericDirlink(root, "occupant", child.Inum))
	require.NoError(t, log.EndOp())
	defer child.UnlockPut()

	require.False(t, fs.isDirEmpty(root))
}

func TestBfreeDoubleFreePanics(t *testing.T) {
	fs, root := newFormattedFS(t, 1024, 200)
	defer root.Put()

	log := fs.LogFor(0)
	log.BeginOp()
	blockno, err := fs.balloc(0)
	require.NoError(t, err)
	require.NoError(t, fs.bfree(0, blockno))
	require.NoError(t, log.EndOp())

	log.BeginOp()
	defer log.EndOp()
	require.Panics(t, func() { fs.bfree(0, blockno) })
}
