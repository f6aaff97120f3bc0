// Package txlog implements the write-ahead log that makes multi-block
// updates atomic across crashes for the native (s5fs) backend.
// ext2fs never calls into this package: it is a read-only backend.
package txlog

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/gokernelfs/govfs/bcache"
	"github.com/gokernelfs/govfs/blockdev"
)

// MaxOpBlocks is the worst-case number of distinct blocks a single
// transaction may log (MAXOPBLOCKS in the original kernel).
const MaxOpBlocks = 10

// LogSize is the total number of data blocks (excluding the header
// block) the log region holds. BeginOp blocks until there is room
// for another transaction's worst-case budget under this ceiling.
const LogSize = 3 * MaxOpBlocks

// Log is the in-memory log state bound to one mounted native
// filesystem's log region. start is the block number of the header;
// the size data blocks immediately follow it.
type Log struct {
	mu          sync.Mutex
	cond        *sync.Cond
	dev         blockdev.Device
	cache       *bcache.Cache
	start       uint32
	size        int
	outstanding int
	committing  bool

	// logged maps a home block number to the log-slot buffer
	// currently holding its pending contents, preserving the
	// "last write wins, single copy per block" semantics log_write
	// gives the original kernel.
	logged map[uint32]*bcache.Buf
	order  []uint32
}

// header is the on-disk commit record: how many blocks are logged and
// which home block each log slot belongs to. Writing it is the
// transaction's commit point.
type header struct {
	n      int32
	blocks [LogSize]int32
}

func (h *header) encode() []byte {
	buf := make([]byte, blockdev.BlockSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(h.n))
	for i := 0; i < int(h.n); i++ {
		binary.LittleEndian.PutUint32(buf[4+4*i:8+4*i], uint32(h.blocks[i]))
	}
	return buf
}

func decodeHeader(buf []byte) header {
	var h header
	h.n = int32(binary.LittleEndian.Uint32(buf[0:4]))
	for i := 0; i < int(h.n) && i < LogSize; i++ {
		h.blocks[i] = int32(binary.LittleEndian.Uint32(buf[4+4*i : 8+4*i]))
	}
	return h
}

// Open binds a log to its region on dev ([start, start+1+size)) and
// replays any committed-but-not-yet-applied transaction found in the
// header, so a crash between commit and install never loses the
// transaction.
func Open(dev blockdev.Device, cache *bcache.Cache, start uint32, size int) (*Log, error) {
	l := &Log{dev: dev, cache: cache, start: start, size: size, logged: make(map[uint32]*bcache.Buf)}
	l.cond = sync.NewCond(&l.mu)
	if err := l.recover(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) recover() error {
	hb, err := l.cache.Bread(l.dev, l.start)
	if err != nil {
		return fmt.Errorf("txlog: read header: %w", err)
	}
	h := decodeHeader(hb.Data)
	l.cache.Brelse(hb)

	if h.n == 0 {
		return nil
	}
	for i := 0; i < int(h.n); i++ {
		if err := l.copyLogToHome(i, uint32(h.blocks[i])); err != nil {
			return fmt.Errorf("txlog: replay: %w", err)
		}
	}
	return l.clearHeader()
}

func (l *Log) copyLogToHome(slot int, home uint32) error {
	src, err := l.cache.Bread(l.dev, l.start+1+uint32(slot))
	if err != nil {
		return err
	}
	dst, err := l.cache.Bread(l.dev, home)
	if err != nil {
		l.cache.Brelse(src)
		return err
	}
	copy(dst.Data, src.Data)
	if err := l.cache.Bwrite(dst); err != nil {
		l.cache.Brelse(src)
		l.cache.Brelse(dst)
		return err
	}
	l.cache.Brelse(src)
	l.cache.Brelse(dst)
	return nil
}

func (l *Log) clearHeader() error {
	hb, err := l.cache.Bread(l.dev, l.start)
	if err != nil {
		return err
	}
	var h header
	copy(hb.Data, h.encode())
	err = l.cache.Bwrite(hb)
	l.cache.Brelse(hb)
	return err
}

// BeginOp blocks until the log has room for another transaction's
// worst-case write budget, then marks one more transaction
// outstanding.
func (l *Log) BeginOp() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		if l.committing {
			l.cond.Wait()
			continue
		}
		if (l.outstanding+1)*MaxOpBlocks > l.size {
			l.cond.Wait()
			continue
		}
		l.outstanding++
		return
	}
}

// Write records buf's block number in the in-memory log header and
// pins it so the buffer cache cannot recycle it before commit. It
// must be called instead of bcache.Bwrite for any block modified
// inside a begin_op/end_op bracket.
func (l *Log) Write(buf *bcache.Buf) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.logged[buf.BlockNo]; !ok {
		l.order = append(l.order, buf.BlockNo)
	}
	l.logged[buf.BlockNo] = buf
	l.cache.Pin(buf)
}

// EndOp leaves a transaction. The last transaction to leave commits
// every logged block: write the header (the commit point), copy
// logged blocks to their home locations, then clear the header.
func (l *Log) EndOp() error {
	l.mu.Lock()
	doCommit := false
	l.outstanding--
	if l.outstanding == 0 {
		doCommit = true
		l.committing = true
	} else {
		l.cond.Broadcast()
	}
	l.mu.Unlock()

	if !doCommit {
		return nil
	}

	err := l.commit()

	l.mu.Lock()
	l.committing = false
	l.cond.Broadcast()
	l.mu.Unlock()
	return err
}

func (l *Log) commit() error {
	l.mu.Lock()
	order := l.order
	logged := l.logged
	l.order = nil
	l.logged = make(map[uint32]*bcache.Buf)
	l.mu.Unlock()

	if len(order) == 0 {
		return nil
	}
	if len(order) > l.size {
		panic("txlog: transaction exceeds log size")
	}

	var h header
	h.n = int32(len(order))
	for i, blockno := range order {
		h.blocks[i] = int32(blockno)
		slot := l.start + 1 + uint32(i)
		sb, err := l.cache.Bread(l.dev, slot)
		if err != nil {
			return fmt.Errorf("txlog: commit: read log slot: %w", err)
		}
		copy(sb.Data, logged[blockno].Data)
		if err := l.cache.Bwrite(sb); err != nil {
			l.cache.Brelse(sb)
			return fmt.Errorf("txlog: commit: write log slot: %w", err)
		}
		l.cache.Brelse(sb)
	}

	// Commit point: the header names every logged block.
	hb, err := l.cache.Bread(l.dev, l.start)
	if err != nil {
		return fmt.Errorf("txlog: commit: read header: %w", err)
	}
	copy(hb.Data, h.encode())
	err = l.cache.Bwrite(hb)
	l.cache.Brelse(hb)
	if err != nil {
		return fmt.Errorf("txlog: commit: write header: %w", err)
	}

	for i, blockno := range order {
		if err := l.copyLogToHome(i, blockno); err != nil {
			return fmt.Errorf("txlog: commit: install: %w", err)
		}
	}

	// Release the pins taken by Write/Pin now that home copies
	// are durable.
	for _, buf := range logged {
		l.cache.Unpin(buf)
	}

	return l.clearHeader()
}
