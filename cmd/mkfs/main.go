// Command mkfs formats a fresh s5 filesystem image: superblock, log
// region, inode table, free-block bitmap, and a root directory with
// "." and ".." wired up. The layout is derived from s5fs's own
// IBlock/BBlock helpers, so mkfs and the mount path can never disagree
// about where the tables live.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gokernelfs/govfs/bcache"
	"github.com/gokernelfs/govfs/blockdev"
	"github.com/gokernelfs/govfs/s5fs"
	"github.com/gokernelfs/govfs/txlog"
	"github.com/gokernelfs/govfs/vfs"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mkfs:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var size int
	var ninodes int

	cmd := &cobra.Command{
		Use:   "mkfs IMAGE",
		Short: "Format a fresh s5 filesystem image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return format(args[0], size, ninodes)
		},
	}
	cmd.Flags().IntVar(&size, "size", 1024, "total image size, in blocks")
	cmd.Flags().IntVar(&ninodes, "ninodes", 200, "number of inodes to provision")
	return cmd
}

// layout computes the fixed block ranges mkfs lays an s5 image out
// into: boot block, superblock, log (header + txlog.LogSize slots),
// inode table, free-block bitmap, then data.
func layout(size, ninodes uint32) s5fs.Superblock {
	nlog := uint32(1 + txlog.LogSize)
	logStart := uint32(2)
	ninodeBlocks := (ninodes + s5fs.IPB - 1) / s5fs.IPB
	inodeStart := logStart + nlog
	bmapStart := inodeStart + ninodeBlocks

	return s5fs.Superblock{
		Size:       size,
		NBlocks:    size,
		NInodes:    ninodes,
		NLog:       nlog,
		LogStart:   logStart,
		InodeStart: inodeStart,
		BmapStart:  bmapStart,
		VolumeUUID: uuid.New(),
	}
}

func format(path string, sizeBlocks, ninodes int) error {
	if sizeBlocks <= 0 || ninodes <= 0 {
		return fmt.Errorf("mkfs: size and ninodes must be positive")
	}

	dev, err := blockdev.OpenFileDevice(1, 1, path)
	if err != nil {
		return err
	}
	defer dev.Close()
	if err := dev.Truncate(sizeBlocks); err != nil {
		return fmt.Errorf("mkfs: truncate: %w", err)
	}

	queue := blockdev.NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- queue.Run(ctx) }()
	defer func() {
		cancel()
		queue.Close()
		<-done
	}()

	cache := bcache.New(64, queue)

	sb := layout(uint32(sizeBlocks), uint32(ninodes))
	dataStart := sb.BmapStart + (sb.NBlocks+s5fs.BPB-1)/s5fs.BPB
	if dataStart >= sb.NBlocks {
		return fmt.Errorf("mkfs: image too small for %d inodes", ninodes)
	}

	if err := zeroRange(cache, dev, 0, sb.NBlocks); err != nil {
		return err
	}
	if err := s5fs.WriteSB(cache, dev, sb); err != nil {
		return err
	}

	// Every block before dataStart is reserved (boot block, superblock,
	// log, inode table, bitmap itself); mark each used so balloc, which
	// trusts the bitmap completely, never hands one out as free data.
	for b := uint32(0); b < dataStart; b++ {
		if err := markBlockUsed(cache, dev, sb, b); err != nil {
			return err
		}
	}

	rootAddr := dataStart
	if err := writeRootDir(cache, dev, rootAddr); err != nil {
		return err
	}
	if err := writeRootDinode(cache, dev, sb, rootAddr); err != nil {
		return err
	}
	if err := markBlockUsed(cache, dev, sb, rootAddr); err != nil {
		return err
	}

	fmt.Printf("mkfs: formatted %s: %d blocks, %d inodes, volume %s\n", path, sb.NBlocks, sb.NInodes, sb.VolumeUUID)
	return nil
}

func zeroRange(cache *bcache.Cache, dev blockdev.Device, from, to uint32) error {
	zero := make([]byte, blockdev.BlockSize)
	for b := from; b < to; b++ {
		buf, err := cache.Bread(dev, b)
		if err != nil {
			return fmt.Errorf("mkfs: zero block %d: %w", b, err)
		}
		copy(buf.Data, zero)
		if err := cache.Bwrite(buf); err != nil {
			cache.Brelse(buf)
			return err
		}
		cache.Brelse(buf)
	}
	return nil
}

func writeRootDir(cache *bcache.Cache, dev blockdev.Device, blockno uint32) error {
	buf, err := cache.Bread(dev, blockno)
	if err != nil {
		return err
	}
	var dot, dotdot vfs.Dirent
	dot.Inum = s5fs.ROOTINO
	dot.SetName(".")
	dotdot.Inum = s5fs.ROOTINO
	dotdot.SetName("..")
	copy(buf.Data[0:vfs.DirentSize], dot.Encode())
	copy(buf.Data[vfs.DirentSize:2*vfs.DirentSize], dotdot.Encode())
	err = cache.Bwrite(buf)
	cache.Brelse(buf)
	return err
}

func writeRootDinode(cache *bcache.Cache, dev blockdev.Device, sb s5fs.Superblock, dataBlock uint32) error {
	block := s5fs.IBlock(s5fs.ROOTINO, sb)
	buf, err := cache.Bread(dev, block)
	if err != nil {
		return err
	}
	defer cache.Brelse(buf)

	s5fs.WriteRootDinode(buf.Data, sb, dataBlock)
	return cache.Bwrite(buf)
}

func markBlockUsed(cache *bcache.Cache, dev blockdev.Device, sb s5fs.Superblock, blockno uint32) error {
	bitmapBlock := s5fs.BBlock(blockno, sb)
	buf, err := cache.Bread(dev, bitmapBlock)
	if err != nil {
		return err
	}
	bi := blockno % s5fs.BPB
	buf.Data[bi/8] |= 1 << (bi % 8)
	err = cache.Bwrite(buf)
	cache.Brelse(buf)
	return err
}
