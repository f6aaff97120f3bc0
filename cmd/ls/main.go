// Command ls lists one directory's entries directly out of a
// filesystem image. It dispatches across both backends this module
// implements, not only ext2.
package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gokernelfs/govfs/bcache"
	"github.com/gokernelfs/govfs/blockdev"
	"github.com/gokernelfs/govfs/ext2fs"
	"github.com/gokernelfs/govfs/s5fs"
	"github.com/gokernelfs/govfs/vfs"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ls:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var fsType string

	cmd := &cobra.Command{
		Use:   "ls --fstype s5|ext2 IMAGE PATH",
		Short: "List a directory's entries directly out of a filesystem image",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return list(fsType, args[0], args[1])
		},
	}
	cmd.Flags().StringVar(&fsType, "fstype", "s5", "filesystem type of the image (s5 or ext2)")
	return cmd
}

func list(fsType, imagePath, path string) error {
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

	mtab := vfs.NewMountTable()
	chars := vfs.NewCharSwitch()
	icache := vfs.NewCache(64, mtab)

	dev, err := blockdev.OpenFileDevice(1, 0, imagePath)
	if err != nil {
		return fmt.Errorf("ls: open %s: %w", imagePath, err)
	}
	defer dev.Close()

	var root *vfs.Inode
	var entries []vfs.DirEntry
	var target *vfs.Inode

	switch fsType {
	case "s5":
		fs := s5fs.New(cache, icache, mtab, chars)
		root, err = fs.BootRoot(dev, 0)
		if err != nil {
			return fmt.Errorf("ls: boot: %w", err)
		}
		defer root.Put()
		target, err = vfs.Namei(path, root, root, mtab)
		if err != nil {
			return fmt.Errorf("ls: %s: %w", path, err)
		}
		if err := target.Lock(); err != nil {
			target.Put()
			return err
		}
		entries, err = vfs.GenericReaddir(target)
		target.UnlockPut()
		if err != nil {
			return fmt.Errorf("ls: %s: %w", path, err)
		}

	case "ext2":
		fs := ext2fs.New(cache, icache, mtab, chars)
		root, err = fs.BootRoot(dev, 0)
		if err != nil {
			return fmt.Errorf("ls: boot: %w", err)
		}
		defer root.Put()
		target, err = vfs.Namei(path, root, root, mtab)
		if err != nil {
			return fmt.Errorf("ls: %s: %w", path, err)
		}
		if err := target.Lock(); err != nil {
			target.Put()
			return err
		}
		entries, err = fs.Readdir(target)
		target.UnlockPut()
		if err != nil {
			return fmt.Errorf("ls: %s: %w", path, err)
		}

	default:
		return fmt.Errorf("ls: unknown filesystem type %q", fsType)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	defer w.Flush()
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\n", e.Inum, e.Name)
	}
	return nil
}
