// Command mount boots an s5 root image, then grafts a second
// filesystem image (s5 or ext2) onto a directory within that root's
// namespace. There is no already-running kernel to carry the mount
// across invocations, so the whole bring-up (root boot, device node
// creation, mount) happens in one process lifetime.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/moby/sys/mountinfo"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/gokernelfs/govfs/bcache"
	"github.com/gokernelfs/govfs/blockdev"
	"github.com/gokernelfs/govfs/ext2fs"
	"github.com/gokernelfs/govfs/s5fs"
	"github.com/gokernelfs/govfs/sysfile"
	"github.com/gokernelfs/govfs/vfs"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mount:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var rootImage string
	var devPath string
	var minor int

	cmd := &cobra.Command{
		Use:   "mount --root ROOTIMAGE IMAGE MOUNTPATH FSTYPE",
		Short: "Mount a filesystem image onto a directory of an s5 root image",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doMount(rootImage, args[0], args[1], args[2], devPath, minor)
		},
	}
	addMountFlags(cmd.Flags(), &rootImage, &devPath, &minor)
	cmd.MarkFlagRequired("root")
	return cmd
}

func addMountFlags(flags *pflag.FlagSet, rootImage, devPath *string, minor *int) {
	flags.StringVar(rootImage, "root", "", "path to the s5 root image to boot")
	flags.StringVar(devPath, "dev-path", "", "namespace path of the device node (default /dev/mnt<minor>)")
	flags.IntVar(minor, "minor", 1, "minor number to assign the mounted device")
}

func doMount(rootImagePath, imagePath, mountPath, fsName string, devPath string, minor int) error {
	if mounted, err := mountinfo.Mounted(rootImagePath); err == nil && mounted {
		return fmt.Errorf("mount: refusing to open %s: it is itself a live host mountpoint", rootImagePath)
	}
	if mounted, err := mountinfo.Mounted(imagePath); err == nil && mounted {
		return fmt.Errorf("mount: refusing to open %s: it is itself a live host mountpoint", imagePath)
	}

	if devPath == "" {
		devPath = fmt.Sprintf("/dev/mnt%d", minor)
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
	cache := bcache.New(128, queue)

	registry := vfs.NewRegistry()
	mtab := vfs.NewMountTable()
	vfsList := vfs.NewVFSList()
	chars := vfs.NewCharSwitch()
	icache := vfs.NewCache(256, mtab)

	s5Backend := s5fs.New(cache, icache, mtab, chars)
	ext2Backend := ext2fs.New(cache, icache, mtab, chars)
	if err := registry.Register(s5Backend.Type()); err != nil {
		return err
	}
	if err := registry.Register(ext2Backend.Type()); err != nil {
		return err
	}

	rootDev, err := blockdev.OpenFileDevice(1, 0, rootImagePath)
	if err != nil {
		return fmt.Errorf("mount: open root image: %w", err)
	}
	defer rootDev.Close()

	rootInode, err := s5Backend.BootRoot(rootDev, 0)
	if err != nil {
		return fmt.Errorf("mount: boot root: %w", err)
	}

	session := sysfile.NewSession(rootInode, mtab)
	logs := sysfile.LogsFromS5(s5Backend)

	if err := session.Mkdir(logs, "/dev"); err != nil && !isExists(err) {
		return fmt.Errorf("mount: mkdir /dev: %w", err)
	}
	if err := session.Mknod(logs, devPath, 1, minor); err != nil && !isExists(err) {
		return fmt.Errorf("mount: mknod %s: %w", devPath, err)
	}
	if err := session.Mkdir(logs, mountPath); err != nil && !isExists(err) {
		return fmt.Errorf("mount: mkdir %s: %w", mountPath, err)
	}

	// Open the mount device through the block-device switch, the same
	// step the mount syscall takes before handing the device to a
	// backend.
	var imageDev *blockdev.FileDevice
	bdevs := blockdev.NewSwitch()
	bdevs.Register(1, blockdev.Ops{
		Open: func(m int) error {
			d, err := blockdev.OpenFileDevice(1, m, imagePath)
			if err != nil {
				return err
			}
			imageDev = d
			return nil
		},
		Close: func(m int) error {
			if imageDev == nil {
				return nil
			}
			return imageDev.Close()
		},
	})
	if err := bdevs.Open(1, minor); err != nil {
		return fmt.Errorf("mount: open %s: %w", imagePath, err)
	}
	defer bdevs.Close(1, minor)

	switch fsName {
	case "s5":
		s5Backend.RegisterDevice(uint32(minor), imageDev)
	case "ext2":
		ext2Backend.RegisterDevice(uint32(minor), imageDev)
	default:
		return fmt.Errorf("mount: unknown filesystem type %q", fsName)
	}

	if err := session.Mount(registry, vfsList, devPath, mountPath, fsName); err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	fmt.Printf("mount: mounted %s (%s) on %s\n", imagePath, fsName, mountPath)
	return nil
}

// isExists reports whether err is create()'s "already exists" error:
// Mkdir/Mknod against a path created by an earlier mount invocation
// are expected to hit this, and the CLI treats it as already-done
// rather than a failure.
func isExists(err error) bool {
	return errors.Is(err, vfs.ErrInvalidArgument)
}
