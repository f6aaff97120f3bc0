package sysfile

import (
	"fmt"

	"github.com/gokernelfs/govfs/s5fs"
	"github.com/gokernelfs/govfs/vfs"
)

// File-open mode flags (O_RDONLY/O_WRONLY/O_RDWR/O_CREATE in the
// original kernel's fcntl.h).
const (
	ORdonly = 0x000
	OWronly = 0x001
	ORdwr   = 0x002
	OCreate = 0x200
)

// rootMinor is this port's ROOTDEV: cmd/mount always boots the root
// filesystem at minor 0 (see cmd/mount/main.go's BootRoot call, and
// s5fs/ext2fs's mount methods which both key their per-minor state off
// it), so the original's two-part "minor == 0 || minor == ROOTDEV"
// guard in sys_mount collapses to this single constant here.
const rootMinor = 0

// s5fsLog is the subset of *txlog.Log sysfile needs, named without
// importing txlog directly.
type s5fsLog interface {
	BeginOp()
	EndOp() error
}

// logSource resolves the write-ahead log for a device, so sysfile can
// bracket its own mutating calls in BeginOp/EndOp; the bracket
// belongs here, never inside a backend. ext2-backed paths resolve to a nil
// log (ext2 never logs); guarded by withLog below. Bound to
// *s5fs.FS.LogFor via LogsFromS5.
type logSource func(dev uint32) s5fsLog

func withLog(src logSource, dev uint32, body func() error) error {
	if src == nil {
		return body()
	}
	log := src(dev)
	if log == nil {
		return body()
	}
	log.BeginOp()
	err := body()
	if endErr := log.EndOp(); err == nil {
		err = endErr
	}
	return err
}

// Dup allocates a new descriptor referencing the same OpenFile as fd
// (sys_dup).
func (s *Session) Dup(fd int) (int, error) {
	f, err := s.file(fd)
	if err != nil {
		return -1, err
	}
	newFd, err := s.fdAlloc(f)
	if err != nil {
		return -1, err
	}
	f.ref++
	return newFd, nil
}

// Read reads up to len(dst) bytes from fd at its current offset,
// advancing it (sys_read).
func (s *Session) Read(fd int, dst []byte) (int, error) {
	f, err := s.file(fd)
	if err != nil {
		return 0, err
	}
	if !f.Readable {
		return 0, fmt.Errorf("sysfile: read: not readable: %w", vfs.ErrInvalidArgument)
	}
	f.Inode.Lock()
	n, err := f.Inode.IOps.Readi(f.Inode, dst, uint64(f.Offset))
	f.Inode.Unlock()
	if err != nil {
		return n, err
	}
	f.Offset += int64(n)
	return n, nil
}

// Write writes len(src) bytes to fd at its current offset, advancing
// it (sys_write).
func (s *Session) Write(fd int, src []byte) (int, error) {
	f, err := s.file(fd)
	if err != nil {
		return 0, err
	}
	if !f.Writable {
		return 0, fmt.Errorf("sysfile: write: not writable: %w", vfs.ErrInvalidArgument)
	}
	f.Inode.Lock()
	n, err := f.Inode.IOps.Writei(f.Inode, src, uint64(f.Offset))
	f.Inode.Unlock()
	if err != nil {
		return n, err
	}
	f.Offset += int64(n)
	return n, nil
}

// Close releases fd, dropping its OpenFile when no descriptor
// references it anymore (sys_close/fileclose).
func (s *Session) Close(fd int) error {
	f, err := s.file(fd)
	if err != nil {
		return err
	}
	s.ofile[fd] = nil
	f.ref--
	if f.ref > 0 {
		return nil
	}
	return f.Inode.Put()
}

// Fstat copies fd's inode metadata (sys_fstat).
func (s *Session) Fstat(fd int) (vfs.Stat, error) {
	f, err := s.file(fd)
	if err != nil {
		return vfs.Stat{}, err
	}
	return f.Inode.IOps.Stati(f.Inode), nil
}

// Link creates newPath as a hard link to the same inode as oldPath
// (sys_link), restoring oldPath's nlink if the second dirlink fails
// (the rollback-on-failure `bad:` path from the original).
func (s *Session) Link(logs logSource, oldPath, newPath string) error {
	ip, err := vfs.Namei(oldPath, s.Root, s.Cwd, s.Mtab)
	if err != nil {
		return fmt.Errorf("sysfile: link: %w", err)
	}

	return withLog(logs, ip.Dev, func() error {
		if err := ip.Lock(); err != nil {
			ip.Put()
			return err
		}
		if ip.Type == vfs.Dir {
			ip.UnlockPut()
			return fmt.Errorf("sysfile: link: %q is a directory: %w", oldPath, vfs.ErrInvalidArgument)
		}
		ip.Nlink++
		if err := ip.IOps.IUpdate(ip); err != nil {
			ip.UnlockPut()
			return err
		}
		ip.Unlock()

		rollback := func(linkErr error) error {
			if err := ip.Lock(); err != nil {
				ip.Put()
				return linkErr
			}
			ip.Nlink--
			ip.IOps.IUpdate(ip)
			ip.UnlockPut()
			return linkErr
		}

		dp, name, err := vfs.NameiParent(newPath, s.Root, s.Cwd, s.Mtab)
		if err != nil {
			return rollback(fmt.Errorf("sysfile: link: %w", err))
		}
		if err := dp.Lock(); err != nil {
			dp.Put()
			return rollback(err)
		}
		if dp.Dev != ip.Dev {
			dp.UnlockPut()
			return rollback(fmt.Errorf("sysfile: link: cross-device link: %w", vfs.ErrInvalidArgument))
		}
		if err := dp.IOps.Dirlink(dp, name, ip.Inum); err != nil {
			dp.UnlockPut()
			return rollback(fmt.Errorf("sysfile: link: %w", err))
		}
		dp.UnlockPut()
		ip.Put()
		return nil
	})
}

// Unlink removes the directory entry at path, refusing "." and "..",
// and refusing to remove a non-empty directory (sys_unlink).
func (s *Session) Unlink(logs logSource, path string) error {
	dp, name, err := vfs.NameiParent(path, s.Root, s.Cwd, s.Mtab)
	if err != nil {
		return fmt.Errorf("sysfile: unlink: %w", err)
	}

	return withLog(logs, dp.Dev, func() error {
		if err := dp.Lock(); err != nil {
			dp.Put()
			return err
		}

		namecmp := dp.FSType.Ops.Namecmp
		if namecmp(name, ".") == 0 || namecmp(name, "..") == 0 {
			dp.UnlockPut()
			return fmt.Errorf("sysfile: unlink: cannot unlink %q: %w", name, vfs.ErrInvalidArgument)
		}

		ip, off, err := dp.IOps.Dirlookup(dp, name)
		if err != nil {
			dp.UnlockPut()
			return fmt.Errorf("sysfile: unlink: %w", err)
		}
		if err := ip.Lock(); err != nil {
			dp.UnlockPut()
			ip.Put()
			return err
		}

		if ip.Nlink < 1 {
			panic("sysfile: unlink: nlink < 1")
		}
		if ip.Type == vfs.Dir && !ip.IOps.IsDirEmpty(ip) {
			ip.UnlockPut()
			dp.UnlockPut()
			return fmt.Errorf("sysfile: unlink: directory %q not empty: %w", name, vfs.ErrInvalidArgument)
		}

		if err := dp.IOps.Unlink(dp, off); err != nil {
			panic(fmt.Sprintf("sysfile: unlink: writei: %v", err))
		}
		if ip.Type == vfs.Dir {
			dp.Nlink--
			dp.IOps.IUpdate(dp)
		}
		dp.UnlockPut()

		ip.Nlink--
		ip.IOps.IUpdate(ip)
		ip.UnlockPut()
		return nil
	})
}

// create resolves path's parent, then either returns an existing
// plain-file match (the O_CREATE-on-existing-file case) or allocates
// a fresh inode of typ, wiring "."/".." when typ is a directory
// (the static create() helper in sysfile.c).
func create(dp *vfs.Inode, name string, typ vfs.ShortType, major, minor int) (*vfs.Inode, error) {
	if existing, _, err := dp.IOps.Dirlookup(dp, name); err == nil {
		dp.UnlockPut()
		if err := existing.Lock(); err != nil {
			existing.Put()
			return nil, err
		}
		if typ == vfs.File && existing.Type == vfs.File {
			return existing, nil
		}
		existing.UnlockPut()
		return nil, fmt.Errorf("sysfile: create: %q already exists: %w", name, vfs.ErrInvalidArgument)
	}

	ip, err := dp.FSType.Ops.IAlloc(dp.Dev, typ)
	if err != nil {
		panic(fmt.Sprintf("sysfile: create: ialloc: %v", err))
	}
	if err := ip.Lock(); err != nil {
		dp.UnlockPut()
		return nil, err
	}
	ip.Major = major
	ip.Minor = minor
	ip.Nlink = 1
	if err := ip.IOps.IUpdate(ip); err != nil {
		ip.UnlockPut()
		dp.UnlockPut()
		return nil, err
	}

	if typ == vfs.Dir {
		dp.Nlink++
		dp.IOps.IUpdate(dp)
		if err := ip.IOps.Dirlink(ip, ".", ip.Inum); err != nil {
			panic(fmt.Sprintf("sysfile: create: dirlink .: %v", err))
		}
		if err := ip.IOps.Dirlink(ip, "..", dp.Inum); err != nil {
			panic(fmt.Sprintf("sysfile: create: dirlink ..: %v", err))
		}
	}

	if err := dp.IOps.Dirlink(dp, name, ip.Inum); err != nil {
		panic(fmt.Sprintf("sysfile: create: dirlink: %v", err))
	}
	dp.UnlockPut()
	return ip, nil
}

// createAt resolves path and runs create under path's parent lock.
func createAt(s *Session, path string, typ vfs.ShortType, major, minor int) (*vfs.Inode, error) {
	dp, name, err := vfs.NameiParent(path, s.Root, s.Cwd, s.Mtab)
	if err != nil {
		return nil, fmt.Errorf("sysfile: create: %w", err)
	}
	if err := dp.Lock(); err != nil {
		dp.Put()
		return nil, err
	}
	return create(dp, name, typ, major, minor)
}

// Open opens path under flags, creating it first when O_CREATE is set
// (sys_open). Opening a directory for anything but read-only is
// rejected.
func (s *Session) Open(logs logSource, path string, flags int) (int, error) {
	var ip *vfs.Inode
	var err error

	err = withLog(logs, s.devHint(path), func() error {
		if flags&OCreate != 0 {
			ip, err = createAt(s, path, vfs.File, 0, 0)
			return err
		}
		ip, err = vfs.Namei(path, s.Root, s.Cwd, s.Mtab)
		if err != nil {
			return err
		}
		if err := ip.Lock(); err != nil {
			ip.Put()
			return err
		}
		if ip.Type == vfs.Dir && flags != ORdonly {
			ip.UnlockPut()
			return fmt.Errorf("sysfile: open: %q is a directory: %w", path, vfs.ErrInvalidArgument)
		}
		return nil
	})
	if err != nil {
		return -1, fmt.Errorf("sysfile: open: %w", err)
	}

	f := &OpenFile{
		Inode:    ip,
		Readable: flags&OWronly == 0,
		Writable: flags&OWronly != 0 || flags&ORdwr != 0,
		ref:      1,
	}
	fd, err := s.fdAlloc(f)
	ip.Unlock()
	if err != nil {
		ip.Put()
		return -1, fmt.Errorf("sysfile: open: %w", err)
	}
	return fd, nil
}

// devHint resolves path's device without holding any lock, purely so
// Open/Mkdir/Mknod know which log (if any) to bracket their mutating
// work in before they know the target inode.
func (s *Session) devHint(path string) uint32 {
	dp, _, err := vfs.NameiParent(path, s.Root, s.Cwd, s.Mtab)
	if err != nil {
		return s.Cwd.Dev
	}
	dev := dp.Dev
	dp.Put()
	return dev
}

// Mkdir creates path as a new, empty directory (sys_mkdir).
func (s *Session) Mkdir(logs logSource, path string) error {
	err := withLog(logs, s.devHint(path), func() error {
		ip, err := createAt(s, path, vfs.Dir, 0, 0)
		if err != nil {
			return err
		}
		ip.UnlockPut()
		return nil
	})
	if err != nil {
		return fmt.Errorf("sysfile: mkdir: %w", err)
	}
	return nil
}

// Mknod creates path as a new device special file with the given
// major/minor (sys_mknod).
func (s *Session) Mknod(logs logSource, path string, major, minor int) error {
	err := withLog(logs, s.devHint(path), func() error {
		ip, err := createAt(s, path, vfs.Dev, major, minor)
		if err != nil {
			return err
		}
		ip.UnlockPut()
		return nil
	})
	if err != nil {
		return fmt.Errorf("sysfile: mknod: %w", err)
	}
	return nil
}

// Chdir changes the session's working directory to path (sys_chdir).
func (s *Session) Chdir(path string) error {
	ip, err := vfs.Namei(path, s.Root, s.Cwd, s.Mtab)
	if err != nil {
		return fmt.Errorf("sysfile: chdir: %w", err)
	}
	if err := ip.Lock(); err != nil {
		ip.Put()
		return err
	}
	if ip.Type != vfs.Dir {
		ip.UnlockPut()
		return fmt.Errorf("sysfile: chdir: %q is not a directory: %w", path, vfs.ErrInvalidArgument)
	}
	ip.Unlock()

	oldCwd := s.Cwd
	s.Cwd = ip
	return oldCwd.Put()
}

// Mount resolves devPath and mountPath, looks fsName up in registry,
// and binds the two (sys_mount). Unlike the original, bdev_open is the
// caller's job (cmd/mount opens the blockdev.Device and registers it
// with the backend before calling Mount); this function only performs
// the VFS-level checks and the actual Ops.Mount call.
func (s *Session) Mount(registry *vfs.Registry, vfsList *vfs.VFSList, devPath, mountPath, fsName string) error {
	ip, err := vfs.Namei(mountPath, s.Root, s.Cwd, s.Mtab)
	if err != nil {
		return fmt.Errorf("sysfile: mount: %w", err)
	}
	devi, err := vfs.Namei(devPath, s.Root, s.Cwd, s.Mtab)
	if err != nil {
		ip.Put()
		return fmt.Errorf("sysfile: mount: %w", err)
	}

	fsType, ok := registry.Lookup(fsName)
	if !ok {
		ip.Put()
		devi.Put()
		return fmt.Errorf("sysfile: mount: unknown filesystem type %q", fsName)
	}

	if err := ip.Lock(); err != nil {
		ip.Put()
		devi.Put()
		return err
	}
	if err := devi.Lock(); err != nil {
		ip.UnlockPut()
		devi.Put()
		return err
	}

	fail := func(reason error) error {
		ip.UnlockPut()
		devi.UnlockPut()
		return fmt.Errorf("sysfile: mount: %w", reason)
	}

	if ip.Type != vfs.Dir {
		return fail(fmt.Errorf("%q is not a directory: %w", mountPath, vfs.ErrInvalidArgument))
	}
	if ip.Ref() > 1 {
		return fail(fmt.Errorf("%q is busy: %w", mountPath, vfs.ErrInvalidArgument))
	}
	if devi.Type != vfs.Dev {
		return fail(fmt.Errorf("%q is not a device: %w", devPath, vfs.ErrInvalidArgument))
	}
	if devi.Minor == rootMinor {
		return fail(fmt.Errorf("cannot mount onto the root device (minor %d): %w", rootMinor, vfs.ErrInvalidArgument))
	}

	if err := vfsList.Put(devi.Major, devi.Minor, fsType); err != nil {
		return fail(err)
	}

	if err := fsType.Ops.Mount(devi, ip); err != nil {
		vfsList.Remove(devi.Major, devi.Minor)
		return fail(err)
	}

	ip.Type = vfs.Mount
	ip.Unlock()
	devi.Unlock()
	return nil
}

// LogsFromS5 adapts an *s5fs.FS into the logSource sysfile's mutating
// calls need, so callers don't have to hand-write the closure.
func LogsFromS5(fs *s5fs.FS) logSource {
	return func(dev uint32) s5fsLog {
		log := fs.LogFor(dev)
		if log == nil {
			return nil
		}
		return log
	}
}
