package vfs

import "strings"

// SkipElem copies the next path element off path.
// It returns the remaining path (with leading slashes stripped) and
// the element just consumed, truncated (never rejected) to DIRSIZ
// bytes. SkipElem("", _) and SkipElem("///", _) both return ("", "").
func SkipElem(path string) (rest, name string) {
	i := 0
	for i < len(path) && path[i] == '/' {
		i++
	}
	if i == len(path) {
		return "", ""
	}
	start := i
	for i < len(path) && path[i] != '/' {
		i++
	}
	name = path[start:i]
	if len(name) > DIRSIZ {
		name = name[:DIRSIZ]
	}
	for i < len(path) && path[i] == '/' {
		i++
	}
	return path[i:], name
}

// namex is the shared body of Namei/NameiParent, a direct port of the
// original kernel's namex: peel one component at a time, lock the
// current directory, dirlookup the next component, and, for a ".."
// component taken from a mounted filesystem's root, ascend through
// the mount table to the parent filesystem's mount-point inode
// instead of continuing along the child filesystem. root and cwd must
// already be held by the caller; namex takes its own reference via
// Dup.
func namex(path string, nameiparent bool, root, cwd *Inode, mtab *MountTable) (*Inode, string, error) {
	var ip *Inode
	if strings.HasPrefix(path, "/") {
		ip = root.Dup()
	} else {
		ip = cwd.Dup()
	}

	rest := path
	for {
		var name string
		rest, name = SkipElem(rest)
		if name == "" {
			break
		}

		if err := ip.Lock(); err != nil {
			ip.Put()
			return nil, "", err
		}
		if ip.Type != Dir {
			ip.UnlockPut()
			return nil, "", ErrNotFound
		}
		if nameiparent && rest == "" {
			ip.Unlock()
			return ip, name, nil
		}

		next, _, err := ip.IOps.Dirlookup(ip, name)
		// A ".." taken from a mounted filesystem's root does not name a
		// real entry there (the image has no notion of what it's
		// mounted onto); ascend through the mount table to the
		// mount-point inode and repeat the lookup as if we'd been there
		// all along, skipping the Dir/nameiparent checks above since mp
		// is already known to be a directory (mount() requires it).
		for err == nil && next != nil && name == ".." {
			mp, ok := mtab.MountPointFor(ip)
			if !ok {
				break
			}
			next.Put()
			ip.UnlockPut()
			ip = mp.Dup()
			if lerr := ip.Lock(); lerr != nil {
				ip.Put()
				return nil, "", lerr
			}
			next, _, err = ip.IOps.Dirlookup(ip, name)
		}
		if err != nil || next == nil {
			ip.UnlockPut()
			return nil, "", ErrNotFound
		}

		ip.UnlockPut()
		ip = next
	}

	if nameiparent {
		ip.Put()
		return nil, "", ErrNotFound
	}
	return ip, "", nil
}

// Namei resolves path to its inode. A leading "/" starts at root;
// otherwise resolution starts at cwd. Redundant slashes are
// idempotent: Namei("a//b///c") == Namei("a/b/c").
func Namei(path string, root, cwd *Inode, mtab *MountTable) (*Inode, error) {
	if path == "" {
		return nil, ErrInvalidArgument
	}
	ip, _, err := namex(path, false, root, cwd, mtab)
	return ip, err
}

// NameiParent resolves path's parent directory, returning it plus the
// final (possibly truncated) path component.
func NameiParent(path string, root, cwd *Inode, mtab *MountTable) (*Inode, string, error) {
	if path == "" {
		return nil, "", ErrInvalidArgument
	}
	return namex(path, true, root, cwd, mtab)
}
