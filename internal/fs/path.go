package fs

import (
	"github.com/talus-os/talus/internal/bpath"
	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/ustr"
)

// maxSymlinkDepth bounds symlink chases during path resolution, per
// spec.md §4.8: "honoring symlinks up to a fixed depth."
const maxSymlinkDepth = 8

// namex walks path one component at a time starting from root (an
// already-referenced, unlocked inode: normally the filesystem root or
// the caller's cwd), resolving a trailing symlink component up to
// maxSymlinkDepth times. When parent is true it stops one component
// short and returns the parent directory plus the final component's
// name instead of resolving it, so Fs_open/Fs_mkdir/Fs_unlink can
// share one walk with link/unlink's need for the containing directory.
//
// A symlink named by a non-final component is treated as an ordinary
// (non-directory) entry and fails component resolution with ENOTDIR;
// only a symlink as the final path component is followed. This keeps
// namex a single straight-line walk instead of needing to splice a
// resolved target back into the remaining component list.
func (fs *Fs_t) namex(path ustr.Ustr, root *Inode_t, parent bool) (*Inode_t, ustr.Ustr, defs.Err_t) {
	comps := bpath.Split(path)

	fs.ic.mu.Lock()
	root.refs++
	fs.ic.mu.Unlock()
	ip := root

	if len(comps) == 0 {
		if parent {
			return ip, ustr.MkUstr(), 0
		}
		return ip, nil, 0
	}

	for i, c := range comps {
		last := i == len(comps)-1
		if last && parent {
			return ip, ustr.Ustr(c), 0
		}

		ip.Ilock()
		if ip.Type != I_DIR {
			ip.Iunlock()
			ip.Iput()
			return nil, nil, -defs.ENOTDIR
		}
		next, _, err := fs.dirlookup(ip, c)
		ip.Iunlock()
		if err != 0 {
			ip.Iput()
			return nil, nil, err
		}
		ip.Iput()
		ip = next
	}

	return fs.followSymlink(ip, 0)
}

// followSymlink resolves ip into a non-symlink inode if it is a
// symlink, chasing a chain of symlinks up to maxSymlinkDepth.
func (fs *Fs_t) followSymlink(ip *Inode_t, depth int) (*Inode_t, ustr.Ustr, defs.Err_t) {
	ip.Ilock()
	if ip.Type != I_SYMLINK {
		ip.Iunlock()
		return ip, nil, 0
	}
	if depth >= maxSymlinkDepth {
		ip.Iunlock()
		ip.Iput()
		return nil, nil, -defs.ELOOP
	}
	buf := make([]byte, ip.Size)
	n, err := ip.Readi(buf, 0)
	ip.Iunlock()
	ip.Iput()
	if err != 0 {
		return nil, nil, err
	}
	target := ustr.Ustr(buf[:n])
	root := fs.rootInode()
	resolved, _, rerr := fs.namex(target, root, false)
	root.Iput()
	if rerr != 0 {
		return nil, nil, rerr
	}
	return fs.followSymlink(resolved, depth+1)
}
