// Package dir implements directory entries and path resolution
// (spec.md §4.10) on top of the fs package's inode layer. A directory's
// data is a flat sequence of fixed-width {inum, name} records; lookups,
// links, and emptiness checks are linear scans, matching the teacher's
// preference for simple arrays over balanced structures in the hot
// kernel path.
package dir

import (
	"golang.org/x/text/unicode/norm"

	"bpath"
	"defs"
	"fs"
	"ustr"
)

// / DIRSIZ is the maximum length, in bytes, of one path component stored
// in a directory entry.
const DIRSIZ = 14

// / direntSize is the on-disk size of one directory entry: a u16 inode
// number followed by a DIRSIZ-byte, NUL-padded name.
const direntSize = 2 + DIRSIZ

// / encodeName NFC-normalizes name and truncates/zero-pads it to DIRSIZ
// bytes, so that differently-composed but canonically-equal UTF-8 names
// (e.g. "é" as one codepoint vs. "e"+combining-acute) land on the same
// directory slot.
func encodeName(name ustr.Ustr) [DIRSIZ]byte {
	var out [DIRSIZ]byte
	normalized := norm.NFC.Bytes([]byte(name))
	n := len(normalized)
	if n > DIRSIZ {
		n = DIRSIZ
	}
	copy(out[:], normalized[:n])
	return out
}

func decodeEntry(raw []byte) (inum int, name [DIRSIZ]byte) {
	inum = int(raw[0]) | int(raw[1])<<8
	copy(name[:], raw[2:2+DIRSIZ])
	return
}

func encodeEntry(raw []byte, inum int, name [DIRSIZ]byte) {
	raw[0] = uint8(inum)
	raw[1] = uint8(inum >> 8)
	copy(raw[2:2+DIRSIZ], name[:])
}

func nameEq(stored [DIRSIZ]byte, want [DIRSIZ]byte) bool {
	return stored == want
}

// / Lookup linearly scans dp (which must be a directory, already locked
// by the caller) for name, returning the child's (not yet locked) inode
// handle and the byte offset of its directory entry.
func Lookup(ic *fs.Icache_t, dp *fs.Inode_t, name ustr.Ustr) (*fs.Inode_t, int, defs.Err_t) {
	if dp.Type != defs.T_DIR {
		return nil, 0, defs.ENonDirectoryPathComponent
	}
	want := encodeName(name)
	raw := make([]byte, direntSize)
	for off := 0; off < int(dp.Size); off += direntSize {
		n, err := ic.Readi(dp, raw, off)
		if err != 0 {
			return nil, 0, err
		}
		if n != direntSize {
			break
		}
		inum, stored := decodeEntry(raw)
		if inum == 0 {
			continue
		}
		if nameEq(stored, want) {
			return ic.Iget(dp.Dev, inum), off, 0
		}
	}
	return nil, 0, defs.EFsEntryNotFound
}

// / Link writes a {inum, name} entry into the first free (inum==0) slot
// of dp, or appends one, after confirming name is not already present.
// Caller holds dp's lock and is inside a transaction.
func Link(ic *fs.Icache_t, dp *fs.Inode_t, name ustr.Ustr, inum int) defs.Err_t {
	if _, _, err := Lookup(ic, dp, name); err == 0 {
		return defs.ECreateAlreadyExists
	}
	want := encodeName(name)
	raw := make([]byte, direntSize)
	off := 0
	for ; off < int(dp.Size); off += direntSize {
		n, err := ic.Readi(dp, raw, off)
		if err != 0 {
			return err
		}
		if n != direntSize {
			break
		}
		if i, _ := decodeEntry(raw); i == 0 {
			break
		}
	}
	encodeEntry(raw, inum, want)
	_, err := ic.Writei(dp, raw, off)
	return err
}

// / Unlinkentry clears the directory entry at off (used when removing a
// name from its parent). Caller holds dp's lock and is inside a
// transaction.
func Unlinkentry(ic *fs.Icache_t, dp *fs.Inode_t, off int) defs.Err_t {
	var zero [direntSize]byte
	_, err := ic.Writei(dp, zero[:], off)
	return err
}

// / IsEmpty reports whether dp (a locked directory) contains only "." and
// "..".
func IsEmpty(ic *fs.Icache_t, dp *fs.Inode_t) bool {
	raw := make([]byte, direntSize)
	for off := 2 * direntSize; off < int(dp.Size); off += direntSize {
		n, err := ic.Readi(dp, raw, off)
		if err != 0 || n != direntSize {
			return false
		}
		if inum, _ := decodeEntry(raw); inum != 0 {
			return false
		}
	}
	return true
}

// / Resolve walks path component by component, starting at root if path
// is absolute and cwd otherwise, locking, looking up, unlocking, and
// releasing each intermediate directory as it goes. It returns the final
// inode, not locked.
func Resolve(ic *fs.Icache_t, root, cwd *fs.Inode_t, path ustr.Ustr) (*fs.Inode_t, defs.Err_t) {
	if len(path) > bpath.MaxPathLen {
		return nil, defs.EPathTooLong
	}
	start := cwd
	if path.IsAbsolute() {
		start = root
	}
	cur := ic.Iget(start.Dev, start.Inum) // take our own pin on the starting point

	comps := bpath.Split(path)
	for _, c := range comps {
		if !bpath.Valid(c) {
			ic.Iput(cur)
			return nil, defs.EInvalidFilename
		}
		ic.Ilock(cur)
		if cur.Type != defs.T_DIR {
			ic.Iunlock(cur)
			ic.Iput(cur)
			return nil, defs.ENonDirectoryPathComponent
		}
		next, _, err := Lookup(ic, cur, c)
		ic.Iunlock(cur)
		ic.Iput(cur)
		if err != 0 {
			return nil, err
		}
		cur = next
	}
	return cur, 0
}

// / ResolveParent resolves all but the last component of path and
// returns the parent directory (not locked) plus the final component.
func ResolveParent(ic *fs.Icache_t, root, cwd *fs.Inode_t, path ustr.Ustr) (*fs.Inode_t, ustr.Ustr, defs.Err_t) {
	comps := bpath.Split(path)
	if len(comps) == 0 {
		return nil, nil, defs.ECreateRootDir
	}
	last := comps[len(comps)-1]
	if !bpath.Valid(last) {
		return nil, nil, defs.EInvalidFilename
	}
	trimmed := path
	for len(trimmed) > 1 && trimmed[len(trimmed)-1] == '/' {
		trimmed = trimmed[:len(trimmed)-1]
	}
	parentPath := trimmed[:len(trimmed)-len(last)]
	parent, err := Resolve(ic, root, cwd, parentPath)
	if err != 0 {
		return nil, nil, err
	}
	return parent, last, 0
}

// / InitRoot populates a freshly mkfs'd root inode with "." and ".."
// entries pointing at itself. Caller holds root's lock.
func InitRoot(ic *fs.Icache_t, log *fs.Log_t, root *fs.Inode_t) defs.Err_t {
	log.Begin_tx()
	defer log.End_tx()
	if err := Link(ic, root, ustr.MkUstrDot(), root.Inum); err != 0 {
		return err
	}
	if err := Link(ic, root, ustr.DotDot, root.Inum); err != 0 {
		return err
	}
	root.Nlink = 2
	ic.Iupdate(root)
	return 0
}
