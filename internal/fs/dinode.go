package fs

import "encoding/binary"

// On-disk inode types, stored in Dinode_t.Type.
const (
	I_UNUSED  = 0
	I_FILE    = 1
	I_DIR     = 2
	I_DEV     = 3
	I_SYMLINK = 4
	I_SOCKET  = 5
)

// NDIRECT is the number of direct block pointers an inode carries.
// NINDIRECT and NDINDIRECT size the singly- and doubly-indirect
// blocks; together they give MAXFILEBLK = 1548 blocks (about 6MiB with
// 4KiB blocks) without needing the doubly-indirect block to itself be
// densely populated in the common case.
const (
	NDIRECT    = 12
	NINDIRECT  = BSIZE / 4
	NDINDIRECT = 512 // capped well below NINDIRECT^2; more than enough headroom for a 4MiB file
	MAXFILEBLK = NDIRECT + NINDIRECT + NDINDIRECT
)

// dinode field byte offsets within one on-disk inode record.
const (
	diType   = 0
	diMajor  = 2
	diMinor  = 4
	diNlink  = 6
	diSize   = 8
	diAddrs  = 12
	diAtime  = diAddrs + (NDIRECT+2)*4
	diMtime  = diAtime + 8
	diCtime  = diMtime + 8
	DINODESZ = 128 // diCtime+8 rounded up for block-aligned packing
)

// IPB is the number of inodes packed into one disk block.
const IPB = BSIZE / DINODESZ

// Dinode_t is a view over one inode's bytes within an inode-table
// block; it never owns memory of its own.
type Dinode_t struct {
	Data []byte
}

func diAt(b []byte, inum int) Dinode_t {
	off := (inum % IPB) * DINODESZ
	return Dinode_t{Data: b[off : off+DINODESZ]}
}

func (d Dinode_t) Type() int    { return int(binary.LittleEndian.Uint16(d.Data[diType:])) }
func (d Dinode_t) Major() int   { return int(binary.LittleEndian.Uint16(d.Data[diMajor:])) }
func (d Dinode_t) Minor() int   { return int(binary.LittleEndian.Uint16(d.Data[diMinor:])) }
func (d Dinode_t) Nlink() int   { return int(binary.LittleEndian.Uint16(d.Data[diNlink:])) }
func (d Dinode_t) Size() int    { return int(binary.LittleEndian.Uint32(d.Data[diSize:])) }
func (d Dinode_t) Atime() int64 { return int64(binary.LittleEndian.Uint64(d.Data[diAtime:])) }
func (d Dinode_t) Mtime() int64 { return int64(binary.LittleEndian.Uint64(d.Data[diMtime:])) }
func (d Dinode_t) Ctime() int64 { return int64(binary.LittleEndian.Uint64(d.Data[diCtime:])) }

func (d Dinode_t) Addr(i int) int {
	off := diAddrs + i*4
	return int(binary.LittleEndian.Uint32(d.Data[off:]))
}

func (d Dinode_t) SetType(v int)  { binary.LittleEndian.PutUint16(d.Data[diType:], uint16(v)) }
func (d Dinode_t) SetMajor(v int) { binary.LittleEndian.PutUint16(d.Data[diMajor:], uint16(v)) }
func (d Dinode_t) SetMinor(v int) { binary.LittleEndian.PutUint16(d.Data[diMinor:], uint16(v)) }
func (d Dinode_t) SetNlink(v int) { binary.LittleEndian.PutUint16(d.Data[diNlink:], uint16(v)) }
func (d Dinode_t) SetSize(v int)  { binary.LittleEndian.PutUint32(d.Data[diSize:], uint32(v)) }
func (d Dinode_t) SetAtime(v int64) {
	binary.LittleEndian.PutUint64(d.Data[diAtime:], uint64(v))
}
func (d Dinode_t) SetMtime(v int64) {
	binary.LittleEndian.PutUint64(d.Data[diMtime:], uint64(v))
}
func (d Dinode_t) SetCtime(v int64) {
	binary.LittleEndian.PutUint64(d.Data[diCtime:], uint64(v))
}
func (d Dinode_t) SetAddr(i, v int) {
	off := diAddrs + i*4
	binary.LittleEndian.PutUint32(d.Data[off:], uint32(v))
}

// DIRSIZ bounds a directory entry's name field.
const DIRSIZ = 28

// direntsz is the on-disk size of one (inum, name) directory record.
const direntsz = 2 + DIRSIZ

// NDIRENTS is the number of directory entries packed into one block.
const NDIRENTS = BSIZE / direntsz

// Dirdata_t views a directory block as a sequence of fixed-size
// (u16 inum, name[DIRSIZ]) records, mirroring the teacher's own
// Dirdata_t/Filename(j) shape referenced (but not defined) in the
// retrieved ufs.go.
type Dirdata_t struct {
	Data []byte
}

func (dd Dirdata_t) entry(i int) []byte {
	off := i * direntsz
	return dd.Data[off : off+direntsz]
}

// Inum returns the i'th entry's inode number, or 0 if unused.
func (dd Dirdata_t) Inum(i int) int {
	return int(binary.LittleEndian.Uint16(dd.entry(i)))
}

// Filename returns the i'th entry's name, trimmed of trailing NULs, or
// nil if the slot is unused.
func (dd Dirdata_t) Filename(i int) []byte {
	if dd.Inum(i) == 0 {
		return nil
	}
	e := dd.entry(i)[2:]
	n := 0
	for n < len(e) && e[n] != 0 {
		n++
	}
	return e[:n]
}

// SetEntry writes an (inum, name) record into slot i.
func (dd Dirdata_t) SetEntry(i, inum int, name []byte) {
	e := dd.entry(i)
	binary.LittleEndian.PutUint16(e[:2], uint16(inum))
	nb := e[2:]
	for j := range nb {
		nb[j] = 0
	}
	copy(nb, name)
}
