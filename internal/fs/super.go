package fs

import (
	"encoding/binary"

	"github.com/talus-os/talus/internal/mem"
)

// Superblock_t represents the on-disk super block of a filesystem: one
// block of 8-byte fields at the start of the device, after the boot
// block.
type Superblock_t struct {
	Data *mem.Bytepg_t
}

func fieldr(d *mem.Bytepg_t, field int) int {
	off := field * 8
	return int(binary.LittleEndian.Uint64(d[off : off+8]))
}

func fieldw(d *mem.Bytepg_t, field int, v int) {
	off := field * 8
	binary.LittleEndian.PutUint64(d[off:off+8], uint64(v))
}

// Loglen returns the length of the on-disk log in blocks.
func (sb *Superblock_t) Loglen() int { return fieldr(sb.Data, 0) }

// Logstart returns the starting block of the log.
func (sb *Superblock_t) Logstart() int { return fieldr(sb.Data, 1) }

// Imapblock returns the starting block of the inode bitmap.
func (sb *Superblock_t) Imapblock() int { return fieldr(sb.Data, 2) }

// Imaplen returns the length of the inode bitmap.
func (sb *Superblock_t) Imaplen() int { return fieldr(sb.Data, 3) }

// Freeblock gives the starting block of the free block bitmap.
func (sb *Superblock_t) Freeblock() int { return fieldr(sb.Data, 4) }

// Freeblocklen returns the length of the free block bitmap.
func (sb *Superblock_t) Freeblocklen() int { return fieldr(sb.Data, 5) }

// Inodeblock returns the first block containing inodes.
func (sb *Superblock_t) Inodeblock() int { return fieldr(sb.Data, 6) }

// Inodelen reports the number of blocks containing inodes.
func (sb *Superblock_t) Inodelen() int { return fieldr(sb.Data, 7) }

// Lastblock returns the address of the last block on the device.
func (sb *Superblock_t) Lastblock() int { return fieldr(sb.Data, 8) }

// Rootinode returns the inode number of the root directory.
func (sb *Superblock_t) Rootinode() int { return fieldr(sb.Data, 9) }

// SetLoglen updates the log length field.
func (sb *Superblock_t) SetLoglen(n int) { fieldw(sb.Data, 0, n) }

// SetLogstart stores the starting block of the log.
func (sb *Superblock_t) SetLogstart(n int) { fieldw(sb.Data, 1, n) }

// SetImapblock stores the starting block of the inode bitmap.
func (sb *Superblock_t) SetImapblock(n int) { fieldw(sb.Data, 2, n) }

// SetImaplen writes the length of the inode bitmap.
func (sb *Superblock_t) SetImaplen(n int) { fieldw(sb.Data, 3, n) }

// SetFreeblock stores the start block of the free block bitmap.
func (sb *Superblock_t) SetFreeblock(n int) { fieldw(sb.Data, 4, n) }

// SetFreeblocklen writes the free block bitmap length.
func (sb *Superblock_t) SetFreeblocklen(n int) { fieldw(sb.Data, 5, n) }

// SetInodeblock stores the first inode-table block.
func (sb *Superblock_t) SetInodeblock(n int) { fieldw(sb.Data, 6, n) }

// SetInodelen writes the number of inode blocks.
func (sb *Superblock_t) SetInodelen(n int) { fieldw(sb.Data, 7, n) }

// SetLastblock stores the address of the last block on the disk.
func (sb *Superblock_t) SetLastblock(n int) { fieldw(sb.Data, 8, n) }

// SetRootinode stores the root directory's inode number.
func (sb *Superblock_t) SetRootinode(n int) { fieldw(sb.Data, 9, n) }
