// Command mkfs builds and populates a talus disk image from a host
// skeleton directory, the hosted equivalent of the teacher's mkfs
// utility (mkfs/mkfs.go): that tool concatenated a bootloader, kernel
// image and skeleton tree into one bootable image with ufs.MkDisk;
// this kernel boots hosted (cmd/talus mounts a plain file), so mkfs's
// only job is laying out and populating the filesystem region itself.
// It also carries two small offline inspection tools that piggyback
// on the same image/journal machinery: fsstat (block-cache occupancy)
// and profdump (turn a --prof-dump accounting snapshot into a pprof
// profile).
package main

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/spf13/cobra"

	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/fd"
	talusfs "github.com/talus-os/talus/internal/fs"
	"github.com/talus-os/talus/internal/prof"
	"github.com/talus-os/talus/internal/ustr"
	"github.com/talus-os/talus/internal/vm"
)

// Default image layout, matching config.Default's JournalBlocks and a
// generous inode/data region for a skeleton userland tree.
const (
	defaultLogBlocks   = 2048
	defaultInodeBlocks = 200
	defaultDataBlocks  = 40000
)

func main() {
	root := &cobra.Command{
		Use:   "mkfs",
		Short: "Build and inspect talus disk images",
	}
	root.AddCommand(mkfsCmd(), fsstatCmd(), profdumpCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func mkfsCmd() *cobra.Command {
	var logBlocks, inodeBlocks, dataBlocks int
	cmd := &cobra.Command{
		Use:   "mkfs <image> <skeldir>",
		Short: "Create (or add to) a disk image from a host directory tree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return buildImage(args[0], args[1], logBlocks, inodeBlocks, dataBlocks)
		},
	}
	cmd.Flags().IntVar(&logBlocks, "log-blocks", defaultLogBlocks, "journal region size in blocks")
	cmd.Flags().IntVar(&inodeBlocks, "inode-blocks", defaultInodeBlocks, "inode table size in blocks")
	cmd.Flags().IntVar(&dataBlocks, "data-blocks", defaultDataBlocks, "data region size in blocks")
	return cmd
}

// buildImage locks the image file's .lock sibling (so two mkfs runs
// against the same image are serialized; talus itself does not take
// this lock), mounts/formats it, then walks
// skeldir and replicates it into the mounted filesystem the way the
// teacher's addfiles did against ufs.Ufs_t.
func buildImage(image, skeldir string, logBlocks, inodeBlocks, dataBlocks int) error {
	lockf, err := os.OpenFile(image+".lock", os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("opening lock file: %w", err)
	}
	defer lockf.Close()
	if err := unix.Flock(int(lockf.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("locking %s: %w", image, err)
	}
	defer unix.Flock(int(lockf.Fd()), unix.LOCK_UN)

	disk, err := talusfs.OpenFileDisk(image, 2+logBlocks+inodeBlocks+dataBlocks)
	if err != nil {
		return fmt.Errorf("opening image: %w", err)
	}
	defer disk.Close()

	cwd, fsys, ferr := talusfs.StartFS(talusfs.DefaultBlockmem(), disk, logBlocks, inodeBlocks, dataBlocks)
	if ferr != 0 {
		return fmt.Errorf("mounting filesystem: %v", ferr)
	}
	defer fsys.StopFS()

	if err := addFiles(fsys, cwd, skeldir); err != nil {
		return err
	}
	if serr := fsys.Fs_sync(); serr != 0 {
		return fmt.Errorf("syncing filesystem: %v", serr)
	}
	return nil
}

// addFiles walks skeldir on the host and replicates its contents into
// fsys, mirroring the teacher's addfiles/copydata. cwd is the root
// Cwd_t StartFS handed back; every destination path addFiles builds
// is already absolute, so it only ever serves as an anchor.
func addFiles(fsys *talusfs.Fs_t, cwd *fd.Cwd_t, skeldir string) error {
	return filepath.WalkDir(skeldir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("walking %s: %w", path, err)
		}
		rel := strings.TrimPrefix(path, skeldir)
		rel = strings.TrimPrefix(rel, string(filepath.Separator))
		if rel == "" {
			return nil
		}
		dst := "/" + filepath.ToSlash(rel)

		if d.IsDir() {
			if derr := fsys.Fs_mkdir(ustr.Ustr(dst), 0755, cwd); derr != 0 {
				return fmt.Errorf("mkdir %s: %v", dst, derr)
			}
			return nil
		}
		return copyFile(fsys, cwd, path, dst)
	})
}

func copyFile(fsys *talusfs.Fs_t, cwd *fd.Cwd_t, src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer srcFile.Close()

	flags := defs.O_CREAT | defs.O_TRUNC | defs.O_WRONLY
	nf, ferr := fsys.Fs_open(ustr.Ustr(dst), flags, 0644, cwd, 0, 0)
	if ferr != 0 {
		return fmt.Errorf("creating %s: %v", dst, ferr)
	}
	defer nf.Fops.Close()

	buf := make([]byte, talusfs.BSIZE)
	for {
		n, rerr := srcFile.Read(buf)
		if rerr != nil && rerr != io.EOF {
			return fmt.Errorf("reading %s: %w", src, rerr)
		}
		if n > 0 {
			var fb vm.Fakeubuf_t
			fb.Fake_init(buf[:n])
			if _, werr := nf.Fops.Write(&fb); werr != 0 {
				return fmt.Errorf("writing %s: %v", dst, werr)
			}
		}
		if rerr == io.EOF {
			break
		}
	}
	return nil
}

func fsstatCmd() *cobra.Command {
	var logBlocks, inodeBlocks, dataBlocks int
	cmd := &cobra.Command{
		Use:   "fsstat <image>",
		Short: "Print block-cache occupancy and open-file counts for an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			disk, err := talusfs.OpenFileDisk(args[0], 2+logBlocks+inodeBlocks+dataBlocks)
			if err != nil {
				return fmt.Errorf("opening image: %w", err)
			}
			defer disk.Close()
			_, fsys, ferr := talusfs.StartFS(talusfs.DefaultBlockmem(), disk, logBlocks, inodeBlocks, dataBlocks)
			if ferr != 0 {
				return fmt.Errorf("mounting filesystem: %v", ferr)
			}
			defer fsys.StopFS()
			inodes, blocks := fsys.Sizes()
			fmt.Printf("%s\n", fsys.Fs_statistics())
			fmt.Printf("cached-blocks=%d cached-inodes=%d\n", blocks, inodes)
			return nil
		},
	}
	cmd.Flags().IntVar(&logBlocks, "log-blocks", defaultLogBlocks, "journal region size in blocks")
	cmd.Flags().IntVar(&inodeBlocks, "inode-blocks", defaultInodeBlocks, "inode table size in blocks")
	cmd.Flags().IntVar(&dataBlocks, "data-blocks", defaultDataBlocks, "data region size in blocks")
	return cmd
}

func profdumpCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "profdump <snapshot>",
		Short: "Convert a --prof-dump accounting snapshot into a pprof profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening snapshot: %w", err)
			}
			defer f.Close()
			snap, lerr := prof.LoadSnapshot(f)
			if lerr != nil {
				return fmt.Errorf("parsing snapshot: %w", lerr)
			}

			var w io.Writer = os.Stdout
			if out != "" {
				of, cerr := os.Create(out)
				if cerr != nil {
					return fmt.Errorf("creating output: %w", cerr)
				}
				defer of.Close()
				w = of
			}
			return prof.WriteTo(w, snap)
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output path for the pprof profile (defaults to stdout)")
	return cmd
}
