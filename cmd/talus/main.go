// Command talus boots the kernel: it brings up the physical allocator,
// mounts (or formats) the on-disk filesystem, wires every subsystem
// into a syscall dispatcher, starts one scheduler goroutine per
// simulated hart, and spawns the init process. It is the "user boot"
// stage of the dependency order every other package exists to serve;
// nothing upstream of this file has a live entry point of its own.
package main

import (
	"fmt"
	"log/slog"
	stdnet "net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/talus-os/talus/internal/config"
	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/fs"
	"github.com/talus-os/talus/internal/klog"
	"github.com/talus-os/talus/internal/mem"
	"github.com/talus-os/talus/internal/net"
	"github.com/talus-os/talus/internal/proc"
	"github.com/talus-os/talus/internal/prof"
	"github.com/talus-os/talus/internal/seat"
	"github.com/talus-os/talus/internal/sem"
	"github.com/talus-os/talus/internal/shm"
	"github.com/talus-os/talus/internal/trap"
)

func main() {
	var cfgPath string
	var memDisk bool
	var profDump string

	root := &cobra.Command{
		Use:   "talus",
		Short: "Boot the talus kernel",
		Long: `talus assembles the kernel's subsystems (physical memory,
the filesystem and its journal, the scheduler, the syscall dispatcher)
and runs until interrupted, the hosted equivalent of a RISC-V image
being loaded by a boot ROM and jumping to kernel_main.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return boot(cfgPath, memDisk, profDump)
		},
	}
	root.Flags().StringVar(&cfgPath, "config", "", "YAML config manifest (overlays built-in defaults)")
	root.Flags().BoolVar(&memDisk, "memdisk", false, "back the filesystem with an in-memory disk instead of the config's disk_path image file")
	root.Flags().StringVar(&profDump, "prof-dump", "", "on shutdown, write a per-process CPU accounting snapshot here (read it back with mkfs profdump)")

	if err := root.Execute(); err != nil {
		slog.Error("boot failed", "err", err)
		os.Exit(1)
	}
}

func boot(cfgPath string, memDisk bool, profDump string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	config.Active = cfg

	logger, handler := klog.New(os.Stdout, mem.Physmem)
	slog.SetDefault(logger)
	_ = handler // retained for a future SYS_OPEN("/dev/klog") hookup

	mem.Phys_init()
	slog.Info("physical memory initialized", "reserved_pages", cfg.ReservedPages, "ncpu", cfg.NCPU)

	var disk fs.Disk_i
	if memDisk {
		disk = fs.NewMemDisk()
	} else {
		d, err := fs.OpenFileDisk(cfg.DiskPath, 8192)
		if err != nil {
			return fmt.Errorf("opening disk image: %w", err)
		}
		disk = d
	}

	cwd, fsys, ferr := fs.StartFS(fs.DefaultBlockmem(), disk, cfg.JournalBlocks, 0, 0)
	if ferr != 0 {
		return fmt.Errorf("mounting filesystem: %v", ferr)
	}
	slog.Info("filesystem mounted", "disk", cfg.DiskPath)

	kern := proc.NewKern(cfg.NCPU)
	stack := net.NewStack(net.MAC{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}, net.MakeIP(10, 0, 2, 15), net.MakeIP(255, 255, 255, 0), net.MakeIP(10, 0, 2, 2))
	seats := seat.NewRegistry(1, kern)

	var dfsClient *fs.Dfs_t
	if cfg.DfsHost != "" {
		if dfsIP := stdnet.ParseIP(cfg.DfsHost).To4(); dfsIP != nil {
			dfsClient = fs.NewDfs(stack, net.MakeIP(dfsIP[0], dfsIP[1], dfsIP[2], dfsIP[3]), uint16(cfg.DfsPort))
			slog.Info("remote filesystem client ready", "host", cfg.DfsHost, "port", cfg.DfsPort)
		} else {
			slog.Warn("ignoring unparseable dfs_host", "dfs_host", cfg.DfsHost)
		}
	}

	sys := &trap.Sys_t{
		Kern: kern,
		Fs:   fsys,
		Net:  stack,
		Shm:  &shm.Table_t{},
		Sem:  &sem.Table_t{},
		Seat: seats,
		Dfs:  dfsClient,
	}
	stop := make(chan struct{})
	for i := 0; i < cfg.NCPU; i++ {
		go kern.RunCPU(i, stop)
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				kern.Tick()
			}
		}
	}()

	shutdown := make(chan struct{})
	initp, perr := kern.UserInit("init", func(p *proc.Proc_t) int {
		p.Data.Cwd = cwd
		// init's only job is reaping orphans; it drives that through
		// sys.Syscall's SYS_WAIT case, the same register-ABI entry
		// point any real user binary would ecall through, rather than
		// calling kern.Wait directly.
		waitTf := &trap.Trapframe_t{Regs: [8]int{0, 0, 0, 0, 0, 0, 0, int(defs.SYS_WAIT)}}
		for {
			select {
			case <-shutdown:
				return 0
			default:
			}
			if ret := sys.Syscall(p, waitTf); ret == -int(defs.ECHILD) {
				p.Yield()
				continue
			}
		}
	})
	if perr != 0 {
		close(stop)
		return fmt.Errorf("starting init: %v", perr)
	}
	slog.Info("init started", "pid", initp.Pid)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	slog.Info("shutting down")
	close(shutdown)
	close(stop)
	if profDump != "" {
		if f, err := os.Create(profDump); err != nil {
			slog.Error("prof dump: opening output", "err", err)
		} else {
			if err := prof.DumpSnapshot(f, kern); err != nil {
				slog.Error("prof dump: writing snapshot", "err", err)
			}
			f.Close()
		}
	}
	fsys.StopFS()
	return nil
}
