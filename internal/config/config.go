// Package config holds the kernel's build-time tunables. Defaults
// match the teacher's hardcoded constants; a manifest file (in YAML,
// parsed with gopkg.in/yaml.v3) can override them before boot, the way
// a from-source Go kernel build is usually configured with a single
// top-level knob file rather than scattered flags.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Cfg_t holds the tunables read at boot.
type Cfg_t struct {
	// NCPU is the number of simulated harts (cores) the scheduler
	// spreads run queues and physical-page free lists across.
	NCPU int `yaml:"ncpu"`
	// ReservedPages is the number of 4K pages the physical allocator
	// carves out of the backing arena at boot.
	ReservedPages int `yaml:"reserved_pages"`
	// DiskPath is the backing file for the block device the
	// filesystem mounts as the root device.
	DiskPath string `yaml:"disk_path"`
	// JournalBlocks is the number of blocks reserved for the
	// filesystem's circular journal.
	JournalBlocks int `yaml:"journal_blocks"`
	// LogLevel controls internal/klog's minimum emitted level:
	// "debug", "info", "warn" or "error".
	LogLevel string `yaml:"log_level"`
	// DfsHost is the dfs_server this kernel dials for paths under
	// /dfs; empty disables the remote mount entirely (SYS_OPEN et al.
	// on /dfs fail ENOENT), matching dfs.rs's DFS_HOST constant when
	// set.
	DfsHost string `yaml:"dfs_host"`
	// DfsPort is the TCP port dfs_server listens on, matching dfs.rs's
	// DFS_PORT_BASE.
	DfsPort int `yaml:"dfs_port"`
}

// Default returns the built-in configuration, matching the teacher's
// compiled-in defaults.
func Default() *Cfg_t {
	return &Cfg_t{
		NCPU:          8,
		ReservedPages: 1 << 16,
		DiskPath:      "talus.img",
		JournalBlocks: 2048,
		LogLevel:      "info",
		DfsHost:       "10.0.2.15",
		DfsPort:       7000,
	}
}

// Load reads a YAML manifest at path, overlaying it onto Default. A
// missing file is not an error; the defaults are returned unchanged.
func Load(path string) (*Cfg_t, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return c, nil
}

// Active is the configuration in effect for this boot. internal/mem
// reads it in Phys_init; it must not be mutated after that has run.
var Active = Default()
