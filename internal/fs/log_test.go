package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talus-os/talus/internal/fd"
)

// crashMidCommit writes newContent to path, arming stage so End_op's
// commit panics at that point, recovers the panic, and returns.
func crashMidCommit(t *testing.T, fsys *Fs_t, cwd *fd.Cwd_t, path string, newContent []byte, stage string) {
	t.Helper()
	SetCrashStage(stage)
	defer SetCrashStage("")
	defer func() {
		r := recover()
		require.NotNil(t, r, "commit must have panicked at stage %q", stage)
		_, ok := r.(crashFault)
		require.True(t, ok, "panic must be the crash fault, got %v", r)
	}()
	writeFile(t, fsys, cwd, path, newContent)
}

// TestLogRecoversAcrossCrashStages drives spec.md §8 scenario 2: a
// power loss during a transaction's three-stage commit, followed by a
// reboot (a fresh Fs_t mounted over the same backing disk bytes, which
// always calls Log_t.Recover on mount per fs.go's StartFS). A crash
// before the commit record is written must leave the pre-transaction
// content in place; a crash at or after the commit record is durable
// must leave the fully-written new content in place.
func TestLogRecoversAcrossCrashStages(t *testing.T) {
	cases := []struct {
		stage   string
		wantNew bool
	}{
		{"blocks-written", false},
		{"commit-written", true},
		{"installed", true},
	}

	for _, c := range cases {
		t.Run(c.stage, func(t *testing.T) {
			disk := NewMemDisk()
			cwd, fsys := mkfsOnDisk(t, disk)

			before := []byte("before-crash")
			writeFile(t, fsys, cwd, "/journal", before)
			require.Zero(t, fsys.Fs_sync())

			after := []byte("after-crash!")
			require.Equal(t, len(before), len(after), "same-length write keeps this a pure data-block rewrite")

			crashMidCommit(t, fsys, cwd, "/journal", after, c.stage)

			rcwd, rfsys := mkfsOnDisk(t, disk)
			got := readFile(t, rfsys, rcwd, "/journal", len(before))

			if c.wantNew {
				assert.Equal(t, string(after), string(got), "recovery must finish installing a transaction committed before the crash")
			} else {
				assert.Equal(t, string(before), string(got), "recovery must not apply a transaction that never reached commit-written")
			}
		})
	}
}
