package prof

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/talus-os/talus/internal/defs"
)

type fakeSnapshot []struct {
	pid           defs.Pid_t
	name          string
	userns, sysns int64
}

func (s fakeSnapshot) EachProc(f func(pid defs.Pid_t, name string, userns, sysns int64)) {
	for _, r := range s {
		f(r.pid, r.name, r.userns, r.sysns)
	}
}

func TestBuildProducesOneSamplePerProcess(t *testing.T) {
	snap := fakeSnapshot{
		{pid: 1, name: "init", userns: 10, sysns: 20},
		{pid: 2, name: "sh", userns: 30, sysns: 40},
	}

	p := Build(snap)
	require.Len(t, p.Sample, 2)
	require.Equal(t, []int64{10, 20}, p.Sample[0].Value)
	require.Equal(t, []string{"1"}, p.Sample[0].Label["pid"])
	require.Equal(t, []int64{30, 40}, p.Sample[1].Value)
}

func TestDumpSnapshotLoadSnapshotRoundTrip(t *testing.T) {
	snap := fakeSnapshot{
		{pid: 1, name: "init", userns: 10, sysns: 20},
		{pid: 7, name: "sh", userns: 300, sysns: 4},
	}

	var buf bytes.Buffer
	require.NoError(t, DumpSnapshot(&buf, snap))

	loaded, err := LoadSnapshot(&buf)
	require.NoError(t, err)

	var got []string
	loaded.EachProc(func(pid defs.Pid_t, name string, userns, sysns int64) {
		got = append(got, pidString(pid)+"/"+name)
		require.NotZero(t, userns+sysns)
	})
	require.Equal(t, []string{"1/init", "7/sh"}, got)
}

func TestLoadSnapshotRejectsMalformedLine(t *testing.T) {
	_, err := LoadSnapshot(bytes.NewBufferString("1,init,10\n"))
	require.Error(t, err)
}

func TestWriteToProducesNonEmptyProfile(t *testing.T) {
	snap := fakeSnapshot{{pid: 1, name: "init", userns: 5, sysns: 5}}
	var buf bytes.Buffer
	require.NoError(t, WriteTo(&buf, snap))
	require.NotZero(t, buf.Len())
}
