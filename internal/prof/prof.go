// Package prof dumps per-process CPU accounting as a pprof profile.
// internal/defs reserves the D_PROF device number for it, but no device
// node serves it; cmd/talus saves a DumpSnapshot through --prof-dump
// instead. The teacher
// depends directly on github.com/google/pprof/profile but nothing in
// the retrieved pack actually builds a profile.Profile; this gives
// that dependency a concrete home, sampling the same Userns/Sysns
// counters internal/accnt already accumulates for rusage instead of
// introducing a second accounting path.
package prof

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"sync/atomic"

	"github.com/google/pprof/profile"

	"github.com/talus-os/talus/internal/defs"
)

// Snapshot_i is the slice of internal/proc.Kern_t a profile dump
// needs: every live process's identity and accumulated CPU time.
// Satisfied structurally by *proc.Kern_t so this package never
// imports internal/proc.
type Snapshot_i interface {
	EachProc(f func(pid defs.Pid_t, name string, userns, sysns int64))
}

// Build constructs a pprof CPU profile with one sample per live
// process: two value types (user and system nanoseconds) and a single
// synthetic call-stack location per process, tagged with its pid and
// name the way a "cpu" profile tags in-process goroutine stacks.
func Build(k Snapshot_i) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "user-cpu", Unit: "nanoseconds"},
			{Type: "sys-cpu", Unit: "nanoseconds"},
		},
		PeriodType: &profile.ValueType{Type: "process", Unit: "count"},
		Period:     1,
	}

	var nextID uint64
	k.EachProc(func(pid defs.Pid_t, name string, userns, sysns int64) {
		nextID++
		fn := &profile.Function{ID: nextID, Name: name}
		loc := &profile.Location{
			ID:   nextID,
			Line: []profile.Line{{Function: fn, Line: int64(pid)}},
		}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{userns, sysns},
			Label:    map[string][]string{"pid": {pidString(pid)}},
		})
	})
	return p
}

// WriteTo builds a profile snapshot and writes it gzip-compressed
// protobuf encoding to w, the same format pprof -http reads.
func WriteTo(w io.Writer, k Snapshot_i) error {
	return Build(k).Write(w)
}

func pidString(pid defs.Pid_t) string {
	// hand-rolled decimal formatting for the pid label.
	if pid == 0 {
		return "0"
	}
	neg := pid < 0
	if neg {
		pid = -pid
	}
	var buf [20]byte
	i := len(buf)
	for pid > 0 {
		i--
		buf[i] = byte('0' + pid%10)
		pid /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// DumpSnapshot writes one CSV line per live process ("pid,name,userns,
// sysns") to w. This is the on-disk form a running talus kernel leaves
// behind at shutdown (--prof-dump) for cmd/mkfs's profdump subcommand
// to read later and turn into a pprof profile, since the live process
// table itself does not survive the kernel process exiting.
func DumpSnapshot(w io.Writer, k Snapshot_i) error {
	bw := bufio.NewWriter(w)
	var werr error
	k.EachProc(func(pid defs.Pid_t, name string, userns, sysns int64) {
		if werr != nil {
			return
		}
		_, werr = fmt.Fprintf(bw, "%d,%s,%d,%d\n", pid, name, userns, sysns)
	})
	if werr != nil {
		return werr
	}
	return bw.Flush()
}

// procRec is one parsed line of a DumpSnapshot file.
type procRec struct {
	pid           defs.Pid_t
	name          string
	userns, sysns int64
}

// staticSnapshot implements Snapshot_i over records already loaded
// into memory, letting LoadSnapshot's output feed straight into Build
// the same way a live *proc.Kern_t does.
type staticSnapshot []procRec

func (s staticSnapshot) EachProc(f func(pid defs.Pid_t, name string, userns, sysns int64)) {
	for _, r := range s {
		f(r.pid, r.name, r.userns, r.sysns)
	}
}

// LoadSnapshot parses a file written by DumpSnapshot back into a
// Snapshot_i, for offline profile reconstruction.
func LoadSnapshot(r io.Reader) (Snapshot_i, error) {
	var recs staticSnapshot
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		var pid, userns, sysns int64
		var name string
		// split on commas manually: names never contain commas (they
		// come from ProcData_t.Name, a bare program basename).
		fields := make([]string, 0, 4)
		start := 0
		for i := 0; i <= len(line); i++ {
			if i == len(line) || line[i] == ',' {
				fields = append(fields, line[start:i])
				start = i + 1
			}
		}
		if len(fields) != 4 {
			return nil, fmt.Errorf("prof: malformed snapshot line %q", line)
		}
		var err error
		if pid, err = strconv.ParseInt(fields[0], 10, 64); err != nil {
			return nil, err
		}
		name = fields[1]
		if userns, err = strconv.ParseInt(fields[2], 10, 64); err != nil {
			return nil, err
		}
		if sysns, err = strconv.ParseInt(fields[3], 10, 64); err != nil {
			return nil, err
		}
		recs = append(recs, procRec{pid: defs.Pid_t(pid), name: name, userns: userns, sysns: sysns})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// LoadNs atomically reads a counter accnt.Accnt_t exposes as a plain
// int64 field, mirroring the load Fetch() does under its own lock
// without requiring callers to take that lock just to read one field.
func LoadNs(counter *int64) int64 {
	return atomic.LoadInt64(counter)
}
