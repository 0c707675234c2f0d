// Package klog is the kernel-wide structured logger: a slog.Handler
// in the style of smoynes-elsie's internal/log package (a hand-written
// Handler.Handle that lays out fields vertically over a mutex-guarded
// writer) that additionally mirrors every record into a page-backed
// circbuf.Circbuf_t ring, so the in-kernel dmesg log survives as bytes
// readable through Handler.Dmesg even when the process's stderr is not
// being watched.
package klog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/talus-os/talus/internal/circbuf"
	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/mem"
)

// Level is re-exported so callers don't need to import log/slog
// directly just to set the verbosity.
type Level = slog.Level

// LogLevel is the live, changeable minimum level; callers adjust it at
// runtime (e.g. from a "logcrash" syscall or boot manifest field)
// without rebuilding the logger.
var LogLevel = &slog.LevelVar{}

// Handler writes formatted records to out and mirrors the same bytes
// into a fixed-size ring buffer.
type Handler struct {
	mu   sync.Mutex
	out  io.Writer
	ring *circbuf.Circbuf_t
	opts slog.HandlerOptions
}

// NewHandler constructs a Handler writing to out and mirroring into a
// newly allocated one-page dmesg ring.
func NewHandler(out io.Writer, pagemem mem.Page_i) *Handler {
	ring := &circbuf.Circbuf_t{}
	ring.Cb_init(mem.PGSIZE, pagemem)
	return &Handler{
		out:  out,
		ring: ring,
		opts: slog.HandlerOptions{Level: LogLevel},
	}
}

// Enabled reports whether a record at level would be emitted.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

// Handle formats one record and writes it to both the configured
// writer and the dmesg ring.
func (h *Handler) Handle(_ context.Context, rec slog.Record) error {
	buf := bytes.NewBuffer(make([]byte, 0, 256))
	fmt.Fprintf(buf, "%s %-5s %s", rec.Time.Format(time.RFC3339Nano), rec.Level, rec.Message)
	rec.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(buf, " %s=%v", a.Key, a.Value)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	h.out.Write(buf.Bytes())
	h.ringWrite(buf.Bytes())
	return nil
}

// ringWrite appends b to the dmesg ring, dropping the oldest bytes
// when the ring is full (dmesg is best-effort, never blocking).
func (h *Handler) ringWrite(b []byte) {
	if err := h.ring.Cb_ensure(); err != 0 {
		return
	}
	for len(b) > 0 && h.ring.Full() {
		h.ring.Advtail(1)
	}
	n := len(b)
	if n > h.ring.Left() {
		h.ring.Advtail(n - h.ring.Left())
	}
	src := &fakeReader{b}
	h.ring.Copyin(src)
}

// Dmesg returns the current contents of the in-kernel dmesg ring.
func (h *Handler) Dmesg() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out bytes.Buffer
	h.ring.Copyout(&bufWriter{&out})
	return out.Bytes()
}

// WithAttrs/WithGroup are no-ops beyond slog's own attr/group
// plumbing: talus never nests handler groups, so every record is
// formatted flat.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *Handler) WithGroup(name string) slog.Handler       { return h }

// fakeReader adapts a byte slice to fdops.Userio_i for Circbuf_t's
// Copyin, used here for writing into the dmesg ring from kernel
// memory rather than user memory.
type fakeReader struct{ b []byte }

func (f *fakeReader) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, f.b)
	f.b = f.b[n:]
	return n, 0
}
func (f *fakeReader) Uiowrite([]uint8) (int, defs.Err_t) { panic("read-only") }
func (f *fakeReader) Remain() int                        { return len(f.b) }
func (f *fakeReader) Totalsz() int                        { return len(f.b) }

// bufWriter adapts a bytes.Buffer to the same interface for reading
// the ring back out.
type bufWriter struct{ b *bytes.Buffer }

func (w *bufWriter) Uioread([]uint8) (int, defs.Err_t) { panic("write-only") }
func (w *bufWriter) Uiowrite(src []uint8) (int, defs.Err_t) {
	n, _ := w.b.Write(src) // bytes.Buffer.Write never errors
	return n, 0
}
func (w *bufWriter) Remain() int  { return 1 << 30 }
func (w *bufWriter) Totalsz() int { return 1 << 30 }

// New builds the default logger: records flow to out and into the
// ring; Dmesg reads back the ring via the returned *Handler.
func New(out io.Writer, pagemem mem.Page_i) (*slog.Logger, *Handler) {
	h := NewHandler(out, pagemem)
	return slog.New(h), h
}
