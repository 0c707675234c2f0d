package fs

import (
	"encoding/binary"
	"sync"
)

// MAXOPBLOCKS bounds how many distinct blocks a single transaction
// (one begin_op/end_op bracket) may dirty, matching spec.md §6's
// MAXOPBLOCKS build-time constant.
const MAXOPBLOCKS = 10

// crashAt, when non-empty, names the journal commit stage at which the
// next Commit should panic with crashFault, simulating a power loss.
// Tests set this directly (the package is not exported as a public
// knob since nothing outside test code should ever touch it) and
// recover the panic, then reopen the log over the same disk to drive
// recovery.
var crashAt string

type crashFault struct{ stage string }

func crashStage(stage string) {
	if crashAt == stage {
		panic(crashFault{stage})
	}
}

// SetCrashStage arms a deterministic crash at the named commit stage,
// for use by tests exercising spec.md §4.8's recovery contract. Valid
// stages: "blocks-written", "commit-written", "installed". An empty
// string disarms it.
func SetCrashStage(stage string) { crashAt = stage }

// Log_t is the single global journal described in spec.md §4.8: a
// fixed region of disk used for write-ahead logging of metadata
// transactions, tracking how many nested begin_op calls are
// outstanding and the set of blocks dirtied since the last commit.
// New construction: the teacher's own journal (fs.go) did not survive
// retrieval, so this follows spec.md's state diagram directly, in the
// idiom of the surrounding fs/blk.go types.
type Log_t struct {
	mu        sync.Mutex
	cond      *sync.Cond
	bc        *Bcache_t
	start     int // first block of the log region (the header block)
	size      int // total blocks in the log region, header included
	dev       int

	outstanding int  // number of begin_op calls not yet matched by end_op
	committing  bool // a commit is in progress; new begin_ops must wait
	absorbed    []int
	seen        map[int]bool
}

// NewLog constructs a journal over the disk region [start, start+size).
func NewLog(bc *Bcache_t, start, size, dev int) *Log_t {
	l := &Log_t{bc: bc, start: start, size: size, dev: dev, seen: map[int]bool{}}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// Recover replays a committed-but-not-installed transaction found in
// the log header, satisfying spec.md §4.8's "recovery at boot replays
// any committed-but-not-installed log."
func (l *Log_t) Recover() {
	lbns := l.readHead()
	if len(lbns) == 0 {
		return
	}
	l.installBlocks(lbns)
	l.clearHead()
}

// readHead parses the header block: a count followed by that many
// destination block numbers, one per logged data block.
func (l *Log_t) readHead() []int {
	hb := l.bc.Get(l.start, "log-head", false)
	defer hb.Done("log-head")
	n := int(binary.LittleEndian.Uint32(hb.Data[0:4]))
	if n <= 0 {
		return nil
	}
	lbns := make([]int, n)
	for i := 0; i < n; i++ {
		lbns[i] = int(binary.LittleEndian.Uint32(hb.Data[4+i*4:]))
	}
	return lbns
}

func (l *Log_t) writeHead(lbns []int) {
	hb := l.bc.Get(l.start, "log-head", true)
	binary.LittleEndian.PutUint32(hb.Data[0:4], uint32(len(lbns)))
	for i, lbn := range lbns {
		binary.LittleEndian.PutUint32(hb.Data[4+i*4:], uint32(lbn))
	}
	hb.Write()
	hb.Done("log-head")
}

func (l *Log_t) clearHead() {
	hb := l.bc.Get(l.start, "log-head", true)
	binary.LittleEndian.PutUint32(hb.Data[0:4], 0)
	hb.Write()
	hb.Done("log-head")
}

func (l *Log_t) installBlocks(lbns []int) {
	for i, lbn := range lbns {
		logb := l.bc.Get(l.start+1+i, "log-data", false)
		homeb := l.bc.Get(lbn, "log-install", true)
		copy(homeb.Data[:], logb.Data[:])
		homeb.Write()
		homeb.Done("log-install")
		logb.Done("log-data")
	}
}

// Begin_op blocks while either a commit is in progress or admitting
// another transaction could overflow the log region, per spec.md
// §4.8's state diagram.
func (l *Log_t) Begin_op() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		if l.committing {
			l.cond.Wait()
			continue
		}
		if (l.outstanding+1)*MAXOPBLOCKS > l.size-1 {
			l.cond.Wait()
			continue
		}
		l.outstanding++
		return
	}
}

// Log_write records b for deferred writeback inside the current
// transaction. The caller must hold b locked (typically just fetched
// via the Bcache_t) and must call End_op before releasing it back to
// the cache's normal eviction path.
func (l *Log_t) Log_write(b *Bdev_block_t) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen[b.Block] {
		return
	}
	if len(l.absorbed) >= l.size-1 {
		panic("transaction too big for the log")
	}
	l.seen[b.Block] = true
	l.absorbed = append(l.absorbed, b.Block)
}

// End_op matches a Begin_op. On the last matching End_op (outstanding
// drops to zero) it performs the three-stage commit: flush dirty
// blocks into the log region, write the commit header, install at
// home locations, then clear the header — each stage checked against
// SetCrashStage so tests can interrupt mid-commit.
func (l *Log_t) End_op() {
	l.mu.Lock()
	l.outstanding--
	docommit := false
	if l.outstanding == 0 {
		docommit = true
		l.committing = true
	} else {
		l.cond.Broadcast()
	}
	l.mu.Unlock()

	if !docommit {
		return
	}

	l.mu.Lock()
	lbns := l.absorbed
	l.absorbed = nil
	l.seen = map[int]bool{}
	l.mu.Unlock()

	if len(lbns) > 0 {
		for i, lbn := range lbns {
			cacheb := l.bc.Get(lbn, "log-commit", false)
			logb := l.bc.Get(l.start+1+i, "log-data", true)
			copy(logb.Data[:], cacheb.Data[:])
			logb.Write()
			logb.Done("log-data")
			cacheb.Done("log-commit")
		}
		crashStage("blocks-written")

		l.writeHead(lbns)
		crashStage("commit-written")

		l.installBlocks(lbns)
		crashStage("installed")

		l.clearHead()
	}

	l.mu.Lock()
	l.committing = false
	l.cond.Broadcast()
	l.mu.Unlock()
}
