package proc

import (
	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/signal"
)

// deliverSignalsLocked implements spec.md §4.6's deliver_signals,
// called by the scheduler immediately before dispatching p each
// quantum. p.Mutex must already be held; it may be released and
// re-acquired internally while a user handler's Fn runs (there is no
// trapframe to save here, so the "save current trap frame, jump to
// handler" step is just an ordinary nested Go call).
func deliverSignalsLocked(p *Proc_t) {
	if p.SigActive || p.SigPending == 0 {
		return
	}
	sig := 0
	for s := 1; s <= signal.NSIG; s++ {
		if p.SigPending&signal.Mask(s) != 0 {
			sig = s
			break
		}
	}
	if sig == 0 {
		return
	}
	p.SigPending &^= signal.Mask(sig)
	h := p.SigHandlers[sig-1]

	if sig == signal.SIGKILL {
		p.terminateLocked(sig)
		return
	}
	if h.Addr == signal.SIG_IGN {
		return
	}
	if sig == signal.SIGCONT {
		if p.State == Stopped {
			p.k.makeRunnableLocked(p)
		}
		p.ContPending = true
		return
	}
	if h.Addr == signal.SIG_DFL {
		switch signal.Default(sig) {
		case signal.ActTerminate:
			p.terminateLocked(sig)
		case signal.ActStop:
			p.StopSig = sig
			p.StopReported = false
			p.State = Stopped
			if parent := p.k.Table.Parent(p.Pid); parent != 0 {
				p.Unlock()
				Wakeup(waitKey(parent))
				p.Lock()
			}
		case signal.ActContinue, signal.ActIgnore:
		}
		return
	}

	p.SigActive = true
	fn := h.Fn
	p.Unlock()
	if fn != nil {
		fn(sig)
	}
	p.Lock()
	p.SigActive = false
}

// terminateLocked marks p a zombie with a signal-style exit status
// (128+sig, the same convention a POSIX shell reports); p.Mutex must
// be held.
func (p *Proc_t) terminateLocked(sig int) {
	p.ExitStatus = 128 + sig
	p.State = Zombie
	p.Note.Lock()
	p.Note.Alive = false
	p.Note.Unlock()
}

// Sigaction installs a new handler for sig, returning the previous
// one's address (so callers that just want to probe the current
// disposition can pass a handler equal to the current one).
func (k *Kern_t) Sigaction(p *Proc_t, sig int, addr, restorer uintptr, fn func(int)) (uintptr, defs.Err_t) {
	if !signal.Valid(sig) || sig == signal.SIGKILL {
		return 0, -defs.EINVAL
	}
	p.Lock()
	defer p.Unlock()
	old := p.SigHandlers[sig-1].Addr
	p.SigHandlers[sig-1] = Handler_t{Addr: addr, Restorer: restorer, Fn: fn}
	return old, 0
}

// Sigreturn is a no-op in this model: deliverSignalsLocked calls a
// user handler's Fn as an ordinary nested function call and resumes
// exactly where it left off once Fn returns, so there is no saved
// trapframe to restore. It exists so callers porting the real
// sigreturn(2) ABI have a single entry point to call.
func (k *Kern_t) Sigreturn(p *Proc_t) defs.Err_t {
	return 0
}

// Setitimer installs a periodic alarm: SIGALRM fires once initial
// ticks have elapsed, then again every interval ticks thereafter (0
// disables repetition). It returns the number of ticks remaining on
// the previous alarm, 0 if none was set.
func (k *Kern_t) Setitimer(p *Proc_t, initial, interval int64) int64 {
	p.Lock()
	defer p.Unlock()
	var remaining int64
	if p.AlarmDeadline != 0 {
		now := k.Ticks()
		if p.AlarmDeadline > now {
			remaining = p.AlarmDeadline - now
		}
	}
	if initial <= 0 {
		p.AlarmDeadline = 0
		p.AlarmInterval = 0
	} else {
		p.AlarmDeadline = k.Ticks() + initial
		p.AlarmInterval = interval
	}
	return remaining
}

// onTick runs alarm delivery for every live process once per global
// tick, per spec.md §6's SupervisorSoft handling: any process whose
// alarm deadline has elapsed, and that is not stopped/unused/zombie,
// gets SIGALRM OR'd into its pending mask, is reprogrammed if its
// interval is nonzero, and is woken if it was sleeping.
func (k *Kern_t) onTick(now int64) {
	k.Table.Each(func(p *Proc_t) {
		p.Lock()
		if p.State == Unused || p.State == Zombie || p.State == Stopped {
			p.Unlock()
			return
		}
		if p.AlarmDeadline == 0 || p.AlarmDeadline > now {
			p.Unlock()
			return
		}
		p.SigPending |= signal.Mask(signal.SIGALRM)
		if p.AlarmInterval > 0 {
			p.AlarmDeadline = now + p.AlarmInterval
		} else {
			p.AlarmDeadline = 0
		}
		var key any
		if p.State == Sleeping {
			key = p.waitKey
		}
		p.Unlock()
		if key != nil {
			Wakeup(key)
		}
	})
}
