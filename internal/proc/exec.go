package proc

import (
	"github.com/talus-os/talus/internal/defs"
	"github.com/talus-os/talus/internal/signal"
	"github.com/talus-os/talus/internal/vm"
)

// Exec replaces p's program image: a fresh address space, the signal
// handler table reset to default (except entries explicitly set to
// SIG_IGN, which exec never clears), and name updated for accounting.
// On failure the old address space is left untouched and Exec returns
// a non-zero error with a zero status, exactly like the real exec(2)
// returning -1 while the calling process continues running its old
// image.
//
// On success there is no "old image" to return to: newProg stands in
// for the freshly loaded binary's entire execution, so the returned
// int is the process's final exit status, and the caller (itself
// running as prog, from inside the process being replaced) must return
// it immediately rather than executing anything further — mirroring
// exec(2) never returning to its caller on success.
func (k *Kern_t) Exec(p *Proc_t, name string, argv []string, newProg UserProg_f) (int, defs.Err_t) {
	as, err := vm.NewAddrspace()
	if err != 0 {
		return 0, err
	}

	p.Data.Lock()
	old := p.Data.As
	p.Data.As = as
	p.Data.Name = name
	p.Data.Argv = argv
	p.Data.Unlock()
	old.Uvmfree()
	p.CloexecFds()

	p.Lock()
	for i := range p.SigHandlers {
		if p.SigHandlers[i].Addr != signal.SIG_IGN {
			p.SigHandlers[i] = Handler_t{Addr: signal.SIG_DFL}
		}
	}
	p.Unlock()

	return newProg(p), 0
}
