package proc

import "github.com/talus-os/talus/internal/defs"

// Getpgrp returns p's process group id.
func (p *Proc_t) Getpgrp() defs.Pid_t {
	p.Lock()
	defer p.Unlock()
	return p.Pgid
}

// isSessionLeaderLocked reports whether p is the leader of its own
// session (Pid == Sid); p.Mutex must be held.
func (p *Proc_t) isSessionLeaderLocked() bool {
	return p.Pid == p.Sid
}

// Setpgid moves the process at pid into group pgid (or, if pgid == 0,
// makes it the leader of a new group named after its own pid). Per
// spec.md §4.7 it only succeeds if target is the caller itself or one
// of its children, target is not a session leader, and target is in
// the caller's session.
func (k *Kern_t) Setpgid(caller *Proc_t, pid, pgid defs.Pid_t) defs.Err_t {
	target := caller
	if pid != 0 && pid != caller.Pid {
		t := k.Table.Get(pid)
		if t == nil {
			return -defs.ESRCH
		}
		if k.Table.Parent(pid) != caller.Pid {
			return -defs.EPERM
		}
		target = t
	}

	caller.Lock()
	callerSid := caller.Sid
	caller.Unlock()

	target.Lock()
	defer target.Unlock()
	if target.isSessionLeaderLocked() {
		return -defs.EPERM
	}
	if target.Sid != callerSid {
		return -defs.EPERM
	}
	if pgid == 0 {
		target.Pgid = target.Pid
	} else {
		target.Pgid = pgid
	}
	return 0
}

// Setsid makes caller the leader of a brand new session and process
// group (Pid == Pgid == Sid), failing if caller already leads its
// group.
func (k *Kern_t) Setsid(caller *Proc_t) (defs.Pid_t, defs.Err_t) {
	caller.Lock()
	defer caller.Unlock()
	if caller.Pgid == caller.Pid {
		return 0, -defs.EPERM
	}
	caller.Pgid = caller.Pid
	caller.Sid = caller.Pid
	return caller.Pid, 0
}

// PgidInSession reports whether group pgid has any member in session
// sid, used by terminal job control to validate a candidate foreground
// group before tcsetpgrp installs it.
func (k *Kern_t) PgidInSession(pgid, sid defs.Pid_t) bool {
	found := false
	k.Table.Each(func(p *Proc_t) {
		p.Lock()
		if p.Pgid == pgid && p.Sid == sid {
			found = true
		}
		p.Unlock()
	})
	return found
}
