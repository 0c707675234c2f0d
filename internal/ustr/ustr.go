// Package ustr implements the immutable byte-string type the kernel
// uses for paths and directory-entry names, avoiding UTF-8 validation
// on every path component.
package ustr

// Ustr is a path or string used by the kernel. It is not required to be
// valid UTF-8: on-disk names are opaque byte sequences.
type Ustr []uint8

// DotDot is a reusable Ustr containing "..".
var DotDot = Ustr{'.', '.'}

// MkUstr creates an empty Ustr value.
func MkUstr() Ustr {
	return Ustr{}
}

// MkUstrDot returns a Ustr representing '.'.
func MkUstrDot() Ustr {
	return Ustr(".")
}

// MkUstrRoot returns a Ustr for the root directory '/'.
func MkUstrRoot() Ustr {
	return Ustr("/")
}

// MkUstrSlice converts a NUL-terminated byte slice to a Ustr, the form
// user-copied path arguments arrive in.
func MkUstrSlice(buf []uint8) Ustr {
	for i := 0; i < len(buf); i++ {
		if buf[i] == 0 {
			return buf[:i]
		}
	}
	return buf
}

// Isdot reports whether the string equals '.'.
func (us Ustr) Isdot() bool {
	return len(us) == 1 && us[0] == '.'
}

// Isdotdot reports whether the string equals '..'.
func (us Ustr) Isdotdot() bool {
	return len(us) == 2 && us[0] == '.' && us[1] == '.'
}

// Eq compares two Ustr values byte-for-byte.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

// Extend appends '/' and p to the current Ustr and returns the result
// as a new Ustr, leaving us untouched.
func (us Ustr) Extend(p Ustr) Ustr {
	tmp := make(Ustr, len(us), len(us)+1+len(p))
	copy(tmp, us)
	tmp = append(tmp, '/')
	return append(tmp, p...)
}

// ExtendStr appends '/' and the string p.
func (us Ustr) ExtendStr(p string) Ustr {
	return us.Extend(Ustr(p))
}

// IsAbsolute reports whether the path begins with '/'.
func (us Ustr) IsAbsolute() bool {
	return len(us) != 0 && us[0] == '/'
}

// IndexByte returns the index of b in the string, or -1.
func (us Ustr) IndexByte(b uint8) int {
	for i, v := range us {
		if v == b {
			return i
		}
	}
	return -1
}

// String converts the Ustr to a Go string, for logging.
func (us Ustr) String() string {
	return string(us)
}
