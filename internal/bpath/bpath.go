// Package bpath canonicalizes kernel paths: collapsing "." and ".."
// components and repeated slashes into an absolute, normalized form.
// It is the one package referenced by the teacher's fd.Cwd_t
// (fd/fd.go's Canonicalpath) whose implementation was not present in
// the retrieved pack; it is built fresh here in ustr's idiom.
package bpath

import "github.com/talus-os/talus/internal/ustr"

// Canonicalize resolves "." and ".." components in p (which must
// already be an absolute path, e.g. the output of Cwd_t.Fullpath) and
// returns an absolute path with no trailing slash (except the root
// itself).
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	parts := Split(p)
	out := make([]ustr.Ustr, 0, len(parts))
	for _, c := range parts {
		switch {
		case len(c) == 0:
			continue
		case c.Isdot():
			continue
		case c.Isdotdot():
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return ustr.MkUstrRoot()
	}
	ret := make(ustr.Ustr, 0, len(p))
	for _, c := range out {
		ret = append(ret, '/')
		ret = append(ret, c...)
	}
	return ret
}

// Split breaks p into its '/'-delimited components, dropping empty
// components produced by repeated or leading/trailing slashes.
func Split(p ustr.Ustr) []ustr.Ustr {
	var parts []ustr.Ustr
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				parts = append(parts, p[start:i])
			}
			start = i + 1
		}
	}
	return parts
}

// Dir returns all but the last component of p, or the root if p names
// a top-level entry.
func Dir(p ustr.Ustr) ustr.Ustr {
	parts := Split(p)
	if len(parts) <= 1 {
		return ustr.MkUstrRoot()
	}
	ret := ustr.MkUstr()
	for _, c := range parts[:len(parts)-1] {
		ret = ret.Extend(c)
	}
	return ret
}

// Base returns the last component of p.
func Base(p ustr.Ustr) ustr.Ustr {
	parts := Split(p)
	if len(parts) == 0 {
		return ustr.MkUstrRoot()
	}
	return parts[len(parts)-1]
}
