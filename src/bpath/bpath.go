// Package bpath splits and canonicalizes kernel paths, which are always
// ustr.Ustr byte strings rather than Go strings (paths arrive from user
// memory and need not be valid UTF-8).
package bpath

import "ustr"

// / MaxPathLen bounds the total length of a path passed to resolve,
// matching spec.md's PathTooLong edge case.
const MaxPathLen = 4096

// / MaxNameLen bounds a single path component, matching dir.DIRSIZ after
// NFC normalization; components longer than this are InvalidFilename.
const MaxNameLen = 14

// / Split breaks path into its '/'-separated, non-empty components. A
// leading '/' only affects IsAbsolute; it contributes no component.
func Split(path ustr.Ustr) []ustr.Ustr {
	var comps []ustr.Ustr
	i := 0
	for i < len(path) {
		for i < len(path) && path[i] == '/' {
			i++
		}
		if i >= len(path) {
			break
		}
		start := i
		for i < len(path) && path[i] != '/' {
			i++
		}
		comps = append(comps, path[start:i])
	}
	return comps
}

// / Valid reports whether name is an acceptable path component: nonempty,
// free of NUL bytes, and within MaxNameLen.
func Valid(name ustr.Ustr) bool {
	if len(name) == 0 || len(name) > MaxNameLen {
		return false
	}
	return name.IndexByte(0) == -1
}
