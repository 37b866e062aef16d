// Package pathmap maps builder-relative paths onto worker-absolute
// paths. The coordinator manipulates paths that live on the worker's
// filesystem, so all joining and expansion follows the worker's
// reported path-syntax family rather than the coordinator's own OS.
package pathmap

import "strings"

// Syntax is a path-syntax family.
type Syntax int

const (
	// Posix joins with forward slashes.
	Posix Syntax = iota
	// Windows joins with backslashes and understands drive letters.
	Windows
)

// SyntaxForSystem selects the syntax for a worker-reported OS name.
// Workers report "nt" for Windows; everything else accepts forward
// slashes, so POSIX is the fallback.
func SyntaxForSystem(system string) Syntax {
	if system == "nt" {
		return Windows
	}
	return Posix
}

func (s Syntax) String() string {
	if s == Windows {
		return "windows"
	}
	return "posix"
}

// Separator returns the syntax's path separator.
func (s Syntax) Separator() string {
	if s == Windows {
		return `\`
	}
	return "/"
}

func (s Syntax) isSeparator(c byte) bool {
	if c == '/' {
		return true
	}
	return s == Windows && c == '\\'
}

// isAbsolute reports whether p would replace, rather than extend, a
// path it is joined onto.
func (s Syntax) isAbsolute(p string) bool {
	if p == "" {
		return false
	}
	if s.isSeparator(p[0]) {
		return true
	}
	if s == Windows && len(p) >= 2 && p[1] == ':' {
		return true
	}
	return false
}

// Join combines path components the way the worker's filesystem would.
// Empty components are skipped and an absolute component resets the
// result, mirroring pure-path joining semantics. On Windows, forward
// slashes in components are normalized to backslashes.
func (s Syntax) Join(elem ...string) string {
	sep := s.Separator()
	result := ""
	for _, e := range elem {
		if s == Windows {
			e = strings.ReplaceAll(e, "/", `\`)
		}
		switch {
		case e == "":
		case result == "" || s.isAbsolute(e):
			result = e
		default:
			result = strings.TrimRight(result, sep) + sep + e
		}
	}
	return result
}
