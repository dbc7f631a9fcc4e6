// Package vpath implements the virtual path model of the gateway.
//
// A virtual path is POSIX-like and forward-slash separated. The canonical
// form has a single leading slash, no duplicate slashes, no trailing slash
// (except the root itself) and no "." or ".." segments. Dot segments are
// rejected outright rather than resolved so a client can never escape its
// allowed prefix through path tricks.
package vpath

import (
	"strings"

	"github.com/quarryfs/quarry/pkg/gwerr"
)

// Root is the canonical root path.
const Root = "/"

// Clean canonicalises a virtual path. The empty path equals "/". Paths
// containing "." or ".." segments, backslashes, or NUL bytes are rejected
// with an invalidPath error.
func Clean(path string) (string, error) {
	if path == "" {
		return Root, nil
	}
	if strings.ContainsAny(path, "\x00\\") {
		return "", gwerr.New(gwerr.KindInvalidPath, "path contains forbidden characters")
	}

	segments := make([]string, 0, 8)
	for _, seg := range strings.Split(path, "/") {
		switch seg {
		case "":
			continue
		case ".", "..":
			return "", gwerr.New(gwerr.KindInvalidPath, "path contains dot segments")
		}
		segments = append(segments, seg)
	}

	if len(segments) == 0 {
		return Root, nil
	}
	return "/" + strings.Join(segments, "/"), nil
}

// IsRoot reports whether the canonical path is the virtual root.
func IsRoot(path string) bool { return path == Root || path == "" }

// Join appends name to a canonical directory path.
func Join(dir, name string) string {
	if IsRoot(dir) {
		return "/" + strings.Trim(name, "/")
	}
	return dir + "/" + strings.Trim(name, "/")
}

// Base returns the final path segment, or "" for the root.
func Base(path string) string {
	if IsRoot(path) {
		return ""
	}
	idx := strings.LastIndexByte(path, '/')
	return path[idx+1:]
}

// Parent returns the canonical parent directory of path. The parent of the
// root is the root.
func Parent(path string) string {
	if IsRoot(path) {
		return Root
	}
	idx := strings.LastIndexByte(path, '/')
	if idx <= 0 {
		return Root
	}
	return path[:idx]
}

// HasPrefix reports whether path lies under prefix in path-segment terms.
// "/team-ab" is not under "/team-a", but "/team-a/x" and "/team-a" are.
func HasPrefix(path, prefix string) bool {
	if IsRoot(prefix) {
		return true
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}

// StripPrefix removes prefix from path, returning the remainder without a
// leading slash. Callers must have established HasPrefix first.
func StripPrefix(path, prefix string) string {
	if IsRoot(prefix) {
		return strings.TrimPrefix(path, "/")
	}
	rest := strings.TrimPrefix(path, prefix)
	return strings.TrimPrefix(rest, "/")
}

// Ancestors returns every directory from the root down to path's parent,
// ordered root-first. Used to refresh parent modification times after a
// mutation.
func Ancestors(path string) []string {
	out := []string{Root}
	if IsRoot(path) {
		return out
	}
	parent := Parent(path)
	if IsRoot(parent) {
		return out
	}

	var b strings.Builder
	for _, seg := range strings.Split(strings.TrimPrefix(parent, "/"), "/") {
		b.WriteByte('/')
		b.WriteString(seg)
		out = append(out, b.String())
	}
	return out
}

// Depth returns the number of segments in a canonical path (0 for root).
func Depth(path string) int {
	if IsRoot(path) {
		return 0
	}
	return strings.Count(path, "/")
}
