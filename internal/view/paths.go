package view

import "strings"

// canon normalizes a caller-supplied path to the form the rest of this
// package expects: no leading or trailing slash (the root canonicalizes to
// ""), and no repeated slashes. Share names may themselves contain
// slashes, so we never tokenize eagerly; canon returns a single string,
// not a list of segments.
func canon(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return ""
	}
	segs := strings.Split(path, "/")
	out := segs[:0]
	for _, s := range segs {
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return strings.Join(out, "/")
}

// splitLast returns the parent directory and final path component of a
// canonicalized path. For a top-level name, parent is "".
func splitLast(path string) (parent, name string) {
	path = canon(path)
	if path == "" {
		return "", ""
	}
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// longestPrefixShare finds the longest share name that is an ancestor of
// (or equal to) path. A share like /home/user/docs must win over /home
// when both cover the path, so the longest match is taken; that is
// unambiguous since two shares cannot be prefixes of each other at equal
// length.
func longestPrefixShare(shares []string, path string) (share, rel string, ok bool) {
	best := ""
	for _, s := range shares {
		s = canon(s)
		if s == "" {
			continue
		}
		if path == s || strings.HasPrefix(path, s+"/") {
			if len(s) > len(best) {
				best = s
			}
		}
	}
	if best == "" {
		return "", "", false
	}
	rel = strings.TrimPrefix(path, best)
	rel = strings.TrimPrefix(rel, "/")
	return best, rel, true
}

// mountChildren returns the set of immediate next path components, among
// shares, that lie strictly beneath parent. Listing a directory that has
// a more deeply nested share beneath it must show that share's mount
// point as a child entry even though nothing in the parent share's own
// attrib records it.
func mountChildren(shares []string, parent string) []string {
	parent = canon(parent)
	seen := map[string]bool{}
	var out []string
	prefix := parent
	if prefix != "" {
		prefix += "/"
	}
	for _, s := range shares {
		s = canon(s)
		if s == "" || s == parent || !strings.HasPrefix(s, prefix) {
			continue
		}
		rest := strings.TrimPrefix(s, prefix)
		i := strings.IndexByte(rest, '/')
		child := rest
		if i >= 0 {
			child = rest[:i]
		}
		if child == "" || seen[child] {
			continue
		}
		seen[child] = true
		out = append(out, child)
	}
	return out
}
