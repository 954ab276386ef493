package epub

import (
	"strings"
)

// Resolve resolves a resource reference found inside the document stored at
// basePath against that document's own location inside the archive.
//
// Absolute references and full URLs are returned unchanged. Otherwise the
// reference is applied segment-by-segment against the directory of basePath:
// ".." pops one directory, "." is a no-op, other segments push. No attempt
// is made to verify that the result exists - lookup fallback is the
// caller's concern.
func Resolve(basePath, ref string) string {
	if ref == "" {
		return ref
	}
	if strings.Contains(ref, "://") || strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "/") {
		return ref
	}

	// fragment stays attached to the resolved path
	frag := ""
	if i := strings.IndexByte(ref, '#'); i >= 0 {
		ref, frag = ref[:i], ref[i:]
	}

	dir := []string{}
	if i := strings.LastIndexByte(basePath, '/'); i >= 0 {
		dir = strings.Split(basePath[:i], "/")
	}

	for _, seg := range strings.Split(ref, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(dir) > 0 {
				dir = dir[:len(dir)-1]
			}
		default:
			dir = append(dir, seg)
		}
	}
	return strings.Join(dir, "/") + frag
}
