package server

import (
	"path/filepath"
	"strings"
)

var schemes = []string{"http://", "https://"}

// normalizeTarget drops an absolute-form scheme and host and the leading
// slashes, leaving a path relative to the web root plus any query string.
func normalizeTarget(target string) string {
	for _, scheme := range schemes {
		if len(target) >= len(scheme) && strings.EqualFold(target[:len(scheme)], scheme) {
			rest := target[len(scheme):]
			if i := strings.IndexByte(rest, '/'); i >= 0 {
				target = rest[i:]
			} else {
				target = ""
			}
			break
		}
	}
	return strings.TrimLeft(target, "/")
}

// resolvePath maps a relative request path onto the web root. Dot segments
// are resolved first, so the result never leaves the root.
func resolvePath(root, rel string) string {
	clean := filepath.Clean(string(filepath.Separator) + filepath.FromSlash(rel))
	return filepath.Join(root, clean)
}
