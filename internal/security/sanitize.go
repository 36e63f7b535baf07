package security

import "strings"

// SanitizePath returns a best-effort safe relative path by dropping drive
// prefixes, NUL bytes, empty, "." and ".." segments. It never fails and it
// does not validate: use ValidatePath to decide whether input is acceptable.
func SanitizePath(p string) string {
	p = strings.ReplaceAll(p, "\x00", "")
	for hasDrivePrefix(p) {
		p = p[2:]
	}

	segments := splitSegments(p)
	kept := segments[:0]
	for _, segment := range segments {
		if segment == "." || segment == ".." {
			continue
		}
		kept = append(kept, segment)
	}

	return strings.Join(kept, "/")
}
