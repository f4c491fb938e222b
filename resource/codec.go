// Package resource maps object UIDs to URL-safe resource names and back.
package resource

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Resource name suffixes for calendar and contact objects.
const (
	SuffixCalendar = ".ics"
	SuffixContact  = ".vcf"
)

var percentEscape = regexp.MustCompile(`%[A-Fa-f0-9]{2}`)

// NameFromUID returns the resource name for uid. The UID is percent-encoded
// only when it contains a path separator.
func NameFromUID(uid, suffix string) string {
	if strings.Contains(uid, "/") {
		uid = url.PathEscape(uid)
	}
	return uid + suffix
}

// UIDFromName returns the UID bound to a resource name. The name may be a
// full path; only its last segment is used. The remainder is percent-decoded
// when it still looks encoded; a failed decode keeps the literal.
func UIDFromName(name, suffix string) string {
	base := path.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	base = strings.TrimSuffix(base, suffix)
	base = strings.ReplaceAll(base, "%2F", "/")
	if percentEscape.MatchString(base) {
		if decoded, err := url.PathUnescape(base); err == nil {
			return decoded
		}
	}
	return base
}
