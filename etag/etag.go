// Package etag derives entity tags for stored records.
package etag

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/cyp0633/kolabdav/record"
)

// Compute returns the quoted entity tag for an object with the given UID,
// storage version and fingerprint. An empty fingerprint contributes "0".
func Compute(uid string, version int64, fingerprint string) string {
	fp := "0"
	if fingerprint != "" {
		fp = shortHash(fingerprint)
	}
	return fmt.Sprintf("%q", fmt.Sprintf("%s-%d-%s", shortHash(uid), version, fp))
}

// ForRecord returns the entity tag of rec. Categories are part of the
// fingerprint since task categories live outside the stored object. They are
// joined with NUL, which a category cannot contain.
func ForRecord(rec *record.Record) string {
	return Compute(rec.UID, rec.Internal.Version, strings.Join(rec.Categories, "\x00"))
}

// Matches reports whether an If-Match style header value names tag. "*"
// matches any tag and weak validators compare by their opaque part.
func Matches(header, tag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == tag {
			return true
		}
	}
	return false
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
