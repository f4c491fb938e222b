package resource

import (
	"fmt"
	"regexp"
	"strings"
)

var attachmentName = regexp.MustCompile(`^(.+)\.ics:attachment:([A-Za-z0-9-]+):.+$`)

// AttachmentName returns the link name under which attachment id of the
// object resource objectName is served.
func AttachmentName(objectName, id, filename string) string {
	return fmt.Sprintf("%s:attachment:%s:%s", objectName, id, filename)
}

// ParseAttachmentName splits an attachment link name produced by
// AttachmentName into the object UID and the attachment id. The name may be a
// full URL.
func ParseAttachmentName(name string) (uid, id string, ok bool) {
	i := strings.Index(name, ":attachment:")
	if i < 0 {
		return "", "", false
	}
	if j := strings.LastIndex(name[:i], "/"); j >= 0 {
		name = name[j+1:]
	}
	m := attachmentName.FindStringSubmatch(name)
	if m == nil {
		return "", "", false
	}
	return UIDFromName(m[1], ""), m[2], true
}

// SchedulingName returns the inbox resource name of an object stored in the
// collection with the given id.
func SchedulingName(collectionID, objectName string) string {
	return collectionID + ":" + objectName
}

// ParseSchedulingName splits an inbox resource name into the collection id
// and the object resource name.
func ParseSchedulingName(name string) (collectionID, objectName string, ok bool) {
	collectionID, objectName, ok = strings.Cut(name, ":")
	if !ok || collectionID == "" || objectName == "" {
		return "", "", false
	}
	return collectionID, objectName, true
}
