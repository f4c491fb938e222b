// Package davxml reads and writes the WebDAV, CalDAV and CardDAV XML bodies
// exchanged with clients.
package davxml

import (
	"strings"

	"github.com/beevik/etree"
)

// Namespace definitions for WebDAV and its extensions
const (
	// DAV is the WebDAV namespace
	DAV = "DAV:"
	// CalDAV is the CalDAV namespace
	CalDAV = "urn:ietf:params:xml:ns:caldav"
	// CardDAV is the CardDAV namespace
	CardDAV = "urn:ietf:params:xml:ns:carddav"
	// CalendarServer is the Calendar Server namespace, home of getctag
	CalendarServer = "http://calendarserver.org/ns/"
	// AppleICal carries calendar-color and calendar-order
	AppleICal = "http://apple.com/ns/ical/"
)

// prefixes maps namespaces to the prefixes written in responses.
var prefixes = map[string]string{
	DAV:            "d",
	CalDAV:         "cal",
	CardDAV:        "card",
	CalendarServer: "cs",
	AppleICal:      "ical",
}

// AddNamespaces declares every known namespace on the document root
func AddNamespaces(doc *etree.Document) {
	root := doc.Root()
	if root == nil {
		return
	}
	for _, ns := range []string{DAV, CalDAV, CardDAV, CalendarServer, AppleICal} {
		root.CreateAttr("xmlns:"+prefixes[ns], ns)
	}
}

// Name is a namespace-qualified element name.
type Name struct {
	Space string
	Local string
}

func (n Name) String() string {
	return n.Space + n.Local
}

// Common property names
var (
	PropDisplayName       = Name{DAV, "displayname"}
	PropResourceType      = Name{DAV, "resourcetype"}
	PropGetETag           = Name{DAV, "getetag"}
	PropGetContentType    = Name{DAV, "getcontenttype"}
	PropGetContentLength  = Name{DAV, "getcontentlength"}
	PropGetLastModified   = Name{DAV, "getlastmodified"}
	PropCurrentPrincipal  = Name{DAV, "current-user-principal"}
	PropOwner             = Name{DAV, "owner"}
	PropGetCTag           = Name{CalendarServer, "getctag"}
	PropCalendarColor     = Name{AppleICal, "calendar-color"}
	PropCalendarOrder     = Name{AppleICal, "calendar-order"}
	PropSupportedCompSet  = Name{CalDAV, "supported-calendar-component-set"}
	PropCalendarData      = Name{CalDAV, "calendar-data"}
	PropAddressData       = Name{CardDAV, "address-data"}
	PropCalendarHomeSet   = Name{CalDAV, "calendar-home-set"}
	PropAddressbookHome   = Name{CardDAV, "addressbook-home-set"}
	PropScheduleInboxURL  = Name{CalDAV, "schedule-inbox-url"}
	PropCalendarUserAddrs = Name{CalDAV, "calendar-user-address-set"}
)

// nameOf returns the qualified name of elem, resolving its prefix against
// the declarations in scope.
func nameOf(elem *etree.Element) Name {
	space := elem.NamespaceURI()
	if space == "" {
		switch strings.ToLower(elem.Space) {
		case "d", "dav":
			space = DAV
		case "c", "cal":
			space = CalDAV
		case "card":
			space = CardDAV
		case "cs":
			space = CalendarServer
		}
	}
	return Name{Space: space, Local: elem.Tag}
}

// newElement creates an element for name carrying its response prefix.
func newElement(name Name) *etree.Element {
	elem := etree.NewElement(name.Local)
	if p, ok := prefixes[name.Space]; ok {
		elem.Space = p
	}
	return elem
}

// childrenNamed returns the child elements of parent with the given local
// name, ignoring namespaces
func childrenNamed(parent *etree.Element, local string) []*etree.Element {
	var out []*etree.Element
	for _, child := range parent.ChildElements() {
		if strings.EqualFold(child.Tag, local) {
			out = append(out, child)
		}
	}
	return out
}

// childNamed returns the first child element with the given local name
func childNamed(parent *etree.Element, local string) *etree.Element {
	if found := childrenNamed(parent, local); len(found) > 0 {
		return found[0]
	}
	return nil
}
