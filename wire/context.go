// Package wire describes the client-dependent parameters of document
// serialization.
package wire

import (
	"regexp"
	"time"
)

// Agent is the capability class of a connected client.
type Agent string

const (
	AgentGeneric     Agent = ""
	AgentAppleICal   Agent = "ical"
	AgentOutlook     Agent = "outlook"
	AgentLightning   Agent = "lightning"
	AgentThunderbird Agent = "thunderbird"
)

// Kind selects the classifier table for a protocol.
type Kind int

const (
	KindCalendar Kind = iota
	KindContacts
)

type agentPattern struct {
	agent Agent
	re    *regexp.Regexp
}

var (
	calendarAgents = []agentPattern{
		{AgentAppleICal, regexp.MustCompile(`iCal/\d`)},
		{AgentOutlook, regexp.MustCompile(`iCal4OL/\d`)},
		{AgentLightning, regexp.MustCompile(`Lightning/\d`)},
	}
	contactAgents = []agentPattern{
		{AgentThunderbird, regexp.MustCompile(`Thunderbird/\d`)},
	}
)

// ClassifyAgent maps a User-Agent header to an agent class. The first
// matching pattern wins.
func ClassifyAgent(userAgent string, kind Kind) Agent {
	table := calendarAgents
	if kind == KindContacts {
		table = contactAgents
	}
	for _, p := range table {
		if p.re.MatchString(userAgent) {
			return p.agent
		}
	}
	return AgentGeneric
}

// LinksAttachments reports whether the client fetches attachments by link
// instead of receiving them inline.
func (a Agent) LinksAttachments() bool {
	return a == AgentLightning
}

// AllDaySensitive reports whether the client expects exception dates to carry
// the time of day of the series start.
func (a Agent) AllDaySensitive() bool {
	return a == AgentAppleICal
}

// vCard versions.
const (
	VCard3 = "3.0"
	VCard4 = "4.0"
)

// AttachmentLoader returns the content of a stored attachment.
type AttachmentLoader func(uid, id string) ([]byte, error)

// Context carries the negotiated serialization parameters for one request.
type Context struct {
	Version string
	Agent   Agent
	// BaseURI is the absolute URL of the object being serialized. Attachment
	// links are built from it.
	BaseURI     string
	Now         func() time.Time
	Attachments AttachmentLoader
}

// Clock returns the current time from c.Now, or time.Now.
func (c Context) Clock() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// VCardVersion returns the requested vCard version, defaulting to 3.0.
func (c Context) VCardVersion() string {
	if c.Version == VCard4 {
		return VCard4
	}
	return VCard3
}
