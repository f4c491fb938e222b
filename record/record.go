// Package record holds the normalized, format-independent representation of
// calendar, task and contact objects exchanged between the wire codecs and the
// backing store.
package record

import (
	"slices"
	"strings"
)

// Type is the kind of object a Record describes.
type Type string

const (
	TypeEvent   Type = "event"
	TypeTask    Type = "task"
	TypeContact Type = "contact"
	TypeGroup   Type = "group"
)

// Record is one calendar, task or contact object.
type Record struct {
	UID   string
	Type  Type
	Title string

	Start     DateValue
	End       DateValue
	Due       DateValue
	Created   DateValue
	Changed   DateValue
	Completed DateValue

	Sequence        int
	Description     string
	Location        string
	URL             string
	Status          Status
	Class           Class
	Transparency    Transparency
	Priority        int
	PercentComplete int
	RelatedTo       string

	Organizer *Attendee
	Attendees []Attendee

	Recurrence *Recurrence
	// RecurrenceID is set on exception instances only.
	RecurrenceID  DateValue
	ThisAndFuture bool

	Categories  []string
	Attachments []Attachment
	Alarm       *Alarm
	Custom      []CustomProp

	Contact *Contact

	Internal Internal
}

// Attendee is a participant of an event or task. The organizer uses the same
// shape.
type Attendee struct {
	Name   string
	Email  string
	Role   Role
	Status PartStat
	RSVP   bool
	CUType string
}

// Recurrence carries the rule parameters of a recurring series.
type Recurrence struct {
	// Rule holds the RRULE parts other than FREQ, INTERVAL, COUNT and UNTIL,
	// keyed by upper-case name.
	Rule     map[string]string
	Freq     string
	Interval int
	Count    int
	Until    DateValue

	ExceptionDates []DateValue
	Dates          []DateValue
	Exceptions     []*Record
}

// Attachment is either inline data or a reference by URI. Attachments loaded
// from the store carry an ID; Data may be empty when the content is fetched
// lazily.
type Attachment struct {
	ID       string
	MIMEType string
	Name     string
	Data     []byte
	URI      string
	Size     int
	Removed  bool
}

// Alarm is the single alarm a record can carry. Exactly one of Trigger and
// Offset is set.
type Alarm struct {
	Action      string
	Trigger     DateValue
	Offset      string
	Related     string
	Description string
}

// CustomProp preserves a property the codecs do not map. Name keeps any group
// prefix, as in "ITEM1.X-ABLABEL".
type CustomProp struct {
	Name   string
	Params map[string][]string
	Value  string
}

// Internal holds store-derived bookkeeping that never travels on the wire.
type Internal struct {
	Size    int
	Version int64
	Mailbox string
	Extra   map[string]string
}

// IsZero reports whether no internal field is set.
func (in Internal) IsZero() bool {
	return in.Size == 0 && in.Version == 0 && in.Mailbox == "" && len(in.Extra) == 0
}

// MergeFrom fills every unset field of in from prior.
func (in *Internal) MergeFrom(prior Internal) {
	if in.Size == 0 {
		in.Size = prior.Size
	}
	if in.Version == 0 {
		in.Version = prior.Version
	}
	if in.Mailbox == "" {
		in.Mailbox = prior.Mailbox
	}
	for k, v := range prior.Extra {
		if in.Extra == nil {
			in.Extra = make(map[string]string)
		}
		if _, ok := in.Extra[k]; !ok {
			in.Extra[k] = v
		}
	}
}

// IsRecurring reports whether the record has a rule or explicit dates.
func (r *Record) IsRecurring() bool {
	return r.Recurrence != nil && (r.Recurrence.Freq != "" || len(r.Recurrence.Dates) > 0)
}

// HasAttendee reports whether email is among the attendees.
func (r *Record) HasAttendee(email string) bool {
	return slices.ContainsFunc(r.Attendees, func(a Attendee) bool {
		return strings.EqualFold(a.Email, email)
	})
}

// AttendeeStatus returns the participation status of the attendee with the
// given email, or the empty status.
func (r *Record) AttendeeStatus(email string) PartStat {
	for _, a := range r.Attendees {
		if strings.EqualFold(a.Email, email) {
			return a.Status
		}
	}
	return ""
}

// ActiveAttachments returns the attachments not marked removed.
func (r *Record) ActiveAttachments() []Attachment {
	var out []Attachment
	for _, a := range r.Attachments {
		if !a.Removed {
			out = append(out, a)
		}
	}
	return out
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Organizer != nil {
		o := *r.Organizer
		c.Organizer = &o
	}
	c.Attendees = slices.Clone(r.Attendees)
	c.Categories = slices.Clone(r.Categories)
	if r.Attachments != nil {
		c.Attachments = make([]Attachment, len(r.Attachments))
		for i, a := range r.Attachments {
			a.Data = slices.Clone(a.Data)
			c.Attachments[i] = a
		}
	}
	if r.Alarm != nil {
		a := *r.Alarm
		c.Alarm = &a
	}
	if r.Custom != nil {
		c.Custom = make([]CustomProp, len(r.Custom))
		for i, p := range r.Custom {
			c.Custom[i] = p.clone()
		}
	}
	if r.Recurrence != nil {
		rec := *r.Recurrence
		if r.Recurrence.Rule != nil {
			rec.Rule = make(map[string]string, len(r.Recurrence.Rule))
			for k, v := range r.Recurrence.Rule {
				rec.Rule[k] = v
			}
		}
		rec.ExceptionDates = slices.Clone(r.Recurrence.ExceptionDates)
		rec.Dates = slices.Clone(r.Recurrence.Dates)
		rec.Exceptions = make([]*Record, len(r.Recurrence.Exceptions))
		for i, ex := range r.Recurrence.Exceptions {
			rec.Exceptions[i] = ex.Clone()
		}
		if r.Recurrence.Exceptions == nil {
			rec.Exceptions = nil
		}
		c.Recurrence = &rec
	}
	if r.Contact != nil {
		c.Contact = r.Contact.clone()
	}
	if r.Internal.Extra != nil {
		c.Internal.Extra = make(map[string]string, len(r.Internal.Extra))
		for k, v := range r.Internal.Extra {
			c.Internal.Extra[k] = v
		}
	}
	return &c
}

func (p CustomProp) clone() CustomProp {
	if p.Params != nil {
		params := make(map[string][]string, len(p.Params))
		for k, v := range p.Params {
			params[k] = slices.Clone(v)
		}
		p.Params = params
	}
	return p
}
