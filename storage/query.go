package storage

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/cyp0633/kolabdav/record"
)

// Query fields.
const (
	FieldUID     = "uid"
	FieldType    = "type"
	FieldTags    = "tags"
	FieldDTStart = "dtstart"
	FieldDTEnd   = "dtend"
)

// Op is a comparison operator.
type Op string

const (
	OpEqual    Op = "="
	OpNotEqual Op = "!="
	OpContains Op = "~"
	OpBefore   Op = "<="
	OpAfter    Op = ">="
)

// Condition is one constraint of a Query. Text fields compare against Value,
// date fields against Time. A condition with Any set holds when at least one
// of its conditions does; Field and Op are ignored then.
type Condition struct {
	Field string
	Op    Op
	Value string
	Time  time.Time
	Any   []Condition
}

// AnyOf returns a condition satisfied by any of cs.
func AnyOf(cs ...Condition) Condition {
	return Condition{Any: cs}
}

// Query is a conjunction of conditions. The empty query matches everything.
type Query []Condition

// And returns q extended with c.
func (q Query) And(c ...Condition) Query {
	return append(slices.Clone(q), c...)
}

// Matches reports whether rec satisfies every condition of q.
func (q Query) Matches(rec *record.Record) bool {
	for _, c := range q {
		if !c.matches(rec) {
			return false
		}
	}
	return true
}

func (c Condition) matches(rec *record.Record) bool {
	if len(c.Any) > 0 {
		for _, alt := range c.Any {
			if alt.matches(rec) {
				return true
			}
		}
		return false
	}
	switch c.Field {
	case FieldUID:
		return compareText(rec.UID, c)
	case FieldType:
		return compareText(string(rec.Type), c)
	case FieldTags:
		has := slices.Contains(RecordTags(rec), strings.ToLower(c.Value))
		if c.Op == OpNotEqual {
			return !has
		}
		return has
	case FieldDTStart:
		return compareTime(rec.Start.Time, c)
	case FieldDTEnd:
		return compareTime(EffectiveEnd(rec), c)
	}
	return true
}

func compareText(v string, c Condition) bool {
	switch c.Op {
	case OpNotEqual:
		return v != c.Value
	case OpContains:
		return strings.Contains(strings.ToLower(v), strings.ToLower(c.Value))
	}
	return v == c.Value
}

func compareTime(t time.Time, c Condition) bool {
	if t.IsZero() {
		return true
	}
	switch c.Op {
	case OpBefore:
		return !t.After(c.Time)
	case OpAfter:
		return !t.Before(c.Time)
	}
	return t.Equal(c.Time)
}

// farFuture stands in for the end of unbounded series.
var farFuture = time.Unix(math.MaxInt32, 0).UTC()

// EffectiveEnd returns the last instant rec can cover: the end of the series
// for recurring records, otherwise the end, due or start date.
func EffectiveEnd(rec *record.Record) time.Time {
	if rec.IsRecurring() {
		r := rec.Recurrence
		switch {
		case !r.Until.IsZero():
			return r.Until.Time.Add(span(rec))
		case r.Freq != "":
			return farFuture
		}
		last := rec.Start.Time
		for _, d := range r.Dates {
			if d.Time.After(last) {
				last = d.Time
			}
		}
		return last.Add(span(rec))
	}
	for _, d := range []record.DateValue{rec.End, rec.Due, rec.Start} {
		if !d.IsZero() {
			if d.DateOnly {
				return d.Time.AddDate(0, 0, 1)
			}
			return d.Time
		}
	}
	return time.Time{}
}

// span is the length of one occurrence of rec. Without an end it is one day
// for date-only starts and zero otherwise.
func span(rec *record.Record) time.Duration {
	switch {
	case rec.Start.IsZero():
		return 0
	case !rec.End.IsZero() && rec.End.Time.After(rec.Start.Time):
		return rec.End.Time.Sub(rec.Start.Time)
	case rec.Start.DateOnly:
		return 24 * time.Hour
	default:
		return 0
	}
}

// PartStatTag is the tag recording that email answered a record with
// status.
func PartStatTag(email string, status record.PartStat) string {
	return "x-partstat:" + strings.ToLower(email) + ":" + string(status)
}

// RecordTags returns the searchable tags of rec: its lower-cased categories
// and one participation tag per attendee.
func RecordTags(rec *record.Record) []string {
	tags := make([]string, 0, len(rec.Categories)+len(rec.Attendees))
	for _, c := range rec.Categories {
		tags = append(tags, strings.ToLower(c))
	}
	for _, a := range rec.Attendees {
		if a.Email == "" {
			continue
		}
		status := a.Status
		if status == record.PartStatNone {
			status = record.PartStatNeedsAction
		}
		tags = append(tags, PartStatTag(a.Email, status))
	}
	return tags
}
