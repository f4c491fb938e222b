package recurrence

import (
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cyp0633/kolabdav/record"
)

// RuleString renders the RRULE value of r, or "" when r has no rule. UNTIL
// is always written as a UTC date-time; date-only limits cover their whole
// day.
func RuleString(r *record.Recurrence) string {
	if r == nil || r.Freq == "" {
		return ""
	}
	parts := []string{"FREQ=" + r.Freq}
	if r.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if r.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	}
	if !r.Until.IsZero() {
		until := r.Until.Time
		if r.Until.DateOnly {
			until = until.AddDate(0, 0, 1).Add(-time.Second)
		}
		parts = append(parts, "UNTIL="+until.UTC().Format("20060102T150405Z"))
	}
	keys := make([]string, 0, len(r.Rule))
	for k := range r.Rule {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+r.Rule[k])
	}
	return strings.Join(parts, ";")
}

// Span returns the first occurrence of rec. All-day records cover whole days
// and records without an end are instantaneous. Tasks fall back to their due
// date. ok is false for records without any date.
func Span(rec *record.Record) (start, end time.Time, ok bool) {
	switch {
	case !rec.Start.IsZero():
		start = rec.Start.Time
	case !rec.Due.IsZero():
		start = rec.Due.Time
	default:
		return time.Time{}, time.Time{}, false
	}

	switch {
	case !rec.End.IsZero():
		end = rec.End.Time
		if rec.End.DateOnly {
			end = end.AddDate(0, 0, 1)
		}
	case rec.Start.DateOnly:
		end = start.AddDate(0, 0, 1)
	default:
		end = start
	}
	if !rec.Due.IsZero() && rec.Due.Time.After(end) {
		end = rec.Due.Time
	}
	return start, end, true
}

// InfoFromRecord collects the recurrence data of rec. Occurrences replaced
// by exceptions are excluded from the series.
func InfoFromRecord(rec *record.Record) Info {
	r := rec.Recurrence
	if r == nil {
		return Info{}
	}
	info := Info{RRULE: RuleString(r)}
	for _, d := range r.Dates {
		info.RDATE = append(info.RDATE, d.Time)
	}
	for _, d := range r.ExceptionDates {
		info.EXDATE = append(info.EXDATE, d.Time)
	}
	for _, ex := range r.Exceptions {
		if ex != nil && !ex.RecurrenceID.IsZero() {
			info.EXDATE = append(info.EXDATE, ex.RecurrenceID.Time)
		}
	}
	return info
}

// RecordInRange reports whether any occurrence of rec, including moved
// exception instances, overlaps the range. Records without dates always
// match.
func (e *Engine) RecordInRange(rec *record.Record, rangeStart, rangeEnd time.Time) (bool, error) {
	start, end, ok := Span(rec)
	if !ok {
		return true, nil
	}
	found, err := e.HasOccurrenceInRange(start, end, InfoFromRecord(rec), rangeStart, rangeEnd)
	if err != nil || found {
		return found, err
	}
	for _, ex := range exceptions(rec) {
		if exStart, exEnd, ok := Span(ex); ok && overlaps(exStart, exEnd, rangeStart, rangeEnd) {
			return true, nil
		}
	}
	return false, nil
}

// ExpandRecord lists the occurrences of rec overlapping the range, with
// exception instances in place of the occurrences they replace.
func (e *Engine) ExpandRecord(rec *record.Record, rangeStart, rangeEnd time.Time, opts ExpansionOptions) ([]Occurrence, error) {
	start, end, ok := Span(rec)
	if !ok {
		return nil, nil
	}
	out, err := e.Expand(start, end, InfoFromRecord(rec), rangeStart, rangeEnd, opts)
	if err != nil {
		return nil, err
	}
	if !opts.IncludeExceptions {
		return out, nil
	}
	for _, ex := range exceptions(rec) {
		exStart, exEnd, ok := Span(ex)
		if !ok || !overlaps(exStart, exEnd, rangeStart, rangeEnd) {
			continue
		}
		rid := ex.RecurrenceID.Time
		out = append(out, Occurrence{Start: exStart, End: exEnd, IsException: true, RecurrenceID: &rid})
	}
	slices.SortStableFunc(out, func(a, b Occurrence) int { return a.Start.Compare(b.Start) })
	if opts.MaxOccurrences > 0 && len(out) > opts.MaxOccurrences {
		out = out[:opts.MaxOccurrences]
	}
	return out, nil
}

func exceptions(rec *record.Record) []*record.Record {
	if rec.Recurrence == nil {
		return nil
	}
	var out []*record.Record
	for _, ex := range rec.Recurrence.Exceptions {
		if ex != nil && !ex.RecurrenceID.IsZero() {
			out = append(out, ex)
		}
	}
	return out
}

func sortedTimes(ts []time.Time) []time.Time {
	out := slices.Clone(ts)
	slices.SortFunc(out, func(a, b time.Time) int { return a.Compare(b) })
	return out
}
