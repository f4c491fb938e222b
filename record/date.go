package record

import (
	"time"
)

// DateValue is a date-only or date-time value. TZID records the zone name the
// value was expressed in on the wire; it is empty for UTC and floating values.
type DateValue struct {
	Time     time.Time
	DateOnly bool
	TZID     string
	Floating bool
}

// Date returns a date-only value for the given day.
func Date(year int, month time.Month, day int) DateValue {
	return DateValue{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), DateOnly: true}
}

// DateTime returns a date-time value. Non-UTC locations are recorded as TZID.
func DateTime(t time.Time) DateValue {
	dv := DateValue{Time: t}
	if loc := t.Location(); loc != time.UTC && loc != nil && loc.String() != "Local" {
		dv.TZID = loc.String()
	}
	return dv
}

// IsZero reports whether the value is unset.
func (d DateValue) IsZero() bool {
	return d.Time.IsZero()
}

// AddDays shifts the value by n days, keeping the date-only flag and zone.
func (d DateValue) AddDays(n int) DateValue {
	if d.IsZero() {
		return d
	}
	d.Time = d.Time.AddDate(0, 0, n)
	return d
}

// Equal reports whether two values describe the same instant with the same
// date-only flag.
func (d DateValue) Equal(o DateValue) bool {
	if d.DateOnly != o.DateOnly || d.TZID != o.TZID || d.Floating != o.Floating {
		return false
	}
	if d.DateOnly {
		return sameDay(d.Time, o.Time)
	}
	return d.Time.Equal(o.Time)
}

// Before reports whether d is strictly before o.
func (d DateValue) Before(o DateValue) bool {
	return d.Time.Before(o.Time)
}

// Unix returns the unix time of the value, or 0 when unset.
func (d DateValue) Unix() int64 {
	if d.IsZero() {
		return 0
	}
	return d.Time.Unix()
}

// AnchorTo returns a copy of d carrying the time of day, zone and date-only
// flag of ref while keeping the calendar date of d.
func (d DateValue) AnchorTo(ref DateValue) DateValue {
	if d.IsZero() || ref.IsZero() {
		return d
	}
	y, m, day := d.Time.Date()
	rt := ref.Time
	return DateValue{
		Time:     time.Date(y, m, day, rt.Hour(), rt.Minute(), rt.Second(), 0, rt.Location()),
		DateOnly: ref.DateOnly,
		TZID:     ref.TZID,
		Floating: ref.Floating,
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
