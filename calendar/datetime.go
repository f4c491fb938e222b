package calendar

import (
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/cyp0633/kolabdav/record"
)

const (
	dateFormat        = "20060102"
	dateTimeFormat    = "20060102T150405"
	dateTimeFormatUTC = "20060102T150405Z"
)

// parseDateProp reads the first value of a date or date-time property.
func parseDateProp(p *ical.Prop) (record.DateValue, error) {
	return parseDateValue(strings.TrimSpace(p.Value), p.Params)
}

// parseDateList reads every comma separated value of an EXDATE/RDATE style
// property. Values that fail to parse are skipped.
func parseDateList(p *ical.Prop) []record.DateValue {
	var out []record.DateValue
	for _, v := range strings.Split(p.Value, ",") {
		if dv, err := parseDateValue(strings.TrimSpace(v), p.Params); err == nil {
			out = append(out, dv)
		}
	}
	return out
}

func parseDateValue(v string, params ical.Params) (record.DateValue, error) {
	if v == "" {
		return record.DateValue{}, fmt.Errorf("empty date value")
	}
	if strings.EqualFold(params.Get(ical.ParamValue), "DATE") || len(v) == len(dateFormat) {
		if len(v) < len(dateFormat) {
			return record.DateValue{}, fmt.Errorf("invalid date %q", v)
		}
		t, err := time.Parse(dateFormat, v[:len(dateFormat)])
		if err != nil {
			return record.DateValue{}, err
		}
		return record.DateValue{Time: t, DateOnly: true}, nil
	}
	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse(dateTimeFormatUTC, v)
		if err != nil {
			return record.DateValue{}, err
		}
		return record.DateValue{Time: t}, nil
	}
	tzid := strings.Trim(params.Get(ical.ParamTimezoneID), `"`)
	if tzid == "" {
		t, err := time.Parse(dateTimeFormat, v)
		if err != nil {
			return record.DateValue{}, err
		}
		return record.DateValue{Time: t, Floating: true}, nil
	}
	loc, err := time.LoadLocation(tzid)
	if err != nil {
		// Unknown zone names keep their wall clock; the TZID survives for
		// re-serialization.
		loc = time.UTC
	}
	t, err := time.ParseInLocation(dateTimeFormat, v, loc)
	if err != nil {
		return record.DateValue{}, err
	}
	return record.DateValue{Time: t, TZID: tzid}, nil
}

// dateProp renders a date value as a property.
func dateProp(name string, dv record.DateValue) *ical.Prop {
	p := ical.NewProp(name)
	p.Value = formatDateValue(dv)
	switch {
	case dv.DateOnly:
		p.Params.Set(ical.ParamValue, "DATE")
	case dv.TZID != "":
		p.Params.Set(ical.ParamTimezoneID, dv.TZID)
	}
	return p
}

func formatDateValue(dv record.DateValue) string {
	switch {
	case dv.DateOnly:
		return dv.Time.Format(dateFormat)
	case dv.TZID != "" || dv.Floating:
		return dv.Time.Format(dateTimeFormat)
	default:
		return dv.Time.UTC().Format(dateTimeFormatUTC)
	}
}

// utcProp renders an instant in UTC, as required for DTSTAMP, CREATED,
// LAST-MODIFIED and COMPLETED.
func utcProp(name string, dv record.DateValue) *ical.Prop {
	p := ical.NewProp(name)
	p.Value = dv.Time.UTC().Format(dateTimeFormatUTC)
	return p
}
