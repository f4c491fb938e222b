// Package calendar converts iCalendar documents to normalized records and
// back.
package calendar

import (
	"bytes"
	"encoding/base64"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"github.com/cyp0633/kolabdav/internal/lines"
	"github.com/cyp0633/kolabdav/record"
)

const (
	paramLabel    = "X-LABEL"
	paramFilename = "FILENAME"
)

// known lists the component properties mapped onto record fields. Anything
// else is kept in Record.Custom.
var known = map[string]bool{
	ical.PropUID: true, ical.PropSummary: true, ical.PropDescription: true,
	ical.PropLocation: true, ical.PropURL: true, ical.PropDateTimeStart: true,
	ical.PropDateTimeEnd: true, ical.PropDue: true, ical.PropDuration: true,
	ical.PropDateTimeStamp: true, ical.PropCreated: true, ical.PropLastModified: true,
	ical.PropCompleted: true, ical.PropSequence: true, ical.PropPriority: true,
	ical.PropPercentComplete: true, ical.PropRelatedTo: true, ical.PropOrganizer: true,
	ical.PropAttendee: true, ical.PropExceptionDates: true, ical.PropRecurrenceDates: true,
	ical.PropRecurrenceID: true, ical.PropCategories: true, ical.PropAttach: true,
}

// Parse decodes an iCalendar document and returns its primary event or task.
// Malformed lines are skipped. When expectedUID is set, a component with that
// UID is preferred as the primary one.
func Parse(data []byte, expectedUID string) (*record.Record, error) {
	cal, err := decode(data)
	if err != nil {
		return nil, err
	}

	primary := pickPrimary(cal.Children, expectedUID)
	if primary == nil {
		return nil, record.Errorf(record.ErrParse, "calendar.Parse", "no event or task component")
	}
	rec, err := parseComponent(primary)
	if err != nil {
		return nil, err
	}

	for _, child := range cal.Children {
		if child == primary || child.Name != primary.Name || child.Props.Get(ical.PropRecurrenceID) == nil {
			continue
		}
		if uid, _ := child.Props.Text(ical.PropUID); uid != rec.UID {
			continue
		}
		ex, err := parseComponent(child)
		if err != nil {
			continue
		}
		if rec.Recurrence == nil {
			rec.Recurrence = &record.Recurrence{}
		}
		rec.Recurrence.Exceptions = append(rec.Recurrence.Exceptions, ex)
	}
	return rec, nil
}

func decode(data []byte) (*ical.Calendar, error) {
	clean := lines.Sanitize(data, lines.Options{Container: ical.CompCalendar})
	if len(clean) == 0 {
		return nil, record.Errorf(record.ErrParse, "calendar.Parse", "no VCALENDAR block")
	}
	cal, err := ical.NewDecoder(bytes.NewReader(clean)).Decode()
	if err != nil {
		return nil, record.Wrap(record.ErrParse, "calendar.Parse", err)
	}
	return cal, nil
}

func isPrimaryType(name string) bool {
	return name == ical.CompEvent || name == ical.CompToDo
}

func pickPrimary(children []*ical.Component, expectedUID string) *ical.Component {
	var first, firstAny *ical.Component
	for _, c := range children {
		if !isPrimaryType(c.Name) {
			continue
		}
		if firstAny == nil {
			firstAny = c
		}
		if c.Props.Get(ical.PropRecurrenceID) != nil {
			continue
		}
		if expectedUID != "" {
			if uid, _ := c.Props.Text(ical.PropUID); uid == expectedUID {
				return c
			}
		}
		if first == nil {
			first = c
		}
	}
	if first != nil {
		return first
	}
	return firstAny
}

func parseComponent(comp *ical.Component) (*record.Record, error) {
	rec := &record.Record{Type: record.TypeEvent}
	if comp.Name == ical.CompToDo {
		rec.Type = record.TypeTask
	}

	uid, _ := comp.Props.Text(ical.PropUID)
	rec.UID = strings.TrimSpace(uid)
	if rec.UID == "" {
		return nil, record.Errorf(record.ErrParse, "calendar.Parse", "%s without UID", comp.Name)
	}

	rec.Title = text(comp, ical.PropSummary)
	rec.Description = text(comp, ical.PropDescription)
	rec.Location = text(comp, ical.PropLocation)
	rec.RelatedTo = text(comp, ical.PropRelatedTo)
	if p := comp.Props.Get(ical.PropURL); p != nil {
		rec.URL = p.Value
	}

	var err error
	if rec.Start, err = optDate(comp, ical.PropDateTimeStart); err != nil {
		return nil, record.Wrap(record.ErrParse, "calendar.Parse", err)
	}
	if rec.Type == record.TypeEvent && rec.Start.IsZero() && comp.Props.Get(ical.PropRecurrenceID) == nil {
		return nil, record.Errorf(record.ErrParse, "calendar.Parse", "event %s without start", rec.UID)
	}
	rec.Due, _ = optDate(comp, ical.PropDue)
	rec.Created, _ = optDate(comp, ical.PropCreated)
	rec.Changed, _ = optDate(comp, ical.PropLastModified)
	rec.Completed, _ = optDate(comp, ical.PropCompleted)
	rec.RecurrenceID, _ = optDate(comp, ical.PropRecurrenceID)
	if p := comp.Props.Get(ical.PropRecurrenceID); p != nil {
		rec.ThisAndFuture = strings.EqualFold(p.Params.Get(ical.ParamRange), "THISANDFUTURE")
	}
	if rec.Type == record.TypeEvent {
		rec.End = parseEnd(comp, rec.Start)
	}

	rec.Sequence = intProp(comp, ical.PropSequence)
	rec.Priority = intProp(comp, ical.PropPriority)
	rec.PercentComplete = intProp(comp, ical.PropPercentComplete)

	var custom []record.CustomProp
	keepUnmapped := func(p ical.Prop) {
		custom = append(custom, customProp(p))
	}

	for _, p := range comp.Props[ical.PropStatus] {
		if s, ok := statusTable.parse(p.Value); ok {
			rec.Status = s
		} else {
			keepUnmapped(p)
		}
	}
	for _, p := range comp.Props[ical.PropClass] {
		if c, ok := classTable.parse(p.Value); ok {
			rec.Class = c
		} else {
			keepUnmapped(p)
		}
	}
	for _, p := range comp.Props[ical.PropTransparency] {
		if t, ok := transpTable.parse(p.Value); ok {
			rec.Transparency = t
		} else {
			keepUnmapped(p)
		}
	}
	for _, p := range comp.Props[ical.PropRecurrenceRule] {
		if r, ok := parseRule(p.Value); ok {
			rec.Recurrence = r
		} else {
			keepUnmapped(p)
		}
	}

	parseRecurrenceDates(comp, rec)
	parseParticipants(comp, rec)

	for _, p := range comp.Props[ical.PropCategories] {
		rec.Categories = append(rec.Categories, lines.SplitList(p.Value)...)
	}
	for _, p := range comp.Props[ical.PropAttach] {
		if a, ok := parseAttachment(p); ok {
			rec.Attachments = append(rec.Attachments, a)
		}
	}
	rec.Alarm = parseAlarm(comp)

	for _, name := range sortedPropNames(comp.Props) {
		if known[name] || name == ical.PropStatus || name == ical.PropClass ||
			name == ical.PropTransparency || name == ical.PropRecurrenceRule {
			continue
		}
		for _, p := range comp.Props[name] {
			keepUnmapped(p)
		}
	}
	sort.SliceStable(custom, func(i, j int) bool { return custom[i].Name < custom[j].Name })
	if len(custom) > 0 {
		rec.Custom = custom
	}
	return rec, nil
}

// parseEnd returns the inclusive end of an event. All-day ends are stored as
// the last day of the event, one day before the exclusive wire value.
func parseEnd(comp *ical.Component, start record.DateValue) record.DateValue {
	var end record.DateValue
	if p := comp.Props.Get(ical.PropDateTimeEnd); p != nil {
		dv, err := parseDateProp(p)
		if err != nil {
			return end
		}
		end = dv
	} else if p := comp.Props.Get(ical.PropDuration); p != nil && !start.IsZero() {
		d, err := p.Duration()
		if err != nil {
			return end
		}
		end = start
		end.Time = start.Time.Add(d)
	} else {
		return end
	}
	if end.DateOnly {
		end = end.AddDays(-1)
		if !start.IsZero() && end.Before(start) {
			end = start
		}
	}
	return end
}

func parseRule(value string) (*record.Recurrence, bool) {
	value = strings.TrimSpace(value)
	parts := strings.Split(value, ";")
	// UNTIL is parsed below with the same date rules as every other value.
	check := slices.DeleteFunc(slices.Clone(parts), func(p string) bool {
		return strings.HasPrefix(strings.ToUpper(p), "UNTIL=")
	})
	if _, err := rrule.StrToROption(strings.Join(check, ";")); err != nil {
		return nil, false
	}
	rec := &record.Recurrence{Interval: 1}
	for _, part := range parts {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		k = strings.ToUpper(strings.TrimSpace(k))
		switch k {
		case "FREQ":
			rec.Freq = strings.ToUpper(v)
		case "INTERVAL":
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				rec.Interval = n
			}
		case "COUNT":
			if n, err := strconv.Atoi(v); err == nil {
				rec.Count = n
			}
		case "UNTIL":
			if dv, err := parseDateValue(v, ical.Params{}); err == nil {
				rec.Until = dv
			}
		default:
			if rec.Rule == nil {
				rec.Rule = make(map[string]string)
			}
			rec.Rule[k] = v
		}
	}
	if rec.Freq == "" {
		return nil, false
	}
	return rec, true
}

func parseRecurrenceDates(comp *ical.Component, rec *record.Record) {
	var exdates, rdates []record.DateValue
	for i := range comp.Props[ical.PropExceptionDates] {
		exdates = append(exdates, parseDateList(&comp.Props[ical.PropExceptionDates][i])...)
	}
	for i := range comp.Props[ical.PropRecurrenceDates] {
		rdates = append(rdates, parseDateList(&comp.Props[ical.PropRecurrenceDates][i])...)
	}
	if len(exdates) == 0 && len(rdates) == 0 {
		return
	}
	if rec.Recurrence == nil {
		rec.Recurrence = &record.Recurrence{}
	}
	rec.Recurrence.ExceptionDates = exdates
	rec.Recurrence.Dates = rdates
}

func parseParticipants(comp *ical.Component, rec *record.Record) {
	if p := comp.Props.Get(ical.PropOrganizer); p != nil {
		org := parseAttendee(*p)
		if org.Email != "" || org.Name != "" {
			rec.Organizer = &record.Attendee{Name: org.Name, Email: org.Email}
		}
	}
	seen := make(map[string]bool)
	for _, p := range comp.Props[ical.PropAttendee] {
		a := parseAttendee(p)
		key := strings.ToLower(a.Email)
		if key != "" {
			if rec.Organizer != nil && strings.EqualFold(rec.Organizer.Email, a.Email) {
				continue
			}
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		rec.Attendees = append(rec.Attendees, a)
	}
}

func parseAttendee(p ical.Prop) record.Attendee {
	a := record.Attendee{
		Name:   strings.Trim(p.Params.Get(ical.ParamCommonName), `"`),
		Email:  stripMailto(p.Value),
		RSVP:   strings.EqualFold(p.Params.Get(ical.ParamRSVP), "TRUE"),
		CUType: strings.ToUpper(p.Params.Get(ical.ParamCalendarUserType)),
	}
	a.Role, _ = roleTable.parse(p.Params.Get(ical.ParamRole))
	a.Status, _ = partStatTable.parse(p.Params.Get(ical.ParamParticipationStatus))
	return a
}

func stripMailto(v string) string {
	v = strings.TrimSpace(v)
	if len(v) >= 7 && strings.EqualFold(v[:7], "mailto:") {
		return v[7:]
	}
	return v
}

func parseAttachment(p ical.Prop) (record.Attachment, bool) {
	a := record.Attachment{
		MIMEType: p.Params.Get(ical.ParamFormatType),
		Name:     p.Params.Get(paramLabel),
	}
	if a.Name == "" {
		a.Name = p.Params.Get(paramFilename)
	}
	inline := strings.EqualFold(p.Params.Get(ical.ParamValue), "BINARY") ||
		strings.EqualFold(p.Params.Get(ical.ParamEncoding), "BASE64")
	if !inline {
		a.URI = strings.TrimSpace(p.Value)
		return a, a.URI != ""
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(p.Value))
	if err != nil {
		return a, false
	}
	a.Data = data
	a.Size = len(data)
	return a, true
}

// parseAlarm reads the first VALARM. Further alarms are ignored.
func parseAlarm(comp *ical.Component) *record.Alarm {
	for _, child := range comp.Children {
		if child.Name != ical.CompAlarm {
			continue
		}
		trigger := child.Props.Get(ical.PropTrigger)
		if trigger == nil {
			continue
		}
		alarm := &record.Alarm{
			Action:      strings.ToUpper(text(child, ical.PropAction)),
			Description: text(child, ical.PropDescription),
		}
		if strings.EqualFold(trigger.Params.Get(ical.ParamValue), "DATE-TIME") {
			dv, err := parseDateProp(trigger)
			if err != nil {
				continue
			}
			alarm.Trigger = dv
		} else {
			alarm.Offset = strings.ToUpper(strings.TrimSpace(trigger.Value))
			alarm.Related = strings.ToUpper(trigger.Params.Get(ical.ParamRelated))
		}
		return alarm
	}
	return nil
}

func customProp(p ical.Prop) record.CustomProp {
	cp := record.CustomProp{Name: p.Name, Value: p.Value}
	if len(p.Params) > 0 {
		cp.Params = make(map[string][]string, len(p.Params))
		for k, v := range p.Params {
			cp.Params[k] = append([]string(nil), v...)
		}
	}
	return cp
}

func text(comp *ical.Component, name string) string {
	p := comp.Props.Get(name)
	if p == nil {
		return ""
	}
	return lines.UnescapeText(p.Value)
}

func optDate(comp *ical.Component, name string) (record.DateValue, error) {
	p := comp.Props.Get(name)
	if p == nil {
		return record.DateValue{}, nil
	}
	return parseDateProp(p)
}

func intProp(comp *ical.Component, name string) int {
	p := comp.Props.Get(name)
	if p == nil {
		return 0
	}
	n, _ := strconv.Atoi(strings.TrimSpace(p.Value))
	return n
}

func sortedPropNames(props ical.Props) []string {
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
