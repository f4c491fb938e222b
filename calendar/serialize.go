package calendar

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/emersion/go-ical"

	"github.com/cyp0633/kolabdav/internal/lines"
	"github.com/cyp0633/kolabdav/record"
	"github.com/cyp0633/kolabdav/resource"
	"github.com/cyp0633/kolabdav/wire"
)

// ProductID is the PRODID of generated documents.
const ProductID = "-//kolabdav//Go Groupware Gateway//EN"

// Serialize renders rec and its recurrence exceptions as one VCALENDAR.
func Serialize(rec *record.Record, ctx wire.Context) ([]byte, error) {
	if rec == nil || rec.UID == "" {
		return nil, fmt.Errorf("calendar: record without UID")
	}
	if rec.Type != record.TypeEvent && rec.Type != record.TypeTask {
		return nil, fmt.Errorf("calendar: cannot serialize %s record", rec.Type)
	}

	cal := ical.NewCalendar()
	cal.Props.Set(&ical.Prop{Name: ical.PropVersion, Params: ical.Params{}, Value: "2.0"})
	cal.Props.Set(&ical.Prop{Name: ical.PropProductID, Params: ical.Params{}, Value: ProductID})
	cal.Props.Set(&ical.Prop{Name: ical.PropCalendarScale, Params: ical.Params{}, Value: "GREGORIAN"})

	cal.Children = append(cal.Children, buildComponent(rec, rec, ctx))
	if rec.Recurrence != nil {
		for _, ex := range rec.Recurrence.Exceptions {
			if ex == nil || ex.RecurrenceID.IsZero() {
				continue
			}
			cal.Children = append(cal.Children, buildComponent(ex, rec, ctx))
		}
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("calendar: encode %s: %w", rec.UID, err)
	}
	return buf.Bytes(), nil
}

func buildComponent(rec, master *record.Record, ctx wire.Context) *ical.Component {
	name := ical.CompEvent
	if master.Type == record.TypeTask {
		name = ical.CompToDo
	}
	comp := ical.NewComponent(name)
	props := comp.Props

	uid := rec.UID
	if uid == "" {
		uid = master.UID
	}
	setText(props, ical.PropUID, uid)

	stamp := rec.Changed
	if stamp.IsZero() {
		stamp = rec.Created
	}
	if stamp.IsZero() {
		stamp = record.DateTime(ctx.Clock())
	}
	props.Set(utcProp(ical.PropDateTimeStamp, stamp))
	if !rec.Created.IsZero() {
		props.Set(utcProp(ical.PropCreated, rec.Created))
	}
	if !rec.Changed.IsZero() {
		props.Set(utcProp(ical.PropLastModified, rec.Changed))
	}
	if rec.Sequence > 0 {
		setRaw(props, ical.PropSequence, strconv.Itoa(rec.Sequence))
	}

	if !rec.RecurrenceID.IsZero() {
		p := dateProp(ical.PropRecurrenceID, rec.RecurrenceID)
		if rec.ThisAndFuture {
			p.Params.Set(ical.ParamRange, "THISANDFUTURE")
		}
		props.Set(p)
	}

	setText(props, ical.PropSummary, rec.Title)
	setText(props, ical.PropDescription, rec.Description)
	setText(props, ical.PropLocation, rec.Location)
	setText(props, ical.PropRelatedTo, rec.RelatedTo)
	setRaw(props, ical.PropURL, rec.URL)

	if !rec.Start.IsZero() {
		props.Set(dateProp(ical.PropDateTimeStart, rec.Start))
	}
	if !rec.End.IsZero() && master.Type == record.TypeEvent {
		end := rec.End
		if end.DateOnly {
			end = end.AddDays(1)
		}
		props.Set(dateProp(ical.PropDateTimeEnd, end))
	}
	if !rec.Due.IsZero() {
		props.Set(dateProp(ical.PropDue, rec.Due))
	}
	if !rec.Completed.IsZero() {
		props.Set(utcProp(ical.PropCompleted, rec.Completed))
	}

	if s, ok := statusTable.wire(rec.Status); ok {
		setRaw(props, ical.PropStatus, s)
	}
	if c, ok := classTable.wire(rec.Class); ok {
		setRaw(props, ical.PropClass, c)
	}
	if t, ok := transpTable.wire(rec.Transparency); ok {
		setRaw(props, ical.PropTransparency, t)
	}
	if rec.Priority > 0 {
		setRaw(props, ical.PropPriority, strconv.Itoa(rec.Priority))
	}
	if rec.PercentComplete > 0 {
		setRaw(props, ical.PropPercentComplete, strconv.Itoa(rec.PercentComplete))
	}

	if rec.Recurrence != nil && rec.RecurrenceID.IsZero() {
		addRecurrence(props, rec, ctx)
	}

	if rec.Organizer != nil {
		props.Set(attendeeProp(ical.PropOrganizer, *rec.Organizer, true))
	}
	for _, a := range rec.Attendees {
		if rec.Organizer != nil && strings.EqualFold(a.Email, rec.Organizer.Email) {
			continue
		}
		props.Add(attendeeProp(ical.PropAttendee, a, false))
	}

	if len(rec.Categories) > 0 {
		setRaw(props, ical.PropCategories, lines.JoinList(rec.Categories))
	}

	for _, a := range rec.Attachments {
		if a.Removed {
			continue
		}
		if p := attachmentProp(uid, a, ctx); p != nil {
			props.Add(p)
		}
	}

	if rec.Alarm != nil {
		comp.Children = append(comp.Children, alarmComponent(rec.Alarm))
	}

	for _, cp := range rec.Custom {
		p := ical.NewProp(cp.Name)
		for k, v := range cp.Params {
			p.Params[k] = append([]string(nil), v...)
		}
		p.Value = cp.Value
		props.Add(p)
	}
	return comp
}

func addRecurrence(props ical.Props, rec *record.Record, ctx wire.Context) {
	r := rec.Recurrence
	if r.Freq != "" {
		setRaw(props, ical.PropRecurrenceRule, formatRule(r))
	}
	for _, ex := range r.ExceptionDates {
		if ctx.Agent.AllDaySensitive() {
			ex = ex.AnchorTo(rec.Start)
		}
		props.Add(dateProp(ical.PropExceptionDates, ex))
	}
	for _, d := range r.Dates {
		props.Add(dateProp(ical.PropRecurrenceDates, d))
	}
}

func formatRule(r *record.Recurrence) string {
	parts := []string{"FREQ=" + r.Freq}
	if r.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if r.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	}
	if !r.Until.IsZero() {
		until := r.Until
		if !until.DateOnly {
			until.TZID, until.Floating = "", false
		}
		parts = append(parts, "UNTIL="+formatDateValue(until))
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

func attendeeProp(name string, a record.Attendee, organizer bool) *ical.Prop {
	p := ical.NewProp(name)
	p.Value = "mailto:" + a.Email
	if a.Name != "" {
		p.Params.Set(ical.ParamCommonName, a.Name)
	}
	if organizer {
		return p
	}
	if role, ok := roleTable.wire(a.Role); ok {
		p.Params.Set(ical.ParamRole, role)
	}
	if ps, ok := partStatTable.wire(a.Status); ok {
		p.Params.Set(ical.ParamParticipationStatus, ps)
	}
	if a.RSVP {
		p.Params.Set(ical.ParamRSVP, "TRUE")
	}
	if a.CUType != "" {
		p.Params.Set(ical.ParamCalendarUserType, a.CUType)
	}
	return p
}

// attachmentProp renders one attachment. Stored attachments become links for
// clients that fetch them separately and are inlined for everyone else.
func attachmentProp(uid string, a record.Attachment, ctx wire.Context) *ical.Prop {
	p := ical.NewProp(ical.PropAttach)
	if a.MIMEType != "" {
		p.Params.Set(ical.ParamFormatType, a.MIMEType)
	}
	if a.Name != "" {
		p.Params.Set(paramLabel, a.Name)
	}

	switch {
	case a.URI != "":
		p.Value = a.URI
		return p
	case a.ID != "" && ctx.Agent.LinksAttachments() && ctx.BaseURI != "":
		p.Params.Set(ical.ParamValue, "URI")
		p.Value = resource.AttachmentName(ctx.BaseURI, a.ID, a.Name)
		return p
	}

	data := a.Data
	if len(data) == 0 && a.ID != "" && ctx.Attachments != nil {
		loaded, err := ctx.Attachments(uid, a.ID)
		if err != nil {
			return nil
		}
		data = loaded
	}
	if len(data) == 0 {
		return nil
	}
	p.Params.Set(ical.ParamValue, "BINARY")
	p.Params.Set(ical.ParamEncoding, "BASE64")
	p.Value = base64.StdEncoding.EncodeToString(data)
	return p
}

func alarmComponent(a *record.Alarm) *ical.Component {
	comp := ical.NewComponent(ical.CompAlarm)
	action := a.Action
	if action == "" {
		action = "DISPLAY"
	}
	setRaw(comp.Props, ical.PropAction, action)
	trigger := ical.NewProp(ical.PropTrigger)
	if !a.Trigger.IsZero() {
		trigger.Params.Set(ical.ParamValue, "DATE-TIME")
		trigger.Value = a.Trigger.Time.UTC().Format(dateTimeFormatUTC)
	} else {
		trigger.Value = a.Offset
		if a.Related != "" {
			trigger.Params.Set(ical.ParamRelated, a.Related)
		}
	}
	comp.Props.Set(trigger)
	setText(comp.Props, ical.PropDescription, a.Description)
	return comp
}

func setText(props ical.Props, name, value string) {
	if value == "" {
		return
	}
	setRaw(props, name, lines.EscapeText(value))
}

func setRaw(props ical.Props, name, value string) {
	if value == "" {
		return
	}
	p := ical.NewProp(name)
	p.Value = value
	props.Set(p)
}
