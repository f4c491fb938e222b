package calendar

import (
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/kolabdav/internal/lines"
	"github.com/cyp0633/kolabdav/record"
	"github.com/cyp0633/kolabdav/wire"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testContext(agent wire.Agent) wire.Context {
	return wire.Context{
		Agent:   agent,
		BaseURI: "https://dav.example.org/calendars/alice/work/series.ics",
		Now:     func() time.Time { return fixedNow },
	}
}

// canonical returns the content lines of a document in a stable order, with
// parameters sorted, so documents can be compared regardless of encoder
// ordering.
func canonical(t *testing.T, data []byte) []string {
	t.Helper()
	var out []string
	for _, l := range lines.Unfold(data) {
		head, value, ok := lines.Split(l)
		require.True(t, ok, "malformed line %q", l)
		name, params := lines.SplitParams(head)
		sort.Strings(params)
		out = append(out, strings.Join(append([]string{name}, params...), ";")+":"+value)
	}
	sort.Strings(out)
	return out
}

func utc(y int, m time.Month, d, h, min int) record.DateValue {
	return record.DateValue{Time: time.Date(y, m, d, h, min, 0, 0, time.UTC)}
}

func fullEvent() *record.Record {
	return &record.Record{
		UID:          "series",
		Type:         record.TypeEvent,
		Title:        "Planning; with, escapes",
		Description:  "Two\nlines",
		Location:     "Room 2",
		URL:          "https://example.org/meeting",
		Start:        utc(2024, 1, 1, 9, 0),
		End:          utc(2024, 1, 1, 10, 0),
		Created:      utc(2023, 12, 1, 8, 0),
		Changed:      utc(2023, 12, 2, 8, 0),
		Sequence:     2,
		Status:       record.StatusTentative,
		Class:        record.ClassConfidential,
		Transparency: record.TransparencyBusy,
		Priority:     1,
		Organizer:    &record.Attendee{Name: "Alice", Email: "alice@example.org"},
		Attendees: []record.Attendee{
			{Name: "Bob", Email: "bob@example.org", Role: record.RoleRequired, Status: record.PartStatAccepted, RSVP: true, CUType: "INDIVIDUAL"},
			{Email: "carol@example.org", Role: record.RoleOptional, Status: record.PartStatDeclined},
		},
		Recurrence: &record.Recurrence{
			Freq:           "DAILY",
			Interval:       2,
			Count:          10,
			Rule:           map[string]string{"BYHOUR": "9"},
			ExceptionDates: []record.DateValue{utc(2024, 1, 5, 9, 0)},
			Exceptions: []*record.Record{{
				UID:          "series",
				Type:         record.TypeEvent,
				Title:        "Moved occurrence",
				Start:        utc(2024, 1, 3, 11, 0),
				End:          utc(2024, 1, 3, 12, 0),
				Changed:      utc(2023, 12, 3, 8, 0),
				RecurrenceID: utc(2024, 1, 3, 9, 0),
			}},
		},
		Categories: []string{"Work", "Q1, planning"},
		Attachments: []record.Attachment{
			{MIMEType: "text/plain", Name: "notes.txt", Data: []byte("some notes"), Size: 10},
			{MIMEType: "application/pdf", Name: "agenda.pdf", URI: "https://files.example.org/agenda.pdf"},
		},
		Alarm: &record.Alarm{Action: "DISPLAY", Offset: "-PT10M", Description: "Soon"},
		Custom: []record.CustomProp{
			{Name: "X-MICROSOFT-CDO-BUSYSTATUS", Value: "BUSY"},
			{Name: "X-VENDOR", Params: map[string][]string{"X-FLAG": {"1"}}, Value: "kept"},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	records := map[string]*record.Record{
		"full event": fullEvent(),
		"all-day event": {
			UID:     "allday",
			Type:    record.TypeEvent,
			Title:   "Holiday",
			Start:   record.Date(2024, 5, 1),
			End:     record.Date(2024, 5, 3),
			Changed: utc(2024, 4, 1, 0, 0),
			Recurrence: &record.Recurrence{
				Freq: "YEARLY", Interval: 1, Until: record.Date(2030, 5, 1),
				ExceptionDates: []record.DateValue{record.Date(2025, 5, 1)},
			},
		},
		"task": {
			UID:             "task",
			Type:            record.TypeTask,
			Title:           "Report",
			Start:           utc(2024, 1, 1, 9, 0),
			Due:             record.Date(2024, 1, 20),
			Completed:       utc(2024, 1, 19, 17, 0),
			Changed:         utc(2024, 1, 19, 17, 0),
			Status:          record.StatusCompleted,
			PercentComplete: 100,
			RelatedTo:       "parent",
			Alarm:           &record.Alarm{Action: "EMAIL", Trigger: utc(2024, 1, 19, 8, 0)},
		},
		"floating time": {
			UID:     "floating",
			Type:    record.TypeEvent,
			Start:   record.DateValue{Time: time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC), Floating: true},
			Changed: utc(2024, 1, 1, 0, 0),
		},
	}

	for name, rec := range records {
		t.Run(name, func(t *testing.T) {
			ctx := testContext(wire.AgentGeneric)
			data, err := Serialize(rec, ctx)
			require.NoError(t, err)

			parsed, err := Parse(data, "")
			require.NoError(t, err)
			assert.Equal(t, rec, parsed)

			again, err := Serialize(parsed, ctx)
			require.NoError(t, err)
			assert.Equal(t, canonical(t, data), canonical(t, again))
		})
	}
}

func TestSerializeAllDayEndIsExclusive(t *testing.T) {
	rec := &record.Record{UID: "a", Type: record.TypeEvent, Start: record.Date(2024, 5, 1), End: record.Date(2024, 5, 3)}
	data, err := Serialize(rec, testContext(wire.AgentGeneric))
	require.NoError(t, err)
	assert.Contains(t, string(data), "DTEND;VALUE=DATE:20240504")
	assert.Contains(t, string(data), "DTSTART;VALUE=DATE:20240501")
}

func TestSerializeOmitsEmptyFields(t *testing.T) {
	rec := &record.Record{UID: "min", Type: record.TypeEvent, Start: utc(2024, 1, 1, 9, 0)}
	data, err := Serialize(rec, testContext(wire.AgentGeneric))
	require.NoError(t, err)

	out := string(data)
	for _, prop := range []string{"SUMMARY", "DESCRIPTION", "LOCATION", "STATUS", "CLASS", "TRANSP", "CATEGORIES",
		"ATTENDEE", "ORGANIZER", "RRULE", "EXDATE", "ATTACH", "SEQUENCE", "PRIORITY", "LAST-MODIFIED", "DTEND", "VALARM"} {
		assert.NotContains(t, out, "\n"+prop, "unexpected %s", prop)
	}
	assert.Contains(t, out, "DTSTAMP:20240601T120000Z")
}

func TestSerializeExceptionDatesPerAgent(t *testing.T) {
	rec := &record.Record{
		UID:   "s",
		Type:  record.TypeEvent,
		Start: utc(2024, 1, 1, 9, 30),
		Recurrence: &record.Recurrence{
			Freq: "DAILY", Interval: 1,
			ExceptionDates: []record.DateValue{utc(2024, 1, 4, 0, 0), utc(2024, 1, 6, 0, 0)},
		},
	}

	generic, err := Serialize(rec, testContext(wire.AgentGeneric))
	require.NoError(t, err)
	assert.Contains(t, string(generic), "EXDATE:20240104T000000Z")
	assert.Contains(t, string(generic), "EXDATE:20240106T000000Z")
	assert.NotContains(t, string(generic), "EXDATE:20240104T000000Z,")
	assert.Contains(t, string(generic), "RRULE:FREQ=DAILY\r\n")

	apple, err := Serialize(rec, testContext(wire.AgentAppleICal))
	require.NoError(t, err)
	assert.Contains(t, string(apple), "EXDATE:20240104T093000Z")
	assert.Contains(t, string(apple), "EXDATE:20240106T093000Z")

	again, err := Parse(apple, "")
	require.NoError(t, err)
	reserialized, err := Serialize(again, testContext(wire.AgentAppleICal))
	require.NoError(t, err)
	assert.Equal(t, canonical(t, apple), canonical(t, reserialized))
}

func TestSerializeStoredAttachments(t *testing.T) {
	rec := &record.Record{
		UID:   "ev/1",
		Type:  record.TypeEvent,
		Start: utc(2024, 1, 1, 9, 0),
		Attachments: []record.Attachment{
			{ID: "7", MIMEType: "image/png", Name: "pic.png", Size: 3},
			{ID: "8", Name: "gone.txt", Removed: true},
		},
	}

	var loads []string
	ctx := testContext(wire.AgentGeneric)
	ctx.Attachments = func(uid, id string) ([]byte, error) {
		loads = append(loads, uid+"#"+id)
		return []byte{1, 2, 3}, nil
	}

	inline, err := Serialize(rec, ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ev/1#7"}, loads)
	parsed, err := Parse(inline, "")
	require.NoError(t, err)
	require.Len(t, parsed.Attachments, 1)
	assert.Equal(t, []byte{1, 2, 3}, parsed.Attachments[0].Data)
	assert.Equal(t, "pic.png", parsed.Attachments[0].Name)

	ctx.Agent = wire.AgentLightning
	linked, err := Serialize(rec, ctx)
	require.NoError(t, err)
	parsed, err = Parse(linked, "")
	require.NoError(t, err)
	require.Len(t, parsed.Attachments, 1)
	assert.Equal(t, "https://dav.example.org/calendars/alice/work/series.ics:attachment:7:pic.png", parsed.Attachments[0].URI)
	assert.Len(t, loads, 1, "linked attachments are not loaded")

	ctx.Attachments = func(uid, id string) ([]byte, error) { return nil, errors.New("gone") }
	ctx.Agent = wire.AgentGeneric
	failed, err := Serialize(rec, ctx)
	require.NoError(t, err)
	assert.NotContains(t, string(failed), "ATTACH")
}

func TestSerializeDropsOrganizerFromAttendees(t *testing.T) {
	rec := &record.Record{
		UID:       "o",
		Type:      record.TypeEvent,
		Start:     utc(2024, 1, 1, 9, 0),
		Organizer: &record.Attendee{Email: "alice@example.org"},
		Attendees: []record.Attendee{{Email: "ALICE@example.org"}, {Email: "bob@example.org"}},
	}
	data, err := Serialize(rec, testContext(wire.AgentGeneric))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "ATTENDEE"))
}

func TestSerializeRejectsContacts(t *testing.T) {
	_, err := Serialize(&record.Record{UID: "c", Type: record.TypeContact}, wire.Context{})
	assert.Error(t, err)
	_, err = Serialize(&record.Record{Type: record.TypeEvent}, wire.Context{})
	assert.Error(t, err)
}
