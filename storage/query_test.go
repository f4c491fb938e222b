package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/cyp0633/kolabdav/record"
)

func at(day, hour int) time.Time {
	return time.Date(2024, 3, day, hour, 0, 0, 0, time.UTC)
}

func TestQueryMatches(t *testing.T) {
	rec := &record.Record{
		UID:        "meeting-1",
		Type:       record.TypeEvent,
		Start:      record.DateTime(at(10, 9)),
		End:        record.DateTime(at(10, 10)),
		Categories: []string{"Work"},
		Attendees: []record.Attendee{
			{Email: "Bob@Example.org", Status: record.PartStatDeclined},
			{Email: "carol@example.org"},
		},
	}

	tests := []struct {
		name  string
		query Query
		want  bool
	}{
		{"empty", nil, true},
		{"uid equal", Query{{Field: FieldUID, Op: OpEqual, Value: "meeting-1"}}, true},
		{"uid not equal", Query{{Field: FieldUID, Op: OpNotEqual, Value: "meeting-1"}}, false},
		{"uid contains", Query{{Field: FieldUID, Op: OpContains, Value: "MEET"}}, true},
		{"type", Query{{Field: FieldType, Op: OpEqual, Value: "task"}}, false},
		{"category tag", Query{{Field: FieldTags, Op: OpEqual, Value: "work"}}, true},
		{"declined tag", Query{{Field: FieldTags, Op: OpEqual, Value: PartStatTag("bob@example.org", record.PartStatDeclined)}}, true},
		{"not declined", Query{{Field: FieldTags, Op: OpNotEqual, Value: PartStatTag("bob@example.org", record.PartStatDeclined)}}, false},
		{"unanswered is needs-action", Query{{Field: FieldTags, Op: OpEqual, Value: "x-partstat:carol@example.org:needs-action"}}, true},
		{"any of", Query{AnyOf(
			Condition{Field: FieldUID, Op: OpEqual, Value: "other"},
			Condition{Field: FieldTags, Op: OpEqual, Value: "work"},
		)}, true},
		{"none of", Query{AnyOf(
			Condition{Field: FieldUID, Op: OpEqual, Value: "other"},
			Condition{Field: FieldType, Op: OpEqual, Value: "task"},
		)}, false},
		{"overlapping range", Query{
			{Field: FieldDTStart, Op: OpBefore, Time: at(10, 12)},
			{Field: FieldDTEnd, Op: OpAfter, Time: at(10, 8)},
		}, true},
		{"range after", Query{
			{Field: FieldDTStart, Op: OpBefore, Time: at(11, 12)},
			{Field: FieldDTEnd, Op: OpAfter, Time: at(11, 0)},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.query.Matches(rec))
		})
	}
}

func TestQueryAndDoesNotAlias(t *testing.T) {
	base := make(Query, 0, 4)
	base = append(base, Condition{Field: FieldType, Op: OpEqual, Value: "event"})
	a := base.And(Condition{Field: FieldUID, Op: OpEqual, Value: "a"})
	b := base.And(Condition{Field: FieldUID, Op: OpEqual, Value: "b"})
	assert.Equal(t, "a", a[1].Value)
	assert.Equal(t, "b", b[1].Value)
}

func TestEffectiveEnd(t *testing.T) {
	single := &record.Record{Start: record.DateTime(at(1, 9)), End: record.DateTime(at(1, 10))}
	assert.Equal(t, at(1, 10), EffectiveEnd(single))

	allDay := &record.Record{Start: record.Date(2024, 3, 1), End: record.Date(2024, 3, 2)}
	assert.Equal(t, at(3, 0), EffectiveEnd(allDay))

	task := &record.Record{Due: record.DateTime(at(5, 17))}
	assert.Equal(t, at(5, 17), EffectiveEnd(task))

	bounded := &record.Record{
		Start:      record.DateTime(at(1, 9)),
		End:        record.DateTime(at(1, 10)),
		Recurrence: &record.Recurrence{Freq: "DAILY", Until: record.DateTime(at(20, 9))},
	}
	assert.Equal(t, at(20, 10), EffectiveEnd(bounded))

	openEnded := &record.Record{
		Start:      record.DateTime(at(1, 9)),
		Recurrence: &record.Recurrence{Freq: "DAILY", Until: record.DateTime(at(20, 9))},
	}
	assert.Equal(t, at(20, 9), EffectiveEnd(openEnded))
	q := Query{{Field: FieldDTEnd, Op: OpAfter, Time: at(10, 0)}}
	assert.True(t, q.Matches(openEnded), "series without an end still runs through later days")

	allDaySeries := &record.Record{
		Start:      record.Date(2024, 3, 1),
		Recurrence: &record.Recurrence{Freq: "DAILY", Until: record.Date(2024, 3, 20)},
	}
	assert.Equal(t, at(21, 0), EffectiveEnd(allDaySeries))

	explicit := &record.Record{
		Start:      record.DateTime(at(1, 9)),
		End:        record.DateTime(at(1, 11)),
		Recurrence: &record.Recurrence{Dates: []record.DateValue{record.DateTime(at(8, 9))}},
	}
	assert.Equal(t, at(8, 11), EffectiveEnd(explicit))

	endless := &record.Record{Start: record.DateTime(at(1, 9)), Recurrence: &record.Recurrence{Freq: "WEEKLY"}}
	assert.True(t, EffectiveEnd(endless).After(time.Date(2037, 1, 1, 0, 0, 0, 0, time.UTC)))
}
