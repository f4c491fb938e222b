package davxml

import (
	"bytes"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePropfind(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Propfind
	}{
		{"empty body", "", Propfind{AllProp: true}},
		{"allprop", `<d:propfind xmlns:d="DAV:"><d:allprop/></d:propfind>`, Propfind{AllProp: true}},
		{"propname", `<propfind xmlns="DAV:"><propname/></propfind>`, Propfind{PropName: true}},
		{
			"prop",
			`<d:propfind xmlns:d="DAV:" xmlns:cs="http://calendarserver.org/ns/">
				<d:prop><d:displayname/><cs:getctag/></d:prop>
			</d:propfind>`,
			Propfind{Props: []Name{PropDisplayName, PropGetCTag}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePropfind([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := ParsePropfind([]byte(`<d:prop xmlns:d="DAV:"/>`))
	assert.Error(t, err)
}

func TestPropfindWants(t *testing.T) {
	p := Propfind{Props: []Name{PropGetETag}}
	assert.True(t, p.Wants(PropGetETag))
	assert.False(t, p.Wants(PropDisplayName))
	assert.True(t, Propfind{AllProp: true}.Wants(PropDisplayName))
}

func TestParseCalendarQuery(t *testing.T) {
	body := `<?xml version="1.0" encoding="utf-8"?>
<C:calendar-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop><D:getetag/><C:calendar-data/></D:prop>
  <C:filter>
    <C:comp-filter name="VCALENDAR">
      <C:comp-filter name="VEVENT">
        <C:time-range start="20240501T000000Z" end="20240601T000000Z"/>
        <C:prop-filter name="UID">
          <C:text-match negate-condition="yes">abc</C:text-match>
        </C:prop-filter>
      </C:comp-filter>
    </C:comp-filter>
  </C:filter>
</C:calendar-query>`

	r, err := ParseReport([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, ReportCalendarQuery, r.Kind)
	assert.Equal(t, []Name{PropGetETag, PropCalendarData}, r.Props)

	comp := r.Filter.Component()
	require.NotNil(t, comp)
	assert.Equal(t, "VEVENT", comp.Name)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), comp.Start)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), comp.End)
	assert.Equal(t, "abc", comp.UID)
	assert.True(t, comp.NegateUID)
}

func TestParseMultiget(t *testing.T) {
	body := `<card:addressbook-multiget xmlns:d="DAV:" xmlns:card="urn:ietf:params:xml:ns:carddav">
  <d:prop><d:getetag/><card:address-data/></d:prop>
  <d:href>/addressbooks/jane/book/a.vcf</d:href>
  <d:href>/addressbooks/jane/book/b.vcf</d:href>
</card:addressbook-multiget>`

	r, err := ParseReport([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, ReportAddressbookMultiget, r.Kind)
	assert.Equal(t, []Name{PropGetETag, PropAddressData}, r.Props)
	assert.Equal(t, []string{"/addressbooks/jane/book/a.vcf", "/addressbooks/jane/book/b.vcf"}, r.Hrefs)
	assert.Nil(t, r.Filter)

	_, err = ParseReport([]byte(`<d:sync-collection xmlns:d="DAV:"/>`))
	assert.Error(t, err)
}

func TestMultistatusRoundTrip(t *testing.T) {
	ms := &Multistatus{Responses: []Response{
		NewResponse("/calendars/jane/cal-1/", ResultMap{
			PropDisplayName:      mo.Ok(TextProp(PropDisplayName, "Work")),
			PropResourceType:     mo.Ok(ResourceType(Name{DAV, "collection"}, Name{CalDAV, "calendar"})),
			PropGetCTag:          mo.Ok(TextProp(PropGetCTag, "1-2-3")),
			PropSupportedCompSet: mo.Ok(ComponentSet("VEVENT")),
			PropCalendarColor:    mo.Err[Property](ErrNotFound),
		}),
		{Href: "/calendars/jane/cal-1/gone.ics", Status: StatusLine(404)},
	}}

	var buf bytes.Buffer
	_, err := ms.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `xmlns:d="DAV:"`)
	assert.Contains(t, buf.String(), "<d:multistatus")

	parsed, err := ParseMultistatus(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, parsed.Responses, 2)

	resp, ok := parsed.Find("/calendars/jane/cal-1/")
	require.True(t, ok)
	require.Len(t, resp.PropStats, 2)
	assert.Equal(t, "HTTP/1.1 200 OK", resp.PropStats[0].Status)
	assert.Equal(t, "HTTP/1.1 404 Not Found", resp.PropStats[1].Status)

	name, ok := resp.Prop(PropDisplayName)
	require.True(t, ok)
	assert.Equal(t, "Work", name.Text)

	ctag, ok := resp.Prop(PropGetCTag)
	require.True(t, ok)
	assert.Equal(t, "1-2-3", ctag.Text)

	rt, ok := resp.Prop(PropResourceType)
	require.True(t, ok)
	_, isCalendar := rt.Child("calendar")
	assert.True(t, isCalendar)

	comps, ok := resp.Prop(PropSupportedCompSet)
	require.True(t, ok)
	require.Len(t, comps.Children, 1)
	assert.Equal(t, "VEVENT", comps.Children[0].Attributes["name"])

	_, ok = resp.Prop(PropCalendarColor)
	assert.False(t, ok, "missing properties are reported as 404")

	gone, ok := parsed.Find("/calendars/jane/cal-1/gone.ics")
	require.True(t, ok)
	assert.Equal(t, "HTTP/1.1 404 Not Found", gone.Status)
}
