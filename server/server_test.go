package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/kolabdav/internal/davxml"
	"github.com/cyp0633/kolabdav/metrics"
	"github.com/cyp0633/kolabdav/record"
	"github.com/cyp0633/kolabdav/storage"
	"github.com/cyp0633/kolabdav/storage/memory"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func event(uid, extra string) string {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Test//EN",
		"BEGIN:VEVENT",
		"UID:" + uid,
		"DTSTAMP:20240501T100000Z",
		"DTSTART:20240510T090000Z",
		"DTEND:20240510T100000Z",
		"SUMMARY:Planning",
	}
	if extra != "" {
		lines = append(lines, extra)
	}
	lines = append(lines, "END:VEVENT", "END:VCALENDAR", "")
	return strings.Join(lines, "\r\n")
}

type testServer struct {
	store   *memory.Store
	handler http.Handler
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	s := memory.New()
	s.SetClock(func() time.Time { return fixedNow })
	s.AddFolder("Calendar", storage.FolderEvent, memory.AsDefault(), memory.WithColor("00FF00"),
		memory.WithMetadata(map[string]string{storage.MetadataSharedUID: "cal-1"}))
	s.AddFolder("Tasks", storage.FolderTask, memory.AsDefault(),
		memory.WithMetadata(map[string]string{storage.MetadataSharedUID: "tasks-1"}))
	s.AddFolder("Contacts", storage.FolderContact, memory.AsDefault(),
		memory.WithMetadata(map[string]string{storage.MetadataSharedUID: "book-1"}))

	opts = append([]Option{
		WithPrincipal("jane", "jane@example.org"),
		WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	srv, err := New(s, opts...)
	require.NoError(t, err)
	return &testServer{store: s, handler: srv.Handler()}
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) put(t *testing.T, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	h := map[string]string{"Content-Type": "text/calendar; charset=utf-8"}
	for k, v := range headers {
		h[k] = v
	}
	return ts.do(t, http.MethodPut, path, body, h)
}

func multistatus(t *testing.T, rec *httptest.ResponseRecorder) *davxml.Multistatus {
	t.Helper()
	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())
	ms, err := davxml.ParseMultistatus(rec.Body.Bytes())
	require.NoError(t, err)
	return ms
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(memory.New(), WithVCardVersion("2.1"))
	assert.Error(t, err)
}

func TestOptions(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodOptions, "/calendars/cal-1/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("DAV"), "calendar-access")
	assert.Contains(t, rec.Header().Get("Allow"), "PROPFIND")
}

func TestWellKnownRedirect(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/.well-known/caldav", "", nil)
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "/principals/jane/", rec.Header().Get("Location"))
}

func TestPropfindPrincipal(t *testing.T) {
	ts := newTestServer(t)
	body := `<d:propfind xmlns:d="DAV:" xmlns:cal="urn:ietf:params:xml:ns:caldav">
  <d:prop><cal:calendar-home-set/><cal:calendar-user-address-set/><d:getetag/></d:prop>
</d:propfind>`

	ms := multistatus(t, ts.do(t, "PROPFIND", "/principals/jane/", body, map[string]string{"Depth": "0"}))
	resp, ok := ms.Find("/principals/jane/")
	require.True(t, ok)

	home, ok := resp.Prop(davxml.PropCalendarHomeSet)
	require.True(t, ok)
	href, ok := home.Child("href")
	require.True(t, ok)
	assert.Equal(t, "/calendars/", href.Text)

	addrs, ok := resp.Prop(davxml.PropCalendarUserAddrs)
	require.True(t, ok)
	require.Len(t, addrs.Children, 1)
	assert.Equal(t, "mailto:jane@example.org", addrs.Children[0].Text)

	_, ok = resp.Prop(davxml.PropGetETag)
	assert.False(t, ok)

	rec := ts.do(t, "PROPFIND", "/principals/john/", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPropfindHome(t *testing.T) {
	ts := newTestServer(t)
	body := `<d:propfind xmlns:d="DAV:" xmlns:cs="http://calendarserver.org/ns/" xmlns:ical="http://apple.com/ns/ical/">
  <d:prop><d:displayname/><d:resourcetype/><cs:getctag/><ical:calendar-color/></d:prop>
</d:propfind>`

	ms := multistatus(t, ts.do(t, "PROPFIND", "/calendars/", body, map[string]string{"Depth": "1"}))
	var hrefs []string
	for _, r := range ms.Responses {
		hrefs = append(hrefs, r.Href)
	}
	assert.Equal(t, []string{"/calendars/", "/calendars/cal-1/", "/calendars/tasks-1/", "/calendars/inbox/"}, hrefs)

	cal, _ := ms.Find("/calendars/cal-1/")
	name, ok := cal.Prop(davxml.PropDisplayName)
	require.True(t, ok)
	assert.Equal(t, "Calendar", name.Text)
	color, ok := cal.Prop(davxml.PropCalendarColor)
	require.True(t, ok)
	assert.Equal(t, "#00FF00FF", color.Text)
	ctag, ok := cal.Prop(davxml.PropGetCTag)
	require.True(t, ok)
	assert.NotEmpty(t, ctag.Text)
	rt, _ := cal.Prop(davxml.PropResourceType)
	_, isCalendar := rt.Child("calendar")
	assert.True(t, isCalendar)

	inbox, _ := ms.Find("/calendars/inbox/")
	rt, _ = inbox.Prop(davxml.PropResourceType)
	_, isInbox := rt.Child("schedule-inbox")
	assert.True(t, isInbox)

	ms = multistatus(t, ts.do(t, "PROPFIND", "/calendars/", body, map[string]string{"Depth": "0"}))
	assert.Len(t, ms.Responses, 1)

	ms = multistatus(t, ts.do(t, "PROPFIND", "/addressbooks/", "", map[string]string{"Depth": "1"}))
	book, ok := ms.Find("/addressbooks/book-1/")
	require.True(t, ok)
	rt, _ = book.Prop(davxml.PropResourceType)
	_, isBook := rt.Child("addressbook")
	assert.True(t, isBook)

	rec := ts.do(t, "PROPFIND", "/calendars/", "<not-xml", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestObjectLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.put(t, "/calendars/cal-1/abc.ics", event("abc", ""), map[string]string{"If-None-Match": "*"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := rec.Header().Get("ETag")
	require.NotEmpty(t, created)
	assert.Empty(t, rec.Header().Get("Location"))

	rec = ts.do(t, http.MethodGet, "/calendars/cal-1/abc.ics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created, rec.Header().Get("ETag"))
	assert.Equal(t, "text/calendar; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "UID:abc")

	rec = ts.do(t, http.MethodGet, "/calendars/cal-1/abc.ics", "", map[string]string{"If-None-Match": created})
	assert.Equal(t, http.StatusNotModified, rec.Code)

	rec = ts.do(t, http.MethodHead, "/calendars/cal-1/abc.ics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = ts.put(t, "/calendars/cal-1/abc.ics", event("abc", ""), map[string]string{"If-None-Match": "*"})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = ts.put(t, "/calendars/cal-1/abc.ics", event("abc", "LOCATION:Room 1"), map[string]string{"If-Match": `"stale"`})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = ts.put(t, "/calendars/cal-1/abc.ics", event("abc", "LOCATION:Room 1"), map[string]string{"If-Match": created})
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	updated := rec.Header().Get("ETag")
	assert.NotEqual(t, created, updated)

	rec = ts.do(t, http.MethodDelete, "/calendars/cal-1/abc.ics", "", map[string]string{"If-Match": created})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/calendars/cal-1/abc.ics", "", map[string]string{"If-Match": updated})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodGet, "/calendars/cal-1/abc.ics", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.put(t, "/calendars/cal-1/new.ics", event("new", ""), map[string]string{"If-Match": updated})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
}

func TestPutRedirectsToStoredUID(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.put(t, "/calendars/cal-1/abc.ics", event("abc", ""), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.put(t, "/calendars/cal-1/client-name.ics", event("abc", "LOCATION:Room 2"), nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/calendars/cal-1/abc.ics", rec.Header().Get("Location"))

	folder, _ := ts.store.Folder("Calendar")
	stored, err := folder.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "Room 2", stored.Location)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.put(t, "/calendars/cal-1/abc.ics", event("abc", ""), nil).Code)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		header map[string]string
		want   int
	}{
		{"wrong media type", http.MethodPut, "/calendars/cal-1/x.ics", event("x", ""), map[string]string{"Content-Type": "text/plain"}, http.StatusUnsupportedMediaType},
		{"unparsable document", http.MethodPut, "/calendars/cal-1/x.ics", "garbage", nil, http.StatusUnsupportedMediaType},
		{"uid mismatch on update", http.MethodPut, "/calendars/cal-1/abc.ics", event("other", ""), nil, http.StatusBadRequest},
		{"unknown collection", http.MethodPut, "/calendars/nope/x.ics", event("x", ""), nil, http.StatusNotFound},
		{"reserved collection", http.MethodGet, "/calendars/outbox/x.ics", "", nil, http.StatusNotFound},
		{"unknown object", http.MethodGet, "/calendars/cal-1/missing.ics", "", nil, http.StatusNotFound},
		{"write to inbox", http.MethodPut, "/calendars/inbox/x.ics", event("x", ""), nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec *httptest.ResponseRecorder
			if tt.method == http.MethodPut {
				rec = ts.put(t, tt.path, tt.body, tt.header)
			} else {
				rec = ts.do(t, tt.method, tt.path, tt.body, tt.header)
			}
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	t.Run("backend down", func(t *testing.T) {
		ts.store.SetUnavailable(true)
		defer ts.store.SetUnavailable(false)
		rec := ts.do(t, "PROPFIND", "/calendars/", "", map[string]string{"Depth": "1"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnsupportedMediaType, statusFor(record.Errorf(record.ErrParse, "op", "x")))
	assert.Equal(t, http.StatusBadRequest, statusFor(record.Errorf(record.ErrIdentityMismatch, "op", "x")))
	assert.Equal(t, http.StatusNotFound, statusFor(record.Errorf(record.ErrNotFound, "op", "x")))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(record.Errorf(record.ErrServiceUnavailable, "op", "x")))
	assert.Equal(t, http.StatusInternalServerError, statusFor(record.Errorf(record.ErrStorageWrite, "op", "x")))
}

func TestPropfindCollectionObjects(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.put(t, "/calendars/cal-1/abc.ics", event("abc", ""), nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	tag := rec.Header().Get("ETag")

	body := `<d:propfind xmlns:d="DAV:"><d:prop><d:getetag/><d:getcontenttype/></d:prop></d:propfind>`
	ms := multistatus(t, ts.do(t, "PROPFIND", "/calendars/Calendar/", body, map[string]string{"Depth": "1"}))
	require.Len(t, ms.Responses, 2)

	obj, ok := ms.Find("/calendars/Calendar/abc.ics")
	require.True(t, ok, "folder names are accepted as collection aliases")
	etag, ok := obj.Prop(davxml.PropGetETag)
	require.True(t, ok)
	assert.Equal(t, tag, etag.Text)
	ct, _ := obj.Prop(davxml.PropGetContentType)
	assert.Equal(t, "text/calendar; charset=utf-8", ct.Text)
}

func TestReports(t *testing.T) {
	ts := newTestServer(t)
	require.Equal(t, http.StatusCreated, ts.put(t, "/calendars/cal-1/abc.ics", event("abc", ""), nil).Code)
	require.Equal(t, http.StatusCreated, ts.put(t, "/calendars/cal-1/def.ics",
		strings.ReplaceAll(event("def", ""), "20240510T", "20240520T"), nil).Code)

	t.Run("calendar-query", func(t *testing.T) {
		body := `<C:calendar-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop><D:getetag/><C:calendar-data/></D:prop>
  <C:filter><C:comp-filter name="VCALENDAR"><C:comp-filter name="VEVENT">
    <C:time-range start="20240509T000000Z" end="20240511T000000Z"/>
  </C:comp-filter></C:comp-filter></C:filter>
</C:calendar-query>`
		ms := multistatus(t, ts.do(t, "REPORT", "/calendars/cal-1/", body, map[string]string{"Depth": "1"}))
		require.Len(t, ms.Responses, 1)
		assert.Equal(t, "/calendars/cal-1/abc.ics", ms.Responses[0].Href)
		data, ok := ms.Responses[0].Prop(davxml.PropCalendarData)
		require.True(t, ok)
		assert.Contains(t, data.Text, "UID:abc")
	})

	t.Run("calendar-multiget", func(t *testing.T) {
		body := `<C:calendar-multiget xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:prop><D:getetag/></D:prop>
  <D:href>/calendars/cal-1/def.ics</D:href>
  <D:href>/calendars/cal-1/gone.ics</D:href>
</C:calendar-multiget>`
		ms := multistatus(t, ts.do(t, "REPORT", "/calendars/cal-1/", body, nil))
		require.Len(t, ms.Responses, 2)
		def, ok := ms.Find("/calendars/cal-1/def.ics")
		require.True(t, ok)
		_, ok = def.Prop(davxml.PropGetETag)
		assert.True(t, ok)
		gone, ok := ms.Find("/calendars/cal-1/gone.ics")
		require.True(t, ok)
		assert.Equal(t, "HTTP/1.1 404 Not Found", gone.Status)
	})

	t.Run("wrong home", func(t *testing.T) {
		body := `<card:addressbook-multiget xmlns:d="DAV:" xmlns:card="urn:ietf:params:xml:ns:carddav"/>`
		rec := ts.do(t, "REPORT", "/calendars/cal-1/", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAddressBook(t *testing.T) {
	ts := newTestServer(t)
	card := "BEGIN:VCARD\r\nVERSION:3.0\r\nUID:c/1\r\nFN:Jane Roe\r\nN:Roe;Jane;;;\r\nEND:VCARD\r\n"

	rec := ts.do(t, http.MethodPut, "/addressbooks/book-1/c%2F1.vcf", card, map[string]string{"Content-Type": "text/vcard"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/addressbooks/book-1/c%2F1.vcf", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "VERSION:3.0")

	rec = ts.do(t, http.MethodGet, "/addressbooks/book-1/c%2F1.vcf", "", map[string]string{"Accept": "text/vcard; version=4.0"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "VERSION:4.0")

	body := `<card:addressbook-query xmlns:d="DAV:" xmlns:card="urn:ietf:params:xml:ns:carddav">
  <d:prop><d:getetag/><card:address-data/></d:prop>
</card:addressbook-query>`
	ms := multistatus(t, ts.do(t, "REPORT", "/addressbooks/book-1/", body, nil))
	require.Len(t, ms.Responses, 1)
	assert.Equal(t, "/addressbooks/book-1/c%2F1.vcf", ms.Responses[0].Href)
	data, ok := ms.Responses[0].Prop(davxml.PropAddressData)
	require.True(t, ok)
	assert.Contains(t, data.Text, "FN:Jane Roe")
}

func TestBasePathAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	ts := newTestServer(t, WithBasePath("/dav/"), WithMetrics(metrics.NewWithRegistry(reg, reg)))

	rec := ts.put(t, "/dav/calendars/cal-1/abc.ics", event("abc", ""), nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	ms := multistatus(t, ts.do(t, "PROPFIND", "/dav/calendars/", "", map[string]string{"Depth": "1"}))
	_, ok := ms.Find("/dav/calendars/cal-1/")
	assert.True(t, ok)

	rec = ts.do(t, http.MethodGet, "/calendars/cal-1/abc.ics", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "routes live below the base path")

	rec = ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `kolabdav_object_writes_total{operation="create",outcome="ok"} 1`)
	assert.Contains(t, rec.Body.String(), "kolabdav_http_requests_total")
}

func TestUIDLocks(t *testing.T) {
	var l uidLocks
	l.held = make(map[string]*uidLock)

	release := l.lock("cal-1/abc")
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.lock("cal-1/abc")()
	}()

	select {
	case <-done:
		t.Fatal("second writer acquired a held lock")
	case <-time.After(20 * time.Millisecond):
	}
	release()
	<-done

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.held)
}

func TestUIDLocksMultipleKeys(t *testing.T) {
	var l uidLocks
	l.held = make(map[string]*uidLock)

	release := l.lockAll("cal-1/by-name", "cal-1/by-content", "cal-1/by-name")
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.lock("cal-1/by-content")()
	}()

	select {
	case <-done:
		t.Fatal("writer of the document uid acquired a held lock")
	case <-time.After(20 * time.Millisecond):
	}
	release()
	<-done

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.held)
}
