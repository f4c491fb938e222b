// Package server exposes the gateway over HTTP: collection discovery with
// PROPFIND, object transfer with GET, PUT and DELETE, and calendar and
// address book REPORTs.
package server

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cyp0633/kolabdav/collection"
	"github.com/cyp0633/kolabdav/metrics"
	"github.com/cyp0633/kolabdav/recurrence"
	"github.com/cyp0633/kolabdav/storage"
	"github.com/cyp0633/kolabdav/wire"
)

const (
	// HTTP headers
	headerContentType = "Content-Type"
	headerETag        = "ETag"
	headerDAV         = "DAV"
	headerAllow       = "Allow"
	headerLocation    = "Location"

	mimeTypeXML = "application/xml; charset=utf-8"

	// DAV capability values
	davCapabilities = "1, 3, calendar-access, addressbook"
	allowedMethods  = "OPTIONS, PROPFIND, REPORT, GET, HEAD, PUT, DELETE"
)

func init() {
	for _, method := range []string{"PROPFIND", "REPORT"} {
		chi.RegisterMethod(method)
	}
}

// home is one of the two collection trees served.
type home struct {
	segment string
	kind    collection.Kind
	wire    wire.Kind
}

var (
	calendarHome    = home{segment: "calendars", kind: collection.KindCalendar, wire: wire.KindCalendar}
	addressBookHome = home{segment: "addressbooks", kind: collection.KindAddressBook, wire: wire.KindContacts}
)

// inboxName is the calendar collection listing pending invitations.
const inboxName = "inbox"

// Server serves the collections of one principal.
type Server struct {
	store        storage.Store
	relations    storage.Relations
	principal    string
	emails       []string
	basePath     string
	aggregate    bool
	vcardVersion string
	engine       *recurrence.Engine
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time

	locks uidLocks
}

// Option represents a configuration option for the Server
type Option func(*Server)

// WithPrincipal sets the principal name and the addresses matched against
// attendees.
func WithPrincipal(name string, emails ...string) Option {
	return func(s *Server) {
		s.principal = name
		s.emails = emails
	}
}

// WithBasePath mounts every route below prefix.
func WithBasePath(prefix string) Option {
	return func(s *Server) {
		prefix = strings.Trim(prefix, "/")
		if prefix != "" {
			prefix = "/" + prefix
		}
		s.basePath = prefix
	}
}

// WithRelations stores task categories in r. By default the store is used
// when it implements storage.Relations.
func WithRelations(r storage.Relations) Option {
	return func(s *Server) { s.relations = r }
}

// WithAggregateAddressBook adds the collection merging all address books.
func WithAggregateAddressBook(enabled bool) Option {
	return func(s *Server) { s.aggregate = enabled }
}

// WithVCardVersion sets the vCard version served when the client does not
// ask for one.
func WithVCardVersion(version string) Option {
	return func(s *Server) { s.vcardVersion = version }
}

// WithEngine shares a recurrence engine between requests.
func WithEngine(e *recurrence.Engine) Option {
	return func(s *Server) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithMetrics instruments requests and serves /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger for the server
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces the time source used for modification stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a server over store.
func New(store storage.Store, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}

	s := &Server{
		store:        store,
		principal:    "user",
		vcardVersion: wire.VCard3,
		engine:       recurrence.NewEngine(),
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:          time.Now,
		locks:        uidLocks{held: make(map[string]*uidLock)},
	}
	if r, ok := store.(storage.Relations); ok {
		s.relations = r
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.vcardVersion != wire.VCard3 && s.vcardVersion != wire.VCard4 {
		return nil, fmt.Errorf("unsupported vcard version %q", s.vcardVersion)
	}
	return s, nil
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.answerOptions)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware())
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	wellKnown := func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, s.principalHref(), http.StatusMovedPermanently)
	}
	for _, path := range []string{"/.well-known/caldav", "/.well-known/carddav"} {
		r.Get(path, wellKnown)
		r.MethodFunc("PROPFIND", path, wellKnown)
	}

	routes := func(r chi.Router) {
		r.MethodFunc("PROPFIND", "/principals/{principal}", s.handlePropfindPrincipal)
		r.MethodFunc("PROPFIND", "/principals/{principal}/", s.handlePropfindPrincipal)
		for _, h := range []home{calendarHome, addressBookHome} {
			r.Route("/"+h.segment, func(r chi.Router) {
				r.MethodFunc("PROPFIND", "/", s.handle(h, s.handlePropfindHome))
				r.MethodFunc("PROPFIND", "/{collection}", s.handle(h, s.handlePropfindCollection))
				r.MethodFunc("PROPFIND", "/{collection}/", s.handle(h, s.handlePropfindCollection))
				r.MethodFunc("REPORT", "/{collection}", s.handle(h, s.handleReport))
				r.MethodFunc("REPORT", "/{collection}/", s.handle(h, s.handleReport))
				r.Get("/{collection}/{object}", s.handle(h, s.handleGet))
				r.Head("/{collection}/{object}", s.handle(h, s.handleGet))
				r.Put("/{collection}/{object}", s.handle(h, s.handlePut))
				r.Delete("/{collection}/{object}", s.handle(h, s.handleDelete))
			})
		}
	}
	if s.basePath == "" {
		routes(r)
	} else {
		r.Route(s.basePath, routes)
	}
	return r
}

// answerOptions answers OPTIONS for every path with the DAV capabilities.
func (s *Server) answerOptions(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set(headerDAV, davCapabilities)
		w.Header().Set(headerAllow, allowedMethods)
		w.WriteHeader(http.StatusOK)
	})
}

// uidLocks serializes writes to the same object.
type uidLocks struct {
	mu   sync.Mutex
	held map[string]*uidLock
}

type uidLock struct {
	sync.Mutex
	refs int
}

// lock acquires the lock for key and returns its release function.
func (l *uidLocks) lock(key string) func() {
	l.mu.Lock()
	lk, ok := l.held[key]
	if !ok {
		lk = &uidLock{}
		l.held[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	lk.Lock()
	return func() {
		lk.Unlock()
		l.mu.Lock()
		lk.refs--
		if lk.refs == 0 {
			delete(l.held, key)
		}
		l.mu.Unlock()
	}
}

// lockAll acquires the locks of every distinct key in a fixed order and
// returns a function releasing them all.
func (l *uidLocks) lockAll(keys ...string) func() {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)
	releases := make([]func(), 0, len(keys))
	for _, k := range keys {
		releases = append(releases, l.lock(k))
	}
	return func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
}
