package server

import (
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cyp0633/kolabdav/collection"
	"github.com/cyp0633/kolabdav/record"
	"github.com/cyp0633/kolabdav/recordsync"
	"github.com/cyp0633/kolabdav/wire"
)

// RequestContext holds parsed information about one request.
type RequestContext struct {
	home       home
	Agent      wire.Agent
	Collection string
	Object     string
	Depth      int
	Index      *collection.Index
	Sync       *recordsync.Synchronizer
	logger     *slog.Logger
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, ctx *RequestContext)

// handle builds the request context for a route of h. Indexes are created
// per request so collection listings are memoized for one request only.
func (s *Server) handle(h home, next handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := &RequestContext{
			home:       h,
			Agent:      wire.ClassifyAgent(r.UserAgent(), h.wire),
			Collection: chi.URLParam(r, "collection"),
			Object:     chi.URLParam(r, "object"),
			Depth:      parseDepth(r.Header.Get("Depth")),
		}
		ctx.logger = s.logger.With(
			"method", r.Method,
			"home", h.segment,
			"collection", ctx.Collection,
			"object", ctx.Object,
			"request_id", middleware.GetReqID(r.Context()))
		ctx.logger.Debug("request received", "agent", ctx.Agent, "depth", ctx.Depth)

		ctx.Index = collection.New(s.store, h.kind, s.principal,
			collection.WithAggregate(s.aggregate && h.kind == collection.KindAddressBook),
			collection.WithLogger(s.logger))

		opts := []recordsync.Option{
			recordsync.WithEngine(s.engine),
			recordsync.WithEmails(s.emails...),
			recordsync.WithLogger(s.logger),
			recordsync.WithClock(s.now),
		}
		if s.relations != nil {
			opts = append(opts, recordsync.WithRelations(s.relations))
		}
		ctx.Sync = recordsync.New(ctx.Index, opts...)

		next(w, r, ctx)
	}
}

// parseDepth reads a Depth header. Missing and infinite depths are served
// as 1.
func parseDepth(v string) int {
	if strings.TrimSpace(v) == "0" {
		return 0
	}
	return 1
}

// wireContext negotiates serialization parameters for the object at href.
func (s *Server) wireContext(r *http.Request, ctx *RequestContext, href string) wire.Context {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return wire.Context{
		Version: s.negotiateVersion(r),
		Agent:   ctx.Agent,
		BaseURI: scheme + "://" + r.Host + href,
		Now:     s.now,
	}
}

// negotiateVersion picks the vCard version from the Accept header.
func (s *Server) negotiateVersion(r *http.Request) string {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, params, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil || (mt != "text/vcard" && mt != "text/x-vcard") {
			continue
		}
		switch params["version"] {
		case wire.VCard4:
			return wire.VCard4
		case wire.VCard3:
			return wire.VCard3
		}
	}
	return s.vcardVersion
}

// Hrefs

func (s *Server) principalHref() string {
	return s.basePath + "/principals/" + s.principal + "/"
}

func (s *Server) homeHref(h home) string {
	return s.basePath + "/" + h.segment + "/"
}

func (s *Server) collectionHref(h home, id string) string {
	return s.homeHref(h) + id + "/"
}

func (s *Server) objectHref(h home, id, name string) string {
	return s.collectionHref(h, id) + name
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, record.ErrParse):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, record.ErrIdentityMismatch):
		return http.StatusBadRequest
	case errors.Is(err, record.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, record.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err to the client with the status of its kind.
func writeError(w http.ResponseWriter, ctx *RequestContext, err error) {
	status := statusFor(err)
	switch {
	case status >= http.StatusInternalServerError:
		ctx.logger.Error("request failed", "status", status, "error", err)
	case status == http.StatusNotFound:
		ctx.logger.Debug("resource not found", "error", err)
	default:
		ctx.logger.Warn("request rejected", "status", status, "error", err)
	}
	http.Error(w, http.StatusText(status), status)
}
