package server

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/cyp0633/kolabdav/etag"
	"github.com/cyp0633/kolabdav/record"
	"github.com/cyp0633/kolabdav/recordsync"
	"github.com/cyp0633/kolabdav/resource"
)

// maxObjectSize bounds the accepted request body.
const maxObjectSize = 10 << 20

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request, ctx *RequestContext) {
	if ctx.home == calendarHome && ctx.Collection == inboxName {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	// 1) Check Content-Type
	if !s.acceptsContentType(ctx, r.Header.Get(headerContentType)) {
		ctx.logger.Warn("unsupported media type", "content_type", r.Header.Get(headerContentType))
		http.Error(w, "Unsupported Media Type", http.StatusUnsupportedMediaType)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxObjectSize))
	if err != nil {
		ctx.logger.Warn("failed to read request body", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Failed to read body", http.StatusBadRequest)
		return
	}

	// The document may be stored under its own UID instead of the one the
	// name implies, so both are held.
	keys := []string{ctx.Collection + "/" + resource.UIDFromName(ctx.Object, ctx.Sync.Suffix())}
	if uid := ctx.Sync.DocumentUID(data); uid != "" {
		keys = append(keys, ctx.Collection+"/"+uid)
	}
	unlock := s.locks.lockAll(keys...)
	defer unlock()

	// 2) Load the current entity tag, if any
	current, err := ctx.Sync.ETag(r.Context(), ctx.Collection, ctx.Object)
	exists := err == nil
	if err != nil && !errors.Is(err, record.ErrNotFound) {
		writeError(w, ctx, err)
		return
	}

	// 3) Validate preconditions
	ifMatch := r.Header.Get("If-Match")
	ifNone := r.Header.Get("If-None-Match")
	if exists {
		if ifMatch != "" && !etag.Matches(ifMatch, current) {
			ctx.logger.Warn("etag mismatch", "client_etag", ifMatch, "server_etag", current)
			http.Error(w, "Precondition Failed", http.StatusPreconditionFailed)
			return
		}
		if ifNone != "" && etag.Matches(ifNone, current) {
			ctx.logger.Warn("if-none-match used but resource exists")
			http.Error(w, "Precondition Failed", http.StatusPreconditionFailed)
			return
		}
	} else if ifMatch != "" {
		ctx.logger.Warn("if-match used on non-existent resource", "etag", ifMatch)
		http.Error(w, "Precondition Failed", http.StatusPreconditionFailed)
		return
	}

	// 4) Persist
	var res recordsync.Result
	if exists {
		res, err = ctx.Sync.Update(r.Context(), ctx.Collection, ctx.Object, data)
		s.observeWrite("update", err)
	} else {
		res, err = ctx.Sync.Create(r.Context(), ctx.Collection, ctx.Object, data)
		s.observeWrite("create", err)
	}
	if err != nil {
		writeError(w, ctx, err)
		return
	}

	// 5) Respond
	w.Header().Set(headerETag, res.ETag)
	if exists {
		ctx.logger.Info("object updated", "etag", res.ETag)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if res.Redirected {
		if s.metrics != nil {
			s.metrics.ObserveRedirect()
		}
		w.Header().Set(headerLocation, s.objectHref(ctx.home, ctx.Collection, res.Name))
	}
	ctx.logger.Info("object created", "name", res.Name, "etag", res.ETag, "redirected", res.Redirected)
	w.WriteHeader(http.StatusCreated)
}

// acceptsContentType reports whether contentType matches the documents of
// the home. A missing header is accepted.
func (s *Server) acceptsContentType(ctx *RequestContext, contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	if ctx.home == addressBookHome {
		return mt == "text/vcard" || mt == "text/x-vcard" || mt == "text/directory"
	}
	return mt == "text/calendar"
}

func (s *Server) observeWrite(op string, err error) {
	if s.metrics != nil {
		s.metrics.ObserveWrite(op, err)
	}
}
