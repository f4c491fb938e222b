package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/cyp0633/kolabdav/etag"
	"github.com/cyp0633/kolabdav/recordsync"
)

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, ctx *RequestContext) {
	if recordsync.IsAttachmentName(ctx.Object) {
		s.getAttachment(w, r, ctx)
		return
	}

	wctx := s.wireContext(r, ctx, s.objectHref(ctx.home, ctx.Collection, ctx.Object))
	var (
		object *recordsync.Object
		err    error
	)
	if ctx.home == calendarHome && ctx.Collection == inboxName {
		object, err = ctx.Sync.SchedulingObject(r.Context(), ctx.Object, wctx)
	} else {
		object, err = ctx.Sync.Get(r.Context(), ctx.Collection, ctx.Object, wctx)
	}
	if err != nil {
		writeError(w, ctx, err)
		return
	}

	if inm := r.Header.Get("If-None-Match"); inm != "" && etag.Matches(inm, object.ETag) {
		w.Header().Set(headerETag, object.ETag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set(headerContentType, object.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(object.Data)))
	w.Header().Set(headerETag, object.ETag)
	if object.LastModified > 0 {
		w.Header().Set("Last-Modified", time.Unix(object.LastModified, 0).UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(object.Data); err != nil {
		ctx.logger.Error("failed to write response", "error", err)
	}
}

func (s *Server) getAttachment(w http.ResponseWriter, r *http.Request, ctx *RequestContext) {
	a, err := ctx.Sync.FetchAttachment(r.Context(), ctx.Collection, ctx.Object)
	if err != nil {
		writeError(w, ctx, err)
		return
	}
	mimeType := a.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set(headerContentType, mimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	if a.Name != "" {
		w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(a.Name))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(a.Data); err != nil {
		ctx.logger.Error("failed to write attachment", "error", err)
	}
}
