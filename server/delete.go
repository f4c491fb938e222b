package server

import (
	"net/http"

	"github.com/cyp0633/kolabdav/etag"
	"github.com/cyp0633/kolabdav/resource"
)

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, ctx *RequestContext) {
	if ctx.home == calendarHome && ctx.Collection == inboxName {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	unlock := s.locks.lock(ctx.Collection + "/" + resource.UIDFromName(ctx.Object, ctx.Sync.Suffix()))
	defer unlock()

	// Check If-Match header for ETag validation
	if ifMatch := r.Header.Get("If-Match"); ifMatch != "" {
		current, err := ctx.Sync.ETag(r.Context(), ctx.Collection, ctx.Object)
		if err != nil {
			writeError(w, ctx, err)
			return
		}
		if !etag.Matches(ifMatch, current) {
			ctx.logger.Warn("etag mismatch", "client_etag", ifMatch, "server_etag", current)
			http.Error(w, "Precondition Failed", http.StatusPreconditionFailed)
			return
		}
	}

	err := ctx.Sync.Delete(r.Context(), ctx.Collection, ctx.Object)
	s.observeWrite("delete", err)
	if err != nil {
		writeError(w, ctx, err)
		return
	}

	ctx.logger.Info("object deleted")
	w.WriteHeader(http.StatusNoContent)
}
