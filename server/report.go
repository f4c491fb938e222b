package server

import (
	"errors"
	"io"
	"net/http"
	"path"

	"github.com/cyp0633/kolabdav/internal/davxml"
	"github.com/cyp0633/kolabdav/record"
	"github.com/cyp0633/kolabdav/recordsync"
)

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request, ctx *RequestContext) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	report, err := davxml.ParseReport(body)
	if err != nil {
		ctx.logger.Warn("invalid report", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !reportAllowed(ctx.home, report.Kind) {
		http.Error(w, "Unsupported report for this collection", http.StatusBadRequest)
		return
	}

	req := davxml.Propfind{Props: report.Props}
	if len(req.Props) == 0 {
		req.AllProp = true
	}

	var ms *davxml.Multistatus
	switch report.Kind {
	case davxml.ReportCalendarMultiget, davxml.ReportAddressbookMultiget:
		ms, err = s.multiget(r, ctx, req, report.Hrefs)
	case davxml.ReportCalendarQuery:
		ms, err = s.calendarQuery(r, ctx, req, report.Filter.Component())
	case davxml.ReportAddressbookQuery:
		ms, err = s.addressbookQuery(r, ctx, req)
	}
	if err != nil {
		writeError(w, ctx, err)
		return
	}
	s.writeMultistatus(w, ms)
}

func reportAllowed(h home, kind davxml.ReportKind) bool {
	switch kind {
	case davxml.ReportCalendarQuery, davxml.ReportCalendarMultiget:
		return h == calendarHome
	default:
		return h == addressBookHome
	}
}

// multiget renders the objects named by hrefs. Unknown objects are
// reported with status 404.
func (s *Server) multiget(r *http.Request, ctx *RequestContext, req davxml.Propfind, hrefs []string) (*davxml.Multistatus, error) {
	ms := &davxml.Multistatus{}
	for _, href := range hrefs {
		obj, err := s.render(r, ctx, path.Base(href))
		switch {
		case errors.Is(err, record.ErrNotFound):
			ms.Responses = append(ms.Responses, davxml.Response{Href: href, Status: davxml.StatusLine(http.StatusNotFound)})
		case err != nil:
			return nil, err
		default:
			ms.Responses = append(ms.Responses, davxml.NewResponse(href, objectResults(ctx, req, obj.Summary, obj.Data)))
		}
	}
	return ms, nil
}

// calendarQuery renders the objects matching the component filter.
func (s *Server) calendarQuery(r *http.Request, ctx *RequestContext, req davxml.Propfind, comp *davxml.CompFilter) (*davxml.Multistatus, error) {
	var filter recordsync.Filter
	if comp != nil && comp.Name != "VCALENDAR" {
		filter = recordsync.Filter{
			Component: comp.Name,
			Start:     comp.Start,
			End:       comp.End,
			UID:       comp.UID,
			NegateUID: comp.NegateUID,
		}
	}
	names, err := ctx.Sync.Query(r.Context(), ctx.Collection, filter)
	if err != nil {
		return nil, err
	}
	return s.renderAll(r, ctx, req, names)
}

// addressbookQuery renders every contact of the collection.
func (s *Server) addressbookQuery(r *http.Request, ctx *RequestContext, req davxml.Propfind) (*davxml.Multistatus, error) {
	items, err := ctx.Sync.Enumerate(r.Context(), ctx.Collection, recordsync.EnumerateOptions{})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(items))
	for _, it := range items {
		names = append(names, it.URI)
	}
	return s.renderAll(r, ctx, req, names)
}

func (s *Server) renderAll(r *http.Request, ctx *RequestContext, req davxml.Propfind, names []string) (*davxml.Multistatus, error) {
	ms := &davxml.Multistatus{}
	for _, name := range names {
		obj, err := s.render(r, ctx, name)
		if errors.Is(err, record.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		ms.Responses = append(ms.Responses, s.objectResponse(ctx, req, obj.Summary, obj.Data))
	}
	ctx.logger.Debug("report matched objects", "count", len(ms.Responses))
	return ms, nil
}

func (s *Server) render(r *http.Request, ctx *RequestContext, name string) (*recordsync.Object, error) {
	wctx := s.wireContext(r, ctx, s.objectHref(ctx.home, ctx.Collection, name))
	return ctx.Sync.Get(r.Context(), ctx.Collection, name, wctx)
}
