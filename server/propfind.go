package server

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/samber/mo"

	"github.com/cyp0633/kolabdav/internal/davxml"
	"github.com/cyp0633/kolabdav/recordsync"
)

// readPropfind parses the PROPFIND body of r, answering 400 on failure.
func readPropfind(w http.ResponseWriter, r *http.Request) (davxml.Propfind, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return davxml.Propfind{}, false
	}
	req, err := davxml.ParsePropfind(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return davxml.Propfind{}, false
	}
	return req, true
}

func (s *Server) writeMultistatus(w http.ResponseWriter, ms *davxml.Multistatus) {
	w.Header().Set(headerContentType, mimeTypeXML)
	w.WriteHeader(http.StatusMultiStatus)
	if _, err := ms.WriteTo(w); err != nil {
		s.logger.Error("failed to write multistatus", "error", err)
	}
}

func (s *Server) handlePropfindPrincipal(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "principal") != s.principal {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	req, ok := readPropfind(w, r)
	if !ok {
		return
	}
	env := propEnv{s: s}
	s.writeMultistatus(w, &davxml.Multistatus{Responses: []davxml.Response{
		davxml.NewResponse(s.principalHref(), resolve(req, principalAllProps, principalResolvers, env)),
	}})
}

// handlePropfindHome lists the collections of a home. The calendar home
// also lists the scheduling inbox.
func (s *Server) handlePropfindHome(w http.ResponseWriter, r *http.Request, ctx *RequestContext) {
	req, ok := readPropfind(w, r)
	if !ok {
		return
	}

	ms := &davxml.Multistatus{Responses: []davxml.Response{
		davxml.NewResponse(s.homeHref(ctx.home), resolve(req, homeAllProps, homeResolvers, propEnv{s: s, h: ctx.home})),
	}}
	if ctx.Depth > 0 {
		descriptors, err := ctx.Index.List(r.Context())
		if err != nil {
			writeError(w, ctx, err)
			return
		}
		for _, d := range descriptors {
			env := collectionEnv{s: s, h: ctx.home, d: d}
			ms.Responses = append(ms.Responses,
				davxml.NewResponse(s.collectionHref(ctx.home, d.ID), resolve(req, collectionAllProps, collectionResolvers, env)))
		}
		if ctx.home == calendarHome {
			ms.Responses = append(ms.Responses, s.inboxResponse(req))
		}
		ctx.logger.Debug("listed collections", "count", len(descriptors))
	}
	s.writeMultistatus(w, ms)
}

// handlePropfindCollection describes a collection and, at depth 1, the
// objects it holds.
func (s *Server) handlePropfindCollection(w http.ResponseWriter, r *http.Request, ctx *RequestContext) {
	req, ok := readPropfind(w, r)
	if !ok {
		return
	}
	if ctx.home == calendarHome && ctx.Collection == inboxName {
		s.propfindInbox(w, r, ctx, req)
		return
	}

	ref, err := ctx.Index.Resolve(r.Context(), ctx.Collection)
	if err != nil {
		writeError(w, ctx, err)
		return
	}
	env := collectionEnv{s: s, h: ctx.home, d: ref.Descriptor}
	ms := &davxml.Multistatus{Responses: []davxml.Response{
		davxml.NewResponse(s.collectionHref(ctx.home, ctx.Collection), resolve(req, collectionAllProps, collectionResolvers, env)),
	}}

	if ctx.Depth > 0 {
		items, err := ctx.Sync.Enumerate(r.Context(), ctx.Collection, recordsync.EnumerateOptions{})
		if err != nil {
			writeError(w, ctx, err)
			return
		}
		for _, it := range items {
			ms.Responses = append(ms.Responses, s.objectResponse(ctx, req, it, nil))
		}
		ctx.logger.Debug("listed objects", "count", len(items))
	}
	s.writeMultistatus(w, ms)
}

func (s *Server) propfindInbox(w http.ResponseWriter, r *http.Request, ctx *RequestContext, req davxml.Propfind) {
	ms := &davxml.Multistatus{Responses: []davxml.Response{s.inboxResponse(req)}}
	if ctx.Depth > 0 {
		items, err := ctx.Sync.SchedulingObjects(r.Context())
		if err != nil {
			writeError(w, ctx, err)
			return
		}
		for _, it := range items {
			ms.Responses = append(ms.Responses, s.objectResponse(ctx, req, it, nil))
		}
	}
	s.writeMultistatus(w, ms)
}

func (s *Server) inboxResponse(req davxml.Propfind) davxml.Response {
	resolvers := map[davxml.Name]Resolver[propEnv]{
		davxml.PropResourceType: func(propEnv) mo.Result[davxml.Property] {
			return mo.Ok(davxml.ResourceType(typeCollection, typeScheduleInbox))
		},
		davxml.PropDisplayName: func(propEnv) mo.Result[davxml.Property] {
			return text(davxml.PropDisplayName, "Inbox")
		},
		davxml.PropOwner: homeResolvers[davxml.PropOwner],
	}
	all := []davxml.Name{davxml.PropResourceType, davxml.PropDisplayName}
	return davxml.NewResponse(s.collectionHref(calendarHome, inboxName), resolve(req, all, resolvers, propEnv{s: s, h: calendarHome}))
}

// objectResponse describes one object. data holds the rendered body when
// it is available.
func (s *Server) objectResponse(ctx *RequestContext, req davxml.Propfind, it recordsync.Summary, data []byte) davxml.Response {
	return davxml.NewResponse(s.objectHref(ctx.home, ctx.Collection, it.URI), objectResults(ctx, req, it, data))
}

func objectResults(ctx *RequestContext, req davxml.Propfind, it recordsync.Summary, data []byte) davxml.ResultMap {
	env := objectEnv{summary: it, contentType: ctx.Sync.ContentType(), data: data}
	return resolve(req, objectAllProps, objectResolvers, env)
}
