package server

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/mo"

	"github.com/cyp0633/kolabdav/collection"
	"github.com/cyp0633/kolabdav/internal/davxml"
	"github.com/cyp0633/kolabdav/recordsync"
)

// Resolver resolves a single property for the given environment.
type Resolver[E any] func(env E) mo.Result[davxml.Property]

// propEnv describes the principal and home resources.
type propEnv struct {
	s *Server
	h home
}

// collectionEnv describes one collection.
type collectionEnv struct {
	s *Server
	h home
	d collection.Descriptor
}

// objectEnv describes one stored object. Data is set when the body was
// rendered.
type objectEnv struct {
	summary     recordsync.Summary
	contentType string
	data        []byte
}

var (
	typeCollection    = davxml.Name{Space: davxml.DAV, Local: "collection"}
	typePrincipal     = davxml.Name{Space: davxml.DAV, Local: "principal"}
	typeCalendar      = davxml.Name{Space: davxml.CalDAV, Local: "calendar"}
	typeScheduleInbox = davxml.Name{Space: davxml.CalDAV, Local: "schedule-inbox"}
	typeAddressBook   = davxml.Name{Space: davxml.CardDAV, Local: "addressbook"}
)

func notFound() mo.Result[davxml.Property] {
	return mo.Err[davxml.Property](davxml.ErrNotFound)
}

func text(name davxml.Name, value string) mo.Result[davxml.Property] {
	return mo.Ok(davxml.TextProp(name, value))
}

var principalResolvers = map[davxml.Name]Resolver[propEnv]{
	davxml.PropDisplayName: func(env propEnv) mo.Result[davxml.Property] {
		return text(davxml.PropDisplayName, env.s.principal)
	},
	davxml.PropResourceType: func(env propEnv) mo.Result[davxml.Property] {
		return mo.Ok(davxml.ResourceType(typeCollection, typePrincipal))
	},
	davxml.PropCurrentPrincipal: func(env propEnv) mo.Result[davxml.Property] {
		return mo.Ok(davxml.HrefProp(davxml.PropCurrentPrincipal, env.s.principalHref()))
	},
	davxml.PropCalendarHomeSet: func(env propEnv) mo.Result[davxml.Property] {
		return mo.Ok(davxml.HrefProp(davxml.PropCalendarHomeSet, env.s.homeHref(calendarHome)))
	},
	davxml.PropAddressbookHome: func(env propEnv) mo.Result[davxml.Property] {
		return mo.Ok(davxml.HrefProp(davxml.PropAddressbookHome, env.s.homeHref(addressBookHome)))
	},
	davxml.PropScheduleInboxURL: func(env propEnv) mo.Result[davxml.Property] {
		return mo.Ok(davxml.HrefProp(davxml.PropScheduleInboxURL, env.s.collectionHref(calendarHome, inboxName)))
	},
	davxml.PropCalendarUserAddrs: func(env propEnv) mo.Result[davxml.Property] {
		if len(env.s.emails) == 0 {
			return notFound()
		}
		p := davxml.Property{Name: davxml.PropCalendarUserAddrs}
		for _, email := range env.s.emails {
			p.Children = append(p.Children, davxml.TextProp(davxml.Name{Space: davxml.DAV, Local: "href"}, "mailto:"+email))
		}
		return mo.Ok(p)
	},
}

var homeResolvers = map[davxml.Name]Resolver[propEnv]{
	davxml.PropResourceType: func(env propEnv) mo.Result[davxml.Property] {
		return mo.Ok(davxml.ResourceType(typeCollection))
	},
	davxml.PropCurrentPrincipal: principalResolvers[davxml.PropCurrentPrincipal],
	davxml.PropOwner: func(env propEnv) mo.Result[davxml.Property] {
		return mo.Ok(davxml.HrefProp(davxml.PropOwner, env.s.principalHref()))
	},
}

var collectionResolvers = map[davxml.Name]Resolver[collectionEnv]{
	davxml.PropDisplayName: func(env collectionEnv) mo.Result[davxml.Property] {
		return text(davxml.PropDisplayName, env.d.DisplayName)
	},
	davxml.PropResourceType: func(env collectionEnv) mo.Result[davxml.Property] {
		if env.h.kind == collection.KindAddressBook {
			return mo.Ok(davxml.ResourceType(typeCollection, typeAddressBook))
		}
		return mo.Ok(davxml.ResourceType(typeCollection, typeCalendar))
	},
	davxml.PropGetCTag: func(env collectionEnv) mo.Result[davxml.Property] {
		return text(davxml.PropGetCTag, env.d.ChangeTag)
	},
	davxml.PropOwner: func(env collectionEnv) mo.Result[davxml.Property] {
		return mo.Ok(davxml.HrefProp(davxml.PropOwner, env.s.principalHref()))
	},
	davxml.PropCurrentPrincipal: func(env collectionEnv) mo.Result[davxml.Property] {
		return mo.Ok(davxml.HrefProp(davxml.PropCurrentPrincipal, env.s.principalHref()))
	},
	davxml.PropCalendarColor: func(env collectionEnv) mo.Result[davxml.Property] {
		if env.h.kind != collection.KindCalendar || env.d.Color == "" {
			return notFound()
		}
		return text(davxml.PropCalendarColor, env.d.Color)
	},
	davxml.PropCalendarOrder: func(env collectionEnv) mo.Result[davxml.Property] {
		if env.h.kind != collection.KindCalendar || env.d.Order == 0 {
			return notFound()
		}
		return text(davxml.PropCalendarOrder, strconv.Itoa(env.d.Order))
	},
	davxml.PropSupportedCompSet: func(env collectionEnv) mo.Result[davxml.Property] {
		if env.h.kind != collection.KindCalendar {
			return notFound()
		}
		return mo.Ok(davxml.ComponentSet(env.d.SupportedTypes...))
	},
}

var objectResolvers = map[davxml.Name]Resolver[objectEnv]{
	davxml.PropResourceType: func(env objectEnv) mo.Result[davxml.Property] {
		return mo.Ok(davxml.ResourceType())
	},
	davxml.PropGetETag: func(env objectEnv) mo.Result[davxml.Property] {
		return text(davxml.PropGetETag, env.summary.ETag)
	},
	davxml.PropGetContentType: func(env objectEnv) mo.Result[davxml.Property] {
		return text(davxml.PropGetContentType, env.contentType)
	},
	davxml.PropGetContentLength: func(env objectEnv) mo.Result[davxml.Property] {
		size := env.summary.Size
		if env.data != nil {
			size = len(env.data)
		}
		return text(davxml.PropGetContentLength, strconv.Itoa(size))
	},
	davxml.PropGetLastModified: func(env objectEnv) mo.Result[davxml.Property] {
		if env.summary.LastModified <= 0 {
			return notFound()
		}
		return text(davxml.PropGetLastModified, time.Unix(env.summary.LastModified, 0).UTC().Format(http.TimeFormat))
	},
	davxml.PropCalendarData: func(env objectEnv) mo.Result[davxml.Property] {
		if env.data == nil || !isCalendarType(env.contentType) {
			return notFound()
		}
		return text(davxml.PropCalendarData, string(env.data))
	},
	davxml.PropAddressData: func(env objectEnv) mo.Result[davxml.Property] {
		if env.data == nil || isCalendarType(env.contentType) {
			return notFound()
		}
		return text(davxml.PropAddressData, string(env.data))
	},
}

func isCalendarType(contentType string) bool {
	return strings.HasPrefix(contentType, "text/calendar")
}

// Properties returned for allprop and propname requests.
var (
	principalAllProps = []davxml.Name{
		davxml.PropDisplayName, davxml.PropResourceType, davxml.PropCurrentPrincipal,
		davxml.PropCalendarHomeSet, davxml.PropAddressbookHome,
	}
	homeAllProps       = []davxml.Name{davxml.PropResourceType, davxml.PropCurrentPrincipal}
	collectionAllProps = []davxml.Name{
		davxml.PropDisplayName, davxml.PropResourceType, davxml.PropGetCTag,
		davxml.PropCalendarColor, davxml.PropSupportedCompSet,
	}
	objectAllProps = []davxml.Name{
		davxml.PropResourceType, davxml.PropGetETag, davxml.PropGetContentType,
		davxml.PropGetContentLength, davxml.PropGetLastModified,
	}
)

// resolve evaluates the requested properties against env. Unknown names
// resolve to not found. Values are dropped for propname requests.
func resolve[E any](req davxml.Propfind, all []davxml.Name, resolvers map[davxml.Name]Resolver[E], env E) davxml.ResultMap {
	names := req.Props
	if req.AllProp || req.PropName {
		names = all
	}

	results := make(davxml.ResultMap, len(names))
	for _, name := range names {
		resolver, ok := resolvers[name]
		if !ok {
			results[name] = notFound()
			continue
		}
		result := resolver(env)
		if p, err := result.Get(); err == nil && req.PropName {
			result = mo.Ok(davxml.Property{Name: p.Name})
		}
		results[name] = result
	}
	return results
}
