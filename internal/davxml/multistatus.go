package davxml

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/beevik/etree"
	"github.com/samber/mo"
)

// Property lookup failures reported in propstat blocks
var (
	ErrNotFound  = errors.New("HTTP 404: Property not found")
	ErrForbidden = errors.New("HTTP 403: Forbidden access to the resource")
)

// Multistatus represents a multistatus response
type Multistatus struct {
	Responses []Response
}

// Response represents a single response within a multistatus
type Response struct {
	Href      string
	PropStats []PropStat
	Status    string
}

// PropStat represents property status in a response
type PropStat struct {
	Props  []Property
	Status string
}

// StatusLine formats an HTTP status for a status element.
func StatusLine(code int) string {
	return fmt.Sprintf("HTTP/1.1 %d %s", code, http.StatusText(code))
}

// ResultMap holds the outcome of resolving each requested property
type ResultMap map[Name]mo.Result[Property]

// NewResponse groups resolved properties into propstat blocks by status.
// Properties are written in name order within each block.
func NewResponse(href string, results ResultMap) Response {
	names := make([]Name, 0, len(results))
	for n := range results {
		names = append(names, n)
	}
	slices.SortFunc(names, func(a, b Name) int { return strings.Compare(a.String(), b.String()) })

	byStatus := map[int][]Property{}
	for _, n := range names {
		p, err := results[n].Get()
		switch {
		case err == nil:
			byStatus[http.StatusOK] = append(byStatus[http.StatusOK], p)
		case errors.Is(err, ErrForbidden):
			byStatus[http.StatusForbidden] = append(byStatus[http.StatusForbidden], Property{Name: n})
		default:
			byStatus[http.StatusNotFound] = append(byStatus[http.StatusNotFound], Property{Name: n})
		}
	}

	resp := Response{Href: href}
	for _, code := range []int{http.StatusOK, http.StatusForbidden, http.StatusNotFound} {
		if props := byStatus[code]; len(props) > 0 {
			resp.PropStats = append(resp.PropStats, PropStat{Props: props, Status: StatusLine(code)})
		}
	}
	return resp
}

// ToXML converts a Multistatus to an XML document
func (m *Multistatus) ToXML() *etree.Document {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="utf-8"`)
	root := doc.CreateElement("multistatus")
	root.Space = prefixes[DAV]
	AddNamespaces(doc)

	for _, resp := range m.Responses {
		response := root.CreateElement("d:response")
		response.CreateElement("d:href").SetText(resp.Href)

		if resp.Status != "" {
			response.CreateElement("d:status").SetText(resp.Status)
			continue
		}
		for _, ps := range resp.PropStats {
			propstat := response.CreateElement("d:propstat")
			prop := propstat.CreateElement("d:prop")
			for _, p := range ps.Props {
				prop.AddChild(p.ToElement())
			}
			propstat.CreateElement("d:status").SetText(ps.Status)
		}
	}
	return doc
}

// WriteTo writes the XML encoding of m to w.
func (m *Multistatus) WriteTo(w io.Writer) (int64, error) {
	doc := m.ToXML()
	doc.Indent(2)
	return doc.WriteTo(w)
}

// ParseMultistatus parses a multistatus document
func ParseMultistatus(data []byte) (*Multistatus, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("read multistatus: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("empty document")
	}
	if root.Tag != "multistatus" {
		return nil, fmt.Errorf("invalid root tag: %s", root.Tag)
	}

	m := &Multistatus{}
	for _, respElem := range childrenNamed(root, "response") {
		var resp Response
		if href := childNamed(respElem, "href"); href != nil {
			resp.Href = strings.TrimSpace(href.Text())
		}
		if status := childNamed(respElem, "status"); status != nil {
			resp.Status = strings.TrimSpace(status.Text())
		}
		for _, psElem := range childrenNamed(respElem, "propstat") {
			var ps PropStat
			if propElem := childNamed(psElem, "prop"); propElem != nil {
				for _, elem := range propElem.ChildElements() {
					var p Property
					p.FromElement(elem)
					ps.Props = append(ps.Props, p)
				}
			}
			if status := childNamed(psElem, "status"); status != nil {
				ps.Status = strings.TrimSpace(status.Text())
			}
			resp.PropStats = append(resp.PropStats, ps)
		}
		m.Responses = append(m.Responses, resp)
	}
	return m, nil
}

// Find returns the response for href.
func (m *Multistatus) Find(href string) (Response, bool) {
	for _, r := range m.Responses {
		if r.Href == href {
			return r, true
		}
	}
	return Response{}, false
}

// Prop returns the property named name from the propstat with status 200.
func (r Response) Prop(name Name) (Property, bool) {
	for _, ps := range r.PropStats {
		if !strings.Contains(ps.Status, " 200 ") {
			continue
		}
		for _, p := range ps.Props {
			if p.Name == name {
				return p, true
			}
		}
	}
	return Property{}, false
}
