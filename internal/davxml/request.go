package davxml

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
)

// Propfind is a parsed PROPFIND body. An empty body requests all
// properties.
type Propfind struct {
	AllProp  bool
	PropName bool
	Props    []Name
}

// Wants reports whether the request asks for name.
func (p Propfind) Wants(name Name) bool {
	if p.AllProp || p.PropName {
		return true
	}
	for _, n := range p.Props {
		if n == name {
			return true
		}
	}
	return false
}

// ParsePropfind parses a PROPFIND request body
func ParsePropfind(body []byte) (Propfind, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return Propfind{AllProp: true}, nil
	}
	root, err := readRoot(body, "propfind")
	if err != nil {
		return Propfind{}, err
	}

	var p Propfind
	switch {
	case childNamed(root, "allprop") != nil:
		p.AllProp = true
	case childNamed(root, "propname") != nil:
		p.PropName = true
	default:
		p.Props = propNames(childNamed(root, "prop"))
	}
	return p, nil
}

// ReportKind identifies a REPORT request
type ReportKind int

const (
	ReportCalendarQuery ReportKind = iota
	ReportCalendarMultiget
	ReportAddressbookMultiget
	ReportAddressbookQuery
)

// Report is a parsed REPORT body.
type Report struct {
	Kind   ReportKind
	Props  []Name
	Hrefs  []string
	Filter *CompFilter
}

// CompFilter is a component filter of a calendar-query, reduced to the
// constraints the gateway evaluates.
type CompFilter struct {
	Name      string
	Start     time.Time
	End       time.Time
	UID       string
	NegateUID bool
	Children  []CompFilter
}

// Component returns the innermost filtered component below VCALENDAR.
func (f *CompFilter) Component() *CompFilter {
	if f == nil {
		return nil
	}
	if strings.EqualFold(f.Name, "VCALENDAR") && len(f.Children) > 0 {
		return &f.Children[0]
	}
	return f
}

// ParseReport parses a REPORT request body
func ParseReport(body []byte) (*Report, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("empty document")
	}

	r := &Report{}
	switch root.Tag {
	case "calendar-query":
		r.Kind = ReportCalendarQuery
	case "calendar-multiget":
		r.Kind = ReportCalendarMultiget
	case "addressbook-multiget":
		r.Kind = ReportAddressbookMultiget
	case "addressbook-query":
		r.Kind = ReportAddressbookQuery
	default:
		return nil, fmt.Errorf("unsupported report: %s", root.Tag)
	}

	r.Props = propNames(childNamed(root, "prop"))
	for _, href := range childrenNamed(root, "href") {
		r.Hrefs = append(r.Hrefs, strings.TrimSpace(href.Text()))
	}
	if filter := childNamed(root, "filter"); filter != nil {
		if comp := childNamed(filter, "comp-filter"); comp != nil {
			f := parseCompFilter(comp)
			r.Filter = &f
		}
	}
	return r, nil
}

// parseCompFilter recursively parses a comp-filter element
func parseCompFilter(elem *etree.Element) CompFilter {
	f := CompFilter{Name: strings.ToUpper(elem.SelectAttrValue("name", ""))}

	if tr := childNamed(elem, "time-range"); tr != nil {
		f.Start = parseUTC(tr.SelectAttrValue("start", ""))
		f.End = parseUTC(tr.SelectAttrValue("end", ""))
	}
	for _, pf := range childrenNamed(elem, "prop-filter") {
		if !strings.EqualFold(pf.SelectAttrValue("name", ""), "UID") {
			continue
		}
		if tm := childNamed(pf, "text-match"); tm != nil {
			f.UID = strings.TrimSpace(tm.Text())
			f.NegateUID = tm.SelectAttrValue("negate-condition", "no") == "yes"
		}
	}
	for _, child := range childrenNamed(elem, "comp-filter") {
		f.Children = append(f.Children, parseCompFilter(child))
	}
	return f
}

func parseUTC(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse("20060102T150405Z", s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func propNames(prop *etree.Element) []Name {
	if prop == nil {
		return nil
	}
	var names []Name
	for _, elem := range prop.ChildElements() {
		names = append(names, nameOf(elem))
	}
	return names
}

func readRoot(body []byte, tag string) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("read %s: %w", tag, err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("empty document")
	}
	if root.Tag != tag {
		return nil, fmt.Errorf("invalid root tag: %s", root.Tag)
	}
	return root, nil
}
