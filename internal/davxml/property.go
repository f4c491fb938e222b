package davxml

import (
	"github.com/beevik/etree"
)

// Property represents a generic XML property
type Property struct {
	Name       Name
	Text       string
	Children   []Property
	Attributes map[string]string
}

// TextProp returns a property holding text.
func TextProp(name Name, text string) Property {
	return Property{Name: name, Text: text}
}

// HrefProp returns a property wrapping one href.
func HrefProp(name Name, href string) Property {
	return Property{Name: name, Children: []Property{TextProp(Name{DAV, "href"}, href)}}
}

// ResourceType returns a resourcetype property with the given type markers.
func ResourceType(types ...Name) Property {
	p := Property{Name: PropResourceType}
	for _, t := range types {
		p.Children = append(p.Children, Property{Name: t})
	}
	return p
}

// ComponentSet returns a supported-calendar-component-set property.
func ComponentSet(components ...string) Property {
	p := Property{Name: PropSupportedCompSet}
	for _, c := range components {
		p.Children = append(p.Children, Property{
			Name:       Name{CalDAV, "comp"},
			Attributes: map[string]string{"name": c},
		})
	}
	return p
}

// ToElement converts a Property to an etree.Element
func (p *Property) ToElement() *etree.Element {
	elem := newElement(p.Name)
	if _, known := prefixes[p.Name.Space]; !known && p.Name.Space != "" {
		elem.CreateAttr("xmlns", p.Name.Space)
	}
	if p.Text != "" {
		elem.SetText(p.Text)
	}
	for key, value := range p.Attributes {
		elem.CreateAttr(key, value)
	}
	for _, child := range p.Children {
		elem.AddChild(child.ToElement())
	}
	return elem
}

// FromElement populates a Property from an etree.Element
func (p *Property) FromElement(elem *etree.Element) {
	p.Name = nameOf(elem)
	p.Text = elem.Text()
	p.Children = nil
	p.Attributes = make(map[string]string)

	for _, attr := range elem.Attr {
		if attr.Space == "xmlns" || attr.Key == "xmlns" {
			continue
		}
		p.Attributes[attr.Key] = attr.Value
	}
	for _, child := range elem.ChildElements() {
		var c Property
		c.FromElement(child)
		p.Children = append(p.Children, c)
	}
}

// Child returns the first child property with the given local name.
func (p *Property) Child(local string) (Property, bool) {
	for _, c := range p.Children {
		if c.Name.Local == local {
			return c, true
		}
	}
	return Property{}, false
}
