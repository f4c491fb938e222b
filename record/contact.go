package record

import "slices"

// Contact holds the address book fields of a contact or group record. The
// formatted name is Record.Title.
type Contact struct {
	Surname    string
	FirstName  string
	MiddleName string
	Prefix     string
	Suffix     string
	Nickname   string

	JobTitle     string
	Profession   string
	Organization string
	Department   string
	Assistant    []string
	Manager      []string
	Spouse       string
	Children     []string

	Emails    []TypedValue
	Phones    []TypedValue
	Websites  []TypedValue
	IM        []string
	Addresses []Address

	Notes       string
	Gender      string
	Birthday    DateValue
	Anniversary DateValue
	FreeBusyURL string

	Photo     []byte
	PhotoType string

	Members []string
}

// TypedValue is a value with a kind label such as "home" or "work".
type TypedValue struct {
	Type  string
	Value string
}

// Address is a postal address.
type Address struct {
	Type     string
	Street   string
	Locality string
	Region   string
	Code     string
	Country  string
}

func (c *Contact) clone() *Contact {
	out := *c
	out.Assistant = slices.Clone(c.Assistant)
	out.Manager = slices.Clone(c.Manager)
	out.Children = slices.Clone(c.Children)
	out.Emails = slices.Clone(c.Emails)
	out.Phones = slices.Clone(c.Phones)
	out.Websites = slices.Clone(c.Websites)
	out.IM = slices.Clone(c.IM)
	out.Addresses = slices.Clone(c.Addresses)
	out.Photo = slices.Clone(c.Photo)
	out.Members = slices.Clone(c.Members)
	return &out
}
