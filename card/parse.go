// Package card converts vCard documents to and from normalized records.
package card

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-vcard"

	"github.com/cyp0633/kolabdav/internal/lines"
	"github.com/cyp0633/kolabdav/record"
)

var sanitizeOptions = lines.Options{Container: "VCARD", BareParamsAsType: true}

// Parse decodes a vCard document into a contact or group record. When data
// holds several cards the one whose UID equals expectedUID is preferred,
// otherwise the first one is used.
func Parse(data []byte, expectedUID string) (*record.Record, error) {
	blocks := lines.Blocks(data, sanitizeOptions)
	if len(blocks) == 0 {
		return nil, record.Errorf(record.ErrParse, "card.Parse", "no VCARD found")
	}

	var chosen vcard.Card
	for _, block := range blocks {
		c, err := vcard.NewDecoder(bytes.NewReader(protectListCommas(block))).Decode()
		if err != nil && !errors.Is(err, io.EOF) {
			continue
		}
		if c == nil {
			continue
		}
		if chosen == nil {
			chosen = c
		}
		if expectedUID != "" && c.Value(vcard.FieldUID) == expectedUID {
			chosen = c
			break
		}
	}
	if chosen == nil {
		return nil, record.Errorf(record.ErrParse, "card.Parse", "undecodable VCARD")
	}
	return fromCard(chosen), nil
}

func fromCard(c vcard.Card) *record.Record {
	rec := &record.Record{
		UID:     c.Value(vcard.FieldUID),
		Type:    record.TypeContact,
		Title:   c.Value(vcard.FieldFormattedName),
		Contact: &record.Contact{},
	}
	ct := rec.Contact

	for _, key := range sortedKeys(c) {
		for _, f := range c[key] {
			if !applyField(rec, ct, key, f) {
				rec.Custom = append(rec.Custom, customProp(key, f))
			}
		}
	}

	ct.IM = dedupe(ct.IM)
	return rec
}

// applyField stores f in rec and reports whether the field is known.
func applyField(rec *record.Record, ct *record.Contact, key string, f *vcard.Field) bool {
	switch key {
	case vcard.FieldVersion, vcard.FieldProductID, vcard.FieldUID, vcard.FieldFormattedName:
	case vcard.FieldName:
		parts := structured(f.Value, 5)
		ct.Surname, ct.FirstName, ct.MiddleName, ct.Prefix, ct.Suffix = parts[0], parts[1], parts[2], parts[3], parts[4]
	case vcard.FieldNickname:
		ct.Nickname = f.Value
	case vcard.FieldTitle:
		ct.JobTitle = f.Value
	case fieldProfession:
		ct.Profession = f.Value
	case vcard.FieldOrganization:
		parts := structured(f.Value, 2)
		ct.Organization, ct.Department = parts[0], parts[1]
	case fieldAssistant:
		ct.Assistant = append(ct.Assistant, splitValues(f.Value)...)
	case fieldManager:
		ct.Manager = append(ct.Manager, splitValues(f.Value)...)
	case fieldChildren:
		ct.Children = append(ct.Children, splitValues(f.Value)...)
	case fieldSpouse:
		ct.Spouse = f.Value
	case vcard.FieldEmail:
		ct.Emails = append(ct.Emails, record.TypedValue{Type: firstType(f.Params), Value: f.Value})
	case vcard.FieldTelephone:
		ct.Phones = append(ct.Phones, record.TypedValue{Type: phoneType(types(f.Params)), Value: strings.TrimPrefix(f.Value, "tel:")})
	case vcard.FieldURL:
		ct.Websites = append(ct.Websites, record.TypedValue{Type: firstType(f.Params), Value: f.Value})
	case vcard.FieldAddress:
		parts := structured(f.Value, 7)
		ct.Addresses = append(ct.Addresses, record.Address{
			Type:     firstType(f.Params),
			Street:   parts[2],
			Locality: parts[3],
			Region:   parts[4],
			Code:     parts[5],
			Country:  parts[6],
		})
	case vcard.FieldIMPP:
		if im := imppValue(f); im != "" {
			ct.IM = append(ct.IM, im)
		}
	case vcard.FieldNote:
		ct.Notes = f.Value
	case vcard.FieldBirthday:
		ct.Birthday = parseDate(f)
	case vcard.FieldAnniversary, fieldAnniversary:
		ct.Anniversary = parseDate(f)
	case vcard.FieldGender, fieldGender, fieldSex:
		ct.Gender = parseGender(key, f.Value)
	case vcard.FieldCategories, fieldCategory:
		rec.Categories = append(rec.Categories, splitValues(f.Value)...)
	case fieldFreeBusy:
		ct.FreeBusyURL = f.Value
	case vcard.FieldPhoto:
		ct.Photo, ct.PhotoType = parsePhoto(f)
		if ct.Photo == nil {
			ct.PhotoType = ""
		}
	case vcard.FieldRevision:
		rec.Changed = parseRevision(f.Value)
	case vcard.FieldKind, fieldAppleKind:
		if strings.EqualFold(f.Value, "group") {
			rec.Type = record.TypeGroup
		}
	case vcard.FieldMember, fieldAppleMember:
		ct.Members = append(ct.Members, strings.TrimPrefix(f.Value, memberPrefix))
	default:
		if proto, ok := imFields[key]; ok {
			ct.IM = append(ct.IM, imEntry(proto, f.Value))
			return true
		}
		return false
	}
	return true
}

// structured splits a compound value into exactly n components.
func structured(value string, n int) []string {
	parts := strings.Split(value, ";")
	out := make([]string, n)
	for i := 0; i < n && i < len(parts); i++ {
		out[i] = strings.TrimSpace(parts[i])
	}
	return out
}

// escapedComma stands in for an escaped comma of a list value while the
// card is decoded, since the decoder unescapes it into a separator.
const escapedComma = "\uE000"

// listFields are the properties whose value is a comma separated list.
var listFields = map[string]bool{
	vcard.FieldCategories: true,
	fieldCategory:         true,
	fieldAssistant:        true,
	fieldManager:          true,
	fieldChildren:         true,
}

// protectListCommas replaces escaped commas in list values of a sanitized
// block with escapedComma.
func protectListCommas(block []byte) []byte {
	var out bytes.Buffer
	for _, line := range strings.Split(string(block), "\r\n") {
		if line == "" {
			continue
		}
		head, value, ok := lines.Split(line)
		name, _ := lines.SplitParams(head)
		if _, prop, grouped := strings.Cut(name, "."); grouped {
			name = prop
		}
		if ok && listFields[strings.ToUpper(name)] && strings.Contains(value, `\,`) {
			line = head + ":" + markEscapedCommas(value)
		}
		out.WriteString(line)
		out.WriteString("\r\n")
	}
	return out.Bytes()
}

func markEscapedCommas(value string) string {
	var b strings.Builder
	for i := 0; i < len(value); i++ {
		if value[i] == '\\' && i+1 < len(value) {
			if value[i+1] == ',' {
				b.WriteString(escapedComma)
			} else {
				b.WriteByte(value[i])
				b.WriteByte(value[i+1])
			}
			i++
			continue
		}
		b.WriteByte(value[i])
	}
	return b.String()
}

func splitValues(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		v = strings.ReplaceAll(v, escapedComma, ",")
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// types returns the lower-cased TYPE parameter values without the
// "internet" and "pref" markers.
func types(params vcard.Params) []string {
	var out []string
	for _, v := range params[vcard.ParamType] {
		for _, t := range strings.Split(v, ",") {
			t = strings.ToLower(strings.TrimSpace(t))
			if t == "" || t == "internet" || t == "pref" {
				continue
			}
			out = append(out, t)
		}
	}
	return out
}

func firstType(params vcard.Params) string {
	if t := types(params); len(t) > 0 {
		return t[0]
	}
	return ""
}

func phoneType(ts []string) string {
	if slices.Contains(ts, "fax") {
		switch {
		case slices.Contains(ts, "home"):
			return "homefax"
		case slices.Contains(ts, "work"):
			return "workfax"
		}
		return "fax"
	}
	if len(ts) == 0 {
		return ""
	}
	if t, ok := phoneTypesIn[ts[0]]; ok {
		return t
	}
	return ts[0]
}

func imEntry(proto, value string) string {
	if i := strings.Index(value, ":"); i >= 0 {
		value = value[i+1:]
	}
	if p, ok := imProtocolsIn[proto]; ok {
		proto = p
	}
	return proto + ":" + value
}

func imppValue(f *vcard.Field) string {
	value, err := url.PathUnescape(f.Value)
	if err != nil {
		value = f.Value
	}
	if service := strings.ToLower(f.Params.Get(paramServiceType)); service != "" {
		return imEntry(service, value)
	}
	if proto, rest, ok := strings.Cut(value, ":"); ok {
		return imEntry(strings.ToLower(proto), rest)
	}
	return value
}

var (
	dateOnly   = regexp.MustCompile(`^(\d{4})-?(\d{2})-?(\d{2})`)
	noYearDate = regexp.MustCompile(`^--(\d{2})-?(\d{2})`)
)

// parseDate reads BDAY-like values as a date without time. Year-less dates
// land in the current year and free text values are dropped.
func parseDate(f *vcard.Field) record.DateValue {
	if strings.EqualFold(f.Params.Get(vcard.ParamValue), "text") {
		return record.DateValue{}
	}
	value := strings.TrimSpace(f.Value)
	if m := noYearDate.FindStringSubmatch(value); m != nil {
		return dateFromParts(strconv.Itoa(time.Now().Year()), m[1], m[2])
	}
	if m := dateOnly.FindStringSubmatch(value); m != nil {
		return dateFromParts(m[1], m[2], m[3])
	}
	return record.DateValue{}
}

func dateFromParts(year, month, day string) record.DateValue {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	if m < 1 || m > 12 || d < 1 || d > 31 {
		return record.DateValue{}
	}
	return record.Date(y, time.Month(m), d)
}

var revisionLayouts = []string{"20060102T150405Z", time.RFC3339, "2006-01-02T15:04:05Z07:00", "20060102"}

func parseRevision(value string) record.DateValue {
	for _, layout := range revisionLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return record.DateTime(t.UTC())
		}
	}
	return record.DateValue{}
}

func parseGender(key, value string) string {
	if key != vcard.FieldGender {
		return value
	}
	sex, _, _ := strings.Cut(value, ";")
	switch strings.ToUpper(sex) {
	case "M":
		return "male"
	case "F":
		return "female"
	}
	return value
}

// parsePhoto returns inline photo data and its image type. Remote references
// yield nil.
func parsePhoto(f *vcard.Field) ([]byte, string) {
	value := strings.TrimSpace(f.Value)
	if rest, ok := strings.CutPrefix(value, "data:"); ok {
		meta, payload, ok := strings.Cut(rest, ",")
		if !ok || !strings.HasSuffix(meta, ";base64") {
			return nil, ""
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, ""
		}
		mediaType := strings.TrimSuffix(meta, ";base64")
		_, sub, _ := strings.Cut(mediaType, "/")
		return data, strings.ToUpper(sub)
	}

	enc := strings.ToLower(f.Params.Get(paramEncoding))
	ts := types(f.Params)
	if enc != "b" && enc != "base64" && !slices.Contains(ts, "base64") {
		return nil, ""
	}
	data, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(value), ""))
	if err != nil {
		return nil, ""
	}
	photoType := ""
	for _, t := range ts {
		if t != "base64" {
			photoType = strings.ToUpper(t)
			break
		}
	}
	return data, photoType
}

func customProp(key string, f *vcard.Field) record.CustomProp {
	cp := record.CustomProp{Name: key, Value: f.Value}
	if f.Group != "" {
		cp.Name = f.Group + "." + key
	}
	if len(f.Params) > 0 {
		cp.Params = make(map[string][]string, len(f.Params))
		for k, v := range f.Params {
			cp.Params[k] = slices.Clone(v)
		}
	}
	return cp
}

func dedupe(values []string) []string {
	var out []string
	for _, v := range values {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

func sortedKeys(c vcard.Card) []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
