package card

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/emersion/go-vcard"

	"github.com/cyp0633/kolabdav/record"
	"github.com/cyp0633/kolabdav/wire"
)

// ProductID is the PRODID of generated cards.
const ProductID = "-//kolabdav//Go Groupware Gateway//EN"

const (
	dateLayout3 = "2006-01-02"
	dateLayout4 = "20060102"
	revLayout   = "20060102T150405Z"
)

// Serialize renders a contact or group record as a vCard of the version
// requested by ctx.
func Serialize(rec *record.Record, ctx wire.Context) ([]byte, error) {
	if rec == nil || rec.UID == "" {
		return nil, fmt.Errorf("card: record without UID")
	}
	if rec.Type != record.TypeContact && rec.Type != record.TypeGroup {
		return nil, fmt.Errorf("card: cannot serialize %s record", rec.Type)
	}

	w := writer{card: make(vcard.Card), v4: ctx.VCardVersion() == wire.VCard4}
	ct := rec.Contact
	if ct == nil {
		ct = &record.Contact{}
	}

	w.add(vcard.FieldVersion, ctx.VCardVersion())
	w.add(vcard.FieldProductID, ProductID)
	w.add(vcard.FieldUID, rec.UID)
	w.add(vcard.FieldFormattedName, rec.Title)
	w.card[vcard.FieldName] = []*vcard.Field{{
		Value:  strings.Join([]string{ct.Surname, ct.FirstName, ct.MiddleName, ct.Prefix, ct.Suffix}, ";"),
		Params: vcard.Params{},
	}}

	if rec.Type == record.TypeGroup {
		if w.v4 {
			w.add(vcard.FieldKind, "group")
		} else {
			w.add(fieldAppleKind, "group")
		}
		for _, m := range ct.Members {
			if w.v4 {
				w.add(vcard.FieldMember, memberPrefix+m)
			} else {
				w.add(fieldAppleMember, memberPrefix+m)
			}
		}
	}

	w.add(vcard.FieldNickname, ct.Nickname)
	w.add(vcard.FieldTitle, ct.JobTitle)
	w.add(fieldProfession, ct.Profession)
	if ct.Organization != "" || ct.Department != "" {
		w.add(vcard.FieldOrganization, ct.Organization+";"+ct.Department)
	}
	w.addAll(fieldAssistant, ct.Assistant)
	w.addAll(fieldManager, ct.Manager)
	w.addAll(fieldChildren, ct.Children)
	w.add(fieldSpouse, ct.Spouse)

	for _, e := range ct.Emails {
		var ts []string
		if !w.v4 {
			ts = append(ts, "INTERNET")
		}
		if e.Type != "" {
			ts = append(ts, strings.ToUpper(e.Type))
		}
		w.addTyped(vcard.FieldEmail, e.Value, ts)
	}
	for _, p := range ct.Phones {
		ts, ok := phoneTypesOut[p.Type]
		if !ok && p.Type != "" {
			ts = []string{strings.ToUpper(p.Type)}
		}
		w.addTyped(vcard.FieldTelephone, p.Value, ts)
	}
	for _, u := range ct.Websites {
		w.addTyped(vcard.FieldURL, u.Value, upperType(u.Type))
	}
	for _, im := range ct.IM {
		w.addIM(im)
	}
	for _, a := range ct.Addresses {
		value := strings.Join([]string{"", "", a.Street, a.Locality, a.Region, a.Code, a.Country}, ";")
		if strings.Trim(value, ";") == "" {
			continue
		}
		w.addTyped(vcard.FieldAddress, value, upperType(a.Type))
	}

	w.add(vcard.FieldNote, ct.Notes)
	w.addGender(ct.Gender)
	w.addDate(vcard.FieldBirthday, ct.Birthday)
	if w.v4 {
		w.addDate(vcard.FieldAnniversary, ct.Anniversary)
	} else {
		w.addDate(fieldAnniversary, ct.Anniversary)
	}
	w.addAll(vcard.FieldCategories, rec.Categories)
	w.add(fieldFreeBusy, ct.FreeBusyURL)
	w.addPhoto(ct.Photo, ct.PhotoType)

	for _, cp := range rec.Custom {
		f := &vcard.Field{Value: cp.Value, Params: vcard.Params{}}
		name := cp.Name
		if group, rest, ok := strings.Cut(name, "."); ok {
			f.Group, name = group, rest
		}
		for k, v := range cp.Params {
			f.Params[k] = append([]string(nil), v...)
		}
		w.card[name] = append(w.card[name], f)
	}

	if !rec.Changed.IsZero() {
		w.add(vcard.FieldRevision, rec.Changed.Time.UTC().Format(revLayout))
	}

	var buf bytes.Buffer
	if err := vcard.NewEncoder(&buf).Encode(w.card); err != nil {
		return nil, fmt.Errorf("card: encode %s: %w", rec.UID, err)
	}
	return buf.Bytes(), nil
}

type writer struct {
	card vcard.Card
	v4   bool
}

func (w writer) add(name, value string) {
	if value == "" {
		return
	}
	w.card[name] = append(w.card[name], &vcard.Field{Value: value, Params: vcard.Params{}})
}

func (w writer) addAll(name string, values []string) {
	for _, v := range values {
		w.add(name, v)
	}
}

func (w writer) addTyped(name, value string, ts []string) {
	if value == "" {
		return
	}
	f := &vcard.Field{Value: value, Params: vcard.Params{}}
	if len(ts) > 0 {
		f.Params[vcard.ParamType] = ts
	}
	w.card[name] = append(w.card[name], f)
}

// addIM writes a "proto:handle" entry as a legacy X- field in vCard 3 for
// protocols clients know by that name, and as IMPP otherwise.
func (w writer) addIM(im string) {
	proto, handle, ok := strings.Cut(im, ":")
	if !ok {
		w.add(vcard.FieldIMPP, im)
		return
	}
	if !w.v4 {
		legacy := proto
		if p, ok := imProtocolsOut[proto]; ok {
			legacy = p
		}
		field := "X-" + strings.ToUpper(legacy)
		if _, known := imFields[field]; known {
			w.add(field, handle)
			return
		}
	}
	w.add(vcard.FieldIMPP, im)
}

func (w writer) addGender(gender string) {
	if gender == "" {
		return
	}
	if !w.v4 {
		w.add(fieldGender, gender)
		return
	}
	switch gender {
	case "male":
		w.add(vcard.FieldGender, "M")
	case "female":
		w.add(vcard.FieldGender, "F")
	default:
		w.add(vcard.FieldGender, gender)
	}
}

func (w writer) addDate(name string, d record.DateValue) {
	if d.IsZero() {
		return
	}
	layout := dateLayout3
	if w.v4 {
		layout = dateLayout4
	}
	w.add(name, d.Time.Format(layout))
}

func (w writer) addPhoto(data []byte, photoType string) {
	if len(data) == 0 {
		return
	}
	encoded := base64.StdEncoding.EncodeToString(data)
	if w.v4 {
		mediaType := ""
		if photoType != "" {
			mediaType = "image/" + strings.ToLower(photoType)
		}
		w.add(vcard.FieldPhoto, "data:"+mediaType+";base64,"+encoded)
		return
	}
	f := &vcard.Field{Value: encoded, Params: vcard.Params{paramEncoding: {"b"}}}
	if photoType != "" {
		f.Params[vcard.ParamType] = []string{strings.ToUpper(photoType)}
	}
	w.card[vcard.FieldPhoto] = append(w.card[vcard.FieldPhoto], f)
}

func upperType(t string) []string {
	if t == "" {
		return nil
	}
	return []string{strings.ToUpper(t)}
}
