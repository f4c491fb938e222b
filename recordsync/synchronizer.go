// Package recordsync applies wire documents to the backing store and reads
// stored objects back for the protocol layer.
package recordsync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cyp0633/kolabdav/calendar"
	"github.com/cyp0633/kolabdav/card"
	"github.com/cyp0633/kolabdav/collection"
	"github.com/cyp0633/kolabdav/etag"
	"github.com/cyp0633/kolabdav/record"
	"github.com/cyp0633/kolabdav/recurrence"
	"github.com/cyp0633/kolabdav/resource"
	"github.com/cyp0633/kolabdav/storage"
)

// Result describes a stored object after a write.
type Result struct {
	ETag string
	// Name is the resource name the object is stored under. It differs from
	// the requested name when the object's UID did not match it.
	Name string
	// Redirected is set when Name differs from the requested name.
	Redirected bool
}

// Summary is the listing entry of one stored object.
type Summary struct {
	ID           string
	URI          string
	LastModified int64
	ETag         string
	Size         int
}

// Object is a stored object together with its wire representation.
type Object struct {
	Summary
	ContentType string
	Data        []byte
}

// Attachment is the content of one stored attachment.
type Attachment struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Synchronizer reads and writes the objects of the collections known to an
// index. Writes to the same UID must be serialized by the caller.
type Synchronizer struct {
	index     *collection.Index
	relations storage.Relations
	engine    *recurrence.Engine
	emails    []string
	logger    *slog.Logger
	now       func() time.Time
}

// Option represents a configuration option for the Synchronizer
type Option func(*Synchronizer)

// WithRelations stores task categories as relation tags in r.
func WithRelations(r storage.Relations) Option {
	return func(s *Synchronizer) { s.relations = r }
}

// WithEngine sets the recurrence engine used by time range queries.
func WithEngine(e *recurrence.Engine) Option {
	return func(s *Synchronizer) {
		if e != nil {
			s.engine = e
		}
	}
}

// WithEmails sets the addresses of the principal, used to hide declined
// invitations and to find pending ones.
func WithEmails(emails ...string) Option {
	return func(s *Synchronizer) { s.emails = emails }
}

// WithLogger sets the logger for the synchronizer
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock replaces the time source for modification stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Synchronizer) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a synchronizer over the collections of index.
func New(index *collection.Index, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		index:  index,
		engine: recurrence.NewEngine(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Synchronizer) contacts() bool {
	return s.index.Kind() == collection.KindAddressBook
}

// Suffix returns the resource name suffix of the objects handled.
func (s *Synchronizer) Suffix() string {
	if s.contacts() {
		return resource.SuffixContact
	}
	return resource.SuffixCalendar
}

// ContentType returns the media type of the wire documents handled.
func (s *Synchronizer) ContentType() string {
	if s.contacts() {
		return "text/vcard; charset=utf-8"
	}
	return "text/calendar; charset=utf-8"
}

func (s *Synchronizer) nameOf(uid string) string {
	return resource.NameFromUID(uid, s.Suffix())
}

// DocumentUID returns the UID carried by a submitted document, or "" when
// it cannot be parsed.
func (s *Synchronizer) DocumentUID(data []byte) string {
	var (
		rec *record.Record
		err error
	)
	if s.contacts() {
		rec, err = card.Parse(data, "")
	} else {
		rec, err = calendar.Parse(data, "")
	}
	if err != nil {
		return ""
	}
	return rec.UID
}

// parse decodes a submitted document. Calendar documents must hold one
// component type supported by the collection.
func (s *Synchronizer) parse(ref *collection.Ref, data []byte, uid string) (*record.Record, error) {
	var (
		rec *record.Record
		err error
	)
	if s.contacts() {
		rec, err = card.Parse(data, uid)
	} else {
		if err = calendar.Validate(data, ref.SupportedTypes); err != nil {
			return nil, err
		}
		rec, err = calendar.Parse(data, uid)
	}
	if err != nil {
		return nil, err
	}
	if rec.UID == "" {
		return nil, record.Errorf(record.ErrParse, "recordsync.parse", "object without UID")
	}
	return rec, nil
}

// locate finds the folder of ref holding uid. Aggregate collections are
// searched folder by folder.
func (s *Synchronizer) locate(ctx context.Context, ref *collection.Ref, uid string) (storage.Folder, *record.Record, error) {
	for _, f := range ref.Folders {
		rec, err := f.Get(ctx, uid)
		switch {
		case err == nil:
			return f, rec, nil
		case storage.IsType(err, storage.ErrNotFound):
			continue
		default:
			return nil, nil, readFailure("recordsync.locate", err)
		}
	}
	return nil, nil, record.Errorf(record.ErrNotFound, "recordsync.locate", "object %s not found in %s", uid, ref.ID)
}

// detachTags removes task categories from rec when they are kept as
// relation tags, and returns them.
func (s *Synchronizer) detachTags(rec *record.Record) []string {
	if s.relations == nil || rec.Type != record.TypeTask {
		return nil
	}
	tags := rec.Categories
	rec.Categories = nil
	return tags
}

// saveTags stores the relation tags of a task after its primary save and
// puts them back on rec.
func (s *Synchronizer) saveTags(ctx context.Context, rec *record.Record, tags []string) {
	if s.relations == nil || rec.Type != record.TypeTask {
		return
	}
	if err := s.relations.SaveTags(ctx, rec.UID, tags); err != nil {
		s.logger.Warn("failed to save relation tags", "uid", rec.UID, "error", err)
	}
	rec.Categories = tags
}

// loadTags fills task categories from relation tags and moves Changed to
// the newest tag change.
func (s *Synchronizer) loadTags(ctx context.Context, rec *record.Record) {
	if s.relations == nil || rec.Type != record.TypeTask {
		return
	}
	tags, err := s.relations.Tags(ctx, rec.UID)
	if err != nil {
		s.logger.Warn("failed to load relation tags", "uid", rec.UID, "error", err)
		return
	}
	if len(tags) == 0 {
		return
	}
	rec.Categories = make([]string, 0, len(tags))
	for _, t := range tags {
		rec.Categories = append(rec.Categories, t.Name)
		if t.Changed.After(rec.Changed.Time) {
			rec.Changed = record.DateTime(t.Changed.UTC())
		}
	}
}

// visibility returns the store query hiding declined invitations, or
// selecting pending ones for the inbox view.
func (s *Synchronizer) visibility(inbox bool) storage.Query {
	if s.contacts() {
		return nil
	}
	var q storage.Query
	var pending []storage.Condition
	for _, email := range s.emails {
		if inbox {
			pending = append(pending, storage.Condition{
				Field: storage.FieldTags, Op: storage.OpEqual,
				Value: storage.PartStatTag(email, record.PartStatNeedsAction),
			})
			continue
		}
		q = append(q, storage.Condition{
			Field: storage.FieldTags, Op: storage.OpNotEqual,
			Value: storage.PartStatTag(email, record.PartStatDeclined),
		})
	}
	if len(pending) > 0 {
		q = append(q, storage.AnyOf(pending...))
	}
	return q
}

// visible re-checks a selected record against the principal's answers.
func (s *Synchronizer) visible(rec *record.Record, inbox bool) bool {
	if s.contacts() {
		return true
	}
	for _, a := range rec.Attendees {
		if !s.isPrincipal(a.Email) {
			continue
		}
		switch a.Status {
		case record.PartStatDeclined:
			return false
		case record.PartStatNeedsAction, record.PartStatNone:
			if inbox {
				return true
			}
		}
	}
	return !inbox
}

func (s *Synchronizer) isPrincipal(email string) bool {
	for _, e := range s.emails {
		if strings.EqualFold(e, email) {
			return true
		}
	}
	return false
}

func (s *Synchronizer) summary(rec *record.Record, uri string) Summary {
	return Summary{
		ID:           rec.UID,
		URI:          uri,
		LastModified: rec.Changed.Unix(),
		ETag:         etag.ForRecord(rec),
		Size:         rec.Internal.Size,
	}
}

// readFailure classifies a store error met while reading.
func readFailure(op string, err error) error {
	var re *record.Error
	switch {
	case errors.As(err, &re):
		return err
	case storage.IsType(err, storage.ErrNotFound):
		return record.Wrap(record.ErrNotFound, op, err)
	}
	return record.Wrap(record.ErrServiceUnavailable, op, err)
}

// writeFailure classifies and logs a store error met while writing.
func (s *Synchronizer) writeFailure(op string, ref *collection.Ref, uid string, err error) error {
	s.logger.Error("failed to write object", "op", op, "collection", ref.ID, "uid", uid, "error", err)
	switch {
	case storage.IsType(err, storage.ErrUnavailable):
		return record.Wrap(record.ErrServiceUnavailable, "recordsync."+op, err)
	case storage.IsType(err, storage.ErrNotFound):
		return record.Wrap(record.ErrNotFound, "recordsync."+op, err)
	}
	return record.Wrap(record.ErrStorageWrite, "recordsync."+op, err)
}
