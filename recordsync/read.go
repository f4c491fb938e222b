package recordsync

import (
	"context"
	"errors"
	"time"

	"github.com/cyp0633/kolabdav/calendar"
	"github.com/cyp0633/kolabdav/card"
	"github.com/cyp0633/kolabdav/collection"
	"github.com/cyp0633/kolabdav/etag"
	"github.com/cyp0633/kolabdav/record"
	"github.com/cyp0633/kolabdav/resource"
	"github.com/cyp0633/kolabdav/storage"
	"github.com/cyp0633/kolabdav/wire"
)

// EnumerateOptions selects the view of Enumerate.
type EnumerateOptions struct {
	// Inbox lists only invitations the principal has not answered instead of
	// hiding declined ones.
	Inbox bool
}

// Filter narrows Query results. Zero fields do not constrain.
type Filter struct {
	// Component is VEVENT or VTODO.
	Component string
	Start     time.Time
	End       time.Time
	UID       string
	NegateUID bool
}

// Enumerate lists the objects of a collection.
func (s *Synchronizer) Enumerate(ctx context.Context, collectionID string, opts EnumerateOptions) ([]Summary, error) {
	ref, err := s.index.Resolve(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	return s.enumerate(ctx, ref, s.visibility(opts.Inbox), opts.Inbox)
}

func (s *Synchronizer) enumerate(ctx context.Context, ref *collection.Ref, q storage.Query, inbox bool) ([]Summary, error) {
	var out []Summary
	for _, f := range ref.Folders {
		recs, err := f.Select(ctx, q)
		if err != nil {
			s.logger.Error("failed to select objects", "collection", ref.ID, "folder", f.Name(), "error", err)
			return nil, readFailure("recordsync.Enumerate", err)
		}
		for _, rec := range recs {
			if !s.visible(rec, inbox) {
				continue
			}
			s.loadTags(ctx, rec)
			out = append(out, s.summary(rec, s.nameOf(rec.UID)))
		}
	}
	return out, nil
}

// Get returns the object bound to name rendered for wctx. Attachment links
// are built from wctx.BaseURI.
func (s *Synchronizer) Get(ctx context.Context, collectionID, name string, wctx wire.Context) (*Object, error) {
	ref, err := s.index.Resolve(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	uid := resource.UIDFromName(name, s.Suffix())
	folder, rec, err := s.locate(ctx, ref, uid)
	if err != nil {
		return nil, err
	}
	s.loadTags(ctx, rec)

	if wctx.Attachments == nil {
		wctx.Attachments = func(uid, id string) ([]byte, error) {
			return folder.Attachment(ctx, uid, id)
		}
	}
	var data []byte
	if s.contacts() {
		data, err = card.Serialize(rec, wctx)
	} else {
		data, err = calendar.Serialize(rec, wctx)
	}
	if err != nil {
		s.logger.Error("failed to serialize object", "collection", ref.ID, "uid", uid, "error", err)
		return nil, err
	}

	sum := s.summary(rec, s.nameOf(rec.UID))
	sum.Size = len(data)
	return &Object{Summary: sum, ContentType: s.ContentType(), Data: data}, nil
}

// Query returns the resource names of the objects matching f. Time ranges
// apply to events and take recurrence into account.
func (s *Synchronizer) Query(ctx context.Context, collectionID string, f Filter) ([]string, error) {
	ref, err := s.index.Resolve(ctx, collectionID)
	if err != nil {
		return nil, err
	}

	q := s.visibility(false)
	switch f.Component {
	case "VEVENT":
		q = q.And(storage.Condition{Field: storage.FieldType, Op: storage.OpEqual, Value: string(record.TypeEvent)})
		if !f.End.IsZero() {
			q = q.And(storage.Condition{Field: storage.FieldDTStart, Op: storage.OpBefore, Time: f.End})
		}
		if !f.Start.IsZero() {
			q = q.And(storage.Condition{Field: storage.FieldDTEnd, Op: storage.OpAfter, Time: f.Start})
		}
	case "VTODO":
		q = q.And(storage.Condition{Field: storage.FieldType, Op: storage.OpEqual, Value: string(record.TypeTask)})
	}
	if f.UID != "" {
		op := storage.OpEqual
		if f.NegateUID {
			op = storage.OpNotEqual
		}
		q = q.And(storage.Condition{Field: storage.FieldUID, Op: op, Value: f.UID})
	}

	var names []string
	for _, folder := range ref.Folders {
		recs, err := folder.Select(ctx, q)
		if err != nil {
			s.logger.Error("failed to select objects", "collection", ref.ID, "folder", folder.Name(), "error", err)
			return nil, readFailure("recordsync.Query", err)
		}
		for _, rec := range recs {
			if !s.visible(rec, false) {
				continue
			}
			if f.Component == "VEVENT" && rec.IsRecurring() && !f.Start.IsZero() && !f.End.IsZero() {
				ok, err := s.engine.RecordInRange(rec, f.Start, f.End)
				if err != nil {
					s.logger.Warn("failed to expand recurrence", "uid", rec.UID, "error", err)
					ok = true
				}
				if !ok {
					continue
				}
			}
			names = append(names, s.nameOf(rec.UID))
		}
	}
	return names, nil
}

// FetchAttachment returns a stored attachment addressed by a link name of
// the form "<object>.ics:attachment:<id>:<filename>".
func (s *Synchronizer) FetchAttachment(ctx context.Context, collectionID, name string) (*Attachment, error) {
	uid, id, ok := resource.ParseAttachmentName(name)
	if !ok {
		return nil, record.Errorf(record.ErrNotFound, "recordsync.FetchAttachment", "%s is not an attachment link", name)
	}
	ref, err := s.index.Resolve(ctx, collectionID)
	if err != nil {
		return nil, err
	}
	folder, rec, err := s.locate(ctx, ref, uid)
	if err != nil {
		return nil, err
	}
	for _, a := range rec.ActiveAttachments() {
		if a.ID != id {
			continue
		}
		data, err := folder.Attachment(ctx, uid, id)
		if err != nil {
			return nil, readFailure("recordsync.FetchAttachment", err)
		}
		return &Attachment{Name: a.Name, MIMEType: a.MIMEType, Data: data}, nil
	}
	return nil, record.Errorf(record.ErrNotFound, "recordsync.FetchAttachment", "object %s has no attachment %s", uid, id)
}

// IsAttachmentName reports whether name addresses an attachment link.
func IsAttachmentName(name string) bool {
	_, _, ok := resource.ParseAttachmentName(name)
	return ok
}

// SchedulingObjects lists the invitations awaiting an answer from the
// principal across personal event collections. Their URIs combine the
// collection id and the object name.
func (s *Synchronizer) SchedulingObjects(ctx context.Context) ([]Summary, error) {
	if s.contacts() {
		return nil, nil
	}
	descriptors, err := s.index.List(ctx)
	if err != nil {
		return nil, err
	}

	var out []Summary
	for _, d := range descriptors {
		if d.Aggregate || !d.IsPersonal || !supports(d, "VEVENT") {
			continue
		}
		ref, err := s.index.Resolve(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		items, err := s.enumerate(ctx, ref, s.visibility(true), true)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			it.URI = resource.SchedulingName(d.ID, it.URI)
			out = append(out, it)
		}
	}
	return out, nil
}

// SchedulingObject returns one object listed by SchedulingObjects.
func (s *Synchronizer) SchedulingObject(ctx context.Context, name string, wctx wire.Context) (*Object, error) {
	collectionID, objectName, ok := resource.ParseSchedulingName(name)
	if !ok {
		return nil, record.Errorf(record.ErrNotFound, "recordsync.SchedulingObject", "no scheduling object %q", name)
	}
	obj, err := s.Get(ctx, collectionID, objectName, wctx)
	if err != nil {
		return nil, err
	}
	obj.URI = resource.SchedulingName(collectionID, obj.URI)
	return obj, nil
}

// ETag returns the current entity tag of the object bound to name.
func (s *Synchronizer) ETag(ctx context.Context, collectionID, name string) (string, error) {
	ref, err := s.index.Resolve(ctx, collectionID)
	if err != nil {
		return "", err
	}
	_, rec, err := s.locate(ctx, ref, resource.UIDFromName(name, s.Suffix()))
	if err != nil {
		return "", err
	}
	s.loadTags(ctx, rec)
	return etag.ForRecord(rec), nil
}

func supports(d collection.Descriptor, component string) bool {
	for _, t := range d.SupportedTypes {
		if t == component {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	return errors.Is(err, record.ErrNotFound)
}
