package recordsync

import (
	"context"
	"slices"
	"time"

	"github.com/cyp0633/kolabdav/collection"
	"github.com/cyp0633/kolabdav/etag"
	"github.com/cyp0633/kolabdav/record"
	"github.com/cyp0633/kolabdav/resource"
	"github.com/cyp0633/kolabdav/storage"
)

// Create stores a new object submitted under the resource name name. When
// the document's UID differs from the one name implies and an object with
// that UID already exists, the submission updates that object instead.
func (s *Synchronizer) Create(ctx context.Context, collectionID, name string, data []byte) (Result, error) {
	ref, err := s.index.Resolve(ctx, collectionID)
	if err != nil {
		return Result{}, err
	}
	uid := resource.UIDFromName(name, s.Suffix())
	rec, err := s.parse(ref, data, uid)
	if err != nil {
		s.logger.Warn("rejected unparsable object", "collection", ref.ID, "name", name, "error", err)
		return Result{}, err
	}

	if rec.UID != uid {
		folder, old, err := s.locate(ctx, ref, rec.UID)
		switch {
		case err == nil:
			s.logger.Info("object exists under its own uid, updating instead",
				"collection", ref.ID, "name", name, "uid", rec.UID)
			res, err := s.update(ctx, ref, folder, old, rec)
			if err != nil {
				return Result{}, err
			}
			res.Redirected = true
			return res, nil
		case !isNotFound(err):
			return Result{}, err
		}
	}

	folder := ref.Folder()
	if ref.Aggregate {
		folder = s.defaultFolder(ref)
	}
	s.stamp(rec)
	tags := s.detachTags(rec)
	if err := folder.Save(ctx, rec, ""); err != nil {
		return Result{}, s.writeFailure("create", ref, rec.UID, err)
	}
	s.saveTags(ctx, rec, tags)
	s.index.Invalidate()

	s.logger.Debug("object created", "collection", ref.ID, "uid", rec.UID, "version", rec.Internal.Version)
	return Result{
		ETag:       etag.ForRecord(rec),
		Name:       s.nameOf(rec.UID),
		Redirected: rec.UID != uid,
	}, nil
}

// Update replaces the object bound to name. The document must carry the
// bound UID. Store bookkeeping of the previous version is kept, and
// attachments the submission no longer lists are removed.
func (s *Synchronizer) Update(ctx context.Context, collectionID, name string, data []byte) (Result, error) {
	ref, err := s.index.Resolve(ctx, collectionID)
	if err != nil {
		return Result{}, err
	}
	uid := resource.UIDFromName(name, s.Suffix())
	rec, err := s.parse(ref, data, uid)
	if err != nil {
		s.logger.Warn("rejected unparsable object", "collection", ref.ID, "name", name, "error", err)
		return Result{}, err
	}
	if rec.UID != uid {
		s.logger.Error("uid does not match object name", "collection", ref.ID, "name", name, "uid", rec.UID)
		return Result{}, record.Errorf(record.ErrIdentityMismatch, "recordsync.Update",
			"document UID %q does not match %q", rec.UID, uid)
	}

	folder, old, err := s.locate(ctx, ref, uid)
	switch {
	case err == nil:
	case isNotFound(err):
		folder = ref.Folder()
		if ref.Aggregate {
			folder = s.defaultFolder(ref)
		}
	default:
		return Result{}, err
	}
	return s.update(ctx, ref, folder, old, rec)
}

func (s *Synchronizer) update(ctx context.Context, ref *collection.Ref, folder storage.Folder, old, rec *record.Record) (Result, error) {
	if old != nil {
		rec.Internal.MergeFrom(old.Internal)
		rec.Attachments = replaceAttachments(rec, old)
	}
	s.stamp(rec)
	tags := s.detachTags(rec)
	if err := folder.Save(ctx, rec, rec.UID); err != nil {
		return Result{}, s.writeFailure("update", ref, rec.UID, err)
	}
	s.saveTags(ctx, rec, tags)
	s.index.Invalidate()

	s.logger.Debug("object updated", "collection", ref.ID, "uid", rec.UID, "version", rec.Internal.Version)
	return Result{ETag: etag.ForRecord(rec), Name: s.nameOf(rec.UID)}, nil
}

// Delete removes the object bound to name. Relation tags are cleared once
// the object is gone.
func (s *Synchronizer) Delete(ctx context.Context, collectionID, name string) error {
	ref, err := s.index.Resolve(ctx, collectionID)
	if err != nil {
		return err
	}
	uid := resource.UIDFromName(name, s.Suffix())
	folder, _, err := s.locate(ctx, ref, uid)
	if err != nil {
		return err
	}
	if err := folder.Delete(ctx, uid); err != nil {
		return s.writeFailure("delete", ref, uid, err)
	}
	if s.relations != nil {
		if err := s.relations.SaveTags(ctx, uid, nil); err != nil {
			s.logger.Warn("failed to clear relation tags", "uid", uid, "error", err)
		}
	}
	s.index.Invalidate()

	s.logger.Debug("object deleted", "collection", ref.ID, "uid", uid)
	return nil
}

// replaceAttachments treats the submitted attachments of rec as the complete
// set. Links to stored attachments become references by id; stored
// attachments not referenced any more are appended as removed.
func replaceAttachments(rec, old *record.Record) []record.Attachment {
	out := make([]record.Attachment, 0, len(rec.Attachments))
	var kept []string
	for _, a := range rec.Attachments {
		if a.URI != "" {
			if uid, id, ok := resource.ParseAttachmentName(a.URI); ok && uid == rec.UID {
				a.URI, a.ID = "", id
			}
		}
		if a.ID != "" {
			kept = append(kept, a.ID)
			for _, prev := range old.Attachments {
				if prev.ID != a.ID {
					continue
				}
				if a.Name == "" {
					a.Name = prev.Name
				}
				if a.MIMEType == "" {
					a.MIMEType = prev.MIMEType
				}
			}
		}
		out = append(out, a)
	}
	for _, a := range old.Attachments {
		if a.ID == "" || slices.Contains(kept, a.ID) {
			continue
		}
		out = append(out, record.Attachment{ID: a.ID, Name: a.Name, MIMEType: a.MIMEType, Removed: true})
	}
	return out
}

// stamp sets the modification time of records submitted without one.
func (s *Synchronizer) stamp(rec *record.Record) {
	if rec.Changed.IsZero() {
		rec.Changed = record.DateTime(s.now().UTC().Truncate(time.Second))
	}
}

// defaultFolder picks the folder receiving new objects of an aggregate
// collection: the default one, or the first.
func (s *Synchronizer) defaultFolder(ref *collection.Ref) storage.Folder {
	for _, f := range ref.Folders {
		if f.IsDefault() {
			return f
		}
	}
	return ref.Folder()
}
