// Package storage defines the groupware backend the gateway reads from and
// writes to. Backends implement Store and Folder; storage/memory provides an
// in-process implementation.
package storage

import (
	"context"
	"time"

	"github.com/cyp0633/kolabdav/record"
)

// FolderType is the kind of objects a folder holds.
type FolderType string

const (
	FolderEvent   FolderType = "event"
	FolderTask    FolderType = "task"
	FolderContact FolderType = "contact"
)

// Namespace is the visibility class of a folder.
type Namespace string

const (
	NamespacePersonal Namespace = "personal"
	NamespaceOther    Namespace = "other"
	NamespaceShared   Namespace = "shared"
)

// Metadata keys holding the stable folder identifier.
const (
	MetadataSharedUID  = "/shared/vendor/kolab/dav-uid"
	MetadataPrivateUID = "/private/vendor/kolab/dav-uid"
)

// Counters are the mailbox counters a collection change tag is built from.
type Counters struct {
	UIDValidity   int64
	HighestModSeq int64
	UIDNext       int64
}

// Tag is a relation tag attached to an object.
type Tag struct {
	Name    string
	Changed time.Time
}

// Store lists the folders of the authenticated principal.
type Store interface {
	// ListFolders returns the folders of type t. Unsubscribed folders are
	// included only when includeUnsubscribed is set.
	ListFolders(ctx context.Context, t FolderType, includeUnsubscribed bool) ([]Folder, error)
}

// Folder is one groupware folder.
type Folder interface {
	Name() string
	DisplayName() string
	Type() FolderType
	Namespace() Namespace
	// Color is the folder color as RRGGBB without a leading hash, or empty.
	Color() string
	IsDefault() bool
	Rights() string
	Subscribed() bool

	Counters(ctx context.Context) (Counters, error)
	Metadata(ctx context.Context, keys []string) (map[string]string, error)
	SetMetadata(ctx context.Context, values map[string]string) error

	// Select returns the records matching q.
	Select(ctx context.Context, q Query) ([]*record.Record, error)
	// Get returns the record with the given UID.
	Get(ctx context.Context, uid string) (*record.Record, error)
	// Save stores rec, replacing the object stored under oldUID when set.
	// It updates rec.Internal with the new storage version and size.
	Save(ctx context.Context, rec *record.Record, oldUID string) error
	Delete(ctx context.Context, uid string) error
	// Attachment returns the content of a stored attachment.
	Attachment(ctx context.Context, uid, id string) ([]byte, error)
}

// Relations stores relation tags of objects outside the objects themselves.
type Relations interface {
	Tags(ctx context.Context, uid string) ([]Tag, error)
	// SaveTags replaces the tags of uid with names. An empty names clears
	// them.
	SaveTags(ctx context.Context, uid string, names []string) error
}
