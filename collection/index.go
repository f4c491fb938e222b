// Package collection maps groupware folders to DAV collections: stable ids,
// display properties, change tags and name aliases.
package collection

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/samber/mo"

	"github.com/cyp0633/kolabdav/cache"
	"github.com/cyp0633/kolabdav/record"
	"github.com/cyp0633/kolabdav/storage"
)

// Kind selects the folder types an index covers.
type Kind int

const (
	// KindCalendar covers event and task folders.
	KindCalendar Kind = iota
	// KindAddressBook covers contact folders.
	KindAddressBook
)

func (k Kind) String() string {
	if k == KindAddressBook {
		return "addressbook"
	}
	return "calendar"
}

func (k Kind) folderTypes() []storage.FolderType {
	if k == KindAddressBook {
		return []storage.FolderType{storage.FolderContact}
	}
	return []storage.FolderType{storage.FolderEvent, storage.FolderTask}
}

// AggregateID is the id of the collection merging all collections of a kind.
const AggregateID = "__all__"

// DefaultColor is the color of folders without one.
const DefaultColor = "FF0000"

// reservedNames are scheduling collections that never resolve to folders.
var reservedNames = []string{"inbox", "outbox", "notifications"}

// IsReserved reports whether name is a reserved scheduling collection.
func IsReserved(name string) bool {
	return slices.Contains(reservedNames, name)
}

// Descriptor describes one collection.
type Descriptor struct {
	ID             string
	URI            string
	DisplayName    string
	Color          string
	ChangeTag      string
	SupportedTypes []string
	IsDefault      bool
	IsPersonal     bool
	Rights         string
	Order          int
	PrincipalURI   string
	Subscribed     bool
	// FolderName is the storage name of the folder, which is also accepted
	// as an alias of ID.
	FolderName string
	Aggregate  bool
}

// Ref is a resolved collection with the folders backing it. Aggregate
// collections have several folders, all others exactly one.
type Ref struct {
	Descriptor
	Folders []storage.Folder
}

// Folder returns the first backing folder.
func (r *Ref) Folder() storage.Folder {
	return r.Folders[0]
}

// Index enumerates and resolves the collections of one principal.
type Index struct {
	store     storage.Store
	kind      Kind
	principal string
	cache     cache.Cache
	less      func(a, b Descriptor) bool
	aggregate bool
	logger    *slog.Logger

	mu                  sync.Mutex
	includeUnsubscribed bool
}

// Option represents a configuration option for the Index
type Option func(*Index)

// WithCache memoizes folder listings in c. The default is a request-local
// cache.
func WithCache(c cache.Cache) Option {
	return func(ix *Index) {
		if c != nil {
			ix.cache = c
		}
	}
}

// WithLess replaces the ordering of non-default collections.
func WithLess(less func(a, b Descriptor) bool) Option {
	return func(ix *Index) {
		if less != nil {
			ix.less = less
		}
	}
}

// WithAggregate adds the aggregate collection to listings.
func WithAggregate(enabled bool) Option {
	return func(ix *Index) { ix.aggregate = enabled }
}

// WithLogger sets the logger for the index
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// ByName orders collections by display name, ignoring case.
func ByName(a, b Descriptor) bool {
	an, bn := strings.ToLower(a.DisplayName), strings.ToLower(b.DisplayName)
	if an != bn {
		return an < bn
	}
	return a.FolderName < b.FolderName
}

// New creates an index over the folders of kind in store, owned by principal.
func New(store storage.Store, kind Kind, principal string, opts ...Option) *Index {
	ix := &Index{
		store:     store,
		kind:      kind,
		principal: principal,
		cache:     cache.NewScope(),
		less:      ByName,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Kind returns the collection kind of the index.
func (ix *Index) Kind() Kind { return ix.kind }

// PrincipalURI returns the principal the collections belong to.
func (ix *Index) PrincipalURI() string { return "principals/" + ix.principal }

type listing struct {
	descriptors []Descriptor
	folders     map[string][]storage.Folder // key: collection id
	aliases     map[string]string           // key: folder name
}

// List returns all collections, the default one first.
func (ix *Index) List(ctx context.Context) ([]Descriptor, error) {
	l, err := ix.load(ctx, ix.unsubscribedIncluded())
	if err != nil {
		return nil, err
	}
	return slices.Clone(l.descriptors), nil
}

// Resolve finds a collection by id, folder name or aggregate id. Reserved
// scheduling names take precedence over everything and never resolve; ids
// take precedence over folder names. A miss is retried once with
// unsubscribed folders included.
func (ix *Index) Resolve(ctx context.Context, idOrAlias string) (*Ref, error) {
	if IsReserved(idOrAlias) {
		return nil, record.Errorf(record.ErrNotFound, "collection.Resolve", "%s is a reserved collection", idOrAlias)
	}

	includeUnsubscribed := ix.unsubscribedIncluded()
	l, err := ix.load(ctx, includeUnsubscribed)
	if err != nil {
		return nil, err
	}
	if ref := l.lookup(idOrAlias); ref != nil {
		return ref, nil
	}

	if !includeUnsubscribed {
		ix.logger.Debug("collection not among subscribed folders, retrying",
			"kind", ix.kind, "collection", idOrAlias)
		ix.mu.Lock()
		ix.includeUnsubscribed = true
		ix.mu.Unlock()

		if l, err = ix.load(ctx, true); err != nil {
			return nil, err
		}
		if ref := l.lookup(idOrAlias); ref != nil {
			return ref, nil
		}
	}
	return nil, record.Errorf(record.ErrNotFound, "collection.Resolve", "no collection %q", idOrAlias)
}

// GetByName returns the descriptor of a collection, or None when no
// collection answers to name.
func (ix *Index) GetByName(ctx context.Context, name string) (mo.Option[Descriptor], error) {
	ref, err := ix.Resolve(ctx, name)
	switch {
	case err == nil:
		return mo.Some(ref.Descriptor), nil
	case isNotFound(err):
		return mo.None[Descriptor](), nil
	}
	return mo.None[Descriptor](), err
}

// Invalidate drops memoized listings so the next call sees fresh change
// tags.
func (ix *Index) Invalidate() {
	ix.cache.Delete(ix.cacheKey(false))
	ix.cache.Delete(ix.cacheKey(true))
}

func (ix *Index) unsubscribedIncluded() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.includeUnsubscribed
}

func (ix *Index) cacheKey(includeUnsubscribed bool) string {
	return cache.Key("collections", ix.principal, ix.kind.String(), fmt.Sprint(includeUnsubscribed))
}

func (ix *Index) load(ctx context.Context, includeUnsubscribed bool) (*listing, error) {
	key := ix.cacheKey(includeUnsubscribed)
	if v, ok := ix.cache.Get(key); ok {
		return v.(*listing), nil
	}

	var folders []storage.Folder
	for _, t := range ix.kind.folderTypes() {
		fs, err := ix.store.ListFolders(ctx, t, includeUnsubscribed)
		if err != nil {
			ix.logger.Error("failed to list folders", "kind", ix.kind, "type", t, "error", err)
			return nil, record.Wrap(record.ErrServiceUnavailable, "collection.List", err)
		}
		folders = append(folders, fs...)
	}

	l := &listing{
		folders: make(map[string][]storage.Folder),
		aliases: make(map[string]string),
	}
	defaultSeen := make(map[storage.FolderType]bool)
	for _, f := range folders {
		d, err := ix.describe(ctx, f)
		if err != nil {
			ix.logger.Error("failed to describe folder", "folder", f.Name(), "error", err)
			return nil, record.Wrap(record.ErrServiceUnavailable, "collection.List", err)
		}
		if _, dup := l.folders[d.ID]; dup {
			ix.logger.Warn("duplicate folder id, skipping", "folder", f.Name(), "id", d.ID)
			continue
		}
		if d.IsDefault {
			d.IsDefault = !defaultSeen[f.Type()]
			defaultSeen[f.Type()] = true
		}
		l.descriptors = append(l.descriptors, d)
		l.folders[d.ID] = []storage.Folder{f}
		l.aliases[f.Name()] = d.ID
	}

	ix.order(l.descriptors)
	if ix.aggregate && len(l.descriptors) > 0 {
		l.descriptors = append(l.descriptors, ix.aggregateOf(l))
		l.folders[AggregateID] = folders
	}

	ix.logger.Debug("collections loaded", "kind", ix.kind, "principal", ix.principal,
		"count", len(l.descriptors), "unsubscribed", includeUnsubscribed)
	ix.cache.Set(key, l)
	return l, nil
}

func (ix *Index) describe(ctx context.Context, f storage.Folder) (Descriptor, error) {
	id, err := storage.FolderUID(ctx, f)
	switch {
	case errors.Is(err, storage.ErrUIDNotPersisted):
		ix.logger.Warn("folder id not persisted", "folder", f.Name(), "id", id, "error", err)
	case err != nil:
		return Descriptor{}, err
	}
	counters, err := f.Counters(ctx)
	if err != nil {
		return Descriptor{}, fmt.Errorf("read counters of %s: %w", f.Name(), err)
	}

	d := Descriptor{
		ID:           id,
		URI:          id,
		DisplayName:  f.DisplayName(),
		ChangeTag:    ChangeTag(counters),
		IsDefault:    f.IsDefault(),
		IsPersonal:   f.Namespace() == storage.NamespacePersonal,
		Rights:       f.Rights(),
		PrincipalURI: ix.PrincipalURI(),
		Subscribed:   f.Subscribed(),
		FolderName:   f.Name(),
	}
	switch f.Type() {
	case storage.FolderEvent:
		d.SupportedTypes = []string{"VEVENT"}
	case storage.FolderTask:
		d.SupportedTypes = []string{"VTODO"}
	case storage.FolderContact:
		d.SupportedTypes = []string{"VCARD"}
	}
	if ix.kind == KindCalendar {
		d.Color = Color(f.Color())
	}
	return d, nil
}

// order sorts descriptors by the index ordering, moves the default
// collection of the primary type to the front and numbers calendars in the
// resulting order.
func (ix *Index) order(ds []Descriptor) {
	slices.SortStableFunc(ds, func(a, b Descriptor) int {
		switch {
		case ix.less(a, b):
			return -1
		case ix.less(b, a):
			return 1
		}
		return 0
	})

	primary := "VEVENT"
	if ix.kind == KindAddressBook {
		primary = "VCARD"
	}
	for i, d := range ds {
		if d.IsDefault && slices.Contains(d.SupportedTypes, primary) {
			copy(ds[1:i+1], ds[:i])
			ds[0] = d
			break
		}
	}

	if ix.kind == KindCalendar {
		for i := range ds {
			ds[i].Order = i + 1
		}
	}
}

func (ix *Index) aggregateOf(l *listing) Descriptor {
	tags := make([]string, 0, len(l.descriptors))
	types := []string{}
	for _, d := range l.descriptors {
		tags = append(tags, d.ID+"="+d.ChangeTag)
		for _, t := range d.SupportedTypes {
			if !slices.Contains(types, t) {
				types = append(types, t)
			}
		}
	}
	slices.Sort(tags)
	sum := sha256.Sum256([]byte(strings.Join(tags, "\n")))

	name := "All calendars"
	if ix.kind == KindAddressBook {
		name = "All contacts"
	}
	return Descriptor{
		ID:             AggregateID,
		URI:            AggregateID,
		DisplayName:    name,
		ChangeTag:      hex.EncodeToString(sum[:16]),
		SupportedTypes: types,
		IsPersonal:     true,
		Rights:         "lr",
		PrincipalURI:   ix.PrincipalURI(),
		Subscribed:     true,
		Aggregate:      true,
	}
}

func (l *listing) lookup(name string) *Ref {
	id := name
	if _, ok := l.folders[id]; !ok {
		alias, ok := l.aliases[name]
		if !ok {
			return nil
		}
		id = alias
	}
	for _, d := range l.descriptors {
		if d.ID == id {
			return &Ref{Descriptor: d, Folders: slices.Clone(l.folders[id])}
		}
	}
	return nil
}

// ChangeTag renders folder counters as a collection change tag.
func ChangeTag(c storage.Counters) string {
	return fmt.Sprintf("%d-%d-%d", c.UIDValidity, c.HighestModSeq, c.UIDNext)
}

// Color renders a folder color as #RRGGBBAA.
func Color(rgb string) string {
	rgb = strings.TrimPrefix(rgb, "#")
	if len(rgb) != 6 {
		rgb = DefaultColor
	}
	return "#" + strings.ToUpper(rgb) + "FF"
}

func isNotFound(err error) bool {
	return errors.Is(err, record.ErrNotFound)
}
