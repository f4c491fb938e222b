// memory based implementation for testing purposes
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cyp0633/kolabdav/record"
	"github.com/cyp0633/kolabdav/storage"
)

// Store implements storage.Store and storage.Relations using in-memory maps
type Store struct {
	mu          sync.RWMutex
	folders     map[string]*Folder // key: folder name
	order       []string
	tags        map[string][]storage.Tag // key: object uid
	unavailable bool
	now         func() time.Time
}

// New creates a new in-memory store
func New() *Store {
	return &Store{
		folders: make(map[string]*Folder),
		tags:    make(map[string][]storage.Tag),
		now:     time.Now,
	}
}

// SetClock replaces the time source used for modification stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// SetUnavailable makes every subsequent call fail as if the backend were
// unreachable.
func (s *Store) SetUnavailable(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unavailable = down
}

func (s *Store) checkAvailable() error {
	if s.unavailable {
		return &storage.Error{Type: storage.ErrUnavailable, Message: "backend unreachable"}
	}
	return nil
}

// FolderOption configures a folder created by AddFolder.
type FolderOption func(*Folder)

func WithDisplayName(name string) FolderOption { return func(f *Folder) { f.displayName = name } }
func WithColor(rgb string) FolderOption        { return func(f *Folder) { f.color = rgb } }
func WithRights(rights string) FolderOption    { return func(f *Folder) { f.rights = rights } }
func WithNamespace(ns storage.Namespace) FolderOption {
	return func(f *Folder) { f.namespace = ns }
}
func AsDefault() FolderOption    { return func(f *Folder) { f.isDefault = true } }
func Unsubscribed() FolderOption { return func(f *Folder) { f.subscribed = false } }

// WithMetadata presets folder annotations.
func WithMetadata(values map[string]string) FolderOption {
	return func(f *Folder) {
		for k, v := range values {
			f.metadata[k] = v
		}
	}
}

// ReadOnlyMetadata makes writes to the given annotation keys fail.
func ReadOnlyMetadata(keys ...string) FolderOption {
	return func(f *Folder) { f.readOnly = append(f.readOnly, keys...) }
}

// AddFolder creates a folder, replacing any folder of the same name.
func (s *Store) AddFolder(name string, t storage.FolderType, opts ...FolderOption) *Folder {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := &Folder{
		store:      s,
		name:       name,
		typ:        t,
		namespace:  storage.NamespacePersonal,
		rights:     "lrswikxteav",
		subscribed: true,
		metadata:   make(map[string]string),
		objects:    make(map[string]*entry),
		validity:   s.now().Unix(),
		nextID:     1,
	}
	for _, opt := range opts {
		opt(f)
	}
	if _, exists := s.folders[name]; !exists {
		s.order = append(s.order, name)
	}
	s.folders[name] = f
	return f
}

// Folder returns the folder with the given name.
func (s *Store) Folder(name string) (*Folder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.folders[name]
	return f, ok
}

func (s *Store) ListFolders(_ context.Context, t storage.FolderType, includeUnsubscribed bool) ([]storage.Folder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkAvailable(); err != nil {
		return nil, err
	}
	var folders []storage.Folder
	for _, name := range s.order {
		f := s.folders[name]
		if f.typ != t || (!f.subscribed && !includeUnsubscribed) {
			continue
		}
		folders = append(folders, f)
	}
	return folders, nil
}

func (s *Store) Tags(_ context.Context, uid string) ([]storage.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkAvailable(); err != nil {
		return nil, err
	}
	return slices.Clone(s.tags[uid]), nil
}

func (s *Store) SaveTags(_ context.Context, uid string, names []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkAvailable(); err != nil {
		return err
	}
	if len(names) == 0 {
		delete(s.tags, uid)
		return nil
	}

	now := s.now()
	previous := s.tags[uid]
	tags := make([]storage.Tag, 0, len(names))
	for _, name := range names {
		changed := now
		for _, p := range previous {
			if p.Name == name {
				changed = p.Changed
			}
		}
		tags = append(tags, storage.Tag{Name: name, Changed: changed})
	}
	s.tags[uid] = tags
	return nil
}

type entry struct {
	rec         *record.Record
	attachments map[string][]byte // key: attachment id
}

// Folder is an in-memory storage.Folder. Its data operations lock the owning
// store.
type Folder struct {
	store       *Store
	name        string
	displayName string
	typ         storage.FolderType
	namespace   storage.Namespace
	color       string
	rights      string
	isDefault   bool
	subscribed  bool
	metadata    map[string]string
	readOnly    []string
	objects     map[string]*entry // key: object uid

	validity int64
	modseq   int64
	nextID   int64
}

func (f *Folder) Name() string { return f.name }

func (f *Folder) DisplayName() string {
	if f.displayName != "" {
		return f.displayName
	}
	if i := strings.LastIndex(f.name, "/"); i >= 0 {
		return f.name[i+1:]
	}
	return f.name
}

func (f *Folder) Type() storage.FolderType      { return f.typ }
func (f *Folder) Namespace() storage.Namespace { return f.namespace }
func (f *Folder) Color() string                { return f.color }
func (f *Folder) IsDefault() bool              { return f.isDefault }
func (f *Folder) Rights() string               { return f.rights }
func (f *Folder) Subscribed() bool             { return f.subscribed }

func (f *Folder) Counters(_ context.Context) (storage.Counters, error) {
	f.store.mu.RLock()
	defer f.store.mu.RUnlock()

	if err := f.store.checkAvailable(); err != nil {
		return storage.Counters{}, err
	}
	return storage.Counters{UIDValidity: f.validity, HighestModSeq: f.modseq, UIDNext: f.nextID}, nil
}

func (f *Folder) Metadata(_ context.Context, keys []string) (map[string]string, error) {
	f.store.mu.RLock()
	defer f.store.mu.RUnlock()

	if err := f.store.checkAvailable(); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := f.metadata[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

func (f *Folder) SetMetadata(_ context.Context, values map[string]string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	if err := f.store.checkAvailable(); err != nil {
		return err
	}
	for k := range values {
		if slices.Contains(f.readOnly, k) {
			return &storage.Error{Type: storage.ErrRejected, Message: "annotation " + k + " is read-only"}
		}
	}
	for k, v := range values {
		f.metadata[k] = v
	}
	return nil
}

func (f *Folder) Select(_ context.Context, q storage.Query) ([]*record.Record, error) {
	f.store.mu.RLock()
	defer f.store.mu.RUnlock()

	if err := f.store.checkAvailable(); err != nil {
		return nil, err
	}
	var out []*record.Record
	for _, e := range f.objects {
		if q.Matches(e.rec) {
			out = append(out, e.rec.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *record.Record) int { return strings.Compare(a.UID, b.UID) })
	return out, nil
}

func (f *Folder) Get(_ context.Context, uid string) (*record.Record, error) {
	f.store.mu.RLock()
	defer f.store.mu.RUnlock()

	if err := f.store.checkAvailable(); err != nil {
		return nil, err
	}
	e, ok := f.objects[uid]
	if !ok {
		return nil, storage.NotFound("object %s not found in %s", uid, f.name)
	}
	return e.rec.Clone(), nil
}

// Save stores a copy of rec. Inline attachment data moves into the
// attachment table and is replaced by an id; attachments marked removed are
// dropped.
func (f *Folder) Save(_ context.Context, rec *record.Record, oldUID string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	if err := f.store.checkAvailable(); err != nil {
		return err
	}
	if rec.UID == "" {
		return &storage.Error{Type: storage.ErrRejected, Message: "object without uid"}
	}
	if f.typ == storage.FolderContact && rec.Type != record.TypeContact && rec.Type != record.TypeGroup {
		return &storage.Error{Type: storage.ErrRejected, Message: "folder " + f.name + " holds contacts only"}
	}

	prev := f.objects[rec.UID]
	if oldUID != "" && oldUID != rec.UID {
		if p, ok := f.objects[oldUID]; ok {
			prev = p
			delete(f.objects, oldUID)
		}
	}

	stored := rec.Clone()
	files := make(map[string][]byte)
	var kept []record.Attachment
	size := len(stored.UID) + len(stored.Title) + len(stored.Description) + len(stored.Location)
	for _, a := range stored.Attachments {
		if a.Removed {
			continue
		}
		switch {
		case a.URI != "":
		case len(a.Data) > 0:
			if a.ID == "" {
				a.ID = uuid.NewString()
			}
			files[a.ID] = a.Data
			a.Size = len(a.Data)
			a.Data = nil
		case a.ID != "" && prev != nil && prev.attachments[a.ID] != nil:
			files[a.ID] = prev.attachments[a.ID]
			a.Size = len(files[a.ID])
		default:
			continue
		}
		size += a.Size
		kept = append(kept, a)
	}
	stored.Attachments = kept

	f.modseq++
	f.nextID++
	stored.Internal.Version = f.modseq
	stored.Internal.Size = size
	stored.Internal.Mailbox = f.name
	f.objects[stored.UID] = &entry{rec: stored, attachments: files}

	rec.Internal = stored.Internal
	return nil
}

func (f *Folder) Delete(_ context.Context, uid string) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()

	if err := f.store.checkAvailable(); err != nil {
		return err
	}
	if _, ok := f.objects[uid]; !ok {
		return storage.NotFound("object %s not found in %s", uid, f.name)
	}
	delete(f.objects, uid)
	f.modseq++
	return nil
}

func (f *Folder) Attachment(_ context.Context, uid, id string) ([]byte, error) {
	f.store.mu.RLock()
	defer f.store.mu.RUnlock()

	if err := f.store.checkAvailable(); err != nil {
		return nil, err
	}
	e, ok := f.objects[uid]
	if !ok {
		return nil, storage.NotFound("object %s not found in %s", uid, f.name)
	}
	data, ok := e.attachments[id]
	if !ok {
		return nil, storage.NotFound("attachment %s of %s not found", id, uid)
	}
	return slices.Clone(data), nil
}
