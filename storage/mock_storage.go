package storage

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/cyp0633/kolabdav/record"
)

// MockStore implements the Store interface for testing
type MockStore struct {
	mock.Mock
}

// ListFolders implements the Store interface
func (m *MockStore) ListFolders(ctx context.Context, t FolderType, includeUnsubscribed bool) ([]Folder, error) {
	args := m.Called(ctx, t, includeUnsubscribed)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Folder), args.Error(1)
}

// MockFolder implements the Folder interface for testing. The descriptive
// fields are plain struct fields; the data operations go through mock.Mock.
type MockFolder struct {
	mock.Mock

	FolderName        string
	FolderDisplayName string
	FolderType        FolderType
	FolderNamespace   Namespace
	FolderColor       string
	Default           bool
	FolderRights      string
	Unsubscribed      bool
}

func (m *MockFolder) Name() string { return m.FolderName }

func (m *MockFolder) DisplayName() string {
	if m.FolderDisplayName == "" {
		return m.FolderName
	}
	return m.FolderDisplayName
}

func (m *MockFolder) Type() FolderType { return m.FolderType }

func (m *MockFolder) Namespace() Namespace {
	if m.FolderNamespace == "" {
		return NamespacePersonal
	}
	return m.FolderNamespace
}

func (m *MockFolder) Color() string    { return m.FolderColor }
func (m *MockFolder) IsDefault() bool  { return m.Default }
func (m *MockFolder) Rights() string   { return m.FolderRights }
func (m *MockFolder) Subscribed() bool { return !m.Unsubscribed }

func (m *MockFolder) Counters(ctx context.Context) (Counters, error) {
	args := m.Called(ctx)
	return args.Get(0).(Counters), args.Error(1)
}

func (m *MockFolder) Metadata(ctx context.Context, keys []string) (map[string]string, error) {
	args := m.Called(ctx, keys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

func (m *MockFolder) SetMetadata(ctx context.Context, values map[string]string) error {
	return m.Called(ctx, values).Error(0)
}

func (m *MockFolder) Select(ctx context.Context, q Query) ([]*record.Record, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*record.Record), args.Error(1)
}

func (m *MockFolder) Get(ctx context.Context, uid string) (*record.Record, error) {
	args := m.Called(ctx, uid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*record.Record), args.Error(1)
}

func (m *MockFolder) Save(ctx context.Context, rec *record.Record, oldUID string) error {
	return m.Called(ctx, rec, oldUID).Error(0)
}

func (m *MockFolder) Delete(ctx context.Context, uid string) error {
	return m.Called(ctx, uid).Error(0)
}

func (m *MockFolder) Attachment(ctx context.Context, uid, id string) ([]byte, error) {
	args := m.Called(ctx, uid, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// MockRelations implements the Relations interface for testing
type MockRelations struct {
	mock.Mock
}

func (m *MockRelations) Tags(ctx context.Context, uid string) ([]Tag, error) {
	args := m.Called(ctx, uid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Tag), args.Error(1)
}

func (m *MockRelations) SaveTags(ctx context.Context, uid string, names []string) error {
	return m.Called(ctx, uid, names).Error(0)
}

// --- Convenience methods for setting up common test scenarios ---

// NewMockFolder returns a subscribed personal folder of type t whose
// counters and identifier annotation are already stubbed.
func NewMockFolder(name string, t FolderType, uid string, counters Counters) *MockFolder {
	f := &MockFolder{FolderName: name, FolderType: t}
	f.On("Counters", mock.Anything).Return(counters, nil).Maybe()
	f.On("Metadata", mock.Anything, mock.Anything).Return(map[string]string{MetadataSharedUID: uid}, nil).Maybe()
	return f
}

// SetupFolders makes the store list folders for their type. Unsubscribed
// folders only appear when they are requested.
func (m *MockStore) SetupFolders(folders ...Folder) {
	byType := map[FolderType][2][]Folder{}
	for _, f := range folders {
		lists := byType[f.Type()]
		if f.Subscribed() {
			lists[0] = append(lists[0], f)
		}
		lists[1] = append(lists[1], f)
		byType[f.Type()] = lists
	}
	for t, lists := range byType {
		m.ExpectedCalls = removeMatchingCalls(m.ExpectedCalls, "ListFolders", t)
		m.On("ListFolders", mock.Anything, t, false).Return(lists[0], nil)
		m.On("ListFolders", mock.Anything, t, true).Return(lists[1], nil)
	}
}

// Helper to remove existing mock calls that match a method and folder type
func removeMatchingCalls(calls []*mock.Call, method string, t FolderType) []*mock.Call {
	result := make([]*mock.Call, 0, len(calls))
	for _, call := range calls {
		if call.Method == method && len(call.Arguments) > 1 && call.Arguments[1] == t {
			continue
		}
		result = append(result, call)
	}
	return result
}
