package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cyp0633/kolabdav/record"
	"github.com/cyp0633/kolabdav/storage"
)

func TestStore_ListFolders(t *testing.T) {
	store := New()
	ctx := context.Background()

	store.AddFolder("Calendar", storage.FolderEvent, AsDefault())
	store.AddFolder("Calendar/Hidden", storage.FolderEvent, Unsubscribed())
	store.AddFolder("Tasks", storage.FolderTask)

	folders, err := store.ListFolders(ctx, storage.FolderEvent, false)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "Calendar", folders[0].Name())
	assert.True(t, folders[0].IsDefault())

	folders, err = store.ListFolders(ctx, storage.FolderEvent, true)
	require.NoError(t, err)
	assert.Len(t, folders, 2)
	assert.Equal(t, "Hidden", folders[1].DisplayName())

	store.SetUnavailable(true)
	_, err = store.ListFolders(ctx, storage.FolderEvent, false)
	assert.True(t, storage.IsType(err, storage.ErrUnavailable))
}

func TestStore_Objects(t *testing.T) {
	store := New()
	ctx := context.Background()
	f := store.AddFolder("Calendar", storage.FolderEvent)

	before, err := f.Counters(ctx)
	require.NoError(t, err)

	rec := &record.Record{
		UID:   "ev1",
		Type:  record.TypeEvent,
		Title: "Lunch",
		Attachments: []record.Attachment{
			{Name: "menu.txt", MIMEType: "text/plain", Data: []byte("soup")},
			{Name: "gone.txt", ID: "old", Removed: true},
		},
	}
	require.NoError(t, f.Save(ctx, rec, ""))
	assert.Equal(t, int64(1), rec.Internal.Version)
	assert.Equal(t, "Calendar", rec.Internal.Mailbox)

	after, err := f.Counters(ctx)
	require.NoError(t, err)
	assert.Greater(t, after.HighestModSeq, before.HighestModSeq)
	assert.Greater(t, after.UIDNext, before.UIDNext)

	got, err := f.Get(ctx, "ev1")
	require.NoError(t, err)
	require.Len(t, got.Attachments, 1)
	att := got.Attachments[0]
	assert.NotEmpty(t, att.ID)
	assert.Nil(t, att.Data)
	assert.Equal(t, 4, att.Size)

	data, err := f.Attachment(ctx, "ev1", att.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("soup"), data)

	// Referencing a stored attachment by id keeps its content.
	got.Title = "Late lunch"
	require.NoError(t, f.Save(ctx, got, ""))
	data, err = f.Attachment(ctx, "ev1", att.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("soup"), data)
	assert.Equal(t, int64(2), got.Internal.Version)

	// Stored copies are isolated from the caller.
	got.Title = "mutated"
	again, err := f.Get(ctx, "ev1")
	require.NoError(t, err)
	assert.Equal(t, "Late lunch", again.Title)

	require.NoError(t, f.Delete(ctx, "ev1"))
	_, err = f.Get(ctx, "ev1")
	assert.True(t, storage.IsType(err, storage.ErrNotFound))
	assert.True(t, storage.IsType(f.Delete(ctx, "ev1"), storage.ErrNotFound))
}

func TestStore_SaveReplacesOldUID(t *testing.T) {
	store := New()
	ctx := context.Background()
	f := store.AddFolder("Contacts", storage.FolderContact)

	require.NoError(t, f.Save(ctx, &record.Record{UID: "old", Type: record.TypeContact}, ""))
	require.NoError(t, f.Save(ctx, &record.Record{UID: "new", Type: record.TypeContact}, "old"))

	_, err := f.Get(ctx, "old")
	assert.Error(t, err)
	_, err = f.Get(ctx, "new")
	assert.NoError(t, err)

	err = f.Save(ctx, &record.Record{UID: "ev", Type: record.TypeEvent}, "")
	assert.True(t, storage.IsType(err, storage.ErrRejected))
}

func TestStore_Select(t *testing.T) {
	store := New()
	ctx := context.Background()
	f := store.AddFolder("Calendar", storage.FolderEvent)

	for _, uid := range []string{"b", "a", "c"} {
		require.NoError(t, f.Save(ctx, &record.Record{UID: uid, Type: record.TypeEvent}, ""))
	}

	all, err := f.Select(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].UID)

	some, err := f.Select(ctx, storage.Query{{Field: storage.FieldUID, Op: storage.OpNotEqual, Value: "b"}})
	require.NoError(t, err)
	assert.Len(t, some, 2)
}

func TestStore_Metadata(t *testing.T) {
	store := New()
	ctx := context.Background()
	f := store.AddFolder("Calendar", storage.FolderEvent, ReadOnlyMetadata(storage.MetadataSharedUID))

	err := f.SetMetadata(ctx, map[string]string{storage.MetadataSharedUID: "x"})
	assert.True(t, storage.IsType(err, storage.ErrRejected))

	uid, err := storage.FolderUID(ctx, f)
	require.NoError(t, err)
	meta, err := f.Metadata(ctx, []string{storage.MetadataSharedUID, storage.MetadataPrivateUID})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{storage.MetadataPrivateUID: uid}, meta)
}

func TestStore_Tags(t *testing.T) {
	store := New()
	ctx := context.Background()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return clock })

	require.NoError(t, store.SaveTags(ctx, "task", []string{"Work"}))
	clock = clock.Add(time.Hour)
	require.NoError(t, store.SaveTags(ctx, "task", []string{"Work", "Home"}))

	tags, err := store.Tags(ctx, "task")
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), tags[0].Changed, "unchanged tags keep their stamp")
	assert.Equal(t, clock, tags[1].Changed)

	require.NoError(t, store.SaveTags(ctx, "task", nil))
	tags, err = store.Tags(ctx, "task")
	require.NoError(t, err)
	assert.Empty(t, tags)
}
