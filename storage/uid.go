package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrUIDNotPersisted reports that a generated folder identifier could not be
// stored. FolderUID still returns the identifier along with it.
var ErrUIDNotPersisted = errors.New("folder uid not persisted")

// FolderUID returns the stable identifier of f. When the folder carries none
// yet, a name-based identifier is generated and persisted, preferring the
// shared annotation over the private one.
func FolderUID(ctx context.Context, f Folder) (string, error) {
	meta, err := f.Metadata(ctx, []string{MetadataSharedUID, MetadataPrivateUID})
	if err != nil {
		return "", fmt.Errorf("read metadata of %s: %w", f.Name(), err)
	}
	if uid := meta[MetadataSharedUID]; uid != "" {
		return uid, nil
	}
	if uid := meta[MetadataPrivateUID]; uid != "" {
		return uid, nil
	}

	uid := uuid.NewMD5(uuid.NameSpaceURL, []byte("imap:"+f.Name())).String()
	sharedErr := f.SetMetadata(ctx, map[string]string{MetadataSharedUID: uid})
	if sharedErr == nil {
		return uid, nil
	}
	if privateErr := f.SetMetadata(ctx, map[string]string{MetadataPrivateUID: uid}); privateErr != nil {
		// Generated identifiers are derived from the name, so an unwritable
		// folder still resolves to the same one next time.
		return uid, fmt.Errorf("%w for %s: %w", ErrUIDNotPersisted, f.Name(), errors.Join(sharedErr, privateErr))
	}
	return uid, nil
}
