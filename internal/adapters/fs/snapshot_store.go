package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/bft-labs/upshift/internal/domain"
	"github.com/bft-labs/upshift/internal/ports"
)

const snapshotExt = ".snapshot"

// ErrSnapshotNotFound is returned when restoring an unknown handle.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore implements ports.SnapshotStore by copying the modules
// manifest into a snapshot directory. Restore writes the copy back.
type SnapshotStore struct {
	dir      string
	manifest string
}

// NewSnapshotStore creates a store keeping snapshots of manifestPath in dir.
func NewSnapshotStore(dir, manifestPath string) *SnapshotStore {
	return &SnapshotStore{dir: dir, manifest: manifestPath}
}

// Create copies the current manifest and returns the snapshot handle.
func (s *SnapshotStore) Create(ctx context.Context, def domain.UpgradeDefinition) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := os.ReadFile(s.manifest)
	if err != nil {
		return "", fmt.Errorf("read manifest: %w", err)
	}

	handle := def.ID + "-" + uuid.NewString()
	if err := writeFileAtomic(s.path(handle), data, 0o600); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return handle, nil
}

// Restore writes the snapshot back over the manifest atomically.
func (s *SnapshotStore) Restore(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handle == "" || strings.ContainsAny(handle, `/\`) || strings.Contains(handle, "..") {
		return fmt.Errorf("invalid snapshot handle %q", handle)
	}

	data, err := os.ReadFile(s.path(handle))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSnapshotNotFound, handle)
		}
		return err
	}
	return writeFileAtomic(s.manifest, data, 0o600)
}

// path returns the file a snapshot handle is stored in.
func (s *SnapshotStore) path(handle string) string {
	return filepath.Join(s.dir, handle+snapshotExt)
}

var _ ports.SnapshotStore = (*SnapshotStore)(nil)
