package archive

import (
	"context"
	"fmt"
)

// MirrorStore writes every snapshot to a primary store and a secondary one.
// Existence checks consult only the primary so resumability follows the
// local copy.
type MirrorStore struct {
	Primary   FileStore
	Secondary FileStore
}

// Exists reports whether path exists in the primary store.
func (m MirrorStore) Exists(ctx context.Context, path string) (bool, error) {
	return m.Primary.Exists(ctx, path)
}

// Write stores data in the primary store, then the secondary.
func (m MirrorStore) Write(ctx context.Context, path string, data []byte) error {
	if err := m.Primary.Write(ctx, path, data); err != nil {
		return err
	}
	if m.Secondary == nil {
		return nil
	}
	if err := m.Secondary.Write(ctx, path, data); err != nil {
		return fmt.Errorf("mirror write: %w", err)
	}
	return nil
}
