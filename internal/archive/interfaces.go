package archive

import (
	"context"
	"time"
)

// Fetcher performs one network fetch for one target.
type Fetcher interface {
	Fetch(ctx context.Context, target Target) (Snapshot, error)
}

// Limiter gates outbound requests across all workers.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// FileStore is the destination for snapshot bodies. Write must create any
// missing parent directories.
type FileStore interface {
	Exists(ctx context.Context, path string) (bool, error)
	Write(ctx context.Context, path string, data []byte) error
}

// Hasher computes content digests for fetched bodies.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
