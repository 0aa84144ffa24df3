package cache

import (
	"context"
	"time"
)

// BytesCache is a best-effort key/value cache. A miss is (nil, false, nil).
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// VersionedCache stores a value only when version is not older than the one it
// already holds for key. It reports whether the value was written.
type VersionedCache interface {
	SetIfNewer(ctx context.Context, key string, value []byte, version int64, ttl time.Duration) (bool, error)
}
