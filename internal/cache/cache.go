package cache

import (
	"context"
	"time"
)

// BytesCache is a best-effort key/value cache. A miss is (nil, false, nil).
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// VersionedCache refuses a write whose (major, minor) version is older than the stored one.
type VersionedCache interface {
	BytesCache
	SetIfNewer(ctx context.Context, key string, value []byte, major, minor int64, ttl time.Duration) (bool, error)
}
