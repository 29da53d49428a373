// Package core defines the collaborator interfaces shared by the gateway packages.
package core

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by an ObjectStore when the key does not exist.
var ErrNotFound = errors.New("object not found")

// Object is a stored blob together with its declared content type.
type Object struct {
	Data        []byte
	ContentType string
}

// ObjectStore is an opaque key to bytes store with head/get/put semantics.
type ObjectStore interface {
	Head(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (*Object, error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

// CacheStore is the substrate under the fingerprint cache. Implementations
// apply their own expiry; ttl is the freshness window of the written value.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Synthesizer turns text into encoded audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice, format string) ([]byte, error)
}
