package speech

import (
	"context"
	"fmt"

	"github.com/book-expert/render-gateway/internal/core"
)

const defaultAudioContentType = "audio/mpeg"

// Dedup is the content-addressed audio store. Keys come from KeyOf, so an
// existing key means the audio was already synthesized.
type Dedup struct {
	store core.ObjectStore
}

// NewDedup wraps store.
func NewDedup(store core.ObjectStore) *Dedup {
	return &Dedup{store: store}
}

// Exists reports whether audio for key is stored.
func (d *Dedup) Exists(ctx context.Context, key string) (bool, error) {
	found, err := d.store.Head(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to check audio '%s': %w", key, err)
	}

	return found, nil
}

// Put stores audio under key with its content type.
func (d *Dedup) Put(ctx context.Context, key string, audio []byte, contentType string) error {
	if err := d.store.Put(ctx, key, audio, contentType); err != nil {
		return fmt.Errorf("failed to store audio '%s': %w", key, err)
	}

	return nil
}

// Get returns stored audio. A missing content type defaults to audio/mpeg.
func (d *Dedup) Get(ctx context.Context, key string) (*core.Object, error) {
	obj, err := d.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	if obj.ContentType == "" {
		obj.ContentType = defaultAudioContentType
	}

	return obj, nil
}
