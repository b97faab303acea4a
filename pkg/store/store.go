// Package store is the object storage capability used by the archivers.
package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Read when no object exists at the key.
var ErrNotFound = errors.New("object not found")

// WriteOptions is optional object metadata.
type WriteOptions struct {
	ContentType string
	CustomTime  time.Time // Zero means unset.
}

type Store interface {
	// Write stores content at key, replacing any existing object.
	Write(ctx context.Context, key string, content []byte, opts WriteOptions) error
	// Read returns the object content, or ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)
	// ListPage returns one page of keys under prefix, and the token for the
	// next page. An empty next token means the listing is complete.
	ListPage(ctx context.Context, prefix string, pageToken string) (keys []string, next string, err error)
	// URI renders key as a fully qualified location, for logs.
	URI(key string) string
}

// ListAll pages through every key under prefix.
func ListAll(ctx context.Context, s Store, prefix string) ([]string, error) {
	var all []string
	token := ""
	for {
		keys, next, err := s.ListPage(ctx, prefix, token)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list %s", prefix)
		}
		all = append(all, keys...)
		if next == "" {
			return all, nil
		}
		token = next
	}
}
