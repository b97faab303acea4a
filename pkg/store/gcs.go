package store

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
)

const defaultPageSize = 1000

// GCSStore stores objects in a single Google Cloud Storage bucket.
type GCSStore struct {
	client   *storage.Client
	bucket   string
	pageSize int
}

// NewGCSStore creates a client using application default credentials.
// Close must be called when the store is no longer needed.
func NewGCSStore(ctx context.Context, bucket string) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create storage client")
	}

	return &GCSStore{
		client:   client,
		bucket:   bucket,
		pageSize: defaultPageSize,
	}, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) Write(ctx context.Context, key string, content []byte, opts WriteOptions) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if opts.ContentType != "" {
		w.ContentType = opts.ContentType
	}
	if !opts.CustomTime.IsZero() {
		w.CustomTime = opts.CustomTime
	}

	if _, err := w.Write(content); err != nil {
		_ = w.Close()
		return errors.Wrapf(err, "failed to write %s", s.URI(key))
	}
	// The object is only committed on Close.
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "failed to close gcs writer for %s", s.URI(key))
	}

	return nil
}

func (s *GCSStore) Read(ctx context.Context, key string) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", s.URI(key))
	}
	defer r.Close()

	b, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", s.URI(key))
	}
	return b, nil
}

func (s *GCSStore) ListPage(ctx context.Context, prefix string, pageToken string) ([]string, string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var attrs []*storage.ObjectAttrs
	next, err := iterator.NewPager(it, s.pageSize, pageToken).NextPage(&attrs)
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to list %s", s.URI(prefix))
	}

	keys := make([]string, 0, len(attrs))
	for _, a := range attrs {
		keys = append(keys, a.Name)
	}
	return keys, next, nil
}

func (s *GCSStore) URI(key string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, key)
}
