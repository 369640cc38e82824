package importer

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// ObjectStore abstracts the blob storage operations the importer needs:
// streaming reads plus the copy/delete pair used for source relocation.
// The abstraction keeps the importer testable without a real GCS client.
type ObjectStore interface {
	// NewReader opens the object for streaming. ErrObjectNotExist is
	// returned for a missing object.
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	// Copy duplicates src to dst within the bucket.
	Copy(ctx context.Context, bucket, src, dst string) error
	// Delete removes the object.
	Delete(ctx context.Context, bucket, object string) error
}

// ErrObjectNotExist reports a read of an object that is no longer there,
// typically because an earlier delivery of the same notification already
// relocated it.
var ErrObjectNotExist = errors.New("storage object does not exist")

// gcsObjectStore adapts a concrete *storage.Client to the ObjectStore
// interface.
type gcsObjectStore struct {
	client *storage.Client
}

// NewGCSObjectStore wraps a Google Cloud Storage client.
func NewGCSObjectStore(client *storage.Client) ObjectStore {
	if client == nil {
		return nil
	}
	return &gcsObjectStore{client: client}
}

func (s *gcsObjectStore) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotExist, bucket, object)
		}
		return nil, fmt.Errorf("opening gs://%s/%s: %w", bucket, object, err)
	}
	return r, nil
}

func (s *gcsObjectStore) Copy(ctx context.Context, bucket, src, dst string) error {
	bkt := s.client.Bucket(bucket)
	copier := bkt.Object(dst).CopierFrom(bkt.Object(src))
	if _, err := copier.Run(ctx); err != nil {
		return fmt.Errorf("copying gs://%s/%s to %s: %w", bucket, src, dst, err)
	}
	return nil
}

func (s *gcsObjectStore) Delete(ctx context.Context, bucket, object string) error {
	if err := s.client.Bucket(bucket).Object(object).Delete(ctx); err != nil {
		return fmt.Errorf("deleting gs://%s/%s: %w", bucket, object, err)
	}
	return nil
}
