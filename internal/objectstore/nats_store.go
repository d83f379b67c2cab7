// Package objectstore persists narration assets in NATS JetStream object
// buckets: source text waits in one bucket, rendered audio lands in another.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Store implements core.ObjectStore on one JetStream object bucket.
type Store struct {
	bucket string
	store  nats.ObjectStore
}

// New binds to the named bucket, creating it first when it does not exist.
func New(jetstreamContext nats.JetStreamContext, bucket string) (*Store, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucket,
		Description: fmt.Sprintf("Narration assets for the %s bucket.", bucket),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("create object store bucket %q: %w", bucket, err)
		}

		store, err = jetstreamContext.ObjectStore(bucket)
		if err != nil {
			return nil, fmt.Errorf("bind to object store bucket %q: %w", bucket, err)
		}
	}

	return &Store{
		bucket: bucket,
		store:  store,
	}, nil
}

// Download retrieves one object's bytes.
func (s *Store) Download(_ context.Context, key string) ([]byte, error) {
	object, err := s.store.Get(key)
	if err != nil {
		return nil, fmt.Errorf("get object %q from bucket %q: %w", key, s.bucket, err)
	}

	data, readErr := io.ReadAll(object)
	closeErr := object.Close()

	if readErr != nil {
		return nil, fmt.Errorf("read object %q: %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("close object %q: %w", key, closeErr)
	}

	return data, nil
}

// Upload stores data under key, replacing any existing object.
func (s *Store) Upload(_ context.Context, key string, data []byte) error {
	_, err := s.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("put object %q to bucket %q: %w", key, s.bucket, err)
	}

	return nil
}
