package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/google/uuid"
	"github.com/tinoosan/mdarchive/internal/data"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// BlobStore keeps every document as a JSON object in a bucket:
//
//	title/<id>.json
//	chapter/<id>.json
//	cover/<id>.json
//	images/<aa>/<digest>
type BlobStore struct {
	bucket *blob.Bucket
}

// NewBlobStore takes ownership of bucket.
func NewBlobStore(bucket *blob.Bucket) *BlobStore {
	return &BlobStore{bucket: bucket}
}

func documentKey(c data.Category, id uuid.UUID) string {
	return path.Join(string(c), id.String()+".json")
}

func (s *BlobStore) Push(ctx context.Context, o data.Object) error {
	if o == nil {
		return errors.New("push: nil document")
	}
	if tid, ok := data.RelatedTitle(o); ok {
		exists, err := s.bucket.Exists(ctx, documentKey(data.CategoryTitle, tid))
		if err != nil {
			return fmt.Errorf("check title %s: %w", tid, err)
		}
		if !exists {
			return fmt.Errorf("%w: %s %s needs title %s", data.ErrMissingRelation, o.ObjectCategory(), o.ObjectID(), tid)
		}
	}
	var buf bytes.Buffer
	if err := data.ToJSON(&buf, o); err != nil {
		return fmt.Errorf("encode %s %s: %w", o.ObjectCategory(), o.ObjectID(), err)
	}
	key := documentKey(o.ObjectCategory(), o.ObjectID())
	if err := s.bucket.WriteAll(ctx, key, buf.Bytes(), &blob.WriterOptions{ContentType: "application/json"}); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *BlobStore) Pull(ctx context.Context, c data.Category, id uuid.UUID) (data.Object, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", data.ErrBadCategory, c)
	}
	key := documentKey(c, id)
	b, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		return nil, notFound(err, key)
	}
	return data.Decode(c, b)
}

func (s *BlobStore) PutImage(ctx context.Context, b []byte) (string, error) {
	return putImage(ctx, s.bucket, b)
}

func (s *BlobStore) Image(ctx context.Context, digest string) ([]byte, error) {
	return readImage(ctx, s.bucket, digest)
}

func (s *BlobStore) Close() error { return s.bucket.Close() }

// notFound maps a missing bucket object to data.ErrNotFound.
func notFound(err error, what string) error {
	if gcerrors.Code(err) == gcerrors.NotFound {
		return fmt.Errorf("%w: %s", data.ErrNotFound, what)
	}
	return fmt.Errorf("read %s: %w", what, err)
}
