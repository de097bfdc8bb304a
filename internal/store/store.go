// Package store persists downloaded documents and their images.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tinoosan/mdarchive/internal/data"
	"github.com/tinoosan/mdarchive/internal/fp"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
)

// ErrCorrupt is returned when a stored image does not match its digest.
var ErrCorrupt = errors.New("stored image does not match its digest")

// Store is the local document archive.
type Store interface {
	// Push stores o, replacing any previous version. Chapters and covers
	// need their title stored first.
	Push(ctx context.Context, o data.Object) error
	Pull(ctx context.Context, c data.Category, id uuid.UUID) (data.Object, error)
	// PutImage stores image bytes content addressed and returns the digest.
	PutImage(ctx context.Context, b []byte) (string, error)
	Image(ctx context.Context, digest string) ([]byte, error)
	Close() error
}

// Config selects a backend.
type Config struct {
	// Driver is "blob", "sqlite" or "postgres".
	Driver string
	// BucketURL is a gocloud bucket URL such as file:///var/lib/mdarchive or
	// mem://. The sql drivers keep images there.
	BucketURL string
	// DSN is the database source for the sql drivers.
	DSN string
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	bucket, err := blob.OpenBucket(ctx, cfg.BucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %q: %w", cfg.BucketURL, err)
	}
	switch strings.ToLower(cfg.Driver) {
	case "", "blob":
		return NewBlobStore(bucket), nil
	case "sqlite", "postgres":
		s, err := OpenSQL(ctx, cfg.Driver, cfg.DSN, bucket)
		if err != nil {
			_ = bucket.Close()
			return nil, err
		}
		return s, nil
	default:
		_ = bucket.Close()
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func imageKey(digest string) string { return fp.ObjectKey("images", digest) }

// putImage writes b to bucket under its digest unless already present.
func putImage(ctx context.Context, bucket *blob.Bucket, b []byte) (string, error) {
	digest := fp.Digest(b)
	key := imageKey(digest)
	ok, err := bucket.Exists(ctx, key)
	if err != nil {
		return "", fmt.Errorf("check image %s: %w", digest, err)
	}
	if ok {
		return digest, nil
	}
	if err := bucket.WriteAll(ctx, key, b, &blob.WriterOptions{ContentType: "application/octet-stream"}); err != nil {
		return "", fmt.Errorf("write image %s: %w", digest, err)
	}
	return digest, nil
}

func readImage(ctx context.Context, bucket *blob.Bucket, digest string) ([]byte, error) {
	digest = strings.ToLower(digest)
	if !fp.Valid(digest) {
		return nil, fmt.Errorf("%w: image %q", data.ErrNotFound, digest)
	}
	b, err := bucket.ReadAll(ctx, imageKey(digest))
	if err != nil {
		return nil, notFound(err, "image "+digest)
	}
	if fp.Digest(b) != digest {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, digest)
	}
	return b, nil
}
