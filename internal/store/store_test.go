package store

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/tinoosan/mdarchive/internal/data"
	"github.com/tinoosan/mdarchive/internal/fp"
	"gocloud.dev/blob"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	ctx := context.Background()

	blobStore, err := Open(ctx, Config{Driver: "blob", BucketURL: "mem://"})
	if err != nil {
		t.Fatalf("open blob store: %v", err)
	}
	t.Cleanup(func() { _ = blobStore.Close() })

	sqlStore, err := Open(ctx, Config{Driver: "sqlite", BucketURL: "mem://", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = sqlStore.Close() })

	return map[string]Store{"blob": blobStore, "sqlite": sqlStore}
}

func TestStore_Documents(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			exerciseDocuments(t, s)
		})
	}
}

func exerciseDocuments(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	title := data.Title{ID: uuid.New(), Titles: map[string]string{"en": "Dungeon Meshi"}, Year: 2014}
	chapter := data.Chapter{
		ID: uuid.New(), TitleID: title.ID, Number: "1", Language: "en",
		Pages: []data.Page{{Index: 0, FileName: "1.png", Digest: fp.Digest([]byte("p1")), Size: 2}},
	}
	cover := data.Cover{ID: uuid.New(), TitleID: title.ID, FileName: "c.jpg"}

	if err := s.Push(ctx, chapter); !errors.Is(err, data.ErrMissingRelation) {
		t.Fatalf("chapter before title: expected ErrMissingRelation, got %v", err)
	}
	if err := s.Push(ctx, cover); !errors.Is(err, data.ErrMissingRelation) {
		t.Fatalf("cover before title: expected ErrMissingRelation, got %v", err)
	}
	if _, err := s.Pull(ctx, data.CategoryTitle, title.ID); !errors.Is(err, data.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for _, o := range []data.Object{title, chapter, cover} {
		if err := s.Push(ctx, o); err != nil {
			t.Fatalf("push %s: %v", o.ObjectCategory(), err)
		}
	}

	got, err := s.Pull(ctx, data.CategoryChapter, chapter.ID)
	if err != nil {
		t.Fatalf("pull chapter: %v", err)
	}
	ch, ok := got.(data.Chapter)
	if !ok || ch.TitleID != title.ID || len(ch.Pages) != 1 || ch.Pages[0].Digest != chapter.Pages[0].Digest {
		t.Fatalf("unexpected chapter %#v", got)
	}

	// Push replaces.
	title.Year = 2015
	if err := s.Push(ctx, title); err != nil {
		t.Fatalf("push again: %v", err)
	}
	got, err = s.Pull(ctx, data.CategoryTitle, title.ID)
	if err != nil {
		t.Fatalf("pull title: %v", err)
	}
	if tt := got.(data.Title); tt.Year != 2015 || tt.DisplayTitle() != "Dungeon Meshi" {
		t.Fatalf("unexpected title %#v", tt)
	}

	if _, err := s.Pull(ctx, data.Category("volume"), title.ID); !errors.Is(err, data.ErrBadCategory) {
		t.Fatalf("expected ErrBadCategory, got %v", err)
	}
}

func TestStore_Images(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			img := []byte("\x89PNG fake page")
			d1, err := s.PutImage(ctx, img)
			if err != nil {
				t.Fatalf("put image: %v", err)
			}
			d2, err := s.PutImage(ctx, img)
			if err != nil || d2 != d1 {
				t.Fatalf("second put = %s, %v; want %s", d2, err, d1)
			}
			if d1 != fp.Digest(img) {
				t.Fatalf("digest mismatch")
			}
			b, err := s.Image(ctx, d1)
			if err != nil || string(b) != string(img) {
				t.Fatalf("image = %q, %v", b, err)
			}
			if _, err := s.Image(ctx, fp.Digest([]byte("absent"))); !errors.Is(err, data.ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
			if _, err := s.Image(ctx, "not-a-digest"); !errors.Is(err, data.ErrNotFound) {
				t.Fatalf("expected ErrNotFound for bad digest, got %v", err)
			}
		})
	}
}

func TestBlobStore_DetectsCorruptImage(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	s := NewBlobStore(bucket)
	t.Cleanup(func() { _ = s.Close() })

	d, err := s.PutImage(ctx, []byte("original"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := bucket.WriteAll(ctx, imageKey(d), []byte("tampered"), nil); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if _, err := s.Image(ctx, d); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestSQLStore_Chapters(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	s, err := OpenSQL(ctx, "sqlite", ":memory:", bucket)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	title := data.Title{ID: uuid.New()}
	other := data.Title{ID: uuid.New()}
	for _, o := range []data.Object{
		title, other,
		data.Chapter{ID: uuid.New(), TitleID: title.ID},
		data.Chapter{ID: uuid.New(), TitleID: title.ID},
		data.Chapter{ID: uuid.New(), TitleID: other.ID},
	} {
		if err := s.Push(ctx, o); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	ids, err := s.Chapters(ctx, title.ID)
	if err != nil {
		t.Fatalf("chapters: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 chapters, got %v", ids)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "mongo", BucketURL: "mem://"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{postgres: true}
	if got := pg.rebind(`a=? AND b=?`); got != `a=$1 AND b=$2` {
		t.Fatalf("rebind = %s", got)
	}
	lite := &SQLStore{}
	if got := lite.rebind(`a=?`); got != `a=?` {
		t.Fatalf("sqlite rebind changed query: %s", got)
	}
}
