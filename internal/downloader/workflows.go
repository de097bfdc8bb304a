package downloader

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tinoosan/mdarchive/internal/data"
	"github.com/tinoosan/mdarchive/internal/task"
	"golang.org/x/sync/errgroup"
)

func (m *Manager) titleWorkflow(id uuid.UUID) task.Workflow[data.Title, TitlePhase] {
	return func(ctx context.Context, report func(TitlePhase) error) (data.Title, error) {
		if err := report(TitleFetchingData); err != nil {
			return data.Title{}, err
		}
		t, err := m.remote.Title(ctx, id, "cover_art", "author", "artist")
		if err != nil {
			return data.Title{}, fmt.Errorf("fetch title: %w", err)
		}

		if err := report(TitleStoring); err != nil {
			return data.Title{}, err
		}
		if err := m.store.Push(ctx, t); err != nil {
			return data.Title{}, fmt.Errorf("store title: %w", err)
		}

		if t.CoverID == uuid.Nil {
			return t, nil
		}
		if err := report(TitleFetchingCover); err != nil {
			return data.Title{}, err
		}
		cover, err := m.covers.Request(ctx, t.CoverID, task.Downloading)
		if err != nil {
			return data.Title{}, fmt.Errorf("request cover %s: %w", t.CoverID, err)
		}
		if _, err := cover.Wait(ctx); err != nil {
			return data.Title{}, fmt.Errorf("cover %s: %w", t.CoverID, err)
		}
		return t, nil
	}
}

func (m *Manager) chapterWorkflow(id uuid.UUID) task.Workflow[data.Chapter, ChapterPhase] {
	return func(ctx context.Context, report func(ChapterPhase) error) (data.Chapter, error) {
		if err := report(ChapterPhase{Step: ChapterFetchingData}); err != nil {
			return data.Chapter{}, err
		}
		ch, err := m.remote.Chapter(ctx, id)
		if err != nil {
			return data.Chapter{}, fmt.Errorf("fetch chapter: %w", err)
		}
		if ch.TitleID == uuid.Nil {
			return data.Chapter{}, fmt.Errorf("%w: chapter %s has no title", data.ErrMissingRelation, id)
		}

		if err := report(ChapterPhase{Step: ChapterRelations}); err != nil {
			return data.Chapter{}, err
		}
		if err := m.ensureTitle(ctx, ch.TitleID); err != nil {
			return data.Chapter{}, err
		}

		if err := report(ChapterPhase{Step: ChapterFetchingPages}); err != nil {
			return data.Chapter{}, err
		}
		ah, err := m.remote.AtHome(ctx, id)
		if err != nil {
			return data.Chapter{}, fmt.Errorf("resolve page server: %w", err)
		}
		files := ah.Files(m.dl.Quality)
		if len(files) == 0 {
			return data.Chapter{}, fmt.Errorf("chapter %s has no %s pages", id, m.dl.Quality)
		}

		pages := make([]data.Page, len(files))
		progress := newPageReporter(len(files), report)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(m.dl.PageWorkers)
		for i, file := range files {
			g.Go(func() error {
				b, err := m.remote.Image(gctx, ah.PageURL(m.dl.Quality, file))
				if err != nil {
					return fmt.Errorf("fetch page %d: %w", i+1, err)
				}
				digest, err := m.store.PutImage(gctx, b)
				if err != nil {
					return fmt.Errorf("store page %d: %w", i+1, err)
				}
				pages[i] = data.Page{Index: i, FileName: file, Digest: digest, Size: int64(len(b))}
				return progress.pageDone()
			})
		}
		if err := g.Wait(); err != nil {
			return data.Chapter{}, err
		}

		if err := report(ChapterPhase{Step: ChapterStoring}); err != nil {
			return data.Chapter{}, err
		}
		ch.Pages = pages
		ch.Quality = string(m.dl.Quality)
		if err := m.store.Push(ctx, ch); err != nil {
			return data.Chapter{}, fmt.Errorf("store chapter: %w", err)
		}
		return ch, nil
	}
}

// ensureTitle makes sure the title of a chapter is stored, downloading it
// through its own task when it is not.
func (m *Manager) ensureTitle(ctx context.Context, id uuid.UUID) error {
	_, err := m.store.Pull(ctx, data.CategoryTitle, id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, data.ErrNotFound) {
		return fmt.Errorf("load title %s: %w", id, err)
	}
	t, err := m.titles.Request(ctx, id, task.Downloading)
	if err != nil {
		return fmt.Errorf("request title %s: %w", id, err)
	}
	if _, err := t.Wait(ctx); err != nil {
		return fmt.Errorf("title %s: %w", id, err)
	}
	return nil
}

func (m *Manager) coverWorkflow(id uuid.UUID) task.Workflow[data.Cover, CoverPhase] {
	return func(ctx context.Context, report func(CoverPhase) error) (data.Cover, error) {
		if err := report(CoverFetchingData); err != nil {
			return data.Cover{}, err
		}
		cv, err := m.remote.Cover(ctx, id)
		if err != nil {
			return data.Cover{}, fmt.Errorf("fetch cover: %w", err)
		}
		if cv.TitleID == uuid.Nil {
			return data.Cover{}, fmt.Errorf("%w: cover %s has no title", data.ErrMissingRelation, id)
		}
		// The title task waits on its cover, so a missing title is stored
		// directly rather than through its task.
		if _, err := m.store.Pull(ctx, data.CategoryTitle, cv.TitleID); errors.Is(err, data.ErrNotFound) {
			t, err := m.remote.Title(ctx, cv.TitleID, "author", "artist")
			if err != nil {
				return data.Cover{}, fmt.Errorf("fetch title %s: %w", cv.TitleID, err)
			}
			if err := m.store.Push(ctx, t); err != nil {
				return data.Cover{}, fmt.Errorf("store title %s: %w", cv.TitleID, err)
			}
		} else if err != nil {
			return data.Cover{}, fmt.Errorf("load title %s: %w", cv.TitleID, err)
		}

		if err := report(CoverFetchingImage); err != nil {
			return data.Cover{}, err
		}
		b, err := m.remote.Image(ctx, m.remote.CoverURL(cv))
		if err != nil {
			return data.Cover{}, fmt.Errorf("fetch cover image: %w", err)
		}

		if err := report(CoverStoring); err != nil {
			return data.Cover{}, err
		}
		digest, err := m.store.PutImage(ctx, b)
		if err != nil {
			return data.Cover{}, fmt.Errorf("store cover image: %w", err)
		}
		cv.Digest = digest
		cv.Size = int64(len(b))
		if err := m.store.Push(ctx, cv); err != nil {
			return data.Cover{}, fmt.Errorf("store cover: %w", err)
		}
		return cv, nil
	}
}
