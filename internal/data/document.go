package data

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Object is a document that can be pushed into the store.
type Object interface {
	ObjectID() uuid.UUID
	ObjectCategory() Category
}

// Title is the top-level document. Chapters and covers point back at it.
type Title struct {
	ID          uuid.UUID         `json:"id"`
	Titles      map[string]string `json:"titles"`
	Description string            `json:"description,omitempty"`
	Status      string            `json:"status,omitempty"`
	Year        int               `json:"year,omitempty"`
	Authors     []string          `json:"authors,omitempty"`
	CoverID     uuid.UUID         `json:"coverId"`
}

// Chapter holds the page list of one chapter. Pages carry the digest of
// the stored image, not the image itself.
type Chapter struct {
	ID       uuid.UUID `json:"id"`
	TitleID  uuid.UUID `json:"titleId"`
	Volume   string    `json:"volume,omitempty"`
	Number   string    `json:"number,omitempty"`
	Name     string    `json:"name,omitempty"`
	Language string    `json:"language,omitempty"`
	Quality  string    `json:"quality,omitempty"`
	Pages    []Page    `json:"pages"`
}

type Page struct {
	Index    int    `json:"index"`
	FileName string `json:"fileName"`
	Digest   string `json:"digest"`
	Size     int64  `json:"size"`
}

// Cover is a cover image of a title.
type Cover struct {
	ID       uuid.UUID `json:"id"`
	TitleID  uuid.UUID `json:"titleId"`
	FileName string    `json:"fileName"`
	Volume   string    `json:"volume,omitempty"`
	Locale   string    `json:"locale,omitempty"`
	Digest   string    `json:"digest,omitempty"`
	Size     int64     `json:"size,omitempty"`
}

func (t Title) ObjectID() uuid.UUID        { return t.ID }
func (t Title) ObjectCategory() Category   { return CategoryTitle }
func (c Chapter) ObjectID() uuid.UUID      { return c.ID }
func (c Chapter) ObjectCategory() Category { return CategoryChapter }
func (c Cover) ObjectID() uuid.UUID        { return c.ID }
func (c Cover) ObjectCategory() Category   { return CategoryCover }

// DisplayTitle picks the English title when present, else any title.
func (t Title) DisplayTitle() string {
	if s, ok := t.Titles["en"]; ok {
		return s
	}
	for _, s := range t.Titles {
		return s
	}
	return ""
}

// Clone returns a deep copy of the chapter.
func (c Chapter) Clone() Chapter {
	out := c
	out.Pages = make([]Page, len(c.Pages))
	copy(out.Pages, c.Pages)
	return out
}

// ToJSON encodes any document.
func ToJSON(w io.Writer, o Object) error { return json.NewEncoder(w).Encode(o) }

// Decode returns a zero document of the given category decoded from b.
func Decode(c Category, b []byte) (Object, error) {
	switch c {
	case CategoryTitle:
		var t Title
		if err := json.Unmarshal(b, &t); err != nil {
			return nil, fmt.Errorf("decode title: %w", err)
		}
		return t, nil
	case CategoryChapter:
		var ch Chapter
		if err := json.Unmarshal(b, &ch); err != nil {
			return nil, fmt.Errorf("decode chapter: %w", err)
		}
		return ch, nil
	case CategoryCover:
		var cv Cover
		if err := json.Unmarshal(b, &cv); err != nil {
			return nil, fmt.Errorf("decode cover: %w", err)
		}
		return cv, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrBadCategory, c)
	}
}

// RelatedTitle returns the title a document depends on, if any.
func RelatedTitle(o Object) (uuid.UUID, bool) {
	switch v := o.(type) {
	case Chapter:
		return v.TitleID, v.TitleID != uuid.Nil
	case Cover:
		return v.TitleID, v.TitleID != uuid.Nil
	default:
		return uuid.Nil, false
	}
}
