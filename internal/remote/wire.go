package remote

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/tinoosan/mdarchive/internal/data"
	"github.com/tinoosan/mdarchive/internal/downloadcfg"
)

// RemoteError is a non-success answer from the remote API.
type RemoteError struct {
	Endpoint string
	Status   int
	Message  string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: http %d: %s", e.Endpoint, e.Status, e.Message)
}

// NotFound reports whether the remote said the resource does not exist.
func (e *RemoteError) NotFound() bool { return e.Status == http.StatusNotFound }

type apiError struct {
	Status int    `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func decodeError(endpoint string, resp *http.Response) *RemoteError {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	msg := strings.TrimSpace(string(b))
	var body struct {
		Errors []apiError `json:"errors"`
	}
	if json.Unmarshal(b, &body) == nil && len(body.Errors) > 0 {
		e := body.Errors[0]
		msg = e.Title
		if e.Detail != "" {
			msg += ": " + e.Detail
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &RemoteError{Endpoint: endpoint, Status: resp.StatusCode, Message: msg}
}

type envelope struct {
	Result string   `json:"result"`
	Data   resource `json:"data"`
}

type relationship struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

type resource struct {
	ID            uuid.UUID       `json:"id"`
	Type          string          `json:"type"`
	Attributes    json.RawMessage `json:"attributes"`
	Relationships []relationship  `json:"relationships"`
}

func (r resource) related(kind string) (relationship, bool) {
	for _, rel := range r.Relationships {
		if rel.Type == kind {
			return rel, true
		}
	}
	return relationship{}, false
}

func (r resource) expect(kind string) error {
	if r.Type != kind {
		return fmt.Errorf("unexpected resource type %q, want %q", r.Type, kind)
	}
	return nil
}

type titleAttrs struct {
	Title       map[string]string   `json:"title"`
	AltTitles   []map[string]string `json:"altTitles"`
	Description map[string]string   `json:"description"`
	Status      string              `json:"status"`
	Year        *int                `json:"year"`
}

func (r resource) title() (data.Title, error) {
	if err := r.expect("manga"); err != nil {
		return data.Title{}, err
	}
	var a titleAttrs
	if err := json.Unmarshal(r.Attributes, &a); err != nil {
		return data.Title{}, fmt.Errorf("decode title attributes: %w", err)
	}
	t := data.Title{
		ID:     r.ID,
		Titles: make(map[string]string, len(a.Title)+len(a.AltTitles)),
		Status: a.Status,
	}
	for _, alt := range a.AltTitles {
		for lang, s := range alt {
			if _, ok := t.Titles[lang]; !ok {
				t.Titles[lang] = s
			}
		}
	}
	for lang, s := range a.Title {
		t.Titles[lang] = s
	}
	if d, ok := a.Description["en"]; ok {
		t.Description = d
	}
	if a.Year != nil {
		t.Year = *a.Year
	}
	for _, rel := range r.Relationships {
		switch rel.Type {
		case "cover_art":
			t.CoverID = rel.ID
		case "author", "artist":
			var who struct {
				Name string `json:"name"`
			}
			if len(rel.Attributes) > 0 && json.Unmarshal(rel.Attributes, &who) == nil && who.Name != "" {
				t.Authors = appendUnique(t.Authors, who.Name)
			}
		}
	}
	return t, nil
}

type chapterAttrs struct {
	Volume   *string `json:"volume"`
	Chapter  *string `json:"chapter"`
	Title    *string `json:"title"`
	Language string  `json:"translatedLanguage"`
	Pages    int     `json:"pages"`
}

func (r resource) chapter() (data.Chapter, error) {
	if err := r.expect("chapter"); err != nil {
		return data.Chapter{}, err
	}
	var a chapterAttrs
	if err := json.Unmarshal(r.Attributes, &a); err != nil {
		return data.Chapter{}, fmt.Errorf("decode chapter attributes: %w", err)
	}
	ch := data.Chapter{
		ID:       r.ID,
		Volume:   deref(a.Volume),
		Number:   deref(a.Chapter),
		Name:     deref(a.Title),
		Language: a.Language,
	}
	if rel, ok := r.related("manga"); ok {
		ch.TitleID = rel.ID
	}
	return ch, nil
}

type coverAttrs struct {
	FileName string  `json:"fileName"`
	Volume   *string `json:"volume"`
	Locale   string  `json:"locale"`
}

func (r resource) cover() (data.Cover, error) {
	if err := r.expect("cover_art"); err != nil {
		return data.Cover{}, err
	}
	var a coverAttrs
	if err := json.Unmarshal(r.Attributes, &a); err != nil {
		return data.Cover{}, fmt.Errorf("decode cover attributes: %w", err)
	}
	if a.FileName == "" {
		return data.Cover{}, fmt.Errorf("cover %s has no file name", r.ID)
	}
	cv := data.Cover{ID: r.ID, FileName: a.FileName, Volume: deref(a.Volume), Locale: a.Locale}
	if rel, ok := r.related("manga"); ok {
		cv.TitleID = rel.ID
	}
	return cv, nil
}

// AtHome locates the image server for one chapter.
type AtHome struct {
	BaseURL string `json:"baseUrl"`
	Chapter struct {
		Hash      string   `json:"hash"`
		Data      []string `json:"data"`
		DataSaver []string `json:"dataSaver"`
	} `json:"chapter"`
}

// Files lists the page file names of the given quality.
func (a AtHome) Files(q downloadcfg.Quality) []string {
	if q == downloadcfg.QualityDataSaver {
		return a.Chapter.DataSaver
	}
	return a.Chapter.Data
}

// PageURL is the URL of one page file.
func (a AtHome) PageURL(q downloadcfg.Quality, file string) string {
	return strings.TrimRight(a.BaseURL, "/") + "/" + string(q) + "/" + a.Chapter.Hash + "/" + file
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func appendUnique(xs []string, s string) []string {
	for _, x := range xs {
		if x == s {
			return xs
		}
	}
	return append(xs, s)
}
