package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/google/uuid"
	"github.com/tinoosan/mdarchive/internal/data"
)

var (
	ErrAlreadyExists = errors.New("history entry already exists")
	ErrNotFound      = errors.New("history entry not found")
	ErrWrongCategory = errors.New("history entry category does not match log")
)

// Entry marks an operation in flight for one item of one category.
type Entry struct {
	ID       uuid.UUID     `json:"id"`
	Category data.Category `json:"category"`
}

func (e Entry) String() string { return string(e.Category) + "/" + e.ID.String() }

type fsOps interface {
	ReadFile(string) ([]byte, error)
	WriteFileAtomic(string, []byte) error
}

type osFS struct{}

func (osFS) ReadFile(p string) ([]byte, error) { return os.ReadFile(p) }

func (osFS) WriteFileAtomic(path string, b []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Log is the operation log of a single category: an ordered set of
// identifiers backed by one file. Mutations stay in memory until Commit.
//
// A Log is not safe for concurrent use; Service is its only writer.
type Log struct {
	category data.Category
	path     string
	fs       fsOps

	ids   []uuid.UUID
	index map[uuid.UUID]int
}

// OpenLog loads the committed state of category's log stored at path.
// A missing file is an empty log.
func OpenLog(path string, category data.Category) (*Log, error) {
	return openLog(path, category, osFS{})
}

func openLog(path string, category data.Category, fsys fsOps) (*Log, error) {
	l := &Log{category: category, path: path, fs: fsys}
	if err := l.Rollback(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) Category() data.Category { return l.category }

func (l *Log) check(e Entry) error {
	if e.Category != l.category {
		return fmt.Errorf("%w: %s in %s log", ErrWrongCategory, e, l.category)
	}
	return nil
}

// IsIn reports whether e is in the in-memory set.
func (l *Log) IsIn(e Entry) (bool, error) {
	if err := l.check(e); err != nil {
		return false, err
	}
	_, ok := l.index[e.ID]
	return ok, nil
}

func (l *Log) Insert(e Entry) error {
	if err := l.check(e); err != nil {
		return err
	}
	if _, ok := l.index[e.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, e)
	}
	l.index[e.ID] = len(l.ids)
	l.ids = append(l.ids, e.ID)
	return nil
}

func (l *Log) Remove(e Entry) error {
	_, err := l.remove(e)
	return err
}

// remove drops e and returns the position it held.
func (l *Log) remove(e Entry) (int, error) {
	if err := l.check(e); err != nil {
		return 0, err
	}
	pos, ok := l.index[e.ID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, e)
	}
	l.ids = append(l.ids[:pos], l.ids[pos+1:]...)
	delete(l.index, e.ID)
	l.reindex(pos)
	return pos, nil
}

// restore puts id back at pos, undoing a remove.
func (l *Log) restore(pos int, id uuid.UUID) {
	l.ids = slices.Insert(l.ids, pos, id)
	l.reindex(pos)
}

func (l *Log) reindex(from int) {
	for i := from; i < len(l.ids); i++ {
		l.index[l.ids[i]] = i
	}
}

// Commit replaces the file with the current in-memory set.
func (l *Log) Commit() error {
	ids := l.ids
	if ids == nil {
		ids = []uuid.UUID{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal %s log: %w", l.category, err)
	}
	if err := l.fs.WriteFileAtomic(l.path, b); err != nil {
		return fmt.Errorf("commit %s log: %w", l.category, err)
	}
	return nil
}

// Rollback discards uncommitted mutations by re-reading the file.
func (l *Log) Rollback() error {
	b, err := l.fs.ReadFile(l.path)
	var ids []uuid.UUID
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return fmt.Errorf("read %s log: %w", l.category, err)
	default:
		if len(b) > 0 {
			if err := json.Unmarshal(b, &ids); err != nil {
				return fmt.Errorf("decode %s log: %w", l.category, err)
			}
		}
	}
	index := make(map[uuid.UUID]int, len(ids))
	uniq := ids[:0]
	for _, id := range ids {
		if _, dup := index[id]; dup {
			continue
		}
		index[id] = len(uniq)
		uniq = append(uniq, id)
	}
	l.ids = uniq
	l.index = index
	return nil
}

// InsertAndCommit inserts e and commits. If the commit fails only the
// insert is undone; other uncommitted mutations are kept.
func (l *Log) InsertAndCommit(e Entry) error {
	return l.insertAndCommit(e, l.Commit)
}

// RemoveAndCommit is the removal counterpart of InsertAndCommit.
func (l *Log) RemoveAndCommit(e Entry) error {
	return l.removeAndCommit(e, l.Commit)
}

func (l *Log) insertAndCommit(e Entry, commit func() error) error {
	if err := l.Insert(e); err != nil {
		return err
	}
	if err := commit(); err != nil {
		_, _ = l.remove(e)
		return err
	}
	return nil
}

func (l *Log) removeAndCommit(e Entry, commit func() error) error {
	pos, err := l.remove(e)
	if err != nil {
		return err
	}
	if err := commit(); err != nil {
		l.restore(pos, e.ID)
		return err
	}
	return nil
}

// IDs returns a copy of the in-memory set in insertion order.
func (l *Log) IDs() []uuid.UUID {
	out := make([]uuid.UUID, len(l.ids))
	copy(out, l.ids)
	return out
}

func (l *Log) Len() int { return len(l.ids) }
