package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/tinoosan/mdarchive/internal/data"
	"gocloud.dev/blob"
	_ "modernc.org/sqlite"
)

// SQLStore indexes documents in a relational database and keeps images in
// a bucket. It runs on SQLite (modernc.org/sqlite) and PostgreSQL (pgx).
type SQLStore struct {
	db       *sql.DB
	postgres bool
	images   *blob.Bucket
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    category TEXT NOT NULL,
    id TEXT NOT NULL,
    title_id TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (category, id)
)`

// OpenSQL connects to the database, creates the schema and takes ownership
// of images. driver is "sqlite" or "postgres".
func OpenSQL(ctx context.Context, driver, dsn string, images *blob.Bucket) (*SQLStore, error) {
	var (
		name     string
		postgres bool
	)
	switch driver {
	case "sqlite":
		name = "sqlite"
	case "postgres":
		name, postgres = "pgx", true
	default:
		return nil, fmt.Errorf("unknown sql driver %q", driver)
	}
	if dsn == "" {
		return nil, errors.New("sql store: empty dsn")
	}
	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}
	if !postgres {
		// An in-memory database exists per connection.
		db.SetMaxOpenConns(1)
		for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode=WAL"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
			}
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SQLStore{db: db, postgres: postgres, images: images}, nil
}

// rebind turns ? placeholders into $n for PostgreSQL.
func (s *SQLStore) rebind(q string) string {
	if !s.postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) Push(ctx context.Context, o data.Object) error {
	if o == nil {
		return errors.New("push: nil document")
	}
	var buf bytes.Buffer
	if err := data.ToJSON(&buf, o); err != nil {
		return fmt.Errorf("encode %s %s: %w", o.ObjectCategory(), o.ObjectID(), err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	titleID := ""
	if tid, ok := data.RelatedTitle(o); ok {
		var one int
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM documents WHERE category=? AND id=?`),
			string(data.CategoryTitle), tid.String()).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s %s needs title %s", data.ErrMissingRelation, o.ObjectCategory(), o.ObjectID(), tid)
		}
		if err != nil {
			return fmt.Errorf("check title %s: %w", tid, err)
		}
		titleID = tid.String()
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
INSERT INTO documents (category,id,title_id,body,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT (category,id) DO UPDATE SET title_id=excluded.title_id, body=excluded.body, updated_at=excluded.updated_at`),
		string(o.ObjectCategory()), o.ObjectID().String(), titleID, buf.String(), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert %s %s: %w", o.ObjectCategory(), o.ObjectID(), err)
	}
	return tx.Commit()
}

func (s *SQLStore) Pull(ctx context.Context, c data.Category, id uuid.UUID) (data.Object, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %q", data.ErrBadCategory, c)
	}
	var body string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT body FROM documents WHERE category=? AND id=?`),
		string(c), id.String()).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s %s", data.ErrNotFound, c, id)
	}
	if err != nil {
		return nil, fmt.Errorf("select %s %s: %w", c, id, err)
	}
	return data.Decode(c, []byte(body))
}

// Chapters lists the stored chapters of a title.
func (s *SQLStore) Chapters(ctx context.Context, titleID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT id FROM documents WHERE category=? AND title_id=? ORDER BY id`),
		string(data.CategoryChapter), titleID.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("stored chapter id %q: %w", raw, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *SQLStore) PutImage(ctx context.Context, b []byte) (string, error) {
	return putImage(ctx, s.images, b)
}

func (s *SQLStore) Image(ctx context.Context, digest string) ([]byte, error) {
	return readImage(ctx, s.images, digest)
}

func (s *SQLStore) Close() error {
	return errors.Join(s.db.Close(), s.images.Close())
}
