// Package sqlstore persists remote-tier documents in a SQL table via squirrel.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"ArticlesPipeline/internal/domain"
	"ArticlesPipeline/internal/infrastructure/storage/document"
	"ArticlesPipeline/internal/ports"
)

const (
	table      = "documents"
	driverName = "sqlite"
)

var (
	_ ports.DocumentStore = (*Store)(nil)

	fieldPathExpr = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)*$`)
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    body TEXT NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (collection, id)
);`

// Store keeps one row per document.
type Store struct {
	db  *sql.DB
	qb  sq.StatementBuilderType
	now func() time.Time
}

// Open opens the sqlite database at path and ensures the schema exists.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sql store path is required")
	}
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	store, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing handle and ensures the schema exists.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("sql db is required")
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("ensure documents table: %w", err)
	}
	return &Store{
		db:  db,
		qb:  sq.StatementBuilder.PlaceholderFormat(sq.Question),
		now: time.Now,
	}, nil
}

// Close closes the handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the stored body.
func (s *Store) Get(ctx context.Context, collection, id string) ([]byte, error) {
	return s.get(ctx, s.db, collection, id)
}

func (s *Store) get(ctx context.Context, runner sq.BaseRunner, collection, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var body string
	err := s.qb.Select("body").
		From(table).
		Where(sq.Eq{"collection": collection, "id": id}).
		RunWith(runner).
		QueryRowContext(ctx).
		Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("select %s/%s: %w", collection, id, err)
	}
	return []byte(body), nil
}

// Set upserts the document.
func (s *Store) Set(ctx context.Context, collection, id string, doc []byte) error {
	return s.set(ctx, s.db, collection, id, doc)
}

func (s *Store) set(ctx context.Context, runner sq.BaseRunner, collection, id string, doc []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !document.Valid(doc) {
		return fmt.Errorf("set %s/%s: invalid json", collection, id)
	}
	_, err := s.qb.Insert(table).
		Columns("collection", "id", "body", "updated_at").
		Values(collection, id, string(doc), s.now().UTC().UnixMilli()).
		Suffix("ON CONFLICT(collection, id) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at").
		RunWith(runner).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("upsert %s/%s: %w", collection, id, err)
	}
	return nil
}

// Update patches field paths inside one transaction.
func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update %s/%s: %w", collection, id, err)
	}
	defer func() { _ = tx.Rollback() }()

	doc, err := s.get(ctx, tx, collection, id)
	if err != nil {
		return err
	}
	patched, err := document.Patch(doc, fields)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if err := s.set(ctx, tx, collection, id, patched); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update %s/%s: %w", collection, id, err)
	}
	return nil
}

// Delete removes the row if present.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.qb.Delete(table).
		Where(sq.Eq{"collection": collection, "id": id}).
		RunWith(s.db).
		ExecContext(ctx)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// Query filters with json_extract so matching happens inside the database.
func (s *Store) Query(ctx context.Context, collection string, filters ...ports.Filter) ([][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	query := s.qb.Select("body").
		From(table).
		Where(sq.Eq{"collection": collection}).
		OrderBy("id")
	for _, f := range filters {
		if !fieldPathExpr.MatchString(f.Path) {
			return nil, fmt.Errorf("query %s: invalid field path %q", collection, f.Path)
		}
		query = query.Where(sq.Expr("json_extract(body, ?) = ?", "$."+f.Path, sqlValue(f.Value)))
	}

	rows, err := query.RunWith(s.db).QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		out = append(out, []byte(body))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows %s: %w", collection, err)
	}
	return out, nil
}

func sqlValue(value any) any {
	switch v := value.(type) {
	case fmt.Stringer:
		return v.String()
	case bool:
		if v {
			return 1
		}
		return 0
	default:
		return v
	}
}
