// Package sqlite is a table-backed store: one row per item in an embedded
// SQLite database, upserted by primary key.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/typesarecool/myhn/pkg/item"
	"github.com/typesarecool/myhn/pkg/store"
)

// Backend is the metrics and configuration name of this store.
const Backend = "sqlite"

const schema = `
CREATE TABLE IF NOT EXISTS items (
	id          INTEGER PRIMARY KEY,
	kind        TEXT,
	deleted     INTEGER,
	dead        INTEGER,
	author      TEXT,
	created_at  INTEGER,
	text        TEXT,
	title       TEXT,
	url         TEXT,
	score       INTEGER,
	descendants INTEGER,
	parent      INTEGER,
	poll        INTEGER,
	kids        TEXT,
	parts       TEXT,
	fetched_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_items_parent ON items(parent);
`

const upsertSQL = `
INSERT INTO items (id, kind, deleted, dead, author, created_at, text, title, url,
	score, descendants, parent, poll, kids, parts, fetched_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	kind = excluded.kind,
	deleted = excluded.deleted,
	dead = excluded.dead,
	author = excluded.author,
	created_at = excluded.created_at,
	text = excluded.text,
	title = excluded.title,
	url = excluded.url,
	score = excluded.score,
	descendants = excluded.descendants,
	parent = excluded.parent,
	poll = excluded.poll,
	kids = excluded.kids,
	parts = excluded.parts,
	fetched_at = excluded.fetched_at`

const selectColumns = `id, kind, deleted, dead, author, created_at, text, title, url,
	score, descendants, parent, poll, kids, parts`

// Store is an SQLite item table.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(ctx context.Context, path string, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite store: path is required")
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open %s: %w", path, err)
	}
	// One connection serializes writers; SQLite allows a single writer anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: init schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("Opened SQLite store")
	return &Store{db: db, logger: logger}, nil
}

// Upsert inserts it or replaces the row with the same id.
func (s *Store) Upsert(ctx context.Context, it item.Item) error {
	kids, err := encodeIDs(it.Children)
	if err != nil {
		return err
	}
	parts, err := encodeIDs(it.Parts)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, upsertSQL,
		it.ID, nullKind(it.Kind), it.Deleted, it.Dead, it.Author, it.CreatedAt,
		it.Text, it.Title, it.URL, it.Score, it.DescendantCount, it.Parent, it.Poll,
		kids, parts, time.Now().UnixNano())
	store.ObserveUpsert(Backend, err)
	if err != nil {
		return fmt.Errorf("sqlite upsert %d: %w", it.ID, err)
	}
	return nil
}

// Get returns the item stored under id.
func (s *Store) Get(ctx context.Context, id int64) (item.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM items WHERE id = ?`, id)
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return item.Item{}, store.ErrNotFound
	}
	if err != nil {
		return item.Item{}, fmt.Errorf("sqlite get %d: %w", id, err)
	}
	return it, nil
}

// QueryRange returns items with minID <= id <= maxID in ascending id order.
func (s *Store) QueryRange(ctx context.Context, minID, maxID int64) ([]item.Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM items WHERE id BETWEEN ? AND ? ORDER BY id`, minID, maxID)
	if err != nil {
		return nil, fmt.Errorf("sqlite query range: %w", err)
	}
	defer rows.Close()

	var items []item.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite query range: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// LastID returns the highest stored id, or 0.
func (s *Store) LastID(ctx context.Context) (int64, error) {
	var last int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM items`).Scan(&last); err != nil {
		return 0, fmt.Errorf("sqlite last id: %w", err)
	}
	return last, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (item.Item, error) {
	var (
		it          item.Item
		kind        sql.NullString
		kids, parts sql.NullString
	)
	err := row.Scan(&it.ID, &kind, &it.Deleted, &it.Dead, &it.Author, &it.CreatedAt,
		&it.Text, &it.Title, &it.URL, &it.Score, &it.DescendantCount, &it.Parent, &it.Poll,
		&kids, &parts)
	if err != nil {
		return item.Item{}, err
	}

	if kind.Valid {
		it.Kind = item.Kind(kind.String)
	}
	if it.Children, err = decodeIDs(kids); err != nil {
		return item.Item{}, err
	}
	if it.Parts, err = decodeIDs(parts); err != nil {
		return item.Item{}, err
	}
	return it, nil
}

func nullKind(k item.Kind) sql.NullString {
	return sql.NullString{String: string(k), Valid: k != ""}
}

// encodeIDs stores id lists as JSON text; an empty list is NULL.
func encodeIDs(ids []int64) (sql.NullString, error) {
	if len(ids) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeIDs(s sql.NullString) ([]int64, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(s.String), &ids); err != nil {
		return nil, fmt.Errorf("decode id list %q: %w", s.String, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}
