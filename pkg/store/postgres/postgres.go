// Package postgres is a table-backed store: one row per item in PostgreSQL,
// upserted by primary key.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/typesarecool/myhn/pkg/item"
	"github.com/typesarecool/myhn/pkg/store"
)

// Backend is the metrics and configuration name of this store.
const Backend = "postgres"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS items (
		id          BIGINT PRIMARY KEY,
		kind        TEXT,
		deleted     BOOLEAN,
		dead        BOOLEAN,
		author      TEXT,
		created_at  BIGINT,
		text        TEXT,
		title       TEXT,
		url         TEXT,
		score       BIGINT,
		descendants BIGINT,
		parent      BIGINT,
		poll        BIGINT,
		kids        BIGINT[],
		parts       BIGINT[],
		fetched_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_items_parent ON items(parent)`,
}

const upsertSQL = `
INSERT INTO items (id, kind, deleted, dead, author, created_at, text, title, url,
	score, descendants, parent, poll, kids, parts, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now())
ON CONFLICT (id) DO UPDATE SET
	kind = EXCLUDED.kind,
	deleted = EXCLUDED.deleted,
	dead = EXCLUDED.dead,
	author = EXCLUDED.author,
	created_at = EXCLUDED.created_at,
	text = EXCLUDED.text,
	title = EXCLUDED.title,
	url = EXCLUDED.url,
	score = EXCLUDED.score,
	descendants = EXCLUDED.descendants,
	parent = EXCLUDED.parent,
	poll = EXCLUDED.poll,
	kids = EXCLUDED.kids,
	parts = EXCLUDED.parts,
	fetched_at = EXCLUDED.fetched_at`

const selectColumns = `id, kind, deleted, dead, author, created_at, text, title, url,
	score, descendants, parent, poll, kids, parts`

// Store is a PostgreSQL item table.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn and ensures the schema.
func Open(ctx context.Context, dsn string, logger zerolog.Logger) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres store: dsn is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	for _, q := range schema {
		if _, err := pool.Exec(ctx, q); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres store: init schema: %w", err)
		}
	}

	logger.Info().Msg("Opened PostgreSQL store")
	return &Store{pool: pool, logger: logger}, nil
}

// Upsert inserts it or replaces the row with the same id.
func (s *Store) Upsert(ctx context.Context, it item.Item) error {
	_, err := s.pool.Exec(ctx, upsertSQL,
		it.ID, kindPtr(it.Kind), it.Deleted, it.Dead, it.Author, it.CreatedAt,
		it.Text, it.Title, it.URL, it.Score, it.DescendantCount, it.Parent, it.Poll,
		nilIfEmpty(it.Children), nilIfEmpty(it.Parts))
	store.ObserveUpsert(Backend, err)
	if err != nil {
		return fmt.Errorf("postgres upsert %d: %w", it.ID, err)
	}
	return nil
}

// Get returns the item stored under id.
func (s *Store) Get(ctx context.Context, id int64) (item.Item, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM items WHERE id = $1`, id)
	it, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return item.Item{}, store.ErrNotFound
	}
	if err != nil {
		return item.Item{}, fmt.Errorf("postgres get %d: %w", id, err)
	}
	return it, nil
}

// QueryRange returns items with minID <= id <= maxID in ascending id order.
func (s *Store) QueryRange(ctx context.Context, minID, maxID int64) ([]item.Item, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+selectColumns+` FROM items WHERE id BETWEEN $1 AND $2 ORDER BY id`, minID, maxID)
	if err != nil {
		return nil, fmt.Errorf("postgres query range: %w", err)
	}
	defer rows.Close()

	var items []item.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres query range: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// LastID returns the highest stored id, or 0.
func (s *Store) LastID(ctx context.Context) (int64, error) {
	var last int64
	if err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM items`).Scan(&last); err != nil {
		return 0, fmt.Errorf("postgres last id: %w", err)
	}
	return last, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func scanItem(row pgx.Row) (item.Item, error) {
	var (
		it   item.Item
		kind *string
	)
	err := row.Scan(&it.ID, &kind, &it.Deleted, &it.Dead, &it.Author, &it.CreatedAt,
		&it.Text, &it.Title, &it.URL, &it.Score, &it.DescendantCount, &it.Parent, &it.Poll,
		&it.Children, &it.Parts)
	if err != nil {
		return item.Item{}, err
	}
	if kind != nil {
		it.Kind = item.Kind(*kind)
	}
	it.Children = nilIfEmpty(it.Children)
	it.Parts = nilIfEmpty(it.Parts)
	return it, nil
}

func kindPtr(k item.Kind) *string {
	if k == "" {
		return nil
	}
	s := string(k)
	return &s
}

// nilIfEmpty maps empty id lists to NULL and back.
func nilIfEmpty(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	return ids
}
