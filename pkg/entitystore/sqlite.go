package entitystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/provhub/hub/pkg/entity"
)

// sqliteSchema mirrors postgresSchema with SQLite-compatible column types:
// timestamps are stored as RFC3339 text, there is no native TIMESTAMPTZ.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entities (
	id            TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	tags_json     TEXT NOT NULL,
	data          TEXT NOT NULL,
	etag          TEXT NOT NULL,
	fetched_at    TEXT NOT NULL,
	refresh_after TEXT NOT NULL,
	state         TEXT NOT NULL,
	last_error    TEXT NOT NULL DEFAULT '',
	updated_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS entities_source_idx ON entities (source);
`

// SQLiteStore is the lite-mode Store used when no DATABASE_URL is
// configured: a single-file database suitable for local runs and tests,
// opened with the same read-through contract as PostgresStore.
type SQLiteStore struct {
	db *sql.DB
}

// OpenLite opens (creating if absent) the single-file SQLite database at
// dbPath and applies the schema.
func OpenLite(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, storageErr("mkdir data dir", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, storageErr("open sqlite", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return storageErr("init schema", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (entity.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, tags_json, data, etag, fetched_at, refresh_after, state, last_error, updated_at
		FROM entities WHERE id = ?`, id)

	e, err := scanEntityText(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Entity{}, ErrNotFound
	}
	if err != nil {
		return entity.Entity{}, storageErr("get", err)
	}
	return e, nil
}

func (s *SQLiteStore) ListBySourceAndTagLike(ctx context.Context, source, tagFragment string) ([]entity.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, tags_json, data, etag, fetched_at, refresh_after, state, last_error, updated_at
		FROM entities WHERE source = ? AND tags_json LIKE ?`,
		source, "%"+tagFragment+"%")
	if err != nil {
		return nil, storageErr("list_by_source_and_tag_like", err)
	}
	defer func() { _ = rows.Close() }()

	var out []entity.Entity
	for rows.Next() {
		e, err := scanEntityText(rows)
		if err != nil {
			return nil, storageErr("list_by_source_and_tag_like scan", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list_by_source_and_tag_like rows", err)
	}
	return out, nil
}

func (s *SQLiteStore) Upsert(ctx context.Context, e entity.Entity) error {
	tagsJSON, err := json.Marshal(e.Tags)
	if err != nil {
		return storageErr("upsert marshal tags", err)
	}

	const query = `
		INSERT INTO entities (id, source, tags_json, data, etag, fetched_at, refresh_after, state, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			source = excluded.source, tags_json = excluded.tags_json, data = excluded.data,
			etag = excluded.etag, fetched_at = excluded.fetched_at, refresh_after = excluded.refresh_after,
			state = excluded.state, last_error = excluded.last_error, updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.Source, string(tagsJSON), e.Data, e.Etag,
		e.FetchedAt.UTC().Format(time.RFC3339Nano), e.RefreshAfter.UTC().Format(time.RFC3339Nano),
		e.State, e.LastError, e.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return storageErr("upsert", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM entities WHERE id = ?", id)
	if err != nil {
		return storageErr("delete", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanEntityText(row rowScanner) (entity.Entity, error) {
	var e entity.Entity
	var tagsJSON, state, fetchedAt, refreshAfter, updatedAt string

	if err := row.Scan(&e.ID, &e.Source, &tagsJSON, &e.Data, &e.Etag,
		&fetchedAt, &refreshAfter, &state, &e.LastError, &updatedAt); err != nil {
		return entity.Entity{}, err
	}
	e.State = entity.State(state)

	var err error
	if e.FetchedAt, err = time.Parse(time.RFC3339Nano, fetchedAt); err != nil {
		return entity.Entity{}, fmt.Errorf("entitystore: decode fetched_at: %w", err)
	}
	if e.RefreshAfter, err = time.Parse(time.RFC3339Nano, refreshAfter); err != nil {
		return entity.Entity{}, fmt.Errorf("entitystore: decode refresh_after: %w", err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return entity.Entity{}, fmt.Errorf("entitystore: decode updated_at: %w", err)
	}

	if strings.TrimSpace(tagsJSON) != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &e.Tags); err != nil {
			return entity.Entity{}, fmt.Errorf("entitystore: decode tags: %w", err)
		}
	}
	return e, nil
}
