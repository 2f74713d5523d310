package entitystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/provhub/hub/pkg/entity"
)

// postgresSchema is applied once at startup; Upsert/Get/Delete assume it is
// already in place.
const postgresSchema = `
CREATE TABLE IF NOT EXISTS entities (
	id            TEXT PRIMARY KEY,
	source        TEXT NOT NULL,
	tags_json     TEXT NOT NULL,
	data          TEXT NOT NULL,
	etag          TEXT NOT NULL,
	fetched_at    TIMESTAMPTZ NOT NULL,
	refresh_after TIMESTAMPTZ NOT NULL,
	state         TEXT NOT NULL,
	last_error    TEXT NOT NULL DEFAULT '',
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS entities_source_idx ON entities (source);
`

// PostgresStore is the durable Store backed by a *sql.DB. Tags are persisted
// as a JSON array in a text column; ListBySourceAndTagLike filters on it with
// a LIKE, trading an index for simplicity since tag sets are small.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-open connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open connects to dsn, verifies the connection, and wraps the pool.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, storageErr("open", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, storageErr("ping", err)
	}
	return NewPostgresStore(db), nil
}

// Init creates the entities table if it does not already exist.
func (s *PostgresStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return storageErr("init schema", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (entity.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, tags_json, data, etag, fetched_at, refresh_after, state, last_error, updated_at
		FROM entities WHERE id = $1`, id)

	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return entity.Entity{}, ErrNotFound
	}
	if err != nil {
		return entity.Entity{}, storageErr("get", err)
	}
	return e, nil
}

func (s *PostgresStore) ListBySourceAndTagLike(ctx context.Context, source, tagFragment string) ([]entity.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, tags_json, data, etag, fetched_at, refresh_after, state, last_error, updated_at
		FROM entities WHERE source = $1 AND tags_json LIKE $2`,
		source, "%"+tagFragment+"%")
	if err != nil {
		return nil, storageErr("list_by_source_and_tag_like", err)
	}
	defer func() { _ = rows.Close() }()

	var out []entity.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
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

func (s *PostgresStore) Upsert(ctx context.Context, e entity.Entity) error {
	tagsJSON, err := json.Marshal(e.Tags)
	if err != nil {
		return storageErr("upsert marshal tags", err)
	}

	const query = `
		INSERT INTO entities (id, source, tags_json, data, etag, fetched_at, refresh_after, state, last_error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			source = $2, tags_json = $3, data = $4, etag = $5,
			fetched_at = $6, refresh_after = $7, state = $8, last_error = $9, updated_at = $10
	`
	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.Source, string(tagsJSON), e.Data, e.Etag,
		e.FetchedAt, e.RefreshAfter, e.State, e.LastError, e.UpdatedAt)
	if err != nil {
		return storageErr("upsert", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM entities WHERE id = $1", id)
	if err != nil {
		return storageErr("delete", err)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (entity.Entity, error) {
	var e entity.Entity
	var tagsJSON string
	var state string

	if err := row.Scan(&e.ID, &e.Source, &tagsJSON, &e.Data, &e.Etag,
		&e.FetchedAt, &e.RefreshAfter, &state, &e.LastError, &e.UpdatedAt); err != nil {
		return entity.Entity{}, err
	}
	e.State = entity.State(state)

	if strings.TrimSpace(tagsJSON) != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &e.Tags); err != nil {
			return entity.Entity{}, fmt.Errorf("entitystore: decode tags: %w", err)
		}
	}
	return e, nil
}
