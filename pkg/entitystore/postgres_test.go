package entitystore_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provhub/hub/pkg/entity"
	"github.com/provhub/hub/pkg/entitystore"
)

func TestPostgresStoreGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := entitystore.NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("found", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{
			"id", "source", "tags_json", "data", "etag",
			"fetched_at", "refresh_after", "state", "last_error", "updated_at",
		}).AddRow("aapl:bars:1", "yahoo", `["subject=AAPL"]`, `[{"t":1}]`, "deadbeef", now, now, "ready", "", now)

		mock.ExpectQuery(regexp.QuoteMeta("SELECT id, source, tags_json, data, etag, fetched_at, refresh_after, state, last_error, updated_at\n\t\tFROM entities WHERE id = $1")).
			WithArgs("aapl:bars:1").
			WillReturnRows(rows)

		e, err := store.Get(ctx, "aapl:bars:1")
		require.NoError(t, err)
		assert.Equal(t, "yahoo", e.Source)
		assert.Equal(t, entity.StateReady, e.State)
		assert.Equal(t, []string{"subject=AAPL"}, e.Tags)
	})

	t.Run("not found", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id, source, tags_json, data, etag, fetched_at, refresh_after, state, last_error, updated_at\n\t\tFROM entities WHERE id = $1")).
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "source", "tags_json", "data", "etag",
				"fetched_at", "refresh_after", "state", "last_error", "updated_at",
			}))

		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, entitystore.ErrNotFound)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := entitystore.NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO entities")).
		WithArgs("aapl:bars:1", "yahoo", `["subject=AAPL"]`, `[{"t":1}]`, "deadbeef", now, now, entity.StateReady, "", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.Upsert(ctx, entity.Entity{
		ID: "aapl:bars:1", Source: "yahoo", Tags: []string{"subject=AAPL"},
		Data: `[{"t":1}]`, Etag: "deadbeef",
		FetchedAt: now, RefreshAfter: now, State: entity.StateReady, UpdatedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreListBySourceAndTagLike(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := entitystore.NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "source", "tags_json", "data", "etag",
		"fetched_at", "refresh_after", "state", "last_error", "updated_at",
	}).AddRow("a:1", "yahoo", `["subject=AAPL"]`, "{}", "e1", now, now, "ready", "", now).
		AddRow("a:2", "yahoo", `["subject=AAPL"]`, "{}", "e2", now, now, "ready", "", now)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, source, tags_json, data, etag, fetched_at, refresh_after, state, last_error, updated_at\n\t\tFROM entities WHERE source = $1 AND tags_json LIKE $2")).
		WithArgs("yahoo", "%subject=AAPL%").
		WillReturnRows(rows)

	got, err := store.ListBySourceAndTagLike(ctx, "yahoo", "subject=AAPL")
	require.NoError(t, err)
	assert.Len(t, got, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}
