package stitch_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provhub/hub/pkg/entity"
	"github.com/provhub/hub/pkg/entitystore"
	"github.com/provhub/hub/pkg/stitch"
)

// memStore is a minimal in-memory entitystore.Store for exercising the
// stitch engine without a real database.
type memStore struct {
	mu   sync.Mutex
	rows map[string]entity.Entity
}

func newMemStore() *memStore { return &memStore{rows: make(map[string]entity.Entity)} }

func (m *memStore) Get(ctx context.Context, id string) (entity.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.rows[id]
	if !ok {
		return entity.Entity{}, entitystore.ErrNotFound
	}
	return e, nil
}

func (m *memStore) ListBySourceAndTagLike(ctx context.Context, source, tagFragment string) ([]entity.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entity.Entity
	for _, e := range m.rows {
		if e.Source != source {
			continue
		}
		for _, tag := range e.Tags {
			if strings.Contains(tag, tagFragment) {
				out = append(out, e)
				break
			}
		}
	}
	return out, nil
}

func (m *memStore) Upsert(ctx context.Context, e entity.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[e.ID] = e
	return nil
}

func (m *memStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestStitchCacheHitDoesNotCallUpstream(t *testing.T) {
	store := newMemStore()
	seeded := entity.Entity{
		ID:     "alpha:X:2024-01-01T00:00:00Z..2024-02-01T00:00:00Z",
		Source: "alpha",
		Tags:   entity.RangeTags("X", "2024-01-01T00:00:00Z", "2024-02-01T00:00:00Z"),
		Data:   `[{"t":1704067200,"v":1}]`,
		State:  entity.StateReady,
	}
	require.NoError(t, seeded.Touch(time.Now()))
	require.NoError(t, store.Upsert(context.Background(), seeded))

	engine := stitch.New(store)
	engine.Now = fixedClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	upstreamCalls := 0
	got, err := engine.Stitch(context.Background(), "alpha", "X", "2024-01-01T00:00:00Z", "2024-02-01T00:00:00Z",
		func(ctx context.Context, subject string, g stitch.Interval) (string, error) {
			upstreamCalls++
			return "[]", nil
		})

	require.NoError(t, err)
	assert.Equal(t, 0, upstreamCalls)
	assert.Equal(t, `[{"t":1704067200,"v":1}]`, got.Data)
}

func TestStitchFillsOnlyTheGap(t *testing.T) {
	store := newMemStore()
	seeded := entity.Entity{
		ID:     "alpha:X:2024-01-01..2024-01-15",
		Source: "alpha",
		Tags:   entity.RangeTags("X", "2024-01-01", "2024-01-15"),
		Data:   `[{"t":1704067200,"v":1}]`,
		State:  entity.StateReady,
	}
	require.NoError(t, seeded.Touch(time.Now()))
	require.NoError(t, store.Upsert(context.Background(), seeded))

	engine := stitch.New(store)
	engine.Now = fixedClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	upstreamCalls := 0
	got, err := engine.Stitch(context.Background(), "alpha", "X", "2024-01-01", "2024-02-01",
		func(ctx context.Context, subject string, g stitch.Interval) (string, error) {
			upstreamCalls++
			return `[{"t":1705276800,"v":2}]`, nil
		})

	require.NoError(t, err)
	assert.Equal(t, 1, upstreamCalls)
	assert.Equal(t, "alpha:X:2024-01-01..2024-02-01", got.ID)

	rows, err := stitch.ParseRows(got.Data)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.EqualValues(t, 1704067200, rows[0]["t"])
	assert.EqualValues(t, 1705276800, rows[1]["t"])
}

func TestStitchDedupesCachedOverUpstreamOnKeyCollision(t *testing.T) {
	store := newMemStore()
	seeded := entity.Entity{
		ID:     "alpha:X:2024-01-01..2024-01-15",
		Source: "alpha",
		Tags:   entity.RangeTags("X", "2024-01-01", "2024-01-15"),
		Data:   `[{"t":1704067200,"v":"cached"}]`,
		State:  entity.StateReady,
	}
	require.NoError(t, seeded.Touch(time.Now()))
	require.NoError(t, store.Upsert(context.Background(), seeded))

	engine := stitch.New(store)
	engine.Now = fixedClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	got, err := engine.Stitch(context.Background(), "alpha", "X", "2024-01-01", "2024-02-01",
		func(ctx context.Context, subject string, g stitch.Interval) (string, error) {
			return `[{"t":1704067200,"v":"fetched"},{"t":1705276800,"v":"fetched"}]`, nil
		})
	require.NoError(t, err)

	rows, err := stitch.ParseRows(got.Data)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "cached", rows[0]["v"])
}

func TestStitchIsIdempotent(t *testing.T) {
	store := newMemStore()
	engine := stitch.New(store)
	engine.Now = fixedClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	fetch := func(ctx context.Context, subject string, g stitch.Interval) (string, error) {
		return `[{"t":1704067200,"v":1}]`, nil
	}

	first, err := engine.Stitch(context.Background(), "alpha", "X", "2024-01-01", "2024-02-01", fetch)
	require.NoError(t, err)

	second, err := engine.Stitch(context.Background(), "alpha", "X", "2024-01-01", "2024-02-01", fetch)
	require.NoError(t, err)

	assert.Equal(t, first.Etag, second.Etag)
}

func TestStitchAlignsSchemaAcrossHeterogeneousFrames(t *testing.T) {
	store := newMemStore()
	seeded := entity.Entity{
		ID:     "alpha:X:2024-01-01..2024-01-15",
		Source: "alpha",
		Tags:   entity.RangeTags("X", "2024-01-01", "2024-01-15"),
		Data:   `[{"t":1704067200,"v":1}]`,
		State:  entity.StateReady,
	}
	require.NoError(t, seeded.Touch(time.Now()))
	require.NoError(t, store.Upsert(context.Background(), seeded))

	engine := stitch.New(store)
	engine.Now = fixedClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	got, err := engine.Stitch(context.Background(), "alpha", "X", "2024-01-01", "2024-02-01",
		func(ctx context.Context, subject string, g stitch.Interval) (string, error) {
			return `[{"t":1705276800,"v":2,"adjusted":true}]`, nil
		})
	require.NoError(t, err)

	rows, err := stitch.ParseRows(got.Data)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	for _, row := range rows {
		_, hasT := row["t"]
		_, hasV := row["v"]
		_, hasAdjusted := row["adjusted"]
		assert.True(t, hasT)
		assert.True(t, hasV)
		assert.True(t, hasAdjusted)
	}
	assert.Nil(t, rows[0]["adjusted"])
	assert.Equal(t, true, rows[1]["adjusted"])
}

func TestStitchPropagatesGapFetchFailure(t *testing.T) {
	store := newMemStore()
	engine := stitch.New(store)

	wantErr := errors.New("upstream unavailable")
	_, err := engine.Stitch(context.Background(), "alpha", "X", "2024-01-01", "2024-02-01",
		func(ctx context.Context, subject string, g stitch.Interval) (string, error) {
			return "", wantErr
		})

	assert.ErrorIs(t, err, wantErr)
}
