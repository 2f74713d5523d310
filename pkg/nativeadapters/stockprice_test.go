package nativeadapters_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/provhub/hub/pkg/entity"
	"github.com/provhub/hub/pkg/nativeadapters"
	"github.com/provhub/hub/pkg/provider"
)

func fixedNow() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

func TestStockPriceAdapter_FetchEntities_GetEntity_CacheMiss(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/entities", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]entity.Entity{
			{ID: "stock_price:AAPL:x", Source: "stock_price", Data: `[{"t":1,"v":2}]`, State: entity.StateReady},
		})
	}))
	defer srv.Close()

	store := newFakeStore()
	adapter := nativeadapters.NewStockPriceAdapter(store, srv.URL)
	adapter.Now = fixedNow

	got, err := adapter.FetchEntities(context.Background(), provider.Request{
		Kind: provider.KindGetEntity,
		ID:   "stock_price:AAPL:x",
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "stock_price:AAPL:x", got[0].ID)

	cached, err := store.Get(context.Background(), "stock_price:AAPL:x")
	require.NoError(t, err)
	assert.Equal(t, entity.StateReady, cached.State)
	assert.NotEmpty(t, cached.Etag)
}

func TestStockPriceAdapter_FetchEntities_GetEntity_CacheHit(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode([]entity.Entity{})
	}))
	defer srv.Close()

	store := newFakeStore()
	e := entity.Entity{ID: "stock_price:AAPL:x", Source: "stock_price", Data: `[{"t":1,"v":2}]`, State: entity.StateReady}
	require.NoError(t, e.Touch(fixedNow()))
	require.NoError(t, store.Upsert(context.Background(), e))

	adapter := nativeadapters.NewStockPriceAdapter(store, srv.URL)
	got, err := adapter.FetchEntities(context.Background(), provider.Request{Kind: provider.KindGetEntity, ID: "stock_price:AAPL:x"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 0, calls, "cache hit must not call upstream")
}

func TestStockPriceAdapter_Stitch_FetchesGapAndPersistsSuperSlice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/quotes", r.URL.Path)
		assert.Equal(t, "AAPL", r.URL.Query().Get("ticker"))
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"t": 1704067200, "v": 100.0},
			{"t": 1704153600, "v": 101.0},
		})
	}))
	defer srv.Close()

	store := newFakeStore()
	adapter := nativeadapters.NewStockPriceAdapter(store, srv.URL)
	adapter.Stitcher.Now = fixedNow

	got, err := adapter.Stitch(context.Background(), []provider.Filter{
		{Subject: "AAPL"},
		{DateRange: &provider.DateRange{From: "2024-01-01", To: "2024-01-03"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "stock_price:AAPL:2024-01-01..2024-01-03", got.ID)
	assert.Contains(t, got.Data, `"v":100`)

	stored, err := store.Get(context.Background(), got.ID)
	require.NoError(t, err)
	assert.Equal(t, got.Data, stored.Data)
}

func TestStockPriceAdapter_Stitch_UnsupportedWithoutSubjectAndRange(t *testing.T) {
	store := newFakeStore()
	adapter := nativeadapters.NewStockPriceAdapter(store, "http://unused.invalid")

	_, err := adapter.Stitch(context.Background(), []provider.Filter{{BySource: "stock_price"}})
	assert.ErrorIs(t, err, provider.ErrStitchUnsupported)
}
