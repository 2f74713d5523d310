package nativeadapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/provhub/hub/pkg/entity"
	"github.com/provhub/hub/pkg/entitystore"
	"github.com/provhub/hub/pkg/provider"
	"github.com/provhub/hub/pkg/stitch"
)

// StockPriceSource is the provider name this adapter registers under.
const StockPriceSource = "stock_price"

// StockPriceAdapter is a native provider.Adapter fetching daily close/volume
// bars from a quote API. GetEntity/GetEntities are DB-first; GetAllEntities,
// SearchEntities without a range, and GetReport go to the upstream and upsert
// what it returns. Range queries are delegated to the stitch engine.
type StockPriceAdapter struct {
	Store      entitystore.Store
	Stitcher   *stitch.Engine
	HTTPClient *http.Client
	BaseURL    string
	Now        func() time.Time
}

// NewStockPriceAdapter wires an adapter against store/stitcher with a
// bounded-timeout HTTP client.
func NewStockPriceAdapter(store entitystore.Store, baseURL string) *StockPriceAdapter {
	return &StockPriceAdapter{
		Store:      store,
		Stitcher:   stitch.New(store),
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
		BaseURL:    baseURL,
		Now:        time.Now,
	}
}

func (a *StockPriceAdapter) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

type quoteBar struct {
	T int64   `json:"t"`
	V float64 `json:"v"`
}

// fetchQuoteRange issues one HTTP call against the upstream quote API for
// ticker over [fromUnix, toUnix), returning the row-array JSON the stitch
// engine expects.
func (a *StockPriceAdapter) fetchQuoteRange(ctx context.Context, ticker string, fromUnix, toUnix int64) (string, error) {
	u, err := url.Parse(a.BaseURL)
	if err != nil {
		return "", provider.NewFailure(provider.FailureUpstreamIO, "bad base url", err)
	}
	u.Path = "/v1/quotes"
	q := u.Query()
	q.Set("ticker", ticker)
	q.Set("from", fmt.Sprintf("%d", fromUnix))
	q.Set("to", fmt.Sprintf("%d", toUnix))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", provider.NewFailure(provider.FailureUpstreamIO, "build request", err)
	}

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return "", provider.NewFailure(provider.FailureUpstreamIO, "quote request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", provider.NewFailure(provider.FailureRateLimited, "upstream rate limited", nil)
	}
	if resp.StatusCode != http.StatusOK {
		return "", provider.NewFailure(provider.FailureUpstreamIO, fmt.Sprintf("upstream status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", provider.NewFailure(provider.FailureUpstreamIO, "read response", err)
	}

	var bars []quoteBar
	if err := json.Unmarshal(body, &bars); err != nil {
		return "", provider.NewFailure(provider.FailureDecode, "decode quote response", err)
	}

	rows := make([]stitch.Row, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, stitch.Row{"t": b.T, "v": b.V})
	}
	return stitch.SerializeRows(rows)
}

// fetchByIDs resolves a list of entity ids directly from upstream when
// they're absent from the store. Quote ids are range ids
// ("stock_price:TICKER:from..to"), but not every id the client asks for is
// range-shaped, so by-id upstream lookups go through a dedicated endpoint
// that accepts raw ids.
func (a *StockPriceAdapter) fetchByIDs(ctx context.Context, ids []string) ([]entity.Entity, error) {
	u, err := url.Parse(a.BaseURL)
	if err != nil {
		return nil, provider.NewFailure(provider.FailureUpstreamIO, "bad base url", err)
	}
	u.Path = "/v1/entities"

	payload, err := json.Marshal(struct {
		IDs []string `json:"ids"`
	}{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("nativeadapters: encode ids: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), httpBody(payload))
	if err != nil {
		return nil, provider.NewFailure(provider.FailureUpstreamIO, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, provider.NewFailure(provider.FailureUpstreamIO, "entities request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.NewFailure(provider.FailureUpstreamIO, fmt.Sprintf("upstream status %d", resp.StatusCode), nil)
	}

	var entities []entity.Entity
	if err := json.NewDecoder(resp.Body).Decode(&entities); err != nil {
		return nil, provider.NewFailure(provider.FailureDecode, "decode entities response", err)
	}

	now := a.now()
	for i := range entities {
		entities[i].Source = StockPriceSource
		entities[i].State = entity.StateReady
		entities[i].FetchedAt = now
		entities[i].RefreshAfter = now
		if err := entities[i].Touch(now); err != nil {
			return nil, fmt.Errorf("nativeadapters: touch %s: %w", entities[i].ID, err)
		}
	}
	return entities, nil
}

// FetchEntities services everything except a Subject+DateRange search.
func (a *StockPriceAdapter) FetchEntities(ctx context.Context, req provider.Request) ([]entity.Entity, error) {
	switch req.Kind {
	case provider.KindGetEntity:
		es, err := readThroughByIDs(ctx, a.Store, []string{req.ID}, a.fetchByIDs)
		if err != nil {
			return nil, err
		}
		if len(es) == 0 {
			return nil, provider.ErrNoData
		}
		return es, nil

	case provider.KindGetEntities:
		return readThroughByIDs(ctx, a.Store, req.IDs, a.fetchByIDs)

	case provider.KindGetAllEntities, provider.KindSearchEntities:
		if _, _, ok := provider.SubjectAndRange(req.Filters); ok {
			return nil, fmt.Errorf("nativeadapters: range search must go through Stitch")
		}
		return passThroughUpsert(ctx, a.Store, func(ctx context.Context) ([]entity.Entity, error) {
			return a.fetchByIDs(ctx, nil) // empty ids => "list all" upstream contract
		})

	case provider.KindGetReport:
		return a.fetchReport(ctx, req.URL)

	default:
		return nil, fmt.Errorf("nativeadapters: unsupported request kind %q", req.Kind)
	}
}

func (a *StockPriceAdapter) fetchReport(ctx context.Context, reportURL string) ([]entity.Entity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reportURL, nil)
	if err != nil {
		return nil, provider.NewFailure(provider.FailureUpstreamIO, "build report request", err)
	}

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, provider.NewFailure(provider.FailureUpstreamIO, "report request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.NewFailure(provider.FailureUpstreamIO, "read report body", err)
	}

	now := a.now()
	e := entity.Entity{
		ID:     StockPriceSource + ":report:" + reportURL,
		Source: StockPriceSource,
		Tags:   []string{"url=" + reportURL},
		Data:   string(body),
		State:  entity.StateReady,
	}
	e.FetchedAt = now
	e.RefreshAfter = now
	if err := e.Touch(now); err != nil {
		return nil, fmt.Errorf("nativeadapters: touch report entity: %w", err)
	}
	if err := a.Store.Upsert(ctx, e); err != nil {
		return nil, fmt.Errorf("nativeadapters: upsert report entity: %w", err)
	}
	return []entity.Entity{e}, nil
}

// Stitch services a range query by delegating to the shared stitch engine,
// with fetchQuoteRange supplying exactly the missing gaps.
func (a *StockPriceAdapter) Stitch(ctx context.Context, filters []provider.Filter) (entity.Entity, error) {
	ticker, dr, ok := provider.SubjectAndRange(filters)
	if !ok {
		return entity.Entity{}, provider.ErrStitchUnsupported
	}

	return a.Stitcher.Stitch(ctx, StockPriceSource, ticker, dr.From, dr.To,
		func(ctx context.Context, subject string, g stitch.Interval) (string, error) {
			return a.fetchQuoteRange(ctx, subject, g.From, g.To)
		})
}

var _ provider.Adapter = (*StockPriceAdapter)(nil)
