package nativeadapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/provhub/hub/pkg/entity"
	"github.com/provhub/hub/pkg/entitystore"
	"github.com/provhub/hub/pkg/provider"
	"github.com/provhub/hub/pkg/stitch"
)

// FilingSource is the provider name this adapter registers under.
const FilingSource = "regulatory_filing"

// FilingAdapter is a native provider.Adapter over a regulatory-filing
// directory listing. GetReport resolves a filing directory URL down to the
// concrete artifact URL: a URL that already names a .zip or .json artifact
// is used as is; otherwise the conventional quarterly-archive URL under the
// directory is used when it answers, else the directory's index archive.
type FilingAdapter struct {
	Store      entitystore.Store
	Stitcher   *stitch.Engine
	HTTPClient *http.Client
	Now        func() time.Time
}

// NewFilingAdapter wires an adapter against store/stitcher.
func NewFilingAdapter(store entitystore.Store) *FilingAdapter {
	return &FilingAdapter{
		Store:      store,
		Stitcher:   stitch.New(store),
		HTTPClient: &http.Client{Timeout: 20 * time.Second},
		Now:        time.Now,
	}
}

func (a *FilingAdapter) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// resolveArtifactURL turns a filing directory URL into a concrete fetchable
// artifact URL. A URL ending in .zip or .json is returned unchanged without
// being fetched. Any other URL is treated as a directory: one HEAD request
// probes "<dir>/quarterly-xbrl.zip", which is returned on a 200, and
// "<dir>/index.zip" is returned otherwise. Not a retry loop.
func (a *FilingAdapter) resolveArtifactURL(ctx context.Context, directoryURL string) (string, error) {
	if strings.HasSuffix(directoryURL, ".zip") || strings.HasSuffix(directoryURL, ".json") {
		return directoryURL, nil
	}

	base := strings.TrimSuffix(directoryURL, "/")
	fallback := base + "/quarterly-xbrl.zip"

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, fallback, nil)
	if err != nil {
		return "", provider.NewFailure(provider.FailureUpstreamIO, "build HEAD request", err)
	}
	resp, err := a.HTTPClient.Do(req)
	if err == nil {
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode == http.StatusOK {
			return fallback, nil
		}
	}

	// Second fallback shape: directory index with a generic archive name.
	return base + "/index.zip", nil
}

func (a *FilingAdapter) fetchReport(ctx context.Context, directoryURL string) ([]entity.Entity, error) {
	artifactURL, err := a.resolveArtifactURL(ctx, directoryURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, nil)
	if err != nil {
		return nil, provider.NewFailure(provider.FailureUpstreamIO, "build report request", err)
	}
	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return nil, provider.NewFailure(provider.FailureUpstreamIO, "report request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, provider.NewFailure(provider.FailureUpstreamIO, fmt.Sprintf("upstream status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, provider.NewFailure(provider.FailureUpstreamIO, "read report body", err)
	}

	now := a.now()
	e := entity.Entity{
		ID:     FilingSource + ":report:" + directoryURL,
		Source: FilingSource,
		Tags:   []string{"url=" + directoryURL, "artifact_url=" + artifactURL},
		Data:   string(body),
		State:  entity.StateReady,
	}
	e.FetchedAt = now
	e.RefreshAfter = now
	if err := e.Touch(now); err != nil {
		return nil, fmt.Errorf("nativeadapters: touch filing entity: %w", err)
	}
	if err := a.Store.Upsert(ctx, e); err != nil {
		return nil, fmt.Errorf("nativeadapters: upsert filing entity: %w", err)
	}
	return []entity.Entity{e}, nil
}

// fetchByIDs resolves ids that embed their own directory URL (report ids
// are "source:report:<url>"); any other id has no upstream-resolvable
// shape and is simply skipped.
func (a *FilingAdapter) fetchByIDs(ctx context.Context, ids []string) ([]entity.Entity, error) {
	var out []entity.Entity
	for _, id := range ids {
		if strings.HasPrefix(id, FilingSource+":report:") {
			directoryURL := strings.TrimPrefix(id, FilingSource+":report:")
			fetched, err := a.fetchReport(ctx, directoryURL)
			if err != nil {
				return nil, err
			}
			out = append(out, fetched...)
		}
	}
	return out, nil
}

// FetchEntities services everything except a Subject+DateRange search.
func (a *FilingAdapter) FetchEntities(ctx context.Context, req provider.Request) ([]entity.Entity, error) {
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
			return nil, nil // no upstream "list all filings" endpoint; yields no entities, cached filings are not listed
		})

	case provider.KindGetReport:
		return a.fetchReport(ctx, req.URL)

	default:
		return nil, fmt.Errorf("nativeadapters: unsupported request kind %q", req.Kind)
	}
}

// Stitch declines: filings are discrete documents, not a continuous
// time-series, so there is nothing to gap-fill.
func (a *FilingAdapter) Stitch(ctx context.Context, filters []provider.Filter) (entity.Entity, error) {
	return entity.Entity{}, provider.ErrStitchUnsupported
}

var _ provider.Adapter = (*FilingAdapter)(nil)
