package stitch

import (
	"context"
	"fmt"
	"time"

	"github.com/provhub/hub/pkg/entity"
	"github.com/provhub/hub/pkg/entitystore"
	"github.com/provhub/hub/pkg/provider"
)

// TimeKey is the designated time column every row frame is sorted and
// deduplicated on.
const TimeKey = "t"

// GapFetcher performs exactly one upstream fetch restricted to subject and
// the given sub-range, returning the resulting slice as a row-array JSON
// string (step 5, "fetch gaps"). Adapters supply this; the engine has no
// upstream knowledge of its own.
type GapFetcher func(ctx context.Context, subject string, g Interval) (data string, err error)

// Engine runs the DB-first range-stitch algorithm against a shared entity
// store. It holds no per-call state, so one Engine may be shared by several
// adapters.
type Engine struct {
	Store entitystore.Store

	// Now is the clock used to stamp fetched/updated slices. Defaults to
	// time.Now; overridable in tests.
	Now func() time.Time
}

// New constructs an Engine backed by store.
func New(store entitystore.Store) *Engine {
	return &Engine{Store: store, Now: time.Now}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Stitch runs the range-stitch algorithm end to end: collect candidates,
// compute coverage and gaps, fetch only the gaps, merge everything into one
// canonical frame, and persist + return the super-slice covering [from, to).
func (e *Engine) Stitch(ctx context.Context, source, subject, from, to string, fetch GapFetcher) (entity.Entity, error) {
	f, err := ParseTimestamp(from)
	if err != nil {
		return entity.Entity{}, fmt.Errorf("stitch: from: %w", err)
	}
	t, err := ParseTimestamp(to)
	if err != nil {
		return entity.Entity{}, fmt.Errorf("stitch: to: %w", err)
	}
	if t <= f {
		return entity.Entity{}, fmt.Errorf("stitch: empty or inverted range [%s, %s)", from, to)
	}

	// Step 1: collect candidates.
	candidates, err := e.Store.ListBySourceAndTagLike(ctx, source, "subject="+subject)
	if err != nil {
		return entity.Entity{}, fmt.Errorf("stitch: list candidates: %w", err)
	}

	// Step 2: compute coverage (clip each candidate to [f, t) and load its frame).
	var covered []Interval
	var cachedFrames [][]Row
	for _, cand := range candidates {
		fromC, ok1 := entity.Tag(cand.Tags, "from")
		toC, ok2 := entity.Tag(cand.Tags, "to")
		if !ok1 || !ok2 {
			continue
		}
		candFrom, err := ParseTimestamp(fromC)
		if err != nil {
			continue
		}
		candTo, err := ParseTimestamp(toC)
		if err != nil {
			continue
		}

		clipFrom, clipTo := max64(candFrom, f), min64(candTo, t)
		if clipTo <= clipFrom {
			continue
		}

		rows, err := ParseRows(cand.Data)
		if err != nil {
			return entity.Entity{}, fmt.Errorf("stitch: parse candidate %s: %w", cand.ID, err)
		}
		covered = append(covered, Interval{From: clipFrom, To: clipTo})
		cachedFrames = append(cachedFrames, rows)
	}

	// Step 3: merge coverage into canonical H*.
	coverage := mergeIntervals(covered)

	// Step 4: compute gaps G = [F, T) \ H*.
	missing := gaps(coverage, f, t)

	// Step 5: fetch each gap and upsert it as an independent slice.
	var gapFrames [][]Row
	for _, g := range missing {
		data, err := fetch(ctx, subject, g)
		if err != nil {
			return entity.Entity{}, err
		}

		rows, err := ParseRows(data)
		if err != nil {
			return entity.Entity{}, fmt.Errorf("stitch: parse gap fetch [%d,%d): %w", g.From, g.To, err)
		}

		gapFrom, gapTo := FormatTimestamp(g.From), FormatTimestamp(g.To)
		gapEntity := entity.Entity{
			ID:     entity.RangeID(source, subject, gapFrom, gapTo),
			Source: source,
			Tags:   entity.RangeTags(subject, gapFrom, gapTo),
			Data:   data,
			State:  entity.StateReady,
		}
		now := e.now()
		gapEntity.FetchedAt = now
		gapEntity.RefreshAfter = now
		if err := gapEntity.Touch(now); err != nil {
			return entity.Entity{}, fmt.Errorf("stitch: touch gap entity: %w", err)
		}
		if err := e.Store.Upsert(ctx, gapEntity); err != nil {
			return entity.Entity{}, fmt.Errorf("stitch: upsert gap entity: %w", err)
		}

		gapFrames = append(gapFrames, rows)
	}

	if len(cachedFrames) == 0 && len(gapFrames) == 0 {
		return entity.Entity{}, provider.ErrNoData
	}

	// Step 6: merge frames. Cached frames are appended first so they shadow
	// newly-fetched rows on an exact time-key collision.
	all := make([][]Row, 0, len(cachedFrames)+len(gapFrames))
	all = append(all, cachedFrames...)
	all = append(all, gapFrames...)
	merged := mergeFrames(all, TimeKey, f, t)

	mergedData, err := SerializeRows(merged)
	if err != nil {
		return entity.Entity{}, err
	}

	// Step 7: persist the super-slice, keyed on the caller's original
	// from/to strings for cache-key stability.
	super := entity.Entity{
		ID:     entity.RangeID(source, subject, from, to),
		Source: source,
		Tags:   entity.RangeTags(subject, from, to),
		Data:   mergedData,
		State:  entity.StateReady,
	}
	now := e.now()
	super.FetchedAt = now
	super.RefreshAfter = now
	if err := super.Touch(now); err != nil {
		return entity.Entity{}, fmt.Errorf("stitch: touch super-slice: %w", err)
	}
	if err := e.Store.Upsert(ctx, super); err != nil {
		return entity.Entity{}, fmt.Errorf("stitch: upsert super-slice: %w", err)
	}

	return super, nil
}
