// Package nativeadapters holds the hub's built-in provider.Adapter
// implementations: adapters that talk to an upstream directly (HTTP, in
// these examples) rather than bridging to hosted code. Both adapters here
// share the same DB-first read-through shape, factored out so neither
// duplicates the store plumbing.
package nativeadapters

import (
	"context"
	"fmt"

	"github.com/provhub/hub/pkg/entity"
	"github.com/provhub/hub/pkg/entitystore"
)

// readThroughByIDs services GetEntity/GetEntities: consult the store for
// every id, issue exactly one upstream call for whatever is missing, upsert
// every entity the upstream returns, then return the union in the order
// originally requested.
func readThroughByIDs(
	ctx context.Context,
	store entitystore.Store,
	ids []string,
	fetchMissing func(ctx context.Context, missing []string) ([]entity.Entity, error),
) ([]entity.Entity, error) {
	found := make(map[string]entity.Entity, len(ids))
	var missing []string

	for _, id := range ids {
		e, err := store.Get(ctx, id)
		if err == nil {
			found[id] = e
			continue
		}
		if err != entitystore.ErrNotFound {
			return nil, fmt.Errorf("nativeadapters: store get %s: %w", id, err)
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		fetched, err := fetchMissing(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, e := range fetched {
			if err := store.Upsert(ctx, e); err != nil {
				return nil, fmt.Errorf("nativeadapters: upsert %s: %w", e.ID, err)
			}
			found[e.ID] = e
		}
	}

	out := make([]entity.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := found[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// passThroughUpsert services GetAllEntities/SearchEntities without a range
// filter: call upstream, upsert every result (idempotent on id), return the
// union as-is.
func passThroughUpsert(
	ctx context.Context,
	store entitystore.Store,
	fetch func(ctx context.Context) ([]entity.Entity, error),
) ([]entity.Entity, error) {
	entities, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entities {
		if err := store.Upsert(ctx, e); err != nil {
			return nil, fmt.Errorf("nativeadapters: upsert %s: %w", e.ID, err)
		}
	}
	return entities, nil
}
