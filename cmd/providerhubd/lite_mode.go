package main

import (
	"context"
	"fmt"

	"github.com/provhub/hub/pkg/entitystore"
)

// setupLiteMode opens the SQLite-backed entity store at dbPath, the
// zero-configuration path the hub boots under when no DATABASE_URL is set.
func setupLiteMode(ctx context.Context, dbPath string) (*entitystore.SQLiteStore, error) {
	store, err := entitystore.OpenLite(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("lite mode: %w", err)
	}
	return store, nil
}
