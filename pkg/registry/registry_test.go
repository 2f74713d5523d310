package registry_test

import (
	"context"
	"testing"

	"github.com/provhub/hub/pkg/entity"
	"github.com/provhub/hub/pkg/provider"
	"github.com/provhub/hub/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct{ tag string }

func (s *stubAdapter) FetchEntities(ctx context.Context, req provider.Request) ([]entity.Entity, error) {
	return nil, nil
}

func (s *stubAdapter) Stitch(ctx context.Context, filters []provider.Filter) (entity.Entity, error) {
	return entity.Entity{}, provider.ErrStitchUnsupported
}

func TestInMemoryRegistry(t *testing.T) {
	r := registry.NewInMemoryRegistry()

	a1 := &stubAdapter{tag: "v1"}
	a2 := &stubAdapter{tag: "v2"}

	t.Run("Register and Lookup", func(t *testing.T) {
		require.NoError(t, r.Register("alpha", a1))

		got, err := r.Lookup("alpha")
		require.NoError(t, err)
		assert.Same(t, a1, got)
	})

	t.Run("Replacement drops the previous adapter", func(t *testing.T) {
		require.NoError(t, r.Register("alpha", a2))

		got, err := r.Lookup("alpha")
		require.NoError(t, err)
		assert.Same(t, a2, got)
	})

	t.Run("Lookup Not Found", func(t *testing.T) {
		_, err := r.Lookup("missing")
		assert.ErrorIs(t, err, registry.ErrProviderNotFound)
	})

	t.Run("List is sorted", func(t *testing.T) {
		require.NoError(t, r.Register("beta", a1))
		require.NoError(t, r.Register("alpha", a2))

		assert.Equal(t, []string{"alpha", "beta"}, r.List())
	})

	t.Run("Unregister", func(t *testing.T) {
		require.NoError(t, r.Unregister("beta"))
		_, err := r.Lookup("beta")
		assert.ErrorIs(t, err, registry.ErrProviderNotFound)

		err = r.Unregister("beta")
		assert.ErrorIs(t, err, registry.ErrProviderNotFound)
	})
}

func TestRegisterRejectsNil(t *testing.T) {
	r := registry.NewInMemoryRegistry()
	assert.Error(t, r.Register("alpha", nil))
	assert.Error(t, r.Register("", &stubAdapter{}))
}
