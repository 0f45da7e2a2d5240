package ingest

import (
	"context"
	"testing"

	"github.com/smallbiznis/bigdeal/internal/cache"
	consortiumdomain "github.com/smallbiznis/bigdeal/internal/consortium/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeConsortium struct {
	consortiumdomain.Service
	scenarios map[string][]string
}

func (f fakeConsortium) ScenariosForMember(_ context.Context, packageID string) ([]string, error) {
	return f.scenarios[packageID], nil
}

func TestNotifyPackageIngestedInvalidatesDependents(t *testing.T) {
	store := cache.NewStore(zap.NewNop(), nil)
	n := New(Params{
		Log:           zap.NewNop(),
		ConsortiumSvc: fakeConsortium{scenarios: map[string][]string{"pkg-a": {"scn-1"}}},
		Cache:         store,
	})
	ctx := context.Background()

	keys := []cache.Key{
		cache.PackageKey(cache.EntityApcRows, "pkg-a"),
		cache.ScenarioKey(cache.EntityJournals, "scn-1"),
		cache.ScenarioKey(cache.EntityJournals, "scn-2"),
	}
	for _, key := range keys {
		require.True(t, store.Put(key, store.Generation(key), "value"))
	}

	scenarios, err := n.NotifyPackageIngested(ctx, " pkg-a ")
	require.NoError(t, err)
	assert.Equal(t, []string{"scn-1"}, scenarios)

	_, ok := store.Get(keys[0])
	assert.False(t, ok)
	_, ok = store.Get(keys[1])
	assert.False(t, ok)
	_, ok = store.Get(keys[2])
	assert.True(t, ok)
}

func TestNotifyPackageIngestedRejectsBlankPackage(t *testing.T) {
	n := New(Params{Log: zap.NewNop(), ConsortiumSvc: fakeConsortium{}})

	_, err := n.NotifyPackageIngested(context.Background(), " ")
	assert.ErrorIs(t, err, ErrInvalidPackage)

	scenarios, err := n.NotifyPackageIngested(context.Background(), "pkg-z")
	require.NoError(t, err)
	assert.Empty(t, scenarios)
}
