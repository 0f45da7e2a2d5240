package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/bigdeal/internal/cache"
	"github.com/smallbiznis/bigdeal/internal/clock"
	"github.com/smallbiznis/bigdeal/internal/consortium/domain"
	"github.com/smallbiznis/bigdeal/internal/consortium/repository"
	"github.com/smallbiznis/bigdeal/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func ptr[T any](v T) *T { return &v }

func seed(t *testing.T) *gorm.DB {
	t.Helper()
	conn := db.NewTest(t,
		&domain.Institution{},
		&domain.AccountPackage{},
		&domain.PackageScenario{},
		&domain.ConsortiumMember{},
		&domain.IncludedMembers{},
		&domain.InstitutionTag{},
		&domain.FeedbackRequest{},
	)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, conn.Create(&[]domain.Institution{
		{ID: "inst-jisc", DisplayName: "Jisc", ShortName: "jisc", IsConsortium: true, CreatedAt: now},
		{ID: "inst-a", DisplayName: "University A", ShortName: "ua", CreatedAt: now},
		{ID: "inst-b", DisplayName: "University B", ShortName: "ub", CreatedAt: now},
	}).Error)
	require.NoError(t, conn.Create(&[]domain.AccountPackage{
		{PackageID: "pkg-jisc", InstitutionID: "inst-jisc", Publisher: "Elsevier", CreatedAt: now},
		{PackageID: "pkg-a", InstitutionID: "inst-a", Publisher: "Elsevier", BigDealCost: ptr(1000.0), ConsortiumPackageID: ptr("pkg-jisc"), CreatedAt: now},
		{PackageID: "pkg-b", InstitutionID: "inst-b", Publisher: "Elsevier", BigDealCost: ptr(250.0), ConsortiumPackageID: ptr("pkg-jisc"), CreatedAt: now},
	}).Error)
	require.NoError(t, conn.Create(&domain.PackageScenario{ScenarioID: "scn-1", PackageID: "pkg-jisc", ScenarioName: "Base", CreatedAt: now}).Error)
	require.NoError(t, conn.Create(&[]domain.ConsortiumMember{
		{ConsortiumPackageID: "pkg-jisc", MemberPackageID: "pkg-b"},
		{ConsortiumPackageID: "pkg-jisc", MemberPackageID: "pkg-a"},
	}).Error)
	require.NoError(t, conn.Create(&[]domain.InstitutionTag{
		{InstitutionID: "inst-a", Tag: "russell"},
		{InstitutionID: "inst-a", Tag: "london"},
	}).Error)
	return conn
}

func newService(t *testing.T, conn *gorm.DB, store *cache.Store) domain.Service {
	t.Helper()
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	return New(Params{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
		Cache: store,
	})
}

func TestGetAndMembers(t *testing.T) {
	svc := newService(t, seed(t), nil)
	ctx := context.Background()

	c, err := svc.Get(ctx, "scn-1")
	require.NoError(t, err)
	assert.Equal(t, "pkg-jisc", c.PackageID)
	assert.Equal(t, "Jisc", c.Name)
	assert.Equal(t, "Elsevier", c.Publisher)

	members, err := svc.Members(ctx, c)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "pkg-a", members[0].PackageID)
	assert.Equal(t, "University A", members[0].InstitutionName)

	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrConsortiumNotFound)
}

func TestIncludedMembersFallsBackToAll(t *testing.T) {
	svc := newService(t, seed(t), nil)
	ctx := context.Background()
	c, err := svc.Get(ctx, "scn-1")
	require.NoError(t, err)

	included, err := svc.IncludedMembers(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg-a", "pkg-b"}, included)
}

func TestSetIncludedMembers(t *testing.T) {
	store := cache.NewStore(zap.NewNop(), nil)
	svc := newService(t, seed(t), store)
	ctx := context.Background()

	key := cache.ScenarioKey(cache.EntityIncludedMembers, "scn-1")
	require.True(t, store.Put(key, store.Generation(key), []string{"pkg-a", "pkg-b"}))

	saved, err := svc.SetIncludedMembers(ctx, "scn-1", []string{"pkg-b", " pkg-b "})
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg-b"}, saved)

	_, ok := store.Get(key)
	assert.False(t, ok)

	c, err := svc.Get(ctx, "scn-1")
	require.NoError(t, err)
	included, err := svc.IncludedMembers(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, []string{"pkg-b"}, included)

	_, err = svc.SetIncludedMembers(ctx, "scn-1", []string{"pkg-zzz"})
	assert.ErrorIs(t, err, domain.ErrUnknownMember)

	none, err := svc.SetIncludedMembers(ctx, "scn-1", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
	included, err = svc.IncludedMembers(ctx, c)
	require.NoError(t, err)
	assert.Empty(t, included, "an explicit empty selection is not the same as never saved")
}

func TestBigDealCostForIncluded(t *testing.T) {
	svc := newService(t, seed(t), nil)
	ctx := context.Background()

	total, err := svc.BigDealCostForIncluded(ctx, []string{"pkg-a", "pkg-b"})
	require.NoError(t, err)
	assert.Equal(t, 1250.0, total)

	total, err = svc.BigDealCostForIncluded(ctx, []string{"pkg-b", "pkg-jisc"})
	require.NoError(t, err)
	assert.Equal(t, 250.0, total)

	total, err = svc.BigDealCostForIncluded(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, total)
}

func TestTagsAndScenariosForMember(t *testing.T) {
	svc := newService(t, seed(t), nil)
	ctx := context.Background()

	tags, err := svc.Tags(ctx, []string{"inst-a", "inst-b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"london", "russell"}, tags["inst-a"])
	assert.Empty(t, tags["inst-b"])

	scenarios, err := svc.ScenariosForMember(ctx, "pkg-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"scn-1"}, scenarios)
}
