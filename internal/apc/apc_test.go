package apc

import (
	"context"
	"testing"

	"github.com/smallbiznis/bigdeal/internal/cache"
	"github.com/smallbiznis/bigdeal/internal/config"
	"github.com/smallbiznis/bigdeal/internal/costmodel"
	"github.com/smallbiznis/bigdeal/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var window = costmodel.Window{StartYear: 2014, Years: 5}

func price(v float64) *float64 { return &v }

func sampleRows() []Row {
	return []Row{
		{PackageID: "pkg-a", IssnL: "1234-5678", Year: 2014, NumPapers: 2, Dollars: 3000, AuthorshipFraction: 0.5, OaStatus: "hybrid", JournalName: "Early Title"},
		{PackageID: "pkg-b", IssnL: "1234-5678", Year: 2014, NumPapers: 1, Dollars: 1500, AuthorshipFraction: 0.25, OaStatus: "hybrid", JournalName: "Early Title"},
		{PackageID: "pkg-a", IssnL: "1234-5678", Year: 2016, NumPapers: 3, Dollars: 4500, AuthorshipFraction: 1, OaStatus: "hybrid", JournalName: "Early Title"},
		{PackageID: "pkg-a", IssnL: "1234-5678", Year: 2020, NumPapers: 10, Dollars: 20000, AuthorshipFraction: 2, OaStatus: "hybrid", ApcPrice: price(2000), JournalName: "Late Title"},
		{PackageID: "pkg-a", IssnL: "8765-4321", Year: 2015, NumPapers: 1, Dollars: 900, AuthorshipFraction: 1, OaStatus: "gold", ApcPrice: price(900), JournalName: "Gold Journal"},
	}
}

func TestBuildAveragesOverWindow(t *testing.T) {
	j := Build("1234-5678", sampleRows(), window)

	assert.Equal(t, []int{2014, 2015, 2016, 2017, 2018}, j.Years)
	assert.Equal(t, []float64{3, 0, 3, 0, 0}, j.NumPapersByYear)
	assert.Equal(t, []float64{4500, 0, 4500, 0, 0}, j.CostByYear)
	assert.Equal(t, []float64{0.75, 0, 1, 0, 0}, j.FractionalAuthorshipByYear)
	assert.InDelta(t, 1.2, j.NumPapersHistorical, 1e-9)
	assert.InDelta(t, 1800, j.CostHistorical, 1e-9)
	assert.InDelta(t, 0.35, j.FractionalAuthorship, 1e-9)
	assert.Equal(t, int64(1800), j.CostApc())
	assert.Equal(t, int64(1800), j.CostApcHybrid())

	// Descriptive fields come from the most recent row, even outside the window.
	assert.Equal(t, "Late Title", j.Title)
	require.NotNil(t, j.ApcPrice)
	assert.Equal(t, 2000.0, *j.ApcPrice)
}

func TestBuildGoldJournalHasNoHybridCost(t *testing.T) {
	j := Build("8765-4321", sampleRows(), window)

	assert.InDelta(t, 180, j.CostHistorical, 1e-9)
	assert.Equal(t, int64(180), j.CostApc())
	assert.Equal(t, int64(0), j.CostApcHybrid())
	assert.Equal(t, "gold", j.OaStatus)
}

func TestBuildEmptyWindow(t *testing.T) {
	j := Build("1234-5678", sampleRows(), costmodel.Window{StartYear: 2014})

	assert.Empty(t, j.Years)
	assert.Zero(t, j.NumPapersHistorical)
	assert.Zero(t, j.CostHistorical)
	assert.Zero(t, j.FractionalAuthorship)
}

func TestBuildCopiesPrice(t *testing.T) {
	rows := sampleRows()
	j := Build("1234-5678", rows, window)
	*rows[3].ApcPrice = 1

	assert.Equal(t, 2000.0, *j.ApcPrice)
}

func TestBuildAllOrdersBySpend(t *testing.T) {
	journals := BuildAll(sampleRows(), window)

	require.Len(t, journals, 2)
	assert.Equal(t, "1234-5678", journals[0].IssnL)
	assert.Equal(t, "8765-4321", journals[1].IssnL)
}

func TestServiceJournalsUsesIncludedMembers(t *testing.T) {
	conn := db.NewTest(t, &Row{})
	require.NoError(t, conn.Create(sampleRows()).Error)

	engine := config.DefaultEngineConfig()
	svc := New(Params{
		DB:     conn,
		Log:    zap.NewNop(),
		Engine: config.NewStaticEngineConfigHolder(engine),
		Cache:  cache.NewStore(zap.NewNop(), nil),
	})
	ctx := context.Background()

	journals, err := svc.Journals(ctx, cache.NewScope(svc.cache), "scn-1", []string{"pkg-b"})
	require.NoError(t, err)
	require.Len(t, journals, 1)
	assert.Equal(t, []float64{1, 0, 0, 0, 0}, journals[0].NumPapersByYear)

	journals, err = svc.Journals(ctx, cache.NewScope(svc.cache), "scn-1", []string{"pkg-a", "pkg-b"})
	require.NoError(t, err)
	require.Len(t, journals, 2)
	assert.Equal(t, []float64{3, 0, 3, 0, 0}, journals[0].NumPapersByYear)

	rows, err := svc.Rows(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestServiceJournalsRereadsIngestedPackage(t *testing.T) {
	conn := db.NewTest(t, &Row{})
	require.NoError(t, conn.Create(sampleRows()).Error)

	store := cache.NewStore(zap.NewNop(), nil)
	svc := New(Params{
		DB:     conn,
		Log:    zap.NewNop(),
		Engine: config.NewStaticEngineConfigHolder(config.DefaultEngineConfig()),
		Cache:  store,
	})
	ctx := context.Background()

	_, err := svc.Journals(ctx, cache.NewScope(store), "scn-1", []string{"pkg-b"})
	require.NoError(t, err)
	_, ok := store.Get(cache.PackageKey(cache.EntityApcRows, "pkg-b"))
	require.True(t, ok)

	require.NoError(t, conn.Create(&Row{PackageID: "pkg-b", IssnL: "1234-5678", Year: 2015, NumPapers: 4, Dollars: 6000, AuthorshipFraction: 1, OaStatus: "hybrid", JournalName: "Early Title"}).Error)
	store.InvalidatePackage(ctx, "pkg-b", cache.TriggerPackageIngested)
	_, ok = store.Get(cache.PackageKey(cache.EntityApcRows, "pkg-b"))
	assert.False(t, ok)

	journals, err := svc.Journals(ctx, cache.NewScope(store), "scn-2", []string{"pkg-b"})
	require.NoError(t, err)
	require.Len(t, journals, 1)
	assert.Equal(t, []float64{1, 4, 0, 0, 0}, journals[0].NumPapersByYear)
}
