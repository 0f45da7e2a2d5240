package journalmeta

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/bigdeal/internal/cache"
	"github.com/smallbiznis/bigdeal/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

func newDirectory(t *testing.T, reporter *Reporter) (*Directory, *cache.Store) {
	t.Helper()
	conn := db.NewTest(t, &Metadata{})
	price := 3000.0
	require.NoError(t, conn.Create(&[]Metadata{
		{IssnL: "0140-6736", Issns: datatypes.JSON(`["0140-6736","1474-547X"]`), Title: "The Lancet", Publisher: "Elsevier", ApcPrice: &price},
		{IssnL: "2045-2322", Issns: datatypes.JSON(`["2045-2322"]`), Title: "Scientific Reports", Publisher: "Springer Nature", IsGold: true},
	}).Error)
	store := cache.NewStore(zap.NewNop(), nil)
	return New(Params{DB: conn, Log: zap.NewNop(), Cache: store, Reporter: reporter}), store
}

func TestLookupResolvesEveryIssn(t *testing.T) {
	dir, _ := newDirectory(t, nil)
	ctx := context.Background()
	scope := cache.NewScope(nil)

	j, err := dir.Lookup(ctx, scope, "1474-547x")
	require.NoError(t, err)
	assert.Equal(t, "0140-6736", j.IssnL)
	assert.Equal(t, "The Lancet", j.Title)
	assert.Equal(t, "0140-6736,1474-547X", j.DisplayIssns())
	require.NotNil(t, j.IsHybrid)
	assert.True(t, *j.IsHybrid)

	gold, err := dir.Lookup(ctx, scope, "2045-2322")
	require.NoError(t, err)
	assert.False(t, *gold.IsHybrid)
}

func TestLookupUnknownReturnsPlaceholder(t *testing.T) {
	dir, _ := newDirectory(t, nil)

	j, err := dir.Lookup(context.Background(), nil, "9999-9999")
	require.NoError(t, err)
	assert.True(t, j.Unrecognized)
	assert.Equal(t, "Unrecognized Journal", j.Title)
	assert.Equal(t, "Unrecognized Journal", j.Publisher)
	assert.Equal(t, []string{"9999-9999"}, j.Issns)
	assert.Nil(t, j.IsHybrid)
}

func TestCatalogIsCachedUntilReload(t *testing.T) {
	dir, store := newDirectory(t, nil)
	ctx := context.Background()

	_, err := dir.Catalog(ctx, cache.NewScope(store))
	require.NoError(t, err)
	require.NoError(t, dir.db.Create(&Metadata{IssnL: "1234-5678", Issns: datatypes.JSON(`[]`), Title: "New"}).Error)

	j, err := dir.Lookup(ctx, cache.NewScope(store), "1234-5678")
	require.NoError(t, err)
	assert.True(t, j.Unrecognized)

	dir.Reload(ctx)
	j, err = dir.Lookup(ctx, cache.NewScope(store), "1234-5678")
	require.NoError(t, err)
	assert.Equal(t, "New", j.Title)
	assert.Equal(t, []string{"1234-5678"}, j.Issns)
}

func TestReporterSendsEachIssnOnce(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, r.URL.Path+" "+string(raw))
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	reporter := NewReporter(srv.URL+"/", 100, srv.Client(), nil, zap.NewNop())
	require.NotNil(t, reporter)
	dir, _ := newDirectory(t, reporter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go reporter.Run(ctx)

	_, err := dir.LookupMany(ctx, nil, []string{"9999-9999", "9999-9999", "0140-6736"})
	require.NoError(t, err)
	_, err = dir.Lookup(ctx, nil, "9999-9999")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bodies) == 1
	}, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 1)
	assert.Equal(t, `/missing_journal {"issn":"9999-9999"}`, bodies[0])
}

func TestNilReporterIsNoop(t *testing.T) {
	assert.Nil(t, NewReporter("  ", 1, nil, nil, nil))
	var r *Reporter
	r.Report("0000-0000")
	r.Run(context.Background())
}
