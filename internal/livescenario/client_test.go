package livescenario

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	json "github.com/goccy/go-json"
	scenariodomain "github.com/smallbiznis/bigdeal/internal/scenario/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDecodesJournals(t *testing.T) {
	var got computeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, computePath, r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"journals":[{"issn_l":"0028-0836","usage":12.5,"subscription_cost":100,"ill_cost":4}]}`))
	}))
	defer srv.Close()

	client := New(srv.URL+"/", srv.Client(), nil)
	cfg := scenariodomain.ScenarioConfig{Subrs: []string{"0028-0836"}, Configs: scenariodomain.DefaultParameters()}
	rows, err := client.Compute(context.Background(), "pkg-a", cfg)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "0028-0836", rows[0].IssnL)
	require.NotNil(t, rows[0].Usage)
	assert.Equal(t, 12.5, *rows[0].Usage)
	assert.Nil(t, rows[0].AuthorshipFraction)

	assert.Equal(t, "pkg-a", got.MemberPackageID)
	assert.Equal(t, []string{"0028-0836"}, got.Scenario.Subrs)
}

func TestComputeClassifiesStatus(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{status: http.StatusUnprocessableEntity, body: "bad config", want: ErrRejected},
		{status: http.StatusBadGateway, body: "down", want: ErrUnavailable},
		{status: http.StatusOK, body: "{not json", want: ErrMalformedResponse},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))
		client := New(srv.URL, srv.Client(), nil)
		_, err := client.Compute(context.Background(), "pkg-a", scenariodomain.ScenarioConfig{})
		assert.ErrorIs(t, err, tc.want, "status %d", tc.status)
		srv.Close()
	}
}

func TestBreakerOpensOnRepeatedUpstreamFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(srv.URL, srv.Client(), nil)
	for i := 0; i < minTripRequests; i++ {
		_, err := client.Compute(context.Background(), "pkg-a", scenariodomain.ScenarioConfig{})
		require.ErrorIs(t, err, ErrUnavailable)
	}

	_, err := client.Compute(context.Background(), "pkg-a", scenariodomain.ScenarioConfig{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(minTripRequests), atomic.LoadInt32(&hits), "open breaker must not call upstream")
}

func TestRejectionsDoNotTripBreaker(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := New(srv.URL, srv.Client(), nil)
	for i := 0; i < minTripRequests+3; i++ {
		_, err := client.Compute(context.Background(), "pkg-a", scenariodomain.ScenarioConfig{})
		require.True(t, errors.Is(err, ErrRejected))
	}
	assert.Equal(t, int32(minTripRequests+3), atomic.LoadInt32(&hits))
}
