package journalmeta

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/smallbiznis/bigdeal/internal/observability/metrics"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	missingJournalPath = "/missing_journal"
	reportQueueSize    = 256
)

var errRegistryStatus = errors.New("registry_unexpected_status")

// Reporter tells the upstream journal registry about identifiers it does not
// know. Reports are queued, sent in the background at a bounded rate and at
// most once per identifier per process.
type Reporter struct {
	url     string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[struct{}]
	metrics *metrics.Metrics
	log     *zap.Logger

	seen  sync.Map
	queue chan string
}

// NewReporter returns nil when no registry is configured. A nil reporter
// drops every report.
func NewReporter(registryURL string, perSecond float64, httpClient *http.Client, m *metrics.Metrics, log *zap.Logger) *Reporter {
	registryURL = strings.TrimRight(strings.TrimSpace(registryURL), "/")
	if registryURL == "" {
		return nil
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if perSecond <= 0 {
		perSecond = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("journalmeta.reporter")

	return &Reporter{
		url:     registryURL + missingJournalPath,
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		breaker: gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
			Name:    "journal-registry",
			Timeout: time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			},
		}),
		metrics: m,
		log:     log,
		queue:   make(chan string, reportQueueSize),
	}
}

// Report queues issn unless it was already reported. It never blocks.
func (r *Reporter) Report(issn string) {
	if r == nil {
		return
	}
	issn = strings.ToUpper(strings.TrimSpace(issn))
	if issn == "" {
		return
	}
	if _, loaded := r.seen.LoadOrStore(issn, struct{}{}); loaded {
		return
	}
	select {
	case r.queue <- issn:
	default:
		r.seen.Delete(issn)
		r.log.Debug("missing journal report dropped", zap.String("issn", issn))
	}
}

// Run sends queued reports until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	if r == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case issn := <-r.queue:
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
			outcome := "sent"
			if err := r.send(ctx, issn); err != nil {
				outcome = "failed"
				if errors.Is(err, gobreaker.ErrOpenState) {
					outcome = "breaker_open"
				}
				r.log.Warn("missing journal report failed", zap.String("issn", issn), zap.Error(err))
			}
			r.metrics.RecordRegistryReport(ctx, outcome)
		}
	}
}

func (r *Reporter) send(ctx context.Context, issn string) error {
	_, err := r.breaker.Execute(func() (struct{}, error) {
		body, err := json.Marshal(map[string]string{"issn": issn})
		if err != nil {
			return struct{}{}, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.http.Do(req)
		if err != nil {
			return struct{}{}, err
		}
		resp.Body.Close()
		if resp.StatusCode >= 300 {
			return struct{}{}, fmt.Errorf("%w: %d", errRegistryStatus, resp.StatusCode)
		}
		return struct{}{}, nil
	})
	return err
}
