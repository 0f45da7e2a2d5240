// Package livescenario talks to the per-institution scenario computation
// service.
package livescenario

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/smallbiznis/bigdeal/internal/config"
	scenariodomain "github.com/smallbiznis/bigdeal/internal/scenario/domain"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	computePath     = "/live/compute"
	maxErrorBody    = 512
	breakerName     = "live-scenario"
	defaultTimeout  = 2 * time.Minute
	minTripRequests = 5
)

var (
	// ErrRejected means the service refused the member's configuration.
	ErrRejected = errors.New("live_scenario_rejected")
	// ErrUnavailable covers transport failures, 5xx answers and an open breaker.
	ErrUnavailable = errors.New("live_scenario_unavailable")
	// ErrMalformedResponse means the body could not be decoded.
	ErrMalformedResponse = errors.New("live_scenario_malformed_response")
)

// Computer runs the live scenario for one member package.
type Computer interface {
	Compute(ctx context.Context, memberPackageID string, cfg scenariodomain.ScenarioConfig) ([]RawJournal, error)
}

// RawJournal is one journal row as returned by the service. Numeric fields
// are pointers so that missing values can be told apart from zero.
type RawJournal struct {
	IssnL                 string   `json:"issn_l"`
	Subject               string   `json:"subject"`
	Usage                 *float64 `json:"usage"`
	Cpu                   *float64 `json:"cpu"`
	SubscriptionCost      *float64 `json:"subscription_cost"`
	IllCost               *float64 `json:"ill_cost"`
	AuthorshipFraction    *float64 `json:"authorship_fraction"`
	UseSocialNetworks     *float64 `json:"use_social_networks_percent"`
	UseOA                 *float64 `json:"use_oa_percent"`
	UseBackfile           *float64 `json:"use_backfile_percent"`
	UseSubscription       *float64 `json:"use_subscription_percent"`
	UseBronze             *float64 `json:"use_bronze_percent"`
	UseGreen              *float64 `json:"use_green_percent"`
	UseHybrid             *float64 `json:"use_hybrid_percent"`
	UsePeerReviewed       *float64 `json:"use_peer_reviewed_percent"`
	PerpetualAccessYears  int      `json:"perpetual_access_years"`
	BronzeOaEmbargoMonths int      `json:"bronze_oa_embargo_months"`
	IsHybrid              bool     `json:"is_hybrid"`
	Downloads             float64  `json:"downloads"`
	Citations             float64  `json:"citations"`
	Authorships           float64  `json:"authorships"`
}

type computeRequest struct {
	MemberPackageID string                        `json:"member_package_id"`
	Scenario        scenariodomain.ScenarioConfig `json:"scenario"`
}

type computeResponse struct {
	Journals []RawJournal `json:"journals"`
}

type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]RawJournal]
	log     *zap.Logger
}

var Module = fx.Module("livescenario",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, log *zap.Logger) Computer {
	return New(cfg.LiveScenarioURL, &http.Client{Timeout: cfg.LiveScenarioTimeout}, log)
}

func New(baseURL string, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("livescenario")

	breaker := gobreaker.NewCircuitBreaker[[]RawJournal](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minTripRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		// A rejected member configuration says nothing about upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrRejected) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
		breaker: breaker,
		log:     log,
	}
}

func (c *Client) Compute(ctx context.Context, memberPackageID string, cfg scenariodomain.ScenarioConfig) ([]RawJournal, error) {
	rows, err := c.breaker.Execute(func() ([]RawJournal, error) {
		return c.compute(ctx, memberPackageID, cfg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return rows, err
}

func (c *Client) compute(ctx context.Context, memberPackageID string, cfg scenariodomain.ScenarioConfig) ([]RawJournal, error) {
	body, err := json.Marshal(computeRequest{MemberPackageID: memberPackageID, Scenario: cfg})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+computePath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, readSnippet(resp.Body))
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, readSnippet(resp.Body))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrMalformedResponse, resp.StatusCode)
	}

	var out computeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return out.Journals, nil
}

func readSnippet(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	return strings.TrimSpace(string(raw))
}
