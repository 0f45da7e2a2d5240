// Package member turns one member package's live scenario output into
// journal metric records.
package member

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/smallbiznis/bigdeal/internal/clock"
	computeddomain "github.com/smallbiznis/bigdeal/internal/computed/domain"
	consortiumdomain "github.com/smallbiznis/bigdeal/internal/consortium/domain"
	"github.com/smallbiznis/bigdeal/internal/costmodel"
	"github.com/smallbiznis/bigdeal/internal/livescenario"
	"github.com/smallbiznis/bigdeal/internal/observability/logger"
	"github.com/smallbiznis/bigdeal/internal/observability/tracing"
	scenariodomain "github.com/smallbiznis/bigdeal/internal/scenario/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var issnPattern = regexp.MustCompile(`^\d{4}-\d{3}[\dX]$`)

var (
	errMissingIssn  = errors.New("missing_issn_l")
	errInvalidIssn  = errors.New("invalid_issn_l")
	errMissingUsage = errors.New("missing_usage")
	errMissingCost  = errors.New("missing_subscription_cost")
	errNegative     = errors.New("negative_value")
	errNotFinite    = errors.New("non_finite_value")
	errShareRange   = errors.New("channel_share_out_of_range")
	errDuplicate    = errors.New("duplicate_issn_l")
)

var Module = fx.Module("member",
	fx.Provide(New),
)

type Params struct {
	fx.In

	Live  livescenario.Computer
	Clock clock.Clock
	Log   *zap.Logger
}

type Computer struct {
	live  livescenario.Computer
	clock clock.Clock
	log   *zap.Logger
}

func New(p Params) *Computer {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Computer{live: p.Live, clock: p.Clock, log: log.Named("member.computer")}
}

type Request struct {
	ScenarioID          string
	ConsortiumPackageID string
	Member              consortiumdomain.MemberPackage
	Config              scenariodomain.ScenarioConfig
}

type Result struct {
	Records []computeddomain.JournalMetricRecord
	Skipped int
}

// Compute runs the live scenario for one member. A row that cannot be
// translated is skipped and logged; only a failed upstream call fails the
// member.
func (c *Computer) Compute(ctx context.Context, req Request) (Result, error) {
	memberID := req.Member.PackageID
	ctx, span := tracing.Start(ctx, "member.compute",
		attribute.String("scenario_id", req.ScenarioID),
		attribute.String("member_package_id", memberID),
	)
	var err error
	defer func() { tracing.End(span, err) }()

	raw, err := c.live.Compute(ctx, memberID, req.Config)
	if err != nil {
		return Result{}, err
	}

	log := logger.WithMember(logger.WithScenario(logger.WithContext(ctx, c.log), req.ScenarioID), memberID)
	now := c.clock.Now()

	out := Result{Records: make([]computeddomain.JournalMetricRecord, 0, len(raw))}
	seen := make(map[string]struct{}, len(raw))
	for i, row := range raw {
		record, rowErr := translate(row)
		if rowErr == nil {
			if _, dup := seen[record.IssnL]; dup {
				rowErr = errDuplicate
			}
		}
		if rowErr != nil {
			out.Skipped++
			log.Warn("skipping malformed journal row",
				zap.Int("row", i),
				zap.String("issn_l", row.IssnL),
				zap.Error(rowErr),
			)
			continue
		}
		seen[record.IssnL] = struct{}{}

		record.ScenarioID = req.ScenarioID
		record.MemberPackageID = memberID
		record.PackageID = req.ConsortiumPackageID
		record.InstitutionID = req.Member.InstitutionID
		record.InstitutionName = req.Member.InstitutionName
		record.InstitutionShortName = req.Member.InstitutionShortName
		record.Updated = now
		out.Records = append(out.Records, record)
	}

	span.SetAttributes(
		attribute.Int("records", len(out.Records)),
		attribute.Int("skipped", out.Skipped),
	)
	return out, nil
}

func translate(row livescenario.RawJournal) (computeddomain.JournalMetricRecord, error) {
	issnL := strings.ToUpper(strings.TrimSpace(row.IssnL))
	switch {
	case issnL == "":
		return computeddomain.JournalMetricRecord{}, errMissingIssn
	case !issnPattern.MatchString(issnL):
		return computeddomain.JournalMetricRecord{}, errInvalidIssn
	case row.Usage == nil:
		return computeddomain.JournalMetricRecord{}, errMissingUsage
	case row.SubscriptionCost == nil:
		return computeddomain.JournalMetricRecord{}, errMissingCost
	}

	usage, err := amount("usage", *row.Usage)
	if err != nil {
		return computeddomain.JournalMetricRecord{}, err
	}
	cost, err := amount("subscription_cost", *row.SubscriptionCost)
	if err != nil {
		return computeddomain.JournalMetricRecord{}, err
	}
	illCost, err := optionalAmount("ill_cost", row.IllCost)
	if err != nil {
		return computeddomain.JournalMetricRecord{}, err
	}
	authorship, err := optionalAmount("authorship_fraction", row.AuthorshipFraction)
	if err != nil {
		return computeddomain.JournalMetricRecord{}, err
	}

	var channels computeddomain.ChannelShares
	shares := []struct {
		name string
		src  *float64
		dst  *float64
	}{
		{"use_social_networks_percent", row.UseSocialNetworks, &channels.SocialNetworks},
		{"use_oa_percent", row.UseOA, &channels.OA},
		{"use_backfile_percent", row.UseBackfile, &channels.Backfile},
		{"use_subscription_percent", row.UseSubscription, &channels.Subscription},
		{"use_bronze_percent", row.UseBronze, &channels.Bronze},
		{"use_green_percent", row.UseGreen, &channels.Green},
		{"use_hybrid_percent", row.UseHybrid, &channels.Hybrid},
		{"use_peer_reviewed_percent", row.UsePeerReviewed, &channels.PeerReviewed},
	}
	for _, share := range shares {
		if share.src == nil {
			continue
		}
		v := *share.src
		if math.IsNaN(v) || v < 0 || v > 1 {
			return computeddomain.JournalMetricRecord{}, fmt.Errorf("%w: %s=%v", errShareRange, share.name, v)
		}
		*share.dst = v
	}

	record := computeddomain.JournalMetricRecord{
		IssnL:                 issnL,
		Subject:               strings.TrimSpace(row.Subject),
		Usage:                 usage,
		SubscriptionCost:      cost,
		IllCost:               illCost,
		AuthorshipFraction:    authorship,
		Channels:              channels,
		PerpetualAccessYears:  row.PerpetualAccessYears,
		BronzeOaEmbargoMonths: row.BronzeOaEmbargoMonths,
		IsHybrid:              row.IsHybrid,
		Downloads:             row.Downloads,
		Citations:             row.Citations,
		Authorships:           row.Authorships,
	}
	if cpu := costmodel.CostPerUse(cost, usage); !costmodel.IsUndefined(cpu) {
		record.Cpu = &cpu
	}
	return record, nil
}

func amount(name string, v float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %s", errNotFinite, name)
	}
	if v < 0 {
		return 0, fmt.Errorf("%w: %s=%v", errNegative, name, v)
	}
	return v, nil
}

func optionalAmount(name string, v *float64) (float64, error) {
	if v == nil {
		return 0, nil
	}
	return amount(name, *v)
}
