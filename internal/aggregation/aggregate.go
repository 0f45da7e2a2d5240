// Package aggregation folds per-member journal records into one ranked
// entry per journal.
package aggregation

import (
	"math"
	"sort"

	computeddomain "github.com/smallbiznis/bigdeal/internal/computed/domain"
	"github.com/smallbiznis/bigdeal/internal/costmodel"
	scenariodomain "github.com/smallbiznis/bigdeal/internal/scenario/domain"
)

// ConsortiumJournal is one journal summed over the included members.
// Cpu is +Inf when the summed usage is zero. CpuRank is 1-based over
// ascending Cpu; journals with equal Cpu rank by ascending IssnL, never by
// the order their records arrived in.
type ConsortiumJournal struct {
	IssnL   string
	Subject string

	Usage              float64
	Cost               float64
	IllCost            float64
	Cpu                float64
	CpuRank            int
	AuthorshipFraction float64
	Downloads          float64
	Citations          float64
	Authorships        float64
	Channels           computeddomain.ChannelShares

	IsHybrid         bool
	SubscribedBulk   bool
	SubscribedCustom bool
	MemberIDs        []string
}

// Subscribed reports whether either subscription set holds the journal.
func (j ConsortiumJournal) Subscribed() bool {
	return j.SubscribedBulk || j.SubscribedCustom
}

// CpuDefined reports whether the journal has a finite cost per use.
func (j ConsortiumJournal) CpuDefined() bool {
	return !costmodel.IsUndefined(j.Cpu)
}

type group struct {
	journal ConsortiumJournal
	shares  [8]float64
}

// Aggregate groups records of included members by journal, derives cost per
// use from the summed totals and ranks the journals by ascending cost per
// use. Journals with equal cost per use keep ascending issn order. A nil
// included list means no member is included.
func Aggregate(records []computeddomain.JournalMetricRecord, included []string, cfg scenariodomain.ScenarioConfig) []ConsortiumJournal {
	keep := make(map[string]struct{}, len(included))
	for _, id := range included {
		keep[id] = struct{}{}
	}

	groups := make(map[string]*group)
	order := make([]string, 0)
	for _, r := range records {
		if _, ok := keep[r.MemberPackageID]; !ok {
			continue
		}
		g, ok := groups[r.IssnL]
		if !ok {
			g = &group{journal: ConsortiumJournal{IssnL: r.IssnL, Subject: r.Subject}}
			groups[r.IssnL] = g
			order = append(order, r.IssnL)
		}
		j := &g.journal
		j.Usage += r.Usage
		j.Cost += r.SubscriptionCost
		j.IllCost += r.IllCost
		j.AuthorshipFraction += r.AuthorshipFraction
		j.Downloads += r.Downloads
		j.Citations += r.Citations
		j.Authorships += r.Authorships
		j.IsHybrid = j.IsHybrid || r.IsHybrid
		if j.Subject == "" {
			j.Subject = r.Subject
		}
		j.MemberIDs = append(j.MemberIDs, r.MemberPackageID)
		for i, share := range r.Channels.Values() {
			g.shares[i] += share * r.Usage
		}
	}

	sort.Strings(order)
	journals := make([]ConsortiumJournal, 0, len(order))
	for _, issn := range order {
		g := groups[issn]
		j := g.journal
		j.Cpu = costmodel.CostPerUse(j.Cost, j.Usage)
		j.Channels = weightedShares(g.shares, j.Usage)
		j.SubscribedBulk = cfg.Subscribed(issn)
		j.SubscribedCustom = cfg.CustomSubscribed(issn)
		sort.Strings(j.MemberIDs)
		journals = append(journals, j)
	}

	SortByCpu(journals)
	for i := range journals {
		journals[i].CpuRank = i + 1
	}
	return journals
}

// SortByCpu orders journals by ascending cost per use, undefined last.
func SortByCpu(journals []ConsortiumJournal) {
	sort.SliceStable(journals, func(a, b int) bool {
		return lessCpu(journals[a].Cpu, journals[b].Cpu)
	})
}

// SortByUsage orders journals by descending usage.
func SortByUsage(journals []ConsortiumJournal) {
	sort.SliceStable(journals, func(a, b int) bool {
		return journals[a].Usage > journals[b].Usage
	})
}

func lessCpu(a, b float64) bool {
	aUndef, bUndef := costmodel.IsUndefined(a), costmodel.IsUndefined(b)
	switch {
	case aUndef:
		return false
	case bUndef:
		return true
	default:
		return a < b
	}
}

func weightedShares(sums [8]float64, usage float64) computeddomain.ChannelShares {
	if usage <= 0 || math.IsNaN(usage) {
		return computeddomain.ChannelShares{}
	}
	clamp := func(v float64) float64 {
		v /= usage
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}
	return computeddomain.ChannelShares{
		SocialNetworks: clamp(sums[0]),
		OA:             clamp(sums[1]),
		Backfile:       clamp(sums[2]),
		Subscription:   clamp(sums[3]),
		Bronze:         clamp(sums[4]),
		Green:          clamp(sums[5]),
		Hybrid:         clamp(sums[6]),
		PeerReviewed:   clamp(sums[7]),
	}
}
