package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// SavedScenario is one saved revision of a scenario's settings. Saves append a
// new row; the newest row by updated_at is the effective configuration.
type SavedScenario struct {
	ID         snowflake.ID   `gorm:"primaryKey" json:"id"`
	ScenarioID string         `gorm:"column:scenario_id;not null;index:idx_saved_scenarios_latest,priority:1" json:"scenario_id"`
	Config     datatypes.JSON `gorm:"column:config;not null" json:"config"`
	IP         string         `gorm:"column:ip" json:"-"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;not null;index:idx_saved_scenarios_latest,priority:2" json:"updated_at"`
}

func (SavedScenario) TableName() string { return "saved_scenarios" }

// ScenarioConfig is an immutable snapshot of a scenario's settings.
type ScenarioConfig struct {
	ScenarioID  string     `json:"-"`
	Name        string     `json:"scenario_name,omitempty" validate:"max=200"`
	Subrs       []string   `json:"subrs" validate:"dive,issn_l"`
	CustomSubrs []string   `json:"customSubrs" validate:"dive,issn_l"`
	Configs     Parameters `json:"configs"`
	SavedAt     time.Time  `json:"-"`
}

// Parameters are the named cost-model inputs passed to the live scenario
// computation for every member.
type Parameters struct {
	CostBigdeal                float64            `json:"cost_bigdeal" validate:"gte=0"`
	CostBigdealIncrease        float64            `json:"cost_bigdeal_increase" validate:"gte=0,lte=100"`
	CostAlacarteIncrease       float64            `json:"cost_alacarte_increase" validate:"gte=0,lte=100"`
	CostContentFeePercent      float64            `json:"cost_content_fee_percent" validate:"gte=0,lte=100"`
	CostIll                    float64            `json:"cost_ill" validate:"gte=0"`
	IllRequestPercentOfDelayed float64            `json:"ill_request_percent_of_delayed" validate:"gte=0,lte=100"`
	BackfileContribution       float64            `json:"backfile_contribution" validate:"gte=0,lte=100"`
	PerpetualAccessYears       int                `json:"perpetual_access_years" validate:"gte=0,lte=100"`
	BronzeEmbargoMonths        int                `json:"bronze_oa_embargo_months" validate:"gte=0,lte=240"`
	IncludeBackfile            bool               `json:"include_backfile"`
	IncludeBronze              bool               `json:"include_bronze"`
	IncludeSocialNetworks      bool               `json:"include_social_networks"`
	IncludeSubmittedVersion    bool               `json:"include_submitted_version"`
	WeightAuthorship           float64            `json:"weight_authorship" validate:"gte=0"`
	WeightCitation             float64            `json:"weight_citation" validate:"gte=0"`
	ChannelWeights             map[string]float64 `json:"channel_weights,omitempty" validate:"omitempty,dive,keys,oneof=social_networks oa backfile subscription bronze green hybrid peer_reviewed,endkeys,gte=0,lte=1"`
}

// DefaultParameters mirrors the defaults new scenarios start from.
func DefaultParameters() Parameters {
	return Parameters{
		CostBigdealIncrease:        5,
		CostAlacarteIncrease:       8,
		CostContentFeePercent:      5.7,
		CostIll:                    17,
		IllRequestPercentOfDelayed: 10,
		BackfileContribution:       100,
		PerpetualAccessYears:       0,
		BronzeEmbargoMonths:        12,
		IncludeBackfile:            true,
		IncludeBronze:              true,
		IncludeSocialNetworks:      true,
		IncludeSubmittedVersion:    true,
		WeightAuthorship:           100,
		WeightCitation:             10,
	}
}

// Subscribed reports whether issnL is in the bulk subscription set.
func (c ScenarioConfig) Subscribed(issnL string) bool {
	return contains(c.Subrs, issnL)
}

// CustomSubscribed reports whether issnL is in the custom subscription set.
func (c ScenarioConfig) CustomSubscribed(issnL string) bool {
	return contains(c.CustomSubrs, issnL)
}

// WithBigDealCost returns a copy whose big deal cost is replaced.
func (c ScenarioConfig) WithBigDealCost(cost float64) ScenarioConfig {
	out := c
	out.Subrs = append([]string(nil), c.Subrs...)
	out.CustomSubrs = append([]string(nil), c.CustomSubrs...)
	if c.Configs.ChannelWeights != nil {
		out.Configs.ChannelWeights = make(map[string]float64, len(c.Configs.ChannelWeights))
		for k, v := range c.Configs.ChannelWeights {
			out.Configs.ChannelWeights[k] = v
		}
	}
	out.Configs.CostBigdeal = cost
	return out
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
