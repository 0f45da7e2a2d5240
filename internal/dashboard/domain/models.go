package domain

import (
	"time"

	computeddomain "github.com/smallbiznis/bigdeal/internal/computed/domain"
	recomputedomain "github.com/smallbiznis/bigdeal/internal/recompute/domain"
	scenariodomain "github.com/smallbiznis/bigdeal/internal/scenario/domain"
)

const DefaultScenarioName = "My Scenario"

type Meta struct {
	PublisherName        string     `json:"publisher_name"`
	InstitutionName      string     `json:"institution_name"`
	InstitutionID        string     `json:"institution_id"`
	PackageID            string     `json:"publisher_id"`
	ScenarioID           string     `json:"scenario_id"`
	ScenarioName         string     `json:"scenario_name"`
	ScenarioCreated      *time.Time `json:"scenario_created"`
	IsConsortialProposal bool       `json:"is_consortial_proposal"`
	IsBaseScenario       bool       `json:"is_base_scenario"`
}

// FeedbackDates are reserved for consortial proposals and stay empty for
// base scenarios.
type FeedbackDates struct {
	SentDate    *time.Time `json:"sent_date"`
	ChangedDate *time.Time `json:"changed_date"`
	ReturnDate  *time.Time `json:"return_date"`
}

// Journal is one ranked journal. Cpu is null when no included member used it.
type Journal struct {
	IssnL     string `json:"issn_l"`
	Issns     string `json:"issns"`
	Title     string `json:"title"`
	Publisher string `json:"publisher"`
	Subject   string `json:"subject"`

	Usage              float64                      `json:"usage"`
	Cost               float64                      `json:"cost"`
	IllCost            float64                      `json:"ill_cost"`
	Cpu                *float64                     `json:"cpu"`
	CpuRank            int                          `json:"cpu_rank"`
	AuthorshipFraction float64                      `json:"fractional_authorship"`
	Downloads          float64                      `json:"downloads"`
	Citations          float64                      `json:"citations"`
	Authorships        float64                      `json:"authorships"`
	Channels           computeddomain.ChannelShares `json:"use_groups"`

	IsHybrid         bool `json:"is_hybrid"`
	Subscribed       bool `json:"subscribed"`
	SubscribedBulk   bool `json:"subscribed_bulk"`
	SubscribedCustom bool `json:"subscribed_custom"`
	NumMembers       int  `json:"num_institutions"`
}

type Institution struct {
	PackageID            string     `json:"package_id"`
	InstitutionID        string     `json:"institution_id"`
	InstitutionName      string     `json:"institution_name"`
	InstitutionShortName string     `json:"institution_short_name"`
	Usage                float64    `json:"usage"`
	Cost                 float64    `json:"cost"`
	IllCost              float64    `json:"ill_cost"`
	NumJournals          int        `json:"num_journals"`
	Tags                 []string   `json:"tags"`
	Included             bool       `json:"included"`
	SentDate             *time.Time `json:"sent_date"`
	ChangedDate          *time.Time `json:"changed_date"`
	ReturnDate           *time.Time `json:"return_date"`
}

type RankedJournals struct {
	Meta                    Meta                          `json:"meta"`
	Saved                   scenariodomain.ScenarioConfig `json:"saved"`
	Journals                []Journal                     `json:"journals"`
	MemberInstitutions      []Institution                 `json:"member_institutions"`
	ConsortialProposalDates FeedbackDates                 `json:"consortial_proposal_dates"`
	Warnings                []string                      `json:"warnings"`
	recomputedomain.Status
}

type Summary struct {
	Meta                Meta     `json:"meta"`
	NumJournals         int      `json:"num_journals"`
	NumSubscribed       int      `json:"num_subscribed"`
	NumSubscribedBulk   int      `json:"num_subscribed_bulk"`
	NumSubscribedCustom int      `json:"num_subscribed_custom"`
	NumMembers          int      `json:"num_institutions"`
	NumMembersIncluded  int      `json:"num_institutions_included"`
	Usage               float64  `json:"usage"`
	Cost                float64  `json:"cost"`
	SubscribedCost      float64  `json:"subscribed_cost"`
	IllCost             float64  `json:"ill_cost"`
	BigDealCost         float64  `json:"cost_bigdeal"`
	Cpu                 *float64 `json:"cpu"`
	recomputedomain.Status
}

// ApcJournal is one journal's APC exposure joined onto the ranked list.
// CpuRank is null for journals the scenario has no records for.
type ApcJournal struct {
	IssnL                string    `json:"issn_l"`
	Title                string    `json:"title"`
	OaStatus             string    `json:"oa_status"`
	Years                []int     `json:"years"`
	NumPapersByYear      []float64 `json:"num_apc_papers_by_year"`
	CostByYear           []float64 `json:"cost_apc_by_year"`
	NumPapers            float64   `json:"num_apc_papers"`
	CostApc              int64     `json:"cost_apc"`
	CostApcHybrid        int64     `json:"cost_apc_hybrid"`
	ApcPrice             *int64    `json:"apc_price"`
	FractionalAuthorship float64   `json:"fractional_authorship"`
	CpuRank              *int      `json:"cpu_rank"`
	Subscribed           bool      `json:"subscribed"`
}

type ApcRollup struct {
	Meta               Meta         `json:"meta"`
	Journals           []ApcJournal `json:"journals"`
	TotalCostApc       int64        `json:"total_cost_apc"`
	TotalCostApcHybrid int64        `json:"total_cost_apc_hybrid"`
}

type ZoomMember struct {
	InstitutionID   string   `json:"institution_id"`
	InstitutionName string   `json:"institution_name"`
	PackageID       string   `json:"package_id"`
	Usage           float64  `json:"usage"`
	Cpu             *float64 `json:"cpu"`
}

type JournalZoom struct {
	IssnL   string       `json:"issn_l"`
	Title   string       `json:"title"`
	Members []ZoomMember `json:"members"`
}

// InstitutionJournal is one row of the per-institution export.
type InstitutionJournal struct {
	IssnL                  string   `json:"issn_l"`
	Title                  string   `json:"title"`
	Issns                  string   `json:"issns"`
	PackageID              string   `json:"package_id"`
	InstitutionID          string   `json:"institution_id"`
	InstitutionName        string   `json:"institution_name"`
	InstitutionCode        string   `json:"institution_code"`
	Usage                  float64  `json:"usage"`
	Cpu                    *float64 `json:"cpu"`
	SubscriptionCost       float64  `json:"subscription_cost"`
	IllCost                float64  `json:"ill_cost"`
	AuthorshipFraction     float64  `json:"fractional_authorship"`
	SubscribedByConsortium bool     `json:"subscribed_by_consortium"`
}
