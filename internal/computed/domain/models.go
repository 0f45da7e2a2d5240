package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ChannelShares are the fractions of a journal's usage served by each access
// channel. Every share is within [0,1].
type ChannelShares struct {
	SocialNetworks float64 `gorm:"column:social_networks_percent" json:"social_networks"`
	OA             float64 `gorm:"column:oa_percent" json:"oa"`
	Backfile       float64 `gorm:"column:backfile_percent" json:"backfile"`
	Subscription   float64 `gorm:"column:subscription_percent" json:"subscription"`
	Bronze         float64 `gorm:"column:bronze_percent" json:"bronze"`
	Green          float64 `gorm:"column:green_percent" json:"green"`
	Hybrid         float64 `gorm:"column:hybrid_percent" json:"hybrid"`
	PeerReviewed   float64 `gorm:"column:peer_reviewed_percent" json:"peer_reviewed"`
}

// Values returns the shares in declaration order.
func (c ChannelShares) Values() []float64 {
	return []float64{c.SocialNetworks, c.OA, c.Backfile, c.Subscription, c.Bronze, c.Green, c.Hybrid, c.PeerReviewed}
}

// JournalMetricRecord is the computed unit for one (scenario, member, journal).
// A scenario generation holds at most one record per key.
type JournalMetricRecord struct {
	ScenarioID      string `gorm:"column:scenario_id;primaryKey" json:"scenario_id"`
	MemberPackageID string `gorm:"column:member_package_id;primaryKey" json:"member_package_id"`
	IssnL           string `gorm:"column:issn_l;primaryKey" json:"issn_l"`

	PackageID            string `gorm:"column:package_id" json:"package_id"`
	InstitutionID        string `gorm:"column:institution_id" json:"institution_id"`
	InstitutionName      string `gorm:"column:institution_name" json:"institution_name"`
	InstitutionShortName string `gorm:"column:institution_short_name" json:"institution_short_name"`
	Subject              string `gorm:"column:subject" json:"subject,omitempty"`

	Usage              float64       `gorm:"column:usage;not null" json:"usage"`
	Cpu                *float64      `gorm:"column:cpu" json:"cpu"`
	SubscriptionCost   float64       `gorm:"column:subscription_cost;not null" json:"subscription_cost"`
	IllCost            float64       `gorm:"column:ill_cost;not null" json:"ill_cost"`
	AuthorshipFraction float64       `gorm:"column:authorship_fraction;not null" json:"authorship_fraction"`
	Channels           ChannelShares `gorm:"embedded;embeddedPrefix:use_" json:"channels"`

	PerpetualAccessYears  int     `gorm:"column:perpetual_access_years" json:"perpetual_access_years"`
	BronzeOaEmbargoMonths int     `gorm:"column:bronze_oa_embargo_months" json:"bronze_oa_embargo_months"`
	IsHybrid              bool    `gorm:"column:is_hybrid" json:"is_hybrid"`
	Downloads             float64 `gorm:"column:downloads" json:"downloads"`
	Citations             float64 `gorm:"column:citations" json:"citations"`
	Authorships           float64 `gorm:"column:authorships" json:"authorships"`

	Updated time.Time `gorm:"column:updated;not null" json:"updated"`
}

func (JournalMetricRecord) TableName() string { return "scenario_computed" }

type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Pending reports whether the job still locks its scenario.
func (s JobStatus) Pending() bool {
	return s == JobStatusQueued || s == JobStatusRunning
}

// RecomputeJob tracks one consortium recompute. PendingKey equals the scenario
// id while the job is pending and is cleared on completion; its unique index
// admits at most one pending job per scenario.
type RecomputeJob struct {
	ID             snowflake.ID   `gorm:"primaryKey" json:"id"`
	ScenarioID     string         `gorm:"column:scenario_id;not null;index" json:"scenario_id"`
	PendingKey     *string        `gorm:"column:pending_key;uniqueIndex" json:"-"`
	ConsortiumName string         `gorm:"column:consortium_name" json:"consortium_name"`
	PackageID      string         `gorm:"column:package_id" json:"package_id"`
	Email          string         `gorm:"column:email" json:"email,omitempty"`
	Status         JobStatus      `gorm:"column:status;not null" json:"status"`
	MembersTotal   int            `gorm:"column:members_total;not null;default:0" json:"members_total"`
	MembersDone    int            `gorm:"column:members_done;not null;default:0" json:"members_done"`
	MembersFailed  int            `gorm:"column:members_failed;not null;default:0" json:"members_failed"`
	Attempts       int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Failures       datatypes.JSON `gorm:"column:failures" json:"failures,omitempty"`
	Error          string         `gorm:"column:error" json:"error,omitempty"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null" json:"created_at"`
	StartedAt      *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (RecomputeJob) TableName() string { return "recompute_jobs" }

// MemberFailure is the job-level record of one member's isolated failure.
type MemberFailure struct {
	MemberPackageID string `json:"member_package_id"`
	Reason          string `json:"reason"`
	Message         string `json:"message"`
}
