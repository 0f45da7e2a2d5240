package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Institution struct {
	ID           string    `gorm:"primaryKey;column:id" json:"id"`
	DisplayName  string    `gorm:"column:display_name;not null" json:"display_name"`
	ShortName    string    `gorm:"column:short_name" json:"short_name"`
	IsConsortium bool      `gorm:"column:is_consortium;not null;default:false" json:"is_consortium"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Institution) TableName() string { return "institutions" }

// AccountPackage is one institution's package with one publisher. A member
// package points at its consortium's package.
type AccountPackage struct {
	PackageID           string    `gorm:"primaryKey;column:package_id" json:"package_id"`
	InstitutionID       string    `gorm:"column:institution_id;not null;index" json:"institution_id"`
	PackageName         string    `gorm:"column:package_name" json:"package_name"`
	Publisher           string    `gorm:"column:publisher" json:"publisher"`
	BigDealCost         *float64  `gorm:"column:big_deal_cost" json:"big_deal_cost,omitempty"`
	ConsortiumPackageID *string   `gorm:"column:consortium_package_id;index" json:"consortium_package_id,omitempty"`
	CreatedAt           time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (AccountPackage) TableName() string { return "account_packages" }

type PackageScenario struct {
	ScenarioID   string    `gorm:"primaryKey;column:scenario_id" json:"scenario_id"`
	PackageID    string    `gorm:"column:package_id;not null;index" json:"package_id"`
	ScenarioName string    `gorm:"column:scenario_name" json:"scenario_name"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (PackageScenario) TableName() string { return "package_scenarios" }

type ConsortiumMember struct {
	ConsortiumPackageID string `gorm:"primaryKey;column:consortium_package_id" json:"consortium_package_id"`
	MemberPackageID     string `gorm:"primaryKey;column:member_package_id" json:"member_package_id"`
}

func (ConsortiumMember) TableName() string { return "consortium_members" }

// IncludedMembers is one saved revision of a scenario's member selection.
type IncludedMembers struct {
	ID         snowflake.ID   `gorm:"primaryKey" json:"id"`
	ScenarioID string         `gorm:"column:scenario_id;not null;index" json:"scenario_id"`
	Members    datatypes.JSON `gorm:"column:members;not null" json:"members"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;not null" json:"updated_at"`
}

func (IncludedMembers) TableName() string { return "consortium_included_members" }

type InstitutionTag struct {
	InstitutionID string `gorm:"primaryKey;column:institution_id" json:"institution_id"`
	Tag           string `gorm:"primaryKey;column:tag" json:"tag"`
}

func (InstitutionTag) TableName() string { return "institution_tags" }

// FeedbackRequest tracks a consortium asking one member to review its own
// copy of the scenario.
type FeedbackRequest struct {
	ConsortiumScenarioID string     `gorm:"primaryKey;column:consortium_scenario_id" json:"consortium_scenario_id"`
	MemberPackageID      string     `gorm:"primaryKey;column:member_package_id" json:"member_package_id"`
	MemberScenarioID     string     `gorm:"column:member_scenario_id" json:"member_scenario_id"`
	SentDate             *time.Time `gorm:"column:sent_date" json:"sent_date"`
	ReturnDate           *time.Time `gorm:"column:return_date" json:"return_date"`
}

func (FeedbackRequest) TableName() string { return "consortium_feedback_requests" }

// Consortium is the consortium package a scenario belongs to.
type Consortium struct {
	ScenarioID    string `json:"scenario_id"`
	ScenarioName  string `json:"scenario_name"`
	PackageID     string `json:"package_id"`
	Publisher     string `json:"publisher"`
	InstitutionID string `json:"institution_id"`
	Name          string `json:"consortium_name"`
	ShortName     string `json:"consortium_short_name"`
}

// MemberPackage is one member institution's package in a consortium.
type MemberPackage struct {
	PackageID            string   `json:"package_id"`
	InstitutionID        string   `json:"institution_id"`
	InstitutionName      string   `json:"institution_name"`
	InstitutionShortName string   `json:"institution_short_name"`
	BigDealCost          *float64 `json:"big_deal_cost,omitempty"`
}

type PackageCost struct {
	PackageID   string  `json:"package_id"`
	BigDealCost float64 `json:"big_deal_cost"`
}
