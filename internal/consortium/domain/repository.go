package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	FindByScenario(ctx context.Context, db *gorm.DB, scenarioID string) (*Consortium, error)
	ListMembers(ctx context.Context, db *gorm.DB, consortiumPackageID string) ([]MemberPackage, error)
	// LatestIncludedMembers returns nil when the selection was never saved.
	LatestIncludedMembers(ctx context.Context, db *gorm.DB, scenarioID string) ([]string, error)
	InsertIncludedMembers(ctx context.Context, db *gorm.DB, row *IncludedMembers) error
	BigDealCosts(ctx context.Context, db *gorm.DB, packageIDs []string) ([]PackageCost, error)
	InstitutionTags(ctx context.Context, db *gorm.DB, institutionIDs []string) (map[string][]string, error)
	FeedbackRequests(ctx context.Context, db *gorm.DB, consortiumScenarioID string) ([]FeedbackRequest, error)
	ScenariosForMember(ctx context.Context, db *gorm.DB, memberPackageID string) ([]string, error)
}
