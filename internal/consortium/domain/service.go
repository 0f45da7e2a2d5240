package domain

import "context"

type Service interface {
	Get(ctx context.Context, scenarioID string) (Consortium, error)
	Members(ctx context.Context, c Consortium) ([]MemberPackage, error)
	// IncludedMembers falls back to every member when no selection was saved.
	IncludedMembers(ctx context.Context, c Consortium) ([]string, error)
	SetIncludedMembers(ctx context.Context, scenarioID string, memberPackageIDs []string) ([]string, error)
	BigDealCostForIncluded(ctx context.Context, included []string) (float64, error)
	Tags(ctx context.Context, institutionIDs []string) (map[string][]string, error)
	FeedbackRequests(ctx context.Context, scenarioID string) ([]FeedbackRequest, error)
	ScenariosForMember(ctx context.Context, memberPackageID string) ([]string, error)
}
